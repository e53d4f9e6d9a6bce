package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"modelhost/internal/config"
)

// options holds the persistent flags shared by every subcommand.
type options struct {
	configPath string
	modelsDir  string
	catalogDir string
	logLevel   string
	logFormat  string

	cfg config.Config
	log zerolog.Logger
}

func buildRootCmd() *cobra.Command { return buildRootCmdWith(&options{}) }

func buildRootCmdWith(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "modelhost",
		Short:         "Download GGUF models and serve them through a local inference server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", os.Getenv("MODELHOST_CONFIG"), "Path to YAML/JSON/TOML config (defaults MODELHOST_CONFIG)")
	pf.StringVar(&opts.modelsDir, "models-dir", "", "Directory downloaded files are stored under")
	pf.StringVar(&opts.catalogDir, "catalog-dir", "", "Directory of model cards")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: console|json")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(opts)
		if err != nil {
			return err
		}
		opts.cfg = cfg
		opts.log = newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
		return nil
	}

	root.AddCommand(
		buildServeCmd(opts),
		buildPullCmd(opts),
		buildFilesCmd(opts),
		buildRmCmd(opts),
	)
	return root
}

// resolveConfig loads the config file (if any), applies flag overrides and
// fills defaults.
func resolveConfig(opts *options) (config.Config, error) {
	var cfg config.Config
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if opts.modelsDir != "" {
		cfg.ModelsDir = opts.modelsDir
	}
	if opts.catalogDir != "" {
		cfg.CatalogDir = opts.catalogDir
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.LogFormat = opts.logFormat
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func newLogger(out io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// splitCSV splits a comma-separated flag value, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
