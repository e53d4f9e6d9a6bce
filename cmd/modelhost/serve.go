package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"modelhost/internal/httpapi"
)

func buildServeCmd(opts *options) *cobra.Command {
	var (
		addr        string
		corsOrigins string
		loadTimeout time.Duration
	)
	defaultAddr := ""
	if v := os.Getenv("MODELHOST_ADDR"); v != "" {
		defaultAddr = v
	}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if addr != "" {
				cfg.Addr = addr
			}
			if corsOrigins != "" {
				cfg.HTTP.CORSEnabled = true
				cfg.HTTP.CORSOrigins = splitCSV(corsOrigins)
			}
			log := opts.log

			a, err := openApp(cfg, log, true)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			httpapi.SetLogger(log)
			httpapi.SetBaseContext(ctx)
			httpapi.SetMaxBodyBytes(cfg.HTTP.MaxBodyBytes)
			httpapi.SetLoadTimeout(loadTimeout)
			httpapi.SetCORSOptions(cfg.HTTP.CORSEnabled, cfg.HTTP.CORSOrigins, nil, nil)

			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpapi.NewMux(a.svc),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Msg("modelhost listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err = <-errCh:
			case <-ctx.Done():
				log.Info().Msg("shutting down")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				log.Warn().Err(serr).Msg("graceful shutdown error")
			}
			if cerr := a.Close(); cerr != nil {
				log.Warn().Err(cerr).Msg("close error")
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "HTTP listen address, e.g. :8765 (defaults MODELHOST_ADDR or config)")
	cmd.Flags().StringVar(&corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins; enables CORS")
	cmd.Flags().DurationVar(&loadTimeout, "load-timeout", 0, "Upper bound for POST /models/load (0 disables)")
	return cmd
}
