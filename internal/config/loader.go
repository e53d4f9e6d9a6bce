package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr       string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir  string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	CatalogDir string `json:"catalog_dir" yaml:"catalog_dir" toml:"catalog_dir"`
	DBPath     string `json:"db_path" yaml:"db_path" toml:"db_path"`
	LogLevel   string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat  string `json:"log_format" yaml:"log_format" toml:"log_format"`

	Download DownloadConfig `json:"download" yaml:"download" toml:"download"`
	Server   ServerConfig   `json:"server" yaml:"server" toml:"server"`
	Runtime  RuntimeConfig  `json:"runtime" yaml:"runtime" toml:"runtime"`
	HTTP     HTTPConfig     `json:"http" yaml:"http" toml:"http"`
}

// DownloadConfig tunes the download coordinator.
type DownloadConfig struct {
	// Origin is the base URL files are fetched from.
	Origin              string  `json:"origin" yaml:"origin" toml:"origin"`
	MaxConcurrent       int     `json:"max_concurrent" yaml:"max_concurrent" toml:"max_concurrent"`
	ProgressStep        float64 `json:"progress_step" yaml:"progress_step" toml:"progress_step"`
	StallTimeoutSeconds int     `json:"stall_timeout_seconds" yaml:"stall_timeout_seconds" toml:"stall_timeout_seconds"`
}

// ServerConfig tunes the inference server supervisor.
type ServerConfig struct {
	// ListenAddr is bound on first launch; port 0 picks a free port.
	ListenAddr             string `json:"listen_addr" yaml:"listen_addr" toml:"listen_addr"`
	ReadinessAttempts      int    `json:"readiness_attempts" yaml:"readiness_attempts" toml:"readiness_attempts"`
	ReadinessIntervalMS    int    `json:"readiness_interval_ms" yaml:"readiness_interval_ms" toml:"readiness_interval_ms"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds"`
	DefaultBatchSize       int    `json:"default_batch_size" yaml:"default_batch_size" toml:"default_batch_size"`
	MaxContextSize         int    `json:"max_context_size" yaml:"max_context_size" toml:"max_context_size"`
	// Optional embedding companion preloaded next to every chat model.
	EmbeddingModel       string `json:"embedding_model" yaml:"embedding_model" toml:"embedding_model"`
	EmbeddingContextSize int    `json:"embedding_context_size" yaml:"embedding_context_size" toml:"embedding_context_size"`
}

// RuntimeConfig locates the sandboxed inference runtime.
type RuntimeConfig struct {
	// Runner is the WebAssembly runtime executable (e.g. wasmedge).
	Runner string `json:"runner" yaml:"runner" toml:"runner"`
	// ServerWasm is the OpenAI-compatible API server module.
	ServerWasm string `json:"server_wasm" yaml:"server_wasm" toml:"server_wasm"`
	// WasmSHA256 optionally pins the digest of ServerWasm.
	WasmSHA256 string   `json:"wasm_sha256" yaml:"wasm_sha256" toml:"wasm_sha256"`
	ExtraArgs  []string `json:"extra_args" yaml:"extra_args" toml:"extra_args"`
}

// HTTPConfig tunes the HTTP transport.
type HTTPConfig struct {
	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CORSEnabled  bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
