package config

import (
	"path/filepath"
	"time"
)

// Defaults applied when corresponding Config fields are unset.
const (
	DefaultAddr              = ":8765"
	DefaultModelsDir         = "~/.modelhost/models"
	DefaultOrigin            = "https://huggingface.co"
	DefaultMaxConcurrent     = 3
	DefaultProgressStep      = 0.5
	DefaultStallTimeout      = 10 * time.Second
	DefaultListenAddr        = "127.0.0.1:0"
	DefaultReadinessAttempts = 600
	DefaultReadinessInterval = time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultBatchSize         = 128
	DefaultMaxContextSize    = 8192
	DefaultMaxBodyBytes      = 1 << 20
)

// ApplyDefaults fills every unspecified field.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.CatalogDir == "" {
		c.CatalogDir = filepath.Join(filepath.Dir(c.ModelsDir), "catalog")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(filepath.Dir(c.ModelsDir), "modelhost.db")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	d := &c.Download
	if d.Origin == "" {
		d.Origin = DefaultOrigin
	}
	if d.MaxConcurrent <= 0 {
		d.MaxConcurrent = DefaultMaxConcurrent
	}
	if d.ProgressStep <= 0 {
		d.ProgressStep = DefaultProgressStep
	}
	if d.StallTimeoutSeconds <= 0 {
		d.StallTimeoutSeconds = int(DefaultStallTimeout / time.Second)
	}
	s := &c.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.ReadinessAttempts <= 0 {
		s.ReadinessAttempts = DefaultReadinessAttempts
	}
	if s.ReadinessIntervalMS <= 0 {
		s.ReadinessIntervalMS = int(DefaultReadinessInterval / time.Millisecond)
	}
	if s.ShutdownTimeoutSeconds <= 0 {
		s.ShutdownTimeoutSeconds = int(DefaultShutdownTimeout / time.Second)
	}
	if s.DefaultBatchSize <= 0 {
		s.DefaultBatchSize = DefaultBatchSize
	}
	if s.MaxContextSize <= 0 {
		s.MaxContextSize = DefaultMaxContextSize
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		c.HTTP.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// StallTimeout returns the download inactivity window.
func (d DownloadConfig) StallTimeout() time.Duration {
	return time.Duration(d.StallTimeoutSeconds) * time.Second
}

// ReadinessInterval returns the delay between readiness attempts.
func (s ServerConfig) ReadinessInterval() time.Duration {
	return time.Duration(s.ReadinessIntervalMS) * time.Millisecond
}

// ShutdownTimeout bounds the graceful phase of an instance shutdown.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}
