package manager

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when corresponding SupervisorConfig fields are unset.
const (
	defaultListenAddr         = "127.0.0.1:0"
	defaultReadinessAttempts  = 600
	defaultReadinessInterval  = time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultKillTimeout        = 5 * time.Second
	defaultExitRequestTimeout = 2 * time.Second
	defaultBatchSize          = 128
	defaultMaxContextSize     = 8192
)

// EmbeddingModel is the optional companion model served next to the chat
// model. The zero value means no companion.
type EmbeddingModel struct {
	Path        string
	ContextSize int
}

// SupervisorConfig encapsulates all tunables for Supervisor construction.
type SupervisorConfig struct {
	// Image is the resolved runtime shared by every spawn. Required.
	Image *RuntimeImage
	// Launcher starts workers; defaults to a ProcessLauncher.
	Launcher Launcher
	// ListenAddr is bound for the first spawn; later spawns reuse its port.
	ListenAddr string

	ReadinessAttempts int
	ReadinessInterval time.Duration
	ShutdownTimeout   time.Duration
	KillTimeout       time.Duration

	DefaultBatchSize int
	MaxContextSize   int
	Embedding        EmbeddingModel

	// HTTPClient is used for readiness, shutdown requests and chat relay.
	HTTPClient *http.Client
	Publisher  EventPublisher
	Log        zerolog.Logger
}

// NewWithConfig constructs a Supervisor from SupervisorConfig.
func NewWithConfig(cfg SupervisorConfig) *Supervisor {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.ReadinessAttempts <= 0 {
		cfg.ReadinessAttempts = defaultReadinessAttempts
	}
	if cfg.ReadinessInterval <= 0 {
		cfg.ReadinessInterval = defaultReadinessInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = defaultKillTimeout
	}
	if cfg.DefaultBatchSize <= 0 {
		cfg.DefaultBatchSize = defaultBatchSize
	}
	if cfg.MaxContextSize <= 0 {
		cfg.MaxContextSize = defaultMaxContextSize
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.Launcher == nil {
		cfg.Launcher = &ProcessLauncher{Log: cfg.Log}
	}
	s := &Supervisor{
		cfg:   cfg,
		state: StateNoServer,
		log:   cfg.Log.With().Str("component", "supervisor").Logger(),
		probe: &ReadinessProbe{
			Client:   cfg.HTTPClient,
			Attempts: cfg.ReadinessAttempts,
			Interval: cfg.ReadinessInterval,
		},
		startTime: time.Now(),
	}
	setServerUp(false)
	return s
}
