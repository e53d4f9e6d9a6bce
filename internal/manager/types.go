package manager

import (
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"modelhost/pkg/types"
)

// State represents the lifecycle state of the supervised server.
type State string

const (
	StateNoServer  State = "no_server"
	StateSpawning  State = "spawning"
	StateRunning   State = "running"
	StateReloading State = "reloading"
	StateStopped   State = "stopped"
)

// ModelFile is the downloaded file a Load serves.
type ModelFile struct {
	ID             string
	ModelID        string
	Name           string
	Path           string
	ContextSize    int
	PromptTemplate string
	ReversePrompt  string
}

// effectiveOptions are the options actually applied to a spawn after
// defaults and per-file fallbacks. The struct is comparable; two loads with
// equal values may share an instance.
type effectiveOptions struct {
	ContextSize    int
	BatchSize      int
	GPULayers      types.GPULayers
	PromptTemplate string
	ReversePrompt  string
	Embedding      EmbeddingModel
}

// Snapshot is a read-only projection of the supervisor state.
type Snapshot struct {
	State     State
	Loaded    *types.LoadedModelInfo
	LastError string
	Uptime    time.Duration
}

// instance is one live inference server.
type instance struct {
	file      ModelFile
	opts      effectiveOptions
	addr      string
	port      int
	worker    Worker
	client    *openai.Client
	chats     *chatRegistry
	startedAt time.Time

	// retiring is set before an intentional shutdown so the exit watcher
	// does not report it as a failure.
	retiring atomic.Bool
	failed   atomic.Bool
}

func (i *instance) info(reused bool) types.LoadedModelInfo {
	return types.LoadedModelInfo{
		FileID:     i.file.ID,
		ModelID:    i.file.ModelID,
		FileName:   i.file.Name,
		ListenAddr: i.addr,
		ListenPort: i.port,
		Reused:     reused,
	}
}

// reusable reports whether a load of fileID with want can be served by i.
// An empty override keeps the current address.
func (i *instance) reusable(fileID string, want effectiveOptions, override string) bool {
	if i.failed.Load() || i.retiring.Load() {
		return false
	}
	if i.file.ID != fileID || i.opts != want {
		return false
	}
	return override == "" || override == i.addr
}
