package manager

// Event represents a supervisor lifecycle event: a name, the file being
// served, and optional fields.
type Event struct {
	Name   string
	FileID string
	Fields map[string]any
}

// Event names published by the supervisor.
const (
	EventSpawnStart     = "spawn_start"
	EventSpawnReady     = "spawn_ready"
	EventSpawnFailed    = "spawn_failed"
	EventReused         = "reused"
	EventShutdown       = "shutdown"
	EventShutdownForced = "shutdown_forced"
	EventWorkerExited   = "worker_exited"
)

// EventPublisher receives events from the supervisor. Implementations should
// be lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
