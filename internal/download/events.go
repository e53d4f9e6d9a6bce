package download

// EventKind names a download event. The values double as SSE event names.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "complete"
	EventStopped   EventKind = "stopped"
	EventError     EventKind = "error"
)

// Event is delivered on the per-request channel returned by Coordinator.Request.
// Exactly one terminal event (completed, stopped or error) ends every stream.
type Event struct {
	FileID   string
	Kind     EventKind
	Progress float64
	Err      error
}

// Terminal reports whether the event ends its stream.
func (e Event) Terminal() bool { return e.Kind != EventProgress }

const eventBuffer = 100

// emit delivers ev without blocking on slow readers. Progress events are
// dropped when the buffer is full; a terminal event evicts the oldest queued
// event until it fits. Only the job's own goroutine sends on ch.
func emit(ch chan Event, ev Event) {
	if !ev.Terminal() {
		select {
		case ch <- ev:
		default:
		}
		return
	}
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
