package manager

import (
	"errors"
	"fmt"
)

var (
	// ErrNoModelLoaded is returned by chat calls when no instance is running.
	ErrNoModelLoaded = errors.New("no model loaded")
	// ErrChatStopped is the cancellation cause of chats ended by StopChat.
	ErrChatStopped = errors.New("chat stopped")
	// errWorkerExited marks a worker that died before becoming ready.
	errWorkerExited = errors.New("inference server exited before ready")
)

// SpawnError reports a failure to start the inference server. The supervisor
// is left without a server.
type SpawnError struct {
	FileID string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start inference server for %s: %v", e.FileID, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IsSpawn reports whether err is a SpawnError.
func IsSpawn(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}

// ReadinessTimeoutError reports a server that never answered its readiness
// endpoint within the attempt budget.
type ReadinessTimeoutError struct {
	Addr     string
	Attempts int
	Err      error
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("inference server at %s not ready after %d attempts: %v", e.Addr, e.Attempts, e.Err)
}

func (e *ReadinessTimeoutError) Unwrap() error { return e.Err }

// IsReadinessTimeout reports whether err is a ReadinessTimeoutError.
func IsReadinessTimeout(err error) bool {
	var re *ReadinessTimeoutError
	return errors.As(err, &re)
}

// UpstreamError reports a chat failure at the local server. It never changes
// supervisor state.
type UpstreamError struct {
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("inference server error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("inference server unreachable: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsUpstream reports whether err is an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// dependencyUnavailableError signals a missing runtime (runner or server
// module) so the HTTP layer can return 503 instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var de dependencyUnavailableError
	return errors.As(err, &de)
}
