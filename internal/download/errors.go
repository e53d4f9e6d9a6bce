package download

import (
	"errors"
	"fmt"
)

var (
	// ErrStallTimeout means no bytes arrived within the inactivity window.
	ErrStallTimeout = errors.New("stall timeout: no data received")
	// ErrIncomplete means the origin closed the stream before the declared size.
	ErrIncomplete = errors.New("stream ended before declared size")
	// ErrChecksum means the finished file does not match its expected digest.
	ErrChecksum = errors.New("checksum mismatch")
	// ErrRangeMismatch means a partial response does not start where the local file ends.
	ErrRangeMismatch = errors.New("content range does not match resume offset")
	// ErrBusy means another transfer holds the destination lock.
	ErrBusy = errors.New("destination locked by another transfer")

	// ErrAlreadyActive is returned when a transfer for the file is already queued or running.
	ErrAlreadyActive = errors.New("download already in progress")
	// ErrNotActive is returned when pausing a file with no transfer in flight.
	ErrNotActive = errors.New("no active download")
	// ErrClosed is returned after the coordinator shut down.
	ErrClosed = errors.New("download coordinator closed")

	// Cancellation causes carried by a transfer's context.
	ErrPaused    = errors.New("download paused")
	ErrCancelled = errors.New("download cancelled")
	ErrShutdown  = errors.New("download coordinator shutting down")
)

// NetworkError reports a failure to reach or read from the origin.
type NetworkError struct {
	Op     string
	URL    string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("network %s %s: unexpected status %d", e.Op, e.URL, e.Status)
	}
	return fmt.Sprintf("network %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IoError reports a failure to write the destination.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (e *IoError) Error() string { return fmt.Sprintf("io %s %s: %v", e.Op, e.Path, e.Err) }

func (e *IoError) Unwrap() error { return e.Err }

// IsNetwork reports whether err is a network-class failure (including stall
// timeouts and short streams), retried by resuming on a later request.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsIO reports whether err is a destination I/O failure.
func IsIO(err error) bool {
	var ie *IoError
	return errors.As(err, &ie)
}
