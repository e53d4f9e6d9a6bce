package manager

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// LaunchSpec describes one worker to start.
type LaunchSpec struct {
	FileID string
	Runner string
	Args   []string
	Addr   string
}

// Worker is a started inference server. Its process handle is owned by the
// worker itself; callers only observe and signal it.
type Worker interface {
	// Done is closed once the worker has exited.
	Done() <-chan struct{}
	// Err is the exit error; valid after Done is closed.
	Err() error
	// Kill asks the worker to terminate. It does not block.
	Kill()
	PID() int
}

// Launcher starts workers.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Worker, error)
}

const (
	stderrTailBytes = 4096
	termGrace       = 2 * time.Second
)

// ProcessLauncher starts the runner as a child process.
type ProcessLauncher struct {
	Log zerolog.Logger
}

func (l *ProcessLauncher) Launch(_ context.Context, spec LaunchSpec) (Worker, error) {
	cmd := exec.Command(spec.Runner, spec.Args...)
	tail := &tailBuffer{max: stderrTailBytes}
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Runner, err)
	}
	w := &procWorker{
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
		kill: make(chan struct{}, 1),
		tail: tail,
	}
	l.Log.Info().Str("component", "launcher").Str("event", "start").Str("file", spec.FileID).Int("pid", w.pid).Str("addr", spec.Addr).Msg("runtime started")
	go w.own(cmd)
	return w, nil
}

type procWorker struct {
	pid  int
	done chan struct{}
	kill chan struct{}
	tail *tailBuffer
	err  error
}

// own is the only goroutine that touches cmd after Start. It reaps the
// process and handles kill requests with SIGTERM followed by SIGKILL.
func (w *procWorker) own(cmd *exec.Cmd) {
	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()
	for {
		select {
		case err := <-waitErr:
			if err != nil {
				if t := w.tail.String(); t != "" {
					err = fmt.Errorf("%w; stderr tail: %s", err, t)
				}
			}
			w.err = err
			close(w.done)
			return
		case <-w.kill:
			_ = cmd.Process.Signal(syscall.SIGTERM)
			select {
			case err := <-waitErr:
				w.err = err
				close(w.done)
				return
			case <-time.After(termGrace):
				_ = cmd.Process.Kill()
			}
		}
	}
}

func (w *procWorker) Done() <-chan struct{} { return w.done }
func (w *procWorker) Err() error            { return w.err }
func (w *procWorker) PID() int              { return w.pid }

func (w *procWorker) Kill() {
	select {
	case w.kill <- struct{}{}:
	default:
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
