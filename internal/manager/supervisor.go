package manager

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"modelhost/pkg/types"
)

// Supervisor owns the lifecycle of the local inference server. Load and
// Eject are serialized; State, Current and the chat calls may run
// concurrently with them.
type Supervisor struct {
	cfg   SupervisorConfig
	log   zerolog.Logger
	probe *ReadinessProbe

	// opMu serializes Load, Eject and Close.
	opMu sync.Mutex

	mu       sync.RWMutex
	state    State
	cur      *instance
	loading  string
	lastPort int
	lastErr  string

	startTime time.Time
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	setServerUp(st == StateRunning)
}

// fail records err and leaves the supervisor without a server.
func (s *Supervisor) fail(fileID string, err error) {
	s.mu.Lock()
	s.state = StateNoServer
	s.cur = nil
	s.lastErr = err.Error()
	s.mu.Unlock()
	setServerUp(false)
	loadsTotal.WithLabelValues("failed").Inc()
	s.cfg.Publisher.Publish(Event{Name: EventSpawnFailed, FileID: fileID, Fields: map[string]any{"error": err.Error()}})
}

// Load makes file the served model. A current instance serving the same
// file with the same effective options and address is reused; otherwise it
// is retired before a replacement is spawned.
func (s *Supervisor) Load(ctx context.Context, file ModelFile, opts types.LoadOptions) (types.LoadedModelInfo, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	s.loading = file.ID
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loading = ""
		s.mu.Unlock()
	}()

	want := s.effective(file, opts)
	s.mu.RLock()
	cur := s.cur
	s.mu.RUnlock()

	if cur != nil && cur.reusable(file.ID, want, opts.OverrideServerAddress) {
		loadsTotal.WithLabelValues("reused").Inc()
		s.cfg.Publisher.Publish(Event{Name: EventReused, FileID: file.ID, Fields: map[string]any{"addr": cur.addr}})
		s.log.Debug().Str("event", "reuse").Str("file", file.ID).Str("addr", cur.addr).Msg("instance reused")
		return cur.info(true), nil
	}
	if cur != nil {
		s.setState(StateReloading)
		s.retire(cur)
		s.mu.Lock()
		s.cur = nil
		s.mu.Unlock()
	}

	addr, port, err := s.pickAddr(opts.OverrideServerAddress)
	if err != nil {
		err = &SpawnError{FileID: file.ID, Err: err}
		s.fail(file.ID, err)
		return types.LoadedModelInfo{}, err
	}

	s.setState(StateSpawning)
	args := buildArgs(s.cfg.Image, file, want, addr)
	s.log.Info().Str("event", "spawn_start").Str("file", file.ID).Str("addr", addr).
		Int("ctx", want.ContextSize).Int("batch", want.BatchSize).Str("gpu_layers", want.GPULayers.String()).
		Msg("starting inference server")
	s.cfg.Publisher.Publish(Event{Name: EventSpawnStart, FileID: file.ID, Fields: map[string]any{"addr": addr}})

	worker, err := s.cfg.Launcher.Launch(ctx, LaunchSpec{FileID: file.ID, Runner: s.cfg.Image.Runner, Args: args, Addr: addr})
	if err != nil {
		err = &SpawnError{FileID: file.ID, Err: err}
		s.fail(file.ID, err)
		return types.LoadedModelInfo{}, err
	}
	inst := &instance{
		file:      file,
		opts:      want,
		addr:      addr,
		port:      port,
		worker:    worker,
		client:    newChatClient(addr, s.cfg.HTTPClient),
		chats:     newChatRegistry(),
		startedAt: time.Now(),
	}

	if err := s.probe.Wait(ctx, addr, worker.Done()); err != nil {
		if errors.Is(err, errWorkerExited) {
			err = &SpawnError{FileID: file.ID, Err: exitErr(worker)}
		}
		s.retire(inst)
		s.fail(file.ID, err)
		return types.LoadedModelInfo{}, err
	}

	s.mu.Lock()
	s.cur = inst
	s.state = StateRunning
	s.lastPort = port
	s.lastErr = ""
	s.mu.Unlock()
	setServerUp(true)
	loadsTotal.WithLabelValues("spawned").Inc()
	s.cfg.Publisher.Publish(Event{Name: EventSpawnReady, FileID: file.ID, Fields: map[string]any{"addr": addr, "pid": worker.PID()}})
	s.log.Info().Str("event", "spawn_ready").Str("file", file.ID).Str("addr", addr).Int("pid", worker.PID()).Msg("inference server ready")
	go s.watch(inst)
	return inst.info(false), nil
}

func exitErr(w Worker) error {
	if err := w.Err(); err != nil {
		return err
	}
	return errWorkerExited
}

// watch reports an unexpected exit of a running instance.
func (s *Supervisor) watch(inst *instance) {
	<-inst.worker.Done()
	if inst.retiring.Load() {
		return
	}
	inst.failed.Store(true)
	inst.chats.stopAll()
	err := exitErr(inst.worker)
	s.mu.Lock()
	if s.cur == inst {
		s.cur = nil
		s.state = StateNoServer
		s.lastErr = err.Error()
	}
	s.mu.Unlock()
	setServerUp(false)
	s.log.Error().Str("event", "worker_exited").Str("file", inst.file.ID).Err(err).Msg("inference server exited unexpectedly")
	s.cfg.Publisher.Publish(Event{Name: EventWorkerExited, FileID: inst.file.ID, Fields: map[string]any{"error": err.Error()}})
}

// retire shuts inst down: open chats are stopped, the server is asked to
// exit, and it is killed if it has not exited within ShutdownTimeout.
func (s *Supervisor) retire(inst *instance) {
	inst.retiring.Store(true)
	inst.chats.stopAll()

	select {
	case <-inst.worker.Done():
	default:
		s.requestExit(inst.addr)
	}
	forced := false
	select {
	case <-inst.worker.Done():
	case <-time.After(s.cfg.ShutdownTimeout):
		forced = true
		shutdownsForced.Inc()
		s.log.Warn().Str("event", "shutdown_forced").Str("file", inst.file.ID).Int("pid", inst.worker.PID()).Msg("inference server did not exit; killing")
		s.cfg.Publisher.Publish(Event{Name: EventShutdownForced, FileID: inst.file.ID})
		inst.worker.Kill()
		select {
		case <-inst.worker.Done():
		case <-time.After(s.cfg.KillTimeout):
			s.log.Error().Str("event", "kill_timeout").Str("file", inst.file.ID).Int("pid", inst.worker.PID()).Msg("inference server still running after kill")
		}
	}
	s.cfg.Publisher.Publish(Event{Name: EventShutdown, FileID: inst.file.ID, Fields: map[string]any{"forced": forced}})
	s.log.Info().Str("event", "shutdown").Str("file", inst.file.ID).Bool("forced", forced).Msg("inference server stopped")
}

func (s *Supervisor) requestExit(addr string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultExitRequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+dialAddr(addr)+"/admin/exit", nil)
	if err != nil {
		return
	}
	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		s.log.Debug().Str("event", "exit_request_failed").Str("addr", addr).Err(err).Msg("exit request failed")
		return
	}
	_ = resp.Body.Close()
}

// Eject stops the current server. Without one it is a no-op.
func (s *Supervisor) Eject(_ context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.RLock()
	cur := s.cur
	s.mu.RUnlock()
	if cur == nil {
		return nil
	}
	s.retire(cur)
	s.mu.Lock()
	s.cur = nil
	s.state = StateStopped
	s.mu.Unlock()
	setServerUp(false)
	return nil
}

// Close ejects the current server.
func (s *Supervisor) Close() error {
	return s.Eject(context.Background())
}

// StopChat ends every open chat on the current instance. Idle calls are a
// no-op.
func (s *Supervisor) StopChat() int {
	s.mu.RLock()
	cur := s.cur
	s.mu.RUnlock()
	if cur == nil {
		return 0
	}
	return cur.chats.stopAll()
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Current reports the served model, if any.
func (s *Supervisor) Current() (types.LoadedModelInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return types.LoadedModelInfo{}, false
	}
	return s.cur.info(false), true
}

// InUse reports whether fileID is served or being loaded.
func (s *Supervisor) InUse(fileID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading == fileID || (s.cur != nil && s.cur.file.ID == fileID)
}

// Snapshot returns a consistent view for status reporting.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{State: s.state, LastError: s.lastErr, Uptime: time.Since(s.startTime)}
	if s.cur != nil {
		info := s.cur.info(false)
		snap.Loaded = &info
	}
	return snap
}

// active returns the running instance for a chat.
func (s *Supervisor) active() (*instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil || s.state != StateRunning {
		return nil, ErrNoModelLoaded
	}
	return s.cur, nil
}

func newChatClient(addr string, hc *http.Client) *openai.Client {
	cfg := openai.DefaultConfig("local")
	cfg.BaseURL = "http://" + dialAddr(addr) + "/v1"
	cfg.HTTPClient = hc
	return openai.NewClientWithConfig(cfg)
}
