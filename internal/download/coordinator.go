// Package download fetches model files with range resumption through a
// bounded pool of concurrent transfers.
package download

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	humanize "github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"modelhost/internal/common/fsutil"
	"modelhost/internal/store"
	"modelhost/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxConcurrent = 3
	defaultStep          = 0.5
	defaultOrigin        = "https://huggingface.co"
)

// StateStore is the persistence the coordinator needs.
type StateStore interface {
	Save(file store.File, model store.Model) error
	MarkDownloaded(fileID string, fileSize int64) error
	UpdatePending(fileID string, progress float64, status types.PendingStatus, errMsg string) error
	Get(fileID string) (store.Entry, error)
	Remove(fileID string) error
}

// Config encapsulates the tunables of a Coordinator.
type Config struct {
	Store     StateStore
	Transfer  *Transferer
	ModelsDir string
	// Origin is the base URL files are fetched from.
	Origin        string
	MaxConcurrent int
	// Step is the minimum progress advance (in percent) between reports.
	Step float64
	Log  zerolog.Logger
}

// Coordinator accepts download requests and runs them through a pool of
// MaxConcurrent slots. Each file id maps to its own cancellation token.
type Coordinator struct {
	cfg     Config
	sem     *semaphore.Weighted
	baseCtx context.Context
	stopAll context.CancelCauseFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool
}

type job struct {
	fileID string
	cancel context.CancelCauseFunc
	// stopCause is set by a pause or cancel that arrives while the request
	// is still probing. Guarded by Coordinator.mu.
	stopCause error
	done    chan struct{}
	events  chan Event
	running atomic.Bool
	percent atomic.Uint64
}

func (j *job) setPercent(p float64) { j.percent.Store(math.Float64bits(p)) }
func (j *job) getPercent() float64  { return math.Float64frombits(j.percent.Load()) }

// New constructs a Coordinator, applying defaults for unset fields.
func New(cfg Config) *Coordinator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Step <= 0 {
		cfg.Step = defaultStep
	}
	if cfg.Origin == "" {
		cfg.Origin = defaultOrigin
	}
	if cfg.Transfer == nil {
		cfg.Transfer = NewTransferer(nil, 0, cfg.Log)
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Coordinator{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		baseCtx: ctx,
		stopAll: cancel,
		jobs:    make(map[string]*job),
	}
}

// Request probes the file size, persists file and model as pending and
// queues the transfer. A probe failure returns before any state is written.
// The returned channel carries progress and exactly one terminal event, then
// closes. ctx bounds only the probe; the transfer outlives the caller.
func (c *Coordinator) Request(ctx context.Context, model store.Model, file store.File) (<-chan Event, error) {
	j := &job{fileID: file.ID, done: make(chan struct{}), events: make(chan Event, eventBuffer)}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := c.jobs[file.ID]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyActive, file.ID)
	}
	c.jobs[file.ID] = j
	c.mu.Unlock()

	url := FileURL(c.cfg.Origin, file.ModelID, file.Name)
	total, err := c.cfg.Transfer.Probe(ctx, url)
	if err != nil {
		c.abort(j)
		c.cfg.Log.Warn().Str("component", "download").Str("event", "probe_failed").Str("file", file.ID).Err(err).Send()
		return nil, err
	}
	file.FileSize = total
	file.DownloadDir = c.cfg.ModelsDir
	if file.Size == "" && total > 0 {
		file.Size = humanize.Bytes(uint64(total))
	}
	if err := c.cfg.Store.Save(file, model); err != nil {
		c.abort(j)
		return nil, err
	}
	j.setPercent(store.Percent(fsutil.FileSize(file.DownloadedPath()), total))

	ctxJob, cancel := context.WithCancelCause(c.baseCtx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel(ErrShutdown)
		c.abort(j)
		return nil, ErrClosed
	}
	if cause := j.stopCause; cause != nil {
		c.mu.Unlock()
		cancel(cause)
		if errors.Is(cause, ErrPaused) {
			if err := c.cfg.Store.UpdatePending(j.fileID, j.getPercent(), types.PendingPaused, ""); err != nil {
				c.cfg.Log.Warn().Str("component", "download").Str("event", "persist_pause").Str("file", j.fileID).Err(err).Send()
			}
		}
		c.abort(j)
		c.cfg.Log.Info().Str("component", "download").Str("event", "stopped_before_start").Str("file", j.fileID).AnErr("cause", cause).Send()
		return nil, fmt.Errorf("%w: %s", cause, j.fileID)
	}
	j.cancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()
	transfersQueued.Inc()
	go c.run(ctxJob, j, file, url)
	c.cfg.Log.Info().Str("component", "download").Str("event", "queued").
		Str("file", file.ID).Str("size", file.Size).Send()
	return j.events, nil
}

func (c *Coordinator) run(ctx context.Context, j *job, file store.File, url string) {
	defer c.wg.Done()
	defer func() {
		c.drop(j)
		close(j.events)
		close(j.done)
		j.cancel(nil)
	}()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		transfersQueued.Dec()
		c.stopped(ctx, j)
		return
	}
	transfersQueued.Dec()
	transfersActive.Inc()
	j.running.Store(true)
	defer func() {
		j.running.Store(false)
		transfersActive.Dec()
		c.sem.Release(1)
	}()

	req := Request{URL: url, Dest: file.DownloadedPath(), Total: file.FileSize, SHA256: file.SHA256}
	res, err := c.cfg.Transfer.Transfer(ctx, req, c.cfg.Step, func(p float64) {
		j.setPercent(p)
		if err := c.cfg.Store.UpdatePending(j.fileID, p, types.PendingDownloading, ""); err != nil {
			c.cfg.Log.Warn().Str("component", "download").Str("event", "persist_progress").Str("file", j.fileID).Err(err).Send()
		}
		emit(j.events, Event{FileID: j.fileID, Kind: EventProgress, Progress: p})
	})
	switch {
	case err != nil:
		if res.Percent > 0 {
			j.setPercent(res.Percent)
		}
		transfersTotal.WithLabelValues("error").Inc()
		if perr := c.cfg.Store.UpdatePending(j.fileID, j.getPercent(), types.PendingError, err.Error()); perr != nil {
			c.cfg.Log.Warn().Str("component", "download").Str("event", "persist_error").Str("file", j.fileID).Err(perr).Send()
		}
		c.cfg.Log.Error().Str("component", "download").Str("event", "transfer_failed").Str("file", j.fileID).Err(err).Send()
		emit(j.events, Event{FileID: j.fileID, Kind: EventError, Progress: j.getPercent(), Err: err})
	case res.Outcome == Stopped:
		j.setPercent(res.Percent)
		c.stopped(ctx, j)
	default:
		transfersTotal.WithLabelValues("completed").Inc()
		if err := c.cfg.Store.MarkDownloaded(j.fileID, res.Bytes); err != nil {
			c.cfg.Log.Error().Str("component", "download").Str("event", "persist_complete").Str("file", j.fileID).Err(err).Send()
			emit(j.events, Event{FileID: j.fileID, Kind: EventError, Progress: 100, Err: err})
			return
		}
		emit(j.events, Event{FileID: j.fileID, Kind: EventCompleted, Progress: 100})
	}
}

// stopped records a paused transfer unless it was cancelled, in which case
// Cancel removes the records once the job is done.
func (c *Coordinator) stopped(ctx context.Context, j *job) {
	cause := context.Cause(ctx)
	transfersTotal.WithLabelValues("stopped").Inc()
	if !errors.Is(cause, ErrCancelled) {
		if err := c.cfg.Store.UpdatePending(j.fileID, j.getPercent(), types.PendingPaused, ""); err != nil {
			c.cfg.Log.Warn().Str("component", "download").Str("event", "persist_pause").Str("file", j.fileID).Err(err).Send()
		}
	}
	c.cfg.Log.Info().Str("component", "download").Str("event", "stopped").
		Str("file", j.fileID).Float64("progress", j.getPercent()).AnErr("cause", cause).Send()
	emit(j.events, Event{FileID: j.fileID, Kind: EventStopped, Progress: j.getPercent(), Err: cause})
}

func (c *Coordinator) drop(j *job) {
	c.mu.Lock()
	if c.jobs[j.fileID] == j {
		delete(c.jobs, j.fileID)
	}
	c.mu.Unlock()
}

// abort ends a request that never started its transfer.
func (c *Coordinator) abort(j *job) {
	c.drop(j)
	close(j.done)
}

// signal cancels the job for fileID with cause and waits until it exits. A
// job still probing keeps the cause and gives up once the probe returns.
func (c *Coordinator) signal(fileID string, cause error) bool {
	c.mu.Lock()
	j := c.jobs[fileID]
	if j == nil {
		c.mu.Unlock()
		return false
	}
	if j.cancel == nil {
		if j.stopCause == nil {
			j.stopCause = cause
		}
	} else {
		j.cancel(cause)
	}
	c.mu.Unlock()
	<-j.done
	return true
}

// Pause stops the transfer for fileID, keeping partial bytes and a paused
// pending record.
func (c *Coordinator) Pause(fileID string) error {
	if !c.signal(fileID, ErrPaused) {
		return fmt.Errorf("%w: %s", ErrNotActive, fileID)
	}
	return nil
}

// Cancel stops any transfer for fileID, then deletes its partial bytes and
// every record of it.
func (c *Coordinator) Cancel(fileID string) error {
	stopped := c.signal(fileID, ErrCancelled)
	e, err := c.cfg.Store.Get(fileID)
	if stopped && errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	path := e.File.DownloadedPath()
	if err := fsutil.RemoveIfExists(path); err != nil {
		return &IoError{Op: "remove", Path: path, Err: err}
	}
	_ = fsutil.RemoveIfExists(path + ".lock")
	if err := c.cfg.Store.Remove(fileID); err != nil {
		return err
	}
	c.cfg.Log.Info().Str("component", "download").Str("event", "cancelled").Str("file", fileID).Send()
	return nil
}

// Active returns the ids of queued and running transfers, sorted.
func (c *Coordinator) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.jobs))
	for id, j := range c.jobs {
		if j.cancel != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Running returns how many transfers currently hold a pool slot.
func (c *Coordinator) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, j := range c.jobs {
		if j.running.Load() {
			n++
		}
	}
	return n
}

// Progress returns the last known percent of an active transfer.
func (c *Coordinator) Progress(fileID string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[fileID]
	if !ok {
		return 0, false
	}
	return j.getPercent(), true
}

// Close pauses every transfer and waits for them to exit.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.stopAll(ErrShutdown)
	c.wg.Wait()
}
