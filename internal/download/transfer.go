package download

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	sha256 "github.com/minio/sha256-simd"
	"github.com/rs/zerolog"

	"modelhost/internal/common/fsutil"
	"modelhost/internal/store"
)

const (
	defaultStallTimeout = 10 * time.Second
	defaultChunkSize    = 64 << 10
)

// Outcome is how a transfer ended without error.
type Outcome int

const (
	// Completed means the destination holds every byte.
	Completed Outcome = iota
	// Stopped means the transfer was cancelled; partial bytes are kept.
	Stopped
)

func (o Outcome) String() string {
	if o == Stopped {
		return "stopped"
	}
	return "completed"
}

// Result is the outcome of one transfer attempt.
type Result struct {
	Outcome Outcome
	Percent float64
	Bytes   int64
}

// Request describes one file to fetch.
type Request struct {
	URL  string
	Dest string
	// Total is the probed size in bytes; zero streams to EOF.
	Total int64
	// SHA256 optionally verifies the finished file (hex).
	SHA256 string
}

// Transferer runs resumable range downloads.
type Transferer struct {
	client       *http.Client
	stallTimeout time.Duration
	chunkSize    int
	log          zerolog.Logger
}

// NewTransferer returns a Transferer. A nil client uses a client without an
// overall timeout; stall detection bounds every read instead.
func NewTransferer(client *http.Client, stallTimeout time.Duration, log zerolog.Logger) *Transferer {
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	if stallTimeout <= 0 {
		stallTimeout = defaultStallTimeout
	}
	return &Transferer{client: client, stallTimeout: stallTimeout, chunkSize: defaultChunkSize, log: log}
}

// Probe issues a HEAD request and returns the content length, or 0 when the
// origin does not declare one.
func (t *Transferer) Probe(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, &NetworkError{Op: "probe", URL: url, Err: err}
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, &NetworkError{Op: "probe", URL: url, Err: err}
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &NetworkError{Op: "probe", URL: url, Status: resp.StatusCode}
	}
	if resp.ContentLength < 0 {
		return 0, nil
	}
	return resp.ContentLength, nil
}

// Transfer appends the missing bytes of req.Dest from req.URL. Cancelling ctx
// yields a Stopped result; the cancellation cause is left for the caller to
// interpret. onProgress is called only when progress has advanced by more
// than step since the previous report.
func (t *Transferer) Transfer(ctx context.Context, req Request, step float64, onProgress func(float64)) (Result, error) {
	if err := os.MkdirAll(filepath.Dir(req.Dest), 0o755); err != nil {
		return Result{}, &IoError{Op: "mkdir", Path: req.Dest, Err: err}
	}
	lock := flock.New(req.Dest + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return Result{}, &IoError{Op: "lock", Path: req.Dest, Err: err}
	}
	if !locked {
		return Result{}, &IoError{Op: "lock", Path: req.Dest, Err: ErrBusy}
	}
	defer func() { _ = lock.Unlock() }()

	offset := fsutil.FileSize(req.Dest)
	if req.Total > 0 && offset >= req.Total {
		t.log.Debug().Str("component", "download").Str("event", "already_present").Str("dest", req.Dest).Send()
		return t.finish(req, offset)
	}

	f, err := os.OpenFile(req.Dest, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Result{}, &IoError{Op: "open", Path: req.Dest, Err: err}
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return Result{}, &IoError{Op: "seek", Path: req.Dest, Err: err}
	}

	readCtx, cancelRead := context.WithCancelCause(ctx)
	defer cancelRead(nil)
	stall := time.AfterFunc(t.stallTimeout, func() { cancelRead(ErrStallTimeout) })
	defer stall.Stop()

	percent := store.Percent(offset, req.Total)
	stopped := func() (Result, error) {
		return Result{Outcome: Stopped, Percent: percent, Bytes: offset}, nil
	}
	// classify maps a read failure onto Stopped, a stall or a network error.
	classify := func(op string, err error) (Result, error) {
		if ctx.Err() != nil {
			return stopped()
		}
		if errors.Is(context.Cause(readCtx), ErrStallTimeout) {
			return Result{Percent: percent, Bytes: offset}, &NetworkError{Op: op, URL: req.URL, Err: ErrStallTimeout}
		}
		return Result{Percent: percent, Bytes: offset}, &NetworkError{Op: op, URL: req.URL, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(readCtx, http.MethodGet, req.URL, nil)
	if err != nil {
		return Result{}, &NetworkError{Op: "get", URL: req.URL, Err: err}
	}
	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	t.log.Info().Str("component", "download").Str("event", "transfer_start").
		Str("url", req.URL).Int64("offset", offset).Int64("total", req.Total).Send()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return classify("get", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		if start, ok := contentRangeStart(resp.Header.Get("Content-Range")); !ok || start != offset {
			return Result{Percent: percent, Bytes: offset}, &NetworkError{Op: "get", URL: req.URL,
				Err: fmt.Errorf("%w: got %q for offset %d", ErrRangeMismatch, resp.Header.Get("Content-Range"), offset)}
		}
	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			// Origin ignored the range; start over.
			if err := f.Truncate(0); err != nil {
				return Result{}, &IoError{Op: "truncate", Path: req.Dest, Err: err}
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return Result{}, &IoError{Op: "seek", Path: req.Dest, Err: err}
			}
			offset, percent = 0, 0
		}
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && req.Total > 0 && offset >= req.Total:
		return t.finish(req, offset)
	default:
		return Result{Percent: percent, Bytes: offset}, &NetworkError{Op: "get", URL: req.URL, Status: resp.StatusCode}
	}

	last := percent
	buf := make([]byte, t.chunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return Result{Percent: percent, Bytes: offset}, &IoError{Op: "write", Path: req.Dest, Err: werr}
			}
			stall.Reset(t.stallTimeout)
			offset += int64(n)
			bytesTotal.Add(float64(n))
			if req.Total > 0 {
				percent = store.Percent(offset, req.Total)
				if percent > last+step {
					last = percent
					if onProgress != nil {
						onProgress(percent)
					}
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return classify("read", rerr)
		}
		if ctx.Err() != nil {
			return stopped()
		}
	}
	if err := f.Sync(); err != nil {
		return Result{Percent: percent, Bytes: offset}, &IoError{Op: "sync", Path: req.Dest, Err: err}
	}
	if req.Total > 0 && offset < req.Total {
		t.log.Warn().Str("component", "download").Str("event", "short_stream").
			Str("url", req.URL).Int64("bytes", offset).Int64("total", req.Total).Send()
		return Result{Percent: percent, Bytes: offset}, &NetworkError{Op: "read", URL: req.URL, Err: ErrIncomplete}
	}
	return t.finish(req, offset)
}

// finish verifies the optional digest and reports completion.
func (t *Transferer) finish(req Request, size int64) (Result, error) {
	if req.SHA256 != "" {
		sum, err := fileSHA256(req.Dest)
		if err != nil {
			return Result{}, &IoError{Op: "checksum", Path: req.Dest, Err: err}
		}
		if !strings.EqualFold(sum, req.SHA256) {
			_ = fsutil.RemoveIfExists(req.Dest)
			return Result{}, fmt.Errorf("%s: %w: got %s want %s", req.Dest, ErrChecksum, sum, req.SHA256)
		}
	}
	t.log.Info().Str("component", "download").Str("event", "transfer_complete").Str("dest", req.Dest).Int64("bytes", size).Send()
	return Result{Outcome: Completed, Percent: 100, Bytes: size}, nil
}

// contentRangeStart returns the first byte position of a Content-Range
// value such as "bytes 100-999/1000".
func contentRangeStart(v string) (int64, bool) {
	var start int64
	if _, err := fmt.Sscanf(v, "bytes %d-", &start); err != nil {
		return 0, false
	}
	return start, true
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileURL builds the origin URL of a file: <origin>/<model_id>/resolve/main/<name>.
func FileURL(origin, modelID, name string) string {
	return strings.TrimRight(origin, "/") + "/" + strings.Trim(modelID, "/") + "/resolve/main/" + name
}
