package download

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransferer(stall time.Duration) *Transferer {
	return NewTransferer(nil, stall, zerolog.Nop())
}

func TestTransferFreshDownloadThrottlesProgress(t *testing.T) {
	o := &origin{payload: newPayload(t, 256<<10)}
	srv := o.start(t)
	dest := filepath.Join(t.TempDir(), "org", "m", "f.gguf")
	tr := newTestTransferer(time.Second)
	tr.chunkSize = 4 << 10

	var reports []float64
	res, err := tr.Transfer(context.Background(), Request{URL: srv.URL + "/f", Dest: dest, Total: int64(len(o.payload))}, 10, func(p float64) {
		reports = append(reports, p)
	})
	require.NoError(t, err)
	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, 100.0, res.Percent)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(o.payload, got))

	require.NotEmpty(t, reports)
	prev := 0.0
	for _, p := range reports {
		assert.Greater(t, p, prev+10, "reports %v", reports)
		prev = p
	}
	assert.Equal(t, []string{""}, o.rangeHeaders())
}

func TestTransferResumesFromPartialLength(t *testing.T) {
	o := &origin{payload: newPayload(t, 1000), dropAt: 400}
	srv := o.start(t)
	dest := filepath.Join(t.TempDir(), "f.gguf")
	sum := sha256.Sum256(o.payload)
	req := Request{URL: srv.URL + "/f", Dest: dest, Total: 1000, SHA256: hex.EncodeToString(sum[:])}
	tr := newTestTransferer(time.Second)

	_, err := tr.Transfer(context.Background(), req, 10, nil)
	require.Error(t, err)
	assert.True(t, IsNetwork(err), "err=%v", err)
	fi, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(400), fi.Size())

	res, err := tr.Transfer(context.Background(), req, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, int64(1000), res.Bytes)
	assert.Equal(t, []string{"", "bytes=400-"}, o.rangeHeaders())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(o.payload, got))
}

func TestTransferAlreadyPresentSkipsNetwork(t *testing.T) {
	o := &origin{payload: newPayload(t, 500)}
	srv := o.start(t)
	dest := filepath.Join(t.TempDir(), "f.gguf")
	require.NoError(t, os.WriteFile(dest, o.payload, 0o644))

	res, err := newTestTransferer(time.Second).Transfer(context.Background(), Request{URL: srv.URL, Dest: dest, Total: 500}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, 100.0, res.Percent)
	assert.Zero(t, o.gets.Load())
}

func TestTransferStallTimeout(t *testing.T) {
	o := &origin{payload: newPayload(t, 1000), stallAfter: 100}
	srv := o.start(t)
	dest := filepath.Join(t.TempDir(), "f.gguf")

	start := time.Now()
	_, err := newTestTransferer(150*time.Millisecond).Transfer(context.Background(), Request{URL: srv.URL, Dest: dest, Total: 1000}, 1, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStallTimeout), "err=%v", err)
	assert.True(t, IsNetwork(err))
	assert.Less(t, time.Since(start), 5*time.Second)
	fi, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(100), fi.Size())
}

func TestTransferCancelStopsAndKeepsPartial(t *testing.T) {
	o := &origin{payload: newPayload(t, 2000), trickle: true}
	srv := o.start(t)
	dest := filepath.Join(t.TempDir(), "f.gguf")

	ctx, cancel := context.WithCancelCause(context.Background())
	var once bool
	start := time.Now()
	res, err := newTestTransferer(time.Second).Transfer(ctx, Request{URL: srv.URL, Dest: dest, Total: 2000}, 1, func(p float64) {
		if !once {
			once = true
			cancel(ErrPaused)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, Stopped, res.Outcome)
	assert.Greater(t, res.Percent, 0.0)
	assert.Less(t, res.Percent, 100.0)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, errors.Is(context.Cause(ctx), ErrPaused))
	fi, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, res.Bytes, fi.Size())
}

func TestTransferShortStreamIsIncomplete(t *testing.T) {
	o := &origin{payload: newPayload(t, 1000), shortBy: 400}
	srv := o.start(t)
	dest := filepath.Join(t.TempDir(), "f.gguf")

	res, err := newTestTransferer(time.Second).Transfer(context.Background(), Request{URL: srv.URL, Dest: dest, Total: 1000}, 1, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIncomplete))
	assert.True(t, IsNetwork(err))
	assert.InDelta(t, 60.0, res.Percent, 0.001)
}

func TestTransferIgnoredRangeRestarts(t *testing.T) {
	o := &origin{payload: newPayload(t, 1000), ignoreRange: true}
	srv := o.start(t)
	dest := filepath.Join(t.TempDir(), "f.gguf")
	require.NoError(t, os.WriteFile(dest, o.payload[:300], 0o644))

	_, err := newTestTransferer(time.Second).Transfer(context.Background(), Request{URL: srv.URL, Dest: dest, Total: 1000}, 1, nil)
	require.NoError(t, err)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(o.payload, got))
	assert.Equal(t, []string{"bytes=300-"}, o.rangeHeaders())
}

func TestTransferRejectsMisalignedContentRange(t *testing.T) {
	o := &origin{payload: newPayload(t, 1000), rangeSkew: -100}
	srv := o.start(t)
	dest := filepath.Join(t.TempDir(), "f.gguf")
	require.NoError(t, os.WriteFile(dest, o.payload[:300], 0o644))

	res, err := newTestTransferer(time.Second).Transfer(context.Background(), Request{URL: srv.URL, Dest: dest, Total: 1000}, 1, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRangeMismatch), "err=%v", err)
	assert.True(t, IsNetwork(err))
	assert.Equal(t, int64(300), res.Bytes)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(o.payload[:300], got), "partial file was modified")
}

func TestContentRangeStart(t *testing.T) {
	start, ok := contentRangeStart("bytes 300-999/1000")
	assert.True(t, ok)
	assert.Equal(t, int64(300), start)
	start, ok = contentRangeStart("bytes 0-0/*")
	assert.True(t, ok)
	assert.Zero(t, start)
	_, ok = contentRangeStart("")
	assert.False(t, ok)
	_, ok = contentRangeStart("items 1-2/3")
	assert.False(t, ok)
}

func TestTransferUnknownTotalStreamsToEOF(t *testing.T) {
	o := &origin{payload: newPayload(t, 777)}
	srv := o.start(t)
	dest := filepath.Join(t.TempDir(), "f.gguf")
	calls := 0
	res, err := newTestTransferer(time.Second).Transfer(context.Background(), Request{URL: srv.URL, Dest: dest}, 1, func(float64) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, int64(777), res.Bytes)
	assert.Zero(t, calls)
}

func TestTransferChecksumMismatchRemovesFile(t *testing.T) {
	o := &origin{payload: newPayload(t, 100)}
	srv := o.start(t)
	dest := filepath.Join(t.TempDir(), "f.gguf")
	_, err := newTestTransferer(time.Second).Transfer(context.Background(), Request{URL: srv.URL, Dest: dest, Total: 100, SHA256: strings.Repeat("0", 64)}, 1, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChecksum))
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestTransferLockedDestinationIsBusy(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "f.gguf")
	lk := flock.New(dest + ".lock")
	ok, err := lk.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer lk.Unlock()

	_, err = newTestTransferer(time.Second).Transfer(context.Background(), Request{URL: "http://127.0.0.1:1", Dest: dest, Total: 10}, 1, nil)
	require.Error(t, err)
	assert.True(t, IsIO(err))
	assert.True(t, errors.Is(err, ErrBusy))
}

func TestProbe(t *testing.T) {
	o := &origin{payload: newPayload(t, 1234)}
	srv := o.start(t)
	tr := newTestTransferer(time.Second)

	n, err := tr.Probe(context.Background(), srv.URL+"/f")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), n)

	missing := httptest.NewServer(http.NotFoundHandler())
	defer missing.Close()
	_, err = tr.Probe(context.Background(), missing.URL)
	require.Error(t, err)
	assert.True(t, IsNetwork(err))
	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, http.StatusNotFound, ne.Status)
}

func TestFileURL(t *testing.T) {
	assert.Equal(t, "https://huggingface.co/org/m/resolve/main/f.gguf", FileURL("https://huggingface.co/", "org/m", "f.gguf"))
}
