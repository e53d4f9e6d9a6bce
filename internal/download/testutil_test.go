package download

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// origin is a fake object store supporting HEAD and ranged GET.
type origin struct {
	payload []byte

	// dropAt truncates the first GET after this many bytes of the file.
	dropAt int64
	// ignoreRange answers every GET with the full body and 200.
	ignoreRange bool
	// shortBy makes GET bodies this many bytes shorter than declared by HEAD.
	shortBy int
	// stallAfter writes this many bytes then blocks until release closes.
	stallAfter int
	// trickle writes the body in small slow pieces.
	trickle bool
	// gate blocks GET handlers until closed.
	gate chan struct{}
	// headGate blocks HEAD handlers until closed.
	headGate chan struct{}
	// rangeSkew shifts the start of Content-Range on 206 answers.
	rangeSkew int64

	release chan struct{}

	mu       sync.Mutex
	ranges   []string
	gets     atomic.Int32
	inflight atomic.Int32
	dropped  bool
}

func newPayload(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return b
}

func (o *origin) start(t *testing.T) *httptest.Server {
	t.Helper()
	o.release = make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(func() {
		close(o.release)
		srv.CloseClientConnections()
		srv.Close()
	})
	return srv
}

func (o *origin) rangeHeaders() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.ranges...)
}

func (o *origin) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		if o.headGate != nil {
			select {
			case <-o.headGate:
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(o.payload)))
		w.WriteHeader(http.StatusOK)
		return
	}
	o.gets.Add(1)
	o.inflight.Add(1)
	defer o.inflight.Add(-1)
	o.mu.Lock()
	o.ranges = append(o.ranges, r.Header.Get("Range"))
	drop := o.dropAt > 0 && !o.dropped
	if drop {
		o.dropped = true
	}
	o.mu.Unlock()

	if o.gate != nil {
		select {
		case <-o.gate:
		case <-r.Context().Done():
			return
		}
	}

	body := o.payload[:len(o.payload)-o.shortBy]
	status := http.StatusOK
	if rg := r.Header.Get("Range"); rg != "" && !o.ignoreRange {
		start, _ := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(rg, "bytes="), "-"), 10, 64)
		if start >= int64(len(body)) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start+o.rangeSkew, len(body)-1, len(body)))
		body = body[start:]
		status = http.StatusPartialContent
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	flusher, _ := w.(http.Flusher)

	switch {
	case drop:
		_, _ = w.Write(body[:o.dropAt])
		flusher.Flush()
		// Returning with fewer bytes than declared makes the server drop the connection.
		return
	case o.stallAfter > 0:
		_, _ = w.Write(body[:o.stallAfter])
		flusher.Flush()
		select {
		case <-o.release:
		case <-r.Context().Done():
		}
		return
	case o.trickle:
		for i := 0; i < len(body); i += 10 {
			end := i + 10
			if end > len(body) {
				end = len(body)
			}
			if _, err := w.Write(body[i:end]); err != nil {
				return
			}
			flusher.Flush()
			select {
			case <-time.After(10 * time.Millisecond):
			case <-r.Context().Done():
				return
			case <-o.release:
				return
			}
		}
	default:
		_, _ = w.Write(body)
	}
}
