package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeLauncher serves the runtime's HTTP surface in-process on the address
// the supervisor picked.
type fakeLauncher struct {
	mu        sync.Mutex
	specs     []LaunchSpec
	workers   []*fakeWorker
	overlap   bool
	launchErr error

	neverReady bool
	ignoreExit bool
	exitEarly  bool
	chatStatus int
	// streamGate, when set, holds streams open after the first chunks until
	// it is closed or the client goes away.
	streamGate chan struct{}
	models     []string
}

type fakeWorker struct {
	srv  *http.Server
	done chan struct{}
	once sync.Once
	err  error
}

func (w *fakeWorker) Done() <-chan struct{} { return w.done }
func (w *fakeWorker) Err() error            { return w.err }
func (w *fakeWorker) PID() int              { return 4242 }
func (w *fakeWorker) Kill() {
	w.once.Do(func() {
		if w.srv != nil {
			_ = w.srv.Close()
		}
	})
}

func (f *fakeLauncher) Launch(_ context.Context, spec LaunchSpec) (Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launchErr != nil {
		return nil, f.launchErr
	}
	for _, w := range f.workers {
		select {
		case <-w.done:
		default:
			f.overlap = true
		}
	}
	f.specs = append(f.specs, spec)
	w := &fakeWorker{done: make(chan struct{})}
	f.workers = append(f.workers, w)
	if f.exitEarly {
		w.err = errors.New("exit status 3")
		close(w.done)
		return w, nil
	}
	l, err := net.Listen("tcp", spec.Addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/echo", func(rw http.ResponseWriter, r *http.Request) {
		if f.neverReady {
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = rw.Write([]byte("echo test"))
	})
	mux.HandleFunc("/admin/exit", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		if !f.ignoreExit {
			go func() {
				time.Sleep(10 * time.Millisecond)
				w.Kill()
			}()
		}
	})
	mux.HandleFunc("/v1/chat/completions", f.chat)
	w.srv = &http.Server{Handler: mux}
	go func() {
		_ = w.srv.Serve(l)
		close(w.done)
	}()
	return w, nil
}

func (f *fakeLauncher) chat(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.models = append(f.models, body.Model)
	f.mu.Unlock()
	if f.chatStatus != 0 {
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(f.chatStatus)
		_, _ = rw.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
		return
	}
	if !body.Stream {
		rw.Header().Set("Content-Type", "application/json")
		_, _ = rw.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"local-chat","choices":[{"index":0,"message":{"role":"assistant","content":"Hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
		return
	}
	rw.Header().Set("Content-Type", "text/event-stream")
	fl, _ := rw.(http.Flusher)
	for _, part := range []string{"Hel", "lo"} {
		fmt.Fprintf(rw, "data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"local-chat\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		if fl != nil {
			fl.Flush()
		}
	}
	if f.streamGate != nil {
		select {
		case <-f.streamGate:
		case <-r.Context().Done():
			return
		}
	}
	fmt.Fprint(rw, "data: [DONE]\n\n")
}

func (f *fakeLauncher) launches() []LaunchSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]LaunchSpec(nil), f.specs...)
}

func (f *fakeLauncher) worker(i int) *fakeWorker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.workers[i]
}

func testImage() *RuntimeImage {
	return &RuntimeImage{Runner: "wasmedge", ServerWasm: "llama-api-server.wasm"}
}

func newTestSupervisor(t *testing.T, l Launcher, mut func(*SupervisorConfig)) (*Supervisor, *MemoryPublisher) {
	t.Helper()
	pub := NewMemoryPublisher()
	cfg := SupervisorConfig{
		Image:             testImage(),
		Launcher:          l,
		ReadinessAttempts: 200,
		ReadinessInterval: 10 * time.Millisecond,
		ShutdownTimeout:   2 * time.Second,
		Publisher:         pub,
		Log:               zerolog.Nop(),
	}
	if mut != nil {
		mut(&cfg)
	}
	s := NewWithConfig(cfg)
	t.Cleanup(func() { _ = s.Close() })
	return s, pub
}

func testModelFile(name string) ModelFile {
	return ModelFile{
		ID:             "org/model#" + name,
		ModelID:        "org/model",
		Name:           name,
		Path:           "/models/org/model/" + name,
		ContextSize:    4096,
		PromptTemplate: "llama-3-chat",
	}
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return c
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

// buildTestBinary builds the fake runtime used for subprocess tests and returns its path.
func buildTestBinary(t *testing.T) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "fake_runtime")
	cmd := exec.Command("go", "build", "-o", bin, "./testdata/fake_runtime.go")
	cmd.Dir = "."
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build fake runtime: %v: %s", err, string(out))
	}
	return bin
}
