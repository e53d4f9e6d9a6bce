package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"modelhost/internal/catalog"
	"modelhost/internal/download"
	"modelhost/internal/httpapi"
	"modelhost/internal/manager"
	"modelhost/internal/service"
	"modelhost/internal/store"
	"modelhost/pkg/types"
)

const tinyFileID = "org/tiny#tiny.Q4_K_M.gguf"

// buildFakeRuntime compiles the runner stand-in shared with the manager tests.
func buildFakeRuntime(t *testing.T) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "fake_runtime")
	cmd := exec.Command("go", "build", "-o", bin, "../manager/testdata/fake_runtime.go")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build fake runtime: %v: %s", err, string(out))
	}
	return bin
}

// newOrigin serves payload for every path, honoring Range requests. Bodies
// are held back until gate is closed; a nil gate never blocks.
func newOrigin(t *testing.T, payload []byte, gate <-chan struct{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		http.ServeContent(w, r, "model.gguf", time.Time{}, bytes.NewReader(payload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type stack struct {
	api   *httptest.Server
	svc   *service.Service
	store *store.Store
}

func newStack(t *testing.T, originURL, runner string) *stack {
	t.Helper()
	dir := t.TempDir()
	log := zerolog.Nop()
	st, err := store.Open(filepath.Join(dir, "modelhost.db"), log)
	require.NoError(t, err)

	cat := catalog.New([]types.Model{{
		ID:          "org/tiny",
		Name:        "Tiny",
		ContextSize: 2048,
		Files: []types.File{{
			ID:             tinyFileID,
			ModelID:        "org/tiny",
			Name:           "tiny.Q4_K_M.gguf",
			PromptTemplate: "chatml",
		}},
	}})
	dl := download.New(download.Config{
		Store:     st,
		Transfer:  download.NewTransferer(nil, 5*time.Second, log),
		ModelsDir: filepath.Join(dir, "models"),
		Origin:    originURL,
		Log:       log,
	})
	sup := manager.NewWithConfig(manager.SupervisorConfig{
		Image:             &manager.RuntimeImage{Runner: runner, ServerWasm: "llama-api-server.wasm"},
		ReadinessAttempts: 100,
		ReadinessInterval: 50 * time.Millisecond,
		ShutdownTimeout:   5 * time.Second,
		Log:               log,
	})
	svc := service.New(service.Config{
		Catalog:    cat,
		Store:      st,
		Downloads:  dl,
		Supervisor: sup,
		Proxy:      manager.NewProxy(sup),
		Log:        log,
	})
	api := httptest.NewServer(httpapi.NewMux(svc))
	t.Cleanup(func() {
		api.Close()
		_ = svc.Close()
		_ = st.Close()
	})
	return &stack{api: api, svc: svc, store: st}
}

func fileURL(base, suffix string) string {
	return base + "/files/" + url.PathEscape(tinyFileID) + suffix
}

func httpDo(t *testing.T, method, u string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, u, body)
	require.NoError(t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// sseEvents reads "event:" names from an event stream until it ends.
func sseEvents(t *testing.T, r io.Reader) []string {
	t.Helper()
	var names []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			names = append(names, name)
		}
	}
	return names
}
