package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelhost/internal/catalog"
	"modelhost/internal/download"
	"modelhost/internal/manager"
	"modelhost/internal/store"
	"modelhost/pkg/types"
)

// runtimeLauncher serves /echo and /admin/exit in-process on the picked address.
type runtimeLauncher struct {
	mu    sync.Mutex
	specs []manager.LaunchSpec
	// ready, when set, holds /echo at 503 until closed.
	ready chan struct{}
}

type runtimeWorker struct {
	srv  *http.Server
	done chan struct{}
	once sync.Once
}

func (w *runtimeWorker) Done() <-chan struct{} { return w.done }
func (w *runtimeWorker) Err() error            { return nil }
func (w *runtimeWorker) PID() int              { return 1 }
func (w *runtimeWorker) Kill()                 { w.once.Do(func() { _ = w.srv.Close() }) }

func (l *runtimeLauncher) Launch(_ context.Context, spec manager.LaunchSpec) (manager.Worker, error) {
	ln, err := net.Listen("tcp", spec.Addr)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.specs = append(l.specs, spec)
	l.mu.Unlock()
	w := &runtimeWorker{done: make(chan struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("/echo", func(rw http.ResponseWriter, r *http.Request) {
		if l.ready == nil {
			return
		}
		select {
		case <-l.ready:
		default:
			rw.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	mux.HandleFunc("/admin/exit", func(rw http.ResponseWriter, r *http.Request) {
		go w.Kill()
	})
	w.srv = &http.Server{Handler: mux}
	go func() {
		_ = w.srv.Serve(ln)
		close(w.done)
	}()
	return w, nil
}

func fileOrigin(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	svc       *Service
	store     *store.Store
	launcher  *runtimeLauncher
	modelsDir string
}

func newFixture(t *testing.T, originURL string) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "state.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	modelsDir := filepath.Join(dir, "models")
	dl := download.New(download.Config{
		Store:     st,
		Transfer:  download.NewTransferer(nil, 5*time.Second, zerolog.Nop()),
		ModelsDir: modelsDir,
		Origin:    originURL,
		Log:       zerolog.Nop(),
	})
	l := &runtimeLauncher{}
	sup := manager.NewWithConfig(manager.SupervisorConfig{
		Image:             &manager.RuntimeImage{Runner: "wasmedge", ServerWasm: "llama-api-server.wasm"},
		Launcher:          l,
		ReadinessInterval: 10 * time.Millisecond,
		Log:               zerolog.Nop(),
	})
	cat := catalog.New([]types.Model{{
		ID:          "org/model",
		Name:        "Model",
		ContextSize: 2048,
		Files: []types.File{{
			ID:             "org/model#m.gguf",
			ModelID:        "org/model",
			Name:           "m.gguf",
			PromptTemplate: "chatml",
		}},
	}})
	svc := New(Config{Catalog: cat, Store: st, Downloads: dl, Supervisor: sup, Proxy: manager.NewProxy(sup), Log: zerolog.Nop()})
	t.Cleanup(func() { _ = svc.Close() })
	return &fixture{svc: svc, store: st, launcher: l, modelsDir: modelsDir}
}

func waitTerminal(t *testing.T, ch <-chan download.Event) download.Event {
	t.Helper()
	var last download.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return last
			}
			last = ev
		case <-timeout:
			t.Fatalf("download did not finish")
		}
	}
}

func TestDownloadLoadDelete(t *testing.T) {
	origin := fileOrigin(t, make([]byte, 2048))
	fx := newFixture(t, origin.URL)
	ctx := context.Background()
	id := "org/model#m.gguf"

	ch, err := fx.svc.StartDownload(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, download.EventCompleted, waitTerminal(t, ch).Kind)

	files, err := fx.svc.DownloadedFiles()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, id, files[0].File.ID)
	assert.Equal(t, "chatml", files[0].File.PromptTemplate)
	assert.Equal(t, filepath.Join(fx.modelsDir, "org", "model", "m.gguf"), files[0].File.DownloadedPath)

	info, err := fx.svc.LoadModel(ctx, id, types.LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, id, info.FileID)
	st := fx.svc.Status()
	assert.Equal(t, string(manager.StateRunning), st.ServerState)
	require.NotNil(t, st.Loaded)
	assert.Equal(t, id, st.Loaded.FileID)
	require.Len(t, fx.launcher.specs, 1)
	assert.Contains(t, fx.launcher.specs[0].Args, "2048", "model context size drives -c")

	err = fx.svc.DeleteFile(id)
	assert.True(t, errors.Is(err, ErrFileInUse))

	require.NoError(t, fx.svc.EjectModel(ctx))
	require.NoError(t, fx.svc.DeleteFile(id))
	_, err = os.Stat(files[0].File.DownloadedPath)
	assert.True(t, os.IsNotExist(err))
	files, err = fx.svc.DownloadedFiles()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLoadModelRequiresDownload(t *testing.T) {
	fx := newFixture(t, "http://127.0.0.1:1")
	_, err := fx.svc.LoadModel(context.Background(), "org/model#m.gguf", types.LoadOptions{})
	assert.True(t, errors.Is(err, ErrNotDownloaded))
	assert.Equal(t, string(manager.StateNoServer), fx.svc.Status().ServerState)
}

func TestCurrentDownloadsReportsIdleAsPaused(t *testing.T) {
	fx := newFixture(t, "http://127.0.0.1:1")
	f := store.File{ID: "org/model#m.gguf", ModelID: "org/model", Name: "m.gguf", FileSize: 100, DownloadDir: fx.modelsDir}
	require.NoError(t, fx.store.Save(f, store.Model{ID: "org/model"}))

	pending, err := fx.svc.CurrentDownloads()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, types.PendingPaused, pending[0].Status)
	assert.Equal(t, 0.0, pending[0].Progress)

	require.NoError(t, fx.svc.DeleteFile(f.ID))
	pending, err = fx.svc.CurrentDownloads()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStartDownloadRejectsMalformedID(t *testing.T) {
	fx := newFixture(t, "http://127.0.0.1:1")
	_, err := fx.svc.StartDownload(context.Background(), "no-separator")
	assert.True(t, errors.Is(err, catalog.ErrFileNotFound))
}

func TestServingWithoutRuntime(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "state.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	f := store.File{ID: "org/model#m.gguf", ModelID: "org/model", Name: "m.gguf", FileSize: 4, DownloadDir: dir}
	require.NoError(t, st.Save(f, store.Model{ID: "org/model"}))
	require.NoError(t, os.MkdirAll(filepath.Dir(f.DownloadedPath()), 0o755))
	require.NoError(t, os.WriteFile(f.DownloadedPath(), []byte("gguf"), 0o644))
	require.NoError(t, st.MarkDownloaded(f.ID, 4))

	svc := New(Config{Store: st, Downloads: download.New(download.Config{Store: st, ModelsDir: dir}), Log: zerolog.Nop()})
	t.Cleanup(func() { _ = svc.Close() })

	_, err = svc.LoadModel(context.Background(), f.ID, types.LoadOptions{})
	assert.True(t, manager.IsDependencyUnavailable(err))
	assert.True(t, manager.IsDependencyUnavailable(svc.EjectModel(context.Background())))
	assert.Equal(t, 0, svc.StopChat())
	assert.Equal(t, string(manager.StateNoServer), svc.Status().ServerState)
}

func TestDeleteFileRefusedWhileLoading(t *testing.T) {
	origin := fileOrigin(t, make([]byte, 512))
	fx := newFixture(t, origin.URL)
	fx.launcher.ready = make(chan struct{})
	ctx := context.Background()
	id := "org/model#m.gguf"

	ch, err := fx.svc.StartDownload(ctx, id)
	require.NoError(t, err)
	require.Equal(t, download.EventCompleted, waitTerminal(t, ch).Kind)

	loaded := make(chan error, 1)
	go func() {
		_, err := fx.svc.LoadModel(ctx, id, types.LoadOptions{})
		loaded <- err
	}()
	require.Eventually(t, func() bool {
		return fx.svc.Status().ServerState == string(manager.StateSpawning)
	}, 3*time.Second, 5*time.Millisecond)

	assert.True(t, errors.Is(fx.svc.DeleteFile(id), ErrFileInUse))
	close(fx.launcher.ready)
	select {
	case err := <-loaded:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("load did not finish")
	}
	files, err := fx.svc.DownloadedFiles()
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestCurrentDownloadsReportsLiveProgress(t *testing.T) {
	payload := make([]byte, 1000)
	release := make(chan struct{})
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(payload[:500])
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(origin.Close)
	t.Cleanup(func() { close(release) })
	fx := newFixture(t, origin.URL)
	id := "org/model#m.gguf"

	_, err := fx.svc.StartDownload(context.Background(), id)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		pending, err := fx.svc.CurrentDownloads()
		return err == nil && len(pending) == 1 && pending[0].Progress >= 50
	}, 3*time.Second, 5*time.Millisecond)

	pending, err := fx.svc.CurrentDownloads()
	require.NoError(t, err)
	assert.Equal(t, types.PendingDownloading, pending[0].Status)
	assert.Less(t, pending[0].Progress, 100.0)
}

func TestLoadModelFallsBackToModelTemplate(t *testing.T) {
	fx := newFixture(t, "http://127.0.0.1:1")
	f := store.File{ID: "org/other#o.gguf", ModelID: "org/other", Name: "o.gguf", FileSize: 4, DownloadDir: fx.modelsDir}
	m := store.Model{ID: "org/other", ContextSize: 1024, PromptTemplate: "vicuna-chat", ReversePrompt: "USER:"}
	require.NoError(t, fx.store.Save(f, m))
	require.NoError(t, os.MkdirAll(filepath.Dir(f.DownloadedPath()), 0o755))
	require.NoError(t, os.WriteFile(f.DownloadedPath(), []byte("gguf"), 0o644))
	require.NoError(t, fx.store.MarkDownloaded(f.ID, 4))

	_, err := fx.svc.LoadModel(context.Background(), f.ID, types.LoadOptions{})
	require.NoError(t, err)
	fx.launcher.mu.Lock()
	defer fx.launcher.mu.Unlock()
	require.Len(t, fx.launcher.specs, 1)
	args := strings.Join(fx.launcher.specs[0].Args, " ")
	assert.Contains(t, args, "-p vicuna-chat")
	assert.Contains(t, args, "-r USER:")
}
