package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	openai "github.com/sashabaranov/go-openai"

	"modelhost/internal/download"
	"modelhost/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Models() []types.Model
	FeaturedModels() []types.Model
	StartDownload(ctx context.Context, fileID string) (<-chan download.Event, error)
	PauseDownload(fileID string) error
	CancelDownload(fileID string) error
	CurrentDownloads() ([]types.PendingDownload, error)
	DownloadedFiles() ([]types.DownloadedFile, error)
	DeleteFile(fileID string) error
	LoadModel(ctx context.Context, fileID string, opts types.LoadOptions) (types.LoadedModelInfo, error)
	EjectModel(ctx context.Context) error
	Chat(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	ChatStream(ctx context.Context, req openai.ChatCompletionRequest, onChunk func(openai.ChatCompletionStreamResponse) error) error
	StopChat() int
	Status() types.StatusResponse
	Ready() bool
}

type api struct {
	svc Service
	hub *progressHub
}

func NewMux(svc Service) http.Handler {
	a := &api{svc: svc, hub: newProgressHub()}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: orDefault(corsAllowedOrigins, []string{"*"}),
			AllowedMethods: orDefault(corsAllowedMethods, []string{"GET", "POST", "DELETE", "OPTIONS"}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Content-Type", "X-Log-Level", "X-Request-Id"}),
			MaxAge:         300,
		}))
	}
	// Compression for JSON endpoints; event streams are not in its type list.
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		models := svc.Models()
		if r.URL.Query().Get("featured") == "true" {
			models = svc.FeaturedModels()
		}
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: models})
	})

	r.Get("/files", a.listFiles)
	r.Delete("/files/{id}", a.deleteFile)

	r.Get("/downloads", a.listDownloads)
	r.Post("/downloads", a.startDownload)
	r.Get("/downloads/{id}/progress", a.downloadProgress)
	r.Post("/downloads/{id}", a.pauseDownload)
	r.Delete("/downloads/{id}", a.cancelDownload)

	r.Post("/models/load", a.loadModel)
	r.Post("/models/eject", a.ejectModel)
	r.Post("/models/stop", a.stopChat)
	r.Post("/models/v1/chat/completions", a.chat)

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON enforces the content type and body limit shared by POST endpoints.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// fileIDParam reads the {id} path segment. File ids contain '/' and '#', so
// clients send them escaped.
func fileIDParam(r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "id")
	id, err := url.PathUnescape(raw)
	if err != nil || strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

func (a *api) listFiles(w http.ResponseWriter, r *http.Request) {
	files, err := a.svc.DownloadedFiles()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FilesResponse{Files: files})
}

func (a *api) deleteFile(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "file id is required")
		return
	}
	if err := a.svc.DeleteFile(id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listDownloads(w http.ResponseWriter, r *http.Request) {
	pending, err := a.svc.CurrentDownloads()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.DownloadsResponse{Downloads: pending})
}

func (a *api) startDownload(w http.ResponseWriter, r *http.Request) {
	var req types.DownloadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.FileID) == "" {
		writeJSONError(w, http.StatusBadRequest, "file_id is required")
		return
	}
	lvl := requestLogLevel(r)
	ch, err := a.svc.StartDownload(r.Context(), req.FileID)
	if err != nil {
		status := writeErr(w, err)
		requestEvent(r, lvl, LevelError).Int("status", status).Str("file", req.FileID).Err(err).Msg("download rejected")
		return
	}
	a.hub.track(req.FileID, ch)
	requestEvent(r, lvl, LevelInfo).Str("file", req.FileID).Msg("download started")
	writeJSON(w, http.StatusAccepted, map[string]string{"file_id": req.FileID})
}

// downloadProgress streams download events as server-sent events until the
// terminal event.
func (a *api) downloadProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "file id is required")
		return
	}
	ch, cancel, ok := a.hub.subscribe(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no tracked download for %s", id))
		return
	}
	defer cancel()
	sse := newSSEWriter(w, "progress")
	defer sse.close()
	ctx, stop := joinContexts(serverBaseCtx, r.Context())
	defer stop()
	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			if err := sse.event(string(ev.Kind), toProgressEvent(ev)); err != nil {
				return
			}
			if ev.Terminal() {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (a *api) pauseDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "file id is required")
		return
	}
	if err := a.svc.PauseDownload(id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) cancelDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "file id is required")
		return
	}
	if err := a.svc.CancelDownload(id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) loadModel(w http.ResponseWriter, r *http.Request) {
	var req types.LoadModelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.FileID) == "" {
		writeJSONError(w, http.StatusBadRequest, "file_id is required")
		return
	}
	lvl := requestLogLevel(r)
	start := time.Now()
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if loadTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, loadTimeout)
		defer tcancel()
	}
	info, err := a.svc.LoadModel(ctx, req.FileID, req.Options)
	if err != nil {
		status := writeErr(w, err)
		requestEvent(r, lvl, LevelError).Int("status", status).Str("file", req.FileID).Dur("dur", time.Since(start)).Err(err).Msg("load failed")
		return
	}
	requestEvent(r, lvl, LevelInfo).Str("file", req.FileID).Bool("reused", info.Reused).Dur("dur", time.Since(start)).Msg("model loaded")
	writeJSON(w, http.StatusOK, info)
}

func (a *api) ejectModel(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.EjectModel(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) stopChat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"stopped": a.svc.StopChat()})
}

func (a *api) chat(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "messages are required")
		return
	}
	lvl := requestLogLevel(r)
	start := time.Now()
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	if !req.Stream {
		resp, err := a.svc.Chat(ctx, req)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			status := writeErr(w, err)
			requestEvent(r, lvl, LevelInfo).Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("chat end")
			return
		}
		requestEvent(r, lvl, LevelInfo).Int("status", http.StatusOK).Dur("dur", time.Since(start)).Msg("chat end")
		writeJSON(w, http.StatusOK, resp)
		return
	}

	var sse *sseWriter
	err := a.svc.ChatStream(ctx, req, func(chunk openai.ChatCompletionStreamResponse) error {
		if sse == nil {
			sse = newSSEWriter(w, "chat")
		}
		requestEvent(r, lvl, LevelDebug).Str("id", chunk.ID).Msg("chat chunk")
		return sse.data(chunk)
	})
	if sse == nil {
		// Nothing was relayed; the status line is still ours to write.
		if err != nil && r.Context().Err() == nil {
			status := writeErr(w, err)
			requestEvent(r, lvl, LevelInfo).Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("chat end")
		}
		return
	}
	defer sse.close()
	if err != nil {
		requestEvent(r, lvl, LevelError).Dur("dur", time.Since(start)).Err(err).Msg("chat stream aborted")
		_ = sse.event("error", types.ErrorResponse{Error: err.Error(), Code: statusFor(err)})
		return
	}
	_ = sse.done()
	requestEvent(r, lvl, LevelInfo).Int("status", http.StatusOK).Dur("dur", time.Since(start)).Msg("chat end")
}
