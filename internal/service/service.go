// Package service is the application facade used by the HTTP layer and the
// CLI. It composes the catalog, the download state store, the download
// coordinator and the model server supervisor.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"modelhost/internal/catalog"
	"modelhost/internal/common/fsutil"
	"modelhost/internal/download"
	"modelhost/internal/manager"
	"modelhost/internal/store"
	"modelhost/pkg/types"
)

var (
	// ErrNotDownloaded is returned when loading a file that is not fully on disk.
	ErrNotDownloaded = errors.New("file is not downloaded")
	// ErrFileInUse is returned when deleting the file the server is serving or loading.
	ErrFileInUse = errors.New("file is being served")
)

// Config wires the service. Supervisor and Proxy may be nil for commands
// that only manage downloads.
type Config struct {
	Catalog    *catalog.Catalog
	Store      *store.Store
	Downloads  *download.Coordinator
	Supervisor *manager.Supervisor
	Proxy      *manager.Proxy
	Log        zerolog.Logger
}

// Service implements the download and model-serving operations.
type Service struct {
	cat   *catalog.Catalog
	st    *store.Store
	dl    *download.Coordinator
	sup   *manager.Supervisor
	proxy *manager.Proxy
	log   zerolog.Logger
	start time.Time
}

func New(cfg Config) *Service {
	cat := cfg.Catalog
	if cat == nil {
		cat = catalog.New(nil)
	}
	return &Service{
		cat:   cat,
		st:    cfg.Store,
		dl:    cfg.Downloads,
		sup:   cfg.Supervisor,
		proxy: cfg.Proxy,
		log:   cfg.Log.With().Str("component", "service").Logger(),
		start: time.Now(),
	}
}

// Models lists the catalog.
func (s *Service) Models() []types.Model { return s.cat.Models() }

// FeaturedModels lists catalog models with at least one featured file.
func (s *Service) FeaturedModels() []types.Model { return s.cat.Featured() }

// StartDownload resolves fileID and starts or resumes its download.
func (s *Service) StartDownload(ctx context.Context, fileID string) (<-chan download.Event, error) {
	m, f, err := s.cat.Resolve(fileID)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("event", "start_download").Str("file", fileID).Send()
	return s.dl.Request(ctx, store.ModelFromTypes(m), store.FileFromTypes(f, ""))
}

// PauseDownload stops a running transfer, keeping its bytes.
func (s *Service) PauseDownload(fileID string) error { return s.dl.Pause(fileID) }

// CancelDownload stops a transfer and removes its bytes and records.
func (s *Service) CancelDownload(fileID string) error { return s.dl.Cancel(fileID) }

// CurrentDownloads lists unfinished downloads. A record marked downloading
// with no transfer behind it is reported as paused.
func (s *Service) CurrentDownloads() ([]types.PendingDownload, error) {
	pending, err := s.st.Pending()
	if err != nil {
		return nil, err
	}
	active := make(map[string]bool)
	for _, id := range s.dl.Active() {
		active[id] = true
	}
	out := make([]types.PendingDownload, 0, len(pending))
	for _, p := range pending {
		pd := types.PendingDownload{
			File:     p.File.Types(),
			Model:    p.Model.Types(),
			Progress: p.Progress,
			Status:   p.Status,
			Error:    p.Error,
		}
		if active[p.File.ID] {
			pd.Status = types.PendingDownloading
			if live, ok := s.dl.Progress(p.File.ID); ok && live > pd.Progress {
				pd.Progress = live
			}
		} else if pd.Status == types.PendingDownloading {
			pd.Status = types.PendingPaused
		}
		out = append(out, pd)
	}
	return out, nil
}

// DownloadedFiles lists completed files, newest first.
func (s *Service) DownloadedFiles() ([]types.DownloadedFile, error) {
	entries, err := s.st.Downloaded()
	if err != nil {
		return nil, err
	}
	out := make([]types.DownloadedFile, 0, len(entries))
	for _, e := range entries {
		out = append(out, types.DownloadedFile{File: e.File.Types(), Model: e.Model.Types()})
	}
	return out, nil
}

// DeleteFile removes a file's bytes and records. Unfinished downloads are
// cancelled; the file being served or loaded is refused.
func (s *Service) DeleteFile(fileID string) error {
	if s.sup != nil && s.sup.InUse(fileID) {
		return fmt.Errorf("%w: %s", ErrFileInUse, fileID)
	}
	e, err := s.st.Get(fileID)
	if err != nil {
		return err
	}
	if !e.File.Downloaded {
		return s.dl.Cancel(fileID)
	}
	path := e.File.DownloadedPath()
	if err := fsutil.RemoveIfExists(path); err != nil {
		return &download.IoError{Op: "remove", Path: path, Err: err}
	}
	_ = fsutil.RemoveIfExists(path + ".lock")
	if err := s.st.Remove(fileID); err != nil {
		return err
	}
	s.log.Info().Str("event", "file_deleted").Str("file", fileID).Str("path", path).Send()
	return nil
}

// LoadModel serves a downloaded file.
func (s *Service) LoadModel(ctx context.Context, fileID string, opts types.LoadOptions) (types.LoadedModelInfo, error) {
	e, err := s.st.Get(fileID)
	if errors.Is(err, store.ErrNotFound) {
		return types.LoadedModelInfo{}, fmt.Errorf("%w: %s", ErrNotDownloaded, fileID)
	}
	if err != nil {
		return types.LoadedModelInfo{}, err
	}
	path := e.File.DownloadedPath()
	if !e.File.Downloaded || !fsutil.PathExists(path) {
		return types.LoadedModelInfo{}, fmt.Errorf("%w: %s", ErrNotDownloaded, fileID)
	}
	ctxSize := e.File.ContextSize
	if ctxSize == 0 {
		ctxSize = e.Model.ContextSize
	}
	template, reverse := e.File.PromptTemplate, e.File.ReversePrompt
	if template == "" {
		template = e.Model.PromptTemplate
	}
	if reverse == "" {
		reverse = e.Model.ReversePrompt
	}
	sup, err := s.supervisor()
	if err != nil {
		return types.LoadedModelInfo{}, err
	}
	return sup.Load(ctx, manager.ModelFile{
		ID:             e.File.ID,
		ModelID:        e.File.ModelID,
		Name:           e.File.Name,
		Path:           path,
		ContextSize:    ctxSize,
		PromptTemplate: template,
		ReversePrompt:  reverse,
	}, opts)
}

// EjectModel stops the inference server.
func (s *Service) EjectModel(ctx context.Context) error {
	sup, err := s.supervisor()
	if err != nil {
		return err
	}
	return sup.Eject(ctx)
}

func (s *Service) supervisor() (*manager.Supervisor, error) {
	if s.sup == nil || s.proxy == nil {
		return nil, manager.ErrDependencyUnavailable("inference runtime is not configured")
	}
	return s.sup, nil
}

// Chat performs a non-streaming chat completion.
func (s *Service) Chat(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if _, err := s.supervisor(); err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	return s.proxy.Complete(ctx, req)
}

// ChatStream relays a streaming chat completion to onChunk.
func (s *Service) ChatStream(ctx context.Context, req openai.ChatCompletionRequest, onChunk func(openai.ChatCompletionStreamResponse) error) error {
	if _, err := s.supervisor(); err != nil {
		return err
	}
	return s.proxy.Stream(ctx, req, onChunk)
}

// StopChat ends the chats in flight and returns how many were stopped.
func (s *Service) StopChat() int {
	if s.sup == nil {
		return 0
	}
	return s.sup.StopChat()
}

// Status reports the supervisor state and active downloads.
func (s *Service) Status() types.StatusResponse {
	resp := types.StatusResponse{
		ServerState:     string(manager.StateNoServer),
		ActiveDownloads: s.dl.Active(),
		UptimeSeconds:   int64(time.Since(s.start).Seconds()),
		ServerTimeUnix:  time.Now().Unix(),
	}
	if s.sup != nil {
		snap := s.sup.Snapshot()
		resp.ServerState = string(snap.State)
		resp.Loaded = snap.Loaded
		resp.LastError = snap.LastError
	}
	return resp
}

// Ready reports whether the service can accept work.
func (s *Service) Ready() bool {
	return s.st != nil && s.dl != nil
}

// Close pauses every transfer and stops the inference server.
func (s *Service) Close() error {
	s.dl.Close()
	if s.sup != nil {
		return s.sup.Close()
	}
	return nil
}
