package main

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"modelhost/internal/catalog"
	"modelhost/internal/common/fsutil"
	"modelhost/internal/config"
	"modelhost/internal/download"
	"modelhost/internal/manager"
	"modelhost/internal/service"
	"modelhost/internal/store"
)

// app owns the components behind a Service.
type app struct {
	svc   *service.Service
	store *store.Store
}

// openApp wires the service. withRuntime also resolves the inference runtime;
// when it is unavailable the service still manages downloads.
func openApp(cfg config.Config, log zerolog.Logger, withRuntime bool) (*app, error) {
	modelsDir, err := fsutil.ResolveDir(cfg.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("models dir: %w", err)
	}
	dbPath, err := fsutil.ExpandHome(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(filepath.Clean(dbPath), log)
	if err != nil {
		return nil, err
	}
	if n, err := st.Reconcile(); err != nil {
		log.Warn().Err(err).Msg("reconcile failed")
	} else if n > 0 {
		log.Info().Int("changed", n).Msg("reconciled download records")
	}

	cat, err := catalog.LoadDir(cfg.CatalogDir)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("catalog: %w", err)
	}

	dl := download.New(download.Config{
		Store:         st,
		Transfer:      download.NewTransferer(nil, cfg.Download.StallTimeout(), log),
		ModelsDir:     modelsDir,
		Origin:        cfg.Download.Origin,
		MaxConcurrent: cfg.Download.MaxConcurrent,
		Step:          cfg.Download.ProgressStep,
		Log:           log,
	})

	sc := service.Config{Catalog: cat, Store: st, Downloads: dl, Log: log}
	if withRuntime {
		img, err := manager.LoadRuntimeImage(manager.RuntimeOptions{
			Runner:         cfg.Runtime.Runner,
			ServerWasm:     cfg.Runtime.ServerWasm,
			ExpectedSHA256: cfg.Runtime.WasmSHA256,
			ExtraArgs:      cfg.Runtime.ExtraArgs,
		})
		switch {
		case err == nil:
			sup := manager.NewWithConfig(manager.SupervisorConfig{
				Image:             img,
				ListenAddr:        cfg.Server.ListenAddr,
				ReadinessAttempts: cfg.Server.ReadinessAttempts,
				ReadinessInterval: cfg.Server.ReadinessInterval(),
				ShutdownTimeout:   cfg.Server.ShutdownTimeout(),
				DefaultBatchSize:  cfg.Server.DefaultBatchSize,
				MaxContextSize:    cfg.Server.MaxContextSize,
				Embedding: manager.EmbeddingModel{
					Path:        cfg.Server.EmbeddingModel,
					ContextSize: cfg.Server.EmbeddingContextSize,
				},
				Log: log,
			})
			sc.Supervisor = sup
			sc.Proxy = manager.NewProxy(sup)
			log.Info().Str("runner", img.Runner).Str("server_wasm", img.ServerWasm).Str("digest", img.Digest).Msg("runtime ready")
		case manager.IsDependencyUnavailable(err):
			log.Warn().Err(err).Msg("inference runtime unavailable; model loading disabled")
		default:
			_ = st.Close()
			return nil, err
		}
	}
	return &app{svc: service.New(sc), store: st}, nil
}

func (a *app) Close() error {
	err := a.svc.Close()
	if cerr := a.store.Close(); err == nil {
		err = cerr
	}
	return err
}
