package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"modelhost/internal/download"
	"modelhost/internal/pb"
)

func buildPullCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "pull <file-id>...",
		Short:   "Download catalog files, resuming partial downloads",
		Example: "  modelhost pull 'TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF#tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf'",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.cfg, opts.log, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return pull(ctx, a, args, pb.NewProgressBar(cmd.OutOrStdout()))
		},
	}
}

// pull downloads every id concurrently and waits for all terminal events.
// Interrupting pauses the transfers so a later pull resumes them.
func pull(ctx context.Context, a *app, ids []string, bars *pb.ProgressBar) error {
	defer bars.Stop()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	prompt := pb.NormalizePrompt("Downloading")
	for _, id := range ids {
		ch, err := a.svc.StartDownload(ctx, id)
		if err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			mu.Unlock()
			continue
		}
		var size int64
		if e, err := a.store.Get(id); err == nil {
			size = e.File.FileSize
		}
		bars.Add(prompt, id, size)
		wg.Add(1)
		go func(id string, ch <-chan download.Event) {
			defer wg.Done()
			interrupted := ctx.Done()
			for {
				select {
				case ev, ok := <-ch:
					if !ok {
						return
					}
					switch ev.Kind {
					case download.EventProgress:
						bars.Update(id, ev.Progress)
					case download.EventCompleted:
						bars.Complete(id, pb.NormalizePrompt("Downloaded")+" "+id)
					case download.EventStopped:
						bars.Abort(id, pb.NormalizePrompt("Paused")+" "+id)
					case download.EventError:
						bars.Abort(id, pb.NormalizePrompt("Failed")+" "+id)
						mu.Lock()
						errs = append(errs, fmt.Errorf("%s: %w", id, ev.Err))
						mu.Unlock()
					}
				case <-interrupted:
					_ = a.svc.PauseDownload(id)
					interrupted = nil
				}
			}
		}(id, ch)
	}
	wg.Wait()
	return errors.Join(errs...)
}
