package main

// fake_runtime stands in for the WasmEdge runner in subprocess tests. It
// accepts the runner's command line, serves the endpoints the supervisor
// uses on --socket-addr, and exits on /admin/exit.
//
// FAKE_RUNTIME_IGNORE_EXIT=1 makes /admin/exit and SIGTERM no-ops.
// FAKE_RUNTIME_FAIL=1 exits with status 3 before listening.

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	if os.Getenv("FAKE_RUNTIME_FAIL") == "1" {
		fmt.Fprintln(os.Stderr, "fake runtime: model failed to load")
		os.Exit(3)
	}
	ignoreExit := os.Getenv("FAKE_RUNTIME_IGNORE_EXIT") == "1"
	addr := ""
	for i, a := range os.Args {
		if a == "--socket-addr" && i+1 < len(os.Args) {
			addr = os.Args[i+1]
		}
	}
	if addr == "" {
		fmt.Fprintln(os.Stderr, "fake runtime: missing --socket-addr")
		os.Exit(2)
	}

	exit := make(chan struct{}, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("echo test"))
	})
	mux.HandleFunc("/admin/exit", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if !ignoreExit {
			exit <- struct{}{}
		}
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, c := range []string{"h", "i"} {
				fmt.Fprintf(w, "data: {\"id\":\"chatcmpl-fake\",\"object\":\"chat.completion.chunk\",\"model\":\"local-chat\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", c)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-fake","object":"chat.completion","model":"local-chat","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "fake runtime: %v\n", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	for {
		select {
		case <-exit:
			time.Sleep(50 * time.Millisecond)
			_ = srv.Close()
			return
		case <-sigCh:
			if !ignoreExit {
				_ = srv.Close()
				return
			}
		}
	}
}
