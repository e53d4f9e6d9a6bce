package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter writes text/event-stream frames and flushes after each one.
type sseWriter struct {
	w    http.ResponseWriter
	fl   http.Flusher
	kind string
}

func newSSEWriter(w http.ResponseWriter, kind string) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl, _ := w.(http.Flusher)
	sseStreams.WithLabelValues(kind).Inc()
	s := &sseWriter{w: w, fl: fl, kind: kind}
	s.flush()
	return s
}

func (s *sseWriter) flush() {
	if s.fl != nil {
		s.fl.Flush()
	}
}

// event writes a named event with a JSON payload.
func (s *sseWriter) event(name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, b); err != nil {
		return err
	}
	s.flush()
	return nil
}

// data writes an unnamed data frame, as OpenAI-style streams do.
func (s *sseWriter) data(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *sseWriter) done() error {
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *sseWriter) close() { sseStreams.WithLabelValues(s.kind).Dec() }
