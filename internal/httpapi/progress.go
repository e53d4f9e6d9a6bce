package httpapi

import (
	"sync"

	"modelhost/internal/download"
)

// progressEvent is the SSE payload of a download event.
type progressEvent struct {
	FileID   string  `json:"file_id"`
	Kind     string  `json:"kind"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error,omitempty"`
}

func toProgressEvent(ev download.Event) progressEvent {
	pe := progressEvent{FileID: ev.FileID, Kind: string(ev.Kind), Progress: ev.Progress}
	if ev.Err != nil {
		pe.Error = ev.Err.Error()
	}
	return pe
}

// progressHub drains the event channel of every download started over HTTP
// and fans the events out to SSE subscribers. Subscribers keep only the
// latest event; the terminal event is never dropped.
type progressHub struct {
	mu   sync.Mutex
	subs map[string]map[chan download.Event]struct{}
	last map[string]download.Event
	gen  map[string]uint64
}

func newProgressHub() *progressHub {
	return &progressHub{
		subs: make(map[string]map[chan download.Event]struct{}),
		last: make(map[string]download.Event),
		gen:  make(map[string]uint64),
	}
}

// track starts draining ch for fileID. Subscribers of a previous download
// of the same file are closed; events still drained from it are dropped.
func (h *progressHub) track(fileID string, ch <-chan download.Event) {
	h.mu.Lock()
	h.gen[fileID]++
	gen := h.gen[fileID]
	for sub := range h.subs[fileID] {
		close(sub)
	}
	h.subs[fileID] = make(map[chan download.Event]struct{})
	delete(h.last, fileID)
	h.mu.Unlock()
	go func() {
		for ev := range ch {
			h.publish(fileID, gen, ev)
		}
		h.finish(fileID, gen)
	}()
}

func (h *progressHub) publish(fileID string, gen uint64, ev download.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen[fileID] != gen {
		return
	}
	h.last[fileID] = ev
	for sub := range h.subs[fileID] {
		offerLatest(sub, ev)
	}
}

// offerLatest replaces any undelivered event in the single-slot sub with ev.
func offerLatest(sub chan download.Event, ev download.Event) {
	for {
		select {
		case sub <- ev:
			return
		default:
		}
		select {
		case <-sub:
		default:
		}
	}
}

func (h *progressHub) finish(fileID string, gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen[fileID] != gen {
		return
	}
	delete(h.gen, fileID)
	for sub := range h.subs[fileID] {
		close(sub)
	}
	delete(h.subs, fileID)
	delete(h.last, fileID)
}

// subscribe returns a channel of events for fileID, primed with the latest
// event. ok is false when no download of fileID is tracked.
func (h *progressHub) subscribe(fileID string) (ch <-chan download.Event, cancel func(), ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subs[fileID]
	if !ok {
		return nil, nil, false
	}
	sub := make(chan download.Event, 1)
	if ev, seen := h.last[fileID]; seen {
		sub <- ev
	}
	subs[sub] = struct{}{}
	return sub, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, live := h.subs[fileID][sub]; live {
			delete(h.subs[fileID], sub)
		}
	}, true
}
