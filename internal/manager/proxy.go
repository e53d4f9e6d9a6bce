package manager

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// Proxy forwards OpenAI-style chat completions to the active instance.
type Proxy struct {
	sup *Supervisor
	log zerolog.Logger
}

// NewProxy returns a Proxy relaying to sup's current instance.
func NewProxy(sup *Supervisor) *Proxy {
	return &Proxy{sup: sup, log: sup.cfg.Log.With().Str("component", "proxy").Logger()}
}

// Complete performs a non-streaming chat completion. A chat ended by
// StopChat returns ErrChatStopped.
func (p *Proxy) Complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	inst, err := p.sup.active()
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	chatCtx, release := inst.chats.add(ctx)
	defer release()

	req.Model = chatAlias
	req.Stream = false
	start := time.Now()
	resp, err := inst.client.CreateChatCompletion(chatCtx, req)
	if err != nil {
		if errors.Is(context.Cause(chatCtx), ErrChatStopped) {
			chatRequests.WithLabelValues("complete", "stopped").Inc()
			return openai.ChatCompletionResponse{}, ErrChatStopped
		}
		if ctx.Err() != nil {
			return openai.ChatCompletionResponse{}, ctx.Err()
		}
		chatRequests.WithLabelValues("complete", "error").Inc()
		return openai.ChatCompletionResponse{}, upstreamError(err)
	}
	chatRequests.WithLabelValues("complete", "ok").Inc()
	p.log.Debug().Str("event", "chat_complete").Dur("elapsed", time.Since(start)).Int("total_tokens", resp.Usage.TotalTokens).Msg("chat completed")
	return resp, nil
}

// Stream relays a streaming chat completion chunk by chunk to onChunk. The
// relay always ends with a synthetic chunk whose finish reason is "stop",
// whether the server finished or StopChat ended the chat. An error from
// onChunk aborts the relay and is returned.
func (p *Proxy) Stream(ctx context.Context, req openai.ChatCompletionRequest, onChunk func(openai.ChatCompletionStreamResponse) error) error {
	inst, err := p.sup.active()
	if err != nil {
		return err
	}
	chatCtx, release := inst.chats.add(ctx)
	defer release()

	req.Model = chatAlias
	stream, err := inst.client.CreateChatCompletionStream(chatCtx, req)
	if err != nil {
		if errors.Is(context.Cause(chatCtx), ErrChatStopped) {
			chatRequests.WithLabelValues("stream", "stopped").Inc()
			return onChunk(stopChunk("", chatAlias))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		chatRequests.WithLabelValues("stream", "error").Inc()
		return upstreamError(err)
	}
	defer stream.Close()

	id, model := "", chatAlias
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			chatRequests.WithLabelValues("stream", "ok").Inc()
			return onChunk(stopChunk(id, model))
		}
		if err != nil {
			if errors.Is(context.Cause(chatCtx), ErrChatStopped) {
				chatRequests.WithLabelValues("stream", "stopped").Inc()
				p.log.Debug().Str("event", "chat_stopped").Str("id", id).Msg("stream stopped")
				return onChunk(stopChunk(id, model))
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			chatRequests.WithLabelValues("stream", "error").Inc()
			return upstreamError(err)
		}
		if chunk.ID != "" {
			id = chunk.ID
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if err := onChunk(chunk); err != nil {
			return err
		}
	}
}

func stopChunk(id, model string) openai.ChatCompletionStreamResponse {
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}
	return openai.ChatCompletionStreamResponse{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index:        0,
			FinishReason: openai.FinishReasonStop,
		}},
	}
}

func upstreamError(err error) error {
	ue := &UpstreamError{Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		ue.Status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		ue.Status = reqErr.HTTPStatusCode
	}
	return ue
}

// chatRegistry tracks open chats of one instance so they can be stopped
// together.
type chatRegistry struct {
	mu      sync.Mutex
	next    uint64
	cancels map[uint64]context.CancelCauseFunc
}

func newChatRegistry() *chatRegistry {
	return &chatRegistry{cancels: make(map[uint64]context.CancelCauseFunc)}
}

func (r *chatRegistry) add(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	r.mu.Lock()
	id := r.next
	r.next++
	r.cancels[id] = cancel
	r.mu.Unlock()
	return ctx, func() {
		r.mu.Lock()
		delete(r.cancels, id)
		r.mu.Unlock()
		cancel(nil)
	}
}

// stopAll cancels every open chat and returns how many there were.
func (r *chatRegistry) stopAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.cancels)
	for id, cancel := range r.cancels {
		cancel(ErrChatStopped)
		delete(r.cancels, id)
	}
	return n
}

// Open returns the number of chats in flight on the current instance.
func (p *Proxy) Open() int {
	inst, err := p.sup.active()
	if err != nil {
		return 0
	}
	inst.chats.mu.Lock()
	defer inst.chats.mu.Unlock()
	return len(inst.chats.cancels)
}
