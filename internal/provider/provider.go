// Package provider implements the streaming chat adapters for the three
// supported wire dialects (chat-completions, responses, messages) plus
// model discovery. Adapters decode the SSE response incrementally and
// mutate the exchange as items appear; they never return items.
package provider

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

// DefaultPermits caps concurrent chat requests against one endpoint.
const DefaultPermits = 2

// Sink receives the adapter side effects: monitor events and completed
// function calls handed to the orchestrator. The router implements it.
type Sink interface {
	SendUpdate(ctx context.Context, conv *chat.Conversation, event map[string]any) error
	CreateFunctionCall(ctx context.Context, conv *chat.Conversation, ex *chat.Exchange, fc *chat.FunctionCall)
}

// ChatProvider is the common adapter contract.
type ChatProvider interface {
	// Type is the configuration type name of the adapter.
	Type() string
	// URL is the normalized base URL (always ends with "/").
	URL() string
	// PrepareHeaders returns request headers with credentials injected.
	PrepareHeaders() http.Header
	// Acquire takes the per-provider concurrency permit.
	Acquire(ctx context.Context) error
	Release()
	// ChatRequest issues one streaming request and incrementally
	// populates the exchange. Side effects only.
	ChatRequest(ctx context.Context, conv *chat.Conversation, ex *chat.Exchange) error
}

// Options configure one adapter instance, typically from a [provider:X]
// config section.
type Options struct {
	URL         string
	APIKey      string
	MaxModelLen int
	Permits     int64
}

type base struct {
	sink        Sink
	url         string
	apiKey      string
	maxModelLen int
	sem         *semaphore.Weighted
	client      *http.Client
}

func newBase(sink Sink, opts Options) base {
	permits := opts.Permits
	if permits <= 0 {
		permits = DefaultPermits
	}
	return base{
		sink:        sink,
		url:         strings.TrimRight(opts.URL, "/") + "/",
		apiKey:      opts.APIKey,
		maxModelLen: opts.MaxModelLen,
		sem:         semaphore.NewWeighted(permits),
		// Streaming responses are long-lived; cancellation is via ctx.
		client: &http.Client{},
	}
}

func (b *base) URL() string { return b.url }

func (b *base) Acquire(ctx context.Context) error { return b.sem.Acquire(ctx, 1) }

func (b *base) Release() { b.sem.Release(1) }

// bearerHeaders is the header set shared by the OpenAI-style adapters.
func (b *base) bearerHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		h.Set("Authorization", "Bearer "+b.apiKey)
	}
	return h
}

// finalizeStream closes partial items once the stream ends, whether
// cleanly or via a dropped connection. Function calls left open are
// completed and handed off; the tool layer rejects truncated arguments.
func (b *base) finalizeStream(ctx context.Context, conv *chat.Conversation, ex *chat.Exchange) error {
	if item := ex.LastAssistantText(chat.StatusInProgress); item != nil {
		item.Status = chat.StatusCompleted
		if err := b.sink.SendUpdate(ctx, conv, chat.EventItemUpdated(item)); err != nil {
			return err
		}
	}
	if item := ex.LastReasoning(chat.StatusInProgress); item != nil {
		item.Status = chat.StatusCompleted
		if err := b.sink.SendUpdate(ctx, conv, chat.EventItemUpdated(item)); err != nil {
			return err
		}
	}
	for _, fc := range ex.FunctionCalls() {
		if fc.Status != chat.StatusInProgress {
			continue
		}
		fc.Status = chat.StatusCompleted
		if err := b.sink.SendUpdate(ctx, conv, chat.EventItemUpdated(fc)); err != nil {
			return err
		}
		b.sink.CreateFunctionCall(ctx, conv, ex, fc)
	}
	return nil
}
