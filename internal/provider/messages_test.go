package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

func TestMessagesMidStreamReasoning(t *testing.T) {
	srv := sseServer(t, "/v1/messages", []string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"usage":{"input_tokens":12}}}`, "",
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}`, "",
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"abc"}}`, "",
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"def"}}`, "",
		`event: content_block_stop`,
		`data: {"type":"content_block_stop","index":0}`, "",
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":1,"content_block":{"type":"text","text":""}}`, "",
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"answer"}}`, "",
		`event: content_block_stop`,
		`data: {"type":"content_block_stop","index":1}`, "",
		`event: message_stop`,
		`data: {"type":"message_stop"}`, "",
	})

	sink := &recordingSink{}
	p := NewMessages(sink, Options{URL: srv.URL, MaxModelLen: 200000})
	conv, ex := newTestConversation("test-model")

	require.NoError(t, p.ChatRequest(context.Background(), conv, ex))

	require.Len(t, ex.Items, 3)
	reasoning, ok := ex.Items[1].(*chat.AssistantReasoning)
	require.True(t, ok)
	assert.Equal(t, "abcdef", reasoning.Content)
	assert.Equal(t, chat.StatusCompleted, reasoning.Status)

	msg, ok := ex.Items[2].(*chat.AssistantText)
	require.True(t, ok)
	assert.Equal(t, "answer", msg.Content)
	assert.Equal(t, chat.StatusCompleted, msg.Status)

	var tokens map[string]any
	for _, e := range sink.snapshot() {
		if e["type"] == "chat.tokens" {
			tokens = e
		}
	}
	require.NotNil(t, tokens)
	assert.Equal(t, 12, tokens["token_count"])
	assert.Equal(t, 200000, tokens["token_max"])
}

func TestMessagesToolUse(t *testing.T) {
	srv := sseServer(t, "/v1/messages", []string{
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"c9","name":"ping"}}`, "",
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"target\":"}}`, "",
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"x\"}"}}`, "",
		`event: content_block_stop`,
		`data: {"type":"content_block_stop","index":0}`, "",
		`event: message_stop`,
		`data: {"type":"message_stop"}`, "",
	})

	sink := &recordingSink{}
	p := NewMessages(sink, Options{URL: srv.URL, MaxModelLen: 200000})
	conv, ex := newTestConversation("test-model")

	require.NoError(t, p.ChatRequest(context.Background(), conv, ex))

	calls := ex.FunctionCalls()
	require.Len(t, calls, 1)
	fc := calls[0]
	assert.Equal(t, "c9", fc.CallID)
	assert.Equal(t, "ping", fc.Name)
	assert.Equal(t, `{"target":"x"}`, fc.Arguments)
	assert.Equal(t, chat.StatusCompleted, fc.Status)

	require.Len(t, sink.handoff, 1)
	assert.Same(t, fc, sink.handoff[0])

	// Argument deltas are internal to this dialect; only the closing
	// item.updated carries the complete arguments.
	for _, e := range sink.snapshot() {
		assert.NotEqual(t, "item.arguments.delta", e["type"])
	}
}

func TestMessagesAbruptClose(t *testing.T) {
	// Connection drops mid-stream: no content_block_stop, no
	// message_stop. Open items still complete and a pending tool call
	// is handed off.
	srv := sseServer(t, "/v1/messages", []string{
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`, "",
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial"}}`, "",
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"c3","name":"ping"}}`, "",
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"target\":\"x\"}"}}`, "",
	})

	sink := &recordingSink{}
	p := NewMessages(sink, Options{URL: srv.URL, MaxModelLen: 200000})
	conv, ex := newTestConversation("test-model")

	require.NoError(t, p.ChatRequest(context.Background(), conv, ex))

	msg := ex.LastAssistantText(chat.StatusCompleted)
	require.NotNil(t, msg)
	assert.Equal(t, "partial", msg.Content)

	calls := ex.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, chat.StatusCompleted, calls[0].Status)

	require.Len(t, sink.handoff, 1)
	assert.Same(t, calls[0], sink.handoff[0])
}

func TestMessagesHeaders(t *testing.T) {
	hosted := NewMessages(&recordingSink{}, Options{URL: "https://api.anthropic.com", APIKey: "k1"})
	h := hosted.PrepareHeaders()
	assert.Equal(t, "k1", h.Get("X-Api-Key"))
	assert.Equal(t, "2023-06-01", h.Get("anthropic-version"))
	assert.Empty(t, h.Get("Authorization"))

	local := NewMessages(&recordingSink{}, Options{URL: "http://localhost:8000", APIKey: "k2"})
	h = local.PrepareHeaders()
	assert.Equal(t, "Bearer k2", h.Get("Authorization"))
	assert.Empty(t, h.Get("X-Api-Key"))
}

func TestMessagesBuildRequest(t *testing.T) {
	sink := &recordingSink{}
	p := NewMessages(sink, Options{URL: "http://localhost:8000"})
	conv, ex := newTestConversation("test-model")

	fc := chat.NewFunctionCall("c1", "ping", `{"target":"x"}`, nil)
	fc.Content = "pong"
	fc.Status = chat.StatusFinished
	ex.Append(fc)

	req := p.buildRequest(conv, "test-model")
	assert.Equal(t, "Be brief.", req.System)
	assert.Equal(t, 40*1024, req.MaxTokens)
	assert.Equal(t, "enabled", req.Thinking.Type)
	require.Len(t, req.Messages, 3)

	assert.Equal(t, "user", req.Messages[0].Role)

	use := req.Messages[1]
	assert.Equal(t, "assistant", use.Role)
	blocks, ok := use.Content.([]msgContentBlock)
	require.True(t, ok)
	require.Len(t, blocks, 1)
	assert.Equal(t, "tool_use", blocks[0].Type)
	assert.Equal(t, "c1", blocks[0].ID)
	assert.Equal(t, "ping", blocks[0].Name)
	assert.Equal(t, map[string]any{"target": "x"}, blocks[0].Input)

	result := req.Messages[2]
	assert.Equal(t, "user", result.Role)
	blocks, ok = result.Content.([]msgContentBlock)
	require.True(t, ok)
	require.Len(t, blocks, 1)
	assert.Equal(t, "tool_result", blocks[0].Type)
	assert.Equal(t, "c1", blocks[0].ToolUseID)
	assert.Equal(t, "pong", blocks[0].Content)
}
