package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

func TestResponsesTextStream(t *testing.T) {
	srv := sseServer(t, "/v1/responses", []string{
		`data: {"type":"response.created"}`, "",
		`data: {"type":"response.output_item.added","output_index":0,"item":{"type":"message"}}`, "",
		`data: {"type":"response.output_text.delta","output_index":0,"delta":"Hel"}`, "",
		`data: {"type":"response.output_text.delta","output_index":0,"delta":"lo"}`, "",
		`data: {"type":"response.output_item.done","output_index":0,"item":{"type":"message"}}`, "",
		`data: {"type":"response.completed","response":{"usage":{"input_tokens":7}}}`, "",
		`data: [DONE]`, "",
	})

	sink := &recordingSink{}
	p := NewResponses(sink, Options{URL: srv.URL, MaxModelLen: 128000})
	conv, ex := newTestConversation("test-model")

	require.NoError(t, p.ChatRequest(context.Background(), conv, ex))

	require.Len(t, ex.Items, 2)
	msg, ok := ex.Items[1].(*chat.AssistantText)
	require.True(t, ok)
	assert.Equal(t, "Hello", msg.Content)
	assert.Equal(t, chat.StatusCompleted, msg.Status)

	events := sink.snapshot()
	assert.Equal(t, "Hello", deltasFor(events, msg.Key))

	var tokens map[string]any
	for _, e := range events {
		if e["type"] == "chat.tokens" {
			tokens = e
		}
	}
	require.NotNil(t, tokens)
	assert.Equal(t, 7, tokens["token_count"])
	assert.Equal(t, 128000, tokens["token_max"])
}

func TestResponsesFunctionCall(t *testing.T) {
	srv := sseServer(t, "/v1/responses", []string{
		`data: {"type":"response.output_item.added","output_index":0,"item":{"type":"function_call","call_id":"c2","name":"ping"}}`, "",
		`data: {"type":"response.function_call_arguments.delta","output_index":0,"delta":"{\"ta"}`, "",
		`data: {"type":"response.function_call_arguments.delta","output_index":0,"delta":"rget\":\"x\"}"}`, "",
		`data: {"type":"response.output_item.done","output_index":0,"item":{"type":"function_call","call_id":"c2","name":"ping","arguments":"{\"target\":\"x\"}"}}`, "",
		`data: {"type":"response.completed","response":{"usage":{"input_tokens":3}}}`, "",
		`data: [DONE]`, "",
	})

	sink := &recordingSink{}
	p := NewResponses(sink, Options{URL: srv.URL})
	conv, ex := newTestConversation("test-model")

	require.NoError(t, p.ChatRequest(context.Background(), conv, ex))

	calls := ex.FunctionCalls()
	require.Len(t, calls, 1)
	fc := calls[0]
	assert.Equal(t, "c2", fc.CallID)
	assert.Equal(t, "ping", fc.Name)
	// The done record carries the authoritative arguments.
	assert.Equal(t, `{"target":"x"}`, fc.Arguments)
	assert.Equal(t, chat.StatusCompleted, fc.Status)

	require.Len(t, sink.handoff, 1)
	assert.Same(t, fc, sink.handoff[0])
}

func TestResponsesReasoningStream(t *testing.T) {
	srv := sseServer(t, "/v1/responses", []string{
		`data: {"type":"response.output_item.added","output_index":0,"item":{"type":"reasoning"}}`, "",
		`data: {"type":"response.reasoning_text.delta","output_index":0,"delta":"hmm"}`, "",
		`data: {"type":"response.output_item.done","output_index":0,"item":{"type":"reasoning"}}`, "",
		`data: {"type":"response.output_item.added","output_index":1,"item":{"type":"message"}}`, "",
		`data: {"type":"response.output_text.delta","output_index":1,"delta":"ok"}`, "",
		`data: {"type":"response.output_item.done","output_index":1,"item":{"type":"message"}}`, "",
		`data: [DONE]`, "",
	})

	sink := &recordingSink{}
	p := NewResponses(sink, Options{URL: srv.URL})
	conv, ex := newTestConversation("test-model")

	require.NoError(t, p.ChatRequest(context.Background(), conv, ex))

	require.Len(t, ex.Items, 3)
	reasoning, ok := ex.Items[1].(*chat.AssistantReasoning)
	require.True(t, ok)
	assert.Equal(t, "hmm", reasoning.Content)
	assert.Equal(t, chat.StatusCompleted, reasoning.Status)

	msg, ok := ex.Items[2].(*chat.AssistantText)
	require.True(t, ok)
	assert.Equal(t, "ok", msg.Content)
	assert.Equal(t, chat.StatusCompleted, msg.Status)
}

func TestResponsesBuildRequest(t *testing.T) {
	sink := &recordingSink{}
	p := NewResponses(sink, Options{URL: "http://localhost:8000"})
	conv, ex := newTestConversation("test-model")

	fc := chat.NewFunctionCall("c1", "ping", `{"target":"x"}`, nil)
	fc.Content = "pong"
	fc.Status = chat.StatusFinished
	ex.Append(fc)

	req := p.buildRequest(conv, "test-model")
	assert.Equal(t, "Be brief.", req.Instructions)
	assert.True(t, req.Stream)
	require.Len(t, req.Input, 3)

	assert.Equal(t, map[string]any{"role": "user", "content": "hi"}, req.Input[0])
	assert.Equal(t, map[string]any{
		"type":      "function_call",
		"call_id":   "c1",
		"name":      "ping",
		"arguments": `{"target":"x"}`,
	}, req.Input[1])
	assert.Equal(t, map[string]any{
		"type":    "function_call_output",
		"call_id": "c1",
		"output":  "pong",
	}, req.Input[2])
}
