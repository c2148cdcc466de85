package busybox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

type fakeInitializer struct{ sandbox chat.Sandbox }

func (f *fakeInitializer) InitSandbox(_ context.Context, conv *chat.Conversation) error {
	conv.SetSandbox(f.sandbox)
	return nil
}

// fakeSandbox replays a canned execution stream.
type fakeSandbox struct {
	events  []chat.ExecEvent
	lastCmd []string
	stdin   string
}

func (f *fakeSandbox) Path() string { return "/tmp/sandbox-test" }

func (f *fakeSandbox) Execute(_ context.Context, cmd []string, stdin string) (<-chan chat.ExecEvent, error) {
	f.lastCmd = cmd
	f.stdin = stdin
	ch := make(chan chat.ExecEvent, len(f.events))
	for _, e := range f.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func (f *fakeSandbox) Close(context.Context) error { return nil }

func TestBusyboxSuccess(t *testing.T) {
	sandbox := &fakeSandbox{events: []chat.ExecEvent{
		{Stream: chat.ExecStdout, Text: "hello\n"},
		{Stream: chat.ExecReturnCode, Code: 0},
	}}
	tool := New(&fakeInitializer{sandbox: sandbox})

	conv := chat.NewConversation("conversation-a", nil, nil)
	conv.SetSandbox(sandbox)
	fc := chat.NewFunctionCall("c1", "busybox", `{"command":"echo hello","stdin":"input"}`, nil)

	require.NoError(t, tool.Call(context.Background(), conv, fc, func(string) {}))
	assert.Equal(t, "hello\n\nTool execution completed successfully.", fc.Content)
	assert.False(t, fc.Error)
	assert.Equal(t, []string{"sh", "-c", "echo hello"}, sandbox.lastCmd)
	assert.Equal(t, "input", sandbox.stdin)
}

func TestBusyboxFailure(t *testing.T) {
	sandbox := &fakeSandbox{events: []chat.ExecEvent{
		{Stream: chat.ExecStderr, Text: "sh: nope: not found\n"},
		{Stream: chat.ExecReturnCode, Code: 127},
	}}
	tool := New(&fakeInitializer{sandbox: sandbox})

	conv := chat.NewConversation("conversation-b", nil, nil)
	conv.SetSandbox(sandbox)
	fc := chat.NewFunctionCall("c1", "busybox", `{"command":"nope"}`, nil)

	require.NoError(t, tool.Call(context.Background(), conv, fc, func(string) {}))
	assert.Equal(t, "sh: nope: not found\n\nBusybox command failed with return code: 127", fc.Content)
	assert.True(t, fc.Error)
}

func TestBusyboxMissingCommand(t *testing.T) {
	tool := New(&fakeInitializer{})
	conv := chat.NewConversation("conversation-c", nil, nil)
	fc := chat.NewFunctionCall("c1", "busybox", `{}`, nil)

	require.NoError(t, tool.Call(context.Background(), conv, fc, func(string) {}))
	assert.Equal(t, "Parameter 'command' is required", fc.Content)
	assert.True(t, fc.Error)
}

func TestBusyboxInvalidArguments(t *testing.T) {
	tool := New(&fakeInitializer{})
	conv := chat.NewConversation("conversation-d", nil, nil)
	fc := chat.NewFunctionCall("c1", "busybox", "{not json", nil)

	require.NoError(t, tool.Call(context.Background(), conv, fc, func(string) {}))
	assert.Equal(t, "Exception occurred while parsing arguments.", fc.Content)
	assert.True(t, fc.Error)
}

func TestBusyboxWithoutSandbox(t *testing.T) {
	tool := New(&fakeInitializer{})
	conv := chat.NewConversation("conversation-e", nil, nil)
	fc := chat.NewFunctionCall("c1", "busybox", `{"command":"ls"}`, nil)

	require.Error(t, tool.Call(context.Background(), conv, fc, func(string) {}))
}
