package ping

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

func TestPingMissingTarget(t *testing.T) {
	tool := Tool()
	conv := chat.NewConversation("conversation-a", nil, nil)
	fc := chat.NewFunctionCall("c1", "ping", `{}`, nil)

	require.NoError(t, tool.Call(context.Background(), conv, fc, func(string) {}))
	assert.Equal(t, "Parameter 'target' is required", fc.Content)
	assert.True(t, fc.Error)
}

func TestPingInvalidArguments(t *testing.T) {
	tool := Tool()
	conv := chat.NewConversation("conversation-b", nil, nil)
	fc := chat.NewFunctionCall("c1", "ping", "{not json", nil)

	require.NoError(t, tool.Call(context.Background(), conv, fc, func(string) {}))
	assert.Equal(t, "Exception occurred while parsing arguments.", fc.Content)
	assert.True(t, fc.Error)
}

func TestPingToolDefinition(t *testing.T) {
	tool := Tool()
	assert.Equal(t, "ping", tool.Name)
	assert.NotNil(t, tool.Call)
	assert.Nil(t, tool.Init)

	props := tool.Parameters["properties"].(map[string]any)
	assert.Contains(t, props, "target")
}
