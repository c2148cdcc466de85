package tool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

func TestExecuteUnknownTool(t *testing.T) {
	svc := NewService()
	conv := chat.NewConversation("conversation-a", nil, map[string]*chat.Tool{})
	fc := chat.NewFunctionCall("c1", "nope", "{}", nil)

	require.NoError(t, svc.Execute(context.Background(), conv, fc, func(string) {}))
	assert.Equal(t, "Tool not found", fc.Content)
	assert.True(t, fc.Error)
	assert.Equal(t, chat.StatusCompleted, fc.Status)
}

func TestExecuteToolWithoutCall(t *testing.T) {
	// Skill definitions can name tools the registry cannot resolve.
	tools := map[string]*chat.Tool{"stub": {Name: "stub"}}
	svc := NewService()
	conv := chat.NewConversation("conversation-b", nil, tools)
	fc := chat.NewFunctionCall("c1", "stub", "{}", nil)

	require.NoError(t, svc.Execute(context.Background(), conv, fc, func(string) {}))
	assert.Equal(t, "Tool not found", fc.Content)
	assert.True(t, fc.Error)
}

func TestExecuteToolFailure(t *testing.T) {
	tools := map[string]*chat.Tool{
		"boom": {
			Name: "boom",
			Call: func(_ context.Context, _ *chat.Conversation, fc *chat.FunctionCall, _ chat.ProgressFunc) error {
				fc.Content = "partial"
				return errors.New("exploded")
			},
		},
	}
	svc := NewService()
	conv := chat.NewConversation("conversation-c", nil, tools)
	fc := chat.NewFunctionCall("c1", "boom", "{}", nil)

	require.NoError(t, svc.Execute(context.Background(), conv, fc, func(string) {}))
	assert.Equal(t, "partial\n\nTool failed.", fc.Content)
	assert.True(t, fc.Error)
	assert.Equal(t, chat.StatusCompleted, fc.Status)
}

func TestExecuteToolFailureEmptyContent(t *testing.T) {
	tools := map[string]*chat.Tool{
		"boom": {
			Name: "boom",
			Call: func(context.Context, *chat.Conversation, *chat.FunctionCall, chat.ProgressFunc) error {
				return errors.New("exploded")
			},
		},
	}
	svc := NewService()
	conv := chat.NewConversation("conversation-d", nil, tools)
	fc := chat.NewFunctionCall("c1", "boom", "{}", nil)

	require.NoError(t, svc.Execute(context.Background(), conv, fc, func(string) {}))
	assert.Equal(t, "Tool failed.", fc.Content)
}

func TestExecuteSuccess(t *testing.T) {
	var notes []string
	tools := map[string]*chat.Tool{
		"echo": {
			Name: "echo",
			Call: func(_ context.Context, _ *chat.Conversation, fc *chat.FunctionCall, yield chat.ProgressFunc) error {
				yield("executing")
				fc.Content = "hello"
				return nil
			},
		},
	}
	svc := NewService()
	conv := chat.NewConversation("conversation-e", nil, tools)
	fc := chat.NewFunctionCall("c1", "echo", "{}", nil)

	require.NoError(t, svc.Execute(context.Background(), conv, fc, func(note string) {
		notes = append(notes, note)
	}))
	assert.Equal(t, "hello", fc.Content)
	assert.False(t, fc.Error)
	assert.Equal(t, chat.StatusCompleted, fc.Status)
	assert.Equal(t, []string{"executing"}, notes)
}

func TestEnsureInitConcurrent(t *testing.T) {
	// One model turn can schedule several tool tasks at once, each
	// calling EnsureInit on its own goroutine.
	const tools = 64
	inits := make([]atomic.Int64, tools)
	set := make(map[string]*chat.Tool, tools)
	for i := range tools {
		counter := &inits[i]
		name := fmt.Sprintf("tool-%02d", i)
		set[name] = &chat.Tool{
			Name: name,
			Init: func(context.Context, *chat.Conversation) error {
				counter.Add(1)
				return nil
			},
		}
	}
	svc := NewService()
	conv := chat.NewConversation("conversation-g", nil, set)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.EnsureInit(context.Background(), conv))
		}()
	}
	wg.Wait()

	for i := range tools {
		assert.EqualValues(t, 1, inits[i].Load())
	}
}

func TestEnsureInitIdempotent(t *testing.T) {
	var inits int
	tools := map[string]*chat.Tool{
		"sandboxed": {
			Name: "sandboxed",
			Init: func(context.Context, *chat.Conversation) error {
				inits++
				return nil
			},
		},
	}
	svc := NewService()
	conv := chat.NewConversation("conversation-f", nil, tools)

	require.NoError(t, svc.EnsureInit(context.Background(), conv))
	require.NoError(t, svc.EnsureInit(context.Background(), conv))
	assert.Equal(t, 1, inits)
}

func TestToolsEarlierProviderWins(t *testing.T) {
	first := NewLocalProvider(&chat.Tool{Name: "ping", Title: "first"})
	second := NewLocalProvider(
		&chat.Tool{Name: "ping", Title: "second"},
		&chat.Tool{Name: "extra", Title: "extra"},
	)
	svc := NewService(first, second)

	tools := svc.Tools(context.Background())
	require.Len(t, tools, 2)
	assert.Equal(t, "first", tools["ping"].Title)
	assert.Equal(t, "extra", tools["extra"].Title)

	located, err := svc.LocateTool(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "first", located.Title)

	missing, err := svc.LocateTool(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
