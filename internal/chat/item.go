// Package chat holds the conversation data model shared by the provider
// adapters, the router and the tool layer: typed content items, exchanges
// and conversations.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// ItemStatus is the lifecycle state of a content item.
type ItemStatus string

const (
	StatusInProgress ItemStatus = "in_progress"
	StatusCompleted  ItemStatus = "completed"
	// Function calls additionally pass through executing and finished
	// while the tool layer runs them.
	StatusExecuting ItemStatus = "executing"
	StatusFinished  ItemStatus = "finished"
)

// ItemKind tags the content item variants.
type ItemKind string

const (
	KindMessage      ItemKind = "message"
	KindReasoning    ItemKind = "reasoning"
	KindFunctionCall ItemKind = "function_call"
)

// Item is the interface over the content item variants. Code deciding
// per-type behavior switches on the concrete type, never on strings.
type Item interface {
	ItemKind() ItemKind
	ItemKey() string
	// Serialize returns the wire shape sent to monitors.
	Serialize() map[string]any
}

// AssistantText is a streamed assistant message. Content is append-only
// while Status is in_progress.
type AssistantText struct {
	Content   string
	Status    ItemStatus
	Role      string
	Index     *int // content block locator used by index-addressed adapters
	Key       string
	CreatedAt time.Time
}

func NewAssistantText(content string, index *int) *AssistantText {
	return &AssistantText{
		Content:   content,
		Status:    StatusInProgress,
		Role:      "assistant",
		Index:     index,
		Key:       "message-" + uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
}

func (m *AssistantText) ItemKind() ItemKind { return KindMessage }
func (m *AssistantText) ItemKey() string    { return m.Key }

func (m *AssistantText) Serialize() map[string]any {
	return map[string]any{
		"key":        m.Key,
		"type":       "message",
		"created_at": m.CreatedAt.Format(time.RFC3339Nano),
		"status":     string(m.Status),
		"role":       m.Role,
		"content":    m.Content,
	}
}

// AssistantReasoning is a streamed reasoning ("thinking") block.
type AssistantReasoning struct {
	Content   string
	Status    ItemStatus
	Index     *int
	Key       string
	CreatedAt time.Time
}

func NewAssistantReasoning(content string, index *int) *AssistantReasoning {
	return &AssistantReasoning{
		Content:   content,
		Status:    StatusInProgress,
		Index:     index,
		Key:       "reasoning-" + uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
}

func (r *AssistantReasoning) ItemKind() ItemKind { return KindReasoning }
func (r *AssistantReasoning) ItemKey() string    { return r.Key }

func (r *AssistantReasoning) Serialize() map[string]any {
	return map[string]any{
		"key":        r.Key,
		"type":       "reasoning",
		"created_at": r.CreatedAt.Format(time.RFC3339Nano),
		"content":    r.Content,
		"status":     string(r.Status),
	}
}

// FunctionCall is a tool invocation requested by the model. Arguments may
// be syntactically invalid JSON mid-stream; Content accumulates the tool
// output once the call executes.
type FunctionCall struct {
	CallID    string
	Name      string
	Arguments string
	Status    ItemStatus
	Content   string
	Error     bool
	Index     *int
	Key       string
	CreatedAt time.Time
}

func NewFunctionCall(callID, name, arguments string, index *int) *FunctionCall {
	return &FunctionCall{
		CallID:    callID,
		Name:      name,
		Arguments: arguments,
		Status:    StatusInProgress,
		Index:     index,
		Key:       "fc-" + uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
}

func (f *FunctionCall) ItemKind() ItemKind { return KindFunctionCall }
func (f *FunctionCall) ItemKey() string    { return f.Key }

func (f *FunctionCall) Serialize() map[string]any {
	return map[string]any{
		"type":       "function_call",
		"key":        f.Key,
		"created_at": f.CreatedAt.Format(time.RFC3339Nano),
		"status":     string(f.Status),
		"name":       f.Name,
		"arguments":  f.Arguments,
		"content":    f.Content,
		"error":      f.Error,
	}
}

// UserMessage carries the user input and the model id that drives the turn.
type UserMessage struct {
	Role      string
	Content   string
	Model     string
	Key       string
	CreatedAt time.Time
}

func NewUserMessage(content, model string) *UserMessage {
	return &UserMessage{
		Role:      "user",
		Content:   content,
		Model:     model,
		Key:       "user-message-" + uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
}

func (u *UserMessage) ItemKind() ItemKind { return KindMessage }
func (u *UserMessage) ItemKey() string    { return u.Key }

func (u *UserMessage) Serialize() map[string]any {
	return map[string]any{
		"key":        u.Key,
		"type":       "message",
		"created_at": u.CreatedAt.Format(time.RFC3339Nano),
		"role":       u.Role,
		"content":    u.Content,
		"model":      u.Model,
	}
}

// IndexRef is a convenience for the adapters that address items by index.
func IndexRef(i int) *int { return &i }
