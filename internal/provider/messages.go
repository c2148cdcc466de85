package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

// Messages is the Anthropic-style /v1/messages adapter.
//
// https://docs.anthropic.com/en/api/messages-streaming
type Messages struct {
	base
}

func NewMessages(sink Sink, opts Options) *Messages {
	p := &Messages{base: newBase(sink, opts)}
	log.Info().Str("url", p.url).Str("type", p.Type()).Msg("Loaded provider")
	return p
}

func (p *Messages) Type() string { return "MessagesAdapter" }

func (p *Messages) PrepareHeaders() http.Header {
	if strings.Contains(p.url, "anthropic.com") {
		h := http.Header{}
		h.Set("Content-Type", "application/json")
		h.Set("X-Api-Key", p.apiKey)
		h.Set("anthropic-version", "2023-06-01")
		return h
	}
	return p.bearerHeaders()
}

type msgContentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type msgMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type msgTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type msgRequest struct {
	Model     string       `json:"model"`
	System    string       `json:"system,omitempty"`
	Messages  []msgMessage `json:"messages"`
	MaxTokens int          `json:"max_tokens"`
	Stream    bool         `json:"stream"`
	Thinking  struct {
		Type         string `json:"type"`
		BudgetTokens int    `json:"budget_tokens"`
	} `json:"thinking"`
	Tools []msgTool `json:"tools,omitempty"`
}

func (p *Messages) buildRequest(conv *chat.Conversation, model string) msgRequest {
	var messages []msgMessage

	for _, ex := range conv.Exchanges() {
		for _, item := range ex.Items {
			switch it := item.(type) {
			case *chat.UserMessage:
				messages = append(messages, msgMessage{Role: "user", Content: it.Content})
			case *chat.AssistantText:
				messages = append(messages, msgMessage{Role: "assistant", Content: it.Content})
			case *chat.AssistantReasoning:
				// Not replayed.
			case *chat.FunctionCall:
				input := map[string]any{}
				if it.Arguments != "" {
					if err := json.Unmarshal([]byte(it.Arguments), &input); err != nil {
						input = map[string]any{}
					}
				}
				messages = append(messages, msgMessage{
					Role: "assistant",
					Content: []msgContentBlock{{
						Type:  "tool_use",
						ID:    it.CallID,
						Name:  it.Name,
						Input: input,
					}},
				})
				messages = append(messages, msgMessage{
					Role: "user",
					Content: []msgContentBlock{{
						Type:      "tool_result",
						ToolUseID: it.CallID,
						Content:   it.Content,
					}},
				})
			}
		}
	}

	req := msgRequest{
		Model:     model,
		System:    strings.Join(conv.Instructions(), "\n"),
		Messages:  messages,
		MaxTokens: 40 * 1024,
		Stream:    true,
	}
	req.Thinking.Type = "enabled"
	req.Thinking.BudgetTokens = 10000

	for _, tool := range conv.Tools() {
		req.Tools = append(req.Tools, msgTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}
	return req
}

func (p *Messages) ChatRequest(ctx context.Context, conv *chat.Conversation, ex *chat.Exchange) error {
	model := conv.Model()
	if model == "" {
		return fmt.Errorf("conversation %s has no model set", conv.ID)
	}

	body, err := json.Marshal(p.buildRequest(conv, model))
	if err != nil {
		return fmt.Errorf("marshal messages request: %w", err)
	}

	log.Info().Str("conversation_id", conv.ID).Str("model", model).Str("provider", p.url).Msg("Sending request to LLM")

	headers := p.PrepareHeaders()
	if p.maxModelLen == 0 {
		// Without a configured context window the chat.tokens event would
		// report token_max:0 anyway; only probe when it is meaningful.
		measureTokens(ctx, p.sink, p.client, p.url, headers, body, conv)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("messages request: %w", err)
	}
	req.Header = headers

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("messages request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
		log.Error().Int("status", resp.StatusCode).Str("text", string(text)).Msg("Error when sending request to LLM chat provider")
		return nil
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			var payload msgEvent
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				log.Warn().Str("line", line).Err(err).Msg("Invalid JSON in SSE response")
				continue
			}
			if err := p.onEvent(ctx, conv, ex, event, payload); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("conversation_id", conv.ID).Msg("LLM stream terminated")
	}

	// Abrupt close without message_stop; recover partial items.
	return p.finalizeStream(ctx, conv, ex)
}

type msgUsage struct {
	InputTokens int `json:"input_tokens"`
}

type msgEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message struct {
		Usage msgUsage `json:"usage"`
	} `json:"message"`
	Usage        *msgUsage `json:"usage"`
	ContentBlock struct {
		Type  string `json:"type"`
		Text  string `json:"text"`
		ID    string `json:"id"`
		Name  string `json:"name"`
		Input any    `json:"input"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Messages) onEvent(ctx context.Context, conv *chat.Conversation, ex *chat.Exchange, event string, payload msgEvent) error {
	switch event {
	case "message_start":
		if tokens := payload.Message.Usage.InputTokens; tokens > 0 {
			return p.sink.SendUpdate(ctx, conv, chat.EventChatTokens(tokens, p.maxModelLen))
		}

	case "message_delta":
		if payload.Usage != nil && payload.Usage.InputTokens > 0 {
			return p.sink.SendUpdate(ctx, conv, chat.EventChatTokens(payload.Usage.InputTokens, p.maxModelLen))
		}

	case "message_stop":
		// Stream will close on its own.

	case "content_block_start":
		var item chat.Item
		switch payload.ContentBlock.Type {
		case "text":
			item = chat.NewAssistantText(payload.ContentBlock.Text, chat.IndexRef(payload.Index))
		case "thinking":
			item = chat.NewAssistantReasoning("", chat.IndexRef(payload.Index))
		case "tool_use":
			item = chat.NewFunctionCall(payload.ContentBlock.ID, payload.ContentBlock.Name, "", chat.IndexRef(payload.Index))
		default:
			log.Warn().Str("type", payload.ContentBlock.Type).Msg("Unknown content block type")
			return nil
		}
		ex.Append(item)
		return p.sink.SendUpdate(ctx, conv, chat.EventItemAppended(item))

	case "content_block_delta":
		item := ex.ItemByIndex(payload.Index)
		if item == nil {
			return fmt.Errorf("content_block_delta for unknown index %d", payload.Index)
		}
		switch it := item.(type) {
		case *chat.AssistantText:
			it.Content += payload.Delta.Text
			return p.sink.SendUpdate(ctx, conv, chat.EventItemDelta(it.Key, payload.Delta.Text))
		case *chat.AssistantReasoning:
			it.Content += payload.Delta.Thinking
			return p.sink.SendUpdate(ctx, conv, chat.EventItemDelta(it.Key, payload.Delta.Thinking))
		case *chat.FunctionCall:
			// Argument deltas are internal; the complete arguments go
			// out with the closing item.updated.
			it.Arguments += payload.Delta.PartialJSON
		}

	case "content_block_stop":
		item := ex.ItemByIndex(payload.Index)
		if item == nil {
			return fmt.Errorf("content_block_stop for unknown index %d", payload.Index)
		}
		switch it := item.(type) {
		case *chat.AssistantText:
			it.Status = chat.StatusCompleted
		case *chat.AssistantReasoning:
			it.Status = chat.StatusCompleted
		case *chat.FunctionCall:
			it.Status = chat.StatusCompleted
		}
		if err := p.sink.SendUpdate(ctx, conv, chat.EventItemUpdated(item)); err != nil {
			return err
		}
		if fc, ok := item.(*chat.FunctionCall); ok {
			p.sink.CreateFunctionCall(ctx, conv, ex, fc)
		}

	case "ping":
		// Keepalive.

	case "error":
		log.Error().Str("error_type", payload.Error.Type).Str("message", payload.Error.Message).Msg("LLM stream error")

	default:
		log.Warn().Str("event", event).Msg("Unknown SSE event")
	}
	return nil
}
