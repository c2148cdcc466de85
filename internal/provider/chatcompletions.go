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

// ChatCompletions is the OpenAI-style /v1/chat/completions adapter.
//
// https://platform.openai.com/docs/api-reference/chat/create
type ChatCompletions struct {
	base
}

func NewChatCompletions(sink Sink, opts Options) *ChatCompletions {
	p := &ChatCompletions{base: newBase(sink, opts)}
	log.Info().Str("url", p.url).Str("type", p.Type()).Msg("Loaded provider")
	return p
}

func (p *ChatCompletions) Type() string { return "ChatCompletionsAdapter" }

func (p *ChatCompletions) PrepareHeaders() http.Header { return p.bearerHeaders() }

type ccToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ccToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function ccToolCallFunction `json:"function"`
}

type ccMessage struct {
	Role       string       `json:"role"`
	Content    any          `json:"content"`
	ToolCalls  []ccToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
}

type ccTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type ccRequest struct {
	Model         string      `json:"model"`
	Messages      []ccMessage `json:"messages"`
	Stream        bool        `json:"stream"`
	StreamOptions struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options"`
	Tools []ccTool `json:"tools,omitempty"`
}

// chunk shapes; pointer fields distinguish "absent" from "empty".
type ccChunk struct {
	Choices []ccChoice `json:"choices"`
}

type ccChoice struct {
	Index        int     `json:"index"`
	Delta        ccDelta `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type ccDelta struct {
	Role      string        `json:"role"`
	Content   *string       `json:"content"`
	Reasoning *string       `json:"reasoning"`
	ToolCalls []ccCallDelta `json:"tool_calls"`
}

type ccCallDelta struct {
	Index    *int               `json:"index"`
	ID       string             `json:"id"`
	Function ccToolCallFunction `json:"function"`
}

func (p *ChatCompletions) buildRequest(conv *chat.Conversation, model string) ccRequest {
	var messages []ccMessage

	if instructions := conv.Instructions(); len(instructions) > 0 {
		messages = append(messages, ccMessage{
			Role:    "system",
			Content: strings.Join(instructions, "\n"),
		})
	}

	for _, ex := range conv.Exchanges() {
		for _, item := range ex.Items {
			switch it := item.(type) {
			case *chat.UserMessage:
				messages = append(messages, ccMessage{Role: "user", Content: it.Content})
			case *chat.AssistantText:
				messages = append(messages, ccMessage{Role: "assistant", Content: it.Content})
			case *chat.AssistantReasoning:
				// Reasoning is not representable in the chat
				// completions request; skip.
			case *chat.FunctionCall:
				messages = append(messages, ccMessage{
					Role:    "assistant",
					Content: nil,
					ToolCalls: []ccToolCall{{
						ID:   it.CallID,
						Type: "function",
						Function: ccToolCallFunction{
							Name:      it.Name,
							Arguments: it.Arguments,
						},
					}},
				})
				messages = append(messages, ccMessage{
					Role:       "tool",
					ToolCallID: it.CallID,
					Content:    it.Content,
				})
			}
		}
	}

	req := ccRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	req.StreamOptions.IncludeUsage = true

	for _, tool := range conv.Tools() {
		var t ccTool
		t.Type = "function"
		t.Function.Name = tool.Name
		t.Function.Description = tool.Description
		t.Function.Parameters = tool.Parameters
		req.Tools = append(req.Tools, t)
	}
	return req
}

func (p *ChatCompletions) ChatRequest(ctx context.Context, conv *chat.Conversation, ex *chat.Exchange) error {
	model := conv.Model()
	if model == "" {
		return fmt.Errorf("conversation %s has no model set", conv.ID)
	}

	body, err := json.Marshal(p.buildRequest(conv, model))
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}

	log.Info().Str("conversation_id", conv.ID).Str("model", model).Str("provider", p.url).Msg("Sending request to LLM")

	headers := p.PrepareHeaders()
	measureTokens(ctx, p.sink, p.client, p.url, headers, body, conv)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chat request: %w", err)
	}
	req.Header = headers

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
		log.Error().Int("status", resp.StatusCode).Str("text", string(text)).Msg("Error when sending request to LLM chat provider")
		return nil
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return p.finalizeStream(ctx, conv, ex)
		}

		var chunk ccChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Warn().Str("line", line).Err(err).Msg("Invalid JSON in SSE response")
			continue
		}
		if err := p.onChunk(ctx, conv, ex, chunk); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("conversation_id", conv.ID).Msg("LLM stream terminated")
	}

	// Connection closed without [DONE]; recover partial items.
	return p.finalizeStream(ctx, conv, ex)
}

func (p *ChatCompletions) onChunk(ctx context.Context, conv *chat.Conversation, ex *chat.Exchange, chunk ccChunk) error {
	if len(chunk.Choices) == 0 {
		// Usage-only chunk from stream_options.include_usage.
		return nil
	}

	choice := chunk.Choices[0]
	delta := choice.Delta

	// A bare assistant role with no content is the stream initialization
	// signal; nothing to record yet.

	if delta.Content != nil {
		// A text delta ends any reasoning phase.
		if reasoning := ex.LastReasoning(chat.StatusInProgress); reasoning != nil {
			reasoning.Status = chat.StatusCompleted
			if err := p.sink.SendUpdate(ctx, conv, chat.EventItemUpdated(reasoning)); err != nil {
				return err
			}
		}

		item := ex.LastAssistantText(chat.StatusInProgress)
		if item == nil {
			item = chat.NewAssistantText("", nil)
			ex.Append(item)
			if err := p.sink.SendUpdate(ctx, conv, chat.EventItemAppended(item)); err != nil {
				return err
			}
		}
		item.Content += *delta.Content
		if err := p.sink.SendUpdate(ctx, conv, chat.EventItemDelta(item.Key, *delta.Content)); err != nil {
			return err
		}
	}

	if delta.Reasoning != nil {
		item := ex.LastReasoning(chat.StatusInProgress)
		if item == nil {
			item = chat.NewAssistantReasoning("", nil)
			ex.Append(item)
			if err := p.sink.SendUpdate(ctx, conv, chat.EventItemAppended(item)); err != nil {
				return err
			}
		}
		item.Content += *delta.Reasoning
		if err := p.sink.SendUpdate(ctx, conv, chat.EventItemDelta(item.Key, *delta.Reasoning)); err != nil {
			return err
		}
	}

	for _, callDelta := range delta.ToolCalls {
		if callDelta.Index == nil {
			return fmt.Errorf("tool call delta without index")
		}
		item, err := ex.FunctionCallByIndex(*callDelta.Index)
		if err != nil {
			return err
		}
		if item == nil {
			item = chat.NewFunctionCall(callDelta.ID, callDelta.Function.Name, callDelta.Function.Arguments, callDelta.Index)
			ex.Append(item)
			if err := p.sink.SendUpdate(ctx, conv, chat.EventItemAppended(item)); err != nil {
				return err
			}
		} else if callDelta.Function.Arguments != "" {
			if choice.FinishReason != nil {
				// Some providers emit the complete arguments only
				// in the terminal chunk; take them verbatim.
				item.Arguments = callDelta.Function.Arguments
			} else {
				item.Arguments += callDelta.Function.Arguments
			}
		}
		if callDelta.Function.Arguments != "" {
			if err := p.sink.SendUpdate(ctx, conv, chat.EventItemArgumentsDelta(item.Key, callDelta.Function.Arguments)); err != nil {
				return err
			}
		}
	}

	if choice.FinishReason == nil {
		return nil
	}

	switch *choice.FinishReason {
	case "stop":
		if item := ex.LastAssistantText(chat.StatusInProgress); item != nil {
			item.Status = chat.StatusCompleted
			if err := p.sink.SendUpdate(ctx, conv, chat.EventItemUpdated(item)); err != nil {
				return err
			}
		}

	case "tool_calls":
		item, err := ex.FunctionCallByIndex(choice.Index)
		if err != nil {
			return err
		}
		if item == nil {
			return fmt.Errorf("finish_reason=tool_calls for unknown index %d", choice.Index)
		}
		item.Status = chat.StatusCompleted
		if err := p.sink.SendUpdate(ctx, conv, chat.EventItemUpdated(item)); err != nil {
			return err
		}
		p.sink.CreateFunctionCall(ctx, conv, ex, item)

	default:
		log.Warn().Str("finish_reason", *choice.FinishReason).Msg("Unhandled finish reason")
	}
	return nil
}
