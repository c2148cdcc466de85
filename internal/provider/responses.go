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

// Responses is the OpenAI /v1/responses adapter. Every SSE record carries
// its type inside the data payload; items are tracked by output_index.
//
// https://platform.openai.com/docs/api-reference/responses-streaming
type Responses struct {
	base
}

func NewResponses(sink Sink, opts Options) *Responses {
	p := &Responses{base: newBase(sink, opts)}
	log.Info().Str("url", p.url).Str("type", p.Type()).Msg("Loaded provider")
	return p
}

func (p *Responses) Type() string { return "ResponsesAdapter" }

func (p *Responses) PrepareHeaders() http.Header { return p.bearerHeaders() }

type respTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type respRequest struct {
	Model        string     `json:"model"`
	Instructions string     `json:"instructions,omitempty"`
	Input        []any      `json:"input"`
	Stream       bool       `json:"stream"`
	Tools        []respTool `json:"tools,omitempty"`
}

func (p *Responses) buildRequest(conv *chat.Conversation, model string) respRequest {
	var input []any

	for _, ex := range conv.Exchanges() {
		for _, item := range ex.Items {
			switch it := item.(type) {
			case *chat.UserMessage:
				input = append(input, map[string]any{"role": "user", "content": it.Content})
			case *chat.AssistantText:
				input = append(input, map[string]any{"role": "assistant", "content": it.Content})
			case *chat.AssistantReasoning:
				// Not replayed.
			case *chat.FunctionCall:
				input = append(input, map[string]any{
					"type":      "function_call",
					"call_id":   it.CallID,
					"name":      it.Name,
					"arguments": it.Arguments,
				})
				input = append(input, map[string]any{
					"type":    "function_call_output",
					"call_id": it.CallID,
					"output":  it.Content,
				})
			}
		}
	}

	req := respRequest{
		Model:        model,
		Instructions: strings.Join(conv.Instructions(), "\n"),
		Input:        input,
		Stream:       true,
	}
	for _, tool := range conv.Tools() {
		req.Tools = append(req.Tools, respTool{
			Type:        "function",
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	return req
}

func (p *Responses) ChatRequest(ctx context.Context, conv *chat.Conversation, ex *chat.Exchange) error {
	model := conv.Model()
	if model == "" {
		return fmt.Errorf("conversation %s has no model set", conv.ID)
	}

	body, err := json.Marshal(p.buildRequest(conv, model))
	if err != nil {
		return fmt.Errorf("marshal responses request: %w", err)
	}

	log.Info().Str("conversation_id", conv.ID).Str("model", model).Str("provider", p.url).Msg("Sending request to LLM")

	headers := p.PrepareHeaders()
	measureTokens(ctx, p.sink, p.client, p.url, headers, body, conv)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"v1/responses", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("responses request: %w", err)
	}
	req.Header = headers

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("responses request: %w", err)
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
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var event respEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			log.Warn().Str("line", line).Err(err).Msg("Invalid JSON in SSE response")
			continue
		}
		if err := p.onEvent(ctx, conv, ex, event); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("conversation_id", conv.ID).Msg("LLM stream terminated")
	}
	return p.finalizeStream(ctx, conv, ex)
}

type respEvent struct {
	Type        string `json:"type"`
	OutputIndex int    `json:"output_index"`
	Delta       string `json:"delta"`
	Item        struct {
		Type      string `json:"type"`
		CallID    string `json:"call_id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"item"`
	Response struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"response"`
}

func (p *Responses) onEvent(ctx context.Context, conv *chat.Conversation, ex *chat.Exchange, event respEvent) error {
	switch event.Type {
	case "response.output_item.added":
		var item chat.Item
		switch event.Item.Type {
		case "message":
			item = chat.NewAssistantText("", chat.IndexRef(event.OutputIndex))
		case "reasoning":
			item = chat.NewAssistantReasoning("", chat.IndexRef(event.OutputIndex))
		case "function_call":
			item = chat.NewFunctionCall(event.Item.CallID, event.Item.Name, event.Item.Arguments, chat.IndexRef(event.OutputIndex))
		default:
			log.Warn().Str("type", event.Item.Type).Msg("Unknown output item type")
			return nil
		}
		ex.Append(item)
		return p.sink.SendUpdate(ctx, conv, chat.EventItemAppended(item))

	case "response.output_text.delta":
		item, ok := ex.ItemByIndex(event.OutputIndex).(*chat.AssistantText)
		if !ok {
			return fmt.Errorf("output_text.delta for unknown index %d", event.OutputIndex)
		}
		item.Content += event.Delta
		return p.sink.SendUpdate(ctx, conv, chat.EventItemDelta(item.Key, event.Delta))

	case "response.reasoning_text.delta", "response.reasoning_summary_text.delta":
		item, ok := ex.ItemByIndex(event.OutputIndex).(*chat.AssistantReasoning)
		if !ok {
			return fmt.Errorf("reasoning delta for unknown index %d", event.OutputIndex)
		}
		item.Content += event.Delta
		return p.sink.SendUpdate(ctx, conv, chat.EventItemDelta(item.Key, event.Delta))

	case "response.function_call_arguments.delta":
		item, ok := ex.ItemByIndex(event.OutputIndex).(*chat.FunctionCall)
		if !ok {
			return fmt.Errorf("function_call_arguments.delta for unknown index %d", event.OutputIndex)
		}
		item.Arguments += event.Delta
		return p.sink.SendUpdate(ctx, conv, chat.EventItemArgumentsDelta(item.Key, event.Delta))

	case "response.output_item.done":
		item := ex.ItemByIndex(event.OutputIndex)
		if item == nil {
			return fmt.Errorf("output_item.done for unknown index %d", event.OutputIndex)
		}
		switch it := item.(type) {
		case *chat.AssistantText:
			it.Status = chat.StatusCompleted
		case *chat.AssistantReasoning:
			it.Status = chat.StatusCompleted
		case *chat.FunctionCall:
			if event.Item.Arguments != "" {
				// The done record carries the authoritative arguments.
				it.Arguments = event.Item.Arguments
			}
			it.Status = chat.StatusCompleted
		}
		if err := p.sink.SendUpdate(ctx, conv, chat.EventItemUpdated(item)); err != nil {
			return err
		}
		if fc, ok := item.(*chat.FunctionCall); ok {
			p.sink.CreateFunctionCall(ctx, conv, ex, fc)
		}

	case "response.completed":
		if tokens := event.Response.Usage.InputTokens; tokens > 0 {
			return p.sink.SendUpdate(ctx, conv, chat.EventChatTokens(tokens, p.maxModelLen))
		}

	case "response.created", "response.in_progress", "response.content_part.added",
		"response.content_part.done", "response.output_text.done",
		"response.function_call_arguments.done":
		// Bookkeeping records with no item effect.

	default:
		log.Warn().Str("type", event.Type).Msg("Unknown SSE event")
	}
	return nil
}
