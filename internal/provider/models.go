package provider

import (
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

// Model is one entry of a /v1/models listing.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// GetModels lists the models of one endpoint. The /v1/models call works
// with vLLM, OpenAI, Anthropic and most self-hosted gateways.
func GetModels(ctx context.Context, client *http.Client, baseURL string, headers http.Header) ([]Model, error) {
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimRight(baseURL, "/") + "/v1/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("models request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("models request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusUnauthorized {
			log.Warn().Str("url", url).Str("response", string(body)).Msg("Unauthorized access to LLM chat provider")
			return nil, nil
		}
		return nil, fmt.Errorf("models request: status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Data []Model `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("models response: %w", err)
	}

	models := payload.Data
	if strings.HasPrefix(baseURL, "https://api.openai.com") {
		// OpenAI lists many models that are not directly usable for
		// chat; keep only their own.
		filtered := models[:0]
		for _, m := range models {
			if m.OwnedBy == "openai" {
				filtered = append(filtered, m)
			}
		}
		models = filtered
	}
	return models, nil
}

// measureTokens probes the vLLM tokenize endpoint with the prepared chat
// request body and emits a chat.tokens event on success. Failure is
// silent; some endpoints do not implement tokenize.
func measureTokens(ctx context.Context, sink Sink, client *http.Client, baseURL string, headers http.Header, body []byte, conv *chat.Conversation) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"tokenize", bytes.NewReader(body))
	if err != nil {
		return
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	var payload struct {
		Count       int `json:"count"`
		MaxModelLen int `json:"max_model_len"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return
	}
	if err := sink.SendUpdate(ctx, conv, chat.EventChatTokens(payload.Count, payload.MaxModelLen)); err != nil {
		log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("Monitor failed on chat.tokens")
	}
}
