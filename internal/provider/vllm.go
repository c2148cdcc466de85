package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// NewFromVLLM probes a vLLM endpoint, which serves exactly one model, and
// picks the adapter dialect that model speaks best. Unknown models fall
// back to the chat-completions adapter, which vLLM always serves.
func NewFromVLLM(ctx context.Context, sink Sink, opts Options) (ChatProvider, error) {
	models, err := GetModels(ctx, &http.Client{}, opts.URL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("vllm model probe: %w", err)
	}
	if len(models) != 1 {
		return nil, fmt.Errorf("vllm endpoint %s serves %d models, expected exactly one", opts.URL, len(models))
	}

	switch models[0].ID {
	case "stepfun-ai/Step-3.5-Flash", "stepfun-ai/Step-3.5-Flash-FP8",
		"openai/gpt-oss-120b", "openai/gpt-oss-20b":
		return NewResponses(sink, opts), nil
	case "arcee-ai/Trinity-Large-Preview-FP8",
		"mistralai/Devstral-2-123B-Instruct-2512",
		"MiniMaxAI/MiniMax-M2.5":
		return NewChatCompletions(sink, opts), nil
	default:
		log.Warn().Str("model_id", models[0].ID).Msg("Unknown vLLM model, using chat-completions adapter")
		return NewChatCompletions(sink, opts), nil
	}
}
