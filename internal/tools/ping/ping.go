// Package ping provides the demo tool that pings a host from the server
// and returns the textual result.
package ping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
	"github.com/TeskaLabs/llm-microlink/internal/tools/subproc"
)

func Tool() *chat.Tool {
	return &chat.Tool{
		Name:        "ping",
		Title:       "Ping a host",
		Description: "Invoke a command-line ping tool with provided target host or service, return the textual result of the ping.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"target": map[string]any{
					"type":        "string",
					"description": "The host name or IP address to ping",
				},
			},
			"required": []any{"target"},
		},
		Call: call,
	}
}

func call(ctx context.Context, _ *chat.Conversation, fc *chat.FunctionCall, yield chat.ProgressFunc) error {
	yield("validating")

	var arguments struct {
		Target string `json:"target"`
	}
	if err := json.Unmarshal([]byte(fc.Arguments), &arguments); err != nil {
		log.Error().Err(err).Str("arguments", fc.Arguments).Msg("Exception occurred while parsing arguments")
		fc.Content = "Exception occurred while parsing arguments."
		fc.Error = true
		return nil
	}
	if arguments.Target == "" {
		fc.Content = "Parameter 'target' is required"
		fc.Error = true
		return nil
	}

	yield("executing")

	code, err := subproc.Run(ctx, []string{"ping", "-c", "4", arguments.Target}, "", fc, yield)
	if errors.Is(err, subproc.ErrNotFound) {
		fc.Content = "A command 'ping' was not found on this system"
		fc.Error = true
		return nil
	}
	if err != nil {
		return err
	}

	if code != 0 {
		fc.Content += fmt.Sprintf("\nPing failed with return code: %d", code)
		fc.Error = true
	} else {
		fc.Content += "\nTool execution completed successfully."
	}

	yield("completed")
	return nil
}
