// Package busybox provides the shell tool: commands run inside the
// conversation's sandbox container with /sandbox as the persistent
// directory.
package busybox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

// SandboxInitializer lazily creates the conversation sandbox.
type SandboxInitializer interface {
	InitSandbox(ctx context.Context, conv *chat.Conversation) error
}

const description = `Execute a shell command using busybox and return the stdout and stderr of the command.
The command is executed in a sandboxed environment with busybox installed.
Use this tool to ie list or read files in the sandbox.
If the user is reffering to files, use this tool to access them.
You can provide an optional stdin input to the command.
The persistent directory is /sandbox, you can use it to store files; other directories are not persistent.
Example:
` + "```" + `
{
	"command": "cat > hi.txt",
	"stdin": "Hello, world!"
}
` + "```"

func New(sandboxes SandboxInitializer) *chat.Tool {
	return &chat.Tool{
		Name:        "busybox",
		Title:       "Execute a Shell command using busybox",
		Description: description,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The shell command to execute",
				},
				"stdin": map[string]any{
					"type":        "string",
					"description": "Optional stdin input to the command",
				},
			},
			"required": []any{"command"},
		},
		Call: call,
		Init: sandboxes.InitSandbox,
	}
}

func call(ctx context.Context, conv *chat.Conversation, fc *chat.FunctionCall, yield chat.ProgressFunc) error {
	yield("validating")

	var arguments struct {
		Command string `json:"command"`
		Stdin   string `json:"stdin"`
	}
	if err := json.Unmarshal([]byte(fc.Arguments), &arguments); err != nil {
		log.Error().Err(err).Str("arguments", fc.Arguments).Msg("Exception occurred while parsing arguments")
		fc.Content = "Exception occurred while parsing arguments."
		fc.Error = true
		return nil
	}
	if arguments.Command == "" {
		fc.Content = "Parameter 'command' is required"
		fc.Error = true
		return nil
	}

	sb := conv.Sandbox()
	if sb == nil {
		return fmt.Errorf("sandbox is not initialized")
	}

	yield("executing")

	events, err := sb.Execute(ctx, []string{"sh", "-c", arguments.Command}, arguments.Stdin)
	if err != nil {
		return err
	}

	returnCode := -1
	for event := range events {
		switch event.Stream {
		case chat.ExecStdout, chat.ExecStderr:
			fc.Content += event.Text
		case chat.ExecReturnCode:
			returnCode = event.Code
		}
		yield("progress")
	}

	if returnCode != 0 {
		fc.Content += fmt.Sprintf("\nBusybox command failed with return code: %d", returnCode)
		fc.Error = true
	} else {
		fc.Content += "\nTool execution completed successfully."
	}

	yield("completed")
	return nil
}
