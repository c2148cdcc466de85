package parserbuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

func (b *Builder) testTool() *chat.Tool {
	return &chat.Tool{
		Name:  "test_parser",
		Title: "Test a parser",
		Description: `This tool tests a parser on all available log files.
The tool will return the result of the test, stdout and stderr of the test.
`,
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
			"required":   []any{},
		},
		Call: b.test,
		Init: b.Init,
	}
}

// test runs the compiled parser inside the sandbox against every sample
// log, one section of output per file.
func (b *Builder) test(ctx context.Context, conv *chat.Conversation, fc *chat.FunctionCall, yield chat.ProgressFunc) error {
	sb := conv.Sandbox()
	if sb == nil {
		return fmt.Errorf("sandbox is not initialized")
	}

	entries, err := os.ReadDir(filepath.Join(sb.Path(), "log"))
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".log") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		fc.Content += fmt.Sprintf("Test of `/sandbox/log/%s`:\n", name)
		yield("testing")

		cmd := []string{"/sandbox/parser/parse", "/sandbox/log/" + name, "/sandbox/" + b.schemaName()}
		events, err := sb.Execute(ctx, cmd, "")
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
			fc.Content += fmt.Sprintf("\nTest failed with return code: %d", returnCode)
		} else {
			fc.Content += "\nTest completed successfully."
		}
		fc.Content += "\n---\n"
	}

	yield("completed")
	return nil
}
