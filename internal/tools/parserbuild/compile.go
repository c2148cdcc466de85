package parserbuild

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
	"github.com/TeskaLabs/llm-microlink/internal/tools/subproc"
)

//go:embed scaffold/*.tmpl
var scaffoldFS embed.FS

const compileDescription = `This tool compiles the parser written in Go.
The tool will return the result of the compilation, stdout and stderr of the Go compiler.

The Go code is a single file that defines Parse function as follows:
` + "```" + `
package main

func Parse(log []byte) map[string]interface{} {
	output := map[string]interface{}{}
	// Implement the parser here
	return output
}
` + "```" + `

The main function will be provided by the tool call itself, don't implement it.
`

func (b *Builder) compileTool() *chat.Tool {
	return &chat.Tool{
		Name:        "compile_parser",
		Title:       "Compile a parser in Go language",
		Description: compileDescription,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "The Go code of the parser",
				},
			},
			"required": []any{"code"},
		},
		Call: b.compile,
		Init: b.Init,
	}
}

func (b *Builder) compile(ctx context.Context, conv *chat.Conversation, fc *chat.FunctionCall, yield chat.ProgressFunc) error {
	yield("validating")

	var arguments struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal([]byte(fc.Arguments), &arguments); err != nil {
		log.Error().Err(err).Str("arguments", fc.Arguments).Msg("Exception occurred while parsing arguments")
		fc.Content = "Exception occurred while parsing arguments."
		fc.Error = true
		return nil
	}
	if arguments.Code == "" {
		fc.Content = "Parameter 'code' is required"
		fc.Error = true
		return nil
	}

	sb := conv.Sandbox()
	if sb == nil {
		return fmt.Errorf("sandbox is not initialized")
	}
	dir := filepath.Join(sb.Path(), "parser")

	if err := writeScaffold(dir); err != nil {
		log.Error().Err(err).Msg("Exception occurred while writing parser code")
		fc.Content = "Exception occurred while writing parser code"
		fc.Error = true
		return nil
	}
	if err := os.WriteFile(filepath.Join(dir, "parse.go"), []byte(arguments.Code), 0o644); err != nil {
		log.Error().Err(err).Msg("Exception occurred while writing parser code")
		fc.Content = "Exception occurred while writing parser code"
		fc.Error = true
		return nil
	}

	return b.buildParser(ctx, dir, fc, yield)
}

// buildParser runs go mod tidy and go build in the parser directory,
// streaming compiler output into the function call.
func (b *Builder) buildParser(ctx context.Context, dir string, fc *chat.FunctionCall, yield chat.ProgressFunc) error {
	yield("tidying")

	code, err := subproc.Run(ctx, []string{"go", "mod", "tidy"}, dir, fc, yield)
	if handled := handleGoError(err, fc); handled || err != nil {
		return err
	}
	if code != 0 {
		fc.Content += fmt.Sprintf("\nTidying failed with return code: %d", code)
		fc.Error = true
		return nil
	}

	yield("compiling")

	code, err = subproc.Run(ctx, []string{"go", "build", "-o", "parse", "."}, dir, fc, yield)
	if handled := handleGoError(err, fc); handled || err != nil {
		return err
	}
	if code != 0 {
		fc.Content += fmt.Sprintf("\nCompilation failed with return code: %d", code)
		fc.Error = true
		return nil
	}

	fc.Content += "\nCompilation successful."
	return nil
}

// handleGoError turns a missing go toolchain into tool output instead of
// a task failure. Reports whether the error was absorbed.
func handleGoError(err error, fc *chat.FunctionCall) bool {
	if errors.Is(err, subproc.ErrNotFound) {
		log.Warn().Msg("go compiler not found on this system")
		fc.Content = "A command 'go compiler' was not found on this system"
		fc.Error = true
		return true
	}
	return false
}

// writeScaffold lays down the fixed parser harness (main, validation,
// go.mod) around the model-provided parse.go.
func writeScaffold(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	entries, err := fs.ReadDir(scaffoldFS, "scaffold")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		content, err := fs.ReadFile(scaffoldFS, "scaffold/"+entry.Name())
		if err != nil {
			return err
		}
		// Scaffold files carry a .tmpl suffix so the toolchain does not
		// treat them as part of this module.
		name := strings.TrimSuffix(entry.Name(), ".tmpl")
		if name == "gomod" {
			name = "go.mod"
		}
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			return err
		}
	}
	return nil
}
