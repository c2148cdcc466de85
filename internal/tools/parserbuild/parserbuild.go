// Package parserbuild provides the parser-builder tool triplet: compile a
// Go log parser into the conversation sandbox, edit it with SEARCH/REPLACE
// blocks, and test it against the sample logs.
package parserbuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

// SandboxInitializer lazily creates the conversation sandbox.
type SandboxInitializer interface {
	InitSandbox(ctx context.Context, conv *chat.Conversation) error
}

// Config locates the target schema and the sample logs that seed every
// parser-builder conversation.
type Config struct {
	// SchemaPath is the field schema YAML copied into the sandbox.
	SchemaPath string
	// LogDir holds the sample .log files.
	LogDir string
}

// Builder carries the parser-builder state shared by the three tools.
type Builder struct {
	sandboxes SandboxInitializer
	config    Config
}

func New(sandboxes SandboxInitializer, config Config) *Builder {
	return &Builder{sandboxes: sandboxes, config: config}
}

// Tools returns the compile/edit/test triplet.
func (b *Builder) Tools() []*chat.Tool {
	return []*chat.Tool{b.compileTool(), b.editTool(), b.testTool()}
}

// schemaName is the schema file name inside the sandbox, /sandbox/<name>.
func (b *Builder) schemaName() string {
	return filepath.Base(b.config.SchemaPath)
}

// Init seeds the conversation for parser building: sandbox, the schema
// (appended to the instructions and copied into the sandbox) and the
// sample logs.
func (b *Builder) Init(ctx context.Context, conv *chat.Conversation) error {
	if err := b.sandboxes.InitSandbox(ctx, conv); err != nil {
		return err
	}
	sbPath := conv.Sandbox().Path()

	if err := os.MkdirAll(filepath.Join(sbPath, "log"), 0o755); err != nil {
		return err
	}

	raw, err := os.ReadFile(b.config.SchemaPath)
	if err != nil {
		return fmt.Errorf("parser schema: %w", err)
	}

	var schema map[string]any
	if err := yaml.Unmarshal(raw, &schema); err != nil {
		return fmt.Errorf("parser schema: %w", err)
	}

	// Internal fields are not a parser concern; hide them from the model.
	if fields, ok := schema["fields"].(map[string]any); ok {
		for name := range fields {
			if strings.HasPrefix(name, "lmio.") {
				delete(fields, name)
			}
		}
	}

	filtered, err := yaml.Marshal(schema)
	if err != nil {
		return fmt.Errorf("parser schema: %w", err)
	}
	conv.AppendInstructions("### Schema in YAML\n\n```\n" + string(filtered) + "\n```\n")

	if err := os.WriteFile(filepath.Join(sbPath, b.schemaName()), raw, 0o644); err != nil {
		return err
	}

	sampleLogs := "## Sample Logs\n"
	entries, err := os.ReadDir(b.config.LogDir)
	if err != nil {
		return fmt.Errorf("sample logs: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(b.config.LogDir, entry.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Cannot read sample log")
			continue
		}
		if err := os.WriteFile(filepath.Join(sbPath, "log", entry.Name()), content, 0o644); err != nil {
			return err
		}
		sampleLogs += fmt.Sprintf("log/%s:\n%s\n\n", entry.Name(), content)
	}
	conv.AppendInstructions(sampleLogs)

	return nil
}
