package parserbuild

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

// SEARCH/REPLACE block delimiters, each on its own line.
const (
	editSearchMark  = "⏪"
	editDivideMark  = "⏸️"
	editReplaceMark = "⏩"
)

const editDescription = "Edits the parser source file (`parse.go`) using SEARCH/REPLACE blocks and recompiles it.\n" +
	`Returns the compiler stdout and stderr.

The ` + "`edit`" + ` parameter contains one or more SEARCH/REPLACE blocks formatted as:

⏪
<exact lines from the current source to match>
⏸️
<replacement lines>
⏩

Rules:
- Each delimiter (⏪ ⏸️ ⏩) must be on its own line.
- The SEARCH section must exactly match the existing source, including whitespace and comments.
- Only the first occurrence of each SEARCH match is replaced.
- Include enough surrounding context in the SEARCH section to ensure a unique match.
- If the SEARCH section does not match any part of the source, the edit will fail with an error.

Example:

⏪
func Parse(log []byte) map[string]interface{} {
	output := map[string]interface{}{}
	return output
}
⏸️
func Parse(log []byte) map[string]interface{} {
	output := map[string]interface{}{}
	output["message"] = string(log)
	return output
}
⏩`

func (b *Builder) editTool() *chat.Tool {
	return &chat.Tool{
		Name:        "edit_parser",
		Title:       "Edit a parser in Go language",
		Description: editDescription,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"edit": map[string]any{
					"type":        "string",
					"description": "SEARCH/REPLACE blocks, one or more",
				},
			},
			"required": []any{"edit"},
		},
		Call: b.edit,
		Init: b.Init,
	}
}

func (b *Builder) edit(ctx context.Context, conv *chat.Conversation, fc *chat.FunctionCall, yield chat.ProgressFunc) error {
	yield("validating")

	var arguments struct {
		Edit string `json:"edit"`
	}
	if err := json.Unmarshal([]byte(fc.Arguments), &arguments); err != nil {
		log.Error().Err(err).Str("arguments", fc.Arguments).Msg("Exception occurred while parsing arguments")
		fc.Content = "Exception occurred while parsing arguments."
		fc.Error = true
		return nil
	}
	if arguments.Edit == "" {
		fc.Content = "Parameter 'edit' is required"
		fc.Error = true
		return nil
	}

	sb := conv.Sandbox()
	if sb == nil {
		return fmt.Errorf("sandbox is not initialized")
	}
	dir := filepath.Join(sb.Path(), "parser")
	sourcePath := filepath.Join(dir, "parse.go")

	source, err := os.ReadFile(sourcePath)
	if err != nil {
		fc.Content = "The parser source does not exist, compile a parser first."
		fc.Error = true
		return nil
	}

	blocks, err := parseEditBlocks(arguments.Edit)
	if err != nil {
		fc.Content = "Edit failed: " + err.Error()
		fc.Error = true
		return nil
	}

	edited := string(source)
	for _, block := range blocks {
		if !strings.Contains(edited, block.search) {
			fc.Content = "Edit failed: the SEARCH section does not match any part of the source:\n" + block.search
			fc.Error = true
			return nil
		}
		edited = strings.Replace(edited, block.search, block.replace, 1)
	}

	if err := os.WriteFile(sourcePath, []byte(edited), 0o644); err != nil {
		log.Error().Err(err).Msg("Exception occurred while writing parser code")
		fc.Content = "Exception occurred while writing parser code"
		fc.Error = true
		return nil
	}

	return b.buildParser(ctx, dir, fc, yield)
}

type editBlock struct {
	search  string
	replace string
}

// parseEditBlocks splits the edit text into SEARCH/REPLACE blocks. The
// delimiters must each sit on their own line.
func parseEditBlocks(edit string) ([]editBlock, error) {
	var blocks []editBlock

	const (
		outside = iota
		inSearch
		inReplace
	)
	state := outside
	var search, replace []string

	for _, line := range strings.Split(edit, "\n") {
		switch strings.TrimSpace(line) {
		case editSearchMark:
			if state != outside {
				return nil, fmt.Errorf("unexpected %s delimiter", editSearchMark)
			}
			state = inSearch
			search = search[:0]
			replace = replace[:0]
		case editDivideMark:
			if state != inSearch {
				return nil, fmt.Errorf("unexpected %s delimiter", editDivideMark)
			}
			state = inReplace
		case editReplaceMark:
			if state != inReplace {
				return nil, fmt.Errorf("unexpected %s delimiter", editReplaceMark)
			}
			blocks = append(blocks, editBlock{
				search:  strings.Join(search, "\n"),
				replace: strings.Join(replace, "\n"),
			})
			state = outside
		default:
			switch state {
			case inSearch:
				search = append(search, line)
			case inReplace:
				replace = append(replace, line)
			}
		}
	}

	if state != outside {
		return nil, fmt.Errorf("unterminated SEARCH/REPLACE block")
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no SEARCH/REPLACE blocks found")
	}
	return blocks, nil
}
