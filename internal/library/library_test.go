package library

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLibrary(t *testing.T, files map[string]string) *Service {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	s, err := NewService(root)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReadAndRender(t *testing.T) {
	s := newTestLibrary(t, map[string]string{
		"AI/Prompts/default.md": "You are a helpful assistant.",
		"AI/Prompts/greet.md":   "Hello {{.name}}, welcome to {{.place}}!",
	})

	raw, err := s.Read("/AI/Prompts/default.md")
	require.NoError(t, err)
	assert.Equal(t, "You are a helpful assistant.", string(raw))

	_, err = s.Read("/AI/Prompts/missing.md")
	require.ErrorIs(t, err, os.ErrNotExist)

	rendered, err := s.Render("/AI/Prompts/greet.md", map[string]any{"name": "Ana", "place": "Pilsen"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ana, welcome to Pilsen!", rendered)

	// Unset parameters render as zero values, not errors.
	rendered, err = s.Render("/AI/Prompts/greet.md", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello <no value>, welcome to <no value>!", rendered)
}

func TestDefaultInstructions(t *testing.T) {
	s := newTestLibrary(t, map[string]string{
		"AI/Prompts/default.md": "Be concise.",
	})

	instructions, err := s.DefaultInstructions()
	require.NoError(t, err)
	assert.Equal(t, []string{"Be concise."}, instructions)
}

func TestLoadSkill(t *testing.T) {
	s := newTestLibrary(t, map[string]string{
		"AI/Prompts/default.md": "Be concise.",
		"AI/Skill/parser/index.yaml": "instructions:\n" +
			"  - \"You build log parsers.\"\n" +
			"  - \"+details.md\"\n" +
			"  - \"+missing.md\"\n" +
			"tools:\n" +
			"  compile_parser:\n" +
			"    title: \"Compile a parser\"\n" +
			"    description: \"Compiles parser source.\"\n" +
			"    parameters:\n" +
			"      type: object\n",
		"AI/Skill/parser/details.md": "Target schema: {{.schema}}\n+shared.md",
		"AI/Skill/parser/shared.md":  "Shared conventions apply.",
	})

	skill, err := s.LoadSkill("/AI/Skill/parser", map[string]any{"schema": "ecs"})
	require.NoError(t, err)

	// Unresolvable "+" references are dropped with a warning.
	require.Len(t, skill.Instructions, 2)
	assert.Equal(t, "You build log parsers.", skill.Instructions[0])
	// Nested "+" lines expand recursively and params substitute.
	assert.Equal(t, "Target schema: ecs\nShared conventions apply.", skill.Instructions[1])

	require.Contains(t, skill.Tools, "compile_parser")
	assert.Equal(t, "Compile a parser", skill.Tools["compile_parser"].Title)
	assert.Equal(t, "object", skill.Tools["compile_parser"].Parameters["type"])
}

func TestLoadSkillMissing(t *testing.T) {
	s := newTestLibrary(t, map[string]string{
		"AI/Prompts/default.md": "Be concise.",
	})

	_, err := s.LoadSkill("/AI/Skill/nope", nil)
	require.Error(t, err)
}

func TestSearch(t *testing.T) {
	s := newTestLibrary(t, map[string]string{
		"AI/Prompts/default.md": "You are a helpful assistant.",
		"AI/Prompts/parser.md":  "Guidance for building log parsers with schemas.",
		"AI/Prompts/ping.md":    "How to diagnose network reachability.",
	})

	results, err := s.Search("parsers", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "/AI/Prompts/parser.md", results[0].Path)

	results, err = s.Search("reachability", 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "/AI/Prompts/ping.md", results[0].Path)
}
