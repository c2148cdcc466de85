// Package library serves prompt templates, skill definitions and other
// static content from a directory tree. Content is full-text indexed and
// the index follows file changes.
package library

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultPromptPath holds the instructions every new conversation starts
// with.
const DefaultPromptPath = "/AI/Prompts/default.md"

// Service resolves library paths ("/AI/Prompts/..." etc.) against a root
// directory.
type Service struct {
	root    string
	index   *searchIndex
	watcher *watcher
}

func NewService(root string) (*Service, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("library root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("library root %s is not a directory", root)
	}

	s := &Service{root: root}

	s.index, err = newSearchIndex(root)
	if err != nil {
		return nil, fmt.Errorf("library index: %w", err)
	}

	s.watcher, err = newWatcher(root, s.index)
	if err != nil {
		log.Warn().Err(err).Str("root", root).Msg("Library watcher disabled")
	}

	log.Info().Str("root", root).Msg("Library loaded")
	return s, nil
}

// Close stops the watcher and releases the index.
func (s *Service) Close() error {
	if s.watcher != nil {
		s.watcher.close()
	}
	return s.index.close()
}

// resolve maps a library path to a filesystem path, refusing escapes from
// the root.
func (s *Service) resolve(item string) (string, error) {
	cleaned := filepath.Clean("/" + strings.TrimPrefix(item, "/"))
	full := filepath.Join(s.root, cleaned)
	if !strings.HasPrefix(full, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("library item %q escapes the library root", item)
	}
	return full, nil
}

// Read returns the raw content of one library item. Missing items return
// os.ErrNotExist.
func (s *Service) Read(item string) ([]byte, error) {
	full, err := s.resolve(item)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// Render reads a library item and substitutes params into it as a
// text/template.
func (s *Service) Render(item string, params map[string]any) (string, error) {
	raw, err := s.Read(item)
	if err != nil {
		return "", err
	}
	return renderTemplate(item, string(raw), params)
}

func renderTemplate(name, text string, params map[string]any) (string, error) {
	tpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("template %s: %w", name, err)
	}
	return buf.String(), nil
}

// DefaultInstructions loads the startup prompt for new conversations.
func (s *Service) DefaultInstructions() ([]string, error) {
	raw, err := s.Read(DefaultPromptPath)
	if err != nil {
		return nil, err
	}
	return []string{string(raw)}, nil
}

// SkillTool describes one tool entry of a skill index.
type SkillTool struct {
	Title       string         `yaml:"title"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
}

// Skill is a parsed skill definition.
type Skill struct {
	Instructions []string             `yaml:"instructions"`
	Tools        map[string]SkillTool `yaml:"tools"`
}

// LoadSkill parses <item>/index.yaml and expands "+"-prefixed instruction
// entries into the referenced file contents, recursively, with params
// substituted.
func (s *Service) LoadSkill(item string, params map[string]any) (*Skill, error) {
	if !strings.HasSuffix(item, "/") {
		item += "/"
	}
	raw, err := s.Read(item + "index.yaml")
	if err != nil {
		return nil, fmt.Errorf("skill index: %w", err)
	}

	var skill Skill
	if err := yaml.Unmarshal(raw, &skill); err != nil {
		return nil, fmt.Errorf("skill index: %w", err)
	}

	expanded := make([]string, 0, len(skill.Instructions))
	for _, instruction := range skill.Instructions {
		if strings.HasPrefix(instruction, "+") {
			content, err := s.loadInstruction(item, instruction, params)
			if err != nil {
				log.Warn().Err(err).Str("item", item).Str("instruction", instruction).Msg("Skill instruction not found")
				continue
			}
			expanded = append(expanded, content)
		} else {
			expanded = append(expanded, instruction)
		}
	}
	skill.Instructions = expanded
	return &skill, nil
}

// loadInstruction reads one "+file" reference relative to the skill
// directory. Lines inside the file that are themselves "+"-prefixed are
// expanded recursively; unresolvable references stay as literal lines.
func (s *Service) loadInstruction(item, instruction string, params map[string]any) (string, error) {
	raw, err := s.Read(item + strings.TrimPrefix(instruction, "+"))
	if err != nil {
		return "", err
	}

	lines := strings.Split(string(raw), "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "+") {
			continue
		}
		content, err := s.loadInstruction(item, line, params)
		if err != nil {
			continue
		}
		lines[i] = content
	}
	return renderTemplate(item+instruction, strings.Join(lines, "\n"), params)
}
