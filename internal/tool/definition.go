package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

// definitionSchema validates the YAML tool definition document before any
// field is trusted.
const definitionSchema = `{
	"type": "object",
	"required": ["define", "description", "function_call"],
	"properties": {
		"define": {
			"type": "object",
			"required": ["type", "name"],
			"properties": {
				"type": {"const": "llm/tool"},
				"name": {"type": "string", "minLength": 1}
			}
		},
		"title": {"type": "string"},
		"description": {"type": "string"},
		"parameters": {
			"type": "object",
			"properties": {
				"type": {"const": "object"},
				"properties": {"type": "object"},
				"required": {"type": "array", "items": {"type": "string"}}
			}
		},
		"function_call": {
			"type": "object",
			"required": ["type"],
			"properties": {
				"type": {"type": "string"}
			}
		}
	}
}`

// definition mirrors the YAML tool definition file.
type definition struct {
	Define struct {
		Type string `yaml:"type"`
		Name string `yaml:"name"`
	} `yaml:"define"`
	Title        string         `yaml:"title"`
	Description  string         `yaml:"description"`
	Parameters   map[string]any `yaml:"parameters"`
	FunctionCall struct {
		Type     string                  `yaml:"type"`
		Request  RestRequest             `yaml:"request"`
		Response map[string]RestResponse `yaml:"response"`
	} `yaml:"function_call"`
}

// DefinitionProvider serves tools defined as YAML files in a directory.
// Each <name>.yaml file defines one tool; validated definitions are
// cached by name.
type DefinitionProvider struct {
	dir     string
	baseURL string
	tenant  string
	schema  *gojsonschema.Schema

	mu    sync.Mutex
	cache map[string]*chat.Tool
}

func NewDefinitionProvider(dir, baseURL, tenant string) (*DefinitionProvider, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(definitionSchema))
	if err != nil {
		return nil, fmt.Errorf("tool definition schema: %w", err)
	}
	return &DefinitionProvider{
		dir:     dir,
		baseURL: baseURL,
		tenant:  tenant,
		schema:  schema,
		cache:   make(map[string]*chat.Tool),
	}, nil
}

func (p *DefinitionProvider) LocateTool(_ context.Context, name string) (*chat.Tool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tool, ok := p.cache[name]; ok {
		return tool, nil
	}

	raw, err := os.ReadFile(filepath.Join(p.dir, name+".yaml"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	tool := p.load(name, raw)
	if tool != nil {
		p.cache[name] = tool
	}
	return tool, nil
}

func (p *DefinitionProvider) ListTools(ctx context.Context) ([]*chat.Tool, error) {
	entries, err := os.ReadDir(p.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var tools []*chat.Tool
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		tool, err := p.LocateTool(ctx, strings.TrimSuffix(entry.Name(), ".yaml"))
		if err != nil {
			return nil, err
		}
		if tool != nil {
			tools = append(tools, tool)
		}
	}
	return tools, nil
}

// load parses and validates one definition; invalid files are logged and
// skipped, never fatal.
func (p *DefinitionProvider) load(name string, raw []byte) *chat.Tool {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		log.Warn().Err(err).Str("tool", name).Msg("Error parsing tool YAML")
		return nil
	}

	result, err := p.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		log.Warn().Err(err).Str("tool", name).Msg("Error validating tool definition")
		return nil
	}
	if !result.Valid() {
		log.Warn().Str("tool", name).Interface("errors", result.Errors()).Msg("Invalid tool definition")
		return nil
	}

	var def definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		log.Warn().Err(err).Str("tool", name).Msg("Error parsing tool YAML")
		return nil
	}

	if def.FunctionCall.Type != "rest" {
		log.Warn().Str("tool", name).Str("function_call_type", def.FunctionCall.Type).Msg("Unknown function call type")
		return nil
	}

	call := &RestCall{
		Request:  def.FunctionCall.Request,
		Response: def.FunctionCall.Response,
		BaseURL:  p.baseURL,
		Tenant:   p.tenant,
	}

	parameters := def.Parameters
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	return &chat.Tool{
		Name:        def.Define.Name,
		Title:       def.Title,
		Description: def.Description,
		Parameters:  parameters,
		Call:        call.Call,
	}
}
