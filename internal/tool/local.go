package tool

import (
	"context"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

// LocalProvider is a static dispatch table over in-process tools.
type LocalProvider struct {
	tools map[string]*chat.Tool
	order []string
}

func NewLocalProvider(tools ...*chat.Tool) *LocalProvider {
	p := &LocalProvider{tools: make(map[string]*chat.Tool)}
	for _, tool := range tools {
		if _, taken := p.tools[tool.Name]; taken {
			continue
		}
		p.tools[tool.Name] = tool
		p.order = append(p.order, tool.Name)
	}
	return p
}

func (p *LocalProvider) LocateTool(_ context.Context, name string) (*chat.Tool, error) {
	return p.tools[name], nil
}

func (p *LocalProvider) ListTools(_ context.Context) ([]*chat.Tool, error) {
	out := make([]*chat.Tool, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.tools[name])
	}
	return out, nil
}
