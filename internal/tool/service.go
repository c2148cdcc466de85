// Package tool implements the tool registry: a local dispatch table plus
// an optional definition directory with YAML-defined REST tools.
package tool

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

// Provider locates tools by name. Providers are consulted in registration
// order; the first hit wins.
type Provider interface {
	LocateTool(ctx context.Context, name string) (*chat.Tool, error)
	// ListTools enumerates every tool the provider can currently offer.
	ListTools(ctx context.Context) ([]*chat.Tool, error)
}

// Service is the tool registry.
type Service struct {
	providers []Provider
}

func NewService(providers ...Provider) *Service {
	return &Service{providers: providers}
}

// LocateTool walks the providers in order and returns the first match,
// or nil when no provider knows the name.
func (s *Service) LocateTool(ctx context.Context, name string) (*chat.Tool, error) {
	for _, p := range s.providers {
		tool, err := p.LocateTool(ctx, name)
		if err != nil {
			return nil, err
		}
		if tool != nil {
			return tool, nil
		}
	}
	return nil, nil
}

// Tools snapshots the current tool set for a new conversation. Earlier
// providers win name conflicts.
func (s *Service) Tools(ctx context.Context) map[string]*chat.Tool {
	tools := make(map[string]*chat.Tool)
	for _, p := range s.providers {
		listed, err := p.ListTools(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Tool provider listing failed")
			continue
		}
		for _, tool := range listed {
			if _, taken := tools[tool.Name]; !taken {
				tools[tool.Name] = tool
			}
		}
	}
	return tools
}

// EnsureInit runs the one-shot initializer of every conversation tool
// that has not been initialized yet. Idempotent per conversation and
// safe under the concurrent tool tasks of one model turn.
func (s *Service) EnsureInit(ctx context.Context, conv *chat.Conversation) error {
	return conv.InitTools(ctx)
}

// Execute runs the function call against the conversation's tool set.
// Tool failures are recorded on the function call, not returned; the
// returned error only reports monitor propagation failures via yield.
func (s *Service) Execute(ctx context.Context, conv *chat.Conversation, fc *chat.FunctionCall, yield chat.ProgressFunc) error {
	tool := conv.Tool(fc.Name)
	if tool == nil || tool.Call == nil {
		fc.Content = "Tool not found"
		fc.Error = true
		fc.Status = chat.StatusCompleted
		yield("")
		return nil
	}

	if err := tool.Call(ctx, conv, fc, yield); err != nil {
		log.Error().Err(err).Str("name", fc.Name).Str("conversation_id", conv.ID).Msg("Error executing tool")
		if len(fc.Content) > 0 {
			fc.Content += "\n\n"
		}
		fc.Content += "Tool failed."
		fc.Error = true
		fc.Status = chat.StatusCompleted
		yield("")
		return nil
	}

	fc.Status = chat.StatusCompleted
	return nil
}
