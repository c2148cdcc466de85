// Package router is the orchestrator: it owns the conversation registry,
// schedules chat and tool tasks, drives the agentic loop and broadcasts
// monitor events.
package router

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
	"github.com/TeskaLabs/llm-microlink/internal/library"
	"github.com/TeskaLabs/llm-microlink/internal/provider"
	"github.com/TeskaLabs/llm-microlink/internal/tool"
)

// Service routes conversations between clients, providers and tools.
type Service struct {
	ctx       context.Context
	providers []provider.ChatProvider
	library   *library.Service
	tools     *tool.Service

	// pick selects a random provider among matches; tests inject a
	// seeded variant.
	pick func(n int) int

	mu            sync.Mutex
	conversations map[string]*chat.Conversation
}

// NewService wires the orchestrator. ctx bounds the lifetime of every
// scheduled task.
func NewService(ctx context.Context, providers []provider.ChatProvider, lib *library.Service, tools *tool.Service) *Service {
	return &Service{
		ctx:           ctx,
		providers:     providers,
		library:       lib,
		tools:         tools,
		pick:          rand.IntN,
		conversations: make(map[string]*chat.Conversation),
	}
}

// Providers returns the configured chat providers.
func (s *Service) Providers() []provider.ChatProvider {
	return s.providers
}

// SetProviders installs the chat providers. Providers need the service
// as their event sink, so they are built after it; call this once during
// startup, before any conversation exists.
func (s *Service) SetProviders(providers []provider.ChatProvider) {
	s.providers = providers
}

// CreateConversation registers a fresh conversation with the default
// instructions and the current tool set.
func (s *Service) CreateConversation(ctx context.Context) (*chat.Conversation, error) {
	instructions, err := s.library.DefaultInstructions()
	if err != nil {
		return nil, fmt.Errorf("default instructions: %w", err)
	}
	tools := s.tools.Tools(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	for {
		id = "conversation-" + strings.ReplaceAll(uuid.NewString(), "-", "")
		if _, taken := s.conversations[id]; !taken {
			break
		}
	}

	conv := chat.NewConversation(id, instructions, tools)
	s.conversations[id] = conv

	log.Info().Str("conversation_id", id).Msg("New conversation created")
	return conv, nil
}

// GetConversation looks up a conversation, optionally creating one when
// the id is unknown.
func (s *Service) GetConversation(ctx context.Context, id string, create bool) (*chat.Conversation, error) {
	s.mu.Lock()
	conv := s.conversations[id]
	s.mu.Unlock()

	if conv == nil && create {
		return s.CreateConversation(ctx)
	}
	return conv, nil
}

// CreateExchange opens a new exchange with the user message and schedules
// the chat turn.
func (s *Service) CreateExchange(ctx context.Context, conv *chat.Conversation, msg *chat.UserMessage) error {
	ex := conv.AppendExchange()
	ex.Append(msg)

	if err := s.SendUpdate(ctx, conv, chat.EventItemAppended(msg)); err != nil {
		return err
	}

	s.scheduleChatRequest(conv, ex)
	return nil
}

// ScheduleTask starts an async conversation task. Task completion drives
// the agentic loop: when the live-task count drains to zero and a tool
// has cleared the loop-break flag, the next chat turn is scheduled on a
// fresh exchange.
func (s *Service) ScheduleTask(conv *chat.Conversation, name string, fn func(ctx context.Context) error) {
	taskCtx, cancel := context.WithCancel(s.ctx)
	task := &chat.Task{Name: name, Cancel: cancel}
	conv.AddTask(task)
	s.sendTasksUpdate(conv)

	go func() {
		defer cancel()
		if err := fn(taskCtx); err != nil && taskCtx.Err() == nil {
			log.Error().Err(err).Str("conversation_id", conv.ID).Str("task", name).Msg("Conversation task failed")
		}
		s.onTaskDone(conv, task)
	}()
}

func (s *Service) scheduleChatRequest(conv *chat.Conversation, ex *chat.Exchange) {
	s.ScheduleTask(conv, "conversation-"+conv.ID+"-task", func(ctx context.Context) error {
		return s.taskChatRequest(ctx, conv, ex)
	})
}

func (s *Service) onTaskDone(conv *chat.Conversation, task *chat.Task) {
	conv.RemoveTask(task)

	if ex, ok := conv.BeginContinuation(); ok {
		s.scheduleChatRequest(conv, ex)
	}
	s.sendTasksUpdate(conv)
}

func (s *Service) sendTasksUpdate(conv *chat.Conversation) {
	if err := s.SendUpdate(s.ctx, conv, chat.EventTasksUpdated(conv.TaskCount())); err != nil {
		log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("Monitor failed on tasks.updated")
	}
}

// taskChatRequest selects a provider serving the conversation's model and
// runs one streaming chat turn under that provider's permit.
func (s *Service) taskChatRequest(ctx context.Context, conv *chat.Conversation, ex *chat.Exchange) error {
	model := conv.Model()
	if model == "" {
		return fmt.Errorf("conversation %s has no model set", conv.ID)
	}

	var mu sync.Mutex
	var matches []provider.ChatProvider

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range s.providers {
		g.Go(func() error {
			models, err := provider.GetModels(gctx, nil, p.URL(), p.PrepareHeaders())
			if err != nil {
				log.Error().Err(err).Str("provider", p.URL()).Msg("Error collecting models")
				return nil
			}
			for _, m := range models {
				if m.ID == model {
					mu.Lock()
					matches = append(matches, p)
					mu.Unlock()
					return nil
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(matches) == 0 {
		return fmt.Errorf("no provider found for model %s", model)
	}
	p := matches[s.pick(len(matches))]

	if err := p.Acquire(ctx); err != nil {
		return err
	}
	defer p.Release()

	return p.ChatRequest(ctx, conv, ex)
}

// CreateFunctionCall schedules the tool-execution task for a completed
// function call. Implements provider.Sink.
func (s *Service) CreateFunctionCall(_ context.Context, conv *chat.Conversation, _ *chat.Exchange, fc *chat.FunctionCall) {
	s.ScheduleTask(conv, "conversation-"+conv.ID+"-task", func(ctx context.Context) error {
		return s.taskFunctionCall(ctx, conv, fc)
	})
}

func (s *Service) taskFunctionCall(ctx context.Context, conv *chat.Conversation, fc *chat.FunctionCall) error {
	log.Info().Str("name", fc.Name).Str("conversation_id", conv.ID).Msg("Calling function ...")

	fc.Status = chat.StatusExecuting
	if err := s.SendUpdate(ctx, conv, chat.EventItemUpdated(fc)); err != nil {
		return err
	}

	var yieldErr error
	yield := func(string) {
		if err := s.SendUpdate(ctx, conv, chat.EventItemUpdated(fc)); err != nil && yieldErr == nil {
			yieldErr = err
		}
	}

	err := s.tools.EnsureInit(ctx, conv)
	if err == nil {
		err = s.tools.Execute(ctx, conv, fc, yield)
	}
	if err == nil {
		err = yieldErr
	}
	if err != nil {
		log.Error().Err(err).Str("name", fc.Name).Str("conversation_id", conv.ID).Msg("Function call failed")
		fc.Content = "Generic exception occurred. Try again."
		fc.Error = true
	}

	fc.Status = chat.StatusFinished
	sendErr := s.SendUpdate(ctx, conv, chat.EventItemUpdated(fc))

	// Request the continuation chat turn once tasks drain.
	conv.SetLoopBreak(false)

	if err != nil {
		return err
	}
	return sendErr
}

// StopConversation cancels every live task and breaks the agentic loop.
func (s *Service) StopConversation(conv *chat.Conversation) {
	for _, task := range conv.Tasks() {
		task.Cancel()
	}
	conv.SetLoopBreak(true)
	log.Info().Str("conversation_id", conv.ID).Msg("Conversation stopped")
}

// RestartConversation rewinds the conversation to just before the
// exchange whose first item carries the given key.
func (s *Service) RestartConversation(conv *chat.Conversation, key string) {
	if !conv.TruncateFrom(key) {
		log.Warn().Str("conversation_id", conv.ID).Str("key", key).Msg("Conversation restart failed")
	}
}

// UpdateInstructions overwrites the conversation instructions from a
// library item. Prompt items are rendered with params; skill items also
// replace the tool set.
func (s *Service) UpdateInstructions(ctx context.Context, conv *chat.Conversation, item string, params map[string]any) error {
	switch {
	case strings.HasPrefix(item, "/AI/Prompts/"):
		instructions, err := s.library.Render(item, params)
		if err != nil {
			log.Warn().Err(err).Str("item", item).Msg("Prompt not found")
			return nil
		}
		conv.SetInstructions([]string{instructions})

	case strings.HasPrefix(item, "/AI/Skill/"):
		skill, err := s.library.LoadSkill(item, params)
		if err != nil {
			return fmt.Errorf("load skill %s: %w", item, err)
		}
		conv.SetInstructions(skill.Instructions)

		if len(skill.Tools) > 0 {
			tools := make(map[string]*chat.Tool, len(skill.Tools))
			for name, def := range skill.Tools {
				located, err := s.tools.LocateTool(ctx, name)
				if err != nil {
					return err
				}
				t := &chat.Tool{
					Name:        name,
					Title:       def.Title,
					Description: def.Description,
					Parameters:  def.Parameters,
				}
				if located != nil {
					t.Call = located.Call
					t.Init = located.Init
				}
				tools[name] = t
			}
			conv.SetTools(tools)
		}

	default:
		log.Warn().Str("item", item).Msg("Unknown item, skipping")
	}
	return nil
}

// SendUpdate broadcasts one event to every conversation monitor in
// parallel. Monitor errors propagate to the caller.
func (s *Service) SendUpdate(ctx context.Context, conv *chat.Conversation, event map[string]any) error {
	monitors := conv.Monitors()
	if len(monitors) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, monitor := range monitors {
		g.Go(func() error {
			return monitor(gctx, event)
		})
	}
	return g.Wait()
}

// SendFullUpdate pushes the complete conversation snapshot to one
// monitor, typically a freshly attached one.
func (s *Service) SendFullUpdate(ctx context.Context, conv *chat.Conversation, monitor chat.Monitor) {
	if err := monitor(ctx, chat.EventFullUpdate(conv)); err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID).Msg("Error sending full update to monitor")
	}
}

// GetModels fans /v1/models out over all providers and concatenates the
// results. Per-provider failures are logged and skipped.
func (s *Service) GetModels(ctx context.Context) []provider.Model {
	var mu sync.Mutex
	var models []provider.Model

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range s.providers {
		g.Go(func() error {
			pmodels, err := provider.GetModels(gctx, nil, p.URL(), p.PrepareHeaders())
			if err != nil {
				log.Error().Err(err).Str("provider", p.URL()).Msg("Error collecting models")
				return nil
			}
			mu.Lock()
			models = append(models, pmodels...)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return models
}
