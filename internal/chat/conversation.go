package chat

import (
	"context"
	"sync"
	"time"
)

// Monitor is a subscriber of conversation events. All monitors of a
// conversation fire concurrently for every state change.
type Monitor func(ctx context.Context, event map[string]any) error

// ProgressFunc receives the progress notes a running tool yields. The
// caller only observes the yields; the tool mutates its FunctionCall
// in place.
type ProgressFunc func(note string)

// ToolFunc executes a tool against a conversation, streaming progress
// through yield while mutating fc in place.
type ToolFunc func(ctx context.Context, conv *Conversation, fc *FunctionCall, yield ProgressFunc) error

// InitFunc is a one-shot per-conversation tool initializer.
type InitFunc func(ctx context.Context, conv *Conversation) error

// Tool describes a function-call tool offered to the model.
type Tool struct {
	Name        string
	Title       string
	Description string
	Parameters  map[string]any // JSON schema object
	Call        ToolFunc
	Init        InitFunc
}

// ExecStream tags one element of a sandbox execution stream.
type ExecStream string

const (
	ExecStdout     ExecStream = "stdout"
	ExecStderr     ExecStream = "stderr"
	ExecReturnCode ExecStream = "return_code"
	ExecTimeout    ExecStream = "timeout"
)

// ExecEvent is one element of a sandbox execution stream. Text is set for
// stdout/stderr, Code for return_code.
type ExecEvent struct {
	Stream ExecStream
	Text   string
	Code   int
}

// Sandbox is the per-conversation execution environment. A conversation
// is the sole owner of its sandbox; Close destroys it.
type Sandbox interface {
	Path() string
	Execute(ctx context.Context, cmd []string, stdin string) (<-chan ExecEvent, error)
	Close(ctx context.Context) error
}

// Task is a handle on a live conversation task.
type Task struct {
	Name   string
	Cancel context.CancelFunc
}

// Conversation is a long-lived chat session. Instructions, tools,
// exchanges, tasks, monitors, the sandbox and the loop-break flag are
// guarded by the conversation mutex; item field mutation stays
// single-writer (the provider goroutine before a function call is
// handed off, the tool task after). A model turn may schedule several
// tool tasks at once, so every shared field goes through an accessor.
type Conversation struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	instructions []string
	tools        map[string]*Tool
	sandbox      Sandbox
	exchanges    []*Exchange
	monitors     []Monitor
	tasks        []*Task
	loopBreak    bool

	// initMu serializes tool initialization. Initializers are slow
	// (container creation), so they must not hold mu.
	initMu          sync.Mutex
	toolInitialized map[string]bool

	// sandboxMu makes the sandbox check-and-create atomic. Separate
	// from initMu because AttachSandbox runs inside tool initializers.
	sandboxMu sync.Mutex
}

func NewConversation(id string, instructions []string, tools map[string]*Tool) *Conversation {
	return &Conversation{
		ID:              id,
		instructions:    instructions,
		CreatedAt:       time.Now().UTC(),
		tools:           tools,
		toolInitialized: make(map[string]bool),
		loopBreak:       true,
	}
}

// Instructions returns a snapshot of the system instructions.
func (c *Conversation) Instructions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.instructions))
	copy(out, c.instructions)
	return out
}

// SetInstructions replaces the system instructions.
func (c *Conversation) SetInstructions(instructions []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instructions = instructions
}

// AppendInstructions appends to the system instructions.
func (c *Conversation) AppendInstructions(parts ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instructions = append(c.instructions, parts...)
}

// Tool returns the named tool, or nil.
func (c *Conversation) Tool(name string) *Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tools[name]
}

// Tools returns a snapshot of the tool set.
func (c *Conversation) Tools() map[string]*Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*Tool, len(c.tools))
	for name, tool := range c.tools {
		out[name] = tool
	}
	return out
}

// SetTools replaces the tool set, typically on a skill switch.
func (c *Conversation) SetTools(tools map[string]*Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = tools
}

// InitTools runs the one-shot initializer of every tool that has not
// been initialized yet. Concurrent callers serialize on the init lock,
// so each initializer runs exactly once per conversation and a caller
// returns only after every pending initializer has finished.
func (c *Conversation) InitTools(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	for name, tool := range c.Tools() {
		if c.toolInitialized[name] {
			continue
		}
		if tool.Init != nil {
			if err := tool.Init(ctx, c); err != nil {
				return err
			}
		}
		c.toolInitialized[name] = true
	}
	return nil
}

// Sandbox returns the attached sandbox, or nil.
func (c *Conversation) Sandbox() Sandbox {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sandbox
}

// SetSandbox attaches the sandbox unconditionally.
func (c *Conversation) SetSandbox(sb Sandbox) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sandbox = sb
}

// AttachSandbox creates and attaches a sandbox unless one is already
// attached. The check and the creation are atomic per conversation, so
// a conversation never ends up with two sandboxes; the losing caller's
// create never runs. Runs inside tool initializers, hence its own lock.
func (c *Conversation) AttachSandbox(ctx context.Context, create func(ctx context.Context) (Sandbox, error)) error {
	c.sandboxMu.Lock()
	defer c.sandboxMu.Unlock()
	if c.Sandbox() != nil {
		return nil
	}
	sb, err := create(ctx)
	if err != nil {
		return err
	}
	c.SetSandbox(sb)
	return nil
}

// Model returns the model id from the most recent user message, or "".
func (c *Conversation) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.exchanges) - 1; i >= 0; i-- {
		items := c.exchanges[i].Items
		for j := len(items) - 1; j >= 0; j-- {
			if um, ok := items[j].(*UserMessage); ok {
				return um.Model
			}
		}
	}
	return ""
}

// Exchanges returns a snapshot of the exchange list.
func (c *Conversation) Exchanges() []*Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Exchange, len(c.exchanges))
	copy(out, c.exchanges)
	return out
}

// AppendExchange appends and returns a fresh exchange.
func (c *Conversation) AppendExchange() *Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	ex := &Exchange{}
	c.exchanges = append(c.exchanges, ex)
	return ex
}

// TruncateFrom drops all exchanges from (and including) the exchange whose
// first item carries the given key. Reports whether anything was dropped.
func (c *Conversation) TruncateFrom(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ex := range c.exchanges {
		if len(ex.Items) > 0 && ex.Items[0].ItemKey() == key {
			c.exchanges = c.exchanges[:i]
			return true
		}
	}
	return false
}

// AddMonitor subscribes a monitor callback.
func (c *Conversation) AddMonitor(m Monitor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.monitors = append(c.monitors, m)
}

// Monitors returns a snapshot of the subscribed monitors.
func (c *Conversation) Monitors() []Monitor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Monitor, len(c.monitors))
	copy(out, c.monitors)
	return out
}

// AddTask registers a live task handle.
func (c *Conversation) AddTask(t *Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, t)
}

// RemoveTask unregisters a task handle and returns the remaining count.
func (c *Conversation) RemoveTask(t *Task) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, have := range c.tasks {
		if have == t {
			c.tasks = append(c.tasks[:i], c.tasks[i+1:]...)
			break
		}
	}
	return len(c.tasks)
}

// Tasks returns a snapshot of the live task handles.
func (c *Conversation) Tasks() []*Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Task, len(c.tasks))
	copy(out, c.tasks)
	return out
}

// TaskCount is len(tasks) plus the pending continuation turn when the
// agentic loop is not broken.
func (c *Conversation) TaskCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := len(c.tasks)
	if !c.loopBreak {
		count++
	}
	return count
}

// LoopBreak reports whether the agentic loop is paused awaiting user input.
func (c *Conversation) LoopBreak() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loopBreak
}

// SetLoopBreak flips the loop-break flag. Tool tasks clear it so the
// router schedules a continuation turn once tasks drain.
func (c *Conversation) SetLoopBreak(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loopBreak = v
}

// BeginContinuation atomically checks the drain condition (no live tasks,
// loop not broken), and if met opens a fresh exchange and re-arms the
// break flag. Used by the router's task-drain rule so that exactly one
// continuation turn is opened.
func (c *Conversation) BeginContinuation() (*Exchange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tasks) != 0 || c.loopBreak {
		return nil, false
	}
	ex := &Exchange{}
	c.exchanges = append(c.exchanges, ex)
	c.loopBreak = true
	return ex, true
}
