// Package chat implements the conversational orchestration engine: it
// owns the turn history, drives submissions through a provider, and runs
// the tool-invocation loop until the model stops requesting tools.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yukin371/palaver/internal/core"
	"github.com/yukin371/palaver/internal/event"
	"github.com/yukin371/palaver/internal/tools"
	"github.com/yukin371/palaver/pkg/logger"
)

var (
	// ErrSystemTurn is returned when a caller tries to smuggle a system
	// turn through SetTurns. The system prompt has a dedicated slot and
	// is manipulated only through SetSystemPrompt.
	ErrSystemTurn = errors.New("system turns are managed through SetSystemPrompt")

	// ErrExtraction is returned when a structured-output round produced
	// zero or more than one structured result.
	ErrExtraction = errors.New("structured extraction failed")
)

// Chat holds one conversation against one provider. A Chat instance
// exclusively owns its turn history: submissions append to it, and at
// most one submission runs at a time. A second Chat or Stream call
// blocks until the first submission's loop is done.
type Chat struct {
	provider core.Provider
	registry *tools.Registry
	bus      *event.Bus
	log      *logger.Logger

	stream      bool
	maxTokens   int
	temperature float32

	// submitMu serializes submissions; histMu guards turn reads against
	// the submission goroutine's appends.
	submitMu sync.Mutex
	histMu   sync.RWMutex
	turns    []*core.Turn
}

// Option configures a Chat.
type Option func(*Chat) error

// WithSystemPrompt sets the initial system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *Chat) error {
		c.SetSystemPrompt(prompt)
		return nil
	}
}

// WithTurns seeds the conversation with prior turns. A system turn is
// allowed only in first position.
func WithTurns(turns []*core.Turn) Option {
	return func(c *Chat) error {
		normalized, err := core.NormalizeTurns(turns, c.SystemPrompt())
		if err != nil {
			return err
		}
		c.turns = normalized
		return nil
	}
}

// WithBus attaches an event bus for progress notifications.
func WithBus(bus *event.Bus) Option {
	return func(c *Chat) error {
		c.bus = bus
		return nil
	}
}

// WithLogger replaces the default logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Chat) error {
		c.log = log
		return nil
	}
}

// WithStreaming controls whether submissions use the provider's
// streaming path. Defaults to true.
func WithStreaming(stream bool) Option {
	return func(c *Chat) error {
		c.stream = stream
		return nil
	}
}

// WithMaxTokens caps the response length per request.
func WithMaxTokens(n int) Option {
	return func(c *Chat) error {
		c.maxTokens = n
		return nil
	}
}

// WithTemperature sets the sampling temperature per request.
func WithTemperature(t float32) Option {
	return func(c *Chat) error {
		c.temperature = t
		return nil
	}
}

// New creates a Chat against the given provider.
func New(provider core.Provider, opts ...Option) (*Chat, error) {
	if provider == nil {
		return nil, fmt.Errorf("chat requires a provider")
	}
	c := &Chat{
		provider: provider,
		log:      logger.Default(),
		stream:   true,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.registry = tools.NewRegistry(c.log)
	return c, nil
}

// Register derives a parameter schema from the argument type T and
// registers fn as a tool on the chat.
func Register[T any](c *Chat, name, description string, fn func(ctx context.Context, args T) (any, error)) error {
	return tools.Register(c.registry, name, description, fn)
}

// RegisterTool registers a tool with an explicit schema, overriding
// anything inference would produce.
func (c *Chat) RegisterTool(t tools.Tool) error {
	return c.registry.Add(t)
}

// Registry exposes the chat's tool registry.
func (c *Chat) Registry() *tools.Registry { return c.registry }

// Provider returns the backend this chat talks to.
func (c *Chat) Provider() core.Provider { return c.provider }

// Turns returns a copy of the conversation history, optionally without
// the leading system turn.
func (c *Chat) Turns(includeSystem bool) []*core.Turn {
	c.histMu.RLock()
	defer c.histMu.RUnlock()

	turns := c.turns
	if !includeSystem && len(turns) > 0 && turns[0].Role == core.RoleSystem {
		turns = turns[1:]
	}
	out := make([]*core.Turn, len(turns))
	copy(out, turns)
	return out
}

// SetTurns replaces the non-system portion of the history. Any turn with
// role system is rejected with its index; the current system prompt, if
// set, is preserved.
func (c *Chat) SetTurns(turns []*core.Turn) error {
	for i, turn := range turns {
		if turn.Role == core.RoleSystem {
			return fmt.Errorf("turn %d has role %q: %w", i, core.RoleSystem, ErrSystemTurn)
		}
	}

	c.histMu.Lock()
	defer c.histMu.Unlock()

	var next []*core.Turn
	if len(c.turns) > 0 && c.turns[0].Role == core.RoleSystem {
		next = append(next, c.turns[0])
	}
	c.turns = append(next, turns...)
	return nil
}

// SystemPrompt returns the current system prompt, or "" if none is set.
func (c *Chat) SystemPrompt() string {
	c.histMu.RLock()
	defer c.histMu.RUnlock()
	if len(c.turns) > 0 && c.turns[0].Role == core.RoleSystem {
		return c.turns[0].Text()
	}
	return ""
}

// SetSystemPrompt sets, replaces, or (with "") removes the system prompt.
func (c *Chat) SetSystemPrompt(prompt string) {
	c.histMu.Lock()
	defer c.histMu.Unlock()

	if len(c.turns) > 0 && c.turns[0].Role == core.RoleSystem {
		c.turns = c.turns[1:]
	}
	if prompt != "" {
		c.turns = append([]*core.Turn{core.TextTurn(core.RoleSystem, prompt)}, c.turns...)
	}
}

// LastTurn returns the most recent turn with the given role, or nil.
func (c *Chat) LastTurn(role core.Role) *core.Turn {
	c.histMu.RLock()
	defer c.histMu.RUnlock()
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].Role == role {
			return c.turns[i]
		}
	}
	return nil
}

// TokenUsage returns the input and output token counts reported for the
// last assistant turn.
func (c *Chat) TokenUsage() (input, output int) {
	turn := c.LastTurn(core.RoleAssistant)
	if turn == nil || turn.Tokens == nil {
		return 0, 0
	}
	return turn.Tokens.Input, turn.Tokens.Output
}

func (c *Chat) appendPair(user, assistant *core.Turn) {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	c.turns = append(c.turns, user, assistant)
}

// Chat submits user input and blocks until the tool loop reaches its
// final assistant turn. The returned response is fully consumed; its
// Text holds everything the model said across all rounds.
func (c *Chat) Chat(ctx context.Context, parts ...any) (*Response, error) {
	resp, err := c.Stream(ctx, parts...)
	if err != nil {
		return nil, err
	}
	resp.Wait()
	if err := resp.Err(); err != nil {
		return resp, err
	}
	return resp, nil
}

// Stream submits user input and returns an unconsumed response handle.
// The submission loop advances as the caller pulls chunks; provider
// calls and tool invocations happen off the caller's goroutine.
func (c *Chat) Stream(ctx context.Context, parts ...any) (*Response, error) {
	return c.submit(ctx, parts, nil, submitOptions{stream: c.stream, toolLoop: true})
}

// ExtractData submits input with a structured-output schema and returns
// the single extracted value. Zero or multiple structured results fail
// with ErrExtraction reporting the count.
func (c *Chat) ExtractData(ctx context.Context, output *core.OutputSchema, parts ...any) (any, error) {
	if output == nil || output.Schema == nil {
		return nil, fmt.Errorf("extraction requires an output schema")
	}
	resp, err := c.submit(ctx, parts, output, submitOptions{})
	if err != nil {
		return nil, err
	}
	resp.Wait()
	if err := resp.Err(); err != nil {
		return nil, err
	}

	turn := c.LastTurn(core.RoleAssistant)
	var values []any
	if turn != nil {
		for _, content := range turn.Contents {
			if j, ok := content.(core.JSON); ok {
				values = append(values, j.Value)
			}
		}
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: %d data results received", ErrExtraction, len(values))
	}
	return values[0], nil
}

type submitOptions struct {
	stream   bool
	toolLoop bool
}

func (c *Chat) submit(ctx context.Context, parts []any, output *core.OutputSchema, opts submitOptions) (*Response, error) {
	userTurn, err := core.UserTurn(parts...)
	if err != nil {
		return nil, err
	}
	c.submitMu.Lock()
	resp := newResponse()
	go c.run(ctx, userTurn, output, resp, opts)
	return resp, nil
}

// run drives one submission through the state machine:
// Requesting → (Streaming | ValueReceived) → ToolScan → ToolInvoking →
// Requesting, until a round yields no tool requests.
func (c *Chat) run(ctx context.Context, sub *core.Turn, output *core.OutputSchema, resp *Response, opts submitOptions) {
	defer c.submitMu.Unlock()
	defer resp.finish()

	for sub != nil {
		turn, err := c.round(ctx, sub, output, resp, opts.stream)
		if err != nil {
			resp.fail(err)
			return
		}
		c.bus.Publish(event.TurnComplete, map[string]any{
			"role":          string(turn.Role),
			"finish_reason": turn.FinishReason,
		})
		sub = nil
		if opts.toolLoop {
			sub = c.invokeTools(ctx, turn)
		}
	}
	c.bus.Publish(event.Done, nil)
}

// round performs one provider request and appends exactly one
// {user, assistant} pair to history. Any error leaves history untouched.
func (c *Chat) round(ctx context.Context, sub *core.Turn, output *core.OutputSchema, resp *Response, stream bool) (*core.Turn, error) {
	req := core.Request{
		Turns:       append(c.Turns(true), sub),
		Tools:       c.registry.Schemas(),
		Output:      output,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	c.bus.Publish(event.RequestStart, map[string]any{
		"provider":  c.provider.Name(),
		"turns":     len(req.Turns),
		"streaming": stream,
	})

	var (
		turn  *core.Turn
		warns []core.Warning
		err   error
	)
	if stream {
		turn, warns, err = c.streamRound(ctx, req, output, resp)
	} else {
		turn, warns, err = c.valueRound(ctx, req, output, resp)
	}
	if err != nil {
		return nil, err
	}

	for _, w := range warns {
		resp.warn(w)
		c.log.Warn("provider %s: %s: %s", c.provider.Name(), w.Code, w.Message)
		c.bus.Publish(event.Warning, map[string]any{"code": w.Code, "message": w.Message})
	}

	c.appendPair(sub, turn)
	return turn, nil
}

func (c *Chat) streamRound(ctx context.Context, req core.Request, output *core.OutputSchema, resp *Response) (*core.Turn, []core.Warning, error) {
	stream, err := c.provider.PerformStream(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	var acc core.Accumulated
	for stream.Next() {
		chunk := stream.Current()
		if text, ok := c.provider.StreamText(chunk); ok && text != "" {
			if err := resp.emit(ctx, text); err != nil {
				stream.Close()
				return nil, nil, err
			}
			c.bus.Publish(event.StreamDelta, map[string]any{"text": text})
		}
		acc = c.provider.MergeChunk(acc, chunk)

		select {
		case <-ctx.Done():
			stream.Close()
			return nil, nil, ctx.Err()
		default:
		}
	}
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, nil, err
	}
	if err := stream.Close(); err != nil {
		return nil, nil, err
	}
	return c.provider.StreamTurn(acc, output != nil)
}

func (c *Chat) valueRound(ctx context.Context, req core.Request, output *core.OutputSchema, resp *Response) (*core.Turn, []core.Warning, error) {
	raw, err := c.provider.Perform(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	turn, warns, err := c.provider.ValueTurn(raw, output != nil)
	if err != nil {
		return nil, nil, err
	}
	if text := turn.Text(); text != "" {
		if err := resp.emit(ctx, text); err != nil {
			return nil, nil, err
		}
	}
	return turn, warns, nil
}

// invokeTools scans the assistant turn for tool requests and invokes
// them. Independent calls run concurrently, but results keep request
// order in the synthesized user turn. Returns nil when the turn requests
// nothing, which terminates the submission loop.
func (c *Chat) invokeTools(ctx context.Context, turn *core.Turn) *core.Turn {
	var requests []core.ToolRequest
	for _, content := range turn.Contents {
		if req, ok := content.(core.ToolRequest); ok {
			requests = append(requests, req)
		}
	}
	if len(requests) == 0 {
		return nil
	}

	results := make([]core.Content, len(requests))
	var wg sync.WaitGroup
	for i, req := range requests {
		c.bus.Publish(event.ToolStart, map[string]any{"id": req.ID, "name": req.Name})
		wg.Add(1)
		go func(i int, req core.ToolRequest) {
			defer wg.Done()
			result := c.registry.Invoke(ctx, req)
			if !result.OK() {
				c.bus.Publish(event.ToolError, map[string]any{
					"id":    req.ID,
					"name":  req.Name,
					"error": result.Error,
				})
			}
			results[i] = result
		}(i, req)
	}
	wg.Wait()

	return core.NewTurn(core.RoleUser, results...)
}
