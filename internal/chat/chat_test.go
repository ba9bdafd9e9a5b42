package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yukin371/palaver/internal/core"
	"github.com/yukin371/palaver/internal/event"
)

// stubProvider replays a script of assistant turns, one per request, over
// both the streaming and non-streaming paths. Chunks carry the request
// index so the accumulated stream can find its scripted turn again.
type stubProvider struct {
	mu        sync.Mutex
	script    []*core.Turn
	warnings  [][]core.Warning
	requests  []core.Request
	chunkSize int
	err       error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) next(req core.Request) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	i := len(s.requests)
	s.requests = append(s.requests, req)
	if i >= len(s.script) {
		return 0, fmt.Errorf("unscripted request %d", i)
	}
	return i, nil
}

func (s *stubProvider) turnWarnings(i int) []core.Warning {
	if i < len(s.warnings) {
		return s.warnings[i]
	}
	return nil
}

func (s *stubProvider) Perform(ctx context.Context, req core.Request) (*core.RawResponse, error) {
	i, err := s.next(req)
	if err != nil {
		return nil, err
	}
	return &core.RawResponse{Raw: []byte(strconv.Itoa(i))}, nil
}

func (s *stubProvider) ValueTurn(resp *core.RawResponse, hasOutputSchema bool) (*core.Turn, []core.Warning, error) {
	i, err := strconv.Atoi(string(resp.Raw))
	if err != nil {
		return nil, nil, err
	}
	return s.script[i], s.turnWarnings(i), nil
}

func (s *stubProvider) PerformStream(ctx context.Context, req core.Request) (core.ChunkStream, error) {
	i, err := s.next(req)
	if err != nil {
		return nil, err
	}
	text := s.script[i].Text()
	size := s.chunkSize
	if size <= 0 {
		size = len(text)
	}

	var chunks []core.Chunk
	for len(text) > 0 {
		n := min(size, len(text))
		chunks = append(chunks, core.Chunk{Raw: []byte(fmt.Sprintf("%d:%s", i, text[:n]))})
		text = text[n:]
	}
	if len(chunks) == 0 {
		chunks = append(chunks, core.Chunk{Raw: []byte(fmt.Sprintf("%d:", i))})
	}
	return &stubStream{chunks: chunks}, nil
}

func (s *stubProvider) StreamText(chunk core.Chunk) (string, bool) {
	_, text, _ := strings.Cut(string(chunk.Raw), ":")
	return text, text != ""
}

func (s *stubProvider) MergeChunk(acc core.Accumulated, chunk core.Chunk) core.Accumulated {
	idx, text, _ := strings.Cut(string(chunk.Raw), ":")
	if acc == nil {
		acc = core.Accumulated{"index": idx, "text": ""}
	}
	acc["text"] = acc["text"].(string) + text
	return acc
}

func (s *stubProvider) StreamTurn(acc core.Accumulated, hasOutputSchema bool) (*core.Turn, []core.Warning, error) {
	if acc == nil {
		return nil, nil, fmt.Errorf("no chunks accumulated")
	}
	i, err := strconv.Atoi(acc["index"].(string))
	if err != nil {
		return nil, nil, err
	}
	return s.script[i], s.turnWarnings(i), nil
}

type stubStream struct {
	chunks  []core.Chunk
	pos     int
	current core.Chunk
}

func (s *stubStream) Next() bool {
	if s.pos >= len(s.chunks) {
		return false
	}
	s.current = s.chunks[s.pos]
	s.pos++
	return true
}

func (s *stubStream) Current() core.Chunk { return s.current }
func (s *stubStream) Err() error          { return nil }
func (s *stubStream) Close() error        { return nil }

func assistantText(text string) *core.Turn {
	return core.TextTurn(core.RoleAssistant, text)
}

func TestChatAppendsUserAssistantPair(t *testing.T) {
	stub := &stubProvider{script: []*core.Turn{assistantText("hi there")}}
	c, err := New(stub)
	require.NoError(t, err)

	resp, err := c.Chat(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Text())

	turns := c.Turns(true)
	require.Len(t, turns, 2)
	assert.Equal(t, core.RoleUser, turns[0].Role)
	assert.Equal(t, "hello", turns[0].Text())
	assert.Equal(t, core.RoleAssistant, turns[1].Role)
}

func TestChatToolLoop(t *testing.T) {
	stub := &stubProvider{script: []*core.Turn{
		core.NewTurn(core.RoleAssistant, core.ToolRequest{
			ID:        "call_1",
			Name:      "add",
			Arguments: map[string]any{"a": float64(2), "b": float64(3)},
		}),
		assistantText("the sum is 5"),
	}}

	c, err := New(stub)
	require.NoError(t, err)
	require.NoError(t, Register(c, "add", "", func(ctx context.Context, args struct {
		A int `json:"a"`
		B int `json:"b"`
	}) (any, error) {
		return args.A + args.B, nil
	}))

	resp, err := c.Chat(context.Background(), "add 2 and 3")
	require.NoError(t, err)
	assert.Equal(t, "the sum is 5", resp.Text())

	turns := c.Turns(true)
	require.Len(t, turns, 4)
	assert.Equal(t, core.RoleUser, turns[0].Role)
	assert.True(t, turns[1].HasToolRequests())

	require.Len(t, turns[2].Contents, 1)
	result, ok := turns[2].Contents[0].(core.ToolResult)
	require.True(t, ok, "third turn should carry the tool result")
	assert.Equal(t, "call_1", result.ID)
	assert.Equal(t, 5, result.Value)

	assert.Equal(t, "the sum is 5", turns[3].Text())

	// The follow-up request must include the tool result turn.
	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Len(t, stub.requests, 2)
	sent := stub.requests[1].Turns
	assert.Equal(t, core.RoleUser, sent[len(sent)-1].Role)
}

func TestChatToolLoopRunsMultipleRounds(t *testing.T) {
	stub := &stubProvider{script: []*core.Turn{
		core.NewTurn(core.RoleAssistant, core.ToolRequest{ID: "1", Name: "step", Arguments: map[string]any{}}),
		core.NewTurn(core.RoleAssistant, core.ToolRequest{ID: "2", Name: "step", Arguments: map[string]any{}}),
		assistantText("done"),
	}}

	c, err := New(stub)
	require.NoError(t, err)
	calls := 0
	require.NoError(t, Register(c, "step", "", func(ctx context.Context, args struct{}) (any, error) {
		calls++
		return calls, nil
	}))

	resp, err := c.Chat(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text())
	assert.Equal(t, 2, calls)
	assert.Len(t, c.Turns(true), 6)
}

func TestChatUnknownToolStaysInBand(t *testing.T) {
	stub := &stubProvider{script: []*core.Turn{
		core.NewTurn(core.RoleAssistant, core.ToolRequest{ID: "1", Name: "missing", Arguments: map[string]any{}}),
		assistantText("ok"),
	}}

	c, err := New(stub)
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "try it")
	require.NoError(t, err, "unknown tool must not fail the submission")

	turns := c.Turns(true)
	result := turns[2].Contents[0].(core.ToolResult)
	assert.Equal(t, "Unknown tool", result.Error)
}

func TestChatToolResultsKeepRequestOrder(t *testing.T) {
	stub := &stubProvider{script: []*core.Turn{
		core.NewTurn(core.RoleAssistant,
			core.ToolRequest{ID: "a", Name: "echo", Arguments: map[string]any{"v": "first"}},
			core.ToolRequest{ID: "b", Name: "echo", Arguments: map[string]any{"v": "second"}},
			core.ToolRequest{ID: "c", Name: "echo", Arguments: map[string]any{"v": "third"}},
		),
		assistantText("ok"),
	}}

	c, err := New(stub)
	require.NoError(t, err)
	require.NoError(t, Register(c, "echo", "", func(ctx context.Context, args struct {
		V string `json:"v"`
	}) (any, error) {
		return args.V, nil
	}))

	_, err = c.Chat(context.Background(), "fan out")
	require.NoError(t, err)

	results := c.Turns(true)[2].Contents
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].(core.ToolResult).ID)
	assert.Equal(t, "b", results[1].(core.ToolResult).ID)
	assert.Equal(t, "c", results[2].(core.ToolResult).ID)
}

func TestStreamAndChatProduceSameHistory(t *testing.T) {
	run := func(chunkSize int) (string, int) {
		stub := &stubProvider{
			script:    []*core.Turn{assistantText("streamed reply")},
			chunkSize: chunkSize,
		}
		c, err := New(stub)
		require.NoError(t, err)

		resp, err := c.Stream(context.Background(), "hi")
		require.NoError(t, err)

		var sb strings.Builder
		for chunk := range resp.Chunks() {
			sb.WriteString(chunk)
		}
		require.NoError(t, resp.Err())
		return sb.String(), len(c.Turns(true))
	}

	oneChunk, turnsOne := run(0)
	manyChunks, turnsMany := run(1)
	assert.Equal(t, oneChunk, manyChunks)
	assert.Equal(t, "streamed reply", manyChunks)
	assert.Equal(t, turnsOne, turnsMany)
}

func TestResponseReplaysChunks(t *testing.T) {
	stub := &stubProvider{
		script:    []*core.Turn{assistantText("abc")},
		chunkSize: 1,
	}
	c, err := New(stub)
	require.NoError(t, err)

	resp, err := c.Stream(context.Background(), "hi")
	require.NoError(t, err)

	var first []string
	for chunk := range resp.Chunks() {
		first = append(first, chunk)
	}
	assert.True(t, resp.Consumed())

	var second []string
	for chunk := range resp.Chunks() {
		second = append(second, chunk)
	}
	assert.Equal(t, first, second, "replay must yield the same chunks")
	assert.Equal(t, "abc", resp.Text())
}

func TestResponsePartialThenFullIteration(t *testing.T) {
	stub := &stubProvider{
		script:    []*core.Turn{assistantText("abcdef")},
		chunkSize: 1,
	}
	c, err := New(stub)
	require.NoError(t, err)

	resp, err := c.Stream(context.Background(), "hi")
	require.NoError(t, err)

	seen := 0
	for range resp.Chunks() {
		seen++
		if seen == 2 {
			break
		}
	}
	assert.False(t, resp.Consumed())

	assert.Equal(t, "abcdef", resp.Text(), "second iteration resumes where the first stopped")
}

func TestTransportErrorLeavesHistoryUntouched(t *testing.T) {
	transportErr := errors.New("connection refused")
	stub := &stubProvider{err: transportErr}
	c, err := New(stub)
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, transportErr)
	assert.Empty(t, c.Turns(true))
}

func TestCancellationLeavesHistoryUntouched(t *testing.T) {
	stub := &stubProvider{
		script:    []*core.Turn{assistantText("a long reply")},
		chunkSize: 1,
	}
	c, err := New(stub)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	resp, err := c.Stream(ctx, "hi")
	require.NoError(t, err)
	cancel()

	resp.Wait()
	assert.ErrorIs(t, resp.Err(), context.Canceled)
	assert.Empty(t, c.Turns(true), "cancelled submission must not commit turns")
}

func TestSetTurnsRejectsSystemRole(t *testing.T) {
	stub := &stubProvider{}
	c, err := New(stub)
	require.NoError(t, err)

	err = c.SetTurns([]*core.Turn{
		core.TextTurn(core.RoleUser, "hi"),
		core.TextTurn(core.RoleSystem, "sneaky"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSystemTurn)
	assert.Contains(t, err.Error(), "turn 1")
}

func TestSystemPromptSlot(t *testing.T) {
	stub := &stubProvider{}
	c, err := New(stub, WithSystemPrompt("be brief"))
	require.NoError(t, err)

	assert.Equal(t, "be brief", c.SystemPrompt())
	assert.Empty(t, c.Turns(false))
	assert.Len(t, c.Turns(true), 1)

	c.SetSystemPrompt("be verbose")
	assert.Equal(t, "be verbose", c.SystemPrompt())
	assert.Len(t, c.Turns(true), 1, "replacing the prompt must not grow history")

	c.SetSystemPrompt("")
	assert.Empty(t, c.SystemPrompt())
	assert.Empty(t, c.Turns(true))
}

func TestHistoryRoundTrip(t *testing.T) {
	stub := &stubProvider{script: []*core.Turn{assistantText("reply")}}
	c, err := New(stub, WithSystemPrompt("rules"))
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "hi")
	require.NoError(t, err)

	saved := c.Turns(false)
	prompt := c.SystemPrompt()

	restored, err := New(&stubProvider{}, WithSystemPrompt(prompt), WithTurns(saved))
	require.NoError(t, err)

	assert.Equal(t, prompt, restored.SystemPrompt())
	assert.Equal(t, len(saved), len(restored.Turns(false)))
	assert.Equal(t, c.Turns(true), restored.Turns(true))
}

func TestExtractData(t *testing.T) {
	want := map[string]any{"name": "Ada", "age": float64(36)}
	stub := &stubProvider{script: []*core.Turn{
		core.NewTurn(core.RoleAssistant, core.JSON{Value: want}),
	}}
	c, err := New(stub)
	require.NoError(t, err)

	schema := &core.OutputSchema{
		Name: "person",
		Schema: &core.Schema{
			Type: "object",
			Properties: map[string]*core.Schema{
				"name": {Type: "string"},
				"age":  {Type: "integer"},
			},
		},
	}
	got, err := c.ExtractData(context.Background(), schema, "Ada, 36")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Len(t, stub.requests, 1)
	assert.NotNil(t, stub.requests[0].Output, "extraction must carry the output schema")
}

func TestExtractDataCountMismatch(t *testing.T) {
	schema := &core.OutputSchema{Name: "x", Schema: &core.Schema{Type: "object"}}

	stub := &stubProvider{script: []*core.Turn{assistantText("no json here")}}
	c, err := New(stub)
	require.NoError(t, err)

	_, err = c.ExtractData(context.Background(), schema, "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtraction)
	assert.Contains(t, err.Error(), "0 data results")

	stub = &stubProvider{script: []*core.Turn{
		core.NewTurn(core.RoleAssistant, core.JSON{Value: 1}, core.JSON{Value: 2}),
	}}
	c, err = New(stub)
	require.NoError(t, err)

	_, err = c.ExtractData(context.Background(), schema, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 data results")
}

func TestWarningsTravelWithResponse(t *testing.T) {
	stub := &stubProvider{
		script: []*core.Turn{assistantText("degraded")},
		warnings: [][]core.Warning{{
			{Code: core.WarnMalformedToolArgs, Message: "tool x: bad json"},
		}},
	}
	c, err := New(stub)
	require.NoError(t, err)

	resp, err := c.Chat(context.Background(), "hi")
	require.NoError(t, err)

	warnings := resp.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, core.WarnMalformedToolArgs, warnings[0].Code)
}

func TestSubmissionsSerialize(t *testing.T) {
	stub := &stubProvider{script: []*core.Turn{
		assistantText("one"),
		assistantText("two"),
	}}
	c, err := New(stub)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Chat(context.Background(), "hi")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, c.Turns(true), 4, "both submissions must commit exactly one pair each")
}

func TestEventsPublishedInOrder(t *testing.T) {
	stub := &stubProvider{script: []*core.Turn{
		core.NewTurn(core.RoleAssistant, core.ToolRequest{ID: "1", Name: "noop", Arguments: map[string]any{}}),
		assistantText("ok"),
	}}

	bus := event.NewBus()
	var mu sync.Mutex
	var types []event.Type
	bus.SubscribeAll(func(ev event.Event) {
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
	})

	c, err := New(stub, WithBus(bus))
	require.NoError(t, err)
	require.NoError(t, Register(c, "noop", "", func(ctx context.Context, args struct{}) (any, error) {
		return nil, nil
	}))

	_, err = c.Chat(context.Background(), "hi")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, event.RequestStart, types[0])
	assert.Equal(t, event.Done, types[len(types)-1])

	var starts, tools int
	for _, typ := range types {
		switch typ {
		case event.RequestStart:
			starts++
		case event.ToolStart:
			tools++
		}
	}
	assert.Equal(t, 2, starts)
	assert.Equal(t, 1, tools)
}

func TestTokenUsage(t *testing.T) {
	turn := assistantText("hi")
	turn.Tokens = &core.Tokens{Input: 12, Output: 7}
	stub := &stubProvider{script: []*core.Turn{turn}}

	c, err := New(stub)
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "hello")
	require.NoError(t, err)

	in, out := c.TokenUsage()
	assert.Equal(t, 12, in)
	assert.Equal(t, 7, out)
}
