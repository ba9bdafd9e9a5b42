package core

import "context"

// Schema is a JSON-shaped parameter description, the subset of JSON Schema
// the tool registry and the providers agree on.
type Schema struct {
	Type                 string             `json:"type"`
	Description          string             `json:"description,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	AdditionalProperties *Schema            `json:"additionalProperties,omitempty"`
	Enum                 []string           `json:"enum,omitempty"`
}

// ToolSchema is the declared signature of one registered tool, as sent to
// the provider.
type ToolSchema struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Parameters  *Schema `json:"parameters"`
}

// OutputSchema describes the structure requested from a structured-output
// (data extraction) round.
type OutputSchema struct {
	Name        string
	Description string
	Schema      *Schema
}

// Request is one completion request: the full turn history plus the tool
// schema set and an optional structured-output schema.
type Request struct {
	Turns       []*Turn
	Tools       []ToolSchema
	Output      *OutputSchema
	MaxTokens   int
	Temperature float32
}

// Chunk is one incremental unit of a streamed response, as raw provider
// JSON.
type Chunk struct {
	Raw []byte
}

// Accumulated is the running structural merge of all chunks seen so far in
// one streamed submission. Its shape is provider-defined; the engine only
// threads it through MergeChunk and StreamTurn.
type Accumulated map[string]any

// RawResponse is a complete non-streamed provider response body.
type RawResponse struct {
	Raw []byte
}

// ChunkStream is a cancellable sequence of response chunks. Close releases
// the underlying transport and must be called when the stream is abandoned
// before exhaustion.
type ChunkStream interface {
	Next() bool
	Current() Chunk
	Err() error
	Close() error
}

// Warning records a recoverable anomaly found while converting a provider
// response into a Turn (malformed structured output, malformed tool-call
// arguments). Warnings travel with the response instead of being emitted
// through ambient logging, so callers can inspect or suppress them.
type Warning struct {
	Code    string
	Message string
}

// Warning codes.
const (
	WarnMalformedJSON     = "malformed_json"
	WarnMalformedToolArgs = "malformed_tool_args"
)

// Provider is the backend abstraction: it performs completion requests
// against one remote model service and converts that service's response
// shapes into Turns.
//
// Transport and auth failures from Perform and PerformStream must surface
// to the caller unmodified; retries belong to the transport, not here.
// Malformed model output never fails a conversion: StreamTurn and
// ValueTurn degrade it into Warnings alongside a Turn built from whatever
// parsed.
type Provider interface {
	// Name identifies the backend, for logging and events.
	Name() string

	// Perform sends a non-streaming completion request.
	Perform(ctx context.Context, req Request) (*RawResponse, error)

	// PerformStream sends a streaming completion request.
	PerformStream(ctx context.Context, req Request) (ChunkStream, error)

	// StreamText extracts the human-visible text delta carried by one
	// chunk. The second result is false when the chunk carries none.
	StreamText(chunk Chunk) (string, bool)

	// MergeChunk folds one chunk into the running accumulation. A nil
	// accumulated value means the chunk is the first.
	MergeChunk(acc Accumulated, chunk Chunk) Accumulated

	// StreamTurn converts the fully accumulated streaming result into an
	// assistant Turn once the stream is exhausted.
	StreamTurn(acc Accumulated, hasOutputSchema bool) (*Turn, []Warning, error)

	// ValueTurn converts a non-streamed response into an assistant Turn.
	ValueTurn(resp *RawResponse, hasOutputSchema bool) (*Turn, []Warning, error)
}
