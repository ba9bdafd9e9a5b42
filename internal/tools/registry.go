// Package tools manages the caller-registered functions the model may
// invoke: name lookup, parameter schemas, argument validation, and the
// conversion of every invocation outcome into an in-band tool result.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/yukin371/palaver/internal/core"
	"github.com/yukin371/palaver/pkg/logger"
)

// ErrUnknownTool is the in-band error text for a request naming an
// unregistered tool.
const ErrUnknownTool = "Unknown tool"

// Func is the invocation shape every registered tool is wrapped into.
// Arguments arrive as the raw JSON the model supplied.
type Func func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is one registry entry: a unique name, a declared parameter schema,
// and the function to invoke.
type Tool struct {
	Name        string
	Description string
	Schema      *core.Schema
	Func        Func
}

type entry struct {
	tool     Tool
	compiled *jsonschema.Schema
}

// Registry maps tool names to invocable tools. Entries live for the
// registry's lifetime and are never mutated; re-registering a name
// replaces the entry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry
	log   *logger.Logger
}

// NewRegistry creates an empty registry. A nil log falls back to the
// package default logger.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Default()
	}
	return &Registry{
		tools: make(map[string]*entry),
		log:   log,
	}
}

// Register derives a parameter schema from the argument type T and
// registers fn under name. T is usually a struct whose fields are the
// tool's named parameters; a scalar T means the tool takes one positional
// argument.
func Register[T any](r *Registry, name, description string, fn func(ctx context.Context, args T) (any, error)) error {
	schema, err := SchemaFor(reflect.TypeFor[T]())
	if err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}
	return r.Add(Tool{
		Name:        name,
		Description: description,
		Schema:      schema,
		Func: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args T
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, fmt.Errorf("invalid arguments: %w", err)
				}
			}
			return fn(ctx, args)
		},
	})
}

// Add registers a tool with an explicit schema, which takes precedence
// over anything Register would infer. The schema is compiled immediately
// so a malformed one fails registration, not the first invocation. The
// last registration under a name wins.
func (r *Registry) Add(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if tool.Func == nil {
		return fmt.Errorf("tool %s: function must not be nil", tool.Name)
	}
	compiled, err := compile(tool.Name, tool.Schema)
	if err != nil {
		return fmt.Errorf("tool %s: invalid schema: %w", tool.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = &entry{tool: tool, compiled: compiled}
	return nil
}

func compile(name string, schema *core.Schema) (*jsonschema.Schema, error) {
	if schema == nil {
		return nil, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	return jsonschema.CompileString(name+".schema.json", string(data))
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return e.tool, true
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Schemas returns the declared tool schemas in name order, ready to send
// to a provider.
func (r *Registry) Schemas() []core.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]core.ToolSchema, 0, len(r.tools))
	for _, e := range r.tools {
		schemas = append(schemas, core.ToolSchema{
			Name:        e.tool.Name,
			Description: e.tool.Description,
			Parameters:  e.tool.Schema,
		})
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Invoke runs the tool named by req and captures the outcome as a
// ToolResult. An invocation never fails the caller: unknown names, bad
// arguments, returned errors, and panics all become the result's Error.
func (r *Registry) Invoke(ctx context.Context, req core.ToolRequest) core.ToolResult {
	r.mu.RLock()
	e, ok := r.tools[req.Name]
	r.mu.RUnlock()

	if !ok {
		r.log.Warn("tool request for unregistered tool %q", req.Name)
		return core.ToolResult{ID: req.ID, Error: ErrUnknownTool}
	}

	if args, isObject := req.Arguments.(map[string]any); isObject && e.compiled != nil {
		if err := e.compiled.Validate(args); err != nil {
			r.log.Warn("tool %s: argument validation failed: %v", req.Name, err)
			return core.ToolResult{ID: req.ID, Error: err.Error()}
		}
	}

	raw, err := json.Marshal(req.Arguments)
	if err != nil {
		return core.ToolResult{ID: req.ID, Error: fmt.Sprintf("unencodable arguments: %v", err)}
	}

	value, err := r.call(ctx, e.tool, raw)
	if err != nil {
		r.log.Warn("tool %s failed: %v", req.Name, err)
		return core.ToolResult{ID: req.ID, Error: err.Error()}
	}
	return core.ToolResult{ID: req.ID, Value: value}
}

// call invokes the tool function, converting a panic into an error so a
// misbehaving tool cannot terminate the submission loop.
func (r *Registry) call(ctx context.Context, tool Tool, raw json.RawMessage) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()
	return tool.Func(ctx, raw)
}
