package openai

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/yukin371/palaver/internal/core"
	"github.com/yukin371/palaver/internal/merge"
)

// appendKeys are the accumulation keys whose string values grow by
// concatenation across chunks instead of being overwritten.
var appendKeys = map[string]bool{
	"content":   true,
	"arguments": true,
	"refusal":   true,
}

// StreamText pulls the visible text delta out of one chunk.
func (p *Provider) StreamText(chunk core.Chunk) (string, bool) {
	text := gjson.GetBytes(chunk.Raw, "choices.0.delta.content")
	if !text.Exists() {
		return "", false
	}
	return text.String(), true
}

// MergeChunk folds a chunk into the running accumulation. Chunks that do
// not parse as JSON objects are dropped.
func (p *Provider) MergeChunk(acc core.Accumulated, chunk core.Chunk) core.Accumulated {
	var parsed map[string]any
	if err := json.Unmarshal(chunk.Raw, &parsed); err != nil {
		return acc
	}
	return merge.Maps(acc, parsed, merge.Options{AppendKeys: appendKeys})
}

// StreamTurn converts the accumulated stream into an assistant turn. The
// accumulated delta plays the role of a complete message.
func (p *Provider) StreamTurn(acc core.Accumulated, hasOutputSchema bool) (*core.Turn, []core.Warning, error) {
	if acc == nil {
		return nil, nil, fmt.Errorf("empty stream: no chunks accumulated")
	}
	choice, err := firstChoice(acc)
	if err != nil {
		return nil, nil, err
	}
	message, _ := choice["delta"].(map[string]any)
	if message == nil {
		return nil, nil, fmt.Errorf("stream accumulation has no delta")
	}
	raw, _ := json.Marshal(acc)
	return asTurn(message, choice, acc, raw, hasOutputSchema)
}

// ValueTurn converts a non-streamed response body into an assistant turn.
func (p *Provider) ValueTurn(resp *core.RawResponse, hasOutputSchema bool) (*core.Turn, []core.Warning, error) {
	var payload map[string]any
	if err := json.Unmarshal(resp.Raw, &payload); err != nil {
		return nil, nil, fmt.Errorf("parsing response: %w", err)
	}
	choice, err := firstChoice(payload)
	if err != nil {
		return nil, nil, err
	}
	message, _ := choice["message"].(map[string]any)
	if message == nil {
		return nil, nil, fmt.Errorf("response has no message")
	}
	return asTurn(message, choice, payload, resp.Raw, hasOutputSchema)
}

func firstChoice(payload map[string]any) (map[string]any, error) {
	choices, _ := payload["choices"].([]any)
	if len(choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}
	choice, _ := choices[0].(map[string]any)
	if choice == nil {
		return nil, fmt.Errorf("response choice is not an object")
	}
	return choice, nil
}

// asTurn builds the assistant turn from a message object. Malformed model
// output degrades into warnings: unparseable structured output falls back
// to text, unparseable tool arguments become an empty argument object.
func asTurn(message, choice, payload map[string]any, raw []byte, hasOutputSchema bool) (*core.Turn, []core.Warning, error) {
	var contents []core.Content
	var warnings []core.Warning

	if text, _ := message["content"].(string); text != "" {
		if hasOutputSchema {
			var value any
			if err := json.Unmarshal([]byte(text), &value); err != nil {
				warnings = append(warnings, core.Warning{
					Code:    core.WarnMalformedJSON,
					Message: fmt.Sprintf("structured output is not valid JSON: %v", err),
				})
				contents = append(contents, core.Text{Text: text})
			} else {
				contents = append(contents, core.JSON{Value: value})
			}
		} else {
			contents = append(contents, core.Text{Text: text})
		}
	}

	toolCalls, _ := message["tool_calls"].([]any)
	for _, tc := range toolCalls {
		call, _ := tc.(map[string]any)
		if call == nil {
			continue
		}
		request, warning := asToolRequest(call)
		if warning != nil {
			warnings = append(warnings, *warning)
		}
		contents = append(contents, request)
	}

	turn := core.NewTurn(core.RoleAssistant, contents...)
	turn.Raw = raw
	if reason, _ := choice["finish_reason"].(string); reason != "" {
		turn.FinishReason = reason
	}
	if usage, _ := payload["usage"].(map[string]any); usage != nil {
		turn.Tokens = &core.Tokens{
			Input:  intField(usage, "prompt_tokens"),
			Output: intField(usage, "completion_tokens"),
		}
	}
	return turn, warnings, nil
}

func asToolRequest(call map[string]any) (core.ToolRequest, *core.Warning) {
	id, _ := call["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	function, _ := call["function"].(map[string]any)
	name, _ := function["name"].(string)
	rawArgs, _ := function["arguments"].(string)

	var args any = map[string]any{}
	var warning *core.Warning
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			warning = &core.Warning{
				Code:    core.WarnMalformedToolArgs,
				Message: fmt.Sprintf("tool %s: arguments are not valid JSON: %v", name, err),
			}
			args = map[string]any{}
		}
	}
	return core.ToolRequest{ID: id, Name: name, Arguments: args}, warning
}

func intField(m map[string]any, key string) int {
	if f, ok := m[key].(float64); ok {
		return int(f)
	}
	return 0
}
