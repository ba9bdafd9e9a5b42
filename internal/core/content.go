// Package core defines the conversation data model shared by the chat
// engine and the provider adapters: content variants, turns, and the
// provider contract.
package core

import (
	"encoding/json"
	"fmt"
)

// Content is one typed unit inside a Turn. The set of variants is closed:
// every consumer type-switches over the concrete types below, and adding a
// variant requires updating each switch site.
type Content interface {
	// String renders the content as display text.
	String() string

	isContent()
}

// Text is plain text content.
type Text struct {
	Text string
}

func (t Text) String() string { return t.Text }
func (Text) isContent()       {}

// JSON holds the result of a structured-data extraction.
type JSON struct {
	Value any
}

func (j JSON) String() string {
	data, err := json.Marshal(j.Value)
	if err != nil {
		return fmt.Sprintf("%v", j.Value)
	}
	return string(data)
}
func (JSON) isContent() {}

// ImageRemote references an image by URL.
type ImageRemote struct {
	URL string
}

func (i ImageRemote) String() string { return fmt.Sprintf("![](%s)", i.URL) }
func (ImageRemote) isContent()       {}

// ImageInline carries base64-encoded image data.
type ImageInline struct {
	ContentType string
	Data        string
}

func (i ImageInline) String() string {
	return fmt.Sprintf("![](data:%s;base64,%s)", i.ContentType, i.Data)
}
func (ImageInline) isContent() {}

// ToolRequest is the model asking for a registered tool to be invoked.
// Arguments is the decoded JSON value the model supplied (usually a
// map[string]any of named parameters).
type ToolRequest struct {
	ID        string
	Name      string
	Arguments any
}

func (r ToolRequest) String() string {
	args, err := json.Marshal(r.Arguments)
	if err != nil {
		args = []byte("{}")
	}
	return fmt.Sprintf("// tool request (%s)\n%s(%s)", r.ID, r.Name, args)
}
func (ToolRequest) isContent() {}

// ToolResult is the outcome of one tool invocation, matched to its request
// by ID. Exactly one of Value and Error is meaningful; a void tool that
// succeeded has both empty.
type ToolResult struct {
	ID    string
	Value any
	Error string
}

// OK reports whether the invocation succeeded.
func (r ToolResult) OK() bool { return r.Error == "" }

// FinalValue renders the result the way it is sent back to the model:
// the stringified value on success, an error sentence on failure.
func (r ToolResult) FinalValue() string {
	if r.Error != "" {
		return fmt.Sprintf("Tool calling failed with error: '%s'", r.Error)
	}
	switch v := r.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func (r ToolResult) String() string {
	return fmt.Sprintf("// tool result (%s)\n%s", r.ID, r.FinalValue())
}
func (ToolResult) isContent() {}
