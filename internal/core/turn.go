package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies which participant produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Tokens is the token accounting reported by the provider for one exchange.
type Tokens struct {
	Input  int
	Output int
}

// Turn is one participant's contribution to the conversation: a role plus
// an ordered sequence of Content. Contents are fixed at construction; once
// a turn is committed to history it is never modified.
type Turn struct {
	Role         Role
	Contents     []Content
	Tokens       *Tokens
	FinishReason string

	// Raw is the provider's payload the turn was built from, kept for
	// debugging only.
	Raw json.RawMessage
}

// NewTurn builds a turn from an explicit content list.
func NewTurn(role Role, contents ...Content) *Turn {
	return &Turn{Role: role, Contents: contents}
}

// TextTurn builds a turn holding a single text content.
func TextTurn(role Role, text string) *Turn {
	return NewTurn(role, Text{Text: text})
}

// UserTurn wraps caller input as a user turn. Strings become Text contents
// and Content values pass through unchanged; anything else is rejected.
func UserTurn(parts ...any) (*Turn, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("user turn requires at least one input")
	}
	contents := make([]Content, 0, len(parts))
	for i, part := range parts {
		switch v := part.(type) {
		case string:
			contents = append(contents, Text{Text: v})
		case Content:
			contents = append(contents, v)
		default:
			return nil, fmt.Errorf("input %d: unsupported type %T", i, part)
		}
	}
	return NewTurn(RoleUser, contents...), nil
}

// Text concatenates the turn's text contents.
func (t *Turn) Text() string {
	var sb strings.Builder
	for _, c := range t.Contents {
		if txt, ok := c.(Text); ok {
			sb.WriteString(txt.Text)
		}
	}
	return sb.String()
}

// HasToolRequests reports whether the turn contains any tool request.
func (t *Turn) HasToolRequests() bool {
	for _, c := range t.Contents {
		if _, ok := c.(ToolRequest); ok {
			return true
		}
	}
	return false
}

func (t *Turn) String() string {
	parts := make([]string, 0, len(t.Contents))
	for _, c := range t.Contents {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, "\n\n")
}

// NormalizeTurns enforces the system-turn invariant on an initial turn
// list: at most one system turn, and always first. A non-empty
// systemPrompt is inserted at the front unless the list already starts
// with the identical prompt; a differing one is a conflict.
func NormalizeTurns(turns []*Turn, systemPrompt string) ([]*Turn, error) {
	for i, turn := range turns {
		if turn.Role == RoleSystem && i > 0 {
			return nil, fmt.Errorf("turn %d has role %q but only the first turn may", i, RoleSystem)
		}
	}
	if systemPrompt == "" {
		return turns, nil
	}
	if len(turns) > 0 && turns[0].Role == RoleSystem {
		if turns[0].Text() != systemPrompt {
			return nil, fmt.Errorf("system prompt conflicts with the existing system turn")
		}
		return turns, nil
	}
	out := make([]*Turn, 0, len(turns)+1)
	out = append(out, TextTurn(RoleSystem, systemPrompt))
	return append(out, turns...), nil
}
