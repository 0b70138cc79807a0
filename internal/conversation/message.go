// Package conversation holds the authoritative conversation state: the
// message data model, the per-conversation store with optimistic append and
// atomic commit, and the read-only render projection.
//
// Message content is an explicit sum type, PlainText for ordinary user and
// assistant turns and Parts for tool interactions, rather than shape-sniffing
// at render time. The JSON encoding round-trips losslessly and is what the
// archive stores as JSONB.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

// Valid message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ErrMalformedMessage indicates a message that fails structural decoding.
var ErrMalformedMessage = errors.New("malformed message")

// Message is a single conversation entry. Once a turn settles, its messages
// are immutable; only the trailing in-progress assistant text (held in a
// stream.Text, not here) mutates before completion.
type Message struct {
	ID      string
	Role    Role
	Content Content
}

// Content is the tagged union of message content shapes.
type Content interface {
	isContent()
}

// PlainText is ordinary textual content, the common case for user and
// assistant turns.
type PlainText string

func (PlainText) isContent() {}

// Parts is structured content: an ordered sequence of tool-call and
// tool-result parts.
type Parts []Part

func (Parts) isContent() {}

// Part is the tagged union of structured content parts.
type Part interface {
	isPart()
}

// ToolCall records a model-initiated tool invocation request.
type ToolCall struct {
	ToolName  string
	CallID    string
	Arguments json.RawMessage
}

func (ToolCall) isPart() {}

// ToolResult records the outcome of a prior ToolCall. CallID must match the
// ToolCall it resolves.
type ToolResult struct {
	ToolName string
	CallID   string
	Result   json.RawMessage
}

func (ToolResult) isPart() {}

// NewUserMessage creates a user message with a fresh id.
func NewUserMessage(text string) Message {
	return Message{ID: uuid.NewString(), Role: RoleUser, Content: PlainText(text)}
}

// NewAssistantMessage creates an assistant text message with a fresh id.
func NewAssistantMessage(text string) Message {
	return Message{ID: uuid.NewString(), Role: RoleAssistant, Content: PlainText(text)}
}

// NewToolCallMessage creates the assistant-role message that records a tool
// invocation.
func NewToolCallMessage(toolName, callID string, args json.RawMessage) Message {
	return Message{
		ID:      uuid.NewString(),
		Role:    RoleAssistant,
		Content: Parts{ToolCall{ToolName: toolName, CallID: callID, Arguments: args}},
	}
}

// NewToolResultMessage creates the tool-role message that records a tool's
// result for the matching call id.
func NewToolResultMessage(toolName, callID string, result json.RawMessage) Message {
	return Message{
		ID:      uuid.NewString(),
		Role:    RoleTool,
		Content: Parts{ToolResult{ToolName: toolName, CallID: callID, Result: result}},
	}
}

// Text returns the plain-text content and true, or "" and false when the
// message carries structured parts.
func (m Message) Text() (string, bool) {
	if t, ok := m.Content.(PlainText); ok {
		return string(t), true
	}
	return "", false
}

// Wire-format part type tags, matching the shape the model tooling and the
// archive expect.
const (
	partTypeToolCall   = "tool-call"
	partTypeToolResult = "tool-result"
)

type messageJSON struct {
	ID      string          `json:"id"`
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

type partJSON struct {
	Type     string          `json:"type"`
	ToolName string          `json:"toolName"`
	CallID   string          `json:"toolCallId"`
	Args     json.RawMessage `json:"args,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// MarshalJSON encodes plain text content as a JSON string and structured
// content as an array of tagged part objects.
func (m Message) MarshalJSON() ([]byte, error) {
	mj := messageJSON{ID: m.ID, Role: m.Role}

	switch c := m.Content.(type) {
	case PlainText:
		raw, err := json.Marshal(string(c))
		if err != nil {
			return nil, fmt.Errorf("encoding text content: %w", err)
		}
		mj.Content = raw
	case Parts:
		parts := make([]partJSON, 0, len(c))
		for _, p := range c {
			switch pt := p.(type) {
			case ToolCall:
				parts = append(parts, partJSON{
					Type:     partTypeToolCall,
					ToolName: pt.ToolName,
					CallID:   pt.CallID,
					Args:     pt.Arguments,
				})
			case ToolResult:
				parts = append(parts, partJSON{
					Type:     partTypeToolResult,
					ToolName: pt.ToolName,
					CallID:   pt.CallID,
					Result:   pt.Result,
				})
			default:
				return nil, fmt.Errorf("%w: unknown part type %T", ErrMalformedMessage, p)
			}
		}
		raw, err := json.Marshal(parts)
		if err != nil {
			return nil, fmt.Errorf("encoding parts content: %w", err)
		}
		mj.Content = raw
	case nil:
		return nil, fmt.Errorf("%w: nil content", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: unknown content type %T", ErrMalformedMessage, m.Content)
	}

	return json.Marshal(mj)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var mj messageJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	m.ID = mj.ID
	m.Role = mj.Role

	// A JSON string is plain text; an array is structured parts.
	var text string
	if err := json.Unmarshal(mj.Content, &text); err == nil {
		m.Content = PlainText(text)
		return nil
	}

	var rawParts []partJSON
	if err := json.Unmarshal(mj.Content, &rawParts); err != nil {
		return fmt.Errorf("%w: content is neither string nor part array: %w", ErrMalformedMessage, err)
	}

	parts := make(Parts, 0, len(rawParts))
	for _, pj := range rawParts {
		switch pj.Type {
		case partTypeToolCall:
			parts = append(parts, ToolCall{ToolName: pj.ToolName, CallID: pj.CallID, Arguments: pj.Args})
		case partTypeToolResult:
			parts = append(parts, ToolResult{ToolName: pj.ToolName, CallID: pj.CallID, Result: pj.Result})
		default:
			return fmt.Errorf("%w: unknown part type %q", ErrMalformedMessage, pj.Type)
		}
	}
	m.Content = parts
	return nil
}

// ValidateToolPairing checks that every ToolResult in the sequence resolves
// a ToolCall that appears earlier (same or prior message).
func ValidateToolPairing(msgs []Message) error {
	seen := make(map[string]bool)
	for _, m := range msgs {
		parts, ok := m.Content.(Parts)
		if !ok {
			continue
		}
		for _, p := range parts {
			switch pt := p.(type) {
			case ToolCall:
				seen[pt.CallID] = true
			case ToolResult:
				if !seen[pt.CallID] {
					return fmt.Errorf("%w: tool result %q has no matching tool call", ErrMalformedMessage, pt.CallID)
				}
			}
		}
	}
	return nil
}
