// Package model defines the language-model backend protocol consumed by the
// session controller, plus the production Genkit adapter.
//
// A backend turns one generation request into an ordered sequence of
// events: text deltas while the model writes prose, or tool invocations
// when it asks for a side-effecting operation. The controller owns all
// state transitions; backends only report what the model emitted.
package model

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/pennaio/penna/internal/conversation"
)

// ErrGenerationFailed indicates the model backend request itself failed
// (network, auth, rate limit). Turns fail hard on it: nothing is committed.
var ErrGenerationFailed = errors.New("generation failed")

// Request carries one generation turn's input.
type Request struct {
	// Model is the provider-qualified model name; empty uses the
	// backend's default.
	Model string

	// System is the fixed system instruction describing the assistant's
	// persona and capabilities.
	System string

	// Messages is the full ordered conversation history.
	Messages []conversation.Message
}

// Event is the tagged union of backend response events.
type Event interface {
	isEvent()
}

// TextDelta is an incremental fragment of generated text. Cumulative is the
// text so far; Final marks the last event of a text response.
type TextDelta struct {
	Delta      string
	Cumulative string
	Final      bool
}

func (TextDelta) isEvent() {}

// ToolInvocation is a model-initiated request to run a registered tool.
type ToolInvocation struct {
	Name      string
	Arguments json.RawMessage
}

func (ToolInvocation) isEvent() {}

// EmitFunc receives backend events in emission order. Returning an error
// aborts the generation.
type EmitFunc func(ctx context.Context, ev Event) error

// Backend generates a model response for one turn, delivering events
// through emit as they become available.
type Backend interface {
	Generate(ctx context.Context, req Request, emit EmitFunc) error
}
