// Package tools implements the assistant's tool surface: tool
// definitions with derived JSON schemas, argument validation, and the
// invoker that bridges model-requested calls into conversation history.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"

	"github.com/pennaio/penna/internal/conversation"
)

var (
	// ErrUnknownTool indicates the model requested a tool that is not
	// registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments indicates tool arguments failed schema
	// validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrToolFailed indicates a tool ran and failed without a
	// degraded result to fall back on.
	ErrToolFailed = errors.New("tool failed")
)

// Definition is one registered tool: metadata, a derived argument
// schema, and a type-erased run function. Build with NewTool.
type Definition struct {
	name        string
	description string
	schema      *jsonschema.Schema
	resolved    *jsonschema.Resolved
	resolve     func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error)
	register    func(g *genkit.Genkit) ai.ToolRef

	// failSoft tools substitute degraded for their result instead of
	// failing the turn when run returns an error.
	failSoft bool
	degraded json.RawMessage
}

// Name returns the tool's wire name.
func (d *Definition) Name() string { return d.name }

// Description returns the prose the model uses to decide when to call
// the tool.
func (d *Definition) Description() string { return d.description }

// Schema returns the derived argument schema.
func (d *Definition) Schema() *jsonschema.Schema { return d.schema }

// NewTool builds a Definition whose argument schema is derived from In.
// run receives validated, decoded arguments.
func NewTool[In, Out any](name, description string, run func(ctx context.Context, in In) (Out, error)) (*Definition, error) {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return nil, fmt.Errorf("derive schema for tool %q: %w", name, err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema for tool %q: %w", name, err)
	}

	d := &Definition{
		name:        name,
		description: description,
		schema:      schema,
		resolved:    resolved,
	}
	d.resolve = func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var in In
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
			}
		}
		out, err := run(ctx, in)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("encode result of tool %q: %w", name, err)
		}
		return encoded, nil
	}
	d.register = func(g *genkit.Genkit) ai.ToolRef {
		return genkit.DefineTool(g, name, description,
			func(tc *ai.ToolContext, in In) (Out, error) {
				return run(tc.Context, in)
			})
	}
	return d, nil
}

// FailSoft marks the definition as degradable: when run fails, degraded
// is recorded as the tool result and the turn continues.
func (d *Definition) FailSoft(degraded any) *Definition {
	encoded, err := json.Marshal(degraded)
	if err != nil {
		panic(fmt.Sprintf("tools: encode degraded result for %q: %v", d.name, err))
	}
	d.failSoft = true
	d.degraded = encoded
	return d
}

// Invocation is the record of one completed tool call: the identifiers
// already appended to the conversation plus the result payload.
type Invocation struct {
	ToolName string
	CallID   string
	Result   json.RawMessage

	// Degraded is true when the tool failed and the recorded result is
	// its registered fallback payload.
	Degraded bool
}

// Invoker validates and executes model-requested tool calls, recording
// each call and its result as a message pair on the conversation.
type Invoker struct {
	defs   map[string]*Definition
	order  []string
	logger *slog.Logger
}

// NewInvoker creates an invoker with the given registered tools.
func NewInvoker(logger *slog.Logger, defs ...*Definition) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	inv := &Invoker{defs: make(map[string]*Definition, len(defs)), logger: logger}
	for _, d := range defs {
		inv.defs[d.name] = d
		inv.order = append(inv.order, d.name)
	}
	return inv
}

// RegisterGenkit defines every tool on g and returns the references to
// advertise on generation requests. Execution still goes through
// Invoke; the references only carry schemas to the model.
func (inv *Invoker) RegisterGenkit(g *genkit.Genkit) []ai.ToolRef {
	refs := make([]ai.ToolRef, 0, len(inv.order))
	for _, name := range inv.order {
		refs = append(refs, inv.defs[name].register(g))
	}
	return refs
}

// Invoke runs one model-requested tool call against conv.
//
// Every known-tool invocation appends exactly two messages, the call
// and its result, in that order. Arguments failing schema validation
// are rejected before the tool runs; the failure is recorded as the
// tool result so the turn still settles with well-formed history.
// Fail-soft tools likewise record their degraded payload on error.
// Unknown tools append nothing; fail-hard tool errors leave the call
// message in place and return an error.
func (inv *Invoker) Invoke(ctx context.Context, conv *conversation.Conversation, toolName string, args json.RawMessage) (*Invocation, error) {
	def, ok := inv.defs[toolName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, toolName)
	}

	callID := uuid.NewString()

	if err := def.validateArgs(args); err != nil {
		inv.logger.Warn("rejected tool arguments",
			"tool", toolName, "call_id", callID, "error", err)
		result, encErr := json.Marshal(map[string]string{"error": err.Error()})
		if encErr != nil {
			return nil, fmt.Errorf("encode validation failure for tool %q: %w", toolName, encErr)
		}
		conv.Append(conversation.NewToolCallMessage(toolName, callID, args))
		conv.Append(conversation.NewToolResultMessage(toolName, callID, result))
		return &Invocation{ToolName: toolName, CallID: callID, Result: result, Degraded: true}, nil
	}

	conv.Append(conversation.NewToolCallMessage(toolName, callID, args))

	result, err := def.resolve(ctx, args)
	degraded := false
	if err != nil {
		if !def.failSoft {
			return nil, fmt.Errorf("%w: %s: %v", ErrToolFailed, toolName, err)
		}
		inv.logger.Warn("tool degraded to fallback result",
			"tool", toolName, "call_id", callID, "error", err)
		result = def.degraded
		degraded = true
	}

	conv.Append(conversation.NewToolResultMessage(toolName, callID, result))
	return &Invocation{ToolName: toolName, CallID: callID, Result: result, Degraded: degraded}, nil
}

func (d *Definition) validateArgs(args json.RawMessage) error {
	var instance any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &instance); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
	}
	if err := d.resolved.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}
