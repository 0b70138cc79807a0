package model

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/pennaio/penna/internal/conversation"
)

// GenkitBackend adapts the Genkit generation API to the Backend protocol.
// Tool execution stays with the caller: requests are surfaced as
// ToolInvocation events instead of being run by the framework.
type GenkitBackend struct {
	g       *genkit.Genkit
	tools   []ai.ToolRef
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewGenkitBackend wraps an initialized Genkit instance. tools lists the
// tool references advertised to the model on every request; limiter
// throttles outbound model calls and may be nil.
func NewGenkitBackend(g *genkit.Genkit, tools []ai.ToolRef, limiter *rate.Limiter, logger *slog.Logger) *GenkitBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenkitBackend{g: g, tools: tools, limiter: limiter, logger: logger}
}

// Generate runs one model turn. Streaming chunks are forwarded as
// TextDelta events; any tool requests in the final response become
// ToolInvocation events. A turn that streamed no text and requested no
// tool yields a single final empty TextDelta, which the caller maps to
// its fallback reply.
func (b *GenkitBackend) Generate(ctx context.Context, req Request, emit EmitFunc) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limit wait: %v", ErrGenerationFailed, err)
		}
	}

	msgs, err := toGenkitMessages(req.Messages)
	if err != nil {
		return err
	}

	var cumulative string
	opts := []ai.GenerateOption{
		ai.WithSystem(req.System),
		ai.WithMessages(msgs...),
		ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			delta := chunk.Text()
			if delta == "" {
				return nil
			}
			cumulative += delta
			return emit(ctx, TextDelta{Delta: delta, Cumulative: cumulative})
		}),
	}
	if req.Model != "" {
		opts = append(opts, ai.WithModelName(req.Model))
	}
	if len(b.tools) > 0 {
		opts = append(opts, ai.WithTools(b.tools...), ai.WithReturnToolRequests(true))
	}

	resp, err := genkit.Generate(ctx, b.g, opts...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	if reqs := resp.ToolRequests(); len(reqs) > 0 {
		for _, tr := range reqs {
			args, err := json.Marshal(tr.Input)
			if err != nil {
				return fmt.Errorf("%w: encode tool arguments for %q: %v", ErrGenerationFailed, tr.Name, err)
			}
			if err := emit(ctx, ToolInvocation{Name: tr.Name, Arguments: args}); err != nil {
				return err
			}
		}
		return nil
	}

	final := resp.Text()
	delta := ""
	if len(final) > len(cumulative) && final[:len(cumulative)] == cumulative {
		delta = final[len(cumulative):]
	} else if final != cumulative {
		// Non-streaming providers return the whole text only here.
		delta = final
	}
	return emit(ctx, TextDelta{Delta: delta, Cumulative: final, Final: true})
}

// Complete runs a single non-streaming prompt and returns the generated
// text. Used for auxiliary generations that do not belong to a
// conversation turn.
func (b *GenkitBackend) Complete(ctx context.Context, modelName, prompt string) (string, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: rate limit wait: %v", ErrGenerationFailed, err)
		}
	}
	opts := []ai.GenerateOption{ai.WithPrompt("%s", prompt)}
	if modelName != "" {
		opts = append(opts, ai.WithModelName(modelName))
	}
	resp, err := genkit.Generate(ctx, b.g, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return resp.Text(), nil
}

func toGenkitMessages(msgs []conversation.Message) ([]*ai.Message, error) {
	out := make([]*ai.Message, 0, len(msgs))
	for _, m := range msgs {
		am, err := toGenkitMessage(m)
		if err != nil {
			return nil, err
		}
		out = append(out, am)
	}
	return out, nil
}

func toGenkitMessage(m conversation.Message) (*ai.Message, error) {
	var role ai.Role
	switch m.Role {
	case conversation.RoleUser:
		role = ai.RoleUser
	case conversation.RoleAssistant:
		role = ai.RoleModel
	case conversation.RoleSystem:
		role = ai.RoleSystem
	case conversation.RoleTool:
		role = ai.RoleTool
	default:
		return nil, fmt.Errorf("%w: unknown role %q", conversation.ErrMalformedMessage, m.Role)
	}

	switch c := m.Content.(type) {
	case conversation.PlainText:
		return &ai.Message{Role: role, Content: []*ai.Part{ai.NewTextPart(string(c))}}, nil
	case conversation.Parts:
		parts := make([]*ai.Part, 0, len(c))
		for _, p := range c {
			ap, err := toGenkitPart(p)
			if err != nil {
				return nil, err
			}
			parts = append(parts, ap)
		}
		return &ai.Message{Role: role, Content: parts}, nil
	default:
		return nil, fmt.Errorf("%w: unknown content shape %T", conversation.ErrMalformedMessage, m.Content)
	}
}

func toGenkitPart(p conversation.Part) (*ai.Part, error) {
	switch pt := p.(type) {
	case conversation.ToolCall:
		var input any
		if len(pt.Arguments) > 0 {
			if err := json.Unmarshal(pt.Arguments, &input); err != nil {
				return nil, fmt.Errorf("%w: decode tool-call arguments: %v", conversation.ErrMalformedMessage, err)
			}
		}
		return ai.NewToolRequestPart(&ai.ToolRequest{Name: pt.ToolName, Ref: pt.CallID, Input: input}), nil
	case conversation.ToolResult:
		var output any
		if len(pt.Result) > 0 {
			if err := json.Unmarshal(pt.Result, &output); err != nil {
				return nil, fmt.Errorf("%w: decode tool-result payload: %v", conversation.ErrMalformedMessage, err)
			}
		}
		return ai.NewToolResponsePart(&ai.ToolResponse{Name: pt.ToolName, Ref: pt.CallID, Output: output}), nil
	default:
		return nil, fmt.Errorf("%w: unknown part type %T", conversation.ErrMalformedMessage, p)
	}
}
