// Package testutil provides deterministic test doubles shared across
// packages: a scripted Genkit model and database helpers.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockModelName is the provider-qualified name the scripted model
// registers under.
const MockModelName = "mock/penna-model"

// ScriptedModel is a Genkit model whose replies are scripted per test.
// The last user message is matched against registered patterns
// (case-insensitive substring, first match wins); unmatched input gets
// the fallback text. Text replies stream word by word so consumers see
// multiple deltas.
//
// Safe for concurrent use.
type ScriptedModel struct {
	mu       sync.Mutex
	rules    []scriptRule
	fallback string
	seen     []string
}

type scriptRule struct {
	pattern string
	text    string
	tools   []*ai.ToolRequest
}

// NewScriptedModel creates a scripted model returning fallback when no
// pattern matches.
func NewScriptedModel(fallback string) *ScriptedModel {
	return &ScriptedModel{fallback: fallback}
}

// Reply registers a text reply for user messages containing pattern.
func (s *ScriptedModel) Reply(pattern, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, scriptRule{pattern: strings.ToLower(pattern), text: text})
}

// ReplyWithTools registers tool requests for user messages containing
// pattern. The model returns the requests without any prose.
func (s *ScriptedModel) ReplyWithTools(pattern string, tools ...*ai.ToolRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, scriptRule{pattern: strings.ToLower(pattern), tools: tools})
}

// Seen returns the user messages the model has been called with.
func (s *ScriptedModel) Seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]string, len(s.seen))
	copy(cp, s.seen)
	return cp
}

// Register defines the scripted model on g under MockModelName.
func (s *ScriptedModel) Register(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, MockModelName, &ai.ModelOptions{
		Label: "Penna Scripted Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			Tools:      true,
			SystemRole: true,
		},
	}, s.generate)
}

func (s *ScriptedModel) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var userText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser {
			userText = req.Messages[i].Text()
			break
		}
	}

	s.mu.Lock()
	s.seen = append(s.seen, userText)
	var matched *scriptRule
	lower := strings.ToLower(userText)
	for i := range s.rules {
		if strings.Contains(lower, s.rules[i].pattern) {
			matched = &s.rules[i]
			break
		}
	}
	text := s.fallback
	if matched != nil {
		text = matched.text
	}
	s.mu.Unlock()

	if matched != nil && len(matched.tools) > 0 {
		parts := make([]*ai.Part, 0, len(matched.tools))
		for _, tr := range matched.tools {
			parts = append(parts, ai.NewToolRequestPart(tr))
		}
		return &ai.ModelResponse{
			Request: req,
			Message: &ai.Message{Role: ai.RoleModel, Content: parts},
		}, nil
	}

	if cb != nil && text != "" {
		words := strings.SplitAfter(text, " ")
		for _, w := range words {
			if err := cb(ctx, &ai.ModelResponseChunk{
				Content: []*ai.Part{ai.NewTextPart(w)},
			}); err != nil {
				return nil, err
			}
		}
	}

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{Role: ai.RoleModel, Content: []*ai.Part{ai.NewTextPart(text)}},
	}, nil
}
