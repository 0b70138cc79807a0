package tools

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrEmptyRewrite indicates the generation backend returned no text for
// a rewrite request.
var ErrEmptyRewrite = errors.New("rewrite produced no text")

//go:embed style_exemplar.md
var defaultStyleExemplar string

// RewriteInput defines input for the rewrite tool.
type RewriteInput struct {
	Content string `json:"content" jsonschema_description:"The draft text to revise into the target editorial style"`
}

// RewriteOutput is the revised article text.
type RewriteOutput struct {
	Text string `json:"text" jsonschema_description:"The revised text"`
}

// Generator is the text-completion capability the rewriter consumes.
type Generator interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// Rewriter revises draft text to match a fixed style exemplar using a
// text-generation backend. Rewrites fail hard: there is no safe
// substitute for a revision that did not happen.
type Rewriter struct {
	gen      Generator
	model    string
	exemplar string
}

// NewRewriter creates a rewriter using the embedded style exemplar.
// exemplarPath, when non-empty, replaces it with a file's contents.
func NewRewriter(gen Generator, model, exemplarPath string) (*Rewriter, error) {
	exemplar := defaultStyleExemplar
	if exemplarPath != "" {
		data, err := os.ReadFile(exemplarPath)
		if err != nil {
			return nil, fmt.Errorf("read style exemplar: %w", err)
		}
		exemplar = string(data)
	}
	return &Rewriter{gen: gen, model: model, exemplar: exemplar}, nil
}

// Rewrite revises content to match the exemplar's tone and structure.
func (r *Rewriter) Rewrite(ctx context.Context, content string) (string, error) {
	prompt := fmt.Sprintf(`Revise the following draft to match the tone, structure, and style of the exemplar support article below. Keep the draft's facts intact; change only wording and organization.

EXEMPLAR:
%s

DRAFT:
%s`, r.exemplar, content)

	text, err := r.gen.Complete(ctx, r.model, prompt)
	if err != nil {
		return "", fmt.Errorf("rewrite: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyRewrite
	}
	return text, nil
}

// NewRewriteTool wraps the rewriter as the model-facing rewrite tool.
// No FailSoft: a failed rewrite fails the invocation and the turn.
func NewRewriteTool(r *Rewriter) (*Definition, error) {
	return NewTool("rewrite",
		"Revise draft article text into the company's editorial tone and style. Returns the revised text.",
		func(ctx context.Context, in RewriteInput) (RewriteOutput, error) {
			text, err := r.Rewrite(ctx, in.Content)
			if err != nil {
				return RewriteOutput{}, err
			}
			return RewriteOutput{Text: text}, nil
		})
}
