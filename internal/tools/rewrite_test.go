package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeGenerator struct {
	lastPrompt string
	text       string
	err        error
}

func (f *fakeGenerator) Complete(_ context.Context, _ string, prompt string) (string, error) {
	f.lastPrompt = prompt
	return f.text, f.err
}

func TestRewriteCarriesExemplarAndDraft(t *testing.T) {
	gen := &fakeGenerator{text: "Revised text."}
	r, err := NewRewriter(gen, "m", "")
	if err != nil {
		t.Fatalf("NewRewriter: %v", err)
	}

	got, err := r.Rewrite(context.Background(), "our draft about voicemail")
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got != "Revised text." {
		t.Fatalf("Rewrite = %q", got)
	}
	if !strings.Contains(gen.lastPrompt, "Setting up call forwarding") {
		t.Error("prompt missing embedded exemplar")
	}
	if !strings.Contains(gen.lastPrompt, "our draft about voicemail") {
		t.Error("prompt missing draft content")
	}
}

func TestRewriteExemplarOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exemplar.md")
	if err := os.WriteFile(path, []byte("CUSTOM HOUSE STYLE"), 0o600); err != nil {
		t.Fatal(err)
	}
	gen := &fakeGenerator{text: "ok"}
	r, err := NewRewriter(gen, "m", path)
	if err != nil {
		t.Fatalf("NewRewriter: %v", err)
	}
	if _, err := r.Rewrite(context.Background(), "draft"); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !strings.Contains(gen.lastPrompt, "CUSTOM HOUSE STYLE") {
		t.Error("prompt missing overridden exemplar")
	}
	if strings.Contains(gen.lastPrompt, "Setting up call forwarding") {
		t.Error("prompt still carries embedded exemplar")
	}
}

func TestRewriteFailsHard(t *testing.T) {
	boom := errors.New("model unavailable")
	r, err := NewRewriter(&fakeGenerator{err: boom}, "m", "")
	if err != nil {
		t.Fatalf("NewRewriter: %v", err)
	}
	if _, err := r.Rewrite(context.Background(), "draft"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}

func TestRewriteEmptyResultIsError(t *testing.T) {
	r, err := NewRewriter(&fakeGenerator{text: "   \n"}, "m", "")
	if err != nil {
		t.Fatalf("NewRewriter: %v", err)
	}
	if _, err := r.Rewrite(context.Background(), "draft"); !errors.Is(err, ErrEmptyRewrite) {
		t.Fatalf("err = %v, want ErrEmptyRewrite", err)
	}
}

func TestNewRewriterMissingExemplarFile(t *testing.T) {
	_, err := NewRewriter(&fakeGenerator{}, "m", filepath.Join(t.TempDir(), "absent.md"))
	if err == nil {
		t.Fatal("expected error for missing exemplar file")
	}
}
