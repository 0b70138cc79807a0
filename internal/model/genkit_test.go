package model_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/pennaio/penna/internal/conversation"
	"github.com/pennaio/penna/internal/log"
	"github.com/pennaio/penna/internal/model"
	"github.com/pennaio/penna/internal/testutil"
)

func newBackend(t *testing.T, script *testutil.ScriptedModel, tools []ai.ToolRef) *model.GenkitBackend {
	t.Helper()
	g := genkit.Init(context.Background())
	if g == nil {
		t.Fatal("genkit.Init returned nil")
	}
	script.Register(g)
	return model.NewGenkitBackend(g, tools, nil, log.NewNop())
}

func collect(t *testing.T, b *model.GenkitBackend, req model.Request) []model.Event {
	t.Helper()
	var events []model.Event
	err := b.Generate(context.Background(), req, func(_ context.Context, ev model.Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return events
}

func TestGenerateStreamsTextDeltas(t *testing.T) {
	script := testutil.NewScriptedModel("fallback")
	script.Reply("voicemail", "Check the voicemail settings page first.")
	b := newBackend(t, script, nil)

	events := collect(t, b, model.Request{
		Model:    testutil.MockModelName,
		System:   "You help write support articles.",
		Messages: []conversation.Message{conversation.NewUserMessage("how do I reset voicemail?")},
	})

	if len(events) < 2 {
		t.Fatalf("expected multiple events, got %d", len(events))
	}
	var rebuilt strings.Builder
	var lastCumulative string
	sawFinal := false
	for i, ev := range events {
		td, ok := ev.(model.TextDelta)
		if !ok {
			t.Fatalf("event %d: expected TextDelta, got %T", i, ev)
		}
		rebuilt.WriteString(td.Delta)
		if td.Cumulative != rebuilt.String() {
			t.Fatalf("event %d: cumulative %q does not match concatenated deltas %q", i, td.Cumulative, rebuilt.String())
		}
		lastCumulative = td.Cumulative
		if td.Final {
			if i != len(events)-1 {
				t.Fatalf("final delta at event %d of %d", i, len(events))
			}
			sawFinal = true
		}
	}
	if !sawFinal {
		t.Fatal("no final TextDelta emitted")
	}
	if want := "Check the voicemail settings page first."; lastCumulative != want {
		t.Fatalf("final text = %q, want %q", lastCumulative, want)
	}
}

func TestGenerateSurfacesToolInvocation(t *testing.T) {
	script := testutil.NewScriptedModel("fallback")
	script.ReplyWithTools("find articles", &ai.ToolRequest{
		Name:  "search",
		Input: map[string]any{"query": "call forwarding"},
	})

	g := genkit.Init(context.Background())
	if g == nil {
		t.Fatal("genkit.Init returned nil")
	}
	script.Register(g)
	searchTool := genkit.DefineTool(g, "search", "Search the knowledge base.",
		func(_ *ai.ToolContext, in struct {
			Query string `json:"query"`
		}) ([]string, error) {
			t.Fatal("tool must not execute inside the backend")
			return nil, nil
		})
	b := model.NewGenkitBackend(g, []ai.ToolRef{searchTool}, nil, log.NewNop())

	var events []model.Event
	err := b.Generate(context.Background(), model.Request{
		Model:    testutil.MockModelName,
		Messages: []conversation.Message{conversation.NewUserMessage("please find articles about call forwarding")},
	}, func(_ context.Context, ev model.Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	inv, ok := events[0].(model.ToolInvocation)
	if !ok {
		t.Fatalf("expected ToolInvocation, got %T", events[0])
	}
	if inv.Name != "search" {
		t.Fatalf("tool name = %q, want %q", inv.Name, "search")
	}
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(inv.Arguments, &args); err != nil {
		t.Fatalf("decode arguments: %v", err)
	}
	if args.Query != "call forwarding" {
		t.Fatalf("query = %q, want %q", args.Query, "call forwarding")
	}
}

func TestGenerateConvertsToolHistory(t *testing.T) {
	script := testutil.NewScriptedModel("done")
	b := newBackend(t, script, nil)

	args, _ := json.Marshal(map[string]string{"query": "sms"})
	result, _ := json.Marshal([]map[string]string{{"title": "SMS setup"}})
	msgs := []conversation.Message{
		conversation.NewUserMessage("find sms docs"),
		conversation.NewToolCallMessage("search", "call-1", args),
		conversation.NewToolResultMessage("search", "call-1", result),
		conversation.NewUserMessage("thanks, summarize"),
	}

	events := collect(t, b, model.Request{Model: testutil.MockModelName, Messages: msgs})
	last, ok := events[len(events)-1].(model.TextDelta)
	if !ok || !last.Final {
		t.Fatalf("expected final TextDelta, got %#v", events[len(events)-1])
	}
	if last.Cumulative != "done" {
		t.Fatalf("text = %q, want %q", last.Cumulative, "done")
	}
	seen := script.Seen()
	if len(seen) != 1 || seen[0] != "thanks, summarize" {
		t.Fatalf("model saw %v, want the last user message", seen)
	}
}

func TestCompleteReturnsText(t *testing.T) {
	script := testutil.NewScriptedModel("rewritten article body")
	b := newBackend(t, script, nil)

	got, err := b.Complete(context.Background(), testutil.MockModelName, "rewrite this")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "rewritten article body" {
		t.Fatalf("Complete = %q", got)
	}
}
