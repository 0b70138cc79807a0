package archive_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pennaio/penna/internal/archive"
	"github.com/pennaio/penna/internal/conversation"
	"github.com/pennaio/penna/internal/testutil"
)

// Integration tests require Docker; skipped with -short.

func TestStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := archive.NewStore(db.Pool)
	ctx := context.Background()

	args, _ := json.Marshal(map[string]string{"query": "sms"})
	result, _ := json.Marshal([]map[string]string{{"id": "kb-1"}})
	rec := archive.Record{
		ConversationID: uuid.New(),
		OwnerID:        "user-1",
		Title:          "hi",
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
		Messages: []conversation.Message{
			conversation.NewUserMessage("hi"),
			conversation.NewToolCallMessage("search", "call-1", args),
			conversation.NewToolResultMessage("search", "call-1", result),
		},
	}

	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, rec.ConversationID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "hi" || got.OwnerID != "user-1" {
		t.Fatalf("record = %+v", got)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("round-tripped %d messages", len(got.Messages))
	}
	parts, ok := got.Messages[1].Content.(conversation.Parts)
	if !ok {
		t.Fatalf("tool-call message decoded as %T", got.Messages[1].Content)
	}
	call, ok := parts[0].(conversation.ToolCall)
	if !ok || call.ToolName != "search" || call.CallID != "call-1" {
		t.Fatalf("tool call part = %#v", parts[0])
	}
}

func TestStoreUpsertReplacesMessages(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := archive.NewStore(db.Pool)
	ctx := context.Background()
	id := uuid.New()

	rec := archive.Record{
		ConversationID: id,
		OwnerID:        "user-1",
		Title:          "hi",
		CreatedAt:      time.Now().UTC(),
		Messages:       []conversation.Message{conversation.NewUserMessage("hi")},
	}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	rec.Messages = append(rec.Messages, conversation.NewAssistantMessage("hello"))
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages after upsert = %d", len(got.Messages))
	}
}

func TestStoreListAndDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := archive.NewStore(db.Pool)
	ctx := context.Background()

	newRec := func(owner, title string, at time.Time) archive.Record {
		return archive.Record{
			ConversationID: uuid.New(),
			OwnerID:        owner,
			Title:          title,
			CreatedAt:      at,
			Messages:       []conversation.Message{conversation.NewUserMessage(title)},
		}
	}
	base := time.Now().UTC()
	older := newRec("user-1", "older", base.Add(-time.Hour))
	newer := newRec("user-1", "newer", base)
	other := newRec("user-2", "other", base)
	for _, r := range []archive.Record{older, newer, other} {
		if err := store.Save(ctx, r); err != nil {
			t.Fatalf("Save %q: %v", r.Title, err)
		}
	}

	recs, err := store.List(ctx, "user-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("listed %d records", len(recs))
	}
	if recs[0].Title != "newer" || recs[1].Title != "older" {
		t.Fatalf("order = %q, %q", recs[0].Title, recs[1].Title)
	}

	if err := store.Delete(ctx, newer.ConversationID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, newer.ConversationID); !errors.Is(err, archive.ErrRecordNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}
	// Deleting again stays a no-op.
	if err := store.Delete(ctx, newer.ConversationID); err != nil {
		t.Fatalf("repeat Delete: %v", err)
	}
}
