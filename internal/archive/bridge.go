package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pennaio/penna/internal/conversation"
)

// titleLimit is the maximum title length in runes, matching the
// truncation the article UI expects.
const titleLimit = 100

// Saver is the storage capability the bridge consumes.
type Saver interface {
	Save(ctx context.Context, rec Record) error
}

// Bridge materializes settled conversations into durable records. It
// is bound to one owner; an empty owner id means no authenticated user
// is present, and archiving is silently skipped.
type Bridge struct {
	saver   Saver
	ownerID string
	logger  *slog.Logger
	now     func() time.Time
}

// NewBridge creates a bridge writing through saver on behalf of ownerID.
func NewBridge(saver Saver, ownerID string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{saver: saver, ownerID: ownerID, logger: logger, now: time.Now}
}

// ArchiveConversation persists conv's settled history. Skipping for
// lack of an owner is a no-op, not an error.
func (b *Bridge) ArchiveConversation(ctx context.Context, conv *conversation.Conversation) error {
	if b.ownerID == "" {
		b.logger.Debug("no owner present, skipping archive",
			"conversation_id", conv.ID())
		return nil
	}

	msgs := conv.Snapshot()
	rec := Record{
		ConversationID: conv.ID(),
		OwnerID:        b.ownerID,
		Title:          TitleFromMessages(msgs),
		CreatedAt:      b.now().UTC(),
		Messages:       msgs,
	}
	if err := b.saver.Save(ctx, rec); err != nil {
		return fmt.Errorf("archive conversation %s: %w", conv.ID(), err)
	}
	b.logger.Debug("archived conversation",
		"conversation_id", conv.ID(), "messages", len(msgs))
	return nil
}

// TitleFromMessages derives a record title: the first message's text
// truncated to 100 characters. Messages without plain text yield an
// empty title.
func TitleFromMessages(msgs []conversation.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	text, ok := msgs[0].Text()
	if !ok {
		return ""
	}
	runes := []rune(text)
	if len(runes) > titleLimit {
		return string(runes[:titleLimit])
	}
	return text
}
