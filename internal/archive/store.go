// Package archive persists settled conversations to PostgreSQL and
// bridges them out of the turn lifecycle.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pennaio/penna/internal/conversation"
)

// ErrRecordNotFound indicates no archived conversation exists for the
// given id.
var ErrRecordNotFound = errors.New("archived conversation not found")

// Record is one durable conversation snapshot.
type Record struct {
	ConversationID uuid.UUID              `json:"conversationId"`
	OwnerID        string                 `json:"ownerId"`
	Title          string                 `json:"title"`
	CreatedAt      time.Time              `json:"createdAt"`
	Messages       []conversation.Message `json:"messages"`
}

// Store reads and writes conversation records over a pgx pool. The
// message history is stored as a JSONB document in the message wire
// shape, so records round-trip through conversation's codec.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store on the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Save upserts a record keyed by conversation id. Repeated saves of the
// same conversation keep the original creation time and replace title
// and messages.
func (s *Store) Save(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}

	const q = `
		INSERT INTO conversations (id, owner_id, title, created_at, messages)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title,
		    messages = EXCLUDED.messages,
		    updated_at = now()`
	if _, err := s.pool.Exec(ctx, q, rec.ConversationID, rec.OwnerID, rec.Title, rec.CreatedAt, payload); err != nil {
		return fmt.Errorf("save conversation %s: %w", rec.ConversationID, err)
	}
	return nil
}

// Get loads one record by conversation id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	const q = `
		SELECT id, owner_id, title, created_at, messages
		FROM conversations
		WHERE id = $1`
	var (
		rec     Record
		payload []byte
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(&rec.ConversationID, &rec.OwnerID, &rec.Title, &rec.CreatedAt, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("load conversation %s: %w", id, err)
	}
	if err := json.Unmarshal(payload, &rec.Messages); err != nil {
		return Record{}, fmt.Errorf("decode messages of %s: %w", id, err)
	}
	return rec, nil
}

// List returns an owner's records, newest first.
func (s *Store) List(ctx context.Context, ownerID string) ([]Record, error) {
	const q = `
		SELECT id, owner_id, title, created_at, messages
		FROM conversations
		WHERE owner_id = $1
		ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list conversations for %q: %w", ownerID, err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var (
			rec     Record
			payload []byte
		)
		if err := rows.Scan(&rec.ConversationID, &rec.OwnerID, &rec.Title, &rec.CreatedAt, &payload); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		if err := json.Unmarshal(payload, &rec.Messages); err != nil {
			return nil, fmt.Errorf("decode messages of %s: %w", rec.ConversationID, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return recs, nil
}

// Delete removes one record. Deleting an absent record is not an error.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}
