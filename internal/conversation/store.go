package conversation

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrTurnInProgress indicates a turn was started on a conversation whose
// previous turn has not yet settled. Callers serialize turns per
// conversation; this guard rejects violations instead of blocking.
var ErrTurnInProgress = errors.New("turn already in progress")

// Conversation is the authoritative ordered message history for one chat.
//
// Single-writer/multi-reader: one session controller mutates the
// conversation per turn while readers take snapshots and projections at any
// time without blocking the writer for long.
type Conversation struct {
	mu       sync.RWMutex
	id       uuid.UUID
	messages []Message
	settled  bool
	inTurn   bool
}

// New creates an empty conversation with a fresh id.
func New() *Conversation {
	return NewWithID(uuid.New())
}

// NewWithID creates an empty conversation with the given id.
func NewWithID(id uuid.UUID) *Conversation {
	return &Conversation{id: id}
}

// ID returns the conversation's unique identifier.
func (c *Conversation) ID() uuid.UUID {
	return c.id
}

// Append adds a message to the tail. Appends are optimistic: they happen
// before the turn settles and are only made durable by Commit. Appending
// unsettles the conversation for the current turn.
func (c *Conversation) Append(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	c.settled = false
}

// Snapshot returns a copy of the current ordered message sequence,
// consistent at the instant of the call.
func (c *Conversation) Snapshot() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the current number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Commit atomically replaces the stored sequence with final and marks the
// conversation settled for this turn. Idempotent when called twice with
// identical content; single-writer discipline is assumed otherwise.
func (c *Conversation) Commit(final []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make([]Message, len(final))
	copy(c.messages, final)
	c.settled = true
}

// Settled reports whether the last turn reached its atomic commit.
func (c *Conversation) Settled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settled
}

// BeginTurn marks the conversation as owned by a running turn. It fails
// with ErrTurnInProgress when the previous turn has not reached EndTurn.
func (c *Conversation) BeginTurn() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inTurn {
		return ErrTurnInProgress
	}
	c.inTurn = true
	return nil
}

// EndTurn releases the turn ownership taken by BeginTurn.
func (c *Conversation) EndTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTurn = false
}

// MessageView is the renderable form of a plain-text message.
type MessageView struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// RenderNode pairs a message id with its renderable view. View is nil for
// shapes that do not render (tool-call and tool-result messages).
type RenderNode struct {
	ID   string       `json:"id"`
	View *MessageView `json:"view"`
}

// Project derives the render state from the current snapshot: system
// messages are excluded, order is preserved, plain user/assistant text maps
// to a MessageView and every other shape keeps its entry with a nil view.
// Pure and side-effect free.
func (c *Conversation) Project() []RenderNode {
	return ProjectMessages(c.Snapshot())
}

// ProjectMessages is the pure projection underlying Project.
func ProjectMessages(msgs []Message) []RenderNode {
	nodes := make([]RenderNode, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			continue
		}
		node := RenderNode{ID: m.ID}
		if text, ok := m.Text(); ok && (m.Role == RoleUser || m.Role == RoleAssistant) {
			node.View = &MessageView{Role: m.Role, Text: text}
		}
		nodes = append(nodes, node)
	}
	return nodes
}
