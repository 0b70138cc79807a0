package conversation

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound indicates the requested conversation is not live in the
// registry.
var ErrNotFound = errors.New("conversation not found")

// Registry tracks live conversations between turns. The HTTP surface and
// the CLI resolve conversation ids through it; settled conversations are
// made durable by the archive, not here.
//
// Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*Conversation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[uuid.UUID]*Conversation)}
}

// Create registers and returns a fresh conversation.
func (r *Registry) Create() *Conversation {
	conv := New()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conv.ID()] = conv
	return conv
}

// Get returns the live conversation for id.
func (r *Registry) Get(id uuid.UUID) (*Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.conns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return conv, nil
}

// GetOrCreate returns the live conversation for id, registering an empty
// one when none exists.
func (r *Registry) GetOrCreate(id uuid.UUID) *Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conv, ok := r.conns[id]; ok {
		return conv
	}
	conv := NewWithID(id)
	r.conns[id] = conv
	return conv
}

// Remove drops the conversation from the registry. Removing an unknown id
// is a no-op.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
