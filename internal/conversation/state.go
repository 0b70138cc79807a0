package conversation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	stateDir      = ".penna"
	stateFile     = "current_conversation"
	stateLockFile = "current_conversation.lock"
)

// ErrConversationLocked indicates another process holds the current
// conversation lock, i.e. a turn is running elsewhere.
var ErrConversationLocked = errors.New("conversation locked by another process")

// StateFilePath returns the path to the current-conversation state file,
// creating ~/.penna if needed.
func StateFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	dir := filepath.Join(home, stateDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating state directory: %w", err)
	}

	return filepath.Join(dir, stateFile), nil
}

// LoadCurrentID loads the currently active conversation id from the local
// state file. Returns (nil, nil) when no current conversation is recorded.
func LoadCurrentID() (*uuid.UUID, error) {
	path, err := StateFilePath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return nil, nil
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation id in state file: %w", err)
	}
	return &id, nil
}

// SaveCurrentID records id as the current conversation.
func SaveCurrentID(id uuid.UUID) error {
	path, err := StateFilePath()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(id.String()), 0o600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}

// ClearCurrentID removes the current-conversation state file. Idempotent.
func ClearCurrentID() error {
	path, err := StateFilePath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing state file: %w", err)
	}
	return nil
}

// AcquireTurnLock takes the cross-process file lock that serializes turns
// on the current conversation. Turns execute one at a time per
// conversation; the lock enforces that discipline between CLI processes.
// The returned release function must be called when the turn settles.
func AcquireTurnLock() (release func(), err error) {
	path, err := StateFilePath()
	if err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(filepath.Dir(path), stateLockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring turn lock: %w", err)
	}
	if !ok {
		return nil, ErrConversationLocked
	}

	return func() {
		_ = lock.Unlock()
	}, nil
}
