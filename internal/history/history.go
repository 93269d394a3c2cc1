// Package history keeps the ordered log of conversation turns and saves it to
// and restores it from a JSON file.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/comigor/parley/internal/logger"
)

// ErrNotFound is returned by Restore when there is no saved conversation.
var ErrNotFound = fmt.Errorf("no saved conversation: %w", fs.ErrNotExist)

// MalformedError is returned by Restore when the file exists but cannot be
// read back as a conversation. The in-memory history is left as it was.
type MalformedError struct {
	Path string
	Err  error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed conversation file %s: %v", e.Path, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// FileMode is the permission given to newly saved conversation files. An
// existing file keeps its own mode.
const FileMode fs.FileMode = 0o644

// Store is an append-only, ordered log of messages.
type Store struct {
	mu       sync.Mutex
	messages []Message
	now      func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp messages appended without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds a message at the end of the log. An empty timestamp is replaced
// by the current local time of day.
func (s *Store) Append(role Role, content, timestamp string) Message {
	return s.AppendMessage(Message{Role: role, Content: content, Timestamp: timestamp})
}

// AppendMessage adds msg at the end of the log and returns it as stored.
// Content is stored as UTF-8 text: invalid byte sequences are replaced with
// U+FFFD so that a saved conversation restores to exactly what was stored.
func (s *Store) AppendMessage(msg Message) Message {
	msg.Content = strings.ToValidUTF8(msg.Content, "\uFFFD")
	if msg.Timestamp == "" {
		msg.Timestamp = s.now().Format(TimestampLayout)
	}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	return msg
}

// Snapshot returns a copy of the log in conversation order.
func (s *Store) Snapshot() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages in the log.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Clear drops every message.
func (s *Store) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
}

// Persist writes the log to path as indented JSON, replacing whatever was there.
// The file is written next to its destination first and renamed into place.
func (s *Store) Persist(path string) error {
	messages := s.Snapshot()
	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	defer os.Remove(tmp.Name())

	mode := FileMode
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("save history: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	logger.L.Debug("history saved", "path", path, "messages", len(messages))
	return nil
}

// Restore replaces the log with the conversation saved at path.
// It returns ErrNotFound when path does not exist and a *MalformedError when
// the file cannot be parsed; in both cases the log is not modified.
func (s *Store) Restore(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("load history: %w", err)
	}

	messages, err := decode(data)
	if err != nil {
		return &MalformedError{Path: path, Err: err}
	}

	s.mu.Lock()
	s.messages = messages
	s.mu.Unlock()
	logger.L.Debug("history restored", "path", path, "messages", len(messages))
	return nil
}

func decode(data []byte) ([]Message, error) {
	var raw []*Message
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("expected a JSON array of messages")
	}
	out := make([]Message, 0, len(raw))
	for i, m := range raw {
		if m == nil {
			return nil, fmt.Errorf("message %d is null", i)
		}
		if !m.Role.Valid() {
			return nil, fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
		out = append(out, *m)
	}
	return out, nil
}
