// Package archive mirrors every recorded conversation turn into a SQLite
// database so transcripts survive restarts, independent of /save files.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/parley/internal/history"
	"github.com/comigor/parley/internal/logger"
)

var schema = []string{`CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS messages_session ON messages(session_id, id);`,
}

// Store is a SQLite-backed transcript archive.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the archive at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create archive schema: %w", err)
		}
	}
	logger.L.Info("sqlite archive initialized", "path", path)
	return &Store{db: db, now: time.Now}, nil
}

// Record appends msg to the transcript of sessionID.
func (s *Store) Record(ctx context.Context, sessionID string, msg history.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, timestamp, status, created_at) VALUES (?,?,?,?,?,?);`,
		sessionID, string(msg.Role), msg.Content, msg.Timestamp, msg.Status, s.now().UTC())
	if err != nil {
		return fmt.Errorf("archive message: %w", err)
	}
	return nil
}

// List returns all messages of a session in the order they were recorded.
func (s *Store) List(ctx context.Context, sessionID string) ([]history.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, timestamp, status FROM messages WHERE session_id = ? ORDER BY id ASC;`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	defer rows.Close()

	var out []history.Message
	for rows.Next() {
		var m history.Message
		var role string
		if err := rows.Scan(&role, &m.Content, &m.Timestamp, &m.Status); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		m.Role = history.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Sessions returns the IDs of every archived session, oldest first.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM messages GROUP BY session_id ORDER BY MIN(id) ASC;`)
	if err != nil {
		return nil, fmt.Errorf("list archived sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
