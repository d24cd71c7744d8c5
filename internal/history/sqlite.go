package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vimcodex/vimcodex/internal/engine/router"
)

// SQLiteStore provides SQLite-based transcript storage
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite history store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database tables if they don't exist
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		event_id TEXT DEFAULT '',
		created_at DATETIME NOT NULL,
		PRIMARY KEY (session_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Append saves one transcript message, replacing an entry with the same
// sequence number
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msg router.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, seq, role, text, event_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, seq) DO UPDATE SET text = excluded.text
	`, sessionID, msg.Seq, string(msg.Role), msg.Text, msg.EventID, msg.Timestamp.UTC())

	return err
}

// Messages retrieves transcript messages for a session in sequence order
func (s *SQLiteStore) Messages(ctx context.Context, sessionID string, limit int, since time.Time) ([]router.Message, error) {
	query := `
		SELECT seq, role, text, event_id, created_at
		FROM messages WHERE session_id = ? AND created_at > ? ORDER BY seq
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []router.Message
	for rows.Next() {
		var msg router.Message
		var role string
		if err := rows.Scan(&msg.Seq, &role, &msg.Text, &msg.EventID, &msg.Timestamp); err != nil {
			return nil, err
		}
		msg.Role = router.Role(role)
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

// Delete removes all messages for a session
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
