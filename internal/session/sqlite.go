package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Durable is the source of truth behind the session cache.
type Durable interface {
	// Load returns ErrSessionNotFound for unknown IDs.
	Load(ctx context.Context, id string) (*Session, error)
	// Save replaces the stored log of the session.
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// OpenDB opens a SQLite database with the named driver: "sqlite3"
// (mattn, cgo) or "sqlite" (modernc, pure Go).
func OpenDB(driver, path string) (*sql.DB, error) {
	dsn := path
	switch driver {
	case "sqlite3":
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	case "sqlite":
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	default:
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// SQLiteStore persists sessions in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db and creates the schema on first use.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// DB returns the underlying handle so other tables can share the file.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		context    TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_messages (
		session_id  TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		id          TEXT NOT NULL,
		role        TEXT NOT NULL,
		kind        TEXT NOT NULL,
		content     TEXT NOT NULL,
		timestamp   TEXT NOT NULL,
		tool_calls  TEXT,
		tool_result TEXT,
		PRIMARY KEY (session_id, seq),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load reads a session and its messages in log order.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*Session, error) {
	var (
		sess               = &Session{ID: id}
		ctxJSON            sql.NullString
		createdAt, updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT context, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&ctxJSON, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updated)
	sess.Context = map[string]any{}
	if ctxJSON.Valid && ctxJSON.String != "" {
		if err := json.Unmarshal([]byte(ctxJSON.String), &sess.Context); err != nil {
			return nil, fmt.Errorf("decode session %s context: %w", id, err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, kind, content, timestamp, tool_calls, tool_result
		FROM session_messages WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("load messages %s: %w", id, err)
	}
	defer rows.Close()

	sess.Messages = []Message{}
	for rows.Next() {
		var (
			m                 Message
			ts                string
			calls, toolResult sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Role, &m.Kind, &m.Content, &ts, &calls, &toolResult); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = parseTime(ts)
		if calls.Valid && calls.String != "" {
			if err := json.Unmarshal([]byte(calls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls %s: %w", m.ID, err)
			}
		}
		if toolResult.Valid && toolResult.String != "" {
			m.ToolResult = &ToolResult{}
			if err := json.Unmarshal([]byte(toolResult.String), m.ToolResult); err != nil {
				return nil, fmt.Errorf("decode tool result %s: %w", m.ID, err)
			}
		}
		sess.Messages = append(sess.Messages, m)
	}
	return sess, rows.Err()
}

// Save upserts the session row and replaces its message log in one
// transaction.
func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	ctxJSON, err := json.Marshal(sess.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, context, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE
		 SET context = excluded.context, updated_at = excluded.updated_at`,
		sess.ID, string(ctxJSON), formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sess.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("clear messages %s: %w", sess.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO session_messages
			(session_id, seq, id, role, kind, content, timestamp, tool_calls, tool_result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range sess.Messages {
		var calls, result sql.NullString
		if len(m.ToolCalls) > 0 {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			calls = sql.NullString{String: string(b), Valid: true}
		}
		if m.ToolResult != nil {
			b, err := json.Marshal(m.ToolResult)
			if err != nil {
				return fmt.Errorf("encode tool result: %w", err)
			}
			result = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, sess.ID, i, m.ID, string(m.Role), string(m.Kind),
			m.Content, formatTime(m.Timestamp), calls, result); err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// Delete removes a session and its messages.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
