package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/aura-chat/peernet/internal/model"
)

// Supported database/sql drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	avatar_url TEXT NOT NULL DEFAULT '',
	joined_at  BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	conversation_id TEXT NOT NULL,
	id              TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	sender_name     TEXT NOT NULL DEFAULT '',
	body            TEXT NOT NULL,
	sent_at         BIGINT NOT NULL,
	kind            TEXT NOT NULL DEFAULT 'text',
	PRIMARY KEY (conversation_id, id)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_sent_at ON messages (conversation_id, sent_at);
`

// SQL is a Repository on PostgreSQL or SQLite.
type SQL struct {
	db     *sql.DB
	driver string
}

// OpenSQL connects with driver ("postgres" or "sqlite3") and creates the
// schema when missing.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQL, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer avoids SQLITE_BUSY under concurrent appends.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQL{db: db, driver: driver}, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQL) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) GetUser(ctx context.Context, id string) (model.Identity, error) {
	var u model.Identity
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, avatar_url, joined_at FROM users WHERE id = ?
	`), id).Scan(&u.ID, &u.Name, &u.AvatarURL, &u.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Identity{}, ErrNotFound
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *SQL) PutUser(ctx context.Context, user model.Identity) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO users (id, name, avatar_url, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			avatar_url = excluded.avatar_url,
			joined_at = excluded.joined_at
	`), user.ID, user.Name, user.AvatarURL, user.JoinedAt)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

func (s *SQL) AppendMessage(ctx context.Context, msg model.StoredMessage) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO messages (conversation_id, id, sender_id, sender_name, body, sent_at, kind)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id, id) DO NOTHING
	`), msg.ConversationID, msg.ID, msg.SenderID, msg.SenderName, msg.Text, msg.Timestamp, string(msg.Type))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *SQL) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, sender_id, sender_name, body, sent_at, kind
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sent_at ASC, id ASC
	`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []model.Message{}
	for rows.Next() {
		var m model.Message
		var kind string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderName, &m.Text, &m.Timestamp, &kind); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Type = model.MessageType(kind)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

func (s *SQL) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQL) Close() error {
	return s.db.Close()
}
