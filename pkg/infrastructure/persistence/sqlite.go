package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/embedg/embedg/pkg/domain/provenance"
	"github.com/embedg/embedg/pkg/domain/savedmsg"
	"github.com/embedg/embedg/pkg/logger"
)

// SQLiteStore keeps provenance records and saved messages in one SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating when needed) the database at path and applies
// the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}

	logger.InfoCF("storage", "SQLite store opened", map[string]interface{}{
		"path": path,
	})
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS channel_messages (
		message_id  TEXT PRIMARY KEY,
		channel_id  TEXT NOT NULL,
		hash        TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL,
		author_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_channel_messages_channel ON channel_messages(channel_id);

	CREATE TABLE IF NOT EXISTS saved_messages (
		id           TEXT PRIMARY KEY,
		owner_id     TEXT NOT NULL,
		name         TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		payload_json TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_saved_messages_owner ON saved_messages(owner_id, updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Provenance returns the provenance.Repository view of the store.
func (s *SQLiteStore) Provenance() provenance.Repository { return sqliteProvenance{s.db} }

// SavedMessages returns the savedmsg.Repository view of the store.
func (s *SQLiteStore) SavedMessages() savedmsg.Repository { return sqliteSavedMessages{s.db} }

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

// ---------------------------------------------------------------------------
// Provenance
// ---------------------------------------------------------------------------

type sqliteProvenance struct {
	db *sql.DB
}

func (r sqliteProvenance) Upsert(ctx context.Context, rec provenance.Record) error {
	var author sql.NullString
	if rec.Author != nil {
		b, err := json.Marshal(rec.Author)
		if err != nil {
			return fmt.Errorf("encode author: %w", err)
		}
		author = sql.NullString{String: string(b), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channel_messages (message_id, channel_id, hash, created_at, updated_at, author_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			hash = excluded.hash,
			updated_at = excluded.updated_at`,
		rec.MessageID, rec.ChannelID, rec.Hash, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), author)
	if err != nil {
		return fmt.Errorf("upsert channel message: %w", err)
	}
	return nil
}

func (r sqliteProvenance) FindByMessageID(ctx context.Context, messageID string) (*provenance.Record, error) {
	var (
		rec                  provenance.Record
		createdAt, updatedAt string
		author               sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT message_id, channel_id, hash, created_at, updated_at, author_json
		FROM channel_messages WHERE message_id = ?`, messageID).
		Scan(&rec.MessageID, &rec.ChannelID, &rec.Hash, &createdAt, &updatedAt, &author)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, provenance.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find channel message: %w", err)
	}

	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	if author.Valid {
		rec.Author = &provenance.AuthorSnapshot{}
		if err := json.Unmarshal([]byte(author.String), rec.Author); err != nil {
			return nil, fmt.Errorf("decode author: %w", err)
		}
	}
	return &rec, nil
}

// ---------------------------------------------------------------------------
// Saved messages
// ---------------------------------------------------------------------------

type sqliteSavedMessages struct {
	db *sql.DB
}

func (r sqliteSavedMessages) Save(ctx context.Context, m *savedmsg.SavedMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO saved_messages (id, owner_id, name, description, payload_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			payload_json = excluded.payload_json,
			updated_at = excluded.updated_at`,
		m.ID, m.OwnerID, m.Name, m.Description, m.PayloadJSON, formatTime(m.CreatedAt), formatTime(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save saved message: %w", err)
	}
	return nil
}

func (r sqliteSavedMessages) FindByID(ctx context.Context, id string) (*savedmsg.SavedMessage, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, description, payload_json, created_at, updated_at
		FROM saved_messages WHERE id = ?`, id)
	m, err := scanSavedMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, savedmsg.ErrNotFound
	}
	return m, err
}

func (r sqliteSavedMessages) ExistsByOwnerAndID(ctx context.Context, ownerID, id string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM saved_messages WHERE owner_id = ? AND id = ?`, ownerID, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count saved messages: %w", err)
	}
	return n > 0, nil
}

func (r sqliteSavedMessages) ListByOwner(ctx context.Context, ownerID string) ([]*savedmsg.SavedMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, name, description, payload_json, created_at, updated_at
		FROM saved_messages WHERE owner_id = ?
		ORDER BY updated_at DESC, id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list saved messages: %w", err)
	}
	defer rows.Close()

	out := make([]*savedmsg.SavedMessage, 0)
	for rows.Next() {
		m, err := scanSavedMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r sqliteSavedMessages) Delete(ctx context.Context, ownerID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM saved_messages WHERE owner_id = ? AND id = ?`, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete saved message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return savedmsg.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSavedMessage(row rowScanner) (*savedmsg.SavedMessage, error) {
	var (
		m                    savedmsg.SavedMessage
		createdAt, updatedAt string
	)
	if err := row.Scan(&m.ID, &m.OwnerID, &m.Name, &m.Description, &m.PayloadJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	return &m, nil
}
