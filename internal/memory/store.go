// Package memory is the local chat store: saved chat manifests kept in a
// SQLite database next to the configuration.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ariachat/internal/domain"

	_ "modernc.org/sqlite"
)

// sortableTime is a fixed-width UTC layout so updated_at orders lexically.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements domain.ChatStore for one user using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	userID string
	logger *slog.Logger
}

var _ domain.ChatStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at dbPath and brings
// its schema up to date.
func NewSQLiteStore(dbPath, userID string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, userID: userID, logger: logger}, nil
}

// DB exposes the underlying handle for maintenance commands.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// EnsureCollection checks the database is reachable; the chats table is the
// collection.
func (s *SQLiteStore) EnsureCollection(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save inserts or replaces the chat manifest. Nil perms keep the permissions
// already stored for the chat.
func (s *SQLiteStore) Save(ctx context.Context, m domain.Manifest, perms domain.Permissions) error {
	manifest, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest %s: %w", m.ID, err)
	}
	keepPerms := 0
	if perms == nil {
		keepPerms = 1
		perms = domain.Permissions{}
	}
	permJSON, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("encode permissions %s: %w", m.ID, err)
	}

	updated := time.Now().UTC()
	if ts, err := time.Parse(time.RFC3339Nano, m.Timestamp); err == nil {
		updated = ts.UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chats (id, user_id, name, manifest, permissions, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, id) DO UPDATE SET
		   name=excluded.name, manifest=excluded.manifest,
		   permissions=CASE WHEN ? = 1 THEN chats.permissions ELSE excluded.permissions END,
		   updated_at=excluded.updated_at`,
		m.ID, s.userID, m.Name, string(manifest), string(permJSON), updated.Format(sortableTime), keepPerms,
	)
	if err != nil {
		return fmt.Errorf("save chat %s: %w", m.ID, err)
	}
	return nil
}

// List returns the user's chats, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]domain.Manifest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT manifest FROM chats WHERE user_id = ? ORDER BY updated_at DESC`, s.userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []domain.Manifest
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var m domain.Manifest
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			s.logger.Warn("skipping unreadable chat manifest", "err", err)
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Read returns one chat. Chats of another user are readable only when they
// were shared with everyone.
func (s *SQLiteStore) Read(ctx context.Context, userID, chatID string) (*domain.Manifest, error) {
	if userID == "" {
		userID = s.userID
	}
	var raw, permRaw string
	err := s.db.QueryRowContext(ctx,
		`SELECT manifest, permissions FROM chats WHERE user_id = ? AND id = ?`, userID, chatID,
	).Scan(&raw, &permRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read chat %s: %w", chatID, err)
	}

	if userID != s.userID {
		var perms domain.Permissions
		if err := json.Unmarshal([]byte(permRaw), &perms); err != nil || perms["*"] == "" {
			return nil, domain.ErrNotFound
		}
	}

	var m domain.Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode chat %s: %w", chatID, err)
	}
	return &m, nil
}

// Delete removes one of the user's chats.
func (s *SQLiteStore) Delete(ctx context.Context, chatID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE user_id = ? AND id = ?`, s.userID, chatID)
	if err != nil {
		return fmt.Errorf("delete chat %s: %w", chatID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Stats reports the number of chats stored for each user.
func (s *SQLiteStore) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, COUNT(*) FROM chats GROUP BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("chat stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var user string
		var n int
		if err := rows.Scan(&user, &n); err != nil {
			return nil, err
		}
		out[user] = n
	}
	return out, rows.Err()
}
