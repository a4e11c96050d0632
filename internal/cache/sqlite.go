package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteCache implements the Cache interface using a local SQLite database.
type SQLiteCache struct {
	db *sqlx.DB

	// mu serializes mutating statements so concurrent per-folder sync
	// workers never interleave writes.
	mu sync.Mutex
}

// NewSQLiteCache opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
// Use ":memory:" for an ephemeral cache.
func NewSQLiteCache(dbPath string) (*SQLiteCache, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Bound lock waits so contention surfaces as a non-fatal error
	// instead of blocking a worker indefinitely.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	c := &SQLiteCache{db: db}
	if err := c.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return c, nil
}

// Close closes the underlying database connection.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (c *SQLiteCache) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := c.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = c.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := c.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// ListFolders retrieves the cached folder names for one account side.
func (c *SQLiteCache) ListFolders(ctx context.Context, account, target string) ([]Folder, error) {
	var folders []Folder
	err := c.db.SelectContext(ctx, &folders,
		"SELECT * FROM folders WHERE account = ? AND target = ? ORDER BY name",
		account, target,
	)
	if err != nil {
		return nil, wrapErr("listing folders", err)
	}
	return folders, nil
}

// UpsertFolder records a folder's existence for one account side.
func (c *SQLiteCache) UpsertFolder(ctx context.Context, f Folder) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO folders (account, target, name) VALUES (?, ?, ?)",
		f.Account, f.Target, f.Name,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("upserting folder %q", f.Name), err)
	}
	return nil
}

// RemoveFolder removes a folder's cache entry for one account side,
// along with the envelope and email entries recorded under it.
func (c *SQLiteCache) RemoveFolder(ctx context.Context, account, target, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr("beginning transaction", err)
	}
	defer tx.Rollback()

	for _, query := range []string{
		"DELETE FROM folders WHERE account = ? AND target = ? AND name = ?",
		"DELETE FROM envelopes WHERE account = ? AND target = ? AND folder = ?",
		"DELETE FROM emails WHERE account = ? AND target = ? AND folder = ?",
	} {
		if _, err := tx.ExecContext(ctx, query, account, target, name); err != nil {
			return wrapErr(fmt.Sprintf("removing folder %q", name), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapErr(fmt.Sprintf("removing folder %q", name), err)
	}
	return nil
}

// ListEnvelopes retrieves every cached envelope in a folder for one
// account side.
func (c *SQLiteCache) ListEnvelopes(ctx context.Context, account, target, folder string) ([]Envelope, error) {
	var envelopes []Envelope
	err := c.db.SelectContext(ctx, &envelopes,
		`SELECT * FROM envelopes WHERE account = ? AND target = ? AND folder = ? ORDER BY key`,
		account, target, folder,
	)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("listing envelopes in %q", folder), err)
	}
	return envelopes, nil
}

// GetEnvelope retrieves a single cached envelope, or nil when absent.
func (c *SQLiteCache) GetEnvelope(ctx context.Context, account, target, folder, key string) (*Envelope, error) {
	var e Envelope
	err := c.db.GetContext(ctx, &e,
		`SELECT * FROM envelopes WHERE account = ? AND target = ? AND folder = ? AND key = ?`,
		account, target, folder, key,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("getting envelope %q", key), err)
	}
	return &e, nil
}

// UpsertEnvelope inserts or replaces a cached envelope snapshot.
func (c *SQLiteCache) UpsertEnvelope(ctx context.Context, e Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.SyncedAt.IsZero() {
		e.SyncedAt = time.Now().UTC()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO envelopes (account, target, folder, key, id, flags, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Account, e.Target, e.Folder, e.Key, e.ID, e.Flags, e.SyncedAt,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("upserting envelope %q", e.Key), err)
	}
	return nil
}

// RemoveEnvelope removes a cached envelope snapshot.
func (c *SQLiteCache) RemoveEnvelope(ctx context.Context, account, target, folder, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx,
		"DELETE FROM envelopes WHERE account = ? AND target = ? AND folder = ? AND key = ?",
		account, target, folder, key,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("removing envelope %q", key), err)
	}
	return nil
}

// ListEmails retrieves every cached email snapshot in a folder for one
// account side.
func (c *SQLiteCache) ListEmails(ctx context.Context, account, target, folder string) ([]Email, error) {
	var emails []Email
	err := c.db.SelectContext(ctx, &emails,
		`SELECT * FROM emails WHERE account = ? AND target = ? AND folder = ? ORDER BY key`,
		account, target, folder,
	)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("listing emails in %q", folder), err)
	}
	return emails, nil
}

// UpsertEmail inserts or replaces a cached email snapshot.
func (c *SQLiteCache) UpsertEmail(ctx context.Context, e Email) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.SyncedAt.IsZero() {
		e.SyncedAt = time.Now().UTC()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO emails (account, target, folder, key, id, content_hash, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Account, e.Target, e.Folder, e.Key, e.ID, e.ContentHash, e.SyncedAt,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("upserting email %q", e.Key), err)
	}
	return nil
}

// RemoveEmail removes a cached email snapshot.
func (c *SQLiteCache) RemoveEmail(ctx context.Context, account, target, folder, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx,
		"DELETE FROM emails WHERE account = ? AND target = ? AND folder = ? AND key = ?",
		account, target, folder, key,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("removing email %q", key), err)
	}
	return nil
}

// wrapErr wraps a database error as a cache.Error, classifying lock
// contention as non-fatal and everything else as fatal for the run.
func wrapErr(op string, err error) error {
	msg := err.Error()
	transient := strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")

	return &Error{Op: op, Fatal: !transient, Err: err}
}
