package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Folder records that a folder existed on one backend side at the last
// successful sync.
type Folder struct {
	Account string `db:"account"`
	Target  string `db:"target"`
	Name    string `db:"name"`
}

// Envelope is the last-synced metadata snapshot of a message on one
// backend side. Key is the backend-independent message identity; ID is
// the identifier the message has within that side's backend.
type Envelope struct {
	Account  string    `db:"account"`
	Target   string    `db:"target"`
	Folder   string    `db:"folder"`
	Key      string    `db:"key"`
	ID       string    `db:"id"`
	Flags    string    `db:"flags"`
	SyncedAt time.Time `db:"synced_at"`
}

// Email is the last-synced body snapshot of a message on one backend
// side, recorded as a content hash rather than the body itself.
type Email struct {
	Account     string    `db:"account"`
	Target      string    `db:"target"`
	Folder      string    `db:"folder"`
	Key         string    `db:"key"`
	ID          string    `db:"id"`
	ContentHash string    `db:"content_hash"`
	SyncedAt    time.Time `db:"synced_at"`
}

// Cache is the durable record of the last-synchronized state per item,
// keyed by (account, target, folder, key). It is the reference point
// for three-way diffing and is mutated only by successfully applied
// cache hunks. Implementations must serialize concurrent writers.
type Cache interface {
	ListFolders(ctx context.Context, account, target string) ([]Folder, error)
	UpsertFolder(ctx context.Context, f Folder) error
	RemoveFolder(ctx context.Context, account, target, name string) error

	ListEnvelopes(ctx context.Context, account, target, folder string) ([]Envelope, error)
	GetEnvelope(ctx context.Context, account, target, folder, key string) (*Envelope, error)
	UpsertEnvelope(ctx context.Context, e Envelope) error
	RemoveEnvelope(ctx context.Context, account, target, folder, key string) error

	ListEmails(ctx context.Context, account, target, folder string) ([]Email, error)
	UpsertEmail(ctx context.Context, e Email) error
	RemoveEmail(ctx context.Context, account, target, folder, key string) error

	Close() error
}

// Error wraps a cache store failure. Fatal errors (corruption,
// unrecoverable I/O) abort the whole sync run; non-fatal errors (lock
// contention) are scoped to the hunk that triggered them.
type Error struct {
	Op    string
	Fatal bool
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cache: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is a cache error marked fatal for the
// whole sync run.
func IsFatal(err error) bool {
	var cacheErr *Error
	return errors.As(err, &cacheErr) && cacheErr.Fatal
}
