// Package localstore is the durable, versioned on-device store behind the
// synchronizer. Each partition of the original key-structured store is a
// table: api_cache, sync_queue, app_data, resource_meta, resource_records and
// background_requests.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrStoreClosed is returned by every operation after Close.
	ErrStoreClosed = errors.New("local store is closed")

	// ErrMissingPath is returned by Open when no database path is given.
	ErrMissingPath = errors.New("database path is required")
)

// ResourceMeta is the per-resource schema and sync bookkeeping.
type ResourceMeta struct {
	Resource           string          `json:"resource"`
	Headers            []string        `json:"headers,omitempty"`
	LastSyncAt         string          `json:"lastSyncAt,omitempty"`
	Permissions        json.RawMessage `json:"permissions,omitempty"`
	FileID             string          `json:"fileId,omitempty"`
	SheetName          string          `json:"sheetName,omitempty"`
	CodePrefix         string          `json:"codePrefix,omitempty"`
	CodeSequenceLength int             `json:"codeSequenceLength,omitempty"`
}

// ResourceGrant is one entry of the authorized resource list delivered at login.
type ResourceGrant struct {
	Name               string          `json:"name"`
	Headers            []string        `json:"headers,omitempty"`
	Permissions        json.RawMessage `json:"permissions,omitempty"`
	FileID             string          `json:"fileId,omitempty"`
	SheetName          string          `json:"sheetName,omitempty"`
	CodePrefix         string          `json:"codePrefix,omitempty"`
	CodeSequenceLength int             `json:"codeSequenceLength,omitempty"`
}

// ResourceRecord is one cached row, identified by "<resource>::<code>".
type ResourceRecord struct {
	ID        string
	Resource  string
	Code      string
	Row       []any
	Headers   []string // column order of Row when it was written; nil for rows stored before it was recorded
	UpdatedAt string   // ISO-8601, empty when the row carries no timestamp
	StoredAt  time.Time
}

// SyncQueueEntry is a pending write kept until it is replayed successfully.
type SyncQueueEntry struct {
	ID          int64
	RequestData json.RawMessage
	Timestamp   time.Time
}

// APICacheEntry is a raw API response cached by request URL.
type APICacheEntry struct {
	URL       string
	Data      json.RawMessage
	Timestamp time.Time
}

// Store is a SQLite-backed local store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the store at path and applies pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrMissingPath
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// A single connection serializes writers, which makes every
	// read-merge-write transaction atomic for its key.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) check() error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
