package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// GetCache returns the cached API response for url, or nil when absent.
func (s *Store) GetCache(ctx context.Context, url string) (*APICacheEntry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	var (
		data string
		ts   int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT data, timestamp FROM api_cache WHERE url = ?`, url).Scan(&data, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read api cache: %w", err)
	}

	return &APICacheEntry{URL: url, Data: json.RawMessage(data), Timestamp: fromMillis(ts)}, nil
}

// SetCache stores data under url, always overwriting and stamping the current time.
func (s *Store) SetCache(ctx context.Context, url string, data json.RawMessage) error {
	if err := s.check(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO api_cache (url, data, timestamp) VALUES (?, ?, ?)`,
		url, string(data), toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("failed to write api cache: %w", err)
	}
	return nil
}

// GetAppData decodes the value stored under key into out.
// It reports false when the key is absent.
func (s *Store) GetAppData(ctx context.Context, key string, out any) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_data WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read app data %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return false, fmt.Errorf("failed to decode app data %q: %w", key, err)
	}
	return true, nil
}

// SetAppData stores value as JSON under key.
func (s *Store) SetAppData(ctx context.Context, key string, value any) error {
	if err := s.check(); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode app data %q: %w", key, err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO app_data (key, value) VALUES (?, ?)`, key, string(data)); err != nil {
		return fmt.Errorf("failed to write app data %q: %w", key, err)
	}
	return nil
}

// DeleteAppData removes key. Removing an absent key is not an error.
func (s *Store) DeleteAppData(ctx context.Context, key string) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM app_data WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete app data %q: %w", key, err)
	}
	return nil
}
