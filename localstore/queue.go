package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// AddToSyncQueue appends a pending write and returns its sequence id.
func (s *Store) AddToSyncQueue(ctx context.Context, requestData any) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}

	data, err := json.Marshal(requestData)
	if err != nil {
		return 0, fmt.Errorf("failed to encode sync queue entry: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_queue (request_data, timestamp) VALUES (?, ?)`,
		string(data), toMillis(s.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to add sync queue entry: %w", err)
	}
	return res.LastInsertId()
}

// GetSyncQueue returns all pending writes in id order.
func (s *Store) GetSyncQueue(ctx context.Context) ([]SyncQueueEntry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, request_data, timestamp FROM sync_queue ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync queue: %w", err)
	}
	defer rows.Close()

	var entries []SyncQueueEntry
	for rows.Next() {
		var (
			entry SyncQueueEntry
			data  string
			ts    int64
		)
		if err := rows.Scan(&entry.ID, &data, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan sync queue entry: %w", err)
		}
		entry.RequestData = json.RawMessage(data)
		entry.Timestamp = fromMillis(ts)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// RemoveFromSyncQueue deletes the entry with id.
func (s *Store) RemoveFromSyncQueue(ctx context.Context, id int64) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove sync queue entry %d: %w", id, err)
	}
	return nil
}

// QueuedRequest is the full state of an HTTP request captured for
// background replay.
type QueuedRequest struct {
	ID        string
	Queue     string
	Method    string
	URL       string
	Header    http.Header
	Body      []byte
	Timestamp time.Time
	Attempts  int
}

// PushBackgroundRequest stores req at the tail of its queue. Pushing an id
// that is already queued updates it in place and keeps its position.
func (s *Store) PushBackgroundRequest(ctx context.Context, req QueuedRequest) error {
	if err := s.check(); err != nil {
		return err
	}

	header, err := json.Marshal(req.Header)
	if err != nil {
		return fmt.Errorf("failed to encode request header: %w", err)
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = s.now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO background_requests (id, queue, method, url, header, body, timestamp, attempts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   queue = excluded.queue, method = excluded.method, url = excluded.url,
		   header = excluded.header, body = excluded.body,
		   timestamp = excluded.timestamp, attempts = excluded.attempts`,
		req.ID, req.Queue, req.Method, req.URL, string(header), req.Body, toMillis(req.Timestamp), req.Attempts)
	if err != nil {
		return fmt.Errorf("failed to queue background request: %w", err)
	}
	return nil
}

// ListBackgroundRequests returns the queued requests of queue in the order
// they were first pushed.
func (s *Store) ListBackgroundRequests(ctx context.Context, queue string) ([]QueuedRequest, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, queue, method, url, header, body, timestamp, attempts
		 FROM background_requests WHERE queue = ? ORDER BY seq`, queue)
	if err != nil {
		return nil, fmt.Errorf("failed to read background queue: %w", err)
	}
	defer rows.Close()

	var out []QueuedRequest
	for rows.Next() {
		var (
			req    QueuedRequest
			header string
			ts     int64
		)
		if err := rows.Scan(&req.ID, &req.Queue, &req.Method, &req.URL, &header, &req.Body, &ts, &req.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan background request: %w", err)
		}
		if err := json.Unmarshal([]byte(header), &req.Header); err != nil {
			return nil, fmt.Errorf("failed to decode header of %s: %w", req.ID, err)
		}
		req.Timestamp = fromMillis(ts)
		out = append(out, req)
	}
	return out, rows.Err()
}

// DeleteBackgroundRequest removes a replayed or expired request.
func (s *Store) DeleteBackgroundRequest(ctx context.Context, id string) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM background_requests WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete background request %s: %w", id, err)
	}
	return nil
}
