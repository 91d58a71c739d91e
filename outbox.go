package sheetsync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// queuedWrite is the request data stored in the sync queue.
type queuedWrite struct {
	Action         string         `json:"action"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotencyKey"`
}

// FlushResult summarizes one FlushQueue run.
type FlushResult struct {
	Replayed  int // removed after success
	Rejected  int // remote answered success:false, entry kept
	Expired   int // older than QueueRetention, removed unsent
	Remaining int // entries still queued
}

// QueueWrite stores a write for replay by FlushQueue. Each entry carries an
// idempotency key so the remote can ignore duplicates.
func (c *Client) QueueWrite(ctx context.Context, action string, payload map[string]any) (int64, error) {
	if action == "" {
		return 0, fmt.Errorf("queue write: action is required")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	entry := queuedWrite{
		Action:         action,
		Payload:        payload,
		IdempotencyKey: uuid.NewString(),
	}
	id, err := c.store.AddToSyncQueue(ctx, entry)
	if err != nil {
		return 0, fmt.Errorf("queue write: %w", err)
	}
	c.logger.Debug("queued write", "id", id, "action", action)
	return id, nil
}

// FlushQueue replays queued writes in order. An entry is removed only after
// the remote confirms success, or unsent once it is older than
// Config.QueueRetention. A transport error stops the run, leaving the rest
// of the queue for the next flush.
func (c *Client) FlushQueue(ctx context.Context) (FlushResult, error) {
	var res FlushResult
	if c.remote == nil {
		return res, ErrRemoteRequired
	}

	entries, err := c.store.GetSyncQueue(ctx)
	if err != nil {
		return res, fmt.Errorf("read sync queue: %w", err)
	}

	for i, entry := range entries {
		if age := c.now().Sub(entry.Timestamp); age > c.config.QueueRetention {
			c.logger.Warn("dropping expired queue entry", "id", entry.ID, "age", age)
			if err := c.store.RemoveFromSyncQueue(ctx, entry.ID); err != nil {
				return res, fmt.Errorf("remove queue entry %d: %w", entry.ID, err)
			}
			res.Expired++
			continue
		}

		var w queuedWrite
		if err := json.Unmarshal(entry.RequestData, &w); err != nil || w.Action == "" {
			c.logger.Warn("dropping unreadable queue entry", "id", entry.ID)
			if err := c.store.RemoveFromSyncQueue(ctx, entry.ID); err != nil {
				return res, fmt.Errorf("remove queue entry %d: %w", entry.ID, err)
			}
			continue
		}

		payload := make(map[string]any, len(w.Payload)+1)
		for k, v := range w.Payload {
			payload[k] = v
		}
		payload["idempotencyKey"] = w.IdempotencyKey

		resp, err := c.call(ctx, w.Action, payload)
		if err != nil {
			res.Remaining = len(entries) - i
			return res, fmt.Errorf("replay queue entry %d: %w", entry.ID, err)
		}
		if resp == nil || !resp.Success {
			c.logger.Warn("queued write rejected", "id", entry.ID, "action", w.Action)
			res.Rejected++
			res.Remaining++
			continue
		}

		if err := c.store.RemoveFromSyncQueue(ctx, entry.ID); err != nil {
			return res, fmt.Errorf("remove queue entry %d: %w", entry.ID, err)
		}
		res.Replayed++
	}
	return res, nil
}
