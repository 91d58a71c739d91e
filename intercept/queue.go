package intercept

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ideamans/go-sheetsync/localstore"
)

// RequestStore persists queued requests.
type RequestStore interface {
	PushBackgroundRequest(ctx context.Context, req localstore.QueuedRequest) error
	ListBackgroundRequests(ctx context.Context, queue string) ([]localstore.QueuedRequest, error)
	DeleteBackgroundRequest(ctx context.Context, id string) error
}

// ReplayResult summarizes one replay run.
type ReplayResult struct {
	Replayed  int
	Expired   int
	Remaining int
}

// BackgroundQueue captures requests that could not reach the network and
// replays them later. Entries older than the retention window are dropped
// instead of replayed.
type BackgroundQueue struct {
	name      string
	store     RequestStore
	transport http.RoundTripper
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	replayMu sync.Mutex
	ticker   *time.Ticker
	online   chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewBackgroundQueue creates a queue named name. transport sends replayed
// requests; nil means http.DefaultTransport.
func NewBackgroundQueue(name string, store RequestStore, transport http.RoundTripper, retention time.Duration) *BackgroundQueue {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &BackgroundQueue{
		name:      name,
		store:     store,
		transport: transport,
		retention: retention,
		logger:    slog.Default(),
		now:       time.Now,
		online:    make(chan struct{}, 1),
	}
}

// Name returns the queue name.
func (q *BackgroundQueue) Name() string {
	return q.name
}

// SetLogger replaces the logger.
func (q *BackgroundQueue) SetLogger(logger *slog.Logger) {
	if logger != nil {
		q.logger = logger
	}
}

// Enqueue stores req with body for later replay and returns its id.
func (q *BackgroundQueue) Enqueue(ctx context.Context, req *http.Request, body []byte) (string, error) {
	entry := localstore.QueuedRequest{
		ID:        uuid.NewString(),
		Queue:     q.name,
		Method:    req.Method,
		URL:       req.URL.String(),
		Header:    req.Header.Clone(),
		Body:      bytes.Clone(body),
		Timestamp: q.now(),
	}
	if err := q.store.PushBackgroundRequest(ctx, entry); err != nil {
		return "", fmt.Errorf("failed to enqueue %s %s: %w", req.Method, req.URL, err)
	}
	q.logger.Debug("request queued for background replay", "queue", q.name, "id", entry.ID, "url", entry.URL)
	return entry.ID, nil
}

// Pending returns the queued requests, oldest first.
func (q *BackgroundQueue) Pending(ctx context.Context) ([]localstore.QueuedRequest, error) {
	return q.store.ListBackgroundRequests(ctx, q.name)
}

// Replay sends queued requests in order. Any HTTP response counts as
// delivered; a network error puts the entry back and stops the run.
func (q *BackgroundQueue) Replay(ctx context.Context) (ReplayResult, error) {
	q.replayMu.Lock()
	defer q.replayMu.Unlock()

	return q.replay(ctx)
}

func (q *BackgroundQueue) replay(ctx context.Context) (ReplayResult, error) {
	var res ReplayResult

	entries, err := q.store.ListBackgroundRequests(ctx, q.name)
	if err != nil {
		return res, fmt.Errorf("failed to list queue %s: %w", q.name, err)
	}

	for i, entry := range entries {
		if q.retention > 0 && q.now().Sub(entry.Timestamp) > q.retention {
			q.logger.Warn("dropping expired background request", "queue", q.name, "id", entry.ID, "url", entry.URL)
			if err := q.store.DeleteBackgroundRequest(ctx, entry.ID); err != nil {
				return res, err
			}
			res.Expired++
			continue
		}

		req, err := http.NewRequestWithContext(ctx, entry.Method, entry.URL, bytes.NewReader(entry.Body))
		if err != nil {
			q.logger.Warn("dropping unreplayable background request", "queue", q.name, "id", entry.ID, "error", err)
			if err := q.store.DeleteBackgroundRequest(ctx, entry.ID); err != nil {
				return res, err
			}
			continue
		}
		req.Header = entry.Header.Clone()
		if req.Header == nil {
			req.Header = make(http.Header)
		}

		resp, err := q.transport.RoundTrip(req)
		if err != nil {
			entry.Attempts++
			if pushErr := q.store.PushBackgroundRequest(ctx, entry); pushErr != nil {
				q.logger.Warn("failed to requeue background request", "id", entry.ID, "error", pushErr)
			}
			res.Remaining = len(entries) - i
			return res, fmt.Errorf("replay of %s stopped: %w", entry.ID, err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if err := q.store.DeleteBackgroundRequest(ctx, entry.ID); err != nil {
			return res, err
		}
		res.Replayed++
		q.logger.Debug("background request replayed", "queue", q.name, "id", entry.ID, "status", resp.StatusCode)
	}
	return res, nil
}

// Start replays the queue every interval and whenever NotifyOnline is called.
func (q *BackgroundQueue) Start(interval time.Duration) {
	q.ticker = time.NewTicker(interval)
	q.done = make(chan struct{})
	q.wg.Add(1)

	go func() {
		defer q.wg.Done()

		for {
			select {
			case <-q.ticker.C:
				q.performReplay()
			case <-q.online:
				q.performReplay()
			case <-q.done:
				return
			}
		}
	}()
}

// NotifyOnline requests an immediate replay.
func (q *BackgroundQueue) NotifyOnline() {
	select {
	case q.online <- struct{}{}:
	default:
	}
}

// performReplay skips the cycle when a replay is already running.
func (q *BackgroundQueue) performReplay() {
	if !q.replayMu.TryLock() {
		return
	}
	defer q.replayMu.Unlock()

	if _, err := q.replay(context.Background()); err != nil {
		q.logger.Debug("background replay deferred", "queue", q.name, "error", err)
	}
}

// Stop stops the replay loop and waits for a running replay.
func (q *BackgroundQueue) Stop() {
	if q.done == nil {
		return
	}
	if q.ticker != nil {
		q.ticker.Stop()
	}
	close(q.done)
	q.wg.Wait()
	q.done = nil

	q.replayMu.Lock()
	q.replayMu.Unlock()
}
