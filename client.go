package sheetsync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ideamans/go-sheetsync/localstore"
)

// Store is the subset of localstore.Store used by the synchronizer.
type Store interface {
	GetResourceMeta(ctx context.Context, resource string) (*localstore.ResourceMeta, error)
	SetResourceMeta(ctx context.Context, resource string, patch localstore.ResourceMeta) (*localstore.ResourceMeta, error)
	UpsertResourceRows(ctx context.Context, resource string, headers []string, rows [][]any) (int, error)
	GetResourceRows(ctx context.Context, resource string, opts localstore.RowOptions) ([][]any, error)
	GetAppData(ctx context.Context, key string, out any) (bool, error)
	SetAppData(ctx context.Context, key string, value any) error
	AddToSyncQueue(ctx context.Context, requestData any) (int64, error)
	GetSyncQueue(ctx context.Context) ([]localstore.SyncQueueEntry, error)
	RemoveFromSyncQueue(ctx context.Context, id int64) error
}

// Result sources.
const (
	SourceCache    = "cache"
	SourceNetwork  = "network"
	SourceFallback = "fallback"
)

// Policy selects how FetchResource decides between cache and network.
type Policy int

const (
	// PolicyCacheFirst serves cached rows when present.
	PolicyCacheFirst Policy = iota
	// PolicyTimeWindowed serves cached rows while the sync cursor is younger
	// than the sync interval.
	PolicyTimeWindowed
)

// FetchOptions controls a single FetchResource call.
type FetchOptions struct {
	IncludeInactive     bool
	ForceSync           bool
	Policy              Policy
	SyncWhenCacheExists bool          // cache-first: sync even with a warm cache
	SyncInterval        time.Duration // time-windowed: selects the policy when > 0
	Scope               string        // overrides Config.Scope
}

func (o FetchOptions) timeWindowed() bool {
	return o.Policy == PolicyTimeWindowed || o.SyncInterval > 0
}

// ResultMeta describes where the rows of a Result came from.
type ResultMeta struct {
	Resource   string `json:"resource"`
	Source     string `json:"source,omitempty"`
	LastSyncAt string `json:"lastSyncAt,omitempty"`
}

// Result is the outcome of FetchResource.
type Result struct {
	Success bool       `json:"success"`
	Stale   bool       `json:"stale"`
	Message string     `json:"message,omitempty"`
	Headers []string   `json:"headers"`
	Rows    [][]any    `json:"rows"`
	Records []Record   `json:"records"`
	Meta    ResultMeta `json:"meta"`
}

// Query filters the records of the result.
func (r *Result) Query(q Query) ([]Record, error) {
	return ApplyQuery(r.Records, q)
}

// Client is the record synchronizer. It keeps a per-resource local cache in
// Store up to date from Remote.
type Client struct {
	config  Config
	remote  Remote
	store   Store
	session *Session
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a synchronizer. session may be nil when no login took place.
func New(remote Remote, store Store, session *Session, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	cfg.applyDefaults()

	return &Client{
		config:  cfg,
		remote:  remote,
		store:   store,
		session: session,
		logger:  slog.Default(),
		now:     time.Now,
	}
}

// SetLogger replaces the logger.
func (c *Client) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetClock replaces the clock used for sync cursors, the time window and
// queue retention.
func (c *Client) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// SetSession attaches the session created by Login.
func (c *Client) SetSession(session *Session) {
	c.session = session
}

// FetchResource returns the rows of resource, syncing from the remote when
// the policy in opts asks for it. Remote failures are reported through
// Result.Stale and Result.Message; the only error is ErrHeadersUnavailable
// (and ErrMissingResource for an empty name).
func (c *Client) FetchResource(ctx context.Context, resource string, opts FetchOptions) (*Result, error) {
	if resource == "" {
		return emptyResult(resource, "Resource name is required"), ErrMissingResource
	}

	headers, meta := c.resolveHeaders(ctx, resource)
	if len(headers) == 0 {
		return emptyResult(resource, fmt.Sprintf("Headers unavailable for %s", resource)),
			fmt.Errorf("%w for %s", ErrHeadersUnavailable, resource)
	}

	cursor := ""
	if meta != nil {
		cursor = meta.LastSyncAt
	}
	if cursor == "" {
		cursor = c.localCursor(ctx, resource)
	}

	rowOpts := localstore.RowOptions{
		IncludeInactive: opts.IncludeInactive,
		StatusIndex:     slices.Index(headers, localstore.StatusHeader),
		ActiveMarker:    c.config.ActiveStatus,
	}
	cached := c.readRows(ctx, resource, rowOpts)

	if !opts.ForceSync && c.cacheIsFresh(opts, cached, cursor) {
		c.logger.Debug("serving resource from cache", "resource", resource, "rows", len(cached))
		return composeResult(resource, headers, cached, true, false, "", SourceCache, cursor), nil
	}

	scope := opts.Scope
	if scope == "" {
		scope = c.config.Scope
	}
	payload := map[string]any{
		"scope":           scope,
		"resource":        resource,
		"includeInactive": true,
	}
	if cursor != "" && slices.Contains(headers, localstore.UpdatedAtHeader) {
		payload["lastUpdatedAt"] = cursor
	}

	resp, err := c.call(ctx, ActionGet, payload)
	synced := err == nil && resp != nil && resp.Success

	var syncRows [][]any
	message := ""
	nextCursor := cursor
	if synced {
		syncRows = DecodeDelta(resp).PositionalRows(headers)
		if len(syncRows) > 0 {
			n := WithTimeout(ctx, c.config.StoreTimeout, 0, func(ctx context.Context) (int, error) {
				return c.store.UpsertResourceRows(ctx, resource, headers, syncRows)
			})
			c.logger.Debug("merged delta", "resource", resource, "received", len(syncRows), "stored", n)
		}

		nextCursor = FormatTimestamp(c.now())
		if resp.Meta != nil && resp.Meta.LastSyncAt != "" {
			nextCursor = resp.Meta.LastSyncAt
		}
		c.saveCursor(ctx, resource, headers, nextCursor)
	} else {
		message = syncFailureMessage(resource, resp, err)
		c.logger.Warn("resource sync failed, serving local data", "resource", resource, "message", message)
	}

	rows := c.readRows(ctx, resource, rowOpts)
	if len(rows) == 0 && len(syncRows) > 0 {
		rows = syncRows
		if !opts.IncludeInactive && rowOpts.StatusIndex >= 0 {
			rows = localstore.FilterActive(syncRows, rowOpts.StatusIndex, rowOpts.ActiveMarker)
		}
	}
	if len(rows) == 0 {
		rows = cached
	}

	source := SourceNetwork
	if !synced {
		source = SourceFallback
	}
	return composeResult(resource, headers, rows, synced || len(rows) > 0, !synced, message, source, nextCursor), nil
}

// CreateRecord asks the remote to append record to resource. The local cache
// is not touched; fetch again to observe the new row.
func (c *Client) CreateRecord(ctx context.Context, resource string, record Record) (*Response, error) {
	if resource == "" {
		return nil, ErrMissingResource
	}
	return c.call(ctx, ActionCreate, map[string]any{
		"scope":    c.config.Scope,
		"resource": resource,
		"record":   map[string]any(record),
	})
}

// UpdateRecord asks the remote to replace the fields of the row identified
// by code.
func (c *Client) UpdateRecord(ctx context.Context, resource, code string, record Record) (*Response, error) {
	if resource == "" {
		return nil, ErrMissingResource
	}
	return c.call(ctx, ActionUpdate, map[string]any{
		"scope":    c.config.Scope,
		"resource": resource,
		"code":     code,
		"record":   map[string]any(record),
	})
}

// resolveHeaders looks up the column order in the store, then the session's
// grants, then the remote. Headers found outside the store are persisted.
func (c *Client) resolveHeaders(ctx context.Context, resource string) ([]string, *localstore.ResourceMeta) {
	meta := WithTimeout(ctx, c.config.StoreTimeout, (*localstore.ResourceMeta)(nil),
		func(ctx context.Context) (*localstore.ResourceMeta, error) {
			return c.store.GetResourceMeta(ctx, resource)
		})
	if meta != nil && len(meta.Headers) > 0 {
		return meta.Headers, meta
	}

	if grant, ok := c.session.Resource(resource); ok && len(grant.Headers) > 0 {
		c.persistHeaders(ctx, resource, grant.Headers)
		return grant.Headers, meta
	}

	resp, err := c.call(ctx, ActionGetAuthorizedResources, map[string]any{"includeHeaders": true})
	if err != nil || resp == nil || !resp.Success {
		c.logger.Warn("resource listing failed", "resource", resource, "error", err)
		return nil, meta
	}
	for _, grant := range resp.Resources {
		if grant.Name == resource && len(grant.Headers) > 0 {
			c.persistHeaders(ctx, resource, grant.Headers)
			return grant.Headers, meta
		}
	}
	return nil, meta
}

func (c *Client) persistHeaders(ctx context.Context, resource string, headers []string) {
	WithTimeout(ctx, c.config.StoreTimeout, (*localstore.ResourceMeta)(nil),
		func(ctx context.Context) (*localstore.ResourceMeta, error) {
			return c.store.SetResourceMeta(ctx, resource, localstore.ResourceMeta{Headers: headers})
		})
}

func (c *Client) readRows(ctx context.Context, resource string, opts localstore.RowOptions) [][]any {
	return WithTimeout(ctx, c.config.StoreTimeout, [][]any{}, func(ctx context.Context) ([][]any, error) {
		return c.store.GetResourceRows(ctx, resource, opts)
	})
}

// cacheIsFresh applies the caller's policy. The time window does not look at
// whether the cache holds rows; a recent cursor with an empty cache means the
// resource is empty.
func (c *Client) cacheIsFresh(opts FetchOptions, cached [][]any, cursor string) bool {
	if opts.timeWindowed() {
		interval := opts.SyncInterval
		if interval <= 0 {
			interval = c.config.SyncInterval
		}
		last, err := time.Parse(time.RFC3339Nano, localstore.ParseTimestamp(cursor))
		if err != nil {
			return false
		}
		return c.now().Sub(last) < interval
	}
	return !opts.SyncWhenCacheExists && len(cached) > 0
}

func cursorKey(resource string) string {
	return "master-sync-cursor::" + resource
}

func (c *Client) localCursor(ctx context.Context, resource string) string {
	return WithTimeout(ctx, c.config.StoreTimeout, "", func(ctx context.Context) (string, error) {
		var cursor string
		if _, err := c.store.GetAppData(ctx, cursorKey(resource), &cursor); err != nil {
			return "", err
		}
		return cursor, nil
	})
}

func (c *Client) saveCursor(ctx context.Context, resource string, headers []string, cursor string) {
	WithTimeout(ctx, c.config.StoreTimeout, (*localstore.ResourceMeta)(nil),
		func(ctx context.Context) (*localstore.ResourceMeta, error) {
			return c.store.SetResourceMeta(ctx, resource, localstore.ResourceMeta{Headers: headers, LastSyncAt: cursor})
		})
	WithTimeout(ctx, c.config.StoreTimeout, struct{}{}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.store.SetAppData(ctx, cursorKey(resource), cursor)
	})
}

// call sends action to the remote. Read actions are retried with capped
// exponential backoff; writes are sent once.
func (c *Client) call(ctx context.Context, action string, payload map[string]any) (*Response, error) {
	if c.remote == nil {
		return nil, ErrRemoteRequired
	}

	attempts := 1
	if IsReadAction(action) {
		attempts += c.config.MaxRetries
	}

	var resp *Response
	var err error
	for i := 0; i < attempts; i++ {
		resp, err = c.remote.Call(ctx, action, payload)
		if err == nil {
			return resp, nil
		}

		if i < attempts-1 {
			backoff := time.Duration(1<<uint(i)) * c.config.RetryInterval
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	if attempts > 1 {
		return nil, fmt.Errorf("%s failed after %d retries: %w", action, c.config.MaxRetries, err)
	}
	return nil, fmt.Errorf("%s: %w", action, err)
}

func syncFailureMessage(resource string, resp *Response, err error) string {
	if resp != nil && resp.Message != "" {
		return resp.Message
	}
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("Failed to sync %s", resource)
}

func emptyResult(resource, message string) *Result {
	return &Result{
		Message: message,
		Headers: []string{},
		Rows:    [][]any{},
		Records: []Record{},
		Meta:    ResultMeta{Resource: resource},
	}
}

func composeResult(resource string, headers []string, rows [][]any, success, stale bool, message, source, cursor string) *Result {
	if rows == nil {
		rows = [][]any{}
	}
	return &Result{
		Success: success,
		Stale:   stale,
		Message: message,
		Headers: headers,
		Rows:    rows,
		Records: RowsToObjects(rows, headers),
		Meta:    ResultMeta{Resource: resource, Source: source, LastSyncAt: cursor},
	}
}
