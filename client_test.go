package sheetsync_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ideamans/go-sheetsync"
	"github.com/ideamans/go-sheetsync/localstore"
)

// recordingRemote answers every call with handle and remembers what it saw.
type recordingRemote struct {
	calls  []recordedCall
	handle func(action string, payload map[string]any) (*sheetsync.Response, error)
}

type recordedCall struct {
	action  string
	payload map[string]any
}

func (r *recordingRemote) Call(_ context.Context, action string, payload map[string]any) (*sheetsync.Response, error) {
	r.calls = append(r.calls, recordedCall{action: action, payload: payload})
	if r.handle == nil {
		return nil, errors.New("network unreachable")
	}
	return r.handle(action, payload)
}

func (r *recordingRemote) count(action string) int {
	n := 0
	for _, c := range r.calls {
		if c.action == action {
			n++
		}
	}
	return n
}

func newTestStore(t *testing.T) *localstore.Store {
	t.Helper()
	store, err := localstore.Open(context.Background(), filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedResource(t *testing.T, store *localstore.Store, resource string, headers []string, rows [][]any, cursor string) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.SetResourceMeta(ctx, resource, localstore.ResourceMeta{Headers: headers, LastSyncAt: cursor}); err != nil {
		t.Fatalf("failed to seed meta: %v", err)
	}
	if len(rows) > 0 {
		if _, err := store.UpsertResourceRows(ctx, resource, headers, rows); err != nil {
			t.Fatalf("failed to seed rows: %v", err)
		}
	}
}

func testConfig() *sheetsync.Config {
	cfg := sheetsync.DefaultConfig()
	cfg.RetryInterval = time.Millisecond
	return cfg
}

func isoTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func TestFetchResource_CacheFirstSkipsNetwork(t *testing.T) {
	store := newTestStore(t)
	seedResource(t, store, "Suppliers", []string{"Code", "Name"}, [][]any{{"S1", "Acme"}}, "")

	remote := &recordingRemote{}
	client := sheetsync.New(remote, store, nil, testConfig())

	result, err := client.FetchResource(context.Background(), "Suppliers", sheetsync.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchResource() error = %v", err)
	}
	if len(remote.calls) != 0 {
		t.Errorf("expected no remote calls, got %d", len(remote.calls))
	}
	if !result.Success || result.Stale {
		t.Errorf("success=%v stale=%v, want true/false", result.Success, result.Stale)
	}
	if result.Meta.Source != sheetsync.SourceCache {
		t.Errorf("source = %q, want %q", result.Meta.Source, sheetsync.SourceCache)
	}
	if len(result.Records) != 1 || result.Records[0]["Name"] != "Acme" {
		t.Errorf("unexpected records: %v", result.Records)
	}
}

func TestFetchResource_SyncWhenCacheExists(t *testing.T) {
	store := newTestStore(t)
	seedResource(t, store, "Suppliers", []string{"Code", "Name"}, [][]any{{"S1", "Acme"}}, "")

	remote := &recordingRemote{handle: func(string, map[string]any) (*sheetsync.Response, error) {
		return &sheetsync.Response{Success: true, Rows: json.RawMessage(`[["S2","Bolt"]]`)}, nil
	}}
	client := sheetsync.New(remote, store, nil, testConfig())

	result, err := client.FetchResource(context.Background(), "Suppliers", sheetsync.FetchOptions{SyncWhenCacheExists: true})
	if err != nil {
		t.Fatalf("FetchResource() error = %v", err)
	}
	if remote.count(sheetsync.ActionGet) != 1 {
		t.Fatalf("expected one get call, got %d", remote.count(sheetsync.ActionGet))
	}
	if result.Meta.Source != sheetsync.SourceNetwork || result.Stale {
		t.Errorf("source=%q stale=%v", result.Meta.Source, result.Stale)
	}
	if len(result.Rows) != 2 {
		t.Errorf("expected cached and synced rows, got %v", result.Rows)
	}
}

func TestFetchResource_GracefulDegradation(t *testing.T) {
	store := newTestStore(t)
	seedResource(t, store, "Suppliers", []string{"Code", "Name"}, [][]any{{"S1", "Acme"}}, "")

	remote := &recordingRemote{} // every call fails
	client := sheetsync.New(remote, store, nil, testConfig())

	result, err := client.FetchResource(context.Background(), "Suppliers", sheetsync.FetchOptions{ForceSync: true})
	if err != nil {
		t.Fatalf("FetchResource() error = %v", err)
	}
	if !result.Success || !result.Stale {
		t.Errorf("success=%v stale=%v, want true/true", result.Success, result.Stale)
	}
	if result.Message == "" {
		t.Error("expected a failure message")
	}
	if len(result.Records) != 1 || result.Records[0].Code() != "S1" {
		t.Errorf("expected the S1 row, got %v", result.Records)
	}
	if got := remote.count(sheetsync.ActionGet); got != 4 {
		t.Errorf("expected get to be tried 4 times, got %d", got)
	}

	meta, err := store.GetResourceMeta(context.Background(), "Suppliers")
	if err != nil {
		t.Fatal(err)
	}
	if meta.LastSyncAt != "" {
		t.Errorf("failed sync must not set a cursor, got %q", meta.LastSyncAt)
	}
}

func TestFetchResource_ServerFailureMessage(t *testing.T) {
	store := newTestStore(t)
	seedResource(t, store, "Suppliers", []string{"Code", "Name"}, nil, "")

	remote := &recordingRemote{handle: func(string, map[string]any) (*sheetsync.Response, error) {
		return &sheetsync.Response{Success: false, Message: "Sheet is locked"}, nil
	}}
	client := sheetsync.New(remote, store, nil, testConfig())

	result, err := client.FetchResource(context.Background(), "Suppliers", sheetsync.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchResource() error = %v", err)
	}
	if result.Success {
		t.Error("empty cache and failed sync must not report success")
	}
	if !result.Stale || result.Message != "Sheet is locked" {
		t.Errorf("stale=%v message=%q", result.Stale, result.Message)
	}
	if remote.count(sheetsync.ActionGet) != 1 {
		t.Errorf("logical failures are not retried, got %d calls", remote.count(sheetsync.ActionGet))
	}
	if result.Rows == nil || result.Records == nil {
		t.Error("rows and records must be empty slices, not nil")
	}
}

func TestFetchResource_DeltaNormalization(t *testing.T) {
	headers := []string{"Code", "Name", "Status"}

	tests := []struct {
		name string
		resp *sheetsync.Response
		want [][]any
	}{
		{
			name: "keyed records",
			resp: &sheetsync.Response{Success: true, Records: json.RawMessage(`[{"Code":"P1","Name":"Widget"}]`)},
			want: [][]any{{"P1", "Widget", nil}},
		},
		{
			name: "positional rows",
			resp: &sheetsync.Response{Success: true, Rows: json.RawMessage(`[["P1","Widget","Active"]]`)},
			want: [][]any{{"P1", "Widget", "Active"}},
		},
		{
			name: "ambiguous data of objects",
			resp: &sheetsync.Response{Success: true, Data: json.RawMessage(`[{"Name":"Widget","Code":"P1","Extra":1}]`)},
			want: [][]any{{"P1", "Widget", nil}},
		},
		{
			name: "ambiguous data of arrays",
			resp: &sheetsync.Response{Success: true, Data: json.RawMessage(`[["P1","Widget","Active"]]`)},
			want: [][]any{{"P1", "Widget", "Active"}},
		},
		{
			name: "rows with empty code are rejected",
			resp: &sheetsync.Response{Success: true, Rows: json.RawMessage(`[["  ","Ghost","Active"],["P1","Widget","Active"]]`)},
			want: [][]any{{"P1", "Widget", "Active"}},
		},
		{
			name: "malformed payload is no delta",
			resp: &sheetsync.Response{Success: true, Rows: json.RawMessage(`{"oops":true}`)},
			want: [][]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			seedResource(t, store, "Products", headers, nil, "")
			remote := &recordingRemote{handle: func(string, map[string]any) (*sheetsync.Response, error) {
				return tt.resp, nil
			}}
			client := sheetsync.New(remote, store, nil, testConfig())

			result, err := client.FetchResource(context.Background(), "Products", sheetsync.FetchOptions{IncludeInactive: true})
			if err != nil {
				t.Fatalf("FetchResource() error = %v", err)
			}
			if !result.Success || result.Stale {
				t.Errorf("success=%v stale=%v", result.Success, result.Stale)
			}

			stored, err := store.GetResourceRows(context.Background(), "Products", localstore.AllRows)
			if err != nil {
				t.Fatal(err)
			}
			if len(stored) != len(tt.want) {
				t.Fatalf("stored %d rows, want %d: %v", len(stored), len(tt.want), stored)
			}
			for i := range tt.want {
				if !reflect.DeepEqual(stored[i], tt.want[i]) {
					t.Errorf("row %d = %#v, want %#v", i, stored[i], tt.want[i])
				}
			}
		})
	}
}

func TestFetchResource_ActiveFilter(t *testing.T) {
	store := newTestStore(t)
	seedResource(t, store, "Products", []string{"Code", "Name", "Status"}, [][]any{
		{"P1", "Widget", "Active"},
		{"P2", "Gadget", "Inactive"},
		{"P3", "Doohickey", " Active "},
	}, "")
	client := sheetsync.New(&recordingRemote{}, store, nil, testConfig())

	active, err := client.FetchResource(context.Background(), "Products", sheetsync.FetchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(active.Rows) != 2 {
		t.Errorf("expected 2 active rows, got %v", active.Rows)
	}
	for _, rec := range active.Records {
		if !rec.IsActive() {
			t.Errorf("inactive record returned: %v", rec)
		}
	}

	all, err := client.FetchResource(context.Background(), "Products", sheetsync.FetchOptions{IncludeInactive: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(all.Rows) != 3 {
		t.Errorf("expected 3 rows with IncludeInactive, got %v", all.Rows)
	}
}

func TestFetchResource_TimeWindow(t *testing.T) {
	tests := []struct {
		name     string
		cursor   string
		interval time.Duration
		policy   sheetsync.Policy
		wantCall bool
	}{
		{name: "cursor inside interval", cursor: isoTime(time.Now().Add(-30 * time.Second)), interval: 2 * time.Minute, wantCall: false},
		{name: "cursor older than interval", cursor: isoTime(time.Now().Add(-5 * time.Minute)), interval: 2 * time.Minute, wantCall: true},
		{name: "no cursor", cursor: "", interval: 2 * time.Minute, wantCall: true},
		{name: "policy with default interval", cursor: isoTime(time.Now().Add(-time.Minute)), policy: sheetsync.PolicyTimeWindowed, wantCall: false},
		{name: "policy with default interval expired", cursor: isoTime(time.Now().Add(-3 * time.Minute)), policy: sheetsync.PolicyTimeWindowed, wantCall: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			seedResource(t, store, "Suppliers", []string{"Code", "Name"}, [][]any{{"S1", "Acme"}}, tt.cursor)
			remote := &recordingRemote{handle: func(string, map[string]any) (*sheetsync.Response, error) {
				return &sheetsync.Response{Success: true, Rows: json.RawMessage(`[]`)}, nil
			}}
			client := sheetsync.New(remote, store, nil, testConfig())

			result, err := client.FetchResource(context.Background(), "Suppliers", sheetsync.FetchOptions{
				Policy:       tt.policy,
				SyncInterval: tt.interval,
			})
			if err != nil {
				t.Fatal(err)
			}
			if got := remote.count(sheetsync.ActionGet) > 0; got != tt.wantCall {
				t.Errorf("network call = %v, want %v", got, tt.wantCall)
			}
			if len(result.Rows) != 1 {
				t.Errorf("expected the cached row, got %v", result.Rows)
			}
		})
	}
}

func TestFetchResource_IncrementalCursor(t *testing.T) {
	ctx := context.Background()
	headers := []string{"Code", "Name", "UpdatedAt"}
	cursor := "2024-05-01T00:00:00.000Z"

	store := newTestStore(t)
	seedResource(t, store, "Products", headers, nil, cursor)

	remote := &recordingRemote{handle: func(string, map[string]any) (*sheetsync.Response, error) {
		return &sheetsync.Response{
			Success: true,
			Rows:    json.RawMessage(`[["P1","Widget","2024-05-02T00:00:00Z"]]`),
			Meta:    &sheetsync.ResponseMeta{LastSyncAt: "2024-05-02T10:00:00.000Z"},
		}, nil
	}}
	client := sheetsync.New(remote, store, nil, testConfig())

	if _, err := client.FetchResource(ctx, "Products", sheetsync.FetchOptions{ForceSync: true}); err != nil {
		t.Fatal(err)
	}

	payload := remote.calls[0].payload
	if payload["lastUpdatedAt"] != cursor {
		t.Errorf("lastUpdatedAt = %v, want %v", payload["lastUpdatedAt"], cursor)
	}
	if payload["includeInactive"] != true || payload["scope"] != "master" || payload["resource"] != "Products" {
		t.Errorf("unexpected payload: %v", payload)
	}

	meta, err := store.GetResourceMeta(ctx, "Products")
	if err != nil {
		t.Fatal(err)
	}
	if meta.LastSyncAt != "2024-05-02T10:00:00.000Z" {
		t.Errorf("cursor = %q, want server cursor", meta.LastSyncAt)
	}

	var mirrored string
	found, err := store.GetAppData(ctx, "master-sync-cursor::Products", &mirrored)
	if err != nil || !found || mirrored != meta.LastSyncAt {
		t.Errorf("cursor mirror = %q (found=%v, err=%v)", mirrored, found, err)
	}
}

func TestFetchResource_NoIncrementalWithoutUpdatedAt(t *testing.T) {
	store := newTestStore(t)
	seedResource(t, store, "Suppliers", []string{"Code", "Name"}, nil, "2024-05-01T00:00:00.000Z")

	remote := &recordingRemote{handle: func(string, map[string]any) (*sheetsync.Response, error) {
		return &sheetsync.Response{Success: true}, nil
	}}
	client := sheetsync.New(remote, store, nil, testConfig())

	before := time.Now().Add(-time.Second)
	if _, err := client.FetchResource(context.Background(), "Suppliers", sheetsync.FetchOptions{ForceSync: true}); err != nil {
		t.Fatal(err)
	}
	if _, ok := remote.calls[0].payload["lastUpdatedAt"]; ok {
		t.Error("lastUpdatedAt sent for a resource without UpdatedAt column")
	}

	meta, err := store.GetResourceMeta(context.Background(), "Suppliers")
	if err != nil {
		t.Fatal(err)
	}
	synced, err := time.Parse(time.RFC3339Nano, meta.LastSyncAt)
	if err != nil || synced.Before(before) {
		t.Errorf("expected cursor set to now, got %q", meta.LastSyncAt)
	}
}

func TestFetchResource_CursorMirrorFallback(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedResource(t, store, "Products", []string{"Code", "UpdatedAt"}, nil, "")
	if err := store.SetAppData(ctx, "master-sync-cursor::Products", "2024-01-01T00:00:00.000Z"); err != nil {
		t.Fatal(err)
	}

	remote := &recordingRemote{handle: func(string, map[string]any) (*sheetsync.Response, error) {
		return &sheetsync.Response{Success: true}, nil
	}}
	client := sheetsync.New(remote, store, nil, testConfig())
	if _, err := client.FetchResource(ctx, "Products", sheetsync.FetchOptions{}); err != nil {
		t.Fatal(err)
	}
	if got := remote.calls[0].payload["lastUpdatedAt"]; got != "2024-01-01T00:00:00.000Z" {
		t.Errorf("lastUpdatedAt = %v, want mirrored cursor", got)
	}
}

func TestFetchResource_ResolveHeaders(t *testing.T) {
	ctx := context.Background()

	t.Run("from session grants", func(t *testing.T) {
		store := newTestStore(t)
		session := sheetsync.NewSession("token", nil, []localstore.ResourceGrant{
			{Name: "Suppliers", Headers: []string{"Code", "Name"}},
		})
		remote := &recordingRemote{handle: func(string, map[string]any) (*sheetsync.Response, error) {
			return &sheetsync.Response{Success: true, Rows: json.RawMessage(`[["S1","Acme"]]`)}, nil
		}}
		client := sheetsync.New(remote, store, session, testConfig())

		result, err := client.FetchResource(ctx, "Suppliers", sheetsync.FetchOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(result.Headers, []string{"Code", "Name"}) {
			t.Errorf("headers = %v", result.Headers)
		}
		if remote.count(sheetsync.ActionGetAuthorizedResources) != 0 {
			t.Error("resource listing must not be called when the session knows the headers")
		}
		meta, err := store.GetResourceMeta(ctx, "Suppliers")
		if err != nil || meta == nil || len(meta.Headers) != 2 {
			t.Errorf("headers not persisted: %v, %v", meta, err)
		}
	})

	t.Run("from remote listing", func(t *testing.T) {
		store := newTestStore(t)
		remote := &recordingRemote{handle: func(action string, payload map[string]any) (*sheetsync.Response, error) {
			if action == sheetsync.ActionGetAuthorizedResources {
				if payload["includeHeaders"] != true {
					t.Errorf("includeHeaders not requested: %v", payload)
				}
				return &sheetsync.Response{Success: true, Resources: []localstore.ResourceGrant{
					{Name: "Other", Headers: []string{"X"}},
					{Name: "Suppliers", Headers: []string{"Code", "Name"}},
				}}, nil
			}
			return &sheetsync.Response{Success: true, Rows: json.RawMessage(`[["S1","Acme"]]`)}, nil
		}}
		client := sheetsync.New(remote, store, nil, testConfig())

		result, err := client.FetchResource(ctx, "Suppliers", sheetsync.FetchOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if len(result.Records) != 1 || result.Records[0]["Name"] != "Acme" {
			t.Errorf("records = %v", result.Records)
		}
		meta, err := store.GetResourceMeta(ctx, "Suppliers")
		if err != nil || meta == nil || !reflect.DeepEqual(meta.Headers, []string{"Code", "Name"}) {
			t.Errorf("headers not persisted: %v, %v", meta, err)
		}
	})

	t.Run("unavailable", func(t *testing.T) {
		store := newTestStore(t)
		remote := &recordingRemote{handle: func(string, map[string]any) (*sheetsync.Response, error) {
			return &sheetsync.Response{Success: true}, nil
		}}
		client := sheetsync.New(remote, store, nil, testConfig())

		result, err := client.FetchResource(ctx, "Ghost", sheetsync.FetchOptions{})
		if !errors.Is(err, sheetsync.ErrHeadersUnavailable) {
			t.Fatalf("error = %v, want ErrHeadersUnavailable", err)
		}
		if result.Success || len(result.Headers) != 0 || result.Headers == nil {
			t.Errorf("unexpected failure result: %+v", result)
		}
		if !strings.Contains(result.Message, "Ghost") {
			t.Errorf("message = %q", result.Message)
		}
		if remote.count(sheetsync.ActionGet) != 0 {
			t.Error("get must not be called without headers")
		}
	})

	t.Run("empty name", func(t *testing.T) {
		client := sheetsync.New(&recordingRemote{}, newTestStore(t), nil, testConfig())
		if _, err := client.FetchResource(ctx, "", sheetsync.FetchOptions{}); !errors.Is(err, sheetsync.ErrMissingResource) {
			t.Errorf("error = %v, want ErrMissingResource", err)
		}
	})
}

// stalledStore never answers before the caller's deadline.
type stalledStore struct{}

func (stalledStore) GetResourceMeta(ctx context.Context, _ string) (*localstore.ResourceMeta, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledStore) SetResourceMeta(ctx context.Context, _ string, _ localstore.ResourceMeta) (*localstore.ResourceMeta, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledStore) UpsertResourceRows(ctx context.Context, _ string, _ []string, _ [][]any) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (stalledStore) GetResourceRows(ctx context.Context, _ string, _ localstore.RowOptions) ([][]any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledStore) GetAppData(ctx context.Context, _ string, _ any) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (stalledStore) SetAppData(ctx context.Context, _ string, _ any) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stalledStore) AddToSyncQueue(ctx context.Context, _ any) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (stalledStore) GetSyncQueue(ctx context.Context) ([]localstore.SyncQueueEntry, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledStore) RemoveFromSyncQueue(ctx context.Context, _ int64) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestFetchResource_StalledStoreDegrades(t *testing.T) {
	session := sheetsync.NewSession("token", nil, []localstore.ResourceGrant{
		{Name: "Suppliers", Headers: []string{"Code", "Name"}},
	})
	remote := &recordingRemote{handle: func(string, map[string]any) (*sheetsync.Response, error) {
		return &sheetsync.Response{Success: true, Rows: json.RawMessage(`[["S1","Acme"]]`)}, nil
	}}
	cfg := testConfig()
	cfg.StoreTimeout = 20 * time.Millisecond
	client := sheetsync.New(remote, stalledStore{}, session, cfg)

	start := time.Now()
	result, err := client.FetchResource(context.Background(), "Suppliers", sheetsync.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchResource() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("fetch took %v with a stalled store", elapsed)
	}
	if !result.Success || len(result.Records) != 1 || result.Records[0].Code() != "S1" {
		t.Errorf("expected the synced row as fallback, got %+v", result)
	}
}

func TestCreateAndUpdateRecord(t *testing.T) {
	ctx := context.Background()
	remote := &recordingRemote{handle: func(string, map[string]any) (*sheetsync.Response, error) {
		return &sheetsync.Response{Success: true}, nil
	}}
	client := sheetsync.New(remote, newTestStore(t), nil, testConfig())

	if _, err := client.CreateRecord(ctx, "Suppliers", sheetsync.Record{"Name": "Acme"}); err != nil {
		t.Fatal(err)
	}
	if _, err := client.UpdateRecord(ctx, "Suppliers", "S1", sheetsync.Record{"Name": "Acme Ltd"}); err != nil {
		t.Fatal(err)
	}

	if len(remote.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(remote.calls))
	}
	create, update := remote.calls[0], remote.calls[1]
	if create.action != sheetsync.ActionCreate || create.payload["resource"] != "Suppliers" {
		t.Errorf("unexpected create call: %+v", create)
	}
	if update.action != sheetsync.ActionUpdate || update.payload["code"] != "S1" {
		t.Errorf("unexpected update call: %+v", update)
	}
	if rec, ok := update.payload["record"].(map[string]any); !ok || rec["Name"] != "Acme Ltd" {
		t.Errorf("unexpected update record: %v", update.payload["record"])
	}
}

func TestWritesAreNotRetried(t *testing.T) {
	remote := &recordingRemote{}
	client := sheetsync.New(remote, newTestStore(t), nil, testConfig())

	if _, err := client.CreateRecord(context.Background(), "Suppliers", sheetsync.Record{"Name": "Acme"}); err == nil {
		t.Fatal("expected an error from an unreachable remote")
	}
	if len(remote.calls) != 1 {
		t.Errorf("create was sent %d times, want 1", len(remote.calls))
	}
}

func TestReadRetriesRecover(t *testing.T) {
	store := newTestStore(t)
	seedResource(t, store, "Suppliers", []string{"Code", "Name"}, nil, "")

	failures := 2
	remote := &recordingRemote{}
	remote.handle = func(string, map[string]any) (*sheetsync.Response, error) {
		if failures > 0 {
			failures--
			return nil, errors.New("connection reset")
		}
		return &sheetsync.Response{Success: true, Rows: json.RawMessage(`[["S1","Acme"]]`)}, nil
	}
	client := sheetsync.New(remote, store, nil, testConfig())

	result, err := client.FetchResource(context.Background(), "Suppliers", sheetsync.FetchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stale || len(result.Rows) != 1 {
		t.Errorf("stale=%v rows=%v", result.Stale, result.Rows)
	}
	if got := remote.count(sheetsync.ActionGet); got != 3 {
		t.Errorf("get calls = %d, want 3", got)
	}
}

func TestReadRetries_MaxRetries(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		wantCalls  int
	}{
		{name: "zero disables retries", maxRetries: 0, wantCalls: 1},
		{name: "negative uses the default", maxRetries: -1, wantCalls: 4},
		{name: "explicit count", maxRetries: 1, wantCalls: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			seedResource(t, store, "Suppliers", []string{"Code", "Name"}, [][]any{{"S1", "Acme"}}, "")

			cfg := testConfig()
			cfg.MaxRetries = tt.maxRetries
			remote := &recordingRemote{}
			client := sheetsync.New(remote, store, nil, cfg)

			result, err := client.FetchResource(context.Background(), "Suppliers", sheetsync.FetchOptions{ForceSync: true})
			if err != nil {
				t.Fatal(err)
			}
			if !result.Stale {
				t.Error("expected a stale result")
			}
			if got := remote.count(sheetsync.ActionGet); got != tt.wantCalls {
				t.Errorf("get calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestResult_Query(t *testing.T) {
	store := newTestStore(t)
	seedResource(t, store, "Products", []string{"Code", "Name", "Price"}, [][]any{
		{"P1", "Widget", 100},
		{"P2", "Gadget", 250},
	}, "")
	client := sheetsync.New(&recordingRemote{}, store, nil, testConfig())

	result, err := client.FetchResource(context.Background(), "Products", sheetsync.FetchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	expensive, err := result.Query(sheetsync.Query{Conditions: []sheetsync.Condition{
		{Column: "Price", Operator: ">", Value: 200},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(expensive) != 1 || expensive[0].Code() != "P2" {
		t.Errorf("unexpected query result: %v", expensive)
	}
}
