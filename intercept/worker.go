// Package intercept is the network interception layer. A Worker is an
// http.RoundTripper that routes each request to a caching strategy, injects
// the session token into API calls, mirrors API responses into the local
// store and queues API calls that could not reach the network.
package intercept

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Message types accepted by PostMessage.
const (
	MessageSetAuthToken = "SET_AUTH_TOKEN"
	MessageSkipWaiting  = "SKIP_WAITING"
)

var (
	// ErrWorkerStopped is returned by PostMessage once Run has returned.
	ErrWorkerStopped = errors.New("worker is not running")
	// ErrUnknownMessage is returned for an unsupported message type.
	ErrUnknownMessage = errors.New("unknown message type")
)

// Message is sent from the application to the worker.
type Message struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// Store is the part of the local store the worker writes to.
type Store interface {
	SetCache(ctx context.Context, url string, data json.RawMessage) error
	RequestStore
}

type envelope struct {
	msg   Message
	reply chan error
}

// Worker intercepts outbound requests. Its state is changed only by the
// message loop started with Run.
type Worker struct {
	policy Policy
	base   http.RoundTripper
	store  Store
	caches *CacheStorage
	queue  *BackgroundQueue
	logger *slog.Logger

	api            *NetworkFirst
	fontStylesheet *StaleWhileRevalidate
	fontFiles      *CacheFirst
	images         *CacheFirst
	static         *StaleWhileRevalidate

	inbox   chan envelope
	stopped chan struct{}

	mu      sync.RWMutex
	token   string
	active  string
	waiting string
}

// NewWorker creates a worker that forwards to base (http.DefaultTransport
// when nil). A nil policy means DefaultPolicy.
func NewWorker(base http.RoundTripper, store Store, policy *Policy) *Worker {
	if base == nil {
		base = http.DefaultTransport
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	p := *policy
	p.applyDefaults()

	w := &Worker{
		policy:  p,
		base:    base,
		store:   store,
		caches:  NewCacheStorage(),
		logger:  slog.Default(),
		inbox:   make(chan envelope),
		stopped: make(chan struct{}),
	}
	w.queue = NewBackgroundQueue(p.SyncQueue, store, base, p.RetryRetention)
	w.api = &NetworkFirst{
		Cache: w.caches.Open(p.API),
		Hooks: Hooks{
			FetchDidSucceed: w.commitAPIResponse,
			FetchDidFail:    w.enqueueFailed,
		},
	}
	w.fontStylesheet = &StaleWhileRevalidate{Cache: w.caches.Open(p.FontStylesheets)}
	w.fontFiles = &CacheFirst{Cache: w.caches.Open(p.FontFiles)}
	w.images = &CacheFirst{Cache: w.caches.Open(p.Images)}
	w.static = &StaleWhileRevalidate{Cache: w.caches.Open(p.Static)}
	return w
}

// SetLogger replaces the logger of the worker and its queue.
func (w *Worker) SetLogger(logger *slog.Logger) {
	if logger != nil {
		w.logger = logger
		w.queue.SetLogger(logger)
	}
}

// Queue returns the background retry queue.
func (w *Worker) Queue() *BackgroundQueue {
	return w.queue
}

// Caches returns the named response caches.
func (w *Worker) Caches() *CacheStorage {
	return w.caches
}

// Client returns an http.Client whose requests go through the worker.
func (w *Worker) Client() *http.Client {
	return &http.Client{Transport: w}
}

// Run processes messages until ctx is done. It also drives the background
// queue when the policy sets a replay interval.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stopped)

	if w.policy.ReplayInterval > 0 && w.store != nil {
		w.queue.Start(w.policy.ReplayInterval)
		defer w.queue.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-w.inbox:
			env.reply <- w.handleMessage(env.msg)
		}
	}
}

// PostMessage delivers msg to the running worker and waits until it has been
// applied, so a token posted before a request is visible to that request.
func (w *Worker) PostMessage(ctx context.Context, msg Message) error {
	env := envelope{msg: msg, reply: make(chan error, 1)}
	select {
	case w.inbox <- env:
	case <-w.stopped:
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-env.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) handleMessage(msg Message) error {
	switch msg.Type {
	case MessageSetAuthToken:
		w.mu.Lock()
		w.token = msg.Token
		w.mu.Unlock()
		w.logger.Debug("auth token updated", "present", msg.Token != "")
		return nil
	case MessageSkipWaiting:
		w.activateWaiting()
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}

func (w *Worker) currentToken() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.token
}

// RoundTrip implements http.RoundTripper.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodGet {
		if cached, ok := w.precached(req.URL.String()); ok {
			return cached.Response(req), nil
		}
	}

	switch class := w.policy.Classify(req); class {
	case ClassAPI:
		return w.handleAPI(req)
	case ClassFontStylesheet:
		return w.fontStylesheet.Handle(w.base, req)
	case ClassFontFile:
		return w.fontFiles.Handle(w.base, req)
	case ClassImage:
		return w.images.Handle(w.base, req)
	case ClassStatic:
		return w.static.Handle(w.base, req)
	case ClassNavigation:
		return w.handleNavigation(req)
	default:
		return w.base.RoundTrip(req)
	}
}

// handleAPI rewrites an API call as a text/plain POST carrying the session
// token, then applies network-first. Bodies that are not JSON objects pass
// through untouched.
func (w *Worker) handleAPI(req *http.Request) (*http.Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil || payload == nil {
		return w.base.RoundTrip(withBody(req, body))
	}

	if token := w.currentToken(); token != "" && payload["action"] != w.policy.LoginAction && !hasToken(payload) {
		payload["token"] = token
	}
	rewritten, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode API request: %w", err)
	}

	out := withBody(req, rewritten)
	out.Method = http.MethodPost
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	out.Header.Set("Content-Type", "text/plain")
	return w.api.Handle(w.base, out)
}

func hasToken(payload map[string]any) bool {
	switch v := payload["token"].(type) {
	case nil:
		return false
	case string:
		return v != ""
	default:
		return true
	}
}

// commitAPIResponse mirrors a JSON API response into the store by URL.
func (w *Worker) commitAPIResponse(req *http.Request, resp *CachedResponse) {
	if w.store == nil || !json.Valid(resp.Body) {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(req.Context()), w.policy.StoreTimeout)
	defer cancel()

	if err := w.store.SetCache(ctx, req.URL.String(), json.RawMessage(resp.Body)); err != nil {
		w.logger.Warn("failed to store API response", "url", req.URL.String(), "error", err)
	}
}

// enqueueFailed hands an API call that never reached the network to the
// background queue.
func (w *Worker) enqueueFailed(req *http.Request, body []byte, fetchErr error) {
	if w.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(req.Context()), w.policy.StoreTimeout)
	defer cancel()

	if _, err := w.queue.Enqueue(ctx, req, body); err != nil {
		w.logger.Warn("failed to queue API request", "url", req.URL.String(), "error", err)
		return
	}
	w.logger.Warn("API request queued for retry", "url", req.URL.String(), "error", fetchErr)
}

// handleNavigation answers page loads with the precached app shell.
func (w *Worker) handleNavigation(req *http.Request) (*http.Response, error) {
	if w.policy.NavigationFallback != "" && !w.policy.denied(req) {
		ref, err := url.Parse(w.policy.NavigationFallback)
		if err == nil {
			fallback := req.URL.ResolveReference(ref)
			if cached, ok := w.precached(fallback.String()); ok {
				return cached.Response(req), nil
			}
		}
	}
	return w.base.RoundTrip(req)
}

const precachePrefix = "precache-"

// PrecacheName returns the cache that holds the app shell of version.
func PrecacheName(version string) string {
	return precachePrefix + version
}

// Install fetches urls into the precache of version. The version becomes
// active at once when nothing is active or the policy skips waiting;
// otherwise it waits for a SKIP_WAITING message.
func (w *Worker) Install(ctx context.Context, version string, urls ...string) error {
	if version == "" {
		return errors.New("version is required")
	}
	if err := w.precacheInto(ctx, PrecacheName(version), urls); err != nil {
		return err
	}

	w.mu.Lock()
	w.waiting = version
	immediate := w.active == "" || w.policy.SkipWaiting
	w.mu.Unlock()

	if immediate {
		w.activateWaiting()
	}
	return nil
}

// Precache adds urls to the precache of the active version.
func (w *Worker) Precache(ctx context.Context, urls ...string) error {
	active := w.ActiveVersion()
	if active == "" {
		return w.Install(ctx, "v1", urls...)
	}
	return w.precacheInto(ctx, PrecacheName(active), urls)
}

func (w *Worker) precacheInto(ctx context.Context, name string, urls []string) error {
	cache := w.caches.Open(CacheRule{Name: name})
	for _, u := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("invalid precache url %q: %w", u, err)
		}
		resp, err := fetch(w.base, req, nil)
		if err != nil {
			return fmt.Errorf("failed to precache %s: %w", u, err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("failed to precache %s: status %d", u, resp.StatusCode)
		}
		cache.Put(u, resp)
	}
	return nil
}

// activateWaiting promotes the waiting version and drops outdated precaches.
func (w *Worker) activateWaiting() {
	w.mu.Lock()
	if w.waiting == "" {
		w.mu.Unlock()
		return
	}
	w.active, w.waiting = w.waiting, ""
	active := w.active
	w.mu.Unlock()

	for _, name := range w.caches.Names() {
		if strings.HasPrefix(name, precachePrefix) && name != PrecacheName(active) {
			w.caches.Delete(name)
		}
	}
	w.logger.Debug("worker version activated", "version", active)
}

// ActiveVersion returns the version serving precached responses.
func (w *Worker) ActiveVersion() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active
}

// WaitingVersion returns the installed version awaiting activation.
func (w *Worker) WaitingVersion() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.waiting
}

func (w *Worker) precached(rawURL string) (*CachedResponse, bool) {
	active := w.ActiveVersion()
	if active == "" {
		return nil, false
	}
	cache, ok := w.caches.Lookup(PrecacheName(active))
	if !ok {
		return nil, false
	}
	return cache.Get(rawURL)
}
