package intercept

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"
)

// CachedResponse is a stored HTTP response.
type CachedResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

// Response rebuilds an *http.Response for req.
func (r *CachedResponse) Response(req *http.Request) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.StatusCode, http.StatusText(r.StatusCode)),
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        r.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// ResponseCache is a named in-memory response cache bounded by entry count
// and age. Entries are copied on the way in and out.
type ResponseCache struct {
	mu         sync.RWMutex
	name       string
	entries    map[string]*CachedResponse
	maxEntries int
	maxAge     time.Duration
	statuses   []int
	now        func() time.Time
}

// NewResponseCache creates an empty cache for rule.
func NewResponseCache(rule CacheRule) *ResponseCache {
	statuses := rule.Statuses
	if len(statuses) == 0 {
		statuses = []int{http.StatusOK}
	}
	return &ResponseCache{
		name:       rule.Name,
		entries:    make(map[string]*CachedResponse),
		maxEntries: rule.MaxEntries,
		maxAge:     rule.MaxAge,
		statuses:   statuses,
		now:        time.Now,
	}
}

// Name returns the cache name.
func (c *ResponseCache) Name() string {
	return c.name
}

// Cacheable reports whether a response with status may be stored.
func (c *ResponseCache) Cacheable(status int) bool {
	return slices.Contains(c.statuses, status)
}

// Get returns a copy of the entry stored under key. Expired entries are
// removed and reported as missing.
func (c *ResponseCache) Get(key string) (*CachedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return nil, false
	}
	if c.expired(entry) {
		delete(c.entries, key)
		return nil, false
	}
	return copyResponse(entry), true
}

// Put stores a copy of resp under key and evicts the oldest entries beyond
// the entry limit.
func (c *ResponseCache) Put(key string, resp *CachedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := copyResponse(resp)
	entry.StoredAt = c.now()
	c.entries[key] = entry

	if c.maxEntries > 0 {
		for len(c.entries) > c.maxEntries {
			c.evictOldest()
		}
	}
}

// Delete removes key and reports whether it was present.
func (c *ResponseCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		return false
	}
	delete(c.entries, key)
	return true
}

// Keys returns the stored keys in sorted order.
func (c *ResponseCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Size returns the number of entries, expired ones included.
func (c *ResponseCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Purge drops expired entries and returns how many were removed.
func (c *ResponseCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if c.expired(entry) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear removes all entries.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*CachedResponse)
}

func (c *ResponseCache) expired(entry *CachedResponse) bool {
	return c.maxAge > 0 && c.now().Sub(entry.StoredAt) > c.maxAge
}

// evictOldest must be called with the write lock held.
func (c *ResponseCache) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for key, entry := range c.entries {
		if oldestKey == "" || entry.StoredAt.Before(oldest) || (entry.StoredAt.Equal(oldest) && key < oldestKey) {
			oldestKey, oldest = key, entry.StoredAt
		}
	}
	delete(c.entries, oldestKey)
}

func copyResponse(resp *CachedResponse) *CachedResponse {
	return &CachedResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       bytes.Clone(resp.Body),
		StoredAt:   resp.StoredAt,
	}
}

// CacheStorage holds the named caches of one worker.
type CacheStorage struct {
	mu     sync.RWMutex
	caches map[string]*ResponseCache
}

// NewCacheStorage creates an empty storage.
func NewCacheStorage() *CacheStorage {
	return &CacheStorage{caches: make(map[string]*ResponseCache)}
}

// Open returns the cache named by rule, creating it on first use.
func (s *CacheStorage) Open(rule CacheRule) *ResponseCache {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.caches[rule.Name]; ok {
		return c
	}
	c := NewResponseCache(rule)
	s.caches[rule.Name] = c
	return c
}

// Lookup returns an existing cache.
func (s *CacheStorage) Lookup(name string) (*ResponseCache, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.caches[name]
	return c, ok
}

// Delete drops a cache and reports whether it existed.
func (s *CacheStorage) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.caches[name]; !ok {
		return false
	}
	delete(s.caches, name)
	return true
}

// Names returns the cache names in sorted order.
func (s *CacheStorage) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
