package intercept

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Strategy answers a request from the network, a cache or both.
type Strategy interface {
	Handle(next http.RoundTripper, req *http.Request) (*http.Response, error)
}

// Hooks observe the network leg of a strategy.
type Hooks struct {
	// FetchDidSucceed runs for every response received from the network,
	// cacheable or not.
	FetchDidSucceed func(req *http.Request, resp *CachedResponse)
	// FetchDidFail runs when the network could not be reached. body is the
	// request body as sent.
	FetchDidFail func(req *http.Request, body []byte, err error)
}

// CacheKey identifies req in a ResponseCache. Requests with a body are keyed
// by a digest of it as well, so different API actions on one URL do not
// collide.
func CacheKey(req *http.Request, body []byte) string {
	key := req.Method + " " + req.URL.String()
	if len(body) > 0 {
		sum := sha256.Sum256(body)
		key += "#" + hex.EncodeToString(sum[:8])
	}
	return key
}

// NetworkFirst tries the network and falls back to the cache.
type NetworkFirst struct {
	Cache *ResponseCache
	Hooks Hooks
}

// Handle implements Strategy.
func (s *NetworkFirst) Handle(next http.RoundTripper, req *http.Request) (*http.Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}
	key := CacheKey(req, body)

	fresh, fetchErr := fetch(next, req, body)
	if fetchErr == nil {
		if s.Hooks.FetchDidSucceed != nil {
			s.Hooks.FetchDidSucceed(req, fresh)
		}
		if s.Cache.Cacheable(fresh.StatusCode) {
			s.Cache.Put(key, fresh)
		}
		return fresh.Response(req), nil
	}

	if s.Hooks.FetchDidFail != nil {
		s.Hooks.FetchDidFail(req, body, fetchErr)
	}
	if cached, ok := s.Cache.Get(key); ok {
		return cached.Response(req), nil
	}
	return nil, fetchErr
}

// CacheFirst answers from the cache and only fetches on a miss.
type CacheFirst struct {
	Cache *ResponseCache
}

// Handle implements Strategy.
func (s *CacheFirst) Handle(next http.RoundTripper, req *http.Request) (*http.Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}
	key := CacheKey(req, body)

	if cached, ok := s.Cache.Get(key); ok {
		return cached.Response(req), nil
	}

	fresh, err := fetch(next, req, body)
	if err != nil {
		return nil, err
	}
	if s.Cache.Cacheable(fresh.StatusCode) {
		s.Cache.Put(key, fresh)
	}
	return fresh.Response(req), nil
}

// StaleWhileRevalidate answers from the cache when possible and refreshes the
// entry in the background.
type StaleWhileRevalidate struct {
	Cache *ResponseCache
	wg    sync.WaitGroup
}

// Handle implements Strategy.
func (s *StaleWhileRevalidate) Handle(next http.RoundTripper, req *http.Request) (*http.Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}
	key := CacheKey(req, body)

	if cached, ok := s.Cache.Get(key); ok {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			bg := req.Clone(context.WithoutCancel(req.Context()))
			if fresh, err := fetch(next, bg, body); err == nil && s.Cache.Cacheable(fresh.StatusCode) {
				s.Cache.Put(key, fresh)
			}
		}()
		return cached.Response(req), nil
	}

	fresh, err := fetch(next, req, body)
	if err != nil {
		return nil, err
	}
	if s.Cache.Cacheable(fresh.StatusCode) {
		s.Cache.Put(key, fresh)
	}
	return fresh.Response(req), nil
}

// Wait blocks until background revalidations finish.
func (s *StaleWhileRevalidate) Wait() {
	s.wg.Wait()
}

// fetch sends req with body through next and reads the whole response.
func fetch(next http.RoundTripper, req *http.Request, body []byte) (*CachedResponse, error) {
	out := withBody(req, body)
	resp, err := next.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", req.URL, err)
	}
	return &CachedResponse{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: data}, nil
}

// readBody drains and closes req.Body. req itself is left unmodified; the
// body is sent on through withBody.
func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()

	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return data, nil
}

// withBody clones req with a fresh reader over body.
func withBody(req *http.Request, body []byte) *http.Request {
	out := req.Clone(req.Context())
	if body == nil {
		out.Body = http.NoBody
		out.GetBody = nil
		out.ContentLength = 0
		return out
	}
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	out.ContentLength = int64(len(body))
	return out
}
