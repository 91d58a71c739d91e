package intercept_test

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ideamans/go-sheetsync/intercept"
	"github.com/ideamans/go-sheetsync/localstore"
)

var errOffline = errors.New("network is unreachable")

// switchTransport forwards to http.DefaultTransport until taken offline.
type switchTransport struct {
	offline atomic.Bool
	calls   atomic.Int32
}

func (s *switchTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.calls.Add(1)
	if s.offline.Load() {
		return nil, errOffline
	}
	return http.DefaultTransport.RoundTrip(req)
}

func newStore(t *testing.T) *localstore.Store {
	t.Helper()
	store, err := localstore.Open(context.Background(), filepath.Join(t.TempDir(), "intercept.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// runWorker runs w until the test ends.
func runWorker(t *testing.T, w *intercept.Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}
