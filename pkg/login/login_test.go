package login

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// tokenEndpoint serves "not found" for the first notFound polls, then a
// successful token response. It counts every request it sees.
type tokenEndpoint struct {
	mu       sync.Mutex
	requests int
	notFound int
	state    string
}

func (e *tokenEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	e.requests++
	n := e.requests
	e.mu.Unlock()

	if got := r.URL.Query().Get("state"); got != e.state {
		http.Error(w, "wrong state", http.StatusBadRequest)
		return
	}
	if n <= e.notFound {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"token":"access-token","user":{"id":"user-1","fullName":"Alice"}}`))
}

func (e *tokenEndpoint) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests
}

func newTestPoller(endpoint string) *Poller {
	p := NewPoller(endpoint, "JWT host-token")
	p.interval = 10 * time.Millisecond
	return p
}

func TestPoller_Wait(t *testing.T) {
	endpoint := &tokenEndpoint{notFound: 2, state: "state-1"}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	p := newTestPoller(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := p.Wait(ctx, "state-1")
	if err != nil {
		t.Fatalf("Wait() unexpected error: %v", err)
	}
	if res.Token != "access-token" {
		t.Errorf("Wait() token = %q, want access-token", res.Token)
	}
	if res.User == nil || res.User.ID != "user-1" {
		t.Errorf("Wait() user = %+v, want id user-1", res.User)
	}
	if got := endpoint.count(); got != 3 {
		t.Errorf("poll count = %d, want 3", got)
	}
}

func TestPoller_WaitCancelled(t *testing.T) {
	endpoint := &tokenEndpoint{notFound: 1 << 30, state: "state-1"}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	p := newTestPoller(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	if _, err := p.Wait(ctx, "state-1"); err == nil {
		t.Fatal("Wait() expected cancellation error, got nil")
	}

	// No further polls once cancelled.
	settled := endpoint.count()
	time.Sleep(50 * time.Millisecond)
	if got := endpoint.count(); got != settled {
		t.Errorf("poll count grew from %d to %d after cancel", settled, got)
	}
}

func TestPoller_StartDeliversResult(t *testing.T) {
	endpoint := &tokenEndpoint{notFound: 1, state: "state-1"}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	p := newTestPoller(server.URL)
	results := make(chan Result, 1)
	p.Start(context.Background(), "state-1", func(r Result) {
		results <- r
	})

	select {
	case res := <-results:
		if res.Token != "access-token" {
			t.Errorf("onLogin token = %q, want access-token", res.Token)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onLogin was never invoked")
	}
}

func TestPoller_StartCancelsPrevious(t *testing.T) {
	stale := &tokenEndpoint{notFound: 1 << 30, state: "stale-state"}
	staleServer := httptest.NewServer(stale)
	defer staleServer.Close()

	fresh := &tokenEndpoint{notFound: 0, state: "fresh-state"}
	freshServer := httptest.NewServer(fresh)
	defer freshServer.Close()

	p := newTestPoller(staleServer.URL)
	p.Start(context.Background(), "stale-state", func(Result) {
		t.Error("stale attempt delivered a result")
	})
	time.Sleep(30 * time.Millisecond)

	p.endpoint = freshServer.URL
	results := make(chan Result, 1)
	p.Start(context.Background(), "fresh-state", func(r Result) {
		results <- r
	})

	select {
	case res := <-results:
		if res.Token != "access-token" {
			t.Errorf("onLogin token = %q, want access-token", res.Token)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second attempt never completed")
	}

	// The stale loop stops issuing requests after the second Start.
	settled := stale.count()
	time.Sleep(50 * time.Millisecond)
	if got := stale.count(); got != settled {
		t.Errorf("stale poll count grew from %d to %d after restart", settled, got)
	}
}

func TestPoller_Cancel(t *testing.T) {
	endpoint := &tokenEndpoint{notFound: 1 << 30, state: "state-1"}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	p := newTestPoller(server.URL)
	p.Start(context.Background(), "state-1", func(Result) {
		t.Error("onLogin invoked after cancel")
	})
	time.Sleep(30 * time.Millisecond)
	p.Cancel()

	settled := endpoint.count()
	time.Sleep(50 * time.Millisecond)
	if got := endpoint.count(); got != settled {
		t.Errorf("poll count grew from %d to %d after Cancel", settled, got)
	}

	// A second Cancel with nothing pending is a no-op.
	p.Cancel()
}

func TestPoller_SendsAuthorization(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"access-token","user":null}`))
	}))
	defer server.Close()

	p := newTestPoller(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.Wait(ctx, "state-1"); err != nil {
		t.Fatalf("Wait() unexpected error: %v", err)
	}
	if gotAuth != "JWT host-token" {
		t.Errorf("Authorization header = %q, want JWT host-token", gotAuth)
	}
}
