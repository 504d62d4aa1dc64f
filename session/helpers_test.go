package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testClientID = "test-client"

// fakeAPI is an httptest server with per-route handlers and call counters.
type fakeAPI struct {
	srv      *httptest.Server
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	calls    map[string]int
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{
		handlers: map[string]http.HandlerFunc{},
		calls:    map[string]int{},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		f.mu.Lock()
		f.calls[key]++
		h, ok := f.handlers[key]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) handle(method, path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method+" "+path] = h
}

func (f *fakeAPI) respond(method, path string, status int, body any) {
	f.handle(method, path, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, status, body)
	})
}

func (f *fakeAPI) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method+" "+path]
}

func (f *fakeAPI) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// doerFunc adapts a function to Doer.
type doerFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f doerFunc) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

func testConfig(t *testing.T, baseURL string) Config {
	t.Helper()
	return Config{
		ClientID:    testClientID,
		DataDir:     t.TempDir(),
		Environment: EnvTest,
		TestURL:     baseURL,
	}
}

func newTestManager(t *testing.T, api *fakeAPI, clock *fakeClock, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	m, err := New(testConfig(t, api.srv.URL), opts...)
	require.NoError(t, err)
	return m
}

// loggedIn seeds m with a valid session for user 42.
func loggedIn(m *Manager, clock *fakeClock, scopes ...string) {
	m.state = &Snapshot{
		Identity: &Identity{ID: 42, DisplayName: "alice"},
		Token: &TokenRecord{
			RefreshToken:     "refresh-1",
			AccessToken:      "access-1",
			AccessExpiresAt:  clock.Now().Add(time.Hour),
			RefreshExpiresAt: clock.Now().Add(30 * 24 * time.Hour),
			ClientID:         testClientID,
			UserID:           42,
			Scopes:           scopes,
		},
	}
}

func loadPersisted(t *testing.T, m *Manager) *Snapshot {
	t.Helper()
	return NewFileStore(m.SnapshotPath(), nil).Load()
}
