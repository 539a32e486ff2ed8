package lark

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// stubPlatform is an httptest server that answers the tenant token endpoint and
// dispatches every other path to registered handlers.
type stubPlatform struct {
	t         *testing.T
	server    *httptest.Server
	exchanges atomic.Int32

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	requests []*http.Request
	bodies   map[string][]byte
}

func newStubPlatform(t *testing.T) *stubPlatform {
	t.Helper()
	s := &stubPlatform{
		t:        t,
		handlers: make(map[string]http.HandlerFunc),
		bodies:   make(map[string][]byte),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.server.Close)
	return s
}

func (s *stubPlatform) handle(path string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[path] = h
}

func (s *stubPlatform) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, r)
	s.bodies[r.URL.Path] = body
	h, ok := s.handlers[r.URL.Path]
	s.mu.Unlock()

	if r.URL.Path == pathTenantToken && !ok {
		s.exchanges.Add(1)
		writeJSON(w, map[string]interface{}{
			"code":                0,
			"msg":                 "ok",
			"tenant_access_token": "t-service",
			"expire":              7200,
		})
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h(w, r)
}

func (s *stubPlatform) lastBody(path string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out map[string]interface{}
	require.NoError(s.t, json.Unmarshal(s.bodies[path], &out))
	return out
}

func (s *stubPlatform) client(t *testing.T) *Client {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c, err := NewClient(Config{
		AppID:       "cli_test",
		AppSecret:   "secret",
		BaseURL:     s.server.URL,
		RedirectURL: "https://host.example/auth/lark/callback",
		HTTPClient:  s.server.Client(),
		Logger:      logger,
	})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func ok(data interface{}) map[string]interface{} {
	return map[string]interface{}{"code": 0, "msg": "success", "data": data}
}
