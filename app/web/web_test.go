package web

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/calcn/app/web/persistence"
)

func newTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	store, err := persistence.Open(persistence.Params{URL: "sqlite://" + filepath.Join(t.TempDir(), "calc.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Version == "" {
		cfg.Version = "test"
	}
	srv, err := New(cfg)
	require.NoError(t, err)
	return srv
}

func TestNew(t *testing.T) {
	store := newTestStore(t)
	srv, err := New(Config{Store: store, DatabaseURLSet: true, Version: "v1.2.3", RateLimit: 5})
	require.NoError(t, err)
	assert.NotNil(t, srv.store)
	assert.True(t, srv.databaseURLSet)
	assert.Contains(t, srv.templates, "index.html")
	assert.InDelta(t, 5.0, srv.rateLimit, 0)
	assert.NotNil(t, srv.csrfProtection)
}

func TestNew_Stateless(t *testing.T) {
	srv, err := New(Config{Version: "test"})
	require.NoError(t, err)
	assert.Nil(t, srv.store)
}

func TestServer_handlerBaseURL(t *testing.T) {
	srv := newTestServer(t, Config{BaseURL: "/calc"})
	h := srv.handler()

	t.Run("redirect without slash", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/calc", http.NoBody))
		assert.Equal(t, http.StatusMovedPermanently, w.Code)
		assert.Equal(t, "/calc/", w.Header().Get("Location"))
	})

	t.Run("index under base url", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/calc/", http.NoBody))
		assert.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		assert.Contains(t, body, `src="/calc/static/app.js"`)
		assert.Contains(t, body, `data-base="/calc"`)
	})

	t.Run("api under base url", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/calc/api/calculate", strings.NewReader(`{"a":1,"b":2,"op":"add"}`))
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"result":3}`, w.Body.String())
	})

	t.Run("root is not served", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history", http.NoBody))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestServer_StaticAndPing(t *testing.T) {
	srv := newTestServer(t, Config{})
	h := srv.routes()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/app.js", http.NoBody))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Calculando...")
	assert.Contains(t, w.Body.String(), "Ambos valores deben ser números")

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/style.css", http.NoBody))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", http.NoBody))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/unknown", http.NoBody))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Run(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	srv := newTestServer(t, Config{Store: newTestStore(t)})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, e := http.Get(fmt.Sprintf("http://%s/ping", addr))
		if e != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Post(fmt.Sprintf("http://%s/api/calculate", addr), "application/json",
		strings.NewReader(`{"a":10,"b":4,"op":"sub"}`))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"result":6`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server didn't stop")
	}
}

func TestServer_RunFailure(t *testing.T) {
	srv := newTestServer(t, Config{})
	err := srv.Run(context.Background(), "127.0.0.1:-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "web server failed")
}

func TestShortVersion(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"v1.7.0-abc1234-20241225", "v1.7.0"},
		{"v1.7.0", "v1.7.0"},
		{"unknown", "unknown"},
		{"", ""},
		{"-abc", "-abc"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, shortVersion(tt.in))
		})
	}
}
