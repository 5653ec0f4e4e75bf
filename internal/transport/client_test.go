package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PentesterFlow/apiprober/internal/auth"
	apperrors "github.com/PentesterFlow/apiprober/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 15*time.Second, cfg.Timeout)
	assert.Equal(t, int64(DefaultMaxBodyBytes), cfg.MaxBodyBytes)
	assert.False(t, cfg.AllowMutating)
	assert.Contains(t, cfg.UserAgent, "apiprober")
}

func TestClient_Do_JSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "apiprober-test", r.Header.Get("User-Agent"))
		assert.Contains(t, r.Header.Get("Accept"), "application/json")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"id":1}`))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.UserAgent = "apiprober-test"
	c := New(cfg)
	defer c.Close()

	resp, err := c.Do(context.Background(), "get", server.URL+"/users")
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, resp.Method)
	assert.Equal(t, 200, resp.StatusCode)
	assert.True(t, resp.OK())
	assert.True(t, resp.IsJSON())
	assert.False(t, resp.IsHTML())
	assert.JSONEq(t, `{"id":1}`, string(resp.Body))
}

func TestClient_Do_ErrorStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	resp, err := New(DefaultConfig()).Do(context.Background(), http.MethodGet, server.URL+"/missing")
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
	assert.False(t, resp.OK())
}

func TestClient_Do_Head(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Type", "application/json")
	}))
	defer server.Close()

	resp, err := New(DefaultConfig()).Do(context.Background(), http.MethodHead, server.URL)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Empty(t, resp.Body)
}

func TestClient_Do_MutatingRefused(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	c := New(DefaultConfig())
	for _, m := range []string{"POST", "put", "PATCH", "DELETE"} {
		_, err := c.Do(context.Background(), m, server.URL)
		assert.ErrorIs(t, err, ErrMutatingRefused, m)
	}
	assert.Zero(t, atomic.LoadInt32(&hits))

	cfg := DefaultConfig()
	cfg.AllowMutating = true
	resp, err := New(cfg).Do(context.Background(), http.MethodDelete, server.URL)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestClient_Do_Auth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := New(DefaultConfig()).Do(context.Background(), http.MethodGet, server.URL)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)

	provider, err := auth.NewProvider(auth.Credentials{Type: auth.AuthTypeBearer, Value: "secret"})
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Auth = provider
	resp, err = New(cfg).Do(context.Background(), http.MethodGet, server.URL)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestClient_Do_RedirectNotFollowed(t *testing.T) {
	var followed atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/old":
			http.Redirect(w, r, "/new#frag", http.StatusFound)
		case "/away":
			http.Redirect(w, r, "https://elsewhere.example/x", http.StatusMovedPermanently)
		default:
			followed.Add(1)
			w.Write([]byte("ok"))
		}
	}))
	defer server.Close()

	client := New(DefaultConfig())

	resp, err := client.Do(context.Background(), http.MethodGet, server.URL+"/old")
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, server.URL+"/old", resp.URL)
	assert.Equal(t, server.URL+"/new", resp.Location)
	assert.True(t, resp.IsRedirect())

	resp, err = client.Do(context.Background(), http.MethodGet, server.URL+"/away")
	require.NoError(t, err)
	assert.Equal(t, "https://elsewhere.example/x", resp.Location)

	assert.Zero(t, followed.Load(), "redirect target must not be requested")

	resp, err = client.Do(context.Background(), http.MethodGet, server.URL+"/ok")
	require.NoError(t, err)
	assert.False(t, resp.IsRedirect())
	assert.Empty(t, resp.Location)
}

func TestClient_Do_BodyCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.MaxBodyBytes = 10
	resp, err := New(cfg).Do(context.Background(), http.MethodGet, server.URL)
	require.NoError(t, err)
	assert.Len(t, resp.Body, 10)
	assert.True(t, resp.Truncated)
}

func TestClient_Do_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	_, err := New(cfg).Do(context.Background(), http.MethodGet, server.URL)
	require.Error(t, err)
	assert.Equal(t, apperrors.Timeout, apperrors.GetErrorType(err))
	assert.True(t, apperrors.IsTransport(err))
}

func TestClient_Do_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	_, err := New(DefaultConfig()).Do(context.Background(), http.MethodGet, addr)
	require.Error(t, err)
	assert.True(t, apperrors.IsTransport(err))
}

func TestClient_Do_InvalidURL(t *testing.T) {
	_, err := New(DefaultConfig()).Do(context.Background(), http.MethodGet, "://bad")
	require.Error(t, err)
	assert.Equal(t, apperrors.InvalidTarget, apperrors.GetErrorType(err))
}

func TestIsMutating(t *testing.T) {
	for _, m := range []string{"POST", "PUT", "PATCH", "DELETE", "delete"} {
		assert.True(t, IsMutating(m), m)
	}
	for _, m := range []string{"GET", "HEAD", "OPTIONS"} {
		assert.False(t, IsMutating(m), m)
	}
}
