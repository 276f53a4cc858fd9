package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigil/core"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Timeout = 2 * time.Second
	cfg.CircuitBreaker.MaxFailures = 2
	client, err := New(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	return client
}

func TestNew_Validation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseURL = "ftp://example.com"
	_, err := New(cfg, nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.RequestsPerSecond = 0
	_, err = New(cfg, nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.CircuitBreaker.MaxFailures = 0
	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestFetchCollection_Paths(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	for _, c := range core.Collections {
		body, err := client.FetchCollection(context.Background(), c)
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(body))
	}
	mu.Lock()
	assert.Equal(t, []string{"/dashboard/stats", "/threats", "/logs", "/alerts"}, paths)
	mu.Unlock()

	_, err := client.FetchCollection(context.Background(), core.Collection("compliance"))
	assert.Error(t, err)
}

func TestFetchCollection_Non2xx(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"detail":"database unavailable"}`))
	}))

	_, err := client.FetchCollection(context.Background(), core.CollectionThreats)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTransport)

	var te *core.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.Contains(t, te.Error(), "database unavailable")
}

func TestFetchCollection_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.MaxBodyBytes = 16
	client, err := New(cfg, nil)
	require.NoError(t, err)

	_, err = client.FetchCollection(context.Background(), core.CollectionLogs)
	assert.ErrorIs(t, err, core.ErrTransport)
}

func TestFetchCollection_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	srv.Close()

	client, err := New(cfg, nil)
	require.NoError(t, err)
	_, err = client.FetchCollection(context.Background(), core.CollectionStats)
	assert.ErrorIs(t, err, core.ErrTransport)
}

func TestRespondToThreat(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/threats/17/respond", r.URL.Path)
		assert.Equal(t, "req-1", r.Header.Get("X-Request-ID"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		raw, _ := io.ReadAll(r.Body)
		var body map[string]string
		assert.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, core.ActionAutoMitigate, body["action"])

		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))

	assert.NoError(t, client.RespondToThreat(context.Background(), "17", core.ActionAutoMitigate, "req-1"))
}

func TestMarkAlertRead(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/alerts/a1/read", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))

	assert.NoError(t, client.MarkAlertRead(context.Background(), "a1", ""))
}

func TestMutations_CircuitBreakerOpens(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	ctx := context.Background()

	assert.Error(t, client.MarkAlertRead(ctx, "a1", ""))
	assert.Error(t, client.MarkAlertRead(ctx, "a1", ""))
	assert.Equal(t, BreakerOpen, client.BreakerState())

	err := client.MarkAlertRead(ctx, "a1", "")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, core.ErrTransport)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	// fetches are not guarded by the breaker
	_, err = client.FetchCollection(ctx, core.CollectionAlerts)
	assert.ErrorIs(t, err, core.ErrTransport)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchCollection_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.FetchCollection(ctx, core.CollectionThreats)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "Threat not found", summarize([]byte(`{"detail":"Threat not found"}`)))
	assert.Equal(t, "plain text", summarize([]byte("  plain text \n")))
	assert.Equal(t, "empty response", summarize(nil))
	assert.Len(t, summarize(make([]byte, 500)), 203)
}
