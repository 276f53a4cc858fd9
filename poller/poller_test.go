package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigil/core"
	"vigil/store"
	"vigil/util/goroutine"
)

type fakeFetcher struct {
	mu       sync.Mutex
	payloads map[core.Collection]string
	failures map[core.Collection]error
	calls    map[core.Collection]int
	block    bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		payloads: map[core.Collection]string{
			core.CollectionStats:   `{"active_threats":1,"total_logs":10,"unread_alerts":1}`,
			core.CollectionThreats: `{"threats":[{"id":1,"category":"malware","source":"10.0.0.1","severity":"high","status":"active"}]}`,
			core.CollectionLogs:    `{"logs":[{"id":1,"level":"INFO","source":"fw","message":"ok"}]}`,
			core.CollectionAlerts:  `{"alerts":[{"id":1,"severity":"high","message":"malware detected","read":false}]}`,
		},
		failures: make(map[core.Collection]error),
		calls:    make(map[core.Collection]int),
	}
}

func (f *fakeFetcher) FetchCollection(ctx context.Context, c core.Collection) ([]byte, error) {
	f.mu.Lock()
	f.calls[c]++
	block := f.block
	err := f.failures[c]
	payload := f.payloads[c]
	f.mu.Unlock()

	if block {
		// a slow backend that answers after teardown
		<-ctx.Done()
		return []byte(payload), nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

func (f *fakeFetcher) callCount(c core.Collection) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[c]
}

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) Report(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingReporter) snapshot() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(store.DefaultConfig(), zap.NewNop().Sugar(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, newFakeFetcher(), nil, nil, nil)
	assert.Error(t, err)

	_, err = New(DefaultConfig(), nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestEvery_Next(t *testing.T) {
	now := time.Unix(1700000000, 0)
	assert.Equal(t, now.Add(250*time.Millisecond), every(250*time.Millisecond).Next(now))
}

func TestPoller_InitialFetch(t *testing.T) {
	s := newTestStore(t)
	fetcher := newFakeFetcher()

	p, err := New(Config{Interval: time.Hour}, fetcher, s, nil, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer p.Stop()

	require.Eventually(t, func() bool {
		v := s.View()
		return len(v.Threats) == 1 && len(v.Alerts) == 1 && len(v.Logs) == 1 && v.Stats.TotalLogs == 10
	}, 2*time.Second, 10*time.Millisecond)

	for _, c := range core.Collections {
		assert.Equal(t, 1, fetcher.callCount(c), c)
	}
}

func TestPoller_RepeatsOnInterval(t *testing.T) {
	s := newTestStore(t)
	fetcher := newFakeFetcher()

	p, err := New(Config{Interval: 20 * time.Millisecond}, fetcher, s, nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer p.Stop()

	require.Eventually(t, func() bool {
		for _, c := range core.Collections {
			if fetcher.callCount(c) < 3 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPoller_FailureReportedOthersApplied(t *testing.T) {
	s := newTestStore(t)
	fetcher := newFakeFetcher()
	fetcher.failures[core.CollectionThreats] = &core.TransportError{Op: "fetch_threats", StatusCode: 502, Err: errors.New("bad gateway")}
	fetcher.payloads[core.CollectionLogs] = `{"logs": 12}`
	reporter := &recordingReporter{}

	p, err := New(Config{Interval: time.Hour}, fetcher, s, reporter, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer p.Stop()

	require.Eventually(t, func() bool {
		return len(reporter.snapshot()) == 2 && len(s.Alerts()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	var transport, malformed int
	for _, err := range reporter.snapshot() {
		switch {
		case errors.Is(err, core.ErrTransport):
			transport++
		case errors.Is(err, core.ErrMalformedPayload):
			malformed++
		}
	}
	assert.Equal(t, 1, transport)
	assert.Equal(t, 1, malformed)
	assert.Empty(t, s.Threats())
	assert.Empty(t, s.Logs())
	assert.Equal(t, 1, s.Stats().UnreadAlerts)
}

func TestPoller_StopDropsLateResults(t *testing.T) {
	goroutine.AssertNoLeaks(t)

	s, err := store.New(store.DefaultConfig(), zap.NewNop().Sugar(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	fetcher := newFakeFetcher()
	fetcher.block = true
	reporter := &recordingReporter{}

	p, err := New(Config{Interval: time.Hour}, fetcher, s, reporter, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	require.Eventually(t, func() bool {
		return fetcher.callCount(core.CollectionThreats) == 1
	}, 2*time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop()

	assert.Zero(t, s.Version())
	assert.Empty(t, s.Threats())
	assert.Empty(t, reporter.snapshot(), "teardown is not an error")
	assert.Error(t, p.Start())
}

func TestPoller_Refresh(t *testing.T) {
	s := newTestStore(t)
	fetcher := newFakeFetcher()
	fetcher.failures[core.CollectionStats] = &core.TransportError{Op: "fetch_stats", Err: errors.New("refused")}

	p, err := New(DefaultConfig(), fetcher, s, nil, nil)
	require.NoError(t, err)

	err = p.Refresh(context.Background())
	assert.ErrorIs(t, err, core.ErrTransport)
	assert.Len(t, s.Threats(), 1)
	assert.Len(t, s.Logs(), 1)
	assert.Len(t, s.Alerts(), 1)
}
