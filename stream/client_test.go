package stream

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"vigil/core"
	"vigil/store"
)

type testServer struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	closes   chan error
	accepted int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		conns:  make(chan *websocket.Conn, 8),
		closes: make(chan error, 8),
	}
	upgrader := websocket.Upgrader{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(&ts.accepted, 1)
		ts.conns <- conn
		// keep reading so pings and close frames are processed
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					ts.closes <- err
					return
				}
			}
		}()
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) next(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
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

func (r *recordingReporter) count(target error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, err := range r.errs {
		if errors.Is(err, target) {
			n++
		}
	}
	return n
}

type stateRecorder struct {
	mu     sync.Mutex
	states []core.ConnectionState
}

func (s *stateRecorder) record(state core.ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func (s *stateRecorder) snapshot() []core.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.ConnectionState(nil), s.states...)
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.HandshakeTimeout = time.Second
	cfg.Reconnect.InitialInterval = 10 * time.Millisecond
	cfg.Reconnect.MaxInterval = 50 * time.Millisecond
	return cfg
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(store.DefaultConfig(), zap.NewNop().Sugar(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"http scheme", func(c *Config) { c.URL = "http://localhost/ws" }, true},
		{"ping after pong", func(c *Config) { c.PingPeriod = c.PongWait }, true},
		{"no read limit", func(c *Config) { c.MaxMessageSize = 0 }, true},
		{"max below initial", func(c *Config) { c.Reconnect.MaxInterval = time.Millisecond }, true},
		{"shrinking multiplier", func(c *Config) { c.Reconnect.Multiplier = 0.5 }, true},
		{"jitter above one", func(c *Config) { c.Reconnect.RandomizationFactor = 1.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestReconnectBackOff_Bounded(t *testing.T) {
	b := DefaultConfig().Reconnect.newBackOff()
	for i := 0; i < 20; i++ {
		d := b.NextBackOff()
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 45*time.Second, "max interval plus jitter")
	}
	b.Reset()
	assert.LessOrEqual(t, b.NextBackOff(), 750*time.Millisecond)
}

func TestClient_AppliesEvents(t *testing.T) {
	ts := newTestServer(t)
	s := newTestStore(t)

	c, err := New(testConfig(ts.url()), s, nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Stop()

	conn := ts.next(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(
		`{"type":"threat_detected","threat":{"id":"t1","category":"malware","source":"10.0.0.9","severity":"critical","status":"active"},"alert":{"id":"a1","severity":"critical","message":"malware","read":false}}`)))

	frame, err := msgpack.Marshal(map[string]interface{}{
		"type": "threat_detected",
		"threat": map[string]interface{}{
			"id": 7, "category": "ddos", "source": "10.0.0.7", "severity": "high", "status": "active",
		},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"threat_resolved","threat":{"id":"t1"}}`)))

	require.Eventually(t, func() bool {
		t1, ok := s.Threat("t1")
		return ok && t1.Status == core.ThreatStatusResolved && len(s.Threats()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := s.Alert("threat-7")
	assert.True(t, ok)
	assert.Equal(t, core.ConnectionOpen, c.State())
}

func TestClient_MalformedFramesKeepConnection(t *testing.T) {
	ts := newTestServer(t)
	s := newTestStore(t)
	reporter := &recordingReporter{}

	c, err := New(testConfig(ts.url()), s, reporter, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Stop()

	conn := ts.next(t)
	for _, frame := range []string{
		`not json`,
		`{"threat":{"id":"t1"}}`,
		`{"type":"threat_detected","threat":{}}`,
		`{"type":"threat_detected","threat":{"id":true}}`,
		`{"type":"compliance_report","report":{}}`,
		`{"type":"response_initiated","threat":{"id":"unknown"}}`,
		`{"type":"threat_detected","threat":{"id":"t2","status":"active"}}`,
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	}

	require.Eventually(t, func() bool {
		_, ok := s.Threat("t2")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 4, reporter.count(core.ErrMalformedPayload))
	assert.Equal(t, 1, reporter.count(core.ErrUnknownEntity))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ts.accepted))
	assert.Equal(t, core.ConnectionOpen, c.State())
}

func TestClient_ReconnectsAfterUnexpectedClose(t *testing.T) {
	ts := newTestServer(t)
	s := newTestStore(t)
	rec := &stateRecorder{}

	c, err := New(testConfig(ts.url()), s, &recordingReporter{}, nil)
	require.NoError(t, err)
	c.OnStateChange(rec.record)
	require.NoError(t, c.Start())
	defer c.Stop()

	first := ts.next(t)
	require.Eventually(t, func() bool { return c.State() == core.ConnectionOpen }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, first.Close())

	second := ts.next(t)
	require.Eventually(t, func() bool { return c.State() == core.ConnectionOpen }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []core.ConnectionState{
		core.ConnectionConnecting,
		core.ConnectionOpen,
		core.ConnectionClosed,
		core.ConnectionConnecting,
		core.ConnectionOpen,
	}, rec.snapshot())

	// the new connection delivers events
	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte(`{"type":"threat_detected","threat":{"id":"t9"}}`)))
	require.Eventually(t, func() bool {
		_, ok := s.Threat("t9")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_StopClosesWithoutReconnect(t *testing.T) {
	ts := newTestServer(t)
	s := newTestStore(t)

	c, err := New(testConfig(ts.url()), s, nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	ts.next(t)
	require.Eventually(t, func() bool { return c.State() == core.ConnectionOpen }, 2*time.Second, 5*time.Millisecond)

	c.Stop()
	c.Stop()
	assert.Equal(t, core.ConnectionClosed, c.State())

	select {
	case err := <-ts.closes:
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe the close")
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ts.accepted))
	assert.Error(t, c.Start())
}

func TestClient_DialFailureRetries(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	s := newTestStore(t)
	reporter := &recordingReporter{}
	rec := &stateRecorder{}

	c, err := New(testConfig(url), s, reporter, nil)
	require.NoError(t, err)
	c.OnStateChange(rec.record)
	require.NoError(t, c.Start())

	require.Eventually(t, func() bool {
		return reporter.count(core.ErrTransport) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	c.Stop()

	states := rec.snapshot()
	require.NotEmpty(t, states)
	assert.Equal(t, core.ConnectionConnecting, states[0])
	assert.Contains(t, states, core.ConnectionClosed)
	assert.NotContains(t, states, core.ConnectionOpen)
	assert.Equal(t, core.ConnectionClosed, c.State())
}

func TestDecodeFrame(t *testing.T) {
	doc, err := decodeFrame(websocket.TextMessage, []byte(`{"type":"x"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"x"}`, string(doc))

	packed, err := msgpack.Marshal(map[string]interface{}{"type": "threat_resolved", "threat": map[string]interface{}{"id": "t1"}})
	require.NoError(t, err)
	doc, err = decodeFrame(websocket.BinaryMessage, packed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"threat_resolved","threat":{"id":"t1"}}`, string(doc))

	_, err = decodeFrame(websocket.BinaryMessage, []byte{0xc1})
	assert.Error(t, err)
	_, err = decodeFrame(websocket.PingMessage, nil)
	assert.Error(t, err)
}

func TestEventType(t *testing.T) {
	kind, err := eventType([]byte(`{"type":"threat_detected","threat":{"id":1}}`))
	require.NoError(t, err)
	assert.Equal(t, core.EventThreatDetected, kind)

	for _, doc := range []string{`[]`, `{}`, `{"type":""}`, `{"type":3}`} {
		_, err := eventType([]byte(doc))
		assert.Error(t, err, doc)
	}
}
