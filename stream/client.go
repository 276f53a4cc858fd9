// Package stream maintains the push connection to the backend and feeds its
// events into the entity store.
//
// The connection moves connecting -> open -> closed. A close that was not
// requested through Stop is followed by a reconnect after an exponential
// backoff with jitter; Stop closes the connection and never reconnects.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vigil/core"
	"vigil/metrics"
	"vigil/util/goroutine"
)

// EventApplier merges a push event into the store.
type EventApplier interface {
	ApplyEvent(ctx context.Context, eventType string, payload []byte) error
}

// Client is the push connection. It implements store.ConnectionSource.
type Client struct {
	cfg      Config
	applier  EventApplier
	reporter core.Reporter
	logger   *zap.SugaredLogger
	dialer   *websocket.Dialer
	header   http.Header

	mu        sync.RWMutex
	state     core.ConnectionState
	conn      *websocket.Conn
	listeners []func(core.ConnectionState)

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	runMu   sync.Mutex
	running bool
	stopped bool
}

// New creates a stream client. The connection is dialed on Start.
func New(cfg Config, applier EventApplier, reporter core.Reporter, logger *zap.SugaredLogger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream config: %w", err)
	}
	if applier == nil {
		return nil, errors.New("stream requires an event applier")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = DefaultConfig().WriteWait
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		applier:  applier,
		reporter: reporter,
		logger:   logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		header: http.Header{"User-Agent": []string{"vigil"}},
		state:  core.ConnectionClosed,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// OnStateChange registers fn to be called after every state transition.
// Callbacks run synchronously on the connection goroutine and must not block.
func (c *Client) OnStateChange(fn func(core.ConnectionState)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() core.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Start moves to connecting and begins dialing in the background.
func (c *Client) Start() error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.stopped {
		return errors.New("stream client stopped")
	}
	if c.running {
		return nil
	}
	c.running = true
	c.setState(core.ConnectionConnecting)
	goroutine.Go(&c.wg, "stream-connection", c.logger, c.run)
	return nil
}

// Stop closes the connection and waits for the connection goroutine to exit.
// The client does not reconnect afterwards.
func (c *Client) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	c.cancel()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		deadline := time.Now().Add(c.cfg.WriteWait)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client shutdown")
		if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			c.logger.Debugw("Failed to send close frame", "error", err)
		}
		_ = conn.Close()
	}

	c.wg.Wait()
	c.running = false
	c.setState(core.ConnectionClosed)
	c.logger.Infow("Live stream stopped")
}

func (c *Client) run() {
	b := c.cfg.Reconnect.newBackOff()

	for {
		if c.ctx.Err() != nil {
			return
		}
		c.setState(core.ConnectionConnecting)

		conn, resp, err := c.dialer.DialContext(c.ctx, c.cfg.URL, c.header)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			c.report(&core.TransportError{Op: "stream_dial", StatusCode: status, Err: err})
			c.setState(core.ConnectionClosed)
			if !c.sleep(b.NextBackOff()) {
				return
			}
			continue
		}

		if !c.attach(conn) {
			// Stop ran between dial and attach
			_ = conn.Close()
			return
		}
		b.Reset()
		c.setState(core.ConnectionOpen)
		c.logger.Infow("Live stream connected", "url", c.cfg.URL)

		err = c.serve(conn)
		c.detach()
		_ = conn.Close()

		if c.ctx.Err() != nil {
			return
		}
		c.report(&core.TransportError{Op: "stream_read", Err: err})
		c.setState(core.ConnectionClosed)
		metrics.StreamReconnects.Inc()

		delay := b.NextBackOff()
		c.logger.Warnw("Live stream closed, reconnecting", "error", err, "delay", delay)
		if !c.sleep(delay) {
			return
		}
	}
}

// serve reads frames until the connection breaks. A keepalive goroutine pings
// the peer; a missing pong trips the read deadline.
func (c *Client) serve(conn *websocket.Conn) error {
	conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	done := make(chan struct{})
	var keepalive sync.WaitGroup
	goroutine.Go(&keepalive, "stream-keepalive", c.logger, func() {
		ticker := time.NewTicker(c.cfg.PingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
					c.logger.Debugw("Keepalive ping failed", "error", err)
					return
				}
			}
		}
	})
	defer func() {
		close(done)
		keepalive.Wait()
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(messageType, data)
	}
}

// handleMessage applies one frame. Bad frames are reported and the
// connection stays open.
func (c *Client) handleMessage(messageType int, data []byte) {
	doc, err := decodeFrame(messageType, data)
	if err == nil {
		var kind string
		kind, err = eventType(doc)
		if err == nil {
			if !core.IsKnownEvent(kind) {
				metrics.StreamMessages.WithLabelValues("ignored").Inc()
				c.logger.Debugw("Ignoring unknown push event", "type", kind)
				return
			}
			if err = validateEvent(doc); err == nil {
				c.apply(kind, doc)
				return
			}
		}
	}

	metrics.StreamMessages.WithLabelValues("malformed").Inc()
	c.report(&core.MalformedPayloadError{Source: "stream", Index: -1, Err: err})
}

func (c *Client) apply(kind string, doc []byte) {
	if err := c.applier.ApplyEvent(c.ctx, kind, doc); err != nil {
		if c.ctx.Err() != nil {
			return
		}
		metrics.StreamMessages.WithLabelValues("rejected").Inc()
		c.report(err)
		return
	}
	metrics.StreamMessages.WithLabelValues("applied").Inc()
}

// sleep waits d or until Stop. Returns false on Stop.
func (c *Client) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Client) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return false
	}
	c.conn = conn
	return true
}

func (c *Client) detach() {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
}

func (c *Client) setState(state core.ConnectionState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = state
	listeners := append(([]func(core.ConnectionState))(nil), c.listeners...)
	c.mu.Unlock()

	for _, s := range []core.ConnectionState{core.ConnectionConnecting, core.ConnectionOpen, core.ConnectionClosed} {
		value := 0.0
		if s == state {
			value = 1
		}
		metrics.StreamConnectionState.WithLabelValues(s.String()).Set(value)
	}
	c.logger.Debugw("Live stream state changed", "from", prev, "to", state)

	for _, fn := range listeners {
		fn(state)
	}
}

func (c *Client) report(err error) {
	if c.reporter != nil {
		c.reporter.Report(err)
		return
	}
	c.logger.Warnw("Live stream error", "error", err)
}
