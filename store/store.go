// Package store holds the reconciled console state: bounded threat, alert and
// log windows plus dashboard stats, merged from polled snapshots, push events
// and optimistic user commands.
//
// All writes are serialized through a single writer goroutine. Producers
// submit updates to a queue and wait for the writer to apply them; readers
// take deep copies under a read lock and never observe a half-merged entity.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"vigil/core"
	"vigil/metrics"
	"vigil/util/goroutine"
)

// ConnectionSource exposes the push connection's state. The store only reads it.
type ConnectionSource interface {
	State() core.ConnectionState
}

// update is one queued write. apply runs on the writer goroutine with the
// write lock held.
type update struct {
	ctx    context.Context
	source string
	apply  func() (bool, error)
	done   chan error
}

// Store is the entity store. Create it with New, then Start it.
type Store struct {
	cfg      Config
	logger   *zap.SugaredLogger
	reporter core.Reporter

	mu      sync.RWMutex
	threats *window[*core.Threat]
	alerts  *window[*core.Alert]
	logs    *window[*core.LogEntry]

	// backend-reported stats and the step at which they were applied
	backendStats *core.StatsPatch
	statsStep    uint64
	steps        uint64
	version      uint64

	// optimistic changes not yet confirmed by the server, keyed by id
	optimisticThreats map[core.ID]core.ThreatStatus
	optimisticAlerts  map[core.ID]struct{}

	connection ConnectionSource

	queue chan *update
	done  chan struct{}

	subMu sync.Mutex
	subs  map[chan uint64]struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	runMu   sync.Mutex
	running bool
	stopped bool
}

// New creates a store. The writer is not running until Start is called.
// A nil reporter discards reported errors.
func New(cfg Config, logger *zap.SugaredLogger, reporter core.Reporter) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if reporter == nil {
		reporter = discardReporter{}
	}

	threats, err := newWindow[*core.Threat]("threats", cfg.ThreatWindow, cfg.TombstoneSize)
	if err != nil {
		return nil, err
	}
	alerts, err := newWindow[*core.Alert]("alerts", cfg.AlertWindow, cfg.TombstoneSize)
	if err != nil {
		return nil, err
	}
	logs, err := newWindow[*core.LogEntry]("logs", cfg.LogWindow, cfg.TombstoneSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		cfg:               cfg,
		logger:            logger,
		reporter:          reporter,
		threats:           threats,
		alerts:            alerts,
		logs:              logs,
		optimisticThreats: make(map[core.ID]core.ThreatStatus),
		optimisticAlerts:  make(map[core.ID]struct{}),
		queue:             make(chan *update, cfg.QueueSize),
		done:              make(chan struct{}),
		subs:              make(map[chan uint64]struct{}),
		ctx:               ctx,
		cancel:            cancel,
	}, nil
}

// ErrAlreadyRunning is returned by Start on a running store.
var ErrAlreadyRunning = errors.New("store already running")

// Start launches the writer goroutine. Calling Start on a stopped store is an error.
func (s *Store) Start() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.stopped {
		return core.ErrStoreClosed
	}
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true

	goroutine.Go(&s.wg, "store-writer", s.logger, s.run)
	s.logger.Debugw("Entity store started",
		"threat_window", s.cfg.ThreatWindow,
		"alert_window", s.cfg.AlertWindow,
		"log_window", s.cfg.LogWindow)
	return nil
}

// Stop halts the writer. Queued and later updates fail with core.ErrStoreClosed.
// Safe to call multiple times.
func (s *Store) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	s.cancel()
	if s.running {
		s.wg.Wait()
	}
	close(s.done)
	s.drain()
	s.running = false
	s.logger.Debugw("Entity store stopped", "version", s.Version())
}

func (s *Store) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case u := <-s.queue:
			s.process(u)
		}
	}
}

func (s *Store) process(u *update) {
	// results whose producer was torn down are discarded
	if err := u.ctx.Err(); err != nil {
		u.done <- err
		return
	}
	if s.ctx.Err() != nil {
		u.done <- core.ErrStoreClosed
		return
	}

	start := time.Now()
	s.mu.Lock()
	changed, err := u.apply()
	s.steps++
	if changed {
		s.version++
	}
	version := s.version
	s.mu.Unlock()
	metrics.UpdateDuration.Observe(time.Since(start).Seconds())

	if changed {
		metrics.UpdatesApplied.WithLabelValues(u.source).Inc()
		s.notify(version)
	}
	u.done <- err
}

// drain fails anything left in the queue after the writer exited.
func (s *Store) drain() {
	for {
		select {
		case u := <-s.queue:
			u.done <- core.ErrStoreClosed
		default:
			return
		}
	}
}

// submit queues fn and waits for the writer to apply it.
func (s *Store) submit(ctx context.Context, source string, fn func() (bool, error)) error {
	select {
	case <-s.done:
		return core.ErrStoreClosed
	default:
	}

	u := &update{ctx: ctx, source: source, apply: fn, done: make(chan error, 1)}
	select {
	case s.queue <- u:
	case <-s.done:
		return core.ErrStoreClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-u.done:
		return err
	case <-s.done:
		// the writer may have finished this update right before exiting
		select {
		case err := <-u.done:
			return err
		default:
			return core.ErrStoreClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a channel that receives the store version after every
// applied step that changed state. Slow subscribers only see the latest
// version. Call the returned function to unsubscribe.
func (s *Store) Subscribe() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, ch)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) notify(version uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for ch := range s.subs {
		select {
		case ch <- version:
		default:
			// replace the pending version with the newer one
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- version:
			default:
			}
		}
	}
}

// AttachConnection sets the source consulted for View's connection annotation.
func (s *Store) AttachConnection(src ConnectionSource) {
	s.mu.Lock()
	s.connection = src
	s.mu.Unlock()
}

// Version increases every time an applied step changes state.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// report sends err to the error channel, counting stale updates.
func (s *Store) report(err error) {
	var stale *core.StaleUpdateError
	if errors.As(err, &stale) {
		metrics.StaleUpdatesRejected.WithLabelValues(string(stale.Kind), stale.Field).Inc()
	}
	s.reporter.Report(err)
}

type discardReporter struct{}

func (discardReporter) Report(error) {}
