// Package poller periodically fetches full snapshots of every dashboard
// collection and hands them to the entity store.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"vigil/core"
	"vigil/metrics"
	"vigil/util/goroutine"
)

// Fetcher retrieves the raw payload of one collection.
type Fetcher interface {
	FetchCollection(ctx context.Context, collection core.Collection) ([]byte, error)
}

// Applier merges a collection payload into the store.
type Applier interface {
	ApplySnapshot(ctx context.Context, collection core.Collection, payload []byte) error
}

// Config holds poller configuration
type Config struct {
	Interval     time.Duration `mapstructure:"interval"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// DefaultConfig polls every five seconds.
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Second,
		FetchTimeout: 10 * time.Second,
	}
}

// every is a fixed-interval cron schedule. cron's "@every" rounds to whole
// seconds, which is too coarse for short intervals.
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// Poller runs one independent schedule per collection. A failed fetch is
// reported and the collection is left as it was; the next tick retries.
type Poller struct {
	cfg      Config
	fetcher  Fetcher
	applier  Applier
	reporter core.Reporter
	logger   *zap.SugaredLogger

	cron    *cron.Cron
	entries map[core.Collection]cron.EntryID

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool
}

// New creates a poller. Call Start to begin polling.
func New(cfg Config, fetcher Fetcher, applier Applier, reporter core.Reporter, logger *zap.SugaredLogger) (*Poller, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("poll interval must be greater than 0")
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = cfg.Interval * 2
	}
	if fetcher == nil || applier == nil {
		return nil, errors.New("poller requires a fetcher and an applier")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cronLog := cronLogger{logger: logger}
	return &Poller{
		cfg:      cfg,
		fetcher:  fetcher,
		applier:  applier,
		reporter: reporter,
		logger:   logger,
		cron:     cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.Recover(cronLog))),
		entries:  make(map[core.Collection]cron.EntryID),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start fetches every collection immediately and then on each interval.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return errors.New("poller stopped")
	}
	if p.running {
		return nil
	}

	skip := cron.NewChain(cron.SkipIfStillRunning(cronLogger{logger: p.logger}))
	for _, c := range core.Collections {
		collection := c
		job := skip.Then(cron.FuncJob(func() { p.poll(collection) }))
		p.entries[collection] = p.cron.Schedule(every(p.cfg.Interval), job)

		// initial fetch; shares the skip guard with the scheduled runs
		goroutine.Go(&p.wg, "poller-initial-"+collection.String(), p.logger, job.Run)
	}
	p.cron.Start()
	p.running = true

	p.logger.Infow("Snapshot poller started",
		"interval", p.cfg.Interval,
		"collections", len(core.Collections))
	return nil
}

// Stop cancels in-flight fetches and waits for running polls to finish.
// No snapshot is applied after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true
	p.cancel()
	if p.running {
		<-p.cron.Stop().Done()
		p.wg.Wait()
		for c, id := range p.entries {
			p.cron.Remove(id)
			delete(p.entries, c)
		}
	}
	p.running = false
	p.logger.Infow("Snapshot poller stopped")
}

// Refresh fetches and applies every collection once, synchronously.
func (p *Poller) Refresh(ctx context.Context) error {
	var errs []error
	for _, c := range core.Collections {
		if err := p.fetchAndApply(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Poller) poll(c core.Collection) {
	if p.ctx.Err() != nil {
		return
	}
	if err := p.fetchAndApply(p.ctx, c); err != nil {
		if p.ctx.Err() != nil {
			// teardown; the result is dropped
			return
		}
		p.report(err)
	}
}

func (p *Poller) fetchAndApply(ctx context.Context, c core.Collection) error {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	body, err := p.fetcher.FetchCollection(fetchCtx, c)
	if err != nil {
		metrics.PollsTotal.WithLabelValues(c.String(), "fetch_error").Inc()
		return fmt.Errorf("poll %s: %w", c, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := p.applier.ApplySnapshot(ctx, c, body); err != nil {
		metrics.PollsTotal.WithLabelValues(c.String(), "apply_error").Inc()
		return fmt.Errorf("poll %s: %w", c, err)
	}
	metrics.PollsTotal.WithLabelValues(c.String(), "success").Inc()
	p.logger.Debugw("Snapshot polled", "collection", c, "bytes", len(body))
	return nil
}

func (p *Poller) report(err error) {
	if p.reporter != nil {
		p.reporter.Report(err)
		return
	}
	p.logger.Warnw("Snapshot poll failed", "error", err)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
