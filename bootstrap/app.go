package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vigil/api"
	"vigil/backend"
	"vigil/config"
	"vigil/mutation"
	"vigil/poller"
	"vigil/report"
	"vigil/store"
	"vigil/stream"
	"vigil/util/goroutine"
)

// App is one console session with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Reporter   *report.Reporter
	Store      *store.Store
	Backend    *backend.Client
	Poller     *poller.Poller
	Stream     *stream.Client
	Dispatcher *mutation.Dispatcher
	APIServer  *api.API

	serviceWg    sync.WaitGroup
	apiErr       chan error
	startMu      sync.Mutex
	started      bool
	shutdownOnce sync.Once
}

// NewApp constructs every component. Nothing runs until Start.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Sugar()

	app := &App{
		Config: cfg,
		Logger: logger,
		Sugar:  sugar,
		apiErr: make(chan error, 1),
	}

	app.Reporter = report.New(sugar.Named("errors"), cfg.Errors.RecentCapacity)

	s, err := store.New(cfg.Store, sugar.Named("store"), app.Reporter)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	app.Store = s

	client, err := backend.New(cfg.Backend, sugar.Named("backend"))
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}
	app.Backend = client

	p, err := poller.New(cfg.Poller, client, s, app.Reporter, sugar.Named("poller"))
	if err != nil {
		return nil, fmt.Errorf("failed to create poller: %w", err)
	}
	app.Poller = p

	st, err := stream.New(cfg.Stream, s, app.Reporter, sugar.Named("stream"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stream client: %w", err)
	}
	s.AttachConnection(st)
	app.Stream = st

	d, err := mutation.New(cfg.Mutations, s, client, app.Reporter, sugar.Named("mutation"))
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	app.Dispatcher = d

	if cfg.API.Enabled {
		app.APIServer = api.NewAPI(cfg.API, s, d, app.Reporter, sugar.Named("api"))
	}

	return app, nil
}

// Start brings the session up: the store's writer first, then both
// producers, then the view API.
func (a *App) Start(ctx context.Context) error {
	a.startMu.Lock()
	defer a.startMu.Unlock()
	if a.started {
		return nil
	}

	a.Sugar.Infow("Vigil session starting",
		"backend", a.Config.Backend.BaseURL,
		"stream", a.Config.Stream.URL,
		"poll_interval", a.Config.Poller.Interval)

	if err := a.Store.Start(); err != nil && !errors.Is(err, store.ErrAlreadyRunning) {
		return fmt.Errorf("failed to start store: %w", err)
	}
	if err := a.Stream.Start(); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}
	if err := a.Poller.Start(); err != nil {
		return fmt.Errorf("failed to start poller: %w", err)
	}
	if a.APIServer != nil {
		a.startAPIServer()
	}

	a.started = true
	a.Sugar.Info("Vigil session started")
	return nil
}

func (a *App) startAPIServer() {
	goroutine.Go(&a.serviceWg, "api-server", a.Sugar, func() {
		if err := a.APIServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorw("View API stopped", "error", err)
			select {
			case a.apiErr <- err:
			default:
			}
		}
	})
}

// Snapshot fetches every collection once and returns the reconciled view.
// It starts the store if needed but neither producer.
func (a *App) Snapshot(ctx context.Context) (store.View, error) {
	if err := a.Store.Start(); err != nil && !errors.Is(err, store.ErrAlreadyRunning) {
		return store.View{}, fmt.Errorf("failed to start store: %w", err)
	}
	err := a.Poller.Refresh(ctx)
	return a.Store.View(), err
}

// WaitForShutdown blocks until SIGINT/SIGTERM, ctx is done, or the view API
// fails.
func (a *App) WaitForShutdown(ctx context.Context) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		a.Sugar.Infow("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	case err := <-a.apiErr:
		a.Sugar.Errorw("Shutting down after view API failure", "error", err)
	}
}

// Shutdown tears the session down: the poll schedule first, then the push
// connection, then the view API, and the store's writer last. Safe to call
// more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.Sugar.Info("Shutting down...")

		a.Poller.Stop()
		a.Stream.Stop()

		if a.APIServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.APIServer.Stop(ctx); err != nil {
				a.Sugar.Errorw("Failed to stop view API", "error", err)
			}
			cancel()
		}
		a.serviceWg.Wait()

		a.Store.Stop()

		if pending := a.Dispatcher.Pending(); len(pending) > 0 {
			a.Sugar.Warnw("Mutations still pending at shutdown", "count", len(pending))
		}
		a.Sugar.Infow("Shutdown complete", "version", a.Store.Version())
		_ = a.Logger.Sync()
	})
}
