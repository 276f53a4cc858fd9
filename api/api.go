// Package api exposes the reconciled state to view renderers: REST reads,
// the two operator commands, and a websocket feed announcing state changes.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"vigil/core"
	"vigil/mutation"
	"vigil/report"
	"vigil/store"
	"vigil/util/goroutine"
)

// StateReader is the read side of the entity store.
type StateReader interface {
	View() store.View
	Threats() []core.Threat
	Alerts() []core.Alert
	Logs() []core.LogEntry
	Stats() core.Stats
	Subscribe() (<-chan uint64, func())
}

// Commander runs operator commands.
type Commander interface {
	RespondToThreat(ctx context.Context, id core.ID, action string) error
	AcknowledgeAlert(ctx context.Context, id core.ID) error
	Pending() []mutation.Pending
}

// ErrorLog lists recently reported errors.
type ErrorLog interface {
	Recent() []report.Entry
}

// Config holds view API configuration
type Config struct {
	Enabled           bool    `mapstructure:"enabled"`
	Listen            string  `mapstructure:"listen"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// DefaultConfig listens on loopback only.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		Listen:            "127.0.0.1:8090",
		RequestsPerSecond: 50,
		Burst:             100,
	}
}

// API is the view surface server.
type API struct {
	cfg      Config
	router   *mux.Router
	server   *http.Server
	state    StateReader
	commands Commander
	errLog   ErrorLog
	hub      *Hub
	limiter  *rate.Limiter
	logger   *zap.SugaredLogger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	feedOnce sync.Once
}

// NewAPI creates the server. Commands and errs may be nil, in which case the
// matching endpoints answer 503.
func NewAPI(cfg Config, state StateReader, commands Commander, errs ErrorLog, logger *zap.SugaredLogger) *API {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig().Burst
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &API{
		cfg:      cfg,
		router:   mux.NewRouter(),
		state:    state,
		commands: commands,
		errLog:   errs,
		hub:      NewHub(logger, ctx),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	a.setupRoutes()
	a.server = &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.rateLimitMiddleware)

	v1 := a.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/state", a.getState).Methods("GET")
	v1.HandleFunc("/threats", a.getThreats).Methods("GET")
	v1.HandleFunc("/threats/{id}/respond", a.respondToThreat).Methods("POST")
	v1.HandleFunc("/alerts", a.getAlerts).Methods("GET")
	v1.HandleFunc("/alerts/{id}/read", a.acknowledgeAlert).Methods("PUT")
	v1.HandleFunc("/logs", a.getLogs).Methods("GET")
	v1.HandleFunc("/stats", a.getStats).Methods("GET")
	v1.HandleFunc("/errors", a.getErrors).Methods("GET")
	v1.HandleFunc("/mutations/pending", a.getPendingMutations).Methods("GET")

	a.router.HandleFunc("/ws", a.serveWs).Methods("GET")
	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
}

// Handler returns the router.
func (a *API) Handler() http.Handler {
	return a.router
}

// StartFeed starts the websocket hub and the store change feed. Start calls
// it; tests serving Handler directly call it themselves.
func (a *API) StartFeed() {
	a.feedOnce.Do(func() {
		goroutine.Go(&a.wg, "api-hub", a.logger, a.hub.Start)
		changes, unsubscribe := a.state.Subscribe()
		goroutine.Go(&a.wg, "api-change-feed", a.logger, func() {
			defer unsubscribe()
			for {
				select {
				case <-a.ctx.Done():
					return
				case version := <-changes:
					_ = a.hub.BroadcastMessage("state:changed", map[string]uint64{"version": version})
				}
			}
		})
	})
}

// Start serves on the configured address until Stop. It returns
// http.ErrServerClosed after a clean Stop.
func (a *API) Start() error {
	ln, err := net.Listen("tcp", a.cfg.Listen)
	if err != nil {
		return err
	}
	return a.Serve(ln)
}

// Serve serves on ln until Stop.
func (a *API) Serve(ln net.Listener) error {
	a.StartFeed()
	a.logger.Infow("View API listening", "address", ln.Addr().String())
	return a.server.Serve(ln)
}

// Stop shuts the server down and disconnects feed clients.
func (a *API) Stop(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	a.cancel()
	a.wg.Wait()
	return err
}

func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			a.respondError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
