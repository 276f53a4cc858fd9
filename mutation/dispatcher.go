// Package mutation issues operator commands to the backend with optimistic
// local state changes.
//
// Each command changes the store first, records a pending mutation holding
// the prior value, then calls the backend. A rejected command is reported
// and, when rollback is enabled, the store is restored from the record.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vigil/core"
	"vigil/metrics"
)

// Command names, also used as metric labels.
const (
	CommandRespond     = "respond_threat"
	CommandAcknowledge = "acknowledge_alert"
)

// Backend is the remote side of a command.
type Backend interface {
	RespondToThreat(ctx context.Context, id core.ID, action, requestID string) error
	MarkAlertRead(ctx context.Context, id core.ID, requestID string) error
}

// Store applies and reverts optimistic changes.
type Store interface {
	MarkThreatMitigating(ctx context.Context, id core.ID) (core.ThreatStatus, bool, error)
	RevertThreatStatus(ctx context.Context, id core.ID) (bool, error)
	MarkAlertRead(ctx context.Context, id core.ID) (bool, error)
	RevertAlertRead(ctx context.Context, id core.ID) (bool, error)
}

// Config holds dispatcher configuration
type Config struct {
	// RollbackOnFailure restores the prior value when the backend rejects a
	// command. When false the optimistic value stays until server data
	// replaces it.
	RollbackOnFailure bool          `mapstructure:"rollback_on_failure"`
	Timeout           time.Duration `mapstructure:"timeout"`
	DefaultAction     string        `mapstructure:"default_action"`
}

// DefaultConfig enables rollback.
func DefaultConfig() Config {
	return Config{
		RollbackOnFailure: true,
		Timeout:           10 * time.Second,
		DefaultAction:     core.ActionAutoMitigate,
	}
}

// Pending is an in-flight command.
type Pending struct {
	RequestID string    `json:"request_id"`
	Command   string    `json:"command"`
	EntityID  core.ID   `json:"entity_id"`
	Prior     string    `json:"prior"`
	Changed   bool      `json:"changed"`
	StartedAt time.Time `json:"started_at"`
}

// Dispatcher runs operator commands. Safe for concurrent use.
type Dispatcher struct {
	cfg      Config
	store    Store
	backend  Backend
	reporter core.Reporter
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	pending map[string]*Pending
}

// New creates a dispatcher.
func New(cfg Config, store Store, backend Backend, reporter core.Reporter, logger *zap.SugaredLogger) (*Dispatcher, error) {
	if store == nil || backend == nil {
		return nil, errors.New("dispatcher requires a store and a backend")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.DefaultAction == "" {
		cfg.DefaultAction = core.ActionAutoMitigate
	}
	if !ValidAction(cfg.DefaultAction) {
		return nil, fmt.Errorf("unsupported default action %q", cfg.DefaultAction)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Dispatcher{
		cfg:      cfg,
		store:    store,
		backend:  backend,
		reporter: reporter,
		logger:   logger,
		pending:  make(map[string]*Pending),
	}, nil
}

// ValidAction reports whether the backend accepts action.
func ValidAction(action string) bool {
	switch action {
	case core.ActionAutoMitigate, core.ActionInvestigate, core.ActionContain:
		return true
	default:
		return false
	}
}

// RespondToThreat marks the threat mitigating and asks the backend to run
// action. An empty action uses the configured default.
func (d *Dispatcher) RespondToThreat(ctx context.Context, id core.ID, action string) error {
	if action == "" {
		action = d.cfg.DefaultAction
	}
	if !ValidAction(action) {
		return fmt.Errorf("unsupported response action %q", action)
	}

	prior, changed, err := d.store.MarkThreatMitigating(ctx, id)
	if err != nil {
		return d.fail(CommandRespond, err)
	}

	rec := d.track(CommandRespond, id, prior.String(), changed)
	defer d.untrack(rec)

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	err = d.backend.RespondToThreat(callCtx, id, action, rec.RequestID)
	cancel()
	if err != nil {
		return d.reject(ctx, rec, err, d.store.RevertThreatStatus)
	}

	metrics.Mutations.WithLabelValues(CommandRespond, "accepted").Inc()
	d.logger.Infow("Threat response accepted",
		"threat_id", id, "action", action, "request_id", rec.RequestID)
	return nil
}

// AcknowledgeAlert marks the alert read locally and on the backend.
func (d *Dispatcher) AcknowledgeAlert(ctx context.Context, id core.ID) error {
	changed, err := d.store.MarkAlertRead(ctx, id)
	if err != nil {
		return d.fail(CommandAcknowledge, err)
	}

	prior := "false"
	if !changed {
		prior = "true"
	}
	rec := d.track(CommandAcknowledge, id, prior, changed)
	defer d.untrack(rec)

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	err = d.backend.MarkAlertRead(callCtx, id, rec.RequestID)
	cancel()
	if err != nil {
		return d.reject(ctx, rec, err, d.store.RevertAlertRead)
	}

	metrics.Mutations.WithLabelValues(CommandAcknowledge, "accepted").Inc()
	d.logger.Debugw("Alert acknowledged", "alert_id", id, "request_id", rec.RequestID)
	return nil
}

// Pending lists in-flight commands, oldest first.
func (d *Dispatcher) Pending() []Pending {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Pending, 0, len(d.pending))
	for _, p := range d.pending {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b Pending) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out
}

// fail handles a command that never reached the backend.
func (d *Dispatcher) fail(command string, err error) error {
	result := "failed"
	if errors.Is(err, core.ErrUnknownEntity) {
		result = "unknown_entity"
	}
	metrics.Mutations.WithLabelValues(command, result).Inc()
	d.report(err)
	return err
}

func (d *Dispatcher) reject(ctx context.Context, rec *Pending, cause error, revert func(context.Context, core.ID) (bool, error)) error {
	rolledBack := false
	if d.cfg.RollbackOnFailure && rec.Changed {
		// restore even if the caller gave up waiting
		var err error
		rolledBack, err = revert(context.WithoutCancel(ctx), rec.EntityID)
		if err != nil {
			d.logger.Warnw("Failed to roll back optimistic change",
				"command", rec.Command, "entity_id", rec.EntityID, "error", err)
		}
	}

	merr := &core.MutationRejectedError{
		Command:    rec.Command,
		ID:         rec.EntityID,
		RolledBack: rolledBack,
		Err:        cause,
	}
	metrics.Mutations.WithLabelValues(rec.Command, "rejected").Inc()
	d.report(merr)
	return merr
}

func (d *Dispatcher) track(command string, id core.ID, prior string, changed bool) *Pending {
	rec := &Pending{
		RequestID: uuid.NewString(),
		Command:   command,
		EntityID:  id,
		Prior:     prior,
		Changed:   changed,
		StartedAt: time.Now(),
	}
	d.mu.Lock()
	d.pending[rec.RequestID] = rec
	metrics.MutationsPending.Set(float64(len(d.pending)))
	d.mu.Unlock()
	return rec
}

func (d *Dispatcher) untrack(rec *Pending) {
	d.mu.Lock()
	delete(d.pending, rec.RequestID)
	metrics.MutationsPending.Set(float64(len(d.pending)))
	d.mu.Unlock()
}

func (d *Dispatcher) report(err error) {
	if d.reporter != nil {
		d.reporter.Report(err)
		return
	}
	d.logger.Warnw("Command failed", "error", err)
}
