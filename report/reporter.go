// Package report is the session's error channel. Errors from every
// component are classified, logged, counted and kept in a small ring of
// recent entries for the view surface.
package report

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"vigil/core"
	"vigil/metrics"
)

// Entry is one reported error.
type Entry struct {
	Time    time.Time `json:"time" yaml:"time"`
	Kind    string    `json:"kind" yaml:"kind"`
	Message string    `json:"message" yaml:"message"`
}

// Reporter implements core.Reporter. Report never blocks on I/O beyond the
// logger.
type Reporter struct {
	logger *zap.SugaredLogger

	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// New creates a reporter that keeps the last capacity entries.
func New(logger *zap.SugaredLogger, capacity int) *Reporter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if capacity <= 0 {
		capacity = 100
	}
	return &Reporter{
		logger:  logger,
		entries: make([]Entry, capacity),
	}
}

// Report records err. Stale updates are part of normal reconciliation: they
// are logged at debug and otherwise dropped, so they never reach the error
// counters or the recent ring.
func (r *Reporter) Report(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, core.ErrStaleUpdate) {
		r.logger.Debugw("Stale update discarded", "error", err)
		return
	}

	kind := core.ErrorKind(err)
	metrics.ErrorsReported.WithLabelValues(kind).Inc()
	r.logger.Warnw("Reconciliation error", "kind", kind, "error", err)

	r.mu.Lock()
	r.entries[r.next] = Entry{Time: time.Now().UTC(), Kind: kind, Message: err.Error()}
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Recent returns the retained entries, newest first.
func (r *Reporter) Recent() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.entries)
	}
	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}
