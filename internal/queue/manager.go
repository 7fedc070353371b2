// Package queue maintains the persisted, time-windowed queue of candidate IDs
// the feed pages through.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bryan-buckman/listfeed/internal/database"
	"github.com/bryan-buckman/listfeed/internal/metrics"
	"github.com/bryan-buckman/listfeed/internal/model"
)

// CandidateSource returns up to limit ranked candidate IDs.
type CandidateSource interface {
	FetchTopIDs(ctx context.Context, limit int) ([]string, error)
}

// RefillOutcome describes a completed refill.
type RefillOutcome struct {
	Count    int  // IDs now in the queue
	Degraded bool // the source failed and the queue was emptied
}

// Manager owns one namespace's queue and refill timestamp.
// All reads and writes of the persisted state happen under mu.
type Manager struct {
	state   *database.QueueState
	source  CandidateSource
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	loc     *time.Location

	mu sync.Mutex
}

// Option customises a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }

// WithMetrics sets the collectors updated on refill and pop.
func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithLocation sets the time zone the refill timestamp is written in. Default: UTC.
func WithLocation(loc *time.Location) Option { return func(m *Manager) { m.loc = loc } }

// NewManager creates a Manager for namespace ns in store.
func NewManager(store database.Store, ns string, source CandidateSource, opts ...Option) *Manager {
	m := &Manager{
		state:  database.NewQueueState(store, ns),
		source: source,
		log:    zap.NewNop(),
		now:    time.Now,
		loc:    time.UTC,
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With(zap.String("namespace", ns))
	return m
}

// Refill replaces the queue with up to limit fresh candidate IDs and stamps
// the refill time. A failing source empties the queue.
func (m *Manager) Refill(ctx context.Context, limit int) RefillOutcome {
	var out RefillOutcome
	ids, err := m.source.FetchTopIDs(ctx, limit)
	if err != nil {
		m.log.Warn("refill with empty queue",
			zap.Error(fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)))
		ids = nil
		out.Degraded = true
	}
	ids = dedupe(ids, limit)
	out.Count = len(ids)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.state.SaveIDs(ctx, ids); err != nil {
		m.log.Error("save queue", zap.Error(err))
	}
	if err := m.state.SaveRefilledAt(ctx, FormatRefillTime(m.now(), m.loc)); err != nil {
		m.log.Error("save refill time", zap.Error(err))
	}

	switch {
	case out.Degraded:
		m.metrics.ObserveRefill("error")
	case out.Count == 0:
		m.metrics.ObserveRefill("empty")
	default:
		m.metrics.ObserveRefill("ok")
	}
	m.metrics.SetQueueLength(out.Count)
	m.log.Info("queue refilled", zap.Int("count", out.Count), zap.Bool("degraded", out.Degraded))
	return out
}

// PopBatch removes and returns up to count IDs from the front of the queue.
// An empty queue returns an empty batch; refilling is the caller's job.
func (m *Manager) PopBatch(ctx context.Context, count int) []string {
	if count <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.loadIDs(ctx)
	n := min(count, len(ids))
	if n == 0 {
		return nil
	}
	batch := make([]string, n)
	copy(batch, ids[:n])
	rest := ids[n:]
	// The popped IDs still sit in the stored queue if the write fails, so
	// handing them out would serve them twice.
	if err := m.state.SaveIDs(ctx, rest); err != nil {
		m.log.Error("save queue, batch not popped", zap.Error(err))
		return nil
	}
	m.metrics.ObservePop(n, len(rest))
	return batch
}

// EnsureFresh reports whether the queue needs a refill: its refill time is
// older than window, or it is empty.
func (m *Manager) EnsureFresh(ctx context.Context, now time.Time, window time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if IsStale(now, m.refilledAt(ctx), window) {
		return true
	}
	return len(m.loadIDs(ctx)) == 0
}

// Len returns the number of queued IDs.
func (m *Manager) Len(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loadIDs(ctx))
}

// RefilledAt returns the last refill time, or the zero time if unknown.
func (m *Manager) RefilledAt(ctx context.Context) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refilledAt(ctx)
}

func (m *Manager) loadIDs(ctx context.Context) []string {
	ids, err := m.state.LoadIDs(ctx)
	if err != nil {
		if errors.Is(err, model.ErrDecode) {
			m.log.Warn("queue unreadable, treating as empty", zap.Error(err))
		} else {
			m.log.Error("load queue", zap.Error(err))
		}
		return nil
	}
	return ids
}

func (m *Manager) refilledAt(ctx context.Context) time.Time {
	raw, err := m.state.LoadRefilledAt(ctx)
	if err != nil {
		m.log.Error("load refill time", zap.Error(err))
		return time.Time{}
	}
	return ParseRefillTime(raw, m.loc)
}

// dedupe drops repeated and empty IDs, keeping first occurrences, and caps
// the result at limit when limit > 0.
func dedupe(ids []string, limit int) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
