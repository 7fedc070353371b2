// Package feed owns the in-memory feed of one client session and its
// lifecycle: initial load, load-more and refresh.
//
// Every reset bumps a generation counter. A batch captures the generation
// when it is dispatched and is discarded on completion if the generation has
// moved on, so a refresh never sees results that belong to the feed it
// replaced. Network lookups are not cancelled by a refresh; their results
// are simply dropped.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryan-buckman/listfeed/internal/metrics"
	"github.com/bryan-buckman/listfeed/internal/model"
	"github.com/bryan-buckman/listfeed/internal/queue"
)

// Defaults for Config.
const (
	DefaultBatchSize   = 6
	DefaultRefillLimit = 100
)

// Queue is the candidate queue the session pages through.
type Queue interface {
	Refill(ctx context.Context, limit int) queue.RefillOutcome
	PopBatch(ctx context.Context, count int) []string
	EnsureFresh(ctx context.Context, now time.Time, window time.Duration) bool
}

// BatchLoader resolves a batch of IDs into ordered records.
type BatchLoader interface {
	Load(ctx context.Context, ids []string) []model.ContentRecord
}

// Config sizes the session's paging.
type Config struct {
	BatchSize   int           // IDs popped per batch
	RefillLimit int           // IDs requested from the source per refill
	Window      time.Duration // queue freshness window
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.RefillLimit <= 0 {
		c.RefillLimit = DefaultRefillLimit
	}
	if c.Window <= 0 {
		c.Window = queue.DefaultWindow
	}
	return c
}

// State is the observable phase of the feed.
type State string

const (
	StateEmpty     State = "empty"
	StateLoading   State = "loading"
	StatePopulated State = "populated"
)

// Snapshot is a copy of the session state.
type Snapshot struct {
	SessionID  string                `json:"session_id"`
	Generation uint64                `json:"generation"`
	State      State                 `json:"state"`
	Loading    bool                  `json:"loading"`
	Items      []model.ContentRecord `json:"items"`
}

// Session is one client's feed.
type Session struct {
	queue    Queue
	loader   BatchLoader
	cfg      Config
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	onChange func(Snapshot)

	// ctx bounds the fire-and-forget lifecycle calls.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	items      []model.ContentRecord
	generation uint64
	sessionID  string
	fetching   bool
	closed     bool
}

// Option customises a Session.
type Option func(*Session)

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option { return func(s *Session) { s.log = l } }

// WithMetrics sets the collectors for batch outcomes and resets.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Session) { s.metrics = m } }

// WithClock overrides time.Now for the freshness check.
func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

// WithOnChange registers a callback invoked with a snapshot after every
// state change. It runs outside the session lock.
func WithOnChange(fn func(Snapshot)) Option { return func(s *Session) { s.onChange = fn } }

// NewSession creates an empty session.
func NewSession(q Queue, ld BatchLoader, cfg Config, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		queue:     q,
		loader:    ld,
		cfg:       cfg.withDefaults(),
		log:       zap.NewNop(),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		sessionID: uuid.NewString(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// EnsureQueueAndInitialBatch refills the queue if it is stale or empty, then
// restarts the feed from the top of the queue.
func (s *Session) EnsureQueueAndInitialBatch(ctx context.Context) {
	if s.queue.EnsureFresh(ctx, s.now(), s.cfg.Window) {
		s.queue.Refill(ctx, s.cfg.RefillLimit)
	}
	s.invalidate()
	s.metrics.ObserveReset()
	s.LoadNextBatch(ctx)
}

// LoadNextBatch appends the next batch to the feed. It is a no-op while
// another batch is in flight. An empty queue gets one refill and one retry;
// if that is empty too the batch ends empty.
func (s *Session) LoadNextBatch(ctx context.Context) {
	s.mu.Lock()
	if s.fetching {
		s.mu.Unlock()
		return
	}
	s.fetching = true
	gen := s.generation
	s.mu.Unlock()
	s.notify()

	ids := s.queue.PopBatch(ctx, s.cfg.BatchSize)
	if len(ids) == 0 {
		s.queue.Refill(ctx, s.cfg.RefillLimit)
		if !s.isCurrent(gen) {
			s.complete(gen, 0, nil)
			return
		}
		ids = s.queue.PopBatch(ctx, s.cfg.BatchSize)
	}

	var records []model.ContentRecord
	if len(ids) > 0 {
		records = s.loader.Load(ctx, ids)
	}
	s.complete(gen, len(ids), records)
}

// Refresh invalidates any batch in flight, clears the feed and reloads it.
func (s *Session) Refresh(ctx context.Context) {
	s.invalidate()
	s.EnsureQueueAndInitialBatch(ctx)
}

func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.generation
}

func (s *Session) complete(gen uint64, requested int, records []model.ContentRecord) {
	s.mu.Lock()
	if gen != s.generation {
		current := s.generation
		s.mu.Unlock()
		s.metrics.ObserveBatchOutcome("discarded")
		s.log.Debug("discarding stale batch",
			zap.Uint64("batch_generation", gen), zap.Uint64("generation", current),
			zap.Int("records", len(records)))
		return
	}
	s.items = append(s.items, records...)
	s.fetching = false
	total := len(s.items)
	s.mu.Unlock()

	if len(records) == 0 {
		s.metrics.ObserveBatchOutcome("empty")
	} else {
		s.metrics.ObserveBatchOutcome("appended")
	}
	s.log.Debug("batch appended",
		zap.Uint64("generation", gen), zap.Int("requested", requested),
		zap.Int("records", len(records)), zap.Int("feed_size", total))
	s.notify()
}

// invalidate starts a new generation with an empty feed and no fetch in
// progress.
func (s *Session) invalidate() {
	s.mu.Lock()
	s.generation++
	s.sessionID = uuid.NewString()
	s.items = nil
	s.fetching = false
	gen, id := s.generation, s.sessionID
	s.mu.Unlock()

	s.log.Debug("feed reset", zap.Uint64("generation", gen), zap.String("session_id", id))
	s.notify()
}

// OnEnter runs EnsureQueueAndInitialBatch in the background.
func (s *Session) OnEnter() { s.goAsync(s.EnsureQueueAndInitialBatch) }

// OnReachEnd runs LoadNextBatch in the background.
func (s *Session) OnReachEnd() { s.goAsync(s.LoadNextBatch) }

// OnPullToRefresh runs Refresh in the background.
func (s *Session) OnPullToRefresh() { s.goAsync(s.Refresh) }

func (s *Session) goAsync(fn func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// Wait blocks until every background lifecycle call has returned.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close stops accepting lifecycle calls, cancels the background context and
// waits for running calls to return.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	items := make([]model.ContentRecord, len(s.items))
	copy(items, s.items)

	state := StateEmpty
	switch {
	case len(items) > 0:
		state = StatePopulated
	case s.fetching:
		state = StateLoading
	}
	return Snapshot{
		SessionID:  s.sessionID,
		Generation: s.generation,
		State:      state,
		Loading:    s.fetching,
		Items:      items,
	}
}

func (s *Session) notify() {
	if s.onChange == nil {
		return
	}
	s.onChange(s.Snapshot())
}
