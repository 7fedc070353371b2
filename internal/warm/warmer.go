// Package warm keeps the persisted candidate queue fresh in the background.
package warm

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bryan-buckman/listfeed/internal/queue"
)

// RunTimeout bounds a single warm-up run.
const RunTimeout = 2 * time.Minute

// Queue is the part of the queue manager the warmer drives.
type Queue interface {
	EnsureFresh(ctx context.Context, now time.Time, window time.Duration) bool
	Refill(ctx context.Context, limit int) queue.RefillOutcome
}

// Warmer refills the queue on a cron schedule when it has gone stale, so the
// first feed entry after a quiet period does not pay for the refill.
type Warmer struct {
	q      Queue
	limit  int
	window time.Duration
	now    func() time.Time
	log    *zap.Logger
	cron   *cron.Cron
}

// New parses schedule (standard five-field or a descriptor like "@every 30m")
// and returns a stopped warmer.
func New(q Queue, schedule string, limit int, window time.Duration, log *zap.Logger) (*Warmer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse warm schedule %q: %w", schedule, err)
	}

	w := &Warmer{
		q:      q,
		limit:  limit,
		window: window,
		now:    time.Now,
		log:    log.Named("warm"),
		cron:   cron.New(cron.WithParser(parser)),
	}
	w.cron.Schedule(sched, cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(w.run)))
	return w, nil
}

// Start begins the schedule.
func (w *Warmer) Start() {
	w.log.Info("warmer started", zap.Int("limit", w.limit), zap.Duration("window", w.window))
	w.cron.Start()
}

// Stop halts the schedule and waits for a running warm-up to finish.
func (w *Warmer) Stop() {
	<-w.cron.Stop().Done()
	w.log.Info("warmer stopped")
}

func (w *Warmer) run() {
	ctx, cancel := context.WithTimeout(context.Background(), RunTimeout)
	defer cancel()
	w.RunOnce(ctx)
}

// RunOnce refills the queue if it is stale or empty. It reports whether a
// refill happened.
func (w *Warmer) RunOnce(ctx context.Context) bool {
	if !w.q.EnsureFresh(ctx, w.now(), w.window) {
		w.log.Debug("queue fresh, skipping")
		return false
	}
	out := w.q.Refill(ctx, w.limit)
	if out.Degraded {
		w.log.Warn("warm refill degraded, queue left empty")
	} else {
		w.log.Info("queue warmed", zap.Int("ids", out.Count))
	}
	return true
}
