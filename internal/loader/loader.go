// Package loader resolves batches of candidate IDs into display-ready
// records.
//
// Every ID in a batch is looked up concurrently. Lookups that fail, find
// nothing, or find an inactive or non-public list are dropped; the batch
// degrades to fewer records instead of failing. Load returns only after all
// lookups have finished, newest-updated first.
package loader

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bryan-buckman/listfeed/internal/metrics"
	"github.com/bryan-buckman/listfeed/internal/model"
)

// DefaultPreviewSize is the number of items kept from a full item list.
const DefaultPreviewSize = 3

// DocumentFetcher resolves one list document. A nil document with a nil
// error, or an error wrapping model.ErrDocumentMissing, means not found.
type DocumentFetcher interface {
	Fetch(ctx context.Context, id string) (*model.RawDocument, error)
}

// Loader fans out document lookups for a batch.
type Loader struct {
	fetcher     DocumentFetcher
	previewSize int
	log         *zap.Logger
	metrics     *metrics.Metrics
}

// Option customises a Loader.
type Option func(*Loader)

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option { return func(ld *Loader) { ld.log = l } }

// WithMetrics sets the collectors for drops and batch latency.
func WithMetrics(m *metrics.Metrics) Option { return func(ld *Loader) { ld.metrics = m } }

// WithPreviewSize sets how many items of a full list are kept. 0 keeps all.
func WithPreviewSize(n int) Option { return func(ld *Loader) { ld.previewSize = n } }

// New creates a Loader over fetcher.
func New(fetcher DocumentFetcher, opts ...Option) *Loader {
	ld := &Loader{
		fetcher:     fetcher,
		previewSize: DefaultPreviewSize,
		log:         zap.NewNop(),
	}
	for _, o := range opts {
		o(ld)
	}
	return ld
}

// Load resolves ids and returns the surviving records sorted by UpdatedAt
// descending. Ties keep input order.
func (ld *Loader) Load(ctx context.Context, ids []string) []model.ContentRecord {
	if len(ids) == 0 {
		return nil
	}
	start := time.Now()

	// One slot per input position; each goroutine writes only its own slot.
	slots := make([]*model.ContentRecord, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			rec, err := ld.resolve(ctx, id)
			if err != nil {
				reason := dropReason(err)
				ld.metrics.ObserveDrop(reason)
				ld.log.Debug("document dropped",
					zap.String("id", id), zap.String("reason", reason), zap.Error(err))
				return nil
			}
			slots[i] = rec
			return nil
		})
	}
	_ = g.Wait()

	records := make([]model.ContentRecord, 0, len(ids))
	for _, rec := range slots {
		if rec != nil {
			records = append(records, *rec)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].UpdatedAt > records[j].UpdatedAt
	})

	ld.metrics.ObserveBatch(time.Since(start))
	ld.log.Debug("batch loaded", zap.Int("requested", len(ids)), zap.Int("loaded", len(records)))
	return records
}

func (ld *Loader) resolve(ctx context.Context, id string) (*model.ContentRecord, error) {
	doc, err := ld.fetcher.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, model.ErrDocumentMissing
	}
	if doc.Status != model.StatusActive {
		return nil, model.ErrDocumentInactive
	}
	if model.Visibility(doc.Visibility) != model.VisibilityPublic {
		return nil, model.ErrDocumentPrivate
	}
	rec := Normalize(id, doc, ld.previewSize)
	return &rec, nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, model.ErrDocumentMissing):
		return "missing"
	case errors.Is(err, model.ErrDocumentInactive):
		return "inactive"
	case errors.Is(err, model.ErrDocumentPrivate):
		return "private"
	default:
		return "error"
	}
}
