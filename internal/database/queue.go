package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bryan-buckman/listfeed/internal/model"
)

// Key suffixes under a queue namespace.
const (
	queueKeySuffix    = ".queue"
	refilledKeySuffix = ".refilled_at"
)

// QueueState provides typed access to one namespace's candidate queue and
// refill timestamp.
type QueueState struct {
	store       Store
	queueKey    string
	refilledKey string
}

// NewQueueState binds a namespace to a store.
func NewQueueState(store Store, namespace string) *QueueState {
	return &QueueState{
		store:       store,
		queueKey:    namespace + queueKeySuffix,
		refilledKey: namespace + refilledKeySuffix,
	}
}

// LoadIDs returns the persisted queue. An absent key yields an empty queue.
// A value that does not decode yields an error wrapping model.ErrDecode.
func (q *QueueState) LoadIDs(ctx context.Context) ([]string, error) {
	raw, ok, err := q.store.Get(ctx, q.queueKey)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("%w: key %s: %v", model.ErrDecode, q.queueKey, err)
	}
	return ids, nil
}

// SaveIDs replaces the persisted queue.
func (q *QueueState) SaveIDs(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal key %s: %w", q.queueKey, err)
	}
	return q.store.Set(ctx, q.queueKey, string(data))
}

// LoadRefilledAt returns the raw refill timestamp, or "" when absent.
func (q *QueueState) LoadRefilledAt(ctx context.Context) (string, error) {
	raw, _, err := q.store.Get(ctx, q.refilledKey)
	return raw, err
}

// SaveRefilledAt stores the raw refill timestamp.
func (q *QueueState) SaveRefilledAt(ctx context.Context, raw string) error {
	return q.store.Set(ctx, q.refilledKey, raw)
}
