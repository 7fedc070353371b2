package feed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bryan-buckman/listfeed/internal/database"
	"github.com/bryan-buckman/listfeed/internal/loader"
	"github.com/bryan-buckman/listfeed/internal/metrics"
	"github.com/bryan-buckman/listfeed/internal/model"
	"github.com/bryan-buckman/listfeed/internal/queue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- fakes ---

type staticSource struct {
	mu    sync.Mutex
	ids   []string
	calls int
}

func (s *staticSource) FetchTopIDs(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if limit < len(s.ids) {
		return append([]string(nil), s.ids[:limit]...), nil
	}
	return append([]string(nil), s.ids...), nil
}

func (s *staticSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingQueue counts calls and serves pops from a scripted list.
type recordingQueue struct {
	mu       sync.Mutex
	pops     [][]string
	popN     int
	refills  int
	fresh    bool
	onRefill func()
}

func (q *recordingQueue) Refill(context.Context, int) queue.RefillOutcome {
	q.mu.Lock()
	q.refills++
	hook := q.onRefill
	q.mu.Unlock()
	if hook != nil {
		hook()
	}
	return queue.RefillOutcome{}
}

func (q *recordingQueue) PopBatch(context.Context, int) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.popN++
	if len(q.pops) == 0 {
		return nil
	}
	next := q.pops[0]
	q.pops = q.pops[1:]
	return next
}

func (q *recordingQueue) EnsureFresh(context.Context, time.Time, time.Duration) bool {
	return !q.fresh
}

// echoLoader turns IDs into records without any lookup. Calls listed in
// block wait for release before returning.
type echoLoader struct {
	mu      sync.Mutex
	calls   int
	block   map[int]bool
	entered chan int
	release chan struct{}
}

func newEchoLoader(blockCalls ...int) *echoLoader {
	l := &echoLoader{
		block:   map[int]bool{},
		entered: make(chan int, 16),
		release: make(chan struct{}),
	}
	for _, c := range blockCalls {
		l.block[c] = true
	}
	return l
}

func (l *echoLoader) Load(_ context.Context, ids []string) []model.ContentRecord {
	l.mu.Lock()
	l.calls++
	call := l.calls
	l.mu.Unlock()

	l.entered <- call
	if l.block[call] {
		<-l.release
	}
	out := make([]model.ContentRecord, len(ids))
	for i, id := range ids {
		out[i] = model.ContentRecord{ID: id}
	}
	return out
}

func (l *echoLoader) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func feedIDs(s Snapshot) []string {
	out := make([]string, len(s.Items))
	for i, r := range s.Items {
		out[i] = r.ID
	}
	return out
}

func letters(s string) []string {
	out := make([]string, len(s))
	for i, r := range s {
		out[i] = string(r)
	}
	return out
}

func newRealQueue(src queue.CandidateSource) (*queue.Manager, *database.MemoryStore) {
	store := database.NewMemory()
	return queue.NewManager(store, "home", src), store
}

// --- tests ---

func TestLoadNextBatch_SingleRetryOnEmptyPop(t *testing.T) {
	q := &recordingQueue{fresh: true}
	ld := newEchoLoader()
	s := NewSession(q, ld, Config{})
	defer s.Close()

	s.LoadNextBatch(context.Background())

	assert.Equal(t, 1, q.refills, "exactly one refill after an empty pop")
	assert.Equal(t, 2, q.popN, "exactly one retry pop")
	assert.Equal(t, 0, ld.Calls(), "an empty batch is not dispatched")

	snap := s.Snapshot()
	assert.False(t, snap.Loading)
	assert.Equal(t, StateEmpty, snap.State)
	assert.Empty(t, snap.Items)
}

func TestLoadNextBatch_RetryPopSucceeds(t *testing.T) {
	q := &recordingQueue{fresh: true, pops: [][]string{nil, {"X", "Y"}}}
	s := NewSession(q, newEchoLoader(), Config{})
	defer s.Close()

	s.LoadNextBatch(context.Background())

	assert.Equal(t, 1, q.refills)
	assert.Equal(t, []string{"X", "Y"}, feedIDs(s.Snapshot()))
}

func TestLoadNextBatch_ResetDuringRefillSkipsRetryPop(t *testing.T) {
	q := &recordingQueue{fresh: true, pops: [][]string{nil, {"X", "Y"}}}
	ld := newEchoLoader()
	s := NewSession(q, ld, Config{})
	defer s.Close()
	q.onRefill = s.invalidate

	s.LoadNextBatch(context.Background())

	assert.Equal(t, 1, q.refills)
	assert.Equal(t, 1, q.popN, "a reset batch must not drain the new feed's queue")
	assert.Equal(t, 0, ld.Calls())
	snap := s.Snapshot()
	assert.Empty(t, snap.Items)
	assert.False(t, snap.Loading)
}

func TestLoadNextBatch_AppendsInInvocationOrder(t *testing.T) {
	src := &staticSource{ids: letters("ABCDEFGHIJKLM")}
	q, _ := newRealQueue(src)
	s := NewSession(q, newEchoLoader(), Config{})
	defer s.Close()
	ctx := context.Background()

	s.EnsureQueueAndInitialBatch(ctx)
	s.LoadNextBatch(ctx)
	s.LoadNextBatch(ctx)

	assert.Equal(t, letters("ABCDEFGHIJKLM"), feedIDs(s.Snapshot()))
	assert.Equal(t, 1, src.Calls())
}

func TestLoadNextBatch_SingleFlight(t *testing.T) {
	src := &staticSource{ids: letters("ABCDEFGHIJKL")}
	q, store := newRealQueue(src)
	q.Refill(context.Background(), 100)
	ld := newEchoLoader(1)
	s := NewSession(q, ld, Config{})
	defer s.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.LoadNextBatch(context.Background())
	}()
	<-ld.entered
	assert.True(t, s.Snapshot().Loading)

	// Overlapping calls while the first batch is in flight.
	s.LoadNextBatch(context.Background())
	s.LoadNextBatch(context.Background())

	close(ld.release)
	<-done

	assert.Equal(t, 1, ld.Calls())
	assert.Equal(t, letters("ABCDEF"), feedIDs(s.Snapshot()))
	rest, err := database.NewQueueState(store, "home").LoadIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, letters("GHIJKL"), rest, "overlapping calls must not pop")
}

func TestRefresh_DiscardsInFlightBatch(t *testing.T) {
	src := &staticSource{ids: letters("ABCDEFGHIJKL")}
	q, _ := newRealQueue(src)
	q.Refill(context.Background(), 100)
	ld := newEchoLoader(1)
	reg := prometheus.NewRegistry()
	mt := metrics.New(reg)
	s := NewSession(q, ld, Config{}, WithMetrics(mt))
	defer s.Close()

	before := s.Snapshot()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.LoadNextBatch(context.Background())
	}()
	<-ld.entered

	s.Refresh(context.Background())
	afterRefresh := s.Snapshot()
	assert.Equal(t, letters("GHIJKL"), feedIDs(afterRefresh))
	assert.NotEqual(t, before.SessionID, afterRefresh.SessionID)
	assert.Greater(t, afterRefresh.Generation, before.Generation)

	close(ld.release)
	<-done

	final := s.Snapshot()
	assert.Equal(t, letters("GHIJKL"), feedIDs(final), "stale batch A..F must not be appended")
	assert.False(t, final.Loading)
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.Batches.WithLabelValues("discarded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.Batches.WithLabelValues("appended")))
}

func TestEnsureQueueAndInitialBatch_AlwaysRestartsFeed(t *testing.T) {
	src := &staticSource{ids: letters("ABCDEFGHIJKLMNOPQR")}
	q, _ := newRealQueue(src)
	s := NewSession(q, newEchoLoader(), Config{})
	defer s.Close()
	ctx := context.Background()

	s.EnsureQueueAndInitialBatch(ctx)
	s.LoadNextBatch(ctx)
	require.Len(t, s.Snapshot().Items, 12)

	// Queue is fresh and non-empty: no refill, but the feed starts over.
	s.EnsureQueueAndInitialBatch(ctx)
	assert.Equal(t, letters("MNOPQR"), feedIDs(s.Snapshot()))
	assert.Equal(t, 1, src.Calls())
}

func TestEnsureQueueAndInitialBatch_RefillsWhenStale(t *testing.T) {
	src := &staticSource{ids: letters("ABCDEFGH")}
	q, _ := newRealQueue(src)
	now := time.Now()
	s := NewSession(q, newEchoLoader(), Config{Window: time.Hour},
		WithClock(func() time.Time { return now }))
	defer s.Close()
	ctx := context.Background()

	s.EnsureQueueAndInitialBatch(ctx)
	assert.Equal(t, 1, src.Calls())

	now = now.Add(2 * time.Hour)
	s.EnsureQueueAndInitialBatch(ctx)
	assert.Equal(t, 2, src.Calls())
	assert.Equal(t, letters("ABCDEF"), feedIDs(s.Snapshot()))
}

func TestEmptySource_YieldsEmptyFeed(t *testing.T) {
	src := &staticSource{}
	q, _ := newRealQueue(src)
	s := NewSession(q, newEchoLoader(), Config{})
	defer s.Close()

	s.EnsureQueueAndInitialBatch(context.Background())

	snap := s.Snapshot()
	assert.Equal(t, StateEmpty, snap.State)
	assert.False(t, snap.Loading)
	// One refill from the staleness gate, one from the empty-pop retry.
	assert.Equal(t, 2, src.Calls())
}

func TestEndToEnd_FiltersAndOrders(t *testing.T) {
	src := &staticSource{ids: letters("ABCDEFG")}
	store := database.NewMemory()
	q := queue.NewManager(store, "home", src)

	updated := map[string]string{
		"A": "20260101000000",
		"B": "20260301000000",
		"C": "20250601000000",
		"D": "20260401000000",
		"E": "20260201000000",
		"F": "20260501000000",
		"G": "20260601000000",
	}
	docs := map[string]*model.RawDocument{}
	for id, ts := range updated {
		docs[id] = &model.RawDocument{
			Name:       "list " + id,
			Status:     model.StatusActive,
			Visibility: string(model.VisibilityPublic),
			UpdatedAt:  ts,
		}
	}
	docs["D"].Visibility = string(model.VisibilityPrivate)
	docs["F"].Status = "inactive"

	ld := loader.New(fetcherFunc(func(_ context.Context, id string) (*model.RawDocument, error) {
		return docs[id], nil
	}))
	s := NewSession(q, ld, Config{BatchSize: 6})
	defer s.Close()

	s.EnsureQueueAndInitialBatch(context.Background())

	assert.Equal(t, []string{"B", "E", "A", "C"}, feedIDs(s.Snapshot()))
	rest, err := database.NewQueueState(store, "home").LoadIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"G"}, rest)
}

type fetcherFunc func(ctx context.Context, id string) (*model.RawDocument, error)

func (f fetcherFunc) Fetch(ctx context.Context, id string) (*model.RawDocument, error) {
	return f(ctx, id)
}

func TestLifecycle_FireAndForget(t *testing.T) {
	src := &staticSource{ids: letters("ABCDEFGHIJKL")}
	q, _ := newRealQueue(src)

	var mu sync.Mutex
	var states []State
	s := NewSession(q, newEchoLoader(), Config{}, WithOnChange(func(snap Snapshot) {
		mu.Lock()
		states = append(states, snap.State)
		mu.Unlock()
	}))
	defer s.Close()

	s.OnEnter()
	s.Wait()
	assert.Equal(t, letters("ABCDEF"), feedIDs(s.Snapshot()))

	s.OnReachEnd()
	s.Wait()
	assert.Equal(t, letters("ABCDEFGHIJKL"), feedIDs(s.Snapshot()))

	s.OnPullToRefresh()
	s.Wait()
	snap := s.Snapshot()
	assert.Equal(t, StatePopulated, snap.State)
	assert.Len(t, snap.Items, 6)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, StateLoading)
	assert.Contains(t, states, StatePopulated)
}

func TestClose_RejectsNewCalls(t *testing.T) {
	src := &staticSource{ids: letters("ABC")}
	q, _ := newRealQueue(src)
	ld := newEchoLoader()
	s := NewSession(q, ld, Config{})
	s.Close()

	s.OnEnter()
	s.Wait()
	assert.Equal(t, 0, ld.Calls())
	assert.Equal(t, 0, src.Calls())
}

func TestSnapshot_IsACopy(t *testing.T) {
	src := &staticSource{ids: letters("AB")}
	q, _ := newRealQueue(src)
	s := NewSession(q, newEchoLoader(), Config{})
	defer s.Close()
	s.EnsureQueueAndInitialBatch(context.Background())

	snap := s.Snapshot()
	snap.Items[0].ID = "mutated"
	assert.Equal(t, "A", s.Snapshot().Items[0].ID)
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 6, cfg.BatchSize)
	assert.Equal(t, DefaultRefillLimit, cfg.RefillLimit)
	assert.Equal(t, 3*time.Hour, cfg.Window)

	cfg = Config{BatchSize: 10, RefillLimit: 20, Window: time.Minute}.withDefaults()
	assert.Equal(t, Config{BatchSize: 10, RefillLimit: 20, Window: time.Minute}, cfg)
}

func ExampleSession() {
	src := &staticSource{ids: []string{"list-1", "list-2"}}
	q := queue.NewManager(database.NewMemory(), "home", src)
	ld := loader.New(fetcherFunc(func(_ context.Context, id string) (*model.RawDocument, error) {
		return &model.RawDocument{Name: id, Status: "active", Visibility: "public"}, nil
	}))
	s := NewSession(q, ld, Config{})
	defer s.Close()

	s.OnEnter()
	s.Wait()
	fmt.Println(len(s.Snapshot().Items))
	// Output: 2
}
