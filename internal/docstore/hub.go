package docstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"schedulr/internal/metrics"
)

// QueryFunc evaluates a filter against the current state of a collection.
type QueryFunc func(ctx context.Context, collection string, filter Filter) ([]Document, error)

// Hub fans change notifications out to subscriptions. Each subscription runs
// its own goroutine and re-queries on change, so a burst of writes collapses
// into as few snapshots as the subscriber can consume.
type Hub struct {
	query   QueryFunc
	metrics *metrics.Metrics

	mu   sync.Mutex
	next uint64
	subs map[uint64]*subscription
}

type subscription struct {
	id         uint64
	collection string
	filter     Filter
	onSnapshot SnapshotFunc
	onError    ErrorFunc
	signal     chan struct{}
	stopped    atomic.Bool
	cancel     context.CancelFunc
}

func NewHub(query QueryFunc, m *metrics.Metrics) *Hub {
	return &Hub{query: query, metrics: m, subs: make(map[uint64]*subscription)}
}

func (h *Hub) Subscribe(ctx context.Context, collection string, filter Filter, onSnapshot SnapshotFunc, onError ErrorFunc) (Unsubscribe, error) {
	if err := ValidCollection(collection); err != nil {
		return nil, err
	}
	if onSnapshot == nil {
		return nil, errors.New("docstore: nil snapshot callback")
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{
		collection: collection,
		filter:     filter,
		onSnapshot: onSnapshot,
		onError:    onError,
		signal:     make(chan struct{}, 1),
		cancel:     cancel,
	}

	h.mu.Lock()
	h.next++
	s.id = h.next
	h.subs[s.id] = s
	h.mu.Unlock()
	h.metrics.SubscriptionOpened(collection)

	// initial snapshot
	s.signal <- struct{}{}
	go h.run(subCtx, s)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.stopped.Store(true)
			cancel()
		})
	}, nil
}

// Notify marks every subscription on collection as stale. It never blocks.
func (h *Hub) Notify(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		if s.collection != collection {
			continue
		}
		select {
		case s.signal <- struct{}{}:
		default:
		}
	}
}

// Active reports the number of live subscriptions.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close stops every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		s.stopped.Store(true)
		s.cancel()
	}
}

func (h *Hub) remove(s *subscription) {
	h.mu.Lock()
	_, ok := h.subs[s.id]
	delete(h.subs, s.id)
	h.mu.Unlock()
	if ok {
		h.metrics.SubscriptionClosed(s.collection)
	}
}

func (h *Hub) run(ctx context.Context, s *subscription) {
	defer h.remove(s)
	defer s.stopped.Store(true)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.signal:
		}

		docs, err := h.query(ctx, s.collection, s.filter)
		if s.stopped.Load() || ctx.Err() != nil {
			return
		}
		if err != nil {
			h.metrics.SubscriptionError(s.collection)
			if s.onError != nil {
				s.onError(err)
			}
			continue
		}
		h.metrics.Snapshot(s.collection)
		s.onSnapshot(Snapshot{Collection: s.collection, Documents: docs, ReadAt: time.Now().UTC()})
	}
}
