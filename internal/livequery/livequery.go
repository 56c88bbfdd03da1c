// Package livequery keeps an owner-scoped, sorted view of a collection: live
// snapshots from the document store merged with a static fallback set.
package livequery

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"schedulr/internal/docstore"
	"schedulr/internal/identity"
	"schedulr/internal/logging"
	"schedulr/internal/model"
)

type Decoder[T any] func(docstore.Document) (T, error)

type Options[T any] struct {
	Collection string
	Decode     Decoder[T]
	// Fallback is always part of the view.
	Fallback []T
	// Compare orders the merged view. The sort is stable, so live items come
	// before fallback items that compare equal.
	Compare func(a, b T) int
	// Combine merges live and fallback items. The default concatenates them.
	Combine func(live, fallback []T) []T
	// OnChange runs after every change to the view, outside any lock.
	OnChange func()
}

// Query holds at most one subscription, for the current identity.
type Query[T any] struct {
	store docstore.Store
	opts  Options[T]
	log   zerolog.Logger

	mu        sync.Mutex
	gen       uint64
	unsub     docstore.Unsubscribe
	stopWatch func()
	live      []T
	err       error
	closed    bool
	ready     chan struct{}
	readyOnce sync.Once
}

func New[T any](store docstore.Store, opts Options[T]) *Query[T] {
	return &Query[T]{
		store: store,
		opts:  opts,
		log:   logging.For("livequery").With().Str(logging.COLLECTION, opts.Collection).Logger(),
		ready: make(chan struct{}),
	}
}

// SetIdentity releases the current subscription and, for a non-nil identity,
// opens a new one filtered by owner.
func (q *Query[T]) SetIdentity(ctx context.Context, id *model.Identity) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.gen++
	gen := q.gen
	old := q.unsub
	q.unsub = nil
	q.live = nil
	q.err = nil
	q.mu.Unlock()

	if old != nil {
		old()
	}
	if id == nil || id.UID == "" {
		q.markReady()
		q.changed()
		return
	}

	unsub, err := q.store.Subscribe(ctx, q.opts.Collection,
		docstore.Where(model.FieldOwnerID, id.UID),
		func(s docstore.Snapshot) { q.onSnapshot(gen, s) },
		func(err error) { q.onError(gen, err) },
	)

	q.mu.Lock()
	if err != nil {
		stale := gen != q.gen
		if !stale {
			q.err = err
		}
		q.mu.Unlock()
		if !stale {
			q.log.Error().Err(err).Str(logging.UID, id.UID).Msg("subscribe")
			q.markReady()
			q.changed()
		}
		return
	}
	if gen != q.gen || q.closed {
		q.mu.Unlock()
		unsub()
		return
	}
	q.unsub = unsub
	q.mu.Unlock()
}

// Bind follows the identity stream until Close.
func (q *Query[T]) Bind(ctx context.Context, w *identity.Watcher) {
	stop := w.Subscribe(func(id *model.Identity) { q.SetIdentity(ctx, id) })
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		stop()
		return
	}
	if q.stopWatch != nil {
		q.stopWatch()
	}
	q.stopWatch = stop
	q.mu.Unlock()
}

func (q *Query[T]) onSnapshot(gen uint64, s docstore.Snapshot) {
	items := make([]T, 0, len(s.Documents))
	for _, doc := range s.Documents {
		v, err := q.opts.Decode(doc)
		if err != nil {
			q.log.Warn().Err(err).Str(logging.ID, doc.ID).Msg("skip document")
			continue
		}
		items = append(items, v)
	}

	q.mu.Lock()
	if gen != q.gen || q.closed {
		q.mu.Unlock()
		return
	}
	// replace, never append
	q.live = items
	q.err = nil
	q.mu.Unlock()

	q.markReady()
	q.changed()
}

func (q *Query[T]) onError(gen uint64, err error) {
	q.mu.Lock()
	if gen != q.gen || q.closed {
		q.mu.Unlock()
		return
	}
	q.live = nil
	q.err = err
	q.mu.Unlock()

	q.log.Warn().Err(err).Msg("subscription error, showing fallback")
	q.markReady()
	q.changed()
}

// Items is the merged, sorted view. The slice is the caller's.
func (q *Query[T]) Items() []T {
	q.mu.Lock()
	live := slices.Clone(q.live)
	q.mu.Unlock()

	fallback := slices.Clone(q.opts.Fallback)
	var out []T
	if q.opts.Combine != nil {
		out = q.opts.Combine(live, fallback)
	} else {
		out = append(live, fallback...)
	}
	if q.opts.Compare != nil {
		slices.SortStableFunc(out, q.opts.Compare)
	}
	return out
}

// Live is the latest snapshot without fallback items.
func (q *Query[T]) Live() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.live)
}

// Err is the last subscription error, cleared by the next snapshot.
func (q *Query[T]) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Ready is closed once the first snapshot, error or sign-out is seen.
func (q *Query[T]) Ready() <-chan struct{} { return q.ready }

// Wait blocks until Ready or until ctx is done.
func (q *Query[T]) Wait(ctx context.Context) error {
	select {
	case <-q.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the subscription. Later callbacks are ignored.
func (q *Query[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.gen++
	unsub, stop := q.unsub, q.stopWatch
	q.unsub, q.stopWatch = nil, nil
	q.mu.Unlock()

	if stop != nil {
		stop()
	}
	if unsub != nil {
		unsub()
	}
}

func (q *Query[T]) markReady() {
	q.readyOnce.Do(func() { close(q.ready) })
}

func (q *Query[T]) changed() {
	if q.opts.OnChange != nil {
		q.opts.OnChange()
	}
}

// DedupeBy keeps every live item and drops fallback items whose key is
// already live.
func DedupeBy[T any](key func(T) string) func(live, fallback []T) []T {
	return func(live, fallback []T) []T {
		seen := make(map[string]bool, len(live))
		for _, v := range live {
			seen[key(v)] = true
		}
		out := append([]T(nil), live...)
		for _, v := range fallback {
			if !seen[key(v)] {
				out = append(out, v)
			}
		}
		return out
	}
}

// Split partitions appointments around now. Upcoming starts strictly after
// now, ascending; past starts strictly before now, most recent first.
func Split(items []model.Appointment, now time.Time) (upcoming, past []model.Appointment) {
	for _, a := range items {
		switch {
		case a.Start.After(now):
			upcoming = append(upcoming, a)
		case a.Start.Before(now):
			past = append(past, a)
		}
	}
	slices.SortStableFunc(upcoming, model.ByStart)
	slices.SortStableFunc(past, func(a, b model.Appointment) int { return model.ByStart(b, a) })
	return upcoming, past
}
