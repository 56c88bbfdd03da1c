package livequery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedulr/internal/docstore"
	"schedulr/internal/identity"
	"schedulr/internal/model"
)

// fakeStore records subscriptions and lets tests fire callbacks by hand.
type fakeStore struct {
	docstore.Store

	mu   sync.Mutex
	subs []*fakeSub
	err  error
}

type fakeSub struct {
	filter     docstore.Filter
	onSnapshot docstore.SnapshotFunc
	onError    docstore.ErrorFunc
	released   bool
}

func (f *fakeStore) Subscribe(_ context.Context, collection string, filter docstore.Filter, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) (docstore.Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeSub{filter: filter, onSnapshot: onSnapshot, onError: onError}
	f.subs = append(f.subs, s)
	return func() {
		f.mu.Lock()
		s.released = true
		f.mu.Unlock()
	}, nil
}

func (f *fakeStore) last() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[len(f.subs)-1]
}

func (f *fakeStore) open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		if !s.released {
			n++
		}
	}
	return n
}

var base = time.Date(2025, 3, 26, 8, 0, 0, 0, time.UTC)

func appt(id string, hours int) model.Appointment {
	return model.Appointment{ID: id, Start: base.Add(time.Duration(hours) * time.Hour)}
}

func doc(id string, hours int) docstore.Document {
	return docstore.Document{ID: id, Fields: map[string]any{
		"ownerId": "u1",
		"start":   base.Add(time.Duration(hours) * time.Hour).Format(time.RFC3339),
	}}
}

func ids(items []model.Appointment) []string {
	out := make([]string, len(items))
	for i, a := range items {
		out[i] = a.ID
	}
	return out
}

func newQuery(st docstore.Store, fallback ...model.Appointment) *Query[model.Appointment] {
	return New(st, Options[model.Appointment]{
		Collection: model.CollectionAppointments,
		Decode:     model.DecodeAppointment,
		Fallback:   fallback,
		Compare:    model.ByStart,
	})
}

func TestFallbackOnlyIsSorted(t *testing.T) {
	st := &fakeStore{}
	q := newQuery(st, appt("d3", 3), appt("d1", 1), appt("d2", 2))
	q.SetIdentity(context.Background(), &model.Identity{UID: "u1"})

	st.last().onSnapshot(docstore.Snapshot{})
	assert.Equal(t, []string{"d1", "d2", "d3"}, ids(q.Items()))
}

func TestSubscriptionIsOwnerScoped(t *testing.T) {
	st := &fakeStore{}
	q := newQuery(st)
	q.SetIdentity(context.Background(), &model.Identity{UID: "u1"})
	assert.Equal(t, docstore.Where("ownerId", "u1"), st.last().filter)
}

func TestSnapshotReplacesLiveSet(t *testing.T) {
	st := &fakeStore{}
	q := newQuery(st, appt("demo", 5))
	q.SetIdentity(context.Background(), &model.Identity{UID: "u1"})
	sub := st.last()

	sub.onSnapshot(docstore.Snapshot{Documents: []docstore.Document{doc("a", 2), doc("b", 1)}})
	assert.Equal(t, []string{"b", "a", "demo"}, ids(q.Items()))

	sub.onSnapshot(docstore.Snapshot{Documents: []docstore.Document{doc("c", 7)}})
	assert.Equal(t, []string{"demo", "c"}, ids(q.Items()))
}

func TestRedeliveredSnapshotIsIdempotent(t *testing.T) {
	st := &fakeStore{}
	q := newQuery(st, appt("demo", 2))
	q.SetIdentity(context.Background(), &model.Identity{UID: "u1"})
	snap := docstore.Snapshot{Documents: []docstore.Document{doc("a", 1), doc("b", 3)}}

	st.last().onSnapshot(snap)
	first := ids(q.Items())
	st.last().onSnapshot(snap)
	assert.Equal(t, first, ids(q.Items()))
	assert.Len(t, q.Items(), 3)
}

func TestBadDocumentsAreSkipped(t *testing.T) {
	st := &fakeStore{}
	q := newQuery(st)
	q.SetIdentity(context.Background(), &model.Identity{UID: "u1"})
	bad := docstore.Document{ID: "bad", Fields: map[string]any{"start": "soon"}}
	st.last().onSnapshot(docstore.Snapshot{Documents: []docstore.Document{bad, doc("ok", 1)}})
	assert.Equal(t, []string{"ok"}, ids(q.Items()))
}

func TestErrorFallsBack(t *testing.T) {
	st := &fakeStore{}
	q := newQuery(st, appt("demo", 1))
	q.SetIdentity(context.Background(), &model.Identity{UID: "u1"})
	sub := st.last()
	sub.onSnapshot(docstore.Snapshot{Documents: []docstore.Document{doc("a", 2)}})

	sub.onError(errors.New("permission denied"))
	assert.Equal(t, []string{"demo"}, ids(q.Items()))
	assert.Error(t, q.Err())

	select {
	case <-q.Ready():
	default:
		t.Fatal("query should be ready after an error")
	}
}

func TestSubscribeFailureFallsBack(t *testing.T) {
	st := &fakeStore{err: errors.New("unavailable")}
	q := newQuery(st, appt("demo", 1))
	q.SetIdentity(context.Background(), &model.Identity{UID: "u1"})
	require.NoError(t, q.Wait(context.Background()))
	assert.Equal(t, []string{"demo"}, ids(q.Items()))
}

func TestSignOutReleasesAndDiscardsLateCallbacks(t *testing.T) {
	st := &fakeStore{}
	q := newQuery(st, appt("demo", 1))
	q.SetIdentity(context.Background(), &model.Identity{UID: "u1"})
	sub := st.last()

	q.SetIdentity(context.Background(), nil)
	assert.True(t, sub.released)
	assert.Equal(t, 0, st.open())

	sub.onSnapshot(docstore.Snapshot{Documents: []docstore.Document{doc("late", 2)}})
	assert.Equal(t, []string{"demo"}, ids(q.Items()))
}

func TestCloseReleases(t *testing.T) {
	st := &fakeStore{}
	changes := 0
	q := New(st, Options[model.Appointment]{
		Collection: model.CollectionAppointments,
		Decode:     model.DecodeAppointment,
		Compare:    model.ByStart,
		OnChange:   func() { changes++ },
	})
	q.SetIdentity(context.Background(), &model.Identity{UID: "u1"})
	sub := st.last()
	sub.onSnapshot(docstore.Snapshot{Documents: []docstore.Document{doc("a", 1)}})
	assert.Equal(t, 1, changes)

	q.Close()
	assert.True(t, sub.released)
	sub.onSnapshot(docstore.Snapshot{Documents: []docstore.Document{doc("b", 1)}})
	assert.Equal(t, 1, changes)
	assert.Equal(t, []string{"a"}, ids(q.Live()))

	q.SetIdentity(context.Background(), &model.Identity{UID: "u1"})
	assert.Equal(t, 0, st.open())
}

func TestBindFollowsWatcher(t *testing.T) {
	st := &fakeStore{}
	w := identity.NewWatcher()
	q := newQuery(st)
	q.Bind(context.Background(), w)
	assert.Equal(t, 0, st.open())

	w.Set(&model.Identity{UID: "u1"})
	assert.Equal(t, 1, st.open())
	w.Set(&model.Identity{UID: "u2"})
	assert.Equal(t, 1, st.open())
	assert.Equal(t, docstore.Where("ownerId", "u2"), st.last().filter)

	q.Close()
	assert.Equal(t, 0, st.open())
	assert.Equal(t, 0, w.Listeners())
}

func TestWithMemoryStore(t *testing.T) {
	st := docstore.NewMemory(nil)
	defer st.Close()
	ctx := context.Background()

	notified := make(chan struct{}, 16)
	q := New(st, Options[model.Appointment]{
		Collection: model.CollectionAppointments,
		Decode:     model.DecodeAppointment,
		Compare:    model.ByStart,
		OnChange:   func() { notified <- struct{}{} },
	})
	defer q.Close()
	q.SetIdentity(ctx, &model.Identity{UID: "u1"})
	require.NoError(t, q.Wait(ctx))
	<-notified

	_, err := st.Create(ctx, model.CollectionAppointments, doc("x", 1).Fields)
	require.NoError(t, err)
	_, err = st.Create(ctx, model.CollectionAppointments, map[string]any{"ownerId": "u2", "start": base.Format(time.RFC3339)})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(q.Items()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestDedupeBy(t *testing.T) {
	combine := DedupeBy(func(s model.Service) string { return s.Name })
	live := []model.Service{{ID: "x", Name: "Physiotherapy"}}
	fallback := []model.Service{{ID: "s1", Name: "Physiotherapy"}, {ID: "s2", Name: "Vital checks"}}
	out := combine(live, fallback)
	require.Len(t, out, 2)
	assert.Equal(t, "x", out[0].ID)
	assert.Equal(t, "s2", out[1].ID)
}

func TestSplit(t *testing.T) {
	now := base.Add(2 * time.Hour)
	items := []model.Appointment{appt("a", 0), appt("b", 4), appt("now", 2), appt("c", 1), appt("d", 3)}
	upcoming, past := Split(items, now)
	assert.Equal(t, []string{"d", "b"}, ids(upcoming))
	assert.Equal(t, []string{"c", "a"}, ids(past))
	for _, a := range upcoming {
		assert.True(t, a.Start.After(now))
	}
	for _, a := range past {
		assert.True(t, a.Start.Before(now))
	}
}
