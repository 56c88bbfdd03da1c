package identity

import (
	"sync"
	"sync/atomic"

	"schedulr/internal/model"
)

// Listener receives the current identity, nil when signed out.
type Listener func(*model.Identity)

// Watcher is an identity-change stream. Nothing is emitted until the first
// Set; a listener added after that immediately receives the current identity.
// Listeners must not call Set.
type Watcher struct {
	mu      sync.Mutex
	version uint64
	current *model.Identity
	subs    map[uint64]*listener
	nextID  uint64
}

type listener struct {
	mu      sync.Mutex
	fn      Listener
	last    uint64
	stopped atomic.Bool
}

func NewWatcher() *Watcher {
	return &Watcher{subs: make(map[uint64]*listener)}
}

func (w *Watcher) Subscribe(fn Listener) (unsubscribe func()) {
	l := &listener{fn: fn}
	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.subs[id] = l
	version, cur := w.version, w.current
	w.mu.Unlock()

	if version > 0 {
		l.deliver(version, cur)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.stopped.Store(true)
			w.mu.Lock()
			delete(w.subs, id)
			w.mu.Unlock()
		})
	}
}

// Set publishes a new identity. nil means signed out.
func (w *Watcher) Set(id *model.Identity) {
	var cp *model.Identity
	if id != nil {
		v := *id
		cp = &v
	}
	w.mu.Lock()
	w.version++
	w.current = cp
	version := w.version
	subs := make([]*listener, 0, len(w.subs))
	for _, l := range w.subs {
		subs = append(subs, l)
	}
	w.mu.Unlock()

	for _, l := range subs {
		l.deliver(version, cp)
	}
}

// Current returns the latest identity and whether any event was emitted yet.
func (w *Watcher) Current() (*model.Identity, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil, w.version > 0
	}
	v := *w.current
	return &v, true
}

func (w *Watcher) Listeners() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

// deliver drops events older than the last one delivered to this listener.
func (l *listener) deliver(version uint64, id *model.Identity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped.Load() || version <= l.last {
		return
	}
	l.last = version
	var cp *model.Identity
	if id != nil {
		v := *id
		cp = &v
	}
	l.fn(cp)
}
