package router

import (
	"context"
	"sync"

	"schedulr/internal/identity"
	"schedulr/internal/model"
)

type State int

const (
	Unknown State = iota
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Gate leaves Unknown exactly once, on the first identity event after it is
// bound. Later events do not move it; a new mount needs a new Gate.
type Gate struct {
	mu      sync.Mutex
	state   State
	id      *model.Identity
	settled chan struct{}
	stop    func()
}

func NewGate() *Gate {
	return &Gate{settled: make(chan struct{})}
}

func (g *Gate) Bind(w *identity.Watcher) {
	stop := w.Subscribe(g.observe)
	g.mu.Lock()
	if g.state != Unknown {
		g.mu.Unlock()
		stop()
		return
	}
	g.stop = stop
	g.mu.Unlock()
}

func (g *Gate) observe(id *model.Identity) {
	g.mu.Lock()
	if g.state != Unknown {
		g.mu.Unlock()
		return
	}
	if id != nil && id.UID != "" {
		g.state = Authenticated
		g.id = id
	} else {
		g.state = Unauthenticated
	}
	stop := g.stop
	g.stop = nil
	g.mu.Unlock()

	close(g.settled)
	if stop != nil {
		stop()
	}
}

func (g *Gate) State() (State, *model.Identity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, g.id
}

// Settled is closed when the gate leaves Unknown.
func (g *Gate) Settled() <-chan struct{} { return g.settled }

func (g *Gate) Wait(ctx context.Context) (State, *model.Identity, error) {
	select {
	case <-g.settled:
		s, id := g.State()
		return s, id, nil
	case <-ctx.Done():
		return Unknown, nil, ctx.Err()
	}
}

func (g *Gate) Close() {
	g.mu.Lock()
	stop := g.stop
	g.stop = nil
	g.mu.Unlock()
	if stop != nil {
		stop()
	}
}
