package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedulr/internal/identity"
	"schedulr/internal/model"
)

var me = &model.Identity{UID: "u1", DisplayName: "Jean"}

func TestPublicRoutesRenderInAnyState(t *testing.T) {
	r := New()
	for _, s := range []State{Unknown, Authenticated, Unauthenticated} {
		assert.Equal(t, Outcome{Kind: Render, Page: SignIn}, r.Route("/signin", s, nil))
		assert.Equal(t, Outcome{Kind: Render, Page: SignUp}, r.Route("/signup/", s, nil))
		assert.Equal(t, Outcome{Kind: Render, Page: NotFound}, r.Route("/not-found?x=1", s, nil))
	}
}

func TestUnknownHoldsProtectedRoutes(t *testing.T) {
	r := New()
	for _, p := range []string{"/", "/u1/dashboard", "/u1/ai-chat", "/u1"} {
		assert.Equal(t, Outcome{Kind: Hold}, r.Route(p, Unknown, nil), p)
	}
}

func TestUnauthenticatedNeverRendersProtected(t *testing.T) {
	r := New()
	for _, rt := range Routes {
		if !rt.Protected {
			continue
		}
		path := rt.Pattern
		if path != "/" {
			path = Path("u1", rt.Page)
		}
		out := r.Route(path, Unauthenticated, nil)
		assert.Equal(t, Redirect, out.Kind, path)
		assert.Equal(t, SignInPath, out.Location, path)
	}
	// an identity passed with the wrong state still does not render
	assert.Equal(t, Redirect, r.Route("/u1/people", Unauthenticated, me).Kind)
}

func TestAuthenticatedRoutes(t *testing.T) {
	r := New()
	assert.Equal(t, Outcome{Kind: Render, Page: Schedule, UID: "u1"}, r.Route("/u1/schedule", Authenticated, me))
	assert.Equal(t, Outcome{Kind: Redirect, Location: "/u1/dashboard"}, r.Route("/", Authenticated, me))
	assert.Equal(t, Outcome{Kind: Redirect, Location: "/u1/dashboard"}, r.Route("/u1", Authenticated, me))
	assert.Equal(t, Outcome{Kind: Redirect, Location: "/u1/people"}, r.Route("/someone-else/people", Authenticated, me))
}

func TestCatchAll(t *testing.T) {
	r := New()
	for _, p := range []string{"/u1/billing", "/a/b/c", "/u1/dashboard/extra"} {
		assert.Equal(t, Outcome{Kind: Redirect, Location: NotFoundPath}, r.Route(p, Authenticated, me), p)
		assert.Equal(t, Outcome{Kind: Redirect, Location: NotFoundPath}, r.Route(p, Unknown, nil), p)
	}
}

func TestGateTransitionsOnce(t *testing.T) {
	w := identity.NewWatcher()
	g := NewGate()
	g.Bind(w)

	s, _ := g.State()
	assert.Equal(t, Unknown, s)

	w.Set(me)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, id, err := g.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, Authenticated, s)
	assert.Equal(t, "u1", id.UID)

	w.Set(nil)
	s, _ = g.State()
	assert.Equal(t, Authenticated, s)
	assert.Equal(t, 0, w.Listeners())
}

func TestGateSettlesFromCurrentIdentity(t *testing.T) {
	w := identity.NewWatcher()
	w.Set(nil)
	g := NewGate()
	g.Bind(w)
	s, id := g.State()
	assert.Equal(t, Unauthenticated, s)
	assert.Nil(t, id)
	assert.Equal(t, 0, w.Listeners())
}

func TestGateWaitTimesOut(t *testing.T) {
	g := NewGate()
	g.Bind(identity.NewWatcher())
	defer g.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	s, _, err := g.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Unknown, s)
}
