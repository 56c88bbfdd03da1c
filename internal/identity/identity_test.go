package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedulr/internal/auth"
	"schedulr/internal/model"
	"schedulr/internal/store"
)

func newProvider() *Provider {
	return NewProvider(NewMemoryBackend(), "test-secret", time.Minute, time.Hour)
}

func TestSignUpSignIn(t *testing.T) {
	p := newProvider()
	ctx := context.Background()

	s, err := p.SignUp(ctx, " Jean.Myers@Example.com ", "secret1", "Jean Myers")
	require.NoError(t, err)
	assert.Equal(t, "jean.myers@example.com", s.Identity.Email)
	assert.NotEmpty(t, s.AccessToken)
	assert.NotEmpty(t, s.RefreshToken)

	id, err := p.Verify(s.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, s.Identity, id)

	_, err = p.SignUp(ctx, "jean.myers@example.com", "secret2", "Other")
	assert.ErrorIs(t, err, ErrEmailTaken)

	in, err := p.SignIn(ctx, "JEAN.MYERS@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, s.Identity.UID, in.Identity.UID)

	_, err = p.SignIn(ctx, "jean.myers@example.com", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = p.SignIn(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignUpValidation(t *testing.T) {
	p := newProvider()
	_, err := p.SignUp(context.Background(), "a@b.c", "", "A")
	assert.ErrorIs(t, err, ErrMissingFields)
	_, err = p.SignUp(context.Background(), "a@b.c", "abc", "A")
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	p := newProvider()
	ctx := context.Background()
	s, err := p.SignUp(ctx, "ross@example.com", "secret1", "Ross Geller")
	require.NoError(t, err)

	next, err := p.Refresh(ctx, s.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, s.RefreshToken, next.RefreshToken)

	// the first token was rotated away; using it again kills the family
	_, err = p.Refresh(ctx, s.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionExpired)
	_, err = p.Refresh(ctx, next.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

// lookupBarrier holds token lookups until n callers have read the same row.
type lookupBarrier struct {
	*MemoryBackend
	wg *sync.WaitGroup
}

func (b lookupBarrier) GetRefreshTokenByHash(ctx context.Context, hash string) (*store.RefreshToken, error) {
	rt, err := b.MemoryBackend.GetRefreshTokenByHash(ctx, hash)
	b.wg.Done()
	b.wg.Wait()
	return rt, err
}

func TestRefreshConcurrentReuse(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	s, err := NewProvider(mem, "test-secret", time.Minute, time.Hour).SignUp(ctx, "ross@example.com", "secret1", "Ross Geller")
	require.NoError(t, err)

	var barrier sync.WaitGroup
	barrier.Add(2)
	p := NewProvider(lookupBarrier{MemoryBackend: mem, wg: &barrier}, "test-secret", time.Minute, time.Hour)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		won  []Session
		errs []error
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next, err := p.Refresh(ctx, s.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			won = append(won, next)
		}()
	}
	wg.Wait()

	require.Len(t, won, 1)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrSessionExpired)

	// the losing exchange revoked the family, winner included
	rt, err := mem.GetRefreshTokenByHash(ctx, auth.HashRefreshToken(won[0].RefreshToken))
	require.NoError(t, err)
	assert.True(t, rt.Revoked)
}

func TestSignOutRevokes(t *testing.T) {
	p := newProvider()
	ctx := context.Background()
	s, err := p.SignUp(ctx, "stacy@example.com", "secret1", "Stacy Moore")
	require.NoError(t, err)

	require.NoError(t, p.SignOut(ctx, s.Identity.UID))
	_, err = p.Refresh(ctx, s.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.ErrorIs(t, p.SignOut(ctx, ""), ErrUnauthenticated)
}

func TestUpdateProfile(t *testing.T) {
	p := newProvider()
	ctx := context.Background()
	s, err := p.SignUp(ctx, "ellis@example.com", "secret1", "Ellis Perry")
	require.NoError(t, err)

	name := "Ellis P."
	prefs := model.DefaultPreferences()
	prefs.Currency = "EUR"
	id, err := p.UpdateProfile(ctx, s.Identity.UID, model.Profile{DisplayName: &name, Preferences: &prefs})
	require.NoError(t, err)
	assert.Equal(t, "Ellis P.", id.DisplayName)
	assert.Equal(t, "ellis@example.com", id.Email)

	u, err := p.Profile(ctx, s.Identity.UID)
	require.NoError(t, err)
	assert.Equal(t, "EUR", u.Preferences.Currency)

	blank := " "
	_, err = p.UpdateProfile(ctx, s.Identity.UID, model.Profile{DisplayName: &blank})
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := newProvider().Verify("not-a-token")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestWatcherReplaysCurrent(t *testing.T) {
	w := NewWatcher()
	var got []*model.Identity
	var mu sync.Mutex
	record := func(id *model.Identity) {
		mu.Lock()
		got = append(got, id)
		mu.Unlock()
	}

	unsub := w.Subscribe(record)
	mu.Lock()
	assert.Empty(t, got, "nothing before the first event")
	mu.Unlock()

	w.Set(&model.Identity{UID: "u1"})
	w.Set(nil)
	unsub()
	w.Set(&model.Identity{UID: "u2"})

	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].UID)
	assert.Nil(t, got[1])

	var late *model.Identity
	w.Subscribe(func(id *model.Identity) { late = id })
	require.NotNil(t, late)
	assert.Equal(t, "u2", late.UID)
	assert.Equal(t, 1, w.Listeners())
}

func TestWatcherUnsubscribeInsideListener(t *testing.T) {
	w := NewWatcher()
	calls := 0
	var unsub func()
	unsub = w.Subscribe(func(*model.Identity) {
		calls++
		unsub()
	})
	w.Set(nil)
	w.Set(&model.Identity{UID: "u1"})
	assert.Equal(t, 1, calls)
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
	ctx := ContextWithIdentity(context.Background(), model.Identity{UID: "u1"})
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", id.UID)
}
