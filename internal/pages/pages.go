// Package pages holds the server-side state of every screen. A component is
// mounted for one identity, pushes change notifications while mounted, and
// drops the results of anything that finishes after it is unmounted.
package pages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"schedulr/internal/demo"
	"schedulr/internal/docstore"
	"schedulr/internal/identity"
	"schedulr/internal/logging"
	"schedulr/internal/metrics"
	"schedulr/internal/model"
	"schedulr/internal/router"
	"schedulr/internal/textgen"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUnknownPage    = errors.New("unknown page")
	ErrReadOnly       = errors.New("demo records cannot be edited")
	ErrNotMounted     = errors.New("page is not mounted")
	ErrBadArgs        = errors.New("bad command arguments")
)

// Notify tells the owner of a mounted page that View changed.
type Notify func()

type Component interface {
	Mount(ctx context.Context, id *model.Identity, notify Notify)
	// Wait blocks until the first data for the view has arrived.
	Wait(ctx context.Context) error
	View() any
	Unmount()
}

// Handler is implemented by pages that accept commands.
type Handler interface {
	Handle(ctx context.Context, command string, args json.RawMessage) error
}

// Flusher waits for fire-and-forget work started by Handle.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Accounts is the part of the identity provider pages call into.
type Accounts interface {
	SignIn(ctx context.Context, email, password string) (identity.Session, error)
	SignUp(ctx context.Context, email, password, displayName string) (identity.Session, error)
	Profile(ctx context.Context, uid string) (*model.User, error)
	UpdateProfile(ctx context.Context, uid string, prof model.Profile) (model.Identity, error)
}

type Deps struct {
	Store     docstore.Store
	Accounts  Accounts
	Generator textgen.Generator
	Demo      *demo.Data
	Metrics   *metrics.Metrics
	// Watcher, when set, receives identities changed by the settings page.
	Watcher  *identity.Watcher
	Now      func() time.Time
	Location *time.Location
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) loc() *time.Location {
	if d.Location != nil {
		return d.Location
	}
	return time.Local
}

// New builds the component for p.
func New(p router.Page, deps Deps) (Component, error) {
	switch p {
	case router.Dashboard:
		return NewDashboard(deps), nil
	case router.Schedule:
		return NewSchedule(deps), nil
	case router.People:
		return NewPeople(deps), nil
	case router.Analytics:
		return NewAnalytics(deps), nil
	case router.Settings:
		return NewSettings(deps), nil
	case router.Chat:
		return NewChat(deps), nil
	case router.Appointment:
		return NewWizard(deps), nil
	case router.SignIn:
		return NewSignIn(deps), nil
	case router.SignUp:
		return NewSignUp(deps), nil
	case router.NotFound:
		return &notFound{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownPage, p)
}

type waiter interface {
	Wait(ctx context.Context) error
	Close()
}

// base carries the mount lifecycle shared by every page.
type base struct {
	deps Deps
	log  zerolog.Logger
	page router.Page

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	id      *model.Identity
	notify  Notify
	mounted bool
	mountN  uint64

	queries  []waiter
	inflight sync.WaitGroup
}

func newBase(deps Deps, page router.Page) base {
	return base{
		deps: deps,
		page: page,
		log:  logging.For("pages").With().Str(logging.PAGE, string(page)).Logger(),
	}
}

func (b *base) mount(ctx context.Context, id *model.Identity, notify Notify) context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.id = id
	b.notify = notify
	b.mounted = true
	b.mountN++
	return b.ctx
}

func (b *base) watch(q waiter) {
	b.mu.Lock()
	b.queries = append(b.queries, q)
	b.mu.Unlock()
}

func (b *base) Unmount() {
	b.mu.Lock()
	if !b.mounted {
		b.mu.Unlock()
		return
	}
	b.mounted = false
	b.mountN++
	qs := b.queries
	b.queries = nil
	cancel := b.cancel
	b.mu.Unlock()

	for _, q := range qs {
		q.Close()
	}
	if cancel != nil {
		cancel()
	}
}

func (b *base) Wait(ctx context.Context) error {
	b.mu.Lock()
	qs := append([]waiter(nil), b.queries...)
	b.mu.Unlock()
	for _, q := range qs {
		if err := q.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (b *base) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *base) identity() *model.Identity {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.id
}

func (b *base) uid() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.mounted {
		return "", ErrNotMounted
	}
	if b.id == nil || b.id.UID == "" {
		return "", identity.ErrUnauthenticated
	}
	return b.id.UID, nil
}

// changed forwards to the owner's Notify while mounted.
func (b *base) changed() {
	b.mu.Lock()
	n, ok := b.notify, b.mounted
	b.mu.Unlock()
	if ok && n != nil {
		n()
	}
}

// async runs fn without cancellation. done runs under b.mu, and only if the
// page is still on the same mount when fn returns.
func (b *base) async(op string, fn func(ctx context.Context) error, done func(err error)) {
	b.mu.Lock()
	if !b.mounted {
		b.mu.Unlock()
		return
	}
	ctx := context.WithoutCancel(b.ctx)
	mount := b.mountN
	b.inflight.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.inflight.Done()
		err := fn(ctx)

		b.mu.Lock()
		if !b.mounted || b.mountN != mount {
			b.mu.Unlock()
			b.log.Debug().Str(logging.OP, op).Err(err).Msg("result discarded after unmount")
			return
		}
		done(err)
		b.mu.Unlock()
		b.changed()
	}()
}

// write is a fire-and-forget create or update. Errors are logged and counted.
func (b *base) write(collection, op string, fn func(ctx context.Context) error, done func(err error)) {
	b.async(op, func(ctx context.Context) error {
		err := fn(ctx)
		b.deps.Metrics.Write(collection, op, err)
		if err != nil {
			b.log.Error().Err(err).Str(logging.COLLECTION, collection).Str(logging.OP, op).Msg("write failed")
		}
		return err
	}, done)
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadArgs, err)
	}
	return nil
}

type notFound struct{}

func (*notFound) Mount(context.Context, *model.Identity, Notify) {}
func (*notFound) Wait(context.Context) error                     { return nil }
func (*notFound) Unmount()                                       {}
func (*notFound) View() any {
	return map[string]string{"title": "Page not found", "home": "/"}
}
