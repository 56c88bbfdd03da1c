package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"schedulr/internal/identity"
	"schedulr/internal/logging"
	"schedulr/internal/model"
	"schedulr/internal/pages"
	"schedulr/internal/router"
)

// maxRedirects bounds redirect chains for one open.
const maxRedirects = 4

// signer is implemented by the sign-in and sign-up pages.
type signer interface {
	Session() (identity.Session, bool)
}

// Session is one connected browser. All state is owned by the run goroutine.
type Session struct {
	srv  *Server
	conn Conn
	id   string
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	watcher *identity.Watcher
	gate    *router.Gate
	idents  chan *model.Identity
	dirty   chan struct{}

	current *model.Identity

	path   string
	page   router.Page
	uid    string
	comp   pages.Component
	ready  *atomic.Bool
	holdOn bool

	// stopMount ends the current mount's readiness wait.
	stopMount context.CancelFunc
	waits     sync.WaitGroup
}

func newSession(srv *Server, conn Conn) *Session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		srv:     srv,
		conn:    conn,
		id:      id,
		log:     srv.log.With().Str(logging.SESSION, id).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		watcher: identity.NewWatcher(),
		gate:    router.NewGate(),
		idents:  make(chan *model.Identity, 16),
		dirty:   make(chan struct{}, 1),
	}
}

func (s *Session) run() {
	defer s.cancel()

	inbound := make(chan *Inbound)
	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		for {
			raw, err := s.conn.Recv()
			if err != nil {
				return
			}
			var msg Inbound
			if err := json.Unmarshal([]byte(raw), &msg); err != nil {
				s.log.Debug().Err(err).Msg("bad message")
				continue
			}
			select {
			case inbound <- &msg:
			case <-s.ctx.Done():
				return
			}
		}
	}()

	unsub := s.watcher.Subscribe(func(id *model.Identity) {
		select {
		case s.idents <- id:
		case <-s.ctx.Done():
		}
	})
	s.gate.Bind(s.watcher)
	defer func() {
		unsub()
		s.gate.Close()
		s.unmount()
		s.log.Debug().Msg("session closed")
	}()

	go s.authenticate(requestToken(s.conn.Request()))

	settled := s.gate.Settled()
	for {
		select {
		case <-recvDone:
			return
		case msg := <-inbound:
			s.handle(msg)
		case id := <-s.idents:
			s.identityChanged(id)
		case <-settled:
			settled = nil
			if s.holdOn {
				s.open(s.path)
			}
		case <-s.dirty:
			s.pushView()
		}
	}
}

// authenticate publishes the identity for token; an empty or bad token
// signs the session out.
func (s *Session) authenticate(token string) {
	if token == "" || s.srv.verifier == nil {
		s.watcher.Set(nil)
		return
	}
	id, err := s.srv.verifier.Verify(token)
	if err != nil {
		s.log.Debug().Err(err).Msg("token rejected")
		s.watcher.Set(nil)
		return
	}
	s.watcher.Set(&id)
}

func (s *Session) send(m Outbound) {
	raw, err := json.Marshal(m)
	if err != nil {
		s.log.Error().Err(err).Str(logging.EVENT, m.Type).Msg("encode")
		return
	}
	if err := s.conn.Send(string(raw)); err != nil {
		s.log.Debug().Err(err).Str(logging.EVENT, m.Type).Msg("send")
	}
}

func (s *Session) sendError(ref string, err error) {
	s.send(Outbound{Type: MsgError, Ref: ref, Error: err.Error()})
}

func (s *Session) handle(msg *Inbound) {
	switch msg.Type {
	case MsgAuth:
		go s.authenticate(msg.Token)
	case MsgSignOut:
		// listeners feed this goroutine, so publish from another one
		go s.watcher.Set(nil)
	case MsgOpen:
		s.open(msg.Path)
	case MsgClose:
		s.unmount()
		s.path = ""
		s.holdOn = false
	case MsgCommand:
		s.command(msg)
	default:
		s.sendError(msg.Ref, errors.New("unknown message type "+msg.Type))
	}
}

// state derives the routing state. The gate only answers the first question;
// after it settles the watcher's latest identity decides.
func (s *Session) state() (router.State, *model.Identity) {
	select {
	case <-s.gate.Settled():
	default:
		return router.Unknown, nil
	}
	id, _ := s.watcher.Current()
	if id == nil {
		return router.Unauthenticated, nil
	}
	return router.Authenticated, id
}

func (s *Session) identityChanged(id *model.Identity) {
	msg := Outbound{Type: MsgIdentity, Identity: id}
	// a profile edit keeps the uid; the old token still carries stale claims
	if prev := s.current; prev != nil && id != nil && prev.UID == id.UID && *prev != *id && s.srv.verifier != nil {
		tok, err := s.srv.verifier.Token(*id)
		if err != nil {
			s.log.Error().Err(err).Str(logging.UID, id.UID).Msg("reissue token")
		}
		msg.AccessToken = tok
	}
	s.current = id
	s.send(msg)
	if s.path != "" {
		s.open(s.path)
	}
}

func (s *Session) open(path string) {
	for range maxRedirects {
		state, id := s.state()
		out := s.srv.router.Route(path, state, id)
		switch out.Kind {
		case router.Hold:
			s.unmount()
			s.path, s.holdOn = path, true
			s.send(Outbound{Type: MsgHold, Path: path})
			return
		case router.Redirect:
			s.send(Outbound{Type: MsgRedirect, Path: path, Location: out.Location})
			path = out.Location
			continue
		}
		s.path, s.holdOn = path, false
		if s.comp != nil && s.page == out.Page && s.uid == out.UID {
			s.pushView()
			return
		}
		s.mount(out.Page, out.UID, id)
		return
	}
	s.log.Warn().Str("path", path).Msg("redirect loop")
	s.sendError("", errors.New("too many redirects"))
}

func (s *Session) mount(page router.Page, uid string, id *model.Identity) {
	s.unmount()
	deps := s.srv.deps
	deps.Watcher = s.watcher
	comp, err := pages.New(page, deps)
	if err != nil {
		s.sendError("", err)
		return
	}

	ctx, stop := context.WithCancel(s.ctx)
	if id != nil {
		ctx = identity.ContextWithIdentity(ctx, *id)
	}
	ready := &atomic.Bool{}
	s.comp, s.page, s.uid, s.ready, s.stopMount = comp, page, uid, ready, stop
	comp.Mount(ctx, id, s.markDirty)
	s.log.Debug().Str(logging.PAGE, string(page)).Msg("mounted")

	s.waits.Add(1)
	go func() {
		defer s.waits.Done()
		wctx, cancel := context.WithTimeout(ctx, s.srv.viewWait)
		defer cancel()
		if err := comp.Wait(wctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Debug().Err(err).Str(logging.PAGE, string(page)).Msg("view not ready in time")
		}
		ready.Store(true)
		s.markDirty()
	}()
	s.pushView()
}

func (s *Session) unmount() {
	if s.comp == nil {
		return
	}
	s.stopMount()
	s.comp.Unmount()
	s.comp, s.page, s.uid, s.ready, s.stopMount = nil, "", "", nil, nil
}

// markDirty coalesces change notifications into one pending push.
func (s *Session) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Session) pushView() {
	if s.comp == nil {
		return
	}
	s.send(Outbound{
		Type:  MsgView,
		Path:  s.path,
		Page:  s.page,
		Ready: s.ready.Load(),
		View:  s.comp.View(),
	})
}

func (s *Session) command(msg *Inbound) {
	if s.comp == nil {
		s.sendError(msg.Ref, pages.ErrNotMounted)
		return
	}
	h, ok := s.comp.(pages.Handler)
	if !ok {
		s.sendError(msg.Ref, pages.ErrUnknownCommand)
		return
	}
	if err := h.Handle(s.ctx, msg.Command, msg.Args); err != nil {
		s.sendError(msg.Ref, err)
		s.pushView()
		return
	}
	s.send(Outbound{Type: MsgAck, Ref: msg.Ref})

	if sg, ok := s.comp.(signer); ok {
		if sess, ok := sg.Session(); ok {
			id := sess.Identity
			s.send(Outbound{
				Type:         MsgSession,
				Identity:     &id,
				AccessToken:  sess.AccessToken,
				RefreshToken: sess.RefreshToken,
			})
			// the identity event reroutes; move off the auth page first
			next := router.Path(id.UID, router.Dashboard)
			s.send(Outbound{Type: MsgRedirect, Path: s.path, Location: next})
			s.path = next
			go s.watcher.Set(&id)
			return
		}
	}
	s.pushView()
}
