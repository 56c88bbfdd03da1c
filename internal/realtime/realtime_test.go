package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedulr/internal/auth"
	"schedulr/internal/demo"
	"schedulr/internal/docstore"
	"schedulr/internal/identity"
	"schedulr/internal/model"
	"schedulr/internal/pages"
	"schedulr/internal/router"
)

type received struct {
	Outbound
	View json.RawMessage `json:"view,omitempty"`
}

type fakeConn struct {
	req *http.Request
	in  chan string
	out chan received
}

func newConn(token string) *fakeConn {
	req := httptest.NewRequest(http.MethodGet, Prefix+"/websocket", nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: auth.AccessCookie, Value: token})
	}
	return &fakeConn{req: req, in: make(chan string, 8), out: make(chan received, 256)}
}

func (c *fakeConn) Request() *http.Request { return c.req }

func (c *fakeConn) Recv() (string, error) {
	msg, ok := <-c.in
	if !ok {
		return "", errors.New("closed")
	}
	return msg, nil
}

func (c *fakeConn) Send(raw string) error {
	var m received
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return err
	}
	select {
	case c.out <- m:
	default:
	}
	return nil
}

func (c *fakeConn) Close(uint32, string) error { return nil }

func (c *fakeConn) write(t *testing.T, m Inbound) {
	t.Helper()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	c.in <- string(raw)
}

// expect skips messages until one matches.
func (c *fakeConn) expect(t *testing.T, match func(received) bool) received {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case m := <-c.out:
			if match(m) {
				return m
			}
		case <-timeout:
			t.Fatal("expected message never arrived")
			return received{}
		}
	}
}

func ofType(typ string) func(received) bool {
	return func(m received) bool { return m.Type == typ }
}

func viewOf(page router.Page) func(received) bool {
	return func(m received) bool { return m.Type == MsgView && m.Page == page }
}

func setup(t *testing.T) (*Server, *identity.Provider, string) {
	t.Helper()
	st := docstore.NewMemory(nil)
	t.Cleanup(st.Close)
	prov := identity.NewProvider(identity.NewMemoryBackend(), "rt-secret", time.Minute, time.Hour)
	s, err := prov.SignUp(context.Background(), "jean@example.com", "secret1", "Jean Myers")
	require.NoError(t, err)

	deps := pages.Deps{
		Store:    st,
		Accounts: prov,
		Demo:     demo.MustLoad(time.UTC),
		Location: time.UTC,
	}
	return NewServer(deps, prov, nil, time.Second), prov, s.AccessToken
}

func serve(t *testing.T, srv *Server, conn *fakeConn) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(conn)
	}()
	t.Cleanup(func() {
		close(conn.in)
		<-done
	})
}

func TestSignedOutIsSentToSignIn(t *testing.T) {
	srv, _, _ := setup(t)
	conn := newConn("")
	serve(t, srv, conn)

	conn.write(t, Inbound{Type: MsgOpen, Path: "/abc/schedule"})
	m := conn.expect(t, ofType(MsgRedirect))
	assert.Equal(t, router.SignInPath, m.Location)
	conn.expect(t, viewOf(router.SignIn))
}

func TestCookieTokenRendersOwnDashboard(t *testing.T) {
	srv, prov, token := setup(t)
	id, err := prov.Verify(token)
	require.NoError(t, err)

	conn := newConn(token)
	serve(t, srv, conn)

	m := conn.expect(t, ofType(MsgIdentity))
	require.NotNil(t, m.Identity)
	assert.Equal(t, id.UID, m.Identity.UID)

	conn.write(t, Inbound{Type: MsgOpen, Path: "/"})
	m = conn.expect(t, ofType(MsgRedirect))
	assert.Equal(t, router.Path(id.UID, router.Dashboard), m.Location)

	m = conn.expect(t, func(m received) bool { return m.Type == MsgView && m.Page == router.Dashboard && m.Ready })
	var view pages.DashboardView
	require.NoError(t, json.Unmarshal(m.View, &view))
	assert.Len(t, view.Services, 5)

	conn.write(t, Inbound{Type: MsgOpen, Path: "/someone-else/people"})
	m = conn.expect(t, ofType(MsgRedirect))
	assert.Equal(t, router.Path(id.UID, router.People), m.Location)
	conn.expect(t, viewOf(router.People))
}

func TestCommandErrorsCarryRef(t *testing.T) {
	srv, _, token := setup(t)
	conn := newConn(token)
	serve(t, srv, conn)

	conn.write(t, Inbound{Type: MsgCommand, Ref: "r0", Command: "tab"})
	m := conn.expect(t, ofType(MsgError))
	assert.Equal(t, "r0", m.Ref)

	conn.write(t, Inbound{Type: MsgOpen, Path: "/x/schedule"})
	conn.expect(t, viewOf(router.Schedule))

	args, _ := json.Marshal(map[string]string{"tab": "someday"})
	conn.write(t, Inbound{Type: MsgCommand, Ref: "r1", Command: "tab", Args: args})
	m = conn.expect(t, ofType(MsgError))
	assert.Equal(t, "r1", m.Ref)

	args, _ = json.Marshal(map[string]string{"tab": "past"})
	conn.write(t, Inbound{Type: MsgCommand, Ref: "r2", Command: "tab", Args: args})
	m = conn.expect(t, ofType(MsgAck))
	assert.Equal(t, "r2", m.Ref)
	m = conn.expect(t, viewOf(router.Schedule))
	var view pages.ScheduleView
	require.NoError(t, json.Unmarshal(m.View, &view))
	assert.Equal(t, pages.TabPast, view.Tab)
}

func TestSignInThenSignOut(t *testing.T) {
	srv, prov, token := setup(t)
	id, err := prov.Verify(token)
	require.NoError(t, err)

	conn := newConn("")
	serve(t, srv, conn)
	conn.write(t, Inbound{Type: MsgOpen, Path: router.SignInPath})
	conn.expect(t, viewOf(router.SignIn))

	args, _ := json.Marshal(pages.SignInForm{Email: "jean@example.com", Password: "secret1"})
	conn.write(t, Inbound{Type: MsgCommand, Ref: "login", Command: "submit", Args: args})

	m := conn.expect(t, ofType(MsgSession))
	assert.NotEmpty(t, m.AccessToken)
	require.NotNil(t, m.Identity)
	assert.Equal(t, id.UID, m.Identity.UID)

	// the refresh token issued for the sign-in is handed over and usable
	require.NotEmpty(t, m.RefreshToken)
	next, err := prov.Refresh(context.Background(), m.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, id.UID, next.Identity.UID)
	conn.expect(t, viewOf(router.Dashboard))

	conn.write(t, Inbound{Type: MsgSignOut})
	conn.expect(t, func(m received) bool { return m.Type == MsgIdentity && m.Identity == nil })
	m = conn.expect(t, ofType(MsgRedirect))
	assert.Equal(t, router.SignInPath, m.Location)
	conn.expect(t, viewOf(router.SignIn))
}

func TestProfileSaveReissuesToken(t *testing.T) {
	srv, prov, token := setup(t)
	conn := newConn(token)
	serve(t, srv, conn)
	m := conn.expect(t, func(m received) bool { return m.Type == MsgIdentity && m.Identity != nil })
	assert.Empty(t, m.AccessToken)
	uid := m.Identity.UID

	conn.write(t, Inbound{Type: MsgOpen, Path: router.Path(uid, router.Settings)})
	conn.expect(t, viewOf(router.Settings))

	args, _ := json.Marshal(pages.SettingsForm{
		DisplayName: "Jean M.",
		Email:       "jean@example.com",
		Preferences: model.DefaultPreferences(),
	})
	conn.write(t, Inbound{Type: MsgCommand, Ref: "s1", Command: "save", Args: args})

	m = conn.expect(t, func(m received) bool {
		return m.Type == MsgIdentity && m.Identity != nil && m.Identity.DisplayName == "Jean M."
	})
	require.NotEmpty(t, m.AccessToken)
	id, err := prov.Verify(m.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "Jean M.", id.DisplayName)
	assert.Equal(t, uid, id.UID)
}

func TestAuthMessageSignsIn(t *testing.T) {
	srv, _, token := setup(t)
	conn := newConn("")
	serve(t, srv, conn)
	conn.expect(t, func(m received) bool { return m.Type == MsgIdentity && m.Identity == nil })

	conn.write(t, Inbound{Type: MsgAuth, Token: token})
	m := conn.expect(t, func(m received) bool { return m.Type == MsgIdentity && m.Identity != nil })
	assert.Equal(t, "jean@example.com", m.Identity.Email)
}

// silentStore accepts subscriptions but never delivers a snapshot.
type silentStore struct{ *docstore.Memory }

func (silentStore) Subscribe(context.Context, string, docstore.Filter, docstore.SnapshotFunc, docstore.ErrorFunc) (docstore.Unsubscribe, error) {
	return func() {}, nil
}

func TestUnmountEndsReadinessWait(t *testing.T) {
	mem := docstore.NewMemory(nil)
	t.Cleanup(mem.Close)
	deps := pages.Deps{
		Store:    silentStore{mem},
		Demo:     demo.MustLoad(time.UTC),
		Location: time.UTC,
	}
	srv := NewServer(deps, identity.NewProvider(identity.NewMemoryBackend(), "rt-secret", time.Minute, time.Hour), nil, time.Hour)
	sess := newSession(srv, newConn(""))
	defer sess.cancel()

	id := model.Identity{UID: "u1", Email: "jean@example.com"}
	sess.mount(router.Dashboard, id.UID, &id)
	require.NotNil(t, sess.comp)
	sess.unmount()

	done := make(chan struct{})
	go func() {
		sess.waits.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("readiness wait outlived the mount")
	}
}

func TestRequestToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/realtime/info?token=q", nil)
	assert.Equal(t, "q", requestToken(req))
	req.AddCookie(&http.Cookie{Name: auth.AccessCookie, Value: "c"})
	assert.Equal(t, "c", requestToken(req))
	assert.Empty(t, requestToken(nil))
}
