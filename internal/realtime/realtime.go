// Package realtime serves the app over SockJS. Each connection is a session
// with its own identity stream and at most one mounted page; views are pushed
// whenever the page reports a change.
package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/igm/sockjs-go/sockjs"
	"github.com/rs/zerolog"

	"schedulr/internal/auth"
	"schedulr/internal/logging"
	"schedulr/internal/metrics"
	"schedulr/internal/model"
	"schedulr/internal/pages"
	"schedulr/internal/router"
)

// Prefix is where the SockJS endpoint is mounted.
const Prefix = "/realtime"

// inbound message types
const (
	MsgAuth    = "auth"
	MsgSignOut = "signout"
	MsgOpen    = "open"
	MsgClose   = "close"
	MsgCommand = "command"
)

// outbound message types
const (
	MsgView     = "view"
	MsgHold     = "hold"
	MsgRedirect = "redirect"
	MsgIdentity = "identity"
	MsgSession  = "session"
	MsgAck      = "ack"
	MsgError    = "error"
)

// Inbound is a message from the browser.
type Inbound struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Token   string          `json:"token,omitempty"`
	Path    string          `json:"path,omitempty"`
	Command string          `json:"command,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Outbound is a message to the browser.
type Outbound struct {
	Type        string          `json:"type"`
	Ref         string          `json:"ref,omitempty"`
	Path        string          `json:"path,omitempty"`
	Page        router.Page     `json:"page,omitempty"`
	Location    string          `json:"location,omitempty"`
	Ready       bool            `json:"ready,omitempty"`
	View        any             `json:"view,omitempty"`
	Identity    *model.Identity `json:"identity,omitempty"`
	AccessToken string          `json:"accessToken,omitempty"`
	// RefreshToken is only set on session messages. The browser exchanges
	// it at /api/auth/refresh, which moves it into the refresh cookie.
	RefreshToken string `json:"refreshToken,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Conn is the part of a SockJS session a Session uses.
type Conn interface {
	Request() *http.Request
	Recv() (string, error)
	Send(string) error
	Close(status uint32, reason string) error
}

// Verifier checks access tokens and mints new ones when a profile changes.
type Verifier interface {
	Verify(token string) (model.Identity, error)
	Token(id model.Identity) (string, error)
}

type Server struct {
	deps     pages.Deps
	verifier Verifier
	router   *router.Router
	metrics  *metrics.Metrics
	viewWait time.Duration
	log      zerolog.Logger
}

// NewServer builds sessions from deps. viewWait bounds how long a freshly
// mounted page is given to load before its view is marked ready anyway.
func NewServer(deps pages.Deps, v Verifier, m *metrics.Metrics, viewWait time.Duration) *Server {
	if viewWait <= 0 {
		viewWait = 2 * time.Second
	}
	return &Server{
		deps:     deps,
		verifier: v,
		router:   router.New(),
		metrics:  m,
		viewWait: viewWait,
		log:      logging.For("realtime"),
	}
}

// Handler returns the SockJS handler. Mount it at Prefix + "/".
func (s *Server) Handler() http.Handler {
	return sockjs.NewHandler(Prefix, sockjs.DefaultOptions, func(sess sockjs.Session) {
		s.Serve(sess)
	})
}

// Serve runs a session until the connection closes.
func (s *Server) Serve(conn Conn) {
	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()
	newSession(s, conn).run()
}

// requestToken reads the access token from the cookie or the token query
// parameter.
func requestToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	if c, err := r.Cookie(auth.AccessCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}
