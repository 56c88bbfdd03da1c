// Package httpapi is the JSON surface: account endpoints, route resolution and
// one-shot page views and commands.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"schedulr/internal/auth"
	"schedulr/internal/docstore"
	"schedulr/internal/identity"
	"schedulr/internal/logging"
	"schedulr/internal/metrics"
	"schedulr/internal/middleware"
	"schedulr/internal/model"
	"schedulr/internal/pages"
	"schedulr/internal/router"
)

// Accounts is the identity provider as used over HTTP.
type Accounts interface {
	pages.Accounts
	SignOut(ctx context.Context, uid string) error
	Refresh(ctx context.Context, raw string) (identity.Session, error)
	Verify(token string) (model.Identity, error)
	Reissue(id model.Identity) (identity.Session, error)
}

type Options struct {
	SecureCookies bool
	RefreshTTL    time.Duration
	// ViewWait bounds how long a page view waits for its first data.
	ViewWait time.Duration
	// Limit, when set, wraps the /api/ subtree. Health, metrics and the
	// realtime transports are never throttled.
	Limit func(http.Handler) http.Handler
}

type Handler struct {
	accounts Accounts
	deps     pages.Deps
	router   *router.Router
	metrics  *metrics.Metrics
	opts     Options
	log      zerolog.Logger
}

func NewHandler(accounts Accounts, deps pages.Deps, m *metrics.Metrics, opts Options) *Handler {
	if opts.ViewWait <= 0 {
		opts.ViewWait = 2 * time.Second
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 7 * 24 * time.Hour
	}
	return &Handler{
		accounts: accounts,
		deps:     deps,
		router:   router.New(),
		metrics:  m,
		opts:     opts,
		log:      logging.For("httpapi"),
	}
}

func (h *Handler) Routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/auth/signup", h.handleSignUp)
	api.HandleFunc("POST /api/auth/signin", h.handleSignIn)
	api.HandleFunc("POST /api/auth/refresh", h.handleRefresh)
	api.HandleFunc("POST /api/auth/signout", h.handleSignOut)
	api.HandleFunc("GET /api/auth/me", h.handleMe)
	api.HandleFunc("PATCH /api/auth/me", h.handleUpdateMe)
	api.HandleFunc("GET /api/route", h.handleRoute)
	api.HandleFunc("GET /api/{uid}/{page}", h.handleView)
	api.HandleFunc("POST /api/{uid}/{page}/{command}", h.handleCommand)

	var apiHandler http.Handler = api
	if h.opts.Limit != nil {
		apiHandler = h.opts.Limit(api)
	}
	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", h.metrics.Handler())
	return mux
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Redirect string `json:"redirect,omitempty"`
}

type sessionResponse struct {
	Identity    model.Identity `json:"identity"`
	AccessToken string         `json:"accessToken"`
	ExpiresAt   string         `json:"expiresAt"`
}

type viewResponse struct {
	Page router.Page `json:"page"`
	Path string      `json:"path"`
	View any         `json:"view"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: msg}})
}

// writeFailure maps err to a status code.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
	case errors.Is(err, identity.ErrUnauthenticated), errors.Is(err, identity.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
	case errors.Is(err, identity.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", err.Error())
	case errors.Is(err, identity.ErrWeakPassword),
		errors.Is(err, identity.ErrMissingFields),
		errors.Is(err, pages.ErrFillAll),
		errors.Is(err, pages.ErrPasswordMismatch),
		errors.Is(err, pages.ErrBadArgs),
		errors.Is(err, pages.ErrIncomplete),
		errors.Is(err, model.ErrInvalid),
		errors.Is(err, model.ErrMissingStart),
		errors.Is(err, docstore.ErrInvalidDocument):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, pages.ErrReadOnly):
		writeError(w, http.StatusForbidden, "read_only", err.Error())
	case errors.Is(err, pages.ErrUnknownCommand), errors.Is(err, docstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.Join(pages.ErrBadArgs, err)
	}
	return nil
}

// requestIdentity reads the bearer header first, then the access cookie.
func (h *Handler) requestIdentity(r *http.Request) (model.Identity, bool) {
	tok := middleware.BearerToken(r.Header.Get("Authorization"))
	if tok == "" {
		if c, err := r.Cookie(auth.AccessCookie); err == nil {
			tok = c.Value
		}
	}
	if tok == "" {
		return model.Identity{}, false
	}
	id, err := h.accounts.Verify(tok)
	if err != nil {
		return model.Identity{}, false
	}
	return id, true
}
