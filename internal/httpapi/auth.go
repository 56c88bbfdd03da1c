package httpapi

import (
	"net/http"
	"time"

	"schedulr/internal/auth"
	"schedulr/internal/identity"
	"schedulr/internal/logging"
	"schedulr/internal/model"
	"schedulr/internal/pages"
)

func (h *Handler) setCookies(w http.ResponseWriter, s identity.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.AccessCookie,
		Value:    s.AccessToken,
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	if s.RefreshToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     auth.RefreshCookie,
			Value:    s.RefreshToken,
			Path:     "/api/auth",
			Expires:  time.Now().Add(h.opts.RefreshTTL),
			HttpOnly: true,
			Secure:   h.opts.SecureCookies,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func (h *Handler) clearCookies(w http.ResponseWriter) {
	for name, path := range map[string]string{auth.AccessCookie: "/", auth.RefreshCookie: "/api/auth"} {
		http.SetCookie(w, &http.Cookie{Name: name, Path: path, MaxAge: -1, HttpOnly: true, Secure: h.opts.SecureCookies})
	}
}

func (h *Handler) writeSession(w http.ResponseWriter, status int, s identity.Session) {
	h.setCookies(w, s)
	writeJSON(w, status, sessionResponse{
		Identity:    s.Identity,
		AccessToken: s.AccessToken,
		ExpiresAt:   s.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req pages.SignUpForm
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if err := pages.ValidateSignUp(req); err != nil {
		writeFailure(w, err)
		return
	}
	s, err := h.accounts.SignUp(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.log.Info().Err(err).Msg("sign up rejected")
		writeFailure(w, err)
		return
	}
	h.writeSession(w, http.StatusCreated, s)
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req pages.SignInForm
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if err := pages.ValidateSignIn(req); err != nil {
		writeFailure(w, err)
		return
	}
	s, err := h.accounts.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeFailure(w, err)
		return
	}
	h.writeSession(w, http.StatusOK, s)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := refreshToken(r)
	if raw == "" {
		writeFailure(w, identity.ErrUnauthenticated)
		return
	}
	s, err := h.accounts.Refresh(r.Context(), raw)
	if err != nil {
		h.clearCookies(w)
		writeFailure(w, err)
		return
	}
	h.writeSession(w, http.StatusOK, s)
}

// refreshToken reads the refresh cookie, then a JSON body. The body form is
// how a realtime sign-in moves its token into the cookie.
func refreshToken(r *http.Request) string {
	if c, err := r.Cookie(auth.RefreshCookie); err == nil && c.Value != "" {
		return c.Value
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if r.ContentLength == 0 || decode(r, &body) != nil {
		return ""
	}
	return body.RefreshToken
}

// handleSignOut always clears the cookies; tokens are revoked when the
// caller is still authenticated.
func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if id, ok := h.requestIdentity(r); ok {
		if err := h.accounts.SignOut(r.Context(), id.UID); err != nil {
			h.log.Error().Err(err).Str(logging.UID, id.UID).Msg("sign out")
		}
	}
	h.clearCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestIdentity(r)
	if !ok {
		writeFailure(w, identity.ErrUnauthenticated)
		return
	}
	u, err := h.accounts.Profile(r.Context(), id.UID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity":    u.Identity(),
		"preferences": u.Preferences,
	})
}

func (h *Handler) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestIdentity(r)
	if !ok {
		writeFailure(w, identity.ErrUnauthenticated)
		return
	}
	var prof model.Profile
	if err := decode(r, &prof); err != nil {
		writeFailure(w, err)
		return
	}
	updated, err := h.accounts.UpdateProfile(r.Context(), id.UID, prof)
	if err != nil {
		writeFailure(w, err)
		return
	}
	// the old access token still carries the previous name and email
	s, err := h.accounts.Reissue(updated)
	if err != nil {
		writeFailure(w, err)
		return
	}
	h.setCookies(w, s)
	writeJSON(w, http.StatusOK, map[string]any{"identity": updated, "accessToken": s.AccessToken})
}
