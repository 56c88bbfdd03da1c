// Package identity signs users in and out and publishes identity changes.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"schedulr/internal/auth"
	"schedulr/internal/logging"
	"schedulr/internal/model"
	"schedulr/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already in use")
	ErrWeakPassword       = errors.New("password should be at least 6 characters")
	ErrMissingFields      = errors.New("please fill all fields")
	ErrUnauthenticated    = errors.New("not signed in")
	ErrSessionExpired     = errors.New("session expired")
)

const MinPasswordLen = 6

// Backend is the persistence the provider needs. *store.Store implements it.
type Backend interface {
	CreateUser(ctx context.Context, u *model.User) error
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	UserByID(ctx context.Context, id string) (*model.User, error)
	UpdateUser(ctx context.Context, u *model.User) error

	CreateRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (string, error)
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*store.RefreshToken, error)
	RotateRefreshToken(ctx context.Context, oldID, newID, userID, newHash string, newExpiry time.Time) error
	RevokeAllRefreshTokens(ctx context.Context, userID string) error
}

// Session is what a successful sign-in hands back to the browser.
type Session struct {
	Identity     model.Identity `json:"identity"`
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"-"`
	ExpiresAt    time.Time      `json:"expiresAt"`
}

type Provider struct {
	backend    Backend
	secret     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

func NewProvider(b Backend, secret string, accessTTL, refreshTTL time.Duration) *Provider {
	if accessTTL <= 0 {
		accessTTL = auth.DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &Provider{
		backend:    b,
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
		log:        logging.For("identity"),
	}
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (Session, error) {
	email = model.NormalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, ErrMissingFields
	}
	u, err := p.backend.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return Session{}, ErrInvalidCredentials
	}
	p.log.Info().Str(logging.UID, u.ID).Msg("signed in")
	return p.issue(ctx, u.Identity())
}

func (p *Provider) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	email = model.NormalizeEmail(email)
	displayName = strings.TrimSpace(displayName)
	if email == "" || password == "" || displayName == "" {
		return Session{}, ErrMissingFields
	}
	if len(password) < MinPasswordLen {
		return Session{}, ErrWeakPassword
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return Session{}, err
	}
	u := &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Name:         displayName,
		Preferences:  model.DefaultPreferences(),
	}
	if err := p.backend.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Session{}, ErrEmailTaken
		}
		return Session{}, err
	}
	p.log.Info().Str(logging.UID, u.ID).Msg("signed up")
	return p.issue(ctx, u.Identity())
}

// SignOut revokes every refresh token of uid. Access tokens expire on their own.
func (p *Provider) SignOut(ctx context.Context, uid string) error {
	if uid == "" {
		return ErrUnauthenticated
	}
	return p.backend.RevokeAllRefreshTokens(ctx, uid)
}

// Refresh exchanges a refresh token for a new session and rotates it. Presenting
// an already rotated token revokes the whole family.
func (p *Provider) Refresh(ctx context.Context, raw string) (Session, error) {
	if raw == "" {
		return Session{}, ErrUnauthenticated
	}
	rt, err := p.backend.GetRefreshTokenByHash(ctx, auth.HashRefreshToken(raw))
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, ErrSessionExpired
	}
	if err != nil {
		return Session{}, err
	}
	if rt.Revoked {
		return Session{}, p.reuse(ctx, rt.UserID)
	}
	if !rt.Usable(p.now()) {
		return Session{}, ErrSessionExpired
	}
	u, err := p.backend.UserByID(ctx, rt.UserID)
	if err != nil {
		return Session{}, fmt.Errorf("refresh: %w", err)
	}

	newRaw, newHash, err := auth.GenerateRefreshToken()
	if err != nil {
		return Session{}, err
	}
	exp := p.now().Add(p.refreshTTL)
	err = p.backend.RotateRefreshToken(ctx, rt.ID, uuid.NewString(), u.ID, newHash, exp)
	if errors.Is(err, store.ErrTokenRotated) {
		// lost the race against another exchange of the same token
		return Session{}, p.reuse(ctx, rt.UserID)
	}
	if err != nil {
		return Session{}, err
	}
	return p.session(u.Identity(), newRaw)
}

// reuse revokes every refresh token of uid after a rotated token came back.
func (p *Provider) reuse(ctx context.Context, uid string) error {
	p.log.Warn().Str(logging.UID, uid).Msg("refresh token reuse, revoking all")
	if err := p.backend.RevokeAllRefreshTokens(ctx, uid); err != nil {
		return err
	}
	return ErrSessionExpired
}

// Verify checks an access token and returns the identity it carries.
func (p *Provider) Verify(token string) (model.Identity, error) {
	if token == "" {
		return model.Identity{}, ErrUnauthenticated
	}
	c, err := auth.ParseToken(token, p.secret)
	if err != nil {
		return model.Identity{}, ErrUnauthenticated
	}
	return c.Identity(), nil
}

// Token mints an access token for id.
func (p *Provider) Token(id model.Identity) (string, error) {
	return auth.MakeToken(id, p.secret, p.accessTTL)
}

// Reissue returns an access-only session for id, used after a profile change.
func (p *Provider) Reissue(id model.Identity) (Session, error) {
	return p.session(id, "")
}

func (p *Provider) Profile(ctx context.Context, uid string) (*model.User, error) {
	u, err := p.backend.UserByID(ctx, uid)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	return u, err
}

// UpdateProfile applies the non-nil fields of prof and returns the new identity.
func (p *Provider) UpdateProfile(ctx context.Context, uid string, prof model.Profile) (model.Identity, error) {
	u, err := p.Profile(ctx, uid)
	if err != nil {
		return model.Identity{}, err
	}
	if prof.DisplayName != nil {
		name := strings.TrimSpace(*prof.DisplayName)
		if name == "" {
			return model.Identity{}, ErrMissingFields
		}
		u.Name = name
	}
	if prof.Email != nil {
		email := model.NormalizeEmail(*prof.Email)
		if email == "" {
			return model.Identity{}, ErrMissingFields
		}
		u.Email = email
	}
	if prof.PhotoURL != nil {
		u.PhotoURL = strings.TrimSpace(*prof.PhotoURL)
	}
	if prof.Preferences != nil {
		u.Preferences = *prof.Preferences
	}
	if err := p.backend.UpdateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return model.Identity{}, ErrEmailTaken
		}
		return model.Identity{}, err
	}
	return u.Identity(), nil
}

func (p *Provider) issue(ctx context.Context, id model.Identity) (Session, error) {
	raw, hash, err := auth.GenerateRefreshToken()
	if err != nil {
		return Session{}, err
	}
	if _, err := p.backend.CreateRefreshToken(ctx, id.UID, hash, p.now().Add(p.refreshTTL)); err != nil {
		return Session{}, err
	}
	return p.session(id, raw)
}

func (p *Provider) session(id model.Identity, refresh string) (Session, error) {
	tok, err := p.Token(id)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Identity:     id,
		AccessToken:  tok,
		RefreshToken: refresh,
		ExpiresAt:    p.now().Add(p.accessTTL),
	}, nil
}
