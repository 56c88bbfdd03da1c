package pages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"schedulr/internal/identity"
	"schedulr/internal/logging"
	"schedulr/internal/model"
	"schedulr/internal/router"
)

const (
	defaultName  = "Sample User"
	defaultEmail = "sample@example.com"
)

type SettingsForm struct {
	DisplayName string            `json:"displayName"`
	Email       string            `json:"email"`
	PhotoURL    string            `json:"photoURL,omitempty"`
	Preferences model.Preferences `json:"preferences"`
}

type SettingsView struct {
	Form    SettingsForm `json:"form"`
	Initial string       `json:"initial"`
	Saving  bool         `json:"saving"`
	Saved   bool         `json:"saved"`
	Error   string       `json:"error,omitempty"`
}

type Settings struct {
	base
	form      SettingsForm
	ready     chan struct{}
	readyOnce sync.Once
	saving    bool
	saved     bool
	errMsg    string
}

func NewSettings(deps Deps) *Settings {
	return &Settings{
		base:  newBase(deps, router.Settings),
		ready: make(chan struct{}),
		form: SettingsForm{
			DisplayName: defaultName,
			Email:       defaultEmail,
			Preferences: model.DefaultPreferences(),
		},
	}
}

func (s *Settings) Mount(ctx context.Context, id *model.Identity, notify Notify) {
	s.mount(ctx, id, notify)
	s.mu.Lock()
	if id != nil {
		if id.DisplayName != "" {
			s.form.DisplayName = id.DisplayName
		}
		if id.Email != "" {
			s.form.Email = id.Email
		}
		s.form.PhotoURL = id.PhotoURL
	}
	s.mu.Unlock()

	if id == nil || s.deps.Accounts == nil {
		s.markReady()
		return
	}
	uid := id.UID
	var user *model.User
	s.async("profile", func(ctx context.Context) error {
		u, err := s.deps.Accounts.Profile(ctx, uid)
		user = u
		return err
	}, func(err error) {
		defer s.markReady()
		if err != nil {
			s.log.Warn().Err(err).Str(logging.UID, uid).Msg("load profile")
			return
		}
		s.form.Preferences = user.Preferences
		if user.PhotoURL != "" {
			s.form.PhotoURL = user.PhotoURL
		}
	})
}

func (s *Settings) markReady() { s.readyOnce.Do(func() { close(s.ready) }) }

func (s *Settings) Unmount() {
	s.base.Unmount()
	s.markReady()
}

func (s *Settings) Wait(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Settings) View() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := SettingsView{Form: s.form, Saving: s.saving, Saved: s.saved, Error: s.errMsg}
	if rs := []rune(s.form.DisplayName); len(rs) > 0 {
		v.Initial = string(rs[0])
	}
	return v
}

func (s *Settings) Handle(_ context.Context, command string, args json.RawMessage) error {
	switch command {
	case "edit":
		s.mu.Lock()
		f := s.form
		s.mu.Unlock()
		if err := decodeArgs(args, &f); err != nil {
			return err
		}
		s.mu.Lock()
		s.form = f
		s.saved = false
		s.mu.Unlock()
		s.changed()
		return nil

	case "save":
		return s.save(args)
	}
	return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
}

func (s *Settings) save(args json.RawMessage) error {
	s.mu.Lock()
	f := s.form
	s.mu.Unlock()
	if err := decodeArgs(args, &f); err != nil {
		return err
	}
	uid, err := s.uid()
	if err != nil {
		return err
	}
	if s.deps.Accounts == nil {
		return identity.ErrUnauthenticated
	}
	f.DisplayName = strings.TrimSpace(f.DisplayName)
	f.Email = model.NormalizeEmail(f.Email)
	if f.DisplayName == "" || f.Email == "" {
		return identity.ErrMissingFields
	}
	prefs := f.Preferences
	prof := model.Profile{
		DisplayName: &f.DisplayName,
		Email:       &f.Email,
		PhotoURL:    &f.PhotoURL,
		Preferences: &prefs,
	}

	s.mu.Lock()
	s.form = f
	s.saving = true
	s.saved = false
	s.errMsg = ""
	s.mu.Unlock()
	s.changed()

	var updated model.Identity
	s.async("save", func(ctx context.Context) error {
		id, err := s.deps.Accounts.UpdateProfile(ctx, uid, prof)
		if err != nil {
			return err
		}
		updated = id
		// the profile changed even if this page is gone by now
		if s.deps.Watcher != nil {
			s.deps.Watcher.Set(&id)
		}
		return nil
	}, func(err error) {
		s.saving = false
		if err != nil {
			s.log.Error().Err(err).Str(logging.UID, uid).Msg("save profile")
			s.errMsg = inlineError(err)
			return
		}
		s.saved = true
		s.id = &updated
	})
	return nil
}
