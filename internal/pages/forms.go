package pages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"schedulr/internal/identity"
	"schedulr/internal/model"
	"schedulr/internal/router"
)

const (
	MsgFillAll       = "Please fill all fields"
	MsgPasswordMatch = "Passwords do not match."
)

// Local validation errors. Submissions failing these never reach the provider.
var (
	ErrFillAll          = errors.New(MsgFillAll)
	ErrPasswordMismatch = errors.New(MsgPasswordMatch)
)

type SignUpForm struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Confirm  string `json:"confirm"`
}

func ValidateSignUp(f SignUpForm) error {
	if strings.TrimSpace(f.Name) == "" || strings.TrimSpace(f.Email) == "" || strings.TrimSpace(f.Password) == "" {
		return ErrFillAll
	}
	if f.Password != f.Confirm {
		return ErrPasswordMismatch
	}
	return nil
}

type SignInForm struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func ValidateSignIn(f SignInForm) error {
	if strings.TrimSpace(f.Email) == "" || f.Password == "" {
		return ErrFillAll
	}
	return nil
}

// inlineError is the text shown next to a form for err.
func inlineError(err error) string {
	switch {
	case errors.Is(err, ErrFillAll), errors.Is(err, identity.ErrMissingFields):
		return MsgFillAll
	case errors.Is(err, ErrPasswordMismatch):
		return MsgPasswordMatch
	case errors.Is(err, identity.ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, identity.ErrEmailTaken):
		return "That email is already in use."
	case errors.Is(err, identity.ErrWeakPassword):
		return "Password should be at least 6 characters."
	}
	return "Something went wrong. Please try again."
}

type AuthView struct {
	Mode     string `json:"mode"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Error    string `json:"error,omitempty"`
	Busy     bool   `json:"busy"`
	Redirect string `json:"redirect,omitempty"`
}

// authForm serves both the sign-in and sign-up screens.
type authForm struct {
	base
	signUp   bool
	email    string
	name     string
	errMsg   string
	busy     bool
	redirect string
	session  *identity.Session
}

type SignIn struct{ authForm }

type SignUp struct{ authForm }

func NewSignIn(deps Deps) *SignIn {
	return &SignIn{authForm{base: newBase(deps, router.SignIn)}}
}

func NewSignUp(deps Deps) *SignUp {
	return &SignUp{authForm{base: newBase(deps, router.SignUp), signUp: true}}
}

func (f *authForm) Mount(ctx context.Context, id *model.Identity, notify Notify) {
	f.mount(ctx, id, notify)
}

func (f *authForm) View() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	mode := "sign-in"
	if f.signUp {
		mode = "sign-up"
	}
	return AuthView{Mode: mode, Email: f.email, Name: f.name, Error: f.errMsg, Busy: f.busy, Redirect: f.redirect}
}

// Session is the result of the last successful submit.
func (f *authForm) Session() (identity.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return identity.Session{}, false
	}
	return *f.session, true
}

func (f *authForm) Handle(ctx context.Context, command string, args json.RawMessage) error {
	if command != "submit" {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
	if f.deps.Accounts == nil {
		return identity.ErrUnauthenticated
	}

	var (
		up  SignUpForm
		err error
	)
	if err = decodeArgs(args, &up); err != nil {
		return err
	}
	if f.signUp {
		err = ValidateSignUp(up)
	} else {
		err = ValidateSignIn(SignInForm{Email: up.Email, Password: up.Password})
	}

	f.mu.Lock()
	f.email, f.name = up.Email, up.Name
	f.errMsg = ""
	if err != nil {
		f.errMsg = inlineError(err)
		f.mu.Unlock()
		f.changed()
		return err
	}
	f.busy = true
	f.mu.Unlock()
	f.changed()

	var s identity.Session
	if f.signUp {
		s, err = f.deps.Accounts.SignUp(ctx, up.Email, up.Password, up.Name)
	} else {
		s, err = f.deps.Accounts.SignIn(ctx, up.Email, up.Password)
	}

	f.mu.Lock()
	f.busy = false
	if err != nil {
		f.errMsg = inlineError(err)
	} else {
		f.session = &s
		f.redirect = router.Path(s.Identity.UID, router.Dashboard)
	}
	f.mu.Unlock()
	f.changed()
	return err
}
