package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMissingStart = errors.New("appointment start is not a parseable time")
	ErrInvalid      = errors.New("invalid record")
)

type Appointment struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"ownerId"`
	CustomerName  string     `json:"customerName"`
	CustomerEmail string     `json:"customerEmail,omitempty"`
	Service       string     `json:"service"`
	ServiceID     string     `json:"serviceId,omitempty"`
	Start         time.Time  `json:"start"`
	End           *time.Time `json:"end,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	Description   string     `json:"description,omitempty"`
	Status        string     `json:"status,omitempty"`
	CreatedAt     time.Time  `json:"createdAt,omitempty"`
	// Demo marks records from the static fallback set.
	Demo bool `json:"demo,omitempty"`
}

// EndOrDefault is the stored end, or thirty minutes after start.
func (a Appointment) EndOrDefault() time.Time {
	if a.End != nil {
		return *a.End
	}
	return a.Start.Add(30 * time.Minute)
}

func (a Appointment) Validate() error {
	switch {
	case strings.TrimSpace(a.CustomerName) == "":
		return fmt.Errorf("%w: customer name is required", ErrInvalid)
	case strings.TrimSpace(a.Service) == "":
		return fmt.Errorf("%w: service is required", ErrInvalid)
	case a.Start.IsZero():
		return ErrMissingStart
	case a.End != nil && a.End.Before(a.Start):
		return fmt.Errorf("%w: end before start", ErrInvalid)
	}
	return nil
}

type Service struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"ownerId"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	DurationMins int       `json:"durationMins"`
	Price        Price     `json:"price"`
	Active       bool      `json:"active"`
	Count        int       `json:"count"`
	Percent      int       `json:"percent"`
	Color        string    `json:"color,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
	Demo         bool      `json:"demo,omitempty"`
}

func (s Service) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: service name is required", ErrInvalid)
	}
	if s.DurationMins < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrInvalid)
	}
	if _, ok := s.Price.Amount(); s.Price.IsSet() && !ok {
		return fmt.Errorf("%w: price %q is not an amount", ErrInvalid, s.Price.Display())
	}
	return nil
}

// Person is a client directory entry. It is not derived from appointments.
type Person struct {
	ID               string    `json:"id" yaml:"id"`
	Name             string    `json:"name" yaml:"name"`
	Email            string    `json:"email,omitempty" yaml:"email"`
	LastAppointment  time.Time `json:"lastAppointment" yaml:"-"`
	AppointmentCount int       `json:"appointmentCount" yaml:"appointmentCount"`
	FavoriteService  string    `json:"favoriteService" yaml:"favoriteService"`
}

// Identity is the signed-in user as reported by the identity provider.
type Identity struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	PhotoURL     string
	Preferences  Preferences
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u User) Identity() Identity {
	return Identity{UID: u.ID, DisplayName: u.Name, Email: u.Email, PhotoURL: u.PhotoURL}
}

// Profile is a partial profile update. Nil fields are left unchanged.
type Profile struct {
	DisplayName *string      `json:"displayName,omitempty"`
	Email       *string      `json:"email,omitempty"`
	PhotoURL    *string      `json:"photoURL,omitempty"`
	Preferences *Preferences `json:"preferences,omitempty"`
}

type Notifications struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	Push  bool `json:"push"`
}

type Preferences struct {
	Timezone      string        `json:"timezone"`
	Currency      string        `json:"currency"`
	PaymentMethod string        `json:"paymentMethod"`
	Notifications Notifications `json:"notifications"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		Timezone:      "America/New_York",
		Currency:      "USD",
		PaymentMethod: "card",
		Notifications: Notifications{Email: true, SMS: false, Push: true},
	}
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ByStart(a, b Appointment) int { return a.Start.Compare(b.Start) }

func ByName(a, b Service) int {
	return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
}
