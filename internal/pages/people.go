package pages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"schedulr/internal/demo"
	"schedulr/internal/model"
	"schedulr/internal/router"
)

type PersonRow struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Initial          string `json:"initial"`
	Email            string `json:"email,omitempty"`
	LastAppointment  string `json:"lastAppointment"`
	LastSeen         string `json:"lastSeen"`
	AppointmentCount int    `json:"appointmentCount"`
	FavoriteService  string `json:"favoriteService"`
}

type PeopleView struct {
	Query    string         `json:"query"`
	Segment  string         `json:"segment"`
	Segments []demo.Segment `json:"segments"`
	Count    int            `json:"count"`
	People   []PersonRow    `json:"people"`
}

// People is the client directory. It shows static demo people only; they are
// not derived from the owner's appointments.
type People struct {
	base
	query   string
	segment string
}

func NewPeople(deps Deps) *People {
	return &People{base: newBase(deps, router.People), segment: "all"}
}

func (p *People) Mount(ctx context.Context, id *model.Identity, notify Notify) {
	p.mount(ctx, id, notify)
}

// Filter matches q against name, email and favourite service, ignoring case.
func Filter(people []model.Person, q string) []model.Person {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return people
	}
	var out []model.Person
	for _, p := range people {
		if strings.Contains(strings.ToLower(p.Name), q) ||
			strings.Contains(strings.ToLower(p.Email), q) ||
			strings.Contains(strings.ToLower(p.FavoriteService), q) {
			out = append(out, p)
		}
	}
	return out
}

func (p *People) View() any {
	now := p.deps.now()
	p.mu.Lock()
	q, seg := p.query, p.segment
	p.mu.Unlock()

	v := PeopleView{Query: q, Segment: seg}
	var people []model.Person
	if p.deps.Demo != nil {
		people = p.deps.Demo.People(now)
		v.Segments = p.deps.Demo.Segments()
	}
	for _, person := range Filter(people, q) {
		v.People = append(v.People, personRow(person, now, p.deps.loc()))
	}
	v.Count = len(v.People)
	return v
}

func personRow(p model.Person, now time.Time, loc *time.Location) PersonRow {
	r := PersonRow{
		ID:               p.ID,
		Name:             p.Name,
		Email:            p.Email,
		LastAppointment:  p.LastAppointment.In(loc).Format("Jan 2, 2006"),
		LastSeen:         humanize.RelTime(p.LastAppointment, now, "ago", "from now"),
		AppointmentCount: p.AppointmentCount,
		FavoriteService:  p.FavoriteService,
	}
	if rs := []rune(p.Name); len(rs) > 0 {
		r.Initial = string(rs[0])
	}
	return r
}

func (p *People) Handle(_ context.Context, command string, args json.RawMessage) error {
	switch command {
	case "search":
		var req struct {
			Query string `json:"query"`
		}
		if err := decodeArgs(args, &req); err != nil {
			return err
		}
		p.mu.Lock()
		p.query = req.Query
		p.mu.Unlock()

	case "segment":
		var req struct {
			ID string `json:"id"`
		}
		if err := decodeArgs(args, &req); err != nil {
			return err
		}
		if !p.validSegment(req.ID) {
			return fmt.Errorf("%w: segment %q", ErrBadArgs, req.ID)
		}
		p.mu.Lock()
		p.segment = req.ID
		p.mu.Unlock()

	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
	p.changed()
	return nil
}

func (p *People) validSegment(id string) bool {
	if p.deps.Demo == nil {
		return id == "all"
	}
	for _, s := range p.deps.Demo.Segments() {
		if s.ID == id {
			return true
		}
	}
	return false
}
