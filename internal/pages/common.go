package pages

import (
	"context"
	"time"

	"schedulr/internal/livequery"
	"schedulr/internal/model"
)

const (
	dayLayout   = "2006-01-02"
	clockLayout = "3:04 PM"
	monthLayout = "January 2006"
	groupLayout = "Jan 2 '06"
)

// appointmentQuery opens the owner's appointments merged with the demo set.
func (b *base) appointmentQuery(ctx context.Context, id *model.Identity) *livequery.Query[model.Appointment] {
	var fallback []model.Appointment
	if b.deps.Demo != nil {
		fallback = b.deps.Demo.Appointments()
	}
	q := livequery.New(b.deps.Store, livequery.Options[model.Appointment]{
		Collection: model.CollectionAppointments,
		Decode:     model.DecodeAppointment,
		Fallback:   fallback,
		Compare:    model.ByStart,
		OnChange:   b.changed,
	})
	b.watch(q)
	q.SetIdentity(ctx, id)
	return q
}

// serviceQuery opens the owner's services. combine decides how demo services
// are folded in.
func (b *base) serviceQuery(ctx context.Context, id *model.Identity, combine func(live, fallback []model.Service) []model.Service) *livequery.Query[model.Service] {
	var fallback []model.Service
	if b.deps.Demo != nil {
		fallback = b.deps.Demo.Services()
	}
	q := livequery.New(b.deps.Store, livequery.Options[model.Service]{
		Collection: model.CollectionServices,
		Decode:     model.DecodeService,
		Fallback:   fallback,
		Combine:    combine,
		OnChange:   b.changed,
	})
	b.watch(q)
	q.SetIdentity(ctx, id)
	return q
}

type CalendarDay struct {
	Date         string `json:"date,omitempty"`
	Day          int    `json:"day,omitempty"`
	Today        bool   `json:"today,omitempty"`
	Selected     bool   `json:"selected,omitempty"`
	Appointments int    `json:"appointments,omitempty"`
}

// monthGrid lays out month starting on Sunday. Leading cells before the 1st
// are blank; with fill the last week is padded to seven cells.
func monthGrid(month, now time.Time, fill bool) []CalendarDay {
	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, month.Location())
	offset := int(first.Weekday())
	days := first.AddDate(0, 1, -1).Day()
	total := offset + days
	if fill {
		total = (total + 6) / 7 * 7
	}
	today := now.In(month.Location()).Format(dayLayout)

	grid := make([]CalendarDay, total)
	for i := range grid {
		n := i - offset + 1
		if n < 1 || n > days {
			continue
		}
		d := first.AddDate(0, 0, n-1).Format(dayLayout)
		grid[i] = CalendarDay{Date: d, Day: n, Today: d == today}
	}
	return grid
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

type AppointmentCard struct {
	ID           string `json:"id"`
	CustomerName string `json:"customerName"`
	Initial      string `json:"initial"`
	Service      string `json:"service"`
	Start        string `json:"start"`
	Time         string `json:"time"`
	Demo         bool   `json:"demo,omitempty"`
}

func card(a model.Appointment, loc *time.Location) AppointmentCard {
	c := AppointmentCard{
		ID:           a.ID,
		CustomerName: a.CustomerName,
		Service:      a.Service,
		Start:        a.Start.Format(time.RFC3339),
		Time:         a.Start.In(loc).Format(clockLayout),
		Demo:         a.Demo,
	}
	if r := []rune(a.CustomerName); len(r) > 0 {
		c.Initial = string(r[0])
	}
	return c
}
