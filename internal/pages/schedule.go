package pages

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"schedulr/internal/livequery"
	"schedulr/internal/model"
	"schedulr/internal/router"
)

const (
	TabUpcoming = "upcoming"
	TabPast     = "past"
)

type ScheduleRow struct {
	ID          string `json:"id"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Patient     string `json:"patient"`
	Service     string `json:"service"`
	Description string `json:"description,omitempty"`
	Notes       string `json:"notes,omitempty"`
	Status      string `json:"status,omitempty"`
	Demo        bool   `json:"demo,omitempty"`
}

type DayGroup struct {
	Label string        `json:"label"`
	Rows  []ScheduleRow `json:"rows"`
}

type ScheduleView struct {
	Tab           string     `json:"tab"`
	Count         int        `json:"count"`
	UpcomingCount int        `json:"upcomingCount"`
	PastCount     int        `json:"pastCount"`
	Groups        []DayGroup `json:"groups"`
}

type Schedule struct {
	base
	appts *livequery.Query[model.Appointment]
	tab   string
}

func NewSchedule(deps Deps) *Schedule {
	return &Schedule{base: newBase(deps, router.Schedule), tab: TabUpcoming}
}

func (s *Schedule) Mount(ctx context.Context, id *model.Identity, notify Notify) {
	ctx = s.mount(ctx, id, notify)
	s.appts = s.appointmentQuery(ctx, id)
}

func (s *Schedule) View() any {
	var items []model.Appointment
	if s.appts != nil {
		items = s.appts.Items()
	}
	upcoming, past := livequery.Split(items, s.deps.now())

	s.mu.Lock()
	tab := s.tab
	s.mu.Unlock()

	shown := upcoming
	if tab == TabPast {
		shown = past
	}
	return ScheduleView{
		Tab:           tab,
		Count:         len(shown),
		UpcomingCount: len(upcoming),
		PastCount:     len(past),
		Groups:        groupByDay(shown, s.deps.loc()),
	}
}

// groupByDay keeps the order of items; each day appears once.
func groupByDay(items []model.Appointment, loc *time.Location) []DayGroup {
	var groups []DayGroup
	index := make(map[string]int)
	for _, a := range items {
		start := a.Start.In(loc)
		label := start.Format(groupLayout)
		i, ok := index[label]
		if !ok {
			i = len(groups)
			index[label] = i
			groups = append(groups, DayGroup{Label: label})
		}
		groups[i].Rows = append(groups[i].Rows, ScheduleRow{
			ID:          a.ID,
			Start:       start.Format(clockLayout),
			End:         a.EndOrDefault().In(loc).Format(clockLayout),
			Patient:     a.CustomerName,
			Service:     a.Service,
			Description: a.Description,
			Notes:       a.Notes,
			Status:      a.Status,
			Demo:        a.Demo,
		})
	}
	return groups
}

func (s *Schedule) Handle(_ context.Context, command string, args json.RawMessage) error {
	if command != "tab" {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
	var req struct {
		Tab string `json:"tab"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return err
	}
	if req.Tab != TabUpcoming && req.Tab != TabPast {
		return fmt.Errorf("%w: tab %q", ErrBadArgs, req.Tab)
	}
	s.mu.Lock()
	s.tab = req.Tab
	s.mu.Unlock()
	s.changed()
	return nil
}
