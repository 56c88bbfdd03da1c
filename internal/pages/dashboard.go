package pages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"schedulr/internal/demo"
	"schedulr/internal/docstore"
	"schedulr/internal/livequery"
	"schedulr/internal/model"
	"schedulr/internal/router"
)

// ServiceForm is the add/edit service form as the user typed it.
type ServiceForm struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	DurationMins int    `json:"durationMins"`
	Price        string `json:"price"`
	Active       bool   `json:"active"`
}

func (f ServiceForm) service() model.Service {
	s := model.Service{
		ID:           f.ID,
		Name:         strings.TrimSpace(f.Name),
		Description:  f.Description,
		DurationMins: f.DurationMins,
		Active:       f.Active,
	}
	if p := strings.TrimSpace(f.Price); p != "" {
		s.Price = model.TextPrice(p)
	}
	return s
}

func emptyServiceForm() ServiceForm { return ServiceForm{Active: true} }

// QuickAppointment is the dashboard's minimal booking helper.
type QuickAppointment struct {
	CustomerName string `json:"customerName"`
	Service      string `json:"service"`
	Start        string `json:"start"`
	Notes        string `json:"notes,omitempty"`
}

type ServiceRow struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	DurationMins int    `json:"durationMins"`
	Price        string `json:"price,omitempty"`
	Count        int    `json:"count"`
	Percent      int    `json:"percent"`
	Active       bool   `json:"active"`
	Color        string `json:"color,omitempty"`
	Demo         bool   `json:"demo,omitempty"`
}

func serviceRow(s model.Service) ServiceRow {
	return ServiceRow{
		ID:           s.ID,
		Name:         s.Name,
		Description:  s.Description,
		DurationMins: s.DurationMins,
		Price:        s.Price.Display(),
		Count:        s.Count,
		Percent:      s.Percent,
		Active:       s.Active,
		Color:        s.Color,
		Demo:         s.Demo,
	}
}

type DashboardView struct {
	Month         string            `json:"month"`
	Calendar      []CalendarDay     `json:"calendar"`
	Stats         []demo.Stat       `json:"stats"`
	Upcoming      []AppointmentCard `json:"upcoming"`
	UpcomingCount int               `json:"upcomingCount"`
	Services      []ServiceRow      `json:"services"`
	ServiceForm   ServiceForm       `json:"serviceForm"`
	Editing       *ServiceForm      `json:"editing,omitempty"`
	Saving        bool              `json:"saving"`
}

type Dashboard struct {
	base

	appts    *livequery.Query[model.Appointment]
	services *livequery.Query[model.Service]

	month   time.Time
	form    ServiceForm
	editing *ServiceForm
	quick   QuickAppointment
	saving  int
}

func NewDashboard(deps Deps) *Dashboard {
	return &Dashboard{base: newBase(deps, router.Dashboard), form: emptyServiceForm()}
}

// fallbackFirst keeps demo services ahead of the owner's own and drops
// duplicate ids.
func fallbackFirst(live, fallback []model.Service) []model.Service {
	return livequery.DedupeBy(func(s model.Service) string { return s.ID })(fallback, live)
}

func (d *Dashboard) Mount(ctx context.Context, id *model.Identity, notify Notify) {
	ctx = d.mount(ctx, id, notify)
	d.mu.Lock()
	d.month = startOfMonth(d.deps.now().In(d.deps.loc()))
	d.mu.Unlock()
	d.appts = d.appointmentQuery(ctx, id)
	d.services = d.serviceQuery(ctx, id, fallbackFirst)
}

func (d *Dashboard) View() any {
	now := d.deps.now()
	loc := d.deps.loc()
	var items []model.Appointment
	var svcs []model.Service
	if d.appts != nil {
		items = d.appts.Items()
		svcs = d.services.Items()
	}
	upcoming, _ := livequery.Split(items, now)

	d.mu.Lock()
	defer d.mu.Unlock()
	v := DashboardView{
		Month:         d.month.Format(monthLayout),
		Calendar:      monthGrid(d.month, now, true),
		UpcomingCount: len(upcoming),
		ServiceForm:   d.form,
		Saving:        d.saving > 0,
	}
	if d.deps.Demo != nil {
		v.Stats = d.deps.Demo.DashboardStats()
	}
	if d.editing != nil {
		e := *d.editing
		v.Editing = &e
	}

	perDay := make(map[string]int)
	for _, a := range items {
		perDay[a.Start.In(loc).Format(dayLayout)]++
	}
	for i := range v.Calendar {
		v.Calendar[i].Appointments = perDay[v.Calendar[i].Date]
	}
	for i, a := range upcoming {
		if i == 3 {
			break
		}
		v.Upcoming = append(v.Upcoming, card(a, loc))
	}
	for _, s := range svcs {
		v.Services = append(v.Services, serviceRow(s))
	}
	return v
}

func (d *Dashboard) Handle(ctx context.Context, command string, args json.RawMessage) error {
	switch command {
	case "prevMonth", "nextMonth":
		step := 1
		if command == "prevMonth" {
			step = -1
		}
		d.mu.Lock()
		d.month = d.month.AddDate(0, step, 0)
		d.mu.Unlock()
		d.changed()
		return nil

	case "serviceForm":
		var f ServiceForm
		if err := decodeArgs(args, &f); err != nil {
			return err
		}
		d.mu.Lock()
		d.form = f
		d.mu.Unlock()
		d.changed()
		return nil

	case "addService":
		return d.addService(args)

	case "openEdit":
		return d.openEdit(args)

	case "editService":
		return d.editService(args)

	case "cancelEdit":
		d.mu.Lock()
		d.editing = nil
		d.mu.Unlock()
		d.changed()
		return nil

	case "addAppointment":
		return d.addAppointment(args)
	}
	return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
}

func (d *Dashboard) addService(args json.RawMessage) error {
	d.mu.Lock()
	f := d.form
	d.mu.Unlock()
	if err := decodeArgs(args, &f); err != nil {
		return err
	}
	uid, err := d.uid()
	if err != nil {
		return err
	}
	svc := f.service()
	if err := svc.Validate(); err != nil {
		return err
	}
	svc.OwnerID = uid
	body := svc.Fields()
	body["count"] = 0
	body["percent"] = 0
	body["createdAt"] = docstore.ServerTimestamp

	d.mu.Lock()
	d.form = f
	d.saving++
	d.mu.Unlock()
	d.changed()

	d.write(model.CollectionServices, "create", func(ctx context.Context) error {
		_, err := d.deps.Store.Create(ctx, model.CollectionServices, body)
		return err
	}, func(err error) {
		d.saving--
		if err == nil {
			d.form = emptyServiceForm()
		}
	})
	return nil
}

func (d *Dashboard) findService(id string) (model.Service, bool) {
	if d.services == nil {
		return model.Service{}, false
	}
	for _, s := range d.services.Items() {
		if s.ID == id {
			return s, true
		}
	}
	return model.Service{}, false
}

func (d *Dashboard) openEdit(args json.RawMessage) error {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return err
	}
	s, ok := d.findService(req.ID)
	if !ok {
		return fmt.Errorf("%w: service %q", docstore.ErrNotFound, req.ID)
	}
	if s.Demo {
		return ErrReadOnly
	}
	d.mu.Lock()
	d.editing = &ServiceForm{
		ID:           s.ID,
		Name:         s.Name,
		Description:  s.Description,
		DurationMins: s.DurationMins,
		Price:        s.Price.Display(),
		Active:       s.Active,
	}
	d.mu.Unlock()
	d.changed()
	return nil
}

func (d *Dashboard) editService(args json.RawMessage) error {
	d.mu.Lock()
	var f ServiceForm
	if d.editing != nil {
		f = *d.editing
	}
	d.mu.Unlock()
	if err := decodeArgs(args, &f); err != nil {
		return err
	}
	if _, err := d.uid(); err != nil {
		return err
	}
	current, ok := d.findService(f.ID)
	if !ok {
		return fmt.Errorf("%w: service %q", docstore.ErrNotFound, f.ID)
	}
	if current.Demo {
		return ErrReadOnly
	}
	svc := f.service()
	if err := svc.Validate(); err != nil {
		return err
	}
	partial := map[string]any{
		"name":         svc.Name,
		"description":  svc.Description,
		"durationMins": svc.DurationMins,
		"price":        svc.Price.Value(),
		"active":       svc.Active,
		"updatedAt":    docstore.ServerTimestamp,
	}

	d.mu.Lock()
	d.editing = &f
	d.saving++
	d.mu.Unlock()
	d.changed()

	d.write(model.CollectionServices, "update", func(ctx context.Context) error {
		return d.deps.Store.Update(ctx, model.CollectionServices, f.ID, partial)
	}, func(err error) {
		d.saving--
		if err == nil {
			d.editing = nil
		}
	})
	return nil
}

func (d *Dashboard) addAppointment(args json.RawMessage) error {
	d.mu.Lock()
	q := d.quick
	d.mu.Unlock()
	if err := decodeArgs(args, &q); err != nil {
		return err
	}
	uid, err := d.uid()
	if err != nil {
		return err
	}
	start, ok := model.ParseTime(q.Start, d.deps.loc())
	if !ok {
		return model.ErrMissingStart
	}
	a := model.Appointment{
		OwnerID:      uid,
		CustomerName: strings.TrimSpace(q.CustomerName),
		Service:      strings.TrimSpace(q.Service),
		Start:        start,
		Notes:        q.Notes,
	}
	if err := a.Validate(); err != nil {
		return err
	}
	body := a.Fields()
	body["createdAt"] = docstore.ServerTimestamp

	d.mu.Lock()
	d.quick = q
	d.saving++
	d.mu.Unlock()
	d.changed()

	d.write(model.CollectionAppointments, "create", func(ctx context.Context) error {
		_, err := d.deps.Store.Create(ctx, model.CollectionAppointments, body)
		return err
	}, func(err error) {
		d.saving--
		if err == nil {
			d.quick = QuickAppointment{}
		}
	})
	return nil
}
