// Package demo holds the static demonstration data merged into every view.
package demo

import (
	"embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"schedulr/internal/model"
)

// OwnerID stamps every demo record.
const OwnerID = "demo"

//go:embed fixtures/*.yaml
var fixtures embed.FS

type appointmentRow struct {
	ID           string `yaml:"id"`
	CustomerName string `yaml:"customerName"`
	Service      string `yaml:"service"`
	Start        string `yaml:"start"`
	End          string `yaml:"end"`
	Notes        string `yaml:"notes"`
	Description  string `yaml:"description"`
}

type serviceRow struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	DurationMins int    `yaml:"durationMins"`
	Price        string `yaml:"price"`
	Description  string `yaml:"description"`
	Color        string `yaml:"color"`
	Count        int    `yaml:"count"`
	Percent      int    `yaml:"percent"`
	Active       bool   `yaml:"active"`
}

type personRow struct {
	model.Person `yaml:",inline"`
	DaysAgo      int `yaml:"daysAgo"`
}

type Stat struct {
	Label   string `yaml:"label" json:"label"`
	Value   string `yaml:"value" json:"value"`
	Percent int    `yaml:"percent" json:"percent"`
	Note    string `yaml:"note" json:"note"`
}

type TopService struct {
	Name     string `yaml:"name" json:"name"`
	Bookings int    `yaml:"bookings" json:"bookings"`
	Percent  int    `yaml:"percent" json:"percent"`
}

type Analytics struct {
	Appointments int     `yaml:"appointments" json:"appointments"`
	Revenue      int     `yaml:"revenue" json:"revenue"`
	Utilization  int     `yaml:"utilization" json:"utilization"`
	NewCustomers int     `yaml:"newCustomers" json:"newCustomers"`
	Cancellation float64 `yaml:"cancellation" json:"cancellation"`
	Trend        []int   `yaml:"trend" json:"trend"`
	Sparklines   struct {
		Appointments []int `yaml:"appointments" json:"appointments"`
		NewCustomers []int `yaml:"newCustomers" json:"newCustomers"`
		Cancellation []int `yaml:"cancellation" json:"cancellation"`
	} `yaml:"sparklines" json:"sparklines"`
	TopServices []TopService `yaml:"topServices" json:"topServices"`
}

type Segment struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
}

type stats struct {
	Dashboard []Stat    `yaml:"dashboard"`
	Analytics Analytics `yaml:"analytics"`
	Segments  []Segment `yaml:"segments"`
}

// Data is the parsed fixture set. Callers get copies.
type Data struct {
	appointments []model.Appointment
	services     []model.Service
	people       []personRow
	stats        stats
}

// Load parses the embedded fixtures. Zone-less times are read in loc.
func Load(loc *time.Location) (*Data, error) {
	if loc == nil {
		loc = time.Local
	}
	d := &Data{}

	var appts []appointmentRow
	if err := read("fixtures/appointments.yaml", &appts); err != nil {
		return nil, err
	}
	for _, r := range appts {
		start, ok := model.ParseTime(r.Start, loc)
		if !ok {
			return nil, fmt.Errorf("demo appointment %s: bad start %q", r.ID, r.Start)
		}
		a := model.Appointment{
			ID:           r.ID,
			OwnerID:      OwnerID,
			CustomerName: r.CustomerName,
			Service:      r.Service,
			Start:        start,
			Notes:        r.Notes,
			Description:  r.Description,
			Demo:         true,
		}
		if end, ok := model.ParseTime(r.End, loc); ok {
			a.End = &end
		}
		d.appointments = append(d.appointments, a)
	}

	var svcs []serviceRow
	if err := read("fixtures/services.yaml", &svcs); err != nil {
		return nil, err
	}
	for _, r := range svcs {
		d.services = append(d.services, model.Service{
			ID:           r.ID,
			OwnerID:      OwnerID,
			Name:         r.Name,
			Description:  r.Description,
			DurationMins: r.DurationMins,
			Price:        model.TextPrice(r.Price),
			Active:       r.Active,
			Count:        r.Count,
			Percent:      r.Percent,
			Color:        r.Color,
			Demo:         true,
		})
	}

	if err := read("fixtures/people.yaml", &d.people); err != nil {
		return nil, err
	}
	if err := read("fixtures/stats.yaml", &d.stats); err != nil {
		return nil, err
	}
	return d, nil
}

// MustLoad is Load for package init and tests.
func MustLoad(loc *time.Location) *Data {
	d, err := Load(loc)
	if err != nil {
		panic(err)
	}
	return d
}

func read(name string, out any) error {
	b, err := fixtures.ReadFile(name)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (d *Data) Appointments() []model.Appointment {
	out := make([]model.Appointment, len(d.appointments))
	for i, a := range d.appointments {
		if a.End != nil {
			end := *a.End
			a.End = &end
		}
		out[i] = a
	}
	return out
}

func (d *Data) Services() []model.Service {
	return append([]model.Service(nil), d.services...)
}

// People resolves each "days ago" offset against now.
func (d *Data) People(now time.Time) []model.Person {
	out := make([]model.Person, len(d.people))
	for i, r := range d.people {
		p := r.Person
		p.LastAppointment = now.AddDate(0, 0, -r.DaysAgo)
		out[i] = p
	}
	return out
}

func (d *Data) DashboardStats() []Stat {
	return append([]Stat(nil), d.stats.Dashboard...)
}

func (d *Data) Analytics() Analytics {
	a := d.stats.Analytics
	a.Trend = append([]int(nil), a.Trend...)
	a.TopServices = append([]TopService(nil), a.TopServices...)
	return a
}

func (d *Data) Segments() []Segment {
	return append([]Segment(nil), d.stats.Segments...)
}
