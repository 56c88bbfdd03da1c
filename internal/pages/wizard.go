package pages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/mail"
	"slices"
	"strings"
	"time"

	"schedulr/internal/docstore"
	"schedulr/internal/livequery"
	"schedulr/internal/model"
	"schedulr/internal/router"
	"schedulr/internal/textgen"
)

// ErrIncomplete is returned by confirm when a required field is missing.
var ErrIncomplete = errors.New("service, time, client name and email are required")

const StatusConfirmed = "confirmed"

type WizardService struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DurationMins int    `json:"durationMins"`
	Price        string `json:"price,omitempty"`
	Description  string `json:"description,omitempty"`
	Color        string `json:"color,omitempty"`
}

type WizardView struct {
	Step       int             `json:"step"`
	Services   []WizardService `json:"services"`
	Selected   *WizardService  `json:"selected,omitempty"`
	Month      string          `json:"month"`
	Calendar   []CalendarDay   `json:"calendar"`
	Date       string          `json:"date"`
	Times      []string        `json:"times"`
	Time       string          `json:"time,omitempty"`
	ClientName string          `json:"clientName"`
	Email      string          `json:"clientEmail"`
	Notes      string          `json:"notes"`
	Enhanced   string          `json:"enhanced,omitempty"`
	Generating bool            `json:"generating"`
	Saving     bool            `json:"saving"`
	Confirmed  bool            `json:"confirmed"`
}

// Wizard books an appointment in three steps: pick a service, pick a slot and
// enter client details, then the confirmation.
type Wizard struct {
	base
	services *livequery.Query[model.Service]

	step       int
	selected   *model.Service
	month      time.Time
	date       time.Time
	slot       string
	clientName string
	email      string
	notes      string
	enhanced   string
	generating int
	saving     bool
	confirmed  bool
}

func NewWizard(deps Deps) *Wizard {
	return &Wizard{base: newBase(deps, router.Appointment), step: 1}
}

func (w *Wizard) Mount(ctx context.Context, id *model.Identity, notify Notify) {
	ctx = w.mount(ctx, id, notify)
	now := w.deps.now().In(w.deps.loc())
	w.mu.Lock()
	w.month = startOfMonth(now)
	w.date = startOfDay(now)
	w.mu.Unlock()
	w.services = w.serviceQuery(ctx, id, livequery.DedupeBy(func(s model.Service) string { return s.Name }))
}

// AvailableTimes lists one slot per hour from 08 to 17. Each hour starts on
// the hour or the half hour, fixed per date.
func AvailableTimes(date time.Time) []string {
	times := make([]string, 0, 10)
	day := date.Format(dayLayout)
	for h := 8; h <= 17; h++ {
		f := fnv.New32a()
		fmt.Fprintf(f, "%s/%02d", day, h)
		mm := "00"
		if f.Sum32()%4 == 0 {
			mm = "30"
		}
		times = append(times, fmt.Sprintf("%02d:%s", h, mm))
	}
	return times
}

func wizardService(s model.Service) WizardService {
	return WizardService{
		ID:           s.ID,
		Name:         s.Name,
		DurationMins: s.DurationMins,
		Price:        s.Price.Display(),
		Description:  s.Description,
		Color:        s.Color,
	}
}

func (w *Wizard) serviceList() []model.Service {
	if w.services == nil {
		return nil
	}
	return w.services.Items()
}

func (w *Wizard) View() any {
	svcs := w.serviceList()
	now := w.deps.now()

	w.mu.Lock()
	defer w.mu.Unlock()
	v := WizardView{
		Step:       w.step,
		Month:      w.month.Format(monthLayout),
		Calendar:   monthGrid(w.month, now, false),
		Date:       w.date.Format(dayLayout),
		Times:      AvailableTimes(w.date),
		Time:       w.slot,
		ClientName: w.clientName,
		Email:      w.email,
		Notes:      w.notes,
		Enhanced:   w.enhanced,
		Generating: w.generating > 0,
		Saving:     w.saving,
		Confirmed:  w.confirmed,
	}
	for _, s := range svcs {
		v.Services = append(v.Services, wizardService(s))
	}
	if w.selected != nil {
		sel := wizardService(*w.selected)
		v.Selected = &sel
	}
	for i := range v.Calendar {
		v.Calendar[i].Selected = v.Calendar[i].Date == v.Date
	}
	return v
}

func (w *Wizard) Handle(_ context.Context, command string, args json.RawMessage) error {
	var err error
	switch command {
	case "select":
		err = w.selectService(args)
	case "prevMonth", "nextMonth":
		step := 1
		if command == "prevMonth" {
			step = -1
		}
		w.mu.Lock()
		w.month = w.month.AddDate(0, step, 0)
		w.mu.Unlock()
	case "date":
		err = w.pickDate(args)
	case "time":
		err = w.pickTime(args)
	case "client":
		err = w.client(args)
	case "notes":
		var req struct {
			Notes string `json:"notes"`
		}
		if err = decodeArgs(args, &req); err == nil {
			w.mu.Lock()
			w.notes = req.Notes
			w.mu.Unlock()
		}
	case "enhance":
		err = w.enhance()
	case "confirm":
		err = w.confirm()
	case "reset":
		w.mu.Lock()
		w.reset()
		w.mu.Unlock()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
	if err != nil {
		return err
	}
	w.changed()
	return nil
}

func (w *Wizard) selectService(args json.RawMessage) error {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return err
	}
	i := slices.IndexFunc(w.serviceList(), func(s model.Service) bool { return s.ID == req.ID })
	if i < 0 {
		return fmt.Errorf("%w: service %q", docstore.ErrNotFound, req.ID)
	}
	svc := w.serviceList()[i]
	today := startOfDay(w.deps.now().In(w.deps.loc()))

	w.mu.Lock()
	defer w.mu.Unlock()
	w.selected = &svc
	w.step = 2
	w.date = today
	w.slot = ""
	w.enhanced = ""
	return nil
}

func (w *Wizard) pickDate(args json.RawMessage) error {
	var req struct {
		Date string `json:"date"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return err
	}
	d, err := time.ParseInLocation(dayLayout, req.Date, w.deps.loc())
	if err != nil {
		return fmt.Errorf("%w: date %q", ErrBadArgs, req.Date)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.date = d
	w.slot = ""
	return nil
}

func (w *Wizard) pickTime(args json.RawMessage) error {
	var req struct {
		Time string `json:"time"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !slices.Contains(AvailableTimes(w.date), req.Time) {
		return fmt.Errorf("%w: %s is not available", ErrBadArgs, req.Time)
	}
	w.slot = req.Time
	return nil
}

func (w *Wizard) client(args json.RawMessage) error {
	var req struct {
		Name  *string `json:"name"`
		Email *string `json:"email"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if req.Name != nil {
		w.clientName = *req.Name
	}
	if req.Email != nil {
		w.email = *req.Email
	}
	return nil
}

// enhance asks the model to rewrite the notes. On failure the raw notes are
// used as the enhanced text.
func (w *Wizard) enhance() error {
	w.mu.Lock()
	if w.selected == nil || strings.TrimSpace(w.notes) == "" {
		w.mu.Unlock()
		return nil
	}
	service, notes := w.selected.Name, w.notes
	w.generating++
	w.mu.Unlock()

	gen := w.deps.Generator
	if gen == nil {
		gen = textgen.Disabled{}
	}
	var out string
	w.async("enhance", func(ctx context.Context) error {
		text, err := gen.Generate(ctx, textgen.EnhanceNotePrompt(service, notes))
		w.deps.Metrics.Generation("enhance", err)
		out = text
		return err
	}, func(err error) {
		w.generating--
		if err != nil {
			w.log.Warn().Err(err).Msg("enhance note failed, keeping raw notes")
			w.enhanced = notes
			return
		}
		w.enhanced = out
	})
	return nil
}

func (w *Wizard) confirm() error {
	uid, err := w.uid()
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.selected == nil || w.slot == "" || strings.TrimSpace(w.clientName) == "" || strings.TrimSpace(w.email) == "" {
		w.mu.Unlock()
		return ErrIncomplete
	}
	email := model.NormalizeEmail(w.email)
	if _, err := mail.ParseAddress(email); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("%w: client email %q", model.ErrInvalid, w.email)
	}
	hh, mm, _ := strings.Cut(w.slot, ":")
	start, err := time.ParseInLocation("2006-01-02 15:04", w.date.Format(dayLayout)+" "+hh+":"+mm, w.deps.loc())
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("%w: time %q", ErrBadArgs, w.slot)
	}
	final := w.enhanced
	if final == "" {
		final = w.notes
	}
	svc := *w.selected
	a := model.Appointment{
		OwnerID:       uid,
		CustomerName:  strings.TrimSpace(w.clientName),
		CustomerEmail: email,
		Service:       svc.Name,
		ServiceID:     svc.ID,
		Start:         start,
		Notes:         final,
		Description:   final,
		Status:        StatusConfirmed,
	}
	w.saving = true
	w.mu.Unlock()

	body := a.Fields()
	body["start"] = start.UTC().Format("2006-01-02T15:04:05.000Z")
	body["createdAt"] = docstore.ServerTimestamp

	w.write(model.CollectionAppointments, "create", func(ctx context.Context) error {
		_, err := w.deps.Store.Create(ctx, model.CollectionAppointments, body)
		return err
	}, func(err error) {
		w.saving = false
		if err == nil {
			w.confirmed = true
			w.step = 3
		}
	})
	return nil
}

func (w *Wizard) reset() {
	w.step = 1
	w.selected = nil
	w.slot = ""
	w.clientName = ""
	w.email = ""
	w.notes = ""
	w.enhanced = ""
	w.confirmed = false
}
