package model

import (
	"fmt"
	"math"
	"strings"
	"time"

	"schedulr/internal/docstore"
)

const (
	CollectionAppointments = "appointments"
	CollectionServices     = "services"

	FieldOwnerID = "ownerId"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime reads a timestamp field. Zone-less strings are taken in loc.
func ParseTime(v any, loc *time.Location) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
				return ts, true
			}
		}
	case float64:
		// epoch millis
		if t > 0 && !math.IsInf(t, 0) {
			return time.UnixMilli(int64(t)), true
		}
	}
	return time.Time{}, false
}

func DecodeAppointment(doc docstore.Document) (Appointment, error) {
	f := doc.Fields
	start, ok := ParseTime(f["start"], time.Local)
	if !ok {
		return Appointment{}, fmt.Errorf("%w: %s", ErrMissingStart, doc.ID)
	}
	a := Appointment{
		ID:            doc.ID,
		OwnerID:       str(f, FieldOwnerID),
		CustomerName:  str(f, "customerName"),
		CustomerEmail: str(f, "customerEmail"),
		Service:       str(f, "service"),
		ServiceID:     str(f, "serviceId"),
		Start:         start,
		Notes:         str(f, "notes"),
		Description:   str(f, "description"),
		Status:        str(f, "status"),
	}
	if end, ok := ParseTime(f["end"], time.Local); ok {
		a.End = &end
	}
	if created, ok := ParseTime(f["createdAt"], time.Local); ok {
		a.CreatedAt = created
	} else {
		a.CreatedAt = doc.CreatedAt
	}
	return a, nil
}

// Fields is the persisted shape. Empty optional fields are left out.
func (a Appointment) Fields() map[string]any {
	f := map[string]any{
		FieldOwnerID:   a.OwnerID,
		"customerName": a.CustomerName,
		"service":      a.Service,
		"start":        a.Start.Format(time.RFC3339),
	}
	put(f, "customerEmail", a.CustomerEmail)
	put(f, "serviceId", a.ServiceID)
	put(f, "notes", a.Notes)
	put(f, "description", a.Description)
	put(f, "status", a.Status)
	if a.End != nil {
		f["end"] = a.End.Format(time.RFC3339)
	}
	return f
}

func DecodeService(doc docstore.Document) (Service, error) {
	f := doc.Fields
	price, err := ParsePrice(f["price"])
	if err != nil {
		return Service{}, fmt.Errorf("service %s: %w", doc.ID, err)
	}
	s := Service{
		ID:           doc.ID,
		OwnerID:      str(f, FieldOwnerID),
		Name:         str(f, "name"),
		Description:  str(f, "description"),
		DurationMins: integer(f, "durationMins"),
		Price:        price,
		Active:       boolean(f, "active"),
		Count:        integer(f, "count"),
		Percent:      integer(f, "percent"),
		Color:        str(f, "color"),
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
	if t, ok := ParseTime(f["createdAt"], time.Local); ok {
		s.CreatedAt = t
	}
	if t, ok := ParseTime(f["updatedAt"], time.Local); ok {
		s.UpdatedAt = t
	}
	return s, nil
}

func (s Service) Fields() map[string]any {
	f := map[string]any{
		FieldOwnerID:   s.OwnerID,
		"name":         s.Name,
		"description":  s.Description,
		"durationMins": s.DurationMins,
		"active":       s.Active,
		"count":        s.Count,
		"percent":      s.Percent,
	}
	if v := s.Price.Value(); v != nil {
		f["price"] = v
	}
	put(f, "color", s.Color)
	return f
}

func str(f map[string]any, key string) string {
	switch v := f[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func integer(f map[string]any, key string) int {
	switch v := f[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		if _, err := fmt.Sscan(v, &n); err == nil {
			return n
		}
	}
	return 0
}

func boolean(f map[string]any, key string) bool {
	b, _ := f[key].(bool)
	return b
}

func put(f map[string]any, key, value string) {
	if value != "" {
		f[key] = value
	}
}
