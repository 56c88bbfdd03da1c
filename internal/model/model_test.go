package model

import (
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedulr/internal/docstore"
)

func TestPriceDisplay(t *testing.T) {
	assert.Equal(t, "$60", NumericPrice(decimal.NewFromInt(60)).Display())
	assert.Equal(t, "$12.5", NumericPrice(decimal.RequireFromString("12.50")).Display())
	assert.Equal(t, "$60", TextPrice("$60").Display())
	assert.Equal(t, "ask at desk", TextPrice("ask at desk").Display())
	assert.Equal(t, "", Price{}.Display())
}

func TestPriceAmount(t *testing.T) {
	d, ok := TextPrice("$1,250.00").Amount()
	require.True(t, ok)
	assert.True(t, d.Equal(decimal.NewFromInt(1250)))

	_, ok = TextPrice("free").Amount()
	assert.False(t, ok)

	d, ok = NumericPrice(decimal.NewFromInt(30)).Amount()
	require.True(t, ok)
	assert.Equal(t, "30", d.String())
}

func TestPriceJSON(t *testing.T) {
	var s struct {
		A Price `json:"a"`
		B Price `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 45, "b": "$45"}`), &s))
	assert.True(t, s.A.IsNumeric())
	assert.False(t, s.B.IsNumeric())
	assert.Equal(t, s.A.Display(), s.B.Display())

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 45, "b": "$45"}`, string(out))
}

func TestDecodeAppointment(t *testing.T) {
	doc := docstore.Document{ID: "a1", Fields: map[string]any{
		"ownerId":      "u1",
		"customerName": "Jean Myers",
		"service":      "Check-up",
		"start":        "2025-03-27T09:00:00Z",
		"end":          "2025-03-27T09:30:00Z",
		"notes":        "bring results",
		"createdAt":    "2025-03-20T10:00:00.5Z",
	}}
	a, err := DecodeAppointment(doc)
	require.NoError(t, err)
	assert.Equal(t, "a1", a.ID)
	assert.Equal(t, time.Date(2025, 3, 27, 9, 0, 0, 0, time.UTC), a.Start.UTC())
	require.NotNil(t, a.End)
	assert.Equal(t, a.End.UTC(), a.EndOrDefault().UTC())
	assert.Equal(t, "bring results", a.Notes)
	assert.False(t, a.CreatedAt.IsZero())

	round, err := DecodeAppointment(docstore.Document{ID: "a1", Fields: a.Fields()})
	require.NoError(t, err)
	assert.True(t, a.Start.Equal(round.Start))
	assert.Equal(t, a.CustomerName, round.CustomerName)
}

func TestDecodeAppointmentRejectsBadStart(t *testing.T) {
	_, err := DecodeAppointment(docstore.Document{ID: "x", Fields: map[string]any{"start": "tomorrow"}})
	assert.ErrorIs(t, err, ErrMissingStart)

	_, err = DecodeAppointment(docstore.Document{ID: "y", Fields: map[string]any{}})
	assert.ErrorIs(t, err, ErrMissingStart)
}

func TestEndOrDefault(t *testing.T) {
	start := time.Date(2025, 3, 26, 13, 0, 0, 0, time.UTC)
	a := Appointment{Start: start}
	assert.Equal(t, start.Add(30*time.Minute), a.EndOrDefault())
}

func TestDecodeServiceSparse(t *testing.T) {
	s, err := DecodeService(docstore.Document{ID: "s9", Fields: map[string]any{"name": "Massage", "price": "50"}})
	require.NoError(t, err)
	assert.Equal(t, "Massage", s.Name)
	assert.Equal(t, 0, s.DurationMins)
	assert.False(t, s.Active)
	assert.Equal(t, "50", s.Price.Display())

	s.DurationMins = 25
	f := s.Fields()
	assert.Equal(t, 25, f["durationMins"])
	assert.Equal(t, "50", f["price"])
}

func TestServiceValidate(t *testing.T) {
	assert.NoError(t, Service{Name: "Physio", DurationMins: 30, Price: TextPrice("$60")}.Validate())
	assert.ErrorIs(t, Service{Name: " "}.Validate(), ErrInvalid)
	assert.ErrorIs(t, Service{Name: "x", DurationMins: -5}.Validate(), ErrInvalid)
	assert.ErrorIs(t, Service{Name: "x", Price: TextPrice("lots")}.Validate(), ErrInvalid)
}

func TestOrdering(t *testing.T) {
	base := time.Date(2025, 3, 26, 8, 0, 0, 0, time.UTC)
	items := []Appointment{
		{ID: "c", Start: base.Add(2 * time.Hour)},
		{ID: "a", Start: base},
		{ID: "b", Start: base.Add(time.Hour)},
	}
	slices.SortStableFunc(items, ByStart)
	assert.Equal(t, []string{"a", "b", "c"}, []string{items[0].ID, items[1].ID, items[2].ID})

	svcs := []Service{{Name: "vital"}, {Name: "Consult"}}
	slices.SortFunc(svcs, ByName)
	assert.Equal(t, "Consult", svcs[0].Name)
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "jean.myers@example.com", NormalizeEmail("  Jean.Myers@Example.com "))
}
