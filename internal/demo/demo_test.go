package demo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	d, err := Load(time.UTC)
	require.NoError(t, err)

	appts := d.Appointments()
	require.Len(t, appts, 5)
	assert.Equal(t, "Jason Morgan", appts[0].CustomerName)
	assert.Equal(t, time.Date(2025, 3, 26, 8, 0, 0, 0, time.UTC), appts[0].Start)
	require.NotNil(t, appts[0].End)
	assert.Equal(t, 10, appts[0].End.Hour())
	assert.Nil(t, appts[2].End)
	for _, a := range appts {
		assert.True(t, a.Demo)
		assert.Equal(t, OwnerID, a.OwnerID)
	}

	svcs := d.Services()
	require.Len(t, svcs, 5)
	assert.Equal(t, "$60", svcs[0].Price.Display())
	assert.False(t, svcs[2].Active)
	assert.Equal(t, 45, svcs[3].DurationMins)

	a := d.Analytics()
	assert.Equal(t, 124, a.Appointments)
	assert.Equal(t, 4.2, a.Cancellation)
	assert.Len(t, a.Trend, 10)
	assert.Len(t, d.DashboardStats(), 3)
	assert.Len(t, d.Segments(), 3)
}

func TestPeopleRelativeToNow(t *testing.T) {
	d := MustLoad(time.UTC)
	now := time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC)
	people := d.People(now)
	require.Len(t, people, 5)
	assert.Equal(t, "Jean Myers", people[0].Name)
	assert.Equal(t, now.AddDate(0, 0, -2), people[0].LastAppointment)
	assert.Equal(t, 8, people[2].AppointmentCount)
}

func TestCopiesAreIndependent(t *testing.T) {
	d := MustLoad(time.UTC)
	a := d.Appointments()
	*a[0].End = time.Time{}
	a[1].CustomerName = "changed"
	b := d.Appointments()
	assert.Equal(t, 10, b[0].End.Hour())
	assert.Equal(t, "Stacy Moore", b[1].CustomerName)
}
