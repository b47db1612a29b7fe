package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "09:30", want: 570},
		{in: "23:59", want: 1439},
		{in: "24:00", want: 1440},
		{in: "14:00:00", want: 840},
		{in: " 08:15 ", want: 495},
		{in: "14:00:30", wantErr: true},
		{in: "24:01", wantErr: true},
		{in: "9:30", wantErr: true},
		{in: "09:60", wantErr: true},
		{in: "0930", wantErr: true},
		{in: "ab:cd", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeOfDayArithmetic(t *testing.T) {
	start, err := NewTimeOfDay(9, 0)
	require.NoError(t, err)

	end := start.Add(90 * time.Minute)
	assert.Equal(t, "10:30", end.String())
	assert.Equal(t, 90*time.Minute, end.Sub(start))
	assert.True(t, end.Valid())

	late, _ := NewTimeOfDay(23, 30)
	assert.False(t, late.Add(time.Hour).Valid())
}

func TestTimeOfDayJSON(t *testing.T) {
	v := struct {
		At TimeOfDay `json:"at"`
	}{At: 615}

	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"at":"10:15"}`, string(b))

	v.At = 0
	require.NoError(t, json.Unmarshal([]byte(`{"at":"18:45"}`), &v))
	assert.Equal(t, TimeOfDay(1125), v.At)

	assert.Error(t, json.Unmarshal([]byte(`{"at":"18:45:10"}`), &v))
}

func TestTimeOfDayScan(t *testing.T) {
	var got TimeOfDay

	require.NoError(t, got.Scan([]byte("13:20:00")))
	assert.Equal(t, TimeOfDay(800), got)

	require.NoError(t, got.Scan("07:05:00.000000"))
	assert.Equal(t, TimeOfDay(425), got)

	require.NoError(t, got.Scan(time.Date(0, 1, 1, 16, 40, 0, 0, time.UTC)))
	assert.Equal(t, TimeOfDay(1000), got)

	assert.Error(t, got.Scan(3.14))

	v, err := TimeOfDay(800).Value()
	require.NoError(t, err)
	assert.Equal(t, "13:20:00", v)
}

func TestDate(t *testing.T) {
	d, err := ParseDate("2026-02-28")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2026, Month: time.February, Day: 28}, d)
	assert.Equal(t, "2026-03-01", d.AddDays(1).String())
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.AddDays(1).After(d))
	assert.False(t, d.IsZero())
	assert.True(t, Date{}.IsZero())

	_, err = ParseDate("2026-02-30")
	assert.Error(t, err)

	loc := time.FixedZone("UTC+2", 2*60*60)
	at := d.At(570, loc)
	assert.Equal(t, time.Date(2026, 2, 28, 9, 30, 0, 0, loc), at)
	assert.Equal(t, d, DateOf(at))
}

func TestDateScanAndJSON(t *testing.T) {
	var d Date
	require.NoError(t, d.Scan(time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2026-05-04", d.String())

	require.NoError(t, d.Scan("2026-06-07T00:00:00Z"))
	assert.Equal(t, "2026-06-07", d.String())

	assert.Error(t, d.Scan(42))

	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2026-06-07"`, string(b))

	var back Date
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, d, back)
}

func TestAvailabilitySlotWindow(t *testing.T) {
	d, _ := ParseDate("2026-03-10")
	slot := &AvailabilitySlot{Date: d, StartTime: 540, EndTime: 600}

	assert.Equal(t, time.Hour, slot.Duration())
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), slot.StartsAt(time.UTC))

	other := *slot
	assert.True(t, slot.SameWindow(&other))
	other.EndTime = 630
	assert.False(t, slot.SameWindow(&other))
}

func TestChangeRequestMovesTime(t *testing.T) {
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	cr := &ChangeRequest{OldScheduledAt: at, Status: ChangeRequestStatusPending}
	assert.True(t, cr.IsPending())
	assert.False(t, cr.MovesTime())

	same := at.In(time.FixedZone("X", 3600))
	cr.NewScheduledAt = &same
	assert.False(t, cr.MovesTime())

	later := at.Add(time.Hour)
	cr.NewScheduledAt = &later
	assert.True(t, cr.MovesTime())
}

func TestPaginationNormalize(t *testing.T) {
	assert.Equal(t, Pagination{Limit: 50}, Pagination{}.Normalize())
	assert.Equal(t, Pagination{Limit: 200, Offset: 0}, Pagination{Limit: 1000, Offset: -3}.Normalize())
	assert.Equal(t, Pagination{Limit: 10, Offset: 20}, Pagination{Limit: 10, Offset: 20}.Normalize())
}
