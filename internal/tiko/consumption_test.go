package tiko

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodWindow(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	now := time.Date(2024, time.March, 12, 14, 30, 0, 0, loc)
	midnight := time.Date(2024, time.March, 12, 0, 0, 0, 0, loc)

	tests := []struct {
		period    Period
		wantStart time.Time
		wantEnd   time.Time
		wantRes   Resolution
	}{
		{period: PeriodToday, wantStart: midnight, wantEnd: now, wantRes: ResolutionHourly},
		{period: PeriodYesterday, wantStart: midnight.AddDate(0, 0, -1), wantEnd: midnight, wantRes: ResolutionHourly},
		{period: PeriodLast7Days, wantStart: now.AddDate(0, 0, -7), wantEnd: now, wantRes: ResolutionDaily},
	}

	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			w := tt.period.Window(now)
			assert.True(t, tt.wantStart.Equal(w.Start), "start = %s", w.Start)
			assert.True(t, tt.wantEnd.Equal(w.End), "end = %s", w.End)
			assert.Equal(t, tt.wantRes, w.Resolution)
			assert.Equal(t, tt.period, w.Period)
		})
	}
}

func TestPeriodWindow_JustAfterMidnight(t *testing.T) {
	now := time.Date(2024, time.January, 1, 0, 0, 1, 0, time.UTC)

	w := PeriodYesterday.Window(now)
	assert.Equal(t, time.Date(2023, time.December, 31, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), w.End)
}

func TestResolutionFor(t *testing.T) {
	start := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, ResolutionHourly, ResolutionFor(start, start))
	assert.Equal(t, ResolutionHourly, ResolutionFor(start, start.Add(48*time.Hour)))
	assert.Equal(t, ResolutionDaily, ResolutionFor(start, start.Add(48*time.Hour+time.Millisecond)))
	assert.Equal(t, ResolutionDaily, ResolutionFor(start, start.AddDate(0, 1, 0)))
}

func TestNewWindow(t *testing.T) {
	start := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	w, err := NewWindow(start, start.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, ResolutionDaily, w.Resolution)
	assert.Empty(t, w.Period)

	_, err = NewWindow(start, start.Add(-time.Second))
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestWindowVariables(t *testing.T) {
	start := time.UnixMilli(1710198000000)
	end := time.UnixMilli(1710248400000)

	vars := Window{Start: start, End: end, Resolution: ResolutionHourly}.variables()
	assert.Equal(t, map[string]any{
		"timestampStart": "1710198000000",
		"timestampEnd":   "1710248400000",
		"resolution":     "h",
	}, vars)
}

func TestParsePeriod(t *testing.T) {
	for in, want := range map[string]Period{
		"":            PeriodToday,
		"today":       PeriodToday,
		"yesterday":   PeriodYesterday,
		"last_7_days": PeriodLast7Days,
	} {
		got, err := ParsePeriod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParsePeriod("all_time")
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}
