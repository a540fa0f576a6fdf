package tiko

import (
	"fmt"
	"strconv"
	"time"
)

// Resolution is the aggregation granularity of a consumption query.
type Resolution string

// Resolutions accepted by fastConsumption.
const (
	ResolutionHourly Resolution = "h"
	ResolutionDaily  Resolution = "d"
)

// hourlyWindowLimit is the longest window still queried hourly.
const hourlyWindowLimit = 48 * time.Hour

// ResolutionFor derives the resolution from the window length.
func ResolutionFor(start, end time.Time) Resolution {
	if end.Sub(start) <= hourlyWindowLimit {
		return ResolutionHourly
	}
	return ResolutionDaily
}

// Period names a consumption window preset.
type Period string

// Consumption window presets.
const (
	PeriodToday     Period = "today"
	PeriodYesterday Period = "yesterday"
	PeriodLast7Days Period = "last_7_days"
)

// ParsePeriod validates a period name. An empty string is PeriodToday.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "":
		return PeriodToday, nil
	case PeriodToday, PeriodYesterday, PeriodLast7Days:
		return Period(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
}

// Window is a resolved consumption query window.
type Window struct {
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	Resolution Resolution `json:"resolution"`
	Period     Period     `json:"period,omitempty"`
}

// NewWindow builds an explicit window with the derived resolution.
func NewWindow(start, end time.Time) (Window, error) {
	if end.Before(start) {
		return Window{}, fmt.Errorf("%w: end %s before start %s",
			ErrInvalidWindow, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return Window{Start: start, End: end, Resolution: ResolutionFor(start, end)}, nil
}

// Window resolves the preset relative to now, using now's location for
// midnight boundaries.
func (p Period) Window(now time.Time) Window {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var start, end time.Time
	switch p {
	case PeriodYesterday:
		start, end = midnight.AddDate(0, 0, -1), midnight
	case PeriodLast7Days:
		start, end = now.AddDate(0, 0, -7), now
	default:
		start, end = midnight, now
	}

	return Window{
		Start:      start,
		End:        end,
		Resolution: ResolutionFor(start, end),
		Period:     p,
	}
}

// variables renders the window as fastConsumption arguments. Timestamps are
// epoch milliseconds sent as strings (BigInt).
func (w Window) variables() map[string]any {
	return map[string]any{
		"timestampStart": strconv.FormatInt(w.Start.UnixMilli(), 10),
		"timestampEnd":   strconv.FormatInt(w.End.UnixMilli(), 10),
		"resolution":     string(w.Resolution),
	}
}
