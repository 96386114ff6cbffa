package analytics

import (
	"strings"
	"time"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/store"
)

// Range presets accepted by ResolveWindow.
const (
	RangeToday      = "today"
	RangeYesterday  = "yesterday"
	RangeThisWeek   = "this_week"
	RangeThisMonth  = "this_month"
	RangeLast30Days = "last_30_days"
	RangeCustom     = "custom"
)

const dateLayout = "2006-01-02"

// Window is a closed time interval [Start, End] in UTC.
type Window struct {
	Start time.Time
	End   time.Time
	Range string
}

// Period is the JSON echo of a window in every report.
type Period struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	DateRange string `json:"date_range"`
}

func (w Window) Period() Period {
	return Period{StartDate: domain.Timestamp(w.Start), EndDate: domain.Timestamp(w.End), DateRange: w.Range}
}

func (w Window) Len() time.Duration { return w.End.Sub(w.Start) }

// Previous is the window of equal length ending just before Start. Its end
// is exclusive, so the two windows never share an instant.
func (w Window) Previous() Window {
	return Window{Start: w.Start.Add(-w.Len()), End: w.Start, Range: "previous"}
}

// filter selects documents whose created_at lies inside the window.
func (w Window) filter() store.Filter {
	return store.Where(
		store.Gte("created_at", domain.Timestamp(w.Start)),
		store.Lte("created_at", domain.Timestamp(w.End)),
	)
}

// filterOpen is like filter but excludes End.
func (w Window) filterOpen() store.Filter {
	return store.Where(
		store.Gte("created_at", domain.Timestamp(w.Start)),
		store.Lt("created_at", domain.Timestamp(w.End)),
	)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Microsecond)
}

// ResolveWindow turns a preset name or custom dates into a Window. An empty
// or unknown range falls back to this_month. Custom dates are YYYY-MM-DD
// (a full timestamp is also accepted); the end date covers its whole day.
func ResolveWindow(rangeName, start, end string, now time.Time) (Window, error) {
	now = now.UTC()
	rangeName = strings.TrimSpace(strings.ToLower(rangeName))
	switch rangeName {
	case RangeToday:
		return Window{Start: startOfDay(now), End: endOfDay(now), Range: rangeName}, nil
	case RangeYesterday:
		y := now.AddDate(0, 0, -1)
		return Window{Start: startOfDay(y), End: endOfDay(y), Range: rangeName}, nil
	case RangeThisWeek:
		offset := (int(now.Weekday()) + 6) % 7
		return Window{Start: startOfDay(now.AddDate(0, 0, -offset)), End: endOfDay(now), Range: rangeName}, nil
	case RangeLast30Days:
		return Window{Start: startOfDay(now.AddDate(0, 0, -29)), End: endOfDay(now), Range: rangeName}, nil
	case RangeCustom:
		if strings.TrimSpace(start) == "" || strings.TrimSpace(end) == "" {
			return Window{}, apperr.Validation("custom range requires start_date and end_date").
				WithDetail("start_date", "start_date is required").
				WithDetail("end_date", "end_date is required")
		}
		s, err := parseBound(start, false)
		if err != nil {
			return Window{}, apperr.Validation("start_date must be a date in format YYYY-MM-DD").WithDetail("start_date", start)
		}
		e, err := parseBound(end, true)
		if err != nil {
			return Window{}, apperr.Validation("end_date must be a date in format YYYY-MM-DD").WithDetail("end_date", end)
		}
		if e.Before(s) {
			return Window{}, apperr.Validation("end_date must not be before start_date")
		}
		return Window{Start: s, End: e, Range: rangeName}, nil
	}
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Window{Start: first, End: endOfDay(now), Range: RangeThisMonth}, nil
}

func parseBound(v string, isEnd bool) (time.Time, error) {
	v = strings.TrimSpace(v)
	if d, err := time.Parse(dateLayout, v); err == nil {
		if isEnd {
			return endOfDay(d), nil
		}
		return d, nil
	}
	t, err := domain.ParseTimestamp(v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// monthWindow covers one calendar month.
func monthWindow(year int, month time.Month) Window {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Window{Start: start, End: start.AddDate(0, 1, 0).Add(-time.Microsecond), Range: "month"}
}

func yearWindow(year int) Window {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return Window{Start: start, End: start.AddDate(1, 0, 0).Add(-time.Microsecond), Range: "year"}
}
