package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medipos/m/internal/apperr"
)

func TestResolveWindow(t *testing.T) {
	// a Friday
	now := time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)
	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	eod := func(d int) time.Time { return day(d).AddDate(0, 0, 1).Add(-time.Microsecond) }

	tests := []struct {
		name      string
		rangeName string
		start     string
		end       string
		wantStart time.Time
		wantEnd   time.Time
		wantRange string
	}{
		{"today", RangeToday, "", "", day(15), eod(15), RangeToday},
		{"yesterday", RangeYesterday, "", "", day(14), eod(14), RangeYesterday},
		{"this week starts monday", RangeThisWeek, "", "", day(11), eod(15), RangeThisWeek},
		{"this month", RangeThisMonth, "", "", day(1), eod(15), RangeThisMonth},
		{"default is this month", "", "", "", day(1), eod(15), RangeThisMonth},
		{"last 30 days", RangeLast30Days, "", "", time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC), eod(15), RangeLast30Days},
		{"custom covers end day", RangeCustom, "2024-03-02", "2024-03-04", day(2), eod(4), RangeCustom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ResolveWindow(tt.rangeName, tt.start, tt.end, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, w.Start)
			assert.Equal(t, tt.wantEnd, w.End)
			assert.Equal(t, tt.wantRange, w.Range)
		})
	}
}

func TestResolveWindowCustomErrors(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	_, err := ResolveWindow(RangeCustom, "2024-03-01", "", now)
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))

	_, err = ResolveWindow(RangeCustom, "yesterday-ish", "2024-03-02", now)
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))

	_, err = ResolveWindow(RangeCustom, "2024-03-05", "2024-03-02", now)
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
}

func TestPreviousWindow(t *testing.T) {
	w := Window{Start: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)}
	p := w.Previous()
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, w.Start, p.End)
}
