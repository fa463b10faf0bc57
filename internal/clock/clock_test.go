package clock

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/config"
)

func testSchedule(t *testing.T) Schedule {
	t.Helper()
	s, err := ScheduleFromConfig(config.ScheduleConfig{
		Timezone:    "America/New_York",
		MarketOpen:  "09:30",
		MarketClose: "16:00",
		AutoClose:   "15:30",
		EntryTimes:  []string{"10:00", "14:30"},
	})
	require.NoError(t, err)
	return s
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	start := time.Date(2025, 3, 7, 14, 30, 0, 0, time.UTC)
	m, err := NewManager(testSchedule(t), start, start.Add(72*time.Hour), 30*time.Second)
	require.NoError(t, err)
	return m
}

func TestNewManager_Validation(t *testing.T) {
	s := testSchedule(t)
	start := time.Date(2025, 1, 6, 14, 30, 0, 0, time.UTC)

	_, err := NewManager(s, start, start.Add(time.Hour), 0)
	assert.Error(t, err, "zero tick must be rejected")

	_, err = NewManager(s, start, start.Add(-time.Hour), time.Second)
	assert.Error(t, err, "end before start must be rejected")

	_, err = NewManager(s, start, start, time.Second)
	assert.Error(t, err, "empty window must be rejected")

	_, err = NewManager(s, time.Time{}, start, time.Second)
	assert.ErrorIs(t, err, ErrZeroTime)
}

func TestAdvance(t *testing.T) {
	m := newTestManager(t)
	start := m.Now()

	assert.Equal(t, start.Add(30*time.Second), m.Advance())

	_, err := m.AdvanceBy(0)
	assert.True(t, errors.Is(err, ErrNonPositiveAdvance))
	_, err = m.AdvanceBy(-time.Minute)
	assert.ErrorIs(t, err, ErrNonPositiveAdvance)
	assert.Equal(t, start.Add(30*time.Second), m.Now(), "failed advance must not move the cursor")

	next, err := m.AdvanceBy(time.Minute)
	require.NoError(t, err)
	assert.Equal(t, start.Add(90*time.Second), next)
}

func TestHasMoreData(t *testing.T) {
	s := testSchedule(t)
	start := time.Date(2025, 1, 6, 14, 30, 0, 0, time.UTC)
	m, err := NewManager(s, start, start.Add(time.Minute), 30*time.Second)
	require.NoError(t, err)

	ticks := 0
	for m.HasMoreData() {
		ticks++
		m.Advance()
	}
	assert.Equal(t, 2, ticks)
}

func TestIsMarketHours(t *testing.T) {
	m := newTestManager(t)
	tests := []struct {
		name string
		ts   time.Time
		want bool
	}{
		// 2025-03-07 is a Friday in EST (UTC-5).
		{"EST open", time.Date(2025, 3, 7, 14, 30, 0, 0, time.UTC), true},
		{"EST before open", time.Date(2025, 3, 7, 14, 29, 59, 0, time.UTC), false},
		{"EST close is exclusive", time.Date(2025, 3, 7, 21, 0, 0, 0, time.UTC), false},
		{"EST last tick", time.Date(2025, 3, 7, 20, 59, 30, 0, time.UTC), true},
		// 2025-03-10 is a Monday in EDT (UTC-4).
		{"EDT open", time.Date(2025, 3, 10, 13, 30, 0, 0, time.UTC), true},
		{"EDT hour that was open in EST", time.Date(2025, 3, 10, 20, 30, 0, 0, time.UTC), false},
		{"saturday", time.Date(2025, 3, 8, 15, 0, 0, 0, time.UTC), false},
		{"sunday", time.Date(2025, 3, 9, 15, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.IsMarketHours(tt.ts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestZeroTimeIsAnError(t *testing.T) {
	m := newTestManager(t)
	checks := map[string]func(time.Time) (bool, error){
		"market hours": m.IsMarketHours,
		"entry check":  m.IsEntryCheckTime,
		"auto close":   m.IsAutoCloseTime,
	}
	for name, check := range checks {
		t.Run(name, func(t *testing.T) {
			got, err := check(time.Time{})
			assert.ErrorIs(t, err, ErrZeroTime)
			assert.False(t, got)
		})
	}
}

func TestIsEntryCheckTime(t *testing.T) {
	m := newTestManager(t)
	ny := m.Location()

	assert.True(t, must(m.IsEntryCheckTime(time.Date(2025, 3, 7, 10, 0, 0, 0, ny))))
	assert.True(t, must(m.IsEntryCheckTime(time.Date(2025, 3, 7, 14, 30, 0, 0, ny))))
	assert.False(t, must(m.IsEntryCheckTime(time.Date(2025, 3, 7, 10, 0, 30, 0, ny))), "second half of the minute")
	assert.False(t, must(m.IsEntryCheckTime(time.Date(2025, 3, 7, 10, 1, 0, 0, ny))))
	assert.False(t, must(m.IsEntryCheckTime(time.Date(2025, 3, 7, 9, 59, 30, 0, ny))))
	assert.True(t, must(m.IsEntryCheckTime(time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC))), "10:00 EDT")
}

// must unwraps a classification of a non-zero time.
func must(ok bool, err error) bool {
	if err != nil {
		panic(err)
	}
	return ok
}

func TestIsAutoCloseTime(t *testing.T) {
	m := newTestManager(t)
	ny := m.Location()

	assert.False(t, must(m.IsAutoCloseTime(time.Date(2025, 3, 7, 15, 29, 30, 0, ny))))
	assert.True(t, must(m.IsAutoCloseTime(time.Date(2025, 3, 7, 15, 30, 0, 0, ny))))
	assert.True(t, must(m.IsAutoCloseTime(time.Date(2025, 3, 7, 15, 45, 0, 0, ny))))
}

func TestTradingDay(t *testing.T) {
	m := newTestManager(t)
	// 02:00 UTC on the 8th is still the evening of the 7th in New York.
	assert.Equal(t, "2025-03-07", m.TradingDay(time.Date(2025, 3, 8, 2, 0, 0, 0, time.UTC)))
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2025-01-06 15:00:00", time.Date(2025, 1, 6, 15, 0, 0, 0, time.UTC)},
		{"2025-01-06T15:00:00", time.Date(2025, 1, 6, 15, 0, 0, 0, time.UTC)},
		{"2025-01-06T10:00:00-05:00", time.Date(2025, 1, 6, 15, 0, 0, 0, time.UTC)},
		{"2025-01-06 15:00:00.5", time.Date(2025, 1, 6, 15, 0, 0, 500000000, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}

	_, err := ParseTimestamp("")
	assert.ErrorIs(t, err, ErrZeroTime)
	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestNaiveTimestampIsUTCForMarketHours(t *testing.T) {
	m := newTestManager(t)
	ts, err := ParseTimestamp("2025-03-07 14:30:00")
	require.NoError(t, err)
	assert.True(t, must(m.IsMarketHours(ts)), "14:30 UTC is 09:30 EST")
	assert.Equal(t, "2025-03-07 14:30:00.000000000", FormatTimestamp(ts.In(m.Location())))
}

func TestFormatTimestamp_KeepsSubSecondOrder(t *testing.T) {
	base := time.Date(2025, 1, 6, 15, 0, 0, 0, time.UTC)
	early := FormatTimestamp(base.Add(200 * time.Millisecond))
	late := FormatTimestamp(base.Add(700 * time.Millisecond))
	assert.Equal(t, "2025-01-06 15:00:00.700000000", late)
	assert.Less(t, early, late)
	assert.Less(t, "2025-01-06 15:00:00", FormatTimestamp(base.Add(time.Nanosecond)),
		"naive rows written by other tools sort before any later instant")

	back, err := ParseTimestamp(late)
	require.NoError(t, err)
	assert.True(t, back.Equal(base.Add(700*time.Millisecond)))
}
