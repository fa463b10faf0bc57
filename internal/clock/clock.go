// Package clock owns simulated time for a replay: the cursor, the tick, and the
// exchange-calendar questions asked of a timestamp.
package clock

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/config"
)

var (
	// ErrNonPositiveAdvance is returned when asked to move time by zero or less.
	ErrNonPositiveAdvance = errors.New("advance step must be positive")
	// ErrZeroTime is returned when a zero time.Time is classified or parsed.
	ErrZeroTime = errors.New("zero timestamp")
)

// Schedule holds exchange session times as minutes after local midnight.
type Schedule struct {
	Location   *time.Location
	Open       int
	Close      int
	AutoClose  int
	EntryTimes []int
}

// ScheduleFromConfig resolves the configured timezone and clock strings.
func ScheduleFromConfig(c config.ScheduleConfig) (Schedule, error) {
	tz := c.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Schedule{}, fmt.Errorf("loading timezone %q: %w", tz, err)
	}
	open, err := config.ParseClock(c.MarketOpen)
	if err != nil {
		return Schedule{}, fmt.Errorf("market open: %w", err)
	}
	closing, err := config.ParseClock(c.MarketClose)
	if err != nil {
		return Schedule{}, fmt.Errorf("market close: %w", err)
	}
	auto, err := config.ParseClock(c.AutoClose)
	if err != nil {
		return Schedule{}, fmt.Errorf("auto close: %w", err)
	}
	entries := make([]int, 0, len(c.EntryTimes))
	for _, et := range c.EntryTimes {
		m, err := config.ParseClock(et)
		if err != nil {
			return Schedule{}, fmt.Errorf("entry time %q: %w", et, err)
		}
		entries = append(entries, m)
	}
	return Schedule{Location: loc, Open: open, Close: closing, AutoClose: auto, EntryTimes: entries}, nil
}

// Manager is the TimeManager of a replay. It is owned by a single run and is
// not safe for concurrent use.
type Manager struct {
	schedule Schedule
	current  time.Time
	end      time.Time
	tick     time.Duration
}

// NewManager creates a cursor at start that runs until end in steps of tick.
func NewManager(schedule Schedule, start, end time.Time, tick time.Duration) (*Manager, error) {
	if schedule.Location == nil {
		return nil, errors.New("schedule location is required")
	}
	if tick <= 0 {
		return nil, fmt.Errorf("tick must be > 0 (got %v)", tick)
	}
	if start.IsZero() || end.IsZero() {
		return nil, ErrZeroTime
	}
	if !end.After(start) {
		return nil, fmt.Errorf("end %s must be after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	if schedule.Open >= schedule.Close {
		return nil, fmt.Errorf("market open must precede market close")
	}
	return &Manager{
		schedule: schedule,
		current:  start,
		end:      end,
		tick:     tick,
	}, nil
}

// Now returns the simulated current time.
func (m *Manager) Now() time.Time {
	return m.current
}

// Tick returns the configured step.
func (m *Manager) Tick() time.Duration {
	return m.tick
}

// Location returns the exchange timezone.
func (m *Manager) Location() *time.Location {
	return m.schedule.Location
}

// Advance moves the cursor forward by one tick.
func (m *Manager) Advance() time.Time {
	m.current = m.current.Add(m.tick)
	return m.current
}

// AdvanceBy moves the cursor forward by d. Time never rewinds.
func (m *Manager) AdvanceBy(d time.Duration) (time.Time, error) {
	if d <= 0 {
		return m.current, fmt.Errorf("%w: %v", ErrNonPositiveAdvance, d)
	}
	m.current = m.current.Add(d)
	return m.current, nil
}

// HasMoreData reports whether the cursor is still before the end of the window.
func (m *Manager) HasMoreData() bool {
	return m.current.Before(m.end)
}

// IsMarketHours reports whether t falls on a weekday between the open
// (inclusive) and the close (exclusive) in exchange time.
func (m *Manager) IsMarketHours(t time.Time) (bool, error) {
	if t.IsZero() {
		return false, ErrZeroTime
	}
	local := t.In(m.schedule.Location)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false, nil
	}
	minute := minuteOfDay(local)
	return minute >= m.schedule.Open && minute < m.schedule.Close, nil
}

// IsEntryCheckTime reports whether t lands exactly on a configured checkpoint minute.
func (m *Manager) IsEntryCheckTime(t time.Time) (bool, error) {
	if t.IsZero() {
		return false, ErrZeroTime
	}
	local := t.In(m.schedule.Location)
	if local.Second() != 0 || local.Nanosecond() != 0 {
		return false, nil
	}
	minute := minuteOfDay(local)
	for _, et := range m.schedule.EntryTimes {
		if et == minute {
			return true, nil
		}
	}
	return false, nil
}

// IsAutoCloseTime reports whether t is at or after the must-close time of its day.
func (m *Manager) IsAutoCloseTime(t time.Time) (bool, error) {
	if t.IsZero() {
		return false, ErrZeroTime
	}
	return minuteOfDay(t.In(m.schedule.Location)) >= m.schedule.AutoClose, nil
}

// TradingDay returns the exchange-local calendar date of t.
func (m *Manager) TradingDay(t time.Time) string {
	return t.In(m.schedule.Location).Format("2006-01-02")
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

var naiveLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// ParseTimestamp parses a stored timestamp. Values with an offset keep it;
// values without one are treated as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrZeroTime
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05.999999999-07:00", s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// storedLayout keeps nine fractional digits so stored strings sort in time
// order and sub-second records are never rounded onto an earlier second.
const storedLayout = "2006-01-02 15:04:05.000000000"

// FormatTimestamp renders t as naive UTC, the layout the SQL stores keep.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(storedLayout)
}
