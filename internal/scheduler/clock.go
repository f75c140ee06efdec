package scheduler

import (
	"fmt"
	"time"

	"github.com/scmhub/calendar"
)

// MarketClock answers whether the NYSE session is open.
type MarketClock struct {
	openMin  int
	closeMin int
	location *time.Location
	nyse     *calendar.Calendar
}

// NewMarketClock parses open and close as HH:MM in loc.
func NewMarketClock(open, close string, loc *time.Location) (*MarketClock, error) {
	if loc == nil {
		loc = time.UTC
	}
	o, err := minuteOfDay(open)
	if err != nil {
		return nil, err
	}
	c, err := minuteOfDay(close)
	if err != nil {
		return nil, err
	}
	if o >= c {
		return nil, fmt.Errorf("open %s is not before close %s", open, close)
	}
	return &MarketClock{
		openMin:  o,
		closeMin: c,
		location: loc,
		nyse:     calendar.XNYS(),
	}, nil
}

func minuteOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", hhmm, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// IsMarketDay checks if t falls on a trading day (not weekend/holiday).
func (m *MarketClock) IsMarketDay(t time.Time) bool {
	// Check at noon in the market timezone to ensure correct date matching
	local := t.In(m.location)
	noon := time.Date(local.Year(), local.Month(), local.Day(), 12, 0, 0, 0, m.location)
	return m.nyse.IsBusinessDay(noon)
}

// IsMarketOpen reports whether t is inside the regular session.
func (m *MarketClock) IsMarketOpen(t time.Time) bool {
	if !m.IsMarketDay(t) {
		return false
	}
	local := t.In(m.location)
	mins := local.Hour()*60 + local.Minute()
	return mins >= m.openMin && mins < m.closeMin
}

// Location returns the market timezone.
func (m *MarketClock) Location() *time.Location {
	return m.location
}
