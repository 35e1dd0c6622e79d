package timeutils

import (
	"fmt"
	"time"
)

// DefaultDisplayZone is the reporting timezone used when none is configured.
const DefaultDisplayZone = "Asia/Seoul"

// NowUTC returns the current time in UTC. All internally stored and compared
// timestamps are UTC; conversion happens only at reporting boundaries.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// Converter converts internal UTC timestamps into the configured display
// zone. The zero Converter displays UTC.
type Converter struct {
	loc *time.Location
}

func (c Converter) location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// NewConverter loads the named zone. An empty name selects the default.
func NewConverter(zone string) (Converter, error) {
	if zone == "" {
		zone = DefaultDisplayZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Converter{}, fmt.Errorf("error loading display timezone %q: %w", zone, err)
	}
	return Converter{loc: loc}, nil
}

// Display converts t into the display zone.
func (c Converter) Display(t time.Time) time.Time {
	return t.In(c.location())
}

// FormatDisplay renders t in the display zone as RFC 3339.
func (c Converter) FormatDisplay(t time.Time) string {
	return t.In(c.location()).Format(time.RFC3339)
}

// DayStartUTC truncates t to the beginning of its UTC day.
func DayStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthKey formats t's UTC month as YYYY-MM, the statistics rollup key.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
