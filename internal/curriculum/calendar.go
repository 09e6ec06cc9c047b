package curriculum

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// CalendarFile is the on-disk academic calendar (calendar.yaml).
type CalendarFile struct {
	Holidays []string    `yaml:"holidays"` // recurring, "MM-DD"
	Breaks   []BreakFile `yaml:"breaks"`
}

// BreakFile is a named school break with inclusive "YYYY-MM-DD" bounds.
type BreakFile struct {
	Name  string `yaml:"name"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type monthDay struct {
	month time.Month
	day   int
}

type dateRange struct {
	name       string
	start, end civil.Date
}

// Calendar answers whether a date is an official holiday or in a break.
// The zero value has no holidays.
type Calendar struct {
	holidays map[monthDay]bool
	breaks   []dateRange
}

// NewCalendar parses and validates a calendar file.
func NewCalendar(f CalendarFile) (*Calendar, error) {
	c := &Calendar{holidays: make(map[monthDay]bool, len(f.Holidays))}
	for _, h := range f.Holidays {
		t, err := time.Parse("01-02", h)
		if err != nil {
			return nil, fmt.Errorf("holiday %q: want MM-DD: %w", h, err)
		}
		c.holidays[monthDay{t.Month(), t.Day()}] = true
	}
	for _, b := range f.Breaks {
		start, err := civil.ParseDate(b.Start)
		if err != nil {
			return nil, fmt.Errorf("break %q start: %w", b.Name, err)
		}
		end, err := civil.ParseDate(b.End)
		if err != nil {
			return nil, fmt.Errorf("break %q end: %w", b.Name, err)
		}
		if end.Before(start) {
			return nil, fmt.Errorf("break %q ends before it starts", b.Name)
		}
		c.breaks = append(c.breaks, dateRange{name: b.Name, start: start, end: end})
	}
	return c, nil
}

// IsHoliday reports whether d is a holiday or inside a break.
func (c *Calendar) IsHoliday(d civil.Date) bool {
	if c == nil {
		return false
	}
	if c.holidays[monthDay{d.Month, d.Day}] {
		return true
	}
	for _, b := range c.breaks {
		if !d.Before(b.start) && !d.After(b.end) {
			return true
		}
	}
	return false
}
