package plan

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/p-n-ai/pai-planner/internal/learner"
)

// RestDays tells the scheduler which days take no new work.
type RestDays interface {
	IsRestDay(d civil.Date) bool
}

// HolidayChecker reports official holidays and school breaks.
type HolidayChecker interface {
	IsHoliday(d civil.Date) bool
}

// Calendar combines a learner's study days with official holidays.
type Calendar struct {
	studyDays map[time.Weekday]bool
	holidays  HolidayChecker
}

// NewCalendar builds a calendar. No study days means every weekday counts;
// holidays may be nil.
func NewCalendar(studyDays []learner.Weekday, holidays HolidayChecker) Calendar {
	c := Calendar{holidays: holidays}
	if len(studyDays) > 0 {
		c.studyDays = make(map[time.Weekday]bool, len(studyDays))
		for _, d := range studyDays {
			c.studyDays[time.Weekday(d)] = true
		}
	}
	return c
}

// IsRestDay implements RestDays.
func (c Calendar) IsRestDay(d civil.Date) bool {
	if c.studyDays != nil && !c.studyDays[Weekday(d)] {
		return true
	}
	return c.holidays != nil && c.holidays.IsHoliday(d)
}

// Weekday returns the day of the week of d.
func Weekday(d civil.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}

// Today returns the calendar date of now in loc.
func Today(now time.Time, loc *time.Location) civil.Date {
	if loc == nil {
		loc = time.UTC
	}
	return civil.DateOf(now.In(loc))
}
