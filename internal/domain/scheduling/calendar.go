package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/agendabi/agendabi/internal/domain/center"
)

const dayLayout = "2006-01-02"

// CalendarRules decides whether an instant can be booked at a center. All
// wall-clock comparisons happen in Location.
type CalendarRules struct {
	Location     *time.Location
	MinDaysAhead int
}

func (r CalendarRules) loc() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// Earliest is the first bookable instant: local midnight MinDaysAhead days
// after now.
func (r CalendarRules) Earliest(now time.Time) time.Time {
	local := now.In(r.loc())
	return time.Date(local.Year(), local.Month(), local.Day()+r.MinDaysAhead, 0, 0, 0, 0, r.loc())
}

// Day returns the local calendar date of t as UTC midnight, the form stored in
// scheduled_day.
func (r CalendarRules) Day(t time.Time) time.Time {
	local := t.In(r.loc())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDay reads a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	d, err := time.Parse(dayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}

// Validate runs the lead-time, weekday and opening-hours checks in that order
// and returns the first failure as an *InvalidScheduleError.
func (r CalendarRules) Validate(now, requested time.Time, c *center.Center) error {
	earliest := r.Earliest(now)
	if requested.Before(earliest) || requested.Before(now) {
		return &InvalidScheduleError{Reason: ReasonTooSoon, Earliest: earliest.Format(dayLayout)}
	}

	local := requested.In(r.loc())
	wd := local.Weekday()
	if wd == time.Saturday || wd == time.Sunday || !c.OpensOn(wd) {
		return &InvalidScheduleError{Reason: ReasonCenterClosed, Day: strings.ToUpper(wd.String())}
	}

	open, close, err := c.Hours()
	if err != nil {
		return fmt.Errorf("center %s: %w", c.ID, err)
	}
	if m := local.Hour()*60 + local.Minute(); m < open || m >= close {
		return &InvalidScheduleError{Reason: ReasonOutsideOperatingHours, Open: c.OpeningTime, Close: c.ClosingTime}
	}
	return nil
}
