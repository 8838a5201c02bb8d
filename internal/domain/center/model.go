package center

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type classifies the institution running a center.
type Type string

const (
	TypeHealth         Type = "HEALTH"
	TypeAdministrative Type = "ADMINISTRATIVE"
	TypeEducation      Type = "EDUCATION"
	TypeSecurity       Type = "SECURITY"
	TypeOther          Type = "OTHER"
)

var validTypes = map[Type]bool{
	TypeHealth: true, TypeAdministrative: true, TypeEducation: true,
	TypeSecurity: true, TypeOther: true,
}

// Province is one of the Angolan provinces a center can be located in.
type Province string

var validProvinces = map[Province]bool{
	"BENGO": true, "BENGUELA": true, "BIE": true, "CABINDA": true,
	"CUANDO_CUBANGO": true, "CUANZA_NORTE": true, "CUANZA_SUL": true, "CUNENE": true,
	"HUAMBO": true, "HUILA": true, "LUANDA": true, "LUNDA_NORTE": true,
	"LUNDA_SUL": true, "MALANJE": true, "MOXICO": true, "NAMIBE": true,
	"UIGE": true, "ZAIRE": true,
}

const (
	DefaultOpeningTime = "08:00"
	DefaultClosingTime = "18:00"
	DefaultCapacity    = 20
	MinCapacity        = 1
	MaxCapacity        = 100
)

var weekdayNames = map[string]time.Weekday{
	"SUNDAY": time.Sunday, "MONDAY": time.Monday, "TUESDAY": time.Tuesday,
	"WEDNESDAY": time.Wednesday, "THURSDAY": time.Thursday, "FRIDAY": time.Friday,
	"SATURDAY": time.Saturday,
}

// DefaultAttendanceDays is Monday to Friday.
func DefaultAttendanceDays() []string {
	return []string{"MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY"}
}

// Center maps to the center table.
type Center struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ManagerID      uuid.UUID `db:"manager_id" json:"manager_id"`
	Name           string    `db:"name" json:"name"`
	Description    *string   `db:"description" json:"description,omitempty"`
	Type           Type      `db:"type" json:"type"`
	Address        string    `db:"address" json:"address"`
	Province       Province  `db:"province" json:"province"`
	Phone          *string   `db:"phone" json:"phone,omitempty"`
	Email          *string   `db:"email" json:"email,omitempty"`
	OpeningTime    string    `db:"opening_time" json:"opening_time"`
	ClosingTime    string    `db:"closing_time" json:"closing_time"`
	AttendanceDays []string  `db:"attendance_days" json:"attendance_days"`
	DailyCapacity  int       `db:"daily_capacity" json:"daily_capacity"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// OpensOn reports whether day is one of the center's attendance days.
func (c *Center) OpensOn(day time.Weekday) bool {
	for _, name := range c.AttendanceDays {
		if d, ok := weekdayNames[strings.ToUpper(strings.TrimSpace(name))]; ok && d == day {
			return true
		}
	}
	return false
}

// Hours returns opening and closing time as minutes since midnight.
func (c *Center) Hours() (open, close int, err error) {
	if open, err = MinutesOfDay(c.OpeningTime); err != nil {
		return 0, 0, fmt.Errorf("opening time: %w", err)
	}
	if close, err = MinutesOfDay(c.ClosingTime); err != nil {
		return 0, 0, fmt.Errorf("closing time: %w", err)
	}
	return open, close, nil
}

var hhmmPattern = regexp.MustCompile(`^([0-1]\d|2[0-3]):[0-5]\d$`)

// MinutesOfDay converts "HH:MM" into minutes since midnight.
func MinutesOfDay(hhmm string) (int, error) {
	if !hhmmPattern.MatchString(hhmm) {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", hhmm)
	}
	h, _ := strconv.Atoi(hhmm[:2])
	m, _ := strconv.Atoi(hhmm[3:])
	return h*60 + m, nil
}

// Statistics summarizes a center's bookings by status.
type Statistics struct {
	CenterID       uuid.UUID      `json:"center_id"`
	TotalSchedules int            `json:"total_schedules"`
	ByStatus       map[string]int `json:"by_status"`
	Capacity       int            `json:"capacity"`
}

// Filter narrows List results; nil fields are ignored.
type Filter struct {
	Province *Province
	Type     *Type
	Active   *bool
}
