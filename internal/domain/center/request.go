package center

import (
	"regexp"

	"github.com/agendabi/agendabi/pkg/validate"
)

var phonePattern = regexp.MustCompile(`^\+244\d{9}$`)

// CreateRequest is the payload for registering a center. Optional schedule
// fields fall back to the defaults.
type CreateRequest struct {
	Name           string   `json:"name"`
	Description    *string  `json:"description"`
	Type           Type     `json:"type"`
	Address        string   `json:"address"`
	Province       Province `json:"province"`
	Phone          *string  `json:"phone"`
	Email          *string  `json:"email"`
	OpeningTime    *string  `json:"opening_time"`
	ClosingTime    *string  `json:"closing_time"`
	AttendanceDays []string `json:"attendance_days"`
	DailyCapacity  *int     `json:"daily_capacity"`
}

// UpdateRequest is a partial patch; nil fields are left alone.
type UpdateRequest struct {
	Name           *string   `json:"name"`
	Description    *string   `json:"description"`
	Type           *Type     `json:"type"`
	Address        *string   `json:"address"`
	Province       *Province `json:"province"`
	Phone          *string   `json:"phone"`
	Email          *string   `json:"email"`
	OpeningTime    *string   `json:"opening_time"`
	ClosingTime    *string   `json:"closing_time"`
	AttendanceDays []string  `json:"attendance_days"`
	DailyCapacity  *int      `json:"daily_capacity"`
}

func validWeekdays(days []string) bool {
	for _, d := range days {
		if _, ok := weekdayNames[d]; !ok {
			return false
		}
	}
	return true
}

func badTime(s *string) bool {
	return s != nil && !hhmmPattern.MatchString(*s)
}

func badCapacity(n *int) bool {
	return n != nil && (*n < MinCapacity || *n > MaxCapacity)
}

func (r *CreateRequest) rules() []validate.Rule {
	return []validate.Rule{
		{Field: "name", Message: "name must have between 3 and 100 characters", Broken: validate.OutsideLen(r.Name, 3, 100)},
		{Field: "description", Message: "description must have at most 500 characters", Broken: validate.TooLong(r.Description, 500)},
		{Field: "type", Message: "type is invalid", Broken: !validTypes[r.Type]},
		{Field: "address", Message: "address must have between 5 and 255 characters", Broken: validate.OutsideLen(r.Address, 5, 255)},
		{Field: "province", Message: "province is invalid", Broken: !validProvinces[r.Province]},
		{Field: "phone", Message: "phone must match +244 followed by 9 digits", Broken: validate.NotMatching(r.Phone, phonePattern)},
		{Field: "email", Message: "email is invalid", Broken: validate.BadEmail(r.Email)},
		{Field: "opening_time", Message: "opening_time must be HH:MM", Broken: badTime(r.OpeningTime)},
		{Field: "closing_time", Message: "closing_time must be HH:MM", Broken: badTime(r.ClosingTime)},
		{Field: "attendance_days", Message: "attendance_days contains an unknown weekday", Broken: !validWeekdays(r.AttendanceDays)},
		{Field: "daily_capacity", Message: "daily_capacity must be between 1 and 100", Broken: badCapacity(r.DailyCapacity)},
	}
}

func (r *UpdateRequest) rules() []validate.Rule {
	return []validate.Rule{
		{Field: "name", Message: "name must have between 3 and 100 characters", Broken: r.Name != nil && validate.OutsideLen(*r.Name, 3, 100)},
		{Field: "description", Message: "description must have at most 500 characters", Broken: validate.TooLong(r.Description, 500)},
		{Field: "type", Message: "type is invalid", Broken: r.Type != nil && !validTypes[*r.Type]},
		{Field: "address", Message: "address must have between 5 and 255 characters", Broken: r.Address != nil && validate.OutsideLen(*r.Address, 5, 255)},
		{Field: "province", Message: "province is invalid", Broken: r.Province != nil && !validProvinces[*r.Province]},
		{Field: "phone", Message: "phone must match +244 followed by 9 digits", Broken: validate.NotMatching(r.Phone, phonePattern)},
		{Field: "email", Message: "email is invalid", Broken: validate.BadEmail(r.Email)},
		{Field: "opening_time", Message: "opening_time must be HH:MM", Broken: badTime(r.OpeningTime)},
		{Field: "closing_time", Message: "closing_time must be HH:MM", Broken: badTime(r.ClosingTime)},
		{Field: "attendance_days", Message: "attendance_days contains an unknown weekday", Broken: !validWeekdays(r.AttendanceDays)},
		{Field: "daily_capacity", Message: "daily_capacity must be between 1 and 100", Broken: badCapacity(r.DailyCapacity)},
	}
}

// build turns a validated request into a center with defaults applied.
func (r *CreateRequest) build() *Center {
	c := &Center{
		Name:           r.Name,
		Description:    r.Description,
		Type:           r.Type,
		Address:        r.Address,
		Province:       r.Province,
		Phone:          r.Phone,
		Email:          r.Email,
		OpeningTime:    DefaultOpeningTime,
		ClosingTime:    DefaultClosingTime,
		AttendanceDays: DefaultAttendanceDays(),
		DailyCapacity:  DefaultCapacity,
		Active:         true,
	}
	if r.OpeningTime != nil {
		c.OpeningTime = *r.OpeningTime
	}
	if r.ClosingTime != nil {
		c.ClosingTime = *r.ClosingTime
	}
	if len(r.AttendanceDays) > 0 {
		c.AttendanceDays = r.AttendanceDays
	}
	if r.DailyCapacity != nil {
		c.DailyCapacity = *r.DailyCapacity
	}
	return c
}

// apply merges the patch into c.
func (r *UpdateRequest) apply(c *Center) {
	if r.Name != nil {
		c.Name = *r.Name
	}
	if r.Description != nil {
		c.Description = r.Description
	}
	if r.Type != nil {
		c.Type = *r.Type
	}
	if r.Address != nil {
		c.Address = *r.Address
	}
	if r.Province != nil {
		c.Province = *r.Province
	}
	if r.Phone != nil {
		c.Phone = r.Phone
	}
	if r.Email != nil {
		c.Email = r.Email
	}
	if r.OpeningTime != nil {
		c.OpeningTime = *r.OpeningTime
	}
	if r.ClosingTime != nil {
		c.ClosingTime = *r.ClosingTime
	}
	if len(r.AttendanceDays) > 0 {
		c.AttendanceDays = r.AttendanceDays
	}
	if r.DailyCapacity != nil {
		c.DailyCapacity = *r.DailyCapacity
	}
}
