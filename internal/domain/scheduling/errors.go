package scheduling

import (
	"errors"
	"fmt"

	"github.com/agendabi/agendabi/pkg/validate"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrProtocolConflict is a protocol number collision. Create retries it
	// and only surfaces it once every attempt collided.
	ErrProtocolConflict  = errors.New("protocol number already in use")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError carries per-field messages for a malformed request.
type ValidationError = validate.Errors

// Reason says which booking rule a request broke.
type Reason string

const (
	ReasonTooSoon               Reason = "TooSoon"
	ReasonCenterClosed          Reason = "CenterClosed"
	ReasonOutsideOperatingHours Reason = "OutsideOperatingHours"
	ReasonNoAvailableSlots      Reason = "NoAvailableSlots"
	ReasonDuplicateSchedule     Reason = "DuplicateSchedule"
	ReasonSlotTaken             Reason = "SlotTaken"
	ReasonCenterInactive        Reason = "CenterInactive"
)

// InvalidScheduleError rejects a booking. Only the fields relevant to Reason
// are set.
type InvalidScheduleError struct {
	Reason   Reason `json:"reason"`
	Day      string `json:"day,omitempty"`
	Open     string `json:"open,omitempty"`
	Close    string `json:"close,omitempty"`
	Date     string `json:"date,omitempty"`
	Earliest string `json:"earliest,omitempty"`
	Slot     int    `json:"slot,omitempty"`
}

func (e *InvalidScheduleError) Error() string {
	switch e.Reason {
	case ReasonTooSoon:
		return fmt.Sprintf("appointments must be booked for %s or later", e.Earliest)
	case ReasonCenterClosed:
		return fmt.Sprintf("center does not attend on %s", e.Day)
	case ReasonOutsideOperatingHours:
		return fmt.Sprintf("center attends between %s and %s", e.Open, e.Close)
	case ReasonNoAvailableSlots:
		return fmt.Sprintf("no available slots on %s", e.Date)
	case ReasonDuplicateSchedule:
		return "an active appointment at this center already exists"
	case ReasonSlotTaken:
		return fmt.Sprintf("slot %d is already taken on %s", e.Slot, e.Date)
	case ReasonCenterInactive:
		return "center is not accepting appointments"
	}
	return "invalid schedule: " + string(e.Reason)
}

func invalid(reason Reason) *InvalidScheduleError {
	return &InvalidScheduleError{Reason: reason}
}

// ReasonOf returns the reason of an InvalidScheduleError anywhere in err's
// chain, or "".
func ReasonOf(err error) Reason {
	var ise *InvalidScheduleError
	if errors.As(err, &ise) {
		return ise.Reason
	}
	return ""
}
