package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/agendabi/agendabi/pkg/validate"
)

// CreateRequest books an appointment. SlotNumber is normally left empty and
// assigned by the allocator.
type CreateRequest struct {
	CenterID      uuid.UUID   `json:"center_id"`
	ScheduledAt   time.Time   `json:"scheduled_at"`
	BIRequestType RequestType `json:"bi_request_type"`
	SlotNumber    *int        `json:"slot_number"`
	Description   *string     `json:"description"`
	Notes         *string     `json:"notes"`
}

// UpdateRequest patches a schedule; nil fields are left untouched.
type UpdateRequest struct {
	Description *string   `json:"description"`
	Notes       *string   `json:"notes"`
	BIStatus    *BIStatus `json:"bi_status"`
}

func badSlot(n *int) bool {
	return n != nil && (*n < MinSlotNumber || *n > MaxSlotNumber)
}

func (r *CreateRequest) rules() []validate.Rule {
	return []validate.Rule{
		{Field: "center_id", Message: "center_id is required", Broken: r.CenterID == uuid.Nil},
		{Field: "scheduled_at", Message: "scheduled_at is required", Broken: r.ScheduledAt.IsZero()},
		{Field: "bi_request_type", Message: "bi_request_type must be one of NEW, RENEWAL, LOSS, THEFT, DATA_UPDATE", Broken: !validRequestTypes[r.BIRequestType]},
		{Field: "slot_number", Message: "slot_number must be between 1 and 999", Broken: badSlot(r.SlotNumber)},
		{Field: "description", Message: "description must have at most 500 characters", Broken: validate.TooLong(r.Description, 500)},
		{Field: "notes", Message: "notes must have at most 1000 characters", Broken: validate.TooLong(r.Notes, 1000)},
	}
}

func (r *UpdateRequest) rules() []validate.Rule {
	return []validate.Rule{
		{Field: "description", Message: "description must have at most 500 characters", Broken: validate.TooLong(r.Description, 500)},
		{Field: "notes", Message: "notes must have at most 1000 characters", Broken: validate.TooLong(r.Notes, 1000)},
		{Field: "bi_status", Message: "bi_status is invalid", Broken: r.BIStatus != nil && !validBIStatuses[*r.BIStatus]},
		{Field: "bi_status", Message: "use cancel to cancel an appointment", Broken: r.BIStatus != nil && *r.BIStatus == BICancelled},
	}
}
