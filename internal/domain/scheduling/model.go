package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Status is the coarse appointment state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

var validStatuses = map[Status]bool{
	StatusPending: true, StatusConfirmed: true, StatusInProgress: true,
	StatusCompleted: true, StatusCancelled: true,
}

// Terminal reports whether no further status change is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// consumesCapacity lists the statuses counted against a center's daily capacity.
var consumesCapacity = []Status{StatusPending, StatusConfirmed, StatusInProgress}

// blocksRebooking lists the statuses that keep a requester from booking the
// same center again.
var blocksRebooking = []Status{StatusPending, StatusConfirmed}

// nextStatus is the forward path of the appointment; CANCELLED is reachable
// from any non-terminal state through Cancel.
var nextStatus = map[Status]Status{
	StatusPending:    StatusConfirmed,
	StatusConfirmed:  StatusInProgress,
	StatusInProgress: StatusCompleted,
}

// BIStatus tracks the identity document itself and is mirrored by the
// protocol.
type BIStatus string

const (
	BIScheduled           BIStatus = "SCHEDULED"
	BIConfirmed           BIStatus = "CONFIRMED"
	BIBiometricsCollected BIStatus = "BIOMETRICS_COLLECTED"
	BIProcessing          BIStatus = "PROCESSING"
	BIReadyForPickup      BIStatus = "READY_FOR_PICKUP"
	BICancelled           BIStatus = "CANCELLED"
)

var validBIStatuses = map[BIStatus]bool{
	BIScheduled: true, BIConfirmed: true, BIBiometricsCollected: true,
	BIProcessing: true, BIReadyForPickup: true, BICancelled: true,
}

type RequestType string

const (
	RequestNew        RequestType = "NEW"
	RequestRenewal    RequestType = "RENEWAL"
	RequestLoss       RequestType = "LOSS"
	RequestTheft      RequestType = "THEFT"
	RequestDataUpdate RequestType = "DATA_UPDATE"
)

var validRequestTypes = map[RequestType]bool{
	RequestNew: true, RequestRenewal: true, RequestLoss: true,
	RequestTheft: true, RequestDataUpdate: true,
}

const (
	MinSlotNumber = 1
	MaxSlotNumber = 999
)

// Schedule maps to the schedule table. ScheduledDay is the local calendar
// date of ScheduledAt, held as UTC midnight.
type Schedule struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	RequesterID   uuid.UUID   `db:"requester_id" json:"requester_id"`
	CenterID      uuid.UUID   `db:"center_id" json:"center_id"`
	ScheduledAt   time.Time   `db:"scheduled_at" json:"scheduled_at"`
	ScheduledDay  time.Time   `db:"scheduled_day" json:"-"`
	BIRequestType RequestType `db:"bi_request_type" json:"bi_request_type"`
	SlotNumber    int         `db:"slot_number" json:"slot_number"`
	Description   *string     `db:"description" json:"description,omitempty"`
	Notes         *string     `db:"notes" json:"notes,omitempty"`
	Status        Status      `db:"status" json:"status"`
	BIStatus      BIStatus    `db:"bi_status" json:"bi_status"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
}

// Protocol maps to the protocol table, one per schedule.
type Protocol struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	Number         string     `db:"protocol_number" json:"protocol_number"`
	ScheduleID     uuid.UUID  `db:"schedule_id" json:"schedule_id"`
	PreviousStatus BIStatus   `db:"previous_status" json:"previous_status"`
	CurrentStatus  BIStatus   `db:"current_status" json:"current_status"`
	RegisteredAt   time.Time  `db:"registered_at" json:"registered_at"`
	ProcessedAt    *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// HistoryEntry is one protocol status change. FromStatus is nil for the
// entry written at creation.
type HistoryEntry struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ProtocolID uuid.UUID `db:"protocol_id" json:"protocol_id"`
	FromStatus *BIStatus `db:"from_status" json:"from_status,omitempty"`
	ToStatus   BIStatus  `db:"to_status" json:"to_status"`
	ChangedAt  time.Time `db:"changed_at" json:"changed_at"`
	ChangedBy  *string   `db:"changed_by" json:"changed_by,omitempty"`
}

// ProtocolSummary is the protocol view returned alongside a schedule.
type ProtocolSummary struct {
	Number        string    `json:"protocol_number"`
	CurrentStatus BIStatus  `json:"current_status"`
	RegisteredAt  time.Time `json:"registered_at"`
}

type ScheduleWithProtocol struct {
	Schedule
	Protocol *ProtocolSummary `json:"protocol,omitempty"`
}

func summarize(p *Protocol) *ProtocolSummary {
	if p == nil {
		return nil
	}
	return &ProtocolSummary{Number: p.Number, CurrentStatus: p.CurrentStatus, RegisteredAt: p.RegisteredAt}
}

// ProtocolWithHistory is a protocol together with its full audit trail.
type ProtocolWithHistory struct {
	Protocol
	History []*HistoryEntry `json:"history"`
}

// Filter narrows schedule reads; nil fields are ignored.
type Filter struct {
	ID             *uuid.UUID
	RequesterID    *uuid.UUID
	CenterID       *uuid.UUID
	Status         *Status
	ProtocolNumber *string
}
