package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ChangeKind string

const (
	ChangeKindFullCancel    ChangeKind = "FULL_CANCEL"
	ChangeKindPartialCancel ChangeKind = "PARTIAL_CANCEL"
	ChangeKindAmend         ChangeKind = "AMEND"
	ChangeKindReleasePNR    ChangeKind = "RELEASE_PNR"
)

type ChangeStatus string

const (
	ChangeStatusQuoted     ChangeStatus = "QUOTED"
	ChangeStatusRequested  ChangeStatus = "REQUESTED"
	ChangeStatusProcessing ChangeStatus = "PROCESSING"
	ChangeStatusCompleted  ChangeStatus = "COMPLETED"
	ChangeStatusFailed     ChangeStatus = "FAILED"
)

// Terminal reports whether the change can no longer advance.
func (s ChangeStatus) Terminal() bool {
	return s == ChangeStatusCompleted || s == ChangeStatusFailed
}

// ChangeRequest is a single amendment action against a ticketed booking.
// It is quoted first so the requester sees the provider charges before
// committing.
type ChangeRequest struct {
	ID                   string
	BookingID            string
	Kind                 ChangeKind
	Status               ChangeStatus
	Charges              decimal.Decimal
	RefundAmount         decimal.Decimal
	FareDifference       decimal.Decimal
	AffectedPassengerIDs []string
	AffectedSegments     []int
	NewSegments          []Segment
	Remarks              string
	RequestedBy          string
	FailureReason        string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ChangeScope selects what an amendment applies to.
type ChangeScope struct {
	PassengerIDs []string
	SegmentIdx   []int
	NewSegments  []Segment
	Remarks      string
}
