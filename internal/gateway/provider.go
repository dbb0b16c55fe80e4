package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/DDPL-Work/traveldesk/internal/domain"
)

// ExecuteRequest carries everything the provider needs to execute a
// reservation. The idempotency key is stable per booking so provider-side
// retries never double-book.
type ExecuteRequest struct {
	IdempotencyKey string
	BookingID      string
	TripType       domain.TripType
	Segments       []domain.Segment
	Travellers     []domain.Traveller
	Fare           domain.FareSnapshot
}

type ExecuteOutcome string

const (
	ExecuteAccepted ExecuteOutcome = "ACCEPTED"
	ExecuteRejected ExecuteOutcome = "REJECTED"
)

type ExecuteResponse struct {
	Outcome ExecuteOutcome
	Reason  string
}

type TicketState string

const (
	TicketStatePending  TicketState = "PENDING"
	TicketStateTicketed TicketState = "TICKETED"
	TicketStateFailed   TicketState = "FAILED"
)

// TicketStatus is the provider's view of an in-flight reservation. PNRs are
// set only when the state is ticketed; round trips carry both.
type TicketStatus struct {
	State     TicketState
	PNR       string
	ReturnPNR string
	Reason    string
}

// CancelScope narrows a cancellation to a subset of passengers or segments.
// Empty scope means the whole booking.
type CancelScope struct {
	PassengerIDs []string
	SegmentIdx   []int
}

// ReservationProvider is the adapter contract for the external
// reservation/ticketing backend. Implementations own timeout and retry
// policy; calls here are the only operations that may block on external I/O.
type ReservationProvider interface {
	Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error)
	PollStatus(ctx context.Context, bookingID string) (*TicketStatus, error)
	QuoteCharges(ctx context.Context, bookingID string, kind domain.ChangeKind, scope CancelScope) (decimal.Decimal, error)
	Cancel(ctx context.Context, bookingID string, scope CancelScope) error
	Amend(ctx context.Context, bookingID string, newSegments []domain.Segment) error
	ReleasePNR(ctx context.Context, bookingID string) error
}
