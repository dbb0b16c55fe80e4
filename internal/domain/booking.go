package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RequestStatus string

const (
	RequestStatusPendingApproval RequestStatus = "PENDING_APPROVAL"
	RequestStatusApproved        RequestStatus = "APPROVED"
	RequestStatusRejected        RequestStatus = "REJECTED"
)

type ExecutionStatus string

const (
	ExecutionStatusNotStarted         ExecutionStatus = "NOT_STARTED"
	ExecutionStatusTicketPending      ExecutionStatus = "TICKET_PENDING"
	ExecutionStatusTicketed           ExecutionStatus = "TICKETED"
	ExecutionStatusFailed             ExecutionStatus = "FAILED"
	ExecutionStatusCancelled          ExecutionStatus = "CANCELLED"
	ExecutionStatusPartiallyCancelled ExecutionStatus = "PARTIALLY_CANCELLED"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

type BookingType string

const (
	BookingTypeFlight BookingType = "FLIGHT"
	BookingTypeHotel  BookingType = "HOTEL"
)

type TripType string

const (
	TripTypeOneway    TripType = "ONEWAY"
	TripTypeRoundTrip TripType = "ROUND_TRIP"
)

// FareSnapshot is the quoted fare captured at search time. It is immutable
// once the request is created and is used instead of re-querying the provider.
type FareSnapshot struct {
	BaseFare   decimal.Decimal `json:"base_fare"`
	Tax        decimal.Decimal `json:"tax"`
	FareClass  string          `json:"fare_class"`
	Refundable bool            `json:"refundable"`
	FareExpiry time.Time       `json:"fare_expiry"`
}

type Segment struct {
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	Carrier       string    `json:"carrier"`
	FlightNumber  string    `json:"flight_number"`
	DepartureTime time.Time `json:"departure_time"`
	ArrivalTime   time.Time `json:"arrival_time"`
	Return        bool      `json:"return"`
	Cancelled     bool      `json:"cancelled"`
}

type Traveller struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Cancelled bool   `json:"cancelled"`
}

type PricingSnapshot struct {
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
}

type BookingRequest struct {
	ID               string
	CorporateID      string
	TravelerID       string
	BookingType      BookingType
	TripType         TripType
	RequestStatus    RequestStatus
	ExecutionStatus  ExecutionStatus
	ApproverID       string
	ApproverComments string
	DecidedAt        *time.Time
	FareSnapshot     FareSnapshot
	Segments         []Segment
	Travellers       []Traveller
	Pricing          PricingSnapshot
	BookingResult    BookingResult
	PaymentStatus    PaymentStatus
	HoldToken        string
	FailureReason    string
	ExecutionStarted *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ActiveTravellers returns the travellers not removed by a partial
// cancellation.
func (b *BookingRequest) ActiveTravellers() []Traveller {
	active := make([]Traveller, 0, len(b.Travellers))
	for _, t := range b.Travellers {
		if !t.Cancelled {
			active = append(active, t)
		}
	}
	return active
}
