package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DDPL-Work/traveldesk/internal/domain"
	"github.com/DDPL-Work/traveldesk/internal/gateway"
	"github.com/DDPL-Work/traveldesk/internal/kafka"
	"github.com/DDPL-Work/traveldesk/internal/repository"
)

// ActorSystem marks transitions driven by the poll worker rather than a
// person.
const ActorSystem = "system"

type BookingUseCase interface {
	CreateBookingRequest(ctx context.Context, input CreateBookingInput) (*domain.BookingRequest, error)
	GetBookingRequest(ctx context.Context, id string) (*domain.BookingRequest, error)
	Approve(ctx context.Context, id, approverID, comments string) (*domain.BookingRequest, error)
	Reject(ctx context.Context, id, approverID, comments string) (*domain.BookingRequest, error)
	BeginExecution(ctx context.Context, id, actor string) (*domain.BookingRequest, error)
	RefreshTicketPending(ctx context.Context) ([]domain.BookingRequest, error)
	ListAudit(ctx context.Context, bookingID string) ([]domain.TransitionAudit, error)
}

type Cache interface {
	AcquireExecutionLock(ctx context.Context, bookingID string, ttl time.Duration) (bool, error)
	ReleaseExecutionLock(ctx context.Context, bookingID string) error
	GetAccount(ctx context.Context, corporateID string) (*domain.CorporateAccount, error)
	SetAccount(ctx context.Context, account *domain.CorporateAccount) error
	InvalidateAccount(ctx context.Context, corporateID string) error
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type BookingService struct {
	bookings           repository.BookingRepository
	ledger             repository.LedgerRepository
	cache              Cache
	provider           gateway.ReservationProvider
	producer           Producer
	bookingTopic       string
	notificationsTopic string
	lockTTL            time.Duration
	ticketWaitBudget   time.Duration
	logger             *zap.Logger
	now                func() time.Time
}

type BookingServiceOption func(*BookingService)

func WithNotificationsTopic(topic string) BookingServiceOption {
	return func(s *BookingService) {
		s.notificationsTopic = topic
	}
}

func NewBookingService(
	bookings repository.BookingRepository,
	ledger repository.LedgerRepository,
	cache Cache,
	provider gateway.ReservationProvider,
	producer Producer,
	bookingTopic string,
	lockTTL, ticketWaitBudget time.Duration,
	logger *zap.Logger,
	opts ...BookingServiceOption,
) *BookingService {
	service := &BookingService{
		bookings:         bookings,
		ledger:           ledger,
		cache:            cache,
		provider:         provider,
		producer:         producer,
		bookingTopic:     bookingTopic,
		lockTTL:          lockTTL,
		ticketWaitBudget: ticketWaitBudget,
		logger:           logger,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

type CreateBookingInput struct {
	CorporateID string             `json:"corporate_id"`
	TravelerID  string             `json:"traveler_id"`
	BookingType domain.BookingType `json:"booking_type"`
	TripType    domain.TripType    `json:"trip_type"`
	Fare        domain.FareSnapshot `json:"fare"`
	Segments    []domain.Segment   `json:"segments"`
	Travellers  []domain.Traveller `json:"travellers"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
	Currency    string             `json:"currency"`
}

func (s *BookingService) CreateBookingRequest(ctx context.Context, input CreateBookingInput) (*domain.BookingRequest, error) {
	if input.CorporateID == "" {
		return nil, fmt.Errorf("%w: corporate id is required", domain.ErrValidation)
	}
	if input.TravelerID == "" {
		return nil, fmt.Errorf("%w: traveler id is required", domain.ErrValidation)
	}
	if len(input.Segments) == 0 {
		return nil, fmt.Errorf("%w: at least one segment is required", domain.ErrValidation)
	}
	if len(input.Travellers) == 0 {
		return nil, fmt.Errorf("%w: at least one traveller is required", domain.ErrValidation)
	}
	if !input.TotalAmount.IsPositive() {
		return nil, fmt.Errorf("%w: total amount must be positive", domain.ErrValidation)
	}

	if _, err := s.account(ctx, input.CorporateID); err != nil {
		return nil, err
	}

	booking := &domain.BookingRequest{
		ID:           uuid.NewString(),
		CorporateID:  input.CorporateID,
		TravelerID:   input.TravelerID,
		BookingType:  input.BookingType,
		TripType:     input.TripType,
		FareSnapshot: input.Fare,
		Segments:     input.Segments,
		Travellers:   input.Travellers,
		Pricing: domain.PricingSnapshot{
			TotalAmount: input.TotalAmount,
			Currency:    input.Currency,
		},
	}

	if err := s.bookings.Create(ctx, booking); err != nil {
		return nil, err
	}

	s.publish(ctx, "booking_requested", booking, "")
	return booking, nil
}

func (s *BookingService) GetBookingRequest(ctx context.Context, id string) (*domain.BookingRequest, error) {
	return s.bookings.GetByID(ctx, id)
}

func (s *BookingService) Approve(ctx context.Context, id, approverID, comments string) (*domain.BookingRequest, error) {
	if approverID == "" {
		return nil, fmt.Errorf("%w: approver id is required", domain.ErrValidation)
	}

	updated, err := s.bookings.UpdateDecision(ctx, id, domain.RequestStatusApproved, approverID, comments)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "booking_approved", updated, "")
	return updated, nil
}

func (s *BookingService) Reject(ctx context.Context, id, approverID, comments string) (*domain.BookingRequest, error) {
	if approverID == "" {
		return nil, fmt.Errorf("%w: approver id is required", domain.ErrValidation)
	}

	updated, err := s.bookings.UpdateDecision(ctx, id, domain.RequestStatusRejected, approverID, comments)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "booking_rejected", updated, comments)
	return updated, nil
}

func (s *BookingService) ListAudit(ctx context.Context, bookingID string) ([]domain.TransitionAudit, error) {
	return s.bookings.ListAudit(ctx, bookingID)
}

// account reads a corporate account through the cache. Cached balances are
// display-only; the ledger re-checks under lock before money moves.
func (s *BookingService) account(ctx context.Context, corporateID string) (*domain.CorporateAccount, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetAccount(ctx, corporateID); err == nil && cached != nil {
			return cached, nil
		}
	}

	account, err := s.ledger.GetAccount(ctx, corporateID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.SetAccount(ctx, account)
	}
	return account, nil
}

func (s *BookingService) publish(ctx context.Context, eventType string, b *domain.BookingRequest, reason string) {
	if s.producer == nil || s.bookingTopic == "" {
		return
	}
	event := kafka.BookingEvent{
		Type:            eventType,
		BookingID:       b.ID,
		CorporateID:     b.CorporateID,
		TravelerID:      b.TravelerID,
		RequestStatus:   string(b.RequestStatus),
		ExecutionStatus: string(b.ExecutionStatus),
		Reason:          reason,
		OccurredAt:      s.now(),
	}
	if err := s.producer.Publish(ctx, s.bookingTopic, b.ID, event); err != nil {
		s.logger.Warn("failed to publish booking event",
			zap.String("type", eventType),
			zap.String("booking_id", b.ID),
			zap.Error(err))
	}
	if s.notificationsTopic != "" {
		if err := s.producer.Publish(ctx, s.notificationsTopic, b.ID, event); err != nil {
			s.logger.Warn("failed to publish notification event",
				zap.String("type", eventType),
				zap.String("booking_id", b.ID),
				zap.Error(err))
		}
	}
}

var _ BookingUseCase = (*BookingService)(nil)
