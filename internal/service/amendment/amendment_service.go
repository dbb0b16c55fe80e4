package amendment

import (
	"context"
	"errors"
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

type AmendmentUseCase interface {
	CreateChangeRequest(ctx context.Context, bookingID string, kind domain.ChangeKind, scope domain.ChangeScope, actor string) (*domain.ChangeRequest, error)
	CommitChangeRequest(ctx context.Context, changeID, actor string) (*domain.ChangeRequest, error)
	GetChangeRequest(ctx context.Context, id string) (*domain.ChangeRequest, error)
	ListByBooking(ctx context.Context, bookingID string) ([]domain.ChangeRequest, error)
	FailStalled(ctx context.Context) ([]domain.ChangeRequest, error)
}

type Cache interface {
	AcquireAmendmentLock(ctx context.Context, bookingID string, ttl time.Duration) (bool, error)
	ReleaseAmendmentLock(ctx context.Context, bookingID string) error
	InvalidateAccount(ctx context.Context, corporateID string) error
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type AmendmentService struct {
	bookings     repository.BookingRepository
	changes      repository.ChangeRepository
	ledger       repository.LedgerRepository
	cache        Cache
	provider     gateway.ReservationProvider
	producer     Producer
	bookingTopic string
	lockTTL      time.Duration
	stallBudget  time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func NewAmendmentService(
	bookings repository.BookingRepository,
	changes repository.ChangeRepository,
	ledger repository.LedgerRepository,
	cache Cache,
	provider gateway.ReservationProvider,
	producer Producer,
	bookingTopic string,
	lockTTL time.Duration,
	stallBudget time.Duration,
	logger *zap.Logger,
) *AmendmentService {
	return &AmendmentService{
		bookings:     bookings,
		changes:      changes,
		ledger:       ledger,
		cache:        cache,
		provider:     provider,
		producer:     producer,
		bookingTopic: bookingTopic,
		lockTTL:      lockTTL,
		stallBudget:  stallBudget,
		logger:       logger,
		now:          time.Now,
	}
}

// CreateChangeRequest quotes an amendment against a ticketed booking (or a
// ticket_pending one for a PNR release) and persists it as quoted. Commit is
// a separate explicit action so the requester sees the charges first.
func (s *AmendmentService) CreateChangeRequest(ctx context.Context, bookingID string, kind domain.ChangeKind, scope domain.ChangeScope, actor string) (*domain.ChangeRequest, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := checkBookingState(b, kind); err != nil {
		return nil, err
	}
	if kind == domain.ChangeKindAmend && len(scope.NewSegments) == 0 {
		return nil, fmt.Errorf("%w: amend requires new segments", domain.ErrValidation)
	}

	inFlight, err := s.changes.HasNonTerminal(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if inFlight {
		return nil, domain.ErrAmendmentInFlight
	}

	charges, err := s.provider.QuoteCharges(ctx, bookingID, kind, gateway.CancelScope{
		PassengerIDs: scope.PassengerIDs,
		SegmentIdx:   scope.SegmentIdx,
	})
	if err != nil {
		return nil, err
	}

	change := &domain.ChangeRequest{
		ID:                   uuid.NewString(),
		BookingID:            bookingID,
		Kind:                 kind,
		Charges:              charges,
		AffectedPassengerIDs: scope.PassengerIDs,
		AffectedSegments:     scope.SegmentIdx,
		NewSegments:          scope.NewSegments,
		Remarks:              scope.Remarks,
		RequestedBy:          actor,
	}
	if kind == domain.ChangeKindAmend {
		change.FareDifference = charges
	}

	if err := s.changes.Create(ctx, change); err != nil {
		return nil, err
	}

	s.publishChange(ctx, "change_quoted", b, change, "")
	return change, nil
}

func (s *AmendmentService) GetChangeRequest(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	return s.changes.GetByID(ctx, id)
}

func (s *AmendmentService) ListByBooking(ctx context.Context, bookingID string) ([]domain.ChangeRequest, error) {
	return s.changes.ListByBooking(ctx, bookingID)
}

// CommitChangeRequest executes a quoted amendment against the provider and
// settles the ledger. Only one amendment per booking may be in flight.
func (s *AmendmentService) CommitChangeRequest(ctx context.Context, changeID, actor string) (*domain.ChangeRequest, error) {
	change, err := s.changes.GetByID(ctx, changeID)
	if err != nil {
		return nil, err
	}
	if change.Status != domain.ChangeStatusQuoted {
		return nil, domain.ErrInvalidTransition
	}

	b, err := s.bookings.GetByID(ctx, change.BookingID)
	if err != nil {
		return nil, err
	}
	if err := checkBookingState(b, change.Kind); err != nil {
		return nil, err
	}

	if s.cache != nil {
		ok, err := s.cache.AcquireAmendmentLock(ctx, change.BookingID, s.lockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrAmendmentInFlight
		}
		defer func() {
			_ = s.cache.ReleaseAmendmentLock(ctx, change.BookingID)
		}()
	}

	if _, err := s.changes.UpdateStatus(ctx, changeID, domain.ChangeStatusQuoted, domain.ChangeStatusRequested); err != nil {
		return nil, err
	}
	if _, err := s.changes.UpdateStatus(ctx, changeID, domain.ChangeStatusRequested, domain.ChangeStatusProcessing); err != nil {
		return nil, err
	}

	switch change.Kind {
	case domain.ChangeKindFullCancel:
		return s.commitFullCancel(ctx, b, change, actor)
	case domain.ChangeKindPartialCancel:
		return s.commitPartialCancel(ctx, b, change, actor)
	case domain.ChangeKindAmend:
		return s.commitAmend(ctx, b, change, actor)
	case domain.ChangeKindReleasePNR:
		return s.commitReleasePNR(ctx, b, change, actor)
	default:
		return s.fail(ctx, b, change, "unknown change kind")
	}
}

func (s *AmendmentService) commitFullCancel(ctx context.Context, b *domain.BookingRequest, change *domain.ChangeRequest, actor string) (*domain.ChangeRequest, error) {
	if err := s.provider.Cancel(ctx, b.ID, gateway.CancelScope{}); err != nil {
		return s.fail(ctx, b, change, err.Error())
	}

	travellers := markTravellersCancelled(b.Travellers, nil)
	segments := markSegmentsCancelled(b.Segments, nil)
	updated, err := s.bookings.MarkCancelled(ctx, b.ID, actor, domain.ExecutionStatusCancelled, travellers, segments)
	if err != nil {
		return nil, err
	}

	refund := b.Pricing.TotalAmount.Sub(change.Charges)
	if refund.IsNegative() {
		refund = decimal.Zero
	}
	if err := s.refund(ctx, b, change, refund); err != nil {
		return nil, err
	}

	change.RefundAmount = refund
	completed, err := s.changes.Finalize(ctx, change.ID, domain.ChangeStatusCompleted, *change)
	if err != nil {
		return nil, err
	}
	s.publishChange(ctx, "change_completed", updated, completed, "")
	return completed, nil
}

func (s *AmendmentService) commitPartialCancel(ctx context.Context, b *domain.BookingRequest, change *domain.ChangeRequest, actor string) (*domain.ChangeRequest, error) {
	if len(change.AffectedPassengerIDs) == 0 && len(change.AffectedSegments) == 0 {
		return s.fail(ctx, b, change, "partial cancel requires affected passengers or segments")
	}

	err := s.provider.Cancel(ctx, b.ID, gateway.CancelScope{
		PassengerIDs: change.AffectedPassengerIDs,
		SegmentIdx:   change.AffectedSegments,
	})
	if err != nil {
		return s.fail(ctx, b, change, err.Error())
	}

	travellers := markTravellersCancelled(b.Travellers, change.AffectedPassengerIDs)
	segments := markSegmentsCancelled(b.Segments, change.AffectedSegments)
	updated, err := s.bookings.MarkCancelled(ctx, b.ID, actor, domain.ExecutionStatusPartiallyCancelled, travellers, segments)
	if err != nil {
		return nil, err
	}

	refund := cancelledSubsetAmount(b, change).Sub(change.Charges)
	if refund.IsNegative() {
		refund = decimal.Zero
	}
	if err := s.refund(ctx, b, change, refund); err != nil {
		return nil, err
	}

	change.RefundAmount = refund
	completed, err := s.changes.Finalize(ctx, change.ID, domain.ChangeStatusCompleted, *change)
	if err != nil {
		return nil, err
	}
	s.publishChange(ctx, "change_completed", updated, completed, "")
	return completed, nil
}

func (s *AmendmentService) commitAmend(ctx context.Context, b *domain.BookingRequest, change *domain.ChangeRequest, actor string) (*domain.ChangeRequest, error) {
	// A positive fare difference must be covered before the provider call;
	// the hold is rolled back if the amendment does not go through.
	var holdToken string
	if change.FareDifference.IsPositive() {
		hold, err := s.ledger.Reserve(ctx, b.CorporateID, b.ID, change.FareDifference)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientFunds) {
				return s.fail(ctx, b, change, domain.ErrInsufficientFunds.Error())
			}
			return nil, err
		}
		holdToken = hold.Token
	}

	if err := s.provider.Amend(ctx, b.ID, change.NewSegments); err != nil {
		if holdToken != "" {
			if _, relErr := s.ledger.Release(ctx, holdToken); relErr != nil {
				s.logger.Error("failed to release fare difference hold",
					zap.String("change_id", change.ID),
					zap.Error(relErr))
			}
		}
		return s.fail(ctx, b, change, err.Error())
	}

	if holdToken != "" {
		if _, err := s.ledger.Commit(ctx, holdToken); err != nil {
			return nil, err
		}
		if s.cache != nil {
			_ = s.cache.InvalidateAccount(ctx, b.CorporateID)
		}
	} else if change.FareDifference.IsNegative() {
		// Cheaper itinerary: the provider owes the difference back.
		if err := s.refund(ctx, b, change, change.FareDifference.Neg()); err != nil {
			return nil, err
		}
	}

	updated, err := s.bookings.ReplaceSegments(ctx, b.ID, actor, change.NewSegments)
	if err != nil {
		return nil, err
	}

	completed, err := s.changes.Finalize(ctx, change.ID, domain.ChangeStatusCompleted, *change)
	if err != nil {
		return nil, err
	}
	s.publishChange(ctx, "change_completed", updated, completed, "")
	return completed, nil
}

func (s *AmendmentService) commitReleasePNR(ctx context.Context, b *domain.BookingRequest, change *domain.ChangeRequest, actor string) (*domain.ChangeRequest, error) {
	if err := s.provider.ReleasePNR(ctx, b.ID); err != nil {
		return s.fail(ctx, b, change, err.Error())
	}

	if b.HoldToken != "" {
		if _, err := s.ledger.Release(ctx, b.HoldToken); err != nil {
			return nil, err
		}
		if s.cache != nil {
			_ = s.cache.InvalidateAccount(ctx, b.CorporateID)
		}
	}

	updated, err := s.bookings.MarkFailed(ctx, b.ID, actor, "reservation released back to provider")
	if err != nil {
		return nil, err
	}

	completed, err := s.changes.Finalize(ctx, change.ID, domain.ChangeStatusCompleted, *change)
	if err != nil {
		return nil, err
	}
	s.publishChange(ctx, "change_completed", updated, completed, "")
	return completed, nil
}

// FailStalled fails change requests stuck in requested or processing for
// longer than the stall budget. A process crash between the status bump and
// Finalize would otherwise hold the one-amendment-per-booking slot forever;
// the requester quotes again after the sweep clears it. The worker calls this
// on the same interval as the ticket poll.
func (s *AmendmentService) FailStalled(ctx context.Context) ([]domain.ChangeRequest, error) {
	stalled, err := s.changes.ListStalled(ctx, s.now().Add(-s.stallBudget))
	if err != nil {
		return nil, err
	}

	var failed []domain.ChangeRequest
	for i := range stalled {
		change := &stalled[i]
		b, err := s.bookings.GetByID(ctx, change.BookingID)
		if err != nil {
			s.logger.Warn("skipping stalled change, booking lookup failed",
				zap.String("change_id", change.ID),
				zap.Error(err))
			continue
		}
		done, err := s.fail(ctx, b, change, "commit interrupted")
		if err != nil {
			s.logger.Warn("failed to close stalled change",
				zap.String("change_id", change.ID),
				zap.Error(err))
			continue
		}
		failed = append(failed, *done)
	}
	return failed, nil
}

func (s *AmendmentService) refund(ctx context.Context, b *domain.BookingRequest, change *domain.ChangeRequest, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	if _, err := s.ledger.Credit(ctx, b.CorporateID, b.ID, change.ID, amount); err != nil {
		return err
	}
	if s.cache != nil {
		_ = s.cache.InvalidateAccount(ctx, b.CorporateID)
	}
	return nil
}

func (s *AmendmentService) fail(ctx context.Context, b *domain.BookingRequest, change *domain.ChangeRequest, reason string) (*domain.ChangeRequest, error) {
	change.FailureReason = reason
	failed, err := s.changes.Finalize(ctx, change.ID, domain.ChangeStatusFailed, *change)
	if err != nil {
		return nil, err
	}
	s.publishChange(ctx, "change_failed", b, failed, reason)
	return failed, nil
}

// checkBookingState enforces which lifecycle stages accept which amendment
// kinds: release_pnr targets a still-unticketed reservation, everything else
// needs a ticketed booking.
func checkBookingState(b *domain.BookingRequest, kind domain.ChangeKind) error {
	if kind == domain.ChangeKindReleasePNR {
		if b.ExecutionStatus != domain.ExecutionStatusTicketPending {
			return domain.ErrInvalidBookingState
		}
		return nil
	}
	if b.ExecutionStatus != domain.ExecutionStatusTicketed {
		return domain.ErrInvalidBookingState
	}
	return nil
}

// cancelledSubsetAmount apportions the booking total over the cancelled
// travellers (or segments when the cancellation is segment-scoped).
func cancelledSubsetAmount(b *domain.BookingRequest, change *domain.ChangeRequest) decimal.Decimal {
	total := b.Pricing.TotalAmount
	if len(change.AffectedPassengerIDs) > 0 && len(b.Travellers) > 0 {
		share := decimal.NewFromInt(int64(len(change.AffectedPassengerIDs))).
			Div(decimal.NewFromInt(int64(len(b.Travellers))))
		return total.Mul(share).Round(2)
	}
	if len(change.AffectedSegments) > 0 && len(b.Segments) > 0 {
		share := decimal.NewFromInt(int64(len(change.AffectedSegments))).
			Div(decimal.NewFromInt(int64(len(b.Segments))))
		return total.Mul(share).Round(2)
	}
	return decimal.Zero
}

func markTravellersCancelled(travellers []domain.Traveller, ids []string) []domain.Traveller {
	out := make([]domain.Traveller, len(travellers))
	copy(out, travellers)
	if ids == nil {
		for i := range out {
			out[i].Cancelled = true
		}
		return out
	}
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	for i := range out {
		if _, ok := idSet[out[i].ID]; ok {
			out[i].Cancelled = true
		}
	}
	return out
}

func markSegmentsCancelled(segments []domain.Segment, idx []int) []domain.Segment {
	out := make([]domain.Segment, len(segments))
	copy(out, segments)
	if idx == nil {
		for i := range out {
			out[i].Cancelled = true
		}
		return out
	}
	for _, i := range idx {
		if i >= 0 && i < len(out) {
			out[i].Cancelled = true
		}
	}
	return out
}

func (s *AmendmentService) publishChange(ctx context.Context, eventType string, b *domain.BookingRequest, change *domain.ChangeRequest, reason string) {
	if s.producer == nil || s.bookingTopic == "" {
		return
	}
	event := kafka.BookingEvent{
		Type:            eventType,
		BookingID:       b.ID,
		ChangeID:        change.ID,
		CorporateID:     b.CorporateID,
		TravelerID:      b.TravelerID,
		RequestStatus:   string(b.RequestStatus),
		ExecutionStatus: string(b.ExecutionStatus),
		Reason:          reason,
		OccurredAt:      s.now(),
	}
	if err := s.producer.Publish(ctx, s.bookingTopic, b.ID, event); err != nil {
		s.logger.Warn("failed to publish change event",
			zap.String("type", eventType),
			zap.String("change_id", change.ID),
			zap.Error(err))
	}
}

var _ AmendmentUseCase = (*AmendmentService)(nil)
