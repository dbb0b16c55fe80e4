package booking

import (
	"context"

	"go.uber.org/zap"

	"github.com/DDPL-Work/traveldesk/internal/domain"
	"github.com/DDPL-Work/traveldesk/internal/fare"
	"github.com/DDPL-Work/traveldesk/internal/gateway"
)

// BeginExecution drives an approved booking into ticket_pending: fare check,
// ledger reserve, reservation execute. It is idempotent: a booking already
// executing or ticketed is returned as-is without touching the ledger or the
// provider. Fare and balance failures happen before any side effect and are
// safe to retry; once the provider call is issued, only the poll may retry.
func (s *BookingService) BeginExecution(ctx context.Context, id, actor string) (*domain.BookingRequest, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch b.ExecutionStatus {
	case domain.ExecutionStatusTicketPending, domain.ExecutionStatusTicketed:
		return b, nil
	case domain.ExecutionStatusNotStarted:
	default:
		return nil, domain.ErrInvalidTransition
	}
	if b.RequestStatus != domain.RequestStatusApproved {
		return nil, domain.ErrInvalidTransition
	}

	if s.cache != nil {
		ok, err := s.cache.AcquireExecutionLock(ctx, id, s.lockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Another coordinator run is active; report the current state.
			return b, nil
		}
		defer func() {
			_ = s.cache.ReleaseExecutionLock(ctx, id)
		}()

		// A concurrent run may have finished between the first read and the
		// lock grant; re-read so its outcome is returned, not re-executed.
		b, err = s.bookings.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		switch b.ExecutionStatus {
		case domain.ExecutionStatusTicketPending, domain.ExecutionStatusTicketed:
			return b, nil
		case domain.ExecutionStatusNotStarted:
		default:
			return nil, domain.ErrInvalidTransition
		}
	}

	if !fare.Executable(b.FareSnapshot, s.now()) {
		return nil, domain.ErrFareExpired
	}

	hold, err := s.ledger.Reserve(ctx, b.CorporateID, b.ID, b.Pricing.TotalAmount)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.InvalidateAccount(ctx, b.CorporateID)
	}

	updated, err := s.bookings.MarkTicketPending(ctx, id, hold.Token, actor, s.now())
	if err != nil {
		if _, relErr := s.ledger.Release(ctx, hold.Token); relErr != nil {
			s.logger.Error("failed to release hold after transition failure",
				zap.String("booking_id", id),
				zap.String("hold_token", hold.Token),
				zap.Error(relErr))
		}
		return nil, err
	}
	s.publish(ctx, "booking_execution_started", updated, "")

	resp, err := s.provider.Execute(ctx, gateway.ExecuteRequest{
		IdempotencyKey: b.ID,
		BookingID:      b.ID,
		TripType:       b.TripType,
		Segments:       b.Segments,
		Travellers:     b.Travellers,
		Fare:           b.FareSnapshot,
	})
	if err != nil {
		// Provider unreachable: the reservation may or may not exist on
		// their side. Keep ticket_pending with the hold; the poll resolves
		// it or times out. Never re-run Execute from here.
		s.logger.Warn("provider execute unavailable, leaving booking in ticket_pending",
			zap.String("booking_id", id),
			zap.Error(err))
		return updated, nil
	}

	if resp.Outcome == gateway.ExecuteRejected {
		return s.failTicketPending(ctx, updated, actor, rejectionReason(resp.Reason))
	}
	return updated, nil
}

// RefreshTicketPending resolves every in-flight booking by polling the
// provider. The worker calls it on a fixed interval; because it reads
// ticket_pending rows from storage it survives process restarts without
// losing track of bookings.
func (s *BookingService) RefreshTicketPending(ctx context.Context) ([]domain.BookingRequest, error) {
	pending, err := s.bookings.ListTicketPending(ctx)
	if err != nil {
		return nil, err
	}

	var resolved []domain.BookingRequest
	for i := range pending {
		updated, err := s.resolveTicketPending(ctx, &pending[i])
		if err != nil {
			s.logger.Warn("ticket status refresh failed",
				zap.String("booking_id", pending[i].ID),
				zap.Error(err))
			continue
		}
		if updated.ExecutionStatus != domain.ExecutionStatusTicketPending {
			resolved = append(resolved, *updated)
		}
	}
	return resolved, nil
}

func (s *BookingService) resolveTicketPending(ctx context.Context, b *domain.BookingRequest) (*domain.BookingRequest, error) {
	if b.ExecutionStatus != domain.ExecutionStatusTicketPending {
		return b, nil
	}

	if b.ExecutionStarted != nil && s.now().Sub(*b.ExecutionStarted) > s.ticketWaitBudget {
		return s.failTicketPending(ctx, b, ActorSystem, domain.ErrPollTimeout.Error())
	}

	status, err := s.provider.PollStatus(ctx, b.ID)
	if err != nil {
		// Transient; the next sweep retries.
		return b, err
	}

	switch status.State {
	case gateway.TicketStateTicketed:
		if _, err := s.ledger.Commit(ctx, b.HoldToken); err != nil {
			return b, err
		}
		if s.cache != nil {
			_ = s.cache.InvalidateAccount(ctx, b.CorporateID)
		}
		updated, err := s.bookings.MarkTicketed(ctx, b.ID, ActorSystem, buildResult(b.TripType, status))
		if err != nil {
			return b, err
		}
		s.publish(ctx, "booking_ticketed", updated, "")
		return updated, nil
	case gateway.TicketStateFailed:
		return s.failTicketPending(ctx, b, ActorSystem, rejectionReason(status.Reason))
	default:
		return b, nil
	}
}

// failTicketPending releases the ledger hold and stamps the booking failed.
// Compensation runs before the terminal state is surfaced so a reserved
// amount never outlives its booking attempt.
func (s *BookingService) failTicketPending(ctx context.Context, b *domain.BookingRequest, actor, reason string) (*domain.BookingRequest, error) {
	if b.HoldToken != "" {
		if _, err := s.ledger.Release(ctx, b.HoldToken); err != nil {
			return b, err
		}
		if s.cache != nil {
			_ = s.cache.InvalidateAccount(ctx, b.CorporateID)
		}
	}

	updated, err := s.bookings.MarkFailed(ctx, b.ID, actor, reason)
	if err != nil {
		return b, err
	}
	s.publish(ctx, "booking_failed", updated, reason)
	return updated, nil
}

func buildResult(tripType domain.TripType, status *gateway.TicketStatus) domain.BookingResult {
	if tripType == domain.TripTypeRoundTrip {
		returnPNR := status.ReturnPNR
		if returnPNR == "" {
			returnPNR = status.PNR
		}
		return domain.RoundTripResult{OnwardPNR: status.PNR, ReturnPNR: returnPNR}
	}
	return domain.OnewayResult{PNR: status.PNR}
}

func rejectionReason(reason string) string {
	if reason == "" {
		return domain.ErrProviderRejected.Error()
	}
	return reason
}
