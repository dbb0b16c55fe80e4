package booking

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/DDPL-Work/traveldesk/internal/domain"
	"github.com/DDPL-Work/traveldesk/internal/gateway"
)

func heldHold() *domain.LedgerHold {
	return &domain.LedgerHold{
		Token:       "hold-1",
		CorporateID: "corp-1",
		BookingID:   "bk-1",
		Amount:      decimal.NewFromInt(10000),
		Status:      domain.HoldStatusHeld,
	}
}

func ticketPendingBooking() *domain.BookingRequest {
	started := fixedNow.Add(-5 * time.Minute)
	b := approvedBooking()
	b.ExecutionStatus = domain.ExecutionStatusTicketPending
	b.HoldToken = "hold-1"
	b.ExecutionStarted = &started
	return b
}

func TestBeginExecution_Success(t *testing.T) {
	bookings := &MockBookingRepository{}
	ledger := &MockLedgerRepository{}
	cache := &MockCache{}
	provider := &MockProvider{}
	producer := &MockProducer{}
	svc := newTestService(bookings, ledger, cache, provider, producer)

	ctx := context.Background()
	b := approvedBooking()
	pending := ticketPendingBooking()

	bookings.On("GetByID", ctx, "bk-1").Return(b, nil).Twice()
	cache.On("AcquireExecutionLock", ctx, "bk-1", time.Minute).Return(true, nil).Once()
	cache.On("ReleaseExecutionLock", ctx, "bk-1").Return(nil).Once()
	ledger.On("Reserve", ctx, "corp-1", "bk-1", decimal.NewFromInt(10000)).Return(heldHold(), nil).Once()
	cache.On("InvalidateAccount", ctx, "corp-1").Return(nil).Once()
	bookings.On("MarkTicketPending", ctx, "bk-1", "hold-1", "trav-1", fixedNow).Return(pending, nil).Once()
	producer.On("Publish", ctx, "booking-events", "bk-1", mock.Anything).Return(nil).Once()
	provider.On("Execute", ctx, mock.MatchedBy(func(req gateway.ExecuteRequest) bool {
		return req.IdempotencyKey == "bk-1" && req.BookingID == "bk-1"
	})).Return(&gateway.ExecuteResponse{Outcome: gateway.ExecuteAccepted}, nil).Once()

	updated, err := svc.BeginExecution(ctx, "bk-1", "trav-1")

	assert.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusTicketPending, updated.ExecutionStatus)
	assert.Equal(t, "hold-1", updated.HoldToken)

	bookings.AssertExpectations(t)
	ledger.AssertExpectations(t)
	provider.AssertExpectations(t)
}

func TestBeginExecution_IdempotentWhenAlreadyInFlight(t *testing.T) {
	bookings := &MockBookingRepository{}
	ledger := &MockLedgerRepository{}
	provider := &MockProvider{}
	svc := newTestService(bookings, ledger, nil, provider, &MockProducer{})

	ctx := context.Background()
	pending := ticketPendingBooking()

	bookings.On("GetByID", ctx, "bk-1").Return(pending, nil).Twice()

	first, err := svc.BeginExecution(ctx, "bk-1", "trav-1")
	assert.NoError(t, err)
	second, err := svc.BeginExecution(ctx, "bk-1", "trav-1")
	assert.NoError(t, err)

	assert.Equal(t, domain.ExecutionStatusTicketPending, first.ExecutionStatus)
	assert.Equal(t, domain.ExecutionStatusTicketPending, second.ExecutionStatus)

	ledger.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	provider.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestBeginExecution_RequiresApproval(t *testing.T) {
	bookings := &MockBookingRepository{}
	svc := newTestService(bookings, &MockLedgerRepository{}, nil, &MockProvider{}, &MockProducer{})

	ctx := context.Background()
	b := approvedBooking()
	b.RequestStatus = domain.RequestStatusPendingApproval

	bookings.On("GetByID", ctx, "bk-1").Return(b, nil).Once()

	updated, err := svc.BeginExecution(ctx, "bk-1", "trav-1")

	assert.Nil(t, updated)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestBeginExecution_TerminalState(t *testing.T) {
	bookings := &MockBookingRepository{}
	svc := newTestService(bookings, &MockLedgerRepository{}, nil, &MockProvider{}, &MockProducer{})

	ctx := context.Background()
	b := approvedBooking()
	b.ExecutionStatus = domain.ExecutionStatusFailed

	bookings.On("GetByID", ctx, "bk-1").Return(b, nil).Once()

	updated, err := svc.BeginExecution(ctx, "bk-1", "trav-1")

	assert.Nil(t, updated)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestBeginExecution_FareExpired(t *testing.T) {
	bookings := &MockBookingRepository{}
	ledger := &MockLedgerRepository{}
	svc := newTestService(bookings, ledger, nil, &MockProvider{}, &MockProducer{})

	ctx := context.Background()
	b := approvedBooking()
	b.FareSnapshot.FareExpiry = fixedNow.Add(-time.Second)

	bookings.On("GetByID", ctx, "bk-1").Return(b, nil).Once()

	updated, err := svc.BeginExecution(ctx, "bk-1", "trav-1")

	assert.Nil(t, updated)
	assert.ErrorIs(t, err, domain.ErrFareExpired)
	ledger.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBeginExecution_FareExecutableAtExactExpiry(t *testing.T) {
	bookings := &MockBookingRepository{}
	ledger := &MockLedgerRepository{}
	provider := &MockProvider{}
	producer := &MockProducer{}
	svc := newTestService(bookings, ledger, nil, provider, producer)

	ctx := context.Background()
	b := approvedBooking()
	b.FareSnapshot.FareExpiry = fixedNow
	pending := ticketPendingBooking()

	bookings.On("GetByID", ctx, "bk-1").Return(b, nil).Once()
	ledger.On("Reserve", ctx, "corp-1", "bk-1", decimal.NewFromInt(10000)).Return(heldHold(), nil).Once()
	bookings.On("MarkTicketPending", ctx, "bk-1", "hold-1", "trav-1", fixedNow).Return(pending, nil).Once()
	producer.On("Publish", ctx, "booking-events", "bk-1", mock.Anything).Return(nil).Once()
	provider.On("Execute", ctx, mock.Anything).Return(&gateway.ExecuteResponse{Outcome: gateway.ExecuteAccepted}, nil).Once()

	updated, err := svc.BeginExecution(ctx, "bk-1", "trav-1")

	assert.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusTicketPending, updated.ExecutionStatus)
}

func TestBeginExecution_InsufficientFunds(t *testing.T) {
	bookings := &MockBookingRepository{}
	ledger := &MockLedgerRepository{}
	provider := &MockProvider{}
	svc := newTestService(bookings, ledger, nil, provider, &MockProducer{})

	ctx := context.Background()
	bookings.On("GetByID", ctx, "bk-1").Return(approvedBooking(), nil).Once()
	ledger.On("Reserve", ctx, "corp-1", "bk-1", decimal.NewFromInt(10000)).Return(nil, domain.ErrInsufficientFunds).Once()

	updated, err := svc.BeginExecution(ctx, "bk-1", "trav-1")

	assert.Nil(t, updated)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	bookings.AssertNotCalled(t, "MarkTicketPending", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	provider.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestBeginExecution_LockContention(t *testing.T) {
	bookings := &MockBookingRepository{}
	ledger := &MockLedgerRepository{}
	cache := &MockCache{}
	svc := newTestService(bookings, ledger, cache, &MockProvider{}, &MockProducer{})

	ctx := context.Background()
	b := approvedBooking()

	bookings.On("GetByID", ctx, "bk-1").Return(b, nil).Once()
	cache.On("AcquireExecutionLock", ctx, "bk-1", time.Minute).Return(false, nil).Once()

	updated, err := svc.BeginExecution(ctx, "bk-1", "trav-1")

	assert.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusNotStarted, updated.ExecutionStatus)
	ledger.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBeginExecution_ConcurrentRunFinishedBeforeLock(t *testing.T) {
	bookings := &MockBookingRepository{}
	ledger := &MockLedgerRepository{}
	cache := &MockCache{}
	provider := &MockProvider{}
	svc := newTestService(bookings, ledger, cache, provider, &MockProducer{})

	ctx := context.Background()
	pending := ticketPendingBooking()

	// The stale read sees not_started; by the time the lock is granted the
	// other coordinator run already moved the booking to ticket_pending.
	bookings.On("GetByID", ctx, "bk-1").Return(approvedBooking(), nil).Once()
	cache.On("AcquireExecutionLock", ctx, "bk-1", time.Minute).Return(true, nil).Once()
	cache.On("ReleaseExecutionLock", ctx, "bk-1").Return(nil).Once()
	bookings.On("GetByID", ctx, "bk-1").Return(pending, nil).Once()

	updated, err := svc.BeginExecution(ctx, "bk-1", "trav-1")

	assert.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusTicketPending, updated.ExecutionStatus)
	ledger.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	provider.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	bookings.AssertExpectations(t)
}

func TestBeginExecution_ProviderUnreachableKeepsTicketPending(t *testing.T) {
	bookings := &MockBookingRepository{}
	ledger := &MockLedgerRepository{}
	provider := &MockProvider{}
	producer := &MockProducer{}
	svc := newTestService(bookings, ledger, nil, provider, producer)

	ctx := context.Background()
	pending := ticketPendingBooking()

	bookings.On("GetByID", ctx, "bk-1").Return(approvedBooking(), nil).Once()
	ledger.On("Reserve", ctx, "corp-1", "bk-1", decimal.NewFromInt(10000)).Return(heldHold(), nil).Once()
	bookings.On("MarkTicketPending", ctx, "bk-1", "hold-1", "trav-1", fixedNow).Return(pending, nil).Once()
	producer.On("Publish", ctx, "booking-events", "bk-1", mock.Anything).Return(nil).Once()
	provider.On("Execute", ctx, mock.Anything).Return(nil, domain.ErrProviderUnavailable).Once()

	updated, err := svc.BeginExecution(ctx, "bk-1", "trav-1")

	assert.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusTicketPending, updated.ExecutionStatus)
	// The hold stays while the poll decides the outcome.
	ledger.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
	bookings.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBeginExecution_ProviderRejectedReleasesHold(t *testing.T) {
	bookings := &MockBookingRepository{}
	ledger := &MockLedgerRepository{}
	provider := &MockProvider{}
	producer := &MockProducer{}
	svc := newTestService(bookings, ledger, nil, provider, producer)

	ctx := context.Background()
	pending := ticketPendingBooking()
	failed := ticketPendingBooking()
	failed.ExecutionStatus = domain.ExecutionStatusFailed
	failed.FailureReason = "no inventory"

	bookings.On("GetByID", ctx, "bk-1").Return(approvedBooking(), nil).Once()
	ledger.On("Reserve", ctx, "corp-1", "bk-1", decimal.NewFromInt(10000)).Return(heldHold(), nil).Once()
	bookings.On("MarkTicketPending", ctx, "bk-1", "hold-1", "trav-1", fixedNow).Return(pending, nil).Once()
	provider.On("Execute", ctx, mock.Anything).Return(&gateway.ExecuteResponse{Outcome: gateway.ExecuteRejected, Reason: "no inventory"}, nil).Once()
	ledger.On("Release", ctx, "hold-1").Return(&domain.LedgerEntry{}, nil).Once()
	bookings.On("MarkFailed", ctx, "bk-1", "trav-1", "no inventory").Return(failed, nil).Once()
	producer.On("Publish", ctx, "booking-events", "bk-1", mock.Anything).Return(nil).Times(2)

	updated, err := svc.BeginExecution(ctx, "bk-1", "trav-1")

	assert.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusFailed, updated.ExecutionStatus)
	ledger.AssertExpectations(t)
	bookings.AssertExpectations(t)
}

func TestRefreshTicketPending_Ticketed(t *testing.T) {
	bookings := &MockBookingRepository{}
	ledger := &MockLedgerRepository{}
	provider := &MockProvider{}
	producer := &MockProducer{}
	svc := newTestService(bookings, ledger, nil, provider, producer)

	ctx := context.Background()
	pending := ticketPendingBooking()
	ticketed := ticketPendingBooking()
	ticketed.ExecutionStatus = domain.ExecutionStatusTicketed
	ticketed.BookingResult = domain.OnewayResult{PNR: "PNR123"}

	bookings.On("ListTicketPending", ctx).Return([]domain.BookingRequest{*pending}, nil).Once()
	provider.On("PollStatus", ctx, "bk-1").Return(&gateway.TicketStatus{State: gateway.TicketStateTicketed, PNR: "PNR123"}, nil).Once()
	ledger.On("Commit", ctx, "hold-1").Return(&domain.LedgerEntry{Direction: domain.EntryDirectionDebit}, nil).Once()
	bookings.On("MarkTicketed", ctx, "bk-1", ActorSystem, mock.MatchedBy(func(r domain.BookingResult) bool {
		result, ok := r.(domain.OnewayResult)
		return ok && result.PNR == "PNR123"
	})).Return(ticketed, nil).Once()
	producer.On("Publish", ctx, "booking-events", "bk-1", mock.Anything).Return(nil).Once()

	resolved, err := svc.RefreshTicketPending(ctx)

	assert.NoError(t, err)
	assert.Len(t, resolved, 1)
	assert.Equal(t, domain.ExecutionStatusTicketed, resolved[0].ExecutionStatus)
	ledger.AssertExpectations(t)
	bookings.AssertExpectations(t)
}

func TestRefreshTicketPending_RoundTripResult(t *testing.T) {
	bookings := &MockBookingRepository{}
	ledger := &MockLedgerRepository{}
	provider := &MockProvider{}
	producer := &MockProducer{}
	svc := newTestService(bookings, ledger, nil, provider, producer)

	ctx := context.Background()
	pending := ticketPendingBooking()
	pending.TripType = domain.TripTypeRoundTrip
	ticketed := ticketPendingBooking()
	ticketed.ExecutionStatus = domain.ExecutionStatusTicketed

	bookings.On("ListTicketPending", ctx).Return([]domain.BookingRequest{*pending}, nil).Once()
	provider.On("PollStatus", ctx, "bk-1").Return(&gateway.TicketStatus{State: gateway.TicketStateTicketed, PNR: "ONW1", ReturnPNR: "RET1"}, nil).Once()
	ledger.On("Commit", ctx, "hold-1").Return(&domain.LedgerEntry{}, nil).Once()
	bookings.On("MarkTicketed", ctx, "bk-1", ActorSystem, mock.MatchedBy(func(r domain.BookingResult) bool {
		result, ok := r.(domain.RoundTripResult)
		return ok && result.OnwardPNR == "ONW1" && result.ReturnPNR == "RET1"
	})).Return(ticketed, nil).Once()
	producer.On("Publish", ctx, "booking-events", "bk-1", mock.Anything).Return(nil).Once()

	_, err := svc.RefreshTicketPending(ctx)
	assert.NoError(t, err)
	bookings.AssertExpectations(t)
}

func TestRefreshTicketPending_RoundTripSinglePNRFallback(t *testing.T) {
	status := &gateway.TicketStatus{State: gateway.TicketStateTicketed, PNR: "ONW1"}
	result := buildResult(domain.TripTypeRoundTrip, status)

	rt, ok := result.(domain.RoundTripResult)
	assert.True(t, ok)
	assert.Equal(t, "ONW1", rt.OnwardPNR)
	assert.Equal(t, "ONW1", rt.ReturnPNR)
}

func TestRefreshTicketPending_StillPending(t *testing.T) {
	bookings := &MockBookingRepository{}
	provider := &MockProvider{}
	svc := newTestService(bookings, &MockLedgerRepository{}, nil, provider, &MockProducer{})

	ctx := context.Background()
	pending := ticketPendingBooking()

	bookings.On("ListTicketPending", ctx).Return([]domain.BookingRequest{*pending}, nil).Once()
	provider.On("PollStatus", ctx, "bk-1").Return(&gateway.TicketStatus{State: gateway.TicketStatePending}, nil).Once()

	resolved, err := svc.RefreshTicketPending(ctx)

	assert.NoError(t, err)
	assert.Empty(t, resolved)
}

func TestRefreshTicketPending_ProviderFailure(t *testing.T) {
	bookings := &MockBookingRepository{}
	ledger := &MockLedgerRepository{}
	provider := &MockProvider{}
	producer := &MockProducer{}
	svc := newTestService(bookings, ledger, nil, provider, producer)

	ctx := context.Background()
	pending := ticketPendingBooking()
	failed := ticketPendingBooking()
	failed.ExecutionStatus = domain.ExecutionStatusFailed

	bookings.On("ListTicketPending", ctx).Return([]domain.BookingRequest{*pending}, nil).Once()
	provider.On("PollStatus", ctx, "bk-1").Return(&gateway.TicketStatus{State: gateway.TicketStateFailed, Reason: "issuance failed"}, nil).Once()
	ledger.On("Release", ctx, "hold-1").Return(&domain.LedgerEntry{}, nil).Once()
	bookings.On("MarkFailed", ctx, "bk-1", ActorSystem, "issuance failed").Return(failed, nil).Once()
	producer.On("Publish", ctx, "booking-events", "bk-1", mock.Anything).Return(nil).Once()

	resolved, err := svc.RefreshTicketPending(ctx)

	assert.NoError(t, err)
	assert.Len(t, resolved, 1)
	assert.Equal(t, domain.ExecutionStatusFailed, resolved[0].ExecutionStatus)
	ledger.AssertExpectations(t)
}

func TestRefreshTicketPending_WaitBudgetExceeded(t *testing.T) {
	bookings := &MockBookingRepository{}
	ledger := &MockLedgerRepository{}
	provider := &MockProvider{}
	producer := &MockProducer{}
	svc := newTestService(bookings, ledger, nil, provider, producer)

	ctx := context.Background()
	pending := ticketPendingBooking()
	started := fixedNow.Add(-45 * time.Minute)
	pending.ExecutionStarted = &started
	failed := ticketPendingBooking()
	failed.ExecutionStatus = domain.ExecutionStatusFailed

	bookings.On("ListTicketPending", ctx).Return([]domain.BookingRequest{*pending}, nil).Once()
	ledger.On("Release", ctx, "hold-1").Return(&domain.LedgerEntry{}, nil).Once()
	bookings.On("MarkFailed", ctx, "bk-1", ActorSystem, domain.ErrPollTimeout.Error()).Return(failed, nil).Once()
	producer.On("Publish", ctx, "booking-events", "bk-1", mock.Anything).Return(nil).Once()

	resolved, err := svc.RefreshTicketPending(ctx)

	assert.NoError(t, err)
	assert.Len(t, resolved, 1)
	provider.AssertNotCalled(t, "PollStatus", mock.Anything, mock.Anything)
	ledger.AssertExpectations(t)
}

func TestRefreshTicketPending_PollErrorSkipsBooking(t *testing.T) {
	bookings := &MockBookingRepository{}
	ledger := &MockLedgerRepository{}
	provider := &MockProvider{}
	svc := newTestService(bookings, ledger, nil, provider, &MockProducer{})

	ctx := context.Background()
	pending := ticketPendingBooking()

	bookings.On("ListTicketPending", ctx).Return([]domain.BookingRequest{*pending}, nil).Once()
	provider.On("PollStatus", ctx, "bk-1").Return(nil, domain.ErrProviderUnavailable).Once()

	resolved, err := svc.RefreshTicketPending(ctx)

	assert.NoError(t, err)
	assert.Empty(t, resolved)
	ledger.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
}
