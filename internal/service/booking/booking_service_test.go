package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/DDPL-Work/traveldesk/internal/domain"
	"github.com/DDPL-Work/traveldesk/internal/gateway"
)

type MockBookingRepository struct {
	mock.Mock
}

func (m *MockBookingRepository) Create(ctx context.Context, b *domain.BookingRequest) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *MockBookingRepository) GetByID(ctx context.Context, id string) (*domain.BookingRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BookingRequest), args.Error(1)
}

func (m *MockBookingRepository) ListTicketPending(ctx context.Context) ([]domain.BookingRequest, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.BookingRequest), args.Error(1)
}

func (m *MockBookingRepository) UpdateDecision(ctx context.Context, id string, status domain.RequestStatus, approverID, comments string) (*domain.BookingRequest, error) {
	args := m.Called(ctx, id, status, approverID, comments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BookingRequest), args.Error(1)
}

func (m *MockBookingRepository) MarkTicketPending(ctx context.Context, id, holdToken, actor string, startedAt time.Time) (*domain.BookingRequest, error) {
	args := m.Called(ctx, id, holdToken, actor, startedAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BookingRequest), args.Error(1)
}

func (m *MockBookingRepository) MarkTicketed(ctx context.Context, id, actor string, result domain.BookingResult) (*domain.BookingRequest, error) {
	args := m.Called(ctx, id, actor, result)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BookingRequest), args.Error(1)
}

func (m *MockBookingRepository) MarkFailed(ctx context.Context, id, actor, reason string) (*domain.BookingRequest, error) {
	args := m.Called(ctx, id, actor, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BookingRequest), args.Error(1)
}

func (m *MockBookingRepository) MarkCancelled(ctx context.Context, id, actor string, status domain.ExecutionStatus, travellers []domain.Traveller, segments []domain.Segment) (*domain.BookingRequest, error) {
	args := m.Called(ctx, id, actor, status, travellers, segments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BookingRequest), args.Error(1)
}

func (m *MockBookingRepository) ReplaceSegments(ctx context.Context, id, actor string, segments []domain.Segment) (*domain.BookingRequest, error) {
	args := m.Called(ctx, id, actor, segments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BookingRequest), args.Error(1)
}

func (m *MockBookingRepository) ListAudit(ctx context.Context, bookingID string) ([]domain.TransitionAudit, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.TransitionAudit), args.Error(1)
}

type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) GetAccount(ctx context.Context, corporateID string) (*domain.CorporateAccount, error) {
	args := m.Called(ctx, corporateID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CorporateAccount), args.Error(1)
}

func (m *MockLedgerRepository) Reserve(ctx context.Context, corporateID, bookingID string, amount decimal.Decimal) (*domain.LedgerHold, error) {
	args := m.Called(ctx, corporateID, bookingID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LedgerHold), args.Error(1)
}

func (m *MockLedgerRepository) Commit(ctx context.Context, token string) (*domain.LedgerEntry, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LedgerEntry), args.Error(1)
}

func (m *MockLedgerRepository) Release(ctx context.Context, token string) (*domain.LedgerEntry, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LedgerEntry), args.Error(1)
}

func (m *MockLedgerRepository) Credit(ctx context.Context, corporateID, bookingID, changeID string, amount decimal.Decimal) (*domain.LedgerEntry, error) {
	args := m.Called(ctx, corporateID, bookingID, changeID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LedgerEntry), args.Error(1)
}

func (m *MockLedgerRepository) GetHold(ctx context.Context, token string) (*domain.LedgerHold, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LedgerHold), args.Error(1)
}

func (m *MockLedgerRepository) ListEntries(ctx context.Context, corporateID string) ([]domain.LedgerEntry, error) {
	args := m.Called(ctx, corporateID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.LedgerEntry), args.Error(1)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) AcquireExecutionLock(ctx context.Context, bookingID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, bookingID, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) ReleaseExecutionLock(ctx context.Context, bookingID string) error {
	args := m.Called(ctx, bookingID)
	return args.Error(0)
}

func (m *MockCache) GetAccount(ctx context.Context, corporateID string) (*domain.CorporateAccount, error) {
	args := m.Called(ctx, corporateID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CorporateAccount), args.Error(1)
}

func (m *MockCache) SetAccount(ctx context.Context, account *domain.CorporateAccount) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockCache) InvalidateAccount(ctx context.Context, corporateID string) error {
	args := m.Called(ctx, corporateID)
	return args.Error(0)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Execute(ctx context.Context, req gateway.ExecuteRequest) (*gateway.ExecuteResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.ExecuteResponse), args.Error(1)
}

func (m *MockProvider) PollStatus(ctx context.Context, bookingID string) (*gateway.TicketStatus, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.TicketStatus), args.Error(1)
}

func (m *MockProvider) QuoteCharges(ctx context.Context, bookingID string, kind domain.ChangeKind, scope gateway.CancelScope) (decimal.Decimal, error) {
	args := m.Called(ctx, bookingID, kind, scope)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockProvider) Cancel(ctx context.Context, bookingID string, scope gateway.CancelScope) error {
	args := m.Called(ctx, bookingID, scope)
	return args.Error(0)
}

func (m *MockProvider) Amend(ctx context.Context, bookingID string, newSegments []domain.Segment) error {
	args := m.Called(ctx, bookingID, newSegments)
	return args.Error(0)
}

func (m *MockProvider) ReleasePNR(ctx context.Context, bookingID string) error {
	args := m.Called(ctx, bookingID)
	return args.Error(0)
}

var fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestService(bookings *MockBookingRepository, ledger *MockLedgerRepository, cache *MockCache, provider *MockProvider, producer *MockProducer) *BookingService {
	svc := &BookingService{
		bookings:         bookings,
		ledger:           ledger,
		provider:         provider,
		producer:         producer,
		bookingTopic:     "booking-events",
		lockTTL:          time.Minute,
		ticketWaitBudget: 30 * time.Minute,
		logger:           zap.NewNop(),
		now:              func() time.Time { return fixedNow },
	}
	if cache != nil {
		svc.cache = cache
	}
	return svc
}

func validInput() CreateBookingInput {
	return CreateBookingInput{
		CorporateID: "corp-1",
		TravelerID:  "trav-1",
		BookingType: domain.BookingTypeFlight,
		TripType:    domain.TripTypeOneway,
		Fare: domain.FareSnapshot{
			BaseFare:   decimal.NewFromInt(9000),
			Tax:        decimal.NewFromInt(1000),
			FareClass:  "Y",
			FareExpiry: fixedNow.Add(time.Hour),
		},
		Segments: []domain.Segment{
			{Origin: "DEL", Destination: "BOM", Carrier: "AI", FlightNumber: "AI-101"},
		},
		Travellers: []domain.Traveller{
			{ID: "pax-1", FirstName: "Asha", LastName: "Rao"},
		},
		TotalAmount: decimal.NewFromInt(10000),
		Currency:    "INR",
	}
}

func approvedBooking() *domain.BookingRequest {
	return &domain.BookingRequest{
		ID:              "bk-1",
		CorporateID:     "corp-1",
		TravelerID:      "trav-1",
		BookingType:     domain.BookingTypeFlight,
		TripType:        domain.TripTypeOneway,
		RequestStatus:   domain.RequestStatusApproved,
		ExecutionStatus: domain.ExecutionStatusNotStarted,
		FareSnapshot: domain.FareSnapshot{
			FareExpiry: fixedNow.Add(time.Hour),
		},
		Segments:   []domain.Segment{{Origin: "DEL", Destination: "BOM"}},
		Travellers: []domain.Traveller{{ID: "pax-1"}},
		Pricing:    domain.PricingSnapshot{TotalAmount: decimal.NewFromInt(10000), Currency: "INR"},
	}
}

func TestCreateBookingRequest_Success(t *testing.T) {
	bookings := &MockBookingRepository{}
	ledger := &MockLedgerRepository{}
	cache := &MockCache{}
	producer := &MockProducer{}
	svc := newTestService(bookings, ledger, cache, &MockProvider{}, producer)

	ctx := context.Background()
	account := &domain.CorporateAccount{ID: "corp-1", Classification: domain.AccountClassPrepaid}

	cache.On("GetAccount", ctx, "corp-1").Return(nil, errors.New("cache miss")).Once()
	ledger.On("GetAccount", ctx, "corp-1").Return(account, nil).Once()
	cache.On("SetAccount", ctx, account).Return(nil).Once()
	bookings.On("Create", ctx, mock.AnythingOfType("*domain.BookingRequest")).Return(nil).Once()
	producer.On("Publish", ctx, "booking-events", mock.Anything, mock.Anything).Return(nil).Once()

	created, err := svc.CreateBookingRequest(ctx, validInput())

	assert.NoError(t, err)
	assert.NotNil(t, created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, domain.RequestStatusPendingApproval, created.RequestStatus)
	assert.Equal(t, domain.ExecutionStatusNotStarted, created.ExecutionStatus)
	assert.True(t, created.Pricing.TotalAmount.Equal(decimal.NewFromInt(10000)))

	bookings.AssertExpectations(t)
	ledger.AssertExpectations(t)
	producer.AssertExpectations(t)
}

func TestCreateBookingRequest_ValidationErrors(t *testing.T) {
	svc := newTestService(&MockBookingRepository{}, &MockLedgerRepository{}, nil, &MockProvider{}, &MockProducer{})
	ctx := context.Background()

	testCases := []struct {
		name        string
		mutate      func(*CreateBookingInput)
		expectedErr string
	}{
		{
			name:        "missing corporate id",
			mutate:      func(in *CreateBookingInput) { in.CorporateID = "" },
			expectedErr: "corporate id is required",
		},
		{
			name:        "missing traveler id",
			mutate:      func(in *CreateBookingInput) { in.TravelerID = "" },
			expectedErr: "traveler id is required",
		},
		{
			name:        "no segments",
			mutate:      func(in *CreateBookingInput) { in.Segments = nil },
			expectedErr: "at least one segment is required",
		},
		{
			name:        "no travellers",
			mutate:      func(in *CreateBookingInput) { in.Travellers = nil },
			expectedErr: "at least one traveller is required",
		},
		{
			name:        "zero amount",
			mutate:      func(in *CreateBookingInput) { in.TotalAmount = decimal.Zero },
			expectedErr: "total amount must be positive",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			input := validInput()
			tc.mutate(&input)
			created, err := svc.CreateBookingRequest(ctx, input)
			assert.Error(t, err)
			assert.Nil(t, created)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Contains(t, err.Error(), tc.expectedErr)
		})
	}
}

func TestApprove_Success(t *testing.T) {
	bookings := &MockBookingRepository{}
	producer := &MockProducer{}
	svc := newTestService(bookings, &MockLedgerRepository{}, nil, &MockProvider{}, producer)

	ctx := context.Background()
	approved := approvedBooking()

	bookings.On("UpdateDecision", ctx, "bk-1", domain.RequestStatusApproved, "mgr-1", "ok").Return(approved, nil).Once()
	producer.On("Publish", ctx, "booking-events", "bk-1", mock.Anything).Return(nil).Once()

	b, err := svc.Approve(ctx, "bk-1", "mgr-1", "ok")

	assert.NoError(t, err)
	assert.Equal(t, domain.RequestStatusApproved, b.RequestStatus)
	bookings.AssertExpectations(t)
	producer.AssertExpectations(t)
}

func TestApprove_AlreadyDecided(t *testing.T) {
	bookings := &MockBookingRepository{}
	svc := newTestService(bookings, &MockLedgerRepository{}, nil, &MockProvider{}, &MockProducer{})

	ctx := context.Background()
	bookings.On("UpdateDecision", ctx, "bk-1", domain.RequestStatusApproved, "mgr-1", "").Return(nil, domain.ErrInvalidTransition).Once()

	b, err := svc.Approve(ctx, "bk-1", "mgr-1", "")

	assert.Nil(t, b)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestReject_Success(t *testing.T) {
	bookings := &MockBookingRepository{}
	producer := &MockProducer{}
	svc := newTestService(bookings, &MockLedgerRepository{}, nil, &MockProvider{}, producer)

	ctx := context.Background()
	rejected := approvedBooking()
	rejected.RequestStatus = domain.RequestStatusRejected

	bookings.On("UpdateDecision", ctx, "bk-1", domain.RequestStatusRejected, "mgr-1", "over budget").Return(rejected, nil).Once()
	producer.On("Publish", ctx, "booking-events", "bk-1", mock.Anything).Return(nil).Once()

	b, err := svc.Reject(ctx, "bk-1", "mgr-1", "over budget")

	assert.NoError(t, err)
	assert.Equal(t, domain.RequestStatusRejected, b.RequestStatus)
	bookings.AssertExpectations(t)
}
