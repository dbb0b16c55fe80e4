package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DDPL-Work/traveldesk/internal/domain"
)

type BookingRepository interface {
	Create(ctx context.Context, b *domain.BookingRequest) error
	GetByID(ctx context.Context, id string) (*domain.BookingRequest, error)
	ListTicketPending(ctx context.Context) ([]domain.BookingRequest, error)
	UpdateDecision(ctx context.Context, id string, status domain.RequestStatus, approverID, comments string) (*domain.BookingRequest, error)
	MarkTicketPending(ctx context.Context, id, holdToken, actor string, startedAt time.Time) (*domain.BookingRequest, error)
	MarkTicketed(ctx context.Context, id, actor string, result domain.BookingResult) (*domain.BookingRequest, error)
	MarkFailed(ctx context.Context, id, actor, reason string) (*domain.BookingRequest, error)
	MarkCancelled(ctx context.Context, id, actor string, status domain.ExecutionStatus, travellers []domain.Traveller, segments []domain.Segment) (*domain.BookingRequest, error)
	ReplaceSegments(ctx context.Context, id, actor string, segments []domain.Segment) (*domain.BookingRequest, error)
	ListAudit(ctx context.Context, bookingID string) ([]domain.TransitionAudit, error)
}

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

const bookingColumns = `id, corporate_id, traveler_id, booking_type, trip_type, request_status, execution_status,
	approver_id, approver_comments, decided_at, fare_snapshot, segments, travellers,
	pricing_total, pricing_currency, booking_result, payment_status, hold_token, failure_reason,
	execution_started_at, created_at, updated_at`

func (r *PGBookingRepository) Create(ctx context.Context, b *domain.BookingRequest) error {
	fareJSON, err := json.Marshal(b.FareSnapshot)
	if err != nil {
		return err
	}
	segmentsJSON, err := json.Marshal(b.Segments)
	if err != nil {
		return err
	}
	travellersJSON, err := json.Marshal(b.Travellers)
	if err != nil {
		return err
	}

	b.RequestStatus = domain.RequestStatusPendingApproval
	b.ExecutionStatus = domain.ExecutionStatusNotStarted
	b.PaymentStatus = domain.PaymentStatusPending

	return r.db.QueryRow(ctx, `INSERT INTO booking_requests
		(id, corporate_id, traveler_id, booking_type, trip_type, request_status, execution_status,
		 fare_snapshot, segments, travellers, pricing_total, pricing_currency, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`,
		b.ID, b.CorporateID, b.TravelerID, b.BookingType, b.TripType, b.RequestStatus, b.ExecutionStatus,
		fareJSON, segmentsJSON, travellersJSON, b.Pricing.TotalAmount, b.Pricing.Currency, b.PaymentStatus).
		Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id string) (*domain.BookingRequest, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM booking_requests WHERE id=$1`, id)
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return b, err
}

func (r *PGBookingRepository) ListTicketPending(ctx context.Context) ([]domain.BookingRequest, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bookingColumns+` FROM booking_requests WHERE execution_status=$1 ORDER BY execution_started_at`,
		domain.ExecutionStatusTicketPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []domain.BookingRequest
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, *b)
	}
	return pending, rows.Err()
}

func (r *PGBookingRepository) UpdateDecision(ctx context.Context, id string, status domain.RequestStatus, approverID, comments string) (*domain.BookingRequest, error) {
	return r.transition(ctx, id, domain.TransitionAudit{
		BookingID: id,
		Actor:     approverID,
		Field:     domain.AuditFieldRequest,
		ToStatus:  string(status),
		Note:      comments,
	}, `UPDATE booking_requests
		SET request_status=$1, approver_id=$2, approver_comments=$3, decided_at=now(), updated_at=now()
		WHERE id=$4 AND request_status=$5
		RETURNING `+bookingColumns,
		status, approverID, comments, id, domain.RequestStatusPendingApproval)
}

func (r *PGBookingRepository) MarkTicketPending(ctx context.Context, id, holdToken, actor string, startedAt time.Time) (*domain.BookingRequest, error) {
	return r.transition(ctx, id, domain.TransitionAudit{
		BookingID: id,
		Actor:     actor,
		Field:     domain.AuditFieldExecution,
		ToStatus:  string(domain.ExecutionStatusTicketPending),
	}, `UPDATE booking_requests
		SET execution_status=$1, hold_token=$2, execution_started_at=$3, updated_at=now()
		WHERE id=$4 AND request_status=$5 AND execution_status=$6
		RETURNING `+bookingColumns,
		domain.ExecutionStatusTicketPending, holdToken, startedAt, id,
		domain.RequestStatusApproved, domain.ExecutionStatusNotStarted)
}

func (r *PGBookingRepository) MarkTicketed(ctx context.Context, id, actor string, result domain.BookingResult) (*domain.BookingRequest, error) {
	resultJSON, err := domain.MarshalBookingResult(result)
	if err != nil {
		return nil, err
	}
	return r.transition(ctx, id, domain.TransitionAudit{
		BookingID: id,
		Actor:     actor,
		Field:     domain.AuditFieldExecution,
		ToStatus:  string(domain.ExecutionStatusTicketed),
	}, `UPDATE booking_requests
		SET execution_status=$1, booking_result=$2, payment_status=$3, updated_at=now()
		WHERE id=$4 AND execution_status=$5
		RETURNING `+bookingColumns,
		domain.ExecutionStatusTicketed, resultJSON, domain.PaymentStatusCompleted, id,
		domain.ExecutionStatusTicketPending)
}

func (r *PGBookingRepository) MarkFailed(ctx context.Context, id, actor, reason string) (*domain.BookingRequest, error) {
	return r.transition(ctx, id, domain.TransitionAudit{
		BookingID: id,
		Actor:     actor,
		Field:     domain.AuditFieldExecution,
		ToStatus:  string(domain.ExecutionStatusFailed),
		Note:      reason,
	}, `UPDATE booking_requests
		SET execution_status=$1, payment_status=$2, failure_reason=$3, updated_at=now()
		WHERE id=$4 AND execution_status=$5
		RETURNING `+bookingColumns,
		domain.ExecutionStatusFailed, domain.PaymentStatusFailed, reason, id,
		domain.ExecutionStatusTicketPending)
}

func (r *PGBookingRepository) MarkCancelled(ctx context.Context, id, actor string, status domain.ExecutionStatus, travellers []domain.Traveller, segments []domain.Segment) (*domain.BookingRequest, error) {
	travellersJSON, err := json.Marshal(travellers)
	if err != nil {
		return nil, err
	}
	segmentsJSON, err := json.Marshal(segments)
	if err != nil {
		return nil, err
	}
	return r.transition(ctx, id, domain.TransitionAudit{
		BookingID: id,
		Actor:     actor,
		Field:     domain.AuditFieldExecution,
		ToStatus:  string(status),
	}, `UPDATE booking_requests
		SET execution_status=$1, travellers=$2, segments=$3, updated_at=now()
		WHERE id=$4 AND execution_status=$5
		RETURNING `+bookingColumns,
		status, travellersJSON, segmentsJSON, id, domain.ExecutionStatusTicketed)
}

// ReplaceSegments swaps the itinerary of a ticketed booking after a date
// change. The booking stays ticketed; the swap is still audited because an
// amendment moves money.
func (r *PGBookingRepository) ReplaceSegments(ctx context.Context, id, actor string, segments []domain.Segment) (*domain.BookingRequest, error) {
	segmentsJSON, err := json.Marshal(segments)
	if err != nil {
		return nil, err
	}
	return r.transition(ctx, id, domain.TransitionAudit{
		BookingID: id,
		Actor:     actor,
		Field:     domain.AuditFieldExecution,
		ToStatus:  string(domain.ExecutionStatusTicketed),
		Note:      "segments amended",
	}, `UPDATE booking_requests
		SET segments=$1, updated_at=now()
		WHERE id=$2 AND execution_status=$3
		RETURNING `+bookingColumns,
		segmentsJSON, id, domain.ExecutionStatusTicketed)
}

func (r *PGBookingRepository) ListAudit(ctx context.Context, bookingID string) ([]domain.TransitionAudit, error) {
	rows, err := r.db.Query(ctx, `SELECT id, booking_id, actor, field, from_status, to_status, note, created_at
		FROM booking_transition_audit WHERE booking_id=$1 ORDER BY id`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []domain.TransitionAudit
	for rows.Next() {
		var a domain.TransitionAudit
		if err := rows.Scan(&a.ID, &a.BookingID, &a.Actor, &a.Field, &a.FromStatus, &a.ToStatus, &a.Note, &a.CreatedAt); err != nil {
			return nil, err
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

// transition runs a guarded status update and its audit row in one tx. A
// guard miss on an existing booking surfaces as ErrInvalidTransition.
func (r *PGBookingRepository) transition(ctx context.Context, id string, audit domain.TransitionAudit, query string, args ...interface{}) (*domain.BookingRequest, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var from string
	field := "request_status"
	if audit.Field == domain.AuditFieldExecution {
		field = "execution_status"
	}
	if err := tx.QueryRow(ctx, `SELECT `+field+` FROM booking_requests WHERE id=$1`, id).Scan(&from); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	audit.FromStatus = from

	b, err := scanBooking(tx.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrInvalidTransition
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `INSERT INTO booking_transition_audit (booking_id, actor, field, from_status, to_status, note)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		audit.BookingID, audit.Actor, audit.Field, audit.FromStatus, audit.ToStatus, audit.Note); err != nil {
		return nil, err
	}

	return b, tx.Commit(ctx)
}

func scanBooking(row pgx.Row) (*domain.BookingRequest, error) {
	var (
		b              domain.BookingRequest
		fareJSON       []byte
		segmentsJSON   []byte
		travellersJSON []byte
		resultJSON     []byte
	)
	if err := row.Scan(&b.ID, &b.CorporateID, &b.TravelerID, &b.BookingType, &b.TripType,
		&b.RequestStatus, &b.ExecutionStatus, &b.ApproverID, &b.ApproverComments, &b.DecidedAt,
		&fareJSON, &segmentsJSON, &travellersJSON, &b.Pricing.TotalAmount, &b.Pricing.Currency,
		&resultJSON, &b.PaymentStatus, &b.HoldToken, &b.FailureReason,
		&b.ExecutionStarted, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fareJSON, &b.FareSnapshot); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(segmentsJSON, &b.Segments); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(travellersJSON, &b.Travellers); err != nil {
		return nil, err
	}
	result, err := domain.UnmarshalBookingResult(resultJSON)
	if err != nil {
		return nil, err
	}
	b.BookingResult = result
	return &b, nil
}

var _ BookingRepository = (*PGBookingRepository)(nil)
