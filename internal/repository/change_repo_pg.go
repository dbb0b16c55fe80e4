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

type ChangeRepository interface {
	Create(ctx context.Context, c *domain.ChangeRequest) error
	GetByID(ctx context.Context, id string) (*domain.ChangeRequest, error)
	ListByBooking(ctx context.Context, bookingID string) ([]domain.ChangeRequest, error)
	HasNonTerminal(ctx context.Context, bookingID string) (bool, error)
	ListStalled(ctx context.Context, before time.Time) ([]domain.ChangeRequest, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.ChangeStatus) (*domain.ChangeRequest, error)
	Finalize(ctx context.Context, id string, status domain.ChangeStatus, refund domain.ChangeRequest) (*domain.ChangeRequest, error)
}

type PGChangeRepository struct {
	db *pgxpool.Pool
}

func NewChangeRepository(db *pgxpool.Pool) ChangeRepository {
	return &PGChangeRepository{db: db}
}

const changeColumns = `id, booking_id, kind, status, charges, refund_amount, fare_difference,
	affected_passenger_ids, affected_segments, new_segments, remarks, requested_by, failure_reason,
	created_at, updated_at`

func (r *PGChangeRepository) Create(ctx context.Context, c *domain.ChangeRequest) error {
	passengersJSON, err := json.Marshal(c.AffectedPassengerIDs)
	if err != nil {
		return err
	}
	segmentsJSON, err := json.Marshal(c.AffectedSegments)
	if err != nil {
		return err
	}
	newSegmentsJSON, err := json.Marshal(c.NewSegments)
	if err != nil {
		return err
	}

	c.Status = domain.ChangeStatusQuoted
	return r.db.QueryRow(ctx, `INSERT INTO change_requests
		(id, booking_id, kind, status, charges, fare_difference, affected_passenger_ids, affected_segments, new_segments, remarks, requested_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		c.ID, c.BookingID, c.Kind, c.Status, c.Charges, c.FareDifference,
		passengersJSON, segmentsJSON, newSegmentsJSON, c.Remarks, c.RequestedBy).
		Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *PGChangeRepository) GetByID(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	row := r.db.QueryRow(ctx, `SELECT `+changeColumns+` FROM change_requests WHERE id=$1`, id)
	c, err := scanChange(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return c, err
}

func (r *PGChangeRepository) ListByBooking(ctx context.Context, bookingID string) ([]domain.ChangeRequest, error) {
	rows, err := r.db.Query(ctx, `SELECT `+changeColumns+` FROM change_requests WHERE booking_id=$1 ORDER BY created_at`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []domain.ChangeRequest
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, *c)
	}
	return changes, rows.Err()
}

func (r *PGChangeRepository) HasNonTerminal(ctx context.Context, bookingID string) (bool, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM change_requests WHERE booking_id=$1 AND status NOT IN ($2, $3)`,
		bookingID, domain.ChangeStatusCompleted, domain.ChangeStatusFailed).Scan(&count)
	return count > 0, err
}

// ListStalled returns changes that started committing but never reached a
// terminal status before the cutoff. A quoted change is not stalled; it has
// no commit in progress.
func (r *PGChangeRepository) ListStalled(ctx context.Context, before time.Time) ([]domain.ChangeRequest, error) {
	rows, err := r.db.Query(ctx, `SELECT `+changeColumns+` FROM change_requests
		WHERE status IN ($1, $2) AND updated_at < $3 ORDER BY updated_at`,
		domain.ChangeStatusRequested, domain.ChangeStatusProcessing, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []domain.ChangeRequest
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, *c)
	}
	return changes, rows.Err()
}

func (r *PGChangeRepository) UpdateStatus(ctx context.Context, id string, from, to domain.ChangeStatus) (*domain.ChangeRequest, error) {
	row := r.db.QueryRow(ctx, `UPDATE change_requests SET status=$1, updated_at=now() WHERE id=$2 AND status=$3
		RETURNING `+changeColumns, to, id, from)
	c, err := scanChange(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); errors.Is(getErr, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrInvalidTransition
	}
	return c, err
}

// Finalize stamps a terminal status together with the outcome fields
// (refund, failure reason) in one statement.
func (r *PGChangeRepository) Finalize(ctx context.Context, id string, status domain.ChangeStatus, outcome domain.ChangeRequest) (*domain.ChangeRequest, error) {
	row := r.db.QueryRow(ctx, `UPDATE change_requests
		SET status=$1, refund_amount=$2, failure_reason=$3, updated_at=now()
		WHERE id=$4
		RETURNING `+changeColumns,
		status, outcome.RefundAmount, outcome.FailureReason, id)
	c, err := scanChange(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return c, err
}

func scanChange(row pgx.Row) (*domain.ChangeRequest, error) {
	var (
		c               domain.ChangeRequest
		passengersJSON  []byte
		segmentsJSON    []byte
		newSegmentsJSON []byte
	)
	if err := row.Scan(&c.ID, &c.BookingID, &c.Kind, &c.Status, &c.Charges, &c.RefundAmount, &c.FareDifference,
		&passengersJSON, &segmentsJSON, &newSegmentsJSON, &c.Remarks, &c.RequestedBy, &c.FailureReason,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(passengersJSON, &c.AffectedPassengerIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(segmentsJSON, &c.AffectedSegments); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(newSegmentsJSON, &c.NewSegments); err != nil {
		return nil, err
	}
	return &c, nil
}

var _ ChangeRepository = (*PGChangeRepository)(nil)
