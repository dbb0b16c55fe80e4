package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/DDPL-Work/traveldesk/internal/domain"
)

// LedgerRepository is the two-phase ledger. Reserve places a provisional
// hold against an account's spendable capacity, Commit turns the hold into a
// debit entry, Release rolls it back (with a compensating credit entry when
// a debit was already committed). All balance mutations for one corporate
// account run inside a transaction that locks the account row, so two
// concurrent bookings can never both pass the capacity check against a stale
// balance.
type LedgerRepository interface {
	GetAccount(ctx context.Context, corporateID string) (*domain.CorporateAccount, error)
	Reserve(ctx context.Context, corporateID, bookingID string, amount decimal.Decimal) (*domain.LedgerHold, error)
	Commit(ctx context.Context, token string) (*domain.LedgerEntry, error)
	Release(ctx context.Context, token string) (*domain.LedgerEntry, error)
	Credit(ctx context.Context, corporateID, bookingID, changeID string, amount decimal.Decimal) (*domain.LedgerEntry, error)
	GetHold(ctx context.Context, token string) (*domain.LedgerHold, error)
	ListEntries(ctx context.Context, corporateID string) ([]domain.LedgerEntry, error)
}

type PGLedgerRepository struct {
	db *pgxpool.Pool
}

func NewLedgerRepository(db *pgxpool.Pool) LedgerRepository {
	return &PGLedgerRepository{db: db}
}

const accountColumns = `id, name, classification, wallet_balance, credit_limit, current_credit, created_at, updated_at`

func (r *PGLedgerRepository) GetAccount(ctx context.Context, corporateID string) (*domain.CorporateAccount, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM corporate_accounts WHERE id=$1`, corporateID)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

func (r *PGLedgerRepository) Reserve(ctx context.Context, corporateID, bookingID string, amount decimal.Decimal) (*domain.LedgerHold, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	account, err := lockAccount(ctx, tx, corporateID)
	if err != nil {
		return nil, err
	}

	var held decimal.Decimal
	if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM ledger_holds WHERE corporate_id=$1 AND status=$2`,
		corporateID, domain.HoldStatusHeld).Scan(&held); err != nil {
		return nil, err
	}

	if !account.Covers(held, amount) {
		return nil, domain.ErrInsufficientFunds
	}

	hold := &domain.LedgerHold{
		Token:       uuid.NewString(),
		CorporateID: corporateID,
		BookingID:   bookingID,
		Amount:      amount,
		Status:      domain.HoldStatusHeld,
	}
	if err := tx.QueryRow(ctx, `INSERT INTO ledger_holds (token, corporate_id, booking_id, amount, status)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at, updated_at`,
		hold.Token, hold.CorporateID, hold.BookingID, hold.Amount, hold.Status).
		Scan(&hold.CreatedAt, &hold.UpdatedAt); err != nil {
		return nil, err
	}

	return hold, tx.Commit(ctx)
}

func (r *PGLedgerRepository) Commit(ctx context.Context, token string) (*domain.LedgerEntry, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	hold, err := lockHold(ctx, tx, token)
	if err != nil {
		return nil, err
	}
	action, err := hold.CommitAction()
	if err != nil {
		return nil, err
	}
	if action == domain.HoldActionNone {
		// Commit already happened; keep the single debit.
		return nil, tx.Commit(ctx)
	}

	account, err := lockAccount(ctx, tx, hold.CorporateID)
	if err != nil {
		return nil, err
	}
	balanceAfter := account.ApplyDebit(hold.Amount)

	if err := updateAccountBalances(ctx, tx, account); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE ledger_holds SET status=$1, updated_at=now() WHERE token=$2`,
		domain.HoldStatusCommitted, token); err != nil {
		return nil, err
	}

	entry, err := appendEntry(ctx, tx, &domain.LedgerEntry{
		CorporateID:        hold.CorporateID,
		Direction:          domain.EntryDirectionDebit,
		Amount:             hold.Amount,
		BalanceAfter:       balanceAfter,
		ReferenceBookingID: hold.BookingID,
	})
	if err != nil {
		return nil, err
	}
	return entry, tx.Commit(ctx)
}

func (r *PGLedgerRepository) Release(ctx context.Context, token string) (*domain.LedgerEntry, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	hold, err := lockHold(ctx, tx, token)
	if err != nil {
		return nil, err
	}

	switch hold.ReleaseAction() {
	case domain.HoldActionNone:
		// Already released, nothing to undo.
		return nil, tx.Commit(ctx)
	case domain.HoldActionDiscard:
		if _, err := tx.Exec(ctx, `UPDATE ledger_holds SET status=$1, updated_at=now() WHERE token=$2`,
			domain.HoldStatusReleased, token); err != nil {
			return nil, err
		}
		return nil, tx.Commit(ctx)
	}

	// A debit was already committed; reverse it with a compensating credit.
	account, err := lockAccount(ctx, tx, hold.CorporateID)
	if err != nil {
		return nil, err
	}
	balanceAfter := account.ApplyCredit(hold.Amount)

	if err := updateAccountBalances(ctx, tx, account); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE ledger_holds SET status=$1, updated_at=now() WHERE token=$2`,
		domain.HoldStatusReleased, token); err != nil {
		return nil, err
	}

	entry, err := appendEntry(ctx, tx, &domain.LedgerEntry{
		CorporateID:        hold.CorporateID,
		Direction:          domain.EntryDirectionCredit,
		Amount:             hold.Amount,
		BalanceAfter:       balanceAfter,
		ReferenceBookingID: hold.BookingID,
	})
	if err != nil {
		return nil, err
	}
	return entry, tx.Commit(ctx)
}

func (r *PGLedgerRepository) Credit(ctx context.Context, corporateID, bookingID, changeID string, amount decimal.Decimal) (*domain.LedgerEntry, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	account, err := lockAccount(ctx, tx, corporateID)
	if err != nil {
		return nil, err
	}
	balanceAfter := account.ApplyCredit(amount)

	if err := updateAccountBalances(ctx, tx, account); err != nil {
		return nil, err
	}

	entry, err := appendEntry(ctx, tx, &domain.LedgerEntry{
		CorporateID:        corporateID,
		Direction:          domain.EntryDirectionCredit,
		Amount:             amount,
		BalanceAfter:       balanceAfter,
		ReferenceBookingID: bookingID,
		ReferenceChangeID:  changeID,
	})
	if err != nil {
		return nil, err
	}
	return entry, tx.Commit(ctx)
}

func (r *PGLedgerRepository) GetHold(ctx context.Context, token string) (*domain.LedgerHold, error) {
	row := r.db.QueryRow(ctx, `SELECT token, corporate_id, booking_id, amount, status, created_at, updated_at
		FROM ledger_holds WHERE token=$1`, token)
	var h domain.LedgerHold
	if err := row.Scan(&h.Token, &h.CorporateID, &h.BookingID, &h.Amount, &h.Status, &h.CreatedAt, &h.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &h, nil
}

func (r *PGLedgerRepository) ListEntries(ctx context.Context, corporateID string) ([]domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT id, corporate_id, direction, amount, balance_after, reference_booking_id, reference_change_id, created_at
		FROM ledger_entries WHERE corporate_id=$1 ORDER BY id`, corporateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.CorporateID, &e.Direction, &e.Amount, &e.BalanceAfter,
			&e.ReferenceBookingID, &e.ReferenceChangeID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func lockAccount(ctx context.Context, tx pgx.Tx, corporateID string) (*domain.CorporateAccount, error) {
	row := tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM corporate_accounts WHERE id=$1 FOR UPDATE`, corporateID)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

func lockHold(ctx context.Context, tx pgx.Tx, token string) (*domain.LedgerHold, error) {
	row := tx.QueryRow(ctx, `SELECT token, corporate_id, booking_id, amount, status, created_at, updated_at
		FROM ledger_holds WHERE token=$1 FOR UPDATE`, token)
	var h domain.LedgerHold
	if err := row.Scan(&h.Token, &h.CorporateID, &h.BookingID, &h.Amount, &h.Status, &h.CreatedAt, &h.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &h, nil
}

func updateAccountBalances(ctx context.Context, tx pgx.Tx, a *domain.CorporateAccount) error {
	_, err := tx.Exec(ctx, `UPDATE corporate_accounts SET wallet_balance=$1, current_credit=$2, updated_at=now() WHERE id=$3`,
		a.WalletBalance, a.CurrentCredit, a.ID)
	return err
}

func appendEntry(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) (*domain.LedgerEntry, error) {
	if err := tx.QueryRow(ctx, `INSERT INTO ledger_entries (corporate_id, direction, amount, balance_after, reference_booking_id, reference_change_id)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`,
		e.CorporateID, e.Direction, e.Amount, e.BalanceAfter, e.ReferenceBookingID, e.ReferenceChangeID).
		Scan(&e.ID, &e.CreatedAt); err != nil {
		return nil, err
	}
	return e, nil
}

func scanAccount(row pgx.Row) (*domain.CorporateAccount, error) {
	var a domain.CorporateAccount
	if err := row.Scan(&a.ID, &a.Name, &a.Classification, &a.WalletBalance, &a.CreditLimit, &a.CurrentCredit, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

var _ LedgerRepository = (*PGLedgerRepository)(nil)
