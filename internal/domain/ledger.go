package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type AccountClass string

const (
	AccountClassPrepaid  AccountClass = "PREPAID"
	AccountClassPostpaid AccountClass = "POSTPAID"
)

// CorporateAccount holds the spendable capacity for one corporate customer.
// Prepaid accounts spend a wallet balance, postpaid accounts consume a
// credit line tracked by CurrentCredit.
type CorporateAccount struct {
	ID             string
	Name           string
	Classification AccountClass
	WalletBalance  decimal.Decimal
	CreditLimit    decimal.Decimal
	CurrentCredit  decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Covers reports whether the account can take on amount given the funds
// already held by active reservations.
func (a *CorporateAccount) Covers(held, amount decimal.Decimal) bool {
	switch a.Classification {
	case AccountClassPrepaid:
		return a.WalletBalance.Sub(held).GreaterThanOrEqual(amount)
	case AccountClassPostpaid:
		return a.CurrentCredit.Add(held).Add(amount).LessThanOrEqual(a.CreditLimit)
	default:
		return false
	}
}

// ApplyDebit consumes amount from the account and returns the resulting
// balance figure (wallet balance for prepaid, credit utilization for
// postpaid).
func (a *CorporateAccount) ApplyDebit(amount decimal.Decimal) decimal.Decimal {
	if a.Classification == AccountClassPrepaid {
		a.WalletBalance = a.WalletBalance.Sub(amount)
		return a.WalletBalance
	}
	a.CurrentCredit = a.CurrentCredit.Add(amount)
	return a.CurrentCredit
}

// ApplyCredit returns amount to the account and reports the resulting
// balance figure.
func (a *CorporateAccount) ApplyCredit(amount decimal.Decimal) decimal.Decimal {
	if a.Classification == AccountClassPrepaid {
		a.WalletBalance = a.WalletBalance.Add(amount)
		return a.WalletBalance
	}
	a.CurrentCredit = a.CurrentCredit.Sub(amount)
	return a.CurrentCredit
}

type EntryDirection string

const (
	EntryDirectionCredit EntryDirection = "CREDIT"
	EntryDirectionDebit  EntryDirection = "DEBIT"
)

// LedgerEntry is an append-only record of a balance movement. Entries are
// never edited or removed; reversals are new entries.
type LedgerEntry struct {
	ID                 int64
	CorporateID        string
	Direction          EntryDirection
	Amount             decimal.Decimal
	BalanceAfter       decimal.Decimal
	ReferenceBookingID string
	ReferenceChangeID  string
	CreatedAt          time.Time
}

type HoldStatus string

const (
	HoldStatusHeld      HoldStatus = "HELD"
	HoldStatusCommitted HoldStatus = "COMMITTED"
	HoldStatusReleased  HoldStatus = "RELEASED"
)

// LedgerHold is a provisional claim on an account's spendable funds.
// Active holds count against capacity until committed or released.
type LedgerHold struct {
	Token       string
	CorporateID string
	BookingID   string
	Amount      decimal.Decimal
	Status      HoldStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HoldAction is the settlement step a hold transition requires.
type HoldAction int

const (
	HoldActionNone HoldAction = iota
	HoldActionDebit
	HoldActionDiscard
	HoldActionCreditBack
)

// CommitAction resolves what committing this hold must do. Committing twice
// keeps the single debit; a released hold can no longer be committed.
func (h *LedgerHold) CommitAction() (HoldAction, error) {
	switch h.Status {
	case HoldStatusHeld:
		return HoldActionDebit, nil
	case HoldStatusCommitted:
		return HoldActionNone, nil
	default:
		return HoldActionNone, fmt.Errorf("hold %s already released, cannot commit", h.Token)
	}
}

// ReleaseAction resolves what releasing this hold must do. A committed hold
// is reversed with a compensating credit; a plain hold is discarded without
// touching the balance.
func (h *LedgerHold) ReleaseAction() HoldAction {
	switch h.Status {
	case HoldStatusHeld:
		return HoldActionDiscard
	case HoldStatusCommitted:
		return HoldActionCreditBack
	default:
		return HoldActionNone
	}
}
