package domain

import "errors"

var (
	// ErrNotFound is returned when a booking or change request does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks a malformed request. Wrapped with a field detail.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is a state machine contract violation. Not
	// retryable, the caller's logic is wrong.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrFareExpired means the fare snapshot is no longer executable. The
	// caller must re-quote.
	ErrFareExpired = errors.New("fare expired")

	// ErrInsufficientFunds means the corporate account cannot cover the
	// booking amount. Not retryable without a balance change.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrProviderUnavailable is a transient provider failure after bounded
	// retries.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderRejected means the provider refused the request. Terminal
	// for this attempt.
	ErrProviderRejected = errors.New("provider rejected")

	// ErrPollTimeout means ticket issuance did not resolve within the
	// maximum wait budget.
	ErrPollTimeout = errors.New("ticket status poll timed out")

	// ErrInvalidBookingState means an amendment was attempted against the
	// wrong lifecycle stage.
	ErrInvalidBookingState = errors.New("invalid booking state for amendment")

	// ErrAmendmentInFlight means the booking already has a non-terminal
	// change request.
	ErrAmendmentInFlight = errors.New("another amendment is in flight")
)
