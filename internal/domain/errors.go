package domain

import "errors"

// Sentinel errors, one per failure cause so callers can assert the exact
// reason with errors.Is. Every operation that returns one of these has made
// no state change and moved no funds.
var (
	ErrNotFound = errors.New("not found")

	// Authorization: caller is not the maker/taker/arbiter/admin/orchestrator
	// the operation requires.
	ErrUnauthorized = errors.New("unauthorized")

	// State: the bet is not in the state the operation requires.
	ErrBadState = errors.New("bet not in required state")

	// Timing.
	ErrTooEarly       = errors.New("required time threshold not reached")
	ErrDeadlinePassed = errors.New("deadline has passed")

	// Validation.
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrPastEndTime       = errors.New("end time must be in the future")
	ErrIdentityCollision = errors.New("maker, taker, and arbiter must be distinct")
	ErrFeeTooHigh        = errors.New("protocol fee plus arbiter fee must stay below 100%")
	ErrAgreementTooLong  = errors.New("agreement text exceeds maximum length")
	ErrZeroToken         = errors.New("token address must not be zero")
	ErrZeroAddress       = errors.New("address must not be zero")

	// Custody / accounting. Treated as fatal, never clamped.
	ErrCustodyMismatch = errors.New("transferred amount differs from requested amount")
	ErrOverdraw        = errors.New("payout exceeds custodied total")

	// Protocol level.
	ErrPaused      = errors.New("protocol is paused")
	ErrRateLimited = errors.New("rate limited")
	ErrLockHeld    = errors.New("lock already held")

	// Arbiter allow-list.
	ErrNotAllowlisted = errors.New("caller is not on the arbiter allow-list")
)
