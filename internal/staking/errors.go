package staking

import "errors"

// Validation errors. The caller can correct and retry these.
var (
	// ErrZeroAmount is returned when staking or unstaking nothing.
	ErrZeroAmount = errors.New("amount must be greater than zero")

	// ErrInsufficientStake is returned when unstaking more than the position holds.
	ErrInsufficientStake = errors.New("insufficient staked balance")

	// ErrUnauthorized is returned when the acting identity may not perform the operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidRewardDuration is returned for a zero window or one longer than a year.
	ErrInvalidRewardDuration = errors.New("invalid reward duration")

	// ErrInvalidOperation is returned for malformed queued operations.
	ErrInvalidOperation = errors.New("invalid operation")
)

// Lookup errors returned by stores.
var (
	ErrPoolNotFound = errors.New("pool not found")
	ErrPoolExists   = errors.New("pool already exists")
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")

	ErrOperationNotFound = errors.New("operation not found")
)

// ErrAlreadyApplied is returned when an operation ID is already in the journal.
// Nothing was changed by the call that returned it.
var ErrAlreadyApplied = errors.New("operation already applied")

// IsValidation reports whether err was caused by the request rather than a fault.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrZeroAmount,
		ErrInsufficientStake,
		ErrUnauthorized,
		ErrInvalidRewardDuration,
		ErrInvalidOperation,
		ErrPoolNotFound,
		ErrPoolExists,
		ErrUserNotFound,
		ErrUserExists,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
