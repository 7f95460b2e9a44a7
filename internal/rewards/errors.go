package rewards

import "errors"

// Arithmetic faults. Any of them aborts the operation that produced it.
var (
	// ErrOverflow is returned when a result does not fit its destination width.
	ErrOverflow = errors.New("arithmetic overflow")

	// ErrUnderflow is returned when a subtraction would go below zero.
	ErrUnderflow = errors.New("arithmetic underflow")

	// ErrNegativeElapsed is returned when the clock reads earlier than the pool's last update.
	ErrNegativeElapsed = errors.New("negative elapsed time since last update")

	// ErrDivideByZero is returned when a divisor that validation should have ruled out is zero.
	ErrDivideByZero = errors.New("division by zero")
)
