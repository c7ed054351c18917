package services

import (
	"errors"
	"fmt"
)

// Error categories. Handlers map these to HTTP statuses; specific errors
// below wrap a category so callers can match either level with errors.Is.
var (
	// ErrValidation marks malformed input, rejected before any side effect.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an absent entity.
	ErrNotFound = errors.New("not found")
	// ErrPrecondition marks an entity in the wrong state for the requested
	// transition. Permanent; retrying without a state change cannot succeed.
	ErrPrecondition = errors.New("precondition failed")
	// ErrDependencyUnavailable marks a downstream transport failure. The
	// caller or an operator may retry.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrDependencyRejected marks a downstream business decline. Permanent.
	ErrDependencyRejected = errors.New("dependency rejected request")
)

var (
	ErrOrderNotFound = fmt.Errorf("%w: order not found", ErrNotFound)

	ErrNotPayable     = fmt.Errorf("%w: order not valid for payment processing", ErrPrecondition)
	ErrNotConfirmable = fmt.Errorf("%w: order not confirmable", ErrPrecondition)
	ErrNotProcessable = fmt.Errorf("%w: order not ready for inventory processing", ErrPrecondition)
	ErrNotDeliverable = fmt.Errorf("%w: order not ready for delivery", ErrPrecondition)
	// ErrAlreadyDelivered is reported distinctly from ErrNotDeliverable so
	// callers can tell a replayed confirmation from a premature one.
	ErrAlreadyDelivered = fmt.Errorf("%w: order already delivered", ErrPrecondition)

	ErrPaymentsUnavailable  = fmt.Errorf("%w: payment service unreachable", ErrDependencyUnavailable)
	ErrInventoryUnavailable = fmt.Errorf("%w: inventory service unreachable", ErrDependencyUnavailable)

	ErrDeductionNotConfirmed = fmt.Errorf("%w: inventory did not confirm deduction", ErrDependencyRejected)
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
