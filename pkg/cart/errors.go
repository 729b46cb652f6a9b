package cart

import "github.com/pkg/errors"

// validationError communicates rejected additions back to callers.
type validationError struct {
	message string
}

func (e validationError) Error() string { return e.message }

func newValidationError(msg string) error {
	return validationError{message: msg}
}

// IsValidation helps callers distinguish bad input from storage failures.
func IsValidation(err error) bool {
	var v validationError
	return errors.As(err, &v)
}

// ErrClosed is returned once the cart service has been stopped.
var ErrClosed = errors.New("cart is closed")
