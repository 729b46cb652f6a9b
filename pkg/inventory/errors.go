package inventory

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrClosed is returned once the service has stopped.
var ErrClosed = errors.New("inventory service is closed")

// validationError marks stock changes the operator can correct.
type validationError struct {
	message string
}

func (e validationError) Error() string { return e.message }

func newValidationError(format string, args ...interface{}) error {
	return validationError{message: fmt.Sprintf(format, args...)}
}

// IsValidation helps HTTP handlers answer 400 instead of 500.
func IsValidation(err error) bool {
	var v validationError
	return errors.As(err, &v)
}
