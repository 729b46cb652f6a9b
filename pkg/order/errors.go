package order

import (
	"strings"

	"github.com/pkg/errors"
)

// validationError communicates rule violations back to HTTP handlers.
type validationError struct {
	message string
}

func (e validationError) Error() string { return e.message }

// newValidationError keeps the constructor private to the package.
func newValidationError(msg string) error {
	return validationError{message: msg}
}

// IsValidation helps callers distinguish between business and infrastructure failures.
func IsValidation(err error) bool {
	var v validationError
	return errors.As(err, &v)
}

// Placement is a request to turn one product into an order.
type Placement struct {
	PatientID string `json:"patient_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`

	// DosageFrequency is optional; the backend falls back to the product's
	// usual dosage.
	DosageFrequency Frequency `json:"dosage_frequency,omitempty"`
}

// Validate keeps the placement rules near the domain so every entry point reuses them.
func (p Placement) Validate() error {
	if strings.TrimSpace(p.PatientID) == "" {
		return newValidationError("patient id is required")
	}
	if strings.TrimSpace(p.ProductID) == "" {
		return newValidationError("product id is required")
	}
	if p.Quantity <= 0 {
		return newValidationError("quantity must be positive")
	}
	if p.DosageFrequency != "" && !KnownFrequency(p.DosageFrequency) {
		return newValidationError("unknown dosage frequency " + string(p.DosageFrequency))
	}
	return nil
}
