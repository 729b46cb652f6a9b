// Package store is the in-memory state of the reference backend: catalog,
// patients, administrators, orders and prescriptions. Every access runs on
// one goroutine and each mutation is mirrored to a storage.Store.
package store

import (
	"fmt"

	"github.com/pkg/errors"

	"pharmacy/pkg/catalog"
	"pharmacy/pkg/order"
	"pharmacy/pkg/patient"
)

// StateKey is the storage key holding the serialized state.
const StateKey = "pharmacy_backend_state"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("Invalid email or password")
	ErrClosed             = errors.New("store is closed")
)

// Admin is an operator account.
type Admin struct {
	Username     string `json:"username"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	PasswordHash string `json:"password_hash"`
}

type patientRecord struct {
	Profile      patient.Profile `json:"profile"`
	PasswordHash string          `json:"password_hash"`
}

// state is everything the backend persists.
type state struct {
	Products      []catalog.Product      `json:"products"`
	Patients      []patientRecord        `json:"patients"`
	Admins        []Admin                `json:"admins"`
	Orders        []order.Order          `json:"orders"`
	Prescriptions []patient.Prescription `json:"prescriptions"`
}

// validationError marks requests the caller can correct.
type validationError struct {
	msg string
}

func (e validationError) Error() string {
	return e.msg
}

func newValidationError(format string, args ...interface{}) error {
	return validationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err was caused by invalid input.
func IsValidation(err error) bool {
	var v validationError
	return errors.As(err, &v)
}
