// Package patient holds the account records exchanged with the backend.
package patient

import (
	"net/mail"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the patient record returned by the backend.
type Profile struct {
	PatientID            string   `json:"patient_id"`
	Name                 string   `json:"name"`
	Email                string   `json:"email"`
	Phone                string   `json:"phone"`
	Age                  *int     `json:"age"`
	Gender               string   `json:"gender"`
	Allergies            []string `json:"allergies"`
	PreferredStore       string   `json:"preferred_store"`
	PrescriptionUploaded bool     `json:"prescription_uploaded"`
}

// Update carries the editable profile fields. Nil fields are left unchanged.
type Update struct {
	Name           *string  `json:"name,omitempty"`
	Phone          *string  `json:"phone,omitempty"`
	Age            *int     `json:"age,omitempty"`
	Gender         *string  `json:"gender,omitempty"`
	Allergies      []string `json:"allergies,omitempty"`
	PreferredStore *string  `json:"preferred_store,omitempty"`
}

// Apply copies the set fields of u onto p.
func (u Update) Apply(p Profile) Profile {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
	if u.Age != nil {
		age := *u.Age
		p.Age = &age
	}
	if u.Gender != nil {
		p.Gender = *u.Gender
	}
	if u.Allergies != nil {
		p.Allergies = append([]string(nil), u.Allergies...)
	}
	if u.PreferredStore != nil {
		p.PreferredStore = *u.PreferredStore
	}
	return p
}

// Registration is the sign-up form.
type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Age      *int   `json:"age,omitempty"`
	Gender   string `json:"gender,omitempty"`
}

// Validate checks the fields the sign-up form requires.
func (r Registration) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return newValidationError("name is required")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return newValidationError("a valid email is required")
	}
	if strings.TrimSpace(r.Phone) == "" {
		return newValidationError("phone is required")
	}
	if len(r.Password) < 6 {
		return newValidationError("password must be at least 6 characters")
	}
	if r.Age != nil && (*r.Age < 0 || *r.Age > 150) {
		return newValidationError("age is out of range")
	}
	return nil
}

// Prescription is an uploaded prescription file.
type Prescription struct {
	ID            int    `json:"id"`
	PatientID     string `json:"patient_id"`
	FileURL       string `json:"file_url"`
	UploadedAt    string `json:"uploaded_at"`
	Verified      bool   `json:"verified"`
	ExtractedText string `json:"extracted_text"`
}

// Credentials is the patient login form.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// validationError signals user-correctable input.
type validationError struct {
	msg string
}

func (e validationError) Error() string {
	return e.msg
}

func newValidationError(msg string) error {
	return validationError{msg: msg}
}

// IsValidation reports whether err stems from invalid input.
func IsValidation(err error) bool {
	var v validationError
	return errors.As(err, &v)
}
