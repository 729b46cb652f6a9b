// Package session persists the user and admin session markers on the device.
package session

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"pharmacy/pkg/storage"
)

// DefaultPatientID is used for chat requests when no user is signed in.
const DefaultPatientID = "PAT001"

var (
	// ErrNoSession is returned when no valid marker is stored.
	ErrNoSession = errors.New("no active session")
	// ErrExpired is returned when the stored token carries an expiry in the past.
	ErrExpired = errors.New("session expired")
)

// User is the marker written after a successful patient login.
type User struct {
	PatientID string `json:"patient_id"`
	Name      string `json:"name"`
	Token     string `json:"token"`
}

// Admin is the marker written after a successful admin login.
type Admin struct {
	Authenticated bool   `json:"authenticated"`
	Name          string `json:"name,omitempty"`
	Role          string `json:"role,omitempty"`
	Token         string `json:"token"`
}

// Valid reports whether the marker grants access to the admin console.
func (a Admin) Valid() bool {
	return a.Authenticated && a.Token != ""
}

// Store reads and writes markers through a storage.Store.
type Store struct {
	kv  storage.Store
	now func() time.Time
}

// NewStore binds the markers to kv.
func NewStore(kv storage.Store) *Store {
	return &Store{kv: kv, now: time.Now}
}

// SaveUser replaces the user marker.
func (s *Store) SaveUser(ctx context.Context, u User) error {
	if u.PatientID == "" {
		return errors.New("patient id is required")
	}
	return storage.SetJSON(ctx, s.kv, storage.UserKey, u)
}

// User returns the stored user marker.
func (s *Store) User(ctx context.Context) (User, error) {
	var u User
	if err := s.load(ctx, storage.UserKey, &u); err != nil {
		return User{}, err
	}
	if u.PatientID == "" {
		return User{}, ErrNoSession
	}
	if TokenExpired(u.Token, s.now()) {
		return User{}, ErrExpired
	}
	return u, nil
}

// PatientID returns the signed-in patient or DefaultPatientID.
func (s *Store) PatientID(ctx context.Context) string {
	u, err := s.User(ctx)
	if err != nil {
		return DefaultPatientID
	}
	return u.PatientID
}

// ClearUser removes the user marker (logout).
func (s *Store) ClearUser(ctx context.Context) error {
	return s.kv.Delete(ctx, storage.UserKey)
}

// SaveAdmin replaces the admin marker. Unauthenticated markers are rejected.
func (s *Store) SaveAdmin(ctx context.Context, a Admin) error {
	if !a.Valid() {
		return errors.New("admin marker must be authenticated and carry a token")
	}
	return storage.SetJSON(ctx, s.kv, storage.AdminKey, a)
}

// Admin returns the stored admin marker if it is valid.
func (s *Store) Admin(ctx context.Context) (Admin, error) {
	var a Admin
	if err := s.load(ctx, storage.AdminKey, &a); err != nil {
		return Admin{}, err
	}
	if !a.Valid() {
		return Admin{}, ErrNoSession
	}
	if TokenExpired(a.Token, s.now()) {
		return Admin{}, ErrExpired
	}
	return a, nil
}

// ClearAdmin removes the admin marker (logout).
func (s *Store) ClearAdmin(ctx context.Context) error {
	return s.kv.Delete(ctx, storage.AdminKey)
}

// load treats missing and unreadable markers alike: there is no session.
func (s *Store) load(ctx context.Context, key string, v interface{}) error {
	err := storage.GetJSON(ctx, s.kv, key, v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return ErrNoSession
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return errors.Wrap(ErrNoSession, err.Error())
	}
}

// TokenExpired reports whether token is a JWT whose exp claim is not after now.
// Signatures are not checked; tokens are opaque to the client and only the
// backend verifies them. Tokens that are not JWTs never expire.
func TokenExpired(token string, now time.Time) bool {
	if token == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}
