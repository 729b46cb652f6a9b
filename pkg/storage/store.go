// Package storage provides the device-local key/value space that keeps the
// cart and session markers alive across restarts.
package storage

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// Keys owned by the storefront core.
const (
	CartKey  = "nexus_cart"
	UserKey  = "nexus_user"
	AdminKey = "nexus_admin"
)

// ErrNotFound is returned when a key has never been written or was deleted.
var ErrNotFound = errors.New("storage key not found")

// ErrClosed is returned by stores that were shut down.
var ErrClosed = errors.New("storage is closed")

// Store is a scoped key/value space. Values are opaque bytes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// GetJSON decodes the value stored under key into v.
func GetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "decode %s", key)
	}
	return nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return s.Set(ctx, key, data)
}
