package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestIssueAndVerify(t *testing.T) {
	issuer, err := NewIssuer("s3cret", time.Hour)
	require.NoError(t, err)

	token, err := issuer.GenerateToken("PAT-1234", "Asha", "patient")
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "PAT-1234", claims.Subject)
	assert.Equal(t, "Asha", claims.Name)
	assert.Equal(t, "patient", claims.Role)

	other, err := NewIssuer("different", time.Hour)
	require.NoError(t, err)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredAndForeignAlgorithms(t *testing.T) {
	issuer, err := NewIssuer("s3cret", time.Minute)
	require.NoError(t, err)
	issued := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return issued }
	token, err := issuer.GenerateToken("admin", "Admin", "admin")
	require.NoError(t, err)

	issuer.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = issuer.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewIssuer("", 0)
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("nexus2026", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "nexus2026"))
	assert.False(t, CheckPassword(hash, "nexus2027"))
	assert.False(t, CheckPassword("not-a-hash", "nexus2026"))
}
