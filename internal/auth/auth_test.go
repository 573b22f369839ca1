package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eludris/eludris/internal/apierror"
)

func TestTokenRoundTrip(t *testing.T) {
	secret := make([]byte, SecretSize)
	for i := range secret {
		secret[i] = byte(i)
	}

	token, err := SignToken(secret, 48615849987073, 48615849987074)
	require.NoError(t, err)

	claims, err := ParseToken(secret, token)
	require.NoError(t, err)
	require.EqualValues(t, 48615849987073, claims.UserID)
	require.EqualValues(t, 48615849987074, claims.SessionID)
}

func TestTokenTamperingRejected(t *testing.T) {
	secret := make([]byte, SecretSize)
	token, err := SignToken(secret, 1, 2)
	require.NoError(t, err)

	// Flip one bit anywhere in the token.
	for i := 0; i < len(token); i++ {
		tampered := []byte(token)
		tampered[i] ^= 0x01
		if string(tampered) == token {
			continue
		}
		_, err := ParseToken(secret, string(tampered))
		if err == nil {
			t.Fatalf("bit flip at %d accepted", i)
		}
		var apiErr *apierror.Error
		require.True(t, errors.As(err, &apiErr))
		require.Equal(t, "UNAUTHORIZED", apiErr.Type)
	}
}

func TestTokenWrongSecretRejected(t *testing.T) {
	secret := make([]byte, SecretSize)
	other := make([]byte, SecretSize)
	other[0] = 1

	token, err := SignToken(secret, 1, 2)
	require.NoError(t, err)
	_, err = ParseToken(other, token)
	require.Error(t, err)
}

func TestPasswordHashAndVerify(t *testing.T) {
	hash, err := HashPassword("autentícame por favor")
	require.NoError(t, err)
	require.Contains(t, hash, "$argon2id$")

	require.NoError(t, VerifyPassword("autentícame por favor", hash))

	err = VerifyPassword("wrong password", hash)
	require.Error(t, err)
	var apiErr *apierror.Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "UNAUTHORIZED", apiErr.Type)
}

func TestPasswordHashesAreSalted(t *testing.T) {
	first, err := HashPassword("password1")
	require.NoError(t, err)
	second, err := HashPassword("password1")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	err := VerifyPassword("password1", "$bcrypt$whatever")
	require.Error(t, err)
	var apiErr *apierror.Error
	require.False(t, errors.As(err, &apiErr))
}
