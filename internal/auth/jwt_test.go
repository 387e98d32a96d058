package auth_test

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/tuva-labs/tuva-server/internal/auth"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateTokenReturnsSubject(t *testing.T) {
	signed := signToken(t, "secret", jwt.MapClaims{"sub": "auth0|user-1"})

	sub, err := auth.ValidateToken(signed, "secret")
	require.NoError(t, err)
	require.Equal(t, "auth0|user-1", sub)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	signed := signToken(t, "secret", jwt.MapClaims{"sub": "auth0|user-1"})

	_, err := auth.ValidateToken(signed, "other-secret")
	require.Error(t, err)
}

func TestValidateTokenMissingSubject(t *testing.T) {
	signed := signToken(t, "secret", jwt.MapClaims{"email": "someone@example.com"})

	_, err := auth.ValidateToken(signed, "secret")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no subject")
}

func TestValidateTokenGarbage(t *testing.T) {
	_, err := auth.ValidateToken("not-a-token", "secret")
	require.Error(t, err)
}
