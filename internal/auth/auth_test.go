package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService() *Service {
	return New(Config{APIKeys: []string{"op-key-one", "op-key-two"}, JWTSecret: "test-secret"})
}

func TestIssueTokenRejectsUnknownKey(t *testing.T) {
	t.Run("an api key that was never configured is rejected", func(t *testing.T) {
		s := newService()
		_, err := s.IssueToken("not-a-real-key")
		assert.ErrorIs(t, err, ErrInvalidAPIKey)
	})
}

func TestIssueTokenThenVerifyRoundTrip(t *testing.T) {
	t.Run("a token issued for a configured key verifies as admin", func(t *testing.T) {
		s := newService()
		token, err := s.IssueToken("op-key-one")
		require.NoError(t, err)

		claims, err := s.VerifyToken(token)
		require.NoError(t, err)
		assert.Equal(t, "admin", claims.Role)
	})
}

func TestVerifyTokenStripsBearerPrefix(t *testing.T) {
	t.Run("a raw Authorization header value with Bearer prefix verifies the same as the bare token", func(t *testing.T) {
		s := newService()
		token, err := s.IssueToken("op-key-two")
		require.NoError(t, err)

		claims, err := s.VerifyToken("Bearer " + token)
		require.NoError(t, err)
		assert.Equal(t, "admin", claims.Role)
	})
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	t.Run("a token past its expiry is rejected as expired", func(t *testing.T) {
		s := newService()
		claims := &Claims{
			Role: "admin",
			RegisteredClaims: jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = s.VerifyToken(signed)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	t.Run("a token signed with a different secret is rejected", func(t *testing.T) {
		s := newService()
		other := New(Config{APIKeys: []string{"op-key-one"}, JWTSecret: "other-secret"})
		token, err := other.IssueToken("op-key-one")
		require.NoError(t, err)

		_, err = s.VerifyToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	t.Run("a non-JWT string is rejected as invalid", func(t *testing.T) {
		s := newService()
		_, err := s.VerifyToken("not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
