// Package auth guards the single admin surface spec.md §3/§12 calls for
// (ClearAll and other destructive operator paths) behind a bearer token.
// Grounded on internal/auth/service.go's VerifyAPIKey/VerifyToken/Claims
// shape, trimmed down: there is no registration, login, or per-user
// permission set here (Non-goal: user/role management) — just a fixed set
// of operator API keys, configured at startup, exchanged for a short-lived
// JWT the gateway checks on every admin-tagged route.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
)

// TokenTTL is how long an issued admin token is valid for.
const TokenTTL = time.Hour

// Claims is the JWT payload for an admin-gated token. There is no UserID or
// Email here, unlike the teacher's Claims, because there is no user model
// behind this token — only the fact that some caller presented a
// configured operator key.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Config carries the operator keys (plaintext, typically from environment)
// and the signing secret for issued tokens.
type Config struct {
	APIKeys   []string
	JWTSecret string
}

// Service verifies operator API keys and the bearer tokens issued for them.
type Service struct {
	keyHashes map[string]bool
	jwtSecret string
}

// New hashes cfg.APIKeys up front so verification never compares plaintext.
func New(cfg Config) *Service {
	hashes := make(map[string]bool, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		hashes[hashKey(k)] = true
	}
	return &Service{keyHashes: hashes, jwtSecret: cfg.JWTSecret}
}

// IssueToken exchanges a configured operator key for a short-lived admin
// JWT. The plaintext key itself is never carried further than this call.
func (s *Service) IssueToken(apiKey string) (string, error) {
	if !s.verifyKey(apiKey) {
		return "", ErrInvalidAPIKey
	}
	now := time.Now()
	claims := &Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}

// VerifyToken parses and validates a bearer token, stripping a leading
// "Bearer " prefix if present so callers can hand it the raw Authorization
// header value.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Role != "admin" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) verifyKey(apiKey string) bool {
	hash := hashKey(apiKey)
	for candidate := range s.keyHashes {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(hash)) == 1 {
			return true
		}
	}
	return false
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
