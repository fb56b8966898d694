package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWTService() *JWTService {
	return NewJWTService(
		"test-secret-key-for-testing-purposes",
		15*time.Minute,
		7*24*time.Hour,
	)
}

// later returns a clock d ahead of the real one.
func later(d time.Duration) func() time.Time {
	return func() time.Time { return time.Now().Add(d) }
}

// ============================================
// Access Token Tests
// ============================================

func TestJWTService_AccessToken_RoundTrip(t *testing.T) {
	service := newTestJWTService()

	token, expiresAt, err := service.GenerateAccessToken("user-456", "test@example.com", "session-9")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 2*time.Second)

	claims, err := service.ValidateAccessToken(token)

	require.NoError(t, err)
	assert.Equal(t, "user-456", claims.UserID)
	assert.Equal(t, "test@example.com", claims.Email)
	assert.Equal(t, "session-9", claims.SessionID)
	assert.Equal(t, "user-456", claims.Subject)
	assert.Equal(t, issuer, claims.Issuer)
}

func TestJWTService_AccessToken_Expired(t *testing.T) {
	service := newTestJWTService()
	token, _, err := service.GenerateAccessToken("user-123", "test@example.com", "session-1")
	require.NoError(t, err)

	service.now = later(16 * time.Minute)
	claims, err := service.ValidateAccessToken(token)

	assert.ErrorIs(t, err, ErrExpiredToken)
	assert.Nil(t, claims)
}

func TestJWTService_AccessToken_Rejected(t *testing.T) {
	service := newTestJWTService()
	other := NewJWTService("another-secret-key-of-enough-length", 15*time.Minute, time.Hour)

	foreign, _, err := other.GenerateAccessToken("user-123", "test@example.com", "session-1")
	require.NoError(t, err)
	refresh, _, err := service.GenerateRefreshToken("user-123")
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		UserID:    "user-123",
		SessionID: "session-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{accessAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	noSession, err := service.sign(Claims{
		UserID:           "user-123",
		RegisteredClaims: service.registered("user-123", accessAudience, time.Hour),
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"random string", "not-a-valid-token"},
		{"malformed JWT", "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid.signature"},
		{"wrong signature", foreign},
		{"refresh token", refresh},
		{"alg none", unsigned},
		{"no session", noSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := service.ValidateAccessToken(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Nil(t, claims)
		})
	}
}

// ============================================
// Refresh Token Tests
// ============================================

func TestJWTService_RefreshToken_RoundTrip(t *testing.T) {
	service := newTestJWTService()

	token, expiresAt, err := service.GenerateRefreshToken("user-789")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), expiresAt, 2*time.Second)

	userID, err := service.ValidateRefreshToken(token)

	require.NoError(t, err)
	assert.Equal(t, "user-789", userID)
}

func TestJWTService_RefreshToken_Expired(t *testing.T) {
	service := newTestJWTService()
	token, _, err := service.GenerateRefreshToken("user-123")
	require.NoError(t, err)

	service.now = later(8 * 24 * time.Hour)
	userID, err := service.ValidateRefreshToken(token)

	assert.ErrorIs(t, err, ErrExpiredToken)
	assert.Empty(t, userID)
}

func TestJWTService_RefreshToken_Rejected(t *testing.T) {
	service := newTestJWTService()
	other := NewJWTService("another-secret-key-of-enough-length", 15*time.Minute, time.Hour)

	foreign, _, err := other.GenerateRefreshToken("user-123")
	require.NoError(t, err)
	access, _, err := service.GenerateAccessToken("user-123", "test@example.com", "session-1")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"random string", "invalid-token"},
		{"wrong signature", foreign},
		{"access token", access},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, err := service.ValidateRefreshToken(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Empty(t, userID)
		})
	}
}

func TestJWTService_RefreshTokensAreUnique(t *testing.T) {
	service := newTestJWTService()

	first, _, err := service.GenerateRefreshToken("user-123")
	require.NoError(t, err)
	second, _, err := service.GenerateRefreshToken("user-123")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}
