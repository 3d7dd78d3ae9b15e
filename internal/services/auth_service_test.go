package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_IssueAndVerify(t *testing.T) {
	svc := NewAuthService("test-secret")

	token, err := svc.IssueToken("u1", time.Hour)
	require.NoError(t, err)

	userID, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestAuthService_VerifyToken_Rejects(t *testing.T) {
	svc := NewAuthService("test-secret")

	expired, err := svc.IssueToken("u1", -time.Minute)
	require.NoError(t, err)

	foreign, err := NewAuthService("other-secret").IssueToken("u1", time.Hour)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "u1",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"expired", expired},
		{"wrong secret", foreign},
		{"missing sub", noSubject},
		{"alg none", unsigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.VerifyToken(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
