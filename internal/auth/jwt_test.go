package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)

	token, err := svc.Generate("rider-1")
	require.NoError(t, err)

	userID, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "rider-1", userID)
}

func TestValidateRejectsForeignSecret(t *testing.T) {
	token, err := NewJWTService("other", time.Hour).Generate("rider-1")
	require.NoError(t, err)

	_, err = NewJWTService("secret", time.Hour).ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	svc := NewJWTService("secret", time.Minute)
	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := svc.Generate("rider-1")
	require.NoError(t, err)

	_, err = NewJWTService("secret", time.Minute).ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "x"}})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewJWTService("secret", 0).ValidateToken(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDisabledWithoutSecret(t *testing.T) {
	svc := NewJWTService("", time.Hour)
	_, err := svc.Generate("rider-1")
	assert.ErrorIs(t, err, ErrAuthDisabled)
	_, err = svc.ValidateToken(context.Background(), "x")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
}
