package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubVerifyAcceptsAnyFourDigits(t *testing.T) {
	p := NewStubOtpProvider()
	ctx := context.Background()

	assert.NoError(t, p.VerifyOTP(ctx, "0541234567", "0000"))
	assert.NoError(t, p.VerifyOTP(ctx, "0541234567", "9876"))
}

func TestStubVerifyRejectsBadCodes(t *testing.T) {
	p := NewStubOtpProvider()
	ctx := context.Background()

	for _, code := range []string{"", "123", "12345", "12a4", "    "} {
		assert.ErrorIs(t, p.VerifyOTP(ctx, "0541234567", code), ErrInvalidCode, "code %q", code)
	}
}

func TestStubRequestRateLimit(t *testing.T) {
	p := NewStubOtpProvider()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, p.RequestOTP(ctx, "0541234567"))
	}
	assert.ErrorIs(t, p.RequestOTP(ctx, "0541234567"), ErrTooManyRequests)

	// another phone is unaffected
	assert.NoError(t, p.RequestOTP(ctx, "0529999999"))
}

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret")
	id := uuid.New()

	token, err := svc.SignSessionToken(id, "BUYER")
	require.NoError(t, err)

	got, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTService("secret-a").SignSessionToken(uuid.New(), "SELLER")
	require.NoError(t, err)

	_, err = NewJWTService("secret-b").VerifyToken(token)
	assert.Error(t, err)
}

func TestJWTRejectsGarbage(t *testing.T) {
	_, err := NewJWTService("secret").VerifyToken("not.a.token")
	assert.Error(t, err)
}
