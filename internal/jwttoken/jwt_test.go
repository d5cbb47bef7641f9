package jwttoken

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "optout/pkg/domain-errors"
	"optout/pkg/requestcontext"
)

const testKey = "test-signing-key-0123456789"

func newService() *JWTService {
	return NewJWTService(testKey, "test-issuer", "test-audience", time.Hour)
}

func TestGenerateAndValidateStaffToken(t *testing.T) {
	svc := newService()
	token, err := svc.GenerateStaffToken(context.Background(), "agent-7", []string{"opt_out_agent"})
	require.NoError(t, err)

	claims, err := svc.ValidateStaffToken(token)
	require.NoError(t, err)
	assert.Equal(t, "agent-7", claims.Subject)
	assert.Equal(t, []string{"opt_out_agent"}, claims.Roles)
	assert.NotEmpty(t, claims.ID)

	principal, err := svc.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, requestcontext.StaffPrincipal{StaffID: "agent-7", Roles: []string{"opt_out_agent"}}, principal)
}

func TestGenerateRequiresStaffID(t *testing.T) {
	_, err := newService().GenerateStaffToken(context.Background(), "", nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc := newService()
	past := requestcontext.WithTime(context.Background(), time.Now().Add(-2*time.Hour))
	token, err := svc.GenerateStaffToken(past, "agent-7", nil)
	require.NoError(t, err)

	_, err = svc.ValidateStaffToken(token)
	require.ErrorContains(t, err, "token expired")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateRejectsForeignTokens(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	otherIssuer, err := NewJWTService(testKey, "other-issuer", "test-audience", time.Hour).GenerateStaffToken(ctx, "a", nil)
	require.NoError(t, err)
	otherAudience, err := NewJWTService(testKey, "test-issuer", "other-audience", time.Hour).GenerateStaffToken(ctx, "a", nil)
	require.NoError(t, err)
	otherKey, err := NewJWTService("another-signing-key-9876543210", "test-issuer", "test-audience", time.Hour).GenerateStaffToken(ctx, "a", nil)
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, StaffClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "a",
			Issuer:    "test-issuer",
			Audience:  []string{"test-audience"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"issuer":    otherIssuer,
		"audience":  otherAudience,
		"signature": otherKey,
		"none alg":  noneAlg,
		"garbage":   "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateStaffToken(token)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		})
	}
}
