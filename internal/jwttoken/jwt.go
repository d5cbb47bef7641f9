// Package jwttoken issues and validates the bearer tokens carried by staff portal users.
package jwttoken

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "optout/pkg/domain-errors"
	"optout/pkg/requestcontext"
)

// StaffClaims identifies a staff member (Subject) and the roles they hold.
type StaffClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// JWTService signs and verifies HS256 staff tokens.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	tokenTTL   time.Duration
}

func NewJWTService(signingKey, issuer, audience string, tokenTTL time.Duration) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		tokenTTL:   tokenTTL,
	}
}

// GenerateStaffToken mints a token for staffID holding roles.
func (s *JWTService) GenerateStaffToken(ctx context.Context, staffID string, roles []string) (string, error) {
	if staffID == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "staff id is required")
	}
	jti, err := newJTI()
	if err != nil {
		return "", err
	}
	now := requestcontext.Now(ctx)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, StaffClaims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   staffID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        jti,
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign staff token: %w", err)
	}
	return signed, nil
}

// ValidateStaffToken verifies signature, algorithm, issuer, audience and expiry.
func (s *JWTService) ValidateStaffToken(tokenString string) (*StaffClaims, error) {
	claims := new(StaffClaims)
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return claims, nil
}

// Authenticate adapts ValidateStaffToken to the auth middleware.
func (s *JWTService) Authenticate(tokenString string) (requestcontext.StaffPrincipal, error) {
	claims, err := s.ValidateStaffToken(tokenString)
	if err != nil {
		return requestcontext.StaffPrincipal{}, err
	}
	return requestcontext.StaffPrincipal{StaffID: claims.Subject, Roles: claims.Roles}, nil
}

func newJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate jti: %w", err)
	}
	return hex.EncodeToString(b), nil
}
