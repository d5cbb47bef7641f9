// Package gate classifies callers as staff or anonymous before any workflow step runs.
package gate

import (
	"context"
	"fmt"

	"optout/internal/verification/models"
	dErrors "optout/pkg/domain-errors"
	"optout/pkg/platform/sentinel"
	"optout/pkg/requestcontext"
)

// CaptchaValidator checks a challenge token with the CAPTCHA provider.
// A false result is a failed challenge; an error means the provider could not answer.
type CaptchaValidator interface {
	Validate(ctx context.Context, token, remoteIP string) (bool, error)
}

// Gate resolves caller trust levels. It has no side effects beyond the CAPTCHA call.
type Gate struct {
	captcha       CaptchaValidator
	workflowRoles []string
}

func New(captcha CaptchaValidator, workflowRoles []string) *Gate {
	return &Gate{captcha: captcha, workflowRoles: workflowRoles}
}

// ResolveTrustLevel returns TrustStaff for authenticated callers holding a workflow role
// and TrustAnonymous for unauthenticated callers with a valid CAPTCHA token.
func (g *Gate) ResolveTrustLevel(ctx context.Context, caller models.Caller) (models.TrustLevel, error) {
	if caller.Authenticated {
		if !caller.HasAnyRole(g.workflowRoles) {
			return "", dErrors.New(dErrors.CodeUnauthorized, "caller does not hold a workflow role")
		}
		return models.TrustStaff, nil
	}

	if caller.CaptchaToken == "" {
		return "", dErrors.New(dErrors.CodeInvalidCaptcha, "captcha token is required")
	}
	ok, err := g.captcha.Validate(ctx, caller.CaptchaToken, caller.RemoteIP)
	if err != nil {
		return "", fmt.Errorf("validate captcha: %w: %w", sentinel.ErrUnavailable, err)
	}
	if !ok {
		return "", dErrors.New(dErrors.CodeInvalidCaptcha, "captcha validation failed")
	}
	return models.TrustAnonymous, nil
}

// RequireRole admits only authenticated callers holding one of roles.
func RequireRole(caller models.Caller, roles []string) error {
	if !caller.Authenticated {
		return dErrors.New(dErrors.CodeUnauthorized, "staff authentication required")
	}
	if !caller.HasAnyRole(roles) {
		return dErrors.New(dErrors.CodeForbidden, "caller lacks the required role")
	}
	return nil
}

// CallerFromContext builds the caller from the staff principal set by the auth middleware,
// falling back to an anonymous caller carrying captchaToken and the client IP.
func CallerFromContext(ctx context.Context, captchaToken string) models.Caller {
	if p, ok := requestcontext.Staff(ctx); ok {
		return models.StaffCaller(p.StaffID, p.Roles)
	}
	return models.AnonymousCaller(captchaToken, requestcontext.ClientIP(ctx))
}
