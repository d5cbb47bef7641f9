// Package auth authenticates staff portal callers from their bearer token.
//
// Public endpoints use OptionalStaff: a request without an Authorization header continues
// as anonymous (and must then pass CAPTCHA), while a request presenting a bad token is
// rejected outright rather than downgraded. Staff-only endpoints use RequireStaff.
package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"optout/pkg/platform/httputil"
	"optout/pkg/requestcontext"
)

// Authenticator validates a raw bearer token.
type Authenticator interface {
	Authenticate(token string) (requestcontext.StaffPrincipal, error)
}

// OptionalStaff attaches the staff principal when a valid token is presented.
func OptionalStaff(authn Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return staff(authn, logger, false)
}

// RequireStaff rejects requests without a valid staff token.
func RequireStaff(authn Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return staff(authn, logger, true)
}

func staff(authn Authenticator, logger *slog.Logger, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			header := r.Header.Get("Authorization")
			if header == "" && !required {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				unauthorized(w, "Missing or invalid Authorization header")
				return
			}

			principal, err := authn.Authenticate(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				unauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithStaff(ctx, principal)))
		})
	}
}

func unauthorized(w http.ResponseWriter, description string) {
	httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{
		Error:       "unauthorized",
		Description: description,
	})
}
