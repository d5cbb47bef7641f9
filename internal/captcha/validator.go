package captcha

import (
	"context"
	"log/slog"

	"optout/pkg/platform/privacy"
	"optout/pkg/requestcontext"
)

// Validator checks a token with the provider and then burns it so it cannot be replayed.
type Validator struct {
	verifier Verifier
	replay   ReplayGuard
	logger   *slog.Logger
}

func NewValidator(verifier Verifier, replay ReplayGuard, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{verifier: verifier, replay: replay, logger: logger}
}

// Validate returns false for failed or replayed challenges. Errors mean the provider or
// the replay store could not answer.
func (v *Validator) Validate(ctx context.Context, token, remoteIP string) (bool, error) {
	ok, err := v.verifier.Verify(ctx, token, remoteIP)
	if err != nil || !ok {
		return false, err
	}
	if v.replay == nil {
		return true, nil
	}
	fresh, err := v.replay.Claim(ctx, token)
	if err != nil {
		return false, err
	}
	if !fresh {
		v.logger.WarnContext(ctx, "captcha token replayed",
			"client_ip", privacy.AnonymizeIP(remoteIP),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return fresh, nil
}
