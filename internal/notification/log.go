package notification

import (
	"context"
	"log/slog"

	"optout/pkg/platform/privacy"
	"optout/pkg/requestcontext"
)

// LogSender writes deliveries to the log instead of sending them. For local runs only.
type LogSender struct {
	logger      *slog.Logger
	includeCode bool
}

// NewLogSender logs the code itself only when includeCode is set.
func NewLogSender(logger *slog.Logger, includeCode bool) *LogSender {
	return &LogSender{logger: logger, includeCode: includeCode}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	attrs := []any{
		"channel", string(msg.Channel),
		"destination", privacy.MaskDestination(msg.Destination),
		"identifier", privacy.MaskIdentifier(msg.Identifier),
		"expires_on", msg.ExpiresOn,
		"request_id", requestcontext.RequestID(ctx),
	}
	if s.includeCode {
		attrs = append(attrs, "code", msg.Code)
	}
	s.logger.InfoContext(ctx, "validation code delivery (log transport)", attrs...)
	return nil
}
