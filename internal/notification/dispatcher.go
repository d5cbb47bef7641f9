package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"optout/internal/platform/kafka/consumer"
	"optout/pkg/platform/privacy"
	"optout/pkg/platform/sentinel"
)

// Dispatcher is the consuming side of KafkaSender: it decodes outbound records and hands
// them to the direct sender for their channel.
type Dispatcher struct {
	senders map[Channel]Sender
	logger  *slog.Logger
}

func NewDispatcher(sms, email Sender, logger *slog.Logger) *Dispatcher {
	senders := make(map[Channel]Sender)
	if sms != nil {
		senders[ChannelSMS] = sms
	}
	if email != nil {
		senders[ChannelEmail] = email
	}
	return &Dispatcher{senders: senders, logger: logger}
}

// Handle implements consumer.Handler. Undecodable records and records for an unconfigured
// channel are dropped with an error log; only sender failures are returned for retry.
func (d *Dispatcher) Handle(ctx context.Context, msg *consumer.Message) error {
	var out outboundMessage
	if err := json.Unmarshal(msg.Value, &out); err != nil {
		d.logger.ErrorContext(ctx, "dropping undecodable notification", "offset", msg.Offset, "error", err)
		return nil
	}
	sender, ok := d.senders[out.Channel]
	if !ok {
		d.logger.ErrorContext(ctx, "dropping notification for unconfigured channel",
			"channel", string(out.Channel),
			"offset", msg.Offset,
		)
		return nil
	}

	err := sender.Send(ctx, Message{
		Channel:     out.Channel,
		Destination: out.Destination,
		Code:        out.Code,
		ExpiresOn:   out.ExpiresOn,
	})
	if errors.Is(err, sentinel.ErrRejected) {
		d.logger.WarnContext(ctx, "notification rejected by provider",
			"channel", string(out.Channel),
			"destination", privacy.MaskDestination(out.Destination),
			"error", err,
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", out.Channel, err)
	}
	return nil
}
