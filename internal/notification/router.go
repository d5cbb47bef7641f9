package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"optout/internal/verification/models"
	"optout/pkg/platform/privacy"
	"optout/pkg/platform/sentinel"
	"optout/pkg/platform/tracer"
	"optout/pkg/requestcontext"
)

// Router picks a channel from the patient's preference and contact details.
//
//	sms   -> phone
//	email -> e-mail
//	none  -> e-mail when present, otherwise phone
type Router struct {
	senders map[Channel]Sender
	tracer  tracer.Tracer
	logger  *slog.Logger
}

type RouterOption func(*Router)

func WithSender(ch Channel, sender Sender) RouterOption {
	return func(r *Router) {
		r.senders[ch] = sender
	}
}

// WithAllChannels routes every channel through one sender, e.g. the Kafka outbox.
func WithAllChannels(sender Sender) RouterOption {
	return func(r *Router) {
		r.senders[ChannelSMS] = sender
		r.senders[ChannelEmail] = sender
	}
}

func WithTracer(t tracer.Tracer) RouterOption {
	return func(r *Router) {
		r.tracer = t
	}
}

func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		senders: make(map[Channel]Sender),
		tracer:  tracer.NewNoop(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SendCodeNotification delivers the plaintext code carried on patient.
func (r *Router) SendCodeNotification(ctx context.Context, patient *models.Patient) (err error) {
	if patient == nil || patient.ValidationCode == "" || patient.ValidationCodeExpiresOn == nil {
		return errors.New("patient carries no code to send")
	}

	channel, destination, err := Resolve(patient)
	if err != nil {
		return err
	}
	ctx, span := r.tracer.Start(ctx, tracer.SpanNotificationSend,
		tracer.String(tracer.AttrChannel, string(channel)),
		tracer.String(tracer.AttrIdentifierHash, tracer.HashIdentifier(patient.Identifier)),
	)
	defer func() { span.End(err) }()

	sender, ok := r.senders[channel]
	if !ok {
		return fmt.Errorf("%s sender not configured: %w", channel, sentinel.ErrUnavailable)
	}
	err = sender.Send(ctx, Message{
		Channel:     channel,
		Destination: destination,
		Identifier:  patient.Identifier,
		Code:        patient.ValidationCode,
		ExpiresOn:   *patient.ValidationCodeExpiresOn,
	})
	if err != nil {
		return fmt.Errorf("send %s: %w", channel, err)
	}
	r.logger.InfoContext(ctx, "validation code sent",
		"channel", string(channel),
		"destination", privacy.MaskDestination(destination),
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil
}

// Resolve picks the channel and destination for p, or returns ErrNoChannel when the
// preference names a channel the patient has no contact detail for.
func Resolve(p *models.Patient) (Channel, string, error) {
	phone, email := p.Demographics.Phone, p.Demographics.Email
	switch p.NotificationPreference {
	case models.NotificationSMS:
		if phone != "" {
			return ChannelSMS, phone, nil
		}
	case models.NotificationEmail:
		if email != "" {
			return ChannelEmail, email, nil
		}
	default:
		if email != "" {
			return ChannelEmail, email, nil
		}
		if phone != "" {
			return ChannelSMS, phone, nil
		}
	}
	return "", "", ErrNoChannel
}
