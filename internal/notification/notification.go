// Package notification delivers validation codes to patients over SMS, e-mail or an
// outbound Kafka topic consumed by a separate dispatcher.
package notification

import (
	"context"
	"fmt"
	"time"

	"optout/pkg/platform/sentinel"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// ErrNoChannel means the patient has no contact detail for any usable channel.
var ErrNoChannel = fmt.Errorf("no notification channel available: %w", sentinel.ErrRejected)

// Message is one code delivery.
type Message struct {
	Channel     Channel
	Destination string
	Identifier  string
	Code        string
	ExpiresOn   time.Time
}

// Sender delivers a message on one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

func codeText(msg Message) string {
	return fmt.Sprintf("Your opt-out verification code is %s. It expires at %s UTC. Do not share this code.",
		msg.Code, msg.ExpiresOn.UTC().Format("15:04"))
}
