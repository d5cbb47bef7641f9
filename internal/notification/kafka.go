package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"optout/internal/platform/kafka/producer"
	"optout/pkg/platform/sentinel"
	"optout/pkg/platform/tracer"
	"optout/pkg/requestcontext"
)

// outboundMessage is the wire shape consumed by the notification dispatcher.
type outboundMessage struct {
	Channel     Channel   `json:"channel"`
	Destination string    `json:"destination"`
	Code        string    `json:"code"`
	ExpiresOn   time.Time `json:"expires_on"`
}

// KafkaSender hands deliveries to a dispatcher through a topic.
type KafkaSender struct {
	publisher producer.Publisher
	topic     string
}

func NewKafkaSender(publisher producer.Publisher, topic string) *KafkaSender {
	return &KafkaSender{publisher: publisher, topic: topic}
}

func (s *KafkaSender) Send(ctx context.Context, msg Message) error {
	value, err := json.Marshal(outboundMessage{
		Channel:     msg.Channel,
		Destination: msg.Destination,
		Code:        msg.Code,
		ExpiresOn:   msg.ExpiresOn.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	err = s.publisher.Publish(ctx, &producer.Message{
		Topic: s.topic,
		Key:   []byte(tracer.HashIdentifier(msg.Identifier)),
		Value: value,
		Headers: map[string]string{
			"channel":    string(msg.Channel),
			"request_id": requestcontext.RequestID(ctx),
		},
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}
