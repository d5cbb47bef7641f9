package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"optout/internal/platform/kafka/producer"
)

// KafkaStore publishes audit events as JSON to a topic, keyed by masked identifier.
type KafkaStore struct {
	publisher producer.Publisher
	topic     string
}

func NewKafkaStore(publisher producer.Publisher, topic string) *KafkaStore {
	return &KafkaStore{publisher: publisher, topic: topic}
}

func (s *KafkaStore) Append(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	err = s.publisher.Publish(ctx, &producer.Message{
		Topic: s.topic,
		Key:   []byte(event.Identifier),
		Value: value,
		Headers: map[string]string{
			"action":     event.Action,
			"request_id": event.RequestID,
		},
	})
	if err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}
