package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	s "optout/pkg/string"
)

// HealthChecker reports whether the cluster answers a metadata request.
type HealthChecker struct {
	brokers []string
	timeout time.Duration
}

func NewHealthChecker(brokers string) *HealthChecker {
	return &HealthChecker{brokers: s.SplitList(brokers), timeout: 5 * time.Second}
}

// Check lists brokers through the admin client. At least one live broker is required.
func (h *HealthChecker) Check(ctx context.Context) error {
	if len(h.brokers) == 0 {
		return fmt.Errorf("kafka brokers not configured")
	}
	client, err := kgo.NewClient(kgo.SeedBrokers(h.brokers...), kgo.DialTimeout(h.timeout))
	if err != nil {
		return fmt.Errorf("create kafka admin client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	details, err := kadm.NewClient(client).ListBrokers(ctx)
	if err != nil {
		return fmt.Errorf("list kafka brokers: %w", err)
	}
	if len(details) == 0 {
		return fmt.Errorf("no kafka brokers reachable")
	}
	return nil
}

func (h *HealthChecker) Name() string {
	return "kafka"
}
