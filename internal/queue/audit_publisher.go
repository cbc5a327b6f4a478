package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// AuditPublisher writes engine audit events to Kafka.
type AuditPublisher struct {
	writer *kafka.Writer
}

// NewAuditPublisher constructs a publisher for the given topic.
func NewAuditPublisher(k *Kafka, topic string) *AuditPublisher {
	return &AuditPublisher{writer: k.NewWriter(topic)}
}

// Publish emits an audit event. Keyed by campaign so that per-campaign
// ordering is preserved downstream.
func (p *AuditPublisher) Publish(ctx context.Context, event AuditEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit publisher: marshal event: %w", err)
	}

	record := kafka.Message{
		Key:   event.CampaignID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}

	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("audit publisher: write event: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *AuditPublisher) Close() error {
	return p.writer.Close()
}
