// Package events publishes batch lifecycle notifications to Kafka, adapted
// from the stock alert system's kafka producer to carry cleared-batch
// outcomes instead of stock events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/flowtrade/engine/internal/auction"
	"github.com/flowtrade/engine/internal/qp"
)

// BatchClearedEvent is published once a batch solve completes and its
// outcome has been persisted. Downstream settlement or notification
// consumers subscribe to this the same way the teacher's stock-event
// consumers decouple ingestion from alerting.
type BatchClearedEvent struct {
	EventType        string           `json:"event_type"`
	BatchId          auction.BatchId  `json:"batch_id"`
	Anchor           auction.DateTime `json:"anchor"`
	ValidUntil       *auction.DateTime `json:"valid_until,omitempty"`
	PortfolioCount   int              `json:"portfolio_count"`
	ProductCount     int              `json:"product_count"`
	Timestamp        time.Time        `json:"timestamp"`
}

// BatchFailedEvent is published when a scheduled batch could not be solved.
type BatchFailedEvent struct {
	EventType string          `json:"event_type"`
	BatchId   auction.BatchId `json:"batch_id"`
	Anchor    auction.DateTime `json:"anchor"`
	Reason    string          `json:"reason"`
	Timestamp time.Time       `json:"timestamp"`
}

// Producer handles publishing batch lifecycle events to Kafka.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer creates a new Kafka producer for batch lifecycle events.
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Producer{
		writer: writer,
		topic:  topic,
	}
}

// PublishBatchCleared publishes a BATCH_CLEARED event for a successfully
// cleared batch, with the batch id as the message key. The writer's
// LeastBytes balancer picks partitions by load, not by key, so events for
// one batch are not guaranteed to share a partition.
func (p *Producer) PublishBatchCleared(ctx context.Context, batchId auction.BatchId, anchor auction.DateTime, validUntil *auction.DateTime, outcome qp.AuctionOutcome) error {
	portfolioCount := 0
	for _, byPortfolio := range outcome.Portfolios {
		portfolioCount += len(byPortfolio)
	}

	event := BatchClearedEvent{
		EventType:      "BATCH_CLEARED",
		BatchId:        batchId,
		Anchor:         anchor,
		ValidUntil:     validUntil,
		PortfolioCount: portfolioCount,
		ProductCount:   len(outcome.Products),
		Timestamp:      time.Now(),
	}
	return p.publish(ctx, batchId.String(), event)
}

// PublishBatchFailed publishes a BATCH_FAILED event when a scheduled batch
// could not be cleared.
func (p *Producer) PublishBatchFailed(ctx context.Context, batchId auction.BatchId, anchor auction.DateTime, reason string) error {
	event := BatchFailedEvent{
		EventType: "BATCH_FAILED",
		BatchId:   batchId,
		Anchor:    anchor,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	return p.publish(ctx, batchId.String(), event)
}

func (p *Producer) publish(ctx context.Context, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka producer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
