// Package kafka provides a connector that produces market events to a
// Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/computemarket/cmkt/internal/connectors"
	"github.com/computemarket/cmkt/internal/models"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the connector uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Connector produces events keyed by task (or service) so that every
// notification about one task lands on the same partition in order.
type Connector struct {
	writer messageWriter
	topic  string
	filter connectors.TypeFilter
}

// New creates a Kafka connector for the given brokers and topic.
func New(brokers []string, topic string, types []string) *Connector {
	return &Connector{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		topic:  topic,
		filter: connectors.NewTypeFilter(types),
	}
}

// Name returns the connector identifier.
func (c *Connector) Name() string {
	return "kafka"
}

// IsAllowed reports whether events of typ are produced.
func (c *Connector) IsAllowed(typ models.EventType) bool {
	return c.filter.Allows(typ)
}

// Deliver produces ev as a JSON message.
func (c *Connector) Deliver(ctx context.Context, ev models.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %d: %w", ev.Seq, err)
	}
	msg := kafka.Message{
		Key:   MessageKey(ev),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
		Time: ev.Timestamp,
	}
	if err := c.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("produce event %d to %s: %w", ev.Seq, c.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (c *Connector) Close() error {
	return c.writer.Close()
}

// MessageKey returns the partition key of an event.
func MessageKey(ev models.Event) []byte {
	switch {
	case ev.TaskID != 0:
		return []byte("task-" + strconv.FormatUint(ev.TaskID, 10))
	case ev.ServiceID != 0:
		return []byte("service-" + strconv.FormatUint(ev.ServiceID, 10))
	default:
		return []byte("authority")
	}
}
