// Package auditstream forwards committed audit entries to a Kafka topic for
// downstream compliance tooling. PostgreSQL stays the system of record; the
// stream is a best-effort copy.
package auditstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event is the wire form of an audit entry on the topic.
type Event struct {
	Seq           int64     `json:"seq"`
	ID            string    `json:"id"`
	Action        string    `json:"action"`
	EntityKind    string    `json:"entity_kind"`
	EntityID      string    `json:"entity_id"`
	UserID        string    `json:"user_id"`
	RecordedAt    time.Time `json:"recorded_at"`
	OriginAddress string    `json:"origin_address"`
	// Emergency is set when the action was performed under an emergency grant.
	Emergency bool `json:"emergency,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per entry, keyed by entity so that all
// entries of one dossier land on the same partition in order.
type KafkaPublisher struct {
	w       messageWriter
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		timeout: 5 * time.Second,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	// The request may already be finished when a post-commit hook runs.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(ev.EntityKind + "/" + ev.EntityID),
		Value: value,
		Time:  ev.RecordedAt,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(ev.Action)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write audit event %s: %w", ev.ID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// Nop drops every event. Used when AUDIT_KAFKA_BROKERS is empty.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// New returns a Kafka publisher when brokers are configured and Nop otherwise.
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 || topic == "" {
		return Nop{}
	}
	return NewKafkaPublisher(brokers, topic)
}
