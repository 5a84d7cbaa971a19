package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "trainflow/pkg/platform/audit"
)

// Producer is the part of *kgo.Client the store needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Store publishes audit events as JSON records keyed by entity, so all
// transitions of one entity land on the same partition in order.
type Store struct {
	producer Producer
	topic    string
}

func New(producer Producer, topic string) *Store {
	return &Store{producer: producer, topic: topic}
}

type message struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	TenantID   string          `json:"tenant_id,omitempty"`
	ActorID    string          `json:"actor_id,omitempty"`
	ActorRole  string          `json:"actor_role,omitempty"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Before     json.RawMessage `json:"old_value,omitempty"`
	After      json.RawMessage `json:"new_value,omitempty"`
	ClientIP   string          `json:"client_ip,omitempty"`
	UserAgent  string          `json:"user_agent,omitempty"`
	Device     string          `json:"device,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	msg := message{
		ID:         event.ID.String(),
		Timestamp:  event.Timestamp,
		ActorRole:  event.ActorRole,
		Action:     string(event.Action),
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Before:     event.Before,
		After:      event.After,
		ClientIP:   event.ClientIP,
		UserAgent:  event.UserAgent,
		Device:     event.Device,
		RequestID:  event.RequestID,
	}
	if !event.TenantID.IsNil() {
		msg.TenantID = event.TenantID.String()
	}
	if !event.ActorID.IsNil() {
		msg.ActorID = event.ActorID.String()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.EntityType + ":" + event.EntityID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(event.Action)},
		},
	}
	if err := s.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}
