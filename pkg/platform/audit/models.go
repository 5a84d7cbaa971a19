package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	id "trainflow/pkg/domain"
)

// Action names a recorded state transition.
type Action string

const (
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Event is one workflow transition, captured with enough context to replay it:
// who acted, from where, and the entity before and after.
type Event struct {
	ID         uuid.UUID
	Timestamp  time.Time
	TenantID   id.TenantID
	ActorID    id.UserID
	ActorRole  string
	Action     Action
	EntityType string
	EntityID   string
	Before     json.RawMessage
	After      json.RawMessage
	ClientIP   string
	UserAgent  string
	// Device is a short "Browser version / OS" summary derived from UserAgent.
	Device    string
	RequestID string
}

// Store persists audit events. Implementations: memory, postgres (workflow_logs), kafka.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Snapshot marshals v for Event.Before/After. A nil v yields a nil snapshot.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
