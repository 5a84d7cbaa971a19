package models

import (
	"fmt"
	"time"

	id "trainflow/pkg/domain"
)

type Type string

const (
	TypeExpiryWarning  Type = "expiry_warning"
	TypeEscalation     Type = "escalation"
	TypeApprovalNeeded Type = "approval_needed"
	TypeSystem         Type = "system"
	TypeRenewalRequest Type = "renewal_request"
)

// Related entity types.
const (
	EntityCertification  = "certification"
	EntityRenewalRequest = "renewal_request"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeExpiryWarning, TypeEscalation, TypeApprovalNeeded, TypeSystem, TypeRenewalRequest:
		return true
	}
	return false
}

// Notification is a message addressed to one user. Only the read flag ever changes.
//
// Invariants:
//   - at most one expiry_warning per (recipient, certification, calendar day), via DedupeKey
//   - at most one escalation per (recipient, certification) in any rolling 7 days
type Notification struct {
	ID              id.NotificationID `json:"id"`
	TenantID        id.TenantID       `json:"tenant_id"`
	RecipientID     id.UserID         `json:"recipient_id"`
	Type            Type              `json:"type"`
	Title           string            `json:"title"`
	Message         string            `json:"message"`
	EntityType      string            `json:"entity_type,omitempty"`
	EntityID        string            `json:"entity_id,omitempty"`
	Read            bool              `json:"read"`
	ReadAt          *time.Time        `json:"read_at,omitempty"`
	DaysUntilExpiry *int              `json:"days_until_expiry,omitempty"`
	DedupeKey       string            `json:"-"`
	CreatedAt       time.Time         `json:"created_at"`
}

// MarkRead is idempotent; the first read time is kept.
func (n *Notification) MarkRead(at time.Time) {
	if n.Read {
		return
	}
	n.Read = true
	n.ReadAt = &at
}

// ExpiryWarningKey identifies the warning for one certification on one local calendar day.
func ExpiryWarningKey(certID id.CertificationID, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("%s:%s:%s", TypeExpiryWarning, certID, now.In(loc).Format(time.DateOnly))
}
