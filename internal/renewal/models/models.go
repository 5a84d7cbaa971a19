package models

import (
	"strings"
	"time"

	training "trainflow/internal/training/models"
	id "trainflow/pkg/domain"
	dErrors "trainflow/pkg/domain-errors"
)

// State is the closed set of renewal request states.
//
//	pending ──foreman──▶ foreman_approved ──manager──▶ manager_approved
//	   │                        │
//	   └──foreman|manager───────┴──────────▶ rejected
type State string

const (
	StatePending         State = "pending"
	StateForemanApproved State = "foreman_approved"
	StateManagerApproved State = "manager_approved"
	StateRejected        State = "rejected"
	// StateCompleted is accepted on read as an alias of manager_approved.
	StateCompleted State = "completed"
)

func (s State) IsOpen() bool {
	return s == StatePending || s == StateForemanApproved
}

func (s State) IsTerminal() bool {
	return s == StateManagerApproved || s == StateCompleted || s == StateRejected
}

type Urgency string

const (
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// ParseUrgency defaults an empty value to normal.
func ParseUrgency(raw string) (Urgency, error) {
	switch u := Urgency(strings.ToLower(strings.TrimSpace(raw))); u {
	case "":
		return UrgencyNormal, nil
	case UrgencyNormal, UrgencyHigh, UrgencyCritical:
		return u, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "urgency must be one of normal, high, critical")
}

// Actor is the authenticated user performing a workflow operation.
type Actor struct {
	ID       id.UserID
	TenantID id.TenantID
	Role     training.Role
}

// Approval records one approval step.
type Approval struct {
	ApproverID id.UserID `json:"approver_id"`
	ApprovedAt time.Time `json:"approved_at"`
	Comment    string    `json:"comment,omitempty"`
}

type Rejection struct {
	RejectedBy id.UserID `json:"rejected_by"`
	RejectedAt time.Time `json:"rejected_at"`
	Reason     string    `json:"reason"`
}

// Request is the renewal request aggregate.
//
// Invariants:
//   - never both Rejection and SecondApproval
//   - SecondApproval implies FirstApproval
//   - Version increases by one on every persisted transition
type Request struct {
	ID              id.RenewalID       `json:"id"`
	TenantID        id.TenantID        `json:"tenant_id"`
	CertificationID id.CertificationID `json:"certification_id"`
	RequesterID     id.UserID          `json:"requester_id"`
	Status          State              `json:"status"`
	Urgency         Urgency            `json:"urgency"`
	FirstApproval   *Approval          `json:"first_approval,omitempty"`
	SecondApproval  *Approval          `json:"second_approval,omitempty"`
	Rejection       *Rejection         `json:"rejection,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	Version         int                `json:"version"`
}

func NewRequest(
	requestID id.RenewalID,
	tenantID id.TenantID,
	certID id.CertificationID,
	requester id.UserID,
	urgency Urgency,
	now time.Time,
) *Request {
	return &Request{
		ID:              requestID,
		TenantID:        tenantID,
		CertificationID: certID,
		RequesterID:     requester,
		Status:          StatePending,
		Urgency:         urgency,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
}

func invalidTransition(action string, role training.Role, from State) error {
	return dErrors.New(dErrors.CodeInvalidTransition,
		"cannot "+action+" as "+string(role)+" from state "+string(from))
}

// CanApprove returns the state an approval by role would move to.
func (r *Request) CanApprove(role training.Role) (State, error) {
	switch {
	case role == training.RoleForeman && r.Status == StatePending:
		return StateForemanApproved, nil
	case role == training.RoleManager && r.Status == StateForemanApproved:
		return StateManagerApproved, nil
	}
	return "", invalidTransition("approve", role, r.Status)
}

// ApplyApproval records the approval step for next. Call CanApprove first.
func (r *Request) ApplyApproval(next State, actor id.UserID, comment string, now time.Time) {
	step := &Approval{ApproverID: actor, ApprovedAt: now, Comment: strings.TrimSpace(comment)}
	if next == StateForemanApproved {
		r.FirstApproval = step
	} else {
		r.SecondApproval = step
	}
	r.Status = next
	r.UpdatedAt = now
}

// Approve validates and applies one approval step, returning the new state.
func (r *Request) Approve(actor Actor, comment string, now time.Time) (State, error) {
	next, err := r.CanApprove(actor.Role)
	if err != nil {
		return "", err
	}
	r.ApplyApproval(next, actor.ID, comment, now)
	return next, nil
}

// CanReject checks role and state before the reason, so a terminal request
// always reports an invalid transition.
func (r *Request) CanReject(role training.Role, reason string) error {
	if role != training.RoleForeman && role != training.RoleManager {
		return invalidTransition("reject", role, r.Status)
	}
	if !r.Status.IsOpen() {
		return invalidTransition("reject", role, r.Status)
	}
	if strings.TrimSpace(reason) == "" {
		return dErrors.New(dErrors.CodeValidation, "rejection reason is required")
	}
	return nil
}

func (r *Request) ApplyRejection(actor id.UserID, reason string, now time.Time) {
	r.Rejection = &Rejection{RejectedBy: actor, RejectedAt: now, Reason: strings.TrimSpace(reason)}
	r.Status = StateRejected
	r.UpdatedAt = now
}

func (r *Request) Reject(actor Actor, reason string, now time.Time) (State, error) {
	if err := r.CanReject(actor.Role, reason); err != nil {
		return "", err
	}
	r.ApplyRejection(actor.ID, reason, now)
	return StateRejected, nil
}

// Clone returns a deep copy for before/after snapshots.
func (r *Request) Clone() *Request {
	cp := *r
	if r.FirstApproval != nil {
		a := *r.FirstApproval
		cp.FirstApproval = &a
	}
	if r.SecondApproval != nil {
		a := *r.SecondApproval
		cp.SecondApproval = &a
	}
	if r.Rejection != nil {
		rj := *r.Rejection
		cp.Rejection = &rj
	}
	return &cp
}
