package handler

import (
	"strings"

	id "trainflow/pkg/domain"
	dErrors "trainflow/pkg/domain-errors"
)

// SubmitRequest is the body of POST /renewals.
type SubmitRequest struct {
	CertificationID string `json:"certification_id"`
	Urgency         string `json:"urgency,omitempty"`

	parsedCertificationID id.CertificationID
}

func (r *SubmitRequest) Validate() error {
	r.CertificationID = strings.TrimSpace(r.CertificationID)
	if r.CertificationID == "" {
		return dErrors.New(dErrors.CodeValidation, "certification_id is required")
	}
	certID, err := id.ParseCertificationID(r.CertificationID)
	if err != nil {
		return err
	}
	r.parsedCertificationID = certID
	return nil
}

// ApproveRequest is the optional body of POST /renewals/{id}/approve.
type ApproveRequest struct {
	Comment string `json:"comment,omitempty"`
}

func (r *ApproveRequest) Validate() error {
	if len(r.Comment) > 2000 {
		return dErrors.New(dErrors.CodeValidation, "comment must be at most 2000 characters")
	}
	return nil
}

// RejectRequest is the body of POST /renewals/{id}/reject. The reason is
// checked by the workflow so role and state errors take precedence.
type RejectRequest struct {
	Reason string `json:"reason"`
}

func (r *RejectRequest) Validate() error {
	if len(r.Reason) > 2000 {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most 2000 characters")
	}
	return nil
}
