package models

import (
	"time"

	id "trainflow/pkg/domain"
	"trainflow/pkg/email"
)

const DefaultValidityDays = 365

type Role string

const (
	RoleEmployee        Role = "employee"
	RoleForeman         Role = "foreman"
	RoleManager         Role = "manager"
	RoleTrainingOfficer Role = "training_officer"
	RoleAdministrator   Role = "administrator"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleEmployee, RoleForeman, RoleManager, RoleTrainingOfficer, RoleAdministrator:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

type CertificationStatus string

const (
	CertificationActive    CertificationStatus = "active"
	CertificationCompleted CertificationStatus = "completed"
	CertificationExpired   CertificationStatus = "expired"
)

// Renewable reports whether a renewal may be requested from this status.
func (s CertificationStatus) Renewable() bool {
	return s == CertificationActive || s == CertificationExpired
}

// Certification is a subject's time-bounded completion record for a course.
// ExpiresAt is always set. Records are never hard-deleted.
type Certification struct {
	ID               id.CertificationID  `json:"id"`
	TenantID         id.TenantID         `json:"tenant_id"`
	UserID           id.UserID           `json:"user_id"`
	CourseID         id.CourseID         `json:"course_id"`
	Status           CertificationStatus `json:"status"`
	ExpiresAt        time.Time           `json:"expires_at"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
	CredentialNumber string              `json:"credential_number,omitempty"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// ApplyRenewal reactivates the certification with a fresh validity period from now.
// Any prior expiry is discarded.
func (c *Certification) ApplyRenewal(now time.Time, validityDays int) {
	if validityDays <= 0 {
		validityDays = DefaultValidityDays
	}
	c.Status = CertificationActive
	c.ExpiresAt = now.Add(time.Duration(validityDays) * 24 * time.Hour)
	c.UpdatedAt = now
}

type Course struct {
	ID           id.CourseID `json:"id"`
	TenantID     id.TenantID `json:"tenant_id"`
	Title        string      `json:"title"`
	ValidityDays int         `json:"validity_days"`
}

// Validity returns the course validity in days, falling back to the default.
func (c *Course) Validity() int {
	if c.ValidityDays <= 0 {
		return DefaultValidityDays
	}
	return c.ValidityDays
}

type User struct {
	ID          id.UserID   `json:"id"`
	TenantID    id.TenantID `json:"tenant_id"`
	DisplayName string      `json:"display_name"`
	Email       string      `json:"email"`
	Role        Role        `json:"role"`
	Active      bool        `json:"active"`
}

// Name is the display name, or one derived from the email when none was set.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return email.DisplayName(u.Email)
}

// ExpiryQuery selects active certifications whose expiry lies in [From, To].
// A nil TenantID spans all tenants.
type ExpiryQuery struct {
	From     time.Time
	To       time.Time
	TenantID *id.TenantID
}
