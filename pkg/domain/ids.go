// Package domain holds typed identifiers shared across bounded contexts.
//
// Each ID is a distinct named type over uuid.UUID so a CertificationID can never
// be passed where a RenewalID is expected. Construct IDs from external input with
// the Parse* functions; they reject empty, malformed and nil UUIDs.
package domain

import (
	"database/sql/driver"

	"github.com/google/uuid"

	dErrors "trainflow/pkg/domain-errors"
)

type (
	UserID          uuid.UUID
	TenantID        uuid.UUID
	CourseID        uuid.UUID
	CertificationID uuid.UUID
	RenewalID       uuid.UUID
	NotificationID  uuid.UUID
)

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return u, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user id", s)
	return UserID(u), err
}

func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID("tenant id", s)
	return TenantID(u), err
}

func ParseCourseID(s string) (CourseID, error) {
	u, err := parseUUID("course id", s)
	return CourseID(u), err
}

func ParseCertificationID(s string) (CertificationID, error) {
	u, err := parseUUID("certification id", s)
	return CertificationID(u), err
}

func ParseRenewalID(s string) (RenewalID, error) {
	u, err := parseUUID("renewal id", s)
	return RenewalID(u), err
}

func ParseNotificationID(s string) (NotificationID, error) {
	u, err := parseUUID("notification id", s)
	return NotificationID(u), err
}

func (id UserID) String() string          { return uuid.UUID(id).String() }
func (id TenantID) String() string        { return uuid.UUID(id).String() }
func (id CourseID) String() string        { return uuid.UUID(id).String() }
func (id CertificationID) String() string { return uuid.UUID(id).String() }
func (id RenewalID) String() string       { return uuid.UUID(id).String() }
func (id NotificationID) String() string  { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }
func (id TenantID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id CourseID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id CertificationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RenewalID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id NotificationID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }

// Text marshalling keeps IDs as canonical UUID strings in JSON payloads.

func (id UserID) MarshalText() ([]byte, error)          { return uuid.UUID(id).MarshalText() }
func (id TenantID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id CourseID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id CertificationID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id RenewalID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id NotificationID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }

func (id *UserID) UnmarshalText(b []byte) error          { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *TenantID) UnmarshalText(b []byte) error        { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *CourseID) UnmarshalText(b []byte) error        { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *CertificationID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *RenewalID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *NotificationID) UnmarshalText(b []byte) error  { return (*uuid.UUID)(id).UnmarshalText(b) }

// SQL mapping. A nil ID is stored as NULL and NULL scans back to a nil ID.

func (id UserID) Value() (driver.Value, error)          { return nullableValue(uuid.UUID(id)) }
func (id TenantID) Value() (driver.Value, error)        { return nullableValue(uuid.UUID(id)) }
func (id CourseID) Value() (driver.Value, error)        { return nullableValue(uuid.UUID(id)) }
func (id CertificationID) Value() (driver.Value, error) { return nullableValue(uuid.UUID(id)) }
func (id RenewalID) Value() (driver.Value, error)       { return nullableValue(uuid.UUID(id)) }
func (id NotificationID) Value() (driver.Value, error)  { return nullableValue(uuid.UUID(id)) }

func (id *UserID) Scan(src any) error          { return (*uuid.UUID)(id).Scan(src) }
func (id *TenantID) Scan(src any) error        { return (*uuid.UUID)(id).Scan(src) }
func (id *CourseID) Scan(src any) error        { return (*uuid.UUID)(id).Scan(src) }
func (id *CertificationID) Scan(src any) error { return (*uuid.UUID)(id).Scan(src) }
func (id *RenewalID) Scan(src any) error       { return (*uuid.UUID)(id).Scan(src) }
func (id *NotificationID) Scan(src any) error  { return (*uuid.UUID)(id).Scan(src) }

func nullableValue(u uuid.UUID) (driver.Value, error) {
	if u == uuid.Nil {
		return nil, nil
	}
	return u.String(), nil
}
