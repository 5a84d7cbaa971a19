package service

//go:generate mockgen -source=audit.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	audit "trainflow/pkg/platform/audit"
)

// AuditSink records workflow transitions. Errors are logged, never returned to callers.
type AuditSink interface {
	Record(ctx context.Context, event audit.Event) error
}
