package testutil

import (
	"context"
	"net/http"

	id "trainflow/pkg/domain"
	"trainflow/pkg/requestcontext"
)

// Actor is an authenticated caller as the auth middleware would record it.
type Actor struct {
	UserID   id.UserID
	TenantID id.TenantID
	Role     string
}

// Context returns ctx carrying the actor.
func (a Actor) Context(ctx context.Context) context.Context {
	ctx = requestcontext.WithUserID(ctx, a.UserID)
	ctx = requestcontext.WithTenantID(ctx, a.TenantID)
	return requestcontext.WithRole(ctx, a.Role)
}

// WithActor simulates the auth middleware for handler tests.
func WithActor(req *http.Request, actor Actor) *http.Request {
	return req.WithContext(actor.Context(req.Context()))
}
