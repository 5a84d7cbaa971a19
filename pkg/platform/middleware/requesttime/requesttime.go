// Package requesttime pins one "now" per request so that every timestamp
// written while handling it (approval times, new expiry, audit records) agrees.
package requesttime

import (
	"net/http"
	"time"

	"trainflow/pkg/requestcontext"
)

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
