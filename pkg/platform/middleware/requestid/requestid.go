package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"trainflow/pkg/requestcontext"
)

const Header = "X-Request-ID"

const maxInboundLength = 128

// Middleware propagates the caller's X-Request-ID or assigns a new one,
// and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(Header)
		if reqID == "" || len(reqID) > maxInboundLength {
			reqID = uuid.NewString()
		}
		w.Header().Set(Header, reqID)
		ctx := requestcontext.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
