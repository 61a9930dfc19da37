package middleware

import (
	"io"
	"net/http"
)

// maxDrainBytes bounds how much of an unread request body is consumed to keep the
// connection reusable. Larger leftovers are dropped together with the connection.
const maxDrainBytes = 256 << 10

// DrainAndCloseRequest consumes what the handler left of the request body and closes it.
func DrainAndCloseRequest() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			if r.Body == nil {
				return
			}
			_, _ = io.CopyN(io.Discard, r.Body, maxDrainBytes)
			_ = r.Body.Close()
		})
	}
}
