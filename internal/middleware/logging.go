package middleware

import (
	"net/http"
	"time"

	"github.com/2beens/dishexplorer/pkg"

	log "github.com/sirupsen/logrus"
)

// LogRequest traces every request once it has been answered.
func LogRequest() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !log.IsLevelEnabled(log.TraceLevel) {
				next.ServeHTTP(w, r)
				return
			}

			resp := &responseWriter{w, http.StatusOK}
			begin := time.Now()
			next.ServeHTTP(resp, r)

			ip, _ := pkg.ReadUserIP(r)
			log.WithFields(log.Fields{
				"route":    routeName(r),
				"status":   resp.statusCode,
				"duration": time.Since(begin).String(),
				"ip":       ip,
			}).Tracef(" ====> request [%s] path: [%s] [UA: %s]", r.Method, r.URL.Path, r.UserAgent())
		})
	}
}
