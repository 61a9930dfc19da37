package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/2beens/dishexplorer/internal/telemetry/metrics"

	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
)

// PanicRecovery turns a panicking handler into a 500 and reports the panic to Sentry,
// when a Sentry client is set up.
func PanicRecovery(metricsManager *metrics.Manager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(respWriter http.ResponseWriter, req *http.Request) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}

				log.Errorf("http: panic serving [%s] %s: %v\n%s", routeName(req), req.URL.Path, r, debug.Stack())
				if metricsManager != nil {
					metricsManager.CounterHandleRequestPanic.Inc()
				}
				if hub := sentry.CurrentHub(); hub.Client() != nil {
					hub.Clone().RecoverWithContext(req.Context(), r)
				}
				http.Error(respWriter, "internal error", http.StatusInternalServerError)
			}()

			next.ServeHTTP(respWriter, req)
		})
	}
}
