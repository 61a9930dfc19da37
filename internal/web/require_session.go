package web

import (
	"context"
	"net/http"

	"github.com/2beens/dishexplorer/internal/dishapi"
	"github.com/2beens/dishexplorer/internal/gate"
	"github.com/2beens/dishexplorer/internal/session"

	log "github.com/sirupsen/logrus"
)

// redirectNavigator answers the request with a 303 to the navigation target, at most once.
type redirectNavigator struct {
	w       http.ResponseWriter
	r       *http.Request
	written bool
}

func (n *redirectNavigator) Navigate(path string) {
	if n.written {
		return
	}
	n.written = true
	http.Redirect(n.w, n.r, path, http.StatusSeeOther)
}

// requestSession is the session state of one protected request.
type requestSession struct {
	store     *session.Store
	gate      *gate.Gate
	api       *dishapi.Client
	navigator *redirectNavigator
}

// answered reports whether the response was already taken over by a navigation.
func (rs *requestSession) answered() bool {
	return rs.navigator.written
}

func requestSessionFrom(ctx context.Context) *requestSession {
	rs, _ := ctx.Value(ctxKeyRequestSession).(*requestSession)
	return rs
}

// requireSession runs view only for an authenticated browser context. The store, gate and
// a session-bound API client live for this request only; any transition into Unauthenticated
// while the view runs (logout, rejected credential) answers the request with a redirect to login.
func (h *Handler) requireSession(view http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		browserContextID, ok := BrowserContextID(ctx)
		if !ok {
			log.Errorf("protected route [%s] reached without a browser context", r.URL.Path)
			http.Redirect(w, r, gate.LoginPath, http.StatusSeeOther)
			return
		}

		store := session.NewStore(h.backends(browserContextID))
		navigator := &redirectNavigator{w: w, r: r}
		g := gate.New(navigator, gate.WithRedirectObserver(func() {
			if h.metricsManager != nil {
				h.metricsManager.CounterGateRedirects.Inc()
			}
		}))
		g.Watch(store)

		if err := store.Initialize(ctx); err != nil {
			log.Errorf("initialize session for [%s]: %s", r.URL.Path, err)
		}

		if !g.Allowed() {
			if !navigator.written {
				// the gate only redirects on a transition, never while Unknown
				http.Error(w, "session unavailable", http.StatusServiceUnavailable)
			}
			return
		}

		rs := &requestSession{
			store:     store,
			gate:      g,
			api:       h.api.ForSession(store),
			navigator: navigator,
		}
		view(w, r.WithContext(context.WithValue(ctx, ctxKeyRequestSession, rs)))
	}
}
