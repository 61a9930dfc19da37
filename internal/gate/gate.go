// Package gate guards protected views: it renders them only for an authenticated
// session and sends everybody else to the login entry point.
//
// The decision of where to go is a pure function of the state transition (Decide);
// performing the navigation is left to a Navigator, and the Gate makes sure that happens
// once per transition.
package gate

import (
	"sync"

	"github.com/2beens/dishexplorer/internal/session"
)

const LoginPath = "/login"

type Navigation int

const (
	Stay Navigation = iota
	ToLogin
)

// Navigator performs the actual navigation (an HTTP redirect, a message on a terminal, ...).
type Navigator interface {
	Navigate(path string)
}

type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) {
	f(path)
}

// Decide returns where to go after the session moved from prev to next.
// Unknown never leads anywhere: the persisted state has not been read yet.
func Decide(prev, next session.State) Navigation {
	if next == session.Unauthenticated && prev != session.Unauthenticated {
		return ToLogin
	}
	return Stay
}

type Option func(*Gate)

// WithRedirectObserver registers f to be called after each redirect.
func WithRedirectObserver(f func()) Option {
	return func(g *Gate) {
		g.onRedirect = f
	}
}

type Gate struct {
	navigator  Navigator
	onRedirect func()

	mutex     sync.Mutex
	state     session.State
	redirects int
}

func New(navigator Navigator, opts ...Option) *Gate {
	g := &Gate{
		navigator: navigator,
		state:     session.Unknown,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Watch starts following the store. If the store has already settled its state,
// that counts as a transition from Unknown.
func (g *Gate) Watch(store *session.Store) {
	store.Subscribe(g.Observe)
	if current := store.State(); current != session.Unknown {
		g.Observe(session.Unknown, current)
	}
}

// Observe records a transition and performs the resulting navigation, at most once for it.
// The decision is taken from the state the gate itself saw last, so a transition reported
// twice does not navigate twice.
func (g *Gate) Observe(_, next session.State) {
	g.mutex.Lock()
	if g.state == next {
		g.mutex.Unlock()
		return
	}
	navigation := Decide(g.state, next)
	g.state = next
	if navigation == ToLogin {
		g.redirects++
	}
	g.mutex.Unlock()

	if navigation == ToLogin {
		g.navigator.Navigate(LoginPath)
		if g.onRedirect != nil {
			g.onRedirect()
		}
	}
}

func (g *Gate) State() session.State {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.state
}

// Allowed reports whether protected content may be rendered.
func (g *Gate) Allowed() bool {
	return g.State() == session.Authenticated
}

// Render calls render only while the session is authenticated.
func (g *Gate) Render(render func()) bool {
	if !g.Allowed() {
		return false
	}
	render()
	return true
}

// Redirects returns the number of navigations to the login entry point issued so far.
func (g *Gate) Redirects() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.redirects
}
