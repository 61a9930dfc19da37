package web

import (
	"context"
	"net/http"
	"sync"

	"github.com/2beens/dishexplorer/internal/session"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	log "github.com/sirupsen/logrus"
)

const (
	CookieName = "dishexplorer"
	// browsers cap cookie lifetime at 400 days
	cookieMaxAgeSeconds = 400 * 24 * 60 * 60
	browserContextIDKey = "bcid"
)

type ctxKey int

const (
	ctxKeyBrowserContextID ctxKey = iota
	ctxKeyRequestSession
)

// BackendFactory returns the durable session backend of one browser context.
type BackendFactory func(browserContextID string) session.Backend

func RedisBackends(redisClient redis.Cmdable) BackendFactory {
	return func(browserContextID string) session.Backend {
		return session.NewRedisBackend(redisClient, browserContextID)
	}
}

// MemoryBackends keeps every browser context in process memory. Sessions do not survive a restart.
func MemoryBackends() BackendFactory {
	backends := map[string]*session.MemoryBackend{}
	var mutex sync.Mutex
	return func(browserContextID string) session.Backend {
		mutex.Lock()
		defer mutex.Unlock()
		b, ok := backends[browserContextID]
		if !ok {
			b = session.NewMemoryBackend()
			backends[browserContextID] = b
		}
		return b
	}
}

func NewCookieStore(secret []byte, secure bool) *sessions.CookieStore {
	cookieStore := sessions.NewCookieStore(secret)
	cookieStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   cookieMaxAgeSeconds,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return cookieStore
}

// BrowserContext makes sure every request carries a browser context id in a signed cookie,
// issuing a new one when the cookie is missing or was tampered with.
func BrowserContext(cookies sessions.Store) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookieSession, err := cookies.Get(r, CookieName)
			if err != nil {
				log.Debugf("browser context cookie rejected, issuing a new one: %s", err)
			}
			if cookieSession == nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}

			id, _ := cookieSession.Values[browserContextIDKey].(string)
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.NewString()
				cookieSession.Values[browserContextIDKey] = id
				if err := cookieSession.Save(r, w); err != nil {
					log.Errorf("save browser context cookie: %s", err)
					http.Error(w, "internal error", http.StatusInternalServerError)
					return
				}
			}

			ctx := context.WithValue(r.Context(), ctxKeyBrowserContextID, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func BrowserContextID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyBrowserContextID).(string)
	return id, ok && id != ""
}
