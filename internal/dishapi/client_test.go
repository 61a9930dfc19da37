package dishapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/2beens/dishexplorer/internal/dish"
	"github.com/2beens/dishexplorer/internal/gate"
	"github.com/2beens/dishexplorer/internal/session"
	"github.com/2beens/dishexplorer/internal/telemetry/metrics"

	"github.com/coocood/freecache"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
	)
}

// countingSession wraps a store and counts Logout calls.
type countingSession struct {
	*session.Store
	logouts int
}

func (s *countingSession) Logout(ctx context.Context) error {
	s.logouts++
	return s.Store.Logout(ctx)
}

func loggedInStore(t *testing.T, credential string) (*session.Store, *session.MemoryBackend) {
	t.Helper()
	backend := session.NewMemoryBackend()
	store := session.NewStore(backend)
	require.NoError(t, store.Initialize(context.Background()))
	profile, err := session.NewProfile(map[string]any{"id": 1, "name": "A"})
	require.NoError(t, err)
	require.NoError(t, store.Login(context.Background(), credential, profile))
	return store, backend
}

func TestClient_Login(t *testing.T) {
	api := newFakeAPI(t)
	client := NewClient(api.URL(), api.server.Client())
	ctx := context.Background()

	result, err := client.Login(ctx, "a@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok123", result.Token)
	assert.Equal(t, "A", result.User.Name())
	assert.Empty(t, api.lastRequest().Header.Get("Authorization"))

	_, err = client.Login(ctx, "a@example.com", "wrong")
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, http.StatusUnauthorized, validationErr.Status)
	assert.Equal(t, "Wrong email or password", validationErr.Error())
	assert.NotErrorIs(t, err, ErrUnauthorized)

	_, err = client.Login(ctx, "silent@example.com", "x")
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "Invalid credentials", validationErr.Error())

	_, err = client.Login(ctx, "tokenless@example.com", "x")
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "Invalid response from server", validationErr.Error())
}

func TestClient_LoginDoesNotClearSession(t *testing.T) {
	api := newFakeAPI(t)
	store, _ := loggedInStore(t, "tok123")
	s := &countingSession{Store: store}
	client := NewClient(api.URL(), api.server.Client(), WithSession(s))

	_, err := client.Login(context.Background(), "a@example.com", "wrong")
	require.Error(t, err)
	assert.Zero(t, s.logouts)
	assert.True(t, store.Authenticated())
	assert.Empty(t, api.lastRequest().Header.Get("Authorization"))
}

func TestClient_Register(t *testing.T) {
	api := newFakeAPI(t)
	client := NewClient(api.URL(), api.server.Client())

	require.NoError(t, client.Register(context.Background(), RegisterRequest{
		Name:     "A",
		Email:    "a@example.com",
		Password: "secret",
	}))

	err := client.Register(context.Background(), RegisterRequest{Name: "A"})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "Email is required", validationErr.Error())
}

func TestClient_ListDishesCarriesCredential(t *testing.T) {
	api := newFakeAPI(t)
	store, backend := loggedInStore(t, "tok123")
	client := NewClient(api.URL(), api.server.Client(), WithSession(store))

	stored, found, err := backend.Get(context.Background(), session.KeyCredential)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "tok123", stored)

	page, err := client.ListDishes(context.Background(), dish.ListQuery{
		Page:  2,
		Limit: 10,
		Filters: dish.Filters{
			Diet: dish.DietVegetarian,
		},
	})
	require.NoError(t, err)
	assert.Len(t, page.Data, 10)
	assert.Equal(t, 25, page.Total)

	req := api.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "Bearer tok123", req.Header.Get("Authorization"))
	assert.Equal(t, "application/json", req.Header.Get("Accept"))
	assert.Equal(t, "2", req.URL.Query().Get("page"))
	assert.Equal(t, "vegetarian", req.URL.Query().Get("diet"))
}

func TestClient_NoCredentialNoHeader(t *testing.T) {
	api := newFakeAPI(t)
	store := session.NewStore(session.NewMemoryBackend())
	require.NoError(t, store.Initialize(context.Background()))
	client := NewClient(api.URL(), api.server.Client(), WithSession(store))

	_, err := client.ListDishes(context.Background(), dish.ListQuery{})
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, api.lastRequest().Header.Get("Authorization"))
}

func TestClient_UnauthorizedClearsSessionAndRedirectsOnce(t *testing.T) {
	ctx := context.Background()

	calls := map[string]func(c *Client) error{
		"list": func(c *Client) error {
			_, err := c.ListDishes(ctx, dish.ListQuery{})
			return err
		},
		"get": func(c *Client) error {
			_, err := c.GetDish(ctx, "Gulab jamun")
			return err
		},
		"search": func(c *Client) error {
			_, err := c.SearchDishes(ctx, "gulab")
			return err
		},
		"possible": func(c *Client) error {
			_, err := c.PossibleDishes(ctx, []string{"rice"})
			return err
		},
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			api := newFakeAPI(t)
			store, backend := loggedInStore(t, "tok123")
			s := &countingSession{Store: store}

			var navigatedTo []string
			g := gate.New(gate.NavigatorFunc(func(path string) {
				navigatedTo = append(navigatedTo, path)
			}))
			g.Watch(store)
			require.True(t, g.Allowed())

			m, _ := metrics.NewTestManagerAndRegistry()
			client := NewClient(api.URL(), api.server.Client(), WithSession(s), WithMetrics(m))

			api.revoke()
			err := call(client)
			require.ErrorIs(t, err, ErrUnauthorized)

			assert.Equal(t, 1, s.logouts)
			assert.False(t, store.Authenticated())
			_, found, err := backend.Get(ctx, session.KeyCredential)
			require.NoError(t, err)
			assert.False(t, found)
			assert.Equal(t, []string{gate.LoginPath}, navigatedTo)
			assert.False(t, g.Allowed())
			assert.Equal(t, float64(1), testutil.ToFloat64(m.CounterSessionInvalidations))

			// a second rejected call in the same flow does not navigate again
			require.ErrorIs(t, call(client), ErrUnauthorized)
			assert.Equal(t, []string{gate.LoginPath}, navigatedTo)
			assert.Equal(t, 1, g.Redirects())
		})
	}
}

func TestClient_GetDish(t *testing.T) {
	api := newFakeAPI(t)
	store, _ := loggedInStore(t, "tok123")
	client := NewClient(api.URL(), api.server.Client(), WithSession(store))
	ctx := context.Background()

	want := api.dishes[3]
	got, err := client.GetDish(ctx, want.Name)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
	assert.Equal(t, "/api/dishes/"+want.Name, api.lastRequest().URL.Path)

	_, err = client.GetDish(ctx, "no such dish")
	require.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.True(t, store.Authenticated())
}

func TestClient_GetDishCache(t *testing.T) {
	api := newFakeAPI(t)
	store, _ := loggedInStore(t, "tok123")
	cache := freecache.NewCache(1024 * 1024)
	client := NewClient(api.URL(), api.server.Client(), WithSession(store), WithCache(cache, time.Minute))
	ctx := context.Background()

	want := api.dishes[0]
	_, err := client.GetDish(ctx, want.Name)
	require.NoError(t, err)
	requests := api.requestCount()
	assert.Zero(t, api.notModifiedCount())

	// revalidated, not skipped: the request goes out and the 304 is served from the cache
	got, err := client.GetDish(ctx, want.Name)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
	assert.Equal(t, requests+1, api.requestCount())
	assert.Equal(t, `"dish-0"`, api.lastRequest().Header.Get("If-None-Match"))
	assert.Equal(t, 1, api.notModifiedCount())

	// another credential never sees the cached entry
	other := session.NewStore(session.NewMemoryBackend())
	require.NoError(t, other.Initialize(ctx))
	_, err = client.ForSession(other).GetDish(ctx, want.Name)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, api.lastRequest().Header.Get("If-None-Match"))
}

func TestClient_GetDishCache_RevokedCredential(t *testing.T) {
	api := newFakeAPI(t)
	store, backend := loggedInStore(t, "tok123")
	cache := freecache.NewCache(1024 * 1024)
	client := NewClient(api.URL(), api.server.Client(), WithSession(store), WithCache(cache, time.Minute))
	ctx := context.Background()

	want := api.dishes[1]
	_, err := client.GetDish(ctx, want.Name)
	require.NoError(t, err)
	requests := api.requestCount()

	api.revoke()

	got, err := client.GetDish(ctx, want.Name)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Nil(t, got)
	assert.Equal(t, requests+1, api.requestCount())
	assert.False(t, store.Authenticated())
	assert.Zero(t, backend.Len())
}

func TestClient_SearchDishes(t *testing.T) {
	api := newFakeAPI(t)
	store, _ := loggedInStore(t, "tok123")
	client := NewClient(api.URL(), api.server.Client(), WithSession(store))
	ctx := context.Background()

	results, err := client.SearchDishes(ctx, " a ")
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.NotNil(t, results)
	assert.Zero(t, api.requestCount())

	want := api.dishes[5]
	results, err = client.SearchDishes(ctx, want.Name)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, want.Name, results[0].Name)
	assert.Equal(t, want.Name, api.lastRequest().URL.Query().Get("query"))

	api.mutex.Lock()
	api.raw = `{"data": "not a list"}`
	api.mutex.Unlock()
	results, err = client.SearchDishes(ctx, "gulab")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestClient_PossibleDishes(t *testing.T) {
	api := newFakeAPI(t)
	store, _ := loggedInStore(t, "tok123")
	client := NewClient(api.URL(), api.server.Client(), WithSession(store))
	ctx := context.Background()

	_, err := client.PossibleDishes(ctx, []string{" ", ""})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Zero(t, api.requestCount())

	dishes, err := client.PossibleDishes(ctx, []string{" rice ", "", "dal"})
	require.NoError(t, err)
	assert.Len(t, dishes, 2)
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	store, _ := loggedInStore(t, "tok123")
	m, _ := metrics.NewTestManagerAndRegistry()
	client := NewClient(server.URL, server.Client(), WithSession(store), WithMetrics(m))

	_, err := client.ListDishes(context.Background(), dish.ListQuery{})
	var transientErr *TransientError
	require.ErrorAs(t, err, &transientErr)
	assert.Equal(t, http.StatusBadGateway, transientErr.Status)
	assert.True(t, store.Authenticated())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CounterAPICalls.WithLabelValues("listDishes", "transient")))
}

func TestClient_TransportErrorIsTransient(t *testing.T) {
	store, _ := loggedInStore(t, "tok123")
	client := NewClient("http://127.0.0.1:1", &http.Client{Timeout: time.Second}, WithSession(store))

	_, err := client.ListDishes(context.Background(), dish.ListQuery{})
	var transientErr *TransientError
	require.ErrorAs(t, err, &transientErr)
	assert.True(t, store.Authenticated())
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "unauthorized", outcome(ErrUnauthorized))
	assert.Equal(t, "validation", outcome(&ValidationError{Status: 400}))
	assert.Equal(t, "transient", outcome(&TransientError{Err: errors.New("boom")}))
	assert.Equal(t, "transient", outcome(errors.New("boom")))
}
