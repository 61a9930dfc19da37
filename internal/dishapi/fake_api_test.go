package dishapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/2beens/dishexplorer/internal/dish"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gorilla/mux"
)

// fakeAPI is an in-process stand-in for the remote dish API.
type fakeAPI struct {
	mutex    sync.Mutex
	server   *httptest.Server
	token    string
	dishes   []dish.Dish
	requests []*http.Request
	// revoked makes every authenticated endpoint answer 401.
	revoked bool
	// raw, when set, is served verbatim by the search endpoint.
	raw string
	// notModified counts dish detail requests answered with 304.
	notModified int
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()

	api := &fakeAPI{
		token: "tok123",
	}
	for i := 0; i < 25; i++ {
		api.dishes = append(api.dishes, dish.Dish{
			Name:          strings.ReplaceAll(fmt.Sprintf("%s %d", gofakeit.Dessert(), i), "/", " "),
			Ingredients:   strings.Join([]string{gofakeit.Noun(), gofakeit.Noun()}, ", "),
			Diet:          dish.DietVegetarian,
			PrepTime:      gofakeit.Number(-1, 60),
			CookTime:      gofakeit.Number(-1, 90),
			FlavorProfile: "sweet",
			Course:        "dessert",
			State:         gofakeit.State(),
			Region:        "North",
		})
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/auth/login", api.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/register", api.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/dishes/search", api.authorized(api.handleSearch)).Methods(http.MethodGet)
	r.HandleFunc("/api/dishes/possible", api.authorized(api.handlePossible)).Methods(http.MethodPost)
	r.HandleFunc("/api/dishes/{name}", api.authorized(api.handleGet)).Methods(http.MethodGet)
	r.HandleFunc("/api/dishes", api.authorized(api.handleList)).Methods(http.MethodGet)

	api.server = httptest.NewServer(r)
	t.Cleanup(api.server.Close)

	return api
}

func (api *fakeAPI) URL() string {
	return api.server.URL
}

func (api *fakeAPI) revoke() {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	api.revoked = true
}

func (api *fakeAPI) lastRequest() *http.Request {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	if len(api.requests) == 0 {
		return nil
	}
	return api.requests[len(api.requests)-1]
}

func (api *fakeAPI) requestCount() int {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	return len(api.requests)
}

func (api *fakeAPI) notModifiedCount() int {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	return api.notModified
}

func (api *fakeAPI) record(r *http.Request) {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	api.requests = append(api.requests, r.Clone(r.Context()))
}

func (api *fakeAPI) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		api.record(r)
		api.mutex.Lock()
		ok := !api.revoked && r.Header.Get("Authorization") == "Bearer "+api.token
		api.mutex.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next(w, r)
	}
}

func (api *fakeAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	api.record(r)
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Bad request"})
		return
	}
	switch {
	case req["email"] == "a@example.com" && req["password"] == "secret":
		writeJSON(w, http.StatusOK, map[string]any{
			"token": api.token,
			"user":  map[string]any{"id": 1, "name": "A"},
		})
	case req["email"] == "silent@example.com":
		w.WriteHeader(http.StatusUnauthorized)
	case req["email"] == "tokenless@example.com":
		writeJSON(w, http.StatusOK, map[string]any{"user": map[string]any{"id": 2}})
	default:
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Wrong email or password"})
	}
}

func (api *fakeAPI) handleRegister(w http.ResponseWriter, r *http.Request) {
	api.record(r)
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Email is required"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "ok"})
}

func (api *fakeAPI) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := atoiOr(query.Get("page"), 1)
	limit := atoiOr(query.Get("limit"), 10)

	start := (page - 1) * limit
	if start > len(api.dishes) {
		start = len(api.dishes)
	}
	end := start + limit
	if end > len(api.dishes) {
		end = len(api.dishes)
	}

	writeJSON(w, http.StatusOK, dish.Page{
		Data:  api.dishes[start:end],
		Total: len(api.dishes),
	})
}

func (api *fakeAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	for i, d := range api.dishes {
		if d.Name == name {
			etag := `"dish-` + strconv.Itoa(i) + `"`
			w.Header().Set("ETag", etag)
			if r.Header.Get("If-None-Match") == etag {
				api.mutex.Lock()
				api.notModified++
				api.mutex.Unlock()
				w.WriteHeader(http.StatusNotModified)
				return
			}
			writeJSON(w, http.StatusOK, d)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Dish not found"})
}

func (api *fakeAPI) handleSearch(w http.ResponseWriter, r *http.Request) {
	api.mutex.Lock()
	raw := api.raw
	api.mutex.Unlock()
	if raw != "" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(raw))
		return
	}

	q := strings.ToLower(r.URL.Query().Get("query"))
	matches := []dish.Dish{}
	for _, d := range api.dishes {
		if strings.Contains(strings.ToLower(d.Name), q) {
			matches = append(matches, d)
		}
	}
	writeJSON(w, http.StatusOK, matches)
}

func (api *fakeAPI) handlePossible(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ingredients []string `json:"ingredients"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Bad request"})
		return
	}
	writeJSON(w, http.StatusOK, api.dishes[:2])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
