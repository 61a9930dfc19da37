package web

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/2beens/dishexplorer/internal/dish"
	"github.com/2beens/dishexplorer/internal/dishapi"
	"github.com/2beens/dishexplorer/internal/middleware"
	"github.com/2beens/dishexplorer/internal/session"
	"github.com/2beens/dishexplorer/internal/telemetry/metrics"
	"github.com/2beens/dishexplorer/internal/telemetry/tracing"
	"github.com/2beens/dishexplorer/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	msgListFailed       = "Failed to fetch dishes. Please try again."
	msgDishFailed       = "Failed to load dish details"
	msgSuggestFailed    = "Failed to find possible dishes. Please try again."
	msgLoginUnavailable = "Login is unavailable right now. Please try again later."
	msgSessionNotSaved  = "Logged in, but could not save session. Please try again."
	msgRegisterFailed   = "Registration is unavailable right now. Please try again later."
	msgMissingLogin     = "Email and password are required"
	msgMissingRegister  = "Name, email and password are required"
)

type Handler struct {
	api            *dishapi.Client
	backends       BackendFactory
	views          *views
	metricsManager *metrics.Manager
	versionInfo    string
}

func NewHandler(
	api *dishapi.Client,
	backends BackendFactory,
	metricsManager *metrics.Manager,
	versionInfo string,
) (*Handler, error) {
	v, err := loadViews()
	if err != nil {
		return nil, err
	}
	return &Handler{
		api:            api,
		backends:       backends,
		views:          v,
		metricsManager: metricsManager,
		versionInfo:    versionInfo,
	}, nil
}

func (h *Handler) SetupRoutes(
	r *mux.Router,
	rateLimiter middleware.RequestRateLimiter,
	loginRateLimitPerMin int,
) {
	r.HandleFunc("/health", h.handleHealth).Methods("GET").Name("health")
	r.HandleFunc("/version", h.handleVersion).Methods("GET").Name("version")

	r.HandleFunc("/login", h.handleLoginPage).Methods("GET").Name("login-page")
	r.Handle("/login",
		middleware.RateLimit(rateLimiter, h.metricsManager, "login", loginRateLimitPerMin)(http.HandlerFunc(h.handleLogin)),
	).Methods("POST").Name("login")
	r.HandleFunc("/register", h.handleRegisterPage).Methods("GET").Name("register-page")
	r.Handle("/register",
		middleware.RateLimit(rateLimiter, h.metricsManager, "register", loginRateLimitPerMin)(http.HandlerFunc(h.handleRegister)),
	).Methods("POST").Name("register")

	r.HandleFunc("/logout", h.requireSession(h.handleLogout)).Methods("POST").Name("logout")
	r.HandleFunc("/", h.requireSession(h.handleHome)).Methods("GET").Name("home")
	r.HandleFunc("/suggest", h.requireSession(h.handleSuggest)).Methods("POST").Name("suggest")
	r.HandleFunc("/search", h.requireSession(h.handleSearch)).Methods("GET").Name("search")
	// names may contain "/", which reaches the router decoded
	r.HandleFunc("/dish/{name:.+}", h.requireSession(h.handleDish)).Methods("GET").Name("dish")

	r.NotFoundHandler = http.HandlerFunc(h.handleNotFound)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, "I'm OK, thanks ;)")
}

func (h *Handler) handleVersion(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, h.versionInfo)
}

func (h *Handler) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	h.views.render(w, http.StatusNotFound, viewNotFound, layoutData{})
}

func (h *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	h.views.render(w, http.StatusOK, viewLogin, loginPage{
		layoutData: layoutData{Title: "Login"},
		Registered: r.URL.Query().Get("registered") == "1",
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "webHandler.login")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		log.Errorf("login failed, parse form error: %s", err)
		http.Error(w, "parse form error", http.StatusBadRequest)
		return
	}

	page := loginPage{
		layoutData: layoutData{Title: "Login"},
		Email:      strings.TrimSpace(r.PostForm.Get("email")),
	}
	password := r.PostForm.Get("password")
	if page.Email == "" || password == "" {
		page.Error = msgMissingLogin
		h.views.render(w, http.StatusBadRequest, viewLogin, page)
		return
	}

	browserContextID, ok := BrowserContextID(ctx)
	if !ok {
		http.Error(w, "missing browser context", http.StatusBadRequest)
		return
	}

	result, err := h.api.Login(ctx, page.Email, password)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		var validationErr *dishapi.ValidationError
		if errors.As(err, &validationErr) {
			h.countLogin("rejected")
			log.Tracef("login rejected: %s", validationErr)
			page.Error = validationErr.Error()
			h.views.render(w, http.StatusBadRequest, viewLogin, page)
			return
		}
		h.countLogin("error")
		log.Errorf("login: %s", err)
		page.Error = msgLoginUnavailable
		h.views.render(w, http.StatusBadGateway, viewLogin, page)
		return
	}

	store := session.NewStore(h.backends(browserContextID))
	if err := store.Initialize(ctx); err != nil {
		log.Warnf("login: read previous session: %s", err)
	}
	if err := store.Login(ctx, result.Token, result.User); err != nil {
		h.countLogin("persistence")
		span.SetStatus(codes.Error, err.Error())
		log.Errorf("login: save session: %s", err)
		page.Error = msgSessionNotSaved
		h.views.render(w, http.StatusInternalServerError, viewLogin, page)
		return
	}

	h.countLogin("ok")
	span.SetAttributes(attribute.String("session.credential", pkg.Fingerprint(result.Token)))
	span.SetStatus(codes.Ok, "ok")
	log.Debugf("login success, credential [%s]", pkg.Fingerprint(result.Token))

	// the session is durable at this point, the protected home can read it
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) countLogin(outcome string) {
	if h.metricsManager != nil {
		h.metricsManager.CounterLogins.WithLabelValues(outcome).Inc()
	}
}

func (h *Handler) handleRegisterPage(w http.ResponseWriter, _ *http.Request) {
	h.views.render(w, http.StatusOK, viewRegister, registerPage{
		layoutData: layoutData{Title: "Register"},
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "webHandler.register")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		log.Errorf("register failed, parse form error: %s", err)
		http.Error(w, "parse form error", http.StatusBadRequest)
		return
	}

	req := dishapi.RegisterRequest{
		Name:     strings.TrimSpace(r.PostForm.Get("name")),
		Email:    strings.TrimSpace(r.PostForm.Get("email")),
		Password: r.PostForm.Get("password"),
	}
	page := registerPage{
		layoutData: layoutData{Title: "Register"},
		Name:       req.Name,
		Email:      req.Email,
	}
	if req.Name == "" || req.Email == "" || req.Password == "" {
		page.Error = msgMissingRegister
		h.views.render(w, http.StatusBadRequest, viewRegister, page)
		return
	}

	if err := h.api.Register(ctx, req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		var validationErr *dishapi.ValidationError
		if errors.As(err, &validationErr) {
			page.Error = validationErr.Error()
			h.views.render(w, http.StatusBadRequest, viewRegister, page)
			return
		}
		log.Errorf("register: %s", err)
		page.Error = msgRegisterFailed
		h.views.render(w, http.StatusBadGateway, viewRegister, page)
		return
	}

	span.SetStatus(codes.Ok, "ok")
	http.Redirect(w, r, "/login?registered=1", http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "webHandler.logout")
	defer span.End()

	rs := requestSessionFrom(ctx)
	if err := rs.store.Logout(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Errorf("logout: %s", err)
	}

	// the gate has redirected to login by now
	if !rs.answered() {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}
}

func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "webHandler.home")
	defer span.End()

	rs := requestSessionFrom(ctx)
	page := h.newHomePage(rs, dish.ParseListQuery(r.URL.Query()))
	if !h.fillDishList(r.WithContext(ctx), rs, page) {
		return
	}
	h.views.render(w, http.StatusOK, viewHome, page)
}

func (h *Handler) handleSuggest(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "webHandler.suggest")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "parse form error", http.StatusBadRequest)
		return
	}

	rs := requestSessionFrom(ctx)
	ingredients := splitIngredients(r.PostForm["ingredients"])
	page := h.newHomePage(rs, dish.ParseListQuery(r.URL.Query()))
	page.Ingredients = strings.Join(ingredients, ", ")

	possible, err := rs.api.PossibleDishes(ctx, ingredients)
	var validationErr *dishapi.ValidationError
	switch {
	case errors.Is(err, dishapi.ErrUnauthorized):
		return
	case errors.As(err, &validationErr):
		page.SuggestError = validationErr.Error()
	case err != nil:
		log.Errorf("possible dishes: %s", err)
		page.SuggestError = msgSuggestFailed
	default:
		page.Suggested = true
		page.Suggestions = dishViews(possible)
	}

	if !h.fillDishList(r.WithContext(ctx), rs, page) {
		return
	}
	h.views.render(w, http.StatusOK, viewHome, page)
}

type searchResult struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Region string `json:"region"`
	URL    string `json:"url"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "webHandler.search")
	defer span.End()

	rs := requestSessionFrom(ctx)
	dishes, err := rs.api.SearchDishes(ctx, r.URL.Query().Get("query"))
	if errors.Is(err, dishapi.ErrUnauthorized) {
		return
	}
	if err != nil {
		log.Errorf("search dishes: %s", err)
		dishes = nil
	}

	results := make([]searchResult, 0, len(dishes))
	for _, d := range dishes {
		results = append(results, searchResult{
			Name:   d.Name,
			State:  d.State,
			Region: d.Region,
			URL:    dishURL(d.Name),
		})
	}
	span.SetAttributes(attribute.Int("search.results", len(results)))
	pkg.WriteJSONResponseOK(w, results)
}

func (h *Handler) handleDish(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "webHandler.dish")
	defer span.End()

	rs := requestSessionFrom(ctx)
	name := mux.Vars(r)["name"]
	span.SetAttributes(attribute.String("dish.name", name))

	page := dishPage{
		layoutData: layoutData{Title: name, User: rs.store.Profile().Name()},
	}

	d, err := rs.api.GetDish(ctx, name)
	switch {
	case errors.Is(err, dishapi.ErrUnauthorized):
		return
	case errors.Is(err, dishapi.ErrNotFound):
		h.views.render(w, http.StatusNotFound, viewNotFound, layoutData{
			Title: "Dish not found: " + name,
			User:  page.User,
		})
		return
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		log.Errorf("get dish [%s]: %s", name, err)
		page.Error = msgDishFailed
		h.views.render(w, http.StatusBadGateway, viewDish, page)
		return
	}

	view := d.View()
	page.Dish = &view
	h.views.render(w, http.StatusOK, viewDish, page)
}

func (h *Handler) newHomePage(rs *requestSession, query dish.ListQuery) *homePage {
	return &homePage{
		layoutData: layoutData{User: rs.store.Profile().Name()},
		Query:      query,
		Diets:      []dish.Diet{dish.DietVegetarian, dish.DietNonVegetarian},
	}
}

// fillDishList loads the dish listing into page. It returns false when the request
// was already answered because the session ended.
func (h *Handler) fillDishList(r *http.Request, rs *requestSession, page *homePage) bool {
	result, err := rs.api.ListDishes(r.Context(), page.Query)
	if errors.Is(err, dishapi.ErrUnauthorized) {
		return false
	}
	if err != nil {
		log.Errorf("list dishes: %s", err)
		page.ListError = msgListFailed
		return true
	}

	page.Dishes = dishViews(result.Data)
	page.Total = result.Total

	q := page.Query
	page.Pages = pageLinks(q, result.Pages(q.Limit))
	if q.Page > 1 {
		page.PrevURL = pageURL(q, q.Page-1)
	}
	if result.HasNext(q.Page, q.Limit) {
		page.NextURL = pageURL(q, q.Page+1)
	}
	return true
}

// pageLinkRadius is how many page links are shown on each side of the current page.
const pageLinkRadius = 5

// pageLinks links the pages around the current one; Prev and Next reach the rest.
func pageLinks(q dish.ListQuery, pages int) []pageLink {
	first := max(1, q.Page-pageLinkRadius)
	last := min(pages, q.Page+pageLinkRadius)

	var links []pageLink
	for i := first; i <= last; i++ {
		links = append(links, pageLink{
			Number:  i,
			URL:     pageURL(q, i),
			Current: i == q.Page,
		})
	}
	return links
}

func pageURL(q dish.ListQuery, page int) string {
	q.Page = page
	return (&url.URL{Path: "/", RawQuery: q.Values().Encode()}).String()
}

// splitIngredients accepts both comma separated values and repeated form fields.
func splitIngredients(fields []string) []string {
	var ingredients []string
	for _, field := range fields {
		for _, ingredient := range strings.Split(field, ",") {
			if ingredient = strings.TrimSpace(ingredient); ingredient != "" {
				ingredients = append(ingredients, ingredient)
			}
		}
	}
	return ingredients
}
