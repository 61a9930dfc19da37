package integration_testing

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/2beens/dishexplorer/internal/config"
	"github.com/2beens/dishexplorer/internal/web"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

const (
	serverHost = "localhost"
	apiToken   = "integration-token"
)

var cookieSecret = []byte("integration-cookie-secret-0123456789abcdef")

// dishAPI stands in for the remote dish service. Revoking the token makes every
// authenticated endpoint answer 401.
type dishAPI struct {
	mutex   sync.Mutex
	revoked bool
	server  *httptest.Server
}

func newDishAPI() *dishAPI {
	api := &dishAPI{}

	r := mux.NewRouter()
	r.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["email"] != "cook@example.com" || req["password"] != "masala" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid email or password"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token": apiToken,
			"user":  map[string]any{"id": 7, "name": "Cook", "email": req["email"]},
		})
	}).Methods(http.MethodPost)
	r.HandleFunc("/api/dishes/{name}", api.authorized(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"name": mux.Vars(r)["name"], "ingredients": "Gram flour, ghee, sugar", "diet": "vegetarian",
			"prep_time": 15, "cook_time": -1, "flavor_profile": "sweet", "course": "dessert",
			"state": "Karnataka", "region": "South",
		})
	})).Methods(http.MethodGet)
	r.HandleFunc("/api/dishes", api.authorized(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]any{{
				"name": "Mysore pak", "ingredients": "Gram flour, ghee, sugar", "diet": "vegetarian",
				"prep_time": 15, "cook_time": -1, "flavor_profile": "sweet", "course": "dessert",
				"state": "Karnataka", "region": "South",
			}},
			"total": 1,
		})
	})).Methods(http.MethodGet)

	api.server = httptest.NewServer(r)
	return api
}

func (api *dishAPI) revoke() {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	api.revoked = true
}

func (api *dishAPI) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		api.mutex.Lock()
		ok := !api.revoked && r.Header.Get("Authorization") == "Bearer "+apiToken
		api.mutex.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Token expired"})
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func getTestConfig(redisPort, apiURL string, port int) *config.Config {
	return &config.Config{
		Environment:           "development",
		Host:                  serverHost,
		Port:                  port,
		PrometheusMetricsHost: serverHost,
		PrometheusMetricsPort: fmt.Sprintf("%d", port+1),
		LogLevel:              "debug",
		APIURL:                apiURL,
		APITimeoutSec:         5,
		RedisHost:             serverHost,
		RedisPort:             redisPort,
		LoginRateLimitPerMin:  100,
	}
}

func startServer(ctx context.Context, cfg *config.Config) (*web.Server, error) {
	server, err := web.NewServer(ctx, web.NewServerParams{
		Config:                  cfg,
		VersionInfo:             "test-version-info",
		RedisPassword:           "",
		CookieSecret:            cookieSecret,
		HoneycombTracingEnabled: false,
	})
	if err != nil {
		return nil, err
	}
	server.Serve(cfg.Host, cfg.Port)
	return server, nil
}

func redisSetup(pool *dockertest.Pool) (string, *redis.Client, func(), error) {
	redisResource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Tag:        "6.2",
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{
			Name: "no",
		}
	})
	if err != nil {
		return "", nil, nil, fmt.Errorf("run redis: %s", err)
	}

	redisPort := redisResource.GetPort("6379/tcp")
	rdb := redis.NewClient(&redis.Options{
		Addr: net.JoinHostPort(serverHost, redisPort),
	})
	if err := pool.Retry(func() error {
		return rdb.Ping(context.Background()).Err()
	}); err != nil {
		_ = rdb.Close()
		_ = redisResource.Close()
		return "", nil, nil, fmt.Errorf("wait for redis: %s", err)
	}

	return redisPort, rdb, func() {
		if err := rdb.Close(); err != nil {
			fmt.Printf("redis client close: %s\n", err)
		}
		if err := redisResource.Close(); err != nil {
			fmt.Printf("redis teardown: %s\n", err)
		}
	}, nil
}
