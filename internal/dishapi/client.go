package dishapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2beens/dishexplorer/internal/telemetry/metrics"
	"github.com/2beens/dishexplorer/internal/telemetry/tracing"
	"github.com/2beens/dishexplorer/pkg"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const maxResponseBytes = 10 * 1024 * 1024

// Session is the part of the session store the client needs: it reads the credential
// and clears the session when the API rejects it.
type Session interface {
	Credential() (string, bool)
	Logout(ctx context.Context) error
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	session    Session
	metrics    *metrics.Manager

	cache           *freecache.Cache
	cacheTTLSeconds int
}

type Option func(*Client)

func WithSession(s Session) Option {
	return func(c *Client) {
		c.session = s
	}
}

func WithMetrics(m *metrics.Manager) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithCache keeps dish details per credential for conditional revalidation: every fetch still
// reaches the API, and a 304 answer is served from the cache. A ttl under one second disables caching.
func WithCache(cache *freecache.Cache, ttl time.Duration) Option {
	return func(c *Client) {
		if cache == nil || ttl < time.Second {
			return
		}
		c.cache = cache
		c.cacheTTLSeconds = int(ttl.Seconds())
	}
}

func NewClient(baseURL string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ForSession returns a client bound to s that shares transport, metrics and cache with c.
func (c *Client) ForSession(s Session) *Client {
	clone := *c
	clone.session = s
	return &clone
}

type apiRequest struct {
	endpoint      string
	method        string
	path          string
	query         url.Values
	body          any
	authenticated bool
	// ifNoneMatch makes the request conditional on the entity tag of a cached body.
	ifNoneMatch string
}

type apiResponse struct {
	body        []byte
	etag        string
	notModified bool
}

func (c *Client) do(ctx context.Context, req apiRequest) ([]byte, error) {
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

func (c *Client) roundTrip(ctx context.Context, req apiRequest) (_ apiResponse, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "dishApi."+req.endpoint)
	defer span.End()

	defer func(begin time.Time) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "ok")
		}
		if c.metrics != nil {
			c.metrics.HistogramAPICallDuration.WithLabelValues(req.endpoint).Observe(time.Since(begin).Seconds())
			c.metrics.CounterAPICalls.WithLabelValues(req.endpoint, outcome(err)).Inc()
		}
	}(time.Now())

	reqURL := c.baseURL + req.path
	if len(req.query) > 0 {
		reqURL += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		bodyBytes, err := json.Marshal(req.body)
		if err != nil {
			return apiResponse{}, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, reqURL, body)
	if err != nil {
		return apiResponse{}, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Accept", pkg.ContentType.JSON)
	httpReq.Header.Set("Content-Type", pkg.ContentType.JSON)
	if req.ifNoneMatch != "" {
		httpReq.Header.Set("If-None-Match", req.ifNoneMatch)
	}
	if req.authenticated && c.session != nil {
		if credential, ok := c.session.Credential(); ok {
			httpReq.Header.Set("Authorization", "Bearer "+credential)
		}
	}

	span.SetAttributes(
		attribute.String("dishapi.method", req.method),
		attribute.String("dishapi.path", req.path),
	)
	log.Tracef("dish api call: %s %s", req.method, req.path)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return apiResponse{}, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apiResponse{}, &TransientError{Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	span.SetAttributes(attribute.Int("dishapi.status", resp.StatusCode))

	switch status := resp.StatusCode; {
	case status >= 200 && status < 300:
		return apiResponse{body: respBytes, etag: resp.Header.Get("ETag")}, nil
	case status == http.StatusNotModified && req.ifNoneMatch != "":
		return apiResponse{etag: req.ifNoneMatch, notModified: true}, nil
	case status == http.StatusUnauthorized && req.authenticated:
		c.invalidateSession(ctx, req.endpoint)
		return apiResponse{}, ErrUnauthorized
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return apiResponse{}, &TransientError{Status: status, Err: errors.New(http.StatusText(status))}
	case status >= 400 && status < 500:
		return apiResponse{}, &ValidationError{Status: status, Message: errorMessage(respBytes)}
	default:
		return apiResponse{}, &TransientError{Status: status, Err: errors.New(http.StatusText(status))}
	}
}

// invalidateSession clears the session after the API rejected its credential.
// Every call site gets this for free; none of them handles 401 on its own.
func (c *Client) invalidateSession(ctx context.Context, endpoint string) {
	log.Warnf("dish api rejected the credential on [%s], clearing session", endpoint)
	if c.metrics != nil {
		c.metrics.CounterSessionInvalidations.Inc()
	}
	if c.session == nil {
		return
	}
	if err := c.session.Logout(ctx); err != nil {
		log.Errorf("clear session after unauthorized response: %s", err)
	}
}

// errorMessage extracts the user facing message from an API error body, if there is one.
func errorMessage(body []byte) string {
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return ""
	}
	if errResp.Error != "" {
		return errResp.Error
	}
	return errResp.Message
}

func decode(respBytes []byte, out any) error {
	if err := json.Unmarshal(respBytes, out); err != nil {
		return &TransientError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
