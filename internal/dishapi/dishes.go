package dishapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/2beens/dishexplorer/internal/dish"
	"github.com/2beens/dishexplorer/pkg"

	log "github.com/sirupsen/logrus"
)

// MinSearchQueryLen is the shortest query worth sending to the search endpoint.
const MinSearchQueryLen = 2

func (c *Client) ListDishes(ctx context.Context, query dish.ListQuery) (*dish.Page, error) {
	respBytes, err := c.do(ctx, apiRequest{
		endpoint:      "listDishes",
		method:        http.MethodGet,
		path:          "/api/dishes",
		query:         query.Normalized().Values(),
		authenticated: true,
	})
	if err != nil {
		return nil, err
	}

	page := &dish.Page{}
	if err := decode(respBytes, page); err != nil {
		return nil, err
	}
	return page, nil
}

func (c *Client) GetDish(ctx context.Context, name string) (*dish.Dish, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Status: http.StatusNotFound, Message: "dish name is empty"}
	}

	cacheKey := c.dishCacheKey(name)
	var cached cachedDish
	if cacheKey != nil {
		if entry, err := c.cache.Get(cacheKey); err == nil {
			cached = decodeCachedDish(entry)
		}
	}

	resp, err := c.roundTrip(ctx, apiRequest{
		endpoint:      "getDish",
		method:        http.MethodGet,
		path:          "/api/dishes/" + url.PathEscape(name),
		authenticated: true,
		ifNoneMatch:   cached.etag,
	})
	if err != nil {
		return nil, err
	}
	if resp.notModified {
		resp.body = cached.body
	}

	d := &dish.Dish{}
	if err := decode(resp.body, d); err != nil {
		return nil, err
	}

	if cacheKey != nil && resp.etag != "" && !resp.notModified {
		entry := cachedDish{etag: resp.etag, body: resp.body}.encode()
		if err := c.cache.Set(cacheKey, entry, c.cacheTTLSeconds); err != nil {
			log.Debugf("cache dish [%s]: %s", name, err)
		}
	}

	return d, nil
}

// cachedDish is a dish detail body with the entity tag it was served with.
type cachedDish struct {
	etag string
	body []byte
}

func (cd cachedDish) encode() []byte {
	entry := make([]byte, 0, len(cd.etag)+1+len(cd.body))
	entry = append(entry, cd.etag...)
	entry = append(entry, '\n')
	return append(entry, cd.body...)
}

func decodeCachedDish(entry []byte) cachedDish {
	etag, body, ok := bytes.Cut(entry, []byte{'\n'})
	if !ok || len(etag) == 0 {
		return cachedDish{}
	}
	return cachedDish{etag: string(etag), body: body}
}

// dishCacheKey scopes cached dishes to the credential they were fetched with.
// It returns nil when there is nothing to scope by.
func (c *Client) dishCacheKey(name string) []byte {
	if c.cache == nil || c.session == nil {
		return nil
	}
	credential, ok := c.session.Credential()
	if !ok {
		return nil
	}
	return []byte(pkg.Fingerprint(credential) + "||" + name)
}

// SearchDishes returns the dishes matching query. Short queries return no results without calling the API.
func (c *Client) SearchDishes(ctx context.Context, query string) ([]dish.Dish, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinSearchQueryLen {
		return []dish.Dish{}, nil
	}

	respBytes, err := c.do(ctx, apiRequest{
		endpoint:      "searchDishes",
		method:        http.MethodGet,
		path:          "/api/dishes/search",
		query:         url.Values{"query": []string{query}},
		authenticated: true,
	})
	if err != nil {
		return nil, err
	}

	return decodeDishList(respBytes), nil
}

// PossibleDishes returns the dishes that can be cooked from the given ingredients.
func (c *Client) PossibleDishes(ctx context.Context, ingredients []string) ([]dish.Dish, error) {
	var cleaned []string
	for _, ingredient := range ingredients {
		if ingredient = strings.TrimSpace(ingredient); ingredient != "" {
			cleaned = append(cleaned, ingredient)
		}
	}
	if len(cleaned) == 0 {
		return nil, &ValidationError{Status: http.StatusBadRequest, Message: "Please enter at least one ingredient"}
	}

	respBytes, err := c.do(ctx, apiRequest{
		endpoint: "possibleDishes",
		method:   http.MethodPost,
		path:     "/api/dishes/possible",
		body: map[string][]string{
			"ingredients": cleaned,
		},
		authenticated: true,
	})
	if err != nil {
		return nil, err
	}

	var dishes []dish.Dish
	if err := decode(respBytes, &dishes); err != nil {
		return nil, err
	}
	if dishes == nil {
		dishes = []dish.Dish{}
	}
	return dishes, nil
}

// decodeDishList reads a JSON array of dishes. Anything else is treated as no results.
func decodeDishList(respBytes []byte) []dish.Dish {
	var dishes []dish.Dish
	if err := json.Unmarshal(respBytes, &dishes); err != nil {
		log.Debugf("search response is not a dish list: %s", err)
		return []dish.Dish{}
	}
	if dishes == nil {
		return []dish.Dish{}
	}
	return dishes
}
