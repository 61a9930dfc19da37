package dish

import (
	"net/url"
	"strconv"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

type Filters struct {
	Diet          Diet
	Course        string
	State         string
	Region        string
	FlavorProfile string
}

func (f Filters) Empty() bool {
	return f == Filters{}
}

// ListQuery describes one page of the dish listing. Page is 1-based.
type ListQuery struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder SortOrder
	Filters   Filters
}

// Normalized returns a copy with defaults applied and the page size clamped.
func (q ListQuery) Normalized() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultPageSize
	case q.Limit > MaxPageSize:
		q.Limit = MaxPageSize
	}
	if q.SortOrder != SortAsc && q.SortOrder != SortDesc {
		q.SortOrder = ""
	}
	if q.SortBy == "" {
		q.SortOrder = ""
	}
	return q
}

// Values encodes the query the way the dish API expects it; unset filters are omitted.
func (q ListQuery) Values() url.Values {
	q = q.Normalized()
	v := url.Values{}
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("limit", strconv.Itoa(q.Limit))
	if q.SortBy != "" {
		v.Set("sortBy", q.SortBy)
		if q.SortOrder != "" {
			v.Set("sortOrder", string(q.SortOrder))
		}
	}
	setIf := func(key, val string) {
		if val != "" {
			v.Set(key, val)
		}
	}
	setIf("diet", string(q.Filters.Diet))
	setIf("course", q.Filters.Course)
	setIf("state", q.Filters.State)
	setIf("region", q.Filters.Region)
	setIf("flavor_profile", q.Filters.FlavorProfile)
	return v
}

// ParseListQuery reads a query encoded by Values. Malformed numbers fall back to the defaults.
func ParseListQuery(v url.Values) ListQuery {
	atoi := func(key string) int {
		n, err := strconv.Atoi(v.Get(key))
		if err != nil {
			return 0
		}
		return n
	}
	return ListQuery{
		Page:      atoi("page"),
		Limit:     atoi("limit"),
		SortBy:    v.Get("sortBy"),
		SortOrder: SortOrder(v.Get("sortOrder")),
		Filters: Filters{
			Diet:          Diet(v.Get("diet")),
			Course:        v.Get("course"),
			State:         v.Get("state"),
			Region:        v.Get("region"),
			FlavorProfile: v.Get("flavor_profile"),
		},
	}.Normalized()
}

// Page is one page of the dish listing as returned by the API.
type Page struct {
	Data  []Dish `json:"data"`
	Total int    `json:"total"`
}

// Pages returns the number of pages for the given page size.
func (p Page) Pages(limit int) int {
	if limit <= 0 || p.Total <= 0 {
		return 0
	}
	return (p.Total + limit - 1) / limit
}

func (p Page) HasNext(page, limit int) bool {
	return page < p.Pages(limit)
}
