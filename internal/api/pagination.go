package api

import (
	"fmt"
	"net/http"
	"strconv"
)

// PaginationParams holds parsed pagination values from query params.
type PaginationParams struct {
	Limit  int
	Offset int
}

// PaginationMeta contains pagination metadata for the response.
type PaginationMeta struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

// ParsePagination extracts limit and offset from query params.
// defaultLimit is used when no limit param is provided and maxLimit caps
// the value. Non-numeric or negative values are rejected.
func ParsePagination(r *http.Request, defaultLimit, maxLimit int) (PaginationParams, error) {
	p := PaginationParams{Limit: defaultLimit}
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, fmt.Errorf("limit must be a positive integer")
		}
		p.Limit = n
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("offset must be a non-negative integer")
		}
		p.Offset = n
	}
	return p, nil
}

// NewPaginationMeta builds the pagination block for a page of returned
// items out of total.
func NewPaginationMeta(p PaginationParams, returned, total int) PaginationMeta {
	return PaginationMeta{
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.Offset+returned < total,
	}
}
