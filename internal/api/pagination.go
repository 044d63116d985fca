package api

import (
	"net/http"
	"strconv"
)

// PaginationParams is a resolved window over a list endpoint.
type PaginationParams struct {
	Page   int
	Limit  int
	Offset int
}

// PaginatedResponse wraps a list with its window metadata.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

type PaginationMeta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasMore    bool  `json:"has_more"`
}

// ParsePagination reads ?page=&limit= or ?offset=&limit= from the request.
// An explicit offset wins over page; the page reported back is the one the
// offset falls in. Limits outside [1, maxLimit] are clamped.
func ParsePagination(r *http.Request, defaultLimit, maxLimit int) PaginationParams {
	q := r.URL.Query()
	limit := queryInt(q.Get("limit"), defaultLimit)
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	if raw := q.Get("offset"); raw != "" {
		offset := queryInt(raw, 0)
		if offset < 0 {
			offset = 0
		}
		return PaginationParams{Page: offset/limit + 1, Limit: limit, Offset: offset}
	}

	page := queryInt(q.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	return PaginationParams{Page: page, Limit: limit, Offset: (page - 1) * limit}
}

// NewPaginatedResponse builds the envelope for one window of total rows.
func NewPaginatedResponse(data interface{}, params PaginationParams, total int64) PaginatedResponse {
	limit := int64(params.Limit)
	totalPages := int((total + limit - 1) / limit)
	if totalPages < 1 {
		totalPages = 1
	}
	return PaginatedResponse{
		Data: data,
		Pagination: PaginationMeta{
			Page:       params.Page,
			Limit:      params.Limit,
			Offset:     params.Offset,
			Total:      total,
			TotalPages: totalPages,
			HasMore:    int64(params.Offset+params.Limit) < total,
		},
	}
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
