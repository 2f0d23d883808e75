package helpers

import (
	"net/http"
	"strconv"

	"eventpayments/internal/domain"
)

// Pagination query parameter defaults and limits.
const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ParsePagination reads page and page_size from the query string. Absent values take the
// defaults and page_size is clamped to MaxPageSize. Values that are not positive integers
// are returned as validation messages for a 400.
func ParsePagination(r *http.Request) (domain.PaginationParams, []string) {
	q := r.URL.Query()
	var errs []string
	page, ok := positiveInt(q.Get("page"), DefaultPage)
	if !ok {
		errs = append(errs, "page must be a positive integer")
	}
	size, ok := positiveInt(q.Get("page_size"), DefaultPageSize)
	if !ok {
		errs = append(errs, "page_size must be a positive integer")
	}
	return domain.PaginationParams{Page: page, PageSize: min(size, MaxPageSize)}, errs
}

func positiveInt(raw string, fallback int) (int, bool) {
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback, false
	}
	return v, true
}

// PaginationMeta is the pagination metadata included in paginated list responses.
// swagger:model PaginationMeta
type PaginationMeta struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPaginationMeta describes one page of a list with total rows.
func NewPaginationMeta(p domain.PaginationParams, total int) PaginationMeta {
	size := p.Limit()
	return PaginationMeta{
		Page:       max(p.Page, 1),
		PageSize:   size,
		Total:      total,
		TotalPages: (total + size - 1) / size,
	}
}
