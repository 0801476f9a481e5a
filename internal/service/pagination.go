package service

import "math"

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

type paging struct {
	Page  int
	Limit int
}

// newPaging applies the defaults and caps the limit and page. Zero def or maxLimit fall back to 10 and 100.
func newPaging(page, limit, def, maxLimit int) paging {
	if def <= 0 {
		def = defaultPageSize
	}
	if maxLimit <= 0 {
		maxLimit = maxPageSize
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = def
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	// keep (page-1)*limit within int
	if lastPage := math.MaxInt / limit; page > lastPage {
		page = lastPage
	}
	return paging{Page: page, Limit: limit}
}

func (p paging) offset() int {
	return (p.Page - 1) * p.Limit
}

func (p paging) meta(total int64) PageMeta {
	pages := int((total + int64(p.Limit) - 1) / int64(p.Limit))
	return PageMeta{Total: total, Page: p.Page, Limit: p.Limit, TotalPages: pages}
}
