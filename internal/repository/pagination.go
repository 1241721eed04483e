package repository

import "gorm.io/gorm"

const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type PageRequest struct {
	Page     int
	PageSize int
}

type PageResult[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// MapPage converts the items of a page while keeping its counters.
func MapPage[T, U any](in PageResult[T], fn func(T) U) PageResult[U] {
	out := PageResult[U]{
		Items:      make([]U, 0, len(in.Items)),
		Page:       in.Page,
		PageSize:   in.PageSize,
		Total:      in.Total,
		TotalPages: in.TotalPages,
	}
	for _, item := range in.Items {
		out.Items = append(out.Items, fn(item))
	}
	return out
}

func normalizePageRequest(in PageRequest) PageRequest {
	out := in
	if out.Page < 1 {
		out.Page = DefaultPage
	}
	if out.PageSize < 1 {
		out.PageSize = DefaultPageSize
	}
	if out.PageSize > MaxPageSize {
		out.PageSize = MaxPageSize
	}
	return out
}

func calcTotalPages(total int64, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	pages := total / int64(pageSize)
	if total%int64(pageSize) != 0 {
		pages++
	}
	return int(pages)
}

func (p PageRequest) offset() int {
	return (p.Page - 1) * p.PageSize
}

// findPage counts the rows matched by scope and loads one ordered page of them.
// scope is called twice so Count and Find each start from a fresh statement.
func findPage[T any](scope func() *gorm.DB, order string, page PageRequest) (PageResult[T], error) {
	page = normalizePageRequest(page)
	out := PageResult[T]{Page: page.Page, PageSize: page.PageSize, Items: []T{}}
	if err := scope().Count(&out.Total).Error; err != nil {
		return out, err
	}
	if out.Total > 0 {
		if err := scope().Order(order).Offset(page.offset()).Limit(page.PageSize).Find(&out.Items).Error; err != nil {
			return out, err
		}
	}
	out.TotalPages = calcTotalPages(out.Total, page.PageSize)
	return out, nil
}
