package query

import (
	"time"

	"todofy/domain"
)

// Page is one window of a filtered task list.
type Page struct {
	Tasks        []domain.Task `json:"tasks"`
	CurrentPage  int           `json:"currentPage"`
	TotalPages   int           `json:"totalPages"`
	TotalItems   int           `json:"totalItems"`
	ItemsPerPage int           `json:"itemsPerPage"`
}

// FirstItem is the 1-based position of the first task on the page, 0 when empty.
func (p Page) FirstItem() int {
	if len(p.Tasks) == 0 {
		return 0
	}
	return (p.CurrentPage-1)*p.ItemsPerPage + 1
}

// LastItem is the 1-based position of the last task on the page, 0 when empty.
func (p Page) LastItem() int {
	if len(p.Tasks) == 0 {
		return 0
	}
	return p.FirstItem() + len(p.Tasks) - 1
}

// Paginate slices tasks into the 1-indexed page of the given size. Pages past
// the end are empty rather than an error.
func Paginate(tasks []domain.Task, page, pageSize int) (Page, error) {
	if pageSize <= 0 {
		return Page{}, &domain.ValidationError{Field: "pageSize", Reason: "must be greater than zero"}
	}
	if page < 1 {
		return Page{}, &domain.ValidationError{Field: "page", Reason: "must be at least 1"}
	}
	total := len(tasks)
	p := Page{
		Tasks:        []domain.Task{},
		CurrentPage:  page,
		TotalPages:   (total + pageSize - 1) / pageSize,
		TotalItems:   total,
		ItemsPerPage: pageSize,
	}
	if page > p.TotalPages {
		return p, nil
	}
	start := (page - 1) * pageSize
	end := min(start+pageSize, total)
	p.Tasks = append(p.Tasks, tasks[start:end]...)
	return p, nil
}

// Run filters then paginates.
func Run(tasks []domain.Task, c Criteria, page, pageSize int, now time.Time) (Page, error) {
	return Paginate(Filter(tasks, c, now), page, pageSize)
}
