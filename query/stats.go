package query

import "todofy/domain"

// Stats counts tasks per status.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
}

func Summarize(tasks []domain.Task) Stats {
	s := Stats{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case domain.StatusPending:
			s.Pending++
		case domain.StatusInProgress:
			s.InProgress++
		case domain.StatusCompleted:
			s.Completed++
		}
	}
	return s
}
