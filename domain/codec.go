package domain

import (
	"github.com/bytedance/sonic"
)

// EncodeTasks serializes the full task collection for persistence.
func EncodeTasks(tasks []Task) ([]byte, error) {
	if tasks == nil {
		tasks = []Task{}
	}
	return sonic.Marshal(tasks)
}

// DecodeTasks parses a persisted task collection. Due dates are normalized to
// calendar days and missing share lists become empty.
func DecodeTasks(data []byte) ([]Task, error) {
	var tasks []Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []Task{}
	}
	for i := range tasks {
		if tasks[i].SharedWith == nil {
			tasks[i].SharedWith = []string{}
		}
		if tasks[i].DueDate != nil {
			d := CalendarDate(tasks[i].DueDate.UTC())
			tasks[i].DueDate = &d
		}
	}
	return tasks, nil
}

func EncodeUser(u User) ([]byte, error) {
	return sonic.Marshal(u)
}

func DecodeUser(data []byte) (User, error) {
	var u User
	if err := sonic.Unmarshal(data, &u); err != nil {
		return User{}, err
	}
	return u, nil
}
