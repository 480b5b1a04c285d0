// Package notify delivers user facing notifications produced by task
// mutations: to the log, to an Azure storage queue, or both.
package notify

import (
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"todofy/domain"
)

// DefaultDuration is how long a client shows a notification, in milliseconds.
const DefaultDuration = 5000

// Notifier matches tasks.Notifier.
type Notifier interface {
	Notify(message string, severity domain.Severity)
}

// Message is the queued form of a notification.
type Message struct {
	ID       string          `json:"id"`
	Type     domain.Severity `json:"type"`
	Message  string          `json:"message"`
	Duration int             `json:"duration,omitempty"`
}

func NewMessage(text string, severity domain.Severity) Message {
	return Message{
		ID:       uuid.NewString(),
		Type:     severity,
		Message:  text,
		Duration: DefaultDuration,
	}
}

func (m Message) Encode() (string, error) {
	b, err := sonic.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func DecodeMessage(s string) (Message, error) {
	var m Message
	err := sonic.UnmarshalString(s, &m)
	return m, err
}

// Fanout forwards every notification to each of its members.
type Fanout []Notifier

func (f Fanout) Notify(message string, severity domain.Severity) {
	for _, n := range f {
		if n != nil {
			n.Notify(message, severity)
		}
	}
}
