package notify

import (
	log "github.com/sirupsen/logrus"

	"todofy/domain"
)

// Logger writes notifications to a logrus logger.
type Logger struct {
	log *log.Logger
}

func NewLogger(logger *log.Logger) *Logger {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Logger{log: logger}
}

func (l *Logger) Notify(message string, severity domain.Severity) {
	entry := l.log.WithFields(log.Fields{"notification": true, "severity": string(severity)})
	switch severity {
	case domain.SeverityError:
		entry.Error(message)
	case domain.SeverityWarning:
		entry.Warn(message)
	default:
		entry.Info(message)
	}
}
