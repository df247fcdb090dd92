package mail

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"birthday_notifier/internal/logging"
)

// LogSender writes messages to the log instead of delivering them. It backs
// MAIL_DRIVER=log for local development.
type LogSender struct {
	logger *logrus.Entry
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger *logrus.Entry) *LogSender {
	if logger == nil {
		logger = logging.Logger()
	}

	return &LogSender{logger: logger}
}

// Send logs msg and reports success unless ctx is already done.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.logger.WithFields(logging.Fields{
		"event":   "mail_logged",
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("birthday mail (log driver)")

	return nil
}
