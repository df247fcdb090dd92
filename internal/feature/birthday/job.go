// Package birthday runs the daily scan that emails users on their birthday.
package birthday

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"birthday_notifier/internal/domain"
	"birthday_notifier/internal/logging"
	"birthday_notifier/internal/mail"
	"birthday_notifier/internal/metrics"
)

const (
	defaultStoreTimeout = 10 * time.Second
	defaultSendTimeout  = 30 * time.Second
)

type userStore interface {
	FindBirthdays(ctx context.Context, query domain.BirthdayQuery) ([]domain.User, error)
	MarkEmailSent(ctx context.Context, id primitive.ObjectID, year int) error
}

// Config tunes a Job. Zero values fall back to UTC and default timeouts.
type Config struct {
	Location     *time.Location
	StoreTimeout time.Duration
	SendTimeout  time.Duration
}

// Job scans for today's birthdays and emails each due user once per year.
type Job struct {
	users   userStore
	sender  mail.Sender
	cfg     Config
	metrics *metrics.Metrics
	logger  *logrus.Entry
	now     func() time.Time
}

// NewJob constructs a Job. m may be nil.
func NewJob(users userStore, sender mail.Sender, cfg Config, m *metrics.Metrics, logger *logrus.Entry) *Job {
	if logger == nil {
		logger = logging.Logger()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	return &Job{
		users:   users,
		sender:  sender,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Run scans for the current day in the configured location.
func (j *Job) Run(ctx context.Context) Report {
	return j.RunAt(ctx, j.now())
}

// RunAt scans for the civil date of now in the configured location. A failed
// query aborts the run and is reported in Report.Err; per-user failures are
// collected in Report.Results and never stop the batch.
func (j *Job) RunAt(ctx context.Context, now time.Time) Report {
	start := time.Now()
	if j == nil || j.users == nil || j.sender == nil {
		return Report{Err: fmt.Errorf("%w: job is not initialized", domain.ErrScan)}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	query := domain.BirthdayQueryFor(now.In(j.cfg.Location))
	report := Report{
		Date: time.Date(query.Year, query.Month, query.Day, 0, 0, 0, 0, j.cfg.Location),
		Year: query.Year,
	}
	log := j.logger.WithFields(logging.Fields{
		"event": "birthday_scan",
		"date":  report.Date.Format(domain.DateLayout),
	})

	log.Info("running birthday check")

	users, err := j.findBirthdays(ctx, query)
	if err != nil {
		report.Err = fmt.Errorf("%w: %w", domain.ErrScan, err)
		log.WithError(err).Error("birthday scan failed")
		j.metrics.ObserveScan(metrics.ScanFailed, time.Since(start))
		return report
	}

	report.Matched = len(users)
	if len(users) == 0 {
		log.Info("no birthdays today")
		j.metrics.ObserveScan(metrics.ScanEmpty, time.Since(start))
		return report
	}

	log.WithField("matched", len(users)).Info("found birthdays today")

	for _, user := range users {
		if ctx.Err() != nil {
			log.WithError(ctx.Err()).Warn("birthday scan interrupted")
			break
		}
		report.Results = append(report.Results, j.notify(ctx, user, query.Year))
	}

	log.WithFields(logging.Fields{
		"matched": report.Matched,
		"sent":    report.Sent(),
		"failed":  report.Failed(),
	}).Info("birthday scan finished")
	j.metrics.ObserveScan(metrics.ScanCompleted, time.Since(start))

	return report
}

func (j *Job) findBirthdays(ctx context.Context, query domain.BirthdayQuery) ([]domain.User, error) {
	findCtx, cancel := context.WithTimeout(ctx, j.cfg.StoreTimeout)
	defer cancel()

	return j.users.FindBirthdays(findCtx, query)
}

// notify sends one birthday email and advances the user's marker on success.
func (j *Job) notify(ctx context.Context, user domain.User, year int) Result {
	result := Result{UserID: user.ID, Email: user.Email}
	log := j.logger.WithFields(logging.Recipient{
		UserID: user.ID.Hex(),
		Email:  user.Email,
	}.Fields())

	msg, err := mail.BirthdayMessage(user.Username, user.Email)
	if err != nil {
		return j.failed(log, result, StatusDeliveryFailed, fmt.Errorf("%w: %w", domain.ErrDelivery, err))
	}

	sendCtx, cancel := context.WithTimeout(ctx, j.cfg.SendTimeout)
	err = j.sender.Send(sendCtx, msg)
	cancel()
	if err != nil {
		return j.failed(log, result, StatusDeliveryFailed, fmt.Errorf("%w: %w", domain.ErrDelivery, err))
	}
	j.metrics.ObserveEmail(metrics.EmailSent)

	markCtx, cancel := context.WithTimeout(ctx, j.cfg.StoreTimeout)
	err = j.users.MarkEmailSent(markCtx, user.ID, year)
	cancel()
	if err != nil {
		if !errors.Is(err, domain.ErrStorage) {
			err = fmt.Errorf("%w: %w", domain.ErrStorage, err)
		}
		result.Status = StatusMarkFailed
		result.Err = err
		log.WithField("event", "birthday_mark_failed").WithError(err).Error("email sent but marker not saved")
		return result
	}

	result.Status = StatusSent
	log.WithField("event", "birthday_email_sent").Infof("email sent to %s", user.Username)

	return result
}

func (j *Job) failed(log *logrus.Entry, result Result, status Status, err error) Result {
	result.Status = status
	result.Err = err
	j.metrics.ObserveEmail(metrics.EmailFailed)
	log.WithField("event", "birthday_email_failed").WithError(err).Error("failed to send birthday email")
	return result
}
