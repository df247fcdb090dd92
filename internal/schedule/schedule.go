// Package schedule runs a task on a cron expression in a fixed time zone.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"birthday_notifier/internal/logging"
)

// Task is the unit of work fired on every tick. The context is cancelled when
// the scheduler stops.
type Task func(ctx context.Context)

// Scheduler wraps a cron runner with a single registered task. Overlapping
// ticks are skipped and task panics are recovered and logged.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	location *time.Location
	spec     string
	task     Task
	logger   *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
}

// New parses spec as a standard five-field cron expression (descriptors such
// as @daily are accepted) evaluated in loc.
func New(spec string, loc *time.Location, task Task, logger *logrus.Entry) (*Scheduler, error) {
	if task == nil {
		return nil, errors.New("schedule task is required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Logger()
	}

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}

	cronLogger := NewCronLogger(logger)
	runner := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:     runner,
		schedule: schedule,
		location: loc,
		spec:     spec,
		task:     task,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	runner.Schedule(schedule, cron.FuncJob(s.fire))

	return s, nil
}

// Start begins firing the task in its own goroutine.
func (s *Scheduler) Start() {
	s.logger.WithFields(logging.Fields{
		"event":    "schedule_start",
		"spec":     s.spec,
		"timezone": s.location.String(),
		"next":     s.NextAfter(time.Now()).Format(time.RFC3339),
	}).Info("birthday schedule started")

	s.cron.Start()
}

// NextAfter reports the first activation strictly after t.
func (s *Scheduler) NextAfter(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.location))
}

// Stop halts new activations and waits for a running task until ctx expires.
// The task's context is cancelled once waiting gives up or the task finishes.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil || s.cron == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	done := s.cron.Stop()
	defer s.cancel()

	select {
	case <-done.Done():
		s.logger.WithField("event", "schedule_stopped").Info("birthday schedule stopped")
		return nil
	case <-ctx.Done():
		s.logger.WithField("event", "schedule_stop_timeout").Warn("timed out waiting for running birthday task")
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

func (s *Scheduler) fire() {
	if s.ctx.Err() != nil {
		return
	}
	s.task(s.ctx)
}

// cronLogger adapts logrus to cron.Logger. Routine scheduler chatter is
// logged at debug, errors (including recovered panics) at error.
type cronLogger struct {
	logger *logrus.Entry
}

// NewCronLogger returns a cron.Logger that writes through logger.
func NewCronLogger(logger *logrus.Entry) cron.Logger {
	if logger == nil {
		logger = logging.Logger()
	}
	return cronLogger{logger: logger.WithField("component", "cron")}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(pairs(keysAndValues)).WithError(err).Error(msg)
}

func pairs(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}
