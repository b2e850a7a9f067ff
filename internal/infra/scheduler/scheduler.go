package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"installment_notifier/internal/app"
	"installment_notifier/internal/infra/config"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ReminderRunner is the job the scheduler fires once a day.
type ReminderRunner interface {
	Run(ctx context.Context) (app.RunReport, error)
}

// ReminderScheduler owns the single daily cron entry of the process. It is created once at
// startup and stopped at shutdown.
type ReminderScheduler struct {
	cronEngine *cron.Cron
	runner     ReminderRunner
	logger     *logrus.Entry
	cronSpec   string

	mu      sync.Mutex
	entryID cron.EntryID
	started bool
	stopped bool

	// base is cancelled by Stop so a run in progress stops at its next contract checkpoint.
	base       context.Context
	cancelBase context.CancelFunc
}

// NewReminderScheduler builds a scheduler firing runner every day at reminderTime (HH:MM) in loc.
func NewReminderScheduler(runner ReminderRunner, logger *logrus.Entry, loc *time.Location, reminderTime string) (*ReminderScheduler, error) {
	hour, minute, err := config.ParseHHMM(reminderTime)
	if err != nil {
		return nil, fmt.Errorf("invalid reminder time: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	cronLogger := cron.PrintfLogger(logger.WithField("subsystem", "cron"))
	base, cancel := context.WithCancel(context.Background())
	return &ReminderScheduler{
		cronEngine: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		runner:     runner,
		logger:     logger,
		cronSpec:   fmt.Sprintf("%d %d * * *", minute, hour),
		base:       base,
		cancelBase: cancel,
	}, nil
}

// Start registers the daily entry and starts the cron engine. Calling it again is a no-op.
func (s *ReminderScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("reminder scheduler was stopped")
	}
	if s.started {
		s.logger.Debug("Reminder scheduler already started")
		return nil
	}

	id, err := s.cronEngine.AddFunc(s.cronSpec, s.fire)
	if err != nil {
		return fmt.Errorf("could not add reminder cron job: %w", err)
	}
	s.entryID = id
	s.started = true
	s.cronEngine.Start()

	s.logger.WithFields(logrus.Fields{
		"cron_spec": s.cronSpec,
		"next_run":  s.cronEngine.Entry(id).Next.Format(time.RFC3339),
	}).Info("Reminder scheduler started")
	return nil
}

func (s *ReminderScheduler) fire() {
	s.logger.Info("Cron job triggered for daily reminders")
	report, err := s.runner.Run(s.base)
	if err != nil {
		var cfgErr *app.ConfigError
		if errors.Is(err, app.ErrRunInProgress) || errors.As(err, &cfgErr) {
			// already logged by the run itself
			return
		}
		s.logger.WithError(err).Error("Error during reminder run")
		return
	}
	entry := s.logger.WithField("run_id", report.RunID)
	if next := s.NextRun(); !next.IsZero() {
		entry = entry.WithField("next_run", next.Format(time.RFC3339))
	}
	entry.Info(report.Summary())
}

// Trigger runs one reminder pass right now, outside the daily schedule. It shares the run
// guard of the scheduled job, so it fails with app.ErrRunInProgress while one is running.
func (s *ReminderScheduler) Trigger(ctx context.Context) (app.RunReport, error) {
	s.logger.Info("Manual reminder run requested")
	return s.runner.Run(ctx)
}

// NextRun returns the next scheduled fire time, zero if the scheduler is not started.
func (s *ReminderScheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return time.Time{}
	}
	return s.cronEngine.Entry(s.entryID).Next
}

// Stop removes the daily entry and waits for a running job to finish.
func (s *ReminderScheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cronEngine.Remove(s.entryID)
	s.started = false
	s.stopped = true
	s.mu.Unlock()

	s.logger.Info("Stopping reminder scheduler...")
	s.cancelBase()
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Reminder scheduler gracefully stopped")
}
