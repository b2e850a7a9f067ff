// internal/app/reminder_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"installment_notifier/internal/domain/contract"
	"installment_notifier/internal/domain/delivery"
	"installment_notifier/internal/domain/notification"
	"installment_notifier/internal/domain/reminder"
	"installment_notifier/internal/infra/config"
	"installment_notifier/internal/infra/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Notifier is the part of NotificationService the reminder run uses to alert admins.
type Notifier interface {
	Notify(ctx context.Context, draft notification.Draft) ([]*notification.Record, error)
}

// ReminderOptions tunes a reminder run. Zero values fall back to defaults.
type ReminderOptions struct {
	Location             *time.Location
	RunDeadline          time.Duration
	SendTimeout          time.Duration
	SendRetries          int
	SendRate             float64
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	AdminUserIDs         []int64
	Now                  func() time.Time
}

func (o ReminderOptions) withDefaults() ReminderOptions {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.RunDeadline <= 0 {
		o.RunDeadline = 30 * time.Minute
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 15 * time.Second
	}
	if o.SendRetries < 0 {
		o.SendRetries = 0
	}
	if o.SendRate <= 0 {
		o.SendRate = 5
	}
	if o.RetryInitialInterval <= 0 {
		o.RetryInitialInterval = 500 * time.Millisecond
	}
	if o.RetryMaxInterval <= 0 {
		o.RetryMaxInterval = 5 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// RunReport summarizes one reminder run.
type RunReport struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Contracts   int // contracts visited
	Skipped     int // contracts skipped for missing installments or contact
	Sent        int
	Failed      int
	DataErrors  int
	DeadlineHit bool
}

// Summary is a one-line human description of the run.
func (r RunReport) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d contracts, %d sent, %d failed, %d skipped, %d bad installments",
		r.RunID, r.Contracts, r.Sent, r.Failed, r.Skipped, r.DataErrors)
	if r.DeadlineHit {
		b.WriteString(", stopped at run deadline")
	}
	return b.String()
}

// ReminderService runs the daily installment reminder pass.
type ReminderService struct {
	contracts contract.Repository
	customers contract.CustomerDirectory
	provider  delivery.Provider
	settings  config.ReminderSettings
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    *logrus.Entry
	opts      ReminderOptions
	limiter   *rate.Limiter

	running atomic.Bool
}

func NewReminderService(
	cr contract.Repository,
	cd contract.CustomerDirectory,
	provider delivery.Provider,
	settings config.ReminderSettings,
	notifier Notifier, // may be nil
	m *metrics.Metrics,
	logger *logrus.Entry,
	opts ReminderOptions,
) *ReminderService {
	opts = opts.withDefaults()
	burst := int(opts.SendRate)
	if burst < 1 {
		burst = 1
	}
	if m == nil {
		m = metrics.NewNop()
	}
	// expose every tier's series from the start, zero until the first send
	for _, tier := range reminder.AllTiers() {
		m.ReminderSends.WithLabelValues(string(tier), "sent")
		m.ReminderSends.WithLabelValues(string(tier), "failed")
	}
	return &ReminderService{
		contracts: cr,
		customers: cd,
		provider:  provider,
		settings:  settings,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
		opts:      opts,
		limiter:   rate.NewLimiter(rate.Limit(opts.SendRate), burst),
	}
}

// Run performs one reminder pass. At most one pass runs at a time; an overlapping call is
// dropped with ErrRunInProgress. Cancellation of ctx, and the run deadline, are honored between
// contracts only, never in the middle of a send.
func (s *ReminderService) Run(ctx context.Context) (RunReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Reminder run already in progress, dropping this trigger")
		s.metrics.ReminderRuns.WithLabelValues("dropped_overlap").Inc()
		return RunReport{}, ErrRunInProgress
	}
	defer s.running.Store(false)

	report := RunReport{RunID: uuid.NewString(), StartedAt: s.opts.Now()}
	runLogger := s.logger.WithField("run_id", report.RunID)

	if missing := s.settings.Missing(); len(missing) > 0 {
		cfgErr := &ConfigError{Missing: missing}
		runLogger.WithField("missing", strings.Join(missing, ",")).Error("Reminder run skipped: required settings are missing")
		s.metrics.ReminderRuns.WithLabelValues("skipped_config").Inc()
		return report, cfgErr
	}
	templates := reminder.Templates{
		ThreeDays: s.settings.Template3Day,
		OneDay:    s.settings.Template1Day,
		DueDay:    s.settings.TemplateDueDay,
	}

	runCtx, cancel := context.WithTimeout(ctx, s.opts.RunDeadline)
	defer cancel()

	runLogger.WithField("provider", s.provider.Name()).Info("Reminder run started")

	contracts, err := s.contracts.ListPublished(runCtx)
	if err != nil {
		runLogger.WithError(err).Error("Failed to list published contracts")
		s.metrics.ReminderRuns.WithLabelValues("failed").Inc()
		return report, fmt.Errorf("failed to list published contracts: %w", err)
	}

	today := reminder.Midnight(report.StartedAt, s.opts.Location)
	for i, c := range contracts {
		if runCtx.Err() != nil {
			report.DeadlineHit = true
			runLogger.WithFields(logrus.Fields{
				"remaining_contracts": len(contracts) - i,
				"reason":              runCtx.Err().Error(),
			}).Warn("Reminder run stopped before finishing all contracts")
			break
		}
		report.Contracts++
		s.processContract(runCtx, runLogger, c, today, templates, &report)
	}

	report.FinishedAt = s.opts.Now()
	runLogger.WithFields(logrus.Fields{
		"contracts":   report.Contracts,
		"sent":        report.Sent,
		"failed":      report.Failed,
		"skipped":     report.Skipped,
		"data_errors": report.DataErrors,
		"duration":    report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("Reminder run finished")

	outcome := "completed"
	if report.DeadlineHit {
		outcome = "deadline"
	}
	s.metrics.ReminderRuns.WithLabelValues(outcome).Inc()

	s.notifyAdminsOfFailures(ctx, runLogger, report)
	return report, nil
}

func (s *ReminderService) processContract(ctx context.Context, runLogger *logrus.Entry, c *contract.Contract, today time.Time, templates reminder.Templates, report *RunReport) {
	contractLogger := runLogger.WithFields(logrus.Fields{
		"contract_id": c.ID,
		"customer_id": c.CustomerID,
	})

	items, err := c.Installments()
	if err != nil {
		contractLogger.WithError(err).Debug("Skipping contract without usable installments")
		report.Skipped++
		return
	}

	address, err := s.customers.ContactAddress(ctx, c.CustomerID)
	if err != nil {
		if errors.Is(err, contract.ErrContactNotFound) {
			contractLogger.Debug("Skipping contract: customer has no contact address")
		} else {
			contractLogger.WithError(err).Warn("Skipping contract: contact lookup failed")
		}
		report.Skipped++
		return
	}

	for idx, raw := range items {
		inst, err := raw.Parse(c.ID, idx, s.opts.Location)
		if err != nil {
			report.DataErrors++
			contractLogger.WithError(err).WithField("installment", idx).Warn("Skipping malformed installment")
			continue
		}
		if inst.IsPaid() {
			continue
		}
		tier, ok := reminder.Resolve(today, inst.DueDate, inst.Status, s.opts.Location)
		if !ok {
			continue
		}
		tpl, err := templates.For(tier)
		if err != nil {
			contractLogger.WithError(err).Error("No template for reminder tier")
			continue
		}

		params := map[string]string{
			"amount":      FormatAmount(inst.Amount),
			"due_date":    inst.DueDate.Format(contract.DueDateLayout),
			"tier":        string(tier),
			"days_left":   strconv.Itoa(tier.DaysBefore()),
			"contract_id": strconv.FormatInt(c.ID, 10),
		}
		outcome := s.dispatch(ctx, address, tpl, params)
		outcome.ContractID = c.ID
		outcome.InstallmentIndex = idx
		outcome.Tier = string(tier)

		s.metrics.ReminderSendDuration.Observe(outcome.Duration.Seconds())
		sendLogger := contractLogger.WithFields(logrus.Fields{
			"installment": idx,
			"tier":        outcome.Tier,
			"recipient":   outcome.Recipient,
			"provider":    outcome.Provider,
			"attempts":    outcome.Attempts,
		})
		if outcome.OK() {
			report.Sent++
			s.metrics.ReminderSends.WithLabelValues(outcome.Tier, "sent").Inc()
			sendLogger.Info("Reminder sent")
		} else {
			report.Failed++
			s.metrics.ReminderSends.WithLabelValues(outcome.Tier, "failed").Inc()
			sendLogger.WithError(outcome.Err).Warn("Reminder could not be delivered")
		}
	}
}

// dispatch sends one reminder with a per-attempt timeout and a bounded, backed-off retry budget.
// The send is detached from run cancellation so a request is never abandoned mid-retry.
func (s *ReminderService) dispatch(ctx context.Context, recipient, tpl string, params map[string]string) delivery.Outcome {
	sendCtx := context.WithoutCancel(ctx)
	outcome := delivery.Outcome{Recipient: recipient, Provider: s.provider.Name()}
	started := time.Now()

	if err := s.limiter.Wait(sendCtx); err != nil {
		outcome.Err = fmt.Errorf("rate limiter: %w", err)
		return outcome
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.RetryInitialInterval
	policy.MaxInterval = s.opts.RetryMaxInterval
	policy.MaxElapsedTime = 0

	op := func() error {
		outcome.Attempts++
		attemptCtx, cancel := context.WithTimeout(sendCtx, s.opts.SendTimeout)
		defer cancel()

		err := s.send(attemptCtx, recipient, tpl, params)
		if err != nil && delivery.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	outcome.Err = backoff.Retry(op, backoff.WithMaxRetries(policy, uint64(s.opts.SendRetries)))
	outcome.Duration = time.Since(started)
	return outcome
}

// send bounds one provider call by ctx whether or not the provider honors it. A call that
// overruns is abandoned and reported as a timeout; a panicking provider fails permanently.
func (s *ReminderService) send(ctx context.Context, recipient, tpl string, params map[string]string) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- delivery.Permanent(fmt.Errorf("provider %s panicked: %v", s.provider.Name(), r))
			}
		}()
		done <- s.provider.Send(ctx, recipient, tpl, params)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.logger.WithFields(logrus.Fields{
			"provider":  s.provider.Name(),
			"recipient": recipient,
			"timeout":   s.opts.SendTimeout.String(),
		}).Warn("Reminder send exceeded its timeout, abandoning it")
		return fmt.Errorf("provider %s send timed out: %w", s.provider.Name(), ctx.Err())
	}
}

func (s *ReminderService) notifyAdminsOfFailures(ctx context.Context, runLogger *logrus.Entry, report RunReport) {
	if report.Failed == 0 || s.notifier == nil || len(s.opts.AdminUserIDs) == 0 {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	_, err := s.notifier.Notify(notifyCtx, notification.Draft{
		UserIDs: s.opts.AdminUserIDs,
		Type:    notification.TypeReminderRunFailures,
		Title:   "Installment reminders failed",
		Message: fmt.Sprintf("%d of %d reminders could not be delivered.", report.Failed, report.Sent+report.Failed),
		Payload: map[string]any{
			"run_id":  report.RunID,
			"sent":    report.Sent,
			"failed":  report.Failed,
			"skipped": report.Skipped,
		},
	})
	if err != nil {
		runLogger.WithError(err).Error("Failed to notify admins about reminder failures")
	}
}
