package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"installment_notifier/internal/domain/contract"
	"installment_notifier/internal/domain/delivery"
	"installment_notifier/internal/domain/notification"
	"installment_notifier/internal/infra/config"
	"installment_notifier/internal/infra/logger"
	"installment_notifier/internal/infra/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeContracts struct {
	items []*contract.Contract
	err   error
}

func (f *fakeContracts) ListPublished(ctx context.Context) ([]*contract.Contract, error) {
	return f.items, f.err
}

type fakeDirectory map[int64]string

func (f fakeDirectory) ContactAddress(ctx context.Context, customerID int64) (string, error) {
	addr, ok := f[customerID]
	if !ok {
		return "", contract.ErrContactNotFound
	}
	return addr, nil
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Send(ctx context.Context, recipient, text string, params map[string]string) error {
	args := m.Called(ctx, recipient, text, params)
	return args.Error(0)
}

type funcProvider func(ctx context.Context, recipient, text string, params map[string]string) error

func (f funcProvider) Name() string { return "func" }

func (f funcProvider) Send(ctx context.Context, recipient, text string, params map[string]string) error {
	return f(ctx, recipient, text, params)
}

type fakeNotifier struct {
	mu     sync.Mutex
	drafts []notification.Draft
}

func (f *fakeNotifier) Notify(ctx context.Context, draft notification.Draft) ([]*notification.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, draft)
	return nil, nil
}

var testSettings = config.ReminderSettings{
	APIKey:         "key",
	APISecret:      "secret",
	Template3Day:   "tpl-3",
	Template1Day:   "tpl-1",
	TemplateDueDay: "tpl-0",
}

func fixedNow() time.Time {
	return time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
}

func testOptions() ReminderOptions {
	return ReminderOptions{
		Location:             time.UTC,
		SendTimeout:          time.Second,
		SendRetries:          2,
		SendRate:             1000,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     5 * time.Millisecond,
		Now:                  fixedNow,
	}
}

func contractWith(id, customerID int64, installments string) *contract.Contract {
	return &contract.Contract{ID: id, CustomerID: customerID, Published: true, InstallmentsJSON: []byte(installments)}
}

func TestReminderService_Run_DispatchesExactTiers(t *testing.T) {
	contracts := &fakeContracts{items: []*contract.Contract{
		contractWith(1, 10, `[
			{"amount":"1500000","due_date":"2024-05-13","status":"pending"},
			{"amount":"200","due_date":"2024-05-11","status":"pending"},
			{"amount":"300.5","due_date":"2024-05-10","status":"pending"},
			{"amount":"400","due_date":"2024-05-09","status":"pending"},
			{"amount":"500","due_date":"2024-05-12","status":"pending"},
			{"amount":"600","due_date":"2024-05-13","status":"paid"}
		]`),
	}}
	provider := &mockProvider{}
	provider.On("Send", mock.Anything, "09120000000", "tpl-3", mock.MatchedBy(func(p map[string]string) bool {
		return p["amount"] == "1,500,000" && p["due_date"] == "2024-05-13" && p["tier"] == "three_days_left" && p["contract_id"] == "1"
	})).Return(nil).Once()
	provider.On("Send", mock.Anything, "09120000000", "tpl-1", mock.Anything).Return(nil).Once()
	provider.On("Send", mock.Anything, "09120000000", "tpl-0", mock.MatchedBy(func(p map[string]string) bool {
		return p["amount"] == "300.50"
	})).Return(nil).Once()

	svc := NewReminderService(contracts, fakeDirectory{10: "09120000000"}, provider, testSettings, nil, metrics.NewNop(), logger.Discard(), testOptions())

	report, err := svc.Run(context.Background())

	require.NoError(t, err)
	provider.AssertExpectations(t)
	provider.AssertNumberOfCalls(t, "Send", 3)
	assert.Equal(t, 1, report.Contracts)
	assert.Equal(t, 3, report.Sent)
	assert.Equal(t, 0, report.Failed)
	assert.NotEmpty(t, report.RunID)
}

func TestReminderService_Run_FailureForOneRecipientDoesNotStopOthers(t *testing.T) {
	contracts := &fakeContracts{items: []*contract.Contract{
		contractWith(1, 10, `[{"amount":"100","due_date":"2024-05-10","status":"pending"}]`),
		contractWith(2, 20, `[{"amount":"100","due_date":"2024-05-10","status":"pending"}]`),
	}}
	provider := &mockProvider{}
	provider.On("Send", mock.Anything, "A", "tpl-0", mock.Anything).Return(delivery.Permanent(errors.New("rejected"))).Once()
	provider.On("Send", mock.Anything, "B", "tpl-0", mock.Anything).Return(nil).Once()
	notifier := &fakeNotifier{}
	opts := testOptions()
	opts.AdminUserIDs = []int64{1}

	svc := NewReminderService(contracts, fakeDirectory{10: "A", 20: "B"}, provider, testSettings, notifier, nil, logger.Discard(), opts)

	report, err := svc.Run(context.Background())

	require.NoError(t, err)
	provider.AssertExpectations(t)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Failed)

	require.Len(t, notifier.drafts, 1)
	assert.Equal(t, notification.TypeReminderRunFailures, notifier.drafts[0].Type)
	assert.Equal(t, []int64{1}, notifier.drafts[0].UserIDs)
}

func TestReminderService_Run_MissingSettings(t *testing.T) {
	contracts := &fakeContracts{items: []*contract.Contract{
		contractWith(1, 10, `[{"amount":"100","due_date":"2024-05-10","status":"pending"}]`),
	}}
	provider := &mockProvider{}
	log, hook := logtest.NewNullLogger()

	settings := testSettings
	settings.APISecret = ""
	settings.TemplateDueDay = " "
	svc := NewReminderService(contracts, fakeDirectory{10: "A"}, provider, settings, nil, nil, logrus.NewEntry(log), testOptions())

	_, err := svc.Run(context.Background())

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, []string{"api_secret", "template_dueday"}, cfgErr.Missing)
	provider.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestReminderService_Run_RetriesTransientErrors(t *testing.T) {
	contracts := &fakeContracts{items: []*contract.Contract{
		contractWith(1, 10, `[{"amount":"100","due_date":"2024-05-11","status":"pending"}]`),
	}}
	provider := &mockProvider{}
	provider.On("Send", mock.Anything, "A", "tpl-1", mock.Anything).Return(errors.New("connection reset")).Once()
	provider.On("Send", mock.Anything, "A", "tpl-1", mock.Anything).Return(nil).Once()

	svc := NewReminderService(contracts, fakeDirectory{10: "A"}, provider, testSettings, nil, nil, logger.Discard(), testOptions())

	report, err := svc.Run(context.Background())

	require.NoError(t, err)
	provider.AssertNumberOfCalls(t, "Send", 2)
	assert.Equal(t, 1, report.Sent)
}

func TestReminderService_Run_RetryBudgetIsBounded(t *testing.T) {
	contracts := &fakeContracts{items: []*contract.Contract{
		contractWith(1, 10, `[{"amount":"100","due_date":"2024-05-11","status":"pending"}]`),
	}}
	provider := &mockProvider{}
	provider.On("Send", mock.Anything, "A", "tpl-1", mock.Anything).Return(errors.New("gateway unavailable"))

	svc := NewReminderService(contracts, fakeDirectory{10: "A"}, provider, testSettings, nil, nil, logger.Discard(), testOptions())

	report, err := svc.Run(context.Background())

	require.NoError(t, err)
	provider.AssertNumberOfCalls(t, "Send", 3)
	assert.Equal(t, 1, report.Failed)
}

func TestReminderService_Run_SendHasTimeout(t *testing.T) {
	contracts := &fakeContracts{items: []*contract.Contract{
		contractWith(1, 10, `[{"amount":"100","due_date":"2024-05-10","status":"pending"}]`),
	}}
	var hasDeadline bool
	provider := funcProvider(func(ctx context.Context, recipient, text string, params map[string]string) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	})

	svc := NewReminderService(contracts, fakeDirectory{10: "A"}, provider, testSettings, nil, nil, logger.Discard(), testOptions())

	_, err := svc.Run(context.Background())

	require.NoError(t, err)
	assert.True(t, hasDeadline)
}

func TestReminderService_Run_AbandonsSendPastTimeout(t *testing.T) {
	contracts := &fakeContracts{items: []*contract.Contract{
		contractWith(1, 10, `[{"amount":"100","due_date":"2024-05-10","status":"pending"}]`),
	}}
	provider := funcProvider(func(ctx context.Context, recipient, text string, params map[string]string) error {
		time.Sleep(400 * time.Millisecond)
		return nil
	})
	opts := testOptions()
	opts.SendTimeout = 50 * time.Millisecond
	opts.SendRetries = 0

	svc := NewReminderService(contracts, fakeDirectory{10: "A"}, provider, testSettings, nil, nil, logger.Discard(), opts)

	started := time.Now()
	report, err := svc.Run(context.Background())

	require.NoError(t, err)
	assert.Less(t, time.Since(started), 300*time.Millisecond)
	assert.Equal(t, 0, report.Sent)
	assert.Equal(t, 1, report.Failed)
}

func TestReminderService_Run_RecoversProviderPanic(t *testing.T) {
	contracts := &fakeContracts{items: []*contract.Contract{
		contractWith(1, 10, `[{"amount":"100","due_date":"2024-05-10","status":"pending"}]`),
		contractWith(2, 20, `[{"amount":"100","due_date":"2024-05-10","status":"pending"}]`),
	}}
	var calls []string
	provider := funcProvider(func(ctx context.Context, recipient, text string, params map[string]string) error {
		calls = append(calls, recipient)
		if recipient == "A" {
			panic("nil map in gateway client")
		}
		return nil
	})

	svc := NewReminderService(contracts, fakeDirectory{10: "A", 20: "B"}, provider, testSettings, nil, nil, logger.Discard(), testOptions())

	report, err := svc.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, calls)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Sent)
}

func TestReminderService_Run_SkipsUnusableContracts(t *testing.T) {
	contracts := &fakeContracts{items: []*contract.Contract{
		contractWith(1, 10, `[]`),
		contractWith(2, 20, `{"broken":true}`),
		contractWith(3, 99, `[{"amount":"100","due_date":"2024-05-10","status":"pending"}]`),
		contractWith(4, 40, `[{"amount":"100","due_date":"10/05/2024"},{"amount":"100","due_date":"2024-05-10","status":"pending"}]`),
	}}
	provider := &mockProvider{}
	provider.On("Send", mock.Anything, "D", "tpl-0", mock.Anything).Return(nil).Once()

	svc := NewReminderService(contracts, fakeDirectory{10: "A", 20: "B", 40: "D"}, provider, testSettings, nil, nil, logger.Discard(), testOptions())

	report, err := svc.Run(context.Background())

	require.NoError(t, err)
	provider.AssertExpectations(t)
	assert.Equal(t, 4, report.Contracts)
	assert.Equal(t, 3, report.Skipped)
	assert.Equal(t, 1, report.DataErrors)
	assert.Equal(t, 1, report.Sent)
}

func TestReminderService_Run_StopsBetweenContractsWhenCancelled(t *testing.T) {
	contracts := &fakeContracts{items: []*contract.Contract{
		contractWith(1, 10, `[{"amount":"100","due_date":"2024-05-10","status":"pending"}]`),
		contractWith(2, 20, `[{"amount":"100","due_date":"2024-05-10","status":"pending"}]`),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	var sendCtxErr error
	provider := funcProvider(func(sendCtx context.Context, recipient, text string, params map[string]string) error {
		cancel()
		sendCtxErr = sendCtx.Err()
		return nil
	})

	svc := NewReminderService(contracts, fakeDirectory{10: "A", 20: "B"}, provider, testSettings, nil, nil, logger.Discard(), testOptions())

	report, err := svc.Run(ctx)

	require.NoError(t, err)
	assert.NoError(t, sendCtxErr)
	assert.True(t, report.DeadlineHit)
	assert.Equal(t, 1, report.Contracts)
	assert.Equal(t, 1, report.Sent)
}

func TestReminderService_Run_DropsOverlappingRun(t *testing.T) {
	contracts := &fakeContracts{items: []*contract.Contract{
		contractWith(1, 10, `[{"amount":"100","due_date":"2024-05-10","status":"pending"}]`),
	}}
	entered := make(chan struct{})
	release := make(chan struct{})
	provider := funcProvider(func(ctx context.Context, recipient, text string, params map[string]string) error {
		close(entered)
		<-release
		return nil
	})

	svc := NewReminderService(contracts, fakeDirectory{10: "A"}, provider, testSettings, nil, nil, logger.Discard(), testOptions())

	done := make(chan RunReport)
	go func() {
		report, _ := svc.Run(context.Background())
		done <- report
	}()
	<-entered

	_, err := svc.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	first := <-done
	assert.Equal(t, 1, first.Sent)
}

func TestReminderService_Run_ListFailure(t *testing.T) {
	provider := &mockProvider{}
	svc := NewReminderService(&fakeContracts{err: errors.New("db down")}, fakeDirectory{}, provider, testSettings, nil, nil, logger.Discard(), testOptions())

	_, err := svc.Run(context.Background())

	assert.Error(t, err)
	provider.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestNewReminderService_ExposesSendSeriesPerTier(t *testing.T) {
	m := metrics.NewNop()

	NewReminderService(&fakeContracts{}, fakeDirectory{}, &mockProvider{}, testSettings, nil, m, logger.Discard(), testOptions())

	assert.Equal(t, 6, testutil.CollectAndCount(m.ReminderSends))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ReminderSends.WithLabelValues("due_today", "sent")))
}

func TestRunReport_Summary(t *testing.T) {
	r := RunReport{RunID: "abc", Contracts: 4, Sent: 2, Failed: 1, Skipped: 1, DeadlineHit: true}

	assert.Equal(t, "run abc: 4 contracts, 2 sent, 1 failed, 1 skipped, 0 bad installments, stopped at run deadline", r.Summary())
}
