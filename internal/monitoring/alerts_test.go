package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []AlertEvent
	err    error
}

func (n *captureNotifier) Notify(_ context.Context, event AlertEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.events = append(n.events, event)

	return n.err
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.events)
}

func alertConfig() *Config {
	return &Config{
		MaxExecutionTime:       time.Minute,
		MinQualityScore:        80,
		MaxConsecutiveFailures: 2,
		NotifyRate:             100,
		NotifyBurst:            100,
		MinDiskBytes:           1,
		MaxInputBacklog:        100,
		CheckTimeout:           time.Second,
	}
}

func finishedRun(status string) *RunMetrics {
	return &RunMetrics{
		RunID:           "run_1",
		InputRef:        "inputs/users.csv",
		Status:          status,
		Stage:           "loading",
		RowsProcessed:   100,
		QualityScore:    95,
		StartTime:       time.Now().UTC().Add(-10 * time.Second),
		EndTime:         time.Now().UTC(),
		DurationSeconds: 10,
	}
}

func TestRouterHealthyRunEmitsNothing(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	router := NewRouter(alertConfig(), memfs.New(), nil, testLogger())

	events := router.Evaluate(context.Background(), finishedRun(StatusSucceeded))

	assert.Empty(t, events)
	assert.Zero(t, router.ConsecutiveFailures())
}

func TestRouterNilRunEmitsNothing(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	router := NewRouter(alertConfig(), memfs.New(), nil, testLogger())

	assert.Nil(t, router.Evaluate(context.Background(), nil))
}

func TestRouterFailureStreakGrowsAndResets(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	router := NewRouter(alertConfig(), memfs.New(), nil, testLogger())

	run := finishedRun(StatusFailed)
	run.ErrorMessage = "load: connection refused"

	events := router.Evaluate(context.Background(), run)
	require.Len(t, events, 1)
	assert.Equal(t, AlertPipelineFailure, events[0].Type)
	assert.Equal(t, SeverityCritical, events[0].Severity)
	assert.Contains(t, events[0].Message, "connection refused")
	assert.Equal(t, int64(1), router.ConsecutiveFailures())

	// Second failure reaches the threshold of 2: the streak alert joins in.
	events = router.Evaluate(context.Background(), finishedRun(StatusFailed))
	require.Len(t, events, 2)
	assert.Equal(t, AlertPipelineFailure, events[0].Type)
	assert.Equal(t, AlertConsecutiveFailures, events[1].Type)
	assert.Equal(t, SeverityCritical, events[1].Severity)
	assert.Equal(t, int64(2), router.ConsecutiveFailures())

	events = router.Evaluate(context.Background(), finishedRun(StatusSucceeded))
	assert.Empty(t, events)
	assert.Zero(t, router.ConsecutiveFailures())

	events = router.Evaluate(context.Background(), finishedRun(StatusFailed))
	require.Len(t, events, 1, "streak restarted from zero after a success")
	assert.Equal(t, int64(1), router.ConsecutiveFailures())
}

func TestRouterSlowExecution(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	router := NewRouter(alertConfig(), memfs.New(), nil, testLogger())

	run := finishedRun(StatusSucceeded)
	run.DurationSeconds = 90

	events := router.Evaluate(context.Background(), run)
	require.Len(t, events, 1)
	assert.Equal(t, AlertSlowExecution, events[0].Type)
	assert.Equal(t, SeverityWarning, events[0].Severity)
	assert.Contains(t, events[0].Message, "90.00s")
}

func TestRouterLowQualityScore(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	router := NewRouter(alertConfig(), memfs.New(), nil, testLogger())

	run := finishedRun(StatusSucceeded)
	run.QualityScore = 60

	events := router.Evaluate(context.Background(), run)
	require.Len(t, events, 1)
	assert.Equal(t, AlertLowQualityScore, events[0].Type)
	assert.Equal(t, SeverityWarning, events[0].Severity)
	assert.Contains(t, events[0].Message, "60.0")
}

func TestRouterWritesAlertFiles(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fs := memfs.New()
	router := NewRouter(alertConfig(), fs, nil, testLogger())

	run := finishedRun(StatusFailed)
	run.ErrorMessage = "gate: too many nulls"

	events := router.Evaluate(context.Background(), run)
	require.Len(t, events, 1)

	entries, err := fs.ReadDir(AlertsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	name := entries[0].Name()
	assert.True(t, strings.HasPrefix(name, "alert_"))
	assert.Contains(t, name, "run_1")
	assert.Contains(t, name, AlertPipelineFailure)

	data, err := util.ReadFile(fs, path.Join(AlertsDir, name))
	require.NoError(t, err)

	var event AlertEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, AlertPipelineFailure, event.Type)
	assert.Equal(t, SeverityCritical, event.Severity)
	assert.Equal(t, "run_1", event.RunID)
	assert.False(t, event.Timestamp.IsZero())
	require.NotNil(t, event.Run)
	assert.Equal(t, "gate: too many nulls", event.Run.ErrorMessage)
}

func TestRouterForwardsToNotifier(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	notifier := &captureNotifier{}
	router := NewRouter(alertConfig(), memfs.New(), notifier, testLogger())

	run := finishedRun(StatusSucceeded)
	run.QualityScore = 10

	router.Evaluate(context.Background(), run)

	require.Equal(t, 1, notifier.count())
	assert.Equal(t, AlertLowQualityScore, notifier.events[0].Type)
}

func TestRouterThrottlesNotifications(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := alertConfig()
	cfg.NotifyRate = 0.001
	cfg.NotifyBurst = 1

	notifier := &captureNotifier{}
	router := NewRouter(cfg, memfs.New(), notifier, testLogger())

	slow := finishedRun(StatusSucceeded)
	slow.DurationSeconds = 90

	first := router.Evaluate(context.Background(), slow)
	second := router.Evaluate(context.Background(), slow)

	require.Len(t, first, 1)
	require.Len(t, second, 1, "throttling drops the notification, not the alert")
	assert.Equal(t, 1, notifier.count(), "second notification throttled")
}

func TestRouterToleratesNotifierFailure(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	notifier := &captureNotifier{err: errors.New("brokers unreachable")}
	fs := memfs.New()
	router := NewRouter(alertConfig(), fs, notifier, testLogger())

	events := router.Evaluate(context.Background(), finishedRun(StatusFailed))
	require.Len(t, events, 1)

	entries, err := fs.ReadDir(AlertsDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "alert file written even when the notifier fails")
}
