package alerting

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackwatch/sentinel/internal/metricsource"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(ctx context.Context, event Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) byType(t EventType) []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Event
	for _, e := range n.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestEvaluator(clock *fakeClock, source metricsource.Source, rules ...AlertRule) (*Evaluator, *Manager, *recordingNotifier) {
	manager := NewManager(nil)
	notifier := &recordingNotifier{}
	manager.AddNotifier(notifier)

	evaluator := NewEvaluator(rules, source, manager, EvaluatorConfig{
		Interval: 30 * time.Second,
		Clock:    clock.Now,
	})
	return evaluator, manager, notifier
}

func errorRateRule(sustained time.Duration) AlertRule {
	return AlertRule{
		Name:         "high-error-rate",
		Expression:   "error_rate",
		Operator:     ">",
		Threshold:    0.5,
		SustainedFor: sustained,
		Severity:     SeverityCritical,
	}
}

func TestEvaluator_SustainedConditionFiresOnce(t *testing.T) {
	clock := newFakeClock()
	source := metricsource.NewStaticSource()
	evaluator, manager, notifier := newTestEvaluator(clock, source, errorRateRule(2*time.Minute))

	source.Set("error_rate", metricsource.Sample{Target: "web-1", Value: 0.9})

	// Condition true at t=0, 30s, 60s, 90s: under the 2m sustain, no firing
	for i := 0; i < 4; i++ {
		assert.Empty(t, evaluator.Evaluate(context.Background()))
		clock.Advance(30 * time.Second)
	}

	// t=120s: sustained for 2m, fires exactly once
	fired := evaluator.Evaluate(context.Background())
	require.Len(t, fired, 1)
	assert.Equal(t, "high-error-rate", fired[0].Rule)
	assert.Equal(t, "web-1", fired[0].Target)
	assert.InDelta(t, 0.9, fired[0].Value, 0.001)

	// Still true on later ticks: idempotent, no re-fire
	clock.Advance(30 * time.Second)
	assert.Empty(t, evaluator.Evaluate(context.Background()))
	clock.Advance(30 * time.Second)
	assert.Empty(t, evaluator.Evaluate(context.Background()))

	assert.Len(t, notifier.byType(EventFired), 1)
	assert.Len(t, manager.Active(), 1)
}

func TestEvaluator_ConditionBreakResetsSustain(t *testing.T) {
	clock := newFakeClock()
	source := metricsource.NewStaticSource()
	evaluator, manager, notifier := newTestEvaluator(clock, source, errorRateRule(2*time.Minute))

	// True for 90s, then false: never fires
	source.Set("error_rate", metricsource.Sample{Target: "web-1", Value: 0.9})
	for i := 0; i < 4; i++ {
		evaluator.Evaluate(context.Background())
		clock.Advance(30 * time.Second)
	}
	source.Set("error_rate", metricsource.Sample{Target: "web-1", Value: 0.1})
	evaluator.Evaluate(context.Background())

	// True again: the sustain counter starts over from zero
	source.Set("error_rate", metricsource.Sample{Target: "web-1", Value: 0.9})
	clock.Advance(30 * time.Second)
	for i := 0; i < 4; i++ {
		assert.Empty(t, evaluator.Evaluate(context.Background()))
		clock.Advance(30 * time.Second)
	}

	assert.Empty(t, notifier.byType(EventFired))
	assert.Empty(t, manager.Active())
}

func TestEvaluator_ResolvesOnFirstFalseReading(t *testing.T) {
	clock := newFakeClock()
	source := metricsource.NewStaticSource()
	evaluator, manager, notifier := newTestEvaluator(clock, source, errorRateRule(time.Minute))

	source.Set("error_rate", metricsource.Sample{Target: "web-1", Value: 0.9})
	evaluator.Evaluate(context.Background())
	clock.Advance(time.Minute)
	fired := evaluator.Evaluate(context.Background())
	require.Len(t, fired, 1)
	require.Len(t, manager.Active(), 1)

	source.Set("error_rate", metricsource.Sample{Target: "web-1", Value: 0.2})
	clock.Advance(30 * time.Second)
	evaluator.Evaluate(context.Background())

	assert.Empty(t, manager.Active())
	resolved := notifier.byType(EventResolved)
	require.Len(t, resolved, 1)
	require.NotNil(t, resolved[0].Alert.ResolvedAt)
}

func TestEvaluator_MultipleTargetsTrackedIndependently(t *testing.T) {
	clock := newFakeClock()
	source := metricsource.NewStaticSource()
	evaluator, manager, _ := newTestEvaluator(clock, source, errorRateRule(time.Minute))

	source.Set("error_rate",
		metricsource.Sample{Target: "web-1", Value: 0.9},
		metricsource.Sample{Target: "web-2", Value: 0.1},
	)
	evaluator.Evaluate(context.Background())
	clock.Advance(time.Minute)
	fired := evaluator.Evaluate(context.Background())

	require.Len(t, fired, 1)
	assert.Equal(t, "web-1", fired[0].Target)
	require.Len(t, manager.Active(), 1)
	assert.Equal(t, "high-error-rate/web-1", manager.Active()[0].Key())
}

func TestEvaluator_ZeroSustainFiresImmediately(t *testing.T) {
	clock := newFakeClock()
	source := metricsource.NewStaticSource()
	evaluator, _, _ := newTestEvaluator(clock, source, errorRateRule(0))

	source.Set("error_rate", metricsource.Sample{Target: "web-1", Value: 0.9})
	fired := evaluator.Evaluate(context.Background())
	assert.Len(t, fired, 1)
}

func TestEvaluator_QueryFailureKeepsState(t *testing.T) {
	clock := newFakeClock()
	failing := &failingSource{}
	evaluator, manager, _ := newTestEvaluator(clock, failing, errorRateRule(time.Minute))

	// Unknown readings neither fire nor resolve anything
	assert.Empty(t, evaluator.Evaluate(context.Background()))
	assert.Empty(t, manager.Active())
}

func TestEvaluator_RestartAfterStop(t *testing.T) {
	clock := newFakeClock()
	source := metricsource.NewStaticSource()
	evaluator, _, _ := newTestEvaluator(clock, source, errorRateRule(time.Minute))

	require.NoError(t, evaluator.Start(context.Background()))
	assert.Error(t, evaluator.Start(context.Background()))
	evaluator.Stop()

	require.NoError(t, evaluator.Start(context.Background()))
	evaluator.Stop()
}

type failingSource struct{}

func (s *failingSource) Query(ctx context.Context, expression string) ([]metricsource.Sample, error) {
	return nil, assert.AnError
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"rules": [
			{
				"name": "high-error-rate",
				"description": "Error rate above 50%",
				"expression": "error_rate",
				"operator": ">",
				"threshold": 0.5,
				"sustained_for": "2m",
				"severity": "critical"
			},
			{
				"name": "slow-p95",
				"expression": "p95_latency_seconds",
				"operator": ">=",
				"threshold": 1.5
			}
		]
	}`), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, "high-error-rate", rules[0].Name)
	assert.Equal(t, 2*time.Minute, rules[0].SustainedFor)
	assert.Equal(t, SeverityCritical, rules[0].Severity)

	// Severity defaults to warning, sustain to zero
	assert.Equal(t, SeverityWarning, rules[1].Severity)
	assert.Equal(t, time.Duration(0), rules[1].SustainedFor)
}

func TestLoadRules_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"rules":[{"expression":"x","operator":">"}]}`},
		{"missing expression", `{"rules":[{"name":"r","operator":">"}]}`},
		{"bad operator", `{"rules":[{"name":"r","expression":"x","operator":"~"}]}`},
		{"bad duration", `{"rules":[{"name":"r","expression":"x","operator":">","sustained_for":"2 moons"}]}`},
		{"duplicate name", `{"rules":[
			{"name":"r","expression":"x","operator":">"},
			{"name":"r","expression":"y","operator":"<"}
		]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "rules.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))

			_, err := LoadRules(path)
			assert.Error(t, err)
		})
	}
}

func TestAlertRule_Holds(t *testing.T) {
	tests := []struct {
		operator  string
		threshold float64
		value     float64
		want      bool
	}{
		{">", 0.5, 0.6, true},
		{">", 0.5, 0.5, false},
		{"<", 0.5, 0.4, true},
		{">=", 0.5, 0.5, true},
		{"<=", 0.5, 0.5, true},
		{"==", 1, 1, true},
		{"!=", 1, 2, true},
		{"!=", 1, 1, false},
	}

	for _, tt := range tests {
		rule := AlertRule{Operator: tt.operator, Threshold: tt.threshold}
		assert.Equal(t, tt.want, rule.holds(tt.value),
			"%v %s %v", tt.value, tt.operator, tt.threshold)
	}
}
