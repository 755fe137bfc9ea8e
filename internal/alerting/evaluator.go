package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/stackwatch/sentinel/internal/metricsource"
	"github.com/stackwatch/sentinel/pkg/errors"
	"github.com/stackwatch/sentinel/pkg/logging"
)

// conditionState tracks one rule-target pair across evaluations
type conditionState struct {
	holdingSince time.Time
	holding      bool
	fired        bool
	firedAlert   FiredAlert
}

// Evaluator re-evaluates every rule against the metrics source on each
// tick. A rule-target pair fires once its condition has held continuously
// for the rule's sustained duration, stays fired without re-firing while
// the condition holds, and resolves on the first reading where the
// condition is false.
type Evaluator struct {
	rules    []AlertRule
	source   metricsource.Source
	manager  *Manager
	interval time.Duration
	logger   *logging.Logger
	now      func() time.Time

	mu     sync.Mutex
	states map[string]*conditionState

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// EvaluatorConfig holds evaluator configuration
type EvaluatorConfig struct {
	Interval time.Duration
	// Clock overrides time.Now, for tests
	Clock func() time.Time
}

// NewEvaluator creates an evaluator over the given rules and source
func NewEvaluator(rules []AlertRule, source metricsource.Source, manager *Manager, config EvaluatorConfig) *Evaluator {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &Evaluator{
		rules:    rules,
		source:   source,
		manager:  manager,
		interval: config.Interval,
		logger:   logging.GetLogger(),
		now:      config.Clock,
		states:   make(map[string]*conditionState),
	}
}

// Start runs the evaluation loop until the context ends or Stop is called
func (e *Evaluator) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.NewValidationError("alert evaluator is already running")
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	stopCh, doneCh := e.stopCh, e.doneCh
	e.mu.Unlock()

	go func() {
		defer close(doneCh)

		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		e.Evaluate(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				e.Evaluate(ctx)
			}
		}
	}()

	e.logger.Info("Alert evaluator started",
		"rules", len(e.rules),
		"interval", e.interval.String(),
	)
	return nil
}

// Stop stops the evaluation loop
func (e *Evaluator) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	stopCh, doneCh := e.stopCh, e.doneCh
	e.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// Evaluate runs one pass over all rules and returns the alerts that fired
// during this pass. A query failure leaves the affected rule's sustained
// state untouched; unknown is neither true nor false.
func (e *Evaluator) Evaluate(ctx context.Context) []FiredAlert {
	now := e.now()
	var fired []FiredAlert

	for _, rule := range e.rules {
		samples, err := e.source.Query(ctx, rule.Expression)
		if err != nil {
			e.logger.Error("Alert rule query failed",
				"rule", rule.Name,
				"expression", rule.Expression,
				"error", err.Error(),
			)
			continue
		}

		for _, sample := range samples {
			if alert, ok := e.observe(ctx, rule, sample, now); ok {
				fired = append(fired, alert)
			}
		}
	}

	return fired
}

// observe folds one sample into the rule-target state machine
func (e *Evaluator) observe(ctx context.Context, rule AlertRule, sample metricsource.Sample, now time.Time) (FiredAlert, bool) {
	key := rule.Name + "/" + sample.Target

	e.mu.Lock()
	state, ok := e.states[key]
	if !ok {
		state = &conditionState{}
		e.states[key] = state
	}

	if !rule.holds(sample.Value) {
		wasFired := state.fired
		resolved := state.firedAlert
		state.holding = false
		state.fired = false
		e.mu.Unlock()

		if wasFired {
			resolvedAt := now
			resolved.ResolvedAt = &resolvedAt
			e.manager.Resolve(ctx, resolved)
		}
		return FiredAlert{}, false
	}

	if !state.holding {
		state.holding = true
		state.holdingSince = now
	}

	if state.fired || now.Sub(state.holdingSince) < rule.SustainedFor {
		e.mu.Unlock()
		return FiredAlert{}, false
	}

	alert := FiredAlert{
		Rule:        rule.Name,
		Target:      sample.Target,
		Severity:    rule.Severity,
		Value:       sample.Value,
		Threshold:   rule.Threshold,
		Description: rule.Description,
		Labels:      rule.Labels,
		FiredAt:     now,
	}
	state.fired = true
	state.firedAlert = alert
	e.mu.Unlock()

	e.manager.Fire(ctx, alert)
	return alert, true
}
