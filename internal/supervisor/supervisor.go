package supervisor

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/stackwatch/sentinel/pkg/errors"
	"github.com/stackwatch/sentinel/pkg/health"
	"github.com/stackwatch/sentinel/pkg/logging"
	"github.com/stackwatch/sentinel/pkg/metrics"
	"github.com/stackwatch/sentinel/pkg/tracing"
)

// Config contains supervisor loop configuration
type Config struct {
	Interval         time.Duration `json:"interval"`
	ProbeTimeout     time.Duration `json:"probe_timeout"`
	Concurrency      int           `json:"concurrency"`
	DownThreshold    int           `json:"down_threshold"`
	Cooldown         time.Duration `json:"cooldown"`
	EscalationWindow time.Duration `json:"escalation_window"`
	EscalationMax    int           `json:"escalation_max"`
	// Clock overrides time.Now, for tests
	Clock func() time.Time `json:"-"`
}

// DefaultConfig returns default supervisor configuration
func DefaultConfig() Config {
	return Config{
		Interval:         30 * time.Second,
		ProbeTimeout:     5 * time.Second,
		Concurrency:      8,
		DownThreshold:    1,
		Cooldown:         60 * time.Second,
		EscalationWindow: 10 * time.Minute,
		EscalationMax:    3,
	}
}

// Supervisor runs the recovery control loop: on each tick it probes every
// registered instance concurrently, folds the verdicts into per-instance
// health records and issues restart actions subject to cooldown and
// escalation. Records are mutated only on the control loop; readers get
// copies.
type Supervisor struct {
	config       Config
	orchestrator Orchestrator
	metrics      *metrics.Metrics
	tracer       *tracing.TracingService
	logger       *logging.Logger
	now          func() time.Time

	mu      sync.RWMutex
	targets map[string]Target
	probers map[string]health.Prober
	records map[string]*HealthRecord

	tick    uint64
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a supervisor. The tracer is optional.
func New(config Config, orchestrator Orchestrator, m *metrics.Metrics, tracer *tracing.TracingService) *Supervisor {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.DownThreshold < 1 {
		config.DownThreshold = 1
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 60 * time.Second
	}
	if config.EscalationWindow <= 0 {
		config.EscalationWindow = 10 * time.Minute
	}
	if config.EscalationMax < 1 {
		config.EscalationMax = 3
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &Supervisor{
		config:       config,
		orchestrator: orchestrator,
		metrics:      m,
		tracer:       tracer,
		logger:       logging.GetLogger(),
		now:          config.Clock,
		targets:      make(map[string]Target),
		probers:      make(map[string]health.Prober),
		records:      make(map[string]*HealthRecord),
	}
}

// Register adds one monitored instance with its prober
func (s *Supervisor) Register(target Target, prober health.Prober) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.targets[target.ID] = target
	s.probers[target.ID] = prober
	s.records[target.ID] = &HealthRecord{InstanceID: target.ID, Status: health.VerdictUnknown}
}

// RegisterTargets builds probers for a target list and registers them all
func (s *Supervisor) RegisterTargets(targets []Target) error {
	for _, target := range targets {
		prober, err := BuildProber(target, s.config.ProbeTimeout)
		if err != nil {
			return err
		}
		s.Register(target, prober)
	}
	return nil
}

// Start runs the control loop until the context ends or Stop is called.
// The first tick runs immediately.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.NewValidationError("supervisor is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	go func() {
		defer close(doneCh)

		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		s.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()

	s.logger.Info("Supervisor started",
		"interval", s.config.Interval.String(),
		"targets", len(s.targets),
	)
	return nil
}

// Stop stops the loop and waits for the in-flight tick to drain
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
	s.logger.Info("Supervisor stopped")
}

// Tick probes all registered instances once. Probes fan out concurrently,
// bounded by the configured concurrency. When the context is cancelled
// mid-tick, outstanding probes are cancelled and their verdicts discarded;
// results collected before the cancellation are still processed.
func (s *Supervisor) Tick(ctx context.Context) {
	tick := atomic.AddUint64(&s.tick, 1)
	if s.tracer != nil {
		var span oteltrace.Span
		ctx, span = s.tracer.StartTickSpan(ctx, tick)
		defer span.End()
	}

	s.mu.RLock()
	targets := make([]Target, 0, len(s.targets))
	probers := make(map[string]health.Prober, len(s.probers))
	for id, target := range s.targets {
		targets = append(targets, target)
		probers[id] = s.probers[id]
	}
	s.mu.RUnlock()

	type outcome struct {
		target  Target
		result  health.Result
		skipped bool
	}

	sem := semaphore.NewWeighted(int64(s.config.Concurrency))
	resultCh := make(chan outcome, len(targets))
	var wg sync.WaitGroup

	for _, target := range targets {
		wg.Add(1)
		go func(target Target, prober health.Prober) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				resultCh <- outcome{target: target, skipped: true}
				return
			}
			defer sem.Release(1)

			probeCtx := ctx
			if s.tracer != nil {
				var span oteltrace.Span
				probeCtx, span = s.tracer.StartProbeSpan(ctx, target.ID, prober.Kind())
				defer span.End()
			}

			result := prober.Probe(probeCtx)
			if ctx.Err() != nil {
				// A verdict produced by our own cancellation is not an outage
				resultCh <- outcome{target: target, skipped: true}
				return
			}
			resultCh <- outcome{target: target, result: result}
		}(target, probers[target.ID])
	}
	wg.Wait()
	close(resultCh)

	for out := range resultCh {
		if out.skipped {
			continue
		}
		s.handleResult(ctx, out.target, out.result)
	}
}

// handleResult folds one probe outcome into the instance's record and
// decides whether to act. One bad instance never stops the rest of the
// batch from being handled.
func (s *Supervisor) handleResult(ctx context.Context, target Target, result health.Result) {
	ctx = logging.WithInstanceID(ctx, target.ID)
	s.logger.LogProbeEvent(ctx, target.ID, string(result.Verdict), result.Latency, logrus.Fields{
		"detail": result.Detail,
	})
	if s.metrics != nil {
		s.metrics.RecordProbe(target.ID, string(result.Verdict), result.Latency)
	}

	now := s.now()

	s.mu.Lock()
	record, ok := s.records[target.ID]
	if !ok {
		s.mu.Unlock()
		return
	}
	record.observe(result)

	if result.Verdict != health.VerdictDown || record.ConsecutiveFailures < s.config.DownThreshold {
		s.mu.Unlock()
		return
	}

	if record.Escalated {
		s.mu.Unlock()
		s.logger.Debug("Skipping recovery, instance escalated", "instance_id", target.ID)
		return
	}

	if !record.LastActionAt.IsZero() && now.Sub(record.LastActionAt) < s.config.Cooldown {
		s.mu.Unlock()
		s.logger.Debug("Skipping recovery, cooldown active",
			"instance_id", target.ID,
			"last_action_at", record.LastActionAt,
		)
		return
	}

	record.pruneActions(now, s.config.EscalationWindow)
	if len(record.actionTimes) >= s.config.EscalationMax {
		record.Escalated = true
		record.LastActionKind = ActionEscalated
		s.mu.Unlock()

		if s.metrics != nil && s.metrics.Enabled() {
			s.metrics.InstancesEscalated.WithLabelValues(target.ID).Set(1)
		}
		s.logger.Error("Instance escalated for manual intervention",
			"instance_id", target.ID,
			"actions_in_window", s.config.EscalationMax,
			"window", s.config.EscalationWindow.String(),
		)
		return
	}

	// A failed action still counts toward escalation and starts the
	// cooldown, so a broken orchestrator cannot cause a restart storm.
	record.actionTimes = append(record.actionTimes, now)
	record.LastActionAt = now
	record.LastActionKind = ActionRestarted
	s.mu.Unlock()

	episodeID := uuid.New().String()
	err := s.orchestrator.Restart(ctx, target)
	success := err == nil

	var fields logrus.Fields
	if err != nil {
		fields = logrus.Fields{"error": err.Error()}
	}
	s.logger.LogRecoveryEvent(ctx, target.ID, string(ActionRestarted), episodeID, success, fields)

	if s.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		s.metrics.RecordRecoveryAction(target.ID, outcome)
	}
}

// Records returns copies of all health records, sorted by instance ID
func (s *Supervisor) Records() []HealthRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]HealthRecord, 0, len(s.records))
	for _, record := range s.records {
		copied := *record
		copied.actionTimes = nil
		records = append(records, copied)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].InstanceID < records[j].InstanceID
	})
	return records
}

// Record returns a copy of one instance's health record
func (s *Supervisor) Record(instanceID string) (HealthRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[instanceID]
	if !ok {
		return HealthRecord{}, false
	}
	copied := *record
	copied.actionTimes = nil
	return copied, true
}

// ClearEscalation re-enables automatic recovery for an instance after
// manual intervention
func (s *Supervisor) ClearEscalation(instanceID string) error {
	s.mu.Lock()
	record, ok := s.records[instanceID]
	if !ok {
		s.mu.Unlock()
		return errors.NewNotFoundError("instance " + instanceID)
	}
	record.Escalated = false
	record.LastActionKind = ActionNone
	record.actionTimes = nil
	s.mu.Unlock()

	if s.metrics != nil && s.metrics.Enabled() {
		s.metrics.InstancesEscalated.WithLabelValues(instanceID).Set(0)
	}
	s.logger.Info("Escalation cleared", "instance_id", instanceID)
	return nil
}
