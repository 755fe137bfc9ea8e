package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackwatch/sentinel/pkg/health"
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

// scriptedProber returns one verdict per probe, repeating the last verdict
// once the script runs out
type scriptedProber struct {
	mu       sync.Mutex
	verdicts []health.Verdict
	calls    int
}

func (p *scriptedProber) Probe(ctx context.Context) health.Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	verdict := health.VerdictUp
	if p.calls < len(p.verdicts) {
		verdict = p.verdicts[p.calls]
	} else if len(p.verdicts) > 0 {
		verdict = p.verdicts[len(p.verdicts)-1]
	}
	p.calls++
	return health.Result{Verdict: verdict, CheckedAt: time.Now()}
}

func (p *scriptedProber) Kind() string { return "scripted" }

type fakeOrchestrator struct {
	mu       sync.Mutex
	restarts []string
	err      error
}

func (o *fakeOrchestrator) Restart(ctx context.Context, target Target) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.restarts = append(o.restarts, target.ID)
	return o.err
}

func (o *fakeOrchestrator) restartCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.restarts)
}

func newTestSupervisor(clock *fakeClock, orch Orchestrator, config Config) *Supervisor {
	config.Clock = clock.Now
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if config.Concurrency == 0 {
		config.Concurrency = 4
	}
	return New(config, orch, nil, nil)
}

func TestSupervisor_SingleActionPerOutageWithCooldown(t *testing.T) {
	clock := newFakeClock()
	orch := &fakeOrchestrator{}
	s := newTestSupervisor(clock, orch, Config{
		DownThreshold: 1,
		Cooldown:      100 * time.Second,
	})

	// Down on ticks 1-3, back up from tick 4
	s.Register(Target{ID: "web-1", Kind: "http"}, &scriptedProber{
		verdicts: []health.Verdict{
			health.VerdictDown, health.VerdictDown, health.VerdictDown, health.VerdictUp,
		},
	})

	for i := 0; i < 4; i++ {
		s.Tick(context.Background())
		clock.Advance(30 * time.Second)
	}

	assert.Equal(t, 1, orch.restartCount())

	record, ok := s.Record("web-1")
	require.True(t, ok)
	assert.Equal(t, health.VerdictUp, record.Status)
	assert.Equal(t, ActionRestarted, record.LastActionKind)
	assert.Equal(t, 0, record.ConsecutiveFailures)
}

func TestSupervisor_DownThresholdGatesAction(t *testing.T) {
	clock := newFakeClock()
	orch := &fakeOrchestrator{}
	s := newTestSupervisor(clock, orch, Config{
		DownThreshold: 2,
		Cooldown:      time.Minute,
	})
	s.Register(Target{ID: "web-1"}, &scriptedProber{
		verdicts: []health.Verdict{health.VerdictDown, health.VerdictDown},
	})

	s.Tick(context.Background())
	assert.Equal(t, 0, orch.restartCount())

	clock.Advance(30 * time.Second)
	s.Tick(context.Background())
	assert.Equal(t, 1, orch.restartCount())
}

func TestSupervisor_FlapDoesNotTriggerAction(t *testing.T) {
	clock := newFakeClock()
	orch := &fakeOrchestrator{}
	s := newTestSupervisor(clock, orch, Config{
		DownThreshold: 2,
		Cooldown:      time.Minute,
	})

	// One DOWN followed by UP resets the failure streak
	s.Register(Target{ID: "web-1"}, &scriptedProber{
		verdicts: []health.Verdict{
			health.VerdictDown, health.VerdictUp, health.VerdictDown, health.VerdictUp,
		},
	})

	for i := 0; i < 4; i++ {
		s.Tick(context.Background())
		clock.Advance(30 * time.Second)
	}

	assert.Equal(t, 0, orch.restartCount())
}

func TestSupervisor_CooldownPreventsRestartStorm(t *testing.T) {
	clock := newFakeClock()
	orch := &fakeOrchestrator{}
	s := newTestSupervisor(clock, orch, Config{
		DownThreshold:    1,
		Cooldown:         120 * time.Second,
		EscalationWindow: time.Hour,
		EscalationMax:    100,
	})
	s.Register(Target{ID: "web-1"}, &scriptedProber{
		verdicts: []health.Verdict{health.VerdictDown},
	})

	// Eight 30s ticks over 210s: actions at t=0 and t=120 only
	for i := 0; i < 8; i++ {
		s.Tick(context.Background())
		clock.Advance(30 * time.Second)
	}

	assert.Equal(t, 2, orch.restartCount())
}

func TestSupervisor_EscalatesAfterMaxActionsInWindow(t *testing.T) {
	clock := newFakeClock()
	orch := &fakeOrchestrator{}
	s := newTestSupervisor(clock, orch, Config{
		DownThreshold:    1,
		Cooldown:         time.Minute,
		EscalationWindow: 10 * time.Minute,
		EscalationMax:    3,
	})
	s.Register(Target{ID: "web-1"}, &scriptedProber{
		verdicts: []health.Verdict{health.VerdictDown},
	})

	// One action per minute: three actions, then escalation stops the rest
	for i := 0; i < 6; i++ {
		s.Tick(context.Background())
		clock.Advance(time.Minute)
	}

	assert.Equal(t, 3, orch.restartCount())

	record, ok := s.Record("web-1")
	require.True(t, ok)
	assert.True(t, record.Escalated)
	assert.Equal(t, ActionEscalated, record.LastActionKind)
}

func TestSupervisor_FailedActionCountsTowardEscalation(t *testing.T) {
	clock := newFakeClock()
	orch := &fakeOrchestrator{err: assert.AnError}
	s := newTestSupervisor(clock, orch, Config{
		DownThreshold:    1,
		Cooldown:         time.Minute,
		EscalationWindow: 10 * time.Minute,
		EscalationMax:    3,
	})
	s.Register(Target{ID: "web-1"}, &scriptedProber{
		verdicts: []health.Verdict{health.VerdictDown},
	})

	for i := 0; i < 6; i++ {
		s.Tick(context.Background())
		clock.Advance(time.Minute)
	}

	// Failed restarts are still attempts; the instance escalates the same way
	assert.Equal(t, 3, orch.restartCount())
	record, _ := s.Record("web-1")
	assert.True(t, record.Escalated)
}

func TestSupervisor_ClearEscalationResumesRecovery(t *testing.T) {
	clock := newFakeClock()
	orch := &fakeOrchestrator{}
	s := newTestSupervisor(clock, orch, Config{
		DownThreshold:    1,
		Cooldown:         time.Minute,
		EscalationWindow: 10 * time.Minute,
		EscalationMax:    1,
	})
	s.Register(Target{ID: "web-1"}, &scriptedProber{
		verdicts: []health.Verdict{health.VerdictDown},
	})

	s.Tick(context.Background())
	clock.Advance(time.Minute)
	s.Tick(context.Background())
	record, _ := s.Record("web-1")
	require.True(t, record.Escalated)
	require.Equal(t, 1, orch.restartCount())

	require.NoError(t, s.ClearEscalation("web-1"))
	clock.Advance(time.Minute)
	s.Tick(context.Background())
	assert.Equal(t, 2, orch.restartCount())

	assert.Error(t, s.ClearEscalation("nope"))
}

func TestSupervisor_OneBadInstanceDoesNotStopOthers(t *testing.T) {
	clock := newFakeClock()
	orch := &fakeOrchestrator{err: assert.AnError}
	s := newTestSupervisor(clock, orch, Config{
		DownThreshold: 1,
		Cooldown:      time.Minute,
	})
	s.Register(Target{ID: "web-1"}, &scriptedProber{
		verdicts: []health.Verdict{health.VerdictDown},
	})
	s.Register(Target{ID: "web-2"}, &scriptedProber{
		verdicts: []health.Verdict{health.VerdictUp},
	})

	s.Tick(context.Background())

	healthy, ok := s.Record("web-2")
	require.True(t, ok)
	assert.Equal(t, health.VerdictUp, healthy.Status)
	assert.Equal(t, 1, healthy.ConsecutiveSuccesses)
}

func TestSupervisor_CancelledTickSkipsUncollectedProbes(t *testing.T) {
	clock := newFakeClock()
	orch := &fakeOrchestrator{}
	s := newTestSupervisor(clock, orch, Config{DownThreshold: 1, Cooldown: time.Minute})
	s.Register(Target{ID: "web-1"}, &scriptedProber{
		verdicts: []health.Verdict{health.VerdictDown},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Tick(ctx)

	// No probe was admitted, so the record is untouched and no action fired
	record, _ := s.Record("web-1")
	assert.Equal(t, 0, record.ConsecutiveFailures)
	assert.Equal(t, 0, orch.restartCount())
}

func TestSupervisor_ZeroValueConfigRestartsBeforeEscalating(t *testing.T) {
	clock := newFakeClock()
	orch := &fakeOrchestrator{}
	s := New(Config{Clock: clock.Now}, orch, nil, nil)
	s.Register(Target{ID: "web-1"}, &scriptedProber{
		verdicts: []health.Verdict{health.VerdictDown},
	})

	// Unset escalation settings fall back to defaults: the first eligible
	// outage gets a restart, not an immediate escalation
	s.Tick(context.Background())

	assert.Equal(t, 1, orch.restartCount())
	record, ok := s.Record("web-1")
	require.True(t, ok)
	assert.Equal(t, ActionRestarted, record.LastActionKind)
	assert.False(t, record.Escalated)
}

// cancellingProber cancels the tick context from inside the probe, then
// reports the DOWN verdict a real probe produces when its context is cut
type cancellingProber struct {
	cancel context.CancelFunc
}

func (p *cancellingProber) Probe(ctx context.Context) health.Result {
	p.cancel()
	<-ctx.Done()
	return health.Result{
		Verdict:   health.VerdictDown,
		Detail:    "Get \"http://web-1:8080/healthz\": context canceled",
		CheckedAt: time.Now(),
	}
}

func (p *cancellingProber) Kind() string { return "http" }

func TestSupervisor_MidProbeCancellationIsNotAnOutage(t *testing.T) {
	clock := newFakeClock()
	orch := &fakeOrchestrator{}
	s := newTestSupervisor(clock, orch, Config{DownThreshold: 1, Cooldown: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Register(Target{ID: "web-1", Kind: "http"}, &cancellingProber{cancel: cancel})

	s.Tick(ctx)

	// The discarded verdict leaves the record untouched and fires no action
	record, ok := s.Record("web-1")
	require.True(t, ok)
	assert.Equal(t, health.VerdictUnknown, record.Status)
	assert.Equal(t, 0, record.ConsecutiveFailures)
	assert.Equal(t, 0, orch.restartCount())
}

func TestSupervisor_RestartAfterStop(t *testing.T) {
	clock := newFakeClock()
	orch := &fakeOrchestrator{}
	s := newTestSupervisor(clock, orch, Config{
		Interval:      10 * time.Millisecond,
		DownThreshold: 1,
		Cooldown:      time.Hour,
	})
	s.Register(Target{ID: "web-1"}, &scriptedProber{})

	require.NoError(t, s.Start(context.Background()))
	s.Stop()

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	s.Stop()
}

func TestSupervisor_StartStopDrains(t *testing.T) {
	clock := newFakeClock()
	orch := &fakeOrchestrator{}
	s := newTestSupervisor(clock, orch, Config{
		Interval:      10 * time.Millisecond,
		DownThreshold: 1,
		Cooldown:      time.Hour,
	})
	s.Register(Target{ID: "web-1"}, &scriptedProber{
		verdicts: []health.Verdict{health.VerdictUp},
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	time.Sleep(50 * time.Millisecond)
	s.Stop()

	record, ok := s.Record("web-1")
	require.True(t, ok)
	assert.Equal(t, health.VerdictUp, record.Status)
}

func TestSupervisor_RecordsSortedCopies(t *testing.T) {
	clock := newFakeClock()
	s := newTestSupervisor(clock, &fakeOrchestrator{}, Config{DownThreshold: 1})
	s.Register(Target{ID: "web-2"}, &scriptedProber{})
	s.Register(Target{ID: "web-1"}, &scriptedProber{})

	records := s.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "web-1", records[0].InstanceID)
	assert.Equal(t, "web-2", records[1].InstanceID)
}

func TestLoadTargets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "targets.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"targets": [
			{"id": "web-1", "name": "Web frontend", "kind": "http", "address": "http://web-1:8080/healthz"},
			{"id": "cache-1", "name": "Cache", "kind": "redis", "address": "cache-1:6379"},
			{"id": "worker-1", "name": "Worker", "kind": "docker", "address": "worker-1"}
		]
	}`), 0o600))

	targets, err := LoadTargets(path)
	require.NoError(t, err)
	require.Len(t, targets, 3)
	assert.Equal(t, "web-1", targets[0].ID)
	assert.Equal(t, "redis", targets[1].Kind)
}

func TestLoadTargets_RejectsDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "targets.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"targets": [
			{"id": "web-1", "kind": "http", "address": "http://a/healthz"},
			{"id": "web-1", "kind": "http", "address": "http://b/healthz"}
		]
	}`), 0o600))

	_, err := LoadTargets(path)
	assert.Error(t, err)
}

func TestLoadTargets_RejectsUnknownKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "targets.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"targets": [{"id": "web-1", "kind": "carrier-pigeon", "address": "coop"}]
	}`), 0o600))

	_, err := LoadTargets(path)
	assert.Error(t, err)
}

func TestBuildProber_Kinds(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{"http", "http"},
		{"tcp", "tcp"},
		{"redis", "redis"},
		{"docker", "command"},
	}

	for _, tt := range tests {
		prober, err := BuildProber(Target{ID: "x", Kind: tt.kind, Address: "addr"}, time.Second)
		require.NoError(t, err)
		assert.Equal(t, tt.want, prober.Kind())
	}
}
