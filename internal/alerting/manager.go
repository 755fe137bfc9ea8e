package alerting

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stackwatch/sentinel/pkg/logging"
	"github.com/stackwatch/sentinel/pkg/metrics"
)

// FiredAlert is one active (or just-resolved) alert instance, scoped to a
// rule and a target
type FiredAlert struct {
	Rule        string            `json:"rule"`
	Target      string            `json:"target,omitempty"`
	Severity    Severity          `json:"severity"`
	Value       float64           `json:"value"`
	Threshold   float64           `json:"threshold"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	FiredAt     time.Time         `json:"fired_at"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
}

// Key identifies the alert instance across evaluations
func (a FiredAlert) Key() string {
	return a.Rule + "/" + a.Target
}

// EventType distinguishes firing from resolution notifications
type EventType string

const (
	EventFired    EventType = "fired"
	EventResolved EventType = "resolved"
)

// Event is what notifiers receive
type Event struct {
	Type  EventType  `json:"type"`
	Alert FiredAlert `json:"alert"`
}

// Notifier delivers alert events to an external channel
type Notifier interface {
	Notify(ctx context.Context, event Event) error
	Name() string
}

// Manager tracks active alerts and fans events out to notifiers.
// Notification failures are logged, never propagated back into evaluation.
type Manager struct {
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	notifiers []Notifier
	active    map[string]FiredAlert
}

// NewManager creates an alert manager
func NewManager(m *metrics.Metrics) *Manager {
	return &Manager{
		logger:  logging.GetLogger(),
		metrics: m,
		active:  make(map[string]FiredAlert),
	}
}

// AddNotifier registers a notification channel
func (m *Manager) AddNotifier(notifier Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, notifier)
}

// Fire marks an alert active and notifies all channels
func (m *Manager) Fire(ctx context.Context, alert FiredAlert) {
	m.mu.Lock()
	m.active[alert.Key()] = alert
	m.mu.Unlock()

	m.logger.WithFields(logging.Fields{
		"rule":      alert.Rule,
		"target":    alert.Target,
		"severity":  alert.Severity,
		"value":     alert.Value,
		"threshold": alert.Threshold,
	}).Warn("Alert fired")

	if m.metrics != nil && m.metrics.Enabled() {
		m.metrics.AlertsFiredTotal.WithLabelValues(alert.Rule, string(alert.Severity)).Inc()
	}

	m.dispatch(ctx, Event{Type: EventFired, Alert: alert})
}

// Resolve clears an active alert and notifies all channels
func (m *Manager) Resolve(ctx context.Context, alert FiredAlert) {
	m.mu.Lock()
	_, wasActive := m.active[alert.Key()]
	delete(m.active, alert.Key())
	m.mu.Unlock()

	if !wasActive {
		return
	}

	m.logger.WithFields(logging.Fields{
		"rule":   alert.Rule,
		"target": alert.Target,
	}).Info("Alert resolved")

	if m.metrics != nil && m.metrics.Enabled() {
		m.metrics.AlertsResolvedTotal.WithLabelValues(alert.Rule, string(alert.Severity)).Inc()
	}

	m.dispatch(ctx, Event{Type: EventResolved, Alert: alert})
}

// Active returns the active alerts sorted by key
func (m *Manager) Active() []FiredAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alerts := make([]FiredAlert, 0, len(m.active))
	for _, alert := range m.active {
		alerts = append(alerts, alert)
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].Key() < alerts[j].Key()
	})
	return alerts
}

func (m *Manager) dispatch(ctx context.Context, event Event) {
	m.mu.RLock()
	notifiers := make([]Notifier, len(m.notifiers))
	copy(notifiers, m.notifiers)
	m.mu.RUnlock()

	for _, notifier := range notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			m.logger.Error("Alert notification failed",
				"notifier", notifier.Name(),
				"rule", event.Alert.Rule,
				"error", err.Error(),
			)
		}
	}
}
