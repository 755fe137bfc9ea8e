package supervisor

import (
	"time"

	"github.com/stackwatch/sentinel/pkg/health"
)

// ActionKind is the last recovery decision taken for an instance
type ActionKind string

const (
	// ActionNone means no recovery action has been taken yet
	ActionNone ActionKind = ""
	// ActionRestarted means the orchestrator was asked to restart the instance
	ActionRestarted ActionKind = "RESTARTED"
	// ActionEscalated means automatic recovery stopped and the instance
	// awaits manual intervention
	ActionEscalated ActionKind = "ESCALATED"
)

// Target describes one monitored instance and how to probe it
type Target struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`    // http, tcp, redis or docker
	Address string `json:"address"` // liveness URL, host:port, redis addr or container ID

	// Redis-only connection settings
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// HealthRecord tracks probe history and recovery state for one instance.
// Records are owned by the supervisor and mutated only on its control loop.
type HealthRecord struct {
	InstanceID           string         `json:"instance_id"`
	Status               health.Verdict `json:"status"`
	ConsecutiveFailures  int            `json:"consecutive_failures"`
	ConsecutiveSuccesses int            `json:"consecutive_successes"`
	LastProbe            health.Result  `json:"last_probe"`
	LastActionAt         time.Time      `json:"last_action_at,omitempty"`
	LastActionKind       ActionKind     `json:"last_action_kind,omitempty"`
	Escalated            bool           `json:"escalated"`

	// actionTimes holds recent recovery attempts for escalation accounting,
	// including failed ones
	actionTimes []time.Time
}

// observe folds one probe result into the record
func (r *HealthRecord) observe(result health.Result) {
	r.LastProbe = result
	r.Status = result.Verdict

	if result.Verdict == health.VerdictDown {
		r.ConsecutiveFailures++
		r.ConsecutiveSuccesses = 0
	} else {
		r.ConsecutiveSuccesses++
		r.ConsecutiveFailures = 0
	}
}

// pruneActions drops recovery attempts older than the escalation window
func (r *HealthRecord) pruneActions(now time.Time, window time.Duration) {
	kept := r.actionTimes[:0]
	for _, at := range r.actionTimes {
		if now.Sub(at) < window {
			kept = append(kept, at)
		}
	}
	r.actionTimes = kept
}
