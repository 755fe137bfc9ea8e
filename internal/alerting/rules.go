package alerting

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/stackwatch/sentinel/pkg/errors"
)

// Severity represents alert severity levels
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertRule describes one condition the evaluator watches. A rule fires
// only after its condition has held continuously for SustainedFor.
type AlertRule struct {
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Expression   string            `json:"expression"`
	Operator     string            `json:"operator"` // >, <, >=, <=, ==, !=
	Threshold    float64           `json:"threshold"`
	SustainedFor time.Duration     `json:"-"`
	Severity     Severity          `json:"severity"`
	Labels       map[string]string `json:"labels,omitempty"`
}

// ruleFile is the on-disk shape of the rules configuration
type ruleFile struct {
	Rules []struct {
		AlertRule
		SustainedFor string `json:"sustained_for"`
	} `json:"rules"`
}

// LoadRules reads alert rules from a JSON file
func LoadRules(path string) ([]AlertRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	var file ruleFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	rules := make([]AlertRule, 0, len(file.Rules))
	seen := make(map[string]bool)
	for _, raw := range file.Rules {
		rule := raw.AlertRule

		if rule.Name == "" {
			return nil, errors.NewValidationError("alert rule is missing a name")
		}
		if seen[rule.Name] {
			return nil, errors.NewValidationError(
				fmt.Sprintf("duplicate alert rule %q", rule.Name))
		}
		seen[rule.Name] = true

		if rule.Expression == "" {
			return nil, errors.NewValidationError(
				fmt.Sprintf("alert rule %q is missing an expression", rule.Name))
		}
		if !validOperator(rule.Operator) {
			return nil, errors.NewValidationError(
				fmt.Sprintf("alert rule %q has unknown operator %q", rule.Name, rule.Operator))
		}

		if raw.SustainedFor != "" {
			sustained, err := time.ParseDuration(raw.SustainedFor)
			if err != nil {
				return nil, errors.NewValidationError(
					fmt.Sprintf("alert rule %q has invalid sustained_for: %v", rule.Name, err))
			}
			rule.SustainedFor = sustained
		}

		if rule.Severity == "" {
			rule.Severity = SeverityWarning
		}

		rules = append(rules, rule)
	}

	return rules, nil
}

func validOperator(op string) bool {
	switch op {
	case ">", "<", ">=", "<=", "==", "!=":
		return true
	}
	return false
}

// holds reports whether value satisfies the rule's condition
func (r AlertRule) holds(value float64) bool {
	switch r.Operator {
	case ">":
		return value > r.Threshold
	case "<":
		return value < r.Threshold
	case ">=":
		return value >= r.Threshold
	case "<=":
		return value <= r.Threshold
	case "==":
		return value == r.Threshold
	case "!=":
		return value != r.Threshold
	default:
		return false
	}
}
