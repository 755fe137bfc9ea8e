package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/stackwatch/sentinel/pkg/errors"
	"github.com/stackwatch/sentinel/pkg/health"
)

// targetsFile is the on-disk shape of the targets configuration
type targetsFile struct {
	Targets []Target `json:"targets"`
}

// LoadTargets reads the monitored-instance list from a JSON file
func LoadTargets(path string) ([]Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets file %s: %w", path, err)
	}

	var file targetsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse targets file %s: %w", path, err)
	}

	seen := make(map[string]bool)
	for _, target := range file.Targets {
		if target.ID == "" {
			return nil, errors.NewValidationError("target is missing an id")
		}
		if seen[target.ID] {
			return nil, errors.NewValidationError(
				fmt.Sprintf("duplicate target id %q", target.ID))
		}
		seen[target.ID] = true

		if _, err := BuildProber(target, time.Second); err != nil {
			return nil, err
		}
	}

	return file.Targets, nil
}

// BuildProber constructs the prober matching a target's kind
func BuildProber(target Target, timeout time.Duration) (health.Prober, error) {
	switch target.Kind {
	case "http":
		return health.NewHTTPProber(target.Address, timeout), nil
	case "tcp":
		return health.NewTCPProber(target.Address, timeout), nil
	case "redis":
		return health.NewRedisProber(target.Address, target.Password, target.DB, timeout), nil
	case "docker":
		return health.NewDockerProber(target.Address, timeout), nil
	default:
		return nil, errors.NewValidationError(
			fmt.Sprintf("target %q has unknown probe kind %q", target.ID, target.Kind))
	}
}
