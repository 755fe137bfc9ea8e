package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/stackwatch/sentinel/pkg/config"
	"github.com/stackwatch/sentinel/pkg/errors"
	"github.com/stackwatch/sentinel/pkg/metrics"
	"github.com/stackwatch/sentinel/pkg/resilience"
)

// Orchestrator issues recovery actions against monitored instances. The
// supervisor treats the call as fire-and-forget apart from logging and
// escalation accounting.
type Orchestrator interface {
	Restart(ctx context.Context, target Target) error
}

// DockerOrchestrator restarts containers through the local docker CLI
type DockerOrchestrator struct {
	Timeout time.Duration
}

// NewDockerOrchestrator creates an orchestrator shelling out to docker
func NewDockerOrchestrator(timeout time.Duration) *DockerOrchestrator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DockerOrchestrator{Timeout: timeout}
}

// Restart runs docker restart against the target's container
func (o *DockerOrchestrator) Restart(ctx context.Context, target Target) error {
	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	container := target.Address
	if target.Kind != "docker" {
		// Non-container targets are addressed by their instance ID
		container = target.ID
	}

	out, err := exec.CommandContext(ctx, "docker", "restart", container).CombinedOutput()
	if err != nil {
		return errors.NewRecoveryError(target.ID,
			fmt.Sprintf("docker restart failed: %s", strings.TrimSpace(string(out)))).
			WithCause(err)
	}
	return nil
}

// HTTPOrchestrator asks a remote orchestration API to restart instances.
// The API is itself a dependency, so calls go through a guarded client.
type HTTPOrchestrator struct {
	client *resilience.Client
}

// NewHTTPOrchestrator creates an orchestrator for the API at endpoint.
// Retries and per-attempt timeouts follow the guarded client retry
// configuration.
func NewHTTPOrchestrator(endpoint string, retry config.RetryConfig, registry *resilience.Registry, m *metrics.Metrics) *HTTPOrchestrator {
	return &HTTPOrchestrator{
		client: resilience.NewClient(resilience.ClientConfig{
			Dependency:  "orchestrator",
			BaseURL:     endpoint,
			CallTimeout: retry.CallTimeout,
			MaxAttempts: retry.MaxAttempts,
			Backoff:     resilience.ExponentialBackoff(retry.BackoffBase, retry.BackoffMax),
			Breaker:     registry.Get("orchestrator"),
			Metrics:     m,
		}),
	}
}

// Restart posts a restart request keyed by instance ID
func (o *HTTPOrchestrator) Restart(ctx context.Context, target Target) error {
	err := o.client.DoJSON(ctx, http.MethodPost,
		fmt.Sprintf("/instances/%s/restart", target.ID), nil, nil)
	if err != nil {
		return errors.NewRecoveryError(target.ID, "orchestrator rejected restart request").
			WithCause(err)
	}
	return nil
}

// NewOrchestrator selects the orchestrator implementation from configuration
func NewOrchestrator(cfg config.OrchestratorConfig, retry config.RetryConfig, registry *resilience.Registry, m *metrics.Metrics) (Orchestrator, error) {
	switch cfg.Kind {
	case "docker":
		return NewDockerOrchestrator(cfg.Timeout), nil
	case "http":
		return NewHTTPOrchestrator(cfg.Endpoint, retry, registry, m), nil
	default:
		return nil, errors.NewValidationError(
			fmt.Sprintf("unknown orchestrator kind %q", cfg.Kind))
	}
}
