package health

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// CommandProber probes by running a local introspection command. Exit code
// zero is UP; a non-zero exit, a missing binary or a timeout is DOWN.
type CommandProber struct {
	Name    string
	Args    []string
	Timeout time.Duration
	// ExpectOutput, when non-empty, additionally requires the trimmed
	// stdout to equal this value
	ExpectOutput string
}

// NewDockerProber probes a container's running flag via docker inspect
func NewDockerProber(containerID string, timeout time.Duration) *CommandProber {
	return &CommandProber{
		Name:         "docker",
		Args:         []string{"inspect", "-f", "{{.State.Running}}", containerID},
		Timeout:      timeout,
		ExpectOutput: "true",
	}
}

func (p *CommandProber) Kind() string {
	return "command"
}

// Probe runs the command once under the probe timeout
func (p *CommandProber) Probe(ctx context.Context) Result {
	return run(ctx, p.Timeout, func(ctx context.Context) (Verdict, string) {
		out, err := exec.CommandContext(ctx, p.Name, p.Args...).Output()
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return VerdictDown, "probe timed out"
			}
			return VerdictDown, err.Error()
		}

		if p.ExpectOutput != "" && strings.TrimSpace(string(out)) != p.ExpectOutput {
			return VerdictDown, "unexpected probe output: " + strings.TrimSpace(string(out))
		}
		return VerdictUp, ""
	})
}
