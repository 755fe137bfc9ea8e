package metricsource

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/stackwatch/sentinel/pkg/logging"
)

// PrometheusSource evaluates PromQL expressions against a Prometheus server
type PrometheusSource struct {
	api     v1.API
	timeout time.Duration
	logger  *logging.Logger
}

// NewPrometheusSource creates a source querying the server at address
func NewPrometheusSource(address string, timeout time.Duration) (*PrometheusSource, error) {
	client, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &PrometheusSource{
		api:     v1.NewAPI(client),
		timeout: timeout,
		logger:  logging.GetLogger(),
	}, nil
}

// Query runs an instant PromQL query. Vector results yield one sample per
// series, keyed by the instance label when present; scalar results yield a
// single unkeyed sample.
func (s *PrometheusSource) Query(ctx context.Context, expression string) ([]Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	value, warnings, err := s.api.Query(ctx, expression, time.Now())
	if err != nil {
		return nil, fmt.Errorf("prometheus query %q failed: %w", expression, err)
	}
	for _, warning := range warnings {
		s.logger.Warn("Prometheus query warning", "expression", expression, "warning", warning)
	}

	switch result := value.(type) {
	case model.Vector:
		samples := make([]Sample, 0, len(result))
		for _, series := range result {
			samples = append(samples, Sample{
				Target: seriesTarget(series.Metric),
				Value:  float64(series.Value),
			})
		}
		return samples, nil
	case *model.Scalar:
		return []Sample{{Value: float64(result.Value)}}, nil
	default:
		return nil, fmt.Errorf("prometheus query %q returned unsupported type %s", expression, value.Type())
	}
}

// seriesTarget picks the label identifying a series' target
func seriesTarget(metric model.Metric) string {
	if instance, ok := metric["instance"]; ok {
		return string(instance)
	}
	if job, ok := metric["job"]; ok {
		return string(job)
	}
	return metric.String()
}
