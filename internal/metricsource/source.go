// Package metricsource abstracts where alert evaluation reads its numbers
// from. The evaluator only sees named samples; the query mechanism behind
// them is a collaborator detail.
package metricsource

import (
	"context"
	"sync"
)

// Sample is one numeric observation for a target
type Sample struct {
	Target string  `json:"target"`
	Value  float64 `json:"value"`
}

// Source answers metric queries for the alert evaluator
type Source interface {
	Query(ctx context.Context, expression string) ([]Sample, error)
}

// StaticSource serves samples from memory. It backs tests and local setups
// without a metrics store.
type StaticSource struct {
	mu      sync.RWMutex
	samples map[string][]Sample
}

// NewStaticSource creates an empty in-memory source
func NewStaticSource() *StaticSource {
	return &StaticSource{samples: make(map[string][]Sample)}
}

// Set replaces the samples returned for an expression
func (s *StaticSource) Set(expression string, samples ...Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[expression] = samples
}

// Query returns the configured samples for the expression
func (s *StaticSource) Query(ctx context.Context, expression string) ([]Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	samples := s.samples[expression]
	out := make([]Sample, len(samples))
	copy(out, samples)
	return out, nil
}
