package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stackwatch/sentinel/internal/alerting"
	"github.com/stackwatch/sentinel/internal/alerting/channels"
	"github.com/stackwatch/sentinel/internal/api"
	"github.com/stackwatch/sentinel/internal/metricsource"
	"github.com/stackwatch/sentinel/internal/supervisor"
	"github.com/stackwatch/sentinel/pkg/config"
	"github.com/stackwatch/sentinel/pkg/logging"
	"github.com/stackwatch/sentinel/pkg/metrics"
	"github.com/stackwatch/sentinel/pkg/resilience"
	"github.com/stackwatch/sentinel/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "sentinel",
		Version:     "1.0.0",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	// Initialize tracing
	var tracer *tracing.TracingService
	if cfg.Tracing.Enabled {
		tracer, err = tracing.NewTracingService(&tracing.Config{
			ServiceName:    "sentinel",
			ServiceVersion: "1.0.0",
			JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
			SamplingRate:   cfg.Tracing.SamplingRate,
			Enabled:        true,
		})
		if err != nil {
			logger.Fatalf("Failed to initialize tracing: %v", err)
		}
	}

	m := metrics.NewMetrics(metrics.DefaultConfig())

	// One breaker per dependency, shared across all call sites
	breakers := resilience.NewRegistry(resilience.Config{
		WindowSize:           cfg.Breaker.SlidingWindowSize,
		MinimumCalls:         cfg.Breaker.MinimumCalls,
		FailureRateThreshold: cfg.Breaker.FailureRateThreshold,
		OpenDuration:         cfg.Breaker.OpenDuration,
		HalfOpenMaxCalls:     cfg.Breaker.HalfOpenMaxCalls,
		OnStateChange: func(name string, from, to resilience.State) {
			m.RecordBreakerTransition(name, from.String(), to.String(), to.Value())
		},
	})

	// Recovery action collaborator
	orch, err := supervisor.NewOrchestrator(cfg.Orchestrator, cfg.Retry, breakers, m)
	if err != nil {
		logger.Fatalf("Failed to initialize orchestrator: %v", err)
	}

	// Supervisor control loop
	sup := supervisor.New(supervisor.Config{
		Interval:         cfg.Probe.Interval,
		ProbeTimeout:     cfg.Probe.Timeout,
		Concurrency:      cfg.Probe.Concurrency,
		DownThreshold:    cfg.Probe.DownThreshold,
		Cooldown:         cfg.Probe.CooldownDuration,
		EscalationWindow: cfg.Probe.EscalationWindow,
		EscalationMax:    cfg.Probe.EscalationMax,
	}, orch, m, tracer)

	targets, err := supervisor.LoadTargets(cfg.Probe.TargetsFile)
	if err != nil {
		logger.Fatalf("Failed to load targets: %v", err)
	}
	if err := sup.RegisterTargets(targets); err != nil {
		logger.Fatalf("Failed to register targets: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Start(ctx); err != nil {
		logger.Fatalf("Failed to start supervisor: %v", err)
	}

	// Alert evaluation, enabled when a rules file is configured
	var (
		manager   *alerting.Manager
		evaluator *alerting.Evaluator
	)
	if cfg.Alerts.RulesFile != "" {
		rules, err := alerting.LoadRules(cfg.Alerts.RulesFile)
		if err != nil {
			logger.Fatalf("Failed to load alert rules: %v", err)
		}

		var source metricsource.Source
		if cfg.Alerts.PrometheusURL != "" {
			source, err = metricsource.NewPrometheusSource(cfg.Alerts.PrometheusURL, 10*time.Second)
			if err != nil {
				logger.Fatalf("Failed to initialize metrics source: %v", err)
			}
		} else {
			source = metricsource.NewStaticSource()
		}

		manager = alerting.NewManager(m)
		zapLogger, err := zap.NewProduction()
		if err != nil {
			logger.Fatalf("Failed to initialize notification logger: %v", err)
		}
		if cfg.Alerts.SlackWebhookURL != "" {
			manager.AddNotifier(channels.NewSlackNotifier(cfg.Alerts.SlackWebhookURL, zapLogger))
		}
		if cfg.Alerts.WebhookURL != "" {
			manager.AddNotifier(channels.NewWebhookNotifier(cfg.Alerts.WebhookURL, zapLogger))
		}

		evaluator = alerting.NewEvaluator(rules, source, manager, alerting.EvaluatorConfig{
			Interval: cfg.Alerts.EvaluationInterval,
		})
		if err := evaluator.Start(ctx); err != nil {
			logger.Fatalf("Failed to start alert evaluator: %v", err)
		}
	}

	// Status API
	router := api.NewRouter(cfg, api.Deps{
		Supervisor: sup,
		Breakers:   breakers,
		Alerts:     manager,
		Metrics:    m,
		Tracer:     tracer,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Starting status API", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut everything down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err.Error())
	}

	// Let the in-flight tick drain before exiting
	sup.Stop()
	if evaluator != nil {
		evaluator.Stop()
	}
	if tracer != nil {
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Tracer shutdown failed", "error", err.Error())
		}
	}

	logger.Info("Sentinel exited")
}
