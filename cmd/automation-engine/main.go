package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"automation-engine/config"
	"automation-engine/internal/collab"
	"automation-engine/internal/escalation"
	"automation-engine/internal/eventsource"
	mqttsource "automation-engine/internal/eventsource/mqtt"
	natssource "automation-engine/internal/eventsource/nats"
	"automation-engine/internal/logger"
	"automation-engine/internal/metrics"
	"automation-engine/internal/rule"
	"automation-engine/internal/scheduler"
	"automation-engine/internal/store"
	"automation-engine/internal/workflow"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to config file")

	// Optional override flags
	rulesDirOverride := flag.String("rules-dir", "", "override rule definitions directory (empty = use config)")
	workflowsDirOverride := flag.String("workflows-dir", "", "override workflow definitions directory (empty = use config)")
	workersOverride := flag.Int("workers", 0, "override number of dispatch workers (0 = use config)")
	queueSizeOverride := flag.Int("queue-size", 0, "override size of dispatch queue (0 = use config)")
	metricsAddrOverride := flag.String("metrics-addr", "", "override metrics server address (empty = use config)")
	metricsPathOverride := flag.String("metrics-path", "", "override metrics endpoint path (empty = use config)")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(
		*workersOverride,
		*queueSizeOverride,
		*metricsAddrOverride,
		*metricsPathOverride,
		*rulesDirOverride,
		*workflowsDirOverride,
	)

	logger, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	// Metrics
	var metricsService *metrics.Metrics
	var metricsServer *http.Server

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metricsService, err = metrics.NewMetrics(reg)
		if err != nil {
			logger.Fatal("failed to create metrics service", "error", err)
		}

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			Registry:          reg,
			EnableOpenMetrics: true,
		}))
		metricsServer = &http.Server{
			Addr:    cfg.Metrics.Address,
			Handler: mux,
		}

		go func() {
			logger.Info("starting metrics server",
				"address", cfg.Metrics.Address,
				"path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := scheduler.RealClock()
	stores := store.New(clock)

	// Collaborators. The webhook caller is real; notification and record
	// backends default to in-process implementations.
	notifier := collab.NewLogNotifier(logger)
	webhooks := collab.NewHTTPWebhookCaller()
	records := collab.NewMemoryRecordStore()
	sandbox := collab.NoScriptSandbox{}

	executor := rule.NewActionExecutor(notifier, webhooks, records, sandbox, clock, logger, metricsService)
	gate := rule.NewFrequencyGate(stores.Rules, stores.Digests, logger)

	leaseTTL := config.Interval(cfg.Engine.LeaseTTL, 5*time.Minute)
	dispatcher := rule.NewDispatcher(rule.DispatcherConfig{
		Workers:   cfg.Processing.Workers,
		QueueSize: cfg.Processing.QueueSize,
		LeaseTTL:  leaseTTL,
	}, stores.Rules, stores.Executions, stores.Digests, stores.Leases, gate, executor, clock, logger, metricsService)

	escalations := escalation.NewManager(stores.Escalations, executor, clock, logger, metricsService)
	executor.SetEscalator(escalations)

	engine := workflow.NewEngine(stores.Workflows, stores.Leases, notifier, webhooks, records, clock, logger, metricsService)
	executor.SetWorkflowStarter(engine)

	// Timers
	sched := scheduler.New(clock, logger)
	engine.SetWake(func(at time.Time, executionID string) {
		sched.At(at, "workflow-resume:"+executionID, func(ctx context.Context) {
			if err := engine.Resume(ctx, executionID, nil); err != nil {
				logger.Error("scheduled workflow resume failed",
					"executionId", executionID,
					"error", err)
			}
		})
	})

	sched.Every(config.Interval(cfg.Engine.ScheduleTickInterval, time.Minute), "schedule-tick", func(ctx context.Context) {
		dispatcher.TickSchedules(ctx, clock.Now())
	})
	sched.Every(config.Interval(cfg.Engine.EscalationSweepInterval, 30*time.Second), "escalation-sweep", func(ctx context.Context) {
		escalations.Sweep(ctx, clock.Now())
	})
	sched.Every(config.Interval(cfg.Engine.DigestSweepInterval, time.Minute), "digest-sweep", func(ctx context.Context) {
		dispatcher.FlushDigests(ctx, clock.Now())
	})
	sched.Every(config.Interval(cfg.Engine.ScheduleTickInterval, time.Minute), "workflow-resume-sweep", func(ctx context.Context) {
		engine.ResumeDue(ctx, clock.Now())
	})

	// Seed definitions from disk
	ruleLoader := rule.NewLoader(logger)
	rules, err := ruleLoader.LoadFromDirectory(cfg.Definitions.RulesDir)
	if err != nil {
		logger.Fatal("failed to load rules", "error", err)
	}
	for i := range rules {
		if err := stores.Rules.Save(ctx, &rules[i]); err != nil {
			logger.Fatal("failed to store rule", "ruleId", rules[i].ID, "error", err)
		}
	}

	workflowLoader := workflow.NewLoader(logger)
	workflows, err := workflowLoader.LoadFromDirectory(cfg.Definitions.WorkflowsDir)
	if err != nil {
		logger.Fatal("failed to load workflows", "error", err)
	}
	for i := range workflows {
		if err := stores.Workflows.SaveDefinition(ctx, &workflows[i]); err != nil {
			logger.Fatal("failed to store workflow", "workflowId", workflows[i].ID, "error", err)
		}
	}

	// Event sources feed both the rule dispatcher and the workflow engine.
	handler := eventsource.Handler(func(ctx context.Context, ev eventsource.Event) {
		if err := dispatcher.HandleEvent(ctx, ev.OrgID, ev.Name, ev.Payload); err != nil {
			logger.Error("event dispatch failed", "event", ev.Name, "error", err)
		}
		if err := engine.HandleEvent(ctx, ev.OrgID, ev.Name, ev.Payload); err != nil {
			logger.Error("event workflow start failed", "event", ev.Name, "error", err)
		}
	})

	var sources []eventsource.Source
	if cfg.Sources.NATS.Enabled {
		sources = append(sources, natssource.NewSource(&cfg.Sources.NATS, cfg.Engine.DefaultOrg, logger, metricsService))
	}
	if cfg.Sources.MQTT.Enabled {
		sources = append(sources, mqttsource.NewSource(&cfg.Sources.MQTT, cfg.Engine.DefaultOrg, logger, metricsService))
	}
	for _, src := range sources {
		if err := src.Start(ctx, handler); err != nil {
			logger.Fatal("failed to start event source", "error", err)
		}
	}

	sched.Start(ctx)

	logger.Info("automation-engine started",
		"workers", cfg.Processing.Workers,
		"queueSize", cfg.Processing.QueueSize,
		"rules", len(rules),
		"workflows", len(workflows),
		"natsEnabled", cfg.Sources.NATS.Enabled,
		"mqttEnabled", cfg.Sources.MQTT.Enabled,
		"metricsEnabled", cfg.Metrics.Enabled)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}

	for _, src := range sources {
		src.Close()
	}
	sched.Stop()
	cancel()
	dispatcher.Close()
}
