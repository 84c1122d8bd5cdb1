// Package main is the entry point for the G6 options-market telemetry
// and analytics platform. It wires configuration, the market-data
// provider, the in-process event bus, the adaptive metrics and alert
// guards, and the collection-cycle orchestrator into a cron-scheduled
// background job and an HTTP/SSE front end, then waits for an
// interrupt to shut everything down gracefully.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/g6-platform/g6/internal/alerts"
	"github.com/g6-platform/g6/internal/config"
	"github.com/g6-platform/g6/internal/domain"
	"github.com/g6-platform/g6/internal/events"
	"github.com/g6-platform/g6/internal/expiry"
	"github.com/g6-platform/g6/internal/indexcfg"
	"github.com/g6-platform/g6/internal/metrics"
	"github.com/g6-platform/g6/internal/orchestrator"
	"github.com/g6-platform/g6/internal/provider"
	"github.com/g6-platform/g6/internal/scheduler"
	"github.com/g6-platform/g6/internal/server"
	"github.com/g6-platform/g6/pkg/logger"
)

// defaultIndices is the fallback universe used when G6_INDEX_CONFIG_PATH
// is unset, covering the index set named throughout the domain model.
func defaultIndices() []domain.IndexConfig {
	rules := []domain.ExpiryRule{domain.ThisWeek, domain.NextWeek, domain.ThisMonth, domain.NextMonth}
	names := []string{"NIFTY", "BANKNIFTY", "FINNIFTY", "MIDCPNIFTY", "SENSEX"}
	out := make([]domain.IndexConfig, 0, len(names))
	for _, n := range names {
		out = append(out, domain.IndexConfig{Name: n, Enabled: true, ExpiryRules: rules, StrikesITM: 10, StrikesOTM: 10})
	}
	return out
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting g6")

	indices := defaultIndices()
	if cfg.IndexConfigPath != "" {
		loaded, err := indexcfg.Load(cfg.IndexConfigPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.IndexConfigPath).Msg("failed to load index configuration")
		}
		indices = loaded
		log.Info().Int("indices", len(indices)).Msg("index universe loaded from file")
	}

	expirySvc := expiry.NewService()

	backend := provider.NewHTTPWSBackend(provider.WSBackendConfig{
		RESTBaseURL: cfg.ProviderRESTBaseURL,
		WSURL:       cfg.ProviderWSURL,
		HTTPTimeout: cfg.ProviderHTTPTimeout,
	}, log)
	backend.Start()
	defer backend.Stop()

	prov := provider.NewAdapter(backend, expirySvc, log)

	reg := metrics.New(metrics.GroupGating{Enable: cfg.EnableMetricGroups, Disable: cfg.DisableMetricGroups}, log)
	cardinality := metrics.NewCardinalityManager(reg, cfg.MetricsCardEnabled, cfg.MetricsCardATMWindow, cfg.MetricsCardRateLimitPerSec, cfg.MetricsCardChangeThreshold)

	bus := events.NewBus(events.Config{
		Capacity:           cfg.EventsBusCapacity,
		BacklogWarn:        cfg.EventsBacklogWarn,
		BacklogDegrade:     cfg.EventsBacklogDegrade,
		SnapshotGapMax:     cfg.EventsSnapshotGapMax,
		ForceFullRetry:     time.Duration(cfg.EventsForceFullRetrySeconds) * time.Second,
		TraceEnabled:       cfg.SSETrace,
		EmitLatencyCapture: cfg.SSEEmitLatencyCapture,
		Adaptive: events.AdaptiveConfig{
			ExitBacklogRatio: cfg.AdaptExitBacklogRatio,
			ExitWindow:       time.Duration(cfg.AdaptExitWindowSeconds) * time.Second,
			LatencyBudget:    time.Duration(cfg.AdaptLatBudgetMS) * time.Millisecond,
			ReentryCooldown:  time.Duration(cfg.AdaptReentryCooldownSecs) * time.Second,
			MinSamples:       cfg.AdaptMinSamples,
		},
	}, reg, log)
	eventMgr := events.NewManager(bus, log)

	interpGuard := alerts.NewInterpolationGuard(cfg.InterpFractionAlertThreshold, cfg.InterpFractionAlertStreak)
	// Row-count tolerance: a risk-notional drift is only attributed to
	// genuine repricing, not a shrinking option universe, when the row
	// count across the window moved less than this fraction.
	const riskRowTolerance = 0.05
	riskGuard := alerts.NewRiskDriftGuard(cfg.RiskDeltaDriftWindow, cfg.RiskDeltaDriftPct, riskRowTolerance)
	bucketGuard := alerts.NewBucketUtilGuard(cfg.RiskBucketUtilMin, cfg.RiskBucketUtilStreak)
	enricher := alerts.NewEnricher(cfg.SeverityRules, eventMgr)
	dispatcher := alerts.NewDispatcher(interpGuard, riskGuard, bucketGuard, enricher, alerts.DispatcherConfig{
		Enabled:         cfg.FollowupsEnabled,
		SuppressSeconds: cfg.FollowupsSuppressSeconds,
		Weights:         cfg.FollowupsWeights,
		WeightWindow:    cfg.FollowupsWeightWindow,
		DemoteThreshold: cfg.FollowupsDemoteThreshold,
		RecentCap:       200,
	}, eventMgr, reg)

	sink := orchestrator.NewCSVSink(cfg.DataDir)

	orch := orchestrator.New(cfg, indices, prov, expirySvc, reg, cardinality, eventMgr, sink, dispatcher, interpGuard, riskGuard, bucketGuard, log)

	if cfg.IndexConfigPath != "" && cfg.ConfigWatch {
		idxWatcher, err := indexcfg.NewWatcher(cfg.IndexConfigPath, true, log, orch.SetIndices)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start index configuration watcher")
		}
		defer idxWatcher.Stop()
	}

	sched := scheduler.New(log)
	cronSpec := "@every " + cfg.CycleInterval.String()
	if _, err := sched.AddJob(cronSpec, orch); err != nil {
		log.Fatal().Err(err).Str("spec", cronSpec).Msg("failed to schedule collection cycle")
	}
	sched.RunNow(orch)
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		BasicUser:            cfg.HTTPBasicUser,
		BasicPass:            cfg.HTTPBasicPass,
		CatalogHTTPEnabled:   cfg.CatalogHTTPEnabled,
		SnapshotCacheEnabled: cfg.SnapshotCacheEnabled,
	}, bus, reg, orch, log)

	httpSrv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.HTTPPort),
		Handler: srv.Router,
	}

	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("http server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server forced to shutdown")
	}

	log.Info().Msg("g6 stopped")
}
