package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridianhealth/hr-analytics/internal/alert"
	alertpg "github.com/meridianhealth/hr-analytics/internal/alert/postgres"
	"github.com/meridianhealth/hr-analytics/internal/api"
	"github.com/meridianhealth/hr-analytics/internal/automation"
	autopg "github.com/meridianhealth/hr-analytics/internal/automation/postgres"
	"github.com/meridianhealth/hr-analytics/internal/cache"
	cachepg "github.com/meridianhealth/hr-analytics/internal/cache/postgres"
	"github.com/meridianhealth/hr-analytics/internal/compute"
	computepg "github.com/meridianhealth/hr-analytics/internal/compute/postgres"
	corecfg "github.com/meridianhealth/hr-analytics/internal/core/config"
	"github.com/meridianhealth/hr-analytics/internal/export"
	exportpg "github.com/meridianhealth/hr-analytics/internal/export/postgres"
	"github.com/meridianhealth/hr-analytics/internal/metric"
	"github.com/meridianhealth/hr-analytics/internal/migrations"
	"github.com/meridianhealth/hr-analytics/internal/server"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "hranalytics.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config_path", *configPath)

	// 2. Initialize Storage (PostgreSQL)
	db, err := computepg.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(db, cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Load Metric Catalog
	registry := metric.NewRegistry()
	if err := metric.LoadCatalog(cfg.Catalog.Dir, registry); err != nil {
		slog.Error("Failed to load metric catalog", "dir", cfg.Catalog.Dir, "error", err)
		os.Exit(1)
	}
	slog.Info("Metric catalog loaded",
		"metrics", registry.Len(),
		"categories", registry.Categories(),
	)

	// 4. Initialize Cache (redis with file-backed fallback + durable summaries)
	var (
		ephemeral   cache.Ephemeral
		redisHealth server.HealthChecker
	)
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Warn("Redis unreachable, falling back to file cache",
				"addr", cfg.Redis.Addr, "error", err)
		} else {
			defer redisCache.Close()
			ephemeral = redisCache
			redisHealth = redisCache
		}
	}
	if ephemeral == nil {
		fileCache, err := cache.NewFileCache(cfg.Cache.FileDir)
		if err != nil {
			slog.Error("Failed to initialize file cache", "dir", cfg.Cache.FileDir, "error", err)
			os.Exit(1)
		}
		ephemeral = fileCache
	}

	summaryStore := cachepg.NewSummaryStore(db)
	cacheLayer := cache.NewLayer(ephemeral, summaryStore, cfg.Cache.CacheTTL())

	if cfg.Cache.WarmUp {
		warmed := cacheLayer.WarmUp(context.Background(), catalogKeys(registry))
		slog.Info("Cache warm-up complete", "restored", warmed)
	}

	// 5. Initialize Compute Engine
	engine := compute.NewEngine(registry, computepg.NewDataSource(db))

	// 6. Initialize Automation (sweeper + runner)
	calcLog := autopg.NewCalcLog(db)
	sweeper := automation.NewSweeper(registry, engine, cacheLayer,
		autopg.NewScheduleStore(db), calcLog,
		automation.SweepOptions{
			WorkerCount: cfg.Automation.WorkerCount,
			MaxAge:      cfg.Cache.FreshnessMaxAge(),
		})

	// 7. Initialize Alerts
	ruleStore := alertpg.NewRuleStore(db)
	alertEngine := alert.NewEngine(registry, engine, cacheLayer, ruleStore,
		calcLog, alert.LogNotifier{}, cfg.Alerts.FreshnessMaxAge())

	// 8. Initialize Export + Sinks
	exporter := export.NewExporter(cfg.Export.Source, version)
	pusher := export.NewPusher(exporter, cfg.Export.SinkURLs(),
		exportpg.NewIntegrationLog(db), cfg.Export.Timeout())

	// 9. Initialize Server + API
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), db, redisHealth, cfg.Server.Mode)
	apiSvc := api.NewService(registry, engine, cacheLayer, sweeper, calcLog,
		ruleStore, alertEngine, exporter, pusher, cfg.Cache.FreshnessMaxAge())
	apiSvc.RegisterRoutes(srv.Engine)

	// 10. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Automation.Enabled {
		runner := automation.NewRunner(sweeper, cfg.Automation.Interval())
		if cfg.Alerts.Enabled {
			runner.AlertsFn = func(ctx context.Context) error {
				_, err := alertEngine.ProcessAlerts(ctx)
				return err
			}
		}
		retention := time.Duration(cfg.Automation.RetentionDays) * 24 * time.Hour
		runner.CleanupFn = func(ctx context.Context) error {
			removed, err := summaryStore.Cleanup(ctx, time.Now().UTC().Add(-retention))
			if err != nil {
				return err
			}
			slog.Info("Summary retention cleanup complete", "removed", removed)
			return nil
		}

		go func() {
			if err := runner.Start(ctx); err != nil {
				slog.Error("Automation runner stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("Automation runner disabled by config")
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// catalogKeys lists the unfiltered current-period key of every registered
// metric, the hot set restored into the ephemeral cache on startup.
func catalogKeys(registry *metric.Registry) []metric.Key {
	period := time.Now().UTC().Format("2006-01")
	keys := make([]metric.Key, 0, registry.Len())
	for _, def := range registry.ListAll() {
		keys = append(keys, metric.Key{
			Category:    def.Category,
			Name:        def.Name,
			FiltersHash: compute.HashFilters(nil),
			Period:      period,
		})
	}
	return keys
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
