// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command burrowd runs the traffic monitoring daemon: it ingests observed
// HTTP exchanges, enforces block rules, classifies tunnel activity and
// serves the query API and live event stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/burrow/internal/api"
	"grimm.is/burrow/internal/blocklist"
	"grimm.is/burrow/internal/bus"
	"grimm.is/burrow/internal/classifier"
	"grimm.is/burrow/internal/config"
	"grimm.is/burrow/internal/ingest"
	"grimm.is/burrow/internal/logging"
	"grimm.is/burrow/internal/metrics"
	"grimm.is/burrow/internal/pipeline"
	"grimm.is/burrow/internal/stats"
	"grimm.is/burrow/internal/store"
	"grimm.is/burrow/internal/traffic"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to HCL config file")
	listen := flag.String("listen", "", "listen address override")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("burrowd", version)
		return
	}

	if err := run(*configPath, *listen); err != nil {
		fmt.Fprintln(os.Stderr, "burrowd:", err)
		os.Exit(1)
	}
}

func run(configPath, listenOverride string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if listenOverride != "" {
		cfg.Listen = listenOverride
	}

	logCfg := logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}
	if cfg.Log.Syslog != nil {
		logCfg.Syslog = *cfg.Log.Syslog
	}
	logger := logging.New(logCfg)
	logger.Info("burrowd starting", "version", version, "listen", cfg.Listen)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	broadcast := bus.New(logger,
		bus.WithMaxQueue(cfg.MaxQueue),
		bus.WithDropHook(func() { collector.SubscriberDrops.Inc() }))
	defer broadcast.Close()

	cls, err := classifier.New(cfg.Classifier.Build())
	if err != nil {
		return err
	}

	recent := store.NewRecentWindow(cfg.RecentCap)

	var archive *store.Archive
	if cfg.ArchivePath != "" {
		archive, err = store.OpenArchive(cfg.ArchivePath)
		if err != nil {
			return err
		}
		defer archive.Close()
		logger.Info("archive opened", "path", cfg.ArchivePath, "retention", cfg.Retention())
	}

	statsOpts := []stats.Option{
		stats.WithWindowSize(cfg.Stats.Window),
		stats.WithCadence(cfg.StatsCadence()),
	}
	if cfg.GeoIPDB != "" {
		geo, err := geoip2.Open(cfg.GeoIPDB)
		if err != nil {
			return err
		}
		defer geo.Close()
		statsOpts = append(statsOpts, stats.WithGeoIP(geo))
		logger.Info("geoip enrichment enabled", "db", cfg.GeoIPDB)
	}
	aggregator := stats.New(broadcast, logger, statsOpts...)

	engineOpts := []pipeline.Option{pipeline.WithMetrics(collector)}
	if archive != nil {
		engineOpts = append(engineOpts, pipeline.WithArchive(archive))
	}
	if cfg.Workers > 0 {
		engineOpts = append(engineOpts, pipeline.WithWorkers(cfg.Workers))
	}
	engine := pipeline.New(ingest.NewAdapter(cfg.BodyCap), blocklist.NewStore(), cls,
		broadcast, recent, logger, engineOpts...)

	if err := seedRules(engine, cfg.BlockRules); err != nil {
		return err
	}

	engine.Start()
	defer engine.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go aggregator.Run(ctx)
	go maintain(ctx, logger, collector, broadcast, archive, cfg.Retention())

	server := api.NewServer(api.ServerOptions{
		Engine:    engine,
		Recent:    recent,
		Archive:   archive,
		Stats:     aggregator,
		Broadcast: broadcast,
		Logger:    logger,
		Registry:  registry,
	})
	httpSrv := server.HTTPServer(cfg.Listen)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", cfg.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	return nil
}

// seedRules installs the rules configured at startup.
func seedRules(engine *pipeline.Engine, rules []config.BlockRuleConfig) error {
	for _, rc := range rules {
		rule := traffic.BlockRule{
			Kind:    traffic.RuleKind(rc.Kind),
			Value:   rc.Value,
			Method:  rc.Method,
			Pattern: rc.Pattern,
			Field:   rc.Field,
			Reason:  rc.Reason,
		}
		if rule.Kind == traffic.RuleEndpoint && rule.Method == "" {
			rule.Method = "ALL"
		}
		if _, err := engine.AddRule(rule); err != nil {
			return err
		}
	}
	return nil
}

// maintain runs background housekeeping: subscriber gauge refresh and
// archive pruning.
func maintain(ctx context.Context, logger *logging.Logger, collector *metrics.Collector,
	broadcast *bus.Broadcaster, archive *store.Archive, retention time.Duration) {
	gaugeTicker := time.NewTicker(15 * time.Second)
	defer gaugeTicker.Stop()
	pruneTicker := time.NewTicker(time.Hour)
	defer pruneTicker.Stop()

	for {
		select {
		case <-gaugeTicker.C:
			collector.Subscribers.Set(float64(broadcast.Len()))
		case <-pruneTicker.C:
			if archive == nil {
				continue
			}
			n, err := archive.Prune(time.Now().Add(-retention))
			if err != nil {
				logger.Warn("archive prune failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("archive pruned", "rows", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
