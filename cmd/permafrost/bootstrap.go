package main

import (
	"context"
	"fmt"
	"time"

	"permafrost-hq/permafrost/pkg/config"
	"permafrost-hq/permafrost/pkg/retention"
	"permafrost-hq/permafrost/pkg/retention/archive"
	"permafrost-hq/permafrost/pkg/retention/audit"
	"permafrost-hq/permafrost/pkg/retention/engine"
	"permafrost-hq/permafrost/pkg/retention/notify"
	"permafrost-hq/permafrost/pkg/retention/policy"
	"permafrost-hq/permafrost/pkg/retention/scheduler"
	"permafrost-hq/permafrost/pkg/retention/veto"
	"permafrost-hq/permafrost/pkg/telemetry/health"
	"permafrost-hq/permafrost/pkg/telemetry/metrics"
)

// serviceRuntime holds the assembled retention service and everything
// it needs shut down in order.
type serviceRuntime struct {
	engine    *engine.Engine
	events    audit.Log
	collector *metrics.Collector
	checker   *health.Checker
	watcher   *archive.TamperWatcher
	closers   []func() error
}

// Close releases runtime resources in reverse construction order.
func (rt *serviceRuntime) Close() {
	if rt.watcher != nil {
		rt.watcher.Stop()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i]()
	}
}

// buildRuntime assembles the retention service from validated
// configuration.
func buildRuntime(cfg *config.Config) (*serviceRuntime, error) {
	rt := &serviceRuntime{}

	policies := make([]retention.Policy, 0, len(cfg.Policies))
	for _, pc := range cfg.Policies {
		policies = append(policies, retention.Policy{
			KBName:               pc.KBName,
			RetentionDays:        pc.RetentionDays,
			Immutable:            pc.Immutable,
			TieredStorage:        pc.TieredStorage,
			ManualPurgeAllowed:   pc.ManualPurgeAllowed,
			AutoArchive:          pc.AutoArchive,
			DeduplicationAllowed: pc.DeduplicationAllowed,
			RequiresApproval:     pc.RequiresApproval,
		})
	}
	registry, err := policy.NewRegistry(policies)
	if err != nil {
		return nil, fmt.Errorf("building policy registry: %w", err)
	}

	var events audit.Log
	switch cfg.Audit.Backend {
	case "sqlite":
		events, err = audit.NewSQLiteLog(&audit.SQLiteConfig{
			Path:        cfg.Audit.SQLitePath,
			BusyTimeout: cfg.Audit.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
	default:
		events = audit.NewMemoryLog()
	}
	rt.events = events
	rt.closers = append(rt.closers, events.Close)

	var backend archive.Backend
	var fsBackend *archive.FilesystemBackend
	switch cfg.Storage.Backend {
	case "filesystem":
		fsBackend, err = archive.NewFilesystemBackend(cfg.Storage.Root)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("opening tier storage: %w", err)
		}
		backend = fsBackend
	default:
		backend = archive.NewMemoryBackend()
	}

	index := archive.NewIndex()
	if cfg.Storage.IndexPath != "" {
		store, err := archive.NewSQLiteIndexStore(cfg.Storage.IndexPath)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("opening archival index store: %w", err)
		}
		rt.closers = append(rt.closers, store.Close)
		index, err = archive.NewIndexWithStore(store)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("loading archival index: %w", err)
		}
	}

	var codec *archive.StandardCodec
	if keys := config.DecodeEncryptionKeys(&cfg.Storage); len(keys) > 0 {
		codec = archive.NewStandardCodec(archive.NewStaticKeyResolver(keys))
	} else {
		codec = archive.NewStandardCodec(nil)
	}

	notifier := notify.NewLogNotifier()

	manager := archive.NewManager(index, backend, codec, registry, events, notifier,
		archive.ManagerConfig{
			BatchSize:              cfg.Archival.BatchSize,
			RedundancyFactor:       cfg.Archival.RedundancyFactor,
			ColdArchiveHorizonDays: cfg.Archival.ColdArchiveHorizonDays,
			ColdKeyHandle:          cfg.Archival.ColdKeyHandle,
			EscalateTo:             cfg.Notification.EscalateTo,
			DedupBlockSize:         cfg.Archival.DedupBlockSize,
		})

	gate := veto.NewGate(registry, veto.Config{
		Enabled:                cfg.Veto.Enabled == nil || *cfg.Veto.Enabled,
		VetoWindowHours:        cfg.Veto.VetoWindowHours,
		AutoApproveAfterWindow: cfg.Veto.AutoApproveAfterWindow,
	})

	rt.engine = engine.New(registry, manager, gate, events, notifier,
		engine.Config{
			WarmAfterDays: cfg.Archival.WarmAfterDays,
			ColdAfterDays: cfg.Archival.ColdAfterDays,
			ReviewTo:      cfg.Notification.ReviewTo,
		},
		scheduler.Config{
			DailySchedule:   cfg.Scheduler.DailySchedule,
			WeeklySchedule:  cfg.Scheduler.WeeklySchedule,
			MonthlySchedule: cfg.Scheduler.MonthlySchedule,
			AnnualSchedule:  cfg.Scheduler.AnnualSchedule,
		})

	if cfg.Telemetry.Metrics.Enabled == nil || *cfg.Telemetry.Metrics.Enabled {
		rt.collector = metrics.NewCollector(nil)
		rt.engine.SetMetrics(rt.collector)
	}

	rt.checker = health.New(0)
	rt.checker.RegisterCheck("audit", func(ctx context.Context) error {
		_, err := events.Count(ctx, &audit.Query{Limit: 1})
		return err
	})

	if fsBackend != nil && (cfg.Archival.TamperWatch == nil || *cfg.Archival.TamperWatch) {
		debounce := cfg.Archival.TamperDebounce
		if debounce <= 0 {
			debounce = 500 * time.Millisecond
		}
		rt.watcher, err = archive.NewTamperWatcher(fsBackend, manager, debounce)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("starting tamper watcher: %w", err)
		}
	}

	return rt, nil
}
