package cli

import (
	"context"
	"fmt"

	"github.com/datallboy/dlqueue/internal/engine"
	"github.com/datallboy/dlqueue/internal/events"
	"github.com/datallboy/dlqueue/internal/extractor"
	"github.com/datallboy/dlqueue/internal/infra/config"
	"github.com/datallboy/dlqueue/internal/infra/logger"
	"github.com/datallboy/dlqueue/internal/metrics"
	"github.com/datallboy/dlqueue/internal/platform"
	"github.com/datallboy/dlqueue/internal/postaction"
	"github.com/datallboy/dlqueue/internal/store"
	"github.com/datallboy/dlqueue/internal/transfer"
)

const userAgent = "dlqueue"

// services is everything a command needs, built from one config.
type services struct {
	cfg     *config.Config
	log     *logger.Logger
	store   *store.PersistentStore
	items   *engine.ItemStore
	hub     *events.Hub
	metrics  *metrics.Metrics
	manager  *engine.Manager
	transfer *transfer.HTTPEngine
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (*store.PersistentStore, error) {
	dsn := cfg.Store.SQLitePath
	if cfg.Store.Driver == store.DriverPostgres {
		dsn = cfg.Store.PostgresDSN
	}
	return store.NewPersistentStore(ctx, cfg.Store.Driver, dsn, log)
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		MaxConcurrent:        cfg.Download.MaxConcurrent,
		MaxRetries:           cfg.Download.MaxRetries,
		PendingInterval:      cfg.Intervals.Pending,
		ScheduleInterval:     cfg.Intervals.Schedule,
		WatchdogInterval:     cfg.Intervals.Watchdog,
		AutoRename:           cfg.Download.AutoRename,
		OnCompletionCommand:  cfg.OnCompletion.Command,
		ShutdownOnCompletion: cfg.OnCompletion.Shutdown,
	}
}

// build wires the manager and its collaborators and restores persisted jobs.
func build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*services, error) {
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	hub := events.NewHub()
	items := engine.NewItemStore()

	agg := events.NewAggregator(events.Config{FlushInterval: cfg.Intervals.Flush}, items, events.MultiSink{hub, events.LogSink{Log: log}}, m)
	signals := events.NewSignaler(events.SinkFunc(agg.Emit), cfg.Signal.RatePerSec, cfg.Signal.Burst, log)

	tools := platform.NewTools(map[string]string{
		"ffmpeg": cfg.Download.FFmpegPath,
		"yt-dlp": cfg.Download.YtDlpPath,
	})
	for bin, feature := range tools.Missing() {
		log.Info("%s not found, %s disabled", bin, feature)
	}

	httpEngine := transfer.NewHTTPEngine(transfer.Config{
		ChunkSize:  cfg.Download.ChunkSize,
		UserAgent:  userAgent,
		FFmpegPath: cfg.Download.FFmpegPath,
	}, nil, log)

	mgr := engine.NewManager(engineConfig(cfg), log, engine.Deps{
		Items:     items,
		Engine:    httpEngine,
		Extractor: extractor.New(extractor.Config{YtDlpPath: cfg.Download.YtDlpPath, UserAgent: userAgent}, nil, log),
		Post: postaction.New(postaction.Config{
			Thumbnail:       cfg.Download.Thumbnail,
			Checksum:        cfg.Download.Checksum,
			ServerTimestamp: cfg.Download.ServerTimestamp,
			Notify:          cfg.Download.Notify,
		}, nil, nil, m, log),
		Aggregator: agg,
		Signals:    signals,
		Tools:      tools,
		Metrics:    m,
	})

	jobs, err := st.LoadAll(ctx)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	mgr.Restore(jobs)
	log.Info("Restored %d jobs from %s store", len(jobs), cfg.Store.Driver)

	return &services{cfg: cfg, log: log, store: st, items: items, hub: hub, metrics: m, manager: mgr, transfer: httpEngine}, nil
}

func (rt *services) save(ctx context.Context) error {
	return rt.store.SaveAll(ctx, rt.manager.Jobs())
}
