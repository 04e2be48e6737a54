package exporter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/canopy-network/utxo-exporter/app/exporter/controller"
	"github.com/canopy-network/utxo-exporter/pkg/commit"
	"github.com/canopy-network/utxo-exporter/pkg/config"
	"github.com/canopy-network/utxo-exporter/pkg/db"
	"github.com/canopy-network/utxo-exporter/pkg/distribution"
	"github.com/canopy-network/utxo-exporter/pkg/logging"
	"github.com/canopy-network/utxo-exporter/pkg/metrics"
	"github.com/canopy-network/utxo-exporter/pkg/redis"
	"github.com/canopy-network/utxo-exporter/pkg/retry"
	"github.com/canopy-network/utxo-exporter/pkg/scheduler"
	"github.com/canopy-network/utxo-exporter/pkg/source"
)

type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Registry     *prometheus.Registry
	Targets      []db.Target
	Orchestrator *commit.Orchestrator
	Scheduler    *scheduler.Scheduler
	RedisClient  *redis.Client
	// Server is nil when --status-addr is empty.
	Server *http.Server
}

// Initialize parses the command line and builds the application. Any failure
// here is fatal.
func Initialize(ctx context.Context) *App {
	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LoggingOptions())
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	app, err := New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Unable to initialize exporter", zap.Error(err))
	}
	return app
}

// New connects to every target, prepares their schema and picks the starting
// watermark.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	logger.Info("Starting UTXO exporter",
		zap.String("network", cfg.NetworkID.String()),
		zap.String("baseDir", cfg.BaseDir),
		zap.Strings("databases", cfg.RedactedDatabaseURLs()),
		zap.Duration("interval", cfg.Interval),
		zap.String("schedule", cfg.Schedule),
		zap.Uint64("ignoreDustAmounts", cfg.IgnoreDustAmounts),
		zap.Int("topCount", cfg.TopCount),
		zap.Uint64("topMinAmount", cfg.TopMinAmount))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	targets, watermarks, err := openTargets(ctx, logger, cfg.DatabaseURLs, cfg.InitializeDB)
	if err != nil {
		return nil, err
	}
	watermark := pickWatermark(logger, targets, watermarks)

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Targets:  targets,
	}

	var notifier scheduler.Notifier
	if cfg.RedisAddr != "" {
		client, err := redis.NewClient(ctx, logger, cfg.RedisAddr)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - run notifications will be disabled", zap.Error(err))
		} else {
			app.RedisClient = client
			notifier = redis.NewNotifier(client, cfg.RedisChannel, logger.Named("notifier"))
		}
	}

	src := &source.NodeSource{
		BaseDir:      cfg.BaseDir,
		Network:      cfg.NetworkID,
		ConsensusDir: cfg.ConsensusDir,
		Logger:       logger.Named("source"),
	}
	aggregator := distribution.NewAggregator(src, cfg.AggregationOptions(), logger.Named("aggregator"))

	app.Orchestrator = commit.New(targets, retry.FixedConfig(cfg.DBRetryCount, cfg.DBRetryInterval), logger.Named("commit"), m)
	app.Scheduler = scheduler.New(scheduler.Config{
		Interval:    cfg.Interval,
		Schedule:    cfg.CronSchedule,
		SourceRetry: cfg.SourceRetryInterval,
		Once:        cfg.Once,
	}, aggregator, app.Orchestrator, notifier, watermark, logger.Named("scheduler"), m)

	if cfg.StatusAddr != "" {
		ctler := controller.NewController(app.Scheduler, app.Orchestrator, reg, logger.Named("controller"))
		router, err := ctler.NewRouter()
		if err != nil {
			app.closeTargets()
			return nil, err
		}
		app.Server = &http.Server{Addr: cfg.StatusAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	}

	return app, nil
}

// openTargets opens, prepares and reads the watermark of every url in
// parallel. Results keep the order of urls. On error every target that did
// open is closed again.
func openTargets(ctx context.Context, logger *zap.Logger, urls []string, clear bool) ([]db.Target, []*int64, error) {
	targets := make([]db.Target, len(urls))
	watermarks := make([]*int64, len(urls))

	pool := pond.NewPool(len(urls))
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for i, url := range urls {
		group.SubmitErr(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			target, err := db.Open(groupCtx, logger.Named("db"), url)
			if err != nil {
				return fmt.Errorf("connect %s: %w", db.Redact(url), err)
			}
			targets[i] = target

			if err := target.EnsureSchema(groupCtx); err != nil {
				return fmt.Errorf("schema %s: %w", target.Name(), err)
			}
			if clear {
				logger.Warn("Clearing all stored runs", zap.String("target", target.Name()))
				if err := target.ClearAll(groupCtx); err != nil {
					return fmt.Errorf("clear %s: %w", target.Name(), err)
				}
			}
			ts, ok, err := target.ReadWatermark(groupCtx)
			if err != nil {
				return fmt.Errorf("read watermark %s: %w", target.Name(), err)
			}
			if ok {
				watermarks[i] = &ts
			}
			return nil
		})
	}

	err := group.Wait()
	// Wait returns on the first error; let the remaining tasks finish before
	// touching their results.
	pool.StopAndWait()
	if err != nil {
		for _, target := range targets {
			if target != nil {
				_ = target.Close()
			}
		}
		return nil, nil, err
	}
	return targets, watermarks, nil
}

// pickWatermark returns the watermark of the first target, in configured
// order, that has one. Disagreeing targets are logged.
func pickWatermark(logger *zap.Logger, targets []db.Target, watermarks []*int64) int64 {
	var (
		picked int64
		from   string
		found  bool
	)
	for i, wm := range watermarks {
		if wm == nil {
			continue
		}
		if !found {
			picked, from, found = *wm, targets[i].Name(), true
			continue
		}
		if *wm != picked {
			logger.Warn("Targets disagree on the last run",
				zap.String("using", from),
				zap.Int64("usingTimestamp", picked),
				zap.String("target", targets[i].Name()),
				zap.Int64("timestamp", *wm))
		}
	}
	if found {
		logger.Info("Resuming from last run",
			zap.String("target", from),
			zap.Time("lastRun", time.UnixMilli(picked).UTC()))
	} else {
		logger.Info("No previous run found")
	}
	return picked
}

// Start runs the status server and the scheduler until ctx is cancelled or,
// with --once, the first run is committed.
func (a *App) Start(ctx context.Context) {
	if a.Server != nil {
		go func() {
			a.Logger.Info("Starting status server", zap.String("addr", a.Server.Addr))
			if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error("Status server stopped", zap.Error(err))
			}
		}()
	}

	if err := a.Scheduler.Run(ctx); err != nil {
		a.Logger.Error("Scheduler stopped", zap.Error(err))
	}
	a.Stop()
}

// Stop releases every connection the app holds.
func (a *App) Stop() {
	if a.Server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = a.Server.Shutdown(shutdownCtx)
		cancel()
	}
	a.closeTargets()
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}
	a.Logger.Info("さようなら!")
	_ = a.Logger.Sync()
}

func (a *App) closeTargets() {
	for _, target := range a.Targets {
		if err := target.Close(); err != nil {
			a.Logger.Error("Failed to close database connection",
				zap.String("target", target.Name()),
				zap.Error(err))
		}
	}
}
