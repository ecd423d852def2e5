// Command relayd runs the camrelay control plane: the process supervisor,
// idle reaper, recording pipeline, time-window schedulers, and the HTTP
// control API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"camrelay/internal/api"
	"camrelay/internal/config"
	"camrelay/internal/models"
	"camrelay/internal/observability/logging"
	"camrelay/internal/observability/metrics"
	"camrelay/internal/recording"
	"camrelay/internal/schedule"
	"camrelay/internal/serverutil"
	"camrelay/internal/supervisor"
	"camrelay/internal/workday"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "relayd:", err)
		os.Exit(1)
	}
}

func run() error {
	config.LoadEnvFile()
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	recorder := metrics.Default()
	loc := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := newRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("configuration repository: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.Close(closeCtx); err != nil {
			logger.Warn("close configuration repository", "error", err)
		}
	}()

	classifier, err := newClassifier(cfg, loc, logger, recorder)
	if err != nil {
		return fmt.Errorf("workday classifier: %w", err)
	}

	finalizer := recording.NewFinalizer(recording.FinalizerConfig{
		Remuxer:     recording.FFmpegRemuxer{Path: cfg.FFmpegPath},
		SettleDelay: cfg.SettleDelay,
		Timeout:     cfg.FinalizationTimeout,
		Logger:      logging.WithComponent(logger, "recording"),
		Metrics:     recorder,
	})

	sup, err := supervisor.New(supervisor.Config{
		FFmpegPath:       cfg.FFmpegPath,
		OutputRoot:       cfg.OutputRoot,
		RecordingRoot:    cfg.RecordingRoot,
		PublicBaseURL:    cfg.PublicBaseURL,
		ReadinessTimeout: cfg.ReadinessTimeout,
		KillGracePeriod:  cfg.KillGracePeriod,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		Logger:           logging.WithComponent(logger, "supervisor"),
		Metrics:          recorder,
		Finalizer:        finalizer,
	})
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	recordDefaults, err := models.RecordingConfig{
		Mode:           models.RecordingMode(cfg.RecordMode),
		SegmentMinutes: cfg.RecordSegmentMinutes,
	}.Normalize()
	if err != nil {
		return fmt.Errorf("record defaults: %w", err)
	}

	scheduleLogger := logging.WithComponent(logger, "schedule")
	preloadSched, err := schedule.New(schedule.Config{
		Kind:     models.SchedulePreload,
		Source:   repo,
		Actions:  &schedule.PreloadActions{Relay: sup, Source: repo, Logger: scheduleLogger},
		Workdays: classifier,
		Location: loc,
		Logger:   scheduleLogger,
		Metrics:  recorder,
	})
	if err != nil {
		return fmt.Errorf("preload scheduler: %w", err)
	}
	recordSched, err := schedule.New(schedule.Config{
		Kind:   models.ScheduleRecord,
		Source: repo,
		Actions: &schedule.RecordActions{
			Relay:    sup,
			Source:   repo,
			Defaults: recordDefaults,
			Location: loc,
			Logger:   scheduleLogger,
		},
		Workdays: classifier,
		Location: loc,
		Logger:   scheduleLogger,
		Metrics:  recorder,
	})
	if err != nil {
		return fmt.Errorf("record scheduler: %w", err)
	}

	// A failed initial load is degraded operation, not a startup failure:
	// the reload endpoint recovers once the source is reachable again.
	if err := preloadSched.Reload(ctx); err != nil {
		logger.Warn("initial preload schedule load", "error", err)
	}
	if err := recordSched.Reload(ctx); err != nil {
		logger.Warn("initial record schedule load", "error", err)
	}
	preloadSched.Start()
	recordSched.Start()
	defer preloadSched.Stop()
	defer recordSched.Stop()

	router := api.NewRouter(api.Config{
		Relay:    sup,
		Channels: repo,
		Preload:  preloadSched,
		Record:   recordSched,
		Token:    cfg.ControlToken,
		Logger:   logging.WithComponent(logger, "api"),
		Metrics:  recorder,
	})

	logger.Info("relayd starting", "listen_addr", cfg.ListenAddr, "timezone", cfg.Timezone)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return serverutil.Run(groupCtx, serverutil.Config{
			Server: &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			},
		})
	})
	group.Go(func() error {
		sup.RunReaper(groupCtx, cfg.ReapInterval)
		return nil
	})
	group.Go(func() error {
		classifier.RunDailyPrefetch(groupCtx)
		return nil
	})
	err = group.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sup.Shutdown(shutdownCtx)

	logger.Info("relayd stopped")
	return err
}

func newRepository(ctx context.Context, cfg config.Config) (config.Repository, error) {
	if cfg.PostgresDSN != "" {
		return config.NewPostgresRepository(ctx, config.PostgresConfig{
			DSN:             cfg.PostgresDSN,
			ApplicationName: "camrelay",
		})
	}
	return config.NewJSONRepository(cfg.ConfigFile)
}

func newClassifier(cfg config.Config, loc *time.Location, logger *slog.Logger, recorder *metrics.Recorder) (*workday.Classifier, error) {
	source, err := workday.NewHTTPSource(cfg.CalendarURL, &http.Client{Timeout: cfg.CalendarTimeout})
	if err != nil {
		return nil, err
	}
	cache := workday.NewMemoryCache(time.Now)
	if cfg.RedisAddr != "" {
		cache = workday.NewRedisCache(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}))
	}
	return workday.New(workday.Config{
		Source:   source,
		Cache:    cache,
		Location: loc,
		Logger:   logging.WithComponent(logger, "workday"),
		Metrics:  recorder,
	}), nil
}
