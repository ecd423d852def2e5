// Package api exposes the control surface of the relay daemon: channel
// watch/stop/heartbeat, recording enable/disable, schedule reloads, and the
// status, health, and metrics endpoints.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"camrelay/internal/config"
	"camrelay/internal/models"
	"camrelay/internal/observability/logging"
	"camrelay/internal/observability/metrics"
)

// Relay is the supervisor surface the handlers drive. Tests substitute a
// fake.
type Relay interface {
	EnsureWatching(ctx context.Context, channelID, source string, shape *models.OutputShape) (string, error)
	Stop(ctx context.Context, channelID string) error
	Heartbeat(channelID string)
	EnableRecording(ctx context.Context, channelID, source string, shape *models.OutputShape, cfg models.RecordingConfig, plannedEnd time.Time) (string, error)
	DisableRecording(ctx context.Context, channelID string) error
	Status() models.SystemStatus
	Channels() []models.ChannelStatus
	UpdateGauges()
}

// Reloader is the schedule surface the handlers drive.
type Reloader interface {
	Reload(ctx context.Context) error
	ReloadSingle(ctx context.Context, entry models.ScheduleEntry) error
}

// Config assembles the router.
type Config struct {
	Relay    Relay
	Channels config.Repository
	Preload  Reloader
	Record   Reloader
	// Token, when non-empty, gates the /v1 surface behind a static bearer
	// token.
	Token   string
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// NewRouter wires the control API.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	h := &handler{
		relay:    cfg.Relay,
		channels: cfg.Channels,
		preload:  cfg.Preload,
		record:   cfg.Record,
		logger:   cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(logging.RequestLogger(logging.RequestLoggerConfig{Logger: cfg.Logger}))
	r.Use(func(next http.Handler) http.Handler {
		return metrics.HTTPMiddleware(cfg.Metrics, next)
	})

	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler(cfg.Relay.UpdateGauges))

	r.Route("/v1", func(r chi.Router) {
		r.Use(bearerAuth(cfg.Token))
		r.Route("/channels/{channelID}", func(r chi.Router) {
			r.Use(channelContext)
			r.Post("/watch", h.watch)
			r.Delete("/", h.stop)
			r.Post("/heartbeat", h.heartbeat)
			r.Post("/recording", h.enableRecording)
			r.Delete("/recording", h.disableRecording)
		})
		r.Get("/status", h.status)
		r.Post("/schedule/reload", h.reloadSchedules)
		r.Put("/schedule/{channelID}", h.reloadScheduleEntry)
	})
	return r
}
