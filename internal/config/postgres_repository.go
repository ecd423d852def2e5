package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"camrelay/internal/models"
)

// PostgresConfig describes how the repository initialises its connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
	ApplicationName string
	QueryTimeout    time.Duration
}

type postgresRepository struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgresRepository opens the Postgres-backed configuration store and
// bootstraps its schema when missing.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	repo := &postgresRepository{pool: pool, queryTimeout: cfg.QueryTimeout}
	if repo.queryTimeout <= 0 {
		repo.queryTimeout = 5 * time.Second
	}
	if err := repo.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *postgresRepository) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS relay_channels (
			channel_id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			source_address TEXT NOT NULL,
			shape_width INTEGER,
			shape_height INTEGER,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS relay_schedules (
			channel_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			workdays_only BOOLEAN NOT NULL DEFAULT FALSE,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (channel_id, kind)
		)`,
	}
	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (r *postgresRepository) Channel(ctx context.Context, channelID string) (models.ChannelConfig, error) {
	queryCtx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	var (
		cfg    models.ChannelConfig
		width  *int
		height *int
	)
	row := r.pool.QueryRow(queryCtx,
		`SELECT channel_id, title, source_address, shape_width, shape_height
		 FROM relay_channels WHERE channel_id = $1`, channelID)
	if err := row.Scan(&cfg.ChannelID, &cfg.Title, &cfg.SourceAddress, &width, &height); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ChannelConfig{}, ErrNotFound
		}
		return models.ChannelConfig{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if width != nil && height != nil {
		cfg.OutputShape = &models.OutputShape{Width: *width, Height: *height}
	}
	return cfg, nil
}

func (r *postgresRepository) ScheduleEntries(ctx context.Context, kind models.ScheduleKind) ([]models.ScheduleEntry, error) {
	queryCtx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(queryCtx,
		`SELECT channel_id, start_time, end_time, workdays_only, enabled
		 FROM relay_schedules WHERE kind = $1 ORDER BY channel_id`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var entries []models.ScheduleEntry
	for rows.Next() {
		var entry models.ScheduleEntry
		if err := rows.Scan(&entry.ChannelID, &entry.StartTime, &entry.EndTime, &entry.WorkdaysOnly, &entry.Enabled); err != nil {
			return nil, fmt.Errorf("scan schedule entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return entries, nil
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
