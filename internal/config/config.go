package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every tunable the relay daemon reads at startup. Values come
// from CAMRELAY_* environment variables, optionally seeded from a .env file.
type Config struct {
	ListenAddr   string
	ControlToken string
	LogLevel     string
	LogFormat    string

	FFmpegPath    string
	OutputRoot    string
	RecordingRoot string
	PublicBaseURL string

	Timezone string

	ReadinessTimeout    time.Duration
	KillGracePeriod     time.Duration
	HeartbeatTimeout    time.Duration
	ReapInterval        time.Duration
	SettleDelay         time.Duration
	FinalizationTimeout time.Duration

	PostgresDSN     string
	ConfigFile      string
	RedisAddr       string
	RedisPassword   string
	CalendarURL     string
	CalendarTimeout time.Duration

	RecordMode           string
	RecordSegmentMinutes int
}

// LoadEnvFile seeds the process environment from the given .env files. A
// missing file is not an error; system environment always wins.
func LoadEnvFile(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

// FromEnv builds a Config from the environment, applying defaults.
func FromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:   envOrDefault("CAMRELAY_LISTEN_ADDR", ":8085"),
		ControlToken: strings.TrimSpace(os.Getenv("CAMRELAY_CONTROL_TOKEN")),
		LogLevel:     envOrDefault("CAMRELAY_LOG_LEVEL", "info"),
		LogFormat:    envOrDefault("CAMRELAY_LOG_FORMAT", "json"),

		FFmpegPath:    envOrDefault("CAMRELAY_FFMPEG_PATH", "ffmpeg"),
		OutputRoot:    envOrDefault("CAMRELAY_OUTPUT_ROOT", "./data/live"),
		RecordingRoot: envOrDefault("CAMRELAY_RECORDING_ROOT", "./data/recordings"),
		PublicBaseURL: strings.TrimSpace(os.Getenv("CAMRELAY_PUBLIC_BASE_URL")),

		Timezone: envOrDefault("CAMRELAY_TIMEZONE", "Asia/Shanghai"),

		ReadinessTimeout:    envDuration("CAMRELAY_READINESS_TIMEOUT", 30*time.Second),
		KillGracePeriod:     envDuration("CAMRELAY_KILL_GRACE_PERIOD", 5*time.Second),
		HeartbeatTimeout:    envDuration("CAMRELAY_HEARTBEAT_TIMEOUT", 60*time.Second),
		ReapInterval:        envDuration("CAMRELAY_REAP_INTERVAL", 30*time.Second),
		SettleDelay:         envDuration("CAMRELAY_SETTLE_DELAY", 2*time.Second),
		FinalizationTimeout: envDuration("CAMRELAY_FINALIZATION_TIMEOUT", 60*time.Second),

		PostgresDSN:     strings.TrimSpace(os.Getenv("CAMRELAY_POSTGRES_DSN")),
		ConfigFile:      envOrDefault("CAMRELAY_CONFIG_FILE", "./data/channels.json"),
		RedisAddr:       strings.TrimSpace(os.Getenv("CAMRELAY_REDIS_ADDR")),
		RedisPassword:   strings.TrimSpace(os.Getenv("CAMRELAY_REDIS_PASSWORD")),
		CalendarURL:     envOrDefault("CAMRELAY_CALENDAR_URL", "https://timor.tech/api/holiday/info/%s"),
		CalendarTimeout: envDuration("CAMRELAY_CALENDAR_TIMEOUT", 5*time.Second),

		RecordMode:           envOrDefault("CAMRELAY_RECORD_MODE", "segmented"),
		RecordSegmentMinutes: envInt("CAMRELAY_RECORD_SEGMENT_MINUTES", 30),
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return cfg, fmt.Errorf("invalid CAMRELAY_TIMEZONE %q: %w", cfg.Timezone, err)
	}
	if cfg.ReadinessTimeout <= 0 || cfg.KillGracePeriod <= 0 {
		return cfg, fmt.Errorf("timeouts must be positive")
	}
	return cfg, nil
}

// Location resolves the configured timezone. Callers should validate via
// FromEnv first; on failure the local zone is returned.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func envOrDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
