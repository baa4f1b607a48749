// Package config handles application configuration from an optional YAML
// file and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/lo"
	"github.com/samber/oops"

	"mediarelay/internal/model"
)

// Supported state backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

const defaultConfigFile = "config.yaml"

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	AdminChatID      int64

	RedditClientID     string
	RedditClientSecret string
	RedditUserAgent    string

	StateBackend  string
	DatabasePath  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LogLevel string
	LogFile  string

	DefaultSources []string
	SourceLimit    int

	PollInterval     time.Duration
	ReloadInterval   time.Duration
	ReportSchedule   string
	ScratchDir       string
	ScratchRetention time.Duration

	DownloadWorkers int
	DownloadTimeout time.Duration
	RequestTimeout  time.Duration
	MediaSizeLimit  int64
	FFmpegPath      string

	RetryQueueMax    int
	RetryMaxAttempts int
	SendRate         float64

	PersistEachItem bool
	MetricsAddr     string
}

// Load reads configuration from CONFIG_FILE (default config.yaml, if
// present) and then from environment variables, which take precedence.
func Load() (*Config, error) {
	k := koanf.New(".")

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.In("config").With("config_file", path).Wrapf(fatal(err), "load config file")
		}
	}

	// Empty variables are skipped so they do not mask file values.
	envProvider := env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		if value == "" {
			return "", nil
		}
		return strings.ToLower(key), value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, oops.In("config").Wrapf(fatal(err), "load environment")
	}

	return fromKoanf(k)
}

// fatal marks err as a startup failure.
func fatal(err error) error {
	return fmt.Errorf("%w: %w", model.ErrFatalStartup, err)
}

func fromKoanf(k *koanf.Koanf) (*Config, error) {
	errs := oops.In("config").Code(model.ErrFatalStartup.Error())

	cfg := &Config{
		TelegramBotToken:   k.String("telegram_bot_token"),
		RedditClientID:     k.String("reddit_client_id"),
		RedditClientSecret: k.String("reddit_client_secret"),
		RedditUserAgent:    stringOr(k, "reddit_user_agent", "mediarelay/1.0"),
		StateBackend:       strings.ToLower(stringOr(k, "state_backend", BackendSQLite)),
		DatabasePath:       stringOr(k, "database_path", "./data/relay.db"),
		RedisAddr:          k.String("redis_addr"),
		RedisPassword:      k.String("redis_password"),
		LogLevel:           stringOr(k, "log_level", "info"),
		LogFile:            k.String("log_file"),
		ReportSchedule:     stringOr(k, "report_schedule", "0 8 * * *"),
		ScratchDir:         stringOr(k, "scratch_dir", "./data/scratch"),
		FFmpegPath:         k.String("ffmpeg_path"),
		MetricsAddr:        k.String("metrics_addr"),
		DefaultSources:     splitList(k.String("default_sources")),
	}

	if cfg.TelegramBotToken == "" {
		return nil, errs.Wrapf(model.ErrFatalStartup, "TELEGRAM_BOT_TOKEN is required")
	}

	raw := k.String("admin_chat_id")
	if raw == "" {
		return nil, errs.Wrapf(model.ErrFatalStartup, "ADMIN_CHAT_ID is required")
	}
	adminID, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return nil, errs.With("admin_chat_id", raw).Wrapf(fatal(err), "invalid ADMIN_CHAT_ID")
	}
	cfg.AdminChatID = adminID

	switch cfg.StateBackend {
	case BackendSQLite:
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, errs.Wrapf(model.ErrFatalStartup, "REDIS_ADDR is required when STATE_BACKEND=redis")
		}
	default:
		return nil, errs.With("state_backend", cfg.StateBackend).Wrapf(model.ErrFatalStartup, "unknown STATE_BACKEND")
	}

	if cfg.NeedsReddit() && (cfg.RedditClientID == "" || cfg.RedditClientSecret == "") {
		return nil, errs.Wrapf(model.ErrFatalStartup, "REDDIT_CLIENT_ID and REDDIT_CLIENT_SECRET are required")
	}

	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"redis_db", 0, &cfg.RedisDB},
		{"source_limit", 100, &cfg.SourceLimit},
		{"download_workers", 10, &cfg.DownloadWorkers},
		{"retry_queue_max", 500, &cfg.RetryQueueMax},
		{"retry_max_attempts", 5, &cfg.RetryMaxAttempts},
	}
	for _, it := range ints {
		v, err := intOr(k, it.key, it.def)
		if err != nil {
			return nil, errs.With("key", it.key).Wrapf(fatal(err), "invalid integer")
		}
		*it.dst = v
	}
	if cfg.SourceLimit < 100 {
		cfg.SourceLimit = 100
	}

	size, err := intOr(k, "media_size_limit", 50*1024*1024)
	if err != nil {
		return nil, errs.With("key", "media_size_limit").Wrapf(fatal(err), "invalid integer")
	}
	cfg.MediaSizeLimit = int64(size)

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"poll_interval", 60 * time.Second, &cfg.PollInterval},
		{"reload_interval", 300 * time.Second, &cfg.ReloadInterval},
		{"scratch_retention", 24 * time.Hour, &cfg.ScratchRetention},
		{"download_timeout", 2 * time.Minute, &cfg.DownloadTimeout},
		{"request_timeout", 30 * time.Second, &cfg.RequestTimeout},
	}
	for _, d := range durations {
		v, err := durationOr(k, d.key, d.def)
		if err != nil {
			return nil, errs.With("key", d.key).Wrapf(fatal(err), "invalid duration")
		}
		*d.dst = v
	}

	cfg.SendRate = 20
	if s := k.String("send_rate"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			return nil, errs.With("send_rate", s).Wrapf(model.ErrFatalStartup, "SEND_RATE must be a positive number")
		}
		cfg.SendRate = v
	}

	if s := k.String("persist_each_item"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return nil, errs.With("persist_each_item", s).Wrapf(fatal(err), "invalid PERSIST_EACH_ITEM")
		}
		cfg.PersistEachItem = v
	}

	return cfg, nil
}

// NeedsReddit reports whether any default source is served by the Reddit
// backend. An empty default list counts as needing Reddit because the
// persisted source list is unknown until the store is read.
func (c *Config) NeedsReddit() bool {
	if len(c.DefaultSources) == 0 {
		return true
	}
	return lo.SomeBy(c.DefaultSources, func(s string) bool {
		return !strings.HasPrefix(strings.ToLower(s), "feed:")
	})
}

// IsAdmin reports whether chatID is the configured operator.
func (c *Config) IsAdmin(chatID int64) bool {
	return c.AdminChatID != 0 && chatID == c.AdminChatID
}

func stringOr(k *koanf.Koanf, key, def string) string {
	if v := strings.TrimSpace(k.String(key)); v != "" {
		return v
	}
	return def
}

func intOr(k *koanf.Koanf, key string, def int) (int, error) {
	v := strings.TrimSpace(k.String(key))
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func durationOr(k *koanf.Koanf, key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(k.String(key))
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func splitList(raw string) []string {
	parts := lo.Map(strings.Split(raw, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	out := lo.Compact(parts)
	if len(out) == 0 {
		return nil
	}
	return out
}
