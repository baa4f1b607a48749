package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mediarelay/internal/model"
)

var envKeys = []string{
	"CONFIG_FILE", "TELEGRAM_BOT_TOKEN", "ADMIN_CHAT_ID",
	"REDDIT_CLIENT_ID", "REDDIT_CLIENT_SECRET", "REDDIT_USER_AGENT",
	"STATE_BACKEND", "DATABASE_PATH", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"LOG_LEVEL", "LOG_FILE", "DEFAULT_SOURCES", "SOURCE_LIMIT",
	"POLL_INTERVAL", "RELOAD_INTERVAL", "REPORT_SCHEDULE", "SCRATCH_DIR", "SCRATCH_RETENTION",
	"DOWNLOAD_WORKERS", "DOWNLOAD_TIMEOUT", "REQUEST_TIMEOUT", "MEDIA_SIZE_LIMIT", "FFMPEG_PATH",
	"RETRY_QUEUE_MAX", "RETRY_MAX_ATTEMPTS", "SEND_RATE", "PERSIST_EACH_ITEM", "METRICS_ADDR",
}

func defaults() *Config {
	return &Config{
		TelegramBotToken:   "tok",
		AdminChatID:        42,
		RedditClientID:     "id",
		RedditClientSecret: "secret",
		RedditUserAgent:    "mediarelay/1.0",
		StateBackend:       BackendSQLite,
		DatabasePath:       "./data/relay.db",
		LogLevel:           "info",
		SourceLimit:        100,
		PollInterval:       60 * time.Second,
		ReloadInterval:     300 * time.Second,
		ReportSchedule:     "0 8 * * *",
		ScratchDir:         "./data/scratch",
		ScratchRetention:   24 * time.Hour,
		DownloadWorkers:    10,
		DownloadTimeout:    2 * time.Minute,
		RequestTimeout:     30 * time.Second,
		MediaSizeLimit:     50 * 1024 * 1024,
		RetryQueueMax:      500,
		RetryMaxAttempts:   5,
		SendRate:           20,
	}
}

func TestLoad(t *testing.T) {
	base := map[string]string{
		"TELEGRAM_BOT_TOKEN":   "tok",
		"ADMIN_CHAT_ID":        "42",
		"REDDIT_CLIENT_ID":     "id",
		"REDDIT_CLIENT_SECRET": "secret",
	}
	with := func(extra map[string]string) map[string]string {
		out := make(map[string]string, len(base)+len(extra))
		for k, v := range base {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}

	tests := []struct {
		name    string
		env     map[string]string
		want    func() *Config
		wantErr bool
	}{
		{
			name:    "missing token",
			env:     map[string]string{"ADMIN_CHAT_ID": "1"},
			wantErr: true,
		},
		{
			name:    "missing admin",
			env:     map[string]string{"TELEGRAM_BOT_TOKEN": "tok"},
			wantErr: true,
		},
		{
			name:    "invalid admin",
			env:     with(map[string]string{"ADMIN_CHAT_ID": "abc"}),
			wantErr: true,
		},
		{
			name:    "missing reddit credentials",
			env:     map[string]string{"TELEGRAM_BOT_TOKEN": "tok", "ADMIN_CHAT_ID": "42"},
			wantErr: true,
		},
		{
			name: "feed-only sources do not need reddit",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"ADMIN_CHAT_ID":      "42",
				"DEFAULT_SOURCES":    "feed:https://a.example.com/rss, feed:https://b.example.com/atom",
			},
			want: func() *Config {
				c := defaults()
				c.RedditClientID, c.RedditClientSecret = "", ""
				c.DefaultSources = []string{"feed:https://a.example.com/rss", "feed:https://b.example.com/atom"}
				return c
			},
		},
		{
			name: "defaults applied",
			env:  base,
			want: defaults,
		},
		{
			name: "all values set",
			env: with(map[string]string{
				"STATE_BACKEND":      "redis",
				"REDIS_ADDR":         "localhost:6379",
				"REDIS_DB":           "2",
				"LOG_LEVEL":          "debug",
				"DEFAULT_SOURCES":    "pics, ,videos",
				"SOURCE_LIMIT":       "250",
				"POLL_INTERVAL":      "30",
				"RELOAD_INTERVAL":    "10m",
				"DOWNLOAD_WORKERS":   "4",
				"MEDIA_SIZE_LIMIT":   "1024",
				"RETRY_MAX_ATTEMPTS": "3",
				"SEND_RATE":          "2.5",
				"PERSIST_EACH_ITEM":  "true",
				"METRICS_ADDR":       ":9090",
			}),
			want: func() *Config {
				c := defaults()
				c.StateBackend = BackendRedis
				c.RedisAddr = "localhost:6379"
				c.RedisDB = 2
				c.LogLevel = "debug"
				c.DefaultSources = []string{"pics", "videos"}
				c.SourceLimit = 250
				c.PollInterval = 30 * time.Second
				c.ReloadInterval = 10 * time.Minute
				c.DownloadWorkers = 4
				c.MediaSizeLimit = 1024
				c.RetryMaxAttempts = 3
				c.SendRate = 2.5
				c.PersistEachItem = true
				c.MetricsAddr = ":9090"
				return c
			},
		},
		{
			name: "source limit floor",
			env:  with(map[string]string{"SOURCE_LIMIT": "10"}),
			want: defaults,
		},
		{
			name:    "redis without address",
			env:     with(map[string]string{"STATE_BACKEND": "redis"}),
			wantErr: true,
		},
		{
			name:    "unknown backend",
			env:     with(map[string]string{"STATE_BACKEND": "dropbox"}),
			wantErr: true,
		},
		{
			name:    "invalid duration",
			env:     with(map[string]string{"POLL_INTERVAL": "soon"}),
			wantErr: true,
		},
		{
			name:    "invalid send rate",
			env:     with(map[string]string{"SEND_RATE": "-1"}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear relevant env vars
			for _, key := range envKeys {
				t.Setenv(key, "")
			}
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Load()
			if tt.wantErr {
				if !errors.Is(err, model.ErrFatalStartup) {
					t.Fatalf("Load() error = %v, want ErrFatalStartup", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want(), got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	t.Chdir(dir)

	yml := `telegram_bot_token: file-token
admin_chat_id: 7
reddit_client_id: id
reddit_client_secret: secret
poll_interval: 90s
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("POLL_INTERVAL", "45s")

	got, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := defaults()
	want.TelegramBotToken = "file-token"
	want.AdminChatID = 7
	want.PollInterval = 45 * time.Second
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestIsAdmin(t *testing.T) {
	tests := []struct {
		name   string
		admin  int64
		chatID int64
		want   bool
	}{
		{name: "matching admin", admin: 10, chatID: 10, want: true},
		{name: "other chat", admin: 10, chatID: 11, want: false},
		{name: "no admin configured", admin: 0, chatID: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{AdminChatID: tt.admin}
			if diff := cmp.Diff(tt.want, cfg.IsAdmin(tt.chatID)); diff != "" {
				t.Errorf("IsAdmin() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
