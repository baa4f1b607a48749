package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/samber/oops"
	slogmulti "github.com/samber/slog-multi"
	"golang.org/x/sync/errgroup"

	"mediarelay/internal/bot"
	"mediarelay/internal/config"
	"mediarelay/internal/delivery"
	"mediarelay/internal/fetcher"
	"mediarelay/internal/media"
	"mediarelay/internal/metrics"
	"mediarelay/internal/model"
	"mediarelay/internal/scheduler"
	"mediarelay/internal/source"
	"mediarelay/internal/state"
	"mediarelay/internal/storage"
)

// longPoll is how long a getUpdates request may be held open by Telegram.
const longPoll = 60 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log, closeLog, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		slog.Error("open log file", "path", cfg.LogFile, "error", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("relay failed", "error", err)
		closeLog()
		os.Exit(1)
	}
	log.Info("relay stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	st := state.New(store, cfg.DefaultSources, log)
	if err := st.Load(ctx); err != nil {
		return err
	}

	apiClient := &http.Client{Timeout: cfg.RequestTimeout}

	// Stored sources may name subreddits even when the defaults are feeds.
	var reddit source.Client
	if cfg.NeedsReddit() || source.NeedsReddit(st.Sources()) {
		if cfg.RedditClientID == "" || cfg.RedditClientSecret == "" {
			return oops.In("startup").
				With("sources", st.Sources()).
				Wrapf(model.ErrFatalStartup, "stored sources include subreddits, REDDIT_CLIENT_ID and REDDIT_CLIENT_SECRET are required")
		}
		reddit = source.NewReddit(apiClient, source.RedditConfig{
			ClientID:     cfg.RedditClientID,
			ClientSecret: cfg.RedditClientSecret,
			UserAgent:    cfg.RedditUserAgent,
		}, log)
	}
	sources := source.NewRouter(reddit, source.NewFeed(apiClient, cfg.RedditUserAgent, log))
	if err := sources.Check(ctx); err != nil {
		return err
	}

	scratch, err := fetcher.NewScratch(cfg.ScratchDir, log)
	if err != nil {
		return err
	}
	// Per-download deadlines are applied by the fetcher.
	fetch := fetcher.New(&http.Client{}, scratch.Dir(), cfg.DownloadWorkers, cfg.DownloadTimeout, log)

	var transcoder media.Transcoder = media.Gzip{}
	if cfg.FFmpegPath != "" {
		transcoder = media.FFmpeg{Binary: cfg.FFmpegPath, Fallback: media.Gzip{}}
	}

	tg, err := bot.New(cfg.TelegramBotToken, &http.Client{Timeout: cfg.RequestTimeout + longPoll}, st, sources, cfg, log)
	if err != nil {
		return err
	}

	m := metrics.New()

	queue := delivery.NewRetryQueue(cfg.RetryQueueMax, cfg.RetryMaxAttempts, 24*time.Hour, log)
	queue.OnRelease(scratch.Remove)
	deliverer := delivery.New(tg, st, queue, cfg.SendRate, m, log)

	sched, err := scheduler.New(scheduler.Deps{
		State:      st,
		Sources:    sources,
		Fetcher:    fetch,
		Deliverer:  deliverer,
		Queue:      queue,
		Transcoder: transcoder,
		Scratch:    scratch,
		Notifier:   tg,
		Metrics:    m,
		Log:        log,
	}, scheduler.Options{
		PollInterval:     cfg.PollInterval,
		ReloadInterval:   cfg.ReloadInterval,
		ReportSchedule:   cfg.ReportSchedule,
		ScratchRetention: cfg.ScratchRetention,
		SourceLimit:      cfg.SourceLimit,
		MediaSizeLimit:   cfg.MediaSizeLimit,
		PersistEachItem:  cfg.PersistEachItem,
	})
	if err != nil {
		return err
	}
	tg.SetController(sched)

	log.Info("starting relay",
		"backend", cfg.StateBackend, "sources", len(st.Sources()), "subscribers", len(st.Subscribers()))

	g, ctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return m.Serve(ctx, cfg.MetricsAddr, log) })
	}
	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})
	g.Go(func() error {
		tg.Run(ctx)
		return nil
	})
	return g.Wait()
}

func openStore(cfg *config.Config, log *slog.Logger) (storage.Store, error) {
	var (
		next storage.Store
		err  error
	)
	switch cfg.StateBackend {
	case config.BackendRedis:
		next, err = storage.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
	default:
		if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, err
			}
		}
		next, err = storage.NewSQLite(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
	}
	return storage.NewRetrying(next, 3, 5*time.Second, log), nil
}

// newLogger writes text to stderr and, when path is set, JSON to that file.
func newLogger(level, path string) (*slog.Logger, func(), error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	text := slog.NewTextHandler(os.Stderr, opts)
	if path == "" {
		return slog.New(text), func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // operator-configured path
	if err != nil {
		return nil, nil, err
	}
	log := slog.New(slogmulti.Fanout(text, slog.NewJSONHandler(f, opts)))
	return log, func() { _ = f.Close() }, nil
}
