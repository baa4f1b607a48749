// Package scheduler runs the relay loop: poll sources, fetch new media,
// deliver it to subscribers, persist state, retry failures and report.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mediarelay/internal/bot"
	"mediarelay/internal/delivery"
	"mediarelay/internal/fetcher"
	"mediarelay/internal/media"
	"mediarelay/internal/metrics"
	"mediarelay/internal/model"
	"mediarelay/internal/source"
	"mediarelay/internal/state"
)

// MediaFetcher downloads a batch of media files.
type MediaFetcher interface {
	Fetch(ctx context.Context, reqs []fetcher.Request) map[string]string
}

// Deliverer sends files and retries failed sends.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, path string, kind model.Kind) error
	DrainRetries(ctx context.Context) []delivery.Outcome
}

// RetryQueue is the view of the retry queue the loop needs.
type RetryQueue interface {
	References(path string) bool
	Len() int
}

// Notifier reaches the operator.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Deps are the collaborators of a Scheduler.
type Deps struct {
	State      *state.State
	Sources    source.Client
	Fetcher    MediaFetcher
	Deliverer  Deliverer
	Queue      RetryQueue
	Transcoder media.Transcoder
	Scratch    *fetcher.Scratch
	Notifier   Notifier
	Metrics    *metrics.Metrics
	Clock      Clock
	Log        *slog.Logger
}

// Options tune the loop.
type Options struct {
	PollInterval     time.Duration
	ReloadInterval   time.Duration
	ReportSchedule   string
	ScratchRetention time.Duration
	SourceLimit      int
	MediaSizeLimit   int64
	PersistEachItem  bool
}

// Scheduler drives the relay loop.
type Scheduler struct {
	state      *state.State
	sources    source.Client
	fetcher    MediaFetcher
	deliverer  Deliverer
	queue      RetryQueue
	transcoder media.Transcoder
	scratch    *fetcher.Scratch
	notifier   Notifier
	metrics    *metrics.Metrics
	clock      Clock
	log        *slog.Logger

	opts     Options
	schedule cron.Schedule

	mu           sync.Mutex
	lastCycle    time.Time
	lastDuration time.Duration
}

// New validates opts and returns a Scheduler.
func New(deps Deps, opts Options) (*Scheduler, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 60 * time.Second
	}
	if opts.ReloadInterval <= 0 {
		opts.ReloadInterval = 300 * time.Second
	}
	if opts.ReportSchedule == "" {
		opts.ReportSchedule = "0 8 * * *"
	}
	if opts.ScratchRetention <= 0 {
		opts.ScratchRetention = 24 * time.Hour
	}
	if opts.SourceLimit <= 0 {
		opts.SourceLimit = 100
	}
	if opts.MediaSizeLimit <= 0 {
		opts.MediaSizeLimit = 50 * 1024 * 1024
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Transcoder == nil {
		deps.Transcoder = media.Gzip{}
	}

	schedule, err := cron.ParseStandard(opts.ReportSchedule)
	if err != nil {
		return nil, fmt.Errorf("parse report schedule %q: %w", opts.ReportSchedule, err)
	}

	return &Scheduler{
		state:      deps.State,
		sources:    deps.Sources,
		fetcher:    deps.Fetcher,
		deliverer:  deps.Deliverer,
		queue:      deps.Queue,
		transcoder: deps.Transcoder,
		scratch:    deps.Scratch,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		clock:      deps.Clock,
		log:        deps.Log,
		opts:       opts,
		schedule:   schedule,
	}, nil
}

// Run starts the loop, blocking until ctx is cancelled. The first cycle
// starts immediately.
func (s *Scheduler) Run(ctx context.Context) {
	poll := s.clock.NewTicker(s.opts.PollInterval)
	defer poll.Stop()
	reload := s.clock.NewTicker(s.opts.ReloadInterval)
	defer reload.Stop()
	report := s.clock.After(s.untilReport())

	s.log.Info("relay started",
		"poll_interval", s.opts.PollInterval, "reload_interval", s.opts.ReloadInterval,
		"report_schedule", s.opts.ReportSchedule)

	_ = s.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("relay stopped")
			return
		case <-poll.C():
			_ = s.RunCycle(ctx)
		case <-reload.C():
			if err := s.Reload(ctx); err != nil {
				s.log.Error("reload directory", "error", err)
			}
		case <-report:
			s.SendReport(ctx)
			report = s.clock.After(s.untilReport())
		}
	}
}

func (s *Scheduler) untilReport() time.Duration {
	now := s.clock.Now()
	return s.schedule.Next(now).Sub(now)
}

// RunCycle performs one full pass over all sources, then persists state,
// drains the retry queue and sweeps stale scratch files. State is persisted
// even when ctx is cancelled or a source handler panics.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	start := s.clock.Now()

	err := s.pollSources(ctx)

	persistCtx := context.WithoutCancel(ctx)
	if perr := s.state.Persist(persistCtx); perr != nil {
		s.metrics.ObservePersistFailure()
		s.log.Error("persist state", "error", perr)
		s.notifier.Notify(persistCtx, fmt.Sprintf("Failed to persist relay state: %v", perr))
	}

	if ctx.Err() == nil {
		s.deliverer.DrainRetries(ctx)
		if n := s.scratch.Sweep(s.clock.Now(), s.opts.ScratchRetention); n > 0 {
			s.log.Info("swept scratch directory", "removed", n)
		}
	}

	elapsed := s.clock.Now().Sub(start)
	s.mu.Lock()
	s.lastCycle = start
	s.lastDuration = elapsed
	s.mu.Unlock()
	s.metrics.ObserveCycle(elapsed)
	s.metrics.SetRetryQueueDepth(s.queue.Len())
	s.log.Debug("cycle finished", "duration", elapsed, "error", err)
	return err
}

func (s *Scheduler) pollSources(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("cycle panic", "panic", r, "stack", string(debug.Stack()))
			s.notifier.Notify(context.WithoutCancel(ctx), fmt.Sprintf("Relay cycle crashed: %v", r))
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()

	subscribers := s.state.Subscribers()
	for _, src := range s.state.Sources() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.processSource(ctx, src, subscribers)
	}
	return ctx.Err()
}

func (s *Scheduler) processSource(ctx context.Context, src model.Source, subscribers []model.Subscriber) {
	items, err := s.sources.ListRecent(ctx, src, s.opts.SourceLimit)
	if err != nil {
		s.metrics.ObserveSourceError(src)
		s.log.Error("list source", "source", src, "error", err)
		return
	}

	var fresh []model.Item
	for it := range items {
		if it.Kind() == model.KindNone || s.state.IsSeen(it.SeenKey()) {
			continue
		}
		fresh = append(fresh, it)
	}
	if len(fresh) == 0 {
		return
	}

	reqs := make([]fetcher.Request, 0, len(fresh))
	for _, it := range fresh {
		reqs = append(reqs, fetcher.Request{ItemID: it.ID, URL: source.ResolveMediaURL(it), Filename: it.Title})
	}
	paths := s.fetcher.Fetch(ctx, reqs)
	s.metrics.ObserveFetchFailures(len(reqs) - len(paths))
	s.log.Info("fetched media", "source", src, "new", len(fresh), "downloaded", len(paths))

	for _, it := range fresh {
		if ctx.Err() != nil {
			s.discard(paths, it.ID)
			continue
		}
		path, ok := paths[it.ID]
		if !ok {
			// Left unseen so the next cycle retries the download.
			continue
		}
		s.relayItem(ctx, it, path, subscribers)
	}
}

// discard removes a downloaded file for an item that will not be relayed
// this cycle.
func (s *Scheduler) discard(paths map[string]string, id string) {
	if p, ok := paths[id]; ok && !s.queue.References(p) {
		s.scratch.Remove(p)
	}
}

// relayItem delivers one downloaded item to every subscriber. Once started
// the item is finished even if ctx is cancelled, so no subscriber sees it
// twice after a restart.
func (s *Scheduler) relayItem(ctx context.Context, it model.Item, path string, subscribers []model.Subscriber) {
	ctx = context.WithoutCancel(ctx)
	kind := it.Kind()

	if out := media.Shrink(ctx, s.transcoder, path, s.opts.MediaSizeLimit, s.log); out != path {
		s.scratch.Remove(path)
		path = out
	}

	delivered := 0
	for _, sub := range subscribers {
		if err := s.deliverer.Deliver(ctx, sub.ChatID, path, kind); err == nil {
			delivered++
		}
	}

	s.state.RecordItem(it.Source, kind, it.Title, s.clock.Now())
	s.state.MarkSeen(it.SeenKey())
	if s.opts.PersistEachItem {
		if err := s.state.PersistSeen(ctx); err != nil {
			s.metrics.ObservePersistFailure()
			s.log.Error("persist seen items", "item_id", it.ID, "error", err)
		}
	}

	if !s.queue.References(path) {
		s.scratch.Remove(path)
	}
	s.log.Info("relayed item", "source", it.Source, "item_id", it.ID, "kind", kind,
		"subscribers", len(subscribers), "delivered", delivered)
}

// Reload refreshes subscribers and sources from the store.
func (s *Scheduler) Reload(ctx context.Context) error {
	ok, err := s.state.ReloadDirectory(ctx)
	if err != nil {
		return err
	}
	if ok {
		s.log.Info("directory reloaded",
			"subscribers", len(s.state.Subscribers()), "sources", len(s.state.Sources()))
	}
	return nil
}

// Cleanup removes scratch files older than the retention window.
func (s *Scheduler) Cleanup(context.Context) int {
	return s.scratch.Sweep(s.clock.Now(), s.opts.ScratchRetention)
}

// Status reports the last cycle and queue state.
func (s *Scheduler) Status() bot.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bot.Status{
		LastCycle:         s.lastCycle,
		LastCycleDuration: s.lastDuration,
		QueueLen:          s.queue.Len(),
		SeenCount:         s.state.SeenCount(),
	}
}

// SendReport sends the daily statistics report to the operator.
func (s *Scheduler) SendReport(ctx context.Context) {
	now := s.clock.Now()
	text := bot.FormatReport(s.state.Stats(), len(s.state.Subscribers()), s.queue.Len(), now)
	s.notifier.Notify(ctx, text)
	s.log.Info("daily report sent")
}
