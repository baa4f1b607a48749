// Package state owns the relay's in-memory state (seen items, subscribers,
// sources and stats) and its persistence as four JSON documents.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"

	"mediarelay/internal/model"
	"mediarelay/internal/storage"
)

// timelineRetention bounds how long timeline events are kept in the stats
// document.
const timelineRetention = 7 * 24 * time.Hour

// State is safe for concurrent use. Accessors return copies.
type State struct {
	store    storage.Store
	defaults []model.Source
	log      *slog.Logger

	mu          sync.Mutex
	seen        map[string]struct{}
	subscribers map[int64]model.Subscriber
	sources     []model.Source
	stats       model.Stats

	// dirGen counts subscriber/source mutations; savedGen is the value
	// last written to the store.
	dirGen   uint64
	savedGen uint64
}

// New returns empty state backed by store. defaults seed the source list
// when the store has none.
func New(store storage.Store, defaults []string, log *slog.Logger) *State {
	return &State{
		store:       store,
		defaults:    lo.Map(defaults, func(s string, _ int) model.Source { return model.Source(s) }),
		log:         log,
		seen:        make(map[string]struct{}),
		subscribers: make(map[int64]model.Subscriber),
		stats:       model.NewStats(),
	}
}

// Load reads all four documents. Missing documents leave the empty value in
// place; an empty source list is seeded from the defaults and saved.
func (s *State) Load(ctx context.Context) error {
	var (
		seen  []string
		subs  map[string]model.Subscriber
		srcs  []string
		stats model.Stats
	)
	docs := []struct {
		name string
		dst  any
	}{
		{storage.DocSentPosts, &seen},
		{storage.DocSubscribers, &subs},
		{storage.DocSources, &srcs},
		{storage.DocStats, &stats},
	}
	for _, d := range docs {
		if err := s.loadDoc(ctx, d.name, d.dst); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.seen = make(map[string]struct{}, len(seen))
	for _, id := range seen {
		s.seen[id] = struct{}{}
	}
	s.subscribers = decodeSubscribers(subs, s.log)
	s.sources = dedupeSources(lo.Map(srcs, func(v string, _ int) model.Source { return model.Source(v) }))
	if stats.PerSource == nil {
		stats.PerSource = map[string]int{}
	}
	if stats.Timeline == nil {
		stats.Timeline = map[string][]model.Event{}
	}
	s.stats = stats
	seed := len(s.sources) == 0 && len(s.defaults) > 0
	if seed {
		s.sources = dedupeSources(s.defaults)
		s.dirGen++
	}
	s.mu.Unlock()

	s.log.Info("state loaded",
		"seen", len(seen), "subscribers", len(subs), "sources", len(srcs), "seeded_defaults", seed)

	if seed {
		return s.PersistDirectory(ctx)
	}
	return nil
}

func (s *State) loadDoc(ctx context.Context, name string, dst any) error {
	data, err := s.store.Load(ctx, name)
	if storage.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func decodeSubscribers(raw map[string]model.Subscriber, log *slog.Logger) map[int64]model.Subscriber {
	out := make(map[int64]model.Subscriber, len(raw))
	for key, sub := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			log.Warn("skip subscriber with invalid chat id", "key", key)
			continue
		}
		sub.ChatID = id
		out[id] = sub
	}
	return out
}

// Persist writes all four documents. Every document is attempted even when
// an earlier one fails.
func (s *State) Persist(ctx context.Context) error {
	s.mu.Lock()
	gen := s.dirGen
	docs := map[string]any{
		storage.DocSentPosts:   s.seenListLocked(),
		storage.DocSubscribers: s.subscriberDocLocked(),
		storage.DocSources:     slices.Clone(s.sources),
		storage.DocStats:       s.stats.Clone(),
	}
	s.mu.Unlock()

	err := s.saveDocs(ctx, docs)
	if err == nil {
		s.markSaved(gen)
	}
	return err
}

// PersistSeen writes only the seen-item document.
func (s *State) PersistSeen(ctx context.Context) error {
	s.mu.Lock()
	list := s.seenListLocked()
	s.mu.Unlock()
	return s.saveDocs(ctx, map[string]any{storage.DocSentPosts: list})
}

// PersistDirectory writes the subscriber and source documents.
func (s *State) PersistDirectory(ctx context.Context) error {
	s.mu.Lock()
	gen := s.dirGen
	docs := map[string]any{
		storage.DocSubscribers: s.subscriberDocLocked(),
		storage.DocSources:     slices.Clone(s.sources),
	}
	s.mu.Unlock()

	err := s.saveDocs(ctx, docs)
	if err == nil {
		s.markSaved(gen)
	}
	return err
}

func (s *State) markSaved(gen uint64) {
	s.mu.Lock()
	if gen > s.savedGen {
		s.savedGen = gen
	}
	s.mu.Unlock()
}

func (s *State) saveDocs(ctx context.Context, docs map[string]any) error {
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(docs)) {
		data, err := json.Marshal(docs[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", name, err))
			continue
		}
		if err := s.store.Save(ctx, name, data); err != nil {
			s.log.Error("persist document", "name", name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *State) seenListLocked() []string {
	list := make([]string, 0, len(s.seen))
	for id := range s.seen {
		list = append(list, id)
	}
	slices.Sort(list)
	return list
}

func (s *State) subscriberDocLocked() map[string]model.Subscriber {
	out := make(map[string]model.Subscriber, len(s.subscribers))
	for id, sub := range s.subscribers {
		out[strconv.FormatInt(id, 10)] = sub
	}
	return out
}

// ReloadDirectory replaces subscribers and sources with the stored
// documents. It is skipped, returning false, while local changes to either
// have not been saved yet.
func (s *State) ReloadDirectory(ctx context.Context) (bool, error) {
	s.mu.Lock()
	dirty := s.dirGen != s.savedGen
	s.mu.Unlock()
	if dirty {
		s.log.Warn("skip reload, unsaved subscriber or source changes")
		return false, nil
	}

	var (
		subs map[string]model.Subscriber
		srcs []string
	)
	if err := s.loadDoc(ctx, storage.DocSubscribers, &subs); err != nil {
		return false, err
	}
	if err := s.loadDoc(ctx, storage.DocSources, &srcs); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirGen != s.savedGen {
		return false, nil
	}
	s.subscribers = decodeSubscribers(subs, s.log)
	if len(srcs) > 0 {
		s.sources = dedupeSources(lo.Map(srcs, func(v string, _ int) model.Source { return model.Source(v) }))
	}
	return true, nil
}

// IsSeen reports whether the item id has been processed.
func (s *State) IsSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok
}

// MarkSeen records the item id as processed.
func (s *State) MarkSeen(id string) {
	s.mu.Lock()
	s.seen[id] = struct{}{}
	s.mu.Unlock()
}

// SeenCount returns the number of processed item ids.
func (s *State) SeenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Subscribers returns all subscribers ordered by chat id.
func (s *State) Subscribers() []model.Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := lo.Values(s.subscribers)
	slices.SortFunc(out, func(a, b model.Subscriber) int {
		switch {
		case a.ChatID < b.ChatID:
			return -1
		case a.ChatID > b.ChatID:
			return 1
		}
		return 0
	})
	return out
}

// AddSubscriber registers chatID. It reports false when the chat is already
// subscribed.
func (s *State) AddSubscriber(chatID int64, name string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[chatID]; ok {
		return false
	}
	s.subscribers[chatID] = model.Subscriber{ChatID: chatID, DisplayName: name, JoinedAt: now}
	s.dirGen++
	return true
}

// Sources returns the monitored sources in order.
func (s *State) Sources() []model.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sources)
}

// AddSource appends src unless an equivalent source is already present.
func (s *State) AddSource(src model.Source) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src.Name() == "" || lo.ContainsBy(s.sources, func(e model.Source) bool { return e.Key() == src.Key() }) {
		return false
	}
	s.sources = append(s.sources, src)
	s.dirGen++
	return true
}

// RemoveSource deletes the source equivalent to src.
func (s *State) RemoveSource(src model.Source) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.sources, func(e model.Source) bool { return e.Key() == src.Key() })
	if idx < 0 {
		return false
	}
	s.sources = slices.Delete(s.sources, idx, idx+1)
	s.dirGen++
	return true
}

// Stats returns a snapshot of the counters.
func (s *State) Stats() model.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.Clone()
}

// RecordDelivered counts one successful send. Animated images count as
// GIFs.
func (s *State) RecordDelivered(kind model.Kind, animated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case kind == model.KindGIF, animated:
		s.stats.GIFs++
	case kind == model.KindImage, kind == model.KindGallery:
		s.stats.Images++
	case kind == model.KindVideo:
		s.stats.Videos++
	}
	s.stats.Total++
}

// RecordFailed counts one failed delivery.
func (s *State) RecordFailed() {
	s.mu.Lock()
	s.stats.Failed++
	s.mu.Unlock()
}

// RecordItem adds an item to the per-source counters and timeline and
// drops timeline events older than the retention window.
func (s *State) RecordItem(src model.Source, kind model.Kind, title string, at time.Time) {
	key := src.Name()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.PerSource[key]++
	cutoff := at.Add(-timelineRetention)
	events := lo.Filter(s.stats.Timeline[key], func(e model.Event, _ int) bool { return e.Time.After(cutoff) })
	s.stats.Timeline[key] = append(events, model.Event{Time: at, Kind: kind, Title: title})
}

func dedupeSources(in []model.Source) []model.Source {
	out := lo.UniqBy(lo.Filter(in, func(s model.Source, _ int) bool { return s.Name() != "" }),
		func(s model.Source) string { return s.Key() })
	if len(out) == 0 {
		return nil
	}
	return out
}
