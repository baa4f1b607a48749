package state

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mediarelay/internal/model"
	"mediarelay/internal/storage"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadSeedsDefaults(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	st := New(store, []string{"pics", "r/PICS", "feed:https://example.com/rss"}, discard())
	if err := st.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	want := []model.Source{"pics", "feed:https://example.com/rss"}
	if diff := cmp.Diff(want, st.Sources()); diff != "" {
		t.Errorf("Sources() mismatch (-want +got):\n%s", diff)
	}

	raw, err := store.Load(ctx, storage.DocSources)
	if err != nil {
		t.Fatalf("seeded sources not saved: %v", err)
	}
	if diff := cmp.Diff(`["pics","feed:https://example.com/rss"]`, string(raw)); diff != "" {
		t.Errorf("stored sources mismatch (-want +got):\n%s", diff)
	}
}

func TestPersistRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	joined := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	st := New(store, []string{"pics"}, discard())
	if err := st.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	st.MarkSeen("b2")
	st.MarkSeen("a1")
	st.AddSubscriber(42, "alice", joined)
	st.RecordDelivered(model.KindImage, false)
	st.RecordItem("pics", model.KindImage, "cat", joined)
	if err := st.Persist(ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}

	raw, err := store.Load(ctx, storage.DocSentPosts)
	if err != nil {
		t.Fatalf("load sent_posts: %v", err)
	}
	if diff := cmp.Diff(`["a1","b2"]`, string(raw)); diff != "" {
		t.Errorf("sent_posts mismatch (-want +got):\n%s", diff)
	}

	reloaded := New(store, nil, discard())
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.IsSeen("a1") || !reloaded.IsSeen("b2") || reloaded.IsSeen("c3") {
		t.Errorf("seen set not restored, count = %d", reloaded.SeenCount())
	}
	wantSubs := []model.Subscriber{{ChatID: 42, DisplayName: "alice", JoinedAt: joined}}
	if diff := cmp.Diff(wantSubs, reloaded.Subscribers()); diff != "" {
		t.Errorf("Subscribers() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(st.Stats(), reloaded.Stats()); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
}

func TestSources(t *testing.T) {
	st := New(newTestStore(t), nil, discard())

	steps := []struct {
		name string
		op   func() bool
		want bool
	}{
		{"add pics", func() bool { return st.AddSource("pics") }, true},
		{"add duplicate with prefix", func() bool { return st.AddSource("r/Pics") }, false},
		{"add feed", func() bool { return st.AddSource("feed:https://x.org/rss") }, true},
		{"add empty", func() bool { return st.AddSource("r/") }, false},
		{"remove case-insensitive", func() bool { return st.RemoveSource("PICS") }, true},
		{"remove missing", func() bool { return st.RemoveSource("pics") }, false},
	}
	for _, s := range steps {
		if got := s.op(); got != s.want {
			t.Errorf("%s: got %v, want %v", s.name, got, s.want)
		}
	}

	if diff := cmp.Diff([]model.Source{"feed:https://x.org/rss"}, st.Sources()); diff != "" {
		t.Errorf("Sources() mismatch (-want +got):\n%s", diff)
	}
}

func TestAddSubscriberOnce(t *testing.T) {
	st := New(newTestStore(t), nil, discard())
	now := time.Now()
	if !st.AddSubscriber(7, "bob", now) {
		t.Fatal("first AddSubscriber() = false")
	}
	if st.AddSubscriber(7, "bob again", now.Add(time.Hour)) {
		t.Fatal("second AddSubscriber() = true")
	}
	if diff := cmp.Diff("bob", st.Subscribers()[0].DisplayName); diff != "" {
		t.Errorf("display name (-want +got):\n%s", diff)
	}
}

func TestRecordDelivered(t *testing.T) {
	st := New(newTestStore(t), nil, discard())
	st.RecordDelivered(model.KindImage, false)
	st.RecordDelivered(model.KindGallery, false)
	st.RecordDelivered(model.KindImage, true)
	st.RecordDelivered(model.KindGIF, false)
	st.RecordDelivered(model.KindVideo, false)
	st.RecordDelivered(model.KindNone, false)
	st.RecordFailed()

	got := st.Stats()
	want := model.NewStats()
	want.Images, want.GIFs, want.Videos, want.Total, want.Failed = 2, 2, 1, 6, 1
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordItemPrunesTimeline(t *testing.T) {
	st := New(newTestStore(t), nil, discard())
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	st.RecordItem("r/pics", model.KindImage, "old", base)
	st.RecordItem("pics", model.KindVideo, "new", base.Add(8*24*time.Hour))

	got := st.Stats()
	if diff := cmp.Diff(2, got.PerSource["pics"]); diff != "" {
		t.Errorf("per-source count (-want +got):\n%s", diff)
	}
	want := []model.Event{{Time: base.Add(8 * 24 * time.Hour), Kind: model.KindVideo, Title: "new"}}
	if diff := cmp.Diff(want, got.Timeline["pics"]); diff != "" {
		t.Errorf("timeline mismatch (-want +got):\n%s", diff)
	}
}

func TestStatsSnapshotIsolated(t *testing.T) {
	st := New(newTestStore(t), nil, discard())
	st.RecordItem("pics", model.KindImage, "a", time.Now())

	snap := st.Stats()
	snap.PerSource["pics"] = 99
	snap.Timeline["pics"][0].Title = "changed"

	got := st.Stats()
	if got.PerSource["pics"] != 1 || got.Timeline["pics"][0].Title != "a" {
		t.Errorf("snapshot mutation leaked into state: %+v", got)
	}
}

// failingStore fails every Save while fail is set.
type failingStore struct {
	storage.Store
	mu   sync.Mutex
	fail bool
}

func (f *failingStore) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *failingStore) Save(ctx context.Context, name string, data []byte) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return model.ErrPersistenceFailed
	}
	return f.Store.Save(ctx, name, data)
}

func TestReloadDirectory(t *testing.T) {
	ctx := context.Background()
	inner := newTestStore(t)
	store := &failingStore{Store: inner}

	st := New(store, []string{"pics"}, discard())
	if err := st.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	// Another writer changes the stored sources.
	if err := inner.Save(ctx, storage.DocSources, []byte(`["earthporn","pics"]`)); err != nil {
		t.Fatalf("external save: %v", err)
	}
	ok, err := st.ReloadDirectory(ctx)
	if err != nil || !ok {
		t.Fatalf("ReloadDirectory() = %v, %v", ok, err)
	}
	if diff := cmp.Diff([]model.Source{"earthporn", "pics"}, st.Sources()); diff != "" {
		t.Errorf("Sources() after reload (-want +got):\n%s", diff)
	}

	// An unsaved local change blocks the reload.
	store.setFail(true)
	st.AddSubscriber(1, "carol", time.Now())
	if err := st.PersistDirectory(ctx); !errors.Is(err, model.ErrPersistenceFailed) {
		t.Fatalf("PersistDirectory() error = %v", err)
	}
	ok, err = st.ReloadDirectory(ctx)
	if err != nil || ok {
		t.Fatalf("ReloadDirectory() with unsaved changes = %v, %v; want false, nil", ok, err)
	}
	if diff := cmp.Diff(1, len(st.Subscribers())); diff != "" {
		t.Errorf("subscribers (-want +got):\n%s", diff)
	}

	// Once saved, reloading is allowed again.
	store.setFail(false)
	if err := st.PersistDirectory(ctx); err != nil {
		t.Fatalf("PersistDirectory(): %v", err)
	}
	if ok, _ := st.ReloadDirectory(ctx); !ok {
		t.Error("ReloadDirectory() after save = false")
	}
}
