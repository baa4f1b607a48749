package fetcher

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a1.jpg":
			_, _ = w.Write([]byte("jpeg-bytes"))
		case "/a3.mp4":
			_, _ = w.Write([]byte(strings.Repeat("v", 3*chunkSize+17)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := New(srv.Client(), dir, 2, 5*time.Second, discard())

	got := f.Fetch(context.Background(), []Request{
		{ItemID: "a1", URL: srv.URL + "/a1.jpg", Filename: "First post"},
		{ItemID: "a3", URL: srv.URL + "/a3.mp4", Filename: "Clip!"},
		{ItemID: "a4", URL: srv.URL + "/missing.png", Filename: "Gone"},
	})

	want := map[string]string{
		"a1": filepath.Join(dir, "a1_First_post.jpg"),
		"a3": filepath.Join(dir, "a3_Clip_.mp4"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Fetch() mismatch (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(got["a3"])
	if err != nil {
		t.Fatalf("read a3: %v", err)
	}
	if diff := cmp.Diff(3*chunkSize+17, len(data)); diff != "" {
		t.Errorf("a3 size (-want +got):\n%s", diff)
	}

	// The failed download must not leave a partial file behind.
	entries, _ := os.ReadDir(dir)
	if diff := cmp.Diff(2, len(entries)); diff != "" {
		t.Errorf("scratch entries (-want +got):\n%s", diff)
	}
}

func TestFetchTransportError(t *testing.T) {
	f := New(&errClient{}, t.TempDir(), 1, time.Second, discard())
	got := f.Fetch(context.Background(), []Request{{ItemID: "x", URL: "https://example.com/x.jpg"}})
	if diff := cmp.Diff(0, len(got)); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

type errClient struct{}

func (errClient) Do(*http.Request) (*http.Response, error) { return nil, io.ErrUnexpectedEOF }

func TestFetchBoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	f := New(srv.Client(), t.TempDir(), 3, 5*time.Second, discard())
	var reqs []Request
	for _, id := range []string{"1", "2", "3", "4", "5", "6", "7", "8"} {
		reqs = append(reqs, Request{ItemID: id, URL: srv.URL + "/" + id + ".png"})
	}

	got := f.Fetch(context.Background(), reqs)
	if diff := cmp.Diff(len(reqs), len(got)); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
	if peak.Load() > 3 {
		t.Errorf("peak concurrency %d exceeds worker limit 3", peak.Load())
	}
}

func TestScratchName(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		title string
		url   string
		want  string
	}{
		{name: "plain", id: "a1", title: "cat pic", url: "https://i.redd.it/x.jpg", want: "a1_cat_pic.jpg"},
		{name: "strips unsafe", id: "a/../b", title: "../../etc", url: "https://x/y.PNG", want: "a____b_______etc.png"},
		{name: "no title", id: "z", url: "https://x/y.webm?s=1", want: "z.webm"},
		{name: "unknown extension", id: "q", title: "t", url: "https://v.redd.it/abc", want: "q_t.bin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ScratchName(tt.id, tt.title, tt.url)); diff != "" {
				t.Errorf("ScratchName() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestScratchSweep(t *testing.T) {
	dir := t.TempDir()
	s, err := NewScratch(dir, discard())
	if err != nil {
		t.Fatalf("new scratch: %v", err)
	}

	now := time.Now()
	old := filepath.Join(dir, "old.jpg")
	fresh := filepath.Join(dir, "fresh.jpg")
	for _, p := range []string{old, fresh} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	stale := now.Add(-25 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if diff := cmp.Diff(1, s.Sweep(now, 24*time.Hour)); diff != "" {
		t.Errorf("removed (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("expected old file removed, stat err = %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("expected fresh file kept: %v", err)
	}

	s.Remove(fresh)
	s.Remove(fresh) // already gone, must not panic or log an error path
	if _, err := os.Stat(fresh); !os.IsNotExist(err) {
		t.Errorf("expected fresh file removed, stat err = %v", err)
	}
}
