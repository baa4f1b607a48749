package delivery

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"mediarelay/internal/model"
)

// Status is the result of retrying one queued delivery.
type Status int

// Retry outcomes.
const (
	Delivered Status = iota
	Pending
	Dropped
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Pending:
		return "pending"
	case Dropped:
		return "dropped"
	}
	return "unknown"
}

// Outcome reports what happened to one record during Drain.
type Outcome struct {
	Delivery model.FailedDelivery
	Status   Status
	Err      error
}

type entry struct {
	id uint64
	fd model.FailedDelivery
}

// RetryQueue holds failed deliveries for later attempts. It is bounded:
// when full, the oldest record is evicted.
type RetryQueue struct {
	max         int
	maxAttempts int
	ttl         time.Duration
	log         *slog.Logger
	now         func() time.Time
	release     func(path string)

	mu      sync.Mutex
	entries []entry
	nextID  uint64

	draining atomic.Bool
}

// NewRetryQueue creates a queue holding at most capacity records. A record
// is dropped after maxAttempts total attempts or once it is older than ttl.
func NewRetryQueue(capacity, maxAttempts int, ttl time.Duration, log *slog.Logger) *RetryQueue {
	if capacity <= 0 {
		capacity = 500
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RetryQueue{
		max:         capacity,
		maxAttempts: maxAttempts,
		ttl:         ttl,
		log:         log,
		now:         time.Now,
		release:     func(string) {},
	}
}

// OnRelease sets the function called with a file path once no queued
// record references it anymore.
func (q *RetryQueue) OnRelease(fn func(path string)) {
	q.mu.Lock()
	q.release = fn
	q.mu.Unlock()
}

// SetClock replaces the time source.
func (q *RetryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}

// Enqueue adds a failed delivery, evicting the oldest record when full.
func (q *RetryQueue) Enqueue(fd model.FailedDelivery) {
	q.mu.Lock()
	if fd.FirstFailedAt.IsZero() {
		fd.FirstFailedAt = q.now()
	}
	if fd.Attempts < 1 {
		fd.Attempts = 1
	}
	q.nextID++
	q.entries = append(q.entries, entry{id: q.nextID, fd: fd})

	var evicted []model.FailedDelivery
	for len(q.entries) > q.max {
		evicted = append(evicted, q.entries[0].fd)
		q.entries = q.entries[1:]
	}
	released := q.unreferencedLocked(evicted)
	release := q.release
	q.mu.Unlock()

	for _, e := range evicted {
		q.log.Warn("retry queue full, evicted oldest", "chat_id", e.ChatID, "path", e.Path)
	}
	for _, p := range released {
		release(p)
	}
}

// Len returns the number of queued records.
func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot returns a copy of the queued records, oldest first.
func (q *RetryQueue) Snapshot() []model.FailedDelivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.FailedDelivery, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.fd
	}
	return out
}

// References reports whether any queued record needs path.
func (q *RetryQueue) References(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.referencesLocked(path)
}

func (q *RetryQueue) referencesLocked(path string) bool {
	return slices.ContainsFunc(q.entries, func(e entry) bool { return e.fd.Path == path })
}

func (q *RetryQueue) unreferencedLocked(removed []model.FailedDelivery) []string {
	paths := lo.Uniq(lo.FilterMap(removed, func(fd model.FailedDelivery, _ int) (string, bool) {
		return fd.Path, fd.Path != ""
	}))
	return lo.Reject(paths, func(p string, _ int) bool { return q.referencesLocked(p) })
}

// ErrDrainInProgress is reported when Drain is called while another Drain
// is running.
var ErrDrainInProgress = errors.New("retry drain already in progress")

// Drain attempts every record present when it starts. Records added during
// the drain wait for the next one. A concurrent call returns nil
// immediately.
func (q *RetryQueue) Drain(ctx context.Context, attempt func(context.Context, model.FailedDelivery) error) []Outcome {
	if !q.draining.CompareAndSwap(false, true) {
		q.log.Warn("skip retry drain", "error", ErrDrainInProgress)
		return nil
	}
	defer q.draining.Store(false)

	q.mu.Lock()
	snapshot := slices.Clone(q.entries)
	now := q.now()
	q.mu.Unlock()

	outcomes := make([]Outcome, 0, len(snapshot))
	for _, e := range snapshot {
		if ctx.Err() != nil {
			break
		}

		fd := e.fd
		var out Outcome
		switch {
		case now.Sub(fd.FirstFailedAt) > q.ttl:
			out = Outcome{Delivery: fd, Status: Dropped, Err: errors.New("expired")}
		case !fileExists(fd.Path):
			out = Outcome{Delivery: fd, Status: Dropped, Err: errors.New("file missing")}
		default:
			err := attempt(ctx, fd)
			switch {
			case err == nil:
				out = Outcome{Delivery: fd, Status: Delivered}
			case fd.Attempts+1 >= q.maxAttempts:
				fd.Attempts++
				out = Outcome{Delivery: fd, Status: Dropped, Err: err}
			default:
				fd.Attempts++
				out = Outcome{Delivery: fd, Status: Pending, Err: err}
			}
		}
		q.apply(e.id, out)
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func (q *RetryQueue) apply(id uint64, out Outcome) {
	q.mu.Lock()
	idx := slices.IndexFunc(q.entries, func(e entry) bool { return e.id == id })
	if idx < 0 {
		// Evicted while the attempt was in flight.
		q.mu.Unlock()
		return
	}
	if out.Status == Pending {
		q.entries[idx].fd = out.Delivery
		q.mu.Unlock()
		return
	}
	q.entries = slices.Delete(q.entries, idx, idx+1)
	released := q.unreferencedLocked([]model.FailedDelivery{out.Delivery})
	release := q.release
	q.mu.Unlock()

	if out.Status == Dropped {
		q.log.Warn("retry dropped", "chat_id", out.Delivery.ChatID, "path", out.Delivery.Path,
			"attempts", out.Delivery.Attempts, "error", out.Err)
	}
	for _, p := range released {
		release(p)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
