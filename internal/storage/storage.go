// Package storage persists named JSON documents in SQLite or Redis.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"mediarelay/internal/model"
)

// Document names.
const (
	DocSentPosts   = "sent_posts"
	DocSubscribers = "subscribers"
	DocSources     = "sources"
	DocStats       = "stats"
)

const opTimeout = 10 * time.Second

// Store reads and writes whole documents by name.
type Store interface {
	// Load returns model.ErrNotFound when the document does not exist.
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
	Close() error
}

// Retrying wraps a Store and retries failed writes with a constant backoff.
type Retrying struct {
	next     Store
	attempts uint64
	backoff  time.Duration
	log      *slog.Logger
}

// NewRetrying returns a Store making up to attempts tries per write, backoff apart.
func NewRetrying(next Store, attempts int, backoff time.Duration, log *slog.Logger) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = time.Millisecond
	}
	return &Retrying{next: next, attempts: uint64(attempts), backoff: backoff, log: log}
}

// Load implements Store. Reads are not retried.
func (r *Retrying) Load(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.next.Load(ctx, name)
}

// Save implements Store. After the last failed attempt the error wraps
// model.ErrPersistenceFailed.
func (r *Retrying) Save(ctx context.Context, name string, data []byte) error {
	b := retry.WithMaxRetries(r.attempts-1, retry.NewConstant(r.backoff))
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		if err := r.next.Save(opCtx, name, data); err != nil {
			r.log.Warn("save document", "name", name, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: save %s: %w", model.ErrPersistenceFailed, name, err)
	}
	return nil
}

// Close implements Store.
func (r *Retrying) Close() error {
	return r.next.Close()
}

// IsNotFound reports whether err means the document is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
