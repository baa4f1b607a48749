// Package delivery sends downloaded media to subscribers and keeps failed
// sends in a bounded retry queue.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"mediarelay/internal/media"
	"mediarelay/internal/metrics"
	"mediarelay/internal/model"
)

// Sender uploads a local file to a chat.
type Sender interface {
	SendPhoto(ctx context.Context, chatID int64, path string) error
	SendVideo(ctx context.Context, chatID int64, path string) error
	SendAnimation(ctx context.Context, chatID int64, path string) error
	SendDocument(ctx context.Context, chatID int64, path string) error
}

// Recorder receives delivery accounting.
type Recorder interface {
	RecordDelivered(kind model.Kind, animated bool)
	RecordFailed()
}

// Method is the upload call used for a file.
type Method string

// Upload methods.
const (
	MethodPhoto     Method = "photo"
	MethodVideo     Method = "video"
	MethodAnimation Method = "animation"
	MethodDocument  Method = "document"
)

// MethodFor picks the upload method for a file of the given kind. Gzip
// artefacts always go out as documents.
func MethodFor(path string, kind model.Kind) Method {
	if media.Extension(path) == ".gz" {
		return MethodDocument
	}
	switch kind {
	case model.KindImage, model.KindGallery:
		if media.IsAnimated(path) {
			return MethodAnimation
		}
		return MethodPhoto
	case model.KindVideo:
		return MethodVideo
	case model.KindGIF:
		return MethodAnimation
	default:
		return MethodDocument
	}
}

// Deliverer sends files through a rate-limited Sender.
type Deliverer struct {
	sender  Sender
	stats   Recorder
	queue   *RetryQueue
	limiter *rate.Limiter
	metrics *metrics.Metrics
	now     func() time.Time
	log     *slog.Logger
}

// New creates a Deliverer allowing perSecond sends per second across all
// chats. m may be nil.
func New(sender Sender, stats Recorder, queue *RetryQueue, perSecond float64, m *metrics.Metrics, log *slog.Logger) *Deliverer {
	if perSecond <= 0 {
		perSecond = 20
	}
	burst := max(int(perSecond), 1)
	return &Deliverer{
		sender:  sender,
		stats:   stats,
		queue:   queue,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		metrics: m,
		now:     time.Now,
		log:     log,
	}
}

// Deliver sends path to chatID. On failure the send is queued for retry,
// counted as failed, and an error wrapping model.ErrDeliveryFailed is
// returned.
func (d *Deliverer) Deliver(ctx context.Context, chatID int64, path string, kind model.Kind) error {
	if err := d.send(ctx, chatID, path, kind); err != nil {
		d.queue.Enqueue(model.FailedDelivery{
			ChatID:        chatID,
			Path:          path,
			Kind:          kind,
			Attempts:      1,
			FirstFailedAt: d.now(),
		})
		d.stats.RecordFailed()
		d.metrics.ObserveDeliveryFailure()
		d.metrics.SetRetryQueueDepth(d.queue.Len())
		d.log.Error("deliver media", "chat_id", chatID, "path", path, "kind", kind, "error", err)
		return fmt.Errorf("%w: chat %d: %w", model.ErrDeliveryFailed, chatID, err)
	}
	return nil
}

// Retry attempts a queued delivery again. Failures are not re-counted.
func (d *Deliverer) Retry(ctx context.Context, fd model.FailedDelivery) error {
	return d.send(ctx, fd.ChatID, fd.Path, fd.Kind)
}

// DrainRetries retries every queued delivery once.
func (d *Deliverer) DrainRetries(ctx context.Context) []Outcome {
	outcomes := d.queue.Drain(ctx, d.Retry)
	d.metrics.SetRetryQueueDepth(d.queue.Len())
	if len(outcomes) > 0 {
		counts := map[Status]int{}
		for _, o := range outcomes {
			counts[o.Status]++
		}
		d.log.Info("retry queue drained",
			"delivered", counts[Delivered], "pending", counts[Pending], "dropped", counts[Dropped])
	}
	return outcomes
}

func (d *Deliverer) send(ctx context.Context, chatID int64, path string, kind model.Kind) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	method := MethodFor(path, kind)
	var err error
	switch method {
	case MethodPhoto:
		err = d.sender.SendPhoto(ctx, chatID, path)
	case MethodVideo:
		err = d.sender.SendVideo(ctx, chatID, path)
	case MethodAnimation:
		err = d.sender.SendAnimation(ctx, chatID, path)
	default:
		err = d.sender.SendDocument(ctx, chatID, path)
	}
	if err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	animated := method == MethodAnimation && kind != model.KindGIF
	d.stats.RecordDelivered(kind, animated)
	observed := kind
	if animated {
		observed = model.KindGIF
	}
	d.metrics.ObserveDelivered(observed)
	d.log.Debug("delivered media", "chat_id", chatID, "path", path, "method", method)
	return nil
}
