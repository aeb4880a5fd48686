package activitypub

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const maxDeliveryAttempts = 10

var deliveryBackoff = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	4 * time.Hour,
	24 * time.Hour,
}

// QueueStore is the persistent delivery queue.
type QueueStore interface {
	ReadPendingDeliveries(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryQueueItem, error)
	UpdateDeliveryAttempt(ctx context.Context, id uuid.UUID, attempts int, nextRetry time.Time) error
	DeleteDelivery(ctx context.Context, id uuid.UUID) error
}

// JobProcessor runs one job; an error asks for a retry.
type JobProcessor interface {
	Process(ctx context.Context, job *domain.DeliveryQueueItem) (string, error)
}

type WorkerConfig struct {
	Workers      int
	BatchSize    int
	PollInterval time.Duration
	// PerHostRate limits requests per second to a single host. Zero means
	// unlimited.
	PerHostRate float64
}

// DeliveryWorker drains the delivery queue.
type DeliveryWorker struct {
	queue QueueStore
	proc  JobProcessor
	conf  WorkerConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	now func() time.Time
	log *log.Logger
}

func NewDeliveryWorker(queue QueueStore, proc JobProcessor, conf WorkerConfig) *DeliveryWorker {
	if conf.Workers <= 0 {
		conf.Workers = 4
	}
	if conf.BatchSize <= 0 {
		conf.BatchSize = 50
	}
	if conf.PollInterval <= 0 {
		conf.PollInterval = 10 * time.Second
	}
	return &DeliveryWorker{
		queue:    queue,
		proc:     proc,
		conf:     conf,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
		log:      log.WithPrefix("worker"),
	}
}

// Run polls the queue until ctx is cancelled.
func (w *DeliveryWorker) Run(ctx context.Context) error {
	w.log.Info("Starting delivery worker", "workers", w.conf.Workers)
	ticker := time.NewTicker(w.conf.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Error("Failed to read queue", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce processes one batch of due jobs and returns how many were taken.
func (w *DeliveryWorker) RunOnce(ctx context.Context) (int, error) {
	items, err := w.queue.ReadPendingDeliveries(ctx, w.now(), w.conf.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}
	w.log.Debug("Processing pending deliveries", "count", len(items))

	var g errgroup.Group
	g.SetLimit(w.conf.Workers)
	for i := range items {
		item := &items[i]
		g.Go(func() error {
			w.handle(ctx, item)
			return nil
		})
	}
	g.Wait()
	return len(items), nil
}

func (w *DeliveryWorker) limiter(host string) *rate.Limiter {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.limiters[host]
	if !ok {
		limit := rate.Inf
		if w.conf.PerHostRate > 0 {
			limit = rate.Limit(w.conf.PerHostRate)
		}
		l = rate.NewLimiter(limit, 1)
		w.limiters[host] = l
	}
	return l
}

func (w *DeliveryWorker) handle(ctx context.Context, item *domain.DeliveryQueueItem) {
	host, _ := hostOf(item.InboxURI)
	if err := w.limiter(host).Wait(ctx); err != nil {
		return
	}

	outcome, err := w.proc.Process(ctx, item)
	if err == nil {
		w.log.Debug("Delivery done", "inbox", item.InboxURI, "outcome", outcome)
		if err := w.queue.DeleteDelivery(ctx, item.Id); err != nil {
			w.log.Error("Failed to remove delivery", "id", item.Id, "err", err)
		}
		return
	}

	attempts := item.Attempts + 1
	if attempts >= maxDeliveryAttempts {
		w.log.Warn("Giving up on delivery", "inbox", item.InboxURI, "attempts", attempts, "err", err)
		if err := w.queue.DeleteDelivery(ctx, item.Id); err != nil {
			w.log.Error("Failed to remove delivery", "id", item.Id, "err", err)
		}
		return
	}

	backoff := deliveryBackoff[min(attempts-1, len(deliveryBackoff)-1)]
	w.log.Info("Delivery failed, retrying", "inbox", item.InboxURI, "attempt", attempts, "in", backoff, "err", err)
	if err := w.queue.UpdateDeliveryAttempt(ctx, item.Id, attempts, w.now().Add(backoff)); err != nil {
		w.log.Error("Failed to reschedule delivery", "id", item.Id, "err", err)
	}
}
