package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"boltzflow/internal/model"
	"boltzflow/pkg/backoff"
	"boltzflow/pkg/circuitbreaker"
	"boltzflow/pkg/webhook"
)

// Hardcoded delivery defaults - these rarely need tuning.
const (
	defaultMaxRetries       = 3
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultMaxRequeues      = 10

	eventSource = "boltzflow"
)

// event is one queued delivery.
type event struct {
	payload  *webhook.Event
	requeues int
}

// WebhookNotifier delivers lifecycle events to the callback URL.
// Events are queued in a bounded channel and delivered by a worker pool.
// If the buffer is full, events are dropped (logged + metric incremented).
type WebhookNotifier struct {
	queue    chan *event
	sender   *webhook.Sender
	breakers *circuitbreaker.Registry
	config   Config
	logger   *slog.Logger
	metrics  MetricsRecorder

	// Internal counters (for Stats())
	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	requeued     atomic.Int64
	retriesTotal atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// MetricsRecorder is an optional interface for recording notifier metrics.
type MetricsRecorder interface {
	RecordNotifierDelivered(ctx context.Context, durationSeconds float64)
	RecordNotifierFailed(ctx context.Context)
	RecordNotifierDropped(ctx context.Context)
	RecordNotifierRequeued(ctx context.Context)
	RecordNotifierQueueSize(ctx context.Context, size int64)
}

// NewWebhook creates a notifier delivering to cfg.CallbackURL.
func NewWebhook(cfg Config, metrics MetricsRecorder) *WebhookNotifier {
	cfg = cfg.withDefaults()

	n := &WebhookNotifier{
		queue:  make(chan *event, cfg.BufferSize),
		sender: webhook.NewSender(cfg.HTTPTimeout),
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: defaultBreakerThreshold,
			Cooldown:  defaultBreakerCooldown,
		}),
		config:   cfg,
		logger:   slog.With("component", "notify"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	// Start workers
	n.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go n.worker()
	}

	// Start queue size reporter if metrics enabled
	if metrics != nil {
		go n.reportQueueSize()
	}

	n.logger.Info("Notifier started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return n
}

// reportQueueSize periodically reports the queue size metric.
func (n *WebhookNotifier) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.shutdown:
			return
		case <-ticker.C:
			n.metrics.RecordNotifierQueueSize(context.Background(), int64(len(n.queue)))
		}
	}
}

// StatusChanged reports a compound status transition.
func (n *WebhookNotifier) StatusChanged(ev model.StatusEvent) {
	data := map[string]any{
		"compound_id": ev.CompoundID.String(),
		"run_id":      ev.RunID.String(),
		"campaign_id": ev.CampaignID.String(),
		"status":      ev.Status,
	}
	if ev.Metrics != nil {
		data["metrics"] = ev.Metrics
	}
	if ev.CompletedAt != nil {
		data["completed_at"] = ev.CompletedAt
	}
	n.enqueue(webhook.New(TypeStatusChanged, eventSource, ev.CompoundID.String(), uuid.NewString(), data))
}

// FilesReady reports that a compound's artifacts landed on disk.
func (n *WebhookNotifier) FilesReady(ev model.FilesReadyEvent) {
	n.enqueue(webhook.New(TypeFilesReady, eventSource, ev.CompoundID.String(), uuid.NewString(), map[string]any{
		"compound_id": ev.CompoundID.String(),
		"run_id":      ev.RunID.String(),
	}))
}

// RunCompleted reports a run whose compounds all reached a terminal status.
func (n *WebhookNotifier) RunCompleted(summary model.RunCompletion) {
	n.enqueue(webhook.New(TypeRunCompleted, eventSource, summary.RunID.String(), uuid.NewString(), map[string]any{
		"run_id":          summary.RunID.String(),
		"campaign_id":     summary.CampaignID.String(),
		"run_name":        summary.RunName,
		"total_compounds": summary.TotalCompounds,
		"completed_count": summary.CompletedCount,
		"failed_count":    summary.FailedCount,
		"timed_out_count": summary.TimedOutCount,
		"cancelled_count": summary.CancelledCount,
	}))
}

// enqueue queues an event for async delivery.
func (n *WebhookNotifier) enqueue(payload *webhook.Event) {
	if err := n.dispatch(&event{payload: payload}); err != nil {
		// Drop is already logged and counted; callers never see it.
		_ = err
	}
}

func (n *WebhookNotifier) dispatch(ev *event) error {
	if n.closed.Load() {
		return fmt.Errorf("notifier is closed")
	}

	select {
	case n.queue <- ev:
		n.queued.Add(1)
		return nil
	default:
		n.dropped.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotifierDropped(context.Background())
		}
		n.logger.Warn("Event dropped, buffer full",
			"destination", extractHost(n.config.CallbackURL),
			"type", ev.payload.Type,
		)
		return ErrBufferFull
	}
}

// Stats returns current notifier statistics.
func (n *WebhookNotifier) Stats() Stats {
	breakerStats := n.breakers.Stats()
	return Stats{
		QueueDepth:    len(n.queue),
		Queued:        n.queued.Load(),
		Delivered:     n.delivered.Load(),
		Failed:        n.failed.Load(),
		Dropped:       n.dropped.Load(),
		Requeued:      n.requeued.Load(),
		RetriesTotal:  n.retriesTotal.Load(),
		BreakersTotal: breakerStats.Total,
		BreakersOpen:  breakerStats.Open,
	}
}

// Close gracefully shuts down the notifier.
func (n *WebhookNotifier) Close(ctx context.Context) error {
	if n.closed.Swap(true) {
		return nil // already closed
	}

	n.logger.Info("Notifier shutting down", "queued", len(n.queue))

	// Signal workers to stop
	close(n.shutdown)

	// Wait for workers with timeout
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("Notifier shutdown complete",
			"delivered", n.delivered.Load(),
			"failed", n.failed.Load(),
			"dropped", n.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		n.logger.Warn("Notifier shutdown timed out", "remaining", len(n.queue))
		return ctx.Err()
	}
}

// worker processes events from the queue.
func (n *WebhookNotifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.shutdown:
			// Drain remaining events before exiting
			n.drainQueue()
			return
		case ev := <-n.queue:
			n.deliver(ev)
		}
	}
}

// drainQueue delivers remaining events after shutdown signal.
func (n *WebhookNotifier) drainQueue() {
	for {
		select {
		case ev := <-n.queue:
			n.deliver(ev)
		default:
			return // queue empty
		}
	}
}

// deliver attempts to deliver an event with retry and circuit breaker.
func (n *WebhookNotifier) deliver(ev *event) {
	host := extractHost(n.config.CallbackURL)
	breaker := n.breakers.Get(host)

	if !breaker.Allow() {
		n.requeue(ev, host)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := n.sendWithRetry(ctx, ev); err != nil {
		breaker.RecordFailure()
		n.failed.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotifierFailed(ctx)
		}
		n.logger.Warn("Delivery failed", "destination", host, "type", ev.payload.Type, "error", err)
		return
	}

	breaker.RecordSuccess()
	n.delivered.Add(1)
	if n.metrics != nil {
		n.metrics.RecordNotifierDelivered(ctx, time.Since(start).Seconds())
	}
}

// requeue puts an event back in the queue after a delay when circuit is open.
func (n *WebhookNotifier) requeue(ev *event, host string) {
	if ev.requeues >= defaultMaxRequeues {
		n.dropped.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotifierDropped(context.Background())
		}
		n.logger.Warn("Event dropped, max requeues reached",
			"destination", host,
			"type", ev.payload.Type,
			"requeues", ev.requeues,
		)
		return
	}

	ev.requeues++
	requeues := ev.requeues // capture for goroutine
	n.requeued.Add(1)
	if n.metrics != nil {
		n.metrics.RecordNotifierRequeued(context.Background())
	}

	// Requeue after cooldown period so circuit has time to recover
	go func() {
		select {
		case <-n.shutdown:
			return
		case <-time.After(defaultBreakerCooldown):
		}

		select {
		case n.queue <- ev:
			n.logger.Debug("Event requeued", "destination", host, "type", ev.payload.Type, "requeues", requeues)
		case <-n.shutdown:
		default:
			// Buffer full, drop
			n.dropped.Add(1)
			if n.metrics != nil {
				n.metrics.RecordNotifierDropped(context.Background())
			}
			n.logger.Warn("Event dropped on requeue, buffer full", "destination", host, "type", ev.payload.Type)
		}
	}()
}

func (n *WebhookNotifier) sendWithRetry(ctx context.Context, ev *event) error {
	var lastErr error
	for attempt := range defaultMaxRetries + 1 {
		if attempt > 0 {
			n.retriesTotal.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff.Exponential(attempt, nil)):
			}
		}

		lastErr = n.sender.Send(ctx, n.config.CallbackURL, ev.payload, n.config.SigningKey)
		if lastErr == nil {
			return nil
		}
		if webhook.IsClientError(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// extractHost extracts the host from a URL for circuit breaker keying.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

// Verify WebhookNotifier implements Notifier
var _ Notifier = (*WebhookNotifier)(nil)
