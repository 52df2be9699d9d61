// Package poller drives the status polling loop: every interval it
// snapshots the in-progress compounds, times out stale ones, and polls
// the rest against the remote service under a concurrency bound.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"boltzflow/internal/boltz"
	"boltzflow/internal/model"
	"boltzflow/internal/notify"
	"boltzflow/internal/observability"
	"boltzflow/internal/store"
)

// Remote is the subset of the prediction client the poller needs.
type Remote interface {
	Status(ctx context.Context, apiKey, predictionID string) (*boltz.PredictionRecord, error)
}

// Fetcher hands a completed compound's artifacts to the download pipeline.
type Fetcher interface {
	Fetch(ctx context.Context, url string, ref model.CompoundRef)
}

// Config holds poller tuning.
type Config struct {
	Interval    time.Duration // tick period (default: 10s)
	Timeout     time.Duration // max age of a non-terminal compound (default: 2h)
	Concurrency int64         // max concurrent status polls (default: 10)
	RetryDelay  time.Duration // wait before re-polling for a missing download URL (default: 30s)
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Hour
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}
	return c
}

// Poller is the background polling loop.
type Poller struct {
	store    *store.Store
	remote   Remote
	pipeline Fetcher
	notifier notify.Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger
	cfg      Config
	sem      *semaphore.Weighted

	now func() time.Time
}

// New wires a poller. Run must be called to start it.
func New(cfg Config, st *store.Store, remote Remote, pipeline Fetcher, notifier notify.Notifier, metrics *observability.Metrics) *Poller {
	cfg = cfg.withDefaults()
	return &Poller{
		store:    st,
		remote:   remote,
		pipeline: pipeline,
		notifier: notifier,
		metrics:  metrics,
		logger:   slog.With("component", "poller"),
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.Concurrency),
		now:      time.Now,
	}
}

// Run ticks until the context is cancelled. Cancellation preempts the
// wait between ticks; an in-flight batch finishes first.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("poller started", "interval", p.cfg.Interval, "timeout", p.cfg.Timeout)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller cancelled, shutting down")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	var apiKey string
	var refs []model.CompoundRef
	p.store.View(func(st *model.State) {
		apiKey = st.APIKey
		refs = st.AllInProgress()
	})
	if apiKey == "" {
		return
	}

	now := p.now()
	var active, expired []model.CompoundRef
	for _, ref := range refs {
		if now.Sub(ref.SubmittedAt) >= p.cfg.Timeout {
			expired = append(expired, ref)
		} else {
			active = append(active, ref)
		}
	}

	if len(expired) > 0 {
		p.expire(ctx, expired, now)
	}
	if len(active) == 0 {
		return
	}

	p.logger.Info("polling in-progress compounds", "count", len(active))
	start := time.Now()

	var wg sync.WaitGroup
	for _, ref := range active {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(ref model.CompoundRef) {
			defer wg.Done()
			defer p.sem.Release(1)
			if p.metrics != nil {
				p.metrics.PollsInFlight.Add(ctx, 1)
				defer p.metrics.PollsInFlight.Add(ctx, -1)
			}
			p.pollOne(ctx, apiKey, ref)
		}(ref)
	}
	wg.Wait()

	if p.metrics != nil {
		p.metrics.RecordPollBatch(ctx, time.Since(start).Seconds())
	}
}

// expire marks stale compounds TimedOut in place and reports any runs
// that became complete as a result.
func (p *Poller) expire(ctx context.Context, expired []model.CompoundRef, now time.Time) {
	msg := fmt.Sprintf("Prediction timed out after %s", p.cfg.Timeout)

	var events []model.StatusEvent
	var completions []model.RunCompletion
	p.store.Update(func(st *model.State) {
		for _, ref := range expired {
			cp := st.FindCompound(ref.CompoundID)
			if cp == nil {
				continue
			}
			next, err := model.Transition(cp.Status, model.StatusTimedOut)
			if err != nil {
				continue // raced with another terminal transition
			}
			cp.Status = next
			cp.CompletedAt = &now
			cp.ErrorMessage = msg
			events = append(events, model.StatusEvent{
				CompoundID:  ref.CompoundID,
				RunID:       ref.RunID,
				CampaignID:  ref.CampaignID,
				Status:      model.StatusTimedOut,
				CompletedAt: &now,
			})
		}

		checked := make(map[uuid.UUID]bool)
		for _, ref := range expired {
			if checked[ref.RunID] {
				continue
			}
			checked[ref.RunID] = true
			if summary := st.CheckRunCompletion(ref.RunID); summary != nil {
				if run := st.FindRun(ref.RunID); run != nil {
					run.CompletedAt = &now
				}
				completions = append(completions, *summary)
			}
		}
	})
	if len(events) == 0 {
		return
	}

	p.logger.Warn("timed out stale compounds", "count", len(events))
	p.persistSnapshot(ctx)

	for _, ev := range events {
		if p.metrics != nil {
			p.metrics.RecordTimeout(ctx)
			p.metrics.RecordTerminal(ctx, string(model.StatusTimedOut))
		}
		p.notifier.StatusChanged(ev)
	}
	for _, summary := range completions {
		p.notifier.RunCompleted(summary)
	}
}

// persistSnapshot clones under the lock and writes without it.
func (p *Poller) persistSnapshot(ctx context.Context) {
	err := p.store.PersistSnapshot(p.store.Snapshot())
	if p.metrics != nil {
		p.metrics.RecordPersist(ctx, err == nil)
	}
	if err != nil {
		// Not retried inline: the next flush or state change writes again.
		p.logger.Error("failed to persist state", "error", err)
	}
}
