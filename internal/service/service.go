// Package service implements the synchronous request-handler surface:
// settings, campaign and run management, batch submission, cancellation
// and per-compound retry. The poller owns everything asynchronous.
package service

import (
	"context"
	"log/slog"
	"time"

	"boltzflow/internal/boltz"
	"boltzflow/internal/notify"
	"boltzflow/internal/observability"
	"boltzflow/internal/store"
)

// ligandChainID is the chain identifier assigned to the SMILES entry in
// every inference document. The protein always occupies chain A.
const ligandChainID = "B"

// Remote is the subset of the prediction API the service submits through.
type Remote interface {
	Submit(ctx context.Context, apiKey string, input boltz.InferenceInput, options boltz.InferenceOptions) (*boltz.SubmitResponse, error)
	Probe(ctx context.Context, apiKey string) error
}

// Config holds service tunables.
type Config struct {
	// SubmitConcurrency bounds parallel submissions within one batch.
	SubmitConcurrency int
}

func (c Config) withDefaults() Config {
	if c.SubmitConcurrency <= 0 {
		c.SubmitConcurrency = 5
	}
	return c
}

// Service executes user-facing operations against the store and the
// remote prediction API.
type Service struct {
	store    *store.Store
	remote   Remote
	notifier notify.Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger
	cfg      Config

	now func() time.Time
}

// New creates a service. metrics may be nil in tests.
func New(st *store.Store, remote Remote, notifier notify.Notifier, metrics *observability.Metrics, logger *slog.Logger, cfg Config) *Service {
	return &Service{
		store:    st,
		remote:   remote,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.With("component", "service"),
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// persist writes the current state snapshot to disk. Mutations are
// already visible in memory when this runs; a failed write is surfaced
// to the caller but the flush cycle retries it shortly anyway.
func (s *Service) persist(ctx context.Context) error {
	err := s.store.PersistSnapshot(s.store.Snapshot())
	if s.metrics != nil {
		s.metrics.RecordPersist(ctx, err == nil)
	}
	if err != nil {
		s.logger.Error("Failed to persist state", "error", err)
	}
	return err
}
