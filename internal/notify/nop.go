package notify

import (
	"context"
	"log/slog"

	"boltzflow/internal/model"
)

// NopNotifier logs events at debug level and delivers nothing. Used when
// no callback URL is configured.
type NopNotifier struct {
	logger *slog.Logger
}

// NewNop creates a notifier that discards all events.
func NewNop() *NopNotifier {
	return &NopNotifier{logger: slog.With("component", "notify")}
}

func (n *NopNotifier) StatusChanged(ev model.StatusEvent) {
	n.logger.Debug("status event (no callback configured)",
		"compound_id", ev.CompoundID, "status", ev.Status)
}

func (n *NopNotifier) FilesReady(ev model.FilesReadyEvent) {
	n.logger.Debug("files-ready event (no callback configured)",
		"compound_id", ev.CompoundID)
}

func (n *NopNotifier) RunCompleted(summary model.RunCompletion) {
	n.logger.Debug("run-completed event (no callback configured)",
		"run_id", summary.RunID)
}

func (n *NopNotifier) Stats() Stats { return Stats{} }

func (n *NopNotifier) Close(ctx context.Context) error { return nil }

var _ Notifier = (*NopNotifier)(nil)
