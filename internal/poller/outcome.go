package poller

import (
	"context"
	"strings"
	"time"

	"boltzflow/internal/boltz"
	"boltzflow/internal/model"
)

// pollOne checks one compound against the remote service and applies the
// outcome. A single compound's failure never affects the rest of the
// batch.
func (p *Poller) pollOne(ctx context.Context, apiKey string, ref model.CompoundRef) {
	rec, err := p.remote.Status(ctx, apiKey, ref.BoltzJobID)
	if p.metrics != nil {
		p.metrics.RecordPoll(ctx, err == nil)
	}
	if err != nil {
		p.logger.Warn("failed to poll compound", "compound_id", ref.CompoundID, "error", err)
		return
	}

	switch strings.ToUpper(rec.PredictionStatus) {
	case boltz.RemoteCompleted:
		metrics, err := boltz.ParseMetrics(rec)
		if err != nil {
			p.logger.Warn("failed to parse metrics", "compound_id", ref.CompoundID, "error", err)
			p.markTerminal(ctx, ref, model.StatusFailed, "Failed to parse metrics: "+err.Error(), nil)
			return
		}
		p.onCompleted(ctx, ref, metrics, rec)

	case boltz.RemoteFailed:
		msg := rec.PredictionStageDescription
		if msg == "" {
			msg = "Unknown error"
		}
		p.markTerminal(ctx, ref, model.StatusFailed, msg, nil)

	case boltz.RemoteRunning, boltz.RemoteCreated, boltz.RemotePending:
		p.updateProgress(ref, progressStatus(rec.PredictionStatus))

	default:
		p.logger.Warn("unknown prediction status",
			"status", rec.PredictionStatus, "compound_id", ref.CompoundID)
	}
}

func progressStatus(remote string) model.Status {
	switch strings.ToUpper(remote) {
	case boltz.RemoteRunning:
		return model.StatusRunning
	case boltz.RemoteCreated:
		return model.StatusCreated
	default:
		return model.StatusPending
	}
}

// onCompleted records the terminal status and hands the artifacts to the
// pipeline. When the record carries no download URL yet, one delayed
// retry goes through the recovery path; after that, only a restart scan
// picks the compound up again.
func (p *Poller) onCompleted(ctx context.Context, ref model.CompoundRef, metrics *model.CompoundMetrics, rec *boltz.PredictionRecord) {
	if !p.markTerminal(ctx, ref, model.StatusCompleted, "", metrics) {
		return
	}

	url := downloadURL(rec)
	if url == "" {
		p.logger.Warn("no download URL for completed compound, scheduling retry",
			"compound_id", ref.CompoundID)
		go func() {
			t := time.NewTimer(p.cfg.RetryDelay)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			p.RecoverDownloads(ctx, []model.CompoundRef{ref})
		}()
		return
	}
	p.pipeline.Fetch(ctx, url, ref)
}

// markTerminal applies a terminal transition, persists, and notifies.
// Returns false when the compound is gone or already terminal.
func (p *Poller) markTerminal(ctx context.Context, ref model.CompoundRef, status model.Status, errMsg string, metrics *model.CompoundMetrics) bool {
	now := p.now()

	applied := false
	var completion *model.RunCompletion
	p.store.Update(func(st *model.State) {
		cp := st.FindCompound(ref.CompoundID)
		if cp == nil {
			return
		}
		next, err := model.Transition(cp.Status, status)
		if err != nil {
			return // raced with cancel or another terminal outcome
		}
		cp.Status = next
		cp.CompletedAt = &now
		cp.ErrorMessage = errMsg
		if metrics != nil {
			cp.Metrics = metrics
		}
		applied = true

		if completion = st.CheckRunCompletion(ref.RunID); completion != nil {
			if run := st.FindRun(ref.RunID); run != nil {
				run.CompletedAt = &now
			}
		}
	})
	if !applied {
		return false
	}

	p.persistSnapshot(ctx)
	if p.metrics != nil {
		p.metrics.RecordTerminal(ctx, string(status))
	}
	p.notifier.StatusChanged(model.StatusEvent{
		CompoundID:  ref.CompoundID,
		RunID:       ref.RunID,
		CampaignID:  ref.CampaignID,
		Status:      status,
		Metrics:     metrics,
		CompletedAt: &now,
	})
	if completion != nil {
		p.notifier.RunCompleted(*completion)
	}
	return true
}

// updateProgress records a non-terminal status change. No-op when the
// remote status matches what we already have.
func (p *Poller) updateProgress(ref model.CompoundRef, status model.Status) {
	unchanged := false
	p.store.View(func(st *model.State) {
		cp := st.FindCompound(ref.CompoundID)
		unchanged = cp == nil || cp.Status == status
	})
	if unchanged {
		return
	}

	changed := false
	p.store.Update(func(st *model.State) {
		cp := st.FindCompound(ref.CompoundID)
		if cp == nil || cp.Status == status {
			return
		}
		next, err := model.Transition(cp.Status, status)
		if err != nil {
			return
		}
		cp.Status = next
		changed = true
	})
	if changed {
		p.notifier.StatusChanged(model.StatusEvent{
			CompoundID: ref.CompoundID,
			RunID:      ref.RunID,
			CampaignID: ref.CampaignID,
			Status:     status,
		})
	}
}

func downloadURL(rec *boltz.PredictionRecord) string {
	if rec.PredictionResults != nil && rec.PredictionResults.Output != nil {
		return rec.PredictionResults.Output.DownloadURL
	}
	return ""
}
