package poller

import (
	"context"

	"boltzflow/internal/model"
)

// RecoverDownloads re-polls compounds whose artifacts never landed on
// disk and, when a fresh download URL is available, runs the pipeline
// for them. Startup recovery and the delayed missing-URL retry share
// this path.
func (p *Poller) RecoverDownloads(ctx context.Context, refs []model.CompoundRef) {
	if len(refs) == 0 {
		return
	}

	var apiKey string
	p.store.View(func(st *model.State) { apiKey = st.APIKey })
	if apiKey == "" {
		p.logger.Warn("no API key configured, skipping download recovery")
		return
	}

	p.logger.Info("recovering incomplete downloads", "count", len(refs))
	for _, ref := range refs {
		rec, err := p.remote.Status(ctx, apiKey, ref.BoltzJobID)
		if err != nil {
			p.logger.Warn("failed to re-poll compound for recovery",
				"compound_id", ref.CompoundID, "error", err)
			continue
		}
		url := downloadURL(rec)
		if url == "" {
			p.logger.Warn("still no download URL for compound",
				"compound_id", ref.CompoundID)
			continue
		}
		p.pipeline.Fetch(ctx, url, ref)
	}
}
