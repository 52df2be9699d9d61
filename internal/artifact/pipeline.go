package artifact

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"boltzflow/internal/apperrors"
	"boltzflow/internal/model"
	"boltzflow/internal/notify"
	"boltzflow/internal/observability"
	"boltzflow/internal/store"
)

// Downloader fetches raw archive bytes from a presigned URL.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Pipeline installs a completed prediction's artifacts: download, extract
// into scratch, validate, then move into the compound's folder.
type Pipeline struct {
	client   Downloader
	store    *store.Store
	notifier notify.Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewPipeline wires the artifact pipeline.
func NewPipeline(client Downloader, st *store.Store, notifier notify.Notifier, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		client:   client,
		store:    st,
		notifier: notifier,
		metrics:  metrics,
		logger:   slog.With("component", "artifact"),
	}
}

// Fetch runs the full pipeline for one compound. Failures never
// propagate: they are logged and recorded in the compound's download
// error field, leaving its prediction status untouched.
func (p *Pipeline) Fetch(ctx context.Context, downloadURL string, ref model.CompoundRef) {
	start := time.Now()
	err := p.fetch(ctx, downloadURL, ref)
	if p.metrics != nil {
		p.metrics.RecordDownload(ctx, err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		p.logger.Warn("artifact retrieval failed",
			"compound_id", ref.CompoundID, "error", err)
		p.recordDownloadError(ref, err)
		return
	}

	p.logger.Info("artifacts installed", "compound_id", ref.CompoundID)
	p.notifier.FilesReady(model.FilesReadyEvent{CompoundID: ref.CompoundID, RunID: ref.RunID})
}

func (p *Pipeline) fetch(ctx context.Context, downloadURL string, ref model.CompoundRef) error {
	data, err := p.client.Download(ctx, downloadURL)
	if err != nil {
		return err
	}

	scratch := filepath.Join(p.store.Root(), store.ScratchDir, ref.CompoundID.String())
	if err := os.RemoveAll(scratch); err != nil {
		return apperrors.Internal("prepare scratch dir", err)
	}
	if err := ExtractArchive(data, scratch); err != nil {
		os.RemoveAll(scratch)
		return err
	}
	if err := ValidateExtraction(scratch); err != nil {
		os.RemoveAll(scratch)
		return err
	}

	// Phase one: resolve the destination from the live hierarchy and
	// create parent directories outside the lock.
	parent, err := p.resolveParent(ref)
	if err != nil {
		os.RemoveAll(scratch)
		return err
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		os.RemoveAll(scratch)
		return apperrors.Internal("create destination dir", err)
	}

	// Phase two: re-resolve under the lock and commit with an atomic
	// rename. Folders may have been renamed between the phases; the
	// re-resolution makes the stale path harmless.
	var commitErr error
	p.store.Update(func(st *model.State) {
		campaign, run, compound := st.FindCompoundContext(ref.CompoundID)
		if compound == nil {
			commitErr = apperrors.NotFound("compound", ref.CompoundID.String())
			return
		}
		final := filepath.Join(p.store.Root(), campaign.FolderName, run.FolderName, compound.FolderName)
		if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
			commitErr = apperrors.Internal("create destination dir", err)
			return
		}
		if err := os.RemoveAll(final); err != nil {
			commitErr = apperrors.Internal("clear destination dir", err)
			return
		}
		if err := os.Rename(scratch, final); err != nil {
			commitErr = apperrors.Internal("install artifacts", err)
			return
		}
		compound.DownloadError = ""
	})
	if commitErr != nil {
		os.RemoveAll(scratch)
		return commitErr
	}
	return nil
}

// resolveParent returns the run directory for the compound.
func (p *Pipeline) resolveParent(ref model.CompoundRef) (string, error) {
	var parent string
	var err error
	p.store.View(func(st *model.State) {
		campaign, run, compound := st.FindCompoundContext(ref.CompoundID)
		if compound == nil {
			err = apperrors.NotFound("compound", ref.CompoundID.String())
			return
		}
		parent = filepath.Join(p.store.Root(), campaign.FolderName, run.FolderName)
	})
	return parent, err
}

func (p *Pipeline) recordDownloadError(ref model.CompoundRef, cause error) {
	p.store.Update(func(st *model.State) {
		if compound := st.FindCompound(ref.CompoundID); compound != nil {
			compound.DownloadError = cause.Error()
		}
	})
}
