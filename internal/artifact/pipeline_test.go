package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"boltzflow/internal/model"
	"boltzflow/internal/notify"
	"boltzflow/internal/store"
)

type fakeDownloader struct {
	data []byte
	err  error
}

func (f *fakeDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	return f.data, f.err
}

type captureNotifier struct {
	mu         sync.Mutex
	filesReady []model.FilesReadyEvent
}

func (c *captureNotifier) StatusChanged(model.StatusEvent)  {}
func (c *captureNotifier) RunCompleted(model.RunCompletion) {}
func (c *captureNotifier) FilesReady(ev model.FilesReadyEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filesReady = append(c.filesReady, ev)
}
func (c *captureNotifier) Stats() notify.Stats             { return notify.Stats{} }
func (c *captureNotifier) Close(ctx context.Context) error { return nil }

func (c *captureNotifier) events() []model.FilesReadyEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.FilesReadyEvent(nil), c.filesReady...)
}

func pipelineFixture(t *testing.T, dl Downloader) (*Pipeline, *store.Store, *captureNotifier, model.CompoundRef) {
	t.Helper()
	now := time.Now().UTC()
	state := model.NewState()
	state.Campaigns = []model.Campaign{{
		ID:         uuid.New(),
		FolderName: "egfr",
		CreatedAt:  now,
		Runs: []model.Run{{
			ID:         uuid.New(),
			FolderName: "batch-1",
			CreatedAt:  now,
			Compounds: []model.Compound{{
				ID:            uuid.New(),
				FolderName:    "cpd-1",
				BoltzJobID:    "job-1",
				Status:        model.StatusCompleted,
				SubmittedAt:   &now,
				DownloadError: "previous failure",
			}},
		}},
	}}

	st := store.New(t.TempDir(), state)
	n := &captureNotifier{}
	p := NewPipeline(dl, st, n, nil)

	run := state.Campaigns[0].Runs[0]
	ref := model.CompoundRef{
		CompoundID:  run.Compounds[0].ID,
		BoltzJobID:  "job-1",
		CampaignID:  state.Campaigns[0].ID,
		RunID:       run.ID,
		SubmittedAt: now,
	}
	return p, st, n, ref
}

func validArchive(t *testing.T) []byte {
	t.Helper()
	return buildArchive(t, []archiveEntry{
		{name: "prediction_x/metrics.json", body: `{"affinity":{}}`},
		{name: "prediction_x/sample_0_predicted_structure.cif", body: "data_cif"},
	})
}

func TestPipeline_Fetch(t *testing.T) {
	t.Parallel()

	p, st, n, ref := pipelineFixture(t, &fakeDownloader{data: validArchive(t)})
	p.Fetch(context.Background(), "https://example.test/a.tar.gz", ref)

	dest := filepath.Join(st.Root(), "egfr", "batch-1", "cpd-1")
	for _, want := range []string{MetricsFile, PrimaryStructureFile} {
		if _, err := os.Stat(filepath.Join(dest, want)); err != nil {
			t.Errorf("missing %s in destination: %v", want, err)
		}
	}

	st.View(func(s *model.State) {
		cp := s.FindCompound(ref.CompoundID)
		if cp.DownloadError != "" {
			t.Errorf("DownloadError = %q, want cleared", cp.DownloadError)
		}
		if cp.Status != model.StatusCompleted {
			t.Errorf("status = %s, should be untouched", cp.Status)
		}
	})

	events := n.events()
	if len(events) != 1 || events[0].CompoundID != ref.CompoundID {
		t.Errorf("files-ready events = %+v, want one for the compound", events)
	}

	// Scratch area is gone after the rename.
	if _, err := os.Stat(filepath.Join(st.Root(), store.ScratchDir, ref.CompoundID.String())); !os.IsNotExist(err) {
		t.Error("scratch dir should not remain")
	}
}

func TestPipeline_DownloadFailure(t *testing.T) {
	t.Parallel()

	p, st, n, ref := pipelineFixture(t, &fakeDownloader{err: errors.New("connection reset")})
	p.Fetch(context.Background(), "https://example.test/a.tar.gz", ref)

	st.View(func(s *model.State) {
		cp := s.FindCompound(ref.CompoundID)
		if cp.DownloadError == "" {
			t.Error("DownloadError should be recorded")
		}
		// A late artifact failure never touches the prediction status.
		if cp.Status != model.StatusCompleted {
			t.Errorf("status = %s, want Completed", cp.Status)
		}
	})
	if len(n.events()) != 0 {
		t.Error("no files-ready event expected on failure")
	}
}

func TestPipeline_ValidationFailure(t *testing.T) {
	t.Parallel()

	// Archive without metrics.json.
	data := buildArchive(t, []archiveEntry{
		{name: "prediction_x/sample_0_predicted_structure.cif", body: "data_cif"},
	})
	p, st, n, ref := pipelineFixture(t, &fakeDownloader{data: data})
	p.Fetch(context.Background(), "https://example.test/a.tar.gz", ref)

	st.View(func(s *model.State) {
		if cp := s.FindCompound(ref.CompoundID); cp.DownloadError == "" {
			t.Error("DownloadError should be recorded on validation failure")
		}
	})
	if len(n.events()) != 0 {
		t.Error("no files-ready event expected on failure")
	}
	if _, err := os.Stat(filepath.Join(st.Root(), store.ScratchDir, ref.CompoundID.String())); !os.IsNotExist(err) {
		t.Error("scratch dir should be cleaned up after validation failure")
	}
}
