package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"boltzflow/internal/boltz"
	"boltzflow/internal/model"
	"boltzflow/internal/notify"
	"boltzflow/internal/store"
	"boltzflow/internal/testutil"
)

type fakeRemote struct {
	mu       sync.Mutex
	inputs   []boltz.InferenceInput
	err      error // returned for every submission when set
	probeErr error
	delay    time.Duration

	calls       atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func (f *fakeRemote) Submit(ctx context.Context, apiKey string, input boltz.InferenceInput, options boltz.InferenceOptions) (*boltz.SubmitResponse, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.calls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, input)
	return &boltz.SubmitResponse{PredictionID: uuid.NewString(), Message: "accepted"}, nil
}

func (f *fakeRemote) Probe(ctx context.Context, apiKey string) error {
	f.calls.Add(1)
	return f.probeErr
}

type recordingNotifier struct {
	mu          sync.Mutex
	statuses    []model.StatusEvent
	completions []model.RunCompletion
}

func (r *recordingNotifier) StatusChanged(ev model.StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, ev)
}

func (r *recordingNotifier) RunCompleted(summary model.RunCompletion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions = append(r.completions, summary)
}

func (r *recordingNotifier) FilesReady(model.FilesReadyEvent) {}
func (r *recordingNotifier) Stats() notify.Stats              { return notify.Stats{} }
func (r *recordingNotifier) Close(ctx context.Context) error  { return nil }

func (r *recordingNotifier) statusEvents() []model.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.StatusEvent(nil), r.statuses...)
}

func (r *recordingNotifier) runEvents() []model.RunCompletion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.RunCompletion(nil), r.completions...)
}

type fixture struct {
	svc      *Service
	store    *store.Store
	remote   *fakeRemote
	notifier *recordingNotifier
	root     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	state := model.NewState()
	state.APIKey = "sk-test"
	st := store.New(root, state)

	remote := &fakeRemote{}
	notifier := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := New(st, remote, notifier, nil, logger, Config{})
	return &fixture{svc: svc, store: st, remote: remote, notifier: notifier, root: root}
}

func (f *fixture) createCampaign(t *testing.T, name string) *model.Campaign {
	t.Helper()
	c, err := f.svc.CreateCampaign(context.Background(), CreateCampaignRequest{
		DisplayName:     name,
		ProteinSequence: "MKTAYIAKQR",
	})
	if err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}
	return c
}

func (f *fixture) compound(t *testing.T, id uuid.UUID) model.Compound {
	t.Helper()
	cp, err := f.svc.GetCompound(id)
	if err != nil {
		t.Fatalf("GetCompound: %v", err)
	}
	return *cp
}

func waitForSubmitted(t *testing.T, f *fixture, runID uuid.UUID) {
	t.Helper()
	testutil.MustWaitFor(t, func() bool {
		run, err := f.svc.GetRun(runID)
		if err != nil {
			return false
		}
		for _, cp := range run.Compounds {
			if cp.Status == model.StatusPending {
				return false
			}
		}
		return true
	})
}

func TestCreateCampaign_FolderCollision(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	first := f.createCampaign(t, "EGFR Screen")
	second := f.createCampaign(t, "EGFR screen!")
	third := f.createCampaign(t, "egfr-screen")

	if first.FolderName != "egfr-screen" {
		t.Fatalf("first folder = %q", first.FolderName)
	}
	if second.FolderName != "egfr-screen-2" || third.FolderName != "egfr-screen-3" {
		t.Fatalf("collision folders = %q, %q", second.FolderName, third.FolderName)
	}
	for _, c := range []*model.Campaign{first, second, third} {
		if _, err := os.Stat(filepath.Join(f.root, c.FolderName)); err != nil {
			t.Fatalf("campaign folder missing: %v", err)
		}
	}
}

func TestCreateRun_SubmitsAllCompounds(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	campaign := f.createCampaign(t, "EGFR")

	run, err := f.svc.CreateRun(context.Background(), CreateRunRequest{
		CampaignID:  campaign.ID,
		DisplayName: "batch 1",
		Compounds: []CompoundInput{
			{Name: "aspirin", SMILES: "CC(=O)Oc1ccccc1C(=O)O"},
			{Name: "caffeine", SMILES: "Cn1cnc2c1c(=O)n(C)c(=O)n2C"},
		},
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	for _, cp := range run.Compounds {
		if cp.Status != model.StatusPending {
			t.Fatalf("returned snapshot status = %s, want %s", cp.Status, model.StatusPending)
		}
	}

	waitForSubmitted(t, f, run.ID)
	got, err := f.svc.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	for _, cp := range got.Compounds {
		if cp.Status != model.StatusCreated {
			t.Fatalf("compound %s status = %s, want %s", cp.DisplayName, cp.Status, model.StatusCreated)
		}
		if cp.BoltzJobID == "" || cp.SubmittedAt == nil {
			t.Fatalf("compound %s missing job id or submission time", cp.DisplayName)
		}
	}
	if n := len(f.notifier.statusEvents()); n != 2 {
		t.Fatalf("status events = %d, want 2", n)
	}
	if _, err := os.Stat(filepath.Join(f.root, campaign.FolderName, got.FolderName)); err != nil {
		t.Fatalf("run folder missing: %v", err)
	}
}

func TestCreateRun_ConcurrencyBound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.remote.delay = 10 * time.Millisecond
	campaign := f.createCampaign(t, "EGFR")

	compounds := make([]CompoundInput, 20)
	for i := range compounds {
		compounds[i] = CompoundInput{Name: uuid.NewString(), SMILES: "C"}
	}
	run, err := f.svc.CreateRun(context.Background(), CreateRunRequest{
		CampaignID:  campaign.ID,
		DisplayName: "big batch",
		Compounds:   compounds,
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	waitForSubmitted(t, f, run.ID)

	if max := f.remote.maxInFlight.Load(); max > 5 {
		t.Fatalf("max in-flight submissions = %d, want <= 5", max)
	}
	if calls := f.remote.calls.Load(); calls != 20 {
		t.Fatalf("submissions = %d, want 20", calls)
	}
}

func TestCreateRun_SubmissionFailureIsolated(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.remote.err = errors.New("boom")
	campaign := f.createCampaign(t, "EGFR")

	run, err := f.svc.CreateRun(context.Background(), CreateRunRequest{
		CampaignID:  campaign.ID,
		DisplayName: "batch",
		Compounds:   []CompoundInput{{Name: "a", SMILES: "C"}},
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	waitForSubmitted(t, f, run.ID)

	cp := f.compound(t, run.Compounds[0].ID)
	if cp.Status != model.StatusFailed {
		t.Fatalf("status = %s, want %s", cp.Status, model.StatusFailed)
	}
	if cp.ErrorMessage == "" || cp.CompletedAt == nil {
		t.Fatal("failed compound missing error message or completion time")
	}

	// Every compound failed at submission, so the run is complete.
	testutil.MustWaitFor(t, func() bool { return len(f.notifier.runEvents()) == 1 })
	if got := f.notifier.runEvents()[0].FailedCount; got != 1 {
		t.Fatalf("failed count = %d, want 1", got)
	}
}

func TestCreateRun_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	campaign := f.createCampaign(t, "EGFR")

	cases := []struct {
		name string
		req  CreateRunRequest
	}{
		{"missing name", CreateRunRequest{CampaignID: campaign.ID, Compounds: []CompoundInput{{Name: "a", SMILES: "C"}}}},
		{"no compounds", CreateRunRequest{CampaignID: campaign.ID, DisplayName: "x"}},
		{"compound without smiles", CreateRunRequest{CampaignID: campaign.ID, DisplayName: "x", Compounds: []CompoundInput{{Name: "a"}}}},
		{"unknown campaign", CreateRunRequest{CampaignID: uuid.New(), DisplayName: "x", Compounds: []CompoundInput{{Name: "a", SMILES: "C"}}}},
	}
	for _, tc := range cases {
		if _, err := f.svc.CreateRun(context.Background(), tc.req); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestCancelRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	campaign := f.createCampaign(t, "EGFR")

	run, err := f.svc.CreateRun(context.Background(), CreateRunRequest{
		CampaignID:  campaign.ID,
		DisplayName: "batch",
		Compounds:   []CompoundInput{{Name: "a", SMILES: "C"}, {Name: "b", SMILES: "CC"}},
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	waitForSubmitted(t, f, run.ID)

	// One compound already finished; cancel must leave it alone.
	completedID := run.Compounds[0].ID
	f.store.Update(func(st *model.State) {
		cp := st.FindCompound(completedID)
		cp.Status = model.StatusCompleted
		now := time.Now().UTC()
		cp.CompletedAt = &now
	})

	if err := f.svc.CancelRun(context.Background(), run.ID); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}

	if got := f.compound(t, completedID).Status; got != model.StatusCompleted {
		t.Fatalf("completed compound became %s", got)
	}
	cancelled := f.compound(t, run.Compounds[1].ID)
	if cancelled.Status != model.StatusCancelled || cancelled.CompletedAt == nil {
		t.Fatalf("cancelled compound = %+v", cancelled)
	}

	got, err := f.svc.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.CompletedAt == nil {
		t.Fatal("run not marked complete after cancel")
	}
	events := f.notifier.runEvents()
	if len(events) != 1 || events[0].CancelledCount != 1 || events[0].CompletedCount != 1 {
		t.Fatalf("run events = %+v", events)
	}

	// Second cancel is a no-op.
	if err := f.svc.CancelRun(context.Background(), run.ID); err != nil {
		t.Fatalf("second CancelRun: %v", err)
	}
	if len(f.notifier.runEvents()) != 1 {
		t.Fatal("second cancel produced new run events")
	}
}

func TestRetryCompound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	campaign := f.createCampaign(t, "EGFR")

	run, err := f.svc.CreateRun(context.Background(), CreateRunRequest{
		CampaignID:  campaign.ID,
		DisplayName: "batch",
		Compounds:   []CompoundInput{{Name: "a", SMILES: "C"}},
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	waitForSubmitted(t, f, run.ID)
	compoundID := run.Compounds[0].ID

	// Not terminal yet: retry is rejected.
	if err := f.svc.RetryCompound(context.Background(), compoundID); err == nil {
		t.Fatal("expected retry of in-flight compound to fail")
	}

	oldJobID := f.compound(t, compoundID).BoltzJobID
	now := time.Now().UTC()
	f.store.Update(func(st *model.State) {
		cp := st.FindCompound(compoundID)
		cp.Status = model.StatusFailed
		cp.CompletedAt = &now
		cp.ErrorMessage = "gpu allocation failed"
		if r := st.FindRun(run.ID); r != nil {
			r.CompletedAt = &now
		}
	})

	if err := f.svc.RetryCompound(context.Background(), compoundID); err != nil {
		t.Fatalf("RetryCompound: %v", err)
	}

	cp := f.compound(t, compoundID)
	if cp.Status != model.StatusCreated {
		t.Fatalf("status = %s, want %s", cp.Status, model.StatusCreated)
	}
	if cp.BoltzJobID == "" || cp.BoltzJobID == oldJobID {
		t.Fatalf("job id not refreshed: %q", cp.BoltzJobID)
	}
	if cp.ErrorMessage != "" || cp.CompletedAt != nil || cp.Metrics != nil {
		t.Fatalf("retry left stale terminal fields: %+v", cp)
	}

	got, err := f.svc.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.CompletedAt != nil {
		t.Fatal("run still marked complete after retry")
	}
}

func TestRenameRun_TwoPhase(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	campaign := f.createCampaign(t, "EGFR")

	run, err := f.svc.CreateRun(context.Background(), CreateRunRequest{
		CampaignID:  campaign.ID,
		DisplayName: "batch one",
		Compounds:   []CompoundInput{{Name: "a", SMILES: "C"}},
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	waitForSubmitted(t, f, run.ID)

	if err := f.svc.RenameRun(context.Background(), run.ID, "Lead Series"); err != nil {
		t.Fatalf("RenameRun: %v", err)
	}

	got, err := f.svc.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.DisplayName != "Lead Series" || got.FolderName != "lead-series" {
		t.Fatalf("renamed run = %q / %q", got.DisplayName, got.FolderName)
	}
	if _, err := os.Stat(filepath.Join(f.root, campaign.FolderName, "lead-series")); err != nil {
		t.Fatalf("renamed folder missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.root, campaign.FolderName, "batch-one")); !os.IsNotExist(err) {
		t.Fatal("old folder still present")
	}
}

func TestRenameRun_DiskFailureKeepsFolderName(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	campaign := f.createCampaign(t, "EGFR")

	run, err := f.svc.CreateRun(context.Background(), CreateRunRequest{
		CampaignID:  campaign.ID,
		DisplayName: "batch one",
		Compounds:   []CompoundInput{{Name: "a", SMILES: "C"}},
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	waitForSubmitted(t, f, run.ID)

	// Make the rename fail by removing the source folder.
	if err := os.RemoveAll(filepath.Join(f.root, campaign.FolderName, run.FolderName)); err != nil {
		t.Fatalf("remove folder: %v", err)
	}
	if err := f.svc.RenameRun(context.Background(), run.ID, "Lead Series"); err == nil {
		t.Fatal("expected rename to fail")
	}

	got, err := f.svc.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.FolderName != "batch-one" {
		t.Fatalf("folder name committed despite disk failure: %q", got.FolderName)
	}
}

func TestSettings(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if got := f.svc.GetSettings(); !got.APIKeySet || got.RootDir != f.root {
		t.Fatalf("settings = %+v", got)
	}
	if err := f.svc.SaveSettings(context.Background(), ""); err == nil {
		t.Fatal("expected empty key to be rejected")
	}
	if err := f.svc.SaveSettings(context.Background(), "sk-new"); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	var key string
	f.store.View(func(st *model.State) { key = st.APIKey })
	if key != "sk-new" {
		t.Fatalf("stored key = %q", key)
	}

	if err := f.svc.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	f.remote.probeErr = errors.New("unauthorized")
	if err := f.svc.TestConnection(context.Background()); err == nil {
		t.Fatal("expected probe failure to surface")
	}
}

func TestArtifactPaths(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	campaign := f.createCampaign(t, "EGFR")

	run, err := f.svc.CreateRun(context.Background(), CreateRunRequest{
		CampaignID:  campaign.ID,
		DisplayName: "batch",
		Compounds:   []CompoundInput{{Name: "aspirin", SMILES: "C"}},
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	waitForSubmitted(t, f, run.ID)
	compoundID := run.Compounds[0].ID

	dir, err := f.svc.CompoundDir(compoundID)
	if err != nil {
		t.Fatalf("CompoundDir: %v", err)
	}
	if _, err := f.svc.StructurePath(compoundID, 0); err == nil {
		t.Fatal("expected missing structure file to error")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, "sample_0_structure.cif")
	if err := os.WriteFile(path, []byte("data_aspirin\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := f.svc.StructurePath(compoundID, 0)
	if err != nil {
		t.Fatalf("StructurePath: %v", err)
	}
	if got != path {
		t.Fatalf("path = %q, want %q", got, path)
	}

	// Tampered folder names must not resolve.
	f.store.Update(func(st *model.State) {
		st.FindCompound(compoundID).FolderName = "../escape"
	})
	if _, err := f.svc.CompoundDir(compoundID); err == nil {
		t.Fatal("expected tampered folder name to be rejected")
	}
}
