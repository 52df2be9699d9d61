package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"boltzflow/internal/apperrors"
	"boltzflow/internal/boltz"
	"boltzflow/internal/model"
)

// CompoundInput is one ligand candidate in a run request.
type CompoundInput struct {
	Name   string `json:"name"`
	SMILES string `json:"smiles"`
}

// CreateRunRequest carries the fields for a new run. Params falls back
// to the standard inference parameters when nil.
type CreateRunRequest struct {
	CampaignID  uuid.UUID        `json:"campaign_id"`
	DisplayName string           `json:"display_name"`
	Compounds   []CompoundInput  `json:"compounds"`
	Params      *model.RunParams `json:"params,omitempty"`
}

// CreateRun records a run with all compounds Pending, creates its folder,
// persists, and kicks off background submission. The returned run is the
// pre-submission snapshot; callers observe submission progress through
// status notifications or polling the run.
func (s *Service) CreateRun(ctx context.Context, req CreateRunRequest) (*model.Run, error) {
	if req.DisplayName == "" {
		return nil, apperrors.Validation("display_name", "display_name is required")
	}
	if len(req.Compounds) == 0 {
		return nil, apperrors.Validation("compounds", "at least one compound is required")
	}
	for _, c := range req.Compounds {
		if c.Name == "" || c.SMILES == "" {
			return nil, apperrors.Validation("compounds", "every compound needs a name and a smiles string")
		}
	}

	params := model.DefaultRunParams()
	if req.Params != nil {
		params = *req.Params
	}

	base := model.SanitizeFolderName(req.DisplayName)
	var (
		run             model.Run
		campaignFolder  string
		proteinSequence string
		apiKey          string
		err             error
	)
	s.store.Update(func(st *model.State) {
		campaign := st.FindCampaign(req.CampaignID)
		if campaign == nil {
			err = apperrors.NotFound("campaign", req.CampaignID.String())
			return
		}
		if st.APIKey == "" {
			err = apperrors.Validation("api_key", "no API key configured")
			return
		}
		apiKey = st.APIKey
		proteinSequence = campaign.ProteinSequence
		campaignFolder = campaign.FolderName

		siblings := make([]string, 0, len(campaign.Runs))
		for i := range campaign.Runs {
			siblings = append(siblings, campaign.Runs[i].FolderName)
		}

		compounds := make([]model.Compound, 0, len(req.Compounds))
		var taken []string
		for _, in := range req.Compounds {
			folder := model.UniqueFolderName(model.SanitizeFolderName(in.Name), taken)
			taken = append(taken, folder)
			compounds = append(compounds, model.Compound{
				ID:          uuid.New(),
				DisplayName: in.Name,
				FolderName:  folder,
				SMILES:      in.SMILES,
				Status:      model.StatusPending,
			})
		}

		run = model.Run{
			ID:          uuid.New(),
			DisplayName: req.DisplayName,
			FolderName:  model.UniqueFolderName(base, siblings),
			Params:      params,
			CreatedAt:   s.now().UTC(),
			Compounds:   compounds,
		}
		campaign.Runs = append(campaign.Runs, run)
	})
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(s.store.Root(), campaignFolder, run.FolderName), 0o755); err != nil {
		return nil, apperrors.Internal("create run folder", err)
	}
	if err := s.persist(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("Run created", "runId", run.ID, "campaignId", req.CampaignID,
		"compounds", len(run.Compounds))

	// Submission continues after the request returns.
	go s.submitBatch(context.WithoutCancel(ctx), apiKey, proteinSequence, req.CampaignID, run)

	snapshot := run.Clone()
	return &snapshot, nil
}

// submitBatch submits every compound of a freshly created run, at most
// SubmitConcurrency in flight, then persists the final outcome once.
func (s *Service) submitBatch(ctx context.Context, apiKey, proteinSequence string, campaignID uuid.UUID, run model.Run) {
	sem := semaphore.NewWeighted(int64(s.cfg.SubmitConcurrency))
	var wg sync.WaitGroup

	for i := range run.Compounds {
		if err := sem.Acquire(ctx, 1); err != nil {
			s.logger.Error("Batch submission aborted", "runId", run.ID, "error", err)
			break
		}
		wg.Add(1)
		compound := run.Compounds[i]
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			if s.metrics != nil {
				s.metrics.SubmitsInFlight.Add(ctx, 1)
				defer s.metrics.SubmitsInFlight.Add(ctx, -1)
			}
			s.submitOne(ctx, apiKey, proteinSequence, campaignID, run.ID, run.Params, compound)
		}()
	}
	wg.Wait()

	if err := s.persist(ctx); err != nil {
		s.logger.Error("Failed to persist after batch submission", "runId", run.ID, "error", err)
	}
}

// submitOne pushes a single compound to the remote API and records the
// outcome. A submission failure marks only this compound Failed; the
// rest of the batch is unaffected.
func (s *Service) submitOne(ctx context.Context, apiKey, proteinSequence string, campaignID, runID uuid.UUID, params model.RunParams, compound model.Compound) {
	resp, err := s.submit(ctx, apiKey, proteinSequence, compound.SMILES, params)
	now := s.now().UTC()

	if s.metrics != nil {
		s.metrics.RecordSubmission(ctx, err == nil)
	}

	if err != nil {
		s.logger.Error("Failed to submit compound", "compoundId", compound.ID, "error", err)
		s.failSubmission(ctx, campaignID, runID, compound.ID, err.Error(), now)
		return
	}

	var committed bool
	s.store.Update(func(st *model.State) {
		cp := st.FindCompound(compound.ID)
		if cp == nil {
			return
		}
		status, terr := model.Transition(cp.Status, model.StatusCreated)
		if terr != nil {
			// Cancelled while the submission was in flight.
			return
		}
		cp.Status = status
		cp.BoltzJobID = resp.PredictionID
		cp.SubmittedAt = &now
		committed = true
	})
	if !committed {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordActivated(ctx)
	}
	s.notifier.StatusChanged(model.StatusEvent{
		CompoundID: compound.ID,
		RunID:      runID,
		CampaignID: campaignID,
		Status:     model.StatusCreated,
	})
}

// submit builds the inference document for one compound and sends it.
func (s *Service) submit(ctx context.Context, apiKey, proteinSequence, smiles string, params model.RunParams) (*boltz.SubmitResponse, error) {
	input, err := boltz.BuildInferenceInput(proteinSequence, smiles, ligandChainID)
	if err != nil {
		return nil, err
	}
	return s.remote.Submit(ctx, apiKey, input, boltz.BuildInferenceOptions(params))
}

// failSubmission marks one compound Failed and completes the run if that
// was the last outstanding compound.
func (s *Service) failSubmission(ctx context.Context, campaignID, runID, compoundID uuid.UUID, message string, now time.Time) {
	var completion *model.RunCompletion
	s.store.Update(func(st *model.State) {
		cp := st.FindCompound(compoundID)
		if cp == nil {
			return
		}
		status, terr := model.Transition(cp.Status, model.StatusFailed)
		if terr != nil {
			return
		}
		cp.Status = status
		cp.CompletedAt = &now
		cp.ErrorMessage = message

		if completion = st.CheckRunCompletion(runID); completion != nil {
			if run := st.FindRun(runID); run != nil {
				run.CompletedAt = &now
			}
		}
	})

	// No RecordTerminal here: the active gauge only counts compounds whose
	// submission went through, and this one never did.
	s.notifier.StatusChanged(model.StatusEvent{
		CompoundID:  compoundID,
		RunID:       runID,
		CampaignID:  campaignID,
		Status:      model.StatusFailed,
		CompletedAt: &now,
	})
	if completion != nil {
		s.notifier.RunCompleted(*completion)
	}
}

// GetRun returns one run by id.
func (s *Service) GetRun(id uuid.UUID) (*model.Run, error) {
	var found *model.Run
	s.store.View(func(st *model.State) {
		if r := st.FindRun(id); r != nil {
			clone := r.Clone()
			found = &clone
		}
	})
	if found == nil {
		return nil, apperrors.NotFound("run", id.String())
	}
	return found, nil
}

// RenameRun updates a run's display name and moves its folder inside the
// campaign folder. Same two-phase commit as RenameCampaign.
func (s *Service) RenameRun(ctx context.Context, id uuid.UUID, newName string) error {
	if newName == "" {
		return apperrors.Validation("display_name", "display_name is required")
	}

	base := model.SanitizeFolderName(newName)
	var (
		campaignFolder, oldFolder, finalFolder string
		err                                    error
	)
	s.store.Update(func(st *model.State) {
		campaign, run := st.FindRunContext(id)
		if run == nil {
			err = apperrors.NotFound("run", id.String())
			return
		}
		var siblings []string
		for i := range campaign.Runs {
			if campaign.Runs[i].ID != id {
				siblings = append(siblings, campaign.Runs[i].FolderName)
			}
		}
		campaignFolder = campaign.FolderName
		oldFolder = run.FolderName
		finalFolder = model.UniqueFolderName(base, siblings)
		run.DisplayName = newName
	})
	if err != nil {
		return err
	}

	if oldFolder != finalFolder {
		dir := filepath.Join(s.store.Root(), campaignFolder)
		if err := os.Rename(filepath.Join(dir, oldFolder), filepath.Join(dir, finalFolder)); err != nil {
			return apperrors.Internal("rename run folder", err)
		}
		s.store.Update(func(st *model.State) {
			if run := st.FindRun(id); run != nil {
				run.FolderName = finalFolder
			}
		})
	}
	return s.persist(ctx)
}

// SetRunArchived toggles a run's archived flag.
func (s *Service) SetRunArchived(ctx context.Context, id uuid.UUID, archived bool) error {
	var err error
	s.store.Update(func(st *model.State) {
		run := st.FindRun(id)
		if run == nil {
			err = apperrors.NotFound("run", id.String())
			return
		}
		run.Archived = archived
		if archived {
			now := s.now().UTC()
			run.ArchivedAt = &now
		} else {
			run.ArchivedAt = nil
		}
	})
	if err != nil {
		return err
	}
	return s.persist(ctx)
}

// CancelRun moves every non-terminal compound of a run to Cancelled in
// one pass under the lock, then persists and notifies. Compounds already
// terminal keep their status; an empty pass is a no-op.
func (s *Service) CancelRun(ctx context.Context, id uuid.UUID) error {
	now := s.now().UTC()
	var (
		events     []model.StatusEvent
		submitted  int
		completion *model.RunCompletion
		err        error
	)
	s.store.Update(func(st *model.State) {
		campaign, run := st.FindRunContext(id)
		if run == nil {
			err = apperrors.NotFound("run", id.String())
			return
		}
		for i := range run.Compounds {
			cp := &run.Compounds[i]
			if cp.Status.IsTerminal() {
				continue
			}
			if cp.SubmittedAt != nil {
				submitted++
			}
			cp.Status = model.StatusCancelled
			cp.CompletedAt = &now
			events = append(events, model.StatusEvent{
				CompoundID:  cp.ID,
				RunID:       run.ID,
				CampaignID:  campaign.ID,
				Status:      model.StatusCancelled,
				CompletedAt: &now,
			})
		}
		if len(events) == 0 {
			return
		}
		if completion = st.CheckRunCompletion(id); completion != nil {
			run.CompletedAt = &now
		}
	})
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	if perr := s.persist(ctx); perr != nil {
		return perr
	}
	if s.metrics != nil {
		// Pending compounds never counted toward the active gauge, so only
		// the ones that made it past submission come back out of it.
		for i := 0; i < submitted; i++ {
			s.metrics.RecordTerminal(ctx, string(model.StatusCancelled))
		}
	}
	for _, ev := range events {
		s.notifier.StatusChanged(ev)
	}
	if completion != nil {
		s.notifier.RunCompleted(*completion)
	}
	s.logger.Info("Run cancelled", "runId", id, "cancelled", len(events))
	return nil
}
