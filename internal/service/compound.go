package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"boltzflow/internal/apperrors"
	"boltzflow/internal/model"
)

// GetCompound returns one compound by id.
func (s *Service) GetCompound(id uuid.UUID) (*model.Compound, error) {
	var found *model.Compound
	s.store.View(func(st *model.State) {
		if cp := st.FindCompound(id); cp != nil {
			clone := cp.Clone()
			found = &clone
		}
	})
	if found == nil {
		return nil, apperrors.NotFound("compound", id.String())
	}
	return found, nil
}

// RetryCompound resubmits a compound that reached a terminal status. The
// compound is reset to Pending under the lock before the submission goes
// out, so the poller never observes the old job id alongside the new
// attempt.
func (s *Service) RetryCompound(ctx context.Context, id uuid.UUID) error {
	var (
		apiKey, proteinSequence, smiles string
		params                          model.RunParams
		campaignID, runID               uuid.UUID
		err                             error
	)
	s.store.Update(func(st *model.State) {
		if st.APIKey == "" {
			err = apperrors.Validation("api_key", "no API key configured")
			return
		}
		campaign, run, compound := st.FindCompoundContext(id)
		if compound == nil {
			err = apperrors.NotFound("compound", id.String())
			return
		}
		if !compound.Status.IsTerminal() {
			err = apperrors.Validation("status",
				fmt.Sprintf("compound is %s, only terminal compounds can be retried", compound.Status))
			return
		}

		apiKey = st.APIKey
		proteinSequence = campaign.ProteinSequence
		smiles = compound.SMILES
		params = run.Params
		campaignID = campaign.ID
		runID = run.ID

		compound.ResetForRetry()
		// A completed run gains an in-flight compound again.
		run.CompletedAt = nil
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.SubmitsInFlight.Add(ctx, 1)
	}
	resp, serr := s.submit(ctx, apiKey, proteinSequence, smiles, params)
	if s.metrics != nil {
		s.metrics.SubmitsInFlight.Add(ctx, -1)
		s.metrics.RecordSubmission(ctx, serr == nil)
	}
	now := s.now().UTC()

	if serr != nil {
		s.logger.Error("Failed to resubmit compound", "compoundId", id, "error", serr)
		s.failSubmission(ctx, campaignID, runID, id, serr.Error(), now)
		return s.persist(ctx)
	}

	var committed bool
	s.store.Update(func(st *model.State) {
		cp := st.FindCompound(id)
		if cp == nil {
			return
		}
		status, terr := model.Transition(cp.Status, model.StatusCreated)
		if terr != nil {
			// Cancelled while the resubmission was in flight.
			return
		}
		cp.Status = status
		cp.BoltzJobID = resp.PredictionID
		cp.SubmittedAt = &now
		committed = true
	})
	if committed {
		if s.metrics != nil {
			s.metrics.RecordActivated(ctx)
		}
		s.notifier.StatusChanged(model.StatusEvent{
			CompoundID: id,
			RunID:      runID,
			CampaignID: campaignID,
			Status:     model.StatusCreated,
		})
	}
	s.logger.Info("Compound resubmitted", "compoundId", id, "predictionId", resp.PredictionID)
	return s.persist(ctx)
}

// CompoundDir resolves the on-disk folder holding a compound's result
// files. Folder names are re-validated on the way out because they come
// from a snapshot that may have been edited by hand.
func (s *Service) CompoundDir(id uuid.UUID) (string, error) {
	var (
		parts []string
		err   error
	)
	s.store.View(func(st *model.State) {
		campaign, run, compound := st.FindCompoundContext(id)
		if compound == nil {
			err = apperrors.NotFound("compound", id.String())
			return
		}
		parts = []string{campaign.FolderName, run.FolderName, compound.FolderName}
	})
	if err != nil {
		return "", err
	}
	for _, p := range parts {
		if verr := model.ValidateFolderName(p); verr != nil {
			return "", verr
		}
	}
	return filepath.Join(s.store.Root(), parts[0], parts[1], parts[2]), nil
}

// StructurePath returns the path of one sample's structure file,
// verifying it exists.
func (s *Service) StructurePath(id uuid.UUID, sampleIndex int) (string, error) {
	return s.artifactPath(id, fmt.Sprintf("sample_%d_structure.cif", sampleIndex))
}

// PAEPath returns the path of one sample's PAE image, verifying it
// exists.
func (s *Service) PAEPath(id uuid.UUID, sampleIndex int) (string, error) {
	return s.artifactPath(id, fmt.Sprintf("sample_%d_pae.png", sampleIndex))
}

func (s *Service) artifactPath(id uuid.UUID, name string) (string, error) {
	dir, err := s.CompoundDir(id)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", apperrors.NotFound("artifact", name)
	}
	return path, nil
}
