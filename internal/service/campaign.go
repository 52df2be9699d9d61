package service

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"boltzflow/internal/apperrors"
	"boltzflow/internal/model"
)

// CreateCampaignRequest carries the fields for a new campaign.
type CreateCampaignRequest struct {
	DisplayName     string `json:"display_name"`
	ProteinSequence string `json:"protein_sequence"`
	Description     string `json:"description,omitempty"`
}

// CreateCampaign adds a campaign with a collision-free folder name,
// creates its workspace folder and persists.
func (s *Service) CreateCampaign(ctx context.Context, req CreateCampaignRequest) (*model.Campaign, error) {
	if req.DisplayName == "" {
		return nil, apperrors.Validation("display_name", "display_name is required")
	}
	if req.ProteinSequence == "" {
		return nil, apperrors.Validation("protein_sequence", "protein_sequence is required")
	}

	base := model.SanitizeFolderName(req.DisplayName)
	var campaign model.Campaign
	s.store.Update(func(st *model.State) {
		existing := make([]string, 0, len(st.Campaigns))
		for i := range st.Campaigns {
			existing = append(existing, st.Campaigns[i].FolderName)
		}
		campaign = model.Campaign{
			ID:              uuid.New(),
			DisplayName:     req.DisplayName,
			FolderName:      model.UniqueFolderName(base, existing),
			ProteinSequence: req.ProteinSequence,
			Description:     req.Description,
			CreatedAt:       s.now().UTC(),
			Runs:            []model.Run{},
		}
		st.Campaigns = append(st.Campaigns, campaign)
	})

	if err := os.MkdirAll(filepath.Join(s.store.Root(), campaign.FolderName), 0o755); err != nil {
		return nil, apperrors.Internal("create campaign folder", err)
	}
	if err := s.persist(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("Campaign created", "campaignId", campaign.ID, "folder", campaign.FolderName)
	return &campaign, nil
}

// ListCampaigns returns a snapshot of all campaigns.
func (s *Service) ListCampaigns() []model.Campaign {
	return s.store.Snapshot().Campaigns
}

// GetCampaign returns one campaign by id.
func (s *Service) GetCampaign(id uuid.UUID) (*model.Campaign, error) {
	var found *model.Campaign
	s.store.View(func(st *model.State) {
		if c := st.FindCampaign(id); c != nil {
			clone := c.Clone()
			found = &clone
		}
	})
	if found == nil {
		return nil, apperrors.NotFound("campaign", id.String())
	}
	return found, nil
}

// RenameCampaign updates a campaign's display name and moves its folder.
// The folder name in state is committed only after the disk rename
// succeeds, so a failed rename never leaves state pointing at a folder
// that does not exist.
func (s *Service) RenameCampaign(ctx context.Context, id uuid.UUID, newName string) error {
	if newName == "" {
		return apperrors.Validation("display_name", "display_name is required")
	}

	base := model.SanitizeFolderName(newName)
	var (
		oldFolder, finalFolder string
		err                    error
	)
	s.store.Update(func(st *model.State) {
		var siblings []string
		for i := range st.Campaigns {
			if st.Campaigns[i].ID != id {
				siblings = append(siblings, st.Campaigns[i].FolderName)
			}
		}
		campaign := st.FindCampaign(id)
		if campaign == nil {
			err = apperrors.NotFound("campaign", id.String())
			return
		}
		oldFolder = campaign.FolderName
		finalFolder = model.UniqueFolderName(base, siblings)
		campaign.DisplayName = newName
	})
	if err != nil {
		return err
	}

	if oldFolder != finalFolder {
		root := s.store.Root()
		if err := os.Rename(filepath.Join(root, oldFolder), filepath.Join(root, finalFolder)); err != nil {
			return apperrors.Internal("rename campaign folder", err)
		}
		s.store.Update(func(st *model.State) {
			if campaign := st.FindCampaign(id); campaign != nil {
				campaign.FolderName = finalFolder
			}
		})
	}
	return s.persist(ctx)
}

// SetCampaignArchived toggles a campaign's archived flag.
func (s *Service) SetCampaignArchived(ctx context.Context, id uuid.UUID, archived bool) error {
	var err error
	s.store.Update(func(st *model.State) {
		campaign := st.FindCampaign(id)
		if campaign == nil {
			err = apperrors.NotFound("campaign", id.String())
			return
		}
		campaign.Archived = archived
		if archived {
			now := s.now().UTC()
			campaign.ArchivedAt = &now
		} else {
			campaign.ArchivedAt = nil
		}
	})
	if err != nil {
		return err
	}
	return s.persist(ctx)
}
