package store

import (
	"os"
	"path/filepath"

	"boltzflow/internal/model"
)

// ScratchDir is the extraction scratch area under the workspace root.
// Keeping it on the same volume as the destination folders makes the
// final move an atomic rename.
const ScratchDir = ".boltz-temp"

// PrimaryStructureFile is the first sample's structure file, used to
// judge whether a completed compound's artifacts actually landed on disk.
const PrimaryStructureFile = "sample_0_structure.cif"

// ScanIncompleteDownloads finds completed compounds whose primary
// structure file is missing from their destination folder. These need
// their artifacts re-fetched with a fresh download URL.
func ScanIncompleteDownloads(root string, state *model.State) []model.CompoundRef {
	var refs []model.CompoundRef
	for i := range state.Campaigns {
		c := &state.Campaigns[i]
		for j := range c.Runs {
			r := &c.Runs[j]
			for k := range r.Compounds {
				cp := &r.Compounds[k]
				if cp.Status != model.StatusCompleted || cp.BoltzJobID == "" || cp.SubmittedAt == nil {
					continue
				}
				cif := filepath.Join(root, c.FolderName, r.FolderName, cp.FolderName, PrimaryStructureFile)
				if _, err := os.Stat(cif); err == nil {
					continue
				}
				refs = append(refs, model.CompoundRef{
					CompoundID:  cp.ID,
					BoltzJobID:  cp.BoltzJobID,
					CampaignID:  c.ID,
					RunID:       r.ID,
					SubmittedAt: *cp.SubmittedAt,
				})
			}
		}
	}
	return refs
}

// CleanupScratch purges the extraction scratch area. Called at startup;
// any leftover temp directories belong to interrupted downloads that the
// recovery scan re-fetches from source.
func CleanupScratch(root string) error {
	return os.RemoveAll(filepath.Join(root, ScratchDir))
}
