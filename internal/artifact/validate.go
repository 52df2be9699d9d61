package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"boltzflow/internal/apperrors"
)

// MetricsFile is the parsed metrics payload written by the remote service.
const MetricsFile = "metrics.json"

// PrimaryStructureFile is the first sample's structure file.
const PrimaryStructureFile = "sample_0_structure.cif"

// ValidateExtraction checks that the files a completed prediction must
// produce actually exist in dir.
func ValidateExtraction(dir string) error {
	for _, file := range []string{MetricsFile, PrimaryStructureFile} {
		if _, err := os.Stat(filepath.Join(dir, file)); err != nil {
			return apperrors.Internal("validate extraction",
				fmt.Errorf("expected file missing after extraction: %s", file))
		}
	}
	return nil
}
