// Package artifact retrieves, extracts and installs prediction result
// archives.
package artifact

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"boltzflow/internal/apperrors"
)

// Archive filename conventions rewritten during extraction.
var infixRenames = [][2]string{
	{"_predicted_structure.", "_structure."},
	{"_pae_visualization.", "_pae."},
}

// ExtractArchive unpacks tar.gz bytes into destDir. The archive's single
// top-level directory is stripped and filenames are rewritten per the
// naming convention. Any entry whose destination would escape destDir
// aborts the extraction before a single byte is written.
func ExtractArchive(data []byte, destDir string) error {
	const op = "extract archive"

	gzReader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return apperrors.Internal(op, fmt.Errorf("failed to create gzip reader: %w", err))
	}
	defer gzReader.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return apperrors.Internal(op, err)
	}

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return apperrors.Internal(op, fmt.Errorf("failed to read tar header: %w", err))
		}

		cleanName := filepath.Clean(header.Name)
		if strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) {
			return apperrors.Internal(op, fmt.Errorf("path traversal in archive entry: %s", header.Name))
		}

		// Strip the top-level directory (e.g. "prediction_abc123/").
		parts := strings.Split(cleanName, string(filepath.Separator))
		if len(parts) <= 1 {
			continue
		}
		name := renameEntry(filepath.Join(parts[1:]...))

		targetPath := filepath.Join(destDir, name)
		if targetPath != destDir && !strings.HasPrefix(targetPath, destDir+string(filepath.Separator)) {
			return apperrors.Internal(op, fmt.Errorf("path traversal in archive entry: %s", header.Name))
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return apperrors.Internal(op, fmt.Errorf("failed to create directory: %w", err))
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
				return apperrors.Internal(op, fmt.Errorf("failed to create parent directory: %w", err))
			}
			outFile, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return apperrors.Internal(op, fmt.Errorf("failed to create file: %w", err))
			}
			if _, err := io.Copy(outFile, tarReader); err != nil {
				outFile.Close()
				return apperrors.Internal(op, fmt.Errorf("failed to extract file: %w", err))
			}
			outFile.Close()

		default:
			slog.Debug("Skipping archive entry", "name", header.Name, "type", header.Typeflag)
		}
	}
	return nil
}

func renameEntry(name string) string {
	for _, r := range infixRenames {
		name = strings.ReplaceAll(name, r[0], r[1])
	}
	return name
}
