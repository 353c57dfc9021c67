package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/verdanthq/cropsense/internal/core"
)

// ExportReport writes an analysis response to disk as indented JSON. The
// write is atomic, so a crash mid-export never leaves a torn report for a
// watching ingest job to pick up.
func ExportReport(resp *core.AnalysisResponse, path string) error {
	if resp == nil {
		return core.ErrValidation("NO_REPORT", "no analysis response to export")
	}

	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	data = append(data, '\n')

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating export directory: %w", err)
		}
	}
	if err := atomicWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
