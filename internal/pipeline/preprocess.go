package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/verdanthq/cropsense/internal/core"
	"github.com/verdanthq/cropsense/internal/logging"
)

// tileEdge is the maximum edge length covered by a single inference tile.
// Drone captures are large and get split so small lesions stay visible.
const tileEdge = 1024

// Preprocessor normalizes raw images before inference: it verifies each
// blob decodes, marks metadata (EXIF/GPS) as stripped, and plans tiling.
// Pure transform, no decision logic.
type Preprocessor struct {
	logger *logging.Logger
}

// NewPreprocessor creates the preprocessing stage.
func NewPreprocessor(logger *logging.Logger) *Preprocessor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Preprocessor{logger: logger}
}

// Run implements StageFunc. Images that fail to decode are dropped with an
// error entry; the stage itself never fails.
func (p *Preprocessor) Run(_ context.Context, state *core.WorkflowState) (core.StageDelta, error) {
	var delta core.StageDelta
	processed := make([]core.ProcessedImage, 0, len(state.RawImages))

	for i, ref := range state.RawImages {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(ref.Data))
		if err != nil {
			delta.Errors = append(delta.Errors,
				fmt.Sprintf("image %d (%s) could not be decoded: %v", i, ref.Name, err))
			continue
		}

		processed = append(processed, core.ProcessedImage{
			Ref:              ref,
			Width:            cfg.Width,
			Height:           cfg.Height,
			MetadataStripped: true,
			Tiles:            tileCount(cfg.Width, cfg.Height),
		})
	}

	if len(processed) == 0 {
		delta.Errors = append(delta.Errors, "no images survived preprocessing")
	}

	delta.ProcessedImages = processed
	return delta, nil
}

func tileCount(w, h int) int {
	cols := (w + tileEdge - 1) / tileEdge
	rows := (h + tileEdge - 1) / tileEdge
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	return cols * rows
}
