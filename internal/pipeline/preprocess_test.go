package pipeline

import (
	"strings"
	"testing"

	"github.com/verdanthq/cropsense/internal/core"
	"github.com/verdanthq/cropsense/internal/testutil"
)

func TestPreprocessor_DecodesAndTiles(t *testing.T) {
	refs := testutil.ImageRefs(
		[]string{"phone.png", "drone.png"},
		[][]byte{testutil.PNGImage(t, 64, 48), testutil.PNGImage(t, 2100, 1100)},
	)
	req, err := core.NewAnalysisRequest(refs)
	if err != nil {
		t.Fatal(err)
	}
	state := core.NewWorkflowState("t", req)

	delta, err := NewPreprocessor(nil).Run(t.Context(), state)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(delta.ProcessedImages) != 2 {
		t.Fatalf("processed = %d", len(delta.ProcessedImages))
	}

	small := delta.ProcessedImages[0]
	if small.Width != 64 || small.Height != 48 || small.Tiles != 1 {
		t.Errorf("small image = %+v", small)
	}
	if !small.MetadataStripped {
		t.Error("metadata must be marked stripped")
	}

	// 2100x1100 splits into 3 columns x 2 rows of 1024px tiles.
	large := delta.ProcessedImages[1]
	if large.Tiles != 6 {
		t.Errorf("tiles = %d, want 6", large.Tiles)
	}
}

func TestPreprocessor_DropsUndecodable(t *testing.T) {
	refs := testutil.ImageRefs(
		[]string{"good.png", "corrupt.png"},
		[][]byte{testutil.PNGImage(t, 16, 16), []byte("not an image")},
	)
	req, err := core.NewAnalysisRequest(refs)
	if err != nil {
		t.Fatal(err)
	}
	state := core.NewWorkflowState("t", req)

	delta, err := NewPreprocessor(nil).Run(t.Context(), state)
	if err != nil {
		t.Fatalf("Run() error = %v; bad images must not fail the stage", err)
	}
	if len(delta.ProcessedImages) != 1 || delta.ProcessedImages[0].Ref.Name != "good.png" {
		t.Fatalf("processed = %+v", delta.ProcessedImages)
	}
	if len(delta.Errors) != 1 || !strings.Contains(delta.Errors[0], "corrupt.png") {
		t.Errorf("errors = %v", delta.Errors)
	}
}

func TestPreprocessor_AllImagesBad(t *testing.T) {
	refs := testutil.ImageRefs([]string{"x.png"}, [][]byte{[]byte("junk")})
	req, err := core.NewAnalysisRequest(refs)
	if err != nil {
		t.Fatal(err)
	}
	state := core.NewWorkflowState("t", req)

	delta, err := NewPreprocessor(nil).Run(t.Context(), state)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(delta.ProcessedImages) != 0 {
		t.Errorf("processed = %+v", delta.ProcessedImages)
	}
	if len(delta.Errors) != 2 {
		t.Errorf("errors = %v, want decode failure plus empty-batch entry", delta.Errors)
	}
}
