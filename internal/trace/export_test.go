package trace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/verdanthq/cropsense/internal/core"
)

func TestExportReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "t1.json")

	if err := ExportReport(sampleResponse("t1"), path); err != nil {
		t.Fatalf("ExportReport() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var resp core.AnalysisResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("exported report is not valid JSON: %v", err)
	}
	if resp.TraceID != "t1" || resp.Diagnosis.Label != "late_blight" {
		t.Errorf("report = %+v", resp)
	}
}

func TestExportReport_NilResponse(t *testing.T) {
	err := ExportReport(nil, filepath.Join(t.TempDir(), "out.json"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Errorf("category = %q", core.GetCategory(err))
	}
}

func TestExportReport_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")

	if err := ExportReport(sampleResponse("t1"), path); err != nil {
		t.Fatal(err)
	}
	second := sampleResponse("t2")
	if err := ExportReport(second, path); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var resp core.AnalysisResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TraceID != "t2" {
		t.Errorf("trace id = %q, want the second export", resp.TraceID)
	}
}
