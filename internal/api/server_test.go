package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/verdanthq/cropsense/internal/core"
	"github.com/verdanthq/cropsense/internal/pipeline"
	"github.com/verdanthq/cropsense/internal/tables"
	"github.com/verdanthq/cropsense/internal/testutil"
	"github.com/verdanthq/cropsense/internal/trace"
)

// stubAnalyzer echoes a canned response and drives the observer the way
// the real pipeline does.
type stubAnalyzer struct {
	lastRequest *core.AnalysisRequest
	response    *core.AnalysisResponse
}

func (a *stubAnalyzer) Analyze(_ context.Context, req *core.AnalysisRequest, obs pipeline.Observer) *core.AnalysisResponse {
	a.lastRequest = req
	if obs != nil {
		obs.TraceStarted(a.response.TraceID)
		obs.StageCompleted(a.response.TraceID, "preprocess", nil)
		obs.TraceFinished(a.response.TraceID, core.TraceStatusCompleted, nil)
	}
	return a.response
}

func cannedResponse(id core.TraceID) *core.AnalysisResponse {
	return &core.AnalysisResponse{
		TraceID:         id,
		Diagnosis:       core.Diagnosis{Label: "late_blight", Confidence: 0.75},
		Severity:        core.Severity{Score: 39, Band: core.BandModerate},
		WeatherRisk:     core.WeatherRisk{RiskBand: core.RiskMedium},
		Decisions:       []core.ThresholdDecision{},
		OverallUrgency:  core.ResponseUrgent,
		Recommendations: []string{"immediate intervention recommended"},
		Alert:           true,
		CreatedAt:       time.Now().UTC(),
	}
}

type serverFixture struct {
	server   *Server
	analyzer *stubAnalyzer
	registry *trace.Registry
	store    *trace.Store
}

func newFixture(t *testing.T) *serverFixture {
	t.Helper()

	store, err := trace.NewStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	tbl, err := tables.NewStore()
	if err != nil {
		t.Fatal(err)
	}

	registry := trace.NewRegistry(nil)
	analyzer := &stubAnalyzer{response: cannedResponse("trace-1")}
	server := NewServer(analyzer, registry, tbl, nil, WithAuditStore(store))

	return &serverFixture{server: server, analyzer: analyzer, registry: registry, store: store}
}

// multipartBody builds a submission with one valid PNG and optional meta.
func multipartBody(t *testing.T, meta string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("images", "leaf.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(testutil.PNGImage(t, 16, 16)); err != nil {
		t.Fatal(err)
	}
	if meta != "" {
		if err := mw.WriteField("meta", meta); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestCreateAnalysis(t *testing.T) {
	fx := newFixture(t)

	meta := `{"crop_type": "potato", "growth_stage": "flowering", "location": {"lat": 52.1, "lon": 5.2}}`
	body, contentType := multipartBody(t, meta)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp core.AnalysisResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TraceID != "trace-1" || resp.Diagnosis.Label != "late_blight" {
		t.Errorf("response = %+v", resp)
	}

	// The metadata reached the pipeline request.
	got := fx.analyzer.lastRequest
	if got.CropType != "potato" || got.GrowthStage != "flowering" {
		t.Errorf("request context = %q/%q", got.CropType, got.GrowthStage)
	}
	if got.Location == nil || got.Location.Lat != 52.1 {
		t.Errorf("location = %+v", got.Location)
	}
	if len(got.Images) != 1 || got.Images[0].Name != "leaf.png" {
		t.Errorf("images = %+v", got.Images)
	}

	// The report was persisted and the registry saw the trace.
	if _, err := fx.store.GetReport("trace-1"); err != nil {
		t.Errorf("report not persisted: %v", err)
	}
	if _, ok := fx.registry.Get("trace-1"); !ok {
		t.Error("trace not registered")
	}
}

func TestCreateAnalysis_NoImages(t *testing.T) {
	fx := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("meta", "{}"); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestCreateAnalysis_BadMeta(t *testing.T) {
	fx := newFixture(t)

	body, contentType := multipartBody(t, "{not json")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestCreateAnalysis_BadLocation(t *testing.T) {
	fx := newFixture(t)

	body, contentType := multipartBody(t, `{"location": {"lat": 120.0, "lon": 0.0}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422 for an out-of-range latitude", rec.Code)
	}
}

func TestGetAnalysis(t *testing.T) {
	fx := newFixture(t)

	if err := fx.store.RecordReport(cannedResponse("trace-9")); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analyses/trace-9", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp core.AnalysisResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TraceID != "trace-9" {
		t.Errorf("trace id = %q", resp.TraceID)
	}
}

func TestGetAnalysis_NotFound(t *testing.T) {
	fx := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analyses/missing", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListAnalyses(t *testing.T) {
	fx := newFixture(t)

	if err := fx.store.RecordReport(cannedResponse("trace-1")); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analyses/", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Reports []trace.ReportSummary `json:"reports"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Reports) != 1 || body.Reports[0].Diagnosis != "late_blight" {
		t.Errorf("reports = %+v", body.Reports)
	}
}

func TestListAnalyses_BadLimit(t *testing.T) {
	fx := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analyses/?limit=zero", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetTrace(t *testing.T) {
	fx := newFixture(t)
	fx.registry.TraceStarted("trace-5")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/traces/trace-5", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap core.TraceSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.TraceID != "trace-5" || snap.Status != core.TraceStatusRunning {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestGetTrace_NotFound(t *testing.T) {
	fx := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/traces/none", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	fx := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestListConditions(t *testing.T) {
	fx := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conditions", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Conditions []string `json:"conditions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, c := range body.Conditions {
		if c == "late_blight" {
			found = true
		}
	}
	if !found {
		t.Errorf("conditions = %v", body.Conditions)
	}
}
