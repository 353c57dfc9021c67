package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/verdanthq/cropsense/internal/core"
	"github.com/verdanthq/cropsense/internal/trace"
)

// maxUploadBytes bounds one multipart submission (10 images at a generous
// drone-capture size).
const maxUploadBytes = 100 << 20

// analysisMeta is the optional JSON part accompanying the image uploads.
type analysisMeta struct {
	CropType       string               `json:"crop_type,omitempty"`
	GrowthStage    string               `json:"growth_stage,omitempty"`
	Location       *core.Coordinates    `json:"location,omitempty"`
	CurrentWeather *core.WeatherReading `json:"current_weather,omitempty"`
	FieldNotes     string               `json:"field_notes,omitempty"`
	SkipSecondary  bool                 `json:"skip_secondary,omitempty"`
	Provider       string               `json:"preferred_provider,omitempty"`
}

// handleCreateAnalysis accepts a multipart submission (image files under
// "images", optional JSON metadata under "meta"), runs the pipeline
// synchronously and returns the complete response.
func (s *Server) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("parsing multipart form: %v", err))
		return
	}

	req, err := s.buildRequest(r)
	if err != nil {
		status := http.StatusInternalServerError
		if mapped, ok := httpStatusForDomainError(err); ok {
			status = mapped
		}
		respondError(w, status, err.Error())
		return
	}

	resp := s.analyzer.Analyze(r.Context(), req, s.registry)

	if s.store != nil {
		if err := s.store.RecordReport(resp); err != nil {
			s.logger.WithTrace(string(resp.TraceID)).Warn("report persistence failed", "error", err)
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// buildRequest converts the multipart form into a validated request.
func (s *Server) buildRequest(r *http.Request) (*core.AnalysisRequest, error) {
	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		return nil, core.ErrValidation("NO_IMAGES", "at least one image file is required under the images field")
	}

	images := make([]core.ImageRef, 0, len(files))
	for _, header := range files {
		data, err := readUpload(header)
		if err != nil {
			return nil, core.ErrValidation("BAD_IMAGE",
				fmt.Sprintf("reading upload %q: %v", header.Filename, err))
		}
		source := header.Header.Get("X-Image-Source")
		if source == "" {
			source = "phone"
		}
		images = append(images, core.ImageRef{
			Name:   header.Filename,
			Source: source,
			Data:   data,
		})
	}

	var opts []core.RequestOption
	if raw := r.FormValue("meta"); raw != "" {
		var meta analysisMeta
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, core.ErrValidation("BAD_META", fmt.Sprintf("decoding meta: %v", err))
		}
		if meta.CropType != "" || meta.GrowthStage != "" {
			opts = append(opts, core.WithCropContext(meta.CropType, meta.GrowthStage))
		}
		if meta.Location != nil {
			opts = append(opts, core.WithLocation(meta.Location.Lat, meta.Location.Lon))
		}
		if meta.CurrentWeather != nil {
			opts = append(opts, core.WithCurrentWeather(*meta.CurrentWeather))
		}
		if meta.FieldNotes != "" {
			opts = append(opts, core.WithFieldNotes(meta.FieldNotes))
		}
		if meta.SkipSecondary {
			opts = append(opts, core.WithSkipSecondary(true))
		}
		if meta.Provider != "" {
			opts = append(opts, core.WithPreferredProvider(meta.Provider))
		}
	}

	return core.NewAnalysisRequest(images, opts...)
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// handleGetAnalysis returns the stored report for a trace.
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotFound, "report persistence is disabled")
		return
	}

	id := core.TraceID(chi.URLParam(r, "traceID"))
	resp, err := s.store.GetReport(id)
	if err != nil {
		status := http.StatusInternalServerError
		if mapped, ok := httpStatusForDomainError(err); ok {
			status = mapped
		}
		respondError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleListAnalyses returns recent report summaries.
func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"reports": []interface{}{}})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	reports, err := s.store.ListReports(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if reports == nil {
		reports = []trace.ReportSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"reports": reports})
}
