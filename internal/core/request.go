package core

import (
	"fmt"
	"time"
)

// Coordinates is a WGS84 location.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// WeatherReading is a single current-conditions observation supplied by the
// caller when no location is available for a historical fetch.
type WeatherReading struct {
	TemperatureC float64 `json:"temperature_c"`
	HumidityPct  float64 `json:"humidity_pct"`
	RainfallMM   float64 `json:"rainfall_mm"`
	WindSpeedKmh float64 `json:"wind_speed_kmh"`
}

// AnalysisRequest is the validated input payload for one analysis.
type AnalysisRequest struct {
	Images            []ImageRef      `json:"-"`
	Location          *Coordinates    `json:"location,omitempty"`
	CurrentWeather    *WeatherReading `json:"current_weather,omitempty"`
	CropType          string          `json:"crop_type,omitempty"`
	GrowthStage       string          `json:"growth_stage,omitempty"`
	FieldNotes        string          `json:"field_notes,omitempty"`
	SkipSecondary     bool            `json:"skip_secondary_analysis,omitempty"`
	PreferredProvider string          `json:"preferred_provider,omitempty"`
}

// maxImagesPerRequest bounds per-request fan-out.
const maxImagesPerRequest = 10

// NewAnalysisRequest validates and constructs a request. Malformed payloads
// are rejected here, before the pipeline starts.
func NewAnalysisRequest(images []ImageRef, opts ...RequestOption) (*AnalysisRequest, error) {
	if len(images) == 0 {
		return nil, ErrValidation("NO_IMAGES", "at least one image is required")
	}
	if len(images) > maxImagesPerRequest {
		return nil, ErrValidation("TOO_MANY_IMAGES",
			fmt.Sprintf("at most %d images per request, got %d", maxImagesPerRequest, len(images)))
	}
	for i, img := range images {
		if len(img.Data) == 0 {
			return nil, ErrValidation("EMPTY_IMAGE", fmt.Sprintf("image %d has no data", i))
		}
	}

	req := &AnalysisRequest{Images: images}
	for _, opt := range opts {
		if err := opt(req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// RequestOption configures an AnalysisRequest during construction.
type RequestOption func(*AnalysisRequest) error

// WithLocation attaches a location after range-checking coordinates.
func WithLocation(lat, lon float64) RequestOption {
	return func(r *AnalysisRequest) error {
		if lat < -90 || lat > 90 {
			return ErrValidation("BAD_LATITUDE", fmt.Sprintf("latitude %v out of range [-90,90]", lat))
		}
		if lon < -180 || lon > 180 {
			return ErrValidation("BAD_LONGITUDE", fmt.Sprintf("longitude %v out of range [-180,180]", lon))
		}
		r.Location = &Coordinates{Lat: lat, Lon: lon}
		return nil
	}
}

// WithCurrentWeather attaches a caller-supplied current-conditions reading.
func WithCurrentWeather(w WeatherReading) RequestOption {
	return func(r *AnalysisRequest) error {
		if w.HumidityPct < 0 || w.HumidityPct > 100 {
			return ErrValidation("BAD_HUMIDITY", fmt.Sprintf("humidity %v out of range [0,100]", w.HumidityPct))
		}
		r.CurrentWeather = &w
		return nil
	}
}

// WithCropContext attaches crop type and growth stage hints.
func WithCropContext(cropType, growthStage string) RequestOption {
	return func(r *AnalysisRequest) error {
		r.CropType = cropType
		r.GrowthStage = growthStage
		return nil
	}
}

// WithFieldNotes attaches free-text grower observations.
func WithFieldNotes(notes string) RequestOption {
	return func(r *AnalysisRequest) error {
		r.FieldNotes = notes
		return nil
	}
}

// WithSkipSecondary lets the caller opt out of the secondary analysis branch.
func WithSkipSecondary(skip bool) RequestOption {
	return func(r *AnalysisRequest) error {
		r.SkipSecondary = skip
		return nil
	}
}

// WithPreferredProvider records a provider hint for the secondary passes.
func WithPreferredProvider(name string) RequestOption {
	return func(r *AnalysisRequest) error {
		r.PreferredProvider = name
		return nil
	}
}

// AnalysisResponse is the complete formatted result returned to callers.
// It is always schema-valid, even for degraded or failed traces.
type AnalysisResponse struct {
	TraceID           TraceID                  `json:"trace_id"`
	Diagnosis         Diagnosis                `json:"diagnosis"`
	Severity          Severity                 `json:"severity"`
	WeatherRisk       WeatherRisk              `json:"weather_risk"`
	Decisions         []ThresholdDecision      `json:"threshold_decisions"`
	OverallUrgency    ResponseLevel            `json:"overall_urgency"`
	Consensus         *ConsensusResult         `json:"consensus,omitempty"`
	Recommendations   []string                 `json:"recommendations"`
	Rationale         string                   `json:"rationale"`
	OverallConfidence float64                  `json:"overall_confidence"`
	Alert             bool                     `json:"alert"`
	Errors            []string                 `json:"errors,omitempty"`
	StageTimings      map[string]time.Duration `json:"stage_timings"`
	CreatedAt         time.Time                `json:"created_at"`
}

// TraceSnapshot is the answer to a status query for a trace.
type TraceSnapshot struct {
	TraceID         TraceID     `json:"trace_id"`
	Status          TraceStatus `json:"status"`
	CompletedStages []string    `json:"completed_stages"`
	Errors          []string    `json:"errors,omitempty"`
	StartedAt       time.Time   `json:"started_at"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty"`
}
