package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/verdanthq/cropsense/internal/core"
	"github.com/verdanthq/cropsense/internal/logging"
)

// Temperature and wind limits for pest/disease stress indices.
const (
	tempStressLowC   = 10.0
	tempStressHighC  = 35.0
	windRiskKmh      = 30.0
	degreeDayBaseC   = 10.0
	wetDayRainfallMM = 1.0
	highHumidityPct  = 85.0
)

// WeatherRiskAssessor converts location or current-conditions signal into a
// risk-index bundle and a low/medium/high band. Fetch failures degrade to a
// medium-risk assessment; the stage never fails the pipeline.
type WeatherRiskAssessor struct {
	svc            core.WeatherService
	timeout        time.Duration
	historicalDays int
	forecastDays   int
	logger         *logging.Logger
}

// NewWeatherRiskAssessor creates the weather stage.
func NewWeatherRiskAssessor(svc core.WeatherService, timeout time.Duration, historicalDays, forecastDays int, logger *logging.Logger) *WeatherRiskAssessor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &WeatherRiskAssessor{
		svc:            svc,
		timeout:        timeout,
		historicalDays: historicalDays,
		forecastDays:   forecastDays,
		logger:         logger,
	}
}

// Run implements StageFunc.
func (w *WeatherRiskAssessor) Run(ctx context.Context, state *core.WorkflowState) (core.StageDelta, error) {
	var delta core.StageDelta

	switch {
	case state.Request.Location != nil && w.svc != nil:
		risk, err := w.assessFromLocation(ctx, *state.Request.Location)
		if err != nil {
			w.logger.WithTrace(string(state.TraceID)).Warn("weather fetch failed", "error", err)
			delta.Errors = append(delta.Errors, fmt.Sprintf("weather fetch failed: %v", err))
			fallback := unavailableRisk()
			delta.Weather = &fallback
			return delta, nil
		}
		delta.Weather = risk

	case state.Request.CurrentWeather != nil:
		risk := w.assessFromReading(*state.Request.CurrentWeather)
		delta.Weather = &risk

	default:
		risk := noDataRisk()
		delta.Weather = &risk
	}

	return delta, nil
}

func (w *WeatherRiskAssessor) assessFromLocation(ctx context.Context, loc core.Coordinates) (*core.WeatherRisk, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	historical, err := w.svc.Historical(callCtx, loc, w.historicalDays)
	if err != nil {
		return nil, fmt.Errorf("historical: %w", err)
	}
	forecast, err := w.svc.Forecast(callCtx, loc, w.forecastDays)
	if err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}

	days := append(append([]core.DailyWeather{}, historical...), forecast...)
	indices := computeIndices(days)
	risk := buildRisk(indices)
	return &risk, nil
}

// assessFromReading derives indices from a single current-conditions
// observation when no location is available for a historical fetch.
func (w *WeatherRiskAssessor) assessFromReading(r core.WeatherReading) core.WeatherRisk {
	indices := core.WeatherIndices{}

	switch {
	case r.HumidityPct >= highHumidityPct:
		indices.HighHumidityHours = 12
	case r.HumidityPct >= 70:
		indices.HighHumidityHours = 6
	}
	if r.RainfallMM >= wetDayRainfallMM {
		indices.ConsecutiveWetDays = 1
	}
	indices.TemperatureStress = r.TemperatureC < tempStressLowC || r.TemperatureC > tempStressHighC
	indices.WindRisk = r.WindSpeedKmh > windRiskKmh
	if r.TemperatureC > degreeDayBaseC {
		indices.DegreeDays = r.TemperatureC - degreeDayBaseC
	}

	risk := buildRisk(indices)
	risk.Factors = append(risk.Factors, "derived from single current-conditions reading")
	return risk
}

// computeIndices folds daily observations into the risk indices.
func computeIndices(days []core.DailyWeather) core.WeatherIndices {
	var indices core.WeatherIndices

	wetRun := 0
	for _, d := range days {
		indices.HighHumidityHours += d.HighHumidityHours

		if d.RainfallMM >= wetDayRainfallMM {
			wetRun++
			if wetRun > indices.ConsecutiveWetDays {
				indices.ConsecutiveWetDays = wetRun
			}
		} else {
			wetRun = 0
		}

		mean := d.MeanTempC()
		if mean < tempStressLowC || mean > tempStressHighC {
			indices.TemperatureStress = true
		}
		if d.WindMaxKmh > windRiskKmh {
			indices.WindRisk = true
		}
		if mean > degreeDayBaseC {
			indices.DegreeDays += mean - degreeDayBaseC
		}
	}

	return indices
}

// buildRisk scores the indices and assigns the band: <=2 low, <=5 medium,
// else high.
func buildRisk(indices core.WeatherIndices) core.WeatherRisk {
	points := 0
	var factors []string

	switch {
	case indices.HighHumidityHours >= 48:
		points += 3
		factors = append(factors, fmt.Sprintf("%.0f hours of high humidity, sustained disease pressure", indices.HighHumidityHours))
	case indices.HighHumidityHours >= 24:
		points += 2
		factors = append(factors, fmt.Sprintf("%.0f hours of high humidity", indices.HighHumidityHours))
	case indices.HighHumidityHours >= 6:
		points++
		factors = append(factors, fmt.Sprintf("%.0f hours of elevated humidity", indices.HighHumidityHours))
	}

	switch {
	case indices.ConsecutiveWetDays > 3:
		points += 3
		factors = append(factors, fmt.Sprintf("%d consecutive wet days", indices.ConsecutiveWetDays))
	case indices.ConsecutiveWetDays >= 2:
		points += 2
		factors = append(factors, fmt.Sprintf("%d consecutive wet days", indices.ConsecutiveWetDays))
	case indices.ConsecutiveWetDays == 1:
		points++
		factors = append(factors, "recent rainfall")
	}

	if indices.TemperatureStress {
		points += 2
		factors = append(factors, "temperature stress conditions")
	}
	if indices.WindRisk {
		points++
		factors = append(factors, "wind favors spore dispersal")
	}

	var band core.RiskBand
	switch {
	case points <= 2:
		band = core.RiskLow
	case points <= 5:
		band = core.RiskMedium
	default:
		band = core.RiskHigh
	}

	if len(factors) == 0 {
		factors = append(factors, "no adverse weather signals")
	}

	return core.WeatherRisk{Indices: indices, RiskBand: band, Factors: factors}
}

// unavailableRisk is the degraded assessment used when a fetch fails.
func unavailableRisk() core.WeatherRisk {
	return core.WeatherRisk{
		RiskBand: core.RiskMedium,
		Factors:  []string{"weather data unavailable, assuming medium risk"},
	}
}

// noDataRisk is returned when the request carries neither a location nor a
// current-conditions reading.
func noDataRisk() core.WeatherRisk {
	return core.WeatherRisk{
		RiskBand: core.RiskMedium,
		Factors:  []string{"no weather data supplied, assuming medium risk"},
	}
}
