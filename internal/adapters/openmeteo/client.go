// Package openmeteo implements the weather port on the Open-Meteo public
// API, combining the archive endpoint for observed history with the forecast
// endpoint for upcoming days.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/verdanthq/cropsense/internal/core"
)

const (
	defaultArchiveURL  = "https://archive-api.open-meteo.com/v1/archive"
	defaultForecastURL = "https://api.open-meteo.com/v1/forecast"

	dailyVars  = "temperature_2m_max,temperature_2m_min,precipitation_sum,wind_speed_10m_max"
	hourlyVars = "relative_humidity_2m"

	// Hours at or above this relative humidity count toward a day's
	// high-humidity total.
	highHumidityPct = 85.0
)

// Client fetches daily weather from Open-Meteo. The zero value is not
// usable; construct with New.
type Client struct {
	archiveURL  string
	forecastURL string
	httpClient  *http.Client
	logger      *slog.Logger
}

// Option configures the Client during construction.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithBaseURLs overrides the archive and forecast endpoints, mainly for
// tests and self-hosted instances.
func WithBaseURLs(archive, forecast string) Option {
	return func(cl *Client) {
		cl.archiveURL = strings.TrimSuffix(archive, "/")
		cl.forecastURL = strings.TrimSuffix(forecast, "/")
	}
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New creates a Client with sane defaults. Open-Meteo needs no credentials.
func New(opts ...Option) *Client {
	c := &Client{
		archiveURL:  defaultArchiveURL,
		forecastURL: defaultForecastURL,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "openmeteo")
	return c
}

// Name implements core.WeatherService.
func (c *Client) Name() string { return "open-meteo" }

// Historical implements core.WeatherService using the archive endpoint. The
// range ends yesterday because the archive lags real time by about a day.
func (c *Client) Historical(ctx context.Context, loc Coordinates, days int) ([]core.DailyWeather, error) {
	if days <= 0 {
		return nil, nil
	}
	end := time.Now().UTC().AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -(days - 1))

	q := baseQuery(loc)
	q.Set("start_date", start.Format("2006-01-02"))
	q.Set("end_date", end.Format("2006-01-02"))

	return c.fetch(ctx, c.archiveURL, q)
}

// Forecast implements core.WeatherService using the forecast endpoint.
func (c *Client) Forecast(ctx context.Context, loc Coordinates, days int) ([]core.DailyWeather, error) {
	if days <= 0 {
		return nil, nil
	}

	q := baseQuery(loc)
	q.Set("forecast_days", fmt.Sprintf("%d", days))

	return c.fetch(ctx, c.forecastURL, q)
}

// Coordinates is re-exported for call-site readability.
type Coordinates = core.Coordinates

func baseQuery(loc Coordinates) url.Values {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", loc.Lat))
	q.Set("longitude", fmt.Sprintf("%.4f", loc.Lon))
	q.Set("daily", dailyVars)
	q.Set("hourly", hourlyVars)
	q.Set("timezone", "UTC")
	return q
}

// apiResponse mirrors the subset of the Open-Meteo payload the assessor
// consumes. Daily and hourly series are parallel arrays keyed by time.
type apiResponse struct {
	Daily struct {
		Time             []string  `json:"time"`
		TempMax          []float64 `json:"temperature_2m_max"`
		TempMin          []float64 `json:"temperature_2m_min"`
		PrecipitationSum []float64 `json:"precipitation_sum"`
		WindSpeedMax     []float64 `json:"wind_speed_10m_max"`
	} `json:"daily"`
	Hourly struct {
		Time     []string  `json:"time"`
		Humidity []float64 `json:"relative_humidity_2m"`
	} `json:"hourly"`
}

func (c *Client) fetch(ctx context.Context, endpoint string, q url.Values) ([]core.DailyWeather, error) {
	reqURL := endpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, core.ErrInternal("building weather request failed").WithCause(err)
	}

	c.logger.DebugContext(ctx, "fetching weather", "url", endpoint)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.ErrTimeout("weather fetch cancelled").WithCause(err)
		}
		return nil, core.ErrNetwork("weather fetch failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, core.ErrProvider("open-meteo", fmt.Sprintf("unexpected status %d", resp.StatusCode)).
			WithDetail("body", strings.TrimSpace(string(body)))
	}

	var payload apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, core.ErrProvider("open-meteo", "decoding weather response failed").WithCause(err)
	}

	return buildDays(payload)
}

// buildDays folds the parallel daily arrays and the hourly humidity series
// into per-day records. Hourly timestamps look like "2026-08-20T13:00" and
// match daily dates by prefix.
func buildDays(payload apiResponse) ([]core.DailyWeather, error) {
	d := payload.Daily
	n := len(d.Time)
	if n == 0 {
		return nil, core.ErrProvider("open-meteo", "response contains no daily data")
	}
	if len(d.TempMax) != n || len(d.TempMin) != n || len(d.PrecipitationSum) != n || len(d.WindSpeedMax) != n {
		return nil, core.ErrProvider("open-meteo", "daily series lengths are inconsistent")
	}

	humidityHours := make(map[string]float64, n)
	humiditySum := make(map[string]float64, n)
	humidityCount := make(map[string]int, n)
	for i, ts := range payload.Hourly.Time {
		if i >= len(payload.Hourly.Humidity) {
			break
		}
		day := ts
		if idx := strings.IndexByte(ts, 'T'); idx > 0 {
			day = ts[:idx]
		}
		h := payload.Hourly.Humidity[i]
		humiditySum[day] += h
		humidityCount[day]++
		if h >= highHumidityPct {
			humidityHours[day]++
		}
	}

	days := make([]core.DailyWeather, 0, n)
	for i, ds := range d.Time {
		date, err := time.Parse("2006-01-02", ds)
		if err != nil {
			return nil, core.ErrProvider("open-meteo", "unparseable daily date").WithDetail("date", ds)
		}
		dw := core.DailyWeather{
			Date:              date,
			TempMinC:          d.TempMin[i],
			TempMaxC:          d.TempMax[i],
			RainfallMM:        d.PrecipitationSum[i],
			WindMaxKmh:        d.WindSpeedMax[i],
			HighHumidityHours: humidityHours[ds],
		}
		if cnt := humidityCount[ds]; cnt > 0 {
			dw.HumidityPct = humiditySum[ds] / float64(cnt)
		}
		days = append(days, dw)
	}
	return days, nil
}
