package trace

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/verdanthq/cropsense/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// Store is the SQLite audit log for finished traces and their reports.
type Store struct {
	dbPath string
	db     *sql.DB
	mu     sync.Mutex
}

// NewStore opens (or creates) the audit database and applies migrations.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	s := &Store{dbPath: dbPath, db: db}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// RecordTrace upserts the audit row for a finished trace.
func (s *Store) RecordTrace(snap core.TraceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stages, err := json.Marshal(snap.CompletedStages)
	if err != nil {
		return fmt.Errorf("marshaling stages: %w", err)
	}
	errs, err := json.Marshal(snap.Errors)
	if err != nil {
		return fmt.Errorf("marshaling errors: %w", err)
	}

	var finished any
	if snap.FinishedAt != nil {
		finished = snap.FinishedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.Exec(`
		INSERT INTO traces (trace_id, status, completed_stages, errors, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(trace_id) DO UPDATE SET
			status = excluded.status,
			completed_stages = excluded.completed_stages,
			errors = excluded.errors,
			finished_at = excluded.finished_at`,
		string(snap.TraceID), string(snap.Status), string(stages), string(errs),
		snap.StartedAt.UTC().Format(time.RFC3339Nano), finished)
	if err != nil {
		return fmt.Errorf("recording trace: %w", err)
	}
	return nil
}

// RecordReport stores the full analysis response for a trace.
func (s *Store) RecordReport(resp *core.AnalysisResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	humanReview := 0
	if resp.Consensus != nil && resp.Consensus.HumanReviewNeeded {
		humanReview = 1
	}
	alert := 0
	if resp.Alert {
		alert = 1
	}

	_, err = s.db.Exec(`
		INSERT INTO reports (trace_id, diagnosis, severity_score, severity_band,
			weather_band, overall_urgency, alert, human_review, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trace_id) DO UPDATE SET body = excluded.body`,
		string(resp.TraceID), resp.Diagnosis.Label, resp.Severity.Score,
		string(resp.Severity.Band), string(resp.WeatherRisk.RiskBand),
		string(resp.OverallUrgency), alert, humanReview, string(body),
		resp.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("recording report: %w", err)
	}
	return nil
}

// GetReport loads the stored analysis response for a trace.
func (s *Store) GetReport(id core.TraceID) (*core.AnalysisResponse, error) {
	var body string
	err := s.db.QueryRow("SELECT body FROM reports WHERE trace_id = ?", string(id)).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("trace", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading report: %w", err)
	}

	var resp core.AnalysisResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &resp, nil
}

// ReportSummary is one row of the report listing.
type ReportSummary struct {
	TraceID        core.TraceID       `json:"trace_id"`
	Diagnosis      string             `json:"diagnosis"`
	SeverityScore  int                `json:"severity_score"`
	SeverityBand   core.SeverityBand  `json:"severity_band"`
	WeatherBand    core.RiskBand      `json:"weather_band"`
	OverallUrgency core.ResponseLevel `json:"overall_urgency"`
	Alert          bool               `json:"alert"`
	HumanReview    bool               `json:"human_review"`
	CreatedAt      time.Time          `json:"created_at"`
}

// ListReports returns the most recent report summaries, newest first.
func (s *Store) ListReports(limit int) ([]ReportSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT trace_id, diagnosis, severity_score, severity_band, weather_band,
			overall_urgency, alert, human_review, created_at
		FROM reports ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ReportSummary
	for rows.Next() {
		var r ReportSummary
		var id, band, weather, urgency, created string
		var alert, review int
		if err := rows.Scan(&id, &r.Diagnosis, &r.SeverityScore, &band, &weather,
			&urgency, &alert, &review, &created); err != nil {
			return nil, fmt.Errorf("scanning report row: %w", err)
		}
		r.TraceID = core.TraceID(id)
		r.SeverityBand = core.SeverityBand(band)
		r.WeatherBand = core.RiskBand(weather)
		r.OverallUrgency = core.ResponseLevel(urgency)
		r.Alert = alert == 1
		r.HumanReview = review == 1
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
