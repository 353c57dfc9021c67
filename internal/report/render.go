// Package report renders analysis responses for the terminal.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/verdanthq/cropsense/internal/core"
)

// Color palette
var (
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorInfo    = lipgloss.Color("#3B82F6") // Blue
	colorMuted   = lipgloss.Color("#9CA3AF") // Muted gray
	colorBorder  = lipgloss.Color("#374151") // Dark gray
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorInfo)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	alertStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorError)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)
)

// Renderer formats responses either as styled terminal output or as plain
// text when color is disabled.
type Renderer struct {
	noColor bool
}

// NewRenderer creates a renderer. With noColor set, all styling is dropped.
func NewRenderer(noColor bool) *Renderer {
	return &Renderer{noColor: noColor}
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if r.noColor {
		return text
	}
	return s.Render(text)
}

// Render produces the full terminal report for one analysis.
func (r *Renderer) Render(resp *core.AnalysisResponse) string {
	if resp == nil {
		return ""
	}

	var b strings.Builder

	b.WriteString(r.style(titleStyle, "Crop Diagnosis"))
	b.WriteString("\n")
	b.WriteString(r.style(mutedStyle, fmt.Sprintf("trace %s", resp.TraceID)))
	b.WriteString("\n\n")

	if resp.Alert {
		b.WriteString(r.style(alertStyle, "! ACTION NEEDED"))
		b.WriteString("\n\n")
	}

	b.WriteString(r.diagnosisCard(resp))
	b.WriteString("\n")
	b.WriteString(r.riskLine(resp))
	b.WriteString("\n")

	if len(resp.Decisions) > 0 {
		b.WriteString("\n")
		b.WriteString(r.decisionLines(resp.Decisions))
	}

	if resp.Consensus != nil {
		b.WriteString("\n")
		b.WriteString(r.consensusLine(resp.Consensus))
		b.WriteString("\n")
	}

	if len(resp.Recommendations) > 0 {
		b.WriteString("\n")
		b.WriteString(r.style(titleStyle, "Recommendations"))
		b.WriteString("\n")
		for _, rec := range resp.Recommendations {
			b.WriteString("  - " + rec + "\n")
		}
	}

	if resp.Rationale != "" {
		b.WriteString("\n")
		b.WriteString(r.style(mutedStyle, resp.Rationale))
		b.WriteString("\n")
	}

	if len(resp.Errors) > 0 {
		b.WriteString("\n")
		b.WriteString(r.style(alertStyle, "Degraded:"))
		b.WriteString("\n")
		for _, e := range resp.Errors {
			b.WriteString("  - " + e + "\n")
		}
	}

	return b.String()
}

func (r *Renderer) diagnosisCard(resp *core.AnalysisResponse) string {
	var lines []string

	lines = append(lines, fmt.Sprintf("%s %s",
		r.style(labelStyle, "Condition:"),
		r.style(r.conditionStyle(resp.Diagnosis), resp.Diagnosis.Label)))
	lines = append(lines, fmt.Sprintf("%s %.0f%% (%d/%d images)",
		r.style(labelStyle, "Confidence:"),
		resp.Diagnosis.Confidence*100,
		agreeingImages(resp.Diagnosis),
		resp.Diagnosis.ImageCount))
	lines = append(lines, fmt.Sprintf("%s %d/100 (%s)",
		r.style(labelStyle, "Severity:"),
		resp.Severity.Score, resp.Severity.Band))

	if area := resp.Diagnosis.AffectedAreaPercent; area != nil {
		lines = append(lines, fmt.Sprintf("%s %.0f%%",
			r.style(labelStyle, "Affected area:"), *area))
	}
	for _, alt := range resp.Diagnosis.Alternatives {
		note := alt.Note
		if note == "" {
			note = fmt.Sprintf("%.0f%%", alt.Confidence*100)
		}
		lines = append(lines, fmt.Sprintf("%s %s %s",
			r.style(labelStyle, "Also possible:"), alt.Label,
			r.style(mutedStyle, note)))
	}

	body := strings.Join(lines, "\n")
	if r.noColor {
		return body + "\n"
	}
	return cardStyle.Render(body) + "\n"
}

func (r *Renderer) conditionStyle(d core.Diagnosis) lipgloss.Style {
	switch {
	case d.IsHealthy():
		return lipgloss.NewStyle().Bold(true).Foreground(colorSuccess)
	case d.IsUnknown():
		return mutedStyle
	default:
		return lipgloss.NewStyle().Bold(true).Foreground(colorWarning)
	}
}

func (r *Renderer) riskLine(resp *core.AnalysisResponse) string {
	bandStyle := map[core.RiskBand]lipgloss.Style{
		core.RiskLow:    lipgloss.NewStyle().Foreground(colorSuccess),
		core.RiskMedium: lipgloss.NewStyle().Foreground(colorWarning),
		core.RiskHigh:   lipgloss.NewStyle().Bold(true).Foreground(colorError),
	}[resp.WeatherRisk.RiskBand]

	line := fmt.Sprintf("%s %s",
		r.style(labelStyle, "Weather risk:"),
		r.style(bandStyle, string(resp.WeatherRisk.RiskBand)))
	if len(resp.WeatherRisk.Factors) > 0 {
		line += " " + r.style(mutedStyle, "("+strings.Join(resp.WeatherRisk.Factors, "; ")+")")
	}
	return line
}

func (r *Renderer) decisionLines(decisions []core.ThresholdDecision) string {
	var b strings.Builder
	b.WriteString(r.style(titleStyle, "Decisions"))
	b.WriteString("\n")
	for _, d := range decisions {
		marker := "-"
		style := mutedStyle
		switch d.ResponseLevel {
		case core.ResponseUrgent:
			marker = "!"
			style = alertStyle
		case core.ResponseMonitor:
			marker = "*"
			style = lipgloss.NewStyle().Foreground(colorWarning)
		}
		b.WriteString(fmt.Sprintf("  %s %s: %s\n",
			r.style(style, marker), d.ConditionName,
			r.style(style, string(d.ResponseLevel))))
		b.WriteString("    " + r.style(mutedStyle, d.Reasoning) + "\n")
	}
	return b.String()
}

func (r *Renderer) consensusLine(c *core.ConsensusResult) string {
	line := fmt.Sprintf("%s %s at %.0f%% across %d sources",
		r.style(labelStyle, "Consensus:"), c.Diagnosis, c.Confidence*100, len(c.Sources))
	if c.HumanReviewNeeded {
		line += "\n" + r.style(alertStyle, "Human review recommended")
	}
	return line
}

// agreeingImages recovers the agreeing-image count from the vote ratio.
func agreeingImages(d core.Diagnosis) int {
	return int(d.VoteRatio*float64(d.ImageCount) + 0.5)
}
