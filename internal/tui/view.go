package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-room-progress/internal/stats"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderDashboard renders the whole dashboard.
func (m Model) renderDashboard() string {
	sections := []string{
		m.renderHeader(),
		m.renderProgress(),
	}

	if m.processed > 0 {
		sections = append(sections, m.renderStates())
	}
	if m.last != nil {
		sections = append(sections, m.renderLastDay())
	}
	if len(m.anomalies) > 0 {
		sections = append(sections, m.renderAnomalies())
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	mode := "resume"
	if m.plan.ColdStart {
		mode = "cold start"
	}
	if !m.started {
		mode = "loading state"
	}

	header := fmt.Sprintf(
		" room-progress │ %s │ Days: %d/%d │ Elapsed: %s ",
		mode,
		m.DaysDone(),
		m.plan.Days,
		stats.FormatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Progress Section
// =============================================================================

func (m Model) renderProgress() string {
	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}
	progressBar := RenderProgressBar(m.Progress(), barWidth)

	var status string
	switch {
	case m.finished && m.runErr != nil:
		status = statusError.Render("✗ Stopped: " + m.runErr.Error())
	case m.finished:
		status = statusOK.Render("✓ Run complete")
	case !m.started:
		status = statusInfo.Render("Reading published state...")
	case m.plan.Days == 0:
		status = statusOK.Render("✓ Nothing to do, metrics are up to date")
	default:
		status = statusInfo.Render(fmt.Sprintf("Processing... %d/%d days", m.DaysDone(), m.plan.Days))
	}

	lines := []string{
		sectionHeaderStyle.Render("Period"),
	}
	if m.started && m.plan.Days > 0 {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("%s .. %s",
			m.plan.Start.Format(stats.DateLayout),
			m.plan.End.AddDate(0, 0, -1).Format(stats.DateLayout))))
	}
	lines = append(lines,
		progressBar,
		status,
		RenderKeyValue("Processed", valueStyle.Render(stats.FormatNumber(int64(m.processed)))),
		RenderKeyValue("Skipped", GetSkipStyle(m.skipped).Render(stats.FormatNumber(int64(m.skipped)))),
	)

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// =============================================================================
// Furthest-State Histogram
// =============================================================================

func (m Model) renderStates() string {
	keys := m.states.Keys()

	var largest int64
	labelWidth := 0
	for _, k := range keys {
		largest = max(largest, m.states.Count(k))
		labelWidth = max(labelWidth, len(k))
	}

	barWidth := m.width - labelWidth - 20
	if barWidth < 10 {
		barWidth = 10
	}

	lines := []string{sectionHeaderStyle.Render("Furthest State (all processed days)")}
	for _, k := range keys {
		n := m.states.Count(k)
		label := mutedStyle.Render(fmt.Sprintf("%*s", labelWidth, k))
		count := valueStyle.Render(stats.FormatNumber(n))
		lines = append(lines, label+" "+RenderHistogramBar(n, largest, barWidth)+" "+count)
	}
	lines = append(lines, RenderKeyValue("Segments", valueStyle.Render(stats.FormatNumber(m.states.Total()))))

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// =============================================================================
// Last Day
// =============================================================================

func (m Model) renderLastDay() string {
	r := m.last
	title := "Last Day: " + r.Day.Format(stats.DateLayout)

	var lines []string
	if r.Skipped || r.Summary == nil {
		lines = []string{
			sectionHeaderStyle.Render(title),
			statusWarning.Render("No index for this day, skipped"),
		}
	} else {
		lines = []string{
			sectionHeaderStyle.Render(title),
			RenderKeyValue("Records", valueStyle.Render(stats.FormatNumber(r.Records))),
			RenderKeyValue("Malformed", GetMalformedStyle(m.MalformedRate()).Render(stats.FormatNumber(r.Malformed))),
			RenderKeyValue("Segments", valueStyle.Render(stats.FormatNumber(r.Summary.Segments()))),
			RenderKeyValue("Open at midnight", valueStyle.Render(fmt.Sprintf("%d", r.OpenRooms))+
				" "+unitStyle.Render("("+r.SpanMidnightPercent()+")")),
			RenderKeyValue("In session", valueStyle.Render(fmt.Sprintf("%d", r.InSession))),
			RenderKeyValue("Took", valueStyle.Render(stats.FormatDuration(r.Elapsed))),
		}
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// =============================================================================
// Anomalies
// =============================================================================

func (m Model) renderAnomalies() string {
	kinds := make([]string, 0, len(m.anomalies))
	for k := range m.anomalies {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)

	lines := []string{sectionHeaderStyle.Render("Anomalies")}
	for _, k := range kinds {
		lines = append(lines, RenderKeyValue(k, valueWarnStyle.Render(stats.FormatNumber(m.anomalies[k]))))
	}
	if m.records > 0 {
		rate := fmt.Sprintf("%.2f%%", m.MalformedRate()*100)
		lines = append(lines, RenderKeyValue("Malformed rate", GetMalformedStyle(m.MalformedRate()).Render(rate)))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{"q: quit"}

	right := "Source: " + m.source
	if m.metricsAddr != "" {
		right += " │ Metrics: " + m.metricsAddr
	}
	maxLen := m.width - 20
	if len(right) > maxLen && maxLen > 10 {
		right = right[:maxLen-3] + "..."
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	rightRendered := dimStyle.Render(right)

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(rightRendered) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			rightRendered,
		),
	)
}
