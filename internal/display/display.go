// Package display renders session results in the terminal.
package display

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/deepvalue-ai/deepvalue/internal/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(1, 2).
			Width(80)

	buyStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981"))
	watchStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F59E0B"))
	avoidStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444"))

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6"))
)

// Banner prints the startup banner.
func Banner() {
	banner := `
╺┳┓┏━╸┏━╸┏━┓╻ ╻┏━┓╻  ╻ ╻┏━╸
 ┃┃┣╸ ┣╸ ┣━┛┃┏┛┣━┫┃  ┃ ┃┣╸
╺┻┛┗━╸┗━╸╹  ┗┛ ╹ ╹┗━╸┗━┛┗━╸
`
	style := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#7C3AED")).
		Bold(true)
	fmt.Print(style.Render(banner))
	fmt.Println(infoStyle.Render("  Automated deep-value research over primary sources"))
	fmt.Println()
}

// Results prints the final panel for a finished session.
func Results(m *models.SessionManifest) {
	fmt.Println()
	fmt.Println(titleStyle.Render(fmt.Sprintf("📊 %s: %s analysis", m.Ticker, m.Mode)))

	var sb strings.Builder
	if m.Decision != nil {
		fmt.Fprintf(&sb, "Decision: %s", decisionStyle(m.Decision.Decision).Render(string(m.Decision.Decision)))
		if m.Conviction != "" {
			fmt.Fprintf(&sb, "  (conviction: %s)", m.Conviction)
		}
		fmt.Fprintf(&sb, "\n%s\n", labelStyle.Render("resolved via "+string(m.Decision.Tier)+" pattern"))
		if m.Decision.Conflict {
			fmt.Fprintf(&sb, "%s\n", warnStyle.Render(fmt.Sprintf(
				"⚠ narrative (%s) and structured block (%s) disagreed; narrative wins",
				m.Decision.TextDecision, m.Decision.StructuredDecision)))
		}
		sb.WriteString("\n")
	}

	if metrics := sessionMetrics(m); metrics != nil {
		sb.WriteString("Key figures:\n")
		for _, field := range models.MetricFields() {
			if v, ok := metrics.Get(field); ok {
				fmt.Fprintf(&sb, "  %-22s %14.4f\n", field, v)
			}
		}
		sb.WriteString("\n")
	}

	if m.Validation != nil {
		status := okStyle.Render("approved")
		if !m.Validation.Approved {
			status = warnStyle.Render("not approved")
		}
		fmt.Fprintf(&sb, "Validation: %.1f/10, %s, %d issues\n",
			m.Validation.Score, status, len(m.Validation.Issues))
	}
	if len(m.Corrections) > 0 {
		fmt.Fprintf(&sb, "Corrections applied: %d (all from trusted source data)\n", len(m.Corrections))
	}
	if m.Context != nil && len(m.Context.YearsSkipped) > 0 {
		fmt.Fprintf(&sb, "Years skipped: %s\n", strings.Join(m.Context.YearsSkipped, ", "))
	}
	fmt.Fprintf(&sb, "Cache: %d entries, %d hits, %d misses",
		m.Cache.Entries, m.Cache.Hits, m.Cache.Misses)

	fmt.Println(panelStyle.Render(sb.String()))
}

// Failure prints the failure panel for a dead session.
func Failure(m *models.SessionManifest) {
	fmt.Println()
	fmt.Println(errStyle.Render(fmt.Sprintf("❌ Session failed (%s)", m.Failure)))
	fmt.Println(labelStyle.Render(m.FailureDetail))
}

// Error prints a top-level error.
func Error(err error) {
	fmt.Println(errStyle.Render("❌ Error: " + err.Error()))
}

// Info prints an informational line.
func Info(message string) {
	fmt.Println(infoStyle.Render("ℹ️  " + message))
}

// Success prints a success line.
func Success(message string) {
	fmt.Println(okStyle.Render("✅ " + message))
}

func decisionStyle(d models.Decision) lipgloss.Style {
	switch d {
	case models.DecisionBuy:
		return buyStyle
	case models.DecisionAvoid:
		return avoidStyle
	default:
		return watchStyle
	}
}

func sessionMetrics(m *models.SessionManifest) *models.StructuredMetrics {
	if m.Synthesis != nil && m.Synthesis.Metrics != nil {
		return m.Synthesis.Metrics
	}
	if m.CurrentPeriod != nil {
		return m.CurrentPeriod.Metrics
	}
	return nil
}
