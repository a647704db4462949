package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/deepvalue-ai/deepvalue/internal/models"
	"github.com/deepvalue-ai/deepvalue/internal/utils"
)

// WriteReport renders a session manifest to a markdown file under the
// results directory, one folder per ticker.
func WriteReport(resultsDir string, m *models.SessionManifest) error {
	dir := filepath.Join(resultsDir, m.Ticker)
	name := fmt.Sprintf("%s_%s.md", m.StartedAt.Format("2006-01-02"), m.SessionID[:8])
	return utils.WriteMarkdown(dir, name, RenderMarkdown(m))
}

// RenderMarkdown builds the human-readable report for a manifest.
func RenderMarkdown(m *models.SessionManifest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s - research session %s\n\n", m.Ticker, m.SessionID)
	fmt.Fprintf(&sb, "- Mode: %s (depth %d)\n", m.Mode, m.Depth)
	fmt.Fprintf(&sb, "- State: %s\n", m.State)
	fmt.Fprintf(&sb, "- Started: %s\n", m.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "- Finished: %s\n\n", m.FinishedAt.Format("2006-01-02 15:04:05"))

	if m.Failure != "" {
		fmt.Fprintf(&sb, "## Failure\n\n%s: %s\n\n", m.Failure, m.FailureDetail)
	}

	if m.Decision != nil {
		fmt.Fprintf(&sb, "## Decision\n\n**%s**", m.Decision.Decision)
		if m.Conviction != "" {
			fmt.Fprintf(&sb, " (conviction: %s)", m.Conviction)
		}
		fmt.Fprintf(&sb, "\n\nResolution tier: %s\n", m.Decision.Tier)
		if m.Decision.Conflict {
			fmt.Fprintf(&sb, "\n> Narrative said %s while the structured block said %s; the narrative wins.\n",
				m.Decision.TextDecision, m.Decision.StructuredDecision)
		}
		sb.WriteString("\n")
	}

	if m.Narrative != "" {
		fmt.Fprintf(&sb, "## Thesis\n\n%s\n\n", m.Narrative)
	} else if m.CurrentPeriod != nil {
		fmt.Fprintf(&sb, "## Current period\n\n%s\n\n", m.CurrentPeriod.Narrative)
	}

	if m.Synthesis != nil && m.Synthesis.Metrics != nil {
		sb.WriteString("## Key figures\n\n")
		writeMetricsTable(&sb, m.Synthesis.Metrics)
	} else if m.CurrentPeriod != nil && m.CurrentPeriod.Metrics != nil {
		sb.WriteString("## Key figures\n\n")
		writeMetricsTable(&sb, m.CurrentPeriod.Metrics)
	}

	if ins := sessionInsights(m); ins != nil {
		if len(ins.KeyStrengths) > 0 {
			sb.WriteString("## Strengths\n\n")
			for _, v := range ins.KeyStrengths {
				fmt.Fprintf(&sb, "- %s\n", v)
			}
			sb.WriteString("\n")
		}
		if len(ins.TopRisks) > 0 {
			sb.WriteString("## Risks\n\n")
			for _, v := range ins.TopRisks {
				fmt.Fprintf(&sb, "- %s\n", v)
			}
			sb.WriteString("\n")
		}
	}

	if m.Validation != nil {
		fmt.Fprintf(&sb, "## Validation\n\nScore %.1f/10, approved: %t\n\n%s\n\n",
			m.Validation.Score, m.Validation.Approved, m.Validation.Assessment)
		for _, is := range m.Validation.Issues {
			fmt.Fprintf(&sb, "- [%s/%s] %s\n", is.Severity, is.Category, is.Description)
		}
		if len(m.Validation.Issues) > 0 {
			sb.WriteString("\n")
		}
	}

	if len(m.Corrections) > 0 {
		sb.WriteString("## Corrections applied\n\n")
		for _, c := range m.Corrections {
			old := "null"
			if c.OldValue != nil {
				old = fmt.Sprintf("%.4f", *c.OldValue)
			}
			fmt.Fprintf(&sb, "- %s (%s): %s → %.4f, source `%s`\n", c.Field, c.Period, old, c.NewValue, c.SourceKey)
		}
		sb.WriteString("\n")
	}

	if m.Context != nil {
		sb.WriteString("## Context budget\n\n")
		fmt.Fprintf(&sb, "Tokens used: %d of %d\n\n", m.Context.TokensUsed, m.Context.TokenCeiling)
		sb.WriteString("| Period | Outcome | Source chars | Token cost |\n|---|---|---|---|\n")
		for _, row := range m.Context.Periods {
			fmt.Fprintf(&sb, "| %s | %s | %d | %d |\n", row.Period, row.Outcome, row.SourceChars, row.TokenCost)
		}
		if len(m.Context.YearsSkipped) > 0 {
			fmt.Fprintf(&sb, "\nYears skipped: %s\n", strings.Join(m.Context.YearsSkipped, ", "))
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "---\n\nTool cache: %d entries, %d hits, %d misses\n",
		m.Cache.Entries, m.Cache.Hits, m.Cache.Misses)
	return sb.String()
}

func writeMetricsTable(sb *strings.Builder, metrics *models.StructuredMetrics) {
	sb.WriteString("| Metric | Value |\n|---|---|\n")
	for _, field := range models.MetricFields() {
		if v, ok := metrics.Get(field); ok {
			fmt.Fprintf(sb, "| %s | %.4f |\n", field, v)
		}
	}
	sb.WriteString("\n")
}

func sessionInsights(m *models.SessionManifest) *models.StructuredInsights {
	if m.Synthesis != nil && m.Synthesis.Insights != nil {
		return m.Synthesis.Insights
	}
	if m.CurrentPeriod != nil {
		return m.CurrentPeriod.Insights
	}
	return nil
}
