// Package critique runs the adversarial review pass: a single model
// call that challenges the synthesized thesis against the raw tool
// results and the deterministic validator's findings.
package critique

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/deepvalue-ai/deepvalue/internal/engine"
	"github.com/deepvalue-ai/deepvalue/internal/models"
	"github.com/deepvalue-ai/deepvalue/internal/toolcache"
	"github.com/deepvalue-ai/deepvalue/internal/utils"
)

const (
	critiqueOpen  = "<CRITIQUE>"
	critiqueClose = "</CRITIQUE>"

	// Raw tool payloads can be large; the reviewer only needs enough
	// to verify figures, not the full document text.
	cacheDigestMaxChars = 2000
)

// Critic wraps the engine for the review call.
type Critic struct {
	eng *engine.Engine
}

func NewCritic(eng *engine.Engine) *Critic {
	return &Critic{eng: eng}
}

// Input carries everything the reviewer sees.
type Input struct {
	Ticker    string
	Narrative string
	Metrics   *models.StructuredMetrics
	Insights  *models.StructuredInsights
	Automated *models.ValidationReport
	Cache     []toolcache.Entry
}

// Review runs one adversarial pass and returns its report. A malformed
// or missing verdict block falls back to the automated report rather
// than failing the run.
func (c *Critic) Review(ctx context.Context, in Input) (*models.ValidationReport, error) {
	prompt, err := utils.LoadPromptWithContext("critique", map[string]string{
		"Ticker":            in.Ticker,
		"Narrative":         in.Narrative,
		"StructuredData":    structuredDigest(in.Metrics, in.Insights),
		"AutomatedFindings": findingsDigest(in.Automated),
		"CacheDigest":       cacheDigest(in.Cache),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build critique prompt: %w", err)
	}

	out, err := c.eng.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)}, nil)
	if err != nil {
		return nil, fmt.Errorf("critique call failed: %w", err)
	}

	report, ok := parseVerdict(out.Content)
	if !ok {
		log.Printf("⚠️ Critique verdict unparseable, falling back to deterministic findings")
		fallback := *in.Automated
		fallback.Assessment = "Reviewer verdict was unparseable; deterministic findings stand. " + fallback.Assessment
		return &fallback, nil
	}
	return report, nil
}

// verdict mirrors the JSON shape the reviewer is asked for.
type verdict struct {
	Score      float64 `json:"score"`
	Approved   bool    `json:"approved"`
	Assessment string  `json:"assessment"`
	Issues     []struct {
		Severity       string   `json:"severity"`
		Category       string   `json:"category"`
		Description    string   `json:"description"`
		Period         string   `json:"period"`
		SuggestedField string   `json:"suggested_field"`
		SuggestedValue *float64 `json:"suggested_value"`
	} `json:"issues"`
}

func parseVerdict(content string) (*models.ValidationReport, bool) {
	start := strings.Index(content, critiqueOpen)
	if start < 0 {
		return nil, false
	}
	rest := content[start+len(critiqueOpen):]
	end := strings.Index(rest, critiqueClose)
	if end < 0 {
		return nil, false
	}
	raw := strings.TrimSpace(rest[:end])
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")

	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		log.Printf("⚠️ Failed to parse critique verdict: %v", err)
		return nil, false
	}

	report := &models.ValidationReport{
		Score:      clampScore(v.Score),
		Assessment: v.Assessment,
	}
	for _, is := range v.Issues {
		report.Issues = append(report.Issues, models.Issue{
			Severity:       normalizeSeverity(is.Severity),
			Category:       normalizeCategory(is.Category),
			Description:    is.Description,
			Period:         is.Period,
			SuggestedField: is.SuggestedField,
			SuggestedValue: is.SuggestedValue,
		})
	}
	// The approval flag is recomputed rather than trusted: a reviewer
	// that approves alongside critical findings contradicts itself.
	report.Approved = v.Approved && report.CountBySeverity(models.SeverityCritical) == 0
	return report, true
}

func normalizeSeverity(s string) models.Severity {
	switch models.Severity(strings.ToLower(strings.TrimSpace(s))) {
	case models.SeverityCritical:
		return models.SeverityCritical
	case models.SeverityImportant:
		return models.SeverityImportant
	case models.SeverityMinor:
		return models.SeverityMinor
	default:
		log.Printf("⚠️ Unknown issue severity %q, treating as minor", s)
		return models.SeverityMinor
	}
}

func normalizeCategory(s string) models.IssueCategory {
	c := models.IssueCategory(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case models.CategoryDataAccuracy, models.CategoryUnitError, models.CategoryInconsistency,
		models.CategoryCompleteness, models.CategoryTrendClaim, models.CategoryDecisionSupport,
		models.CategoryMethodology, models.CategoryThesisQuality:
		return c
	default:
		log.Printf("⚠️ Unknown issue category %q, treating as methodology", s)
		return models.CategoryMethodology
	}
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 10 {
		return 10
	}
	return s
}

func structuredDigest(m *models.StructuredMetrics, ins *models.StructuredInsights) string {
	payload := map[string]any{}
	if m != nil {
		payload["metrics"] = m
	}
	if ins != nil {
		payload["insights"] = ins
	}
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func findingsDigest(vr *models.ValidationReport) string {
	if vr == nil || len(vr.Issues) == 0 {
		return "No deterministic findings."
	}
	var sb strings.Builder
	for _, is := range vr.Issues {
		fmt.Fprintf(&sb, "- [%s/%s] %s", is.Severity, is.Category, is.Description)
		if is.Period != "" {
			fmt.Fprintf(&sb, " (period %s)", is.Period)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func cacheDigest(entries []toolcache.Entry) string {
	if len(entries) == 0 {
		return "No tool results were cached."
	}
	var sb strings.Builder
	for _, e := range entries {
		data := e.Data
		if len(data) > cacheDigestMaxChars {
			data = data[:cacheDigestMaxChars] + "…(truncated)"
		}
		fmt.Fprintf(&sb, "### %s (%s)\n%s\n\n", e.Key, e.Trust, data)
	}
	return sb.String()
}
