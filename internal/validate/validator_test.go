package validate

import (
	"strings"
	"testing"

	"github.com/deepvalue-ai/deepvalue/internal/extract"
	"github.com/deepvalue-ai/deepvalue/internal/models"
	"github.com/deepvalue-ai/deepvalue/internal/toolcache"
)

func newTestValidator() *Validator {
	return NewValidator(0.10, 2)
}

func metricsWith(t *testing.T, fields map[string]float64) *models.StructuredMetrics {
	t.Helper()
	m := &models.StructuredMetrics{}
	for f, v := range fields {
		if err := m.Set(f, v); err != nil {
			t.Fatalf("Set(%s, %v): %v", f, v, err)
		}
	}
	return m
}

func trustedIndex(field string, value float64) extract.FieldIndex {
	return extract.FieldIndex{
		field: {{
			Field: field, Value: value,
			SourceKey: "get_key_ratios|symbol=AAPL",
			Trust:     toolcache.TrustedExternal,
			Tier:      extract.TierProviderCalculated,
		}},
	}
}

func hasIssue(issues []models.Issue, sev models.Severity, cat models.IssueCategory) bool {
	for _, is := range issues {
		if is.Severity == sev && is.Category == cat {
			return true
		}
	}
	return false
}

func TestCleanInputApproved(t *testing.T) {
	v := newTestValidator()
	m := metricsWith(t, map[string]float64{
		"roic": 0.22, "revenue": 1000, "gross_margin": 0.45,
		"operating_margin": 0.30, "net_margin": 0.25, "debt_to_equity": 0.6,
	})
	report := v.Run(Input{
		Periods: []*models.PeriodResult{{Period: "current", Metrics: m}},
		Synthesis: &models.SynthesisResult{
			Narrative: "A steady business.",
			Metrics:   m.Clone(),
			Insights:  &models.StructuredInsights{Decision: models.DecisionWatch},
		},
		Index: extract.FieldIndex{},
	})

	if !report.Approved {
		t.Fatalf("clean input not approved: %+v", report.Issues)
	}
	if report.Score != 10 {
		t.Fatalf("score = %v, want 10", report.Score)
	}
}

func TestUnitErrorBandIsCritical(t *testing.T) {
	v := newTestValidator()
	// 1.5 is inside the storable range but above the plausibility band.
	m := metricsWith(t, map[string]float64{"roic": 1.5})
	report := v.Run(Input{
		Periods: []*models.PeriodResult{{Period: "FY2023", Metrics: m}},
		Index:   extract.FieldIndex{},
	})

	if !hasIssue(report.Issues, models.SeverityCritical, models.CategoryUnitError) {
		t.Fatalf("no unit-error critical: %+v", report.Issues)
	}
	if report.Approved {
		t.Fatal("critical issue must block approval")
	}
}

func TestTrustedDisagreementSuggestsCorrection(t *testing.T) {
	v := newTestValidator()
	m := metricsWith(t, map[string]float64{"roic": 0.30})
	report := v.Run(Input{
		Periods: []*models.PeriodResult{{Period: "current", Metrics: m}},
		Index:   trustedIndex(models.FieldROIC, 0.224),
	})

	var found *models.Issue
	for i := range report.Issues {
		if report.Issues[i].Category == models.CategoryDataAccuracy {
			found = &report.Issues[i]
		}
	}
	if found == nil {
		t.Fatalf("no data-accuracy issue: %+v", report.Issues)
	}
	if found.Severity != models.SeverityImportant {
		t.Fatalf("severity = %s", found.Severity)
	}
	if found.SuggestedField != models.FieldROIC || found.SuggestedValue == nil || *found.SuggestedValue != 0.224 {
		t.Fatalf("suggestion = %q %v, want roic 0.224", found.SuggestedField, found.SuggestedValue)
	}
}

func TestTrustedDisagreementWithinToleranceIgnored(t *testing.T) {
	v := newTestValidator()
	m := metricsWith(t, map[string]float64{"roic": 0.2235})
	report := v.Run(Input{
		Periods: []*models.PeriodResult{{Period: "current", Metrics: m}},
		Index:   trustedIndex(models.FieldROIC, 0.224),
	})

	if hasIssue(report.Issues, models.SeverityImportant, models.CategoryDataAccuracy) {
		t.Fatalf("sub-tolerance disagreement flagged: %+v", report.Issues)
	}
}

func TestBuyNeedsDecisionSupport(t *testing.T) {
	v := newTestValidator()
	syn := &models.SynthesisResult{
		Metrics:  metricsWith(t, map[string]float64{"roic": 0.05}),
		Insights: &models.StructuredInsights{Decision: models.DecisionBuy, MoatStrength: models.MoatNarrow},
	}
	report := v.Run(Input{Synthesis: syn, Index: extract.FieldIndex{}})

	n := 0
	for _, is := range report.Issues {
		if is.Category == models.CategoryDecisionSupport {
			n++
		}
	}
	// Both the moat tier and the ROIC floor are unmet.
	if n != 2 {
		t.Fatalf("decision-support issues = %d, want 2: %+v", n, report.Issues)
	}
}

func TestBuyWithSupportPasses(t *testing.T) {
	v := newTestValidator()
	syn := &models.SynthesisResult{
		Metrics:  metricsWith(t, map[string]float64{"roic": 0.25}),
		Insights: &models.StructuredInsights{Decision: models.DecisionBuy, MoatStrength: models.MoatWide},
	}
	report := v.Run(Input{Synthesis: syn, Index: extract.FieldIndex{}})

	if hasIssue(report.Issues, models.SeverityImportant, models.CategoryDecisionSupport) {
		t.Fatalf("well-supported BUY flagged: %+v", report.Issues)
	}
}

func TestTrendClaimContradiction(t *testing.T) {
	v := newTestValidator()
	// Newest first: FY2023 revenue fell below FY2022.
	periods := []*models.PeriodResult{
		{Period: "FY2023", Metrics: metricsWith(t, map[string]float64{"revenue": 1000})},
		{Period: "FY2022", Metrics: metricsWith(t, map[string]float64{"revenue": 1200})},
	}
	syn := &models.SynthesisResult{
		Narrative: "Revenue grew impressively across the window.",
		Insights:  &models.StructuredInsights{},
	}
	report := v.Run(Input{Periods: periods, Synthesis: syn, Index: extract.FieldIndex{}})

	if !hasIssue(report.Issues, models.SeverityImportant, models.CategoryTrendClaim) {
		t.Fatalf("growth claim over declining revenue not flagged: %+v", report.Issues)
	}
}

func TestTrendClaimConsistentNarrative(t *testing.T) {
	v := newTestValidator()
	periods := []*models.PeriodResult{
		{Period: "FY2023", Metrics: metricsWith(t, map[string]float64{"revenue": 1200})},
		{Period: "FY2022", Metrics: metricsWith(t, map[string]float64{"revenue": 1000})},
	}
	syn := &models.SynthesisResult{
		Narrative: "Revenue grew at a healthy clip.",
		Insights:  &models.StructuredInsights{},
	}
	report := v.Run(Input{Periods: periods, Synthesis: syn, Index: extract.FieldIndex{}})

	if hasIssue(report.Issues, models.SeverityImportant, models.CategoryTrendClaim) {
		t.Fatalf("consistent claim flagged: %+v", report.Issues)
	}
}

func TestTrendClaimPipelineOrdering(t *testing.T) {
	// The pipeline hands over the current period first, then fiscal
	// years descending. A truthful growth claim over growing revenue
	// must pass in that ordering.
	v := newTestValidator()
	periods := []*models.PeriodResult{
		{Period: "current", Metrics: metricsWith(t, map[string]float64{"revenue": 1500})},
		{Period: "FY2024", Metrics: metricsWith(t, map[string]float64{"revenue": 1200})},
		{Period: "FY2023", Metrics: metricsWith(t, map[string]float64{"revenue": 1000})},
	}
	syn := &models.SynthesisResult{
		Narrative: "Revenue grew steadily across the window.",
		Insights:  &models.StructuredInsights{},
	}
	report := v.Run(Input{Periods: periods, Synthesis: syn, Index: extract.FieldIndex{}})

	if hasIssue(report.Issues, models.SeverityImportant, models.CategoryTrendClaim) {
		t.Fatalf("truthful growth claim flagged: %+v", report.Issues)
	}

	// And the inverse still trips over the two most recent points.
	periods[0] = &models.PeriodResult{Period: "current", Metrics: metricsWith(t, map[string]float64{"revenue": 900})}
	report = v.Run(Input{Periods: periods, Synthesis: syn, Index: extract.FieldIndex{}})
	if !hasIssue(report.Issues, models.SeverityImportant, models.CategoryTrendClaim) {
		t.Fatalf("growth claim over a recent decline not flagged: %+v", report.Issues)
	}
}

func TestTrendClaimNeedsTwoRevenuePoints(t *testing.T) {
	v := newTestValidator()
	periods := []*models.PeriodResult{
		{Period: "FY2023", Metrics: metricsWith(t, map[string]float64{"revenue": 1000})},
	}
	syn := &models.SynthesisResult{
		Narrative: "Revenue declined sharply.",
		Insights:  &models.StructuredInsights{},
	}
	report := v.Run(Input{Periods: periods, Synthesis: syn, Index: extract.FieldIndex{}})

	if hasIssue(report.Issues, models.SeverityImportant, models.CategoryTrendClaim) {
		t.Fatal("claim flagged without two revenue data points")
	}
}

func TestCompletenessFindings(t *testing.T) {
	v := newTestValidator()
	syn := &models.SynthesisResult{
		Metrics:  &models.StructuredMetrics{}, // every required field null
		Insights: &models.StructuredInsights{},
	}
	report := v.Run(Input{Synthesis: syn, Index: extract.FieldIndex{}})

	if !hasIssue(report.Issues, models.SeverityImportant, models.CategoryCompleteness) {
		t.Fatalf("missing required fields not flagged: %+v", report.Issues)
	}
}

func TestIncompletePeriodIsMinor(t *testing.T) {
	v := newTestValidator()
	report := v.Run(Input{
		Periods: []*models.PeriodResult{{Period: "FY2021", Incomplete: true}},
		Index:   extract.FieldIndex{},
	})

	if !hasIssue(report.Issues, models.SeverityMinor, models.CategoryCompleteness) {
		t.Fatalf("incomplete period not flagged minor: %+v", report.Issues)
	}
	if !report.Approved {
		t.Fatal("a lone minor finding should not block approval")
	}
}

func TestScoreFloorsAtZero(t *testing.T) {
	issues := make([]models.Issue, 5)
	for i := range issues {
		issues[i] = models.Issue{Severity: models.SeverityCritical}
	}
	if got := scoreIssues(issues); got != 0 {
		t.Fatalf("score = %v, want 0", got)
	}
}

func TestAssessmentSummarizesCounts(t *testing.T) {
	issues := []models.Issue{
		{Severity: models.SeverityCritical},
		{Severity: models.SeverityImportant},
		{Severity: models.SeverityImportant},
	}
	got := assessment(issues, scoreIssues(issues))
	if !strings.Contains(got, "1 critical") || !strings.Contains(got, "2 important") {
		t.Fatalf("assessment = %q", got)
	}
}
