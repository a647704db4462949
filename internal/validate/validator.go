// Package validate implements the deterministic validation pass: pure
// quantitative and consistency checks over already-extracted data.
// Nothing here calls a model; the critique pass receives these
// findings precomputed so it does not re-derive arithmetic.
package validate

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/deepvalue-ai/deepvalue/internal/extract"
	"github.com/deepvalue-ai/deepvalue/internal/models"
)

// Validator holds the documented thresholds for the check families.
type Validator struct {
	// SuspectRatio flags profitability ratios above this as probable
	// unit errors (a ratio reported as a percentage, not a fraction).
	SuspectRatio float64
	// TrustedTolerance is the relative disagreement allowed between a
	// merged value and the best trusted cache value for the same field.
	TrustedTolerance float64
	// BuyMinROIC and BuyMinMoatRank are the documented minimum support
	// for the most favorable decision category.
	BuyMinROIC     float64
	BuyMinMoatRank int
}

// NewValidator returns a validator with the documented defaults.
func NewValidator(buyMinROIC float64, buyMinMoatRank int) *Validator {
	return &Validator{
		SuspectRatio:     1.0,
		TrustedTolerance: 0.01,
		BuyMinROIC:       buyMinROIC,
		BuyMinMoatRank:   buyMinMoatRank,
	}
}

// Input is everything the deterministic checks look at. Periods run
// newest first, the current period leading, which is the order the
// pipeline builds them in.
type Input struct {
	Periods   []*models.PeriodResult
	Synthesis *models.SynthesisResult
	Index     extract.FieldIndex
}

// Run executes every check family and produces a scored report.
func (v *Validator) Run(in Input) *models.ValidationReport {
	var issues []models.Issue

	for _, pr := range in.Periods {
		issues = append(issues, v.checkMetrics(pr.Period, pr.Metrics, in.Index)...)
	}
	if in.Synthesis != nil {
		issues = append(issues, v.checkMetrics("synthesis", in.Synthesis.Metrics, in.Index)...)
		issues = append(issues, v.checkDecisionSupport(in.Synthesis)...)
		issues = append(issues, v.checkTrendClaims(in.Synthesis.Narrative, in.Periods)...)
		issues = append(issues, v.checkCompleteness("synthesis", in.Synthesis.Metrics)...)
	}
	for _, pr := range in.Periods {
		if pr.Incomplete {
			issues = append(issues, models.Issue{
				Severity:    models.SeverityMinor,
				Category:    models.CategoryCompleteness,
				Period:      pr.Period,
				Description: fmt.Sprintf("period %s extraction is incomplete", pr.Period),
			})
		}
	}

	score := scoreIssues(issues)
	return &models.ValidationReport{
		Issues:     issues,
		Score:      score,
		Approved:   approved(issues, score),
		Assessment: assessment(issues, score),
		CreatedAt:  time.Now(),
	}
}

func (v *Validator) checkMetrics(period string, m *models.StructuredMetrics, index extract.FieldIndex) []models.Issue {
	if m == nil {
		return nil
	}
	var issues []models.Issue

	// Range/plausibility: construction already rejects hard range
	// violations, so what remains is the unit-error band.
	for _, field := range []string{models.FieldROIC, models.FieldGrossMargin, models.FieldOperatingMargin, models.FieldNetMargin} {
		if val, ok := m.Get(field); ok && math.Abs(val) > v.SuspectRatio {
			issues = append(issues, models.Issue{
				Severity:    models.SeverityCritical,
				Category:    models.CategoryUnitError,
				Period:      period,
				Description: fmt.Sprintf("%s of %.2f looks like a percentage stored as a fraction", field, val),
			})
		}
	}

	// Cross-field ordering.
	if err := m.CheckCrossFields(); err != nil {
		issues = append(issues, models.Issue{
			Severity:    models.SeverityImportant,
			Category:    models.CategoryInconsistency,
			Period:      period,
			Description: err.Error(),
		})
	}

	// Disagreement with the best trusted cache value for the same
	// logical field. The suggested value is the trusted figure, which
	// is all the auto-corrector is allowed to apply.
	for _, field := range models.MetricFields() {
		val, ok := m.Get(field)
		if !ok {
			continue
		}
		trusted, ok := index.BestTrusted(field, period)
		if !ok {
			continue
		}
		if relDiff(val, trusted.Value) > v.TrustedTolerance {
			suggested := trusted.Value
			issues = append(issues, models.Issue{
				Severity:       models.SeverityImportant,
				Category:       models.CategoryDataAccuracy,
				Period:         period,
				Description:    fmt.Sprintf("%s %.4f disagrees with trusted source value %.4f", field, val, trusted.Value),
				SuggestedField: field,
				SuggestedValue: &suggested,
			})
		}
	}

	return issues
}

func (v *Validator) checkDecisionSupport(syn *models.SynthesisResult) []models.Issue {
	if syn.Insights == nil || syn.Insights.Decision != models.DecisionBuy {
		return nil
	}
	var issues []models.Issue

	// The most favorable category needs documented minimum support.
	// Violations are judgment mismatches, not data errors.
	if syn.Insights.MoatStrength.Rank() < v.BuyMinMoatRank {
		issues = append(issues, models.Issue{
			Severity: models.SeverityImportant,
			Category: models.CategoryDecisionSupport,
			Description: fmt.Sprintf("BUY decision with moat strength %q below the required tier",
				syn.Insights.MoatStrength),
		})
	}
	if syn.Metrics != nil {
		if roic, ok := syn.Metrics.Get(models.FieldROIC); ok && roic < v.BuyMinROIC {
			issues = append(issues, models.Issue{
				Severity: models.SeverityImportant,
				Category: models.CategoryDecisionSupport,
				Description: fmt.Sprintf("BUY decision with ROIC %.2f%% below the %.2f%% minimum",
					roic*100, v.BuyMinROIC*100),
			})
		}
	}
	return issues
}

func (v *Validator) checkCompleteness(period string, m *models.StructuredMetrics) []models.Issue {
	if m == nil {
		return []models.Issue{{
			Severity:    models.SeverityImportant,
			Category:    models.CategoryCompleteness,
			Period:      period,
			Description: "no structured metrics extracted",
		}}
	}
	var issues []models.Issue
	for _, field := range m.MissingRequired() {
		issues = append(issues, models.Issue{
			Severity:    models.SeverityImportant,
			Category:    models.CategoryCompleteness,
			Period:      period,
			Description: fmt.Sprintf("required field %s is null after merge", field),
		})
	}
	return issues
}

var (
	growthRe  = regexp.MustCompile(`(?i)\brevenue\b[^.]{0,60}\b(grew|growing|growth|increased|expanding|accelerat\w+)\b`)
	declineRe = regexp.MustCompile(`(?i)\brevenue\b[^.]{0,60}\b(declined|declining|shrank|shrinking|fell|decreas\w+|contract\w+)\b`)
)

// checkTrendClaims cross-checks qualitative growth/decline language
// against the sign of the period-over-period revenue change.
func (v *Validator) checkTrendClaims(narrative string, periods []*models.PeriodResult) []models.Issue {
	claimsGrowth := growthRe.MatchString(narrative)
	claimsDecline := declineRe.MatchString(narrative)
	if claimsGrowth == claimsDecline {
		return nil // no claim, or contradictory prose the critic can judge
	}

	delta, ok := revenueDelta(periods)
	if !ok {
		return nil
	}

	if claimsGrowth && delta < 0 {
		return []models.Issue{{
			Severity:    models.SeverityImportant,
			Category:    models.CategoryTrendClaim,
			Description: "narrative claims revenue growth but period-over-period revenue declined",
		}}
	}
	if claimsDecline && delta > 0 {
		return []models.Issue{{
			Severity:    models.SeverityImportant,
			Category:    models.CategoryTrendClaim,
			Description: "narrative claims revenue decline but period-over-period revenue grew",
		}}
	}
	return nil
}

// revenueDelta compares the two most recent periods carrying revenue.
// Periods arrive ordered newest first, so the delta is the first value
// minus the second.
func revenueDelta(periods []*models.PeriodResult) (float64, bool) {
	var values []float64
	for _, pr := range periods {
		if pr.Metrics == nil {
			continue
		}
		if v, ok := pr.Metrics.Get(models.FieldRevenue); ok {
			values = append(values, v)
			if len(values) == 2 {
				break
			}
		}
	}
	if len(values) < 2 {
		return 0, false
	}
	return values[0] - values[1], true
}

func relDiff(a, b float64) float64 {
	denom := math.Max(math.Abs(a), math.Abs(b))
	if denom == 0 {
		return 0
	}
	return math.Abs(a-b) / denom
}

func scoreIssues(issues []models.Issue) float64 {
	score := 10.0
	for _, is := range issues {
		switch is.Severity {
		case models.SeverityCritical:
			score -= 3.0
		case models.SeverityImportant:
			score -= 1.5
		case models.SeverityMinor:
			score -= 0.5
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

func approved(issues []models.Issue, score float64) bool {
	for _, is := range issues {
		if is.Severity == models.SeverityCritical {
			return false
		}
	}
	return score >= 7.0
}

func assessment(issues []models.Issue, score float64) string {
	if len(issues) == 0 {
		return "All deterministic checks passed."
	}
	var parts []string
	for _, sev := range []models.Severity{models.SeverityCritical, models.SeverityImportant, models.SeverityMinor} {
		n := 0
		for _, is := range issues {
			if is.Severity == sev {
				n++
			}
		}
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	return fmt.Sprintf("Deterministic checks found %s issues (score %.1f).", strings.Join(parts, ", "), score)
}
