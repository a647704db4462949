package models

import "time"

// Severity grades a validation issue.
type Severity string

const (
	SeverityCritical  Severity = "critical"
	SeverityImportant Severity = "important"
	SeverityMinor     Severity = "minor"
)

// IssueCategory classifies what kind of problem an issue describes.
// Only data-accuracy categories are eligible for auto-correction.
type IssueCategory string

const (
	CategoryDataAccuracy     IssueCategory = "data_accuracy"
	CategoryUnitError        IssueCategory = "unit_error"
	CategoryInconsistency    IssueCategory = "inconsistency"
	CategoryCompleteness     IssueCategory = "completeness"
	CategoryTrendClaim       IssueCategory = "trend_claim"
	CategoryDecisionSupport  IssueCategory = "decision_support"
	CategoryMethodology      IssueCategory = "methodology"
	CategoryThesisQuality    IssueCategory = "thesis_quality"
)

// Issue is one finding from the automated validator or the critique
// pass. SuggestedField and SuggestedValue are optional hints for the
// auto-corrector; they are never applied without a trusted source.
type Issue struct {
	Severity       Severity      `json:"severity"`
	Category       IssueCategory `json:"category"`
	Description    string        `json:"description"`
	Period         string        `json:"period,omitempty"`
	SuggestedField string        `json:"suggested_field,omitempty"`
	SuggestedValue *float64      `json:"suggested_value,omitempty"`
}

// ValidationReport is the outcome of one validation pass. It is
// immutable once produced; a post-correction re-validation yields a
// new instance.
type ValidationReport struct {
	Issues     []Issue   `json:"issues"`
	Score      float64   `json:"score"`
	Approved   bool      `json:"approved"`
	Assessment string    `json:"assessment"`
	CreatedAt  time.Time `json:"created_at"`
}

// CountBySeverity tallies issues at the given severity.
func (vr *ValidationReport) CountBySeverity(sev Severity) int {
	n := 0
	for _, is := range vr.Issues {
		if is.Severity == sev {
			n++
		}
	}
	return n
}

// Correction is an append-only audit record of one auto-applied fix.
type Correction struct {
	Field     string    `json:"field"`
	Period    string    `json:"period,omitempty"`
	OldValue  *float64  `json:"old_value"`
	NewValue  float64   `json:"new_value"`
	SourceKey string    `json:"source_cache_key"`
	Rationale string    `json:"rationale"`
	AppliedAt time.Time `json:"applied_at"`
}
