package models

import "time"

// Mode selects how deep a session digs. Quick mode terminates after
// the current-period stage; deep mode runs the full pipeline. The mode
// is fixed at session start and never revisited mid-run.
type Mode string

const (
	ModeQuick Mode = "quick"
	ModeDeep  Mode = "deep"
)

// SessionState is the orchestrator's state machine position.
type SessionState string

const (
	StateInit              SessionState = "INIT"
	StateCurrentPeriod     SessionState = "CURRENT_PERIOD"
	StateHistoricalPeriods SessionState = "HISTORICAL_PERIODS"
	StateSynthesis         SessionState = "SYNTHESIS"
	StateValidation        SessionState = "VALIDATION"
	StateDone              SessionState = "DONE"
	StateFailed            SessionState = "FAILED"
)

// InclusionOutcome records how a period's source document made it into
// the reasoning context, if at all.
type InclusionOutcome string

const (
	IncludedFull    InclusionOutcome = "included-full"
	IncludedSummary InclusionOutcome = "included-summary"
	Skipped         InclusionOutcome = "skipped"
)

// PeriodContext is one row of the context-budget manifest.
type PeriodContext struct {
	Period      string           `json:"period"`
	Outcome     InclusionOutcome `json:"outcome"`
	SourceChars int              `json:"source_chars"`
	TokenCost   int              `json:"token_cost"`
	Warning     string           `json:"warning,omitempty"`
}

// ContextManifest is the context budget manager's account of what was
// read, compressed or skipped. It is surfaced verbatim to the caller.
type ContextManifest struct {
	Periods      []PeriodContext `json:"periods"`
	YearsSkipped []string        `json:"years_skipped"`
	TokensUsed   int             `json:"tokens_used"`
	TokenCeiling int             `json:"token_ceiling"`
	Warnings     []string        `json:"warnings,omitempty"`
}

// PeriodResult is the output of analyzing one historical period.
// Created once during the historical stage; only the auto-corrector
// replaces it, and then with a fresh corrected copy.
type PeriodResult struct {
	Period     string              `json:"period"`
	Narrative  string              `json:"narrative"`
	Metrics    *StructuredMetrics  `json:"metrics"`
	Insights   *StructuredInsights `json:"insights"`
	Incomplete bool                `json:"incomplete"`
}

// Clone deep-copies a period result for corrected replacements.
func (pr *PeriodResult) Clone() *PeriodResult {
	if pr == nil {
		return nil
	}
	cp := *pr
	cp.Metrics = pr.Metrics.Clone()
	cp.Insights = pr.Insights.Clone()
	return &cp
}

// SynthesisResult is the cross-period synthesis output.
type SynthesisResult struct {
	Narrative  string              `json:"narrative"`
	Metrics    *StructuredMetrics  `json:"metrics"`
	Insights   *StructuredInsights `json:"insights"`
	Incomplete bool                `json:"incomplete"`
}

// Clone deep-copies a synthesis result for corrected replacements.
func (sr *SynthesisResult) Clone() *SynthesisResult {
	if sr == nil {
		return nil
	}
	cp := *sr
	cp.Metrics = sr.Metrics.Clone()
	cp.Insights = sr.Insights.Clone()
	return &cp
}

// DecisionTier reports how specific the matched decision pattern was.
type DecisionTier string

const (
	TierExplicit DecisionTier = "explicit"
	TierLabeled  DecisionTier = "labeled"
	TierMention  DecisionTier = "mention"
	TierDefault  DecisionTier = "default"
)

// ResolvedDecision is the decision resolver's output: the final call,
// the specificity tier of the pattern that produced it, and whether
// the text-derived and structure-derived decisions disagreed.
type ResolvedDecision struct {
	Decision           Decision     `json:"decision"`
	Tier               DecisionTier `json:"tier"`
	Conflict           bool         `json:"conflict"`
	TextDecision       Decision     `json:"text_decision,omitempty"`
	StructuredDecision Decision     `json:"structured_decision,omitempty"`
}

// CacheStats summarizes tool-cache usage for the manifest.
type CacheStats struct {
	Hits    int `json:"hits"`
	Misses  int `json:"misses"`
	Entries int `json:"entries"`
}

// FailureClass classifies a fatal session error for the caller.
type FailureClass string

const (
	FailureUnknownSubject    FailureClass = "unknown_subject"
	FailureEngineUnreachable FailureClass = "engine_unreachable"
	FailureInternal          FailureClass = "internal"
)

// SessionManifest is the immutable record handed to the storage sink
// when a session finishes. On FAILED sessions the manifest carries
// whatever stages completed plus the failure classification.
type SessionManifest struct {
	SessionID     string            `json:"session_id"`
	Ticker        string            `json:"ticker"`
	Mode          Mode              `json:"mode"`
	Depth         int               `json:"depth"`
	State         SessionState      `json:"state"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
	Decision      *ResolvedDecision `json:"decision,omitempty"`
	Conviction    Conviction        `json:"conviction,omitempty"`
	Narrative     string            `json:"narrative,omitempty"`
	CurrentPeriod *PeriodResult     `json:"current_period,omitempty"`
	Periods       []*PeriodResult   `json:"periods,omitempty"`
	Synthesis     *SynthesisResult  `json:"synthesis,omitempty"`
	Validation    *ValidationReport `json:"validation,omitempty"`
	Corrections   []Correction      `json:"corrections,omitempty"`
	Context       *ContextManifest  `json:"context,omitempty"`
	Cache         CacheStats        `json:"cache"`
	Failure       FailureClass      `json:"failure,omitempty"`
	FailureDetail string            `json:"failure_detail,omitempty"`
}
