// Package budget implements the context budget manager: the component
// that decides, per candidate source document, whether the reasoning
// engine receives it verbatim, as a bounded summary, or not at all.
package budget

import (
	"fmt"
	"log"

	"github.com/deepvalue-ai/deepvalue/internal/models"
)

// Decision is the three-way inclusion choice for one document.
type Decision int

const (
	IncludeFull Decision = iota
	IncludeCompressed
	SkipSource
)

// Artifact is one committed piece of carried-forward context.
type Artifact struct {
	Period  string
	Text    string
	Tokens  int
	Primary bool
	evicted bool
}

// Manager tracks a rolling token estimate against a hard ceiling.
// Character counts are a cheap proxy for tokens at a documented
// chars-per-token ratio; the estimate is deliberately conservative,
// not exact.
type Manager struct {
	ceiling       int
	normalChars   int
	charsPerToken int

	used      int
	artifacts []*Artifact
	rows      []models.PeriodContext
	skipped   []string
	warnings  []string
}

// NewManager builds a manager for one stage's worth of sources.
func NewManager(tokenCeiling, normalDocChars, charsPerToken int) *Manager {
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	return &Manager{
		ceiling:       tokenCeiling,
		normalChars:   normalDocChars,
		charsPerToken: charsPerToken,
	}
}

// EstimateTokens converts a character count into the token estimate.
func (m *Manager) EstimateTokens(chars int) int {
	return (chars + m.charsPerToken - 1) / m.charsPerToken
}

// Decide picks the inclusion mode for a document of the given size.
// Documents under the normal threshold ride along verbatim; larger
// ones are summarized (the engine still reads the full text during
// summarization, only the carried artifact shrinks).
func (m *Manager) Decide(docChars int) Decision {
	if docChars <= 0 {
		return SkipSource
	}
	if docChars <= m.normalChars {
		return IncludeFull
	}
	return IncludeCompressed
}

// CommitFull records a verbatim inclusion for a period.
func (m *Manager) CommitFull(period, text string, primary bool) {
	m.commit(period, text, len(text), models.IncludedFull, primary)
}

// CommitSummary records a compressed inclusion: the token cost charged
// is the summary's, not the original document's.
func (m *Manager) CommitSummary(period string, originalChars int, summary string, primary bool) {
	m.commit(period, summary, originalChars, models.IncludedSummary, primary)
}

func (m *Manager) commit(period, text string, sourceChars int, outcome models.InclusionOutcome, primary bool) {
	tokens := m.EstimateTokens(len(text))

	// Evict the least-recent optional artifact first when the ceiling
	// would be breached. The current stage's primary source is never
	// the eviction victim.
	for m.used+tokens > m.ceiling {
		if !m.evictOldestOptional() {
			break
		}
	}

	row := models.PeriodContext{
		Period:      period,
		Outcome:     outcome,
		SourceChars: sourceChars,
		TokenCost:   tokens,
	}
	if m.used+tokens > m.ceiling {
		w := fmt.Sprintf("period %s: committed %d tokens past the %d-token ceiling with nothing left to evict", period, tokens, m.ceiling)
		m.warnings = append(m.warnings, w)
		row.Warning = "over budget"
		log.Printf("context budget: %s", w)
	}

	m.used += tokens
	m.artifacts = append(m.artifacts, &Artifact{
		Period:  period,
		Text:    text,
		Tokens:  tokens,
		Primary: primary,
	})
	m.rows = append(m.rows, row)
}

// RecordSkip marks a period's source as unavailable. Skipped periods
// land in years_skipped and the session continues without them.
func (m *Manager) RecordSkip(period, reason string) {
	m.skipped = append(m.skipped, period)
	m.rows = append(m.rows, models.PeriodContext{
		Period:  period,
		Outcome: models.Skipped,
		Warning: reason,
	})
	log.Printf("context budget: skipping %s: %s", period, reason)
}

func (m *Manager) evictOldestOptional() bool {
	for _, a := range m.artifacts {
		if a.Primary || a.evicted {
			continue
		}
		a.evicted = true
		m.used -= a.Tokens
		m.warnings = append(m.warnings,
			fmt.Sprintf("evicted optional context for period %s (%d tokens) to stay under the ceiling", a.Period, a.Tokens))
		return true
	}
	return false
}

// Artifacts returns the still-included context pieces in commit order.
func (m *Manager) Artifacts() []Artifact {
	out := make([]Artifact, 0, len(m.artifacts))
	for _, a := range m.artifacts {
		if a.evicted {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// Used reports the running token estimate.
func (m *Manager) Used() int { return m.used }

// Manifest builds the stage manifest surfaced verbatim to the caller.
func (m *Manager) Manifest() *models.ContextManifest {
	rows := make([]models.PeriodContext, len(m.rows))
	copy(rows, m.rows)
	return &models.ContextManifest{
		Periods:      rows,
		YearsSkipped: append([]string(nil), m.skipped...),
		TokensUsed:   m.used,
		TokenCeiling: m.ceiling,
		Warnings:     append([]string(nil), m.warnings...),
	}
}
