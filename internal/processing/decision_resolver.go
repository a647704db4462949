// Package processing turns free-form analysis text into a final,
// auditable decision. The narrative is the authoritative channel: when
// the structured block disagrees with what the text says, the text
// wins and the conflict is recorded.
package processing

import (
	"log"
	"regexp"

	"github.com/deepvalue-ai/deepvalue/internal/models"
)

// DecisionResolver extracts the investment decision from narrative
// text using ordered pattern tiers, strongest first.
type DecisionResolver struct {
	explicitPatterns []*regexp.Regexp
	labeledPatterns  []*regexp.Regexp
	mentionPattern   *regexp.Regexp
}

// NewDecisionResolver compiles the pattern tiers.
func NewDecisionResolver() *DecisionResolver {
	return &DecisionResolver{
		explicitPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)FINAL\s+DECISION\s*:?\s*\*{0,2}(BUY|WATCH|AVOID)\*{0,2}`),
			regexp.MustCompile(`(?i)FINAL\s+(?:CALL|VERDICT|RECOMMENDATION)\s*:?\s*\*{0,2}(BUY|WATCH|AVOID)\*{0,2}`),
		},
		labeledPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?im)^\s*\*{0,2}(?:DECISION|RECOMMENDATION|VERDICT|CALL)\*{0,2}\s*:\s*\*{0,2}(BUY|WATCH|AVOID)\*{0,2}`),
		},
		mentionPattern: regexp.MustCompile(`(?i)\*\*(BUY|WATCH|AVOID)\*\*|\b(BUY|WATCH|AVOID)\b`),
	}
}

// Resolve extracts the decision from the narrative. Later matches
// within a tier beat earlier ones: an analyst who restates the call at
// the end means the last statement. structured may be nil.
func (dr *DecisionResolver) Resolve(narrative string, structured *models.StructuredInsights) *models.ResolvedDecision {
	decision, tier := dr.fromText(narrative)

	resolved := &models.ResolvedDecision{
		Decision:     decision,
		Tier:         tier,
		TextDecision: decision,
	}

	if structured != nil && structured.Decision != "" {
		resolved.StructuredDecision = structured.Decision
		if structured.Decision != decision {
			resolved.Conflict = true
			log.Printf("⚠️ Decision conflict: narrative says %s (%s tier), structured block says %s; narrative wins",
				decision, tier, structured.Decision)
		}
	}
	return resolved
}

func (dr *DecisionResolver) fromText(narrative string) (models.Decision, models.DecisionTier) {
	for _, p := range dr.explicitPatterns {
		if d, ok := lastMatch(p, narrative); ok {
			return d, models.TierExplicit
		}
	}
	for _, p := range dr.labeledPatterns {
		if d, ok := lastMatch(p, narrative); ok {
			return d, models.TierLabeled
		}
	}
	if d, ok := dominantMention(dr.mentionPattern, narrative); ok {
		return d, models.TierMention
	}
	log.Printf("⚠️ No decision statement found in narrative, defaulting to WATCH")
	return models.DecisionWatch, models.TierDefault
}

func lastMatch(p *regexp.Regexp, text string) (models.Decision, bool) {
	matches := p.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "", false
	}
	last := matches[len(matches)-1]
	for _, group := range last[1:] {
		if group != "" {
			d, err := models.ParseDecision(group)
			if err == nil {
				return d, true
			}
		}
	}
	return "", false
}

// dominantMention counts bare keyword occurrences and takes the most
// frequent. Ties are ambiguous and fall through to the default tier;
// "buy" appearing as often as "avoid" is no signal at all.
func dominantMention(p *regexp.Regexp, text string) (models.Decision, bool) {
	counts := map[models.Decision]int{}
	for _, m := range p.FindAllStringSubmatch(text, -1) {
		for _, group := range m[1:] {
			if group == "" {
				continue
			}
			if d, err := models.ParseDecision(group); err == nil {
				counts[d]++
			}
		}
	}
	var best models.Decision
	bestCount, tied := 0, false
	for d, n := range counts {
		switch {
		case n > bestCount:
			best, bestCount, tied = d, n, false
		case n == bestCount && d != best:
			tied = true
		}
	}
	if bestCount == 0 || tied {
		return "", false
	}
	return best, true
}
