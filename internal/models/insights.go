package models

import (
	"fmt"
	"strings"
)

// Decision is the final categorical call for a subject.
type Decision string

const (
	DecisionBuy   Decision = "BUY"
	DecisionWatch Decision = "WATCH"
	DecisionAvoid Decision = "AVOID"
)

// Conviction expresses how strongly the analysis backs its decision.
type Conviction string

const (
	ConvictionHigh     Conviction = "HIGH"
	ConvictionModerate Conviction = "MODERATE"
	ConvictionLow      Conviction = "LOW"
)

// MoatStrength is an ordered scale of competitive-advantage durability.
type MoatStrength string

const (
	MoatNone   MoatStrength = "NONE"
	MoatNarrow MoatStrength = "NARROW"
	MoatModest MoatStrength = "MODERATE"
	MoatWide   MoatStrength = "WIDE"
)

// moatRank orders moat tiers for threshold comparisons.
var moatRank = map[MoatStrength]int{
	MoatNone:   0,
	MoatNarrow: 1,
	MoatModest: 2,
	MoatWide:   3,
}

// Rank returns the ordinal position of the moat tier, -1 if unknown.
func (m MoatStrength) Rank() int {
	if r, ok := moatRank[m]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether the tier meets or exceeds the given tier.
func (m MoatStrength) AtLeast(other MoatStrength) bool {
	return m.Rank() >= 0 && m.Rank() >= other.Rank()
}

// MaxListedRisks caps the bounded list fields on StructuredInsights.
// Longer inputs are truncated to the first MaxListedRisks items.
const MaxListedRisks = 8

// ParseDecision validates a decision value against the closed enum.
func ParseDecision(s string) (Decision, error) {
	switch Decision(strings.ToUpper(strings.TrimSpace(s))) {
	case DecisionBuy:
		return DecisionBuy, nil
	case DecisionWatch:
		return DecisionWatch, nil
	case DecisionAvoid:
		return DecisionAvoid, nil
	}
	return "", fmt.Errorf("unknown decision %q", s)
}

// ParseConviction validates a conviction value against the closed enum.
func ParseConviction(s string) (Conviction, error) {
	switch Conviction(strings.ToUpper(strings.TrimSpace(s))) {
	case ConvictionHigh:
		return ConvictionHigh, nil
	case ConvictionModerate:
		return ConvictionModerate, nil
	case ConvictionLow:
		return ConvictionLow, nil
	}
	return "", fmt.Errorf("unknown conviction %q", s)
}

// ParseMoatStrength validates a moat tier against the closed enum.
func ParseMoatStrength(s string) (MoatStrength, error) {
	switch MoatStrength(strings.ToUpper(strings.TrimSpace(s))) {
	case MoatNone:
		return MoatNone, nil
	case MoatNarrow:
		return MoatNarrow, nil
	case MoatModest:
		return MoatModest, nil
	case MoatWide:
		return MoatWide, nil
	}
	return "", fmt.Errorf("unknown moat strength %q", s)
}

// StructuredInsights holds the categorical judgments extracted from a
// single reasoning pass. Enum fields are empty until extracted.
type StructuredInsights struct {
	Decision     Decision     `json:"decision,omitempty" validate:"omitempty,oneof=BUY WATCH AVOID"`
	Conviction   Conviction   `json:"conviction,omitempty" validate:"omitempty,oneof=HIGH MODERATE LOW"`
	MoatStrength MoatStrength `json:"moat_strength,omitempty" validate:"omitempty,oneof=NONE NARROW MODERATE WIDE"`
	TopRisks     []string     `json:"top_risks,omitempty"`
	KeyStrengths []string     `json:"key_strengths,omitempty"`
}

// Truncate enforces the bounded-list caps in place, keeping the first
// MaxListedRisks items of each list.
func (si *StructuredInsights) Truncate() {
	if len(si.TopRisks) > MaxListedRisks {
		si.TopRisks = si.TopRisks[:MaxListedRisks]
	}
	if len(si.KeyStrengths) > MaxListedRisks {
		si.KeyStrengths = si.KeyStrengths[:MaxListedRisks]
	}
}

// Clone returns a deep copy, used by the auto-corrector to produce
// corrected copies instead of in-place edits.
func (si *StructuredInsights) Clone() *StructuredInsights {
	if si == nil {
		return nil
	}
	cp := *si
	cp.TopRisks = append([]string(nil), si.TopRisks...)
	cp.KeyStrengths = append([]string(nil), si.KeyStrengths...)
	return &cp
}
