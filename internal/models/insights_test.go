package models

import (
	"fmt"
	"testing"
)

func TestParseDecisionClosedEnum(t *testing.T) {
	for _, ok := range []string{"BUY", "watch", " Avoid "} {
		if _, err := ParseDecision(ok); err != nil {
			t.Fatalf("ParseDecision(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"MAYBE", "HOLD", "STRONG BUY", ""} {
		if _, err := ParseDecision(bad); err == nil {
			t.Fatalf("ParseDecision(%q) accepted", bad)
		}
	}
}

func TestParseConvictionClosedEnum(t *testing.T) {
	if c, err := ParseConviction("moderate"); err != nil || c != ConvictionModerate {
		t.Fatalf("ParseConviction(moderate) = %v, %v", c, err)
	}
	if _, err := ParseConviction("VERY HIGH"); err == nil {
		t.Fatal("ParseConviction(VERY HIGH) accepted")
	}
}

func TestMoatStrengthOrdering(t *testing.T) {
	if !MoatWide.AtLeast(MoatModest) {
		t.Fatal("WIDE should meet a MODERATE threshold")
	}
	if MoatNarrow.AtLeast(MoatModest) {
		t.Fatal("NARROW should not meet a MODERATE threshold")
	}
	if MoatStrength("FORTRESS").Rank() != -1 {
		t.Fatal("unknown tier should rank -1")
	}
	if MoatStrength("FORTRESS").AtLeast(MoatNone) {
		t.Fatal("unknown tier should never satisfy a threshold")
	}
}

func TestTruncateKeepsFirstEight(t *testing.T) {
	si := &StructuredInsights{}
	for i := 0; i < 9; i++ {
		si.TopRisks = append(si.TopRisks, fmt.Sprintf("risk-%d", i))
	}
	si.KeyStrengths = []string{"brand"}

	si.Truncate()

	if len(si.TopRisks) != MaxListedRisks {
		t.Fatalf("TopRisks has %d items, want %d", len(si.TopRisks), MaxListedRisks)
	}
	if si.TopRisks[0] != "risk-0" || si.TopRisks[7] != "risk-7" {
		t.Fatalf("truncation did not keep the first items: %v", si.TopRisks)
	}
	if len(si.KeyStrengths) != 1 {
		t.Fatalf("short list was modified: %v", si.KeyStrengths)
	}
}
