package extract

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/deepvalue-ai/deepvalue/internal/dataflows"
	"github.com/deepvalue-ai/deepvalue/internal/models"
	"github.com/deepvalue-ai/deepvalue/internal/toolcache"
	"github.com/deepvalue-ai/deepvalue/internal/tools"
)

// SourceTier ranks where a figure came from. Provider-precalculated
// figures beat figures rebuilt from provider raw components, which
// beat anything the reasoning engine derived itself.
type SourceTier int

const (
	TierLLMDerived SourceTier = iota
	TierFromRawComponents
	TierProviderCalculated
)

// FieldValue is one candidate value for a logical metric field,
// attributed to the cache entry it came from. Period is the record
// label the value belongs to; empty means the value is not scoped to a
// single period, such as a current ratios snapshot.
type FieldValue struct {
	Field     string
	Value     float64
	Period    string
	SourceKey string
	Trust     toolcache.TrustClass
	Tier      SourceTier
	Seq       int
}

// FieldIndex maps logical fields to candidate values, best first.
type FieldIndex map[string][]FieldValue

// Best returns the highest-precedence candidate for a field in the
// given period. Candidates scoped to the exact period win; period-less
// candidates are the fallback. A value scoped to a different period
// never serves, no matter its tier.
func (fi FieldIndex) Best(field, period string) (FieldValue, bool) {
	for _, v := range fi[field] {
		if v.Period == period {
			return v, true
		}
	}
	for _, v := range fi[field] {
		if v.Period == "" {
			return v, true
		}
	}
	return FieldValue{}, false
}

// BestTrusted returns the highest-precedence candidate for the period
// whose cache entry is classified trusted-external. The auto-corrector
// only ever consumes these. Period scoping follows Best.
func (fi FieldIndex) BestTrusted(field, period string) (FieldValue, bool) {
	for _, v := range fi[field] {
		if v.Period == period && v.Trust == toolcache.TrustedExternal {
			return v, true
		}
	}
	for _, v := range fi[field] {
		if v.Period == "" && v.Trust == toolcache.TrustedExternal {
			return v, true
		}
	}
	return FieldValue{}, false
}

// IndexCache runs every per-tool adapter over the cache snapshot and
// builds the field index. One explicit adapter per (tool, field set)
// keeps heterogeneous provider shapes out of the merge itself.
func IndexCache(entries []toolcache.Entry) FieldIndex {
	idx := make(FieldIndex)
	for _, e := range entries {
		for _, fv := range adaptEntry(e) {
			idx[fv.Field] = append(idx[fv.Field], fv)
		}
	}
	for field := range idx {
		vals := idx[field]
		// Higher tier wins; within a tier the freshest write wins.
		sort.SliceStable(vals, func(i, j int) bool {
			if vals[i].Tier != vals[j].Tier {
				return vals[i].Tier > vals[j].Tier
			}
			return vals[i].Seq > vals[j].Seq
		})
		idx[field] = vals
	}
	return idx
}

// entryPeriod derives the period label a cache entry is scoped to.
// Derived-metrics entries carry the label directly; fundamentals carry
// the fiscal year. Everything else is period-less.
func entryPeriod(e toolcache.Entry) string {
	if p := e.Params["period"]; p != "" {
		return p
	}
	if y := e.Params["year"]; y != "" {
		return "FY" + y
	}
	return ""
}

func adaptEntry(e toolcache.Entry) []FieldValue {
	switch e.ToolName {
	case tools.ToolKeyRatios:
		return adaptKeyRatios(e)
	case tools.ToolFundamentals:
		return adaptFundamentals(e)
	case DerivedMetricsTool:
		return adaptDerivedMetrics(e)
	}
	return nil
}

// adaptKeyRatios maps the ratios endpoint onto metric fields. These
// are provider-precalculated figures, the top precedence tier.
func adaptKeyRatios(e toolcache.Entry) []FieldValue {
	var kr dataflows.KeyRatios
	if err := json.Unmarshal([]byte(e.Data), &kr); err != nil {
		return nil
	}
	var out []FieldValue
	add := func(field string, v *float64) {
		if v == nil {
			return
		}
		out = append(out, FieldValue{
			Field: field, Value: *v, Period: entryPeriod(e),
			SourceKey: e.Key, Trust: e.Trust,
			Tier: TierProviderCalculated, Seq: e.Seq,
		})
	}
	add(models.FieldROIC, kr.ROIC)
	add(models.FieldGrossMargin, kr.GrossMargin)
	add(models.FieldOperatingMargin, kr.OperatingMargin)
	add(models.FieldNetMargin, kr.NetMargin)
	add(models.FieldDebtToEquity, kr.DebtToEquity)
	return out
}

// adaptFundamentals maps one fiscal year's reported figures. Raw
// reported values rank as provider-calculated; anything rebuilt here
// from components ranks one tier lower.
func adaptFundamentals(e toolcache.Entry) []FieldValue {
	var f dataflows.Fundamentals
	if err := json.Unmarshal([]byte(e.Data), &f); err != nil {
		return nil
	}
	var out []FieldValue
	period := entryPeriod(e)
	add := func(field string, v *float64, tier SourceTier) {
		if v == nil {
			return
		}
		out = append(out, FieldValue{
			Field: field, Value: *v, Period: period,
			SourceKey: e.Key, Trust: e.Trust,
			Tier: tier, Seq: e.Seq,
		})
	}
	add(models.FieldRevenue, f.Revenue, TierProviderCalculated)
	add(models.FieldOperatingCash, f.OperatingCash, TierProviderCalculated)
	add(models.FieldCapex, f.Capex, TierProviderCalculated)
	add(models.FieldOwnerEarnings, f.OwnerEarnings, TierProviderCalculated)

	if f.OwnerEarnings == nil && f.OperatingCash != nil && f.Capex != nil {
		oe := *f.OperatingCash - *f.Capex
		add(models.FieldOwnerEarnings, &oe, TierFromRawComponents)
	}
	if f.GrossProfit != nil && f.Revenue != nil && *f.Revenue > 0 {
		gm := *f.GrossProfit / *f.Revenue
		add(models.FieldGrossMargin, &gm, TierFromRawComponents)
	}
	if f.NetIncome != nil && f.Revenue != nil && *f.Revenue > 0 {
		nm := *f.NetIncome / *f.Revenue
		add(models.FieldNetMargin, &nm, TierFromRawComponents)
	}
	return out
}

// DerivedMetricsTool is the pseudo-tool name under which figures taken
// from the reasoning engine's own sidecar are recorded in the cache.
// Entries under this name are classified derived/LLM-generated and sit
// at the bottom of the precedence order.
const DerivedMetricsTool = "llm_derived_metrics"

func adaptDerivedMetrics(e toolcache.Entry) []FieldValue {
	var vals map[string]float64
	if err := json.Unmarshal([]byte(e.Data), &vals); err != nil {
		return nil
	}
	var out []FieldValue
	period := entryPeriod(e)
	for field, v := range vals {
		out = append(out, FieldValue{
			Field: strings.ToLower(field), Value: v, Period: period,
			SourceKey: e.Key, Trust: e.Trust,
			Tier: TierLLMDerived, Seq: e.Seq,
		})
	}
	return out
}
