package extract

import (
	"fmt"
	"log"

	"github.com/deepvalue-ai/deepvalue/internal/models"
)

// MergeResult is the typed record built field-by-field from trusted
// cache values and the narrative sidecar. Incomplete marks a period
// whose extraction rejected at least one field; downstream code treats
// such periods as present-but-partial, never as session failures.
type MergeResult struct {
	Metrics    *models.StructuredMetrics
	Insights   *models.StructuredInsights
	Incomplete bool
	Rejections []string
}

// Merge builds the structured record for the named period. Field
// precedence is the index's: provider-precalculated, then
// rebuilt-from-raw, then sidecar values the engine derived itself.
// Only cache values scoped to this period, or to no period at all, are
// eligible; FY2023 figures never leak into the FY2024 record.
func Merge(index FieldIndex, period string, sc *Sidecar) MergeResult {
	res := MergeResult{
		Metrics:  &models.StructuredMetrics{},
		Insights: &models.StructuredInsights{},
	}

	for _, field := range models.MetricFields() {
		if fv, ok := index.Best(field, period); ok {
			if err := res.Metrics.Set(field, fv.Value); err != nil {
				res.reject(err.Error())
			}
			continue
		}
		if sc == nil {
			continue
		}
		raw, ok := sc.Metrics[field]
		if !ok {
			continue
		}
		v, ok := NumberField(raw)
		if !ok {
			res.reject(fmt.Sprintf("field %s: sidecar value is not a number", field))
			continue
		}
		if err := res.Metrics.Set(field, v); err != nil {
			res.reject(err.Error())
		}
	}

	// Cross-field constraint: a violation rejects the engine-derived
	// side of the disagreement first, since trusted values never lose
	// to sidecar arithmetic.
	if err := res.Metrics.CheckCrossFields(); err != nil {
		res.reject(err.Error())
		dropSidecarMargins(res.Metrics, index, period)
		if err := res.Metrics.CheckCrossFields(); err != nil {
			// Trusted values disagree among themselves; drop the
			// dependent margin and leave the dispute to the validator.
			res.Metrics.NetMargin = nil
		}
	}

	mergeInsights(&res, sc)
	return res
}

func mergeInsights(res *MergeResult, sc *Sidecar) {
	if sc == nil {
		return
	}
	in := sc.Insights

	if in.Decision != "" {
		if d, err := models.ParseDecision(in.Decision); err == nil {
			res.Insights.Decision = d
		} else {
			res.reject(err.Error())
		}
	}
	if in.Conviction != "" {
		if c, err := models.ParseConviction(in.Conviction); err == nil {
			res.Insights.Conviction = c
		} else {
			res.reject(err.Error())
		}
	}
	if in.MoatStrength != "" {
		if m, err := models.ParseMoatStrength(in.MoatStrength); err == nil {
			res.Insights.MoatStrength = m
		} else {
			res.reject(err.Error())
		}
	}

	if risks, ok := StringList(in.TopRisks); ok {
		res.Insights.TopRisks = risks
	} else {
		res.reject("field top_risks: not a string list")
	}
	if strengths, ok := StringList(in.KeyStrengths); ok {
		res.Insights.KeyStrengths = strengths
	} else {
		res.reject("field key_strengths: not a string list")
	}

	// Over-long lists truncate deterministically instead of rejecting.
	res.Insights.Truncate()
}

func (res *MergeResult) reject(reason string) {
	res.Incomplete = true
	res.Rejections = append(res.Rejections, reason)
	log.Printf("extraction rejected: %s", reason)
}

// dropSidecarMargins clears margin fields that came from the sidecar
// rather than a trusted cache entry.
func dropSidecarMargins(m *models.StructuredMetrics, index FieldIndex, period string) {
	for _, field := range []string{models.FieldGrossMargin, models.FieldOperatingMargin, models.FieldNetMargin} {
		if _, ok := index.Best(field, period); ok {
			continue // field is backed by the cache, keep it
		}
		switch field {
		case models.FieldGrossMargin:
			m.GrossMargin = nil
		case models.FieldOperatingMargin:
			m.OperatingMargin = nil
		case models.FieldNetMargin:
			m.NetMargin = nil
		}
	}
}
