// Package correct applies bounded automatic fixes to extracted
// metrics. A correction only ever moves a field to a value backed by a
// trusted-external cache entry; model-derived numbers are never a
// correction source, no matter what the reviewer suggested.
package correct

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/deepvalue-ai/deepvalue/internal/extract"
	"github.com/deepvalue-ai/deepvalue/internal/models"
	"github.com/deepvalue-ai/deepvalue/internal/toolcache"
)

// Corrector resolves correction targets against the trusted slice of
// the tool-result cache.
type Corrector struct {
	index extract.FieldIndex
}

func NewCorrector(index extract.FieldIndex) *Corrector {
	return &Corrector{index: index}
}

// correctable is the category allow-list. Judgment categories
// (decision support, thesis quality) are surfaced, never auto-fixed.
func correctable(cat models.IssueCategory) bool {
	return cat == models.CategoryDataAccuracy || cat == models.CategoryUnitError
}

// Apply walks the report's issues and returns a corrected copy of the
// metrics plus the audit trail. The input metrics are never mutated.
// Issues without a suggested field, outside the allow-list, or without
// a trusted source are left standing for the re-validation to judge.
func (c *Corrector) Apply(period string, metrics *models.StructuredMetrics, report *models.ValidationReport) (*models.StructuredMetrics, []models.Correction) {
	if metrics == nil || report == nil {
		return metrics, nil
	}
	corrected := metrics.Clone()
	var trail []models.Correction

	for _, is := range report.Issues {
		if !correctable(is.Category) || is.SuggestedField == "" {
			continue
		}
		if is.Period != "" && is.Period != period {
			continue
		}

		value, sourceKey, rationale, ok := c.trustedValue(is.SuggestedField, period)
		if !ok {
			log.Printf("⚠️ No trusted source for %s, leaving issue standing: %s", is.SuggestedField, is.Description)
			continue
		}

		old, had := corrected.Get(is.SuggestedField)
		if had && math.Abs(old-value) < 1e-9 {
			continue // already carries the trusted value
		}
		if err := corrected.Set(is.SuggestedField, value); err != nil {
			log.Printf("⚠️ Trusted value for %s rejected by range check: %v", is.SuggestedField, err)
			continue
		}

		var oldPtr *float64
		if had {
			o := old
			oldPtr = &o
		}
		trail = append(trail, models.Correction{
			Field:     is.SuggestedField,
			Period:    period,
			OldValue:  oldPtr,
			NewValue:  value,
			SourceKey: sourceKey,
			Rationale: rationale,
			AppliedAt: time.Now(),
		})
		log.Printf("🔧 Corrected %s: %s -> %.4f (source %s)", is.SuggestedField, fmtOld(oldPtr), value, sourceKey)
	}

	return corrected, trail
}

// trustedValue resolves a field to a trusted-external figure for the
// period under correction. Owner earnings has a secondary path: when
// no provider reports it directly, it is computed from trusted
// cash-flow components of the same period.
func (c *Corrector) trustedValue(field, period string) (value float64, sourceKey, rationale string, ok bool) {
	if fv, found := c.index.BestTrusted(field, period); found {
		return fv.Value, fv.SourceKey, fmt.Sprintf("replaced with trusted source value for %s", field), true
	}
	if field == models.FieldOwnerEarnings {
		return c.derivedOwnerEarnings(period)
	}
	return 0, "", "", false
}

func (c *Corrector) derivedOwnerEarnings(period string) (float64, string, string, bool) {
	ocf, okOCF := c.index.BestTrusted(models.FieldOperatingCash, period)
	capex, okCapex := c.index.BestTrusted(models.FieldCapex, period)
	if !okOCF || !okCapex {
		return 0, "", "", false
	}
	if ocf.Trust != toolcache.TrustedExternal || capex.Trust != toolcache.TrustedExternal {
		return 0, "", "", false
	}
	value := ocf.Value - capex.Value
	key := ocf.SourceKey + "+" + capex.SourceKey
	return value, key, "computed as operating cash flow minus capital expenditure from trusted components", true
}

func fmtOld(old *float64) string {
	if old == nil {
		return "null"
	}
	return fmt.Sprintf("%.4f", *old)
}
