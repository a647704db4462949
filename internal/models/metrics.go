package models

import (
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

// Metric field names shared by the extractor, validator and corrector.
const (
	FieldROIC            = "roic"
	FieldRevenue         = "revenue"
	FieldGrossMargin     = "gross_margin"
	FieldOperatingMargin = "operating_margin"
	FieldNetMargin       = "net_margin"
	FieldDebtToEquity    = "debt_to_equity"
	FieldOwnerEarnings   = "owner_earnings"
	FieldOperatingCash   = "operating_cash_flow"
	FieldCapex           = "capital_expenditure"
)

// MarginTolerance is the slack allowed when checking the documented
// gross >= operating >= net margin ordering.
const MarginTolerance = 0.02

// metricRules declares the valid range for every numeric field as a
// go-playground/validator tag. Assignments are checked against these
// rules one field at a time, so a single bad value rejects only that
// field.
var metricRules = map[string]string{
	FieldROIC:            "gte=-1,lte=2",
	FieldRevenue:         "gte=0",
	FieldGrossMargin:     "gte=-1,lte=1",
	FieldOperatingMargin: "gte=-1,lte=1",
	FieldNetMargin:       "gte=-1,lte=1",
	FieldDebtToEquity:    "gte=0,lte=50",
	FieldOwnerEarnings:   "gte=-1e7,lte=1e7",
	FieldOperatingCash:   "gte=-1e7,lte=1e7",
	FieldCapex:           "gte=0,lte=1e7",
}

var metricValidate = validator.New()

// ValidateMetricField checks a single candidate value against the
// field's declared range. Unknown fields are rejected outright.
func ValidateMetricField(field string, value float64) error {
	rule, ok := metricRules[field]
	if !ok {
		return fmt.Errorf("undeclared metric field %q", field)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("field %s: non-finite value", field)
	}
	if err := metricValidate.Var(value, rule); err != nil {
		return fmt.Errorf("field %s: value %v outside declared range (%s)", field, value, rule)
	}
	return nil
}

// MetricFields lists every declared metric field name.
func MetricFields() []string {
	return []string{
		FieldROIC, FieldRevenue,
		FieldGrossMargin, FieldOperatingMargin, FieldNetMargin,
		FieldDebtToEquity, FieldOwnerEarnings,
		FieldOperatingCash, FieldCapex,
	}
}

// RequiredMetricFields are the fields the completeness check expects
// after the merge. Cash-flow components are optional since the owner
// earnings figure can arrive pre-calculated.
func RequiredMetricFields() []string {
	return []string{
		FieldROIC, FieldRevenue,
		FieldGrossMargin, FieldOperatingMargin, FieldNetMargin,
		FieldDebtToEquity,
	}
}

// StructuredMetrics is the typed numeric record for one period.
// Nil pointers mean the field was never extracted or was rejected.
type StructuredMetrics struct {
	ROIC            *float64 `json:"roic,omitempty"`
	Revenue         *float64 `json:"revenue,omitempty"`
	GrossMargin     *float64 `json:"gross_margin,omitempty"`
	OperatingMargin *float64 `json:"operating_margin,omitempty"`
	NetMargin       *float64 `json:"net_margin,omitempty"`
	DebtToEquity    *float64 `json:"debt_to_equity,omitempty"`
	OwnerEarnings   *float64 `json:"owner_earnings,omitempty"`
	OperatingCash   *float64 `json:"operating_cash_flow,omitempty"`
	Capex           *float64 `json:"capital_expenditure,omitempty"`
}

// Get returns the value of a field by name.
func (sm *StructuredMetrics) Get(field string) (float64, bool) {
	p := sm.fieldPtr(field)
	if p == nil || *p == nil {
		return 0, false
	}
	return **p, true
}

// Set assigns a field after range validation. Out-of-range values are
// rejected, never stored.
func (sm *StructuredMetrics) Set(field string, value float64) error {
	if err := ValidateMetricField(field, value); err != nil {
		return err
	}
	p := sm.fieldPtr(field)
	if p == nil {
		return fmt.Errorf("undeclared metric field %q", field)
	}
	v := value
	*p = &v
	return nil
}

func (sm *StructuredMetrics) fieldPtr(field string) **float64 {
	switch field {
	case FieldROIC:
		return &sm.ROIC
	case FieldRevenue:
		return &sm.Revenue
	case FieldGrossMargin:
		return &sm.GrossMargin
	case FieldOperatingMargin:
		return &sm.OperatingMargin
	case FieldNetMargin:
		return &sm.NetMargin
	case FieldDebtToEquity:
		return &sm.DebtToEquity
	case FieldOwnerEarnings:
		return &sm.OwnerEarnings
	case FieldOperatingCash:
		return &sm.OperatingCash
	case FieldCapex:
		return &sm.Capex
	}
	return nil
}

// CheckCrossFields verifies the documented margin ordering
// (net <= operating + tolerance <= gross + tolerance) for every pair
// that is actually present. A violation is returned as an error so the
// caller can reject the offending assignment instead of storing it.
func (sm *StructuredMetrics) CheckCrossFields() error {
	if sm.NetMargin != nil && sm.OperatingMargin != nil {
		if *sm.NetMargin > *sm.OperatingMargin+MarginTolerance {
			return fmt.Errorf("net margin %.4f exceeds operating margin %.4f beyond tolerance",
				*sm.NetMargin, *sm.OperatingMargin)
		}
	}
	if sm.OperatingMargin != nil && sm.GrossMargin != nil {
		if *sm.OperatingMargin > *sm.GrossMargin+MarginTolerance {
			return fmt.Errorf("operating margin %.4f exceeds gross margin %.4f beyond tolerance",
				*sm.OperatingMargin, *sm.GrossMargin)
		}
	}
	return nil
}

// MissingRequired returns the required fields still unset after merge.
func (sm *StructuredMetrics) MissingRequired() []string {
	var missing []string
	for _, f := range RequiredMetricFields() {
		if _, ok := sm.Get(f); !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// Clone returns a deep copy for the auto-corrector.
func (sm *StructuredMetrics) Clone() *StructuredMetrics {
	if sm == nil {
		return nil
	}
	cp := &StructuredMetrics{}
	for _, f := range MetricFields() {
		if v, ok := sm.Get(f); ok {
			val := v
			*cp.fieldPtr(f) = &val
		}
	}
	return cp
}
