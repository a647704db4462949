package extract

import (
	"encoding/json"
	"testing"

	"github.com/deepvalue-ai/deepvalue/internal/models"
	"github.com/deepvalue-ai/deepvalue/internal/toolcache"
)

func ratiosEntry(t *testing.T, seq int, roic float64) toolcache.Entry {
	t.Helper()
	data, err := json.Marshal(map[string]*float64{"roic": &roic})
	if err != nil {
		t.Fatal(err)
	}
	return toolcache.Entry{
		Key:      "get_key_ratios|symbol=AAPL",
		ToolName: "get_key_ratios",
		Data:     string(data),
		Trust:    toolcache.TrustedExternal,
		Seq:      seq,
	}
}

func sidecarFrom(t *testing.T, metrics map[string]any, insights map[string]any) *Sidecar {
	t.Helper()
	payload := map[string]any{"metrics": metrics, "insights": insights}
	blob, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	var sc Sidecar
	if err := json.Unmarshal(blob, &sc); err != nil {
		t.Fatal(err)
	}
	return &sc
}

func TestMergeTrustedValueBeatsSidecar(t *testing.T) {
	index := IndexCache([]toolcache.Entry{ratiosEntry(t, 1, 0.224)})
	sc := sidecarFrom(t, map[string]any{"roic": 0.256}, nil)

	res := Merge(index, "current", sc)

	if v, ok := res.Metrics.Get(models.FieldROIC); !ok || v != 0.224 {
		t.Fatalf("roic = %v, %t; want the trusted 0.224", v, ok)
	}
	if res.Incomplete {
		t.Fatalf("merge marked incomplete: %v", res.Rejections)
	}
}

func TestMergeSidecarFillsGaps(t *testing.T) {
	index := IndexCache(nil)
	sc := sidecarFrom(t,
		map[string]any{"roic": 0.18, "debt_to_equity": 0.5},
		map[string]any{"decision": "WATCH", "conviction": "LOW", "moat_strength": "NARROW"})

	res := Merge(index, "current", sc)

	if v, _ := res.Metrics.Get(models.FieldROIC); v != 0.18 {
		t.Fatalf("roic = %v", v)
	}
	if res.Insights.Decision != models.DecisionWatch {
		t.Fatalf("decision = %q", res.Insights.Decision)
	}
}

func TestMergeRejectsOutOfRangeFieldOnly(t *testing.T) {
	index := IndexCache(nil)
	sc := sidecarFrom(t, map[string]any{"roic": 5.476, "debt_to_equity": 0.8}, nil)

	res := Merge(index, "current", sc)

	if _, ok := res.Metrics.Get(models.FieldROIC); ok {
		t.Fatal("out-of-range roic stored")
	}
	if v, ok := res.Metrics.Get(models.FieldDebtToEquity); !ok || v != 0.8 {
		t.Fatalf("valid sibling field lost: %v, %t", v, ok)
	}
	if !res.Incomplete {
		t.Fatal("rejection did not mark the period incomplete")
	}
	if len(res.Rejections) == 0 {
		t.Fatal("no rejection recorded")
	}
}

func TestMergeRejectsInvalidEnum(t *testing.T) {
	res := Merge(IndexCache(nil), "current", sidecarFrom(t, nil, map[string]any{"decision": "MAYBE"}))

	if res.Insights.Decision != "" {
		t.Fatalf("invalid enum stored: %q", res.Insights.Decision)
	}
	if !res.Incomplete {
		t.Fatal("invalid enum did not mark the period incomplete")
	}
}

func TestMergeCoercesBareStringRisk(t *testing.T) {
	res := Merge(IndexCache(nil), "current", sidecarFrom(t, nil, map[string]any{"top_risks": "regulation"}))

	if len(res.Insights.TopRisks) != 1 || res.Insights.TopRisks[0] != "regulation" {
		t.Fatalf("TopRisks = %v", res.Insights.TopRisks)
	}
	if res.Incomplete {
		t.Fatal("coercion should not mark incomplete")
	}
}

func TestMergeTruncatesLongLists(t *testing.T) {
	risks := make([]any, 9)
	for i := range risks {
		risks[i] = "r"
	}
	res := Merge(IndexCache(nil), "current", sidecarFrom(t, nil, map[string]any{"top_risks": risks}))

	if len(res.Insights.TopRisks) != models.MaxListedRisks {
		t.Fatalf("TopRisks has %d items, want %d", len(res.Insights.TopRisks), models.MaxListedRisks)
	}
}

func TestMergeMarginViolationDropsSidecarMargins(t *testing.T) {
	// Net margin above operating margin beyond tolerance, both sidecar.
	sc := sidecarFrom(t, map[string]any{
		"gross_margin":     0.40,
		"operating_margin": 0.20,
		"net_margin":       0.35,
	}, nil)

	res := Merge(IndexCache(nil), "current", sc)

	if !res.Incomplete {
		t.Fatal("margin violation not flagged")
	}
	if err := res.Metrics.CheckCrossFields(); err != nil {
		t.Fatalf("merge left an inconsistent record: %v", err)
	}
}

func TestIndexCachePrecedence(t *testing.T) {
	operatingCash := 110_000.0
	capex := 11_000.0
	fundamentals, _ := json.Marshal(map[string]*float64{
		"operating_cash_flow": &operatingCash,
		"capital_expenditure": &capex,
	})
	derived, _ := json.Marshal(map[string]float64{"owner_earnings": 90_000})

	index := IndexCache([]toolcache.Entry{
		{Key: "a", ToolName: "get_fundamentals", Data: string(fundamentals), Trust: toolcache.TrustedExternal, Seq: 1},
		{Key: "b", ToolName: DerivedMetricsTool, Data: string(derived), Trust: toolcache.DerivedLLM, Seq: 2},
	})

	// Rebuilt-from-components beats LLM-derived.
	fv, ok := index.Best(models.FieldOwnerEarnings, "")
	if !ok {
		t.Fatal("owner_earnings missing from index")
	}
	if fv.Value != operatingCash-capex {
		t.Fatalf("Best(owner_earnings) = %v, want %v", fv.Value, operatingCash-capex)
	}

	// BestTrusted never returns LLM-derived values.
	tv, ok := index.BestTrusted(models.FieldOwnerEarnings, "")
	if !ok || tv.Trust != toolcache.TrustedExternal {
		t.Fatalf("BestTrusted = %+v, %t", tv, ok)
	}
}

func fundamentalsEntry(t *testing.T, seq int, year string, revenue float64) toolcache.Entry {
	t.Helper()
	data, err := json.Marshal(map[string]*float64{"revenue": &revenue})
	if err != nil {
		t.Fatal(err)
	}
	return toolcache.Entry{
		Key:      "get_fundamentals|symbol=AAPL|year=" + year,
		ToolName: "get_fundamentals",
		Params:   map[string]string{"symbol": "AAPL", "year": year},
		Data:     string(data),
		Trust:    toolcache.TrustedExternal,
		Seq:      seq,
	}
}

func TestMergeScopesFundamentalsToPeriod(t *testing.T) {
	// Two fiscal years in the cache; each period's record must carry its
	// own year's figure, not whichever entry was written last.
	index := IndexCache([]toolcache.Entry{
		fundamentalsEntry(t, 1, "2024", 1200),
		fundamentalsEntry(t, 2, "2023", 1000),
	})

	for period, want := range map[string]float64{"FY2024": 1200, "FY2023": 1000} {
		res := Merge(index, period, nil)
		if v, ok := res.Metrics.Get(models.FieldRevenue); !ok || v != want {
			t.Fatalf("%s revenue = %v, %t; want %v", period, v, ok, want)
		}
	}

	// A record with no matching year gets no fundamentals at all.
	res := Merge(index, "current", nil)
	if v, ok := res.Metrics.Get(models.FieldRevenue); ok {
		t.Fatalf("current revenue = %v from a year-scoped entry", v)
	}
}

func TestBestFallsBackToPeriodlessOnly(t *testing.T) {
	index := IndexCache([]toolcache.Entry{
		ratiosEntry(t, 1, 0.224),
		fundamentalsEntry(t, 2, "2023", 1000),
	})

	// Ratios carry no period and serve any record.
	if fv, ok := index.Best(models.FieldROIC, "FY2024"); !ok || fv.Value != 0.224 {
		t.Fatalf("periodless roic = %+v, %t", fv, ok)
	}
	// Year-scoped revenue never serves another period.
	if fv, ok := index.Best(models.FieldRevenue, "FY2024"); ok {
		t.Fatalf("FY2023 revenue served FY2024: %+v", fv)
	}
	if _, ok := index.BestTrusted(models.FieldRevenue, "FY2024"); ok {
		t.Fatal("BestTrusted leaked a foreign period")
	}
}
