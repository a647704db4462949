package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/deepvalue-ai/deepvalue/internal/config"
	"github.com/deepvalue-ai/deepvalue/internal/dataflows"
	"github.com/deepvalue-ai/deepvalue/internal/engine"
	"github.com/deepvalue-ai/deepvalue/internal/models"
	"github.com/deepvalue-ai/deepvalue/internal/toolcache"
	"github.com/deepvalue-ai/deepvalue/internal/tools"
)

// stubModel plays back one assistant message per Generate call. calls
// counts every attempt, including ones past the scripted responses.
type stubModel struct {
	responses []string
	calls     int
}

func (m *stubModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.calls++
	if m.calls > len(m.responses) {
		return nil, fmt.Errorf("stub model exhausted after %d calls", m.calls)
	}
	return schema.AssistantMessage(m.responses[m.calls-1], nil), nil
}

func (m *stubModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not stubbed")
}

func (m *stubModel) WithTools(_ []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

// stubTool serves a fixed payload for one provider tool.
type stubTool struct {
	name    string
	payload string
	err     error
}

func (s *stubTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: s.name, Desc: "test stand-in"}, nil
}

func (s *stubTool) InvokableRun(_ context.Context, _ string, _ ...tool.Option) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.payload, nil
}

// stubFilings serves one canned filing outcome for every year and
// records the CIK each fetch was handed.
type stubFilings struct {
	cik        string
	resolveErr error
	text       string
	skip       string
	err        error

	gotCIKs []string
}

func (s *stubFilings) ResolveCIK(string) (string, error) {
	if s.resolveErr != nil {
		return "", s.resolveErr
	}
	return s.cik, nil
}

func (s *stubFilings) GetAnnualFiling(symbol, cik string, year int) (dataflows.FilingOutcome, error) {
	s.gotCIKs = append(s.gotCIKs, cik)
	if s.err != nil {
		return dataflows.FilingOutcome{}, s.err
	}
	if s.skip != "" {
		return dataflows.FilingOutcome{SkipReason: s.skip}, nil
	}
	return dataflows.FilingOutcome{Filing: &dataflows.FilingDocument{
		Symbol: symbol,
		Period: fmt.Sprintf("%d", year),
		Title:  fmt.Sprintf("%s annual report FY%d", symbol, year),
		Text:   s.text,
	}}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataCacheDir = t.TempDir()
	cfg.CacheEnabled = false
	cfg.DefaultDepth = 1
	cfg.MaxDepth = 3
	cfg.StageRetries = 1
	cfg.MaxToolIterations = 4
	return cfg
}

func testRegistry(profileErr error) *tools.Registry {
	reg := tools.NewEmptyRegistry()
	reg.Register(tools.ToolCompanyProfile, &stubTool{
		name:    tools.ToolCompanyProfile,
		payload: `{"symbol":"AAPL","name":"Apple Inc.","exchange":"NASDAQ"}`,
		err:     profileErr,
	}, toolcache.TrustedExternal)
	reg.Register(tools.ToolKeyRatios, &stubTool{
		name:    tools.ToolKeyRatios,
		payload: `{"symbol":"AAPL","roic":0.224,"gross_margin":0.45,"operating_margin":0.30,"net_margin":0.25,"debt_to_equity":0.6}`,
	}, toolcache.TrustedExternal)
	reg.Register(tools.ToolFundamentals, &stubTool{
		name:    tools.ToolFundamentals,
		payload: `{"symbol":"AAPL","period":"2025","revenue":100000,"operating_cash_flow":110000,"capital_expenditure":11000}`,
	}, toolcache.TrustedExternal)
	reg.Register(tools.ToolMarketData, &stubTool{
		name:    tools.ToolMarketData,
		payload: `[]`,
	}, toolcache.TrustedExternal)
	return reg
}

func testOrchestrator(t *testing.T, cfg *config.Config, sm *stubModel, profileErr error) *Orchestrator {
	t.Helper()
	o := New(cfg, engine.NewFromModel(sm), testRegistry(profileErr))
	o.filings = &stubFilings{cik: "320193", text: "Fiscal 2025 was steady with stable margins and cash generation."}
	o.now = func() time.Time { return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC) }
	return o
}

const (
	currentNarrative = "Apple trades at a reasonable multiple.\nFINAL DECISION: WATCH\n" +
		`<INSIGHTS>{"metrics": {"roic": 0.224}, "insights": {"decision": "WATCH", "conviction": "MODERATE"}}</INSIGHTS>`

	historicalNarrative = "Fiscal 2025 showed stable operations.\n" +
		`<INSIGHTS>{"metrics": {}, "insights": {}}</INSIGHTS>`

	synthesisNarrative = "Across the window the economics held up and the moat is intact.\n" +
		"FINAL DECISION: **BUY**\n" +
		`<INSIGHTS>{"metrics": {"revenue": 100000}, "insights": {"decision": "BUY", "conviction": "HIGH", "moat_strength": "WIDE"}}</INSIGHTS>`

	cleanVerdict = `<CRITIQUE>{"score": 9, "approved": true, "assessment": "Thesis holds.", "issues": []}</CRITIQUE>`
)

func TestQuickModeStopsAfterCurrentPeriod(t *testing.T) {
	sm := &stubModel{responses: []string{currentNarrative}}
	o := testOrchestrator(t, testConfig(t), sm, nil)

	m, err := o.Run(context.Background(), Request{Ticker: "aapl", Mode: models.ModeQuick})
	if err != nil {
		t.Fatal(err)
	}
	if m.State != models.StateDone {
		t.Fatalf("state = %s", m.State)
	}
	if sm.calls != 1 {
		t.Fatalf("model called %d times, want 1", sm.calls)
	}
	if m.Ticker != "AAPL" {
		t.Fatalf("ticker = %q, want normalized AAPL", m.Ticker)
	}
	if m.CurrentPeriod == nil || m.Synthesis != nil || m.Validation != nil {
		t.Fatalf("quick mode ran past the current period: %+v", m)
	}
	if m.Decision == nil || m.Decision.Decision != models.DecisionWatch || m.Decision.Tier != models.TierExplicit {
		t.Fatalf("decision = %+v", m.Decision)
	}
	if m.Decision.Conflict {
		t.Fatal("agreeing channels flagged as conflict")
	}
}

func TestDeepModeFullFlow(t *testing.T) {
	sm := &stubModel{responses: []string{
		currentNarrative,
		historicalNarrative,
		synthesisNarrative,
		cleanVerdict,
	}}
	o := testOrchestrator(t, testConfig(t), sm, nil)

	m, err := o.Run(context.Background(), Request{Ticker: "AAPL", Mode: models.ModeDeep})
	if err != nil {
		t.Fatal(err)
	}
	if m.State != models.StateDone {
		t.Fatalf("state = %s", m.State)
	}
	if sm.calls != 4 {
		t.Fatalf("model called %d times, want 4 (current, FY, synthesis, critique)", sm.calls)
	}

	// The session-resolved CIK reaches every filing fetch.
	sf := o.filings.(*stubFilings)
	if len(sf.gotCIKs) != 1 || sf.gotCIKs[0] != "320193" {
		t.Fatalf("filing fetch CIKs = %v, want the resolved 320193", sf.gotCIKs)
	}

	if len(m.Periods) != 1 || m.Periods[0].Period != "FY2025" {
		t.Fatalf("periods = %+v", m.Periods)
	}
	// The historical record fills from the warmed trusted cache.
	if v, ok := m.Periods[0].Metrics.Get(models.FieldRevenue); !ok || v != 100000 {
		t.Fatalf("FY2025 revenue = %v, %t", v, ok)
	}

	if m.Synthesis == nil || m.Decision == nil {
		t.Fatal("synthesis or decision missing")
	}
	if m.Decision.Decision != models.DecisionBuy || m.Decision.Tier != models.TierExplicit {
		t.Fatalf("decision = %+v", m.Decision)
	}
	if m.Validation == nil || !m.Validation.Approved {
		t.Fatalf("validation = %+v", m.Validation)
	}
	if len(m.Corrections) != 0 {
		t.Fatalf("unexpected corrections: %+v", m.Corrections)
	}

	if m.Context == nil {
		t.Fatal("no context manifest")
	}
	var fyRow *models.PeriodContext
	for i := range m.Context.Periods {
		if m.Context.Periods[i].Period == "FY2025" {
			fyRow = &m.Context.Periods[i]
		}
	}
	if fyRow == nil || fyRow.Outcome != models.IncludedFull {
		t.Fatalf("FY2025 context row = %+v", fyRow)
	}
	if m.Cache.Entries == 0 {
		t.Fatal("cache stats empty after a full run")
	}
}

func TestDeepModeCorrectsAndRevalidatesOnce(t *testing.T) {
	// The current-period sidecar claims a ROIC the warmed ratios
	// endpoint later contradicts; the corrector replaces it and earns
	// exactly one fresh validation round.
	wrongCurrent := "Apple compounds capital well.\nFINAL DECISION: WATCH\n" +
		`<INSIGHTS>{"metrics": {"roic": 0.30}, "insights": {"decision": "WATCH", "conviction": "MODERATE"}}</INSIGHTS>`
	sm := &stubModel{responses: []string{
		wrongCurrent,
		historicalNarrative,
		synthesisNarrative,
		cleanVerdict,
		cleanVerdict, // re-validation round
	}}
	o := testOrchestrator(t, testConfig(t), sm, nil)

	m, err := o.Run(context.Background(), Request{Ticker: "AAPL", Mode: models.ModeDeep})
	if err != nil {
		t.Fatal(err)
	}
	if sm.calls != 5 {
		t.Fatalf("model called %d times, want 5 (one extra critique round)", sm.calls)
	}
	if len(m.Corrections) != 1 {
		t.Fatalf("corrections = %+v", m.Corrections)
	}
	c := m.Corrections[0]
	if c.Field != models.FieldROIC || c.Period != "current" || c.NewValue != 0.224 {
		t.Fatalf("correction = %+v", c)
	}
	if c.OldValue == nil || *c.OldValue != 0.30 {
		t.Fatalf("old value = %v", c.OldValue)
	}
	if v, _ := m.CurrentPeriod.Metrics.Get(models.FieldROIC); v != 0.224 {
		t.Fatalf("current roic = %v after correction", v)
	}
}

func TestUnknownSymbolFailsSession(t *testing.T) {
	profileErr := fmt.Errorf("%w: ZZZZ", dataflows.ErrUnknownSymbol)
	sm := &stubModel{}
	o := testOrchestrator(t, testConfig(t), sm, profileErr)

	m, err := o.Run(context.Background(), Request{Ticker: "ZZZZ", Mode: models.ModeQuick})
	if err == nil {
		t.Fatal("unknown symbol did not fail the session")
	}
	if m == nil {
		t.Fatal("no partial manifest on failure")
	}
	if m.State != models.StateFailed {
		t.Fatalf("state = %s", m.State)
	}
	if m.Failure != models.FailureUnknownSubject {
		t.Fatalf("failure = %s", m.Failure)
	}
	if sm.calls != 0 {
		t.Fatalf("engine invoked %d times for an unknown subject", sm.calls)
	}
}

func TestEngineFailureClassified(t *testing.T) {
	sm := &stubModel{} // every Generate call fails
	o := testOrchestrator(t, testConfig(t), sm, nil)

	m, err := o.Run(context.Background(), Request{Ticker: "AAPL", Mode: models.ModeQuick})
	if err == nil {
		t.Fatal("engine failure did not fail the session")
	}
	if m.Failure != models.FailureEngineUnreachable {
		t.Fatalf("failure = %s", m.Failure)
	}
	// Initial attempt plus the configured retry.
	if sm.calls != 2 {
		t.Fatalf("engine attempted %d times, want 2", sm.calls)
	}
}

func TestFilingSkipStillReconstructsYear(t *testing.T) {
	sm := &stubModel{responses: []string{
		currentNarrative,
		historicalNarrative,
		synthesisNarrative,
		cleanVerdict,
	}}
	o := testOrchestrator(t, testConfig(t), sm, nil)
	o.filings = &stubFilings{cik: "320193", skip: "no annual report filed for fiscal 2025"}

	m, err := o.Run(context.Background(), Request{Ticker: "AAPL", Mode: models.ModeDeep})
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Periods) != 1 {
		t.Fatalf("periods = %+v", m.Periods)
	}
	if m.Context == nil || len(m.Context.YearsSkipped) != 1 || m.Context.YearsSkipped[0] != "FY2025" {
		t.Fatalf("years skipped = %+v", m.Context)
	}
}

func TestRegistrantLookupFailureDegradesToReconstruction(t *testing.T) {
	sm := &stubModel{responses: []string{
		currentNarrative,
		historicalNarrative,
		synthesisNarrative,
		cleanVerdict,
	}}
	o := testOrchestrator(t, testConfig(t), sm, nil)
	sf := &stubFilings{resolveErr: errors.New("registrant list unavailable")}
	o.filings = sf

	m, err := o.Run(context.Background(), Request{Ticker: "AAPL", Mode: models.ModeDeep})
	if err != nil {
		t.Fatal(err)
	}
	if m.State != models.StateDone {
		t.Fatalf("state = %s", m.State)
	}
	// No fetch is attempted without a CIK; the year is still rebuilt
	// from reported figures and recorded as skipped.
	if len(sf.gotCIKs) != 0 {
		t.Fatalf("filing fetched without a CIK: %v", sf.gotCIKs)
	}
	if len(m.Periods) != 1 || m.Periods[0].Period != "FY2025" {
		t.Fatalf("periods = %+v", m.Periods)
	}
	if m.Context == nil || len(m.Context.YearsSkipped) != 1 {
		t.Fatalf("years skipped = %+v", m.Context)
	}
}

func TestDepthClampedToMaximum(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxDepth = 1
	sm := &stubModel{responses: []string{currentNarrative}}
	o := testOrchestrator(t, cfg, sm, nil)

	m, err := o.Run(context.Background(), Request{Ticker: "AAPL", Mode: models.ModeQuick, Depth: 9})
	if err != nil {
		t.Fatal(err)
	}
	if m.Depth != 1 {
		t.Fatalf("depth = %d, want clamped 1", m.Depth)
	}
}

func TestBadSymbolRejectedUpfront(t *testing.T) {
	sm := &stubModel{}
	o := testOrchestrator(t, testConfig(t), sm, nil)

	if _, err := o.Run(context.Background(), Request{Ticker: "not a ticker!!"}); err == nil {
		t.Fatal("invalid symbol accepted")
	}
}

func TestCanceledContextFailsBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sm := &stubModel{responses: []string{currentNarrative}}
	o := testOrchestrator(t, testConfig(t), sm, nil)

	m, err := o.Run(ctx, Request{Ticker: "AAPL", Mode: models.ModeQuick})
	if err == nil {
		t.Fatal("canceled context did not fail the session")
	}
	if m.State != models.StateFailed {
		t.Fatalf("state = %s", m.State)
	}
}
