package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/deepvalue-ai/deepvalue/internal/budget"
	"github.com/deepvalue-ai/deepvalue/internal/correct"
	"github.com/deepvalue-ai/deepvalue/internal/critique"
	"github.com/deepvalue-ai/deepvalue/internal/extract"
	"github.com/deepvalue-ai/deepvalue/internal/models"
	"github.com/deepvalue-ai/deepvalue/internal/toolcache"
	"github.com/deepvalue-ai/deepvalue/internal/tools"
	"github.com/deepvalue-ai/deepvalue/internal/utils"
	"github.com/deepvalue-ai/deepvalue/internal/validate"
)

const currentPeriodLabel = "current"

// runCurrentPeriod resolves the subject and produces the first
// analysis. An unrecognized ticker is the one data problem that kills
// a session outright.
func (s *session) runCurrentPeriod(ctx context.Context) error {
	if _, err := s.cache.GetOrFetch(ctx, tools.ToolCompanyProfile,
		map[string]string{"symbol": s.manifest.Ticker},
		s.toolFetch(tools.ToolCompanyProfile, tools.ProfileInput{Symbol: s.manifest.Ticker})); err != nil {
		return fmt.Errorf("subject resolution failed: %w", err)
	}

	prompt, err := utils.LoadPromptWithContext("current_period", map[string]string{
		"Ticker":      s.manifest.Ticker,
		"CurrentDate": s.o.now().Format("2006-01-02"),
	})
	if err != nil {
		return err
	}

	final, err := s.runEngineStage(ctx, prompt,
		fmt.Sprintf("Analyze %s as of today.", s.manifest.Ticker))
	if err != nil {
		return err
	}

	result := s.buildPeriodResult(currentPeriodLabel, final.Content)
	s.manifest.CurrentPeriod = result

	// The current-period narrative is the primary context carried into
	// every later stage; it is never the eviction victim.
	s.budget.CommitFull(currentPeriodLabel, result.Narrative, true)
	return nil
}

// warmCache pre-fetches the keys the historical stage will ask for.
// Failures are logged and skipped; the stage fetches on demand anyway.
func (s *session) warmCache(ctx context.Context) {
	ticker := s.manifest.Ticker
	keys := []toolcache.WarmKey{
		{
			ToolName: tools.ToolKeyRatios,
			Params:   map[string]string{"symbol": ticker},
			Fetch:    s.toolFetch(tools.ToolKeyRatios, tools.RatiosInput{Symbol: ticker}),
		},
		{
			ToolName: tools.ToolMarketData,
			Params:   map[string]string{"symbol": ticker, "days": "365"},
			Fetch:    s.toolFetch(tools.ToolMarketData, tools.MarketDataInput{Symbol: ticker, Days: 365}),
		},
	}
	for _, year := range s.historicalYears() {
		keys = append(keys, toolcache.WarmKey{
			ToolName: tools.ToolFundamentals,
			Params:   map[string]string{"symbol": ticker, "year": strconv.Itoa(year)},
			Fetch:    s.toolFetch(tools.ToolFundamentals, tools.FundamentalsInput{Symbol: ticker, Year: year}),
		})
	}
	log.Printf("🔥 Warming %d cache keys for %s", len(keys), ticker)
	s.cache.Warm(ctx, keys)
}

// historicalYears lists the fiscal years to reconstruct, most recent
// completed year first.
func (s *session) historicalYears() []int {
	current := s.o.now().Year()
	years := make([]int, 0, s.depth)
	for i := 1; i <= s.depth; i++ {
		years = append(years, current-i)
	}
	return years
}

func (s *session) runHistoricalPeriods(ctx context.Context) error {
	// One registrant lookup covers every year. Failure degrades each
	// year to the reconstruct-from-figures path rather than killing the
	// session.
	cik, err := s.o.filings.ResolveCIK(s.manifest.Ticker)
	if err != nil {
		log.Printf("⚠️ SEC registrant lookup failed for %s: %v", s.manifest.Ticker, err)
	}
	s.cik = cik

	for _, year := range s.historicalYears() {
		if err := s.checkpoint(ctx); err != nil {
			return err
		}
		if err := s.runHistoricalPeriod(ctx, year); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) runHistoricalPeriod(ctx context.Context, year int) error {
	period := fmt.Sprintf("FY%d", year)

	if s.cik == "" {
		s.budget.RecordSkip(period, fmt.Sprintf("no SEC registrant mapping for %s", s.manifest.Ticker))
		return s.analyzeYear(ctx, period, year, "")
	}

	outcome, err := s.o.filings.GetAnnualFiling(s.manifest.Ticker, s.cik, year)
	if err != nil {
		// A fetch failure is not the documented no-filing case, but the
		// period can still be reconstructed from reported figures.
		log.Printf("⚠️ Filing fetch for %s failed: %v", period, err)
		s.budget.RecordSkip(period, fmt.Sprintf("filing fetch failed: %v", err))
		return s.analyzeYear(ctx, period, year, "")
	}
	if outcome.Skipped() {
		s.budget.RecordSkip(period, outcome.SkipReason)
		return s.analyzeYear(ctx, period, year, "")
	}

	text := outcome.Filing.Text
	var excerpt string
	switch s.budget.Decide(len(text)) {
	case budget.IncludeFull:
		excerpt = text
		s.budget.CommitFull(period, text, false)
	case budget.IncludeCompressed:
		summary, err := s.o.eng.Summarize(ctx, text, s.o.cfg.SummaryMaxTokens)
		if err != nil {
			return fmt.Errorf("%w: summarizing %s filing: %v", errEngine, period, err)
		}
		excerpt = summary
		s.budget.CommitSummary(period, len(text), summary, false)
	case budget.SkipSource:
		s.budget.RecordSkip(period, "filing text was empty")
	}

	return s.analyzeYear(ctx, period, year, excerpt)
}

func (s *session) analyzeYear(ctx context.Context, period string, year int, excerpt string) error {
	if excerpt == "" {
		excerpt = "(no annual report available for this year)"
	}
	prompt, err := utils.LoadPromptWithContext("historical_period", map[string]string{
		"Ticker":        s.manifest.Ticker,
		"Year":          strconv.Itoa(year),
		"FilingExcerpt": excerpt,
	})
	if err != nil {
		return err
	}

	final, err := s.runEngineStage(ctx, prompt,
		fmt.Sprintf("Reconstruct fiscal year %d for %s.", year, s.manifest.Ticker))
	if err != nil {
		return err
	}

	s.manifest.Periods = append(s.manifest.Periods, s.buildPeriodResult(period, final.Content))
	return nil
}

func (s *session) runSynthesis(ctx context.Context) error {
	manifest := s.budget.Manifest()
	prompt, err := utils.LoadPromptWithContext("synthesis", map[string]string{
		"Ticker":        s.manifest.Ticker,
		"PeriodReports": s.periodReports(),
		"YearsSkipped":  skippedOrNone(manifest.YearsSkipped),
	})
	if err != nil {
		return err
	}

	final, err := s.runEngineStage(ctx, prompt,
		fmt.Sprintf("Synthesize the multi-year thesis for %s.", s.manifest.Ticker))
	if err != nil {
		return err
	}

	result := s.buildPeriodResult("synthesis", final.Content)
	s.manifest.Synthesis = &models.SynthesisResult{
		Narrative:  result.Narrative,
		Metrics:    result.Metrics,
		Insights:   result.Insights,
		Incomplete: result.Incomplete,
	}
	s.manifest.Narrative = result.Narrative
	return nil
}

// periodReports assembles the per-period sections of the synthesis
// prompt: current first, then the historical record oldest last.
func (s *session) periodReports() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Current period\n\n%s\n\n", s.manifest.CurrentPeriod.Narrative)
	for _, pr := range s.manifest.Periods {
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", pr.Period, pr.Narrative)
	}
	return sb.String()
}

func skippedOrNone(skipped []string) string {
	if len(skipped) == 0 {
		return "none"
	}
	return strings.Join(skipped, ", ")
}

// runValidation runs deterministic checks, one adversarial review,
// bounded corrections, and at most one re-validation of the corrected
// record. Validation degrades rather than failing the session: a dead
// engine here leaves the deterministic report standing.
func (s *session) runValidation(ctx context.Context) {
	index := extract.IndexCache(s.cache.Snapshot())
	report := s.validatePass(ctx, index)

	corrector := correct.NewCorrector(index)
	var trail []models.Correction

	if corrected, fixes := corrector.Apply("synthesis", s.manifest.Synthesis.Metrics, report); len(fixes) > 0 {
		syn := s.manifest.Synthesis.Clone()
		syn.Metrics = corrected
		s.manifest.Synthesis = syn
		trail = append(trail, fixes...)
	}
	// The current period merges before the cache warm, so it is the one
	// record that can carry engine-derived figures a trusted source
	// later contradicts.
	if corrected, fixes := corrector.Apply(currentPeriodLabel, s.manifest.CurrentPeriod.Metrics, report); len(fixes) > 0 {
		cp := s.manifest.CurrentPeriod.Clone()
		cp.Metrics = corrected
		s.manifest.CurrentPeriod = cp
		trail = append(trail, fixes...)
	}
	for i, pr := range s.manifest.Periods {
		if corrected, fixes := corrector.Apply(pr.Period, pr.Metrics, report); len(fixes) > 0 {
			cp := pr.Clone()
			cp.Metrics = corrected
			s.manifest.Periods[i] = cp
			trail = append(trail, fixes...)
		}
	}
	s.manifest.Corrections = trail

	// One corrected record earns exactly one fresh look.
	if len(trail) > 0 {
		log.Printf("🔁 Re-validating after %d corrections", len(trail))
		report = s.validatePass(ctx, index)
	}
	s.manifest.Validation = report
}

// validatePass is one deterministic-then-adversarial round.
func (s *session) validatePass(ctx context.Context, index extract.FieldIndex) *models.ValidationReport {
	periods := append([]*models.PeriodResult{s.manifest.CurrentPeriod}, s.manifest.Periods...)
	auto := s.o.validator.Run(validate.Input{
		Periods:   periods,
		Synthesis: s.manifest.Synthesis,
		Index:     index,
	})

	report, err := s.o.critic.Review(ctx, critique.Input{
		Ticker:    s.manifest.Ticker,
		Narrative: s.manifest.Synthesis.Narrative,
		Metrics:   s.manifest.Synthesis.Metrics,
		Insights:  s.manifest.Synthesis.Insights,
		Automated: auto,
		Cache:     s.cache.Snapshot(),
	})
	if err != nil {
		log.Printf("⚠️ Adversarial review unavailable, keeping deterministic report: %v", err)
		return auto
	}

	// Deterministic findings the reviewer dropped still count.
	report.Issues = append(report.Issues, missingFindings(auto, report)...)
	if report.CountBySeverity(models.SeverityCritical) > 0 {
		report.Approved = false
	}
	return report
}

// missingFindings returns automated issues with no counterpart in the
// reviewer's report, matched by category and field.
func missingFindings(auto, reviewed *models.ValidationReport) []models.Issue {
	var out []models.Issue
	for _, is := range auto.Issues {
		found := false
		for _, ris := range reviewed.Issues {
			if ris.Category == is.Category && ris.Period == is.Period && ris.SuggestedField == is.SuggestedField {
				found = true
				break
			}
		}
		if !found {
			out = append(out, is)
		}
	}
	return out
}

// runEngineStage is one prompted tool-loop run. Engine failures are
// retried a bounded number of times before the session gives up.
func (s *session) runEngineStage(ctx context.Context, systemPrompt, userPrompt string) (*schema.Message, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt),
	}

	var final *schema.Message
	var err error
	for attempt := 0; attempt <= s.o.cfg.StageRetries; attempt++ {
		if attempt > 0 {
			log.Printf("🔄 Engine stage retry %d/%d", attempt, s.o.cfg.StageRetries)
		}
		final, _, err = s.loop.Run(ctx, msgs)
		if err == nil {
			return final, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", errEngine, err)
}

// buildPeriodResult strips the sidecar, records engine-derived figures
// in the cache, and merges cache and sidecar into the typed record.
func (s *session) buildPeriodResult(period, raw string) *models.PeriodResult {
	display, sc := extract.StripSidecar(raw)
	s.putDerivedMetrics(period, sc)

	index := extract.IndexCache(s.cache.Snapshot())
	merged := extract.Merge(index, period, sc)
	if merged.Incomplete {
		log.Printf("⚠️ Period %s extraction incomplete: %s", period, strings.Join(merged.Rejections, "; "))
	}

	return &models.PeriodResult{
		Period:     period,
		Narrative:  display,
		Metrics:    merged.Metrics,
		Insights:   merged.Insights,
		Incomplete: merged.Incomplete,
	}
}

// putDerivedMetrics records the sidecar's numeric figures in the cache
// under the derived pseudo-tool, so provenance queries and the
// validators can see what the engine claimed, ranked below anything a
// provider reported.
func (s *session) putDerivedMetrics(period string, sc *extract.Sidecar) {
	if sc == nil || len(sc.Metrics) == 0 {
		return
	}
	vals := make(map[string]float64, len(sc.Metrics))
	for field, raw := range sc.Metrics {
		if v, ok := extract.NumberField(raw); ok {
			vals[strings.ToLower(field)] = v
		}
	}
	if len(vals) == 0 {
		return
	}
	data, err := json.Marshal(vals)
	if err != nil {
		return
	}
	s.cache.Put(extract.DerivedMetricsTool,
		map[string]string{"symbol": s.manifest.Ticker, "period": period},
		string(data), toolcache.DerivedLLM)
}

// toolFetch adapts a registry invocation into a cache fetch.
func (s *session) toolFetch(name string, input any) toolcache.FetchFunc {
	return func(ctx context.Context) (string, toolcache.TrustClass, error) {
		args, err := json.Marshal(input)
		if err != nil {
			return "", "", err
		}
		data, err := s.o.registry.Invoke(ctx, name, string(args))
		if err != nil {
			return "", "", err
		}
		return data, s.o.registry.Trust(name), nil
	}
}
