// Package pipeline drives one research session through its stages:
// current-period analysis, historical reconstruction, synthesis,
// validation and decision resolution. The orchestrator owns the state
// machine; each stage only ever sees the session it belongs to.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/deepvalue-ai/deepvalue/internal/budget"
	"github.com/deepvalue-ai/deepvalue/internal/config"
	"github.com/deepvalue-ai/deepvalue/internal/critique"
	"github.com/deepvalue-ai/deepvalue/internal/dataflows"
	"github.com/deepvalue-ai/deepvalue/internal/engine"
	"github.com/deepvalue-ai/deepvalue/internal/models"
	"github.com/deepvalue-ai/deepvalue/internal/processing"
	"github.com/deepvalue-ai/deepvalue/internal/toolcache"
	"github.com/deepvalue-ai/deepvalue/internal/tools"
	"github.com/deepvalue-ai/deepvalue/internal/validate"
)

// errEngine tags failures of the reasoning backend so the manifest can
// classify them separately from data problems.
var errEngine = errors.New("reasoning engine unreachable")

// filingSource is the slice of the filings client the historical stage
// consumes. The CIK is resolved once per session and threaded into
// every year's fetch.
type filingSource interface {
	ResolveCIK(symbol string) (string, error)
	GetAnnualFiling(symbol, cik string, year int) (dataflows.FilingOutcome, error)
}

// Orchestrator wires the long-lived collaborators. One orchestrator
// serves many sessions; per-session state lives on the session struct.
type Orchestrator struct {
	cfg       *config.Config
	eng       *engine.Engine
	registry  *tools.Registry
	filings   filingSource
	resolver  *processing.DecisionResolver
	validator *validate.Validator
	critic    *critique.Critic

	// now is swappable so deterministic period labels can be tested.
	now func() time.Time
}

// New builds an orchestrator from the shared collaborators.
func New(cfg *config.Config, eng *engine.Engine, registry *tools.Registry) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		eng:       eng,
		registry:  registry,
		filings:   dataflows.NewFilingsClient(cfg),
		resolver:  processing.NewDecisionResolver(),
		validator: validate.NewValidator(cfg.BuyMinROIC, cfg.BuyMinMoatRank),
		critic:    critique.NewCritic(eng),
		now:       time.Now,
	}
}

// Request names one research session to run.
type Request struct {
	Ticker string
	Mode   models.Mode
	Depth  int // historical periods; 0 means the configured default
}

// session is the per-run state: one cache, one budget, one manifest.
type session struct {
	o        *Orchestrator
	cache    *toolcache.Cache
	budget   *budget.Manager
	loop     *engine.ToolLoop
	manifest *models.SessionManifest
	depth    int
	cik      string
}

// Run executes the full state machine for one request. The manifest is
// always returned, partial on failure, alongside any fatal error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*models.SessionManifest, error) {
	ticker := dataflows.NormalizeSymbol(req.Ticker)
	if err := dataflows.ValidateSymbol(ticker); err != nil {
		return nil, fmt.Errorf("bad request: %w", err)
	}
	mode := req.Mode
	if mode == "" {
		mode = models.ModeDeep
	}
	depth := req.Depth
	if depth <= 0 {
		depth = o.cfg.DefaultDepth
	}
	if depth > o.cfg.MaxDepth {
		log.Printf("⚠️ Requested depth %d exceeds the maximum, clamping to %d", depth, o.cfg.MaxDepth)
		depth = o.cfg.MaxDepth
	}

	cache := toolcache.New()
	s := &session{
		o:      o,
		cache:  cache,
		budget: budget.NewManager(o.cfg.TokenCeiling, o.cfg.NormalDocChars, o.cfg.CharsPerToken),
		loop:   engine.NewToolLoop(o.eng, o.registry, cache, o.cfg.MaxToolIterations),
		depth:  depth,
		manifest: &models.SessionManifest{
			SessionID: uuid.NewString(),
			Ticker:    ticker,
			Mode:      mode,
			Depth:     depth,
			State:     models.StateInit,
			StartedAt: o.now(),
		},
	}

	log.Printf("🚀 Session %s: %s analysis of %s (depth %d)", s.manifest.SessionID, mode, ticker, depth)

	if err := s.run(ctx); err != nil {
		return s.fail(err)
	}
	return s.finish(), nil
}

func (s *session) run(ctx context.Context) error {
	if err := s.checkpoint(ctx); err != nil {
		return err
	}
	s.setState(models.StateCurrentPeriod)
	if err := s.runCurrentPeriod(ctx); err != nil {
		return err
	}

	if s.manifest.Mode == models.ModeQuick {
		// Quick mode stops here: the current-period read is the answer.
		s.resolveDecision(s.manifest.CurrentPeriod.Narrative, s.manifest.CurrentPeriod.Insights)
		return nil
	}

	if err := s.checkpoint(ctx); err != nil {
		return err
	}
	s.warmCache(ctx)

	s.setState(models.StateHistoricalPeriods)
	if err := s.runHistoricalPeriods(ctx); err != nil {
		return err
	}

	if err := s.checkpoint(ctx); err != nil {
		return err
	}
	s.setState(models.StateSynthesis)
	if err := s.runSynthesis(ctx); err != nil {
		return err
	}

	if s.o.cfg.ValidationEnabled {
		if err := s.checkpoint(ctx); err != nil {
			return err
		}
		s.setState(models.StateValidation)
		s.runValidation(ctx)
	}

	s.resolveDecision(s.manifest.Narrative, s.manifest.Synthesis.Insights)
	return nil
}

func (s *session) setState(st models.SessionState) {
	s.manifest.State = st
	log.Printf("📊 Session %s → %s", s.manifest.SessionID, st)
}

// checkpoint enforces cooperative cancellation between stages. Stages
// themselves finish the unit of work they started.
func (s *session) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("session canceled: %w", err)
	}
	return nil
}

func (s *session) resolveDecision(narrative string, insights *models.StructuredInsights) {
	s.manifest.Decision = s.o.resolver.Resolve(narrative, insights)
	if insights != nil {
		s.manifest.Conviction = insights.Conviction
	}
	log.Printf("✅ Session %s decision: %s (%s tier, conflict=%t)",
		s.manifest.SessionID, s.manifest.Decision.Decision, s.manifest.Decision.Tier, s.manifest.Decision.Conflict)
}

func (s *session) finish() *models.SessionManifest {
	s.seal(models.StateDone)
	return s.manifest
}

func (s *session) fail(err error) (*models.SessionManifest, error) {
	s.manifest.Failure = classify(err)
	s.manifest.FailureDetail = err.Error()
	s.seal(models.StateFailed)
	log.Printf("❌ Session %s failed (%s): %v", s.manifest.SessionID, s.manifest.Failure, err)
	return s.manifest, err
}

// seal stamps the terminal state and the bookkeeping every outcome
// carries, success or not.
func (s *session) seal(st models.SessionState) {
	s.manifest.State = st
	s.manifest.FinishedAt = s.o.now()
	s.manifest.Context = s.budget.Manifest()
	hits, misses, entries := s.cache.Stats()
	s.manifest.Cache = models.CacheStats{Hits: hits, Misses: misses, Entries: entries}
}

func classify(err error) models.FailureClass {
	switch {
	case errors.Is(err, dataflows.ErrUnknownSymbol):
		return models.FailureUnknownSubject
	case errors.Is(err, errEngine):
		return models.FailureEngineUnreachable
	default:
		return models.FailureInternal
	}
}
