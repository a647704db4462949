package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/deepvalue-ai/deepvalue/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func manifestFixture(id, ticker string, started time.Time) *models.SessionManifest {
	roic := 0.224
	return &models.SessionManifest{
		SessionID:  id,
		Ticker:     ticker,
		Mode:       models.ModeDeep,
		Depth:      3,
		State:      models.StateDone,
		StartedAt:  started,
		FinishedAt: started.Add(4 * time.Minute),
		Narrative:  "Holds up across the window.",
		Decision: &models.ResolvedDecision{
			Decision:     models.DecisionBuy,
			Tier:         models.TierExplicit,
			TextDecision: models.DecisionBuy,
		},
		Conviction: models.ConvictionHigh,
		Synthesis: &models.SynthesisResult{
			Narrative: "Holds up across the window.",
			Metrics:   &models.StructuredMetrics{ROIC: &roic},
			Insights:  &models.StructuredInsights{Decision: models.DecisionBuy},
		},
		Cache: models.CacheStats{Hits: 2, Misses: 5, Entries: 5},
	}
}

func TestSaveAndGetManifestRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	want := manifestFixture("sess-1", "AAPL", time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))

	if err := s.SaveManifest(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetManifest(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}

	if got.SessionID != want.SessionID || got.Ticker != want.Ticker || got.State != want.State {
		t.Fatalf("manifest = %+v", got)
	}
	if got.Decision == nil || got.Decision.Decision != models.DecisionBuy {
		t.Fatalf("decision = %+v", got.Decision)
	}
	if got.Synthesis == nil || got.Synthesis.Metrics.ROIC == nil || *got.Synthesis.Metrics.ROIC != 0.224 {
		t.Fatalf("synthesis = %+v", got.Synthesis)
	}
	if got.Cache.Misses != 5 {
		t.Fatalf("cache stats = %+v", got.Cache)
	}
}

func TestGetManifestNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetManifest(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestSaveManifestReplacesRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := manifestFixture("sess-1", "AAPL", time.Now().UTC())

	if err := s.SaveManifest(ctx, m); err != nil {
		t.Fatal(err)
	}
	m.State = models.StateFailed
	m.Failure = models.FailureEngineUnreachable
	if err := s.SaveManifest(ctx, m); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetManifest(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.StateFailed || got.Failure != models.FailureEngineUnreachable {
		t.Fatalf("replaced row = %+v", got)
	}

	list, err := s.ListSessions(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("listing = %+v", list)
	}
}

func TestListSessionsNewestFirstAndFiltered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	fixtures := []*models.SessionManifest{
		manifestFixture("sess-a", "AAPL", base),
		manifestFixture("sess-b", "MSFT", base.Add(time.Hour)),
		manifestFixture("sess-c", "AAPL", base.Add(2*time.Hour)),
	}
	for _, m := range fixtures {
		if err := s.SaveManifest(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListSessions(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("listing = %+v", all)
	}
	if all[0].SessionID != "sess-c" || all[2].SessionID != "sess-a" {
		t.Fatalf("order = %s, %s, %s", all[0].SessionID, all[1].SessionID, all[2].SessionID)
	}

	aapl, err := s.ListSessions(ctx, "AAPL", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(aapl) != 2 {
		t.Fatalf("filtered listing = %+v", aapl)
	}
	for _, sum := range aapl {
		if sum.Ticker != "AAPL" {
			t.Fatalf("filter leaked %q", sum.Ticker)
		}
	}

	limited, err := s.ListSessions(ctx, "", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].SessionID != "sess-c" {
		t.Fatalf("limited listing = %+v", limited)
	}
}
