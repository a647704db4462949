package toolcache

import (
	"context"
	"errors"
	"testing"
)

func TestFingerprintOrderIndependent(t *testing.T) {
	a := Fingerprint("Get_Fundamentals", map[string]string{"symbol": "AAPL", "year": "2023"})
	b := Fingerprint("get_fundamentals", map[string]string{"year": "2023", "symbol": "AAPL"})
	if a != b {
		t.Fatalf("fingerprints differ: %q vs %q", a, b)
	}
	if a != "get_fundamentals|symbol=AAPL|year=2023" {
		t.Fatalf("unexpected fingerprint: %q", a)
	}
}

func TestGetOrFetchIdempotent(t *testing.T) {
	c := New()
	ctx := context.Background()
	params := map[string]string{"symbol": "AAPL"}

	calls := 0
	fetch := func(ctx context.Context) (string, TrustClass, error) {
		calls++
		return `{"roic": 0.22}`, TrustedExternal, nil
	}

	first, err := c.GetOrFetch(ctx, "get_key_ratios", params, fetch)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := c.GetOrFetch(ctx, "get_key_ratios", params, fetch)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if calls != 1 {
		t.Fatalf("fetch invoked %d times, want 1", calls)
	}
	if first != second {
		t.Fatalf("repeat lookup returned different bytes: %q vs %q", first, second)
	}

	hits, misses, entries := c.Stats()
	if hits != 1 || misses != 1 || entries != 1 {
		t.Fatalf("stats = %d hits, %d misses, %d entries; want 1/1/1", hits, misses, entries)
	}
}

func TestGetOrFetchNeverCachesFailures(t *testing.T) {
	c := New()
	ctx := context.Background()
	params := map[string]string{"symbol": "AAPL"}

	calls := 0
	failing := func(ctx context.Context) (string, TrustClass, error) {
		calls++
		if calls == 1 {
			return "", "", errors.New("rate limited")
		}
		return "ok", TrustedExternal, nil
	}

	if _, err := c.GetOrFetch(ctx, "get_company_news", params, failing); err == nil {
		t.Fatal("expected first call to fail")
	}
	if _, _, entries := c.Stats(); entries != 0 {
		t.Fatalf("failure was cached: %d entries", entries)
	}

	data, err := c.GetOrFetch(ctx, "get_company_news", params, failing)
	if err != nil {
		t.Fatalf("retry should have succeeded: %v", err)
	}
	if data != "ok" {
		t.Fatalf("got %q, want %q", data, "ok")
	}
}

func TestPutNeverOverwrites(t *testing.T) {
	c := New()
	params := map[string]string{"symbol": "AAPL", "period": "FY2023"}

	key := c.Put("llm_derived_metrics", params, `{"roic": 0.2}`, DerivedLLM)
	c.Put("llm_derived_metrics", params, `{"roic": 0.9}`, DerivedLLM)

	e, ok := c.Lookup(key)
	if !ok {
		t.Fatalf("entry %q missing", key)
	}
	if e.Data != `{"roic": 0.2}` {
		t.Fatalf("first write lost: %q", e.Data)
	}
}

func TestSnapshotInsertionOrder(t *testing.T) {
	c := New()
	c.Put("tool_b", map[string]string{"k": "1"}, "b", TrustedExternal)
	c.Put("tool_a", map[string]string{"k": "1"}, "a", TrustedExternal)
	c.Put("tool_c", map[string]string{"k": "1"}, "c", DerivedLLM)

	snap := c.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot has %d entries, want 3", len(snap))
	}
	for i, want := range []string{"b", "a", "c"} {
		if snap[i].Data != want {
			t.Fatalf("snapshot[%d] = %q, want %q", i, snap[i].Data, want)
		}
	}
}

func TestWarmSkipsFailures(t *testing.T) {
	c := New()
	ctx := context.Background()

	c.Warm(ctx, []WarmKey{
		{
			ToolName: "get_key_ratios",
			Params:   map[string]string{"symbol": "AAPL"},
			Fetch: func(ctx context.Context) (string, TrustClass, error) {
				return "", "", errors.New("provider down")
			},
		},
		{
			ToolName: "get_fundamentals",
			Params:   map[string]string{"symbol": "AAPL", "year": "2023"},
			Fetch: func(ctx context.Context) (string, TrustClass, error) {
				return `{"revenue": 1}`, TrustedExternal, nil
			},
		},
	})

	if _, _, entries := c.Stats(); entries != 1 {
		t.Fatalf("warm cached %d entries, want 1", entries)
	}
	if _, ok := c.Lookup(Fingerprint("get_fundamentals", map[string]string{"symbol": "AAPL", "year": "2023"})); !ok {
		t.Fatal("successful warm key missing from cache")
	}
}
