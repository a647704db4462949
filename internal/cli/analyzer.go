package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/deepvalue-ai/deepvalue/internal/config"
	"github.com/deepvalue-ai/deepvalue/internal/display"
	"github.com/deepvalue-ai/deepvalue/internal/engine"
	"github.com/deepvalue-ai/deepvalue/internal/models"
	"github.com/deepvalue-ai/deepvalue/internal/pipeline"
	"github.com/deepvalue-ai/deepvalue/internal/storage"
	"github.com/deepvalue-ai/deepvalue/internal/tools"
)

// runAnalysis wires the collaborators and runs one session end to end:
// pipeline, archive, report file, terminal panel.
func runAnalysis(ctx context.Context, cfg *config.Config, ticker string, mode models.Mode, depth int) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, store, err := buildSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	display.Info(fmt.Sprintf("Starting %s analysis of %s", mode, strings.ToUpper(ticker)))

	manifest, runErr := orch.Run(ctx, pipeline.Request{Ticker: ticker, Mode: mode, Depth: depth})
	if manifest != nil {
		if err := store.SaveManifest(ctx, manifest); err != nil {
			display.Error(fmt.Errorf("archiving session: %w", err))
		}
		if err := storage.WriteReport(cfg.ResultsDir, manifest); err != nil {
			display.Error(fmt.Errorf("writing report: %w", err))
		}
	}

	if runErr != nil {
		if manifest != nil {
			display.Failure(manifest)
		}
		return runErr
	}

	display.Results(manifest)
	return nil
}

// runBatch runs one session per ticker listed in a file. One bad
// ticker does not stop the rest.
func runBatch(ctx context.Context, cfg *config.Config, path string, mode models.Mode, depth int) error {
	tickers, err := readTickerFile(path)
	if err != nil {
		return err
	}
	if len(tickers) == 0 {
		return fmt.Errorf("no tickers found in %s", path)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, store, err := buildSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	display.Info(fmt.Sprintf("Batch of %d tickers (%s mode)", len(tickers), mode))

	failed := 0
	for i, ticker := range tickers {
		if ctx.Err() != nil {
			return fmt.Errorf("batch interrupted after %d of %d tickers", i, len(tickers))
		}
		display.Info(fmt.Sprintf("[%d/%d] %s", i+1, len(tickers), ticker))

		manifest, runErr := orch.Run(ctx, pipeline.Request{Ticker: ticker, Mode: mode, Depth: depth})
		if manifest != nil {
			if err := store.SaveManifest(ctx, manifest); err != nil {
				display.Error(fmt.Errorf("archiving %s: %w", ticker, err))
			}
			if err := storage.WriteReport(cfg.ResultsDir, manifest); err != nil {
				display.Error(fmt.Errorf("writing %s report: %w", ticker, err))
			}
		}
		if runErr != nil {
			failed++
			display.Error(fmt.Errorf("%s failed: %w", ticker, runErr))
			continue
		}
		display.Results(manifest)
	}

	if failed > 0 {
		display.Info(fmt.Sprintf("Batch finished: %d succeeded, %d failed", len(tickers)-failed, failed))
	} else {
		display.Success(fmt.Sprintf("Batch finished: all %d tickers analyzed", len(tickers)))
	}
	return nil
}

// buildSession constructs the shared collaborators for one or more
// session runs.
func buildSession(ctx context.Context, cfg *config.Config) (*pipeline.Orchestrator, *storage.Store, error) {
	eng, err := engine.New(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("building reasoning engine: %w", err)
	}
	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening session archive: %w", err)
	}
	return pipeline.New(cfg, eng, tools.NewRegistry(cfg)), store, nil
}

func readTickerFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening ticker file: %w", err)
	}
	defer f.Close()

	var tickers []string
	seen := map[string]bool{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t := strings.ToUpper(line)
		if !seen[t] {
			seen[t] = true
			tickers = append(tickers, t)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		return nil, fmt.Errorf("reading ticker file: %w", err)
	}
	return tickers, nil
}
