package cli

import (
	"context"
	"errors"

	"github.com/AlecAivazis/survey/v2/terminal"

	"github.com/deepvalue-ai/deepvalue/internal/config"
	"github.com/deepvalue-ai/deepvalue/internal/display"
	"github.com/deepvalue-ai/deepvalue/internal/models"
)

// runInteractiveMode loops prompt → analyze until the user is done.
func runInteractiveMode(cfg *config.Config) error {
	display.Banner()

	for {
		ticker, err := promptForTicker()
		if err != nil {
			return interruptToNil(err)
		}

		mode, err := promptForMode()
		if err != nil {
			return interruptToNil(err)
		}

		depth := 0
		if mode == models.ModeDeep {
			depth, err = promptForDepth(cfg.DefaultDepth, cfg.MaxDepth)
			if err != nil {
				return interruptToNil(err)
			}
		}

		if err := runAnalysis(context.Background(), cfg, ticker, mode, depth); err != nil {
			display.Error(err)
		}

		if !promptForAnother() {
			display.Info("Goodbye.")
			return nil
		}
	}
}

// interruptToNil treats ctrl-c at a prompt as a clean exit.
func interruptToNil(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return nil
	}
	return err
}
