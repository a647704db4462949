package cli

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"

	"github.com/deepvalue-ai/deepvalue/internal/models"
)

var tickerRe = regexp.MustCompile(`^[A-Z0-9.-]+$`)

// promptForTicker asks for a ticker symbol.
func promptForTicker() (string, error) {
	var ticker string
	prompt := &survey.Input{
		Message: "Enter the stock ticker symbol (e.g., AAPL, MSFT, COST):",
		Help:    "The company to research",
	}

	err := survey.AskOne(prompt, &ticker, survey.WithValidator(func(val interface{}) error {
		str := strings.TrimSpace(strings.ToUpper(val.(string)))
		if len(str) == 0 {
			return fmt.Errorf("ticker symbol cannot be empty")
		}
		if len(str) > 10 {
			return fmt.Errorf("ticker symbol too long (max 10 characters)")
		}
		if !tickerRe.MatchString(str) {
			return fmt.Errorf("invalid ticker format (use letters, numbers, dots, and hyphens only)")
		}
		return nil
	}))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.ToUpper(ticker)), nil
}

// promptForMode asks how deep the session should dig.
func promptForMode() (models.Mode, error) {
	var selected string
	prompt := &survey.Select{
		Message: "Analysis mode:",
		Options: []string{
			"deep  - full historical reconstruction, synthesis and validation",
			"quick - current period only",
		},
		Default: "deep  - full historical reconstruction, synthesis and validation",
	}
	if err := survey.AskOne(prompt, &selected); err != nil {
		return "", err
	}
	if strings.HasPrefix(selected, "quick") {
		return models.ModeQuick, nil
	}
	return models.ModeDeep, nil
}

// promptForDepth asks how many historical periods to reconstruct.
func promptForDepth(defaultDepth, maxDepth int) (int, error) {
	var depthStr string
	prompt := &survey.Input{
		Message: fmt.Sprintf("Historical periods to analyze (1-%d):", maxDepth),
		Default: strconv.Itoa(defaultDepth),
	}

	err := survey.AskOne(prompt, &depthStr, survey.WithValidator(func(val interface{}) error {
		n, err := strconv.Atoi(strings.TrimSpace(val.(string)))
		if err != nil {
			return fmt.Errorf("enter a number")
		}
		if n < 1 || n > maxDepth {
			return fmt.Errorf("depth must be between 1 and %d", maxDepth)
		}
		return nil
	}))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(depthStr))
}

// promptForAnother asks whether to run another session.
func promptForAnother() bool {
	confirmed := false
	prompt := &survey.Confirm{
		Message: "Analyze another company?",
		Default: true,
	}
	if err := survey.AskOne(prompt, &confirmed); err != nil {
		return false
	}
	return confirmed
}
