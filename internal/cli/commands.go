// Package cli is the command-line surface: cobra commands over the
// research pipeline, plus an interactive mode for exploratory use.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deepvalue-ai/deepvalue/internal/config"
	"github.com/deepvalue-ai/deepvalue/internal/display"
	"github.com/deepvalue-ai/deepvalue/internal/models"
	"github.com/deepvalue-ai/deepvalue/internal/storage"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	cfg.LoadEnv()

	rootCmd := &cobra.Command{
		Use:   "deepvalue",
		Short: "deepvalue - automated deep-value equity research",
		Long: `deepvalue runs staged, validated equity research: a current-period
read, historical reconstruction from annual filings, cross-period
synthesis, and an adversarial validation pass with auditable
corrections. Every figure traces back to a cached tool result.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("failed to create directories: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractiveMode(cfg)
		},
	}

	rootCmd.AddCommand(newAnalyzeCmd(cfg))
	rootCmd.AddCommand(newBatchCmd(cfg))
	rootCmd.AddCommand(newSessionsCmd(cfg))
	rootCmd.AddCommand(newConfigCmd(cfg))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newAnalyzeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [SYMBOL]",
		Short: "Run a research session for a ticker",
		Long: `Run one research session for a ticker symbol.
Example: deepvalue analyze AAPL --mode=deep --depth=5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, _ := cmd.Flags().GetString("mode")
			depth, _ := cmd.Flags().GetInt("depth")
			noValidate, _ := cmd.Flags().GetBool("no-validate")
			if noValidate {
				cfg.ValidationEnabled = false
			}

			m, err := parseMode(mode)
			if err != nil {
				return err
			}
			return runAnalysis(cmd.Context(), cfg, args[0], m, depth)
		},
	}

	cmd.Flags().String("mode", "deep", "Analysis mode: quick (current period only) or deep")
	cmd.Flags().Int("depth", 0, "Historical periods to analyze (0 = configured default)")
	cmd.Flags().Bool("no-validate", false, "Skip the validation pass")
	return cmd
}

func newBatchCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [FILE]",
		Short: "Run research sessions for every ticker in a file",
		Long: `Run sessions for all tickers listed in a file, one per line.
Failed tickers are reported and skipped; the batch keeps going.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, _ := cmd.Flags().GetString("mode")
			depth, _ := cmd.Flags().GetInt("depth")
			m, err := parseMode(mode)
			if err != nil {
				return err
			}
			return runBatch(cmd.Context(), cfg, args[0], m, depth)
		},
	}

	cmd.Flags().String("mode", "quick", "Analysis mode for every ticker in the batch")
	cmd.Flags().Int("depth", 0, "Historical periods to analyze (0 = configured default)")
	return cmd
}

func newSessionsCmd(cfg *config.Config) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Browse archived research sessions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ticker, _ := cmd.Flags().GetString("ticker")
			limit, _ := cmd.Flags().GetInt("limit")

			store, err := storage.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.ListSessions(cmd.Context(), strings.ToUpper(ticker), limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				display.Info("No archived sessions.")
				return nil
			}
			for _, s := range sessions {
				fmt.Printf("%s  %-6s %-5s %-6s %-8s %s\n",
					s.StartedAt.Format("2006-01-02 15:04"), s.Ticker, s.Mode, s.Decision, s.State, s.SessionID)
			}
			return nil
		},
	}
	listCmd.Flags().String("ticker", "", "Only list sessions for this ticker")
	listCmd.Flags().Int("limit", 20, "Maximum sessions to list")

	showCmd := &cobra.Command{
		Use:   "show [SESSION_ID]",
		Short: "Print one archived session as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			m, err := store.GetManifest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Print(storage.RenderMarkdown(m))
			return nil
		},
	}

	sessionsCmd.AddCommand(listCmd)
	sessionsCmd.AddCommand(showCmd)
	return sessionsCmd
}

func newConfigCmd(cfg *config.Config) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Run: func(cmd *cobra.Command, args []string) {
			showConfig(cfg)
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cfg)
		},
	})
	return configCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("deepvalue v1.0.0")
			fmt.Println("Automated deep-value equity research")
		},
	}
}

func parseMode(mode string) (models.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "quick":
		return models.ModeQuick, nil
	case "deep", "":
		return models.ModeDeep, nil
	default:
		return "", fmt.Errorf("unknown mode %q (use quick or deep)", mode)
	}
}

func showConfig(cfg *config.Config) {
	fmt.Println("📋 Current deepvalue configuration:")
	fmt.Println("═══════════════════════════════════════")
	fmt.Printf("Results Directory:    %s\n", cfg.ResultsDir)
	fmt.Printf("Data Directory:       %s\n", cfg.DataDir)
	fmt.Printf("Cache Directory:      %s\n", cfg.DataCacheDir)
	fmt.Printf("Database:             %s\n", cfg.DBPath)
	fmt.Println()
	fmt.Printf("LLM Provider:         %s\n", cfg.LLMProvider)
	fmt.Printf("Model:                %s\n", cfg.Model)
	fmt.Printf("Backend URL:          %s\n", cfg.BackendURL)
	fmt.Println()
	fmt.Printf("Default Depth:        %d\n", cfg.DefaultDepth)
	fmt.Printf("Token Ceiling:        %d\n", cfg.TokenCeiling)
	fmt.Printf("Validation Enabled:   %t\n", cfg.ValidationEnabled)
	fmt.Printf("Cache Enabled:        %t\n", cfg.CacheEnabled)
	fmt.Println()

	fmt.Println("🔌 Provider credentials:")
	fmt.Println("─────────────────────")
	printCredential("Finnhub API", cfg.FinnhubAPIKey != "")
	printCredential("Longport API", cfg.LongportAppKey != "" && cfg.LongportAppSecret != "" && cfg.LongportAccessToken != "")
	printCredential("OpenAI API", cfg.OpenAIKey != "")
	printCredential("DeepSeek API", cfg.DeepSeekKey != "")
	fmt.Printf("SEC User Agent:       %s\n", cfg.SECUserAgent)
}

func printCredential(name string, configured bool) {
	status := "❌ Not configured"
	if configured {
		status = "✅ Configured"
	}
	fmt.Printf("%-21s %s\n", name+":", status)
}

func validateConfig(cfg *config.Config) error {
	fmt.Println("🔍 Validating deepvalue configuration...")

	var problems []string
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			problems = append(problems, "OPENAI_API_KEY is not set")
		}
	case "deepseek":
		if cfg.DeepSeekKey == "" {
			problems = append(problems, "DEEPSEEK_API_KEY is not set")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown LLM provider %q", cfg.LLMProvider))
	}
	if cfg.FinnhubAPIKey == "" {
		problems = append(problems, "FINNHUB_API_KEY is not set (profile, ratios and fundamentals tools need it)")
	}
	if cfg.TokenCeiling <= 0 {
		problems = append(problems, "token ceiling must be positive")
	}

	if len(problems) > 0 {
		for _, p := range problems {
			display.Error(fmt.Errorf("%s", p))
		}
		return fmt.Errorf("%d configuration problem(s)", len(problems))
	}
	display.Success("Configuration looks good.")
	return nil
}
