package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config carries every knob the pipeline reads. All numeric thresholds
// are product decisions surfaced here as plain fields; the structural
// contracts hold regardless of their values.
type Config struct {
	ProjectDir   string `json:"project_dir"`
	ResultsDir   string `json:"results_dir"`
	DataDir      string `json:"data_dir"`
	DataCacheDir string `json:"data_cache_dir"`
	DBPath       string `json:"db_path"`

	LLMProvider string `json:"llm_provider"` // "openai" or "deepseek"
	Model       string `json:"model"`
	BackendURL  string `json:"backend_url"`
	OpenAIKey   string `json:"openai_api_key"`
	DeepSeekKey string `json:"deepseek_api_key"`
	MaxTokens   int    `json:"max_tokens"`

	// Pipeline thresholds
	DefaultDepth      int  `json:"default_depth"`       // historical periods to analyze
	MaxDepth          int  `json:"max_depth"`           // hard bound on requested depth
	TokenCeiling      int  `json:"token_ceiling"`       // context budget hard ceiling
	NormalDocChars    int  `json:"normal_doc_chars"`    // below this a document rides along verbatim
	CharsPerToken     int  `json:"chars_per_token"`     // documented chars->tokens ratio
	SummaryMaxTokens  int  `json:"summary_max_tokens"`  // bounded summary length
	MaxToolIterations int  `json:"max_tool_iterations"` // tool-call loop cap per engine invocation
	StageRetries      int  `json:"stage_retries"`       // bounded retries per external call
	ValidationEnabled bool `json:"validation_enabled"`

	// Decision-consistency minimums
	BuyMinROIC     float64 `json:"buy_min_roic"`      // most favorable decision needs this profitability
	BuyMinMoatRank int     `json:"buy_min_moat_rank"` // and a moat at or above this tier rank

	// Provider credentials
	FinnhubAPIKey       string `json:"finnhub_api_key"`
	LongportAppKey      string `json:"longport_app_key"`
	LongportAppSecret   string `json:"longport_app_secret"`
	LongportAccessToken string `json:"longport_access_token"`
	SECUserAgent        string `json:"sec_user_agent"`
	CacheEnabled        bool   `json:"cache_enabled"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()

	return &Config{
		ProjectDir:   currentDir,
		ResultsDir:   filepath.Join(currentDir, "results"),
		DataDir:      filepath.Join(currentDir, "data"),
		DataCacheDir: filepath.Join(currentDir, "data", "cache"),
		DBPath:       filepath.Join(currentDir, "data", "deepvalue.db"),

		LLMProvider: "openai",
		Model:       "gpt-4o-mini",
		BackendURL:  "https://api.openai.com/v1",
		MaxTokens:   8192,

		DefaultDepth:      3,
		MaxDepth:          10,
		TokenCeiling:      48000,
		NormalDocChars:    12000,
		CharsPerToken:     4,
		SummaryMaxTokens:  800,
		MaxToolIterations: 12,
		StageRetries:      2,
		ValidationEnabled: true,

		BuyMinROIC:     0.12,
		BuyMinMoatRank: 2, // MODERATE or better

		SECUserAgent: "deepvalue/1.0",
		CacheEnabled: true,
	}
}

// LoadEnv overlays environment variables (optionally from a .env file)
// onto the config. Missing variables leave the defaults untouched.
func (c *Config) LoadEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("DEEPVALUE_LLM_PROVIDER"); v != "" {
		c.LLMProvider = v
	}
	if v := os.Getenv("DEEPVALUE_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("DEEPVALUE_BACKEND_URL"); v != "" {
		c.BackendURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAIKey = v
	}
	if v := os.Getenv("DEEPSEEK_API_KEY"); v != "" {
		c.DeepSeekKey = v
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		c.FinnhubAPIKey = v
	}
	if v := os.Getenv("LONGPORT_APP_KEY"); v != "" {
		c.LongportAppKey = v
	}
	if v := os.Getenv("LONGPORT_APP_SECRET"); v != "" {
		c.LongportAppSecret = v
	}
	if v := os.Getenv("LONGPORT_ACCESS_TOKEN"); v != "" {
		c.LongportAccessToken = v
	}
	if v := os.Getenv("DEEPVALUE_TOKEN_CEILING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.TokenCeiling = n
		}
	}
}

// EnsureDirectories creates the working directories the pipeline
// writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.ResultsDir,
		c.DataDir,
		c.DataCacheDir,
		filepath.Join(c.DataCacheDir, "finnhub"),
		filepath.Join(c.DataCacheDir, "yahoo"),
		filepath.Join(c.DataCacheDir, "filings"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
