package dataflows

import (
	"errors"
	"time"

	"github.com/deepvalue-ai/deepvalue/internal/config"
	"github.com/shopspring/decimal"
)

// Config is an alias for the main application config
type Config = config.Config

// ErrUnknownSymbol marks a ticker no provider recognizes. Sessions
// abort on it rather than analyzing a subject that does not exist.
var ErrUnknownSymbol = errors.New("unknown symbol")

// MarketData represents one daily price bar.
type MarketData struct {
	Symbol   string          `json:"symbol"`
	Date     time.Time       `json:"date"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	AdjClose decimal.Decimal `json:"adj_close"`
	Volume   int64           `json:"volume"`
}

// CompanyProfile identifies the subject. A missing profile means the
// subject does not exist, which is fatal for a session.
type CompanyProfile struct {
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	Exchange  string `json:"exchange"`
	Industry  string `json:"industry"`
	IPODate   string `json:"ipo_date,omitempty"`
	MarketCap float64 `json:"market_cap,omitempty"`
}

// KeyRatios holds provider-precalculated fundamental ratios. These are
// the trusted figures the auto-corrector reaches for first.
type KeyRatios struct {
	Symbol          string   `json:"symbol"`
	ROIC            *float64 `json:"roic,omitempty"`
	GrossMargin     *float64 `json:"gross_margin,omitempty"`
	OperatingMargin *float64 `json:"operating_margin,omitempty"`
	NetMargin       *float64 `json:"net_margin,omitempty"`
	DebtToEquity    *float64 `json:"debt_to_equity,omitempty"`
}

// Fundamentals is one period's reported figures, raw components
// included so derived ratios can be rebuilt from trusted inputs.
type Fundamentals struct {
	Symbol        string   `json:"symbol"`
	Period        string   `json:"period"`
	Revenue       *float64 `json:"revenue,omitempty"`
	GrossProfit   *float64 `json:"gross_profit,omitempty"`
	OperatingCash *float64 `json:"operating_cash_flow,omitempty"`
	Capex         *float64 `json:"capital_expenditure,omitempty"`
	OwnerEarnings *float64 `json:"owner_earnings,omitempty"`
	NetIncome     *float64 `json:"net_income,omitempty"`
}

// FilingDocument is one period's annual report text.
type FilingDocument struct {
	Symbol   string `json:"symbol"`
	Period   string `json:"period"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	SourceURL string `json:"source_url,omitempty"`
}

// FilingOutcome is the explicit result of a filing fetch: either a
// document or a skip reason. An expected "filing unavailable" never
// crosses the stage boundary as an error.
type FilingOutcome struct {
	Filing     *FilingDocument `json:"filing,omitempty"`
	SkipReason string          `json:"skip_reason,omitempty"`
}

// Skipped reports whether the fetch produced no usable document.
func (fo FilingOutcome) Skipped() bool { return fo.Filing == nil }

// NewsHeadline is one scraped or API-sourced headline.
type NewsHeadline struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Summary     string    `json:"summary,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}
