// Package tools defines the external data tools the reasoning engine
// may request, each wrapping a provider client from dataflows.
package tools

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/cloudwego/eino/components/tool"
	t_utils "github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/longportapp/openapi-go/quote"
	"github.com/shopspring/decimal"

	"github.com/deepvalue-ai/deepvalue/internal/config"
	"github.com/deepvalue-ai/deepvalue/internal/dataflows"
)

// Tool names. The cache fingerprints and the extractor's adapters key
// off these, so they are constants rather than literals at call sites.
const (
	ToolCompanyProfile = "get_company_profile"
	ToolKeyRatios      = "get_key_ratios"
	ToolFundamentals   = "get_fundamentals"
	ToolMarketData     = "get_market_data"
	ToolCompanyFiling  = "get_company_filing"
	ToolCompanyNews    = "get_company_news"
)

// ProfileInput is the input for the company profile tool.
type ProfileInput struct {
	Symbol string `json:"symbol"`
}

// RatiosInput is the input for the key ratios tool.
type RatiosInput struct {
	Symbol string `json:"symbol"`
}

// FundamentalsInput is the input for the fundamentals tool.
type FundamentalsInput struct {
	Symbol string `json:"symbol"`
	Year   int    `json:"year"`
}

// MarketDataInput is the input for the market data tool.
type MarketDataInput struct {
	Symbol string `json:"symbol"`
	Days   int    `json:"days"`
}

// MarketDataOutput wraps the returned price bars.
type MarketDataOutput struct {
	Data []*dataflows.MarketData `json:"data"`
}

// FilingInput is the input for the company filing tool.
type FilingInput struct {
	Symbol string `json:"symbol"`
	CIK    string `json:"cik,omitempty"`
	Year   int    `json:"year"`
}

// NewsInput is the input for the company news tool.
type NewsInput struct {
	Symbol string `json:"symbol"`
	Days   int    `json:"days"`
}

// NewsOutput wraps the returned headlines.
type NewsOutput struct {
	Headlines []*dataflows.NewsHeadline `json:"headlines"`
}

// NewCompanyProfileTool resolves the subject's identity.
func NewCompanyProfileTool(cfg *config.Config) tool.InvokableTool {
	finnhub := dataflows.NewFinnhubClient(cfg)
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name: ToolCompanyProfile,
			Desc: "Get the company profile (name, exchange, industry) for a ticker symbol",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"symbol": {
					Type:     "string",
					Desc:     "The stock ticker symbol",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, input ProfileInput) (*dataflows.CompanyProfile, error) {
			if input.Symbol == "" {
				return nil, fmt.Errorf("symbol parameter is required")
			}
			return finnhub.GetCompanyProfile(input.Symbol)
		},
	)
}

// NewKeyRatiosTool fetches provider-precalculated fundamental ratios.
func NewKeyRatiosTool(cfg *config.Config) tool.InvokableTool {
	finnhub := dataflows.NewFinnhubClient(cfg)
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name: ToolKeyRatios,
			Desc: "Get precalculated fundamental ratios (ROIC, margins, leverage) for a ticker symbol",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"symbol": {
					Type:     "string",
					Desc:     "The stock ticker symbol",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, input RatiosInput) (*dataflows.KeyRatios, error) {
			if input.Symbol == "" {
				return nil, fmt.Errorf("symbol parameter is required")
			}
			return finnhub.GetKeyRatios(input.Symbol)
		},
	)
}

// NewFundamentalsTool fetches one fiscal year's reported figures.
func NewFundamentalsTool(cfg *config.Config) tool.InvokableTool {
	finnhub := dataflows.NewFinnhubClient(cfg)
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name: ToolFundamentals,
			Desc: "Get reported annual financials (revenue, cash flows, capex) for a ticker and fiscal year",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"symbol": {
					Type:     "string",
					Desc:     "The stock ticker symbol",
					Required: true,
				},
				"year": {
					Type:     "integer",
					Desc:     "Fiscal year, e.g. 2023",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, input FundamentalsInput) (*dataflows.Fundamentals, error) {
			if input.Symbol == "" {
				return nil, fmt.Errorf("symbol parameter is required")
			}
			if input.Year == 0 {
				return nil, fmt.Errorf("year parameter is required")
			}
			return finnhub.GetAnnualFundamentals(input.Symbol, input.Year)
		},
	)
}

// NewMarketDataTool fetches recent daily price bars, preferring the
// Longport feed when credentials exist and falling back to Yahoo.
func NewMarketDataTool(cfg *config.Config) tool.InvokableTool {
	yahoo := dataflows.NewYahooClient(cfg)
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name: ToolMarketData,
			Desc: "Get recent daily market data (OHLCV) for a ticker symbol",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"symbol": {
					Type:     "string",
					Desc:     "The stock ticker symbol",
					Required: true,
				},
				"days": {
					Type:     "integer",
					Desc:     "Number of days to retrieve (default: 250)",
					Required: false,
				},
			}),
		},
		func(ctx context.Context, input MarketDataInput) (*MarketDataOutput, error) {
			if input.Symbol == "" {
				return nil, fmt.Errorf("symbol parameter is required")
			}
			days := input.Days
			if days <= 0 {
				days = 250
			}

			if lp, err := dataflows.NewLongportClient(cfg); err == nil {
				sticks, err := lp.GetDailySticks(ctx, input.Symbol, days)
				if err == nil && len(sticks) > 0 {
					return &MarketDataOutput{Data: barsFromSticks(input.Symbol, sticks)}, nil
				}
				log.Printf("longport market data failed for %s, falling back to yahoo: %v", input.Symbol, err)
			}

			bars, err := yahoo.GetHistoricalWindow(input.Symbol, days)
			if err != nil {
				return nil, err
			}
			return &MarketDataOutput{Data: bars}, nil
		},
	)
}

// barsFromSticks maps Longport candlesticks onto daily bars. Price
// fields come back as pointers and are nil on halted or partial days.
func barsFromSticks(symbol string, sticks []*quote.Candlestick) []*dataflows.MarketData {
	data := make([]*dataflows.MarketData, 0, len(sticks))
	for _, stick := range sticks {
		data = append(data, &dataflows.MarketData{
			Symbol:   symbol,
			Date:     time.Unix(stick.Timestamp, 0),
			Open:     decimalValue(stick.Open),
			High:     decimalValue(stick.High),
			Low:      decimalValue(stick.Low),
			Close:    decimalValue(stick.Close),
			AdjClose: decimalValue(stick.Close),
			Volume:   stick.Volume,
		})
	}
	return data
}

func decimalValue(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Decimal{}
	}
	return *d
}

// NewCompanyFilingTool fetches annual-report text for one fiscal year.
func NewCompanyFilingTool(cfg *config.Config) tool.InvokableTool {
	filings := dataflows.NewFilingsClient(cfg)
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name: ToolCompanyFiling,
			Desc: "Get the annual report filing text for a ticker and fiscal year",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"symbol": {
					Type:     "string",
					Desc:     "The stock ticker symbol",
					Required: true,
				},
				"cik": {
					Type:     "string",
					Desc:     "SEC CIK number, if known",
					Required: false,
				},
				"year": {
					Type:     "integer",
					Desc:     "Fiscal year, e.g. 2023",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, input FilingInput) (*dataflows.FilingOutcome, error) {
			if input.Symbol == "" {
				return nil, fmt.Errorf("symbol parameter is required")
			}
			outcome, err := filings.GetAnnualFiling(input.Symbol, input.CIK, input.Year)
			if err != nil {
				return nil, err
			}
			return &outcome, nil
		},
	)
}

// NewCompanyNewsTool fetches recent headlines, via Finnhub when a key
// is configured and a scraper otherwise.
func NewCompanyNewsTool(cfg *config.Config) tool.InvokableTool {
	finnhub := dataflows.NewFinnhubClient(cfg)
	scraper := dataflows.NewNewsScraperClient(cfg)
	hasKey := cfg.FinnhubAPIKey != ""
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name: ToolCompanyNews,
			Desc: "Get recent news headlines for a ticker symbol",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"symbol": {
					Type:     "string",
					Desc:     "The stock ticker symbol",
					Required: true,
				},
				"days": {
					Type:     "integer",
					Desc:     "Lookback window in days (default: 14)",
					Required: false,
				},
			}),
		},
		func(ctx context.Context, input NewsInput) (*NewsOutput, error) {
			if input.Symbol == "" {
				return nil, fmt.Errorf("symbol parameter is required")
			}
			days := input.Days
			if days <= 0 {
				days = 14
			}
			if hasKey {
				to := time.Now()
				from := to.AddDate(0, 0, -days)
				headlines, err := finnhub.GetCompanyNews(input.Symbol, from, to)
				if err == nil {
					return &NewsOutput{Headlines: headlines}, nil
				}
				log.Printf("finnhub news failed for %s, falling back to scraper: %v", input.Symbol, err)
			}
			headlines, err := scraper.SearchHeadlines(input.Symbol+" stock "+strconv.Itoa(time.Now().Year()), 20)
			if err != nil {
				return nil, err
			}
			return &NewsOutput{Headlines: headlines}, nil
		},
	)
}
