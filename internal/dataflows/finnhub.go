package dataflows

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// FinnhubClient handles Finnhub API operations
type FinnhubClient struct {
	client *resty.Client
	cache  *CacheManager
	apiKey string
}

// NewFinnhubClient creates a new Finnhub client
func NewFinnhubClient(config *Config) *FinnhubClient {
	cacheDir := filepath.Join(config.DataCacheDir, "finnhub")
	cache := NewCacheManager(cacheDir, 6*time.Hour, config.CacheEnabled)

	client := resty.New()
	client.SetBaseURL("https://finnhub.io/api/v1")
	client.SetTimeout(30 * time.Second)

	return &FinnhubClient{
		client: client,
		cache:  cache,
		apiKey: config.FinnhubAPIKey,
	}
}

type finnhubProfile struct {
	Name                 string  `json:"name"`
	Ticker               string  `json:"ticker"`
	Exchange             string  `json:"exchange"`
	FinnhubIndustry      string  `json:"finnhubIndustry"`
	IPO                  string  `json:"ipo"`
	MarketCapitalization float64 `json:"marketCapitalization"`
}

// GetCompanyProfile resolves the subject's identity. An empty profile
// means the ticker is unknown to the provider.
func (fc *FinnhubClient) GetCompanyProfile(symbol string) (*CompanyProfile, error) {
	if fc.apiKey == "" {
		return nil, fmt.Errorf("Finnhub API key not configured")
	}
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	var cached CompanyProfile
	if fc.cache.Get("finnhub", "profile", symbol, &cached) {
		return &cached, nil
	}

	var result *CompanyProfile
	err := WithRetry(DefaultRetryConfig(), func() error {
		resp, err := fc.client.R().
			SetQueryParams(map[string]string{
				"symbol": symbol,
				"token":  fc.apiKey,
			}).
			Get("/stock/profile2")
		if err != nil {
			return fmt.Errorf("failed to fetch profile for %s: %w", symbol, err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("API error %d: %s", resp.StatusCode(), resp.String())
		}

		var raw finnhubProfile
		if err := json.Unmarshal(resp.Body(), &raw); err != nil {
			return fmt.Errorf("failed to parse profile response: %w", err)
		}
		if raw.Ticker == "" && raw.Name == "" {
			return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
		}
		result = &CompanyProfile{
			Symbol:    symbol,
			Name:      raw.Name,
			Exchange:  raw.Exchange,
			Industry:  raw.FinnhubIndustry,
			IPODate:   raw.IPO,
			MarketCap: raw.MarketCapitalization,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	_ = fc.cache.Set("finnhub", "profile", symbol, result)
	return result, nil
}

type finnhubMetrics struct {
	Metric map[string]json.RawMessage `json:"metric"`
}

// GetKeyRatios fetches provider-precalculated fundamental ratios.
func (fc *FinnhubClient) GetKeyRatios(symbol string) (*KeyRatios, error) {
	if fc.apiKey == "" {
		return nil, fmt.Errorf("Finnhub API key not configured")
	}
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	var cached KeyRatios
	if fc.cache.Get("finnhub", "key_ratios", symbol, &cached) {
		return &cached, nil
	}

	var result *KeyRatios
	err := WithRetry(DefaultRetryConfig(), func() error {
		resp, err := fc.client.R().
			SetQueryParams(map[string]string{
				"symbol": symbol,
				"metric": "all",
				"token":  fc.apiKey,
			}).
			Get("/stock/metric")
		if err != nil {
			return fmt.Errorf("failed to fetch metrics for %s: %w", symbol, err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("API error %d: %s", resp.StatusCode(), resp.String())
		}

		var raw finnhubMetrics
		if err := json.Unmarshal(resp.Body(), &raw); err != nil {
			return fmt.Errorf("failed to parse metrics response: %w", err)
		}

		result = &KeyRatios{Symbol: symbol}
		// Finnhub reports percentage figures; ratios are carried as
		// fractions everywhere downstream.
		result.ROIC = pctField(raw.Metric, "roicTTM", "roiTTM")
		result.GrossMargin = pctField(raw.Metric, "grossMarginTTM", "grossMarginAnnual")
		result.OperatingMargin = pctField(raw.Metric, "operatingMarginTTM", "operatingMarginAnnual")
		result.NetMargin = pctField(raw.Metric, "netProfitMarginTTM", "netProfitMarginAnnual")
		result.DebtToEquity = rawField(raw.Metric, "totalDebt/totalEquityAnnual", "totalDebt/totalEquityQuarterly")
		return nil
	})
	if err != nil {
		return nil, err
	}

	_ = fc.cache.Set("finnhub", "key_ratios", symbol, result)
	return result, nil
}

// pctField reads the first present metric key and converts the
// percentage figure to a fraction.
func pctField(metrics map[string]json.RawMessage, keys ...string) *float64 {
	if v := rawField(metrics, keys...); v != nil {
		frac := *v / 100.0
		return &frac
	}
	return nil
}

func rawField(metrics map[string]json.RawMessage, keys ...string) *float64 {
	for _, k := range keys {
		raw, ok := metrics[k]
		if !ok {
			continue
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err == nil {
			return &v
		}
	}
	return nil
}

type finnhubFinancials struct {
	Data []struct {
		Year   int `json:"year"`
		Report struct {
			IC []finnhubLineItem `json:"ic"`
			CF []finnhubLineItem `json:"cf"`
		} `json:"report"`
	} `json:"data"`
}

type finnhubLineItem struct {
	Concept string  `json:"concept"`
	Label   string  `json:"label"`
	Value   float64 `json:"value"`
}

// GetAnnualFundamentals fetches one fiscal year's reported figures,
// raw cash-flow components included.
func (fc *FinnhubClient) GetAnnualFundamentals(symbol string, year int) (*Fundamentals, error) {
	if fc.apiKey == "" {
		return nil, fmt.Errorf("Finnhub API key not configured")
	}
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	cacheKey := map[string]string{"symbol": symbol, "year": strconv.Itoa(year)}
	var cached Fundamentals
	if fc.cache.Get("finnhub", "fundamentals", cacheKey, &cached) {
		return &cached, nil
	}

	var result *Fundamentals
	err := WithRetry(DefaultRetryConfig(), func() error {
		resp, err := fc.client.R().
			SetQueryParams(map[string]string{
				"symbol": symbol,
				"freq":   "annual",
				"token":  fc.apiKey,
			}).
			Get("/stock/financials-reported")
		if err != nil {
			return fmt.Errorf("failed to fetch financials for %s: %w", symbol, err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("API error %d: %s", resp.StatusCode(), resp.String())
		}

		var raw finnhubFinancials
		if err := json.Unmarshal(resp.Body(), &raw); err != nil {
			return fmt.Errorf("failed to parse financials response: %w", err)
		}

		for _, entry := range raw.Data {
			if entry.Year != year {
				continue
			}
			f := &Fundamentals{Symbol: symbol, Period: strconv.Itoa(year)}
			f.Revenue = lineItem(entry.Report.IC, "us-gaap_Revenues", "us-gaap_RevenueFromContractWithCustomerExcludingAssessedTax")
			f.GrossProfit = lineItem(entry.Report.IC, "us-gaap_GrossProfit")
			f.NetIncome = lineItem(entry.Report.IC, "us-gaap_NetIncomeLoss")
			f.OperatingCash = lineItem(entry.Report.CF, "us-gaap_NetCashProvidedByUsedInOperatingActivities")
			f.Capex = lineItem(entry.Report.CF, "us-gaap_PaymentsToAcquirePropertyPlantAndEquipment")
			result = f
			return nil
		}
		return fmt.Errorf("no annual report for %s year %d", symbol, year)
	})
	if err != nil {
		return nil, err
	}

	_ = fc.cache.Set("finnhub", "fundamentals", cacheKey, result)
	return result, nil
}

func lineItem(items []finnhubLineItem, concepts ...string) *float64 {
	for _, c := range concepts {
		for _, it := range items {
			if it.Concept == c {
				v := it.Value
				return &v
			}
		}
	}
	return nil
}

type finnhubNews struct {
	DateTime int64  `json:"datetime"`
	Headline string `json:"headline"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

// GetCompanyNews gets news articles for a specific company
func (fc *FinnhubClient) GetCompanyNews(symbol string, from, to time.Time) ([]*NewsHeadline, error) {
	if fc.apiKey == "" {
		return nil, fmt.Errorf("Finnhub API key not configured")
	}
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	cacheKey := map[string]string{
		"symbol": symbol,
		"from":   from.Format("2006-01-02"),
		"to":     to.Format("2006-01-02"),
	}
	var cached []*NewsHeadline
	if fc.cache.Get("finnhub", "company_news", cacheKey, &cached) {
		return cached, nil
	}

	var result []*NewsHeadline
	err := WithRetry(DefaultRetryConfig(), func() error {
		resp, err := fc.client.R().
			SetQueryParams(map[string]string{
				"symbol": symbol,
				"from":   from.Format("2006-01-02"),
				"to":     to.Format("2006-01-02"),
				"token":  fc.apiKey,
			}).
			Get("/company-news")
		if err != nil {
			return fmt.Errorf("failed to fetch news for %s: %w", symbol, err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("API error %d: %s", resp.StatusCode(), resp.String())
		}

		var raw []finnhubNews
		if err := json.Unmarshal(resp.Body(), &raw); err != nil {
			return fmt.Errorf("failed to parse news response: %w", err)
		}

		result = make([]*NewsHeadline, 0, len(raw))
		for _, n := range raw {
			result = append(result, &NewsHeadline{
				Title:       n.Headline,
				URL:         n.URL,
				Source:      n.Source,
				Summary:     n.Summary,
				PublishedAt: time.Unix(n.DateTime, 0),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	_ = fc.cache.Set("finnhub", "company_news", cacheKey, result)
	return result, nil
}
