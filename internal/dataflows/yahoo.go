package dataflows

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"
)

// YahooClient handles Yahoo Finance data operations
type YahooClient struct {
	cache *CacheManager
}

// NewYahooClient creates a new Yahoo Finance client
func NewYahooClient(config *Config) *YahooClient {
	cacheDir := filepath.Join(config.DataCacheDir, "yahoo")
	cache := NewCacheManager(cacheDir, 24*time.Hour, config.CacheEnabled)

	return &YahooClient{cache: cache}
}

// GetQuote gets current quote data for a symbol
func (yc *YahooClient) GetQuote(symbol string) (*MarketData, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	var cached MarketData
	if yc.cache.Get("yahoo", "quote", symbol, &cached) {
		return &cached, nil
	}

	var result *MarketData
	err := WithRetry(DefaultRetryConfig(), func() error {
		q, err := quote.Get(symbol)
		if err != nil {
			return fmt.Errorf("failed to get quote for %s: %w", symbol, err)
		}
		if q == nil {
			return fmt.Errorf("no quote returned for %s", symbol)
		}

		result = &MarketData{
			Symbol:   symbol,
			Date:     time.Now(),
			Open:     decimal.NewFromFloat(q.RegularMarketOpen),
			High:     decimal.NewFromFloat(q.RegularMarketDayHigh),
			Low:      decimal.NewFromFloat(q.RegularMarketDayLow),
			Close:    decimal.NewFromFloat(q.RegularMarketPrice),
			AdjClose: decimal.NewFromFloat(q.RegularMarketPrice),
			Volume:   int64(q.RegularMarketVolume),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	_ = yc.cache.Set("yahoo", "quote", symbol, result)
	return result, nil
}

// GetHistoricalData gets daily bars for the given window.
func (yc *YahooClient) GetHistoricalData(symbol string, start, end time.Time) ([]*MarketData, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	cacheKey := map[string]string{
		"symbol": symbol,
		"start":  start.Format("2006-01-02"),
		"end":    end.Format("2006-01-02"),
	}
	var cached []*MarketData
	if yc.cache.Get("yahoo", "historical", cacheKey, &cached) {
		return cached, nil
	}

	var result []*MarketData
	err := WithRetry(DefaultRetryConfig(), func() error {
		params := &chart.Params{
			Symbol:   symbol,
			Start:    datetime.New(&start),
			End:      datetime.New(&end),
			Interval: datetime.OneDay,
		}

		iter := chart.Get(params)

		result = make([]*MarketData, 0)
		for iter.Next() {
			bar := iter.Bar()
			result = append(result, &MarketData{
				Symbol:   symbol,
				Date:     time.Unix(int64(bar.Timestamp), 0),
				Open:     bar.Open,
				High:     bar.High,
				Low:      bar.Low,
				Close:    bar.Close,
				AdjClose: bar.AdjClose,
				Volume:   int64(bar.Volume),
			})
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to get historical data for %s: %w", symbol, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	_ = yc.cache.Set("yahoo", "historical", cacheKey, result)
	return result, nil
}

// GetHistoricalWindow gets daily bars for a rolling window of days.
func (yc *YahooClient) GetHistoricalWindow(symbol string, days int) ([]*MarketData, error) {
	end := time.Now()
	start := end.AddDate(0, 0, -days)
	return yc.GetHistoricalData(symbol, start, end)
}
