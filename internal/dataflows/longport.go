package dataflows

import (
	"context"
	"errors"

	lpconfig "github.com/longportapp/openapi-go/config"
	"github.com/longportapp/openapi-go/quote"
)

// LongportClient is the alternate market-data source. It is only
// constructed when Longport credentials are configured.
type LongportClient struct {
	quoteCtx *quote.QuoteContext
}

// NewLongportClient creates a Longport quote client from config.
func NewLongportClient(cfg *Config) (*LongportClient, error) {
	if cfg.LongportAppKey == "" || cfg.LongportAppSecret == "" || cfg.LongportAccessToken == "" {
		return nil, errors.New("longport API credentials not configured")
	}

	conf, err := lpconfig.New(lpconfig.WithConfigKey(cfg.LongportAppKey, cfg.LongportAppSecret, cfg.LongportAccessToken))
	if err != nil {
		return nil, err
	}

	quoteContext, err := quote.NewFromCfg(conf)
	if err != nil {
		return nil, err
	}

	return &LongportClient{quoteCtx: quoteContext}, nil
}

// GetStaticInfo fetches exchange/listing metadata for symbols.
func (lc *LongportClient) GetStaticInfo(ctx context.Context, symbols []string) ([]*quote.StaticInfo, error) {
	if lc.quoteCtx == nil {
		return nil, errors.New("quote context is nil")
	}
	return lc.quoteCtx.StaticInfo(ctx, symbols)
}

// GetDailySticks fetches the most recent daily candlesticks.
func (lc *LongportClient) GetDailySticks(ctx context.Context, symbol string, count int) ([]*quote.Candlestick, error) {
	if lc.quoteCtx == nil {
		return nil, errors.New("quote context is nil")
	}
	return lc.quoteCtx.Candlesticks(ctx, symbol, quote.PeriodDay, int32(count), quote.AdjustTypeNo)
}
