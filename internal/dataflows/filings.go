package dataflows

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// secTickerMapURL serves the registrant list mapping every listed
// ticker to its CIK number.
const secTickerMapURL = "https://www.sec.gov/files/company_tickers.json"

// FilingsClient fetches annual-report text from the SEC full-text
// archive. Fetches return an explicit outcome: a missing filing is an
// expected condition and comes back as a skip reason, not an error.
type FilingsClient struct {
	client       *resty.Client
	cache        *CacheManager
	tickerMapURL string

	mu          sync.Mutex
	cikByTicker map[string]string
}

// NewFilingsClient creates a new filings client
func NewFilingsClient(config *Config) *FilingsClient {
	cacheDir := filepath.Join(config.DataCacheDir, "filings")
	cache := NewCacheManager(cacheDir, 7*24*time.Hour, config.CacheEnabled)

	client := resty.New()
	client.SetBaseURL("https://data.sec.gov")
	client.SetTimeout(45 * time.Second)
	// SEC requires an identifying user agent.
	client.SetHeader("User-Agent", config.SECUserAgent)

	return &FilingsClient{client: client, cache: cache, tickerMapURL: secTickerMapURL}
}

type secSubmissions struct {
	CIK     string `json:"cik"`
	Name    string `json:"name"`
	Filings struct {
		Recent struct {
			Form         []string `json:"form"`
			FilingDate   []string `json:"filingDate"`
			AccessionNum []string `json:"accessionNumber"`
			PrimaryDoc   []string `json:"primaryDocument"`
		} `json:"recent"`
	} `json:"filings"`
}

// ResolveCIK maps a ticker symbol to its SEC CIK number via the
// registrant list, which is fetched once per client and kept on disk.
func (fc *FilingsClient) ResolveCIK(symbol string) (string, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return "", err
	}
	symbol = NormalizeSymbol(symbol)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.cikByTicker == nil {
		m, err := fc.loadCIKMap()
		if err != nil {
			return "", err
		}
		fc.cikByTicker = m
	}
	cik, ok := fc.cikByTicker[symbol]
	if !ok {
		return "", fmt.Errorf("%w: no SEC registrant for %s", ErrUnknownSymbol, symbol)
	}
	return cik, nil
}

type secTickerEntry struct {
	CIK    int64  `json:"cik_str"`
	Ticker string `json:"ticker"`
}

func (fc *FilingsClient) loadCIKMap() (map[string]string, error) {
	cacheKey := map[string]string{"source": "company_tickers"}
	var cached map[string]string
	if fc.cache.Get("filings", "cik_map", cacheKey, &cached) && len(cached) > 0 {
		return cached, nil
	}

	var body []byte
	err := WithRetry(&RetryConfig{MaxRetries: 1, BaseDelay: 2 * time.Second, MaxDelay: 5 * time.Second, Multiplier: 2.0}, func() error {
		resp, err := fc.client.R().Get(fc.tickerMapURL)
		if err != nil {
			return fmt.Errorf("failed to fetch SEC registrant list: %w", err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("API error %d fetching SEC registrant list", resp.StatusCode())
		}
		body = resp.Body()
		return nil
	})
	if err != nil {
		return nil, err
	}

	var entries map[string]secTickerEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse SEC registrant list: %w", err)
	}
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[strings.ToUpper(e.Ticker)] = strconv.FormatInt(e.CIK, 10)
	}
	_ = fc.cache.Set("filings", "cik_map", cacheKey, m)
	return m, nil
}

// GetAnnualFiling fetches the annual report filed for the given fiscal
// year. An empty cik is resolved from the ticker first; a ticker with
// no SEC registrant is a skip, not an error. The outcome is either a
// document or a skip reason; only transport-level failures surface as
// errors (and those are already retried once here).
func (fc *FilingsClient) GetAnnualFiling(symbol, cik string, year int) (FilingOutcome, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return FilingOutcome{SkipReason: err.Error()}, nil
	}
	symbol = NormalizeSymbol(symbol)
	period := strconv.Itoa(year)

	cacheKey := map[string]string{"symbol": symbol, "year": period}
	var cached FilingOutcome
	if fc.cache.Get("filings", "annual", cacheKey, &cached) && !cached.Skipped() {
		return cached, nil
	}

	if cik == "" {
		resolved, err := fc.ResolveCIK(symbol)
		if err != nil {
			return FilingOutcome{SkipReason: fmt.Sprintf("no SEC registrant mapping for %s: %v", symbol, err)}, nil
		}
		cik = resolved
	}

	var outcome FilingOutcome
	err := WithRetry(&RetryConfig{MaxRetries: 1, BaseDelay: 2 * time.Second, MaxDelay: 5 * time.Second, Multiplier: 2.0}, func() error {
		resp, err := fc.client.R().
			Get(fmt.Sprintf("/submissions/CIK%s.json", padCIK(cik)))
		if err != nil {
			return fmt.Errorf("failed to fetch submissions for %s: %w", symbol, err)
		}
		if resp.StatusCode() == 404 {
			outcome = FilingOutcome{SkipReason: fmt.Sprintf("no SEC submissions for %s", symbol)}
			return nil
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("API error %d: %s", resp.StatusCode(), resp.String())
		}

		var subs secSubmissions
		if err := json.Unmarshal(resp.Body(), &subs); err != nil {
			return fmt.Errorf("failed to parse submissions response: %w", err)
		}

		accession, doc := findAnnualReport(&subs, year)
		if accession == "" {
			outcome = FilingOutcome{SkipReason: fmt.Sprintf("no annual report filed for fiscal %d", year)}
			return nil
		}

		docResp, err := fc.client.R().
			SetHeader("Host", "www.sec.gov").
			Get(fmt.Sprintf("https://www.sec.gov/Archives/edgar/data/%s/%s/%s",
				strings.TrimLeft(cik, "0"), strings.ReplaceAll(accession, "-", ""), doc))
		if err != nil {
			return fmt.Errorf("failed to fetch filing document: %w", err)
		}
		if docResp.StatusCode() != 200 {
			return fmt.Errorf("API error %d fetching filing document", docResp.StatusCode())
		}

		outcome = FilingOutcome{Filing: &FilingDocument{
			Symbol:    symbol,
			Period:    period,
			Title:     fmt.Sprintf("%s annual report FY%d", symbol, year),
			Text:      stripHTML(string(docResp.Body())),
			SourceURL: docResp.Request.URL,
		}}
		return nil
	})
	if err != nil {
		return FilingOutcome{}, err
	}

	if !outcome.Skipped() {
		_ = fc.cache.Set("filings", "annual", cacheKey, outcome)
	}
	return outcome, nil
}

func findAnnualReport(subs *secSubmissions, year int) (accession, doc string) {
	recent := subs.Filings.Recent
	for i, form := range recent.Form {
		if form != "10-K" || i >= len(recent.FilingDate) || i >= len(recent.AccessionNum) {
			continue
		}
		// A fiscal year's 10-K is filed early the following calendar year.
		filed, err := time.Parse("2006-01-02", recent.FilingDate[i])
		if err != nil {
			continue
		}
		if filed.Year() == year || filed.Year() == year+1 {
			if i < len(recent.PrimaryDoc) {
				return recent.AccessionNum[i], recent.PrimaryDoc[i]
			}
		}
	}
	return "", ""
}

var (
	tagRe    = regexp.MustCompile(`<[^>]*>`)
	spaceRe  = regexp.MustCompile(`[ \t]+`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// stripHTML reduces a filing document to plain text.
func stripHTML(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = spaceRe.ReplaceAllString(s, " ")
	s = blankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func padCIK(cik string) string {
	cik = strings.TrimSpace(cik)
	for len(cik) < 10 {
		cik = "0" + cik
	}
	return cik
}
