package dataflows

import (
	"bytes"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// NewsScraperClient scrapes headline listings as a keyless fallback
// when no Finnhub API key is configured.
type NewsScraperClient struct {
	client *resty.Client
	cache  *CacheManager
}

// NewNewsScraperClient creates a new news scraper client
func NewNewsScraperClient(config *Config) *NewsScraperClient {
	cacheDir := filepath.Join(config.DataCacheDir, "news_scraper")
	cache := NewCacheManager(cacheDir, 2*time.Hour, config.CacheEnabled)

	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetHeader("User-Agent", "Mozilla/5.0 (compatible; deepvalue/1.0)")

	return &NewsScraperClient{client: client, cache: cache}
}

// SearchHeadlines scrapes Google News RSS-rendered results for the
// query and returns up to maxResults headlines.
func (ns *NewsScraperClient) SearchHeadlines(query string, maxResults int) ([]*NewsHeadline, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if maxResults <= 0 {
		maxResults = 20
	}

	cacheKey := map[string]string{"query": query, "max": fmt.Sprint(maxResults)}
	var cached []*NewsHeadline
	if ns.cache.Get("news_scraper", "search", cacheKey, &cached) {
		return cached, nil
	}

	searchURL := fmt.Sprintf("https://news.google.com/search?q=%s&hl=en-US&gl=US",
		url.QueryEscape(query))

	var result []*NewsHeadline
	err := WithRetry(DefaultRetryConfig(), func() error {
		resp, err := ns.client.R().Get(searchURL)
		if err != nil {
			return fmt.Errorf("failed to fetch news page: %w", err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("news page returned %d", resp.StatusCode())
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
		if err != nil {
			return fmt.Errorf("failed to parse news page: %w", err)
		}

		result = result[:0]
		doc.Find("article").EachWithBreak(func(i int, s *goquery.Selection) bool {
			if len(result) >= maxResults {
				return false
			}
			title := strings.TrimSpace(s.Find("a").First().Text())
			if title == "" {
				return true
			}
			href, _ := s.Find("a").First().Attr("href")
			source := strings.TrimSpace(s.Find("div[data-n-tid]").First().Text())
			result = append(result, &NewsHeadline{
				Title:       title,
				URL:         resolveNewsURL(href),
				Source:      source,
				PublishedAt: time.Now(),
			})
			return true
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	_ = ns.cache.Set("news_scraper", "search", cacheKey, result)
	return result, nil
}

func resolveNewsURL(href string) string {
	href = strings.TrimPrefix(href, "./")
	if strings.HasPrefix(href, "http") {
		return href
	}
	return "https://news.google.com/" + href
}
