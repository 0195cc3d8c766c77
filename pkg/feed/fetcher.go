package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Source describes where one retailer's feed comes from: either a direct URL
// or a (banner id, feed id) pair resolved against the partner endpoint.
type Source struct {
	Name     string
	FeedURL  string
	BannerID int64
	FeedID   int64
}

// Fetcher retrieves retailer feed documents over HTTP
type Fetcher struct {
	client          *http.Client
	partnerEndpoint string
	partnerID       string
	userAgent       string
}

// FetcherConfig holds fetcher settings
type FetcherConfig struct {
	Timeout         time.Duration
	PartnerEndpoint string // templated partner-feed endpoint for sources without a direct URL
	PartnerID       string
	UserAgent       string
}

// NewFetcher creates a feed fetcher
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "garnscope/1.0"
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		partnerEndpoint: cfg.PartnerEndpoint,
		partnerID:       cfg.PartnerID,
		userAgent:       cfg.UserAgent,
	}
}

// FeedURL resolves the feed URL for a source. Sources without a direct URL
// need both banner and feed ids; anything less is a configuration error
// raised before any fetch is attempted.
func (f *Fetcher) FeedURL(src Source) (string, error) {
	if src.FeedURL != "" {
		return src.FeedURL, nil
	}
	if src.BannerID == 0 || src.FeedID == 0 {
		return "", fmt.Errorf("retailer %q has neither feed_url nor both banner_id and feed_id", src.Name)
	}
	if f.partnerEndpoint == "" || f.partnerID == "" {
		return "", fmt.Errorf("partner endpoint not configured for retailer %q", src.Name)
	}

	q := url.Values{}
	q.Set("partnerid", f.partnerID)
	q.Set("bannerid", fmt.Sprintf("%d", src.BannerID))
	q.Set("feedid", fmt.Sprintf("%d", src.FeedID))
	return f.partnerEndpoint + "?" + q.Encode(), nil
}

// Fetch retrieves the raw feed document. The body is returned as-is; the
// parser handles the feed's legacy encoding.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}
	return data, nil
}
