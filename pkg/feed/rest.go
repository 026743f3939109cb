package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tradeforge/boxbot/pkg/types"
)

// DefaultTimeout is the per-request timeout applied to API calls.
const DefaultTimeout = 30 * time.Second

// MaxRetries is the number of retry attempts for transient errors.
const MaxRetries = 3

// RESTConfig holds optional configuration for the history client.
type RESTConfig struct {
	// Timeout per HTTP request. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxRetries for transient errors. Zero means the package default.
	MaxRetries int

	// Logger for debug/info output. Nil uses slog.Default().
	Logger *slog.Logger

	// EnableCache enables in-memory caching of responses.
	EnableCache bool
}

// RESTClient fetches historical OHLCV bars from a bar-history HTTP API.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	logger     *slog.Logger

	cacheMu sync.RWMutex
	cache   map[string]cacheEntry
	cacheOn bool
}

type cacheEntry struct {
	bars      []types.Bar
	fetchedAt time.Time
}

// cacheTTL bounds how long a cached range is served before refetching.
const cacheTTL = 5 * time.Minute

// NewRESTClient creates a history client. baseURL includes scheme and host,
// e.g. "http://localhost:8000". A nil config uses defaults.
func NewRESTClient(baseURL string, cfg *RESTConfig) *RESTClient {
	timeout := DefaultTimeout
	retries := MaxRetries
	logger := slog.Default()
	enableCache := false

	if cfg != nil {
		if cfg.Timeout > 0 {
			timeout = cfg.Timeout
		}
		if cfg.MaxRetries > 0 {
			retries = cfg.MaxRetries
		}
		if cfg.Logger != nil {
			logger = cfg.Logger
		}
		enableCache = cfg.EnableCache
	}

	logger.Info("History client initialised",
		"base_url", baseURL,
		"timeout", timeout,
		"max_retries", retries,
		"cache", enableCache,
	)

	return &RESTClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: retries,
		logger:     logger,
		cache:      make(map[string]cacheEntry),
		cacheOn:    enableCache,
	}
}

type barsResponse struct {
	Symbol   string       `json:"symbol"`
	Interval string       `json:"interval"`
	Count    int          `json:"count"`
	Bars     []barPayload `json:"bars"`
}

type barPayload struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

func (p barPayload) toBar() (types.Bar, error) {
	ts, err := ParseTimestamp(p.Timestamp)
	if err != nil {
		return types.Bar{}, err
	}
	return types.Bar{
		Timestamp: ts,
		Open:      p.Open,
		High:      p.High,
		Low:       p.Low,
		Close:     p.Close,
		Volume:    p.Volume,
	}, nil
}

type apiError struct {
	Detail string `json:"detail"`
}

// GetBars fetches bars for [start, end] in ascending timestamp order.
func (c *RESTClient) GetBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]types.Bar, error) {
	key := fmt.Sprintf("%s|%s|%d|%d", symbol, interval, start.Unix(), end.Unix())
	if c.cacheOn {
		c.cacheMu.RLock()
		entry, ok := c.cache[key]
		c.cacheMu.RUnlock()
		if ok && time.Since(entry.fetchedAt) < cacheTTL {
			c.logger.Debug("History cache hit", "key", key)
			return entry.bars, nil
		}
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	endpoint := fmt.Sprintf("%s/api/v1/bars?%s", c.baseURL, q.Encode())

	var resp barsResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	bars := make([]types.Bar, 0, len(resp.Bars))
	for i, p := range resp.Bars {
		bar, err := p.toBar()
		if err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}
		bars = append(bars, bar)
	}

	if c.cacheOn {
		c.cacheMu.Lock()
		c.cache[key] = cacheEntry{bars: bars, fetchedAt: time.Now()}
		c.cacheMu.Unlock()
	}
	return bars, nil
}

// getJSON performs a GET with retry on transient failures and decodes the
// JSON body into out.
func (c *RESTClient) getJSON(ctx context.Context, endpoint string, out any) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt-1) * time.Second
			c.logger.Debug("Retrying request", "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading response body: %w", err)
			continue
		}

		switch {
		case httpResp.StatusCode == http.StatusOK:
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
			return nil
		case httpResp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error %d", httpResp.StatusCode)
			continue
		default:
			var ae apiError
			if json.Unmarshal(body, &ae) == nil && ae.Detail != "" {
				return fmt.Errorf("API error %d: %s", httpResp.StatusCode, ae.Detail)
			}
			return fmt.Errorf("API error %d", httpResp.StatusCode)
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", c.maxRetries, lastErr)
}
