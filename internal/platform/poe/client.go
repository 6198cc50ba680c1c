// Package poe reads the Path of Exile public stash tab stream.
package poe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

const (
	DefaultBaseURL         = "http://www.pathofexile.com/api"
	DefaultStatsURL        = "http://poe.ninja/api/Data/GetStats"
	DefaultRequestInterval = 1100 * time.Millisecond
	DefaultRetries         = 10
	DefaultRetryWait       = time.Second
	DefaultRetryMaxWait    = 2 * time.Minute
	DefaultTimeout         = 60 * time.Second

	stashTabsPath = "/public-stash-tabs"
	// sharedLimitKey names the stream in a cross-process rate limiter.
	sharedLimitKey = "stash-api"
)

// ErrMissingChangeID is returned when a response lacks next_change_id.
var ErrMissingChangeID = errors.New("poe: next_change_id required field not present in response")

// ClientConfig configures the stash API client. Zero values take the
// package defaults.
type ClientConfig struct {
	BaseURL         string
	StatsURL        string
	RequestInterval time.Duration
	Retries         int
	RetryWait       time.Duration
	RetryMaxWait    time.Duration
	Timeout         time.Duration
	UserAgent       string
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.StatsURL == "" {
		c.StatsURL = DefaultStatsURL
	}
	if c.RequestInterval == 0 {
		c.RequestInterval = DefaultRequestInterval
	}
	if c.Retries == 0 {
		c.Retries = DefaultRetries
	}
	if c.RetryWait == 0 {
		c.RetryWait = DefaultRetryWait
	}
	if c.RetryMaxWait == 0 {
		c.RetryMaxWait = DefaultRetryMaxWait
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Client fetches stash pages with retries and request pacing.
type Client struct {
	http     *resty.Client
	statsURL string
	interval time.Duration
	limiter  *rate.Limiter
	shared   domain.RateLimiter
	logger   *slog.Logger
}

// NewClient creates a Client. shared is optional; when set, every request
// also waits on it so several processes can share one request budget.
func NewClient(cfg ClientConfig, shared domain.RateLimiter, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	hc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryCondition(retryable).
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		hc.SetHeader("User-Agent", cfg.UserAgent)
	}
	return &Client{
		http:     hc,
		statsURL: cfg.StatsURL,
		interval: cfg.RequestInterval,
		limiter:  rate.NewLimiter(rate.Every(cfg.RequestInterval), 1),
		shared:   shared,
		logger:   logger.With(slog.String("component", "stash_api")),
	}
}

// retryable retries transport errors and the gateway-style 5xx statuses.
func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	switch resp.StatusCode() {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if c.shared != nil {
		return c.shared.Wait(ctx, sharedLimitKey, 1, c.interval)
	}
	return nil
}

// FetchPage requests the page that starts at changeID; an empty changeID
// requests the beginning of the stream.
func (c *Client) FetchPage(ctx context.Context, changeID string) (*Page, error) {
	if err := c.wait(ctx); err != nil {
		return nil, fmt.Errorf("poe: fetch page %q: %w", changeID, err)
	}

	req := c.http.R().SetContext(ctx)
	if changeID != "" {
		c.logger.InfoContext(ctx, "requesting next stash set", slog.String("change_id", changeID))
		req.SetQueryParam("id", changeID)
	} else {
		c.logger.InfoContext(ctx, "requesting first stash set")
	}
	resp, err := req.Get(stashTabsPath)
	if err != nil {
		return nil, fmt.Errorf("poe: fetch page %q: %w", changeID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("poe: fetch page %q: status %d", changeID, resp.StatusCode())
	}
	return DecodePage(resp.Body(), c.logger)
}

// DecodePage parses a raw page. Stashes that fail to decode or validate are
// logged and dropped.
func DecodePage(raw []byte, logger *slog.Logger) (*Page, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var env pageEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("poe: decode page: %w", err)
	}
	if env.NextChangeID == nil {
		return nil, ErrMissingChangeID
	}

	page := &Page{NextChangeID: *env.NextChangeID, Raw: raw, Stashes: make([]APIStash, 0, len(env.Stashes))}
	for i, rawStash := range env.Stashes {
		var s APIStash
		err := json.Unmarshal(rawStash, &s)
		if err == nil {
			err = s.Validate()
		}
		if err != nil {
			logger.Warn("invalid stash", slog.Int("index", i), slog.String("error", err.Error()))
			page.Skipped++
			continue
		}
		page.Stashes = append(page.Stashes, s)
	}
	return page, nil
}

// LatestChangeID asks poe.ninja for the newest change id, for starting at
// the head of the stream.
func (c *Client) LatestChangeID(ctx context.Context) (string, error) {
	var stats struct {
		NextChangeID string `json:"next_change_id"`
	}
	resp, err := c.http.R().SetContext(ctx).Get(c.statsURL)
	if err != nil {
		return "", fmt.Errorf("poe: latest change id: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("poe: latest change id: status %d", resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), &stats); err != nil {
		return "", fmt.Errorf("poe: decode stats: %w", err)
	}
	if stats.NextChangeID == "" {
		return "", fmt.Errorf("poe: latest change id: %w", ErrMissingChangeID)
	}
	return stats.NextChangeID, nil
}
