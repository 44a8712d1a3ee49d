package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/regpayhq/regpay-backend/pkg/config"
	"github.com/regpayhq/regpay-backend/pkg/logger"
)

// Cache serves the USD to local-currency multiplier used when pricing
// cross-currency charges. It holds a single cached scalar with a capture
// timestamp; a fetch failure falls back to the last known value (or the
// configured default) and re-stamps the cache, so a failing upstream costs at
// most one fetch per TTL window. Multiplier never fails: this sits on the
// critical path of charge creation.
type Cache struct {
	url            string
	targetCurrency string
	ttl            time.Duration
	fetchTimeout   time.Duration
	defaultRate    float64

	httpClient *http.Client
	logg       *logger.Logger
	now        func() time.Time

	mu         sync.Mutex
	rate       float64
	capturedAt time.Time
}

// New builds the rate cache from configuration.
func New(cfg config.RatesConfig, logg *logger.Logger) (*Cache, error) {
	if cfg.URL == "" {
		return nil, errors.New("rates url is required")
	}
	if cfg.TargetCurrency == "" {
		return nil, errors.New("rates target currency is required")
	}
	if cfg.DefaultRate <= 0 {
		return nil, errors.New("rates default must be positive")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 3 * time.Second
	}
	return &Cache{
		url:            cfg.URL,
		targetCurrency: strings.ToUpper(strings.TrimSpace(cfg.TargetCurrency)),
		ttl:            ttl,
		fetchTimeout:   fetchTimeout,
		defaultRate:    cfg.DefaultRate,
		httpClient:     &http.Client{Timeout: fetchTimeout},
		logg:           logg,
		now:            time.Now,
	}, nil
}

// Multiplier returns the USD to target-currency rate. It serves the cached
// value while fresh, refreshes on expiry, and degrades to the last known or
// default value when the upstream misbehaves.
func (c *Cache) Multiplier(ctx context.Context) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.capturedAt.After(now.Add(-c.ttl)) && c.rate > 0 {
		return c.rate
	}

	fetched, err := c.fetch(ctx)
	if err != nil {
		fallback := c.rate
		if fallback <= 0 {
			fallback = c.defaultRate
		}
		if c.logg != nil {
			c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
				"fallback_rate": fallback,
				"fetch_error":   err.Error(),
			}), "rate fetch failed, serving fallback")
		}
		// re-stamp so a dead upstream is probed once per TTL window
		c.rate = fallback
		c.capturedAt = now
		return fallback
	}

	c.rate = fetched
	c.capturedAt = now
	return fetched
}

type ratesResponse struct {
	Rates map[string]float64 `json:"rates"`
}

func (c *Cache) fetch(ctx context.Context) (float64, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, fmt.Errorf("build rates request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rates upstream returned %d", resp.StatusCode)
	}

	var body ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode rates response: %w", err)
	}

	rate, ok := body.Rates[c.targetCurrency]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("rate for %s missing from response", c.targetCurrency)
	}
	return rate, nil
}
