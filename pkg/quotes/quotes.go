// Package quotes fetches gold and silver prices in BRL per gram.
package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"metalcalc_backend/pkg/calculator"
	"metalcalc_backend/pkg/config"
	"metalcalc_backend/pkg/metrics"
)

const GramsPerTroyOunce = 31.1035

// Used when the upstream is unreachable or returns garbage.
const (
	FallbackGold   = 370.00
	FallbackSilver = 4.50
)

const (
	SourceLive     = "awesomeapi"
	SourceFallback = "fallback"
)

type Quote struct {
	Gold      float64   `json:"gold"`
	Silver    float64   `json:"silver"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}

func (q Quote) PricePerGram(metal calculator.Metal) float64 {
	if metal == calculator.Silver {
		return q.Silver
	}
	return q.Gold
}

func Fallback(now time.Time) Quote {
	return Quote{Gold: FallbackGold, Silver: FallbackSilver, Source: SourceFallback, FetchedAt: now}
}

// Client caches the last live quote for the configured TTL. Concurrent
// refreshes share one upstream request.
type Client struct {
	url    string
	ttl    time.Duration
	http   *http.Client
	logger zerolog.Logger
	now    func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	cached  Quote
	expires time.Time
}

func NewClient(cfg config.QuotesConfig, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		url:    cfg.URL,
		ttl:    cfg.CacheTTL,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		now:    time.Now,
	}
}

// Current never fails: on upstream errors it logs and returns the fallback
// quote, which is not cached.
func (c *Client) Current(ctx context.Context) Quote {
	c.mu.RLock()
	if c.now().Before(c.expires) {
		q := c.cached
		c.mu.RUnlock()
		metrics.RecordQuoteFetch("cached")
		return q
	}
	c.mu.RUnlock()

	// the refresh is shared, so one caller giving up must not fail the others;
	// the http client timeout still bounds it
	fetchCtx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do("quote", func() (interface{}, error) {
		q, err := c.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cached = q
		c.expires = q.FetchedAt.Add(c.ttl)
		c.mu.Unlock()
		return q, nil
	})
	if err != nil {
		metrics.RecordQuoteFetch("fallback")
		c.logger.Warn().Err(err).Msg("Could not fetch metal quotes, using fallback prices")
		return Fallback(c.now())
	}
	metrics.RecordQuoteFetch("live")
	return v.(Quote)
}

type pair struct {
	Bid string `json:"bid"`
}

type response struct {
	Gold   *pair `json:"XAUBRL"`
	Silver *pair `json:"XAGBRL"`
}

func (c *Client) fetch(ctx context.Context) (Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("quotes request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("quotes upstream returned %d", resp.StatusCode)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, fmt.Errorf("decode quotes: %w", err)
	}

	gold, err := perGram(body.Gold)
	if err != nil {
		return Quote{}, fmt.Errorf("gold: %w", err)
	}
	silver, err := perGram(body.Silver)
	if err != nil {
		return Quote{}, fmt.Errorf("silver: %w", err)
	}
	return Quote{Gold: gold, Silver: silver, Source: SourceLive, FetchedAt: c.now()}, nil
}

func perGram(p *pair) (float64, error) {
	if p == nil {
		return 0, fmt.Errorf("missing from response")
	}
	ounce, err := strconv.ParseFloat(p.Bid, 64)
	if err != nil || ounce <= 0 {
		return 0, fmt.Errorf("invalid bid %q", p.Bid)
	}
	return ounce / GramsPerTroyOunce, nil
}
