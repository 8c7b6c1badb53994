// Package polling exposes a per-market TimestampCache of historical prices
// backed by a REST price-feed source, plus a periodic bulk prefetch. It
// follows the trading bot's internal/binance.Client style: plain
// net/http + encoding/json, no HTTP framework, because this is an outbound
// client, not a server.
package polling

import (
	"context"
	"encoding/json"
	"fmt"
	"math/bits"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/koshedutech/oracle-worker/internal/cache"
	"github.com/koshedutech/oracle-worker/internal/market"
	"github.com/koshedutech/oracle-worker/internal/oraclerr"
)

// priceInfo is a single {price, conf, expo, publish_time} block as returned
// nested under both "price" and "ema_price" in the upstream REST API.
type priceInfo struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

// feedResponse is the single-feed get_price_feed response shape.
type feedResponse struct {
	Price priceInfo `json:"price"`
}

// bulkFeedEntry is one element of the latest_price_feeds bulk response
// shape: {id, price: priceInfo, ema_price: priceInfo}.
type bulkFeedEntry struct {
	ID       string    `json:"id"`
	Price    priceInfo `json:"price"`
	EmaPrice priceInfo `json:"ema_price"`
}

// Provider exposes per-market cached prices backed by a REST feed.
type Provider struct {
	httpClient   *http.Client
	baseURL      string
	feedIDs      map[market.Market]string
	feedToMarket map[string]market.Market
	caches       map[market.Market]*cache.TimestampCache[uint64]
	logger       zerolog.Logger
}

// NewProvider constructs a Provider. feedIDs maps each market to the
// upstream feed identifier (e.g. a Pyth price-feed hex id).
func NewProvider(baseURL string, feedIDs map[market.Market]string, logger zerolog.Logger) *Provider {
	p := &Provider{
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		baseURL:      baseURL,
		feedIDs:      feedIDs,
		feedToMarket: make(map[string]market.Market, len(feedIDs)),
		caches:       make(map[market.Market]*cache.TimestampCache[uint64], len(feedIDs)),
		logger:       logger,
	}
	for m, feedID := range feedIDs {
		p.feedToMarket[feedID] = m
		feedID := feedID
		p.caches[m] = cache.New(func(ctx context.Context, ts int64) (uint64, error) {
			return p.fetchOne(ctx, feedID, ts)
		}, logger)
	}
	return p
}

// Get returns the price for market m at timestamp ts, single-flight-fetching
// from the REST source on a cache miss.
func (p *Provider) Get(ctx context.Context, m market.Market, ts int64) (uint64, error) {
	c, ok := p.caches[m]
	if !ok {
		return 0, fmt.Errorf("%w: no polling feed configured for market %s", oraclerr.ErrConfig, m)
	}
	return c.Get(ctx, ts)
}

func (p *Provider) fetchOne(ctx context.Context, feedID string, ts int64) (uint64, error) {
	endpoint := fmt.Sprintf("%s/api/get_price_feed?id=%s&publish_time=%d", p.baseURL, url.QueryEscape(feedID), ts)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: building request: %v", oraclerr.ErrNetwork, err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: get_price_feed %s: %v", oraclerr.ErrNetwork, feedID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return 0, fmt.Errorf("%w: get_price_feed %s: status %d", oraclerr.ErrNetwork, feedID, resp.StatusCode)
	}

	var fr feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return 0, fmt.Errorf("%w: decoding price feed response: %v", oraclerr.ErrDecode, err)
	}

	return convertFixedPoint(fr.Price.Price, fr.Price.Expo)
}

// FetchAll issues a single bulk request for every configured feed and
// directly installs each result via cache.Set, bypassing the single-flight
// path. Unknown feed ids in the response are logged and ignored.
func (p *Provider) FetchAll(ctx context.Context) error {
	if len(p.feedIDs) == 0 {
		return nil
	}

	values := url.Values{}
	for _, feedID := range p.feedIDs {
		values.Add("ids[]", feedID)
	}
	endpoint := fmt.Sprintf("%s/api/latest_price_feeds?%s", p.baseURL, values.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: building bulk request: %v", oraclerr.ErrNetwork, err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: latest_price_feeds: %v", oraclerr.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: latest_price_feeds: status %d", oraclerr.ErrNetwork, resp.StatusCode)
	}

	var entries []bulkFeedEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return fmt.Errorf("%w: decoding bulk price response: %v", oraclerr.ErrDecode, err)
	}

	for _, entry := range entries {
		m, ok := p.feedToMarket[entry.ID]
		if !ok {
			p.logger.Warn().Str("feed_id", entry.ID).Msg("polling: ignoring unknown feed id")
			continue
		}
		value, err := convertFixedPoint(entry.Price.Price, entry.Price.Expo)
		if err != nil {
			p.logger.Warn().Err(err).Str("feed_id", entry.ID).Msg("polling: skipping unconvertible price")
			continue
		}
		p.caches[m].Set(entry.Price.PublishTime, value)
	}
	return nil
}

// Watch periodically calls FetchAll until ctx is canceled. Fetch errors are
// logged and do not terminate the task. interval is floored at 1 second.
func (p *Provider) Watch(ctx context.Context, interval time.Duration) error {
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.FetchAll(ctx); err != nil {
				p.logger.Error().Err(err).Msg("polling: bulk fetch failed")
			}
		}
	}
}

// convertFixedPoint normalizes a {price, expo} pair to 10^9-scale
// fixed-point: diff = 9 - |expo|; price * 10^diff if expo < 0, price /
// 10^diff if expo >= 0. Overflow on the multiply is reported as
// ArithmeticError rather than silently wrapping.
func convertFixedPoint(priceStr string, expo int32) (uint64, error) {
	price, err := strconv.ParseUint(priceStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parsing price %q: %v", oraclerr.ErrArithmetic, priceStr, err)
	}

	absExpo := expo
	if absExpo < 0 {
		absExpo = -absExpo
	}
	diff := 9 - absExpo
	if diff < 0 {
		return 0, fmt.Errorf("%w: exponent %d too large to normalize to 10^-9 scale", oraclerr.ErrArithmetic, expo)
	}

	if expo < 0 {
		multiplier, overflow := checkedPow10(uint(diff))
		if overflow {
			return 0, fmt.Errorf("%w: 10^%d overflows u64", oraclerr.ErrArithmetic, diff)
		}
		result, overflow := checkedMul(price, multiplier)
		if overflow {
			return 0, fmt.Errorf("%w: %d * 10^%d overflows u64", oraclerr.ErrArithmetic, price, diff)
		}
		return result, nil
	}

	divisor, overflow := checkedPow10(uint(diff))
	if overflow || divisor == 0 {
		return 0, fmt.Errorf("%w: 10^%d overflows u64", oraclerr.ErrArithmetic, diff)
	}
	return price / divisor, nil
}

func checkedPow10(n uint) (uint64, bool) {
	result := uint64(1)
	for i := uint(0); i < n; i++ {
		var overflow bool
		result, overflow = checkedMul(result, 10)
		if overflow {
			return 0, true
		}
	}
	return result, false
}

func checkedMul(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi != 0
}
