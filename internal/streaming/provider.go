// Package streaming maintains a per-market, per-second average price fed by
// a live websocket tick stream. It is modeled on the trading bot's
// gorilla/websocket user-data-stream client (connect/read-loop/dispatch)
// and on the Rust coinbase.rs ticker provider this worker's streaming
// source was distilled from.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/koshedutech/oracle-worker/internal/market"
	"github.com/koshedutech/oracle-worker/internal/oraclerr"
)

const (
	committedTTL   = 3600 * time.Second
	accumulatorTTL = 60 * time.Second

	// fixedPointScale is 10^9: the fixed-point scale every price in this
	// worker is normalized to.
	fixedPointScale = 1_000_000_000
)

type accumulator struct {
	sum   uint64
	count uint32
}

// tickerMessage is the subset of a ticker-style websocket message this
// provider understands: a product identifier, a decimal price string, and
// an RFC3339 timestamp.
type tickerMessage struct {
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Time      string `json:"time"`
}

// Provider maintains committed (published) and accumulator (in-progress)
// per-second price caches for each configured market, fed by Watch().
type Provider struct {
	feedURL         string
	productToMarket map[string]market.Market
	marketToProduct map[market.Market]string

	committed    map[market.Market]*lru.LRU[int64, uint64]
	accumulators map[market.Market]*lru.LRU[int64, accumulator]

	dialer *websocket.Dialer
	logger zerolog.Logger
}

// NewProvider constructs a Provider. products maps each market to the
// upstream product identifier used in ticker messages (e.g. BTC ->
// "BTC-USD").
func NewProvider(feedURL string, products map[market.Market]string, logger zerolog.Logger) *Provider {
	p := &Provider{
		feedURL:         feedURL,
		productToMarket: make(map[string]market.Market, len(products)),
		marketToProduct: products,
		committed:       make(map[market.Market]*lru.LRU[int64, uint64], len(products)),
		accumulators:    make(map[market.Market]*lru.LRU[int64, accumulator], len(products)),
		dialer:          websocket.DefaultDialer,
		logger:          logger,
	}
	for m, product := range products {
		p.productToMarket[product] = m
		p.committed[m] = lru.NewLRU[int64, uint64](0, nil, committedTTL)
		p.accumulators[m] = lru.NewLRU[int64, accumulator](0, nil, accumulatorTTL)
	}
	return p
}

// Get returns the committed price for market m at timestamp ts, if present.
func (p *Provider) Get(m market.Market, ts int64) (uint64, bool) {
	cache, ok := p.committed[m]
	if !ok {
		return 0, false
	}
	return cache.Get(ts)
}

// Watch connects to the feed, subscribes to every configured product, and
// processes ticks until ctx is canceled or the connection fails. A
// transport error is returned to the caller (the supervisor treats that as
// fatal for the whole worker, per design).
func (p *Provider) Watch(ctx context.Context) error {
	conn, _, err := p.dialer.DialContext(ctx, p.feedURL, nil)
	if err != nil {
		return fmt.Errorf("%w: streaming dial %s: %v", oraclerr.ErrNetwork, p.feedURL, err)
	}
	defer conn.Close()

	if err := p.subscribe(conn); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: streaming read: %v", oraclerr.ErrNetwork, err)
		}

		var msg tickerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			p.logger.Warn().Err(err).Msg("streaming: skipping unparseable message")
			continue
		}
		p.processTick(msg)
	}
}

func (p *Provider) subscribe(conn *websocket.Conn) error {
	products := make([]string, 0, len(p.productToMarket))
	for product := range p.productToMarket {
		products = append(products, product)
	}
	sub := map[string]any{
		"type":        "subscribe",
		"product_ids": products,
		"channels":    []string{"ticker"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("%w: streaming subscribe: %v", oraclerr.ErrNetwork, err)
	}
	return nil
}

func (p *Provider) processTick(msg tickerMessage) {
	m, ok := p.productToMarket[msg.ProductID]
	if !ok {
		return
	}

	price, ok := parseFixedPointPrice(msg.Price)
	if !ok {
		p.logger.Warn().Str("product", msg.ProductID).Str("price", msg.Price).Msg("streaming: rejecting invalid price")
		return
	}

	ts, err := parseTickTimestamp(msg.Time)
	if err != nil {
		p.logger.Warn().Err(err).Str("product", msg.ProductID).Msg("streaming: rejecting tick with unparseable time")
		return
	}

	accCache := p.accumulators[m]
	prev, had := accCache.Get(ts)

	var next accumulator
	if had {
		sum := prev.sum + price
		if sum < prev.sum {
			p.logger.Error().Str("product", msg.ProductID).Msg("streaming: accumulator overflow, dropping tick")
			return
		}
		next = accumulator{sum: sum, count: prev.count + 1}
	} else {
		next = accumulator{sum: price, count: 1}
	}
	accCache.Add(ts, next)

	avg := next.sum / uint64(next.count)
	p.committed[m].Add(ts, avg)
}

func parseTickTimestamp(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", oraclerr.ErrDecode, err)
	}
	return t.Unix(), nil
}

// parseFixedPointPrice converts a decimal price string to 10^9-scale
// fixed-point, rejecting NaN, infinity, negative values, and overflow.
func parseFixedPointPrice(s string) (uint64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	scaled := f * fixedPointScale
	if scaled > math.MaxUint64 {
		return 0, false
	}
	return uint64(scaled), true
}
