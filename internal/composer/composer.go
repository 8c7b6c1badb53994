// Package composer combines the polling (authoritative, historical) and
// streaming (live cross-check, often absent) price sources into the single
// value a fulfillment submits on-chain.
package composer

import (
	"context"
	"fmt"

	"github.com/koshedutech/oracle-worker/internal/market"
	"github.com/koshedutech/oracle-worker/internal/oraclerr"
)

// PollingSource resolves the authoritative historical price for a market at
// a timestamp, fetching on demand.
type PollingSource interface {
	Get(ctx context.Context, m market.Market, ts int64) (uint64, error)
}

// StreamingSource exposes an already-committed live price for a market at a
// timestamp, if one was observed.
type StreamingSource interface {
	Get(m market.Market, ts int64) (uint64, bool)
}

// Composer produces the price a fulfillment submits on-chain, combining the
// two sources. A median of three-plus sources can be substituted by
// implementing a new Composer with the same Compose signature.
type Composer struct {
	Polling   PollingSource
	Streaming StreamingSource
}

// New constructs a Composer over the given sources.
func New(polling PollingSource, streaming StreamingSource) *Composer {
	return &Composer{Polling: polling, Streaming: streaming}
}

// Compose resolves the price for market m at timestamp ts: polling alone if
// streaming has no entry, or the floor of their average if it does.
func (c *Composer) Compose(ctx context.Context, m market.Market, ts int64) (uint64, error) {
	polled, err := c.Polling.Get(ctx, m, ts)
	if err != nil {
		return 0, err
	}

	streamed, ok := c.Streaming.Get(m, ts)
	if !ok {
		return polled, nil
	}

	sum := polled + streamed
	if sum < polled {
		return 0, fmt.Errorf("%w: composing %s@%d: polling+streaming overflows u64", oraclerr.ErrArithmetic, m, ts)
	}
	return sum / 2, nil
}
