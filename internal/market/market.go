// Package market defines the tradeable markets the worker resolves prices
// for and their on-chain wire encoding: an 8-byte, zero-padded, uppercase
// ASCII name, and a single-byte tag used in instruction data and event
// bodies.
package market

import "fmt"

// Market identifies one of the on-chain markets the worker services. The
// numeric value is also the wire tag used in fulfill_order instruction data
// and in OraclePriceRequested event bodies.
type Market uint8

const (
	BTC Market = iota
	ETH
	SOL
)

// All lists every market the worker resolves prices for, in wire-tag order.
var All = []Market{BTC, ETH, SOL}

func (m Market) String() string {
	switch m {
	case BTC:
		return "BTC"
	case ETH:
		return "ETH"
	case SOL:
		return "SOL"
	default:
		return fmt.Sprintf("Market(%d)", uint8(m))
	}
}

// Tag returns the single-byte wire discriminant used in instruction data
// and event bodies (0=BTC, 1=ETH, 2=SOL).
func (m Market) Tag() byte {
	return byte(m)
}

// FromTag decodes a single-byte wire tag back into a Market.
func FromTag(tag byte) (Market, error) {
	switch Market(tag) {
	case BTC, ETH, SOL:
		return Market(tag), nil
	default:
		return 0, fmt.Errorf("market: unknown wire tag %d", tag)
	}
}

// Encode renders the market's 8-byte, zero-padded, uppercase ASCII name as
// used in PDA seeds (e.g. "BTC\x00\x00\x00\x00\x00").
func (m Market) Encode() [8]byte {
	var out [8]byte
	copy(out[:], m.String())
	return out
}

// Decode parses an 8-byte zero-padded ASCII market name back into a Market.
func Decode(b [8]byte) (Market, error) {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	for _, j := range b[i:] {
		if j != 0 {
			return 0, fmt.Errorf("market: encoding %q is not zero-padded after the name", b)
		}
	}
	name := string(b[:i])
	for _, m := range All {
		if m.String() == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("market: unknown encoded name %q", name)
}
