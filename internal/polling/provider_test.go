package polling

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/koshedutech/oracle-worker/internal/market"
)

func TestConvertFixedPoint_NegativeNineExponent_MultiplierIsOne(t *testing.T) {
	got, err := convertFixedPoint("42000000000", -9)
	require.NoError(t, err)
	require.Equal(t, uint64(42000000000), got)
}

func TestConvertFixedPoint_ZeroExponent_DividesByTenToTheNine(t *testing.T) {
	got, err := convertFixedPoint("4200000000000000000", 0)
	require.NoError(t, err)
	require.Equal(t, uint64(4200000000000000000)/1_000_000_000, got)
}

func TestConvertFixedPoint_NegativeEightExponent(t *testing.T) {
	// diff = 9 - 8 = 1 -> multiply by 10.
	got, err := convertFixedPoint("4200000000", -8)
	require.NoError(t, err)
	require.Equal(t, uint64(42000000000), got)
}

func TestConvertFixedPoint_RejectsUnparseablePrice(t *testing.T) {
	_, err := convertFixedPoint("not-a-number", -8)
	require.Error(t, err)
}

func TestConvertFixedPoint_RejectsMultiplyOverflow(t *testing.T) {
	// diff = 9 - 8 = 1 -> u64 max * 10 overflows.
	_, err := convertFixedPoint("18446744073709551615", -8)
	require.Error(t, err)
}

func TestConvertFixedPoint_RejectsExponentBeyondScale(t *testing.T) {
	_, err := convertFixedPoint("1", 20)
	require.Error(t, err)
}

func TestCheckedPow10_KnownValues(t *testing.T) {
	v, overflow := checkedPow10(0)
	require.False(t, overflow)
	require.Equal(t, uint64(1), v)

	v, overflow = checkedPow10(9)
	require.False(t, overflow)
	require.Equal(t, uint64(1_000_000_000), v)
}

func TestFetchOne_DecodesNestedSingleFeedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"btc-feed","price":{"price":"42000000000","conf":"1000","expo":-9,"publish_time":1700000000},"ema_price":{"price":"41900000000","conf":"1200","expo":-9,"publish_time":1700000000}}`)
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, map[market.Market]string{market.BTC: "btc-feed"}, zerolog.Nop())

	price, err := p.fetchOne(context.Background(), "btc-feed", 1_700_000_000)
	require.NoError(t, err)
	require.EqualValues(t, 42_000_000_000, price)
}

func TestFetchAll_DecodesRealisticNestedBulkPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"id":"btc-feed","price":{"price":"42000000000","conf":"1000","expo":-9,"publish_time":1700000001},"ema_price":{"price":"41900000000","conf":"1200","expo":-9,"publish_time":1700000001}},
			{"id":"eth-feed","price":{"price":"2500000000000","conf":"500","expo":-8,"publish_time":1700000002},"ema_price":{"price":"2490000000000","conf":"600","expo":-8,"publish_time":1700000002}},
			{"id":"unknown-feed","price":{"price":"1","conf":"1","expo":0,"publish_time":1700000003},"ema_price":{"price":"1","conf":"1","expo":0,"publish_time":1700000003}}
		]`)
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, map[market.Market]string{
		market.BTC: "btc-feed",
		market.ETH: "eth-feed",
	}, zerolog.Nop())

	err := p.FetchAll(context.Background())
	require.NoError(t, err)

	btcPrice, err := p.Get(context.Background(), market.BTC, 1_700_000_001)
	require.NoError(t, err)
	require.EqualValues(t, 42_000_000_000, btcPrice)

	ethPrice, err := p.Get(context.Background(), market.ETH, 1_700_000_002)
	require.NoError(t, err)
	require.EqualValues(t, 25_000_000_000_000, ethPrice)
}
