package worker

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/koshedutech/oracle-worker/internal/chain"
	"github.com/koshedutech/oracle-worker/internal/market"
)

// handlePriceRequest dedups order against ActiveOrders and, for a newly
// seen order, attempts fulfillment. A failed attempt removes the order so
// the next trigger (scan or event) retries it. Each attempt gets its own
// trace id so concurrent fulfillments can be told apart in the logs.
func (w *Worker) handlePriceRequest(ctx context.Context, order solana.PublicKey, m market.Market, ts int64) {
	traceID := uuid.NewString()
	logger := w.logger.With().Str("trace_id", traceID).Logger()

	if !w.activeOrders.Add(order) {
		logger.Debug().Str("order", order.String()).Msg("order already active, skipping duplicate trigger")
		return
	}

	if err := w.fulfillOrderTraced(ctx, logger, order, m, ts); err != nil {
		logger.Error().Err(err).Str("order", order.String()).Str("market", m.String()).Msg("fulfill_order failed")
		w.activeOrders.Remove(order)
		return
	}

	logger.Info().Str("order", order.String()).Str("market", m.String()).Msg("order fulfilled")
	// Deliberately left in ActiveOrders: suppresses duplicate triggers
	// racing on-chain confirmation for the rest of the process lifetime.
}

// fulfillOrder composes the price for (market, ts) and submits a
// fulfill_order transaction. It does not retry internally; callers rely on
// the scanner's periodic re-observation of still-open orders.
func (w *Worker) fulfillOrder(ctx context.Context, order solana.PublicKey, m market.Market, ts int64) error {
	return w.fulfillOrderTraced(ctx, w.logger, order, m, ts)
}

func (w *Worker) fulfillOrderTraced(ctx context.Context, logger zerolog.Logger, order solana.PublicKey, m market.Market, ts int64) error {
	price, err := w.composer.Compose(ctx, m, ts)
	if err != nil {
		return fmt.Errorf("composing price: %w", err)
	}

	marketAddr, ok := w.marketAddrs[m]
	if !ok {
		return fmt.Errorf("no derived address for market %s", m)
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(order, true, false),
		solana.NewAccountMeta(w.programState, false, false),
		solana.NewAccountMeta(marketAddr, false, false),
		solana.NewAccountMeta(w.oracleAddress, true, false),
		solana.NewAccountMeta(w.enclaveSigner.PublicKey(), false, true),
	}

	ix := solana.NewInstruction(w.cfg.ProgramID, accounts, chain.EncodeFulfillOrderData(m, price))

	sig, err := w.signAndSend(ctx, ix, w.payer, w.enclaveSigner)
	if err != nil {
		return fmt.Errorf("submitting fulfill_order: %w", err)
	}

	logger.Info().
		Str("order", order.String()).
		Str("market", m.String()).
		Uint64("price", price).
		Str("signature", sig.String()).
		Msg("fulfill_order submitted")
	return nil
}
