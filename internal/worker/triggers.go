package worker

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/koshedutech/oracle-worker/internal/chain"
	"github.com/koshedutech/oracle-worker/internal/oraclerr"
)

const maxEventStreamAttempts = 3

// WatchEvents subscribes to on-chain logs mentioning the program and
// dispatches OraclePriceRequested events to handlePriceRequest.
// OraclePriceFulfilled events are logged only. On subscribe or stream
// failure it retries with exponential backoff (500ms, doubling, capped at
// 5s), making at most maxEventStreamAttempts attempts in total, then returns
// an error — the supervisor treats that as fatal for the whole worker.
func (w *Worker) WatchEvents(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 5 * time.Second
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	for attempt := 1; ; attempt++ {
		sub, err := w.chain.SubscribeLogs(ctx, w.cfg.ProgramID, chain.CommitmentProcessed)
		if err == nil {
			err = w.consumeLogs(ctx, sub)
			sub.Close()
		}
		if err == nil {
			return nil // ctx was canceled cleanly during consumeLogs
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.logger.Error().Err(err).Int("attempt", attempt).Msg("event stream: failed")
		if attempt >= maxEventStreamAttempts {
			return fmt.Errorf("%w: event stream: giving up after %d attempts: %v", oraclerr.ErrNetwork, attempt, err)
		}

		wait := b.NextBackOff()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (w *Worker) consumeLogs(ctx context.Context, sub chain.LogSubscription) error {
	for {
		lines, err := sub.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, line := range lines {
			w.handleLogLine(ctx, line)
		}
	}
}

// handleLogLine base64-decodes each whitespace-separated token in a log
// line and dispatches any that match a known event discriminator.
// Malformed tokens are skipped silently.
func (w *Worker) handleLogLine(ctx context.Context, line string) {
	for _, token := range strings.Fields(line) {
		decoded, err := base64.StdEncoding.DecodeString(token)
		if err != nil || len(decoded) < 8 {
			continue
		}

		disc := [8]byte(decoded[:8])
		body := decoded[8:]

		switch disc {
		case chain.DiscOraclePriceRequested:
			evt, err := chain.DecodeOraclePriceRequestedEvent(body)
			if err != nil {
				w.logger.Warn().Err(err).Msg("event stream: malformed price-requested event, skipping")
				continue
			}
			w.handlePriceRequest(ctx, evt.Order, evt.Market, evt.Timestamp)

		case chain.DiscOraclePriceFulfilled:
			evt, err := chain.DecodeOraclePriceFulfilledEvent(body)
			if err != nil {
				w.logger.Warn().Err(err).Msg("event stream: malformed price-fulfilled event, skipping")
				continue
			}
			w.logger.Info().
				Str("order", evt.Order.String()).
				Str("market", evt.Market.String()).
				Uint64("price", evt.Price).
				Int64("latency_seconds", evt.LatencySec).
				Msg("observed price-fulfilled event")
		}
	}
}

// WatchOpenOrders scans program-owned accounts matching the open-order
// filter every ScanInterval, fulfilling any newly observed open order.
// Failures remove the order from ActiveOrders so the next scan retries it.
func (w *Worker) WatchOpenOrders(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.scanOnce(ctx); err != nil {
				w.logger.Error().Err(err).Msg("scanner: scan failed")
			}
		}
	}
}

func (w *Worker) scanOnce(ctx context.Context) error {
	accounts, err := w.chain.GetProgramAccounts(ctx, w.cfg.ProgramID, []chain.AccountFilter{chain.OpenOrderFilter()})
	if err != nil {
		return fmt.Errorf("%w: scanning open orders: %v", oraclerr.ErrNetwork, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, acct := range accounts {
		acct := acct
		record, err := chain.DecodeOrderAccount(acct.Data)
		if err != nil {
			w.logger.Warn().Err(err).Str("account", acct.Pubkey.String()).Msg("scanner: skipping undecodable order account")
			continue
		}
		if !w.activeOrders.Add(acct.Pubkey) {
			continue // already active, either fulfilling or already fulfilled this run
		}

		g.Go(func() error {
			if err := w.fulfillOrder(gctx, acct.Pubkey, record.Market, record.OpenTimestamp); err != nil {
				w.logger.Error().Err(err).Str("order", acct.Pubkey.String()).Msg("scanner: fulfill_order failed")
				w.activeOrders.Remove(acct.Pubkey)
			}
			return nil
		})
	}
	return g.Wait()
}

// WatchBlockhash refreshes the cached recent blockhash and slot every
// BlockhashInterval. Failures are logged and ignored; readers keep the
// last-known-good value.
func (w *Worker) WatchBlockhash(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.BlockhashInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.RefreshBlockhash(ctx); err != nil {
				w.logger.Error().Err(err).Msg("blockhash refresh failed")
			}
		}
	}
}

// RefreshBlockhash fetches the current blockhash and slot once and stores
// it. Exported so callers can seed the cache before WatchBlockhash's first
// tick.
func (w *Worker) RefreshBlockhash(ctx context.Context) error {
	hash, slot, err := w.chain.GetLatestBlockhash(ctx, chain.CommitmentProcessed)
	if err != nil {
		return err
	}
	w.recentBlockhash.Store(&blockhashState{hash: hash, slot: slot})
	return nil
}

// WatchPayerBalance refreshes the cached payer balance every
// BalanceInterval and terminates the process (by returning a fatal error)
// if it drops to or below BalanceThreshold.
func (w *Worker) WatchPayerBalance(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.BalanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			balance, err := w.chain.GetBalance(ctx, w.payer.PublicKey(), chain.CommitmentProcessed)
			if err != nil {
				w.logger.Error().Err(err).Msg("balance refresh failed")
				continue
			}
			w.payerBalance.Store(balance)

			if balance <= w.cfg.BalanceThreshold {
				w.logger.Error().
					Uint64("balance_lamports", balance).
					Float64("balance_sol", float64(balance)/1e9).
					Uint64("threshold_lamports", w.cfg.BalanceThreshold).
					Msg("payer balance at or below threshold, exiting")
				return fmt.Errorf("%w: payer balance %d <= threshold %d", oraclerr.ErrInsufficientFunds, balance, w.cfg.BalanceThreshold)
			}
		}
	}
}
