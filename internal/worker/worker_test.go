package worker

import (
	"context"
	"encoding/binary"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/koshedutech/oracle-worker/internal/chain"
	"github.com/koshedutech/oracle-worker/internal/composer"
	"github.com/koshedutech/oracle-worker/internal/market"
)

// stubChain is a minimal in-memory chain.Client for exercising Worker
// without a network.
type stubChain struct {
	sendCount  atomic.Int32
	sendErr    error
	balance    uint64
	balanceErr error
	accountErr error
	latestHash solana.Hash

	// oracleAccountData, when non-nil, is returned as the oracle address's
	// account data instead of an empty (undecodable) payload.
	oracleAccountData []byte
}

func (s *stubChain) GetAccountInfo(ctx context.Context, addr solana.PublicKey, commitment chain.Commitment) (*chain.AccountInfo, error) {
	if s.accountErr != nil {
		return nil, s.accountErr
	}
	if s.oracleAccountData != nil {
		return &chain.AccountInfo{Data: s.oracleAccountData}, nil
	}
	return &chain.AccountInfo{Data: []byte{}}, nil
}

func (s *stubChain) GetLatestBlockhash(ctx context.Context, commitment chain.Commitment) (solana.Hash, uint64, error) {
	return s.latestHash, 1, nil
}

func (s *stubChain) GetBalance(ctx context.Context, addr solana.PublicKey, commitment chain.Commitment) (uint64, error) {
	if s.balanceErr != nil {
		return 0, s.balanceErr
	}
	return s.balance, nil
}

func (s *stubChain) GetProgramAccounts(ctx context.Context, programID solana.PublicKey, filters []chain.AccountFilter) ([]chain.ProgramAccount, error) {
	return nil, nil
}

func (s *stubChain) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	s.sendCount.Add(1)
	if s.sendErr != nil {
		return solana.Signature{}, s.sendErr
	}
	return solana.Signature{1, 2, 3}, nil
}

func (s *stubChain) SubscribeLogs(ctx context.Context, programID solana.PublicKey, commitment chain.Commitment) (chain.LogSubscription, error) {
	return nil, errors.New("not implemented in stub")
}

type stubPollingSource struct {
	value uint64
	err   error
}

func (s stubPollingSource) Get(ctx context.Context, m market.Market, ts int64) (uint64, error) {
	return s.value, s.err
}

type stubStreamingSource struct{}

func (stubStreamingSource) Get(m market.Market, ts int64) (uint64, bool) { return 0, false }

func newTestWorker(t *testing.T, c *stubChain, pollValue uint64, pollErr error) *Worker {
	t.Helper()
	payer := solana.NewWallet().PrivateKey
	enclaveSigner := solana.NewWallet().PrivateKey

	comp := composer.New(stubPollingSource{value: pollValue, err: pollErr}, stubStreamingSource{})

	w, err := New(Config{ProgramID: solana.NewWallet().PublicKey()}, c, comp, payer, enclaveSigner, zerolog.Nop())
	require.NoError(t, err)
	w.recentBlockhash.Store(&blockhashState{hash: solana.Hash{1}, slot: 1})
	return w
}

func TestHandlePriceRequest_DuplicateTrigger_FulfillsExactlyOnce(t *testing.T) {
	c := &stubChain{balance: 1_000_000}
	w := newTestWorker(t, c, 42_000_000_000_000, nil)

	order := solana.NewWallet().PublicKey()
	w.handlePriceRequest(context.Background(), order, market.BTC, 1_700_000_000)
	w.handlePriceRequest(context.Background(), order, market.BTC, 1_700_000_000)

	require.EqualValues(t, 1, c.sendCount.Load())
	require.True(t, w.activeOrders.Contains(order))
}

func TestHandlePriceRequest_FulfillFailure_RemovesFromActiveOrders(t *testing.T) {
	c := &stubChain{sendErr: errors.New("rpc down")}
	w := newTestWorker(t, c, 1, nil)

	order := solana.NewWallet().PublicKey()
	w.handlePriceRequest(context.Background(), order, market.ETH, 5)

	require.False(t, w.activeOrders.Contains(order))
}

func TestWatchPayerBalance_AtThreshold_ReturnsFatalError(t *testing.T) {
	c := &stubChain{balance: 10_000}
	w := newTestWorker(t, c, 1, nil)
	w.cfg.BalanceInterval = 5 * time.Millisecond
	w.cfg.BalanceThreshold = 10_000

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := w.WatchPayerBalance(ctx)
	require.Error(t, err)
}

// buildOracleAccountBytes encodes an OracleAccount's on-chain layout for
// tests: DiscOracleAccount || bump(1) || authority(32) || enclaveSigner(32)
// || verificationTime(8) || verificationSlot(8) || validUntilSlot(8).
func buildOracleAccountBytes(authority, enclaveSigner solana.PublicKey) []byte {
	body := make([]byte, 1+32+32+8+8+8)
	copy(body[1:33], authority[:])
	copy(body[33:65], enclaveSigner[:])
	binary.LittleEndian.PutUint64(body[65:73], 1_700_000_000)
	binary.LittleEndian.PutUint64(body[73:81], 1)
	binary.LittleEndian.PutUint64(body[81:89], 1_000_000)

	out := append([]byte{}, chain.DiscOracleAccount[:]...)
	return append(out, body...)
}

func TestBootstrap_NoOracleAccountYet_RegistersOracle(t *testing.T) {
	c := &stubChain{}
	w := newTestWorker(t, c, 1, nil)

	// stubChain.GetAccountInfo returns an empty (undecodable) account for
	// the oracle lookup, so Bootstrap falls through to registration.
	err := w.Bootstrap(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, c.sendCount.Load())
}

func TestBootstrap_OracleAlreadyRegisteredWithCurrentSigner_IsIdempotent(t *testing.T) {
	c := &stubChain{}
	w := newTestWorker(t, c, 1, nil)
	c.oracleAccountData = buildOracleAccountBytes(w.payer.PublicKey(), w.enclaveSigner.PublicKey())

	err := w.Bootstrap(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, c.sendCount.Load())
}

func TestBootstrap_OracleRegisteredWithDifferentSigner_ReRegisters(t *testing.T) {
	c := &stubChain{}
	w := newTestWorker(t, c, 1, nil)
	c.oracleAccountData = buildOracleAccountBytes(w.payer.PublicKey(), solana.NewWallet().PublicKey())

	err := w.Bootstrap(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, c.sendCount.Load())
}
