// Package worker implements the oracle worker's core loop: bootstrap
// on-chain registration, dedup and fulfill price requests from two trigger
// sources, refresh background chain state, and submit settlement
// transactions. It is the Go translation of the Rust OracleWorker this
// system was distilled from, restructured around supervisor.Run instead of
// tokio::select!.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/koshedutech/oracle-worker/internal/chain"
	"github.com/koshedutech/oracle-worker/internal/composer"
	"github.com/koshedutech/oracle-worker/internal/market"
	"github.com/koshedutech/oracle-worker/internal/oraclerr"
)

// Config holds the tunables the worker's background loops run on. Fields
// left zero fall back to the spec's stated defaults in New.
type Config struct {
	ProgramID          solana.PublicKey
	ScanInterval       time.Duration // floor 1s, default 1s
	BlockhashInterval  time.Duration // default 1s
	BalanceInterval    time.Duration // floor 5s, default 30s
	BalanceThreshold   uint64        // default 10_000 base units
}

func (c *Config) applyDefaults() {
	if c.ScanInterval < time.Second {
		c.ScanInterval = time.Second
	}
	if c.BlockhashInterval <= 0 {
		c.BlockhashInterval = time.Second
	}
	if c.BalanceInterval < 5*time.Second {
		if c.BalanceInterval == 0 {
			c.BalanceInterval = 30 * time.Second
		} else {
			c.BalanceInterval = 5 * time.Second
		}
	}
	if c.BalanceThreshold == 0 {
		c.BalanceThreshold = 10_000
	}
}

// blockhashState is the single-writer, multi-reader snapshot of recent
// chain state the worker's fulfillments read from.
type blockhashState struct {
	hash solana.Hash
	slot uint64
}

// Worker drives bootstrap, both trigger sources, background refreshes, and
// settlement submission for a single program/payer/enclave-signer triple.
type Worker struct {
	cfg Config

	chain         chain.Client
	composer      *composer.Composer
	payer         solana.PrivateKey
	enclaveSigner solana.PrivateKey

	programState  solana.PublicKey
	oracleAddress solana.PublicKey
	marketAddrs   map[market.Market]solana.PublicKey

	activeOrders mapset.Set[solana.PublicKey]

	recentBlockhash atomic.Pointer[blockhashState]
	payerBalance    atomic.Uint64

	logger zerolog.Logger
}

// New constructs a Worker. Bootstrap must be called before any of the
// trigger-source or background-refresh loops.
func New(cfg Config, client chain.Client, comp *composer.Composer, payer, enclaveSigner solana.PrivateKey, logger zerolog.Logger) (*Worker, error) {
	cfg.applyDefaults()

	programState, _, err := chain.ProgramStateAddress(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("%w: deriving program state address: %v", oraclerr.ErrConfig, err)
	}

	authority := payer.PublicKey()
	oracleAddress, _, err := chain.OracleAddress(cfg.ProgramID, authority)
	if err != nil {
		return nil, fmt.Errorf("%w: deriving oracle address: %v", oraclerr.ErrConfig, err)
	}

	marketAddrs := make(map[market.Market]solana.PublicKey, len(market.All))
	for _, m := range market.All {
		addr, _, err := chain.MarketAddress(cfg.ProgramID, programState, m)
		if err != nil {
			return nil, fmt.Errorf("%w: deriving market address for %s: %v", oraclerr.ErrConfig, m, err)
		}
		marketAddrs[m] = addr
	}

	w := &Worker{
		cfg:           cfg,
		chain:         client,
		composer:      comp,
		payer:         payer,
		enclaveSigner: enclaveSigner,
		programState:  programState,
		oracleAddress: oracleAddress,
		marketAddrs:   marketAddrs,
		activeOrders:  mapset.NewSet[solana.PublicKey](),
		logger:        logger.With().Str("component", "worker").Logger(),
	}
	return w, nil
}

// Bootstrap locates the program-state account, then registers the worker's
// enclave signer on-chain if it isn't already registered with the current
// key. It must succeed before any trigger source starts.
func (w *Worker) Bootstrap(ctx context.Context) error {
	if _, err := w.chain.GetAccountInfo(ctx, w.programState, chain.CommitmentProcessed); err != nil {
		return fmt.Errorf("%w: program state account %s not found: %v", oraclerr.ErrConfig, w.programState, err)
	}

	info, err := w.chain.GetAccountInfo(ctx, w.oracleAddress, chain.CommitmentProcessed)
	if err == nil {
		oracle, decodeErr := chain.DecodeOracleAccount(info.Data)
		if decodeErr == nil && oracle.EnclaveSigner == w.enclaveSigner.PublicKey() {
			w.logger.Info().Str("oracle", w.oracleAddress.String()).Msg("bootstrap: oracle already registered with current enclave signer")
			return nil
		}
	}

	w.logger.Info().Str("oracle", w.oracleAddress.String()).Msg("bootstrap: registering oracle")
	return w.registerOracle(ctx)
}

func (w *Worker) registerOracle(ctx context.Context) error {
	authority := w.payer.PublicKey()

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(w.programState, true, false),
		solana.NewAccountMeta(w.oracleAddress, true, false),
		solana.NewAccountMeta(w.enclaveSigner.PublicKey(), false, true),
		solana.NewAccountMeta(authority, false, true),
		solana.NewAccountMeta(authority, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}

	ix := solana.NewInstruction(w.cfg.ProgramID, accounts, chain.EncodeRegisterOracleData())

	sig, err := w.signAndSend(ctx, ix, w.payer, w.enclaveSigner)
	if err != nil {
		return fmt.Errorf("registering oracle: %w", err)
	}
	w.logger.Info().Str("signature", sig.String()).Msg("bootstrap: register_oracle submitted")
	return nil
}

// signAndSend builds a transaction from a single instruction using the most
// recently cached blockhash, signs with the given keys, and submits it.
func (w *Worker) signAndSend(ctx context.Context, ix solana.Instruction, signers ...solana.PrivateKey) (solana.Signature, error) {
	state := w.recentBlockhash.Load()
	if state == nil {
		return solana.Signature{}, fmt.Errorf("%w: no cached blockhash yet", oraclerr.ErrNetwork)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		state.hash,
		solana.TransactionPayer(w.payer.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: building transaction: %v", oraclerr.ErrNetwork, err)
	}

	byKey := make(map[solana.PublicKey]solana.PrivateKey, len(signers))
	for _, s := range signers {
		byKey[s.PublicKey()] = s
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key, ok := byKey[key]; ok {
			return &key
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("%w: signing transaction: %v", oraclerr.ErrNetwork, err)
	}

	return w.chain.SendTransaction(ctx, tx)
}
