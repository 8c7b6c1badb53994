// Command worker runs the oracle worker: it bootstraps on-chain
// registration, watches for price-quote requests on two trigger paths, and
// submits signed settlement transactions back on-chain until told to stop.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	vaultapi "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"

	"github.com/koshedutech/oracle-worker/config"
	"github.com/koshedutech/oracle-worker/internal/chain"
	"github.com/koshedutech/oracle-worker/internal/composer"
	"github.com/koshedutech/oracle-worker/internal/keystore"
	"github.com/koshedutech/oracle-worker/internal/logging"
	"github.com/koshedutech/oracle-worker/internal/market"
	"github.com/koshedutech/oracle-worker/internal/oraclerr"
	"github.com/koshedutech/oracle-worker/internal/polling"
	"github.com/koshedutech/oracle-worker/internal/streaming"
	"github.com/koshedutech/oracle-worker/internal/supervisor"
	"github.com/koshedutech/oracle-worker/internal/worker"
)

// shutdownGrace is a fixed pause between supervisor.Run returning and the
// process exiting. supervisor.Run itself waits for every loop to return, so
// this pause does not cut short a loop that ignores cancellation.
const shutdownGrace = time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "oracle-worker: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:      cfg.LogLevel,
		Output:     cfg.LogOutput,
		JSONFormat: cfg.LogJSONFormat,
		Component:  "main",
	})
	logging.SetDefault(logger)
	logger.Info().Msg("oracle worker starting")

	payer, err := loadPayer(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load payer key")
	}

	enclaveSigner, err := loadEnclaveSigner(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load enclave signer")
	}

	programID, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		logger.Fatal().Err(err).Str("program_id", cfg.ProgramID).Msg("invalid PROGRAM_ID")
	}

	chainClient := chain.NewSolanaAdapter(cfg.RPCURL, cfg.WSURL, logger)

	pollingProvider := polling.NewProvider(cfg.PythRPCURL, map[market.Market]string{
		market.BTC: cfg.FeedIDs.BTC,
		market.ETH: cfg.FeedIDs.ETH,
		market.SOL: cfg.FeedIDs.SOL,
	}, logger)

	streamingProvider := streaming.NewProvider(cfg.StreamingFeedURL, map[market.Market]string{
		market.BTC: cfg.StreamingProducts["BTC"],
		market.ETH: cfg.StreamingProducts["ETH"],
		market.SOL: cfg.StreamingProducts["SOL"],
	}, logger)

	priceComposer := composer.New(pollingProvider, streamingProvider)

	w, err := worker.New(worker.Config{
		ProgramID:         programID,
		ScanInterval:      cfg.ScanInterval,
		BlockhashInterval: cfg.BlockhashInterval,
		BalanceInterval:   cfg.BalanceInterval,
		BalanceThreshold:  cfg.BalanceThreshold,
	}, chainClient, priceComposer, payer, enclaveSigner, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Seed the blockhash cache before Bootstrap: register_oracle signs and
	// submits a transaction, which needs one already cached.
	if err := seedBlockhash(ctx, w); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed initial blockhash")
	}

	if err := w.Bootstrap(ctx); err != nil {
		logger.Fatal().Err(err).Msg("bootstrap failed")
	}
	logger.Info().Msg("bootstrap complete")

	runErr := supervisor.Run(ctx, logger,
		supervisor.Task{Name: "blockhash", Run: w.WatchBlockhash},
		supervisor.Task{Name: "payer_balance", Run: w.WatchPayerBalance},
		supervisor.Task{Name: "event_stream", Run: w.WatchEvents},
		supervisor.Task{Name: "open_order_scan", Run: w.WatchOpenOrders},
		supervisor.Task{Name: "streaming_provider", Run: streamingProvider.Watch},
		supervisor.Task{Name: "polling_provider", Run: func(ctx context.Context) error {
			return pollingProvider.Watch(ctx, time.Second)
		}},
	)

	stop()
	time.Sleep(shutdownGrace)

	if runErr == nil || errors.Is(runErr, context.Canceled) {
		logger.Info().Msg("oracle worker shut down cleanly")
		return
	}

	var fatal = errors.Is(runErr, oraclerr.ErrConfig) ||
		errors.Is(runErr, oraclerr.ErrInsufficientFunds) ||
		errors.Is(runErr, oraclerr.ErrSubsystemExited)
	if fatal {
		logger.Fatal().Err(runErr).Msg("oracle worker exiting")
	}
	logger.Error().Err(runErr).Msg("oracle worker exiting")
	os.Exit(1)
}

// loadPayer resolves the fee-payer/authority key from PAYER_SECRET bytes or
// a keypair file at FS_PAYER_SECRET_PATH, per spec.md §6 (exactly one must
// be set; config.Load already enforces that).
func loadPayer(cfg *config.Config) (solana.PrivateKey, error) {
	if len(cfg.PayerSecret) > 0 {
		if len(cfg.PayerSecret) != 64 {
			return nil, fmt.Errorf("%w: PAYER_SECRET must decode to 64 bytes, got %d", oraclerr.ErrConfig, len(cfg.PayerSecret))
		}
		return solana.PrivateKey(cfg.PayerSecret), nil
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.FSPayerSecretPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading FS_PAYER_SECRET_PATH: %v", oraclerr.ErrConfig, err)
	}
	return key, nil
}

// loadEnclaveSigner loads or generates the enclave's signing key from
// Vault or a local sealed file, per internal/keystore.
func loadEnclaveSigner(cfg *config.Config, logger zerolog.Logger) (solana.PrivateKey, error) {
	var store keystore.Store
	if cfg.VaultEnabled {
		vc, err := vaultapi.NewClient(&vaultapi.Config{Address: cfg.VaultAddress})
		if err != nil {
			return nil, fmt.Errorf("%w: constructing vault client: %v", oraclerr.ErrConfig, err)
		}
		vc.SetToken(cfg.VaultToken)
		store = &keystore.VaultStore{Client: vc, MountPath: cfg.VaultMountPath, SecretPath: cfg.VaultSecretPath}
		logger.Info().Str("mount", cfg.VaultMountPath).Msg("enclave signer backed by vault")
	} else {
		var sealKey *[32]byte
		if cfg.KeystoreSealHex != "" {
			decoded, err := decodeSealKey(cfg.KeystoreSealHex)
			if err != nil {
				return nil, err
			}
			sealKey = decoded
		}
		store = &keystore.FileStore{Path: cfg.KeystorePath, SealKey: sealKey}
		logger.Info().Str("path", cfg.KeystorePath).Bool("sealed", sealKey != nil).Msg("enclave signer backed by local file")
	}
	return keystore.Load(store)
}

func decodeSealKey(hexKey string) (*[32]byte, error) {
	decoded, err := hex.DecodeString(hexKey)
	if err != nil || len(decoded) != 32 {
		return nil, fmt.Errorf("%w: KEYSTORE_SEAL_KEY must be 64 hex characters (32 bytes)", oraclerr.ErrConfig)
	}
	var raw [32]byte
	copy(raw[:], decoded)
	return &raw, nil
}

// seedBlockhash fetches the first blockhash synchronously so the worker
// never attempts a fulfillment before WatchBlockhash's first tick.
func seedBlockhash(ctx context.Context, w *worker.Worker) error {
	return w.RefreshBlockhash(ctx)
}
