// Package config assembles the oracle worker's Config from environment
// variables. Grounded on the teacher's config/config.go: a single struct
// filled by Load(), with getEnvOrDefault/getEnvIntOrDefault/
// getEnvDurationOrDefault helpers carried over in spirit. Unlike the
// teacher there is no JSON settings file to seed from first — this worker
// has no multi-tenant surface, so Load() reads purely from the environment.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/koshedutech/oracle-worker/internal/oraclerr"
)

// defaultProgramID is the compiled-in program id, overridable via
// PROGRAM_ID. Grounded on the Rust original's env.rs::default_program_id,
// which falls back to a compiled-in ProgramID constant.
const defaultProgramID = "BackFi11oRAC1eProgram1111111111111111111111"

// Config holds every environment-sourced setting the worker needs to start.
// Fields map directly to spec.md §6's configuration table plus the
// ambient/domain additions SPEC_FULL.md adds on top of it.
type Config struct {
	// Chain
	RPCURL    string // RPC_URL
	WSURL     string // WS_URL (log subscription); derived from RPCURL if unset
	ProgramID string // PROGRAM_ID

	// Signing
	PayerSecret        []byte // PAYER_SECRET, base64-encoded 64 bytes
	FSPayerSecretPath  string // FS_PAYER_SECRET_PATH

	// Polling provider
	PythRPCURL string // PYTH_RPC_URL
	FeedIDs    FeedIDs

	// Streaming provider
	StreamingFeedURL string            // STREAMING_FEED_URL
	StreamingProducts map[string]string // market name -> upstream product id

	// Keystore (enclave signer persistence)
	KeystorePath     string // FS_ENCLAVE_SIGNER_PATH
	KeystoreSealHex  string // KEYSTORE_SEAL_KEY, 64 hex chars (32 bytes)
	VaultEnabled     bool   // VAULT_ENABLED
	VaultAddress     string // VAULT_ADDR
	VaultToken       string // VAULT_TOKEN
	VaultMountPath   string // VAULT_MOUNT_PATH
	VaultSecretPath  string // VAULT_SECRET_PATH

	// Worker intervals / thresholds
	ScanInterval      time.Duration // SCAN_INTERVAL
	BlockhashInterval time.Duration // BLOCKHASH_INTERVAL
	BalanceInterval   time.Duration // BALANCE_INTERVAL
	BalanceThreshold  uint64        // BALANCE_THRESHOLD_LAMPORTS

	// Logging
	LogLevel      string // LOG_LEVEL
	LogOutput     string // LOG_OUTPUT
	LogJSONFormat bool   // LOG_JSON
}

// FeedIDs maps each spec market name to the Pyth feed id used to fetch it.
// Defaults mirror the original's PYTH_BTC_FEED/PYTH_ETH_FEED/PYTH_SOL_FEED
// constants, overridable per-market for testability.
type FeedIDs struct {
	BTC string
	ETH string
	SOL string
}

const (
	defaultPythBTCFeed = "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"
	defaultPythETHFeed = "ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"
	defaultPythSOLFeed = "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"
)

// Load builds a Config from the process environment. It returns a
// ConfigError unless exactly one of PAYER_SECRET and FS_PAYER_SECRET_PATH
// is set, per spec.md §6.
func Load() (*Config, error) {
	cfg := &Config{
		RPCURL:    getEnvOrDefault("RPC_URL", "https://api.devnet.solana.com"),
		ProgramID: getEnvOrDefault("PROGRAM_ID", defaultProgramID),

		FSPayerSecretPath: getEnvOrDefault("FS_PAYER_SECRET_PATH", ""),

		PythRPCURL: getEnvOrDefault("PYTH_RPC_URL", "https://hermes.pyth.network"),
		FeedIDs: FeedIDs{
			BTC: getEnvOrDefault("PYTH_BTC_FEED", defaultPythBTCFeed),
			ETH: getEnvOrDefault("PYTH_ETH_FEED", defaultPythETHFeed),
			SOL: getEnvOrDefault("PYTH_SOL_FEED", defaultPythSOLFeed),
		},

		StreamingFeedURL: getEnvOrDefault("STREAMING_FEED_URL", "wss://ws-feed.exchange.coinbase.com"),

		KeystorePath:    getEnvOrDefault("FS_ENCLAVE_SIGNER_PATH", "/data/protected_files/keypair.bin"),
		KeystoreSealHex: getEnvOrDefault("KEYSTORE_SEAL_KEY", ""),
		VaultEnabled:    getEnvOrDefault("VAULT_ENABLED", "false") == "true",
		VaultAddress:    getEnvOrDefault("VAULT_ADDR", "http://localhost:8200"),
		VaultToken:      getEnvOrDefault("VAULT_TOKEN", ""),
		VaultMountPath:  getEnvOrDefault("VAULT_MOUNT_PATH", "secret"),
		VaultSecretPath: getEnvOrDefault("VAULT_SECRET_PATH", "oracle-worker/enclave-signer"),

		ScanInterval:      getEnvDurationOrDefault("SCAN_INTERVAL", time.Second),
		BlockhashInterval: getEnvDurationOrDefault("BLOCKHASH_INTERVAL", time.Second),
		BalanceInterval:   getEnvDurationOrDefault("BALANCE_INTERVAL", 30*time.Second),
		BalanceThreshold:  uint64(getEnvIntOrDefault("BALANCE_THRESHOLD_LAMPORTS", 10_000)),

		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		LogOutput:     getEnvOrDefault("LOG_OUTPUT", "stdout"),
		LogJSONFormat: getEnvOrDefault("LOG_JSON", "true") == "true",
	}

	cfg.StreamingProducts = map[string]string{
		"BTC": getEnvOrDefault("STREAMING_PRODUCT_BTC", "BTC-USD"),
		"ETH": getEnvOrDefault("STREAMING_PRODUCT_ETH", "ETH-USD"),
		"SOL": getEnvOrDefault("STREAMING_PRODUCT_SOL", "SOL-USD"),
	}

	if cfg.WSURL = getEnvOrDefault("WS_URL", ""); cfg.WSURL == "" {
		cfg.WSURL = deriveWSURL(cfg.RPCURL)
	}

	if raw := os.Getenv("PAYER_SECRET"); raw != "" {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding PAYER_SECRET as base64: %v", oraclerr.ErrConfig, err)
		}
		cfg.PayerSecret = decoded
	}

	if len(cfg.PayerSecret) == 0 && cfg.FSPayerSecretPath == "" {
		return nil, fmt.Errorf("%w: must provide PAYER_SECRET or FS_PAYER_SECRET_PATH to load the worker", oraclerr.ErrConfig)
	}
	if len(cfg.PayerSecret) > 0 && cfg.FSPayerSecretPath != "" {
		return nil, fmt.Errorf("%w: PAYER_SECRET and FS_PAYER_SECRET_PATH are mutually exclusive", oraclerr.ErrConfig)
	}

	return cfg, nil
}

// deriveWSURL approximates a websocket log-subscription endpoint from an
// RPC endpoint when WS_URL is not set explicitly, swapping the http(s)
// scheme for ws(s).
func deriveWSURL(rpcURL string) string {
	switch {
	case strings.HasPrefix(rpcURL, "https://"):
		return "wss://" + strings.TrimPrefix(rpcURL, "https://")
	case strings.HasPrefix(rpcURL, "http://"):
		return "ws://" + strings.TrimPrefix(rpcURL, "http://")
	default:
		return rpcURL
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
