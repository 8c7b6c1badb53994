// Package chain defines the worker's abstract on-chain surface: account
// reads, program-account scans, transaction submission, and log-stream
// subscription. internal/worker depends only on the Client interface; the
// concrete implementation (solana_adapter.go) wraps gagliardetto/solana-go.
package chain

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// Commitment selects how finalized an RPC read or subscription must be.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
)

// AccountInfo is the subset of on-chain account state the worker needs: the
// raw account bytes (discriminator-prefixed, Anchor-style).
type AccountInfo struct {
	Data []byte
}

// ProgramAccount pairs a scanned account's address with its data.
type ProgramAccount struct {
	Pubkey solana.PublicKey
	Data   []byte
}

// AccountFilter is a memcmp filter for GetProgramAccounts: Bytes must match
// at Offset within the account data.
type AccountFilter struct {
	Offset int
	Bytes  []byte
}

// LogSubscription streams log notifications for transactions mentioning a
// watched program.
type LogSubscription interface {
	// Recv blocks until the next notification's log lines are available, or
	// ctx is canceled, or the subscription fails.
	Recv(ctx context.Context) ([]string, error)
	Close()
}

// Client is the small abstract surface the oracle worker depends on for all
// on-chain interaction.
type Client interface {
	GetAccountInfo(ctx context.Context, addr solana.PublicKey, commitment Commitment) (*AccountInfo, error)
	GetLatestBlockhash(ctx context.Context, commitment Commitment) (blockhash solana.Hash, slot uint64, err error)
	GetBalance(ctx context.Context, addr solana.PublicKey, commitment Commitment) (uint64, error)
	GetProgramAccounts(ctx context.Context, programID solana.PublicKey, filters []AccountFilter) ([]ProgramAccount, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SubscribeLogs(ctx context.Context, programID solana.PublicKey, commitment Commitment) (LogSubscription, error)
}
