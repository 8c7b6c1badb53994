package chain

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/rs/zerolog"

	"github.com/koshedutech/oracle-worker/internal/oraclerr"
)

func toRPCCommitment(c Commitment) rpc.CommitmentType {
	switch c {
	case CommitmentConfirmed:
		return rpc.CommitmentConfirmed
	default:
		return rpc.CommitmentProcessed
	}
}

// SolanaAdapter implements Client against a real Solana RPC endpoint and
// websocket log-subscription endpoint via gagliardetto/solana-go.
type SolanaAdapter struct {
	rpcClient *rpc.Client
	wsURL     string
	logger    zerolog.Logger
}

// NewSolanaAdapter dials nothing eagerly; rpcURL is used for request/reply
// calls, wsURL for log subscriptions.
func NewSolanaAdapter(rpcURL, wsURL string, logger zerolog.Logger) *SolanaAdapter {
	return &SolanaAdapter{
		rpcClient: rpc.New(rpcURL),
		wsURL:     wsURL,
		logger:    logger,
	}
}

func (a *SolanaAdapter) GetAccountInfo(ctx context.Context, addr solana.PublicKey, commitment Commitment) (*AccountInfo, error) {
	out, err := a.rpcClient.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
		Commitment: toRPCCommitment(commitment),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get_account_info %s: %v", oraclerr.ErrNetwork, addr, err)
	}
	if out == nil || out.Value == nil {
		return nil, fmt.Errorf("%w: account %s not found", oraclerr.ErrNetwork, addr)
	}
	return &AccountInfo{Data: out.Value.Data.GetBinary()}, nil
}

func (a *SolanaAdapter) GetLatestBlockhash(ctx context.Context, commitment Commitment) (solana.Hash, uint64, error) {
	out, err := a.rpcClient.GetLatestBlockhash(ctx, toRPCCommitment(commitment))
	if err != nil {
		return solana.Hash{}, 0, fmt.Errorf("%w: get_latest_blockhash: %v", oraclerr.ErrNetwork, err)
	}
	return out.Value.Blockhash, out.Context.Slot, nil
}

func (a *SolanaAdapter) GetBalance(ctx context.Context, addr solana.PublicKey, commitment Commitment) (uint64, error) {
	out, err := a.rpcClient.GetBalance(ctx, addr, toRPCCommitment(commitment))
	if err != nil {
		return 0, fmt.Errorf("%w: get_balance %s: %v", oraclerr.ErrNetwork, addr, err)
	}
	return out.Value, nil
}

func (a *SolanaAdapter) GetProgramAccounts(ctx context.Context, programID solana.PublicKey, filters []AccountFilter) ([]ProgramAccount, error) {
	opts := &rpc.GetProgramAccountsOpts{
		Commitment: rpc.CommitmentProcessed,
	}
	for _, f := range filters {
		opts.Filters = append(opts.Filters, rpc.RPCFilter{
			Memcmp: &rpc.RPCFilterMemcmp{
				Offset: uint64(f.Offset),
				Bytes:  f.Bytes,
			},
		})
	}

	out, err := a.rpcClient.GetProgramAccountsWithOpts(ctx, programID, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: get_program_accounts %s: %v", oraclerr.ErrNetwork, programID, err)
	}

	accounts := make([]ProgramAccount, 0, len(out))
	for _, keyed := range out {
		accounts = append(accounts, ProgramAccount{
			Pubkey: keyed.Pubkey,
			Data:   keyed.Account.Data.GetBinary(),
		})
	}
	return accounts, nil
}

func (a *SolanaAdapter) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := a.rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: send_transaction: %v", oraclerr.ErrNetwork, err)
	}
	return sig, nil
}

func (a *SolanaAdapter) SubscribeLogs(ctx context.Context, programID solana.PublicKey, commitment Commitment) (LogSubscription, error) {
	wsClient, err := ws.Connect(ctx, a.wsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: ws connect %s: %v", oraclerr.ErrNetwork, a.wsURL, err)
	}

	sub, err := wsClient.LogsSubscribeMentions(programID, toRPCCommitment(commitment))
	if err != nil {
		wsClient.Close()
		return nil, fmt.Errorf("%w: logs_subscribe %s: %v", oraclerr.ErrNetwork, programID, err)
	}

	return &solanaLogSubscription{wsClient: wsClient, sub: sub}, nil
}

type solanaLogSubscription struct {
	wsClient *ws.Client
	sub      *ws.LogSubscription
}

func (s *solanaLogSubscription) Recv(ctx context.Context) ([]string, error) {
	result, err := s.sub.Recv(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: logs subscription recv: %v", oraclerr.ErrNetwork, err)
	}
	if result == nil || result.Value == nil {
		return nil, nil
	}
	return result.Value.Logs, nil
}

func (s *solanaLogSubscription) Close() {
	s.sub.Unsubscribe()
	s.wsClient.Close()
}
