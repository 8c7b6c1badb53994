package chain

import (
	"github.com/gagliardetto/solana-go"

	"github.com/koshedutech/oracle-worker/internal/market"
)

// ProgramStateAddress derives the program's singleton state account.
func ProgramStateAddress(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("PROGRAM")}, programID)
}

// MarketAddress derives the account for m, seeded by the program state
// address and the market's 8-byte wire name.
func MarketAddress(programID, programState solana.PublicKey, m market.Market) (solana.PublicKey, uint8, error) {
	name := m.Encode()
	return solana.FindProgramAddress([][]byte{programState[:], name[:]}, programID)
}

// OracleAddress derives the oracle registration account for authority.
func OracleAddress(programID, authority solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("ORACLE"), authority[:]}, programID)
}
