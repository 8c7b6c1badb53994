package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/koshedutech/oracle-worker/internal/market"
	"github.com/koshedutech/oracle-worker/internal/oraclerr"
)

// discriminator reproduces Anchor's 8-byte type discriminator: the first 8
// bytes of sha256("<namespace>:<name>"). Instructions use "global", account
// structs use "account", events use "event".
func discriminator(namespace, name string) [8]byte {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

var (
	DiscRegisterOracle = discriminator("global", "register_oracle")
	DiscFulfillOrder   = discriminator("global", "fulfill_order")

	DiscOrderAccount  = discriminator("account", "OrderAccount")
	DiscOracleAccount = discriminator("account", "OracleAccount")

	DiscOraclePriceRequested = discriminator("event", "OraclePriceRequestedEvent")
	DiscOraclePriceFulfilled = discriminator("event", "OraclePriceFulfilledEvent")
)

// OpenOrderFilter returns the memcmp filter selecting program-owned accounts
// whose first 9 bytes are the OrderAccount discriminator followed by the
// open-flag byte (0x01).
func OpenOrderFilter() AccountFilter {
	return AccountFilter{Offset: 0, Bytes: append(append([]byte{}, DiscOrderAccount[:]...), 0x01)}
}

// OrderAccount mirrors the on-chain order record this worker fulfills.
type OrderAccount struct {
	Open           bool
	Authority      solana.PublicKey
	Market         market.Market
	OpenTimestamp  int64
	OpenSlot       uint64
	CloseTimestamp int64
	CloseSlot      uint64
	OraclePrice    uint64
}

const orderAccountBodyLen = 1 + 31 + 32 + 32 + 8 + 8 + 8 + 8 + 8 + 8

// DecodeOrderAccount parses the raw account bytes (including the leading
// 8-byte discriminator) of an OrderAccount.
func DecodeOrderAccount(data []byte) (*OrderAccount, error) {
	if len(data) < 8+orderAccountBodyLen {
		return nil, fmt.Errorf("%w: order account too short (%d bytes)", oraclerr.ErrDecode, len(data))
	}
	if [8]byte(data[:8]) != DiscOrderAccount {
		return nil, fmt.Errorf("%w: order account discriminator mismatch", oraclerr.ErrDecode)
	}
	b := data[8:]

	openFlag := b[0]
	// b[1:32] is reserved padding.
	var authority solana.PublicKey
	copy(authority[:], b[32:64])
	var marketName [8]byte
	copy(marketName[:], b[96:104])
	m, err := market.Decode(marketName)
	if err != nil {
		return nil, fmt.Errorf("%w: order account market: %v", oraclerr.ErrDecode, err)
	}

	openTimestamp := int64(binary.LittleEndian.Uint64(b[104:112]))
	openSlot := binary.LittleEndian.Uint64(b[112:120])
	closeTimestamp := int64(binary.LittleEndian.Uint64(b[120:128]))
	closeSlot := binary.LittleEndian.Uint64(b[128:136])
	oraclePrice := binary.LittleEndian.Uint64(b[136:144])

	return &OrderAccount{
		Open:           openFlag == 0x01,
		Authority:      authority,
		Market:         m,
		OpenTimestamp:  openTimestamp,
		OpenSlot:       openSlot,
		CloseTimestamp: closeTimestamp,
		CloseSlot:      closeSlot,
		OraclePrice:    oraclePrice,
	}, nil
}

// OracleAccount mirrors the on-chain oracle registration record.
type OracleAccount struct {
	Authority           solana.PublicKey
	EnclaveSigner       solana.PublicKey
	VerificationTime    int64
	VerificationSlot    uint64
	ValidUntilSlot      uint64
}

const oracleAccountBodyLen = 1 + 32 + 32 + 8 + 8 + 8

// DecodeOracleAccount parses the raw account bytes of an OracleAccount.
func DecodeOracleAccount(data []byte) (*OracleAccount, error) {
	if len(data) < 8+oracleAccountBodyLen {
		return nil, fmt.Errorf("%w: oracle account too short (%d bytes)", oraclerr.ErrDecode, len(data))
	}
	if [8]byte(data[:8]) != DiscOracleAccount {
		return nil, fmt.Errorf("%w: oracle account discriminator mismatch", oraclerr.ErrDecode)
	}
	b := data[8:]
	var authority, enclaveSigner solana.PublicKey
	copy(authority[:], b[1:33])
	copy(enclaveSigner[:], b[33:65])
	verificationTime := int64(binary.LittleEndian.Uint64(b[65:73]))
	verificationSlot := binary.LittleEndian.Uint64(b[73:81])
	validUntilSlot := binary.LittleEndian.Uint64(b[81:89])

	return &OracleAccount{
		Authority:        authority,
		EnclaveSigner:    enclaveSigner,
		VerificationTime: verificationTime,
		VerificationSlot: verificationSlot,
		ValidUntilSlot:   validUntilSlot,
	}, nil
}

// OraclePriceRequestedEvent is emitted on-chain when an order needs a
// price resolved.
type OraclePriceRequestedEvent struct {
	Market    market.Market
	Oracle    solana.PublicKey
	Order     solana.PublicKey
	Timestamp int64
	Slot      uint64
}

const priceRequestedBodyLen = 1 + 32 + 32 + 8 + 8

// DecodeOraclePriceRequestedEvent parses an event body (discriminator
// already stripped by the caller).
func DecodeOraclePriceRequestedEvent(body []byte) (*OraclePriceRequestedEvent, error) {
	if len(body) < priceRequestedBodyLen {
		return nil, fmt.Errorf("%w: price-requested event body too short", oraclerr.ErrDecode)
	}
	m, err := market.FromTag(body[0])
	if err != nil {
		return nil, fmt.Errorf("%w: price-requested event: %v", oraclerr.ErrDecode, err)
	}
	var oracle, order solana.PublicKey
	copy(oracle[:], body[1:33])
	copy(order[:], body[33:65])
	timestamp := int64(binary.LittleEndian.Uint64(body[65:73]))
	slot := binary.LittleEndian.Uint64(body[73:81])
	return &OraclePriceRequestedEvent{Market: m, Oracle: oracle, Order: order, Timestamp: timestamp, Slot: slot}, nil
}

// OraclePriceFulfilledEvent is emitted on-chain after a successful
// fulfillment. The worker observes and logs it only.
type OraclePriceFulfilledEvent struct {
	Market        market.Market
	Order         solana.PublicKey
	OpenTimestamp int64
	OpenSlot      uint64
	LatencySec    int64
	LatencySlots  uint64
	Price         uint64
	Decimals      uint32
}

const priceFulfilledBodyLen = 1 + 32 + 8 + 8 + 8 + 8 + 8 + 4

// DecodeOraclePriceFulfilledEvent parses an event body (discriminator
// already stripped by the caller).
func DecodeOraclePriceFulfilledEvent(body []byte) (*OraclePriceFulfilledEvent, error) {
	if len(body) < priceFulfilledBodyLen {
		return nil, fmt.Errorf("%w: price-fulfilled event body too short", oraclerr.ErrDecode)
	}
	m, err := market.FromTag(body[0])
	if err != nil {
		return nil, fmt.Errorf("%w: price-fulfilled event: %v", oraclerr.ErrDecode, err)
	}
	var order solana.PublicKey
	copy(order[:], body[1:33])
	openTimestamp := int64(binary.LittleEndian.Uint64(body[33:41]))
	openSlot := binary.LittleEndian.Uint64(body[41:49])
	latencySec := int64(binary.LittleEndian.Uint64(body[49:57]))
	latencySlots := binary.LittleEndian.Uint64(body[57:65])
	price := binary.LittleEndian.Uint64(body[65:73])
	decimals := binary.LittleEndian.Uint32(body[73:77])
	return &OraclePriceFulfilledEvent{
		Market: m, Order: order, OpenTimestamp: openTimestamp, OpenSlot: openSlot,
		LatencySec: latencySec, LatencySlots: latencySlots, Price: price, Decimals: decimals,
	}, nil
}

// EncodeFulfillOrderData builds the instruction data for fulfill_order:
// discriminator ‖ market tag (1 byte) ‖ price (u64 LE).
func EncodeFulfillOrderData(m market.Market, price uint64) []byte {
	out := make([]byte, 0, 8+1+8)
	out = append(out, DiscFulfillOrder[:]...)
	out = append(out, m.Tag())
	var priceBytes [8]byte
	binary.LittleEndian.PutUint64(priceBytes[:], price)
	return append(out, priceBytes[:]...)
}

// EncodeRegisterOracleData builds the instruction data for register_oracle:
// just the discriminator, no payload.
func EncodeRegisterOracleData() []byte {
	return append([]byte{}, DiscRegisterOracle[:]...)
}
