// Package oraclerr defines the sentinel error taxonomy shared across the
// oracle worker. Every subsystem wraps failures in one of these sentinels
// with %w so callers can classify a failure with errors.Is without parsing
// strings.
package oraclerr

import "errors"

var (
	// ErrConfig marks a misconfiguration: a missing required environment
	// variable, an unparsable value, or a value outside its allowed range.
	ErrConfig = errors.New("config error")

	// ErrNetwork marks a transport failure talking to an RPC node, a
	// websocket feed, or a REST price provider.
	ErrNetwork = errors.New("network error")

	// ErrDecode marks a failure decoding wire data: account bytes, event
	// logs, or a provider's JSON response.
	ErrDecode = errors.New("decode error")

	// ErrArithmetic marks an overflow or out-of-range fixed-point
	// conversion.
	ErrArithmetic = errors.New("arithmetic error")

	// ErrInsufficientFunds marks the payer balance dropping to or below
	// the configured fatal threshold.
	ErrInsufficientFunds = errors.New("insufficient payer funds")

	// ErrSubsystemExited marks a supervised loop returning control without
	// the shutdown context having been canceled.
	ErrSubsystemExited = errors.New("subsystem exited unexpectedly")

	// ErrCache marks a cache fetch function failing to produce a value.
	ErrCache = errors.New("cache fetch error")
)
