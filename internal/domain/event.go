package domain

import "github.com/holiman/uint256"

// LogIndexNative is the sentinel log index used for native-coin transfers,
// which have no EVM log index of their own, so they still participate in
// the (network, tx_hash, log_index) uniqueness key.
const LogIndexNative = ^uint64(0)

// PaymentEvent is emitted by a chain scanner for every native or token
// transfer into a watched address.
type PaymentEvent struct {
	Network     string
	TxHash      string
	From        string
	To          string
	Token       string
	AmountRaw   *uint256.Int
	Decimals    uint8
	BlockNumber uint64
	LogIndex    uint64
}

// IsNative reports whether the event represents a native-coin transfer
// rather than a decoded ERC-20 Transfer log.
func (e PaymentEvent) IsNative() bool {
	return e.LogIndex == LogIndexNative
}
