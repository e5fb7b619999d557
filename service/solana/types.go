package solana

import (
	"time"
)

// Transaction represents a parsed Solana transaction.
// This is our domain model, independent of the RPC response format.
type Transaction struct {
	Signature string
	Slot      uint64
	BlockTime time.Time
	Transfers []Transfer
	Memos     []string
	Err       *string // nil if transaction succeeded, contains error message if failed
}

// Transfer is a single value movement found in a transaction.
type Transfer struct {
	From   string
	To     string
	Amount uint64
	Mint   *string // nil for native SOL transfers
}

// SignatureStatus is the cluster's view of a submitted signature.
type SignatureStatus struct {
	Slot               uint64
	ConfirmationStatus string
	Err                *string
}

// TokenMetadata is the subset of Metaplex token metadata this service uses.
type TokenMetadata struct {
	Name   string
	Symbol string
	URI    string
}
