package actions

import (
	"context"
	"log/slog"

	"github.com/gagliardetto/solana-go"
)

// Blockhash is a recent blockhash together with the last block height at
// which a transaction referencing it is still valid.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// BlockhashSource fetches a fresh blockhash from the ledger.
type BlockhashSource interface {
	LatestBlockhash(ctx context.Context) (*Blockhash, error)
}

// AssembledTransaction is an unsigned transaction ready for a wallet to sign.
type AssembledTransaction struct {
	Transaction          string `json:"transaction"`
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
}

// Assembler wraps instructions into a serialized transaction.
type Assembler struct {
	blockhashes BlockhashSource
	logger      *slog.Logger
}

// NewAssembler creates an Assembler that binds every transaction to a
// blockhash fetched from source at assembly time.
func NewAssembler(source BlockhashSource, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{blockhashes: source, logger: logger}
}

// Assemble fetches a blockhash, sets feePayer and serializes the unsigned
// transaction to base64. Blockhashes are never reused across calls because
// they expire after roughly 150 blocks.
func (a *Assembler) Assemble(ctx context.Context, instructions []solana.Instruction, feePayer solana.PublicKey) (*AssembledTransaction, error) {
	if feePayer.IsZero() {
		return nil, newError(KindInvalidPublicKey, "fee payer is required", nil)
	}
	if len(instructions) == 0 {
		return nil, newError(KindTransactionAssemblyFailure, "no instructions to assemble", nil)
	}

	bh, err := a.blockhashes.LatestBlockhash(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to fetch latest blockhash", "error", err)
		return nil, newError(KindNetworkUnavailable, "failed to fetch latest blockhash", err)
	}

	tx, err := solana.NewTransaction(instructions, bh.Hash, solana.TransactionPayer(feePayer))
	if err != nil {
		return nil, newError(KindTransactionAssemblyFailure, "failed to create transaction", err)
	}

	// Signatures are left as zero placeholders; the caller's wallet signs.
	encoded, err := tx.ToBase64()
	if err != nil {
		return nil, newError(KindTransactionAssemblyFailure, "failed to serialize transaction", err)
	}

	a.logger.DebugContext(ctx, "assembled transaction",
		"fee_payer", feePayer.String(),
		"instructions", len(instructions),
		"blockhash", bh.Hash.String(),
		"last_valid_block_height", bh.LastValidBlockHeight,
	)

	return &AssembledTransaction{
		Transaction:          encoded,
		Blockhash:            bh.Hash.String(),
		LastValidBlockHeight: bh.LastValidBlockHeight,
	}, nil
}
