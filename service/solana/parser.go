package solana

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Well-known Solana program IDs not exported by solana-go.
var (
	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

	// MemoProgramIDLegacy is the legacy memo program (v1)
	MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// Token Program instruction types
const (
	TokenProgramTransferCheckedInstruction = uint8(12)
)

var errNotTransfer = errors.New("not a transfer instruction")

// parseTransactionResult converts a GetTransaction response into our domain
// Transaction: transfers in instruction order plus every memo.
func parseTransactionResult(signature solana.Signature, result *rpc.GetTransactionResult) (*Transaction, error) {
	if result == nil || result.Transaction == nil {
		return nil, fmt.Errorf("transaction %s not available", signature)
	}

	txn := &Transaction{
		Signature: signature.String(),
		Slot:      result.Slot,
	}
	if result.BlockTime != nil {
		txn.BlockTime = result.BlockTime.Time()
	}
	if result.Meta != nil && result.Meta.Err != nil {
		errMsg := fmt.Sprintf("transaction failed: %v", result.Meta.Err)
		txn.Err = &errMsg
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	accountKeys := tx.Message.AccountKeys
	for _, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		programID := accountKeys[instruction.ProgramIDIndex]

		switch {
		case programID.Equals(solana.SystemProgramID):
			if transfer, err := parseSystemTransfer(instruction, accountKeys); err == nil {
				txn.Transfers = append(txn.Transfers, transfer)
			}
		case programID.Equals(solana.TokenProgramID) || programID.Equals(Token2022ProgramID):
			if transfer, err := parseTokenTransferChecked(instruction, accountKeys); err == nil {
				txn.Transfers = append(txn.Transfers, transfer)
			}
		case programID.Equals(solana.MemoProgramID) || programID.Equals(MemoProgramIDLegacy):
			if len(instruction.Data) > 0 {
				txn.Memos = append(txn.Memos, string(instruction.Data))
			}
		}
	}

	return txn, nil
}

func accountAt(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey, pos int) (solana.PublicKey, error) {
	if pos >= len(instruction.Accounts) {
		return solana.PublicKey{}, fmt.Errorf("instruction has %d accounts, need %d", len(instruction.Accounts), pos+1)
	}
	idx := int(instruction.Accounts[pos])
	if idx >= len(accountKeys) {
		return solana.PublicKey{}, fmt.Errorf("account index %d out of bounds", idx)
	}
	return accountKeys[idx], nil
}

// parseSystemTransfer decodes a System Program Transfer instruction.
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (Transfer, error) {
	// System Transfer instruction format:
	// [0..4]  = instruction type (u32, should be 2 for Transfer)
	// [4..12] = lamports (u64)
	if len(instruction.Data) < 12 {
		return Transfer{}, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}
	if binary.LittleEndian.Uint32(instruction.Data[0:4]) != SystemProgramTransferInstruction {
		return Transfer{}, errNotTransfer
	}

	// System Transfer accounts: [from, to]
	from, err := accountAt(instruction, accountKeys, 0)
	if err != nil {
		return Transfer{}, err
	}
	to, err := accountAt(instruction, accountKeys, 1)
	if err != nil {
		return Transfer{}, err
	}

	return Transfer{
		From:   from.String(),
		To:     to.String(),
		Amount: binary.LittleEndian.Uint64(instruction.Data[4:12]),
	}, nil
}

// parseTokenTransferChecked decodes an SPL TransferChecked instruction. From
// is the signing authority and To is the destination token account.
func parseTokenTransferChecked(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (Transfer, error) {
	// TransferChecked instruction format:
	// [0]      = instruction type (u8, 12 = TransferChecked)
	// [1..9]   = amount (u64)
	// [9]      = decimals (u8)
	if len(instruction.Data) < 10 {
		return Transfer{}, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}
	if instruction.Data[0] != TokenProgramTransferCheckedInstruction {
		return Transfer{}, errNotTransfer
	}

	// [source_token_account, mint, destination_token_account, authority, ...]
	mint, err := accountAt(instruction, accountKeys, 1)
	if err != nil {
		return Transfer{}, err
	}
	to, err := accountAt(instruction, accountKeys, 2)
	if err != nil {
		return Transfer{}, err
	}
	authority, err := accountAt(instruction, accountKeys, 3)
	if err != nil {
		return Transfer{}, err
	}

	mintStr := mint.String()
	return Transfer{
		From:   authority.String(),
		To:     to.String(),
		Amount: binary.LittleEndian.Uint64(instruction.Data[1:9]),
		Mint:   &mintStr,
	}, nil
}
