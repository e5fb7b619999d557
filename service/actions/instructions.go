package actions

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// CommissionTransfer is the optional second transfer credited to the Blink owner.
type CommissionTransfer struct {
	Wallet solana.PublicKey
	Amount uint64
}

// TransferPlan describes the transfers a single action request must produce.
// Amounts are in base units. A nil Mint means a native SOL transfer.
type TransferPlan struct {
	Payer      solana.PublicKey
	Recipient  solana.PublicKey
	Amount     uint64
	Mint       *solana.PublicKey
	Decimals   uint8
	Commission *CommissionTransfer
}

// NewCommissionTransfer returns the commission leg for base units at the
// given percentage, or nil when commission is disabled or rounds to zero.
func NewCommissionTransfer(owner *solana.PublicKey, enabled bool, percentage float64, base uint64) *CommissionTransfer {
	if !enabled || owner == nil || percentage <= 0 {
		return nil
	}
	amount := CommissionUnits(base, percentage)
	if amount == 0 {
		return nil
	}
	return &CommissionTransfer{Wallet: *owner, Amount: amount}
}

// BuildInstructions returns the primary transfer followed by the commission
// transfer, if any. The order is part of what the signer reviews and must not
// change.
func BuildInstructions(plan TransferPlan) ([]solana.Instruction, error) {
	if plan.Payer.IsZero() {
		return nil, newError(KindInvalidPublicKey, "payer account is required", nil)
	}
	if plan.Recipient.IsZero() {
		return nil, newError(KindInvalidPublicKey, "recipient account is required", nil)
	}
	if plan.Amount == 0 {
		return nil, newError(KindInvalidAmount, "amount is below the smallest transferable unit", nil)
	}

	instructions := make([]solana.Instruction, 0, 2)

	primary, err := transferInstruction(plan, plan.Recipient, plan.Amount)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, primary)

	if plan.Commission != nil && plan.Commission.Amount > 0 {
		if plan.Commission.Wallet.IsZero() {
			return nil, newError(KindInvalidPublicKey, "commission wallet is required", nil)
		}
		commission, err := transferInstruction(plan, plan.Commission.Wallet, plan.Commission.Amount)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, commission)
	}

	return instructions, nil
}

func transferInstruction(plan TransferPlan, to solana.PublicKey, amount uint64) (solana.Instruction, error) {
	if plan.Mint == nil {
		inst, err := system.NewTransferInstruction(amount, plan.Payer, to).ValidateAndBuild()
		if err != nil {
			return nil, newError(KindTransactionAssemblyFailure, "failed to build transfer", err)
		}
		return inst, nil
	}

	source, _, err := solana.FindAssociatedTokenAddress(plan.Payer, *plan.Mint)
	if err != nil {
		return nil, newError(KindTransactionAssemblyFailure, "failed to derive payer token account", err)
	}
	destination, _, err := solana.FindAssociatedTokenAddress(to, *plan.Mint)
	if err != nil {
		return nil, newError(KindTransactionAssemblyFailure,
			fmt.Sprintf("failed to derive token account for %s", to), err)
	}

	inst, err := token.NewTransferCheckedInstruction(
		amount,
		plan.Decimals,
		source,
		*plan.Mint,
		destination,
		plan.Payer,
		nil,
	).ValidateAndBuild()
	if err != nil {
		return nil, newError(KindTransactionAssemblyFailure, "failed to build token transfer", err)
	}
	return inst, nil
}

// BuildFeeInstructions returns the creation-fee payment for a new Blink: a SOL
// transfer to the treasury followed by a memo the payment verifier matches on.
func BuildFeeInstructions(payer, treasury solana.PublicKey, lamports uint64, memoText string) ([]solana.Instruction, error) {
	if lamports == 0 {
		return nil, newError(KindInvalidAmount, "fee must be greater than zero", nil)
	}

	transfer, err := system.NewTransferInstruction(lamports, payer, treasury).ValidateAndBuild()
	if err != nil {
		return nil, newError(KindTransactionAssemblyFailure, "failed to build fee transfer", err)
	}

	if memoText == "" {
		return nil, newError(KindTransactionAssemblyFailure, "fee memo is required", nil)
	}
	// The memo program reads raw UTF-8 instruction data with no length prefix.
	note := solana.NewInstruction(
		solana.MemoProgramID,
		solana.AccountMetaSlice{solana.Meta(payer).SIGNER()},
		[]byte(memoText),
	)

	return []solana.Instruction{transfer, note}, nil
}

// PaymentMemo is the memo a creator attaches to the creation-fee payment.
func PaymentMemo(wallet, blinkID string) string {
	return wallet + blinkID
}
