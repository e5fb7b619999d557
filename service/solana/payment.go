package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Payment verification outcomes. ErrPaymentPending is the only retryable one.
var (
	ErrPaymentPending  = errors.New("payment not yet confirmed")
	ErrPaymentFailed   = errors.New("payment transaction failed")
	ErrPaymentMismatch = errors.New("payment does not match requirement")
)

// PaymentRequirement describes the creation-fee transfer a Blink expects.
type PaymentRequirement struct {
	Signature solana.Signature
	Payer     solana.PublicKey
	Treasury  solana.PublicKey
	Lamports  uint64
	Memo      string
}

// PaymentVerification is the confirmed payment as observed on chain.
type PaymentVerification struct {
	Signature          string
	Slot               uint64
	Lamports           uint64
	ConfirmationStatus string
	BlockTime          time.Time
}

// VerifyPayment checks a signature once. It returns ErrPaymentPending while
// the transaction is unknown or only processed.
func (c *Client) VerifyPayment(ctx context.Context, req PaymentRequirement) (*PaymentVerification, error) {
	status, err := c.SignatureStatus(ctx, req.Signature)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, ErrPaymentPending
	}
	if status.Err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPaymentFailed, *status.Err)
	}
	switch rpc.ConfirmationStatusType(status.ConfirmationStatus) {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
	default:
		return nil, ErrPaymentPending
	}

	txn, err := c.GetTransaction(ctx, req.Signature)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, ErrPaymentPending
	}

	lamports, err := MatchPayment(txn, req)
	if err != nil {
		return nil, err
	}

	return &PaymentVerification{
		Signature:          txn.Signature,
		Slot:               txn.Slot,
		Lamports:           lamports,
		ConfirmationStatus: status.ConfirmationStatus,
		BlockTime:          txn.BlockTime,
	}, nil
}

// MatchPayment sums native transfers from the payer to the treasury and
// checks them against the requirement. The memo must appear verbatim.
func MatchPayment(txn *Transaction, req PaymentRequirement) (uint64, error) {
	if txn.Err != nil {
		return 0, fmt.Errorf("%w: %s", ErrPaymentFailed, *txn.Err)
	}

	treasury := req.Treasury.String()
	payer := ""
	if !req.Payer.IsZero() {
		payer = req.Payer.String()
	}

	var total uint64
	for _, t := range txn.Transfers {
		if t.Mint != nil || t.To != treasury {
			continue
		}
		if payer != "" && t.From != payer {
			continue
		}
		total += t.Amount
	}
	if total < req.Lamports {
		return 0, fmt.Errorf("%w: paid %d lamports, need %d", ErrPaymentMismatch, total, req.Lamports)
	}

	if req.Memo != "" {
		found := false
		for _, m := range txn.Memos {
			if strings.TrimSpace(m) == req.Memo {
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: memo %q not found", ErrPaymentMismatch, req.Memo)
		}
	}
	return total, nil
}

// WaitForPayment polls VerifyPayment with exponential backoff until the
// payment is confirmed, found invalid, or maxWait elapses.
func (c *Client) WaitForPayment(ctx context.Context, req PaymentRequirement, maxWait time.Duration) (*PaymentVerification, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	notify := func(err error, next time.Duration) {
		c.logger.DebugContext(ctx, "payment not confirmed yet, retrying",
			"signature", req.Signature.String(),
			"error", err,
			"backoff", next,
		)
		if c.metrics != nil {
			c.metrics.RecordRPCRetry("VerifyPayment", "pending")
		}
	}

	operation := func() (*PaymentVerification, error) {
		v, err := c.VerifyPayment(ctx, req)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, ErrPaymentFailed) || errors.Is(err, ErrPaymentMismatch) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(maxWait),
		backoff.WithNotify(notify),
	)
}
