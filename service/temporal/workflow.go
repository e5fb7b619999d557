package temporal

import (
	"errors"
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// DefaultPaymentTimeout bounds how long a single verification attempt waits
// for the fee transaction to confirm.
const DefaultPaymentTimeout = 2 * time.Minute

// ConfirmPaymentInput contains input for confirming a Blink's creation fee.
type ConfirmPaymentInput struct {
	BlinkID     string        `json:"blink_id"`
	Wallet      string        `json:"wallet"` // creator, expected fee payer
	Signature   string        `json:"signature"`
	Treasury    string        `json:"treasury"`
	Lamports    uint64        `json:"lamports"`
	Memo        string        `json:"memo"`
	Timeout     time.Duration `json:"timeout"`
	RequestedAt time.Time     `json:"requested_at"`
}

func (in ConfirmPaymentInput) verifyInput() VerifyPaymentInput {
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = DefaultPaymentTimeout
	}
	return VerifyPaymentInput{
		Signature: in.Signature,
		Payer:     in.Wallet,
		Treasury:  in.Treasury,
		Lamports:  in.Lamports,
		Memo:      in.Memo,
		Timeout:   timeout,
	}
}

// ConfirmPaymentResult contains the result of a confirmation.
type ConfirmPaymentResult struct {
	BlinkID   string    `json:"blink_id"`
	Signature string    `json:"signature"`
	Lamports  uint64    `json:"lamports"`
	Slot      uint64    `json:"slot"`
	Status    string    `json:"status"` // "paid", "already_paid", "failed"
	PaidAt    time.Time `json:"paid_at"`
	Error     *string   `json:"error,omitempty"`
}

// ConfirmBlinkPaymentWorkflow confirms a Blink's creation fee and unlocks it.
// The workflow performs these steps:
// 1. Wait for the fee transaction to confirm and match (VerifyPayment)
// 2. Flip the Blink's paid flag (MarkBlinkPaid)
// 3. Publish blinks.paid.{id} (PublishPaid, best-effort)
//
// A rejected payment completes the workflow with status "failed" instead of
// failing it, so the reason stays readable through the result.
func ConfirmBlinkPaymentWorkflow(ctx workflow.Context, input ConfirmPaymentInput) (*ConfirmPaymentResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ConfirmBlinkPaymentWorkflow started",
		"blink_id", input.BlinkID,
		"signature", input.Signature,
	)

	result := &ConfirmPaymentResult{
		BlinkID:   input.BlinkID,
		Signature: input.Signature,
	}

	verifyInput := input.verifyInput()

	// Step 1: Verify payment
	verifyCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: verifyInput.Timeout + 30*time.Second,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypePaymentRejected},
		},
	})

	var verified *VerifyPaymentResult
	err := workflow.ExecuteActivity(verifyCtx, a.VerifyPayment, verifyInput).Get(ctx, &verified)
	if err != nil {
		errMsg := fmt.Sprintf("payment verification failed: %v", err)
		result.Error = &errMsg
		result.Status = StatusFailed

		var appErr *temporalsdk.ApplicationError
		if errors.As(err, &appErr) && appErr.Type() == ErrTypePaymentRejected {
			logger.Warn("payment rejected", "blink_id", input.BlinkID, "error", err)
			return result, nil
		}
		logger.Error("payment verification failed", "blink_id", input.BlinkID, "error", err)
		return result, fmt.Errorf("payment verification failed: %w", err)
	}

	result.Lamports = verified.Lamports
	result.Slot = verified.Slot

	// Step 2: Mark paid
	storeCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{ErrTypeBlinkNotFound},
		},
	})

	var marked *MarkBlinkPaidResult
	err = workflow.ExecuteActivity(storeCtx, a.MarkBlinkPaid, MarkBlinkPaidInput{
		BlinkID:   input.BlinkID,
		Signature: input.Signature,
	}).Get(ctx, &marked)
	if err != nil {
		logger.Error("failed to mark blink paid", "blink_id", input.BlinkID, "error", err)
		errMsg := fmt.Sprintf("failed to mark blink paid: %v", err)
		result.Error = &errMsg
		result.Status = StatusFailed
		return result, fmt.Errorf("failed to mark blink paid: %w", err)
	}

	result.Status = marked.Status
	result.PaidAt = workflow.Now(ctx)

	if marked.Status != StatusPaid {
		logger.Info("blink was already paid", "blink_id", input.BlinkID)
		return result, nil
	}

	// Step 3: Publish
	publishCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			MaximumAttempts: 2,
		},
	})
	err = workflow.ExecuteActivity(publishCtx, a.PublishPaid, PublishPaidInput{
		BlinkID:     input.BlinkID,
		Wallet:      input.Wallet,
		Signature:   input.Signature,
		Lamports:    verified.Lamports,
		PaidAt:      result.PaidAt,
		RequestedAt: input.RequestedAt,
	}).Get(ctx, nil)
	if err != nil {
		logger.Warn("failed to publish paid event", "blink_id", input.BlinkID, "error", err)
	}

	logger.Info("blink payment confirmed",
		"blink_id", input.BlinkID,
		"signature", input.Signature,
		"lamports", verified.Lamports,
	)
	return result, nil
}
