package temporal

import (
	"context"
	"time"
)

// PaymentScheduler starts and inspects creation-fee confirmation workflows.
// Each Blink gets at most one running ConfirmBlinkPaymentWorkflow.
type PaymentScheduler interface {
	// StartPaymentConfirmation starts ConfirmBlinkPaymentWorkflow and returns
	// its workflow ID. Starting twice for the same Blink returns the running
	// workflow.
	StartPaymentConfirmation(ctx context.Context, input ConfirmPaymentInput) (string, error)

	// GetPaymentStatus reports the state of a confirmation workflow.
	GetPaymentStatus(ctx context.Context, workflowID string) (*PaymentStatus, error)
}

// PaymentStatus is the externally visible state of a confirmation workflow.
type PaymentStatus struct {
	WorkflowID string                `json:"workflow_id"`
	Status     string                `json:"status"`
	StartTime  *time.Time            `json:"start_time,omitempty"`
	CloseTime  *time.Time            `json:"close_time,omitempty"`
	Result     *ConfirmPaymentResult `json:"result,omitempty"`
	Error      *string               `json:"error,omitempty"`
}

// PaymentWorkflowID returns the workflow ID used to confirm a Blink's fee.
func PaymentWorkflowID(blinkID string) string {
	return "blink-payment-" + blinkID
}
