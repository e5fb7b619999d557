package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/blinks/service/db"
	"github.com/brojonat/blinks/service/metrics"
	natspkg "github.com/brojonat/blinks/service/nats"
	"github.com/brojonat/blinks/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"go.temporal.io/sdk/activity"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Application error types that must not be retried.
const (
	ErrTypePaymentRejected = "PaymentRejected"
	ErrTypeBlinkNotFound   = "BlinkNotFound"
)

// ErrBlinkNotFound is returned when the Blink being confirmed does not exist.
var ErrBlinkNotFound = errors.New("blink not found")

// Confirmation outcomes reported in ConfirmPaymentResult.Status.
const (
	StatusPaid        = "paid"
	StatusAlreadyPaid = "already_paid"
	StatusFailed      = "failed"
)

// VerifyPaymentInput contains parameters for the VerifyPayment activity.
type VerifyPaymentInput struct {
	Signature string        `json:"signature"`
	Payer     string        `json:"payer"`
	Treasury  string        `json:"treasury"`
	Lamports  uint64        `json:"lamports"`
	Memo      string        `json:"memo"`
	Timeout   time.Duration `json:"timeout"`
}

// VerifyPaymentResult contains the payment observed on chain.
type VerifyPaymentResult struct {
	Signature          string    `json:"signature"`
	Slot               uint64    `json:"slot"`
	Lamports           uint64    `json:"lamports"`
	ConfirmationStatus string    `json:"confirmation_status"`
	BlockTime          time.Time `json:"block_time"`
}

// MarkBlinkPaidInput contains parameters for the MarkBlinkPaid activity.
type MarkBlinkPaidInput struct {
	BlinkID   string `json:"blink_id"`
	Signature string `json:"signature"`
}

// MarkBlinkPaidResult reports whether this confirmation flipped the flag.
type MarkBlinkPaidResult struct {
	BlinkID string `json:"blink_id"`
	Status  string `json:"status"` // "paid" or "already_paid"
}

// PublishPaidInput contains parameters for the PublishPaid activity.
type PublishPaidInput struct {
	BlinkID     string    `json:"blink_id"`
	Wallet      string    `json:"wallet"`
	Signature   string    `json:"signature"`
	Lamports    uint64    `json:"lamports"`
	PaidAt      time.Time `json:"paid_at"`
	RequestedAt time.Time `json:"requested_at"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	FindBlinkByID(ctx context.Context, id string) (*db.Blink, error)
	UpdateBlinkPaid(ctx context.Context, id string, signature string) (int64, error)
}

// PaymentVerifier defines the Solana operations needed by activities.
// This allows for easy mocking in tests.
type PaymentVerifier interface {
	WaitForPayment(ctx context.Context, req solana.PaymentRequirement, maxWait time.Duration) (*solana.PaymentVerification, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishPaid(ctx context.Context, event *natspkg.PaidEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	store     StoreInterface
	verifier  PaymentVerifier
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics or publisher is nil, the corresponding step is skipped.
func NewActivities(
	store StoreInterface,
	verifier PaymentVerifier,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		verifier:  verifier,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

func (a *Activities) recordDuration(name string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(name, time.Since(start).Seconds())
	}
}

func (a *Activities) recordConfirmation(status string) {
	if a.metrics != nil {
		a.metrics.RecordPaymentConfirmation(status)
	}
}

// VerifyPayment waits until the fee transaction is confirmed and matches the
// requirement. Rejected payments fail with a non-retryable PaymentRejected
// error; a payment that is still pending when the wait ends is retried.
func (a *Activities) VerifyPayment(ctx context.Context, input VerifyPaymentInput) (*VerifyPaymentResult, error) {
	start := time.Now()
	defer a.recordDuration("VerifyPayment", start)

	// Send heartbeats while waiting so Temporal knows the activity is alive.
	heartbeatCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(25 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, "waiting for payment confirmation")
			}
		}
	}()

	result, err := a.verify(ctx, input)
	if err != nil {
		if isRejection(err) {
			return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypePaymentRejected, err)
		}
		return nil, err
	}
	return result, nil
}

func (a *Activities) verify(ctx context.Context, input VerifyPaymentInput) (*VerifyPaymentResult, error) {
	req, err := paymentRequirement(input)
	if err != nil {
		a.recordConfirmation("rejected")
		return nil, err
	}

	a.logger.InfoContext(ctx, "verifying blink payment",
		"signature", input.Signature,
		"treasury", input.Treasury,
		"lamports", input.Lamports,
		"memo", input.Memo,
	)

	v, err := a.verifier.WaitForPayment(ctx, req, input.Timeout)
	if err != nil {
		switch {
		case isRejection(err):
			a.recordConfirmation("rejected")
		case errors.Is(err, solana.ErrPaymentPending):
			a.recordConfirmation("pending")
		default:
			a.recordConfirmation("error")
		}
		a.logger.WarnContext(ctx, "payment verification failed",
			"signature", input.Signature,
			"error", err,
		)
		return nil, fmt.Errorf("payment verification failed: %w", err)
	}

	a.logger.InfoContext(ctx, "payment verified",
		"signature", v.Signature,
		"lamports", v.Lamports,
		"slot", v.Slot,
		"confirmation_status", v.ConfirmationStatus,
	)

	return &VerifyPaymentResult{
		Signature:          v.Signature,
		Slot:               v.Slot,
		Lamports:           v.Lamports,
		ConfirmationStatus: v.ConfirmationStatus,
		BlockTime:          v.BlockTime,
	}, nil
}

// errInvalidPaymentInput marks inputs that can never verify.
var errInvalidPaymentInput = errors.New("invalid payment input")

func paymentRequirement(input VerifyPaymentInput) (solana.PaymentRequirement, error) {
	sig, err := solanago.SignatureFromBase58(input.Signature)
	if err != nil {
		return solana.PaymentRequirement{}, fmt.Errorf("%w: signature: %v", errInvalidPaymentInput, err)
	}
	treasury, err := solanago.PublicKeyFromBase58(input.Treasury)
	if err != nil {
		return solana.PaymentRequirement{}, fmt.Errorf("%w: treasury: %v", errInvalidPaymentInput, err)
	}

	req := solana.PaymentRequirement{
		Signature: sig,
		Treasury:  treasury,
		Lamports:  input.Lamports,
		Memo:      input.Memo,
	}
	if input.Payer != "" {
		payer, err := solanago.PublicKeyFromBase58(input.Payer)
		if err != nil {
			return solana.PaymentRequirement{}, fmt.Errorf("%w: payer: %v", errInvalidPaymentInput, err)
		}
		req.Payer = payer
	}
	return req, nil
}

// isRejection reports whether err means the signature can never satisfy
// the requirement.
func isRejection(err error) bool {
	return errors.Is(err, solana.ErrPaymentFailed) ||
		errors.Is(err, solana.ErrPaymentMismatch) ||
		errors.Is(err, errInvalidPaymentInput)
}

// IsPaymentRejected reports whether err is a definitive payment rejection,
// as opposed to a payment that has not confirmed yet or an infrastructure
// failure.
func IsPaymentRejected(err error) bool {
	if isRejection(err) {
		return true
	}
	var appErr *temporalsdk.ApplicationError
	return errors.As(err, &appErr) && appErr.Type() == ErrTypePaymentRejected
}

// MarkBlinkPaid flips the Blink's paid flag and records the signature. A
// Blink that is already paid is reported, not failed; a missing Blink fails
// with a non-retryable BlinkNotFound error.
func (a *Activities) MarkBlinkPaid(ctx context.Context, input MarkBlinkPaidInput) (*MarkBlinkPaidResult, error) {
	start := time.Now()
	defer a.recordDuration("MarkBlinkPaid", start)

	result, err := a.markPaid(ctx, input)
	if errors.Is(err, ErrBlinkNotFound) {
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeBlinkNotFound, err)
	}
	return result, err
}

func (a *Activities) markPaid(ctx context.Context, input MarkBlinkPaidInput) (*MarkBlinkPaidResult, error) {
	matched, err := a.store.UpdateBlinkPaid(ctx, input.BlinkID, input.Signature)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to mark blink paid",
			"blink_id", input.BlinkID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to mark blink paid: %w", err)
	}

	if matched > 0 {
		a.recordConfirmation(StatusPaid)
		a.logger.InfoContext(ctx, "blink marked paid",
			"blink_id", input.BlinkID,
			"signature", input.Signature,
		)
		return &MarkBlinkPaidResult{BlinkID: input.BlinkID, Status: StatusPaid}, nil
	}

	// Nothing matched: either the Blink is gone or it was already paid.
	blink, err := a.store.FindBlinkByID(ctx, input.BlinkID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBlinkNotFound, input.BlinkID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blink: %w", err)
	}
	if !blink.IsPaid {
		return nil, fmt.Errorf("blink %s was not updated", input.BlinkID)
	}

	a.recordConfirmation(StatusAlreadyPaid)
	a.logger.InfoContext(ctx, "blink already paid",
		"blink_id", input.BlinkID,
		"signature", input.Signature,
	)
	return &MarkBlinkPaidResult{BlinkID: input.BlinkID, Status: StatusAlreadyPaid}, nil
}

// PublishPaid publishes the paid event. NATS publish is best-effort: errors
// are logged and the activity still succeeds.
func (a *Activities) PublishPaid(ctx context.Context, input PublishPaidInput) error {
	start := time.Now()
	defer a.recordDuration("PublishPaid", start)

	if a.metrics != nil && !input.RequestedAt.IsZero() {
		a.metrics.RecordWorkflowDuration(StatusPaid, time.Since(input.RequestedAt).Seconds())
	}

	if a.publisher == nil {
		return nil
	}

	event := &natspkg.PaidEvent{
		BlinkID:     input.BlinkID,
		Wallet:      input.Wallet,
		Signature:   input.Signature,
		Lamports:    input.Lamports,
		PaidAt:      input.PaidAt,
		PublishedAt: time.Now().UTC(),
	}
	if err := a.publisher.PublishPaid(ctx, event); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish paid event to NATS",
			"blink_id", input.BlinkID,
			"error", err,
		)
		return nil
	}

	a.logger.DebugContext(ctx, "published paid event", "blink_id", input.BlinkID)
	return nil
}

// ConfirmNow runs verification, the paid update and the event publish inline,
// without Temporal. The server uses it when no Temporal host is configured.
// Errors are returned unwrapped from Temporal types so callers can match
// solana.ErrPaymentPending, IsPaymentRejected and ErrBlinkNotFound.
func (a *Activities) ConfirmNow(ctx context.Context, input ConfirmPaymentInput) (*ConfirmPaymentResult, error) {
	start := time.Now()
	result := &ConfirmPaymentResult{
		BlinkID:   input.BlinkID,
		Signature: input.Signature,
	}

	verified, err := a.verify(ctx, input.verifyInput())
	if err != nil {
		result.Status = StatusFailed
		msg := err.Error()
		result.Error = &msg
		return result, err
	}
	result.Lamports = verified.Lamports
	result.Slot = verified.Slot

	marked, err := a.markPaid(ctx, MarkBlinkPaidInput{BlinkID: input.BlinkID, Signature: input.Signature})
	if err != nil {
		return nil, err
	}
	result.Status = marked.Status
	result.PaidAt = time.Now().UTC()

	if marked.Status == StatusPaid && a.publisher != nil {
		event := &natspkg.PaidEvent{
			BlinkID:     input.BlinkID,
			Wallet:      input.Wallet,
			Signature:   input.Signature,
			Lamports:    verified.Lamports,
			PaidAt:      result.PaidAt,
			PublishedAt: time.Now().UTC(),
		}
		if err := a.publisher.PublishPaid(ctx, event); err != nil {
			a.logger.ErrorContext(ctx, "failed to publish paid event to NATS",
				"blink_id", input.BlinkID,
				"error", err,
			)
		}
	}

	if a.metrics != nil {
		a.metrics.RecordWorkflowDuration(result.Status, time.Since(start).Seconds())
	}
	return result, nil
}
