package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/blinks/service/actions"
	"github.com/brojonat/blinks/service/config"
	"github.com/brojonat/blinks/service/db"
	solanapkg "github.com/brojonat/blinks/service/solana"
	"github.com/brojonat/blinks/service/temporal"
)

// confirmPaymentRequest is the body of POST /api/v1/blinks/{id}/payment.
type confirmPaymentRequest struct {
	Signature string `json:"signature"`
}

// confirmPaymentResponse is returned when confirmation runs as a workflow.
type confirmPaymentResponse struct {
	BlinkID    string `json:"blink_id"`
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
}

// handleConfirmPayment returns a handler that confirms a Blink's creation fee.
// With a scheduler the confirmation runs as ConfirmBlinkPaymentWorkflow and the
// handler answers 202 with the workflow id. Without one it verifies inline,
// waiting at most the action timeout for the transaction to confirm.
// POST /api/v1/blinks/{id}/payment
func handleConfirmPayment(store BlinkStore, scheduler temporal.PaymentScheduler, confirmer PaymentConfirmer, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		id := r.PathValue("id")

		var req confirmPaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("invalid request body", "error", err)
			writeError(w, "Invalid JSON in request body", http.StatusBadRequest)
			return
		}
		req.Signature = strings.TrimSpace(req.Signature)
		if err := validateSignature(req.Signature); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		blink, err := store.FindBlinkByID(r.Context(), id)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, actions.NotFoundMessage, http.StatusNotFound)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to get blink", "blink_id", id, "error", err)
			writeError(w, actions.FetchFailedMessage, http.StatusInternalServerError)
			return
		}
		if blink.IsPaid {
			writeError(w, "Blink is already paid", http.StatusConflict)
			return
		}

		input := temporal.ConfirmPaymentInput{
			BlinkID:     blink.ID,
			Wallet:      blink.Wallet,
			Signature:   req.Signature,
			Treasury:    cfg.Payment.TreasuryWallet,
			Lamports:    cfg.Payment.FeeLamports,
			Memo:        actions.PaymentMemo(blink.Wallet, blink.ID),
			Timeout:     cfg.Payment.ConfirmTimeout,
			RequestedAt: time.Now().UTC(),
		}

		if scheduler != nil {
			workflowID, err := scheduler.StartPaymentConfirmation(r.Context(), input)
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to start payment confirmation", "blink_id", blink.ID, "error", err)
				writeError(w, "Failed to start payment confirmation", http.StatusInternalServerError)
				return
			}

			logger.InfoContext(r.Context(), "payment confirmation started",
				"blink_id", blink.ID,
				"workflow_id", workflowID,
				"signature", req.Signature,
			)
			writeJSON(w, confirmPaymentResponse{
				BlinkID:    blink.ID,
				WorkflowID: workflowID,
				Status:     "pending",
			}, http.StatusAccepted)
			return
		}

		if cfg.ActionTimeout > 0 && (input.Timeout <= 0 || input.Timeout > cfg.ActionTimeout) {
			input.Timeout = cfg.ActionTimeout
		}

		result, err := confirmer.ConfirmNow(r.Context(), input)
		switch {
		case err == nil:
			logger.InfoContext(r.Context(), "payment confirmed", "blink_id", blink.ID, "status", result.Status)
			writeJSON(w, result, http.StatusOK)
		case errors.Is(err, solanapkg.ErrPaymentPending):
			writeError(w, "Payment not yet confirmed, retry shortly", http.StatusConflict)
		case temporal.IsPaymentRejected(err):
			logger.InfoContext(r.Context(), "payment rejected", "blink_id", blink.ID, "signature", req.Signature, "error", err)
			writeError(w, "Payment could not be verified", http.StatusBadRequest)
		case errors.Is(err, temporal.ErrBlinkNotFound):
			writeError(w, actions.NotFoundMessage, http.StatusNotFound)
		default:
			logger.ErrorContext(r.Context(), "failed to confirm payment", "blink_id", blink.ID, "error", err)
			writeError(w, "Failed to confirm payment", http.StatusInternalServerError)
		}
	})
}

// handleGetPaymentStatus returns a handler that reports a confirmation
// workflow's state.
// GET /api/v1/payment-status/{workflow_id}
func handleGetPaymentStatus(scheduler temporal.PaymentScheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if scheduler == nil {
			writeError(w, "Payment workflows are not enabled", http.StatusServiceUnavailable)
			return
		}

		workflowID := r.PathValue("workflow_id")
		if !strings.HasPrefix(workflowID, temporal.PaymentWorkflowID("")) {
			writeError(w, "invalid workflow_id", http.StatusBadRequest)
			return
		}

		status, err := scheduler.GetPaymentStatus(r.Context(), workflowID)
		if err != nil {
			logger.DebugContext(r.Context(), "failed to get payment status", "workflow_id", workflowID, "error", err)
			writeError(w, "Workflow not found", http.StatusNotFound)
			return
		}

		writeJSON(w, status, http.StatusOK)
	})
}
