package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"github.com/brojonat/blinks/service/actions"
	"github.com/brojonat/blinks/service/config"
	"github.com/brojonat/blinks/service/db"
	"github.com/brojonat/blinks/service/metrics"
	"github.com/brojonat/blinks/service/tokeninfo"
	"github.com/gagliardetto/solana-go"
)

const generateFailedMessage = "Failed to generate blink"

// generateBlinkRequest is the body of POST /api/v1/blinks.
type generateBlinkRequest struct {
	Icon        string `json:"icon"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Title       string `json:"title"`
	Wallet      string `json:"wallet"`
}

// generateTokenBlinkRequest is the body of POST /api/v1/blinks/token.
type generateTokenBlinkRequest struct {
	Label       string  `json:"label"`
	Description string  `json:"description"`
	Wallet      string  `json:"wallet"`
	Mint        string  `json:"mint"`
	Commission  bool    `json:"commission"`
	Percentage  float64 `json:"percentage"`
}

// generateBlinkResponse carries the new Blink id and, when payment is
// required, the unsigned creation-fee transaction the creator must sign.
type generateBlinkResponse struct {
	ID                   string `json:"id"`
	ActionURL            string `json:"action_url"`
	Transaction          string `json:"transaction,omitempty"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height,omitempty"`
	Memo                 string `json:"memo,omitempty"`
}

// handleGenerateBlink returns a handler that creates an unpaid donation Blink.
// POST /api/v1/blinks
func handleGenerateBlink(store BlinkStore, svc *actions.Service, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req generateBlinkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("invalid request body", "error", err)
			writeError(w, "Invalid JSON in request body", http.StatusBadRequest)
			return
		}

		if req.Icon == "" || req.Label == "" || req.Description == "" || req.Title == "" || req.Wallet == "" {
			writeError(w, "Missing required fields", http.StatusBadRequest)
			return
		}

		if err := validateBlinkInput(blinkInput{
			Icon:        req.Icon,
			Title:       req.Title,
			Description: req.Description,
			Label:       req.Label,
			Wallet:      req.Wallet,
		}); err != nil {
			logger.Debug("invalid blink", "wallet", req.Wallet, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		blink, err := store.CreateBlink(r.Context(), db.CreateBlinkParams{
			Kind:        db.KindDonate,
			Icon:        req.Icon,
			Title:       req.Title,
			Description: req.Description,
			Label:       req.Label,
			Wallet:      req.Wallet,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create blink", "wallet", req.Wallet, "error", err)
			writeError(w, generateFailedMessage, http.StatusInternalServerError)
			return
		}

		respondWithFee(r.Context(), w, blink, svc, cfg, m, logger)
	})
}

// handleGenerateTokenBlink returns a handler that creates an unpaid token
// Blink prefilled from the mint's metadata. The commission share is capped at
// the configured maximum.
// POST /api/v1/blinks/token
func handleGenerateTokenBlink(store BlinkStore, tokens TokenInfoSource, svc *actions.Service, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req generateTokenBlinkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("invalid request body", "error", err)
			writeError(w, "Invalid JSON in request body", http.StatusBadRequest)
			return
		}

		if req.Label == "" || req.Description == "" || req.Wallet == "" || req.Mint == "" {
			writeError(w, "Missing required fields", http.StatusBadRequest)
			return
		}

		if err := validateBlinkInput(blinkInput{
			Description: req.Description,
			Label:       req.Label,
			Wallet:      req.Wallet,
		}); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateAddress(req.Mint); err != nil {
			writeError(w, "Invalid mint", http.StatusBadRequest)
			return
		}

		percentage := 0.0
		if req.Commission {
			if err := validatePercentage(req.Percentage); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			percentage = math.Min(req.Percentage, cfg.Payment.MaxCommissionPercentage)
		}

		info, err := tokens.Get(r.Context(), req.Mint)
		if errors.Is(err, tokeninfo.ErrInvalidMint) {
			writeError(w, "Invalid mint", http.StatusBadRequest)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to get token info", "mint", req.Mint, "error", err)
			writeError(w, generateFailedMessage, http.StatusInternalServerError)
			return
		}

		if info.Decimals != nil && *info.Decimals > actions.MaxTokenDecimals {
			writeError(w, fmt.Sprintf("Unsupported mint: more than %d decimals", actions.MaxTokenDecimals), http.StatusBadRequest)
			return
		}

		params := db.CreateBlinkParams{
			Kind:        db.KindToken,
			Icon:        info.Icon,
			Title:       info.Title,
			Description: req.Description,
			Label:       req.Label,
			Wallet:      req.Wallet,
			Mint:        &info.Mint,
			Commission: db.Commission{
				Enabled:    req.Commission,
				Percentage: percentage,
			},
		}
		if symbol := strings.TrimSpace(info.Symbol); symbol != "" {
			params.Symbol = &symbol
		}
		if info.Decimals != nil {
			decimals := int16(*info.Decimals)
			params.Decimals = &decimals
		}

		blink, err := store.CreateBlink(r.Context(), params)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create token blink", "wallet", req.Wallet, "mint", req.Mint, "error", err)
			writeError(w, generateFailedMessage, http.StatusInternalServerError)
			return
		}

		respondWithFee(r.Context(), w, blink, svc, cfg, m, logger)
	})
}

// respondWithFee writes the generate response, assembling the creation-fee
// transaction when payment is required. A Blink whose fee transaction cannot
// be built stays unpaid and unusable.
func respondWithFee(ctx context.Context, w http.ResponseWriter, blink *db.Blink, svc *actions.Service, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) {
	if m != nil {
		m.RecordBlinkCreated(blink.Kind)
	}

	resp := generateBlinkResponse{
		ID:        blink.ID,
		ActionURL: cfg.PublicBaseURL + actions.ActionPath(blink.Kind, blink.ID),
	}

	if cfg.Payment.Required {
		payer, err := solana.PublicKeyFromBase58(blink.Wallet)
		if err != nil {
			logger.ErrorContext(ctx, "stored wallet is not a public key", "blink_id", blink.ID, "error", err)
			writeError(w, generateFailedMessage, http.StatusInternalServerError)
			return
		}

		memo := actions.PaymentMemo(blink.Wallet, blink.ID)
		instructions, err := actions.BuildFeeInstructions(payer, cfg.Payment.Treasury(), cfg.Payment.FeeLamports, memo)
		if err != nil {
			logger.ErrorContext(ctx, "failed to build fee instructions", "blink_id", blink.ID, "error", err)
			writeError(w, generateFailedMessage, http.StatusInternalServerError)
			return
		}

		assembled, err := svc.Assembler().Assemble(ctx, instructions, payer)
		if err != nil {
			logger.ErrorContext(ctx, "failed to assemble fee transaction", "blink_id", blink.ID, "error", err)
			writeError(w, generateFailedMessage, http.StatusInternalServerError)
			return
		}

		resp.Transaction = assembled.Transaction
		resp.LastValidBlockHeight = assembled.LastValidBlockHeight
		resp.Memo = memo
	}

	logger.InfoContext(ctx, "blink created",
		"blink_id", blink.ID,
		"kind", blink.Kind,
		"wallet", blink.Wallet,
		"fee_lamports", cfg.Payment.FeeLamports,
		"payment_required", cfg.Payment.Required,
	)

	writeJSON(w, resp, http.StatusCreated)
}
