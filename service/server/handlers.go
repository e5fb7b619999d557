package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/blinks/service/actions"
	"github.com/brojonat/blinks/service/db"
	"github.com/brojonat/blinks/service/tokeninfo"
)

// Maximum request body size (1MB)
const maxRequestBodySize = 1 << 20

// blinkResponse is the JSON response format for a Blink.
type blinkResponse struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Icon        string     `json:"icon"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Label       string     `json:"label"`
	Wallet      string     `json:"wallet"`
	Mint        *string    `json:"mint,omitempty"`
	Symbol      *string    `json:"symbol,omitempty"`
	Decimals    *int16     `json:"decimals,omitempty"`
	Commission  bool       `json:"commission"`
	Percentage  float64    `json:"percentage"`
	IsPaid      bool       `json:"is_paid"`
	Signature   *string    `json:"signature,omitempty"`
	ActionURL   string     `json:"action_url"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// blinkToResponse converts a domain Blink to a response format. baseURL is
// prepended to the action path when set.
func blinkToResponse(b *db.Blink, baseURL string) blinkResponse {
	return blinkResponse{
		ID:          b.ID,
		Kind:        b.Kind,
		Icon:        b.Icon,
		Title:       b.Title,
		Description: b.Description,
		Label:       b.Label,
		Wallet:      b.Wallet,
		Mint:        b.Mint,
		Symbol:      b.Symbol,
		Decimals:    b.Decimals,
		Commission:  b.Commission.Enabled,
		Percentage:  b.Commission.Percentage,
		IsPaid:      b.IsPaid,
		Signature:   b.Signature,
		ActionURL:   baseURL + actions.ActionPath(b.Kind, b.ID),
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

// attemptResponse is the JSON response format for a transaction attempt.
type attemptResponse struct {
	ID        int64     `json:"id"`
	BlinkID   string    `json:"blink_id"`
	Sender    string    `json:"sender"`
	Amount    float64   `json:"amount"`
	BaseUnits int64     `json:"base_units"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func attemptToResponse(a *db.TransactionAttempt) attemptResponse {
	return attemptResponse{
		ID:        a.ID,
		BlinkID:   a.BlinkID,
		Sender:    a.Sender,
		Amount:    a.Amount,
		BaseUnits: a.BaseUnits,
		Status:    a.Status,
		CreatedAt: a.CreatedAt,
	}
}

// handleGetBlink returns a handler that fetches a single Blink.
// GET /api/v1/blinks/{id}
func handleGetBlink(store BlinkStore, baseURL string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			writeError(w, actions.MissingIDMessage, http.StatusBadRequest)
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

		writeJSON(w, blinkToResponse(blink, baseURL), http.StatusOK)
	})
}

// handleListBlinks returns a handler that lists the Blinks owned by a wallet,
// newest first.
// GET /api/v1/blinks?wallet=ADDRESS&limit=N&offset=N
func handleListBlinks(store BlinkStore, baseURL string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		wallet := query.Get("wallet")

		if wallet == "" {
			writeError(w, "wallet query parameter is required", http.StatusBadRequest)
			return
		}
		if err := validateAddress(wallet); err != nil {
			logger.Debug("invalid address", "address", wallet, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, offset, err := parsePagination(query.Get("limit"), query.Get("offset"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		blinks, err := store.ListBlinksByWallet(r.Context(), db.ListBlinksByWalletParams{
			Wallet: wallet,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list blinks", "wallet", wallet, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("blinks listed", "wallet", wallet, "count", len(blinks))

		resp := make([]blinkResponse, len(blinks))
		for i := range blinks {
			resp[i] = blinkToResponse(blinks[i], baseURL)
		}

		writeJSON(w, map[string]interface{}{
			"blinks": resp,
			"count":  len(resp),
			"limit":  limit,
			"offset": offset,
		}, http.StatusOK)
	})
}

// handleListAttempts returns a handler that lists the transaction attempts
// recorded for a Blink, newest first.
// GET /api/v1/blinks/{id}/attempts?limit=N
func handleListAttempts(store BlinkStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		limit, _, err := parsePagination(r.URL.Query().Get("limit"), "")
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if _, err := store.FindBlinkByID(r.Context(), id); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, actions.NotFoundMessage, http.StatusNotFound)
				return
			}
			logger.ErrorContext(r.Context(), "failed to get blink", "blink_id", id, "error", err)
			writeError(w, actions.FetchFailedMessage, http.StatusInternalServerError)
			return
		}

		attempts, err := store.ListTransactionAttempts(r.Context(), id, limit)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list attempts", "blink_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]attemptResponse, len(attempts))
		for i := range attempts {
			resp[i] = attemptToResponse(attempts[i])
		}

		writeJSON(w, map[string]interface{}{
			"attempts": resp,
			"count":    len(resp),
		}, http.StatusOK)
	})
}

// handleGetTokenInfo returns a handler that resolves token metadata for a mint.
// GET /api/v1/token-info?mint=ADDRESS
func handleGetTokenInfo(tokens TokenInfoSource, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mint := strings.TrimSpace(r.URL.Query().Get("mint"))
		if mint == "" {
			writeError(w, "Mint address is required", http.StatusBadRequest)
			return
		}

		info, err := tokens.Get(r.Context(), mint)
		if errors.Is(err, tokeninfo.ErrInvalidMint) {
			writeError(w, "Invalid mint", http.StatusBadRequest)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to get token info", "mint", mint, "error", err)
			writeError(w, "Token Info not found", http.StatusInternalServerError)
			return
		}

		writeJSON(w, info, http.StatusOK)
	})
}

// parsePagination parses limit (default 100, max 1000) and offset (default 0).
func parsePagination(limitStr, offsetStr string) (int32, int32, error) {
	limit := int32(100)
	if limitStr != "" {
		var parsedLimit int
		if _, err := fmt.Sscanf(limitStr, "%d", &parsedLimit); err != nil {
			return 0, 0, errorf("invalid limit parameter: must be an integer")
		}
		if parsedLimit < 1 {
			return 0, 0, errorf("limit must be at least 1")
		}
		if parsedLimit > 1000 {
			return 0, 0, errorf("limit cannot exceed 1000")
		}
		limit = int32(parsedLimit)
	}

	offset := int32(0)
	if offsetStr != "" {
		var parsedOffset int
		if _, err := fmt.Sscanf(offsetStr, "%d", &parsedOffset); err != nil {
			return 0, 0, errorf("invalid offset parameter: must be an integer")
		}
		if parsedOffset < 0 {
			return 0, 0, errorf("offset cannot be negative")
		}
		offset = int32(parsedOffset)
	}

	return limit, offset, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
