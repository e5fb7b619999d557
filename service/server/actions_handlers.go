package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/blinks/service/actions"
)

// actionPostRequest is the body wallets send when executing an action.
// input.amount arrives as a string from most wallets and as a number from some.
type actionPostRequest struct {
	Account string `json:"account"`
	Input   *struct {
		Amount json.RawMessage `json:"amount"`
	} `json:"input,omitempty"`
}

// inputAmount returns the body amount as text, or nil when absent or null.
// Values that are neither strings nor numbers are passed through verbatim so
// amount resolution rejects them.
func (b actionPostRequest) inputAmount() *string {
	if b.Input == nil {
		return nil
	}
	raw := bytes.TrimSpace(b.Input.Amount)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return &text
	}
	text = string(raw)
	return &text
}

// actionsRules maps every action path onto itself for Blink clients.
type actionsRules struct {
	Rules []actionsRule `json:"rules"`
}

type actionsRule struct {
	PathPattern string `json:"pathPattern"`
	APIPath     string `json:"apiPath"`
}

// handleActionsJSON serves the actions.json discovery file.
// GET /actions.json
func handleActionsJSON() http.Handler {
	body := actionsRules{Rules: []actionsRule{{PathPattern: "/actions/**", APIPath: "/actions/**"}}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, body, http.StatusOK)
	})
}

// handleGetAction returns a handler that serves the discovery payload of a Blink.
// GET /actions/{kind}/{id}
func handleGetAction(svc *actions.Service, timeout time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := actionContext(r.Context(), timeout)
		defer cancel()

		kind, id := r.PathValue("kind"), r.PathValue("id")
		resp, err := svc.Resolve(ctx, kind, id)
		if err != nil {
			writeActionError(ctx, w, err, actions.FetchFailedMessage, logger)
			return
		}

		writeJSON(w, resp, http.StatusOK)
	})
}

// handlePostAction returns a handler that builds the unsigned transaction for
// a Blink action. An undecodable body is only reported once gating has passed,
// so unknown and unpaid Blinks answer the same way regardless of the body.
// POST /actions/{kind}/{id}?amount=X
func handlePostAction(svc *actions.Service, timeout time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := actionContext(r.Context(), timeout)
		defer cancel()

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var body actionPostRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			logger.DebugContext(ctx, "undecodable action body", "error", err)
			if err := svc.Admit(ctx, r.PathValue("kind"), r.PathValue("id")); err != nil {
				writeActionError(ctx, w, err, actions.TransactionFailedMessage, logger)
				return
			}
			writeError(w, "Invalid JSON in request body", http.StatusBadRequest)
			return
		}

		req := actions.ExecuteRequest{
			Kind:    r.PathValue("kind"),
			ID:      r.PathValue("id"),
			Account: body.Account,
		}
		if q := r.URL.Query(); q.Has("amount") {
			amount := q.Get("amount")
			req.QueryAmount = &amount
		}
		req.InputAmount = body.inputAmount()

		resp, err := svc.Execute(ctx, req)
		if err != nil {
			writeActionError(ctx, w, err, actions.TransactionFailedMessage, logger)
			return
		}

		writeJSON(w, resp, http.StatusOK)
	})
}

// writeActionError maps a tagged action error to its response. Anything that
// is not caused by caller input gets the stable fallback message.
func writeActionError(ctx context.Context, w http.ResponseWriter, err error, fallback string, logger *slog.Logger) {
	switch actions.KindOf(err) {
	case actions.KindMissingIdentifier:
		writeError(w, actions.MissingIDMessage, http.StatusBadRequest)
		return
	case actions.KindBlinkNotFound:
		writeError(w, actions.NotFoundMessage, http.StatusNotFound)
		return
	case actions.KindBlinkUnpaid:
		writeJSON(w, map[string]string{"message": actions.UnpaidMessage}, http.StatusForbidden)
		return
	case actions.KindMissingAccount:
		writeError(w, actions.MissingAccountMessage, http.StatusBadRequest)
		return
	}

	var ae *actions.Error
	if actions.IsClientError(err) && errors.As(err, &ae) {
		writeError(w, ae.Message, http.StatusBadRequest)
		return
	}

	logger.ErrorContext(ctx, "action failed", "kind", actions.KindOf(err), "error", err)
	writeError(w, fallback, http.StatusInternalServerError)
}

func actionContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
