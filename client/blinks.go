package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Blink is a Blink as returned by the management API.
type Blink struct {
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

// Attempt is an unsigned transaction the server handed to a wallet.
type Attempt struct {
	ID        int64     `json:"id"`
	BlinkID   string    `json:"blink_id"`
	Sender    string    `json:"sender"`
	Amount    float64   `json:"amount"`
	BaseUnits int64     `json:"base_units"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateBlinkRequest describes a new donation Blink.
type CreateBlinkRequest struct {
	Icon        string `json:"icon"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Label       string `json:"label"`
	Wallet      string `json:"wallet"`
}

// CreateTokenBlinkRequest describes a new token Blink. Icon and title come
// from the mint's metadata.
type CreateTokenBlinkRequest struct {
	Label       string  `json:"label"`
	Description string  `json:"description"`
	Wallet      string  `json:"wallet"`
	Mint        string  `json:"mint"`
	Commission  bool    `json:"commission"`
	Percentage  float64 `json:"percentage"`
}

// CreateBlinkResponse carries the new Blink's id and the creation-fee
// transaction the creator signs and submits.
type CreateBlinkResponse struct {
	ID                   string `json:"id"`
	ActionURL            string `json:"action_url"`
	Transaction          string `json:"transaction,omitempty"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height,omitempty"`
	Memo                 string `json:"memo,omitempty"`
}

// Action is the discovery payload served for a Blink.
type Action struct {
	Type        string `json:"type"`
	Icon        string `json:"icon"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Label       string `json:"label"`
	Links       *struct {
		Actions []LinkedAction `json:"actions"`
	} `json:"links,omitempty"`
}

// LinkedAction is one button of a Blink.
type LinkedAction struct {
	Type       string `json:"type"`
	Href       string `json:"href"`
	Label      string `json:"label"`
	Parameters []struct {
		Name     string `json:"name"`
		Label    string `json:"label"`
		Type     string `json:"type,omitempty"`
		Required bool   `json:"required,omitempty"`
	} `json:"parameters,omitempty"`
}

// ActionTransaction is the unsigned transaction returned by an action POST.
type ActionTransaction struct {
	Type        string `json:"type"`
	Transaction string `json:"transaction"`
	Message     string `json:"message"`
}

// PaymentConfirmation is the response to a payment submission. WorkflowID is
// set when the server confirms asynchronously; Result is set when it
// confirmed inline.
type PaymentConfirmation struct {
	BlinkID    string         `json:"blink_id"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Status     string         `json:"status"`
	Result     *PaymentResult `json:"result,omitempty"`
}

// PaymentResult is the outcome of a creation-fee confirmation.
type PaymentResult struct {
	BlinkID   string    `json:"blink_id"`
	Signature string    `json:"signature"`
	Lamports  uint64    `json:"lamports"`
	Slot      uint64    `json:"slot"`
	Status    string    `json:"status"`
	PaidAt    time.Time `json:"paid_at"`
	Error     *string   `json:"error,omitempty"`
}

// PaymentStatus is the state of a confirmation workflow.
type PaymentStatus struct {
	WorkflowID string         `json:"workflow_id"`
	Status     string         `json:"status"`
	StartTime  *time.Time     `json:"start_time,omitempty"`
	CloseTime  *time.Time     `json:"close_time,omitempty"`
	Result     *PaymentResult `json:"result,omitempty"`
	Error      *string        `json:"error,omitempty"`
}

// Done reports whether the workflow has closed.
func (s *PaymentStatus) Done() bool {
	return s.CloseTime != nil || (s.Status != "" && s.Status != "Running")
}

// TokenInfo is the metadata used to prefill token Blinks.
type TokenInfo struct {
	Mint     string `json:"mint"`
	Icon     string `json:"icon"`
	Title    string `json:"title"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals *uint8 `json:"decimals,omitempty"`
	Source   string `json:"source"`
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client is the HTTP client for the Blinks service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new Blinks service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// CreateBlink creates an unpaid donation Blink.
func (c *Client) CreateBlink(ctx context.Context, req CreateBlinkRequest) (*CreateBlinkResponse, error) {
	var out CreateBlinkResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/blinks", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	c.logger.Debug("blink created", "id", out.ID, "wallet", req.Wallet)
	return &out, nil
}

// CreateTokenBlink creates an unpaid token Blink.
func (c *Client) CreateTokenBlink(ctx context.Context, req CreateTokenBlinkRequest) (*CreateBlinkResponse, error) {
	var out CreateBlinkResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/blinks/token", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	c.logger.Debug("token blink created", "id", out.ID, "mint", req.Mint)
	return &out, nil
}

// GetBlink retrieves a Blink by id.
func (c *Client) GetBlink(ctx context.Context, id string) (*Blink, error) {
	var out Blink
	if err := c.do(ctx, http.MethodGet, "/api/v1/blinks/"+url.PathEscape(id), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListBlinks retrieves the Blinks owned by wallet, newest first. A zero limit
// uses the server default.
func (c *Client) ListBlinks(ctx context.Context, wallet string, limit, offset int) ([]*Blink, error) {
	q := url.Values{"wallet": {wallet}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var out struct {
		Blinks []*Blink `json:"blinks"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/blinks?"+q.Encode(), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Blinks, nil
}

// ListAttempts retrieves the transaction attempts recorded for a Blink.
func (c *Client) ListAttempts(ctx context.Context, id string, limit int) ([]*Attempt, error) {
	path := "/api/v1/blinks/" + url.PathEscape(id) + "/attempts"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var out struct {
		Attempts []*Attempt `json:"attempts"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Attempts, nil
}

// GetAction fetches the discovery payload of a Blink.
func (c *Client) GetAction(ctx context.Context, kind, id string) (*Action, error) {
	var out Action
	if err := c.do(ctx, http.MethodGet, actionPath(kind, id), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// PostAction requests an unsigned transaction for account. An empty amount
// lets the server apply its default.
func (c *Client) PostAction(ctx context.Context, kind, id, account, amount string) (*ActionTransaction, error) {
	path := actionPath(kind, id)
	if amount != "" {
		path += "?amount=" + url.QueryEscape(amount)
	}

	var out ActionTransaction
	body := map[string]string{"account": account}
	if err := c.do(ctx, http.MethodPost, path, body, &out, http.StatusOK); err != nil {
		return nil, err
	}
	c.logger.Debug("action transaction received", "id", id, "account", account, "message", out.Message)
	return &out, nil
}

// ConfirmPayment submits the signature of a creation-fee payment.
func (c *Client) ConfirmPayment(ctx context.Context, id, signature string) (*PaymentConfirmation, error) {
	var raw json.RawMessage
	path := "/api/v1/blinks/" + url.PathEscape(id) + "/payment"
	status, err := c.doStatus(ctx, http.MethodPost, path, map[string]string{"signature": signature}, &raw, http.StatusAccepted, http.StatusOK)
	if err != nil {
		return nil, err
	}

	if status == http.StatusAccepted {
		var out PaymentConfirmation
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return &out, nil
	}

	var result PaymentResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &PaymentConfirmation{BlinkID: result.BlinkID, Status: result.Status, Result: &result}, nil
}

// GetPaymentStatus reports the state of a confirmation workflow.
func (c *Client) GetPaymentStatus(ctx context.Context, workflowID string) (*PaymentStatus, error) {
	var out PaymentStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/payment-status/"+url.PathEscape(workflowID), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// AwaitPayment polls a confirmation workflow until it closes or ctx is done.
func (c *Client) AwaitPayment(ctx context.Context, workflowID string, pollInterval time.Duration) (*PaymentStatus, error) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.GetPaymentStatus(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		if status.Done() {
			c.logger.Debug("payment workflow closed", "workflow_id", workflowID, "status", status.Status)
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for payment confirmation: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// GetTokenInfo resolves token metadata for a mint.
func (c *Client) GetTokenInfo(ctx context.Context, mint string) (*TokenInfo, error) {
	var out TokenInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/token-info?mint="+url.QueryEscape(mint), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

func actionPath(kind, id string) string {
	return "/actions/" + url.PathEscape(kind) + "/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, want ...int) error {
	_, err := c.doStatus(ctx, method, path, in, out, want...)
	return err
}

// doStatus sends in as JSON, decodes a response with one of the wanted
// status codes into out and returns the status code.
func (c *Client) doStatus(ctx context.Context, method, path string, in, out interface{}, want ...int) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	for _, code := range want {
		if resp.StatusCode == code {
			if out != nil {
				if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
					return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
				}
			}
			return resp.StatusCode, nil
		}
	}
	return resp.StatusCode, c.parseErrorResponse(resp)
}

// parseErrorResponse attempts to parse an error response from the server.
// Action routes report gated Blinks under "message" rather than "error".
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || (errResp.Error == "" && errResp.Message == "") {
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(body))}
	}

	msg := errResp.Error
	if msg == "" {
		msg = errResp.Message
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
