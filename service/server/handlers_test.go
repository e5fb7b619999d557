package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/blinks/service/actions"
	"github.com/brojonat/blinks/service/config"
	"github.com/brojonat/blinks/service/db"
	"github.com/brojonat/blinks/service/temporal"
	"github.com/brojonat/blinks/service/tokeninfo"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTreasury = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	testMint     = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// mockStore implements BlinkStore and actions.Store for testing.
type mockStore struct {
	mu        sync.Mutex
	blinks    map[string]*db.Blink
	attempts  []db.CreateTransactionAttemptParams
	created   []db.CreateBlinkParams
	createErr error
	findErr   error
	listErr   error
	insertErr error
	nextID    int
}

func newMockStore(blinks ...*db.Blink) *mockStore {
	m := &mockStore{blinks: make(map[string]*db.Blink)}
	for _, b := range blinks {
		m.blinks[b.ID] = b
	}
	return m
}

func (m *mockStore) CreateBlink(ctx context.Context, params db.CreateBlinkParams) (*db.Blink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.nextID++
	b := &db.Blink{
		ID:          fmt.Sprintf("00000000-0000-4000-8000-%012d", m.nextID),
		Kind:        params.Kind,
		Icon:        params.Icon,
		Title:       params.Title,
		Description: params.Description,
		Label:       params.Label,
		Wallet:      params.Wallet,
		Mint:        params.Mint,
		Symbol:      params.Symbol,
		Decimals:    params.Decimals,
		Commission:  params.Commission,
		CreatedAt:   time.Now(),
	}
	m.blinks[b.ID] = b
	m.created = append(m.created, params)
	return b, nil
}

func (m *mockStore) FindBlinkByID(ctx context.Context, id string) (*db.Blink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	b, ok := m.blinks[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return b, nil
}

func (m *mockStore) ListBlinksByWallet(ctx context.Context, params db.ListBlinksByWalletParams) ([]*db.Blink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*db.Blink
	for _, b := range m.blinks {
		if b.Wallet == params.Wallet {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockStore) ListTransactionAttempts(ctx context.Context, blinkID string, limit int32) ([]*db.TransactionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*db.TransactionAttempt
	for i, a := range m.attempts {
		if a.BlinkID == blinkID && int32(len(out)) < limit {
			out = append(out, &db.TransactionAttempt{
				ID:        int64(i + 1),
				BlinkID:   a.BlinkID,
				Sender:    a.Sender,
				Amount:    a.Amount,
				BaseUnits: a.BaseUnits,
				Status:    a.Status,
			})
		}
	}
	return out, nil
}

func (m *mockStore) InsertTransactionAttempt(ctx context.Context, params db.CreateTransactionAttemptParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.attempts = append(m.attempts, params)
	return int64(len(m.attempts)), nil
}

func (m *mockStore) Created() []db.CreateBlinkParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]db.CreateBlinkParams, len(m.created))
	copy(out, m.created)
	return out
}

func (m *mockStore) AttemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attempts)
}

// fakeBlockhashes implements actions.BlockhashSource.
type fakeBlockhashes struct {
	err error
}

func (f *fakeBlockhashes) LatestBlockhash(ctx context.Context) (*actions.Blockhash, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &actions.Blockhash{Hash: solana.Hash{1, 2, 3, 4}, LastValidBlockHeight: 4242}, nil
}

// mockTokens implements TokenInfoSource.
type mockTokens struct {
	infos map[string]*tokeninfo.Info
	err   error
}

func (m *mockTokens) Get(ctx context.Context, mint string) (*tokeninfo.Info, error) {
	if m.err != nil {
		return nil, m.err
	}
	if _, err := solana.PublicKeyFromBase58(mint); err != nil {
		return nil, fmt.Errorf("%w: %v", tokeninfo.ErrInvalidMint, err)
	}
	info, ok := m.infos[mint]
	if !ok {
		return nil, tokeninfo.ErrNotFound
	}
	return info, nil
}

// mockConfirmer implements PaymentConfirmer.
type mockConfirmer struct {
	mu     sync.Mutex
	inputs []temporal.ConfirmPaymentInput
	result *temporal.ConfirmPaymentResult
	err    error
}

func (m *mockConfirmer) ConfirmNow(ctx context.Context, input temporal.ConfirmPaymentInput) (*temporal.ConfirmPaymentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, input)
	return m.result, m.err
}

type testServer struct {
	store     *mockStore
	source    *fakeBlockhashes
	tokens    *mockTokens
	scheduler *temporal.MockScheduler
	confirmer *mockConfirmer
	cfg       *config.Config
	handler   http.Handler
}

type serverOption func(*testServer)

func withoutPaymentRequirement() serverOption {
	return func(ts *testServer) { ts.cfg.Payment.Required = false }
}

func withInlineConfirmation() serverOption {
	return func(ts *testServer) { ts.scheduler = nil }
}

func newTestServer(t *testing.T, blinks []*db.Blink, opts ...serverOption) *testServer {
	t.Helper()

	ts := &testServer{
		store:     newMockStore(blinks...),
		source:    &fakeBlockhashes{},
		tokens:    &mockTokens{infos: map[string]*tokeninfo.Info{}},
		scheduler: temporal.NewMockScheduler(),
		confirmer: &mockConfirmer{},
		cfg: &config.Config{
			ActionTimeout:  5 * time.Second,
			PersistTimeout: time.Second,
			SolanaNetwork:  "devnet",
			PublicBaseURL:  "https://blinks.example.com",
			Payment: config.PaymentConfig{
				TreasuryWallet:          testTreasury,
				FeeLamports:             10_000_000,
				Required:                true,
				MaxCommissionPercentage: 0.01,
				ConfirmTimeout:          2 * time.Minute,
			},
		},
	}
	for _, opt := range opts {
		opt(ts)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := actions.NewService(ts.store, ts.source, actions.Config{
		Treasury:       ts.cfg.Payment.Treasury(),
		RequirePayment: ts.cfg.Payment.Required,
		PersistTimeout: ts.cfg.PersistTimeout,
	}, nil, nil, logger)

	// A nil *MockScheduler must reach the server as a nil interface.
	var scheduler temporal.PaymentScheduler
	if ts.scheduler != nil {
		scheduler = ts.scheduler
	}

	srv := New(":0", ts.cfg, svc, ts.store, ts.tokens, scheduler, ts.confirmer, nil, logger)
	ts.handler = srv.Handler()
	return ts
}

func (ts *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "body: %s", w.Body.String())
	return body
}

func newWallet() string {
	return solana.NewWallet().PublicKey().String()
}

func testBlink(id string, paid bool) *db.Blink {
	return &db.Blink{
		ID:          id,
		Kind:        db.KindDonate,
		Icon:        "https://example.com/icon.png",
		Title:       "Support my work",
		Description: "Tips keep the lights on",
		Label:       "Donate",
		Wallet:      newWallet(),
		IsPaid:      paid,
		CreatedAt:   time.Now(),
	}
}

func TestHandleGetBlink(t *testing.T) {
	blink := testBlink("11111111-2222-4333-8444-555555555555", true)
	ts := newTestServer(t, []*db.Blink{blink})

	t.Run("found", func(t *testing.T) {
		w := ts.do(http.MethodGet, "/api/v1/blinks/"+blink.ID, "")
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeBody(t, w)
		assert.Equal(t, blink.ID, body["id"])
		assert.Equal(t, blink.Wallet, body["wallet"])
		assert.Equal(t, true, body["is_paid"])
		assert.Equal(t, "https://blinks.example.com/actions/donate/"+blink.ID, body["action_url"])
	})

	t.Run("not found", func(t *testing.T) {
		w := ts.do(http.MethodGet, "/api/v1/blinks/missing", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "Blink not found", decodeBody(t, w)["error"])
	})

	t.Run("store failure", func(t *testing.T) {
		ts.store.findErr = errors.New("connection refused")
		defer func() { ts.store.findErr = nil }()

		w := ts.do(http.MethodGet, "/api/v1/blinks/"+blink.ID, "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "Failed to fetch blink", decodeBody(t, w)["error"])
		assert.NotContains(t, w.Body.String(), "connection refused")
	})
}

func TestHandleListBlinks(t *testing.T) {
	owned := testBlink("11111111-2222-4333-8444-555555555555", true)
	other := testBlink("66666666-7777-4888-9999-000000000000", false)
	ts := newTestServer(t, []*db.Blink{owned, other})

	tests := []struct {
		name           string
		query          string
		expectedStatus int
		expectedCount  float64
		expectedError  string
	}{
		{"wallet filter", "?wallet=" + owned.Wallet, http.StatusOK, 1, ""},
		{"missing wallet", "", http.StatusBadRequest, 0, "wallet query parameter is required"},
		{"invalid wallet", "?wallet=not-base58!", http.StatusBadRequest, 0, "invalid address format"},
		{"limit too large", "?wallet=" + owned.Wallet + "&limit=5000", http.StatusBadRequest, 0, "limit cannot exceed 1000"},
		{"negative offset", "?wallet=" + owned.Wallet + "&offset=-1", http.StatusBadRequest, 0, "offset cannot be negative"},
		{"bad limit", "?wallet=" + owned.Wallet + "&limit=ten", http.StatusBadRequest, 0, "invalid limit parameter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(http.MethodGet, "/api/v1/blinks"+tt.query, "")
			require.Equal(t, tt.expectedStatus, w.Code, "body: %s", w.Body.String())

			body := decodeBody(t, w)
			if tt.expectedError != "" {
				assert.Contains(t, body["error"], tt.expectedError)
				return
			}
			assert.Equal(t, tt.expectedCount, body["count"])
			assert.Equal(t, float64(100), body["limit"])
		})
	}
}

func TestHandleListAttempts(t *testing.T) {
	blink := testBlink("11111111-2222-4333-8444-555555555555", true)
	ts := newTestServer(t, []*db.Blink{blink})

	payer := newWallet()
	w := ts.do(http.MethodPost, "/actions/donate/"+blink.ID, `{"account":"`+payer+`"}`)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	w = ts.do(http.MethodGet, "/api/v1/blinks/"+blink.ID+"/attempts", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Attempts []attemptResponse `json:"attempts"`
		Count    int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, payer, resp.Attempts[0].Sender)
	assert.Equal(t, 0.1, resp.Attempts[0].Amount)
	assert.Equal(t, int64(100_000_000), resp.Attempts[0].BaseUnits)
	assert.Equal(t, db.AttemptStatusPending, resp.Attempts[0].Status)

	w = ts.do(http.MethodGet, "/api/v1/blinks/unknown/attempts", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetTokenInfo(t *testing.T) {
	decimals := uint8(6)
	ts := newTestServer(t, nil)
	ts.tokens.infos[testMint] = &tokeninfo.Info{
		Mint:     testMint,
		Icon:     "https://example.com/usdc.png",
		Title:    "BUY USD Coin",
		Name:     "USD Coin",
		Symbol:   "USDC",
		Decimals: &decimals,
		Source:   "metaplex",
	}

	t.Run("found", func(t *testing.T) {
		w := ts.do(http.MethodGet, "/api/v1/token-info?mint="+testMint, "")
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeBody(t, w)
		assert.Equal(t, "BUY USD Coin", body["title"])
		assert.Equal(t, "USDC", body["symbol"])
		assert.Equal(t, float64(6), body["decimals"])
	})

	t.Run("missing mint", func(t *testing.T) {
		w := ts.do(http.MethodGet, "/api/v1/token-info", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Mint address is required", decodeBody(t, w)["error"])
	})

	t.Run("invalid mint", func(t *testing.T) {
		w := ts.do(http.MethodGet, "/api/v1/token-info?mint=0OIl", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Invalid mint", decodeBody(t, w)["error"])
	})

	t.Run("unknown mint", func(t *testing.T) {
		w := ts.do(http.MethodGet, "/api/v1/token-info?mint="+newWallet(), "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "Token Info not found", decodeBody(t, w)["error"])
	})
}

func TestHealthAndPreflight(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = ts.do(http.MethodOptions, "/api/v1/blinks", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
