package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/brojonat/blinks/service/db"
	"github.com/brojonat/blinks/service/tokeninfo"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateBody(wallet string, overrides map[string]string) string {
	fields := map[string]string{
		"icon":        "https://example.com/icon.png",
		"title":       "Buy me a coffee",
		"description": "Every tip helps",
		"label":       "Tip",
		"wallet":      wallet,
	}
	for k, v := range overrides {
		fields[k] = v
	}
	b, _ := json.Marshal(fields)
	return string(b)
}

func TestGenerateBlink(t *testing.T) {
	wallet := newWallet()
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodPost, "/api/v1/blinks", generateBody(wallet, nil))
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

	var resp generateBlinkResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	assert.Equal(t, "https://blinks.example.com/actions/donate/"+resp.ID, resp.ActionURL)
	assert.Equal(t, wallet+resp.ID, resp.Memo)
	assert.Equal(t, uint64(4242), resp.LastValidBlockHeight)

	created := ts.store.Created()
	require.Len(t, created, 1)
	assert.Equal(t, db.KindDonate, created[0].Kind)
	assert.Equal(t, "Buy me a coffee", created[0].Title)
	assert.Nil(t, created[0].Mint)

	// The fee transaction pays the treasury from the creator and carries the memo.
	tx := decodeTransaction(t, resp.Transaction)
	require.Len(t, tx.Message.Instructions, 2)
	assert.Equal(t, solana.MustPublicKeyFromBase58(wallet), tx.Message.AccountKeys[0])
	assert.Equal(t, uint64(10_000_000), transferAmount(t, tx, 0))

	transferProgram, err := tx.Message.Program(tx.Message.Instructions[0].ProgramIDIndex)
	require.NoError(t, err)
	assert.Equal(t, solana.SystemProgramID, transferProgram)

	accounts, err := tx.Message.Instructions[0].ResolveInstructionAccounts(&tx.Message)
	require.NoError(t, err)
	assert.Equal(t, solana.MustPublicKeyFromBase58(testTreasury), accounts[1].PublicKey)

	memoProgram, err := tx.Message.Program(tx.Message.Instructions[1].ProgramIDIndex)
	require.NoError(t, err)
	assert.Equal(t, solana.MemoProgramID, memoProgram)
	assert.Equal(t, wallet+resp.ID, string(tx.Message.Instructions[1].Data))

	// A freshly generated Blink is gated until its fee is confirmed.
	w = ts.do(http.MethodGet, "/actions/donate/"+resp.ID, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGenerateBlink_Errors(t *testing.T) {
	wallet := newWallet()

	tests := []struct {
		name           string
		body           string
		setup          func(ts *testServer)
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "malformed JSON",
			body:           `{"icon":`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid JSON in request body",
		},
		{
			name:           "missing title",
			body:           generateBody(wallet, map[string]string{"title": ""}),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Missing required fields",
		},
		{
			name:           "non http icon",
			body:           generateBody(wallet, map[string]string{"icon": "ftp://example.com/icon.png"}),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "icon must be an http or https URL",
		},
		{
			name:           "title too long",
			body:           generateBody(wallet, map[string]string{"title": strings.Repeat("t", 51)}),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "title too long: maximum length is 50 characters",
		},
		{
			name:           "description too long",
			body:           generateBody(wallet, map[string]string{"description": strings.Repeat("d", 144)}),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "description too long: maximum length is 143 characters",
		},
		{
			name:           "script in description",
			body:           generateBody(wallet, map[string]string{"description": "hi <script>alert(1)</script>"}),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid content in description: markup and event handlers are not allowed",
		},
		{
			name:           "invalid wallet",
			body:           generateBody("0OIl", nil),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid address format: must contain only valid base58 characters",
		},
		{
			name:           "store failure",
			body:           generateBody(wallet, nil),
			setup:          func(ts *testServer) { ts.store.createErr = errors.New("unique violation") },
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "Failed to generate blink",
		},
		{
			name:           "blockhash failure",
			body:           generateBody(wallet, nil),
			setup:          func(ts *testServer) { ts.source.err = errors.New("rpc down") },
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "Failed to generate blink",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			if tt.setup != nil {
				tt.setup(ts)
			}

			w := ts.do(http.MethodPost, "/api/v1/blinks", tt.body)
			require.Equal(t, tt.expectedStatus, w.Code, "body: %s", w.Body.String())
			assert.Equal(t, tt.expectedError, decodeBody(t, w)["error"])
		})
	}
}

func TestGenerateBlink_PaymentNotRequired(t *testing.T) {
	ts := newTestServer(t, nil, withoutPaymentRequirement())

	w := ts.do(http.MethodPost, "/api/v1/blinks", generateBody(newWallet(), nil))
	require.Equal(t, http.StatusCreated, w.Code)

	body := decodeBody(t, w)
	assert.NotContains(t, body, "transaction")

	// Without paid-gating the Blink is usable immediately.
	w = ts.do(http.MethodGet, "/actions/donate/"+body["id"].(string), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGenerateTokenBlink(t *testing.T) {
	decimals := uint8(6)
	wallet := newWallet()

	newTokenServer := func(t *testing.T) *testServer {
		ts := newTestServer(t, nil)
		ts.tokens.infos[testMint] = &tokeninfo.Info{
			Mint:     testMint,
			Icon:     "https://example.com/usdc.png",
			Title:    "BUY USD Coin",
			Name:     "USD Coin",
			Symbol:   "USDC",
			Decimals: &decimals,
		}
		return ts
	}

	t.Run("prefilled from token info with capped commission", func(t *testing.T) {
		ts := newTokenServer(t)

		w := ts.do(http.MethodPost, "/api/v1/blinks/token", `{"label":"Buy","description":"Stable","wallet":"`+wallet+`","mint":"`+testMint+`","commission":true,"percentage":0.5}`)
		require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

		created := ts.store.Created()
		require.Len(t, created, 1)
		params := created[0]
		assert.Equal(t, db.KindToken, params.Kind)
		assert.Equal(t, "BUY USD Coin", params.Title)
		assert.Equal(t, "https://example.com/usdc.png", params.Icon)
		require.NotNil(t, params.Mint)
		assert.Equal(t, testMint, *params.Mint)
		require.NotNil(t, params.Symbol)
		assert.Equal(t, "USDC", *params.Symbol)
		require.NotNil(t, params.Decimals)
		assert.Equal(t, int16(6), *params.Decimals)
		assert.True(t, params.Commission.Enabled)
		assert.Equal(t, 0.01, params.Commission.Percentage)

		body := decodeBody(t, w)
		assert.Equal(t, "https://blinks.example.com/actions/token/"+body["id"].(string), body["action_url"])
		assert.NotEmpty(t, body["transaction"])
	})

	t.Run("mint precision above the stored range is rejected", func(t *testing.T) {
		ts := newTokenServer(t)
		wide := uint8(19)
		ts.tokens.infos[testMint].Decimals = &wide

		w := ts.do(http.MethodPost, "/api/v1/blinks/token", `{"label":"Buy","description":"Stable","wallet":"`+wallet+`","mint":"`+testMint+`"}`)
		require.Equal(t, http.StatusBadRequest, w.Code, "body: %s", w.Body.String())
		assert.Equal(t, "Unsupported mint: more than 18 decimals", decodeBody(t, w)["error"])
		assert.Empty(t, ts.store.Created())
	})

	t.Run("mint precision at the limit is stored", func(t *testing.T) {
		ts := newTokenServer(t)
		limit := uint8(18)
		ts.tokens.infos[testMint].Decimals = &limit

		w := ts.do(http.MethodPost, "/api/v1/blinks/token", `{"label":"Buy","description":"Stable","wallet":"`+wallet+`","mint":"`+testMint+`"}`)
		require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
		require.NotNil(t, ts.store.Created()[0].Decimals)
		assert.Equal(t, int16(18), *ts.store.Created()[0].Decimals)
	})

	t.Run("commission disabled ignores percentage", func(t *testing.T) {
		ts := newTokenServer(t)

		w := ts.do(http.MethodPost, "/api/v1/blinks/token", `{"label":"Buy","description":"Stable","wallet":"`+wallet+`","mint":"`+testMint+`","percentage":0.5}`)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, 0.0, ts.store.Created()[0].Commission.Percentage)
	})

	errorTests := []struct {
		name           string
		body           string
		tokenErr       error
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "missing mint",
			body:           `{"label":"Buy","description":"Stable","wallet":"` + wallet + `"}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Missing required fields",
		},
		{
			name:           "invalid mint",
			body:           `{"label":"Buy","description":"Stable","wallet":"` + wallet + `","mint":"0OIl"}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid mint",
		},
		{
			name:           "negative percentage",
			body:           `{"label":"Buy","description":"Stable","wallet":"` + wallet + `","mint":"` + testMint + `","commission":true,"percentage":-0.1}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "percentage must be between 0 and 1",
		},
		{
			name:           "token info unavailable",
			body:           `{"label":"Buy","description":"Stable","wallet":"` + wallet + `","mint":"` + testMint + `"}`,
			tokenErr:       tokeninfo.ErrNotFound,
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "Failed to generate blink",
		},
	}

	for _, tt := range errorTests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t)
			ts.tokens.err = tt.tokenErr

			w := ts.do(http.MethodPost, "/api/v1/blinks/token", tt.body)
			require.Equal(t, tt.expectedStatus, w.Code, "body: %s", w.Body.String())
			assert.Equal(t, tt.expectedError, decodeBody(t, w)["error"])
			assert.Empty(t, ts.store.Created())
		})
	}
}
