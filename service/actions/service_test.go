package actions

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/blinks/service/db"
	"github.com/brojonat/blinks/service/metrics"
	natspkg "github.com/brojonat/blinks/service/nats"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStore implements Store for testing.
type mockStore struct {
	mu        sync.Mutex
	blinks    map[string]*db.Blink
	attempts  []db.CreateTransactionAttemptParams
	findErr   error
	insertErr error
	ctxErr    error
	finds     int
}

func newMockStore(blinks ...*db.Blink) *mockStore {
	m := &mockStore{blinks: make(map[string]*db.Blink)}
	for _, b := range blinks {
		m.blinks[b.ID] = b
	}
	return m
}

func (m *mockStore) FindBlinkByID(ctx context.Context, id string) (*db.Blink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	if m.findErr != nil {
		return nil, m.findErr
	}
	b, ok := m.blinks[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return b, nil
}

func (m *mockStore) InsertTransactionAttempt(ctx context.Context, params db.CreateTransactionAttemptParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErr = ctx.Err()
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.attempts = append(m.attempts, params)
	return int64(len(m.attempts)), nil
}

func (m *mockStore) Finds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finds
}

func (m *mockStore) Attempts() []db.CreateTransactionAttemptParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]db.CreateTransactionAttemptParams, len(m.attempts))
	copy(out, m.attempts)
	return out
}

func donateBlink(id, wallet string, paid bool) *db.Blink {
	return &db.Blink{
		ID:          id,
		Kind:        db.KindDonate,
		Icon:        "https://example.com/icon.png",
		Title:       "Support my work",
		Description: "Tips welcome",
		Label:       "Donate",
		Wallet:      wallet,
		IsPaid:      paid,
		CreatedAt:   time.Now(),
	}
}

type serviceFixture struct {
	store     *mockStore
	source    *fakeBlockhashes
	publisher *natspkg.MockPublisher
	treasury  solana.PublicKey
	svc       *Service
}

func newFixture(t *testing.T, requirePayment bool, blinks ...*db.Blink) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		store:     newMockStore(blinks...),
		source:    &fakeBlockhashes{},
		publisher: natspkg.NewMockPublisher(),
		treasury:  solana.NewWallet().PublicKey(),
	}
	f.svc = NewService(f.store, f.source, Config{
		Treasury:       f.treasury,
		RequirePayment: requirePayment,
		PersistTimeout: time.Second,
	}, f.publisher, nil, testLogger())
	return f
}

func transferLamports(t *testing.T, tx *solana.Transaction, idx int) (solana.PublicKey, uint64) {
	t.Helper()
	require.Greater(t, len(tx.Message.Instructions), idx)
	inst := tx.Message.Instructions[idx]
	program, err := tx.Message.Program(inst.ProgramIDIndex)
	require.NoError(t, err)
	require.Equal(t, solana.SystemProgramID, program)
	require.Len(t, inst.Data, 12)
	to := tx.Message.AccountKeys[inst.Accounts[1]]
	return to, binary.LittleEndian.Uint64(inst.Data[4:12])
}

func TestResolve(t *testing.T) {
	owner := solana.NewWallet().PublicKey().String()
	f := newFixture(t, true,
		donateBlink("paid", owner, true),
		donateBlink("unpaid", owner, false),
	)
	ctx := context.Background()

	resp, err := f.svc.Resolve(ctx, db.KindDonate, "paid")
	require.NoError(t, err)
	assert.Equal(t, "action", resp.Type)
	assert.Equal(t, "Support my work", resp.Title)
	assert.Equal(t, "Tips welcome", resp.Description)
	assert.Equal(t, "Donate", resp.Label)
	assert.Equal(t, "https://example.com/icon.png", resp.Icon)
	require.NotNil(t, resp.Links)
	require.Len(t, resp.Links.Actions, 4)
	assert.Equal(t, "/actions/donate/paid?amount=0.1", resp.Links.Actions[0].Href)
	assert.Equal(t, "/actions/donate/paid?amount={amount}", resp.Links.Actions[3].Href)

	_, err = f.svc.Resolve(ctx, db.KindDonate, "unpaid")
	require.Error(t, err)
	assert.Equal(t, KindBlinkUnpaid, KindOf(err))
	var ae *Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "This blink is not paid for yet. Please pay to use it.", ae.Message)

	_, err = f.svc.Resolve(ctx, db.KindDonate, "missing")
	assert.Equal(t, KindBlinkNotFound, KindOf(err))

	_, err = f.svc.Resolve(ctx, db.KindDonate, "")
	assert.Equal(t, KindMissingIdentifier, KindOf(err))

	_, err = f.svc.Resolve(ctx, db.KindToken, "paid")
	assert.Equal(t, KindBlinkNotFound, KindOf(err), "kind mismatch is not found")
}

func TestLoad_SkipsStoreWithoutValidRoute(t *testing.T) {
	owner := solana.NewWallet().PublicKey().String()
	f := newFixture(t, true, donateBlink("paid", owner, true))
	ctx := context.Background()

	_, err := f.svc.Resolve(ctx, db.KindDonate, "")
	assert.Equal(t, KindMissingIdentifier, KindOf(err))

	_, err = f.svc.Execute(ctx, ExecuteRequest{Kind: db.KindDonate, Account: owner})
	assert.Equal(t, KindMissingIdentifier, KindOf(err))

	_, err = f.svc.Resolve(ctx, "nft", "paid")
	assert.Equal(t, KindBlinkNotFound, KindOf(err))

	assert.Equal(t, 0, f.store.Finds(), "no store lookup without an id and a known kind")
	assert.Empty(t, f.store.Attempts())
}

func TestRecord_UnknownKindsShareOneSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, true)
	f.svc = NewService(f.store, f.source, Config{Treasury: f.treasury, RequirePayment: true}, nil, metrics.NewMetrics(reg), testLogger())
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := f.svc.Resolve(ctx, fmt.Sprintf("junk%d", i), "x")
		require.Error(t, err)
	}
	_, err := f.svc.Resolve(ctx, db.KindDonate, "x")
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	kinds := map[string]bool{}
	for _, family := range families {
		if family.GetName() != "blink_action_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "kind" {
					kinds[label.GetValue()] = true
				}
			}
		}
	}
	assert.Equal(t, map[string]bool{"unknown": true, db.KindDonate: true}, kinds)
}

func TestResolve_PaymentNotRequired(t *testing.T) {
	f := newFixture(t, false, donateBlink("unpaid", "", false))

	resp, err := f.svc.Resolve(context.Background(), db.KindDonate, "unpaid")
	require.NoError(t, err)
	assert.Equal(t, "action", resp.Type)
}

func TestResolve_StoreFailure(t *testing.T) {
	f := newFixture(t, true)
	f.store.findErr = errors.New("connection refused")

	_, err := f.svc.Resolve(context.Background(), db.KindDonate, "any")
	require.Error(t, err)
	assert.Equal(t, KindPersistenceFailure, KindOf(err))
	assert.False(t, IsClientError(err))
}

func TestExecute_DonateWithoutCommission(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	f := newFixture(t, true, donateBlink("b1", owner.String(), true))
	payer := solana.NewWallet().PublicKey()

	resp, err := f.svc.Execute(context.Background(), ExecuteRequest{
		Kind:        db.KindDonate,
		ID:          "b1",
		Account:     payer.String(),
		QueryAmount: strPtr("1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "transaction", resp.Type)
	assert.Equal(t, "Sending 1 SOL to the creator", resp.Message)

	tx := decodeTx(t, resp.Transaction)
	assert.Equal(t, payer, tx.Message.AccountKeys[0], "fee payer is the caller")
	require.Len(t, tx.Message.Instructions, 1)
	to, lamports := transferLamports(t, tx, 0)
	assert.Equal(t, owner, to)
	assert.Equal(t, uint64(1_000_000_000), lamports)

	attempts := f.store.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, "b1", attempts[0].BlinkID)
	assert.Equal(t, payer.String(), attempts[0].Sender)
	assert.Equal(t, 1.0, attempts[0].Amount)
	assert.Equal(t, int64(1_000_000_000), attempts[0].BaseUnits)
	assert.Equal(t, db.AttemptStatusPending, attempts[0].Status)

	events := f.publisher.AttemptEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "b1", events[0].BlinkID)
	assert.Equal(t, owner.String(), events[0].Recipient)
}

func TestExecute_CommissionSecond(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	blink := donateBlink("b1", owner.String(), true)
	blink.Commission = db.Commission{Enabled: true, Percentage: 0.01}
	f := newFixture(t, true, blink)

	resp, err := f.svc.Execute(context.Background(), ExecuteRequest{
		Kind:        db.KindDonate,
		ID:          "b1",
		Account:     solana.NewWallet().PublicKey().String(),
		InputAmount: strPtr("2"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Sending 2 SOL to the creator", resp.Message)

	tx := decodeTx(t, resp.Transaction)
	require.Len(t, tx.Message.Instructions, 2)

	to, lamports := transferLamports(t, tx, 0)
	assert.Equal(t, owner, to)
	assert.Equal(t, uint64(2_000_000_000), lamports)

	to, lamports = transferLamports(t, tx, 1)
	assert.Equal(t, owner, to)
	assert.Equal(t, uint64(20_000_000), lamports)
}

func TestExecute_TreasuryWhenNoWallet(t *testing.T) {
	f := newFixture(t, true, donateBlink("b1", "", true))

	resp, err := f.svc.Execute(context.Background(), ExecuteRequest{
		Kind:    db.KindDonate,
		ID:      "b1",
		Account: solana.NewWallet().PublicKey().String(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Sending 0.1 SOL to the creator", resp.Message)

	tx := decodeTx(t, resp.Transaction)
	to, lamports := transferLamports(t, tx, 0)
	assert.Equal(t, f.treasury, to)
	assert.Equal(t, uint64(100_000_000), lamports)
}

func TestExecute_TokenBlink(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	mintStr := mint.String()
	symbol := "BONK"
	decimals := int16(5)

	blink := donateBlink("t1", owner.String(), true)
	blink.Kind = db.KindToken
	blink.Mint = &mintStr
	blink.Symbol = &symbol
	blink.Decimals = &decimals
	f := newFixture(t, true, blink)

	resp, err := f.svc.Execute(context.Background(), ExecuteRequest{
		Kind:        db.KindToken,
		ID:          "t1",
		Account:     solana.NewWallet().PublicKey().String(),
		QueryAmount: strPtr("10"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Sending 10 BONK to the creator", resp.Message)

	tx := decodeTx(t, resp.Transaction)
	require.Len(t, tx.Message.Instructions, 1)
	inst := tx.Message.Instructions[0]
	program, err := tx.Message.Program(inst.ProgramIDIndex)
	require.NoError(t, err)
	assert.Equal(t, solana.TokenProgramID, program)
	assert.Equal(t, uint64(1_000_000), binary.LittleEndian.Uint64(inst.Data[1:9]))
	assert.Equal(t, byte(5), inst.Data[9])

	attempts := f.store.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, int64(1_000_000), attempts[0].BaseUnits)
}

func TestExecute_Errors(t *testing.T) {
	owner := solana.NewWallet().PublicKey().String()
	account := solana.NewWallet().PublicKey().String()

	tests := []struct {
		name   string
		req    ExecuteRequest
		kind   ErrorKind
		client bool
	}{
		{name: "missing id", req: ExecuteRequest{Kind: db.KindDonate, Account: account}, kind: KindMissingIdentifier, client: true},
		{name: "unknown id", req: ExecuteRequest{Kind: db.KindDonate, ID: "nope", Account: account}, kind: KindBlinkNotFound},
		{name: "unpaid", req: ExecuteRequest{Kind: db.KindDonate, ID: "unpaid", Account: account}, kind: KindBlinkUnpaid},
		{name: "missing account", req: ExecuteRequest{Kind: db.KindDonate, ID: "paid"}, kind: KindMissingAccount, client: true},
		{name: "invalid account", req: ExecuteRequest{Kind: db.KindDonate, ID: "paid", Account: "not-a-key"}, kind: KindInvalidPublicKey, client: true},
		{name: "invalid amount", req: ExecuteRequest{Kind: db.KindDonate, ID: "paid", Account: account, QueryAmount: strPtr("-3")}, kind: KindInvalidAmount, client: true},
		{name: "bad stored wallet", req: ExecuteRequest{Kind: db.KindDonate, ID: "corrupt", Account: account}, kind: KindInvalidPublicKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true,
				donateBlink("paid", owner, true),
				donateBlink("unpaid", owner, false),
				donateBlink("corrupt", "garbage", true),
			)

			_, err := f.svc.Execute(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Equal(t, tt.client, IsClientError(err))
			assert.Empty(t, f.store.Attempts(), "no attempt recorded on failure")
			assert.Empty(t, f.publisher.AttemptEvents())
		})
	}
}

func TestExecute_UnpaidSkipsLedger(t *testing.T) {
	f := newFixture(t, true, donateBlink("unpaid", "", false))

	_, err := f.svc.Execute(context.Background(), ExecuteRequest{
		Kind:    db.KindDonate,
		ID:      "unpaid",
		Account: solana.NewWallet().PublicKey().String(),
	})
	require.Error(t, err)
	assert.Equal(t, 0, f.source.calls, "gating runs before any blockhash fetch")
}

func TestExecute_BlockhashFailureRecordsNothing(t *testing.T) {
	f := newFixture(t, true, donateBlink("b1", "", true))
	f.source.err = errors.New("rpc unavailable")

	_, err := f.svc.Execute(context.Background(), ExecuteRequest{
		Kind:    db.KindDonate,
		ID:      "b1",
		Account: solana.NewWallet().PublicKey().String(),
	})
	require.Error(t, err)
	assert.Equal(t, KindNetworkUnavailable, KindOf(err))
	assert.Empty(t, f.store.Attempts())
}

func TestExecute_PersistenceFailure(t *testing.T) {
	f := newFixture(t, true, donateBlink("b1", "", true))
	f.store.insertErr = errors.New("disk full")

	_, err := f.svc.Execute(context.Background(), ExecuteRequest{
		Kind:    db.KindDonate,
		ID:      "b1",
		Account: solana.NewWallet().PublicKey().String(),
	})
	require.Error(t, err)
	assert.Equal(t, KindPersistenceFailure, KindOf(err))
	assert.Empty(t, f.publisher.AttemptEvents())
}

func TestExecute_PersistsAfterCallerCancels(t *testing.T) {
	f := newFixture(t, true, donateBlink("b1", "", true))

	ctx, cancel := context.WithCancel(context.Background())
	f.source = &fakeBlockhashes{}
	f.svc = NewService(f.store, cancelingSource{inner: f.source, cancel: cancel}, Config{
		Treasury:       f.treasury,
		RequirePayment: true,
		PersistTimeout: time.Second,
	}, f.publisher, nil, testLogger())

	_, err := f.svc.Execute(ctx, ExecuteRequest{
		Kind:    db.KindDonate,
		ID:      "b1",
		Account: solana.NewWallet().PublicKey().String(),
	})
	require.NoError(t, err)
	require.Len(t, f.store.Attempts(), 1)
	assert.NoError(t, f.store.ctxErr, "attempt write is detached from the caller context")
}

func TestExecute_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, true, donateBlink("b1", "", true))
	f.publisher.SetPublishError(errors.New("nats down"))

	_, err := f.svc.Execute(context.Background(), ExecuteRequest{
		Kind:    db.KindDonate,
		ID:      "b1",
		Account: solana.NewWallet().PublicKey().String(),
	})
	require.NoError(t, err)
	assert.Len(t, f.store.Attempts(), 1)
}

// cancelingSource cancels the caller's context once the blockhash is fetched,
// simulating a client that disconnects mid-request.
type cancelingSource struct {
	inner  *fakeBlockhashes
	cancel context.CancelFunc
}

func (c cancelingSource) LatestBlockhash(ctx context.Context) (*Blockhash, error) {
	bh, err := c.inner.LatestBlockhash(ctx)
	c.cancel()
	return bh, err
}
