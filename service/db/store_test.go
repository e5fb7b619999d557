package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

func stringPtr(s string) *string { return &s }

func int16Ptr(v int16) *int16 { return &v }

func TestCreateAndFindBlink(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	t.Run("donate blink round trips verbatim", func(t *testing.T) {
		params := CreateBlinkParams{
			Kind:        KindDonate,
			Icon:        "https://example.com/coffee.png",
			Title:       "Buy me a coffee ☕️",
			Description: "Tips keep the lights on <3",
			Label:       "Tip",
			Wallet:      testWallet,
		}

		created, err := store.CreateBlink(ctx, params)
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)
		_, err = uuid.Parse(created.ID)
		require.NoError(t, err)
		assert.False(t, created.IsPaid)
		assert.Nil(t, created.Signature)
		assert.Nil(t, created.UpdatedAt)
		assert.WithinDuration(t, time.Now(), created.CreatedAt, 5*time.Second)

		found, err := store.FindBlinkByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, params.Icon, found.Icon)
		assert.Equal(t, params.Title, found.Title)
		assert.Equal(t, params.Description, found.Description)
		assert.Equal(t, params.Label, found.Label)
		assert.Equal(t, params.Wallet, found.Wallet)
		assert.Nil(t, found.Mint)
		assert.False(t, found.Commission.Enabled)
	})

	t.Run("token blink keeps mint and commission", func(t *testing.T) {
		params := CreateBlinkParams{
			Kind:        KindToken,
			Icon:        "https://example.com/bonk.png",
			Title:       "BUY Bonk",
			Description: "Resale link",
			Label:       "Buy",
			Wallet:      testWallet,
			Mint:        stringPtr("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"),
			Symbol:      stringPtr("BONK"),
			Decimals:    int16Ptr(5),
			Commission:  Commission{Enabled: true, Percentage: 0.01},
		}

		created, err := store.CreateBlink(ctx, params)
		require.NoError(t, err)

		found, err := store.FindBlinkByID(ctx, created.ID)
		require.NoError(t, err)
		require.NotNil(t, found.Mint)
		assert.Equal(t, *params.Mint, *found.Mint)
		require.NotNil(t, found.Decimals)
		assert.Equal(t, int16(5), *found.Decimals)
		assert.True(t, found.Commission.Enabled)
		assert.InDelta(t, 0.01, found.Commission.Percentage, 1e-12)
	})

	t.Run("percentage out of range is rejected", func(t *testing.T) {
		_, err := store.CreateBlink(ctx, CreateBlinkParams{
			Kind:       KindToken,
			Wallet:     testWallet,
			Commission: Commission{Enabled: true, Percentage: 1.5},
		})
		assert.Error(t, err)
	})
}

func TestFindBlinkByID_Absent(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	tests := []struct {
		name string
		id   string
	}{
		{name: "malformed id", id: "not-a-uuid"},
		{name: "mongo style object id", id: "65f1c0ffee00000000000000"},
		{name: "unknown uuid", id: uuid.NewString()},
		{name: "empty id", id: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blink, err := store.FindBlinkByID(ctx, tt.id)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.Nil(t, blink)
		})
	}
}

func TestUpdateBlinkPaid(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	created, err := store.CreateBlink(ctx, CreateBlinkParams{
		Kind:        KindDonate,
		Icon:        "https://example.com/i.png",
		Title:       "t",
		Description: "d",
		Label:       "l",
		Wallet:      testWallet,
	})
	require.NoError(t, err)

	matched, err := store.UpdateBlinkPaid(ctx, created.ID, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), matched)

	found, err := store.FindBlinkByID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, found.IsPaid)
	require.NotNil(t, found.Signature)
	assert.Equal(t, "sig-1", *found.Signature)
	assert.NotNil(t, found.UpdatedAt)

	// Paid transitions exactly once.
	matched, err = store.UpdateBlinkPaid(ctx, created.ID, "sig-2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), matched)

	found, err = store.FindBlinkByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "sig-1", *found.Signature)

	matched, err = store.UpdateBlinkPaid(ctx, uuid.NewString(), "sig-3")
	require.NoError(t, err)
	assert.Equal(t, int64(0), matched)

	matched, err = store.UpdateBlinkPaid(ctx, "garbage", "sig-4")
	require.NoError(t, err)
	assert.Equal(t, int64(0), matched)
}

func TestTransactionAttempts(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	blinkID := uuid.NewString()

	firstID, err := store.InsertTransactionAttempt(ctx, CreateTransactionAttemptParams{
		BlinkID:   blinkID,
		Sender:    testWallet,
		Amount:    0.1,
		BaseUnits: 100_000_000,
	})
	require.NoError(t, err)

	secondID, err := store.InsertTransactionAttempt(ctx, CreateTransactionAttemptParams{
		BlinkID:   blinkID,
		Sender:    testWallet,
		Amount:    2.5,
		BaseUnits: 2_500_000_000,
		Status:    AttemptStatusPending,
	})
	require.NoError(t, err)
	assert.Greater(t, secondID, firstID)

	attempts, err := store.ListTransactionAttempts(ctx, blinkID, 10)
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	// Newest first
	assert.Equal(t, secondID, attempts[0].ID)
	assert.Equal(t, 2.5, attempts[0].Amount)
	assert.Equal(t, int64(2_500_000_000), attempts[0].BaseUnits)
	assert.Equal(t, AttemptStatusPending, attempts[1].Status)
	assert.Equal(t, testWallet, attempts[1].Sender)

	none, err := store.ListTransactionAttempts(ctx, uuid.NewString(), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListBlinksByWallet(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	var ids []string
	for _, title := range []string{"first", "second", "third"} {
		b, err := store.CreateBlink(ctx, CreateBlinkParams{
			Kind:        KindDonate,
			Icon:        "https://example.com/i.png",
			Title:       title,
			Description: "d",
			Label:       "l",
			Wallet:      testWallet,
		})
		require.NoError(t, err)
		ids = append(ids, b.ID)
		time.Sleep(5 * time.Millisecond)
	}

	_, err := store.CreateBlink(ctx, CreateBlinkParams{
		Kind:        KindDonate,
		Icon:        "https://example.com/i.png",
		Title:       "other",
		Description: "d",
		Label:       "l",
		Wallet:      "HN7cABqLq46Es1jh92dQQisAq662SmxELLLsHHe4YWrH",
	})
	require.NoError(t, err)

	blinks, err := store.ListBlinksByWallet(ctx, ListBlinksByWalletParams{Wallet: testWallet, Limit: 10})
	require.NoError(t, err)
	require.Len(t, blinks, 3)
	assert.Equal(t, ids[2], blinks[0].ID)
	assert.Equal(t, ids[0], blinks[2].ID)

	page, err := store.ListBlinksByWallet(ctx, ListBlinksByWalletParams{Wallet: testWallet, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)
}
