package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/blinks/service/actions"
	"github.com/brojonat/blinks/service/metrics"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)

	GetAccountInfo(
		ctx context.Context,
		account solana.PublicKey,
	) (*rpc.GetAccountInfoResult, error)
}

// ErrAccountNotFound is returned when an account has no data on chain.
var ErrAccountNotFound = errors.New("account not found")

// mintAccountSize is the length of a base SPL mint account.
const mintAccountSize = 82

// Client wraps the RPC client with domain-specific operations.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

func (c *Client) recordCall(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		if strings.Contains(err.Error(), "429") {
			status = "rate_limited"
		}
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

// LatestBlockhash fetches a fresh blockhash at confirmed commitment. Results
// are never cached.
func (c *Client) LatestBlockhash(ctx context.Context) (*actions.Blockhash, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	c.recordCall("GetLatestBlockhash", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get latest blockhash", "endpoint", c.endpoint, "error", err)
		return nil, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return nil, errors.New("latest blockhash response was empty")
	}

	return &actions.Blockhash{
		Hash:                 out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

// SignatureStatus returns the status of a signature, or nil when the cluster
// has not seen it.
func (c *Client) SignatureStatus(ctx context.Context, signature solana.Signature) (*SignatureStatus, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, true, signature)
	c.recordCall("GetSignatureStatuses", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return nil, nil
	}

	result := out.Value[0]
	status := &SignatureStatus{
		Slot:               result.Slot,
		ConfirmationStatus: string(result.ConfirmationStatus),
	}
	if result.Err != nil {
		errMsg := fmt.Sprintf("%v", result.Err)
		status.Err = &errMsg
	}
	return status, nil
}

// GetTransaction fetches and parses a transaction by signature. It returns
// nil when the transaction is not yet available at confirmed commitment.
func (c *Client) GetTransaction(ctx context.Context, signature solana.Signature) (*Transaction, error) {
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &[]uint64{0}[0],
	}

	start := time.Now()
	result, err := c.rpc.GetTransaction(ctx, signature, opts)
	c.recordCall("GetTransaction", start, err)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if result == nil {
		return nil, nil
	}

	txn, err := parseTransactionResult(signature, result)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to parse transaction",
			"signature", signature.String(),
			"error", err,
		)
		return nil, err
	}
	return txn, nil
}

func (c *Client) accountData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	start := time.Now()
	out, err := c.rpc.GetAccountInfo(ctx, account)
	c.recordCall("GetAccountInfo", start, err)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
		}
		return nil, fmt.Errorf("failed to get account %s: %w", account, err)
	}
	data := out.GetBinary()
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
	}
	return data, nil
}

// MintDecimals reads the decimals field of an SPL mint account.
func (c *Client) MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	data, err := c.accountData(ctx, mint)
	if err != nil {
		return 0, err
	}
	if len(data) < mintAccountSize {
		return 0, fmt.Errorf("account %s is not a mint: %d bytes", mint, len(data))
	}

	var account token.Mint
	if err := bin.NewBinDecoder(data).Decode(&account); err != nil {
		return 0, fmt.Errorf("account %s is not a mint: %w", mint, err)
	}
	return account.Decimals, nil
}

// TokenMetadata reads the Metaplex metadata account derived from mint.
func (c *Client) TokenMetadata(ctx context.Context, mint solana.PublicKey) (*TokenMetadata, error) {
	address, _, err := solana.FindTokenMetadataAddress(mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive metadata address: %w", err)
	}

	data, err := c.accountData(ctx, address)
	if err != nil {
		return nil, err
	}

	meta, err := decodeMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", mint, err)
	}
	return meta, nil
}

// metadataPrefix is the leading borsh layout of a Metaplex metadata account.
// Name, symbol and uri are padded with NULs to their maximum lengths.
type metadataPrefix struct {
	Key             uint8
	UpdateAuthority solana.PublicKey
	Mint            solana.PublicKey
	Name            string
	Symbol          string
	URI             string
}

func decodeMetadata(data []byte) (*TokenMetadata, error) {
	var prefix metadataPrefix
	if err := bin.NewBorshDecoder(data).Decode(&prefix); err != nil {
		return nil, fmt.Errorf("invalid metadata account: %w", err)
	}

	return &TokenMetadata{
		Name:   strings.TrimRight(prefix.Name, "\x00 "),
		Symbol: strings.TrimRight(prefix.Symbol, "\x00 "),
		URI:    strings.TrimRight(prefix.URI, "\x00 "),
	}, nil
}
