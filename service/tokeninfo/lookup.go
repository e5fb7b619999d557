// Package tokeninfo resolves display metadata for SPL token mints.
package tokeninfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/blinks/service/metrics"
	solanapkg "github.com/brojonat/blinks/service/solana"
	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidMint is returned when the mint is not a base58 public key.
	ErrInvalidMint = errors.New("invalid mint")

	// ErrNotFound is returned when neither the chain nor the token list knows the mint.
	ErrNotFound = errors.New("token info not found")
)

// maxDocumentSize bounds off-chain metadata and token list responses.
const maxDocumentSize = 8 << 20

// Info is the token description used to prefill token Blinks.
type Info struct {
	Mint     string `json:"mint"`
	Icon     string `json:"icon"`
	Title    string `json:"title"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals *uint8 `json:"decimals,omitempty"`
	Source   string `json:"source"`
}

// Chain is the on-chain half of a lookup.
type Chain interface {
	MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
	TokenMetadata(ctx context.Context, mint solana.PublicKey) (*solanapkg.TokenMetadata, error)
}

// Config holds lookup options.
type Config struct {
	// TokenListURL serves a JSON token list used when on-chain metadata is
	// missing. Empty disables the fallback.
	TokenListURL string

	// HTTPTimeout bounds each off-chain fetch.
	HTTPTimeout time.Duration
}

// Lookup resolves token info from chain metadata, the metadata's off-chain
// JSON document and a token list fallback.
type Lookup struct {
	chain          Chain
	cache          Cache
	httpClient     *http.Client
	metadataClient *http.Client
	tokenListURL   string
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewLookup creates a Lookup. cache and m may be nil.
func NewLookup(chain Chain, cache Cache, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Lookup {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Lookup{
		chain:          chain,
		cache:          cache,
		httpClient:     &http.Client{Timeout: timeout},
		metadataClient: newMetadataClient(timeout),
		tokenListURL:   cfg.TokenListURL,
		metrics:        m,
		logger:         logger,
	}
}

func (l *Lookup) record(source, status string) {
	if l.metrics != nil {
		l.metrics.RecordTokenInfoLookup(source, status)
	}
}

// Get returns token info for mint.
func (l *Lookup) Get(ctx context.Context, mint string) (*Info, error) {
	mintKey, err := solana.PublicKeyFromBase58(strings.TrimSpace(mint))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMint, err)
	}
	mint = mintKey.String()

	if l.cache != nil {
		cached, err := l.cache.Get(ctx, mint)
		if err != nil {
			l.logger.WarnContext(ctx, "token info cache read failed", "mint", mint, "error", err)
		} else if cached != nil {
			l.record("cache", "hit")
			return cached, nil
		}
	}

	var (
		decimals    uint8
		decimalsErr error
		meta        *solanapkg.TokenMetadata
		metaErr     error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		decimals, decimalsErr = l.chain.MintDecimals(gctx, mintKey)
		return nil
	})
	g.Go(func() error {
		meta, metaErr = l.chain.TokenMetadata(gctx, mintKey)
		return nil
	})
	_ = g.Wait()

	info := &Info{Mint: mint}
	if decimalsErr == nil {
		d := decimals
		info.Decimals = &d
	} else {
		l.logger.DebugContext(ctx, "failed to read mint decimals", "mint", mint, "error", decimalsErr)
	}

	if metaErr == nil && meta != nil && meta.Name != "" {
		info.Name = meta.Name
		info.Symbol = meta.Symbol
		info.Source = "chain"
		if meta.URI != "" {
			image, err := l.fetchImage(ctx, meta.URI)
			if err != nil {
				l.logger.DebugContext(ctx, "failed to fetch off-chain metadata", "mint", mint, "uri", meta.URI, "error", err)
			}
			info.Icon = image
		}
		l.record("chain", "success")
	} else {
		l.logger.DebugContext(ctx, "no on-chain metadata", "mint", mint, "error", metaErr)
		l.record("chain", "miss")
	}

	if info.Name == "" || info.Icon == "" {
		if entry, err := l.fromTokenList(ctx, mint); err != nil {
			l.logger.DebugContext(ctx, "token list lookup failed", "mint", mint, "error", err)
			l.record("token_list", "miss")
		} else {
			l.record("token_list", "success")
			if info.Name == "" {
				info.Name = entry.Name
				info.Symbol = entry.Symbol
				info.Source = "token_list"
			}
			if info.Icon == "" {
				info.Icon = entry.LogoURI
			}
			if info.Decimals == nil && entry.Decimals != nil {
				d := *entry.Decimals
				info.Decimals = &d
			}
		}
	}

	if info.Name == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, mint)
	}
	info.Title = "BUY " + info.Name

	if l.cache != nil {
		if err := l.cache.Set(ctx, mint, info); err != nil {
			l.logger.WarnContext(ctx, "token info cache write failed", "mint", mint, "error", err)
		}
	}

	return info, nil
}

func (l *Lookup) getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentSize)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// fetchImage returns the image field of an off-chain metadata document.
// The document is fetched with metadataClient, which only dials public
// addresses.
func (l *Lookup) fetchImage(ctx context.Context, uri string) (string, error) {
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		return "", fmt.Errorf("unsupported metadata uri %q", uri)
	}
	var doc struct {
		Image string `json:"image"`
	}
	if err := l.getJSON(ctx, l.metadataClient, uri, &doc); err != nil {
		return "", err
	}
	return doc.Image, nil
}

type tokenListEntry struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	LogoURI  string `json:"logoURI"`
	Decimals *uint8 `json:"decimals"`
}

// fromTokenList searches the configured token list. Both a bare array and
// the {"tokens": [...]} registry layout are accepted.
func (l *Lookup) fromTokenList(ctx context.Context, mint string) (*tokenListEntry, error) {
	if l.tokenListURL == "" {
		return nil, errors.New("token list not configured")
	}

	var raw json.RawMessage
	if err := l.getJSON(ctx, l.httpClient, l.tokenListURL, &raw); err != nil {
		return nil, err
	}

	var entries []tokenListEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		var wrapped struct {
			Tokens []tokenListEntry `json:"tokens"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("unrecognized token list format: %w", err)
		}
		entries = wrapped.Tokens
	}

	for i := range entries {
		if entries[i].Address == mint {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("mint %s not in token list", mint)
}
