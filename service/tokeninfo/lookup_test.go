package tokeninfo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	solanapkg "github.com/brojonat/blinks/service/solana"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	decimals    uint8
	decimalsErr error
	meta        *solanapkg.TokenMetadata
	metaErr     error
}

func (f *fakeChain) MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	return f.decimals, f.decimalsErr
}

func (f *fakeChain) TokenMetadata(ctx context.Context, mint solana.PublicKey) (*solanapkg.TokenMetadata, error) {
	return f.meta, f.metaErr
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*Info
	sets    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]*Info)}
}

func (c *memoryCache) Get(ctx context.Context, mint string) (*Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[mint], nil
}

func (c *memoryCache) Set(ctx context.Context, mint string, info *Info) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[mint] = info
	c.sets++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMetadataServer(t *testing.T, mint string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/meta.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"name":"Test Token","image":"https://example.com/token.png"}`)
	})
	mux.HandleFunc("/tokenlist.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"tokens":[{"address":"`+mint+`","name":"Listed Token","symbol":"LST","logoURI":"https://test-logo.com","decimals":6}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLookup_OnChainMetadata(t *testing.T) {
	mint := solana.NewWallet().PublicKey().String()
	srv := newMetadataServer(t, mint)

	chain := &fakeChain{
		decimals: 9,
		meta:     &solanapkg.TokenMetadata{Name: "Test Token", Symbol: "TEST", URI: srv.URL + "/meta.json"},
	}
	cache := newMemoryCache()
	lookup := NewLookup(chain, cache, Config{TokenListURL: srv.URL + "/tokenlist.json"}, nil, testLogger())
	// The test server listens on loopback.
	lookup.metadataClient = srv.Client()

	info, err := lookup.Get(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/token.png", info.Icon)
	assert.Equal(t, "BUY Test Token", info.Title)
	assert.Equal(t, "Test Token", info.Name)
	assert.Equal(t, "TEST", info.Symbol)
	require.NotNil(t, info.Decimals)
	assert.Equal(t, uint8(9), *info.Decimals)
	assert.Equal(t, "chain", info.Source)
	assert.Equal(t, 1, cache.sets)
}

func TestLookup_TokenListFallback(t *testing.T) {
	mint := solana.NewWallet().PublicKey().String()
	srv := newMetadataServer(t, mint)

	chain := &fakeChain{
		decimalsErr: solanapkg.ErrAccountNotFound,
		metaErr:     solanapkg.ErrAccountNotFound,
	}
	lookup := NewLookup(chain, nil, Config{TokenListURL: srv.URL + "/tokenlist.json"}, nil, testLogger())

	info, err := lookup.Get(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, "https://test-logo.com", info.Icon)
	assert.Equal(t, "BUY Listed Token", info.Title)
	assert.Equal(t, "LST", info.Symbol)
	require.NotNil(t, info.Decimals)
	assert.Equal(t, uint8(6), *info.Decimals)
	assert.Equal(t, "token_list", info.Source)
}

func TestLookup_BareArrayTokenList(t *testing.T) {
	mint := solana.NewWallet().PublicKey().String()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"address":"`+mint+`","name":"Array Token","symbol":"ARR","logoURI":"https://arr.example/logo.png"}]`)
	}))
	defer srv.Close()

	lookup := NewLookup(&fakeChain{metaErr: errors.New("no metadata")}, nil, Config{TokenListURL: srv.URL}, nil, testLogger())

	info, err := lookup.Get(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, "BUY Array Token", info.Title)
	assert.Equal(t, "https://arr.example/logo.png", info.Icon)
}

func TestLookup_NotFound(t *testing.T) {
	mint := solana.NewWallet().PublicKey().String()
	srv := newMetadataServer(t, "some-other-mint")

	lookup := NewLookup(&fakeChain{metaErr: errors.New("no metadata")}, nil, Config{TokenListURL: srv.URL + "/tokenlist.json"}, nil, testLogger())

	_, err := lookup.Get(context.Background(), mint)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookup_InvalidMint(t *testing.T) {
	lookup := NewLookup(&fakeChain{}, nil, Config{}, nil, testLogger())

	_, err := lookup.Get(context.Background(), "not-a-mint")
	assert.ErrorIs(t, err, ErrInvalidMint)
}

func TestLookup_CacheHit(t *testing.T) {
	mint := solana.NewWallet().PublicKey().String()
	cache := newMemoryCache()
	cache.entries[mint] = &Info{Mint: mint, Name: "Cached", Title: "BUY Cached"}

	chain := &fakeChain{metaErr: errors.New("chain must not be called")}
	lookup := NewLookup(chain, cache, Config{}, nil, testLogger())

	info, err := lookup.Get(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, "BUY Cached", info.Title)
	assert.Equal(t, 0, cache.sets)
}

func TestLookup_MetadataURIOnLoopbackIsNotFetched(t *testing.T) {
	mint := solana.NewWallet().PublicKey().String()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"image":"https://example.com/internal.png"}`)
	}))
	t.Cleanup(srv.Close)

	chain := &fakeChain{
		decimals: 6,
		meta:     &solanapkg.TokenMetadata{Name: "Internal", Symbol: "INT", URI: srv.URL + "/meta.json"},
	}
	lookup := NewLookup(chain, nil, Config{}, nil, testLogger())

	info, err := lookup.Get(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, "Internal", info.Name)
	assert.Empty(t, info.Icon)
	assert.Zero(t, hits.Load())
}

func TestFetchImage_RefusesInternalHosts(t *testing.T) {
	lookup := NewLookup(&fakeChain{}, nil, Config{HTTPTimeout: time.Second}, nil, testLogger())

	for _, uri := range []string{
		"http://127.0.0.1/meta.json",
		"http://169.254.169.254/latest/meta-data/",
		"http://10.0.0.5:8080/meta.json",
		"http://[::1]/meta.json",
		"http://0.0.0.0/meta.json",
	} {
		t.Run(uri, func(t *testing.T) {
			_, err := lookup.fetchImage(context.Background(), uri)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "refusing to dial")
		})
	}
}

func TestPublicAddr(t *testing.T) {
	tests := []struct {
		addr   string
		public bool
	}{
		{"8.8.8.8", true},
		{"2606:4700:4700::1111", true},
		{"127.0.0.1", false},
		{"::1", false},
		{"::ffff:127.0.0.1", false},
		{"10.1.2.3", false},
		{"172.16.0.1", false},
		{"192.168.1.1", false},
		{"169.254.169.254", false},
		{"fe80::1", false},
		{"fc00::1", false},
		{"100.64.0.1", false},
		{"0.0.0.0", false},
		{"224.0.0.1", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.public, publicAddr(netip.MustParseAddr(tt.addr)))
		})
	}
}
