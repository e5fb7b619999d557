package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/brojonat/blinks/service/db"
	"github.com/brojonat/blinks/service/metrics"
	natspkg "github.com/brojonat/blinks/service/nats"
	"github.com/gagliardetto/solana-go"
)

// ErrInvalidAccount marks an unparseable caller account. It is the only
// InvalidPublicKey failure caused by caller input.
var ErrInvalidAccount = errors.New("invalid account provided")

// Store defines the persistence operations the action pipeline needs.
type Store interface {
	FindBlinkByID(ctx context.Context, id string) (*db.Blink, error)
	InsertTransactionAttempt(ctx context.Context, params db.CreateTransactionAttemptParams) (int64, error)
}

// AttemptPublisher is notified after an attempt has been recorded.
type AttemptPublisher interface {
	PublishAttempt(ctx context.Context, event *natspkg.AttemptEvent) error
}

// Config holds the policy values the service is constructed with.
type Config struct {
	// Treasury receives transfers for Blinks that have no owner wallet.
	Treasury solana.PublicKey

	// RequirePayment enables paid-gating.
	RequirePayment bool

	// PersistTimeout bounds the attempt write, which runs detached from the
	// request context.
	PersistTimeout time.Duration
}

// ExecuteRequest carries the caller-supplied inputs of a POST.
type ExecuteRequest struct {
	Kind        string
	ID          string
	Account     string
	QueryAmount *string
	InputAmount *string
}

// Service implements the action resolver (GET) and executor (POST).
type Service struct {
	store          Store
	assembler      *Assembler
	gate           Gate
	treasury       solana.PublicKey
	persistTimeout time.Duration
	publisher      AttemptPublisher
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

// NewService creates a Service. publisher and m may be nil.
func NewService(store Store, blockhashes BlockhashSource, cfg Config, publisher AttemptPublisher, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	return &Service{
		store:          store,
		assembler:      NewAssembler(blockhashes, logger),
		gate:           Gate{RequirePayment: cfg.RequirePayment},
		treasury:       cfg.Treasury,
		persistTimeout: cfg.PersistTimeout,
		publisher:      publisher,
		metrics:        m,
		logger:         logger,
	}
}

// Assembler exposes the service's transaction assembler.
func (s *Service) Assembler() *Assembler {
	return s.assembler
}

// Resolve loads a Blink, applies paid-gating and returns its discovery payload.
func (s *Service) Resolve(ctx context.Context, kind, id string) (resp *ActionGetResponse, err error) {
	start := time.Now()
	defer func() { s.record(kind, "resolve", err, start) }()

	blink, err := s.load(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return BuildDiscovery(blink), nil
}

// Admit loads a Blink and applies paid-gating without building anything.
func (s *Service) Admit(ctx context.Context, kind, id string) error {
	_, err := s.load(ctx, kind, id)
	return err
}

// Execute loads a Blink, applies paid-gating, builds and assembles the
// transfer, records the attempt and returns the unsigned transaction. Steps
// run strictly in order: read, gate, blockhash, write.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (resp *ActionPostResponse, err error) {
	start := time.Now()
	defer func() { s.record(req.Kind, "execute", err, start) }()

	blink, err := s.load(ctx, req.Kind, req.ID)
	if err != nil {
		return nil, err
	}

	if req.Account == "" {
		return nil, newError(KindMissingAccount, MissingAccountMessage, nil)
	}
	payer, err := solana.PublicKeyFromBase58(req.Account)
	if err != nil {
		return nil, newError(KindInvalidPublicKey, "Invalid account provided", fmt.Errorf("%w: %v", ErrInvalidAccount, err))
	}

	amount, err := ResolveAmount(req.QueryAmount, req.InputAmount, DefaultAmount)
	if err != nil {
		return nil, err
	}

	plan, err := s.plan(blink, payer, amount)
	if err != nil {
		return nil, err
	}

	instructions, err := BuildInstructions(*plan)
	if err != nil {
		return nil, err
	}

	assembled, err := s.assembler.Assemble(ctx, instructions, payer)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		asset := "sol"
		if plan.Mint != nil {
			asset = "spl-token"
		}
		s.metrics.RecordTransactionAssembled(blink.Kind, asset, plan.Commission != nil)
	}

	attempt := db.CreateTransactionAttemptParams{
		BlinkID:   blink.ID,
		Sender:    payer.String(),
		Amount:    amount,
		BaseUnits: clampInt64(plan.Amount),
		Status:    db.AttemptStatusPending,
	}
	if err := s.recordAttempt(ctx, blink, attempt, plan.Recipient.String()); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "action transaction created",
		"blink_id", blink.ID,
		"kind", blink.Kind,
		"sender", payer.String(),
		"recipient", plan.Recipient.String(),
		"amount", amount,
		"base_units", plan.Amount,
		"commission", plan.Commission != nil,
		"last_valid_block_height", assembled.LastValidBlockHeight,
	)

	return &ActionPostResponse{
		Type:        "transaction",
		Transaction: assembled.Transaction,
		Message:     SuccessMessage(amount, Unit(blink)),
	}, nil
}

// load reads a Blink and runs it through the gate. A Blink whose kind does
// not match the route is reported as not found.
func (s *Service) load(ctx context.Context, kind, id string) (*db.Blink, error) {
	if id == "" {
		return nil, s.gate.Check(id, nil)
	}
	if kind != "" && !knownKind(kind) {
		s.logger.DebugContext(ctx, "unknown route kind", "blink_id", id, "route_kind", kind)
		return nil, s.gate.Check(id, nil)
	}

	blink, err := s.store.FindBlinkByID(ctx, id)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		s.logger.ErrorContext(ctx, "failed to load blink", "blink_id", id, "error", err)
		return nil, newError(KindPersistenceFailure, "failed to load blink", err)
	}
	if blink != nil && kind != "" && blink.Kind != kind {
		s.logger.DebugContext(ctx, "blink kind mismatch", "blink_id", id, "kind", blink.Kind, "route_kind", kind)
		blink = nil
	}

	if err := s.gate.Check(id, blink); err != nil {
		s.logger.DebugContext(ctx, "blink gated", "blink_id", id, "state", s.gate.State(id, blink).String())
		return nil, err
	}
	return blink, nil
}

// plan turns a Blink and a resolved amount into base-unit transfers.
func (s *Service) plan(blink *db.Blink, payer solana.PublicKey, amount float64) (*TransferPlan, error) {
	var owner *solana.PublicKey
	if blink.Wallet != "" {
		pk, err := solana.PublicKeyFromBase58(blink.Wallet)
		if err != nil {
			return nil, newError(KindInvalidPublicKey, "blink wallet is not a valid public key", err)
		}
		owner = &pk
	}

	recipient := s.treasury
	if owner != nil {
		recipient = *owner
	}

	decimals := NativeDecimals
	var mint *solana.PublicKey
	if blink.Mint != nil {
		pk, err := solana.PublicKeyFromBase58(*blink.Mint)
		if err != nil {
			return nil, newError(KindInvalidPublicKey, "blink mint is not a valid public key", err)
		}
		mint = &pk
		decimals = DefaultTokenDecimals
		if blink.Decimals != nil && *blink.Decimals >= 0 && *blink.Decimals <= math.MaxUint8 {
			decimals = uint8(*blink.Decimals)
		}
	}

	base, err := ToBaseUnits(amount, decimals)
	if err != nil {
		return nil, err
	}

	return &TransferPlan{
		Payer:      payer,
		Recipient:  recipient,
		Amount:     base,
		Mint:       mint,
		Decimals:   decimals,
		Commission: NewCommissionTransfer(owner, blink.Commission.Enabled, blink.Commission.Percentage, base),
	}, nil
}

// recordAttempt writes the attempt on a context that survives client
// disconnects, then publishes the attempt event.
func (s *Service) recordAttempt(ctx context.Context, blink *db.Blink, params db.CreateTransactionAttemptParams, recipient string) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	id, err := s.store.InsertTransactionAttempt(writeCtx, params)
	if s.metrics != nil {
		s.metrics.RecordTransactionAttempt(blink.Kind, err)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record transaction attempt",
			"blink_id", params.BlinkID,
			"sender", params.Sender,
			"error", err,
		)
		return newError(KindPersistenceFailure, "failed to record transaction attempt", err)
	}

	if s.publisher != nil {
		event := natspkg.FromAttempt(id, blink, params, recipient)
		if err := s.publisher.PublishAttempt(writeCtx, event); err != nil {
			s.logger.WarnContext(ctx, "failed to publish attempt event", "blink_id", params.BlinkID, "error", err)
		}
	}
	return nil
}

func (s *Service) record(kind, operation string, err error, start time.Time) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	if !knownKind(kind) {
		kind = "unknown"
	}
	s.metrics.RecordActionRequest(kind, operation, outcome, time.Since(start).Seconds())
}

// knownKind reports whether kind names a Blink kind. Route kinds are caller
// input and must not reach metric labels unchecked.
func knownKind(kind string) bool {
	return kind == db.KindDonate || kind == db.KindToken
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
