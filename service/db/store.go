package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/blinks/service/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a requested record does not exist. Malformed
// identifiers are reported the same way.
var ErrNotFound = errors.New("not found")

// Blink kinds. The kind also appears as the {kind} segment of action URLs.
const (
	KindDonate = "donate"
	KindToken  = "token"
)

// AttemptStatusPending is the only status this service writes.
const AttemptStatusPending = "pending"

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithMetrics makes the store record query durations.
func (s *Store) WithMetrics(m *metrics.Metrics) *Store {
	s.metrics = m
	return s
}

func (s *Store) observe(operation, table string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Commission is the optional owner cut taken on every action transaction.
type Commission struct {
	Enabled    bool
	Percentage float64 // 0..1
}

// Blink is a persisted, shareable payment or token-purchase action.
type Blink struct {
	ID          string
	Kind        string
	Icon        string
	Title       string
	Description string
	Label       string
	Wallet      string
	Mint        *string // nil for native SOL Blinks
	Symbol      *string
	Decimals    *int16
	Commission  Commission
	IsPaid      bool
	Signature   *string
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

// TransactionAttempt is an audit record of an unsigned transaction handed to a caller.
type TransactionAttempt struct {
	ID        int64
	BlinkID   string
	Sender    string
	Amount    float64
	BaseUnits int64
	Status    string
	CreatedAt time.Time
}

// CreateBlinkParams contains the parameters for creating a Blink.
type CreateBlinkParams struct {
	Kind        string
	Icon        string
	Title       string
	Description string
	Label       string
	Wallet      string
	Mint        *string
	Symbol      *string
	Decimals    *int16
	Commission  Commission
}

// CreateTransactionAttemptParams contains the parameters for recording a transaction attempt.
type CreateTransactionAttemptParams struct {
	BlinkID   string
	Sender    string
	Amount    float64
	BaseUnits int64
	Status    string
}

// ListBlinksByWalletParams contains pagination parameters.
type ListBlinksByWalletParams struct {
	Wallet string
	Limit  int32
	Offset int32
}

const blinkColumns = `id, kind, icon, title, description, label, wallet, mint, symbol, decimals,
	commission_enabled, commission_percentage, is_paid, signature, created_at, updated_at`

// CreateBlink inserts a new unpaid Blink with a freshly generated id.
func (s *Store) CreateBlink(ctx context.Context, params CreateBlinkParams) (_ *Blink, err error) {
	defer func(start time.Time) { s.observe("insert", "blinks", start, err) }(time.Now())

	if params.Commission.Percentage < 0 || params.Commission.Percentage > 1 {
		return nil, fmt.Errorf("commission percentage %v out of range [0,1]", params.Commission.Percentage)
	}

	id := uuid.New()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO blinks (id, kind, icon, title, description, label, wallet, mint, symbol, decimals,
			commission_enabled, commission_percentage, is_paid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE)
		RETURNING `+blinkColumns,
		id,
		params.Kind,
		params.Icon,
		params.Title,
		params.Description,
		params.Label,
		params.Wallet,
		pgtextFromStringPtr(params.Mint),
		pgtextFromStringPtr(params.Symbol),
		pgint2FromPtr(params.Decimals),
		params.Commission.Enabled,
		params.Commission.Percentage,
	)

	blink, err := scanBlink(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create blink: %w", err)
	}
	return blink, nil
}

// FindBlinkByID returns the Blink with the given id. A malformed id is treated
// as absent and returns ErrNotFound without querying the database.
func (s *Store) FindBlinkByID(ctx context.Context, id string) (_ *Blink, err error) {
	parsed, perr := uuid.Parse(id)
	if perr != nil {
		return nil, ErrNotFound
	}
	defer func(start time.Time) { s.observe("select", "blinks", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `SELECT `+blinkColumns+` FROM blinks WHERE id = $1`, parsed)
	blink, err := scanBlink(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blink: %w", err)
	}
	return blink, nil
}

// ListBlinksByWallet returns the Blinks owned by a wallet, newest first.
func (s *Store) ListBlinksByWallet(ctx context.Context, params ListBlinksByWalletParams) (_ []*Blink, err error) {
	defer func(start time.Time) { s.observe("select", "blinks", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT `+blinkColumns+`
		FROM blinks
		WHERE wallet = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		params.Wallet, params.Limit, params.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list blinks: %w", err)
	}
	defer rows.Close()

	blinks := make([]*Blink, 0)
	for rows.Next() {
		blink, err := scanBlink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blink: %w", err)
		}
		blinks = append(blinks, blink)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list blinks: %w", err)
	}
	return blinks, nil
}

// UpdateBlinkPaid marks an unpaid Blink as paid and records the payment
// signature. It returns the number of rows matched, which is 0 when the Blink
// does not exist or was already paid.
func (s *Store) UpdateBlinkPaid(ctx context.Context, id string, signature string) (_ int64, err error) {
	parsed, perr := uuid.Parse(id)
	if perr != nil {
		return 0, nil
	}
	defer func(start time.Time) { s.observe("update", "blinks", start, err) }(time.Now())

	tag, err := s.pool.Exec(ctx, `
		UPDATE blinks
		SET is_paid = TRUE, signature = $2, updated_at = NOW()
		WHERE id = $1 AND is_paid = FALSE`,
		parsed, signature,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark blink paid: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertTransactionAttempt records a transaction attempt and returns its id.
func (s *Store) InsertTransactionAttempt(ctx context.Context, params CreateTransactionAttemptParams) (_ int64, err error) {
	defer func(start time.Time) { s.observe("insert", "transaction_attempts", start, err) }(time.Now())

	status := params.Status
	if status == "" {
		status = AttemptStatusPending
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO transaction_attempts (blink_id, sender, amount, base_units, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		params.BlinkID, params.Sender, params.Amount, params.BaseUnits, status,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transaction attempt: %w", err)
	}
	return id, nil
}

// ListTransactionAttempts returns the attempts recorded for a Blink, newest first.
func (s *Store) ListTransactionAttempts(ctx context.Context, blinkID string, limit int32) (_ []*TransactionAttempt, err error) {
	defer func(start time.Time) { s.observe("select", "transaction_attempts", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT id, blink_id, sender, amount, base_units, status, created_at
		FROM transaction_attempts
		WHERE blink_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		blinkID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transaction attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]*TransactionAttempt, 0)
	for rows.Next() {
		var a TransactionAttempt
		var createdAt pgtype.Timestamptz
		if err := rows.Scan(&a.ID, &a.BlinkID, &a.Sender, &a.Amount, &a.BaseUnits, &a.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction attempt: %w", err)
		}
		a.CreatedAt = createdAt.Time
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transaction attempts: %w", err)
	}
	return attempts, nil
}

// scanBlink reads one row selected with blinkColumns.
func scanBlink(row pgx.Row) (*Blink, error) {
	var (
		b         Blink
		id        uuid.UUID
		mint      pgtype.Text
		symbol    pgtype.Text
		decimals  pgtype.Int2
		signature pgtype.Text
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)

	err := row.Scan(
		&id,
		&b.Kind,
		&b.Icon,
		&b.Title,
		&b.Description,
		&b.Label,
		&b.Wallet,
		&mint,
		&symbol,
		&decimals,
		&b.Commission.Enabled,
		&b.Commission.Percentage,
		&b.IsPaid,
		&signature,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.ID = id.String()
	b.Mint = stringPtrFromPgtext(mint)
	b.Symbol = stringPtrFromPgtext(symbol)
	b.Decimals = int16PtrFromPgint2(decimals)
	b.Signature = stringPtrFromPgtext(signature)
	b.CreatedAt = createdAt.Time
	b.UpdatedAt = timePtrFromPgTimestamptz(updatedAt)
	return &b, nil
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgint2FromPtr(v *int16) pgtype.Int2 {
	if v == nil {
		return pgtype.Int2{Valid: false}
	}
	return pgtype.Int2{Int16: *v, Valid: true}
}

func int16PtrFromPgint2(v pgtype.Int2) *int16 {
	if !v.Valid {
		return nil
	}
	return &v.Int16
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
