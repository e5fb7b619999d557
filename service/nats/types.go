package nats

import (
	"time"

	"github.com/brojonat/blinks/service/db"
)

// AttemptEvent is published to "blinks.attempts.{blink_id}" whenever an
// unsigned action transaction is handed to a caller.
type AttemptEvent struct {
	AttemptID int64     `json:"attempt_id"`
	BlinkID   string    `json:"blink_id"`
	Kind      string    `json:"kind"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Amount    float64   `json:"amount"`
	BaseUnits int64     `json:"base_units"`
	Mint      string    `json:"mint,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	PublishedAt time.Time `json:"published_at"`
}

// PaidEvent is published to "blinks.paid.{blink_id}" once a Blink's creation
// fee has been confirmed on chain.
type PaidEvent struct {
	BlinkID   string    `json:"blink_id"`
	Wallet    string    `json:"wallet"`
	Signature string    `json:"signature"`
	Lamports  uint64    `json:"lamports"`
	PaidAt    time.Time `json:"paid_at"`

	PublishedAt time.Time `json:"published_at"`
}

// FromAttempt converts a stored attempt into an AttemptEvent.
func FromAttempt(attemptID int64, blink *db.Blink, params db.CreateTransactionAttemptParams, recipient string) *AttemptEvent {
	event := &AttemptEvent{
		AttemptID:   attemptID,
		BlinkID:     params.BlinkID,
		Sender:      params.Sender,
		Recipient:   recipient,
		Amount:      params.Amount,
		BaseUnits:   params.BaseUnits,
		Status:      params.Status,
		CreatedAt:   time.Now().UTC(),
		PublishedAt: time.Now().UTC(),
	}

	if blink != nil {
		event.Kind = blink.Kind
		if blink.Mint != nil {
			event.Mint = *blink.Mint
		}
	}
	if event.Status == "" {
		event.Status = db.AttemptStatusPending
	}

	return event
}
