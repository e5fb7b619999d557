package actions

import (
	"github.com/brojonat/blinks/service/db"
)

// GateState is the state a request lands in after loading its Blink.
type GateState int

const (
	StateNoID GateState = iota
	StateNotFound
	StateUnpaid
	StateOpen
)

func (s GateState) String() string {
	switch s {
	case StateNoID:
		return "no_id"
	case StateNotFound:
		return "not_found"
	case StateUnpaid:
		return "unpaid"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Gate is the paid-gating policy shared by the resolver and the executor.
// When RequirePayment is false every stored Blink is open.
type Gate struct {
	RequirePayment bool
}

// State classifies a lookup. blink is nil when the id was absent, malformed
// or unknown.
func (g Gate) State(id string, blink *db.Blink) GateState {
	switch {
	case id == "":
		return StateNoID
	case blink == nil:
		return StateNotFound
	case g.RequirePayment && !blink.IsPaid:
		return StateUnpaid
	default:
		return StateOpen
	}
}

// Check returns the tagged error for every state other than StateOpen.
func (g Gate) Check(id string, blink *db.Blink) error {
	switch g.State(id, blink) {
	case StateNoID:
		return newError(KindMissingIdentifier, MissingIDMessage, nil)
	case StateNotFound:
		return newError(KindBlinkNotFound, NotFoundMessage, nil)
	case StateUnpaid:
		return newError(KindBlinkUnpaid, UnpaidMessage, nil)
	default:
		return nil
	}
}
