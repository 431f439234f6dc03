package domain

import (
	"context"
	"time"
)

// EventKind identifies an externally observable protocol transition.
type EventKind string

const (
	EventBetCreated           EventKind = "bet_created"
	EventBetParametersChanged EventKind = "bet_parameters_changed"
	EventBetAccepted          EventKind = "bet_accepted"
	EventBetCancelled         EventKind = "bet_cancelled"
	EventBetForfeited         EventKind = "bet_forfeited"
	EventArbiterAccepted      EventKind = "arbiter_accepted"
	EventWinnerSelected       EventKind = "winner_selected"
	EventBetClaimed           EventKind = "bet_claimed"
	EventAllowlistUpdated     EventKind = "allowlist_updated"
	EventAllowlistToggled     EventKind = "allowlist_enforcement_toggled"
	EventConfigUpdated        EventKind = "config_updated"
	EventProtocolPaused       EventKind = "protocol_paused"
	EventProtocolUnpaused     EventKind = "protocol_unpaused"
)

// Event is a single audit-trail entry emitted at a state transition. Detail
// carries enough bet-record data to reconstruct the transition without a
// separate query.
type Event struct {
	ID        string
	Kind      EventKind
	BetNumber int64 // zero for protocol-level events
	Actor     string // hex address of the initiating identity, empty if none
	Detail    map[string]any
	At        time.Time
}

// EventSink receives protocol events. Emission is decoupled from the state
// mutation itself; sink failures are logged, never propagated into the
// operation outcome.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// BetDetail flattens a bet record into an event detail map so consumers can
// reconstruct state from the event alone.
func BetDetail(b Bet) map[string]any {
	return map[string]any{
		"bet_number":       b.BetNumber,
		"maker":            b.Maker.Hex(),
		"taker":            b.Taker.Hex(),
		"arbiter":          b.Arbiter.Hex(),
		"token":            b.TokenAddress.Hex(),
		"amount":           b.Amount.String(),
		"end_time":         b.EndTime,
		"status":           string(b.Status),
		"protocol_fee_bps": b.ProtocolFeeBps,
		"arbiter_fee_bps":  b.ArbiterFeeBps,
		"arbiter_paid":     b.ArbiterPaid,
		"can_settle_early": b.CanSettleEarly,
	}
}
