package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ProtocolConfig is the protocol-wide configuration owned by the ledger.
// All fields are admin-mutable and independent of any single bet.
type ProtocolConfig struct {
	// ProtocolFeeBps is the floor applied at bet creation: bets created
	// with a lower protocol fee are silently raised to it.
	ProtocolFeeBps int64

	// FeeAddress receives the protocol rake at claim time.
	FeeAddress common.Address

	// Paused blocks every gated mutation while set; reads stay available.
	Paused bool

	// NoArbiterCooldown is how long after acceptance either party must wait
	// before cancelling a bet no arbiter has picked up.
	NoArbiterCooldown time.Duration

	// EmergencyCooldown is how long past EndTime either party must wait
	// before the emergency cancellation of an unresolved bet.
	EmergencyCooldown time.Duration

	// LifecycleOrchestrator and ArbitrationOrchestrator are the two
	// identities authorized to mutate ledger state, each through its own
	// gate.
	LifecycleOrchestrator   common.Address
	ArbitrationOrchestrator common.Address

	// AllowlistEnforced gates open-arbiter self-assignment on allow-list
	// membership. Bets with a pre-designated arbiter are unaffected.
	AllowlistEnforced bool

	UpdatedAt time.Time
}
