package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BpsDenominator is the fee denominator: 10,000 basis points = 100%.
const BpsDenominator = 10_000

// MaxAgreementLen bounds the free-text agreement in bytes.
const MaxAgreementLen = 4096

// OpenParty is the sentinel identity meaning "first qualifying caller
// resolves this role". It is the Ethereum zero address.
var OpenParty = common.Address{}

// BetStatus tracks the bet lifecycle.
type BetStatus string

const (
	StatusWaitingForTaker    BetStatus = "waiting_for_taker"
	StatusWaitingForArbiter  BetStatus = "waiting_for_arbiter"
	StatusInProcess          BetStatus = "in_process"
	StatusMakerWins          BetStatus = "maker_wins"
	StatusTakerWins          BetStatus = "taker_wins"
	StatusCompletedMakerWins BetStatus = "completed_maker_wins"
	StatusCompletedTakerWins BetStatus = "completed_taker_wins"
	StatusCancelled          BetStatus = "cancelled"
)

// Terminal reports whether no further mutation of a bet in this status is
// permitted.
func (s BetStatus) Terminal() bool {
	switch s {
	case StatusCancelled, StatusCompletedMakerWins, StatusCompletedTakerWins:
		return true
	}
	return false
}

// Decided reports whether a winner has been determined but not yet claimed.
func (s BetStatus) Decided() bool {
	return s == StatusMakerWins || s == StatusTakerWins
}

// Bet is the central escrow record, identified by an incrementing handle
// (BetNumber, starting at 1; handles are never reused).
type Bet struct {
	BetNumber int64

	// Maker created the bet and staked first. Immutable after creation.
	Maker common.Address

	// Taker is the counterparty. OpenParty until resolved by the first
	// qualifying acceptor, immutable thereafter.
	Taker common.Address

	// Arbiter resolves the outcome after EndTime. OpenParty until resolved.
	Arbiter common.Address

	TokenAddress common.Address
	Amount       *big.Int // each side stakes this much of TokenAddress

	// AnchoredAt is set at creation and refreshed when the taker accepts;
	// it anchors the no-arbiter cancellation cooldown.
	AnchoredAt time.Time

	// EndTime is the point after which arbitration may occur. Strictly in
	// the future at creation and at every edit.
	EndTime time.Time

	Status BetStatus

	// Fee rates in basis points, fixed at creation. ArbiterFeeBps is forced
	// to zero by a forfeiture.
	ProtocolFeeBps int64
	ArbiterFeeBps  int64

	// ArbiterPaid records that the arbiter fee left custody at winner
	// selection time, ahead of the winner's claim.
	ArbiterPaid bool

	// CanSettleEarly permits winner selection before EndTime.
	CanSettleEarly bool

	// Agreement is the free-text description of terms, editable only while
	// waiting for a taker.
	Agreement string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Total returns the full pooled stake once both sides have staked:
// 2 × Amount.
func (b Bet) Total() *big.Int {
	return new(big.Int).Lsh(b.Amount, 1)
}

// TakerOpen reports whether the taker role is still unresolved.
func (b Bet) TakerOpen() bool { return b.Taker == OpenParty }

// ArbiterOpen reports whether the arbiter role is still unresolved.
func (b Bet) ArbiterOpen() bool { return b.Arbiter == OpenParty }

// IsParty reports whether addr is the maker or the (resolved) taker.
func (b Bet) IsParty(addr common.Address) bool {
	return addr == b.Maker || (!b.TakerOpen() && addr == b.Taker)
}

// Winner returns the winning party for a decided or completed bet. The
// second return is false while no winner has been determined.
func (b Bet) Winner() (common.Address, bool) {
	switch b.Status {
	case StatusMakerWins, StatusCompletedMakerWins:
		return b.Maker, true
	case StatusTakerWins, StatusCompletedTakerWins:
		return b.Taker, true
	}
	return common.Address{}, false
}
