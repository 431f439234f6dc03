package ledger

import (
	"math/big"

	"github.com/wagerlab/escrowd/internal/domain"
)

var bpsDenom = big.NewInt(domain.BpsDenominator)

// Rake returns total × bps / 10,000, rounded down. The floor rounding means
// fee recipients never receive more than their exact share; the remainder
// stays with the winner.
func Rake(total *big.Int, bps int64) *big.Int {
	r := new(big.Int).Mul(total, big.NewInt(bps))
	return r.Quo(r, bpsDenom)
}

// Split derives the claim-time payout breakdown from the pooled total:
// protocol rake, arbiter payment, and the winner's take (the total minus the
// other two, so the three always sum to the total exactly).
//
// It returns domain.ErrOverdraw if the fees would exceed the total. That is
// unreachable for fee rates that passed creation-time validation and is kept
// as a fatal defensive check, never clamped.
func Split(total *big.Int, protocolBps, arbiterBps int64) (rake, arbiterPayment, winnerTake *big.Int, err error) {
	rake = Rake(total, protocolBps)
	arbiterPayment = Rake(total, arbiterBps)

	fees := new(big.Int).Add(rake, arbiterPayment)
	if fees.Cmp(total) > 0 {
		return nil, nil, nil, domain.ErrOverdraw
	}

	winnerTake = new(big.Int).Sub(total, fees)
	return rake, arbiterPayment, winnerTake, nil
}

// ValidateFees checks the creation-time fee invariant: both rates
// non-negative and their sum strictly below 100%.
func ValidateFees(protocolBps, arbiterBps int64) error {
	if protocolBps < 0 || arbiterBps < 0 {
		return domain.ErrFeeTooHigh
	}
	if protocolBps+arbiterBps >= domain.BpsDenominator {
		return domain.ErrFeeTooHigh
	}
	return nil
}
