package token

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wagerlab/escrowd/internal/domain"
)

// MemoryLedger implements domain.TokenLedger with in-process balances. Used
// in dev mode and by tests. TransferFeeBps, when non-zero, skims that many
// basis points off every Debit to mimic fee-on-transfer tokens.
type MemoryLedger struct {
	mu             sync.Mutex
	custody        common.Address
	balances       map[common.Address]map[common.Address]*big.Int
	TransferFeeBps int64
}

// NewMemoryLedger creates an empty ledger whose custody account is the
// given address.
func NewMemoryLedger(custody common.Address) *MemoryLedger {
	return &MemoryLedger{
		custody:  custody,
		balances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Mint credits holder with amount of token out of thin air. Test setup
// helper.
func (l *MemoryLedger) Mint(token, holder common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance(token, holder).Add(l.balance(token, holder), amount)
}

func (l *MemoryLedger) Debit(_ context.Context, token, payer common.Address, amount *big.Int) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	from := l.balance(token, payer)
	if from.Cmp(amount) < 0 {
		return nil, domain.ErrInvalidAmount
	}

	received := new(big.Int).Set(amount)
	if l.TransferFeeBps > 0 {
		fee := new(big.Int).Mul(amount, big.NewInt(l.TransferFeeBps))
		fee.Div(fee, big.NewInt(domain.BpsDenominator))
		received.Sub(received, fee)
	}

	from.Sub(from, amount)
	l.balance(token, l.custody).Add(l.balance(token, l.custody), received)
	return received, nil
}

func (l *MemoryLedger) Credit(_ context.Context, token, recipient common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	from := l.balance(token, l.custody)
	if from.Cmp(amount) < 0 {
		return domain.ErrOverdraw
	}
	from.Sub(from, amount)
	l.balance(token, recipient).Add(l.balance(token, recipient), amount)
	return nil
}

func (l *MemoryLedger) Balance(_ context.Context, token, holder common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(token, holder)), nil
}

// balance returns the live big.Int for holder, allocating zero entries as
// needed. Callers hold l.mu.
func (l *MemoryLedger) balance(token, holder common.Address) *big.Int {
	byHolder, ok := l.balances[token]
	if !ok {
		byHolder = make(map[common.Address]*big.Int)
		l.balances[token] = byHolder
	}
	b, ok := byHolder[holder]
	if !ok {
		b = new(big.Int)
		byHolder[holder] = b
	}
	return b
}

var _ domain.TokenLedger = (*MemoryLedger)(nil)
