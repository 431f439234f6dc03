package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenLedger is the value-transfer collaborator. Implementations move
// tokens between external accounts and the protocol's custody account.
//
// Debit pulls amount of token from payer into custody and returns the
// amount actually received, which the caller must verify against the
// requested amount: fee-on-transfer tokens make the two diverge, and any
// shortfall is a hard failure of the whole operation.
type TokenLedger interface {
	Debit(ctx context.Context, token, payer common.Address, amount *big.Int) (received *big.Int, err error)
	Credit(ctx context.Context, token, recipient common.Address, amount *big.Int) error
	Balance(ctx context.Context, token, holder common.Address) (*big.Int, error)
}
