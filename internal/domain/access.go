package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// AccessController is the access-control collaborator gating the
// administrative surface (orchestrator registration, fee rates, pause flag,
// allow-list management).
type AccessController interface {
	IsAdmin(ctx context.Context, caller common.Address) (bool, error)
}
