// Package access implements the admin access controller.
package access

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wagerlab/escrowd/internal/domain"
)

// StaticAdmins implements domain.AccessController over a fixed set of
// addresses loaded from configuration at boot.
type StaticAdmins struct {
	admins map[common.Address]struct{}
}

// NewStaticAdmins creates a controller recognising the given addresses.
func NewStaticAdmins(addrs []common.Address) *StaticAdmins {
	admins := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		admins[a] = struct{}{}
	}
	return &StaticAdmins{admins: admins}
}

func (s *StaticAdmins) IsAdmin(_ context.Context, caller common.Address) (bool, error) {
	_, ok := s.admins[caller]
	return ok, nil
}

var _ domain.AccessController = (*StaticAdmins)(nil)
