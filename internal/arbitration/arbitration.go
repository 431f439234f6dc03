// Package arbitration implements the arbiter-role acceptance and
// winner-selection protocol, including the optional allow-list gating who
// may self-assign as arbiter on open-arbiter bets. Its transitions continue
// the same per-bet state machine the lifecycle orchestrator drives, through
// the ledger's separate arbitration gate.
package arbitration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wagerlab/escrowd/internal/domain"
	"github.com/wagerlab/escrowd/internal/ledger"
)

const lockTTL = 30 * time.Second

// Service is the arbitration orchestrator.
type Service struct {
	ledger    *ledger.Ledger
	allowlist domain.AllowlistStore
	locks     domain.LockManager
	clock     domain.Clock
	sink      domain.EventSink
	identity  common.Address
	logger    *slog.Logger
}

// New creates the arbitration orchestrator. identity must match the
// arbitration orchestrator address registered at the ledger.
func New(l *ledger.Ledger, allowlist domain.AllowlistStore, locks domain.LockManager, clock domain.Clock, sink domain.EventSink, identity common.Address, logger *slog.Logger) *Service {
	return &Service{
		ledger:    l,
		allowlist: allowlist,
		locks:     locks,
		clock:     clock,
		sink:      sink,
		identity:  identity,
		logger:    logger.With(slog.String("component", "arbitration")),
	}
}

func (s *Service) withBetLock(ctx context.Context, betNumber int64, fn func() error) error {
	unlock, err := s.locks.Acquire(ctx, fmt.Sprintf("bet:%d", betNumber), lockTTL)
	if err != nil {
		return fmt.Errorf("arbitration: lock bet %d: %w", betNumber, err)
	}
	defer unlock()
	return fn()
}

// AcceptRole moves a bet from WAITING_FOR_ARBITER to IN_PROCESS. An open
// arbiter role resolves to the caller, who must not be a party to the bet
// and, while enforcement is on, must be on the allow-list. A pre-designated
// arbiter just confirms; the allow-list never applies to them.
func (s *Service) AcceptRole(ctx context.Context, caller common.Address, betNumber int64) (domain.Bet, error) {
	var out domain.Bet
	err := s.withBetLock(ctx, betNumber, func() error {
		bet, err := s.ledger.Bet(ctx, betNumber)
		if err != nil {
			return err
		}
		if bet.Status != domain.StatusWaitingForArbiter {
			return domain.ErrBadState
		}

		if bet.ArbiterOpen() {
			if bet.IsParty(caller) {
				return domain.ErrIdentityCollision
			}
			if s.ledger.Config().AllowlistEnforced {
				ok, err := s.allowlist.Contains(ctx, caller)
				if err != nil {
					return fmt.Errorf("arbitration: allow-list lookup: %w", err)
				}
				if !ok {
					return domain.ErrNotAllowlisted
				}
			}
			bet.Arbiter = caller
		} else if caller != bet.Arbiter {
			return domain.ErrUnauthorized
		}

		bet.Status = domain.StatusInProcess
		if err := s.ledger.Transition(ctx, s.identity, bet, domain.StatusWaitingForArbiter); err != nil {
			return err
		}

		out = bet
		s.emit(ctx, domain.EventArbiterAccepted, bet, caller, nil)
		return nil
	})
	return out, err
}

// SelectWinner records the arbiter's judgment once the end time has passed
// (or earlier, when the bet permits early settlement) and immediately pays
// the arbiter fee out of custody. The protocol rake and winner payout
// happen later, at claim.
func (s *Service) SelectWinner(ctx context.Context, caller common.Address, betNumber int64, makerWins bool) (domain.Bet, error) {
	var out domain.Bet
	err := s.withBetLock(ctx, betNumber, func() error {
		bet, err := s.ledger.Bet(ctx, betNumber)
		if err != nil {
			return err
		}
		if bet.Status != domain.StatusInProcess {
			return domain.ErrBadState
		}
		if caller != bet.Arbiter {
			return domain.ErrUnauthorized
		}
		if s.clock.Now().Before(bet.EndTime) && !bet.CanSettleEarly {
			return domain.ErrTooEarly
		}

		fee := ledger.Rake(bet.Total(), bet.ArbiterFeeBps)
		payArbiter := fee.Sign() > 0 && !bet.ArbiterPaid

		if makerWins {
			bet.Status = domain.StatusMakerWins
		} else {
			bet.Status = domain.StatusTakerWins
		}
		if payArbiter {
			bet.ArbiterPaid = true
		}

		if err := s.ledger.Transition(ctx, s.identity, bet, domain.StatusInProcess); err != nil {
			return err
		}
		if payArbiter {
			if err := s.ledger.Credit(ctx, s.identity, betNumber, bet.Arbiter, fee); err != nil {
				return err
			}
		}

		out = bet
		s.emit(ctx, domain.EventWinnerSelected, bet, caller, map[string]any{
			"maker_wins":  makerWins,
			"arbiter_fee": fee.String(),
		})
		return nil
	})
	return out, err
}

// ---------------------------------------------------------------------------
// Allow-list management. Admin-gated via the ledger's access controller;
// the enforcement toggle itself lives in the protocol configuration.
// ---------------------------------------------------------------------------

// AllowlistAdd admits an identity to the arbiter allow-list.
func (s *Service) AllowlistAdd(ctx context.Context, caller, addr common.Address) error {
	if err := s.guardAdmin(ctx, caller); err != nil {
		return err
	}
	if addr == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if err := s.allowlist.Add(ctx, addr); err != nil {
		return fmt.Errorf("arbitration: allow-list add: %w", err)
	}
	s.sink.Emit(ctx, domain.Event{
		Kind:   domain.EventAllowlistUpdated,
		Actor:  caller.Hex(),
		Detail: map[string]any{"action": "add", "address": addr.Hex()},
		At:     s.clock.Now(),
	})
	return nil
}

// AllowlistRemove expels an identity from the arbiter allow-list.
func (s *Service) AllowlistRemove(ctx context.Context, caller, addr common.Address) error {
	if err := s.guardAdmin(ctx, caller); err != nil {
		return err
	}
	if err := s.allowlist.Remove(ctx, addr); err != nil {
		return fmt.Errorf("arbitration: allow-list remove: %w", err)
	}
	s.sink.Emit(ctx, domain.Event{
		Kind:   domain.EventAllowlistUpdated,
		Actor:  caller.Hex(),
		Detail: map[string]any{"action": "remove", "address": addr.Hex()},
		At:     s.clock.Now(),
	})
	return nil
}

// Allowlist returns the current allow-list.
func (s *Service) Allowlist(ctx context.Context) ([]common.Address, error) {
	return s.allowlist.List(ctx)
}

// SetAllowlistEnforced toggles enforcement for open-arbiter self-assignment.
func (s *Service) SetAllowlistEnforced(ctx context.Context, caller common.Address, enforced bool) error {
	return s.ledger.SetAllowlistEnforced(ctx, caller, enforced)
}

func (s *Service) guardAdmin(ctx context.Context, caller common.Address) error {
	return s.ledger.GuardAdmin(ctx, caller)
}

func (s *Service) emit(ctx context.Context, kind domain.EventKind, bet domain.Bet, actor common.Address, extra map[string]any) {
	detail := domain.BetDetail(bet)
	for k, v := range extra {
		detail[k] = v
	}
	s.sink.Emit(ctx, domain.Event{
		Kind:      kind,
		BetNumber: bet.BetNumber,
		Actor:     actor.Hex(),
		Detail:    detail,
		At:        s.clock.Now(),
	})
}
