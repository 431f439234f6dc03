// Package lifecycle implements the bet lifecycle orchestrator: creation,
// acceptance, renegotiation, cancellation, forfeiture, and claims. It never
// holds funds; every read, write, and fund movement goes through the ledger
// under this orchestrator's registered identity.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wagerlab/escrowd/internal/domain"
	"github.com/wagerlab/escrowd/internal/ledger"
)

// lockTTL bounds how long a crashed operation can keep a handle locked.
const lockTTL = 30 * time.Second

// Service is the bet lifecycle orchestrator.
type Service struct {
	ledger   *ledger.Ledger
	locks    domain.LockManager
	clock    domain.Clock
	sink     domain.EventSink
	identity common.Address
	logger   *slog.Logger
}

// New creates the lifecycle orchestrator. identity must match the lifecycle
// orchestrator address registered at the ledger, or every mutation will be
// rejected at the gate.
func New(l *ledger.Ledger, locks domain.LockManager, clock domain.Clock, sink domain.EventSink, identity common.Address, logger *slog.Logger) *Service {
	return &Service{
		ledger:   l,
		locks:    locks,
		clock:    clock,
		sink:     sink,
		identity: identity,
		logger:   logger.With(slog.String("component", "lifecycle")),
	}
}

func lockKey(betNumber int64) string {
	return fmt.Sprintf("bet:%d", betNumber)
}

// withBetLock serializes a bet-mutating operation on its handle.
func (s *Service) withBetLock(ctx context.Context, betNumber int64, fn func() error) error {
	unlock, err := s.locks.Acquire(ctx, lockKey(betNumber), lockTTL)
	if err != nil {
		return fmt.Errorf("lifecycle: lock bet %d: %w", betNumber, err)
	}
	defer unlock()
	return fn()
}

// CreateParams are the caller-supplied inputs for a new bet. Taker and
// Arbiter may be the open sentinel (zero address).
type CreateParams struct {
	Taker          common.Address
	Arbiter        common.Address
	Token          common.Address
	Amount         *big.Int
	EndTime        time.Time
	ProtocolFeeBps int64
	ArbiterFeeBps  int64
	CanSettleEarly bool
	Agreement      string
}

// Create opens a new bet in WAITING_FOR_TAKER, staking the maker's amount
// into custody. A protocol fee below the current global floor is silently
// raised to the floor rather than rejected.
func (s *Service) Create(ctx context.Context, maker common.Address, p CreateParams) (domain.Bet, error) {
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return domain.Bet{}, domain.ErrInvalidAmount
	}
	if p.Token == (common.Address{}) {
		return domain.Bet{}, domain.ErrZeroToken
	}

	now := s.clock.Now()
	if !p.EndTime.After(now) {
		return domain.Bet{}, domain.ErrPastEndTime
	}
	if err := checkDistinct(maker, p.Taker, p.Arbiter); err != nil {
		return domain.Bet{}, err
	}
	if len(p.Agreement) > domain.MaxAgreementLen {
		return domain.Bet{}, domain.ErrAgreementTooLong
	}

	cfg := s.ledger.Config()
	protocolFee := p.ProtocolFeeBps
	if protocolFee < cfg.ProtocolFeeBps {
		protocolFee = cfg.ProtocolFeeBps
	}
	if err := ledger.ValidateFees(protocolFee, p.ArbiterFeeBps); err != nil {
		return domain.Bet{}, err
	}

	bet := domain.Bet{
		Maker:          maker,
		Taker:          p.Taker,
		Arbiter:        p.Arbiter,
		TokenAddress:   p.Token,
		Amount:         new(big.Int).Set(p.Amount),
		AnchoredAt:     now,
		EndTime:        p.EndTime,
		Status:         domain.StatusWaitingForTaker,
		ProtocolFeeBps: protocolFee,
		ArbiterFeeBps:  p.ArbiterFeeBps,
		CanSettleEarly: p.CanSettleEarly,
		Agreement:      p.Agreement,
	}

	created, err := s.ledger.CreateBet(ctx, s.identity, bet)
	if err != nil {
		return domain.Bet{}, err
	}

	s.logger.Info("bet created",
		slog.Int64("bet_number", created.BetNumber),
		slog.String("maker", maker.Hex()),
		slog.String("amount", created.Amount.String()),
	)
	s.emit(ctx, domain.EventBetCreated, created, maker, nil)
	return created, nil
}

// ChangeParams carries the fields the maker may renegotiate while the bet
// waits for a taker. Nil fields are left unchanged. Token and amount are
// deliberately absent: changing those means cancel and recreate.
type ChangeParams struct {
	Taker          *common.Address
	Arbiter        *common.Address
	EndTime        *time.Time
	CanSettleEarly *bool
	Agreement      *string
}

// ChangeParameters edits a bet pre-acceptance. Maker only, WAITING_FOR_TAKER
// only, with the same future-end-time and identity-distinctness checks as
// creation.
func (s *Service) ChangeParameters(ctx context.Context, caller common.Address, betNumber int64, p ChangeParams) (domain.Bet, error) {
	var out domain.Bet
	err := s.withBetLock(ctx, betNumber, func() error {
		bet, err := s.ledger.Bet(ctx, betNumber)
		if err != nil {
			return err
		}
		if caller != bet.Maker {
			return domain.ErrUnauthorized
		}
		if bet.Status != domain.StatusWaitingForTaker {
			return domain.ErrBadState
		}

		if p.Taker != nil {
			bet.Taker = *p.Taker
		}
		if p.Arbiter != nil {
			bet.Arbiter = *p.Arbiter
		}
		if p.EndTime != nil {
			bet.EndTime = *p.EndTime
		}
		if p.CanSettleEarly != nil {
			bet.CanSettleEarly = *p.CanSettleEarly
		}
		if p.Agreement != nil {
			bet.Agreement = *p.Agreement
		}

		if !bet.EndTime.After(s.clock.Now()) {
			return domain.ErrPastEndTime
		}
		if err := checkDistinct(bet.Maker, bet.Taker, bet.Arbiter); err != nil {
			return err
		}
		if len(bet.Agreement) > domain.MaxAgreementLen {
			return domain.ErrAgreementTooLong
		}

		if err := s.ledger.Transition(ctx, s.identity, bet, domain.StatusWaitingForTaker); err != nil {
			return err
		}
		out = bet
		s.emit(ctx, domain.EventBetParametersChanged, bet, caller, nil)
		return nil
	})
	return out, err
}

// MakerCancel cancels an unaccepted bet and refunds the maker's full stake.
// No fees apply. Calling it again on a cancelled bet whose refund was
// interrupted by a transfer failure pays out the remainder.
func (s *Service) MakerCancel(ctx context.Context, caller common.Address, betNumber int64) error {
	return s.withBetLock(ctx, betNumber, func() error {
		bet, err := s.ledger.Bet(ctx, betNumber)
		if err != nil {
			return err
		}
		if caller != bet.Maker {
			return domain.ErrUnauthorized
		}

		resume := false
		switch bet.Status {
		case domain.StatusWaitingForTaker:
			bet.Status = domain.StatusCancelled
			if err := s.ledger.Transition(ctx, s.identity, bet, domain.StatusWaitingForTaker); err != nil {
				return err
			}
			s.emit(ctx, domain.EventBetCancelled, bet, caller, map[string]any{"reason": "maker_cancel"})
		case domain.StatusCancelled:
			// Refund re-entry only; the record already changed.
			resume = true
		default:
			return domain.ErrBadState
		}

		return s.refundOutstanding(ctx, bet.BetNumber, resume)
	})
}

// Accept stakes the taker's side. If the taker role is open, the caller
// resolves it (the maker and the designated arbiter cannot). Acceptance is
// rejected once the end time has passed. The acceptance time becomes the
// new cooldown anchor.
func (s *Service) Accept(ctx context.Context, caller common.Address, betNumber int64) (domain.Bet, error) {
	var out domain.Bet
	err := s.withBetLock(ctx, betNumber, func() error {
		bet, err := s.ledger.Bet(ctx, betNumber)
		if err != nil {
			return err
		}
		if bet.Status != domain.StatusWaitingForTaker {
			return domain.ErrBadState
		}

		now := s.clock.Now()
		if now.After(bet.EndTime) {
			return domain.ErrDeadlinePassed
		}

		if bet.TakerOpen() {
			if caller == bet.Maker || (!bet.ArbiterOpen() && caller == bet.Arbiter) {
				return domain.ErrIdentityCollision
			}
			bet.Taker = caller
		} else if caller != bet.Taker {
			return domain.ErrUnauthorized
		}

		// Funds before state: the taker's stake must be in custody before
		// the record says it is.
		if err := s.ledger.Debit(ctx, s.identity, betNumber, caller, bet.Amount); err != nil {
			return err
		}

		bet.Status = domain.StatusWaitingForArbiter
		bet.AnchoredAt = now
		if err := s.ledger.Transition(ctx, s.identity, bet, domain.StatusWaitingForTaker); err != nil {
			// Return the stake; the record still shows WAITING_FOR_TAKER.
			if cerr := s.ledger.Credit(ctx, s.identity, betNumber, caller, bet.Amount); cerr != nil {
				s.logger.Error("taker stake stranded after failed transition",
					slog.Int64("bet_number", betNumber),
					slog.String("taker", caller.Hex()),
					slog.String("error", cerr.Error()),
				)
			}
			return err
		}

		out = bet
		s.emit(ctx, domain.EventBetAccepted, bet, caller, nil)
		return nil
	})
	return out, err
}

// NoArbiterCancel unwinds an accepted bet no arbiter ever picked up. Either
// party may call it once the cooldown since acceptance has elapsed; both
// stakes are refunded in full. On a cancelled bet with an interrupted
// refund, either party may call it again to collect the remainder.
func (s *Service) NoArbiterCancel(ctx context.Context, caller common.Address, betNumber int64) error {
	return s.withBetLock(ctx, betNumber, func() error {
		bet, err := s.ledger.Bet(ctx, betNumber)
		if err != nil {
			return err
		}
		if !bet.IsParty(caller) {
			return domain.ErrUnauthorized
		}

		resume := false
		switch bet.Status {
		case domain.StatusWaitingForArbiter:
			cooldownOver := bet.AnchoredAt.Add(s.ledger.Config().NoArbiterCooldown)
			if s.clock.Now().Before(cooldownOver) {
				return domain.ErrTooEarly
			}
			bet.Status = domain.StatusCancelled
			if err := s.ledger.Transition(ctx, s.identity, bet, domain.StatusWaitingForArbiter); err != nil {
				return err
			}
			s.emit(ctx, domain.EventBetCancelled, bet, caller, map[string]any{"reason": "no_arbiter"})
		case domain.StatusCancelled:
			resume = true
		default:
			return domain.ErrBadState
		}

		return s.refundOutstanding(ctx, bet.BetNumber, resume)
	})
}

// Forfeit is a voluntary early loss while the bet is in process. The
// forfeiting party's opponent wins, and the arbiter fee is forced to zero:
// the arbiter performed no judgment, so earns nothing. Funds move at the
// later claim, not here.
func (s *Service) Forfeit(ctx context.Context, caller common.Address, betNumber int64) (domain.Bet, error) {
	var out domain.Bet
	err := s.withBetLock(ctx, betNumber, func() error {
		bet, err := s.ledger.Bet(ctx, betNumber)
		if err != nil {
			return err
		}
		if !bet.IsParty(caller) {
			return domain.ErrUnauthorized
		}
		if bet.Status != domain.StatusInProcess {
			return domain.ErrBadState
		}

		if caller == bet.Maker {
			bet.Status = domain.StatusTakerWins
		} else {
			bet.Status = domain.StatusMakerWins
		}
		bet.ArbiterFeeBps = 0

		if err := s.ledger.Transition(ctx, s.identity, bet, domain.StatusInProcess); err != nil {
			return err
		}
		out = bet
		s.emit(ctx, domain.EventBetForfeited, bet, caller, nil)
		return nil
	})
	return out, err
}

// EmergencyCancel is the circuit-breaker for an unresponsive arbiter:
// either party may unwind an in-process bet once the emergency cooldown
// past the end time has elapsed. Both stakes are refunded in full; the
// arbiter receives nothing. Like the other cancellations, it can be called
// again on the cancelled bet to finish an interrupted refund.
func (s *Service) EmergencyCancel(ctx context.Context, caller common.Address, betNumber int64) error {
	return s.withBetLock(ctx, betNumber, func() error {
		bet, err := s.ledger.Bet(ctx, betNumber)
		if err != nil {
			return err
		}
		if !bet.IsParty(caller) {
			return domain.ErrUnauthorized
		}

		resume := false
		switch bet.Status {
		case domain.StatusInProcess:
			threshold := bet.EndTime.Add(s.ledger.Config().EmergencyCooldown)
			if s.clock.Now().Before(threshold) {
				return domain.ErrTooEarly
			}
			bet.Status = domain.StatusCancelled
			if err := s.ledger.Transition(ctx, s.identity, bet, domain.StatusInProcess); err != nil {
				return err
			}
			s.emit(ctx, domain.EventBetCancelled, bet, caller, map[string]any{"reason": "emergency"})
		case domain.StatusCancelled:
			resume = true
		default:
			return domain.ErrBadState
		}

		return s.refundOutstanding(ctx, bet.BetNumber, resume)
	})
}

// ClaimResult is the settlement breakdown of a claimed bet.
type ClaimResult struct {
	Bet            domain.Bet
	ProtocolRake   *big.Int
	ArbiterPayment *big.Int
	WinnerTake     *big.Int
}

// Claim settles a decided bet: the protocol rake goes to the fee address
// and the winner receives the rest of the pooled total. Anyone may trigger
// it; settlement is a pure state transition that benefits any observer.
//
// Amounts are always re-derived from the original total (2 × amount), never
// from the live custody balance. Each leg then pays only what the custody
// journal does not already show as credited to that recipient: the
// selection-time arbiter fee is not paid twice, and a payout interrupted by
// a transfer failure is driven to completion by calling Claim again on the
// completed bet.
func (s *Service) Claim(ctx context.Context, caller common.Address, betNumber int64) (ClaimResult, error) {
	var out ClaimResult
	err := s.withBetLock(ctx, betNumber, func() error {
		bet, err := s.ledger.Bet(ctx, betNumber)
		if err != nil {
			return err
		}

		fresh := false
		switch {
		case bet.Status.Decided():
			fresh = true
		case bet.Status == domain.StatusCompletedMakerWins || bet.Status == domain.StatusCompletedTakerWins:
			// Payout re-entry only; the record already changed.
		default:
			return domain.ErrBadState
		}

		winner, _ := bet.Winner()
		total := bet.Total()
		rake, arbiterPayment, winnerTake, err := ledger.Split(total, bet.ProtocolFeeBps, bet.ArbiterFeeBps)
		if err != nil {
			return err
		}

		if fresh {
			prev := bet.Status
			if bet.Status == domain.StatusMakerWins {
				bet.Status = domain.StatusCompletedMakerWins
			} else {
				bet.Status = domain.StatusCompletedTakerWins
			}
			if arbiterPayment.Sign() > 0 {
				bet.ArbiterPaid = true
			}
			if err := s.ledger.Transition(ctx, s.identity, bet, prev); err != nil {
				return err
			}
		}

		var dues []payout
		if arbiterPayment.Sign() > 0 {
			dues = addDue(dues, bet.Arbiter, arbiterPayment)
		}
		if rake.Sign() > 0 {
			dues = addDue(dues, s.ledger.Config().FeeAddress, rake)
		}
		dues = addDue(dues, winner, winnerTake)

		paid := false
		for _, d := range dues {
			settled, err := s.creditOwed(ctx, betNumber, d.to, d.amount)
			if err != nil {
				return err
			}
			paid = paid || settled
		}
		if !fresh && !paid {
			return domain.ErrBadState
		}

		out = ClaimResult{
			Bet:            bet,
			ProtocolRake:   rake,
			ArbiterPayment: arbiterPayment,
			WinnerTake:     winnerTake,
		}
		s.emit(ctx, domain.EventBetClaimed, bet, caller, map[string]any{
			"winner":          winner.Hex(),
			"protocol_rake":   rake.String(),
			"arbiter_payment": arbiterPayment.String(),
			"winner_take":     winnerTake.String(),
		})
		return nil
	})
	return out, err
}

// payout is one settlement obligation to a recipient.
type payout struct {
	to     common.Address
	amount *big.Int
}

// addDue appends an obligation, merging with an earlier one to the same
// recipient so the journal comparison in creditOwed stays per-recipient.
func addDue(dues []payout, to common.Address, amount *big.Int) []payout {
	for i := range dues {
		if dues[i].to == to {
			dues[i].amount = new(big.Int).Add(dues[i].amount, amount)
			return dues
		}
	}
	return append(dues, payout{to: to, amount: new(big.Int).Set(amount)})
}

// creditOwed pays a recipient the part of due the custody journal does not
// already show as credited to them. It reports whether anything moved, so
// callers can tell a resumed payout from a no-op.
func (s *Service) creditOwed(ctx context.Context, betNumber int64, to common.Address, due *big.Int) (bool, error) {
	entries, err := s.ledger.CustodyEntries(ctx, betNumber)
	if err != nil {
		return false, err
	}
	already := new(big.Int)
	for _, e := range entries {
		if e.Direction == domain.CustodyCredit && e.Counterparty == to {
			already.Add(already, e.Amount)
		}
	}
	owed := new(big.Int).Sub(due, already)
	if owed.Sign() <= 0 {
		return false, nil
	}
	return true, s.ledger.Credit(ctx, s.identity, betNumber, to, owed)
}

// refundOutstanding returns every stake the custody journal still shows
// inside custody to the party who put it there: per counterparty, debits
// minus credits. Re-running it after a partial failure pays only the
// remainder. With resume set, a journal with nothing left owed is a
// re-cancel of a settled bet and fails with ErrBadState.
func (s *Service) refundOutstanding(ctx context.Context, betNumber int64, resume bool) error {
	entries, err := s.ledger.CustodyEntries(ctx, betNumber)
	if err != nil {
		return err
	}

	index := make(map[common.Address]int)
	var nets []payout
	for _, e := range entries {
		i, ok := index[e.Counterparty]
		if !ok {
			i = len(nets)
			index[e.Counterparty] = i
			nets = append(nets, payout{to: e.Counterparty, amount: new(big.Int)})
		}
		if e.Direction == domain.CustodyDebit {
			nets[i].amount.Add(nets[i].amount, e.Amount)
		} else {
			nets[i].amount.Sub(nets[i].amount, e.Amount)
		}
	}

	refunded := false
	for _, n := range nets {
		if n.amount.Sign() <= 0 {
			continue
		}
		if err := s.ledger.Credit(ctx, s.identity, betNumber, n.to, n.amount); err != nil {
			return err
		}
		refunded = true
	}
	if resume && !refunded {
		return domain.ErrBadState
	}
	return nil
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

// checkDistinct enforces pairwise distinctness of resolved identities. Open
// sentinel roles are skipped; they are checked again on resolution.
func checkDistinct(maker, taker, arbiter common.Address) error {
	open := common.Address{}
	if taker != open && taker == maker {
		return domain.ErrIdentityCollision
	}
	if arbiter != open && arbiter == maker {
		return domain.ErrIdentityCollision
	}
	if taker != open && arbiter != open && taker == arbiter {
		return domain.ErrIdentityCollision
	}
	return nil
}
