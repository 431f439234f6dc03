// Package ledger is the sole source of truth and sole holder of custody for
// the escrow protocol. It persists bet records and the custody journal,
// gates every mutation by registered orchestrator identity, enforces the
// global pause flag, and re-checks fund invariants independently of
// whatever the orchestrators already validated.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wagerlab/escrowd/internal/domain"
)

// Ledger owns bet records, the custody journal, and protocol-wide
// configuration. Orchestrators never hold funds; every movement goes
// through Debit and Credit here.
type Ledger struct {
	bets    domain.BetStore
	journal domain.CustodyJournal
	tokens  domain.TokenLedger
	configs domain.ConfigStore
	access  domain.AccessController
	clock   domain.Clock
	sink    domain.EventSink
	logger  *slog.Logger

	mu  sync.RWMutex
	cfg domain.ProtocolConfig
}

// New creates a Ledger. The protocol configuration is loaded from the
// config store; if none has been persisted yet, seed is saved and used.
func New(
	ctx context.Context,
	bets domain.BetStore,
	journal domain.CustodyJournal,
	tokens domain.TokenLedger,
	configs domain.ConfigStore,
	access domain.AccessController,
	clock domain.Clock,
	sink domain.EventSink,
	seed domain.ProtocolConfig,
	logger *slog.Logger,
) (*Ledger, error) {
	cfg, err := configs.Load(ctx)
	if err != nil {
		if err != domain.ErrNotFound {
			return nil, fmt.Errorf("ledger: load config: %w", err)
		}
		cfg = seed
		cfg.UpdatedAt = clock.Now()
		if err := configs.Save(ctx, cfg); err != nil {
			return nil, fmt.Errorf("ledger: seed config: %w", err)
		}
	}

	return &Ledger{
		bets:    bets,
		journal: journal,
		tokens:  tokens,
		configs: configs,
		access:  access,
		clock:   clock,
		sink:    sink,
		logger:  logger.With(slog.String("component", "ledger")),
		cfg:     cfg,
	}, nil
}

// Config returns a copy of the current protocol configuration.
func (l *Ledger) Config() domain.ProtocolConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// ---------------------------------------------------------------------------
// Authorization gates. The lifecycle and arbitration orchestrators each have
// their own gate; a handful of calls accept either. Every gate also enforces
// the pause flag, so a paused protocol rejects all mutations regardless of
// per-bet state.
// ---------------------------------------------------------------------------

func (l *Ledger) guardLifecycle(caller common.Address) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.cfg.Paused {
		return domain.ErrPaused
	}
	if caller != l.cfg.LifecycleOrchestrator {
		return domain.ErrUnauthorized
	}
	return nil
}

func (l *Ledger) guardArbitration(caller common.Address) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.cfg.Paused {
		return domain.ErrPaused
	}
	if caller != l.cfg.ArbitrationOrchestrator {
		return domain.ErrUnauthorized
	}
	return nil
}

func (l *Ledger) guardEither(caller common.Address) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.cfg.Paused {
		return domain.ErrPaused
	}
	if caller != l.cfg.LifecycleOrchestrator && caller != l.cfg.ArbitrationOrchestrator {
		return domain.ErrUnauthorized
	}
	return nil
}

// ---------------------------------------------------------------------------
// Reads. Available while paused.
// ---------------------------------------------------------------------------

// Bet returns the record for the given handle.
func (l *Ledger) Bet(ctx context.Context, betNumber int64) (domain.Bet, error) {
	return l.bets.Get(ctx, betNumber)
}

// ListByParty returns bets where addr is maker or taker.
func (l *Ledger) ListByParty(ctx context.Context, addr common.Address, opts domain.ListOpts) ([]domain.Bet, error) {
	return l.bets.ListByParty(ctx, addr, opts)
}

// ListByStatus returns bets in the given lifecycle state.
func (l *Ledger) ListByStatus(ctx context.Context, status domain.BetStatus, opts domain.ListOpts) ([]domain.Bet, error) {
	return l.bets.ListByStatus(ctx, status, opts)
}

// CustodyBalance returns the tokens currently custodied for a handle:
// the sum of its debits minus the sum of its credits.
func (l *Ledger) CustodyBalance(ctx context.Context, betNumber int64) (*big.Int, error) {
	return l.journal.Balance(ctx, betNumber)
}

// CustodyEntries returns the full journal for a handle.
func (l *Ledger) CustodyEntries(ctx context.Context, betNumber int64) ([]domain.CustodyEntry, error) {
	return l.journal.List(ctx, betNumber)
}

// BetCount returns the number of bets ever created.
func (l *Ledger) BetCount(ctx context.Context) (int64, error) {
	return l.bets.Count(ctx)
}

// ---------------------------------------------------------------------------
// Gated mutations.
// ---------------------------------------------------------------------------

// CreateBet allocates the next handle, pulls the maker's stake into custody,
// and persists the record. Only the lifecycle orchestrator may call it.
//
// The ledger re-checks the creation invariants (positive amount, non-zero
// token, fee bound) regardless of what the orchestrator validated.
func (l *Ledger) CreateBet(ctx context.Context, caller common.Address, bet domain.Bet) (domain.Bet, error) {
	if err := l.guardLifecycle(caller); err != nil {
		return domain.Bet{}, err
	}

	if bet.Amount == nil || bet.Amount.Sign() <= 0 {
		return domain.Bet{}, domain.ErrInvalidAmount
	}
	if bet.TokenAddress == (common.Address{}) {
		return domain.Bet{}, domain.ErrZeroToken
	}
	if err := ValidateFees(bet.ProtocolFeeBps, bet.ArbiterFeeBps); err != nil {
		return domain.Bet{}, err
	}

	now := l.clock.Now()
	bet.CreatedAt = now
	bet.UpdatedAt = now

	// Pull the maker's stake first: a record must never exist without its
	// backing funds. If persistence fails afterwards the stake is returned.
	received, err := l.tokens.Debit(ctx, bet.TokenAddress, bet.Maker, bet.Amount)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("ledger: debit maker stake: %w", err)
	}
	if received.Cmp(bet.Amount) != 0 {
		l.refund(ctx, bet.TokenAddress, bet.Maker, received)
		return domain.Bet{}, domain.ErrCustodyMismatch
	}

	created, err := l.bets.Create(ctx, bet)
	if err != nil {
		l.refund(ctx, bet.TokenAddress, bet.Maker, bet.Amount)
		return domain.Bet{}, fmt.Errorf("ledger: persist bet: %w", err)
	}

	if err := l.journal.Append(ctx, domain.CustodyEntry{
		BetNumber:    created.BetNumber,
		Direction:    domain.CustodyDebit,
		Counterparty: created.Maker,
		Token:        created.TokenAddress,
		Amount:       created.Amount,
		CreatedAt:    now,
	}); err != nil {
		return domain.Bet{}, fmt.Errorf("ledger: journal maker stake: %w", err)
	}

	return created, nil
}

// Transition overwrites the bet record, but only while its stored status
// still equals expect. Terminal states are frozen forever.
//
// Authorization is per state family: the lifecycle orchestrator may drive
// any non-terminal edge, while the arbitration orchestrator is confined to
// the two edges it owns, arbiter acceptance and winner selection.
func (l *Ledger) Transition(ctx context.Context, caller common.Address, bet domain.Bet, expect domain.BetStatus) error {
	l.mu.RLock()
	cfg := l.cfg
	l.mu.RUnlock()
	if cfg.Paused {
		return domain.ErrPaused
	}
	switch caller {
	case cfg.LifecycleOrchestrator:
	case cfg.ArbitrationOrchestrator:
		acceptance := expect == domain.StatusWaitingForArbiter && bet.Status == domain.StatusInProcess
		selection := expect == domain.StatusInProcess && bet.Status.Decided()
		if !acceptance && !selection {
			return domain.ErrUnauthorized
		}
	default:
		return domain.ErrUnauthorized
	}
	if expect.Terminal() {
		return domain.ErrBadState
	}
	bet.UpdatedAt = l.clock.Now()
	return l.bets.Update(ctx, bet, expect)
}

// Debit pulls amount of the bet's token from payer into custody and
// journals it. A received amount differing from the requested amount fails
// the whole operation and returns whatever arrived. Only the lifecycle
// orchestrator stakes funds; arbitration never pulls, it only pays out.
func (l *Ledger) Debit(ctx context.Context, caller common.Address, betNumber int64, payer common.Address, amount *big.Int) error {
	if err := l.guardLifecycle(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}

	bet, err := l.bets.Get(ctx, betNumber)
	if err != nil {
		return err
	}

	received, err := l.tokens.Debit(ctx, bet.TokenAddress, payer, amount)
	if err != nil {
		return fmt.Errorf("ledger: debit bet %d: %w", betNumber, err)
	}
	if received.Cmp(amount) != 0 {
		l.refund(ctx, bet.TokenAddress, payer, received)
		return domain.ErrCustodyMismatch
	}

	return l.journal.Append(ctx, domain.CustodyEntry{
		BetNumber:    betNumber,
		Direction:    domain.CustodyDebit,
		Counterparty: payer,
		Token:        bet.TokenAddress,
		Amount:       amount,
		CreatedAt:    l.clock.Now(),
	})
}

// Credit pushes amount of the bet's token from custody to recipient and
// journals it. Crediting more than the handle has custodied is refused.
func (l *Ledger) Credit(ctx context.Context, caller common.Address, betNumber int64, recipient common.Address, amount *big.Int) error {
	if err := l.guardEither(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}

	bet, err := l.bets.Get(ctx, betNumber)
	if err != nil {
		return err
	}

	balance, err := l.journal.Balance(ctx, betNumber)
	if err != nil {
		return fmt.Errorf("ledger: custody balance bet %d: %w", betNumber, err)
	}
	if balance.Cmp(amount) < 0 {
		return domain.ErrOverdraw
	}

	if err := l.tokens.Credit(ctx, bet.TokenAddress, recipient, amount); err != nil {
		return fmt.Errorf("ledger: credit bet %d: %w", betNumber, err)
	}

	return l.journal.Append(ctx, domain.CustodyEntry{
		BetNumber:    betNumber,
		Direction:    domain.CustodyCredit,
		Counterparty: recipient,
		Token:        bet.TokenAddress,
		Amount:       amount,
		CreatedAt:    l.clock.Now(),
	})
}

// refund is the compensating credit after a half-completed debit. Failure
// here cannot fail the surrounding operation twice; it is logged for the
// operator instead.
func (l *Ledger) refund(ctx context.Context, token, to common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	if err := l.tokens.Credit(ctx, token, to, amount); err != nil {
		l.logger.Error("compensating refund failed",
			slog.String("token", token.Hex()),
			slog.String("to", to.Hex()),
			slog.String("amount", amount.String()),
			slog.String("error", err.Error()),
		)
	}
}

// ---------------------------------------------------------------------------
// Administrative surface. Every setter is gated by the access-control
// collaborator and persists the updated configuration before applying it.
// ---------------------------------------------------------------------------

// GuardAdmin checks the caller against the access-control collaborator.
// Exposed so the orchestrators can gate their own admin-only operations
// (allow-list management) on the same authority.
func (l *Ledger) GuardAdmin(ctx context.Context, caller common.Address) error {
	ok, err := l.access.IsAdmin(ctx, caller)
	if err != nil {
		return fmt.Errorf("ledger: admin check: %w", err)
	}
	if !ok {
		return domain.ErrUnauthorized
	}
	return nil
}

func (l *Ledger) updateConfig(ctx context.Context, caller common.Address, kind domain.EventKind, detail map[string]any, mutate func(*domain.ProtocolConfig)) error {
	if err := l.GuardAdmin(ctx, caller); err != nil {
		return err
	}

	l.mu.Lock()
	cfg := l.cfg
	mutate(&cfg)
	cfg.UpdatedAt = l.clock.Now()
	if err := l.configs.Save(ctx, cfg); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("ledger: save config: %w", err)
	}
	l.cfg = cfg
	l.mu.Unlock()

	l.sink.Emit(ctx, domain.Event{
		Kind:   kind,
		Actor:  caller.Hex(),
		Detail: detail,
		At:     cfg.UpdatedAt,
	})
	return nil
}

// SetProtocolFee updates the protocol fee floor applied at bet creation.
func (l *Ledger) SetProtocolFee(ctx context.Context, caller common.Address, bps int64) error {
	if bps < 0 || bps >= domain.BpsDenominator {
		return domain.ErrFeeTooHigh
	}
	return l.updateConfig(ctx, caller, domain.EventConfigUpdated,
		map[string]any{"field": "protocol_fee_bps", "value": bps},
		func(c *domain.ProtocolConfig) { c.ProtocolFeeBps = bps })
}

// SetFeeAddress updates the protocol rake destination.
func (l *Ledger) SetFeeAddress(ctx context.Context, caller, addr common.Address) error {
	if addr == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	return l.updateConfig(ctx, caller, domain.EventConfigUpdated,
		map[string]any{"field": "fee_address", "value": addr.Hex()},
		func(c *domain.ProtocolConfig) { c.FeeAddress = addr })
}

// SetCooldowns updates the no-arbiter and emergency cancellation cooldowns.
func (l *Ledger) SetCooldowns(ctx context.Context, caller common.Address, noArbiter, emergency time.Duration) error {
	if noArbiter <= 0 || emergency <= 0 {
		return domain.ErrTooEarly
	}
	return l.updateConfig(ctx, caller, domain.EventConfigUpdated,
		map[string]any{"field": "cooldowns", "no_arbiter": noArbiter.String(), "emergency": emergency.String()},
		func(c *domain.ProtocolConfig) {
			c.NoArbiterCooldown = noArbiter
			c.EmergencyCooldown = emergency
		})
}

// SetLifecycleOrchestrator registers the identity allowed through the
// lifecycle gate.
func (l *Ledger) SetLifecycleOrchestrator(ctx context.Context, caller, addr common.Address) error {
	return l.updateConfig(ctx, caller, domain.EventConfigUpdated,
		map[string]any{"field": "lifecycle_orchestrator", "value": addr.Hex()},
		func(c *domain.ProtocolConfig) { c.LifecycleOrchestrator = addr })
}

// SetArbitrationOrchestrator registers the identity allowed through the
// arbitration gate.
func (l *Ledger) SetArbitrationOrchestrator(ctx context.Context, caller, addr common.Address) error {
	return l.updateConfig(ctx, caller, domain.EventConfigUpdated,
		map[string]any{"field": "arbitration_orchestrator", "value": addr.Hex()},
		func(c *domain.ProtocolConfig) { c.ArbitrationOrchestrator = addr })
}

// SetAllowlistEnforced toggles allow-list gating of open-arbiter
// self-assignment.
func (l *Ledger) SetAllowlistEnforced(ctx context.Context, caller common.Address, enforced bool) error {
	return l.updateConfig(ctx, caller, domain.EventAllowlistToggled,
		map[string]any{"enforced": enforced},
		func(c *domain.ProtocolConfig) { c.AllowlistEnforced = enforced })
}

// Pause sets the emergency brake: every gated mutation fails until Unpause.
func (l *Ledger) Pause(ctx context.Context, caller common.Address) error {
	return l.updateConfig(ctx, caller, domain.EventProtocolPaused, nil,
		func(c *domain.ProtocolConfig) { c.Paused = true })
}

// Unpause lifts the emergency brake.
func (l *Ledger) Unpause(ctx context.Context, caller common.Address) error {
	return l.updateConfig(ctx, caller, domain.EventProtocolUnpaused, nil,
		func(c *domain.ProtocolConfig) { c.Paused = false })
}
