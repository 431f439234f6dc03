package ledger_test

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagerlab/escrowd/internal/access"
	"github.com/wagerlab/escrowd/internal/domain"
	"github.com/wagerlab/escrowd/internal/ledger"
	"github.com/wagerlab/escrowd/internal/store/memory"
	"github.com/wagerlab/escrowd/internal/token"
)

func addr(b byte) common.Address { return common.BytesToAddress([]byte{b}) }

var (
	lifecycleID   = addr(0x0A)
	arbitrationID = addr(0x0B)
	adminAddr     = addr(0x0C)
	feeAddr       = addr(0x0D)
	makerAddr     = addr(0x01)
	takerAddr     = addr(0x02)
	arbiterAddr   = addr(0x03)
	tokenAddr     = addr(0xEE)
	custodyAddr   = addr(0xCC)
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type sinkRecorder struct{ events []domain.Event }

func (s *sinkRecorder) Emit(_ context.Context, ev domain.Event) {
	s.events = append(s.events, ev)
}

func (s *sinkRecorder) kinds() []domain.EventKind {
	out := make([]domain.EventKind, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedConfig() domain.ProtocolConfig {
	return domain.ProtocolConfig{
		ProtocolFeeBps:          100,
		FeeAddress:              feeAddr,
		NoArbiterCooldown:       72 * time.Hour,
		EmergencyCooldown:       720 * time.Hour,
		LifecycleOrchestrator:   lifecycleID,
		ArbitrationOrchestrator: arbitrationID,
	}
}

type fixture struct {
	ledger *ledger.Ledger
	tokens *token.MemoryLedger
	clock  *fakeClock
	sink   *sinkRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tokens := token.NewMemoryLedger(custodyAddr)
	sink := &sinkRecorder{}

	led, err := ledger.New(context.Background(),
		memory.NewBetStore(),
		memory.NewCustodyJournal(),
		tokens,
		memory.NewConfigStore(),
		access.NewStaticAdmins([]common.Address{adminAddr}),
		clock,
		sink,
		seedConfig(),
		discardLogger(),
	)
	require.NoError(t, err)

	return &fixture{ledger: led, tokens: tokens, clock: clock, sink: sink}
}

func (f *fixture) mint(holder common.Address, amount int64) {
	f.tokens.Mint(tokenAddr, holder, big.NewInt(amount))
}

func (f *fixture) validBet(amount int64) domain.Bet {
	return domain.Bet{
		Maker:          makerAddr,
		Taker:          takerAddr,
		Arbiter:        arbiterAddr,
		TokenAddress:   tokenAddr,
		Amount:         big.NewInt(amount),
		AnchoredAt:     f.clock.now,
		EndTime:        f.clock.now.Add(24 * time.Hour),
		Status:         domain.StatusWaitingForTaker,
		ProtocolFeeBps: 100,
		ArbiterFeeBps:  250,
	}
}

func TestNewSeedsConfigOnFirstBoot(t *testing.T) {
	f := newFixture(t)

	cfg := f.ledger.Config()
	assert.Equal(t, int64(100), cfg.ProtocolFeeBps)
	assert.Equal(t, lifecycleID, cfg.LifecycleOrchestrator)
	assert.False(t, cfg.UpdatedAt.IsZero())
}

func TestNewPrefersPersistedConfig(t *testing.T) {
	ctx := context.Background()
	configs := memory.NewConfigStore()
	persisted := seedConfig()
	persisted.ProtocolFeeBps = 500
	require.NoError(t, configs.Save(ctx, persisted))

	led, err := ledger.New(ctx,
		memory.NewBetStore(), memory.NewCustodyJournal(),
		token.NewMemoryLedger(custodyAddr), configs,
		access.NewStaticAdmins(nil),
		&fakeClock{now: time.Now()}, &sinkRecorder{},
		seedConfig(), discardLogger(),
	)
	require.NoError(t, err)

	assert.Equal(t, int64(500), led.Config().ProtocolFeeBps, "seed must not clobber the persisted config")
}

func TestCreateBetGate(t *testing.T) {
	f := newFixture(t)
	f.mint(makerAddr, 1_000)

	_, err := f.ledger.CreateBet(context.Background(), arbitrationID, f.validBet(1_000))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.ledger.CreateBet(context.Background(), makerAddr, f.validBet(1_000))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestCreateBetStakesMaker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(makerAddr, 1_500)

	created, err := f.ledger.CreateBet(ctx, lifecycleID, f.validBet(1_000))
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.BetNumber)

	balance, err := f.ledger.CustodyBalance(ctx, created.BetNumber)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), balance.Int64())

	makerLeft, err := f.tokens.Balance(ctx, tokenAddr, makerAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(500), makerLeft.Int64())

	entries, err := f.ledger.CustodyEntries(ctx, created.BetNumber)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.CustodyDebit, entries[0].Direction)
	assert.Equal(t, makerAddr, entries[0].Counterparty)
}

func TestCreateBetRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(makerAddr, 10_000)

	zeroAmount := f.validBet(1_000)
	zeroAmount.Amount = big.NewInt(0)
	_, err := f.ledger.CreateBet(ctx, lifecycleID, zeroAmount)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	noToken := f.validBet(1_000)
	noToken.TokenAddress = common.Address{}
	_, err = f.ledger.CreateBet(ctx, lifecycleID, noToken)
	assert.ErrorIs(t, err, domain.ErrZeroToken)

	greedy := f.validBet(1_000)
	greedy.ProtocolFeeBps = 9_000
	greedy.ArbiterFeeBps = 2_000
	_, err = f.ledger.CreateBet(ctx, lifecycleID, greedy)
	assert.ErrorIs(t, err, domain.ErrFeeTooHigh)
}

func TestCreateBetInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.mint(makerAddr, 10)

	_, err := f.ledger.CreateBet(context.Background(), lifecycleID, f.validBet(1_000))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestCreateBetFeeOnTransferMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(makerAddr, 10_000)
	f.tokens.TransferFeeBps = 50 // skims 0.5% in transit

	_, err := f.ledger.CreateBet(ctx, lifecycleID, f.validBet(10_000))
	assert.ErrorIs(t, err, domain.ErrCustodyMismatch)

	// The shortfall was refunded: the maker gets back what actually arrived
	// in custody, and custody keeps nothing.
	makerLeft, err := f.tokens.Balance(ctx, tokenAddr, makerAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(9_950), makerLeft.Int64())

	count, err := f.ledger.BetCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTransitionCAS(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(makerAddr, 1_000)

	created, err := f.ledger.CreateBet(ctx, lifecycleID, f.validBet(1_000))
	require.NoError(t, err)

	// Expectation mismatch leaves the record untouched.
	created.Status = domain.StatusCancelled
	err = f.ledger.Transition(ctx, lifecycleID, created, domain.StatusInProcess)
	assert.ErrorIs(t, err, domain.ErrBadState)

	err = f.ledger.Transition(ctx, lifecycleID, created, domain.StatusWaitingForTaker)
	require.NoError(t, err)

	// Terminal states are frozen: no expectation may name one.
	created.Status = domain.StatusWaitingForTaker
	err = f.ledger.Transition(ctx, lifecycleID, created, domain.StatusCancelled)
	assert.ErrorIs(t, err, domain.ErrBadState)
}

func TestDebitCreditAndOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(makerAddr, 1_000)
	f.mint(takerAddr, 1_000)

	created, err := f.ledger.CreateBet(ctx, lifecycleID, f.validBet(1_000))
	require.NoError(t, err)
	n := created.BetNumber

	require.NoError(t, f.ledger.Debit(ctx, lifecycleID, n, takerAddr, big.NewInt(1_000)))

	balance, err := f.ledger.CustodyBalance(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, int64(2_000), balance.Int64())

	// Crediting beyond the handle's custody is refused before funds move.
	err = f.ledger.Credit(ctx, lifecycleID, n, takerAddr, big.NewInt(2_001))
	assert.ErrorIs(t, err, domain.ErrOverdraw)

	require.NoError(t, f.ledger.Credit(ctx, lifecycleID, n, takerAddr, big.NewInt(500)))
	balance, err = f.ledger.CustodyBalance(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, int64(1_500), balance.Int64())

	entries, err := f.ledger.CustodyEntries(ctx, n)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestDebitScopedToLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(makerAddr, 1_000)
	f.mint(takerAddr, 1_000)

	created, err := f.ledger.CreateBet(ctx, lifecycleID, f.validBet(1_000))
	require.NoError(t, err)

	// Arbitration pays out of custody; it never pulls funds in.
	err = f.ledger.Debit(ctx, arbitrationID, created.BetNumber, takerAddr, big.NewInt(1_000))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestTransitionEdgesPerOrchestrator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(makerAddr, 1_000)

	created, err := f.ledger.CreateBet(ctx, lifecycleID, f.validBet(1_000))
	require.NoError(t, err)

	// Arbitration holds no authority over taker-stage edges.
	cancelled := created
	cancelled.Status = domain.StatusCancelled
	err = f.ledger.Transition(ctx, arbitrationID, cancelled, domain.StatusWaitingForTaker)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	accepted := created
	accepted.Status = domain.StatusWaitingForArbiter
	require.NoError(t, f.ledger.Transition(ctx, lifecycleID, accepted, domain.StatusWaitingForTaker))

	// The two edges arbitration owns: arbiter acceptance and winner
	// selection.
	inProcess := accepted
	inProcess.Status = domain.StatusInProcess
	require.NoError(t, f.ledger.Transition(ctx, arbitrationID, inProcess, domain.StatusWaitingForArbiter))

	decided := inProcess
	decided.Status = domain.StatusMakerWins
	require.NoError(t, f.ledger.Transition(ctx, arbitrationID, decided, domain.StatusInProcess))

	// Completion belongs to the lifecycle orchestrator.
	completed := decided
	completed.Status = domain.StatusCompletedMakerWins
	err = f.ledger.Transition(ctx, arbitrationID, completed, domain.StatusMakerWins)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	require.NoError(t, f.ledger.Transition(ctx, lifecycleID, completed, domain.StatusMakerWins))
}

func TestPauseBlocksMutationsNotReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(makerAddr, 2_000)

	created, err := f.ledger.CreateBet(ctx, lifecycleID, f.validBet(1_000))
	require.NoError(t, err)

	require.NoError(t, f.ledger.Pause(ctx, adminAddr))

	_, err = f.ledger.CreateBet(ctx, lifecycleID, f.validBet(1_000))
	assert.ErrorIs(t, err, domain.ErrPaused)
	err = f.ledger.Debit(ctx, lifecycleID, created.BetNumber, takerAddr, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrPaused)
	err = f.ledger.Credit(ctx, lifecycleID, created.BetNumber, makerAddr, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrPaused)

	// Reads stay open while paused.
	_, err = f.ledger.Bet(ctx, created.BetNumber)
	assert.NoError(t, err)
	_, err = f.ledger.CustodyBalance(ctx, created.BetNumber)
	assert.NoError(t, err)

	require.NoError(t, f.ledger.Unpause(ctx, adminAddr))
	_, err = f.ledger.CreateBet(ctx, lifecycleID, f.validBet(1_000))
	assert.NoError(t, err)
}

func TestAdminGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.ledger.Pause(ctx, makerAddr), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.ledger.SetProtocolFee(ctx, lifecycleID, 50), domain.ErrUnauthorized)
}

func TestAdminSetters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.ledger.SetProtocolFee(ctx, adminAddr, 10_000), domain.ErrFeeTooHigh)
	assert.ErrorIs(t, f.ledger.SetProtocolFee(ctx, adminAddr, -1), domain.ErrFeeTooHigh)
	assert.ErrorIs(t, f.ledger.SetFeeAddress(ctx, adminAddr, common.Address{}), domain.ErrZeroAddress)
	assert.ErrorIs(t, f.ledger.SetCooldowns(ctx, adminAddr, 0, time.Hour), domain.ErrTooEarly)

	require.NoError(t, f.ledger.SetProtocolFee(ctx, adminAddr, 300))
	require.NoError(t, f.ledger.SetCooldowns(ctx, adminAddr, 48*time.Hour, 360*time.Hour))
	require.NoError(t, f.ledger.SetAllowlistEnforced(ctx, adminAddr, true))

	cfg := f.ledger.Config()
	assert.Equal(t, int64(300), cfg.ProtocolFeeBps)
	assert.Equal(t, 48*time.Hour, cfg.NoArbiterCooldown)
	assert.True(t, cfg.AllowlistEnforced)

	assert.Contains(t, f.sink.kinds(), domain.EventConfigUpdated)
	assert.Contains(t, f.sink.kinds(), domain.EventAllowlistToggled)
}
