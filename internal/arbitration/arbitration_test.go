package arbitration_test

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
	"github.com/wagerlab/escrowd/internal/arbitration"
	"github.com/wagerlab/escrowd/internal/cache/local"
	"github.com/wagerlab/escrowd/internal/domain"
	"github.com/wagerlab/escrowd/internal/ledger"
	"github.com/wagerlab/escrowd/internal/lifecycle"
	"github.com/wagerlab/escrowd/internal/store/memory"
	"github.com/wagerlab/escrowd/internal/token"
)

func addr(b byte) common.Address { return common.BytesToAddress([]byte{b}) }

var (
	lifecycleID   = addr(0x0A)
	arbitrationID = addr(0x0B)
	adminAddr     = addr(0x0C)
	feeAddr       = addr(0x0D)
	maker         = addr(0x01)
	taker         = addr(0x02)
	arbiter       = addr(0x03)
	outsider      = addr(0x04)
	tokenAddr     = addr(0xEE)
	custodyAddr   = addr(0xCC)
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type nopSink struct{}

func (nopSink) Emit(context.Context, domain.Event) {}

type fixture struct {
	clock     *fakeClock
	tokens    *token.MemoryLedger
	ledger    *ledger.Ledger
	life      *lifecycle.Service
	svc       *arbitration.Service
	allowlist *memory.AllowlistStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tokens := token.NewMemoryLedger(custodyAddr)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locks := local.NewLockManager()
	allowlist := memory.NewAllowlistStore()

	led, err := ledger.New(context.Background(),
		memory.NewBetStore(),
		memory.NewCustodyJournal(),
		tokens,
		memory.NewConfigStore(),
		access.NewStaticAdmins([]common.Address{adminAddr}),
		clock,
		nopSink{},
		domain.ProtocolConfig{
			ProtocolFeeBps:          100,
			FeeAddress:              feeAddr,
			NoArbiterCooldown:       72 * time.Hour,
			EmergencyCooldown:       720 * time.Hour,
			LifecycleOrchestrator:   lifecycleID,
			ArbitrationOrchestrator: arbitrationID,
		},
		logger,
	)
	require.NoError(t, err)

	return &fixture{
		clock:     clock,
		tokens:    tokens,
		ledger:    led,
		life:      lifecycle.New(led, locks, clock, nopSink{}, lifecycleID, logger),
		svc:       arbitration.New(led, allowlist, locks, clock, nopSink{}, arbitrationID, logger),
		allowlist: allowlist,
	}
}

// waitingForArbiter opens and accepts a bet so it sits in
// WAITING_FOR_ARBITER with the given arbiter designation.
func (f *fixture) waitingForArbiter(t *testing.T, designated common.Address, canSettleEarly bool) domain.Bet {
	t.Helper()
	ctx := context.Background()
	f.tokens.Mint(tokenAddr, maker, big.NewInt(10_000))
	f.tokens.Mint(tokenAddr, taker, big.NewInt(10_000))

	bet, err := f.life.Create(ctx, maker, lifecycle.CreateParams{
		Taker:          taker,
		Arbiter:        designated,
		Token:          tokenAddr,
		Amount:         big.NewInt(10_000),
		EndTime:        f.clock.now.Add(48 * time.Hour),
		ArbiterFeeBps:  250,
		CanSettleEarly: canSettleEarly,
	})
	require.NoError(t, err)

	_, err = f.life.Accept(ctx, taker, bet.BetNumber)
	require.NoError(t, err)

	got, err := f.ledger.Bet(ctx, bet.BetNumber)
	require.NoError(t, err)
	return got
}

func (f *fixture) balance(t *testing.T, holder common.Address) int64 {
	t.Helper()
	b, err := f.tokens.Balance(context.Background(), tokenAddr, holder)
	require.NoError(t, err)
	return b.Int64()
}

func TestAcceptRoleDesignated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bet := f.waitingForArbiter(t, arbiter, false)

	// Only the designated arbiter may confirm.
	_, err := f.svc.AcceptRole(ctx, outsider, bet.BetNumber)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	got, err := f.svc.AcceptRole(ctx, arbiter, bet.BetNumber)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProcess, got.Status)
	assert.Equal(t, arbiter, got.Arbiter)
}

func TestAcceptRoleOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bet := f.waitingForArbiter(t, domain.OpenParty, false)

	// Parties to the bet cannot judge it.
	_, err := f.svc.AcceptRole(ctx, maker, bet.BetNumber)
	assert.ErrorIs(t, err, domain.ErrIdentityCollision)
	_, err = f.svc.AcceptRole(ctx, taker, bet.BetNumber)
	assert.ErrorIs(t, err, domain.ErrIdentityCollision)

	got, err := f.svc.AcceptRole(ctx, outsider, bet.BetNumber)
	require.NoError(t, err)
	assert.Equal(t, outsider, got.Arbiter, "first qualifying caller resolves the open role")
}

func TestAcceptRoleAllowlistEnforced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.SetAllowlistEnforced(ctx, adminAddr, true))

	bet := f.waitingForArbiter(t, domain.OpenParty, false)

	_, err := f.svc.AcceptRole(ctx, outsider, bet.BetNumber)
	assert.ErrorIs(t, err, domain.ErrNotAllowlisted)

	require.NoError(t, f.svc.AllowlistAdd(ctx, adminAddr, outsider))
	got, err := f.svc.AcceptRole(ctx, outsider, bet.BetNumber)
	require.NoError(t, err)
	assert.Equal(t, outsider, got.Arbiter)
}

func TestAcceptRoleAllowlistSkipsDesignated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.SetAllowlistEnforced(ctx, adminAddr, true))

	// A maker-designated arbiter never needs allow-list membership.
	bet := f.waitingForArbiter(t, arbiter, false)
	got, err := f.svc.AcceptRole(ctx, arbiter, bet.BetNumber)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProcess, got.Status)
}

func TestAcceptRoleWrongState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bet := f.waitingForArbiter(t, arbiter, false)

	_, err := f.svc.AcceptRole(ctx, arbiter, bet.BetNumber)
	require.NoError(t, err)

	_, err = f.svc.AcceptRole(ctx, arbiter, bet.BetNumber)
	assert.ErrorIs(t, err, domain.ErrBadState)
}

func TestSelectWinnerPaysArbiterImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bet := f.waitingForArbiter(t, arbiter, false)
	_, err := f.svc.AcceptRole(ctx, arbiter, bet.BetNumber)
	require.NoError(t, err)

	f.clock.advance(49 * time.Hour)
	got, err := f.svc.SelectWinner(ctx, arbiter, bet.BetNumber, false)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusTakerWins, got.Status)
	assert.True(t, got.ArbiterPaid)
	// 250 bps of the 20,000 pool.
	assert.Equal(t, int64(500), f.balance(t, arbiter))
}

func TestSelectWinnerBeforeEndTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bet := f.waitingForArbiter(t, arbiter, false)
	_, err := f.svc.AcceptRole(ctx, arbiter, bet.BetNumber)
	require.NoError(t, err)

	_, err = f.svc.SelectWinner(ctx, arbiter, bet.BetNumber, true)
	assert.ErrorIs(t, err, domain.ErrTooEarly)
}

func TestSelectWinnerEarlyWhenPermitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bet := f.waitingForArbiter(t, arbiter, true)
	_, err := f.svc.AcceptRole(ctx, arbiter, bet.BetNumber)
	require.NoError(t, err)

	got, err := f.svc.SelectWinner(ctx, arbiter, bet.BetNumber, true)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMakerWins, got.Status)
}

func TestSelectWinnerOnlyArbiter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bet := f.waitingForArbiter(t, arbiter, false)
	_, err := f.svc.AcceptRole(ctx, arbiter, bet.BetNumber)
	require.NoError(t, err)
	f.clock.advance(49 * time.Hour)

	for _, caller := range []common.Address{maker, taker, outsider} {
		_, err = f.svc.SelectWinner(ctx, caller, bet.BetNumber, true)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	}
}

func TestSelectWinnerWrongState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bet := f.waitingForArbiter(t, arbiter, false)

	_, err := f.svc.SelectWinner(ctx, arbiter, bet.BetNumber, true)
	assert.ErrorIs(t, err, domain.ErrBadState)
}

func TestAllowlistAdminGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.AllowlistAdd(ctx, outsider, arbiter), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.svc.AllowlistRemove(ctx, outsider, arbiter), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.svc.SetAllowlistEnforced(ctx, outsider, true), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.svc.AllowlistAdd(ctx, adminAddr, common.Address{}), domain.ErrZeroAddress)
}

func TestAllowlistRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.AllowlistAdd(ctx, adminAddr, arbiter))
	require.NoError(t, f.svc.AllowlistAdd(ctx, adminAddr, outsider))

	members, err := f.svc.Allowlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{arbiter, outsider}, members)

	require.NoError(t, f.svc.AllowlistRemove(ctx, adminAddr, arbiter))
	members, err = f.svc.Allowlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{outsider}, members)
}
