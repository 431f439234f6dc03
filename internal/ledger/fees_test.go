package ledger_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagerlab/escrowd/internal/domain"
	"github.com/wagerlab/escrowd/internal/ledger"
)

func TestRakeRoundsDown(t *testing.T) {
	tests := []struct {
		name  string
		total int64
		bps   int64
		want  int64
	}{
		{"exact", 10_000, 100, 100},
		{"floors remainder", 1001, 25, 2},
		{"zero bps", 10_000, 0, 0},
		{"small total floors to zero", 99, 100, 0},
		{"full denominator", 12_345, 10_000, 12_345},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ledger.Rake(big.NewInt(tt.total), tt.bps)
			assert.Equal(t, tt.want, got.Int64())
		})
	}
}

func TestSplitConservesTotal(t *testing.T) {
	tests := []struct {
		name        string
		total       int64
		protocolBps int64
		arbiterBps  int64
	}{
		{"typical", 2_000, 100, 250},
		{"odd total", 2_001, 100, 250},
		{"zero fees", 2_000, 0, 0},
		{"fee dust", 7, 100, 250},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total := big.NewInt(tt.total)
			rake, arb, winner, err := ledger.Split(total, tt.protocolBps, tt.arbiterBps)
			require.NoError(t, err)

			sum := new(big.Int).Add(rake, arb)
			sum.Add(sum, winner)
			assert.Zero(t, sum.Cmp(total), "rake + arbiter + winner must equal the total exactly")
			assert.True(t, winner.Sign() >= 0)
		})
	}
}

func TestSplitBreakdown(t *testing.T) {
	rake, arb, winner, err := ledger.Split(big.NewInt(2_001), 100, 250)
	require.NoError(t, err)

	// Floor division on each fee; the winner absorbs the remainder.
	assert.Equal(t, int64(20), rake.Int64())
	assert.Equal(t, int64(50), arb.Int64())
	assert.Equal(t, int64(1_931), winner.Int64())
}

func TestSplitOverdrawIsFatal(t *testing.T) {
	_, _, _, err := ledger.Split(big.NewInt(1_000), 9_000, 9_000)
	assert.ErrorIs(t, err, domain.ErrOverdraw)
}

func TestValidateFees(t *testing.T) {
	tests := []struct {
		name        string
		protocolBps int64
		arbiterBps  int64
		wantErr     bool
	}{
		{"both zero", 0, 0, false},
		{"typical", 100, 250, false},
		{"sum just under cap", 9_998, 1, false},
		{"sum at cap", 9_999, 1, true},
		{"sum over cap", 9_000, 2_000, true},
		{"negative protocol", -1, 0, true},
		{"negative arbiter", 0, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ledger.ValidateFees(tt.protocolBps, tt.arbiterBps)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrFeeTooHigh)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
