package token

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedReceipts struct {
	calls int
	errs  []error
}

func (s *scriptedReceipts) TransactionReceipt(context.Context, common.Hash) (*ethtypes.Receipt, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return nil, s.errs[s.calls-1]
	}
	return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful}, nil
}

func TestWaitMinedPollsThroughWrappedNotFound(t *testing.T) {
	src := &scriptedReceipts{errs: []error{
		ethereum.NotFound,
		fmt.Errorf("rpc: %w", ethereum.NotFound),
	}}

	receipt, err := waitMined(context.Background(), src, common.Hash{0x01}, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, ethtypes.ReceiptStatusSuccessful, receipt.Status)
	assert.Equal(t, 3, src.calls, "pending answers keep the poll alive")
}

func TestWaitMinedAbortsOnOtherErrors(t *testing.T) {
	boom := errors.New("connection reset")
	src := &scriptedReceipts{errs: []error{boom}}

	_, err := waitMined(context.Background(), src, common.Hash{0x01}, time.Millisecond)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, src.calls)
}

func TestWaitMinedStopsOnContextEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &scriptedReceipts{errs: []error{ethereum.NotFound, ethereum.NotFound}}

	_, err := waitMined(ctx, src, common.Hash{0x01}, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
