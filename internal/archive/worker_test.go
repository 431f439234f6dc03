package archive_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagerlab/escrowd/internal/archive"
)

type fakeArchiver struct {
	mu           sync.Mutex
	betCutoffs   []time.Time
	auditCutoffs []time.Time
	betErr       error
	auditErr     error
}

func (f *fakeArchiver) ArchiveSettledBets(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.betCutoffs = append(f.betCutoffs, before)
	return 3, f.betErr
}

func (f *fakeArchiver) ArchiveAuditLog(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditCutoffs = append(f.auditCutoffs, before)
	return 7, f.auditErr
}

func (f *fakeArchiver) betRuns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.betCutoffs)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunUsesRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeArchiver{}
	w := archive.NewWorker(fake, 90, fixedClock{now}, discardLogger())

	require.NoError(t, w.Run(context.Background()))

	want := now.Add(-90 * 24 * time.Hour)
	require.Len(t, fake.betCutoffs, 1)
	require.Len(t, fake.auditCutoffs, 1)
	assert.Equal(t, want, fake.betCutoffs[0])
	assert.Equal(t, want, fake.auditCutoffs[0])
}

func TestRunStopsOnBetError(t *testing.T) {
	boom := errors.New("boom")
	fake := &fakeArchiver{betErr: boom}
	w := archive.NewWorker(fake, 30, fixedClock{time.Now()}, discardLogger())

	err := w.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, fake.auditCutoffs, "audit export must not run after a bet export failure")
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	fake := &fakeArchiver{}
	w := archive.NewWorker(fake, 30, fixedClock{time.Now()}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.RunLoop(ctx, time.Hour) }()

	// The loop runs one pass up front before waiting on the ticker.
	require.Eventually(t, func() bool { return fake.betRuns() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("RunLoop did not return after cancel")
	}
}
