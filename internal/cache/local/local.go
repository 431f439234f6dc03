// Package local provides in-process implementations of the lock, rate
// limiter, and signal bus interfaces. Used in dev mode and by tests; a
// single-process deployment needs no Redis.
package local

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/wagerlab/escrowd/internal/domain"
)

// LockManager implements domain.LockManager with per-key mutexes. TTLs are
// ignored; locks live until unlock is called.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]*sync.Mutex)}
}

// Acquire blocks until the key's lock is free or the context is done.
func (m *LockManager) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		l.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return l.Unlock, nil
	case <-ctx.Done():
		// The goroutine will eventually take the lock; release it so the
		// next waiter is not starved.
		go func() {
			<-acquired
			l.Unlock()
		}()
		return nil, fmt.Errorf("local: acquire lock %s: %w", key, ctx.Err())
	}
}

// RateLimiter implements domain.RateLimiter with fixed windows in memory.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]int64
	counts  map[string]int
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: make(map[string]int64), counts: make(map[string]int)}
}

func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := time.Now().UnixNano() / int64(window)
	if r.windows[key] != bucket {
		r.windows[key] = bucket
		r.counts[key] = 0
	}
	if r.counts[key] >= limit {
		return false, nil
	}
	r.counts[key]++
	return true, nil
}

// SignalBus implements domain.SignalBus with in-process channels and an
// in-memory stream per name.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	nextID  map[string]int64
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
		nextID:  make(map[string]int64),
	}
}

// Publish delivers payload to every subscriber of channel. Slow subscribers
// drop messages instead of blocking the publisher.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	subs := append([]chan []byte(nil), b.subs[channel]...)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel receiving future publishes. The subscription
// ends when ctx is done.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID[stream]++
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatInt(b.nextID[stream], 10),
		Payload: payload,
	})
	return nil
}

func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var after int64
	if lastID != "" && lastID != "0" {
		n, err := strconv.ParseInt(lastID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("local: parse stream id %q: %w", lastID, err)
		}
		after = n
	}

	var out []domain.StreamMessage
	for _, msg := range b.streams[stream] {
		id, _ := strconv.ParseInt(msg.ID, 10, 64)
		if id <= after {
			continue
		}
		out = append(out, msg)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}
