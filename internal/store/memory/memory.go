// Package memory provides in-memory implementations of the domain store
// interfaces. Used in dev mode and by tests; state does not survive a
// restart.
package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wagerlab/escrowd/internal/domain"
)

// BetStore implements domain.BetStore over a map guarded by a mutex.
type BetStore struct {
	mu   sync.RWMutex
	next int64
	bets map[int64]domain.Bet
}

// NewBetStore creates an empty BetStore. Handles start at 1.
func NewBetStore() *BetStore {
	return &BetStore{next: 1, bets: make(map[int64]domain.Bet)}
}

func (s *BetStore) Create(_ context.Context, b domain.Bet) (domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b.BetNumber = s.next
	s.next++
	s.bets[b.BetNumber] = cloneBet(b)
	return b, nil
}

func (s *BetStore) Get(_ context.Context, betNumber int64) (domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bets[betNumber]
	if !ok {
		return domain.Bet{}, domain.ErrNotFound
	}
	return cloneBet(b), nil
}

func (s *BetStore) Update(_ context.Context, b domain.Bet, expect domain.BetStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.bets[b.BetNumber]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != expect {
		return domain.ErrBadState
	}
	s.bets[b.BetNumber] = cloneBet(b)
	return nil
}

func (s *BetStore) ListByParty(_ context.Context, addr common.Address, opts domain.ListOpts) ([]domain.Bet, error) {
	return s.list(opts, func(b domain.Bet) bool {
		return b.Maker == addr || b.Taker == addr
	}), nil
}

func (s *BetStore) ListByStatus(_ context.Context, status domain.BetStatus, opts domain.ListOpts) ([]domain.Bet, error) {
	return s.list(opts, func(b domain.Bet) bool {
		return b.Status == status
	}), nil
}

func (s *BetStore) ListSettledBefore(_ context.Context, before time.Time, limit int) ([]domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Bet
	for _, b := range s.bets {
		if b.Status.Terminal() && b.UpdatedAt.Before(before) {
			out = append(out, cloneBet(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *BetStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.bets)), nil
}

func (s *BetStore) list(opts domain.ListOpts, keep func(domain.Bet) bool) []domain.Bet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Bet
	for _, b := range s.bets {
		if !keep(b) {
			continue
		}
		if opts.Since != nil && b.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && b.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, cloneBet(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BetNumber > out[j].BetNumber })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// cloneBet deep-copies the Amount pointer so callers cannot mutate stored
// state.
func cloneBet(b domain.Bet) domain.Bet {
	if b.Amount != nil {
		b.Amount = new(big.Int).Set(b.Amount)
	}
	return b
}

// CustodyJournal implements domain.CustodyJournal in memory.
type CustodyJournal struct {
	mu      sync.RWMutex
	next    int64
	entries []domain.CustodyEntry
}

// NewCustodyJournal creates an empty journal.
func NewCustodyJournal() *CustodyJournal {
	return &CustodyJournal{next: 1}
}

func (j *CustodyJournal) Append(_ context.Context, e domain.CustodyEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	e.ID = j.next
	j.next++
	if e.Amount != nil {
		e.Amount = new(big.Int).Set(e.Amount)
	}
	j.entries = append(j.entries, e)
	return nil
}

func (j *CustodyJournal) Balance(_ context.Context, betNumber int64) (*big.Int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	balance := new(big.Int)
	for _, e := range j.entries {
		if e.BetNumber != betNumber {
			continue
		}
		if e.Direction == domain.CustodyDebit {
			balance.Add(balance, e.Amount)
		} else {
			balance.Sub(balance, e.Amount)
		}
	}
	return balance, nil
}

func (j *CustodyJournal) List(_ context.Context, betNumber int64) ([]domain.CustodyEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []domain.CustodyEntry
	for _, e := range j.entries {
		if e.BetNumber != betNumber {
			continue
		}
		e.Amount = new(big.Int).Set(e.Amount)
		out = append(out, e)
	}
	return out, nil
}

// ConfigStore implements domain.ConfigStore in memory.
type ConfigStore struct {
	mu     sync.RWMutex
	loaded bool
	cfg    domain.ProtocolConfig
}

// NewConfigStore creates an empty ConfigStore; Load fails with ErrNotFound
// until the first Save.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{}
}

func (s *ConfigStore) Load(_ context.Context) (domain.ProtocolConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.loaded {
		return domain.ProtocolConfig{}, domain.ErrNotFound
	}
	return s.cfg, nil
}

func (s *ConfigStore) Save(_ context.Context, cfg domain.ProtocolConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.loaded = true
	return nil
}

// AllowlistStore implements domain.AllowlistStore in memory.
type AllowlistStore struct {
	mu      sync.RWMutex
	members map[common.Address]time.Time
}

// NewAllowlistStore creates an empty allow-list.
func NewAllowlistStore() *AllowlistStore {
	return &AllowlistStore{members: make(map[common.Address]time.Time)}
}

func (s *AllowlistStore) Add(_ context.Context, addr common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[addr]; !ok {
		s.members[addr] = time.Now().UTC()
	}
	return nil
}

func (s *AllowlistStore) Remove(_ context.Context, addr common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.members, addr)
	return nil
}

func (s *AllowlistStore) Contains(_ context.Context, addr common.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.members[addr]
	return ok, nil
}

func (s *AllowlistStore) List(_ context.Context) ([]common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Address, 0, len(s.members))
	for addr := range s.members {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.members[out[i]].Before(s.members[out[j]])
	})
	return out, nil
}

// AuditStore implements domain.AuditStore in memory.
type AuditStore struct {
	mu      sync.RWMutex
	next    int64
	entries []domain.AuditEntry
}

// NewAuditStore creates an empty audit log.
func NewAuditStore() *AuditStore {
	return &AuditStore{next: 1}
}

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, domain.AuditEntry{
		ID:        s.next,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	s.next++
	return nil
}

func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}
