package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BetStore persists bet records. Handles are allocated by Create from a
// monotonically increasing sequence starting at 1 and are never reused;
// records are retained indefinitely, terminal states included.
type BetStore interface {
	// Create persists the bet and returns it with its allocated handle.
	Create(ctx context.Context, bet Bet) (Bet, error)

	Get(ctx context.Context, betNumber int64) (Bet, error)

	// Update overwrites the stored record, but only if its current status
	// equals expect; otherwise it returns ErrBadState. This makes every
	// read-modify-write observable as a single compare-and-swap.
	Update(ctx context.Context, bet Bet, expect BetStatus) error

	ListByParty(ctx context.Context, addr common.Address, opts ListOpts) ([]Bet, error)
	ListByStatus(ctx context.Context, status BetStatus, opts ListOpts) ([]Bet, error)
	ListSettledBefore(ctx context.Context, before time.Time, limit int) ([]Bet, error)
	Count(ctx context.Context) (int64, error)
}

// CustodyDirection marks a journal entry as money in or money out.
type CustodyDirection string

const (
	CustodyDebit  CustodyDirection = "debit"  // into custody
	CustodyCredit CustodyDirection = "credit" // out of custody
)

// CustodyEntry is one fund movement for a bet handle.
type CustodyEntry struct {
	ID           int64
	BetNumber    int64
	Direction    CustodyDirection
	Counterparty common.Address
	Token        common.Address
	Amount       *big.Int
	CreatedAt    time.Time
}

// CustodyJournal is the append-only record of every debit and credit per
// bet handle. The custodied balance of a handle is the sum of its debits
// minus the sum of its credits and must never go negative.
type CustodyJournal interface {
	Append(ctx context.Context, entry CustodyEntry) error
	Balance(ctx context.Context, betNumber int64) (*big.Int, error)
	List(ctx context.Context, betNumber int64) ([]CustodyEntry, error)
}

// ConfigStore persists the protocol-wide configuration singleton.
type ConfigStore interface {
	Load(ctx context.Context) (ProtocolConfig, error)
	Save(ctx context.Context, cfg ProtocolConfig) error
}

// AllowlistStore persists the arbiter allow-list.
type AllowlistStore interface {
	Add(ctx context.Context, addr common.Address) error
	Remove(ctx context.Context, addr common.Address) error
	Contains(ctx context.Context, addr common.Address) (bool, error)
	List(ctx context.Context) ([]common.Address, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
