package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wagerlab/escrowd/internal/domain"
)

// CustodyStore implements domain.CustodyJournal using PostgreSQL. The
// journal is append-only; entries are never updated or deleted.
type CustodyStore struct {
	pool *pgxpool.Pool
}

// NewCustodyStore creates a new CustodyStore backed by the given pool.
func NewCustodyStore(pool *pgxpool.Pool) *CustodyStore {
	return &CustodyStore{pool: pool}
}

// Append records one fund movement for a bet handle.
func (s *CustodyStore) Append(ctx context.Context, e domain.CustodyEntry) error {
	const query = `
		INSERT INTO custody_journal (bet_number, direction, counterparty, token, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		e.BetNumber, string(e.Direction), e.Counterparty.Hex(),
		e.Token.Hex(), e.Amount.String(), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append custody entry bet %d: %w", e.BetNumber, err)
	}
	return nil
}

// Balance returns debits minus credits for a handle. Summation happens in
// Go because amounts are stored as decimal strings to preserve uint256
// precision.
func (s *CustodyStore) Balance(ctx context.Context, betNumber int64) (*big.Int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT direction, amount FROM custody_journal WHERE bet_number = $1`, betNumber)
	if err != nil {
		return nil, fmt.Errorf("postgres: custody balance bet %d: %w", betNumber, err)
	}
	defer rows.Close()

	balance := new(big.Int)
	for rows.Next() {
		var direction, amount string
		if err := rows.Scan(&direction, &amount); err != nil {
			return nil, fmt.Errorf("postgres: scan custody entry: %w", err)
		}
		v, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("postgres: bet %d: malformed custody amount %q", betNumber, amount)
		}
		if domain.CustodyDirection(direction) == domain.CustodyDebit {
			balance.Add(balance, v)
		} else {
			balance.Sub(balance, v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: custody balance bet %d: %w", betNumber, err)
	}
	return balance, nil
}

// List returns the full journal for a handle, oldest first.
func (s *CustodyStore) List(ctx context.Context, betNumber int64) ([]domain.CustodyEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, bet_number, direction, counterparty, token, amount, created_at
		 FROM custody_journal WHERE bet_number = $1 ORDER BY id ASC`, betNumber)
	if err != nil {
		return nil, fmt.Errorf("postgres: list custody entries bet %d: %w", betNumber, err)
	}
	defer rows.Close()

	var entries []domain.CustodyEntry
	for rows.Next() {
		var e domain.CustodyEntry
		var direction, counterparty, token, amount string

		if err := rows.Scan(&e.ID, &e.BetNumber, &direction, &counterparty, &token, &amount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan custody entry: %w", err)
		}

		e.Direction = domain.CustodyDirection(direction)
		e.Counterparty = common.HexToAddress(counterparty)
		e.Token = common.HexToAddress(token)
		e.Amount = new(big.Int)
		if _, ok := e.Amount.SetString(amount, 10); !ok {
			return nil, fmt.Errorf("postgres: bet %d: malformed custody amount %q", betNumber, amount)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list custody entries bet %d: %w", betNumber, err)
	}
	return entries, nil
}
