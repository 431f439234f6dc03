package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AllowlistStore implements domain.AllowlistStore using PostgreSQL.
type AllowlistStore struct {
	pool *pgxpool.Pool
}

// NewAllowlistStore creates a new AllowlistStore backed by the given pool.
func NewAllowlistStore(pool *pgxpool.Pool) *AllowlistStore {
	return &AllowlistStore{pool: pool}
}

// Add admits an address; re-adding is a no-op.
func (s *AllowlistStore) Add(ctx context.Context, addr common.Address) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO arbiter_allowlist (address) VALUES ($1) ON CONFLICT (address) DO NOTHING`,
		addr.Hex())
	if err != nil {
		return fmt.Errorf("postgres: allowlist add %s: %w", addr.Hex(), err)
	}
	return nil
}

// Remove expels an address; removing an absent address is a no-op.
func (s *AllowlistStore) Remove(ctx context.Context, addr common.Address) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM arbiter_allowlist WHERE address = $1`, addr.Hex())
	if err != nil {
		return fmt.Errorf("postgres: allowlist remove %s: %w", addr.Hex(), err)
	}
	return nil
}

// Contains reports membership.
func (s *AllowlistStore) Contains(ctx context.Context, addr common.Address) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM arbiter_allowlist WHERE address = $1)`, addr.Hex(),
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("postgres: allowlist contains %s: %w", addr.Hex(), err)
	}
	return ok, nil
}

// List returns every allow-listed address.
func (s *AllowlistStore) List(ctx context.Context) ([]common.Address, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT address FROM arbiter_allowlist ORDER BY added_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: allowlist list: %w", err)
	}
	defer rows.Close()

	var addrs []common.Address
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, fmt.Errorf("postgres: scan allowlist entry: %w", err)
		}
		addrs = append(addrs, common.HexToAddress(hex))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: allowlist list: %w", err)
	}
	return addrs, nil
}
