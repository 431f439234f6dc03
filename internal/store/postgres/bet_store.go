package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wagerlab/escrowd/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL. Handles come from
// the bets table's sequence, so they are monotonically increasing from 1
// and never reused.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

// Create inserts a new bet and returns it with its allocated handle.
func (s *BetStore) Create(ctx context.Context, b domain.Bet) (domain.Bet, error) {
	const query = `
		INSERT INTO bets (
			maker, taker, arbiter, token_address, amount,
			anchored_at, end_time, status,
			protocol_fee_bps, arbiter_fee_bps, arbiter_paid,
			can_settle_early, agreement, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11,
			$12, $13, $14, $15
		) RETURNING bet_number`

	err := s.pool.QueryRow(ctx, query,
		b.Maker.Hex(), b.Taker.Hex(), b.Arbiter.Hex(),
		b.TokenAddress.Hex(), b.Amount.String(),
		b.AnchoredAt, b.EndTime, string(b.Status),
		b.ProtocolFeeBps, b.ArbiterFeeBps, b.ArbiterPaid,
		b.CanSettleEarly, b.Agreement, b.CreatedAt, b.UpdatedAt,
	).Scan(&b.BetNumber)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: create bet: %w", err)
	}
	return b, nil
}

// betSelectCols lists the columns selected when reading bets.
const betSelectCols = `bet_number, maker, taker, arbiter, token_address, amount,
	anchored_at, end_time, status, protocol_fee_bps, arbiter_fee_bps,
	arbiter_paid, can_settle_early, agreement, created_at, updated_at`

func scanBetFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Bet, error) {
	var b domain.Bet
	var maker, taker, arbiter, token, amount, status string

	err := scanner.Scan(
		&b.BetNumber, &maker, &taker, &arbiter, &token, &amount,
		&b.AnchoredAt, &b.EndTime, &status,
		&b.ProtocolFeeBps, &b.ArbiterFeeBps,
		&b.ArbiterPaid, &b.CanSettleEarly, &b.Agreement,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return domain.Bet{}, err
	}

	b.Maker = common.HexToAddress(maker)
	b.Taker = common.HexToAddress(taker)
	b.Arbiter = common.HexToAddress(arbiter)
	b.TokenAddress = common.HexToAddress(token)
	b.Status = domain.BetStatus(status)

	b.Amount = new(big.Int)
	if _, ok := b.Amount.SetString(amount, 10); !ok {
		return domain.Bet{}, fmt.Errorf("postgres: bet %d: malformed amount %q", b.BetNumber, amount)
	}
	return b, nil
}

func scanBetRows(rows pgx.Rows) ([]domain.Bet, error) {
	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBetFromRow(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// Get retrieves a single bet by handle.
func (s *BetStore) Get(ctx context.Context, betNumber int64) (domain.Bet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+betSelectCols+` FROM bets WHERE bet_number = $1`, betNumber)

	b, err := scanBetFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %d: %w", betNumber, err)
	}
	return b, nil
}

// Update overwrites the record only while its stored status still equals
// expect, making the write a compare-and-swap. A missing row yields
// ErrNotFound; a row whose status moved on yields ErrBadState.
func (s *BetStore) Update(ctx context.Context, b domain.Bet, expect domain.BetStatus) error {
	const query = `
		UPDATE bets SET
			taker = $1, arbiter = $2, anchored_at = $3, end_time = $4,
			status = $5, protocol_fee_bps = $6, arbiter_fee_bps = $7,
			arbiter_paid = $8, can_settle_early = $9, agreement = $10,
			updated_at = $11
		WHERE bet_number = $12 AND status = $13`

	tag, err := s.pool.Exec(ctx, query,
		b.Taker.Hex(), b.Arbiter.Hex(), b.AnchoredAt, b.EndTime,
		string(b.Status), b.ProtocolFeeBps, b.ArbiterFeeBps,
		b.ArbiterPaid, b.CanSettleEarly, b.Agreement,
		b.UpdatedAt,
		b.BetNumber, string(expect),
	)
	if err != nil {
		return fmt.Errorf("postgres: update bet %d: %w", b.BetNumber, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM bets WHERE bet_number = $1)`, b.BetNumber,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: update bet %d: %w", b.BetNumber, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrBadState
	}
	return nil
}

// ListByParty returns bets where addr is maker or taker.
func (s *BetStore) ListByParty(ctx context.Context, addr common.Address, opts domain.ListOpts) ([]domain.Bet, error) {
	query := `SELECT ` + betSelectCols + ` FROM bets WHERE (maker = $1 OR taker = $1)`
	args := []any{addr.Hex()}
	query, args = appendListOpts(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets by party: %w", err)
	}
	defer rows.Close()

	bets, err := scanBetRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bets by party: %w", err)
	}
	return bets, nil
}

// ListByStatus returns bets in the given lifecycle state.
func (s *BetStore) ListByStatus(ctx context.Context, status domain.BetStatus, opts domain.ListOpts) ([]domain.Bet, error) {
	query := `SELECT ` + betSelectCols + ` FROM bets WHERE status = $1`
	args := []any{string(status)}
	query, args = appendListOpts(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets by status: %w", err)
	}
	defer rows.Close()

	bets, err := scanBetRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bets by status: %w", err)
	}
	return bets, nil
}

// ListSettledBefore returns terminal bets last touched before the cutoff,
// oldest first. Used by the archiver.
func (s *BetStore) ListSettledBefore(ctx context.Context, before time.Time, limit int) ([]domain.Bet, error) {
	query := `SELECT ` + betSelectCols + ` FROM bets
		WHERE status IN ('cancelled', 'completed_maker_wins', 'completed_taker_wins')
		AND updated_at < $1
		ORDER BY updated_at ASC`
	args := []any{before}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled bets: %w", err)
	}
	defer rows.Close()

	bets, err := scanBetRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settled bets: %w", err)
	}
	return bets, nil
}

// Count returns the number of bets ever created.
func (s *BetStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count bets: %w", err)
	}
	return n, nil
}

// appendListOpts appends time filters, ordering, and pagination to a query
// that already carries len(args) placeholders.
func appendListOpts(query string, args []any, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY bet_number DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
