package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wagerlab/escrowd/internal/domain"
)

// ConfigStore implements domain.ConfigStore using PostgreSQL. The protocol
// configuration is a singleton row.
type ConfigStore struct {
	pool *pgxpool.Pool
}

// NewConfigStore creates a new ConfigStore backed by the given pool.
func NewConfigStore(pool *pgxpool.Pool) *ConfigStore {
	return &ConfigStore{pool: pool}
}

// Load reads the configuration singleton. ErrNotFound means no
// configuration has been persisted yet.
func (s *ConfigStore) Load(ctx context.Context) (domain.ProtocolConfig, error) {
	const query = `
		SELECT protocol_fee_bps, fee_address, paused,
		       no_arbiter_cooldown_secs, emergency_cooldown_secs,
		       lifecycle_orchestrator, arbitration_orchestrator,
		       allowlist_enforced, updated_at
		FROM protocol_config WHERE id = 1`

	var cfg domain.ProtocolConfig
	var feeAddr, lifecycleAddr, arbitrationAddr string
	var noArbiterSecs, emergencySecs int64

	err := s.pool.QueryRow(ctx, query).Scan(
		&cfg.ProtocolFeeBps, &feeAddr, &cfg.Paused,
		&noArbiterSecs, &emergencySecs,
		&lifecycleAddr, &arbitrationAddr,
		&cfg.AllowlistEnforced, &cfg.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ProtocolConfig{}, domain.ErrNotFound
		}
		return domain.ProtocolConfig{}, fmt.Errorf("postgres: load protocol config: %w", err)
	}

	cfg.FeeAddress = common.HexToAddress(feeAddr)
	cfg.LifecycleOrchestrator = common.HexToAddress(lifecycleAddr)
	cfg.ArbitrationOrchestrator = common.HexToAddress(arbitrationAddr)
	cfg.NoArbiterCooldown = time.Duration(noArbiterSecs) * time.Second
	cfg.EmergencyCooldown = time.Duration(emergencySecs) * time.Second
	return cfg, nil
}

// Save upserts the configuration singleton.
func (s *ConfigStore) Save(ctx context.Context, cfg domain.ProtocolConfig) error {
	const query = `
		INSERT INTO protocol_config (
			id, protocol_fee_bps, fee_address, paused,
			no_arbiter_cooldown_secs, emergency_cooldown_secs,
			lifecycle_orchestrator, arbitration_orchestrator,
			allowlist_enforced, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			protocol_fee_bps = EXCLUDED.protocol_fee_bps,
			fee_address = EXCLUDED.fee_address,
			paused = EXCLUDED.paused,
			no_arbiter_cooldown_secs = EXCLUDED.no_arbiter_cooldown_secs,
			emergency_cooldown_secs = EXCLUDED.emergency_cooldown_secs,
			lifecycle_orchestrator = EXCLUDED.lifecycle_orchestrator,
			arbitration_orchestrator = EXCLUDED.arbitration_orchestrator,
			allowlist_enforced = EXCLUDED.allowlist_enforced,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		cfg.ProtocolFeeBps, cfg.FeeAddress.Hex(), cfg.Paused,
		int64(cfg.NoArbiterCooldown/time.Second), int64(cfg.EmergencyCooldown/time.Second),
		cfg.LifecycleOrchestrator.Hex(), cfg.ArbitrationOrchestrator.Hex(),
		cfg.AllowlistEnforced, cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save protocol config: %w", err)
	}
	return nil
}
