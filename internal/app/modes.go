package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/wagerlab/escrowd/internal/access"
	"github.com/wagerlab/escrowd/internal/arbitration"
	"github.com/wagerlab/escrowd/internal/archive"
	"github.com/wagerlab/escrowd/internal/crypto"
	"github.com/wagerlab/escrowd/internal/domain"
	"github.com/wagerlab/escrowd/internal/events"
	"github.com/wagerlab/escrowd/internal/ledger"
	"github.com/wagerlab/escrowd/internal/lifecycle"
	"github.com/wagerlab/escrowd/internal/server"
	"github.com/wagerlab/escrowd/internal/server/handler"
	"github.com/wagerlab/escrowd/internal/server/ws"
)

// devCustodyAddress is the custody account used by the simulated token
// ledger in dev mode.
var devCustodyAddress = common.BytesToAddress([]byte("escrowd-dev-custody"))

// ServeMode runs the full service: Postgres-backed stores, Redis
// coordination, on-chain custody, the HTTP API, and the archive worker.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")
	return a.runService(ctx, deps)
}

// DevMode runs the same service entirely in-process, with in-memory stores
// and a simulated token ledger. Useful for local front-end work and
// integration testing without external infrastructure.
func (a *App) DevMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting dev mode",
		slog.String("custody", devCustodyAddress.Hex()),
	)
	return a.runService(ctx, deps)
}

// runService assembles the ledger and orchestrators on top of the wired
// dependencies and starts the long-running goroutines: the WebSocket hub,
// the HTTP server, and (when enabled) the archive worker. It blocks until
// the context is cancelled or a subsystem fails.
func (a *App) runService(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	clock := domain.SystemClock{}
	sink := events.NewFanout(deps.Audit, deps.SignalBus, deps.Notifier, a.logger)
	admins := access.NewStaticAdmins(a.cfg.AdminAddresses())

	led, err := ledger.New(ctx,
		deps.Bets, deps.Journal, deps.Tokens, deps.Configs,
		admins, clock, sink, a.ledgerSeed(), a.logger,
	)
	if err != nil {
		return fmt.Errorf("build ledger: %w", err)
	}

	// Orchestrator identities come from the persisted protocol
	// configuration, not the seed: after first boot the stored values win.
	pcfg := led.Config()
	lifeSvc := lifecycle.New(led, deps.LockManager, clock, sink, pcfg.LifecycleOrchestrator, a.logger)
	arbSvc := arbitration.New(led, deps.Allowlist, deps.LockManager, clock, sink, pcfg.ArbitrationOrchestrator, a.logger)

	if deps.Notifier != nil {
		if err := deps.Notifier.Announce(ctx, "escrowd started", "mode "+a.cfg.Mode); err != nil {
			a.logger.WarnContext(ctx, "startup announce failed", slog.String("error", err.Error()))
		}
	}

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		worker := archive.NewWorker(deps.Archiver, a.cfg.Archive.RetentionDays, clock, a.logger)
		g.Go(func() error {
			return worker.RunLoop(ctx, a.cfg.Archive.Interval.Duration)
		})
	}

	if a.cfg.Server.Enabled {
		hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: clock.Now(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})

		var adminAuth *crypto.HMACAuth
		if a.cfg.Admin.APIKey != "" {
			adminAuth = &crypto.HMACAuth{
				Key:    a.cfg.Admin.APIKey,
				Secret: a.cfg.Admin.APISecret,
			}
		}

		srv := server.NewServer(server.Config{
			Port:            a.cfg.Server.Port,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			APIKey:          a.cfg.Server.APIKey,
			AdminAuth:       adminAuth,
			RateLimiter:     deps.RateLimiter,
			RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
		}, server.Handlers{
			Health:      handler.NewHealthHandler(a.logger),
			Bets:        handler.NewBetHandler(lifeSvc, led, a.logger),
			Arbitration: handler.NewArbitrationHandler(arbSvc, a.logger),
			Admin:       handler.NewAdminHandler(led, arbSvc, a.logger),
		}, hub, a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	return g.Wait()
}

// ledgerSeed translates the [ledger] config section into the protocol
// configuration used on first boot, before anything has been persisted.
func (a *App) ledgerSeed() domain.ProtocolConfig {
	return domain.ProtocolConfig{
		ProtocolFeeBps:          a.cfg.Ledger.ProtocolFeeBps,
		FeeAddress:              common.HexToAddress(a.cfg.Ledger.FeeAddress),
		NoArbiterCooldown:       a.cfg.Ledger.NoArbiterCooldown.Duration,
		EmergencyCooldown:       a.cfg.Ledger.EmergencyCooldown.Duration,
		LifecycleOrchestrator:   common.HexToAddress(a.cfg.Ledger.LifecycleOrchestrator),
		ArbitrationOrchestrator: common.HexToAddress(a.cfg.Ledger.ArbitrationOrchestrator),
		AllowlistEnforced:       a.cfg.Ledger.AllowlistEnforced,
	}
}
