package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wagerlab/escrowd/internal/domain"
)

// AdminService defines the protocol administration operations the handler
// requires. Every mutation is identity-gated; the service rejects callers
// that are not configured admins.
type AdminService interface {
	Config() domain.ProtocolConfig
	BetCount(ctx context.Context) (int64, error)
	SetProtocolFee(ctx context.Context, caller common.Address, bps int64) error
	SetFeeAddress(ctx context.Context, caller, addr common.Address) error
	SetCooldowns(ctx context.Context, caller common.Address, noArbiter, emergency time.Duration) error
	SetLifecycleOrchestrator(ctx context.Context, caller, addr common.Address) error
	SetArbitrationOrchestrator(ctx context.Context, caller, addr common.Address) error
	Pause(ctx context.Context, caller common.Address) error
	Unpause(ctx context.Context, caller common.Address) error
}

// AllowlistAdmin defines the allow-list mutations the handler requires.
type AllowlistAdmin interface {
	AllowlistAdd(ctx context.Context, caller, addr common.Address) error
	AllowlistRemove(ctx context.Context, caller, addr common.Address) error
	SetAllowlistEnforced(ctx context.Context, caller common.Address, enforced bool) error
}

// AdminHandler serves protocol administration endpoints. Routes using it
// sit behind the HMAC admin middleware in addition to the identity gate
// inside the service.
type AdminHandler struct {
	admin     AdminService
	allowlist AllowlistAdmin
	logger    *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(admin AdminService, allowlist AllowlistAdmin, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, allowlist: allowlist, logger: logger}
}

// configView is the JSON representation of the protocol configuration.
type configView struct {
	ProtocolFeeBps          int64     `json:"protocol_fee_bps"`
	FeeAddress              string    `json:"fee_address"`
	Paused                  bool      `json:"paused"`
	NoArbiterCooldown       string    `json:"no_arbiter_cooldown"`
	EmergencyCooldown       string    `json:"emergency_cooldown"`
	LifecycleOrchestrator   string    `json:"lifecycle_orchestrator"`
	ArbitrationOrchestrator string    `json:"arbitration_orchestrator"`
	AllowlistEnforced       bool      `json:"allowlist_enforced"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// GetConfig returns the live protocol configuration.
// GET /api/admin/config
func (h *AdminHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.admin.Config()
	writeJSON(w, http.StatusOK, configView{
		ProtocolFeeBps:          cfg.ProtocolFeeBps,
		FeeAddress:              cfg.FeeAddress.Hex(),
		Paused:                  cfg.Paused,
		NoArbiterCooldown:       cfg.NoArbiterCooldown.String(),
		EmergencyCooldown:       cfg.EmergencyCooldown.String(),
		LifecycleOrchestrator:   cfg.LifecycleOrchestrator.Hex(),
		ArbitrationOrchestrator: cfg.ArbitrationOrchestrator.Hex(),
		AllowlistEnforced:       cfg.AllowlistEnforced,
		UpdatedAt:               cfg.UpdatedAt,
	})
}

// Stats returns protocol-level counters.
// GET /api/admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	count, err := h.admin.BetCount(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "read stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bet_count": count})
}

// updateConfigRequest carries the mutable protocol parameters. Absent
// fields are left unchanged.
type updateConfigRequest struct {
	ProtocolFeeBps          *int64  `json:"protocol_fee_bps"`
	FeeAddress              *string `json:"fee_address"`
	NoArbiterCooldown       *string `json:"no_arbiter_cooldown"`
	EmergencyCooldown       *string `json:"emergency_cooldown"`
	LifecycleOrchestrator   *string `json:"lifecycle_orchestrator"`
	ArbitrationOrchestrator *string `json:"arbitration_orchestrator"`
	AllowlistEnforced       *bool   `json:"allowlist_enforced"`
}

// UpdateConfig applies the supplied protocol parameter changes in order,
// stopping at the first failure.
// PUT /api/admin/config
func (h *AdminHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}

	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ctx := r.Context()

	if req.ProtocolFeeBps != nil {
		if err := h.admin.SetProtocolFee(ctx, addr, *req.ProtocolFeeBps); err != nil {
			writeDomainError(w, r, h.logger, "set protocol fee", err)
			return
		}
	}
	if req.FeeAddress != nil {
		fee, ok := parseAddress(w, "fee_address", *req.FeeAddress)
		if !ok {
			return
		}
		if err := h.admin.SetFeeAddress(ctx, addr, fee); err != nil {
			writeDomainError(w, r, h.logger, "set fee address", err)
			return
		}
	}
	if req.NoArbiterCooldown != nil || req.EmergencyCooldown != nil {
		cfg := h.admin.Config()
		noArbiter, emergency := cfg.NoArbiterCooldown, cfg.EmergencyCooldown
		if req.NoArbiterCooldown != nil {
			d, err := time.ParseDuration(*req.NoArbiterCooldown)
			if err != nil {
				writeError(w, http.StatusBadRequest, "malformed no_arbiter_cooldown")
				return
			}
			noArbiter = d
		}
		if req.EmergencyCooldown != nil {
			d, err := time.ParseDuration(*req.EmergencyCooldown)
			if err != nil {
				writeError(w, http.StatusBadRequest, "malformed emergency_cooldown")
				return
			}
			emergency = d
		}
		if err := h.admin.SetCooldowns(ctx, addr, noArbiter, emergency); err != nil {
			writeDomainError(w, r, h.logger, "set cooldowns", err)
			return
		}
	}
	if req.LifecycleOrchestrator != nil {
		o, ok := parseAddress(w, "lifecycle_orchestrator", *req.LifecycleOrchestrator)
		if !ok {
			return
		}
		if err := h.admin.SetLifecycleOrchestrator(ctx, addr, o); err != nil {
			writeDomainError(w, r, h.logger, "set lifecycle orchestrator", err)
			return
		}
	}
	if req.ArbitrationOrchestrator != nil {
		o, ok := parseAddress(w, "arbitration_orchestrator", *req.ArbitrationOrchestrator)
		if !ok {
			return
		}
		if err := h.admin.SetArbitrationOrchestrator(ctx, addr, o); err != nil {
			writeDomainError(w, r, h.logger, "set arbitration orchestrator", err)
			return
		}
	}
	if req.AllowlistEnforced != nil {
		if err := h.allowlist.SetAllowlistEnforced(ctx, addr, *req.AllowlistEnforced); err != nil {
			writeDomainError(w, r, h.logger, "toggle allowlist enforcement", err)
			return
		}
	}

	h.GetConfig(w, r)
}

// Pause halts all gated mutations protocol-wide.
// POST /api/admin/pause
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "pause protocol", h.admin.Pause)
}

// Unpause resumes normal operation.
// POST /api/admin/unpause
func (h *AdminHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "unpause protocol", h.admin.Unpause)
}

func (h *AdminHandler) toggle(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, common.Address) error) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), addr); err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": h.admin.Config().Paused})
}

// allowlistRequest names an arbiter address.
type allowlistRequest struct {
	Address string `json:"address"`
}

// AllowlistAdd admits an arbiter to the allow-list.
// POST /api/admin/allowlist
func (h *AdminHandler) AllowlistAdd(w http.ResponseWriter, r *http.Request) {
	h.allowlistMutate(w, r, "allowlist add", h.allowlist.AllowlistAdd)
}

// AllowlistRemove expels an arbiter from the allow-list.
// DELETE /api/admin/allowlist
func (h *AdminHandler) AllowlistRemove(w http.ResponseWriter, r *http.Request) {
	h.allowlistMutate(w, r, "allowlist remove", h.allowlist.AllowlistRemove)
}

func (h *AdminHandler) allowlistMutate(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, common.Address, common.Address) error) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}

	var req allowlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		writeError(w, http.StatusBadRequest, "malformed arbiter address")
		return
	}

	if err := fn(r.Context(), addr, common.HexToAddress(req.Address)); err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
