package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wagerlab/escrowd/internal/domain"
)

// ArbitrationService defines the arbitration operations the handler
// requires.
type ArbitrationService interface {
	AcceptRole(ctx context.Context, caller common.Address, betNumber int64) (domain.Bet, error)
	SelectWinner(ctx context.Context, caller common.Address, betNumber int64, makerWins bool) (domain.Bet, error)
	Allowlist(ctx context.Context) ([]common.Address, error)
}

// ArbitrationHandler serves arbiter-facing HTTP endpoints.
type ArbitrationHandler struct {
	arb    ArbitrationService
	logger *slog.Logger
}

// NewArbitrationHandler creates an ArbitrationHandler.
func NewArbitrationHandler(arb ArbitrationService, logger *slog.Logger) *ArbitrationHandler {
	return &ArbitrationHandler{arb: arb, logger: logger}
}

// AcceptRole signs the caller up as the bet's arbiter.
// POST /api/bets/{number}/arbiter/accept
func (h *ArbitrationHandler) AcceptRole(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}
	n, ok := betNumberParam(w, r)
	if !ok {
		return
	}

	bet, err := h.arb.AcceptRole(r.Context(), addr, n)
	if err != nil {
		writeDomainError(w, r, h.logger, "accept arbiter role", err)
		return
	}
	writeJSON(w, http.StatusOK, toBetView(bet))
}

// selectWinnerRequest names the winning side.
type selectWinnerRequest struct {
	Winner string `json:"winner"` // "maker" or "taker"
}

// SelectWinner records the arbiter's verdict.
// POST /api/bets/{number}/arbiter/select-winner
func (h *ArbitrationHandler) SelectWinner(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}
	n, ok := betNumberParam(w, r)
	if !ok {
		return
	}

	var req selectWinnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var makerWins bool
	switch req.Winner {
	case "maker":
		makerWins = true
	case "taker":
		makerWins = false
	default:
		writeError(w, http.StatusBadRequest, `winner must be "maker" or "taker"`)
		return
	}

	bet, err := h.arb.SelectWinner(r.Context(), addr, n, makerWins)
	if err != nil {
		writeDomainError(w, r, h.logger, "select winner", err)
		return
	}
	writeJSON(w, http.StatusOK, toBetView(bet))
}

// ListAllowlist returns the arbiter allow-list.
// GET /api/arbiters/allowlist
func (h *ArbitrationHandler) ListAllowlist(w http.ResponseWriter, r *http.Request) {
	addrs, err := h.arb.Allowlist(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "list allowlist", err)
		return
	}

	hexes := make([]string, 0, len(addrs))
	for _, a := range addrs {
		hexes = append(hexes, a.Hex())
	}
	writeJSON(w, http.StatusOK, map[string]any{"arbiters": hexes})
}
