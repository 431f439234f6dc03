package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wagerlab/escrowd/internal/domain"
	"github.com/wagerlab/escrowd/internal/lifecycle"
)

// BetService defines the lifecycle operations the bet handler requires.
type BetService interface {
	Create(ctx context.Context, maker common.Address, p lifecycle.CreateParams) (domain.Bet, error)
	ChangeParameters(ctx context.Context, caller common.Address, betNumber int64, p lifecycle.ChangeParams) (domain.Bet, error)
	MakerCancel(ctx context.Context, caller common.Address, betNumber int64) error
	Accept(ctx context.Context, caller common.Address, betNumber int64) (domain.Bet, error)
	NoArbiterCancel(ctx context.Context, caller common.Address, betNumber int64) error
	Forfeit(ctx context.Context, caller common.Address, betNumber int64) (domain.Bet, error)
	EmergencyCancel(ctx context.Context, caller common.Address, betNumber int64) error
	Claim(ctx context.Context, caller common.Address, betNumber int64) (lifecycle.ClaimResult, error)
}

// BetReader defines the read operations the bet handler requires.
type BetReader interface {
	Bet(ctx context.Context, betNumber int64) (domain.Bet, error)
	ListByParty(ctx context.Context, addr common.Address, opts domain.ListOpts) ([]domain.Bet, error)
	ListByStatus(ctx context.Context, status domain.BetStatus, opts domain.ListOpts) ([]domain.Bet, error)
	CustodyBalance(ctx context.Context, betNumber int64) (*big.Int, error)
	CustodyEntries(ctx context.Context, betNumber int64) ([]domain.CustodyEntry, error)
}

// BetHandler serves bet lifecycle HTTP endpoints.
type BetHandler struct {
	bets   BetService
	reader BetReader
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler with the given service and logger.
func NewBetHandler(bets BetService, reader BetReader, logger *slog.Logger) *BetHandler {
	return &BetHandler{bets: bets, reader: reader, logger: logger}
}

// createBetRequest is the JSON body for opening a bet. Empty taker/arbiter
// mean the role is open for anyone to fill.
type createBetRequest struct {
	Taker          string    `json:"taker"`
	Arbiter        string    `json:"arbiter"`
	Token          string    `json:"token"`
	Amount         string    `json:"amount"`
	EndTime        time.Time `json:"end_time"`
	ProtocolFeeBps int64     `json:"protocol_fee_bps"`
	ArbiterFeeBps  int64     `json:"arbiter_fee_bps"`
	CanSettleEarly bool      `json:"can_settle_early"`
	Agreement      string    `json:"agreement"`
}

// CreateBet opens a new bet with the caller as maker.
// POST /api/bets
func (h *BetHandler) CreateBet(w http.ResponseWriter, r *http.Request) {
	maker, ok := caller(w, r)
	if !ok {
		return
	}

	var req createBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	taker, ok := parseAddress(w, "taker", req.Taker)
	if !ok {
		return
	}
	arbiter, ok := parseAddress(w, "arbiter", req.Arbiter)
	if !ok {
		return
	}
	if req.Token == "" || !common.IsHexAddress(req.Token) {
		writeError(w, http.StatusBadRequest, "token address required")
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}

	bet, err := h.bets.Create(r.Context(), maker, lifecycle.CreateParams{
		Taker:          taker,
		Arbiter:        arbiter,
		Token:          common.HexToAddress(req.Token),
		Amount:         amount,
		EndTime:        req.EndTime,
		ProtocolFeeBps: req.ProtocolFeeBps,
		ArbiterFeeBps:  req.ArbiterFeeBps,
		CanSettleEarly: req.CanSettleEarly,
		Agreement:      req.Agreement,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "create bet", err)
		return
	}

	writeJSON(w, http.StatusCreated, toBetView(bet))
}

// GetBet returns a single bet record.
// GET /api/bets/{number}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	n, ok := betNumberParam(w, r)
	if !ok {
		return
	}

	bet, err := h.reader.Bet(r.Context(), n)
	if err != nil {
		writeDomainError(w, r, h.logger, "get bet", err)
		return
	}
	writeJSON(w, http.StatusOK, toBetView(bet))
}

// ListBets returns bets filtered by party address or lifecycle status.
// GET /api/bets?party=0x...&status=in_process&limit=50&offset=0
func (h *BetHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	party := q.Get("party")
	status := q.Get("status")

	if party == "" && status == "" {
		writeError(w, http.StatusBadRequest, "party or status query parameter required")
		return
	}

	opts := parseListOpts(r)

	var bets []domain.Bet
	var err error
	if party != "" {
		if !common.IsHexAddress(party) {
			writeError(w, http.StatusBadRequest, "malformed party address")
			return
		}
		bets, err = h.reader.ListByParty(r.Context(), common.HexToAddress(party), opts)
	} else {
		bets, err = h.reader.ListByStatus(r.Context(), domain.BetStatus(status), opts)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "list bets", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"bets": toBetViews(bets)})
}

// changeBetRequest carries the renegotiable fields. Absent fields are left
// unchanged.
type changeBetRequest struct {
	Taker          *string    `json:"taker"`
	Arbiter        *string    `json:"arbiter"`
	EndTime        *time.Time `json:"end_time"`
	CanSettleEarly *bool      `json:"can_settle_early"`
	Agreement      *string    `json:"agreement"`
}

// ChangeBet renegotiates a bet that is still waiting for a taker.
// PATCH /api/bets/{number}
func (h *BetHandler) ChangeBet(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}
	n, ok := betNumberParam(w, r)
	if !ok {
		return
	}

	var req changeBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var p lifecycle.ChangeParams
	if req.Taker != nil {
		taker, ok := parseAddress(w, "taker", *req.Taker)
		if !ok {
			return
		}
		p.Taker = &taker
	}
	if req.Arbiter != nil {
		arbiter, ok := parseAddress(w, "arbiter", *req.Arbiter)
		if !ok {
			return
		}
		p.Arbiter = &arbiter
	}
	p.EndTime = req.EndTime
	p.CanSettleEarly = req.CanSettleEarly
	p.Agreement = req.Agreement

	bet, err := h.bets.ChangeParameters(r.Context(), addr, n, p)
	if err != nil {
		writeDomainError(w, r, h.logger, "change bet", err)
		return
	}
	writeJSON(w, http.StatusOK, toBetView(bet))
}

// AcceptBet stakes the caller as taker.
// POST /api/bets/{number}/accept
func (h *BetHandler) AcceptBet(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}
	n, ok := betNumberParam(w, r)
	if !ok {
		return
	}

	bet, err := h.bets.Accept(r.Context(), addr, n)
	if err != nil {
		writeDomainError(w, r, h.logger, "accept bet", err)
		return
	}
	writeJSON(w, http.StatusOK, toBetView(bet))
}

// CancelBet lets the maker withdraw an unaccepted bet.
// POST /api/bets/{number}/cancel
func (h *BetHandler) CancelBet(w http.ResponseWriter, r *http.Request) {
	h.simpleAction(w, r, "cancel bet", h.bets.MakerCancel)
}

// NoArbiterCancel unwinds a bet stuck waiting for an arbiter past the
// cooldown.
// POST /api/bets/{number}/no-arbiter-cancel
func (h *BetHandler) NoArbiterCancel(w http.ResponseWriter, r *http.Request) {
	h.simpleAction(w, r, "no-arbiter cancel", h.bets.NoArbiterCancel)
}

// EmergencyCancel unwinds a live bet abandoned by its arbiter long past the
// end time.
// POST /api/bets/{number}/emergency-cancel
func (h *BetHandler) EmergencyCancel(w http.ResponseWriter, r *http.Request) {
	h.simpleAction(w, r, "emergency cancel", h.bets.EmergencyCancel)
}

// ForfeitBet concedes a live bet to the opponent.
// POST /api/bets/{number}/forfeit
func (h *BetHandler) ForfeitBet(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}
	n, ok := betNumberParam(w, r)
	if !ok {
		return
	}

	bet, err := h.bets.Forfeit(r.Context(), addr, n)
	if err != nil {
		writeDomainError(w, r, h.logger, "forfeit bet", err)
		return
	}
	writeJSON(w, http.StatusOK, toBetView(bet))
}

// ClaimBet settles a decided bet and pays out. Callable by anyone.
// POST /api/bets/{number}/claim
func (h *BetHandler) ClaimBet(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}
	n, ok := betNumberParam(w, r)
	if !ok {
		return
	}

	result, err := h.bets.Claim(r.Context(), addr, n)
	if err != nil {
		writeDomainError(w, r, h.logger, "claim bet", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"bet":             toBetView(result.Bet),
		"protocol_rake":   result.ProtocolRake.String(),
		"arbiter_payment": result.ArbiterPayment.String(),
		"winner_take":     result.WinnerTake.String(),
	})
}

// custodyEntryView is the JSON representation of one journal entry.
type custodyEntryView struct {
	ID           int64     `json:"id"`
	Direction    string    `json:"direction"`
	Counterparty string    `json:"counterparty"`
	Token        string    `json:"token"`
	Amount       string    `json:"amount"`
	CreatedAt    time.Time `json:"created_at"`
}

// Custody returns the custody journal and live balance for a bet.
// GET /api/bets/{number}/custody
func (h *BetHandler) Custody(w http.ResponseWriter, r *http.Request) {
	n, ok := betNumberParam(w, r)
	if !ok {
		return
	}

	entries, err := h.reader.CustodyEntries(r.Context(), n)
	if err != nil {
		writeDomainError(w, r, h.logger, "list custody entries", err)
		return
	}
	balance, err := h.reader.CustodyBalance(r.Context(), n)
	if err != nil {
		writeDomainError(w, r, h.logger, "read custody balance", err)
		return
	}

	views := make([]custodyEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, custodyEntryView{
			ID:           e.ID,
			Direction:    string(e.Direction),
			Counterparty: e.Counterparty.Hex(),
			Token:        e.Token.Hex(),
			Amount:       e.Amount.String(),
			CreatedAt:    e.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"balance": balance.String(),
		"entries": views,
	})
}

// simpleAction runs a caller+betNumber operation that returns only an error
// and responds with the refreshed bet record.
func (h *BetHandler) simpleAction(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, common.Address, int64) error) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}
	n, ok := betNumberParam(w, r)
	if !ok {
		return
	}

	if err := fn(r.Context(), addr, n); err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}

	bet, err := h.reader.Bet(r.Context(), n)
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, toBetView(bet))
}
