// Package handler implements the HTTP API surface: bet lifecycle,
// arbitration, admin, and health endpoints.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wagerlab/escrowd/internal/domain"
)

// CallerHeader names the header carrying the caller's wallet address.
// Signature-based caller authentication is the gateway's job; this service
// trusts the header it is handed.
const CallerHeader = "X-Caller-Address"

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a domain error to an HTTP status. Unknown errors
// are logged and reported as 500 without leaking internals.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "bet not found")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "caller not authorized")
	case errors.Is(err, domain.ErrPaused):
		writeError(w, http.StatusServiceUnavailable, "protocol is paused")
	case errors.Is(err, domain.ErrBadState):
		writeError(w, http.StatusConflict, "bet is not in a state that allows this operation")
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "bet is being modified, retry")
	case errors.Is(err, domain.ErrTooEarly):
		writeError(w, http.StatusConflict, "too early for this operation")
	case errors.Is(err, domain.ErrDeadlinePassed):
		writeError(w, http.StatusConflict, "bet end time has passed")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrPastEndTime),
		errors.Is(err, domain.ErrIdentityCollision),
		errors.Is(err, domain.ErrFeeTooHigh),
		errors.Is(err, domain.ErrAgreementTooLong),
		errors.Is(err, domain.ErrZeroToken),
		errors.Is(err, domain.ErrZeroAddress),
		errors.Is(err, domain.ErrNotAllowlisted):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

// caller extracts and validates the caller address header. The bool result
// is false when the header is missing or malformed; the error response has
// already been written in that case.
func caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	v := r.Header.Get(CallerHeader)
	if v == "" {
		writeError(w, http.StatusBadRequest, CallerHeader+" header required")
		return common.Address{}, false
	}
	if !common.IsHexAddress(v) {
		writeError(w, http.StatusBadRequest, "malformed caller address")
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

// betNumberParam parses the {number} path parameter.
func betNumberParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	v := r.PathValue("number")
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "malformed bet number")
		return 0, false
	}
	return n, true
}

// parseAddress validates a request-body address field.
func parseAddress(w http.ResponseWriter, field, v string) (common.Address, bool) {
	if v == "" {
		return common.Address{}, true // open sentinel
	}
	if !common.IsHexAddress(v) {
		writeError(w, http.StatusBadRequest, "malformed address in "+field)
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

// parseAmount validates a decimal token amount string.
func parseAmount(w http.ResponseWriter, v string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(v, 10)
	if !ok || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "malformed amount")
		return nil, false
	}
	return amount, true
}

// parseListOpts extracts standard pagination parameters from the query
// string. Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}

	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Since = &t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Until = &t
		}
	}
	return opts
}

// betView is the JSON representation of a bet record.
type betView struct {
	BetNumber      int64     `json:"bet_number"`
	Maker          string    `json:"maker"`
	Taker          string    `json:"taker"`
	Arbiter        string    `json:"arbiter"`
	Token          string    `json:"token"`
	Amount         string    `json:"amount"`
	AnchoredAt     time.Time `json:"anchored_at"`
	EndTime        time.Time `json:"end_time"`
	Status         string    `json:"status"`
	ProtocolFeeBps int64     `json:"protocol_fee_bps"`
	ArbiterFeeBps  int64     `json:"arbiter_fee_bps"`
	ArbiterPaid    bool      `json:"arbiter_paid"`
	CanSettleEarly bool      `json:"can_settle_early"`
	Agreement      string    `json:"agreement"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toBetView(b domain.Bet) betView {
	return betView{
		BetNumber:      b.BetNumber,
		Maker:          b.Maker.Hex(),
		Taker:          b.Taker.Hex(),
		Arbiter:        b.Arbiter.Hex(),
		Token:          b.TokenAddress.Hex(),
		Amount:         b.Amount.String(),
		AnchoredAt:     b.AnchoredAt,
		EndTime:        b.EndTime,
		Status:         string(b.Status),
		ProtocolFeeBps: b.ProtocolFeeBps,
		ArbiterFeeBps:  b.ArbiterFeeBps,
		ArbiterPaid:    b.ArbiterPaid,
		CanSettleEarly: b.CanSettleEarly,
		Agreement:      b.Agreement,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func toBetViews(bets []domain.Bet) []betView {
	out := make([]betView, 0, len(bets))
	for _, b := range bets {
		out = append(out, toBetView(b))
	}
	return out
}
