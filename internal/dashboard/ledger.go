// internal/dashboard/ledger.go
package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"memberdesk/internal/ledger"
	"memberdesk/internal/ledgerview"
	"memberdesk/internal/membership"
)

type monthView struct {
	ledger.MonthStatus
	Payable bool `json:"payable"`
}

type ledgerResponse struct {
	Member       membership.Member          `json:"member"`
	TierLabel    string                     `json:"tier_label"`
	Year         int                        `json:"year"`
	CurrentMonth int                        `json:"current_month"`
	Months       []monthView                `json:"months"`
	Summary      ledger.Summary             `json:"summary"`
	Balance      decimal.Decimal            `json:"balance"`
	Rate         decimal.Decimal            `json:"rate"`
	Recent       []membership.PaymentRecord `json:"recent_payments"`
	Processing   string                     `json:"processing,omitempty"`
	Busy         bool                       `json:"busy"`
	LoadedAt     time.Time                  `json:"loaded_at"`
}

func newLedgerResponse(snap ledgerview.Snapshot) ledgerResponse {
	months := make([]monthView, len(snap.Statuses))
	for i, st := range snap.Statuses {
		months[i] = monthView{MonthStatus: st, Payable: snap.Payable(i)}
	}
	recent := snap.Recent
	if recent == nil {
		recent = []membership.PaymentRecord{}
	}
	return ledgerResponse{
		Member:       snap.Member,
		TierLabel:    snap.Member.Tier().Label(),
		Year:         snap.Year,
		CurrentMonth: snap.CurrentMonth,
		Months:       months,
		Summary:      snap.Summary,
		Balance:      snap.Balance(),
		Rate:         snap.Rate(),
		Recent:       recent,
		Processing:   snap.Processing,
		Busy:         snap.Busy,
		LoadedAt:     snap.LoadedAt,
	}
}

type operationResponse struct {
	Result ledgerview.Result `json:"result"`
	Ledger ledgerResponse    `json:"ledger"`
}

// view resolves the member's ledger view, answering the request itself when
// the member cannot be loaded.
func (s *Server) view(w http.ResponseWriter, r *http.Request) (*ledgerview.View, bool) {
	id, ok := memberID(w, r)
	if !ok {
		return nil, false
	}
	v, err := s.views.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err, ledgerview.MsgLoadFailed)
		return nil, false
	}
	return v, true
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newLedgerResponse(v.Snapshot()))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	if err := v.Refresh(r.Context()); err != nil {
		msg := ledgerview.MsgLoadFailed
		if errors.Is(err, ledgerview.ErrBusy) {
			msg = ledgerview.MsgBusy
		}
		writeError(w, r, err, msg)
		return
	}
	writeJSON(w, http.StatusOK, newLedgerResponse(v.Snapshot()))
}

func (s *Server) handlePayMonth(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	res, err := v.PayMonth(r.Context(), chi.URLParam(r, "monthKey"))
	s.writeOutcome(w, r, v, res, err)
}

type balanceRequest struct {
	Operation string      `json:"operation"`
	Amount    amountInput `json:"amount"`
}

// amountInput takes an amount sent either as a JSON string or a number.
type amountInput string

func (a *amountInput) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*a = amountInput(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*a = amountInput(n.String())
	return nil
}

func (s *Server) handleAdjustBalance(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	var req balanceRequest
	if !decode(w, r, &req) {
		return
	}
	op, err := ledgerview.ParseOperation(req.Operation)
	if err != nil {
		writeError(w, r, err, err.Error())
		return
	}
	amount, err := ledgerview.ParseAmount(string(req.Amount))
	if err != nil {
		writeError(w, r, err, err.Error())
		return
	}
	res, err := v.AdjustBalance(r.Context(), op, amount)
	s.writeOutcome(w, r, v, res, err)
}

// writeOutcome answers a balance-affecting operation. Successes and partial
// successes carry the refreshed ledger so the shell can redraw.
func (s *Server) writeOutcome(w http.ResponseWriter, r *http.Request, v *ledgerview.View, res ledgerview.Result, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, operationResponse{Result: res, Ledger: newLedgerResponse(v.Snapshot())})
	case res.Outcome == ledgerview.OutcomePartialSuccess:
		writeJSON(w, http.StatusBadGateway, operationResponse{Result: res, Ledger: newLedgerResponse(v.Snapshot())})
	default:
		msg := res.Message
		if msg == "" {
			msg = msgUnexpected
		}
		writeError(w, r, err, msg)
	}
}
