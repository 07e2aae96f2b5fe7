package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"strapt/native/drop"
)

type dropCreateRequest struct {
	Creator         string `json:"creator"`
	Token           string `json:"token"`
	Amount          string `json:"amount"`
	TotalRecipients uint32 `json:"totalRecipients"`
	IsRandom        bool   `json:"isRandom"`
	ExpiryTime      int64  `json:"expiryTime"`
	Message         string `json:"message,omitempty"`
}

type dropJSON struct {
	ID              string `json:"id"`
	Creator         string `json:"creator"`
	Token           string `json:"token"`
	NetAmount       string `json:"netAmount"`
	RemainingAmount string `json:"remainingAmount"`
	ClaimedCount    uint32 `json:"claimedCount"`
	TotalRecipients uint32 `json:"totalRecipients"`
	IsRandom        bool   `json:"isRandom"`
	ExpiryTime      int64  `json:"expiryTime"`
	Message         string `json:"message,omitempty"`
	Active          bool   `json:"active"`
}

func dropToJSON(d *drop.Drop) dropJSON {
	return dropJSON{
		ID:              formatID(d.ID),
		Creator:         formatAddress(d.Creator),
		Token:           d.Token,
		NetAmount:       d.NetAmount.String(),
		RemainingAmount: d.RemainingAmount.String(),
		ClaimedCount:    d.ClaimedCount,
		TotalRecipients: d.TotalRecipients,
		IsRandom:        d.IsRandom,
		ExpiryTime:      d.ExpiryTime,
		Message:         d.Message,
		Active:          d.Active,
	}
}

func (s *Server) handleDropCreate(w http.ResponseWriter, r *http.Request) {
	var req dropCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	creator, err := parseAddress(req.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parsePositiveAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := s.drops.CreateDrop(creator, req.Token, amount, req.TotalRecipients, req.IsRandom, req.ExpiryTime, req.Message)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dropToJSON(record))
}

func (s *Server) handleDropGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := s.drops.GetDrop(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dropToJSON(record))
}

type dropCallerRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleDropClaim(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req dropCallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	claim, err := s.drops.ClaimDrop(id, caller)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"claimer": formatAddress(claim.Claimer),
		"amount":  claim.Amount.String(),
	})
}

func (s *Server) handleDropRefund(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req dropCallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	swept, err := s.drops.RefundExpiredDrop(id, caller)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": swept.String()})
}

func (s *Server) handleDropClaimed(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	claimed, amount, err := s.drops.HasAddressClaimed(id, addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"claimed": claimed,
		"amount":  amount.String(),
	})
}
