package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"strapt/native/claimcode"
	"strapt/native/transfer"
)

type transferCreateRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient,omitempty"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Expiry    int64  `json:"expiry,omitempty"`
	ClaimCode string `json:"claimCode,omitempty"`
}

type transferJSON struct {
	ID             string `json:"id"`
	Sender         string `json:"sender"`
	Recipient      string `json:"recipient,omitempty"`
	Token          string `json:"token"`
	NetAmount      string `json:"netAmount"`
	GrossAmount    string `json:"grossAmount"`
	Expiry         int64  `json:"expiry"`
	CreatedAt      int64  `json:"createdAt"`
	IsLinkTransfer bool   `json:"isLinkTransfer"`
	HasPassword    bool   `json:"hasPassword"`
	Status         string `json:"status"`
}

func transferToJSON(t *transfer.Transfer) transferJSON {
	out := transferJSON{
		ID:             formatID(t.ID),
		Sender:         formatAddress(t.Sender),
		Token:          t.Token,
		NetAmount:      t.NetAmount.String(),
		GrossAmount:    t.GrossAmount.String(),
		Expiry:         t.Expiry,
		CreatedAt:      t.CreatedAt,
		IsLinkTransfer: t.IsLinkTransfer,
		HasPassword:    t.HasPassword,
		Status:         t.Status.String(),
	}
	if t.HasRecipient {
		out.Recipient = formatAddress(t.Recipient)
	}
	return out
}

func (s *Server) handleTransferCreate(w http.ResponseWriter, r *http.Request) {
	var req transferCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sender, err := parseAddress(req.Sender)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parsePositiveAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var codeHash *[32]byte
	if req.ClaimCode != "" {
		hash := claimcode.HashCode(req.ClaimCode)
		codeHash = &hash
	}
	record, err := s.transfers.CreateDirectTransfer(sender, recipient, req.Token, amount, req.Expiry, codeHash)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, transferToJSON(record))
}

func (s *Server) handleLinkTransferCreate(w http.ResponseWriter, r *http.Request) {
	var req transferCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sender, err := parseAddress(req.Sender)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parsePositiveAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var codeHash *[32]byte
	if req.ClaimCode != "" {
		hash := claimcode.HashCode(req.ClaimCode)
		codeHash = &hash
	}
	record, err := s.transfers.CreateLinkTransfer(sender, req.Token, amount, req.Expiry, codeHash)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, transferToJSON(record))
}

type transferClaimRequest struct {
	Caller    string `json:"caller"`
	ClaimCode string `json:"claimCode,omitempty"`
}

func (s *Server) handleTransferClaim(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req transferClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := s.transfers.ClaimTransfer(id, caller, req.ClaimCode)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transferToJSON(record))
}

type transferRefundRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleTransferRefund(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req transferRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := s.transfers.RefundTransfer(id, caller)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transferToJSON(record))
}

func (s *Server) handleTransferGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := s.transfers.GetTransfer(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transferToJSON(record))
}

func (s *Server) handleTransferClaimable(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	claimable, err := s.transfers.IsTransferClaimable(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	protected, err := s.transfers.IsPasswordProtected(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"claimable":         claimable,
		"passwordProtected": protected,
	})
}

func (s *Server) handleRecipientTransfers(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ids, err := s.transfers.GetRecipientTransfers(addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, formatID(id))
	}
	writeJSON(w, http.StatusOK, map[string][]string{"transferIds": out})
}
