package gateway

import (
	"encoding/json"
	"net/http"
)

type setFeeRequest struct {
	Caller string `json:"caller"`
	Bps    uint32 `json:"bps"`
}

func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	var req setFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.registry.SetFee(caller, req.Bps); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type setFeeCollectorRequest struct {
	Caller    string `json:"caller"`
	Collector string `json:"collector"`
}

func (s *Server) handleSetFeeCollector(w http.ResponseWriter, r *http.Request) {
	var req setFeeCollectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	collector, err := parseAddress(req.Collector)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.registry.SetFeeCollector(caller, collector); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type setTokenSupportRequest struct {
	Caller    string `json:"caller"`
	Token     string `json:"token"`
	Supported bool   `json:"supported"`
}

func (s *Server) handleSetTokenSupport(w http.ResponseWriter, r *http.Request) {
	var req setTokenSupportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.registry.SetTokenSupport(caller, req.Token, req.Supported); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
