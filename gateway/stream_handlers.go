package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"strapt/native/stream"
)

type milestoneSpecJSON struct {
	Percentage  uint8  `json:"percentage"`
	Description string `json:"description,omitempty"`
}

type streamCreateRequest struct {
	Sender     string              `json:"sender"`
	Recipient  string              `json:"recipient"`
	Token      string              `json:"token"`
	Amount     string              `json:"amount"`
	Duration   int64               `json:"duration"`
	Milestones []milestoneSpecJSON `json:"milestones,omitempty"`
}

type milestoneJSON struct {
	Percentage  uint8  `json:"percentage"`
	Description string `json:"description,omitempty"`
	Released    bool   `json:"released"`
}

type streamJSON struct {
	ID         string          `json:"id"`
	Sender     string          `json:"sender"`
	Recipient  string          `json:"recipient"`
	Token      string          `json:"token"`
	NetAmount  string          `json:"netAmount"`
	Streamed   string          `json:"streamed"`
	Withdrawn  string          `json:"withdrawn"`
	StartTime  int64           `json:"startTime"`
	EndTime    int64           `json:"endTime"`
	Status     string          `json:"status"`
	Milestones []milestoneJSON `json:"milestones,omitempty"`
}

func (s *Server) streamToJSON(record *stream.Stream) streamJSON {
	streamed, err := s.streams.Streamed(record.ID)
	streamedStr := "0"
	if err == nil {
		streamedStr = streamed.String()
	}
	out := streamJSON{
		ID:        formatID(record.ID),
		Sender:    formatAddress(record.Sender),
		Recipient: formatAddress(record.Recipient),
		Token:     record.Token,
		NetAmount: record.NetAmount.String(),
		Streamed:  streamedStr,
		Withdrawn: record.Withdrawn.String(),
		StartTime: record.StartTime,
		EndTime:   record.EndTime,
		Status:    record.Status.String(),
	}
	for _, m := range record.Milestones {
		out.Milestones = append(out.Milestones, milestoneJSON{
			Percentage:  m.Percentage,
			Description: m.Description,
			Released:    m.Released,
		})
	}
	return out
}

func (s *Server) handleStreamCreate(w http.ResponseWriter, r *http.Request) {
	var req streamCreateRequest
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
	specs := make([]stream.MilestoneSpec, 0, len(req.Milestones))
	for _, m := range req.Milestones {
		specs = append(specs, stream.MilestoneSpec{Percentage: m.Percentage, Description: m.Description})
	}
	record, err := s.streams.CreateStream(sender, recipient, req.Token, amount, req.Duration, specs)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.streamToJSON(record))
}

func (s *Server) handleStreamGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := s.streams.GetStream(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.streamToJSON(record))
}

func (s *Server) handleStreamUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := s.streams.UpdateStream(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.streamToJSON(record))
}

type streamCallerRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) streamCallerAction(w http.ResponseWriter, r *http.Request, action func(id [32]byte, caller [20]byte) (*stream.Stream, error)) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req streamCallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := action(id, caller)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.streamToJSON(record))
}

func (s *Server) handleStreamPause(w http.ResponseWriter, r *http.Request) {
	s.streamCallerAction(w, r, s.streams.PauseStream)
}

func (s *Server) handleStreamResume(w http.ResponseWriter, r *http.Request) {
	s.streamCallerAction(w, r, s.streams.ResumeStream)
}

func (s *Server) handleStreamCancel(w http.ResponseWriter, r *http.Request) {
	s.streamCallerAction(w, r, s.streams.CancelStream)
}

func (s *Server) handleStreamWithdraw(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req streamCallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	paid, err := s.streams.WithdrawFromStream(id, caller)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": paid.String()})
}

func (s *Server) handleMilestoneRelease(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req streamCallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := s.streams.ReleaseMilestone(id, caller, index)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.streamToJSON(record))
}
