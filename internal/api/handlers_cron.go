package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// cronPreviewRequest asks for the next Count firings of Expr after From.
// From defaults to the current block time.
type cronPreviewRequest struct {
	Expr  string `json:"expr"`
	From  string `json:"now,omitempty"`
	Count int    `json:"count,omitempty"`
}

// cronPreviewResponse pairs each firing with the time slot a task created
// now would be filed under.
type cronPreviewResponse struct {
	Valid     bool     `json:"valid"`
	NextTimes []string `json:"next_times,omitempty"`
	Slots     []uint64 `json:"slots,omitempty"`
	Message   string   `json:"message,omitempty"`
}

func (s *Server) handleCronPreview(w http.ResponseWriter, r *http.Request) {
	var req cronPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid JSON payload")
		return
	}
	req.Expr = strings.TrimSpace(req.Expr)
	if req.Expr == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "cron expression is required")
		return
	}
	var from time.Time
	if req.From != "" {
		t, err := time.Parse(time.RFC3339, req.From)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "now must be RFC3339")
			return
		}
		from = t
	}

	preview, err := s.node.PreviewCron(r.Context(), req.Expr, req.Count, from)
	if err != nil {
		// invalid expressions report valid=false
		writeJSON(w, http.StatusOK, cronPreviewResponse{Message: err.Error()})
		return
	}
	res := cronPreviewResponse{Valid: true, Slots: preview.Slots}
	for _, t := range preview.NextTimes {
		res.NextTimes = append(res.NextTimes, t.UTC().Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, res)
}
