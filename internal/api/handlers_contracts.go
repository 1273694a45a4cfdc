package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"croncat/internal/chain"
)

type executeRequest struct {
	Sender string          `json:"sender"`
	Msg    json.RawMessage `json:"msg"`
	Funds  []chain.Coin    `json:"funds"`
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	latest, err := s.node.Contracts(r.Context())
	if err != nil {
		s.writeTxError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deployment": s.node.Deployment(),
		"latest":     latest,
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Sender = strings.TrimSpace(req.Sender)
	if req.Sender == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "sender is required")
		return
	}
	if len(req.Msg) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "msg is required")
		return
	}
	res, err := s.node.Execute(r.Context(), chi.URLParam(r, "name"), req.Sender, req.Msg, req.Funds)
	if err != nil {
		s.writeTxError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var msg json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	out, err := s.node.Query(r.Context(), chi.URLParam(r, "name"), msg)
	if err != nil {
		s.writeTxError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
