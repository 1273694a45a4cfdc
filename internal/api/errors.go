package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/msgs"
	"croncat/internal/node"
	"croncat/internal/store"
)

var errorStatuses = []struct {
	err    error
	status int
	code   string
}{
	{core.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{core.ErrPaused, http.StatusConflict, "paused"},
	{node.ErrUnknownContract, http.StatusNotFound, "unknown_contract"},
	{node.ErrTaskNotFound, http.StatusNotFound, "not_found"},
	{chain.ErrContractNotFound, http.StatusNotFound, "unknown_contract"},
	{core.ErrContractNotFound, http.StatusNotFound, "unknown_contract"},
	{core.ErrNoTaskFound, http.StatusNotFound, "no_task"},
	{core.ErrAgentNotRegistered, http.StatusNotFound, "agent_not_registered"},
	{store.ErrNotFound, http.StatusNotFound, "not_found"},
	{msgs.ErrUnknownVariant, http.StatusBadRequest, "invalid_msg"},
	{chain.ErrInvalidAddress, http.StatusBadRequest, "invalid_address"},
}

// statusFor maps a failed transaction or query to an HTTP status. Anything
// unrecognized is a contract rejecting the call.
func statusFor(err error) (int, string) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusUnprocessableEntity, "tx_failed"
}

func (s *Server) writeTxError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	s.logger.Debug("request failed", "status", status, "err", err)
	writeError(w, status, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
