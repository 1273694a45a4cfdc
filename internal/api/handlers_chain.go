package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"croncat/internal/chain"
	"croncat/internal/store"
)

type blockResponse struct {
	Height  uint64 `json:"height"`
	Time    uint64 `json:"time"`
	ChainID string `json:"chain_id"`
}

type advanceRequest struct {
	Count           uint64  `json:"count"`
	SecondsPerBlock float64 `json:"seconds_per_block"`
}

func newBlockResponse(b chain.BlockInfo) blockResponse {
	return blockResponse{Height: b.Height, Time: b.Time, ChainID: b.ChainID}
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newBlockResponse(s.node.Block()))
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.SecondsPerBlock < 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "seconds_per_block must be non-negative")
		return
	}
	perBlock := time.Duration(req.SecondsPerBlock * float64(time.Second))
	block, err := s.node.Advance(r.Context(), req.Count, perBlock)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newBlockResponse(block))
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	coins, err := s.node.Balances(r.Context(), chi.URLParam(r, "addr"))
	if err != nil {
		s.writeTxError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coins)
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	if s.blocks == nil {
		writeError(w, http.StatusNotFound, "not_found", "block history needs the sqlite store")
		return
	}
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	if limit < 1 || limit > 200 || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "limit must be 1-200 and offset non-negative")
		return
	}
	blocks, err := s.blocks.ListBlocks(r.Context(), limit, offset)
	if err != nil {
		s.writeTxError(w, err)
		return
	}
	if blocks == nil {
		blocks = []*store.BlockRecord{}
	}
	writeJSON(w, http.StatusOK, blocks)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}
