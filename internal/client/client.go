// Package client talks to a croncatd HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"croncat/internal/chain"
)

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Block is the daemon's view of the chain head.
type Block struct {
	Height  uint64 `json:"height"`
	Time    uint64 `json:"time"`
	ChainID string `json:"chain_id"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a client for baseURL. hc may be nil.
func New(baseURL, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: hc}
}

func (c *Client) Block(ctx context.Context) (*Block, error) {
	var out Block
	if err := c.do(ctx, http.MethodGet, "/v1/chain/block", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Advance(ctx context.Context, count uint64, secondsPerBlock float64) (*Block, error) {
	body := map[string]any{"count": count, "seconds_per_block": secondsPerBlock}
	var out Block
	if err := c.do(ctx, http.MethodPost, "/v1/chain/blocks", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Balances(ctx context.Context, addr string) ([]chain.Coin, error) {
	var out []chain.Coin
	if err := c.do(ctx, http.MethodGet, "/v1/chain/balances/"+addr, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Contracts returns the deployment addresses and the latest registry entries.
func (c *Client) Contracts(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/contracts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Execute(ctx context.Context, contract, sender string, msg json.RawMessage, funds []chain.Coin) (*chain.TxResult, error) {
	body := map[string]any{"sender": sender, "msg": msg, "funds": funds}
	var out chain.TxResult
	if err := c.do(ctx, http.MethodPost, "/v1/contracts/"+contract+"/execute", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Query(ctx context.Context, contract string, msg json.RawMessage) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/v1/contracts/"+contract+"/query", msg, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// QueryJSON runs Query and decodes the answer into out.
func (c *Client) QueryJSON(ctx context.Context, contract string, msg, out any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	res, err := c.Query(ctx, contract, raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(res, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var payload struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		apiErr := &APIError{Status: resp.StatusCode, Code: "http_error", Message: resp.Status}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error.Code != "" {
			apiErr.Code, apiErr.Message = payload.Error.Code, payload.Error.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
