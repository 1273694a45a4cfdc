package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"croncat/internal/store"
)

var (
	ErrContractNotFound = errors.New("contract not found")
	ErrCodeNotFound     = errors.New("code not found")
	ErrInvalidAddress   = errors.New("invalid address")
	ErrInsufficientFund = errors.New("insufficient funds")
	ErrUnsupportedMsg   = errors.New("unsupported message")
	ErrNoReplyHandler   = errors.New("contract does not handle replies")
)

// Contract is the code behind a deployed address. A single Contract value
// serves every instance of its code id; all state lives in Deps.Storage.
type Contract interface {
	Instantiate(ctx context.Context, deps Deps, env Env, info MessageInfo, msg json.RawMessage) (*Response, error)
	Execute(ctx context.Context, deps Deps, env Env, info MessageInfo, msg json.RawMessage) (*Response, error)
	Query(ctx context.Context, deps Deps, env Env, msg json.RawMessage) ([]byte, error)
}

// Replier is implemented by contracts that emit sub-messages with a reply.
type Replier interface {
	Reply(ctx context.Context, deps Deps, env Env, reply Reply) (*Response, error)
}

// Deps is the capability set handed to an entry point.
type Deps struct {
	Storage store.KV
	Querier Querier
	API     API
	Logger  *slog.Logger
}

// Querier reads other contracts and the bank from inside an entry point.
type Querier interface {
	QuerySmart(ctx context.Context, contract string, msg any) ([]byte, error)
	QueryRaw(ctx context.Context, contract string, key []byte) ([]byte, error)
	QueryBalance(ctx context.Context, addr, denom string) (Coin, error)
	QueryAllBalances(ctx context.Context, addr string) ([]Coin, error)
	QueryContractInfo(ctx context.Context, contract string) (ContractInstance, error)
}

// QueryJSON runs a smart query and decodes the result into out.
func QueryJSON(ctx context.Context, q Querier, contract string, msg, out any) error {
	raw, err := q.QuerySmart(ctx, contract, msg)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode query response from %s: %w", contract, err)
	}
	return nil
}

// API exposes host utilities.
type API interface {
	AddrValidate(addr string) (string, error)
}

var addrPattern = regexp.MustCompile(`^[a-z][a-z0-9]{2,89}$`)

type addrAPI struct{}

// AddrValidate accepts lowercase alphanumeric addresses of 3 to 90 characters.
func (addrAPI) AddrValidate(addr string) (string, error) {
	if !addrPattern.MatchString(addr) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return addr, nil
}

// DefaultAPI returns the address validator used by the host.
func DefaultAPI() API { return addrAPI{} }
