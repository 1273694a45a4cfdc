package core

import "errors"

// Input validation.
var (
	ErrInvalidBoundary = errors.New("invalid boundary")
	ErrInvalidInterval = errors.New("invalid interval")
	ErrInvalidAction   = errors.New("invalid action")
	ErrNoGasLimit      = errors.New("wasm execute action requires a gas limit")
	ErrInvalidGas      = errors.New("invalid gas: exceeds task gas limit")
	ErrMustAttach      = errors.New("must attach funds")
	ErrNotEnoughNative = errors.New("not enough native balance for task")
	ErrNotEnoughCw20   = errors.New("not enough cw20 balance for task")
	ErrInvalidDenom    = errors.New("invalid denom")
	ErrInvalidQuery    = errors.New("invalid query")
	ErrInvalidVersion  = errors.New("invalid version")
)

// State preconditions. These usually mean a race was lost; retry next block.
var (
	ErrNoTaskFound        = errors.New("no task found")
	ErrNoTaskForAgent     = errors.New("no tasks available for agent")
	ErrTaskExists         = errors.New("task already exists")
	ErrTaskNotReady       = errors.New("task not ready")
	ErrAgentNotRegistered = errors.New("agent not registered")
	ErrAgentNotActive     = errors.New("agent not active")
	ErrAgentExists        = errors.New("agent already registered")
	ErrAgentStillActive   = errors.New("agent still in active set")
	ErrEmptyBalance       = errors.New("empty balance")
	ErrUnknownReplyID     = errors.New("unknown reply id")
	ErrPaused             = errors.New("contract paused")
	ErrContractNotFound   = errors.New("contract not registered in factory")
)

// Authorization.
var (
	ErrUnauthorized = errors.New("unauthorized")
)

// Arithmetic.
var (
	ErrOverflow = errors.New("overflow")
)
