package core

import (
	"fmt"

	"croncat/internal/chain"
)

// BoundaryRange is an optional [start, end] window in block heights or
// unix nanoseconds.
type BoundaryRange struct {
	Start *uint64 `json:"start,omitempty"`
	End   *uint64 `json:"end,omitempty"`
}

// Boundary is the user supplied window; at most one of Height and Time is set.
type Boundary struct {
	Height *BoundaryRange `json:"height,omitempty"`
	Time   *BoundaryRange `json:"time,omitempty"`
}

// BoundaryValidated is the normalized window stored with a task.
type BoundaryValidated struct {
	Start           uint64  `json:"start"`
	End             *uint64 `json:"end,omitempty"`
	IsBlockBoundary bool    `json:"is_block_boundary"`
}

// ValidateBoundary reconciles interval and boundary. A start in the past is
// moved up to the current block (or time); end must lie strictly after the
// effective start.
func ValidateBoundary(block chain.BlockInfo, boundary *Boundary, interval Interval) (BoundaryValidated, error) {
	if boundary != nil && boundary.Height != nil && boundary.Time != nil {
		return BoundaryValidated{}, fmt.Errorf("%w: both height and time set", ErrInvalidBoundary)
	}
	switch {
	case interval.Kind == IntervalCron && boundary != nil && boundary.Height != nil:
		return BoundaryValidated{}, fmt.Errorf("%w: cron interval with height boundary", ErrInvalidBoundary)
	case interval.Kind == IntervalBlock && boundary != nil && boundary.Time != nil:
		return BoundaryValidated{}, fmt.Errorf("%w: block interval with time boundary", ErrInvalidBoundary)
	case boundary != nil && boundary.Height != nil:
		return validateRange(*boundary.Height, block.Height, true)
	case boundary != nil && boundary.Time != nil:
		return validateRange(*boundary.Time, block.Time, false)
	case interval.Kind == IntervalCron:
		return BoundaryValidated{Start: block.Time}, nil
	default:
		return BoundaryValidated{Start: block.Height, IsBlockBoundary: true}, nil
	}
}

func validateRange(r BoundaryRange, now uint64, isBlock bool) (BoundaryValidated, error) {
	start := now
	if r.Start != nil && *r.Start > now {
		start = *r.Start
	}
	if r.End != nil && *r.End <= start {
		return BoundaryValidated{}, fmt.Errorf("%w: end %d not after start %d", ErrInvalidBoundary, *r.End, start)
	}
	return BoundaryValidated{Start: start, End: r.End, IsBlockBoundary: isBlock}, nil
}

// IsExpired reports whether the window has closed at the given block.
func (b BoundaryValidated) IsExpired(block chain.BlockInfo) bool {
	if b.End == nil {
		return false
	}
	if b.IsBlockBoundary {
		return block.Height > *b.End
	}
	return block.Time > *b.End
}

// IsStarted reports whether the window has opened at the given block.
func (b BoundaryValidated) IsStarted(block chain.BlockInfo) bool {
	if b.IsBlockBoundary {
		return block.Height >= b.Start
	}
	return block.Time >= b.Start
}
