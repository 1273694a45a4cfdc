package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"croncat/internal/chain"
)

func TestValidateBoundary(t *testing.T) {
	block := chain.BlockInfo{Height: 1000, Time: 5_000_000}

	tests := []struct {
		name     string
		interval Interval
		boundary *Boundary
		want     BoundaryValidated
		err      error
	}{
		{
			name:     "default block boundary",
			interval: OnceInterval(),
			want:     BoundaryValidated{Start: 1000, IsBlockBoundary: true},
		},
		{
			name:     "cron defaults to time",
			interval: CronInterval("* * * * *"),
			want:     BoundaryValidated{Start: 5_000_000},
		},
		{
			name:     "height window",
			interval: BlockInterval(3),
			boundary: &Boundary{Height: &BoundaryRange{Start: u64(1100), End: u64(1200)}},
			want:     BoundaryValidated{Start: 1100, End: u64(1200), IsBlockBoundary: true},
		},
		{
			name:     "past start moves up to now",
			interval: OnceInterval(),
			boundary: &Boundary{Height: &BoundaryRange{Start: u64(10), End: u64(1010)}},
			want:     BoundaryValidated{Start: 1000, End: u64(1010), IsBlockBoundary: true},
		},
		{
			name:     "time window for once",
			interval: OnceInterval(),
			boundary: &Boundary{Time: &BoundaryRange{End: u64(9_000_000)}},
			want:     BoundaryValidated{Start: 5_000_000, End: u64(9_000_000)},
		},
		{
			name:     "cron with height boundary",
			interval: CronInterval("* * * * *"),
			boundary: &Boundary{Height: &BoundaryRange{}},
			err:      ErrInvalidBoundary,
		},
		{
			name:     "block with time boundary",
			interval: BlockInterval(1),
			boundary: &Boundary{Time: &BoundaryRange{}},
			err:      ErrInvalidBoundary,
		},
		{
			name:     "end equal to start",
			interval: OnceInterval(),
			boundary: &Boundary{Height: &BoundaryRange{Start: u64(1500), End: u64(1500)}},
			err:      ErrInvalidBoundary,
		},
		{
			name:     "end before now",
			interval: OnceInterval(),
			boundary: &Boundary{Height: &BoundaryRange{End: u64(999)}},
			err:      ErrInvalidBoundary,
		},
		{
			name:     "both kinds",
			interval: OnceInterval(),
			boundary: &Boundary{Height: &BoundaryRange{}, Time: &BoundaryRange{}},
			err:      ErrInvalidBoundary,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateBoundary(block, tt.boundary, tt.interval)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestBoundaryWindow(t *testing.T) {
	b := BoundaryValidated{Start: 10, End: u64(20), IsBlockBoundary: true}
	require.False(t, b.IsStarted(chain.BlockInfo{Height: 9}))
	require.True(t, b.IsStarted(chain.BlockInfo{Height: 10}))
	require.False(t, b.IsExpired(chain.BlockInfo{Height: 20}))
	require.True(t, b.IsExpired(chain.BlockInfo{Height: 21}))
}
