package retry

import (
	"context"
	"time"
)

// WaitResult reports how a Wait ended.
type WaitResult int

const (
	Elapsed WaitResult = iota
	Cancelled
)

func (r WaitResult) String() string {
	if r == Cancelled {
		return "cancelled"
	}
	return "elapsed"
}

// Wait blocks for up to d, returning early with Cancelled once ctx is done.
// A non-positive d still reports Cancelled for an already finished ctx.
func Wait(ctx context.Context, d time.Duration) WaitResult {
	if ctx.Err() != nil {
		return Cancelled
	}
	if d <= 0 {
		return Elapsed
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Cancelled
	case <-timer.C:
		return Elapsed
	}
}
