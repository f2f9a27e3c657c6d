package hardware

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Driver abstracts the physical coin hopper. Dispense pays out count coins or
// returns an error describing what the mechanism reported; it must respect
// ctx so a wedged hopper doesn't hang the agent forever.
type Driver interface {
	Dispense(ctx context.Context, count int) error
}

// SimulatedHopper is a Driver for development and tests. It spends a fixed
// delay per coin and can be loaded with a finite coin supply.
type SimulatedHopper struct {
	// DelayPerCoin defaults to zero, meaning instant payouts.
	DelayPerCoin time.Duration
	// Capacity < 0 means unlimited.
	Capacity int

	mu        sync.Mutex
	dispensed int
}

func NewSimulatedHopper() *SimulatedHopper {
	return &SimulatedHopper{Capacity: -1}
}

func (h *SimulatedHopper) Dispense(ctx context.Context, count int) error {
	if count <= 0 {
		return fmt.Errorf("coin count must be greater than zero")
	}

	h.mu.Lock()
	if h.Capacity >= 0 && h.dispensed+count > h.Capacity {
		remaining := h.Capacity - h.dispensed
		h.mu.Unlock()
		return fmt.Errorf("hopper empty: %d coins requested, %d remaining", count, remaining)
	}
	h.dispensed += count
	h.mu.Unlock()

	if h.DelayPerCoin > 0 {
		select {
		case <-time.After(time.Duration(count) * h.DelayPerCoin):
		case <-ctx.Done():
			return fmt.Errorf("dispense interrupted: %w", ctx.Err())
		}
	}

	return nil
}

// Dispensed returns the total number of coins paid out so far.
func (h *SimulatedHopper) Dispensed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dispensed
}

var _ Driver = (*SimulatedHopper)(nil)
