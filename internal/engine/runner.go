// Runner paces the cycle loop in wall-clock time.
package engine

import (
	"log/slog"
	"time"
)

// Runner drives the simulation forward, one cycle per interval.
type Runner struct {
	Cycle    uint64        // Cycles dispatched so far (monotonic)
	Limit    uint64        // Stop after this many cycles; 0 runs until stopped
	Speed    float64       // Multiplier: 1.0 = real-time, 0 = paused
	Interval time.Duration // Base cycle interval
	Running  bool

	// OnCycle performs one full cycle: gather plans, apply actions, settle.
	OnCycle func(n uint64)
}

// NewRunner creates a runner with default pacing.
func NewRunner() *Runner {
	return &Runner{
		Speed:    1.0,
		Interval: 2 * time.Second,
	}
}

// Run starts the cycle loop. Blocks until Stop() is called or the cycle
// limit is reached.
func (r *Runner) Run() {
	r.Running = true
	slog.Info("runner started", "cycle", r.Cycle, "interval", r.Interval, "limit", r.Limit)

	for r.Running {
		if r.Speed <= 0 {
			// Paused. Sleep briefly and check again.
			time.Sleep(100 * time.Millisecond)
			continue
		}

		start := time.Now()

		r.Step()
		if r.Limit > 0 && r.Cycle >= r.Limit {
			r.Running = false
			break
		}

		// Sleep for the remainder of the interval, adjusted for speed.
		elapsed := time.Since(start)
		target := time.Duration(float64(r.Interval) / r.Speed)
		if elapsed < target {
			time.Sleep(target - elapsed)
		}
	}

	slog.Info("runner stopped", "cycle", r.Cycle)
}

// Stop halts the loop after the current cycle finishes.
func (r *Runner) Stop() {
	r.Running = false
}

// Pause suspends cycling without losing position.
func (r *Runner) Pause() {
	r.Speed = 0
}

// Resume continues cycling at normal speed.
func (r *Runner) Resume() {
	if r.Speed <= 0 {
		r.Speed = 1.0
	}
}

// Step dispatches exactly one cycle. The admin step endpoint uses this
// while paused.
func (r *Runner) Step() {
	r.Cycle++
	if r.OnCycle != nil {
		r.OnCycle(r.Cycle)
	}
}
