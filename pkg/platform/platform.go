// Package platform holds the small hardware-facing capabilities the
// measurement core consumes: a time source and sensor power rails.
// Real wiring lives in the node binary; tests inject simulated ones.
package platform

import (
	"fmt"
	"sync"
	"time"
)

// Clock supplies the current time to every timer-driven component.
// All warm-up, timeout and retry bookkeeping goes through a Clock so
// tests can drive the core deterministically.
type Clock interface {
	Now() time.Time
}

// Wall is the production clock.
type Wall struct{}

// Now returns the current wall time.
func (Wall) Now() time.Time { return time.Now() }

// Simulated is a manually advanced clock for tests.
type Simulated struct {
	mu  sync.Mutex
	now time.Time
}

// NewSimulated creates a simulated clock starting at the given instant.
func NewSimulated(start time.Time) *Simulated {
	return &Simulated{now: start}
}

// Now returns the simulated current time.
func (c *Simulated) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the simulated clock forward by d.
func (c *Simulated) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// PowerRail switches the supply rail of one sensor. Implementations must
// not block; actual settle time is tracked by the adapter, not the rail.
type PowerRail interface {
	Set(on bool) error
}

// RailFunc adapts a function to the PowerRail interface.
type RailFunc func(on bool) error

// Set calls f.
func (f RailFunc) Set(on bool) error { return f(on) }

// NopRail is a rail for sensors that are permanently powered or whose
// GPIO control is handled outside this process.
type NopRail struct{}

// Set does nothing and always succeeds.
func (NopRail) Set(bool) error { return nil }

// Console is the sink for operator-facing status lines, kept separate
// from the log stream.
type Console interface {
	Println(line string)
}

// Stdout writes status lines to standard output.
type Stdout struct{}

// Println writes one line.
func (Stdout) Println(line string) { fmt.Println(line) }

// ConsoleFunc adapts a function to the Console interface.
type ConsoleFunc func(line string)

// Println calls f.
func (f ConsoleFunc) Println(line string) { f(line) }

var (
	_ Clock     = Wall{}
	_ Clock     = (*Simulated)(nil)
	_ PowerRail = RailFunc(nil)
	_ PowerRail = NopRail{}
	_ Console   = Stdout{}
	_ Console   = ConsoleFunc(nil)
)
