// Package command exposes the operator command surface: small,
// synchronous mutations and queries against the measurement loop. A
// command never touches sensor or radio I/O, so it always returns
// immediately regardless of what the loop is doing.
package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/envsense/aqnode/pkg/loop"
	"github.com/envsense/aqnode/pkg/sensor"
)

// Orchestrator is the slice of the measurement loop the commands need.
type Orchestrator interface {
	RequestActive(on bool)
	Active() bool
	Stats() loop.Stats
	SetDebugMask(mask uint32)
	DebugMask() uint32
}

var _ Orchestrator = (*loop.Loop)(nil)

// Result is one command's outcome plus its operator-facing text.
type Result struct {
	OK   bool
	Text string
}

// Dispatcher parses command lines and applies them to the orchestrator.
type Dispatcher struct {
	loop Orchestrator
}

// NewDispatcher creates a dispatcher bound to the given orchestrator.
func NewDispatcher(o Orchestrator) *Dispatcher {
	return &Dispatcher{loop: o}
}

// Execute runs one command line. Unknown commands and bad arguments
// report failure without side effects.
func (d *Dispatcher) Execute(line string) Result {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Result{OK: false, Text: "empty command"}
	}

	switch fields[0] {
	case "run":
		d.loop.RequestActive(true)
		return Result{OK: true, Text: "measurement loop active"}
	case "stop":
		d.loop.RequestActive(false)
		return Result{OK: true, Text: "measurement loop idle (current cycle will finish)"}
	case "stats":
		return Result{OK: true, Text: formatStats(d.loop.Stats())}
	case "debugmask":
		if len(fields) != 2 {
			return Result{OK: false, Text: "usage: debugmask <hex>"}
		}
		arg := strings.TrimPrefix(strings.ToLower(fields[1]), "0x")
		mask, err := strconv.ParseUint(arg, 16, 32)
		if err != nil {
			return Result{OK: false, Text: fmt.Sprintf("bad mask %q: %v", fields[1], err)}
		}
		d.loop.SetDebugMask(uint32(mask))
		return Result{OK: true, Text: fmt.Sprintf("debug mask set to 0x%x", mask)}
	default:
		return Result{OK: false, Text: fmt.Sprintf("unknown command %q", fields[0])}
	}
}

func formatStats(s loop.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "active: %t  phase: %s  seq: %d\n", s.Active, s.Phase, s.LastSeq)
	fmt.Fprintf(&b, "cycles completed: %d  transmit failures: %d\n", s.CyclesCompleted, s.TransmitFailures)
	fmt.Fprintf(&b, "queue: %d/%d (evictions: %d)\n", s.QueueDepth, s.QueueCapacity, s.QueueEvictions)

	// Sensors print in payload slot order.
	for _, id := range sensor.IDs {
		name := id.String()
		state, ok := s.SensorStates[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "sensor %s: %s (faults: %d)\n", name, state, s.SensorFaults[name])
	}
	return strings.TrimRight(b.String(), "\n")
}
