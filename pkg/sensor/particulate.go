package sensor

import (
	"fmt"
	"time"

	"github.com/envsense/aqnode/pkg/platform"
)

// PMFrame is one decoded particulate measurement frame.
type PMFrame struct {
	PM1p0 uint16 // µg/m³
	PM2p5 uint16 // µg/m³
	PM10  uint16 // µg/m³
}

// FrameSource is the wire-level collaborator streaming particulate
// frames. The adapter never blocks on it: frames are consumed from the
// channel with non-blocking receives during Poll.
type FrameSource interface {
	Open() error
	Close() error
	// Frames returns the stream for the current session. A closed
	// channel signals loss of communication.
	Frames() <-chan PMFrame
}

// maximum frames consumed per Poll so one tick stays bounded.
const pmDrainBudget = 16

// ParticulateAdapter drives the laser particulate sensor. The device
// needs a multi-second fan/laser warm-up after power-on and then streams
// frames continuously; readings taken during warm-up are discarded and
// frames after it are averaged until fetched.
type ParticulateAdapter struct {
	src   FrameSource
	rail  platform.PowerRail
	clock platform.Clock

	warmup    time.Duration
	minFrames int

	state     State
	frames    <-chan PMFrame
	warmStart time.Time

	sum  [3]uint32
	n    int
	last Reading

	faults *faultTracker
}

var _ Adapter = (*ParticulateAdapter)(nil)

// NewParticulate creates the particulate adapter. minFrames is how many
// streamed frames must be averaged before a reading counts as fresh.
func NewParticulate(src FrameSource, rail platform.PowerRail, clock platform.Clock, warmup time.Duration, minFrames int) *ParticulateAdapter {
	if minFrames < 1 {
		minFrames = 1
	}
	return &ParticulateAdapter{
		src:       src,
		rail:      rail,
		clock:     clock,
		warmup:    warmup,
		minFrames: minFrames,
		state:     Unpowered,
		faults:    newFaultTracker(clock, 30*time.Second, 10*time.Minute),
	}
}

// ID returns Particulate.
func (a *ParticulateAdapter) ID() ID { return Particulate }

// PowerOn powers the rail and opens the frame stream. Idempotent while
// already powered. From Faulted it acts as a recovery attempt.
func (a *ParticulateAdapter) PowerOn() error {
	switch a.state {
	case WarmingUp, Sampling, Ready:
		return nil
	}
	if err := a.rail.Set(true); err != nil {
		a.recordFailure()
		return fmt.Errorf("particulate: power rail on: %w", err)
	}
	if err := a.src.Open(); err != nil {
		_ = a.rail.Set(false)
		a.recordFailure()
		return fmt.Errorf("particulate: open frame source: %w", err)
	}
	a.frames = a.src.Frames()
	a.warmStart = a.clock.Now()
	a.resetAccumulator()
	a.state = WarmingUp
	return nil
}

// PowerOff drops the rail and closes the stream. A faulted adapter stays
// faulted so its backoff schedule keeps governing recovery.
func (a *ParticulateAdapter) PowerOff() error {
	if a.state == Unpowered || a.state == Faulted {
		return nil
	}
	_ = a.src.Close()
	a.frames = nil
	a.resetAccumulator()
	a.state = Unpowered
	if err := a.rail.Set(false); err != nil {
		return fmt.Errorf("particulate: power rail off: %w", err)
	}
	return nil
}

// Poll advances the warm-up timer and drains buffered frames.
func (a *ParticulateAdapter) Poll() {
	switch a.state {
	case Unpowered:
	case Faulted:
		if a.faults.retryDue() {
			if err := a.tryRecover(); err != nil {
				a.faults.rearm()
			}
		}
	case WarmingUp:
		// Fan is still spinning up; the stream already runs but those
		// frames are not trustworthy.
		a.drainFrames(true)
		if a.clock.Now().Sub(a.warmStart) >= a.warmup {
			a.resetAccumulator()
			a.state = Sampling
		}
	case Sampling, Ready:
		a.drainFrames(false)
		if a.n >= a.minFrames && a.state == Sampling {
			a.state = Ready
		}
	}
}

// State reports the adapter lifecycle state.
func (a *ParticulateAdapter) State() State { return a.state }

// IsReady reports whether an averaged reading is available.
func (a *ParticulateAdapter) IsReady() bool { return a.state == Ready }

// Fetch returns the average of all frames seen since the last fetch and
// starts a new averaging window.
func (a *ParticulateAdapter) Fetch() (Reading, error) {
	if a.state == Faulted {
		return Reading{}, ErrFaulted
	}
	if a.state != Ready || a.n == 0 {
		return Reading{}, ErrNoData
	}
	n := uint32(a.n)
	a.last = Reading{
		Sensor: Particulate,
		Values: Values{
			PM1p0: uint16(a.sum[0] / n),
			PM2p5: uint16(a.sum[1] / n),
			PM10:  uint16(a.sum[2] / n),
		},
		Valid: true,
		At:    a.clock.Now(),
	}
	a.resetAccumulator()
	a.state = Sampling
	a.faults.success()
	return a.last, nil
}

func (a *ParticulateAdapter) drainFrames(discard bool) {
	if a.frames == nil {
		return
	}
	for i := 0; i < pmDrainBudget; i++ {
		select {
		case f, ok := <-a.frames:
			if !ok {
				// Stream died mid-session: communication failure.
				a.frames = nil
				a.recordFailure()
				return
			}
			if discard {
				continue
			}
			a.sum[0] += uint32(f.PM1p0)
			a.sum[1] += uint32(f.PM2p5)
			a.sum[2] += uint32(f.PM10)
			a.n++
		default:
			return
		}
	}
}

func (a *ParticulateAdapter) tryRecover() error {
	if err := a.rail.Set(true); err != nil {
		return err
	}
	if err := a.src.Open(); err != nil {
		_ = a.rail.Set(false)
		return err
	}
	a.frames = a.src.Frames()
	a.warmStart = a.clock.Now()
	a.resetAccumulator()
	a.state = WarmingUp
	a.faults.success()
	return nil
}

func (a *ParticulateAdapter) recordFailure() {
	if a.faults.fail() {
		_ = a.src.Close()
		_ = a.rail.Set(false)
		a.frames = nil
		a.resetAccumulator()
		a.state = Faulted
	}
}

func (a *ParticulateAdapter) resetAccumulator() {
	a.sum = [3]uint32{}
	a.n = 0
}
