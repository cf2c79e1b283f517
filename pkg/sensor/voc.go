package sensor

import (
	"fmt"
	"time"

	"github.com/envsense/aqnode/pkg/platform"
)

// VOCDevice is the wire-level collaborator for the VOC/eCO2 sensor.
// Init arms the device's internal baseline-learning process; Measure
// takes one reading.
type VOCDevice interface {
	Init() error
	Measure() (tvocPPB, eco2PPM uint16, err error)
}

// VOCAdapter drives the VOC/eCO2 sensor. Two quirks set it apart from
// the other adapters: the device learns its baseline over minutes of
// continuous operation, so a power-off request only clears the reading
// state and keeps the rail up; and it deliberately samples less often
// than the outer record cadence, contributing an absent slot in between.
type VOCAdapter struct {
	dev   VOCDevice
	rail  platform.PowerRail
	clock platform.Clock

	baseline    time.Duration // minimum learning time before readings count
	sampleEvery time.Duration

	state      State
	powered    bool
	warmStart  time.Time
	nextSample time.Time
	last       Reading
	faults     *faultTracker
}

var (
	_ Adapter   = (*VOCAdapter)(nil)
	_ SelfPaced = (*VOCAdapter)(nil)
)

// NewVOC creates the VOC adapter. baseline is the minimum continuous
// operation before readings are trusted; sampleEvery is the adapter's
// own sampling cadence.
func NewVOC(dev VOCDevice, rail platform.PowerRail, clock platform.Clock, baseline, sampleEvery time.Duration) *VOCAdapter {
	return &VOCAdapter{
		dev:         dev,
		rail:        rail,
		clock:       clock,
		baseline:    baseline,
		sampleEvery: sampleEvery,
		state:       Unpowered,
		faults:      newFaultTracker(clock, time.Minute, 15*time.Minute),
	}
}

// ID returns VOC.
func (a *VOCAdapter) ID() ID { return VOC }

// PowerOn powers the rail and arms baseline learning. Idempotent while
// the device is already up, which is the common case since PowerOff
// keeps it running.
func (a *VOCAdapter) PowerOn() error {
	if a.powered && a.state != Faulted {
		if a.state == Unpowered {
			// Rail stayed up across a power-off request; learning
			// continued, so resume where the baseline clock is.
			a.state = a.postWarmState()
		}
		return nil
	}
	if err := a.rail.Set(true); err != nil {
		a.recordFailure()
		return fmt.Errorf("voc: power rail on: %w", err)
	}
	if err := a.dev.Init(); err != nil {
		_ = a.rail.Set(false)
		a.recordFailure()
		return fmt.Errorf("voc: init: %w", err)
	}
	a.powered = true
	a.warmStart = a.clock.Now()
	a.nextSample = a.warmStart.Add(a.baseline)
	a.state = WarmingUp
	a.faults.success()
	return nil
}

// PowerOff clears the reading state but keeps the device running:
// cutting power would discard the learned baseline and restart the
// minutes-long learning process.
func (a *VOCAdapter) PowerOff() error {
	if a.state == Faulted {
		return nil
	}
	if a.powered {
		a.state = Unpowered
	}
	return nil
}

// Poll advances baseline learning and takes a reading when the
// adapter's own cadence says one is due.
func (a *VOCAdapter) Poll() {
	switch a.state {
	case Faulted:
		if a.faults.retryDue() {
			if err := a.tryRecover(); err != nil {
				a.faults.rearm()
			}
		}
	case WarmingUp:
		if a.clock.Now().Sub(a.warmStart) >= a.baseline {
			a.state = Sampling
		}
	case Sampling:
		now := a.clock.Now()
		if now.Before(a.nextSample) {
			return
		}
		tvoc, eco2, err := a.dev.Measure()
		if err != nil {
			a.recordFailure()
			return
		}
		a.faults.success()
		a.nextSample = now.Add(a.sampleEvery)
		a.last = Reading{
			Sensor: VOC,
			Values: Values{TVOCppb: tvoc, ECO2ppm: eco2},
			Valid:  true,
			At:     now,
		}
		a.state = Ready
	}
}

// State reports the adapter lifecycle state.
func (a *VOCAdapter) State() State { return a.state }

// IsReady reports whether a fresh reading is available. Between the
// adapter's own samples this is false by design.
func (a *VOCAdapter) IsReady() bool { return a.state == Ready }

// NextDue reports when the adapter's own cadence next produces a
// reading.
func (a *VOCAdapter) NextDue() time.Time { return a.nextSample }

// Fetch returns the most recent reading.
func (a *VOCAdapter) Fetch() (Reading, error) {
	if a.state == Faulted {
		return Reading{}, ErrFaulted
	}
	if a.state != Ready {
		return Reading{}, ErrNoData
	}
	a.state = Sampling
	return a.last, nil
}

func (a *VOCAdapter) postWarmState() State {
	if a.clock.Now().Sub(a.warmStart) >= a.baseline {
		return Sampling
	}
	return WarmingUp
}

func (a *VOCAdapter) tryRecover() error {
	if err := a.rail.Set(true); err != nil {
		return err
	}
	if err := a.dev.Init(); err != nil {
		_ = a.rail.Set(false)
		return err
	}
	a.powered = true
	a.warmStart = a.clock.Now()
	a.nextSample = a.warmStart.Add(a.baseline)
	a.state = WarmingUp
	a.faults.success()
	return nil
}

func (a *VOCAdapter) recordFailure() {
	if a.faults.fail() {
		_ = a.rail.Set(false)
		a.powered = false
		a.state = Faulted
	}
}
