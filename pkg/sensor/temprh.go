package sensor

import (
	"fmt"
	"time"

	"github.com/envsense/aqnode/pkg/platform"
)

// TempRHDevice is the wire-level collaborator performing one combined
// temperature/humidity measurement. A call must complete quickly; the
// device needs no warm-up worth tracking.
type TempRHDevice interface {
	Measure() (tempC, rh float32, err error)
}

// TempRHAdapter drives the one-shot temperature/humidity sensor. It is
// the simple end of the adapter spectrum: power on, measure once per
// fetch window, done.
type TempRHAdapter struct {
	dev   TempRHDevice
	rail  platform.PowerRail
	clock platform.Clock

	state  State
	last   Reading
	faults *faultTracker
}

var _ Adapter = (*TempRHAdapter)(nil)

// NewTempRH creates the temperature/humidity adapter.
func NewTempRH(dev TempRHDevice, rail platform.PowerRail, clock platform.Clock) *TempRHAdapter {
	return &TempRHAdapter{
		dev:    dev,
		rail:   rail,
		clock:  clock,
		state:  Unpowered,
		faults: newFaultTracker(clock, 10*time.Second, 5*time.Minute),
	}
}

// ID returns TempRH.
func (a *TempRHAdapter) ID() ID { return TempRH }

// PowerOn powers the rail. The sensor settles in well under one tick, so
// it goes straight to Sampling.
func (a *TempRHAdapter) PowerOn() error {
	switch a.state {
	case Sampling, Ready:
		return nil
	}
	wasFaulted := a.state == Faulted
	if err := a.rail.Set(true); err != nil {
		a.recordFailure()
		return fmt.Errorf("temp_rh: power rail on: %w", err)
	}
	if wasFaulted {
		a.faults.success()
	}
	a.state = Sampling
	return nil
}

// PowerOff drops the rail.
func (a *TempRHAdapter) PowerOff() error {
	if a.state == Unpowered || a.state == Faulted {
		return nil
	}
	a.state = Unpowered
	if err := a.rail.Set(false); err != nil {
		return fmt.Errorf("temp_rh: power rail off: %w", err)
	}
	return nil
}

// Poll takes one measurement when sampling, or re-attempts power-on on
// the backoff schedule when faulted.
func (a *TempRHAdapter) Poll() {
	switch a.state {
	case Faulted:
		if a.faults.retryDue() {
			if err := a.tryRecover(); err != nil {
				a.faults.rearm()
			}
		}
	case Sampling:
		t, rh, err := a.dev.Measure()
		if err != nil {
			a.recordFailure()
			return
		}
		a.faults.success()
		a.last = Reading{
			Sensor: TempRH,
			Values: Values{TempC: t, RH: rh},
			Valid:  true,
			At:     a.clock.Now(),
		}
		a.state = Ready
	}
}

// State reports the adapter lifecycle state.
func (a *TempRHAdapter) State() State { return a.state }

// IsReady reports whether a fresh reading is available.
func (a *TempRHAdapter) IsReady() bool { return a.state == Ready }

// Fetch returns the most recent reading.
func (a *TempRHAdapter) Fetch() (Reading, error) {
	if a.state == Faulted {
		return Reading{}, ErrFaulted
	}
	if a.state != Ready {
		return Reading{}, ErrNoData
	}
	a.state = Sampling
	return a.last, nil
}

func (a *TempRHAdapter) tryRecover() error {
	if err := a.rail.Set(true); err != nil {
		return err
	}
	a.state = Sampling
	a.faults.success()
	return nil
}

func (a *TempRHAdapter) recordFailure() {
	if a.faults.fail() {
		_ = a.rail.Set(false)
		a.state = Faulted
	}
}
