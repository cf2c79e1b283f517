// Package sensor defines the uniform adapter contract the measurement
// loop drives, plus one adapter per attached sensor. Each adapter hides
// its own warm-up and cadence profile behind the same non-blocking API.
package sensor

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/envsense/aqnode/pkg/platform"
)

// ID identifies one of the tracked sensors.
type ID uint8

const (
	// Particulate is the laser particulate-matter sensor (PM1.0/2.5/10).
	Particulate ID = iota
	// TempRH is the one-shot temperature/relative-humidity sensor.
	TempRH
	// VOC is the volatile-organic-compound / eCO2 sensor.
	VOC
)

// IDs lists every tracked sensor in payload slot order.
var IDs = []ID{Particulate, TempRH, VOC}

// String returns the sensor's short name.
func (id ID) String() string {
	switch id {
	case Particulate:
		return "particulate"
	case TempRH:
		return "temp_rh"
	case VOC:
		return "voc"
	default:
		return "unknown"
	}
}

// State is the per-sensor lifecycle state.
type State int

const (
	// Unpowered means the supply rail is off.
	Unpowered State = iota
	// WarmingUp means powered but still inside the minimum settle time.
	WarmingUp
	// Sampling means warm and measuring, no fresh reading yet.
	Sampling
	// Ready means a fresh reading is available since the last fetch.
	Ready
	// Faulted means the retry budget was exhausted; the adapter retries
	// power-on on its own backoff schedule.
	Faulted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Unpowered:
		return "unpowered"
	case WarmingUp:
		return "warming_up"
	case Sampling:
		return "sampling"
	case Ready:
		return "ready"
	case Faulted:
		return "faulted"
	default:
		return "invalid"
	}
}

// Values carries the measured quantities. Each sensor fills only its own
// fields; the rest stay zero.
type Values struct {
	PM1p0   uint16  // µg/m³
	PM2p5   uint16  // µg/m³
	PM10    uint16  // µg/m³
	TempC   float32 // °C
	RH      float32 // %RH
	TVOCppb uint16
	ECO2ppm uint16
}

// Reading is one completed measurement from one sensor. It is owned by
// the adapter until fetched and overwritten by the next measurement.
type Reading struct {
	Sensor ID
	Values Values
	Valid  bool
	At     time.Time
}

// ErrNoData is returned by Fetch when no fresh reading is available.
var ErrNoData = errors.New("sensor: no fresh reading available")

// ErrFaulted is returned by Fetch while the adapter is in Faulted state.
var ErrFaulted = errors.New("sensor: adapter is faulted")

// Adapter is the capability surface the measurement loop drives. No
// method may block: hardware settle time and device latency are tracked
// with internal timers advanced by Poll.
type Adapter interface {
	// ID identifies the sensor this adapter wraps.
	ID() ID
	// PowerOn requests power-up; idempotent while already powered.
	PowerOn() error
	// PowerOff requests power-down. Adapters whose device would lose
	// slow-learned calibration may keep the rail up and only clear
	// their reading state.
	PowerOff() error
	// Poll advances internal timers and performs at most one bounded,
	// non-blocking I/O step. Must be called every scheduler tick.
	Poll()
	// State reports the current lifecycle state.
	State() State
	// IsReady reports whether a fresh Reading is available since the
	// last Fetch.
	IsReady() bool
	// Fetch returns the most recent Reading. Fails with ErrNoData when
	// IsReady is false and ErrFaulted while faulted.
	Fetch() (Reading, error)
}

// SelfPaced is implemented by adapters that sample on their own cadence,
// slower than the outer record cadence. NextDue is when a fresh reading
// can next be expected; until then the sensor contributes an absent slot
// and the loop need not wait on it.
type SelfPaced interface {
	NextDue() time.Time
}

// consecutive fetch/communication failures before an adapter faults.
const faultThreshold = 3

// faultTracker counts consecutive failures and schedules power-on
// retries on an exponential backoff once the adapter has faulted.
type faultTracker struct {
	clock    platform.Clock
	failures int
	bo       *backoff.ExponentialBackOff
	retryAt  time.Time
}

func newFaultTracker(clock platform.Clock, initial, max time.Duration) *faultTracker {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = max
	bo.MaxElapsedTime = 0 // retry forever
	bo.Reset()
	return &faultTracker{clock: clock, bo: bo}
}

// fail records one failure and reports whether the fault threshold was
// crossed. When it was, the next retry time is scheduled.
func (t *faultTracker) fail() bool {
	t.failures++
	if t.failures < faultThreshold {
		return false
	}
	t.retryAt = t.clock.Now().Add(t.bo.NextBackOff())
	return true
}

// success clears the failure count and resets the backoff schedule.
func (t *faultTracker) success() {
	t.failures = 0
	t.bo.Reset()
}

// retryDue reports whether a faulted adapter should re-attempt power-on.
func (t *faultTracker) retryDue() bool {
	return !t.clock.Now().Before(t.retryAt)
}

// rearm schedules the following retry after a failed recovery attempt.
func (t *faultTracker) rearm() {
	t.retryAt = t.clock.Now().Add(t.bo.NextBackOff())
}
