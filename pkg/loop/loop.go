// Package loop implements the measurement orchestrator: a cooperatively
// scheduled state machine that powers sensors, merges whatever readings
// arrive in time into one record per cycle, transmits it, and falls back
// to the pending queue when the uplink is busy or down. Poll is the
// single per-tick entry point; no call in this package blocks.
package loop

import (
	"log"
	"sync"
	"time"

	"github.com/envsense/aqnode/pkg/payload"
	"github.com/envsense/aqnode/pkg/platform"
	"github.com/envsense/aqnode/pkg/queue"
	"github.com/envsense/aqnode/pkg/sensor"
	"github.com/envsense/aqnode/pkg/uplink"
)

// Phase is the loop's own state-machine state. Only one phase's work
// unit runs per tick, keeping every tick bounded.
type Phase int

const (
	// PhaseIdle waits for the next cycle start and drains the queue.
	PhaseIdle Phase = iota
	// PhasePowering waits for enabled sensors to finish warm-up.
	PhasePowering
	// PhaseSampling fetches readings as adapters report ready.
	PhaseSampling
	// PhaseAssembling serializes the cycle's record.
	PhaseAssembling
	// PhaseTransmitting waits for the in-flight send to resolve.
	PhaseTransmitting
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePowering:
		return "powering"
	case PhaseSampling:
		return "sampling"
	case PhaseAssembling:
		return "assembling"
	case PhaseTransmitting:
		return "transmitting"
	default:
		return "invalid"
	}
}

// Debug mask bits gating the loop's log output.
const (
	DebugPower  uint32 = 1 << 0
	DebugSample uint32 = 1 << 1
	DebugUplink uint32 = 1 << 2
	DebugQueue  uint32 = 1 << 3
)

// Settings are the loop's run-time tunables. Mutations latch at the next
// cycle boundary so one cycle always sees a consistent configuration.
type Settings struct {
	// Interval is the target cadence between cycle starts.
	Interval time.Duration
	// MaxPowerWait bounds the powering phase; sensors still warming
	// when it expires are recorded absent for the cycle.
	MaxPowerWait time.Duration
	// SampleTimeout bounds the sampling phase.
	SampleTimeout time.Duration
	// PowerSave powers sensors down between cycles.
	PowerSave bool

	EnableParticulate bool
	EnableTempRH      bool
	EnableVOC         bool
}

func (s Settings) enabled(id sensor.ID) bool {
	switch id {
	case sensor.Particulate:
		return s.EnableParticulate
	case sensor.TempRH:
		return s.EnableTempRH
	case sensor.VOC:
		return s.EnableVOC
	default:
		return false
	}
}

// Stats is a read-only snapshot of the loop's counters.
type Stats struct {
	Active           bool
	Phase            string
	LastSeq          uint32
	CyclesCompleted  uint32
	TransmitFailures uint32
	QueueDepth       int
	QueueCapacity    int
	QueueEvictions   uint32
	SensorFaults     map[string]uint32
	SensorStates     map[string]string
}

// Loop is the measurement orchestrator. It exclusively owns its adapters
// and queue; everything external goes through the public operations,
// which are safe to call from the command goroutine.
type Loop struct {
	mu sync.Mutex

	clock    platform.Clock
	adapters []sensor.Adapter
	gw       uplink.Gateway
	q        *queue.Pending
	rec      Recorder

	settings Settings // command-mutable, latched at cycle boundary
	active   Settings // the running cycle's view
	run      bool
	begun    bool

	phase          Phase
	cycleStart     time.Time
	nextCycleAt    time.Time
	powerDeadline  time.Time
	sampleDeadline time.Time

	readings map[sensor.ID]sensor.Reading
	fetched  map[sensor.ID]bool
	outbound []byte
	seq      uint32

	inflight   *uplink.Pending // the cycle's own send
	draining   *uplink.Pending // queue re-send in flight
	drainEntry queue.Entry     // the entry the re-send carries

	debugMask        uint32
	cyclesCompleted  uint32
	transmitFailures uint32
	faultCounts      map[sensor.ID]uint32
	prevStates       map[sensor.ID]sensor.State
}

// New creates the loop. rec may be nil to disable metrics.
func New(adapters []sensor.Adapter, gw uplink.Gateway, q *queue.Pending, clock platform.Clock, s Settings, rec Recorder) *Loop {
	if rec == nil {
		rec = NoopRecorder{}
	}
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	if s.MaxPowerWait <= 0 {
		s.MaxPowerWait = 35 * time.Second
	}
	if s.SampleTimeout <= 0 {
		s.SampleTimeout = 10 * time.Second
	}
	return &Loop{
		clock:       clock,
		adapters:    adapters,
		gw:          gw,
		q:           q,
		rec:         rec,
		settings:    s,
		phase:       PhaseIdle,
		faultCounts: make(map[sensor.ID]uint32),
		prevStates:  make(map[sensor.ID]sensor.State),
	}
}

// Begin readies the loop for polling. Idempotent.
func (l *Loop) Begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.begun {
		return nil
	}
	l.begun = true
	l.nextCycleAt = l.clock.Now()
	log.Printf("loop: begin, interval=%s sensors[pm=%t temp_rh=%t voc=%t]",
		l.settings.Interval, l.settings.EnableParticulate, l.settings.EnableTempRH, l.settings.EnableVOC)
	return nil
}

// RequestActive sets the run state. Deactivation is a request, not an
// interrupt: the in-flight cycle finishes its transmission and only new
// cycle starts are suppressed.
func (l *Loop) RequestActive(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run = on
}

// Active reports the requested run state.
func (l *Loop) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.run
}

// SetParticulate enables or disables the particulate sensor's slot from
// the next cycle on.
func (l *Loop) SetParticulate(present bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settings.EnableParticulate = present
}

// SetTempRH enables or disables the temperature/humidity slot from the
// next cycle on.
func (l *Loop) SetTempRH(present bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settings.EnableTempRH = present
}

// SetVOC enables or disables the VOC slot from the next cycle on.
func (l *Loop) SetVOC(present bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settings.EnableVOC = present
}

// SetInterval changes the cycle cadence from the next cycle on.
func (l *Loop) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settings.Interval = d
}

// SetDebugMask sets the log verbosity bits. No functional effect.
func (l *Loop) SetDebugMask(mask uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugMask = mask
}

// DebugMask returns the current verbosity bits.
func (l *Loop) DebugMask() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debugMask
}

// Phase returns the current state-machine phase.
func (l *Loop) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Stats returns a snapshot of the loop's counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	faults := make(map[string]uint32, len(l.faultCounts))
	for id, n := range l.faultCounts {
		faults[id.String()] = n
	}
	states := make(map[string]string, len(l.adapters))
	for _, a := range l.adapters {
		states[a.ID().String()] = a.State().String()
	}
	return Stats{
		Active:           l.run,
		Phase:            l.phase.String(),
		LastSeq:          l.seq,
		CyclesCompleted:  l.cyclesCompleted,
		TransmitFailures: l.transmitFailures,
		QueueDepth:       l.q.Size(),
		QueueCapacity:    l.q.Capacity(),
		QueueEvictions:   l.q.Evictions(),
		SensorFaults:     faults,
		SensorStates:     states,
	}
}

// Poll advances the loop by one tick: adapters first, then exactly one
// phase's work unit.
func (l *Loop) Poll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for _, a := range l.adapters {
		a.Poll()
	}
	l.trackFaults()

	switch l.phase {
	case PhaseIdle:
		l.tickIdle(now)
	case PhasePowering:
		l.tickPowering(now)
	case PhaseSampling:
		l.tickSampling(now)
	case PhaseAssembling:
		l.tickAssembling()
	case PhaseTransmitting:
		l.tickTransmitting()
	}

	l.rec.QueueDepth(l.q.Size())
}

func (l *Loop) tickIdle(now time.Time) {
	if !l.run || !l.begun {
		return
	}
	if !now.Before(l.nextCycleAt) {
		l.startCycle(now)
		return
	}
	l.drainOne()
}

func (l *Loop) startCycle(now time.Time) {
	// Latch the configuration this cycle will run with.
	l.active = l.settings
	l.cycleStart = now
	l.nextCycleAt = now.Add(l.active.Interval)
	l.readings = make(map[sensor.ID]sensor.Reading)
	l.fetched = make(map[sensor.ID]bool)

	for _, a := range l.adapters {
		if !l.active.enabled(a.ID()) || a.State() == sensor.Faulted {
			continue
		}
		if err := a.PowerOn(); err != nil {
			log.Printf("loop: power on %s: %v", a.ID(), err)
		}
	}
	l.powerDeadline = now.Add(l.active.MaxPowerWait)
	l.phase = PhasePowering
	l.debugf(DebugPower, "cycle start, powering sensors")
}

func (l *Loop) tickPowering(now time.Time) {
	allWarm := true
	for _, a := range l.adapters {
		if !l.active.enabled(a.ID()) || a.State() == sensor.Faulted {
			continue
		}
		switch a.State() {
		case sensor.Unpowered, sensor.WarmingUp:
			allWarm = false
		}
	}
	if allWarm || now.After(l.powerDeadline) {
		l.sampleDeadline = now.Add(l.active.SampleTimeout)
		l.phase = PhaseSampling
		l.debugf(DebugPower, "sensors warm (or deadline), sampling")
	}
}

func (l *Loop) tickSampling(now time.Time) {
	done := true
	for _, a := range l.adapters {
		id := a.ID()
		if !l.active.enabled(id) || l.fetched[id] {
			continue
		}
		switch a.State() {
		case sensor.Faulted, sensor.Unpowered, sensor.WarmingUp:
			// Absent this cycle; the powering deadline already passed
			// them over.
			continue
		}
		if a.IsReady() {
			r, err := a.Fetch()
			if err == nil {
				l.readings[id] = r
				l.fetched[id] = true
				l.debugf(DebugSample, "fetched %s", id)
				continue
			}
			l.debugf(DebugSample, "fetch %s: %v", id, err)
		}
		if p, ok := a.(sensor.SelfPaced); ok && now.Before(p.NextDue()) {
			// Nothing due from this sensor until its own cadence comes
			// around; absent this cycle rather than waiting out the
			// sample timeout.
			continue
		}
		done = false
	}
	if done || now.After(l.sampleDeadline) {
		l.phase = PhaseAssembling
	}
}

func (l *Loop) tickAssembling() {
	l.seq++
	rec := payload.Record{Seq: l.seq, At: l.cycleStart, Readings: l.readings}
	b, err := payload.Build(rec, l.gw.MaxPayloadSize())
	if err != nil {
		// Oversize: abandon the cycle rather than send a truncated record.
		log.Printf("loop: assemble seq=%d: %v", l.seq, err)
		l.transmitFailures++
		l.rec.TransmitFailure()
		l.endCycle()
		return
	}
	l.outbound = b
	l.phase = PhaseTransmitting
	l.debugf(DebugSample, "assembled seq=%d, %d/%d slots present", l.seq, len(l.readings), len(l.adapters))
}

func (l *Loop) tickTransmitting() {
	if l.inflight == nil {
		if !l.gw.IsProvisioned() {
			l.debugf(DebugUplink, "uplink not provisioned, queueing seq=%d", l.seq)
			l.transmitFailures++
			l.rec.TransmitFailure()
			l.enqueueOutbound()
			l.endCycle()
			return
		}
		l.inflight = l.gw.Send(l.outbound)
	}

	switch l.inflight.Status() {
	case uplink.StatusPending:
		return
	case uplink.StatusSuccess:
		l.cyclesCompleted++
		l.rec.CycleCompleted()
		l.debugf(DebugUplink, "delivered seq=%d", l.seq)
	default: // Busy or Failure
		l.transmitFailures++
		l.rec.TransmitFailure()
		l.debugf(DebugUplink, "transmit %s, queueing seq=%d", l.inflight.Status(), l.seq)
		l.enqueueOutbound()
	}
	l.inflight = nil
	l.endCycle()
}

func (l *Loop) endCycle() {
	if l.active.PowerSave {
		for _, a := range l.adapters {
			if err := a.PowerOff(); err != nil {
				log.Printf("loop: power off %s: %v", a.ID(), err)
			}
		}
	}
	l.outbound = nil
	l.phase = PhaseIdle
}

func (l *Loop) enqueueOutbound() {
	if l.q.Enqueue(l.outbound) {
		l.rec.QueueEviction()
		l.debugf(DebugQueue, "queue full, evicted oldest")
	}
}

// drainOne moves at most one queued payload toward the uplink per idle
// tick: either starts a re-send or settles the one in flight. The settle
// targets the exact entry that was sent; overflow may have evicted it
// while the send was pending, in which case there is nothing to settle.
func (l *Loop) drainOne() {
	if l.draining != nil {
		switch l.draining.Status() {
		case uplink.StatusPending:
			return
		case uplink.StatusSuccess:
			if l.q.Remove(l.drainEntry) {
				l.debugf(DebugQueue, "drained one entry, depth=%d", l.q.Size())
			}
		default:
			l.q.MarkRetry(l.drainEntry)
			l.debugf(DebugQueue, "queued re-send failed, will retry")
		}
		l.draining = nil
		return
	}

	if l.q.Size() == 0 || !l.gw.IsProvisioned() {
		return
	}
	e, err := l.q.PeekOldest()
	if err != nil {
		return
	}
	l.draining = l.gw.Send(e.Payload)
	l.drainEntry = e
	l.debugf(DebugQueue, "re-sending queued entry, retries=%d", e.Retries)
}

func (l *Loop) trackFaults() {
	for _, a := range l.adapters {
		id := a.ID()
		st := a.State()
		if st == sensor.Faulted && l.prevStates[id] != sensor.Faulted {
			l.faultCounts[id]++
			l.rec.SensorFault(id.String())
			log.Printf("loop: sensor %s faulted", id)
		}
		l.prevStates[id] = st
	}
}

func (l *Loop) debugf(bit uint32, format string, args ...any) {
	if l.debugMask&bit == 0 {
		return
	}
	log.Printf("loop: "+format, args...)
}
