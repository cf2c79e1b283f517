package loop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envsense/aqnode/pkg/sensor"
	"github.com/envsense/aqnode/pkg/uplink"
)

// Deactivation must be graceful: the in-flight transmission finishes and
// only new cycle starts are suppressed.
func TestLoop_StopMidTransmitFinishesCycle(t *testing.T) {
	s := defaultSettings()
	s.EnableParticulate = false
	s.EnableVOC = false
	h := newHarness(t, s)
	h.gw.Manual = true

	h.poll(5)
	require.Equal(t, PhaseTransmitting, h.l.Phase())

	h.l.RequestActive(false)
	h.poll(3)
	// Still waiting on the radio; the stop request did not abort it.
	assert.Equal(t, PhaseTransmitting, h.l.Phase())
	assert.False(t, h.l.Active())

	h.gw.ResolveOldest(uplink.StatusSuccess)
	h.poll(1)
	assert.Equal(t, PhaseIdle, h.l.Phase())
	assert.Equal(t, uint32(1), h.l.Stats().CyclesCompleted)

	// No new cycles while stopped, no matter how much time passes.
	h.clk.Advance(time.Hour)
	h.poll(10)
	assert.Equal(t, PhaseIdle, h.l.Phase())
	assert.Len(t, h.gw.Sent(), 1)
}

func TestLoop_RestartAfterStop(t *testing.T) {
	s := defaultSettings()
	s.EnableParticulate = false
	s.EnableVOC = false
	h := newHarness(t, s)

	h.poll(5)
	h.l.RequestActive(false)
	h.clk.Advance(time.Minute)
	h.poll(5)
	assert.Len(t, h.gw.Sent(), 1)

	h.l.RequestActive(true)
	h.poll(5)
	assert.Len(t, h.gw.Sent(), 2)

	// The sequence keeps counting across the stop.
	assert.Equal(t, uint32(2), decodeSent(t, h.gw, 1).Seq)
}

func TestLoop_StopDuringSamplingCompletesRecord(t *testing.T) {
	h := newHarness(t, defaultSettings())

	h.poll(2)
	h.pm.Push(sensor.PMFrame{PM1p0: 4, PM2p5: 12, PM10: 19})
	h.l.RequestActive(false)
	h.poll(3)

	// The cycle in progress ran to completion.
	assert.Equal(t, PhaseIdle, h.l.Phase())
	rec := decodeSent(t, h.gw, 0)
	assert.True(t, rec.Present(sensor.Particulate))
	assert.Equal(t, uint32(1), h.l.Stats().CyclesCompleted)
}

func TestLoop_BeginIdempotent(t *testing.T) {
	h := newHarness(t, defaultSettings())

	require.NoError(t, h.l.Begin())
	require.NoError(t, h.l.Begin())
	assert.Equal(t, PhaseIdle, h.l.Phase())
}
