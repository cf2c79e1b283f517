package sensor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envsense/aqnode/pkg/platform"
)

func newVOCUnderTest(t *testing.T) (*VOCAdapter, *MockVOC, *platform.Simulated) {
	t.Helper()
	clk := platform.NewSimulated(time.Unix(1000, 0))
	dev := &MockVOC{TVOC: 125, ECO2: 612}
	a := NewVOC(dev, platform.NopRail{}, clk, 3*time.Minute, 2*time.Minute)
	return a, dev, clk
}

func TestVOC_BaselineGating(t *testing.T) {
	a, dev, clk := newVOCUnderTest(t)

	require.NoError(t, a.PowerOn())
	assert.Equal(t, WarmingUp, a.State())
	assert.Equal(t, 1, dev.Inits())

	clk.Advance(time.Minute)
	a.Poll()
	assert.Equal(t, WarmingUp, a.State())
	_, err := a.Fetch()
	assert.ErrorIs(t, err, ErrNoData)

	clk.Advance(2*time.Minute + time.Second)
	a.Poll()
	assert.Equal(t, Sampling, a.State())

	a.Poll()
	require.True(t, a.IsReady())

	r, err := a.Fetch()
	require.NoError(t, err)
	assert.Equal(t, VOC, r.Sensor)
	assert.Equal(t, uint16(125), r.Values.TVOCppb)
	assert.Equal(t, uint16(612), r.Values.ECO2ppm)
}

func TestVOC_OwnCadence(t *testing.T) {
	a, _, clk := newVOCUnderTest(t)

	require.NoError(t, a.PowerOn())
	clk.Advance(3*time.Minute + time.Second)
	a.Poll()
	a.Poll()
	require.True(t, a.IsReady())
	_, err := a.Fetch()
	require.NoError(t, err)

	// Between samples the adapter holds back; the outer loop sees an
	// absent slot until the cadence comes around.
	a.Poll()
	assert.False(t, a.IsReady())
	clk.Advance(time.Minute)
	a.Poll()
	assert.False(t, a.IsReady())

	clk.Advance(time.Minute + time.Second)
	a.Poll()
	assert.True(t, a.IsReady())
}

func TestVOC_PowerOffKeepsDeviceRunning(t *testing.T) {
	a, dev, clk := newVOCUnderTest(t)

	require.NoError(t, a.PowerOn())
	require.NoError(t, a.PowerOff())
	assert.Equal(t, Unpowered, a.State())

	// Learning continued while "off": once past the baseline, power-on
	// resumes straight into sampling with no second device init.
	clk.Advance(4 * time.Minute)
	require.NoError(t, a.PowerOn())
	assert.Equal(t, Sampling, a.State())
	assert.Equal(t, 1, dev.Inits())
}

func TestVOC_PowerOffBeforeBaselineResumesWarmup(t *testing.T) {
	a, dev, clk := newVOCUnderTest(t)

	require.NoError(t, a.PowerOn())
	require.NoError(t, a.PowerOff())

	clk.Advance(time.Minute)
	require.NoError(t, a.PowerOn())
	assert.Equal(t, WarmingUp, a.State())
	assert.Equal(t, 1, dev.Inits())
}

func TestVOC_InitFailureFaults(t *testing.T) {
	clk := platform.NewSimulated(time.Unix(1000, 0))
	dev := &MockVOC{InitErr: errors.New("no ack")}
	a := NewVOC(dev, platform.NopRail{}, clk, 3*time.Minute, 2*time.Minute)

	for i := 0; i < 2; i++ {
		assert.Error(t, a.PowerOn())
		assert.NotEqual(t, Faulted, a.State())
	}
	assert.Error(t, a.PowerOn())
	assert.Equal(t, Faulted, a.State())
	assert.Equal(t, 3, dev.Inits())

	_, err := a.Fetch()
	assert.ErrorIs(t, err, ErrFaulted)

	dev.InitErr = nil
	a.Poll()
	assert.Equal(t, Faulted, a.State())

	clk.Advance(91 * time.Second) // past the first backoff window
	a.Poll()
	assert.Equal(t, WarmingUp, a.State())
	assert.Equal(t, 4, dev.Inits())
}

func TestVOC_MeasureFailuresFault(t *testing.T) {
	a, dev, clk := newVOCUnderTest(t)

	require.NoError(t, a.PowerOn())
	clk.Advance(3*time.Minute + time.Second)
	a.Poll()
	require.Equal(t, Sampling, a.State())

	dev.Err = errors.New("stale data")
	a.Poll()
	a.Poll()
	assert.NotEqual(t, Faulted, a.State())
	a.Poll()
	assert.Equal(t, Faulted, a.State())
}
