package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, 100*time.Millisecond, cfg.Node.Tick)
	assert.Equal(t, time.Minute, cfg.Node.Interval)
	assert.Equal(t, 35*time.Second, cfg.Node.MaxPowerWait)
	assert.Equal(t, 10*time.Second, cfg.Node.SampleTimeout)
	assert.True(t, cfg.Node.PowerSave)
	assert.True(t, cfg.Node.AutoRun)
	assert.True(t, cfg.Particulate.Enabled)
	assert.Equal(t, 9600, cfg.Particulate.BaudRate)
	assert.Equal(t, 30*time.Second, cfg.Particulate.Warmup)
	assert.Equal(t, 4, cfg.Particulate.MinFrames)
	assert.True(t, cfg.TempRH.Enabled)
	assert.True(t, cfg.VOC.Enabled)
	assert.Equal(t, 3*time.Minute, cfg.VOC.Baseline)
	assert.Equal(t, 2*time.Minute, cfg.VOC.SampleEvery)
	assert.Equal(t, 51, cfg.Uplink.MaxPayload)
	assert.Equal(t, 32, cfg.Queue.Capacity)
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, time.Minute, cfg.Node.Interval)
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
node:
  interval: 5m
  max_power_wait: 40s
  sample_timeout: 15s
  power_save: false

particulate:
  enabled: true
  port: "/dev/ttyUSB0"
  warmup: 45s
  min_frames: 8

voc:
  enabled: false
  baseline: 10m

uplink:
  broker: "tcp://broker:1883"
  topic: "nodes/roof/uplink"
  max_payload: 64

queue:
  capacity: 16
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, 5*time.Minute, cfg.Node.Interval)
	assert.Equal(t, 40*time.Second, cfg.Node.MaxPowerWait)
	assert.Equal(t, 15*time.Second, cfg.Node.SampleTimeout)
	assert.False(t, cfg.Node.PowerSave)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Particulate.Port)
	assert.Equal(t, 45*time.Second, cfg.Particulate.Warmup)
	assert.Equal(t, 8, cfg.Particulate.MinFrames)
	assert.False(t, cfg.VOC.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.VOC.Baseline)
	assert.Equal(t, "tcp://broker:1883", cfg.Uplink.Broker)
	assert.Equal(t, "nodes/roof/uplink", cfg.Uplink.Topic)
	assert.Equal(t, 64, cfg.Uplink.MaxPayload)
	assert.Equal(t, 16, cfg.Queue.Capacity)
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.WriteString("invalid: yaml: content: [")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
particulate:
  port: "/dev/ttyAMA0"
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// Should use defaults for missing fields
	assert.Equal(t, "/dev/ttyAMA0", cfg.Particulate.Port)
	assert.Equal(t, time.Minute, cfg.Node.Interval)    // default
	assert.Equal(t, 32, cfg.Queue.Capacity)            // default
	assert.Equal(t, 2*time.Minute, cfg.VOC.SampleEvery) // default
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Particulate.Port = "/dev/ttyUSB1"
	cfg.Queue.Capacity = 8

	tmpfile, err := os.CreateTemp("", "test_save_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	err = cfg.Save(tmpfile.Name())
	require.NoError(t, err)

	// Load it back and verify
	loaded, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", loaded.Particulate.Port)
	assert.Equal(t, 8, loaded.Queue.Capacity)
}
