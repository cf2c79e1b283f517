package uplink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPending_ResolvesOnce(t *testing.T) {
	p := &Pending{}
	assert.Equal(t, StatusPending, p.Status())

	p.resolve(StatusSuccess)
	assert.Equal(t, StatusSuccess, p.Status())

	// A terminal status never changes again.
	p.resolve(StatusFailure)
	assert.Equal(t, StatusSuccess, p.Status())
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "failure", StatusFailure.String())
	assert.Equal(t, "busy", StatusBusy.String())
}

func TestMock_Script(t *testing.T) {
	m := NewMock()
	m.Script = []Status{StatusBusy, StatusFailure}

	assert.Equal(t, StatusBusy, m.Send([]byte{1}).Status())
	assert.Equal(t, StatusFailure, m.Send([]byte{2}).Status())
	// Exhausted script falls through to success.
	assert.Equal(t, StatusSuccess, m.Send([]byte{3}).Status())

	sent := m.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, []byte{1}, sent[0])
	assert.Equal(t, []byte{3}, sent[2])
}

func TestMock_ManualResolution(t *testing.T) {
	m := NewMock()
	m.Manual = true

	a := m.Send([]byte{1})
	b := m.Send([]byte{2})
	assert.Equal(t, StatusPending, a.Status())
	assert.Equal(t, StatusPending, b.Status())

	m.ResolveOldest(StatusSuccess)
	assert.Equal(t, StatusSuccess, a.Status())
	assert.Equal(t, StatusPending, b.Status())

	m.ResolveOldest(StatusBusy)
	assert.Equal(t, StatusBusy, b.Status())
}

func TestMock_Provisioning(t *testing.T) {
	m := NewMock()
	assert.True(t, m.IsProvisioned())
	assert.Equal(t, 51, m.MaxPayloadSize())

	m.SetProvisioned(false)
	assert.False(t, m.IsProvisioned())
}
