package uplink

import "sync"

// Mock is a scripted gateway for tests and broker-less runs. Each Send
// consumes the next status from Script; when the script is exhausted
// every send succeeds. With Manual set, sends stay pending until
// resolved explicitly.
type Mock struct {
	// Provisioned is what IsProvisioned reports.
	Provisioned bool
	// MaxPayload is what MaxPayloadSize reports.
	MaxPayload int
	// Script holds the statuses handed out to successive sends.
	Script []Status
	// Manual leaves handles pending until Resolve/ResolveAll is called.
	Manual bool

	mu       sync.Mutex
	sent     [][]byte
	pendings []*Pending
	next     int
}

var _ Gateway = (*Mock)(nil)

// NewMock creates a provisioned mock with a typical LoRa-class payload
// limit.
func NewMock() *Mock {
	return &Mock{Provisioned: true, MaxPayload: 51}
}

// IsProvisioned reports the configured provisioning state.
func (m *Mock) IsProvisioned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Provisioned
}

// MaxPayloadSize reports the configured limit.
func (m *Mock) MaxPayloadSize() int { return m.MaxPayload }

// Send records the payload and resolves the handle per the script.
func (m *Mock) Send(payload []byte) *Pending {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent = append(m.sent, append([]byte(nil), payload...))

	if m.Manual {
		p := &Pending{}
		m.pendings = append(m.pendings, p)
		return p
	}

	s := StatusSuccess
	if m.next < len(m.Script) {
		s = m.Script[m.next]
		m.next++
	}
	return resolved(s)
}

// Sent returns every payload handed to Send, oldest first.
func (m *Mock) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

// SetProvisioned flips the provisioning state.
func (m *Mock) SetProvisioned(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Provisioned = on
}

// ResolveOldest resolves the oldest still-pending manual handle.
func (m *Mock) ResolveOldest(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pendings) == 0 {
		return
	}
	p := m.pendings[0]
	m.pendings = m.pendings[1:]
	p.resolve(s)
}
