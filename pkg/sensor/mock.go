package sensor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockFrames simulates the particulate frame stream for tests and for
// running the node without hardware. Frames can be pushed explicitly or
// generated on a fixed interval.
type MockFrames struct {
	// Frame is the value emitted by the generator.
	Frame PMFrame
	// Interval enables the generator goroutine when > 0.
	Interval time.Duration
	// OpenErr, when set, makes Open fail.
	OpenErr error

	mu     sync.Mutex
	frames chan PMFrame
	cancel context.CancelFunc
	open   bool
}

var _ FrameSource = (*MockFrames)(nil)

// Open starts a fresh session.
func (m *MockFrames) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.OpenErr != nil {
		return m.OpenErr
	}
	if m.open {
		return fmt.Errorf("already open")
	}
	m.frames = make(chan PMFrame, DefaultPMBufferSize)
	m.open = true

	if m.Interval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		go m.generate(ctx, m.frames)
	}
	return nil
}

// Close ends the session.
func (m *MockFrames) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.open = false
	return nil
}

// Frames returns the current session's channel.
func (m *MockFrames) Frames() <-chan PMFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

// Push queues one frame, dropping it if the channel is full.
func (m *MockFrames) Push(f PMFrame) {
	m.mu.Lock()
	ch := m.frames
	m.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- f:
	default:
	}
}

// Break closes the frame channel without closing the session, simulating
// a dead stream mid-session.
func (m *MockFrames) Break() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frames != nil {
		close(m.frames)
		m.frames = nil
	}
}

func (m *MockFrames) generate(ctx context.Context, out chan<- PMFrame) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case out <- m.Frame:
			default:
			}
		}
	}
}

// MockTempRH simulates the temperature/humidity device.
type MockTempRH struct {
	TempC float32
	RH    float32
	// Err, when set, makes Measure fail.
	Err error

	mu    sync.Mutex
	calls int
}

var _ TempRHDevice = (*MockTempRH)(nil)

// Measure returns the configured values.
func (m *MockTempRH) Measure() (float32, float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return 0, 0, m.Err
	}
	return m.TempC, m.RH, nil
}

// Calls returns how many measurements were requested.
func (m *MockTempRH) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// SetErr changes the injected measurement error.
func (m *MockTempRH) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// MockVOC simulates the VOC/eCO2 device.
type MockVOC struct {
	TVOC    uint16
	ECO2    uint16
	InitErr error
	Err     error

	mu    sync.Mutex
	inits int
}

var _ VOCDevice = (*MockVOC)(nil)

// Init records the call and returns InitErr.
func (m *MockVOC) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inits++
	return m.InitErr
}

// Measure returns the configured values.
func (m *MockVOC) Measure() (uint16, uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, 0, m.Err
	}
	return m.TVOC, m.ECO2, nil
}

// Inits returns how many times Init was called.
func (m *MockVOC) Inits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inits
}
