package sensor

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"sync"

	"go.bug.st/serial"
)

const (
	// DefaultPMBaudRate is the particulate sensor's fixed UART rate.
	DefaultPMBaudRate = 9600
	// DefaultPMBufferSize is the default frames channel capacity.
	DefaultPMBufferSize = 16

	pmFrameLen    = 32
	pmHeader0     = 0x42
	pmHeader1     = 0x4D
	pmPayloadWord = 28 // frame length word the sensor reports
)

// SerialFrames streams particulate frames from a serial port. It is the
// production FrameSource: a reader goroutine hunts for framed records in
// the byte stream, validates checksums and feeds a bounded channel.
type SerialFrames struct {
	portName string
	baudRate int
	bufSize  int

	mu     sync.Mutex
	conn   serial.Port
	frames chan PMFrame
	cancel context.CancelFunc
	open   bool
}

var _ FrameSource = (*SerialFrames)(nil)

// NewSerialFrames creates a frame source for the given port.
func NewSerialFrames(port string, baudRate, bufSize int) *SerialFrames {
	if baudRate == 0 {
		baudRate = DefaultPMBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultPMBufferSize
	}
	return &SerialFrames{portName: port, baudRate: baudRate, bufSize: bufSize}
}

// Open opens the serial port and starts the reader goroutine. Each Open
// starts a fresh frame channel.
func (s *SerialFrames) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return fmt.Errorf("already open")
	}

	conn, err := serial.Open(s.portName, &serial.Mode{BaudRate: s.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.portName, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.cancel = cancel
	s.frames = make(chan PMFrame, s.bufSize)
	s.open = true

	go s.readFrames(ctx, conn, s.frames)

	return nil
}

// Close stops the reader and closes the port.
func (s *SerialFrames) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}

	s.cancel()
	if err := s.conn.Close(); err != nil {
		log.Printf("Error closing serial port: %v", err)
	}
	s.conn = nil
	s.open = false

	return nil
}

// Frames returns the frame channel for the current session.
func (s *SerialFrames) Frames() <-chan PMFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// readFrames reads bytes from the port and emits decoded frames. It
// closes the channel on exit so consumers can tell the stream died.
func (s *SerialFrames) readFrames(ctx context.Context, conn serial.Port, out chan<- PMFrame) {
	defer close(out)

	buf := make([]byte, 64)
	var acc []byte

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("Error reading from serial port: %v", err)
			}
			return
		}
		acc = append(acc, buf[:n]...)

		var frames []PMFrame
		frames, acc = extractFrames(acc)
		for _, f := range frames {
			select {
			case out <- f:
			case <-ctx.Done():
				return
			default:
				// Channel full, consumer is behind; drop the frame.
				log.Printf("Frames channel full, dropping frame")
			}
		}
	}
}

// extractFrames scans acc for complete valid frames and returns them
// together with the unconsumed remainder.
func extractFrames(acc []byte) ([]PMFrame, []byte) {
	var frames []PMFrame
	for {
		// Hunt for the two-byte header.
		start := -1
		for i := 0; i+1 < len(acc); i++ {
			if acc[i] == pmHeader0 && acc[i+1] == pmHeader1 {
				start = i
				break
			}
		}
		if start < 0 {
			// Keep at most one byte in case a header is split across reads.
			if len(acc) > 1 {
				acc = acc[len(acc)-1:]
			}
			return frames, acc
		}
		acc = acc[start:]
		if len(acc) < pmFrameLen {
			return frames, acc
		}
		f, ok := decodeFrame(acc[:pmFrameLen])
		if !ok {
			// Bad length or checksum; resync one byte past the header.
			acc = acc[1:]
			continue
		}
		frames = append(frames, f)
		acc = acc[pmFrameLen:]
	}
}

// decodeFrame validates one 32-byte frame and extracts the atmospheric
// PM concentrations (data words 4-6).
func decodeFrame(b []byte) (PMFrame, bool) {
	if binary.BigEndian.Uint16(b[2:4]) != pmPayloadWord {
		return PMFrame{}, false
	}
	var sum uint16
	for _, v := range b[:pmFrameLen-2] {
		sum += uint16(v)
	}
	if sum != binary.BigEndian.Uint16(b[pmFrameLen-2:]) {
		return PMFrame{}, false
	}
	return PMFrame{
		PM1p0: binary.BigEndian.Uint16(b[10:12]),
		PM2p5: binary.BigEndian.Uint16(b[12:14]),
		PM10:  binary.BigEndian.Uint16(b[14:16]),
	}, true
}
