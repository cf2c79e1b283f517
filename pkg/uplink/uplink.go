// Package uplink defines the radio-link boundary the measurement loop
// transmits through, plus the node's MQTT-backed implementation and a
// scripted mock. Sends are asynchronous: Send returns a handle the loop
// polls, never a blocking call.
package uplink

import "sync/atomic"

// Status is the asynchronous outcome of one send.
type Status int32

const (
	// StatusPending means the send is still in flight.
	StatusPending Status = iota
	// StatusSuccess means the payload was delivered.
	StatusSuccess
	// StatusFailure means delivery failed; the payload should be queued.
	StatusFailure
	// StatusBusy means the link had no capacity (duty cycle, breaker
	// open, in-flight send); the payload should be queued and retried.
	StatusBusy
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusBusy:
		return "busy"
	default:
		return "invalid"
	}
}

// Pending is the handle for one in-flight send. Status transitions from
// StatusPending to exactly one terminal status and never changes again.
type Pending struct {
	status atomic.Int32
}

// Status returns the current send outcome.
func (p *Pending) Status() Status {
	return Status(p.status.Load())
}

func (p *Pending) resolve(s Status) {
	p.status.CompareAndSwap(int32(StatusPending), int32(s))
}

func resolved(s Status) *Pending {
	p := &Pending{}
	p.status.Store(int32(s))
	return p
}

// Gateway is the consumed uplink interface. Implementations must make
// Send non-blocking and report the outcome through the returned handle.
type Gateway interface {
	// IsProvisioned reports whether the link is joined/connected and
	// able to accept payloads at all.
	IsProvisioned() bool
	// MaxPayloadSize is the byte limit for the currently negotiated
	// data rate.
	MaxPayloadSize() int
	// Send starts transmitting the payload and returns its handle.
	Send(payload []byte) *Pending
}
