// Package channel implements the bound channel: a nonce-and-plan-bound
// bidirectional message pair between the host and a compartment. Every
// message carries an envelope; a receiver whose envelope doesn't match
// its own binding never dispatches to application handlers, it replies
// with a reason-coded result instead.
package channel

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sync"

	"reach/internal/trust"
)

// Envelope is carried on every message flowing through either port.
type Envelope struct {
	ExecutionMode string `json:"executionMode"`
	PlanDigest    string `json:"planDigest"`
	SessionNonce  string `json:"sessionNonce"`
}

// Message is the wire unit exchanged over a port.
type Message struct {
	Envelope Envelope       `json:"envelope"`
	Kind     string         `json:"kind"`
	ReqID    string         `json:"reqId,omitempty"`
	CapID    string         `json:"capId,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Result   map[string]any `json:"result,omitempty"`
	Reasons  []trust.Reason `json:"reasonCodes,omitempty"`
}

// NewNonce returns a fresh 128-bit random nonce encoded as lowercase hex.
func NewNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// ValidateNonce checks that s is 32 lowercase hex characters (128 bits).
func ValidateNonce(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// SafeEqual compares two strings in constant time.
func SafeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Handler processes a dispatched message and returns the reply message.
type Handler func(msg Message) Message

// Port is one end of a bound channel. It enforces the envelope binding
// before any message reaches the registered handler.
type Port struct {
	mu      sync.Mutex
	binding Envelope
	handler Handler
	peer    *Port
}

// CreateBoundChannel returns a connected (hostPort, childPort) pair, each
// bound to the same envelope.
func CreateBoundChannel(binding Envelope) (host *Port, child *Port) {
	host = &Port{binding: binding}
	child = &Port{binding: binding}
	host.peer = child
	child.peer = host
	return host, child
}

// Envelope returns the binding this port enforces on inbound messages
// and stamps on outbound ones.
func (p *Port) Envelope() Envelope {
	return p.binding
}

// OnMessage registers the application handler for messages that pass
// envelope validation.
func (p *Port) OnMessage(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// PostMessage sends msg to the peer port. The peer validates the
// envelope before touching any application handler.
func (p *Port) PostMessage(msg Message) Message {
	return p.peer.receive(msg)
}

func (p *Port) receive(msg Message) Message {
	if reasons := p.checkEnvelope(msg.Envelope); len(reasons) > 0 {
		return Message{
			Envelope: p.binding,
			Kind:     "result",
			ReqID:    msg.ReqID,
			Reasons:  trust.Normalize(reasons, trust.NormalizeOptions{}),
		}
	}

	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()

	// A port with no handler is indistinguishable from a terminated
	// compartment: the in-flight request resolves the same way.
	if h == nil {
		return Message{Envelope: p.binding, Kind: "result", ReqID: msg.ReqID, Reasons: []trust.Reason{{Code: "STRICT_COMPARTMENT_UNAVAILABLE"}}}
	}
	return h(msg)
}

func (p *Port) checkEnvelope(e Envelope) []trust.Reason {
	var reasons []trust.Reason
	if e.ExecutionMode != p.binding.ExecutionMode {
		reasons = append(reasons, trust.Reason{Code: "MODE_MISMATCH"})
	}
	if e.PlanDigest != p.binding.PlanDigest {
		reasons = append(reasons, trust.Reason{Code: "CONTEXT_MISMATCH"})
	}
	if !ValidateNonce(e.SessionNonce) || !SafeEqual(e.SessionNonce, p.binding.SessionNonce) {
		reasons = append(reasons, trust.Reason{Code: "NONCE_MISMATCH"})
	}
	return reasons
}

// Close releases port resources. A bound channel's ports are otherwise
// stateless beyond their envelope binding and handler.
func (p *Port) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = nil
}
