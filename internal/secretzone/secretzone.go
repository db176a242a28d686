// Package secretzone implements consent brokering for strict-privacy
// execution: under that mode secrets never cross the block boundary, so
// any access to them is mediated by a consent request/result exchange
// over the bound channel, gated by a logical (non-wall-clock) timeout.
package secretzone

import (
	"reach/internal/channel"
	"reach/internal/trust"
)

// ClockPort abstracts time so a timeout is a deterministic, injected
// value rather than a call to the wall clock.
type ClockPort interface {
	// After returns a channel that receives once the logical duration
	// named by ticks has elapsed.
	After(ticks int) <-chan struct{}
}

// Consent is the granted result of a consent request.
type Consent struct {
	ConsentID string
	Action    string
	BlockHash string
	Scope     string
}

// Request describes what the block is asking the user to approve.
type Request struct {
	Action    string
	BlockHash string
	Scope     string
}

// Result is the outcome of RequestConsent.
type Result struct {
	OK      bool
	Consent *Consent
	Reasons []trust.Reason
}

// defaultTimeoutTicks is the one-second logical timeout, expressed in
// the clock port's own tick unit.
const defaultTimeoutTicks = 1

// Host brokers consent requests over a bound channel.
type Host struct {
	Port         *channel.Port
	Clock        ClockPort
	TimeoutTicks int
}

// RequestConsent posts a consent.request message through the bound
// channel, awaits consent.result, and returns the outcome. A channel
// absence reports SECRET_ZONE_UNAVAILABLE without attempting to send.
// If neither a result nor the timeout elapses — which cannot happen
// with a correctly wired ClockPort — the call blocks; production
// callers always supply a firing ClockPort.
func (h *Host) RequestConsent(req Request) Result {
	if h.Port == nil {
		return Result{Reasons: trust.Normalize([]trust.Reason{{Code: "SECRET_ZONE_UNAVAILABLE"}}, trust.NormalizeOptions{})}
	}

	ticks := h.TimeoutTicks
	if ticks <= 0 {
		ticks = defaultTimeoutTicks
	}

	replyCh := make(chan channel.Message, 1)
	go func() {
		replyCh <- h.Port.PostMessage(channel.Message{
			Envelope: h.Port.Envelope(),
			Kind:     "consent.request",
			Args:     map[string]any{"action": req.Action, "blockHash": req.BlockHash, "scope": req.Scope},
		})
	}()

	var timeoutCh <-chan struct{}
	if h.Clock != nil {
		timeoutCh = h.Clock.After(ticks)
	}

	select {
	case msg := <-replyCh:
		return resultFromMessage(req, msg)
	case <-timeoutCh:
		return Result{Reasons: trust.Normalize([]trust.Reason{{Code: "SECRET_ZONE_TIMEOUT"}}, trust.NormalizeOptions{})}
	}
}

func resultFromMessage(req Request, msg channel.Message) Result {
	if len(msg.Reasons) > 0 {
		return Result{Reasons: trust.Normalize(msg.Reasons, trust.NormalizeOptions{})}
	}

	granted, _ := msg.Result["granted"].(bool)
	if !granted {
		return Result{Reasons: trust.Normalize([]trust.Reason{{Code: "CONSENT_INVALID"}}, trust.NormalizeOptions{})}
	}

	consentID, _ := msg.Result["consentId"].(string)
	return Result{
		OK: true,
		Consent: &Consent{
			ConsentID: consentID,
			Action:    req.Action,
			BlockHash: req.BlockHash,
			Scope:     req.Scope,
		},
	}
}
