package loader

import (
	"sort"

	"reach/internal/channel"
	"reach/internal/kernel"
	"reach/internal/secretzone"
)

// ConsentConfig wires a SecretZone responder into a load: before
// execution begins, the loader brokers one consent request per granted
// capability whose requirement demands consent, and hands the resulting
// claims to the kernel.
type ConsentConfig struct {
	// Responder answers consent.request messages on the child side of
	// the consent channel. Nil means no consent surface is attached:
	// no claims are brokered and consent-requiring calls deny with
	// CONSENT_MISSING.
	Responder    channel.Handler
	Clock        secretzone.ClockPort
	TimeoutTicks int
}

// brokerConsent obtains consent claims for every granted capability
// whose requirement demands one, keyed by capId. Claims that cannot be
// obtained are simply absent; the kernel then denies the call.
func brokerConsent(params kernel.Params, env channel.Envelope, cfg ConsentConfig) map[string]kernel.ConsentClaim {
	if cfg.Responder == nil {
		return nil
	}

	var need []string
	for capID, req := range params.KnownCaps {
		if req.RequiresConsent && params.GrantedCaps[capID] {
			need = append(need, capID)
		}
	}
	if len(need) == 0 {
		return nil
	}
	sort.Strings(need)

	hostPort, childPort := channel.CreateBoundChannel(env)
	childPort.OnMessage(cfg.Responder)
	host := &secretzone.Host{Port: hostPort, Clock: cfg.Clock, TimeoutTicks: cfg.TimeoutTicks}

	claims := make(map[string]kernel.ConsentClaim, len(need))
	var seq int64
	for _, capID := range need {
		res := host.RequestConsent(secretzone.Request{Action: capID, BlockHash: params.CallerBlockHash})
		if !res.OK {
			continue
		}
		seq++
		claims[capID] = kernel.ConsentClaim{
			ConsentID:  res.Consent.ConsentID,
			Action:     capID,
			BlockHash:  params.CallerBlockHash,
			PlanDigest: params.PlanDigest,
			Seq:        seq,
		}
	}
	return claims
}
