// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fetch

import (
	"sync"
	"time"
)

// circuitState is one host's breaker state (spec §4.E "A per-host
// circuit-breaker opens after N consecutive failures for a cool-down
// interval; half-open allows one probe.").
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// DefaultBreakerThreshold is the consecutive-failure count that opens a
// host's circuit.
const DefaultBreakerThreshold = 5

// DefaultBreakerCooldown is how long an open circuit stays open before
// allowing a half-open probe.
const DefaultBreakerCooldown = 30 * time.Second

// hostStats tracks one host's rolling failure count and breaker state. The
// host set is small and fixed (the CDN config's primary/mirror/custom
// lists), so this is a plain mutex-guarded map rather than a bounded cache
// — there is nothing here to evict.
type hostStats struct {
	consecutiveFailures int
	totalFailures       int
	totalRequests       int
	state               circuitState
	openUntil           time.Time
}

// HostPool rotates among CDN hosts, preferring ones with a lower recent
// error rate, and keeps a circuit breaker per host so a host in a bad state
// is skipped for a cool-down window instead of retried on every request.
type HostPool struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	primary []string
	mirror  []string
	custom  []string
	stats   map[string]*hostStats
	next    int // round-robin cursor over the currently eligible tier
}

// NewHostPool builds a pool from the three host tiers spec §4.E describes:
// primary (from the CDNs BPSV response), community mirrors, and
// user-configured custom hosts, tried in that order.
func NewHostPool(primary, mirror, custom []string) *HostPool {
	return &HostPool{
		threshold: DefaultBreakerThreshold,
		cooldown:  DefaultBreakerCooldown,
		now:       time.Now,
		primary:   primary,
		mirror:    mirror,
		custom:    custom,
		stats:     make(map[string]*hostStats),
	}
}

func (p *HostPool) statsFor(host string) *hostStats {
	s, ok := p.stats[host]
	if !ok {
		s = &hostStats{}
		p.stats[host] = s
	}
	return s
}

// eligible reports whether host may currently be tried: its circuit isn't
// open, or its cooldown has elapsed (in which case it moves to half-open
// and this call consumes the probe).
func (p *HostPool) eligible(host string) bool {
	s := p.statsFor(host)
	switch s.state {
	case circuitOpen:
		if p.now().Before(s.openUntil) {
			return false
		}
		s.state = circuitHalfOpen
		return true
	default:
		return true
	}
}

// errorRate returns a host's historical failure fraction, used to break
// ties among otherwise-eligible hosts in the same tier.
func (s *hostStats) errorRate() float64 {
	if s.totalRequests == 0 {
		return 0
	}
	return float64(s.totalFailures) / float64(s.totalRequests)
}

// orderedTier returns tier's hosts starting from the round-robin cursor,
// sorted within that rotation by ascending error rate so a consistently
// bad host within the tier sinks to the back without ever being starved
// outright.
func (p *HostPool) orderedTier(tier []string) []string {
	if len(tier) == 0 {
		return nil
	}
	start := p.next % len(tier)
	rotated := make([]string, 0, len(tier))
	rotated = append(rotated, tier[start:]...)
	rotated = append(rotated, tier[:start]...)

	out := make([]string, 0, len(tier))
	for _, h := range rotated {
		if p.eligible(h) {
			out = append(out, h)
		}
	}
	sortByErrorRateStable(out, func(h string) float64 { return p.statsFor(h).errorRate() })
	return out
}

// sortByErrorRateStable performs a stable insertion sort; host lists are
// short (single digits to low tens), so this avoids pulling in sort.Slice's
// closure overhead for no real benefit.
func sortByErrorRateStable(hosts []string, rate func(string) float64) {
	for i := 1; i < len(hosts); i++ {
		for j := i; j > 0 && rate(hosts[j]) < rate(hosts[j-1]); j-- {
			hosts[j], hosts[j-1] = hosts[j-1], hosts[j]
		}
	}
}

// Candidates returns the full ordered list of hosts to try for one
// request: eligible primary hosts first, then mirror, then custom, each
// tier internally ordered by error rate.
func (p *HostPool) Candidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []string
	out = append(out, p.orderedTier(p.primary)...)
	out = append(out, p.orderedTier(p.mirror)...)
	out = append(out, p.orderedTier(p.custom)...)
	p.next++
	return out
}

// ReportSuccess closes host's circuit and resets its consecutive-failure
// counter.
func (p *HostPool) ReportSuccess(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.statsFor(host)
	s.totalRequests++
	s.consecutiveFailures = 0
	s.state = circuitClosed
}

// ReportFailure records a failed request against host, opening its circuit
// once the consecutive-failure threshold is reached.
func (p *HostPool) ReportFailure(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.statsFor(host)
	s.totalRequests++
	s.totalFailures++
	s.consecutiveFailures++
	if s.consecutiveFailures >= p.threshold {
		s.state = circuitOpen
		s.openUntil = p.now().Add(p.cooldown)
	}
}
