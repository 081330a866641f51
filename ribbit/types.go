// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ribbit implements the NGDP discovery client: resolving a
// region/product/endpoint triple to a parsed BPSV document (or raw DER for
// the certificate/OCSP endpoints) across the HTTPS, TACT-HTTP, and Ribbit
// TCP protocols, with failover and exponential backoff between them.
package ribbit

import "time"

// Region is an NGDP region code, e.g. "us", "eu", "kr", "cn".
type Region string

// DefaultRegion is used when a caller does not pin one.
const DefaultRegion Region = "us"

// Product is a Blizzard product code, e.g. "wow", "agent", "hero" (HotS),
// "hsb" (Hearthstone).
type Product string

// Endpoint identifies which Ribbit/TACT endpoint to query.
type Endpoint string

const (
	EndpointVersions    Endpoint = "versions"
	EndpointCDNs        Endpoint = "cdns"
	EndpointBGDL        Endpoint = "bgdl"
	EndpointSummary     Endpoint = "summary"
	EndpointCertificate Endpoint = "certificate"
	EndpointOCSP        Endpoint = "ocsp"
)

// Protocol is one of the three transports the discovery client can use.
type Protocol int

const (
	ProtocolHTTPS Protocol = iota
	ProtocolHTTP
	ProtocolTCP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolHTTPS:
		return "https"
	case ProtocolHTTP:
		return "http"
	case ProtocolTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// DefaultProtocolOrder is the fallback order spec.md §4.B mandates unless a
// caller pins one protocol.
var DefaultProtocolOrder = []Protocol{ProtocolHTTPS, ProtocolHTTP, ProtocolTCP}

// RetryPolicy configures the exponential-backoff-with-jitter failover used
// between attempts on one protocol before moving to the next.
type RetryPolicy struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
	JitterFrac float64 // e.g. 0.10 for ±10%
}

// DefaultRetryPolicy matches spec.md §4.B: initial 100ms, doubling, capped
// at 10s, ±10% jitter, 3 retries per protocol.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	Initial:    100 * time.Millisecond,
	Max:        10 * time.Second,
	JitterFrac: 0.10,
}

// Result is a parsed discovery response: either a BPSV document (the common
// case) or raw DER bytes (certificate/OCSP endpoints never carry BPSV).
type Result struct {
	Raw      []byte
	IsDER    bool
	Seqn     uint64
	Unchanged bool // true if the caller's lastSeqn was >= the fresh document's
}
