// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ribbit

import (
	"net/http"
	"time"

	"github.com/shell-reserve/ngdp/bpsv"
	nerrors "github.com/shell-reserve/ngdp/errors"
	"github.com/shell-reserve/ngdp/retry"
)

// Client is the NGDP discovery client: it resolves a (region, product,
// endpoint) triple to a BPSV document, trying HTTPS, then TACT-HTTP, then
// Ribbit-TCP in order (unless a caller pins a single protocol), retrying
// each with exponential backoff before failing over.
type Client struct {
	httpClient    HTTPDoer
	dialer        Dialer
	protocolOrder []Protocol
	retryPolicy   retry.Policy
	seqCache      *SeqCache

	// CrossRegionFallback is set from configuration (default false) but
	// Get does not read it: an unreachable region's error (spec §4.B:
	// "cn" from outside China) surfaces to the caller and no other region
	// is tried, whatever its value.
	CrossRegionFallback bool
}

// Option configures a Client at construction.
type Option func(*Client)

// WithHTTPDoer overrides the HTTP transport, primarily for tests.
func WithHTTPDoer(d HTTPDoer) Option { return func(c *Client) { c.httpClient = d } }

// WithDialer overrides the TCP dialer, primarily for tests or SOCKS routing.
func WithDialer(d Dialer) Option { return func(c *Client) { c.dialer = d } }

// WithProtocolOrder pins or reorders the protocol fallback chain.
func WithProtocolOrder(order []Protocol) Option {
	return func(c *Client) { c.protocolOrder = order }
}

// WithRetryPolicy overrides the default backoff policy.
func WithRetryPolicy(p retry.Policy) Option { return func(c *Client) { c.retryPolicy = p } }

// WithSeqCache attaches a persisted sequence-number cache.
func WithSeqCache(sc *SeqCache) Option { return func(c *Client) { c.seqCache = sc } }

// New constructs a Client with production defaults: the std-lib HTTP
// client, a 30s-timeout TCP dialer, HTTPS→HTTP→TCP fallback order, and
// spec.md's default retry policy.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		dialer:        netDialer{timeout: 30 * time.Second},
		protocolOrder: DefaultProtocolOrder,
		retryPolicy: retry.Policy{
			MaxAttempts: DefaultRetryPolicy.MaxRetries + 1,
			Initial:     DefaultRetryPolicy.Initial,
			Max:         DefaultRetryPolicy.Max,
			JitterFrac:  DefaultRetryPolicy.JitterFrac,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// isDEREndpoint reports whether an endpoint kind returns raw DER instead of
// BPSV text (spec.md §4.B / §6).
func isDEREndpoint(ep Endpoint) bool {
	return ep == EndpointCertificate || ep == EndpointOCSP
}

// Get resolves (region, product, endpoint), trying each protocol in
// Client.protocolOrder with retry+backoff, failing over to the next
// protocol when a protocol is exhausted. lastSeqn, if non-zero, lets the
// caller skip reparsing a document whose sequence number hasn't advanced.
func (c *Client) Get(region Region, product Product, ep Endpoint, lastSeqn uint64) (*Result, error) {
	var lastErr error
	for _, proto := range c.protocolOrder {
		raw, err := c.fetchWithRetry(proto, region, product, ep)
		if err == nil {
			return c.finish(region, product, ep, raw, lastSeqn)
		}
		lastErr = err
		if !isProtocolFailoverEligible(err) {
			return nil, err
		}
		log.Debugf("ribbit: protocol %s exhausted for %s/%s/%s: %v", proto, region, product, ep, err)
	}
	return nil, lastErr
}

// isProtocolFailoverEligible decides whether exhausting retries on one
// protocol should fall through to the next, versus surfacing immediately.
// Parse errors (schema, arity, type) and a MIME checksum mismatch surface
// at once. Every other error falls through to the next protocol,
// including DNS failure and 404, since Ribbit/TACT surfaces can disagree
// about endpoint availability.
func isProtocolFailoverEligible(err error) bool {
	e, ok := err.(*nerrors.Error)
	if !ok {
		return true
	}
	switch e.Code {
	case nerrors.CodeSchema, nerrors.CodeArityMismatch, nerrors.CodeTypeError, nerrors.CodeMimeChecksumMismatch:
		return false
	default:
		return true
	}
}

func (c *Client) fetchWithRetry(proto Protocol, region Region, product Product, ep Endpoint) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.retryPolicy.MaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(c.retryPolicy.Delay(attempt))
		}
		raw, err := c.fetchOnce(proto, region, product, ep)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if ne, ok := err.(*nerrors.Error); ok && !ne.Code.Retryable() {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(proto Protocol, region Region, product Product, ep Endpoint) ([]byte, error) {
	switch proto {
	case ProtocolHTTPS:
		return fetchHTTP(c.httpClient, httpsURL(region, product, ep))
	case ProtocolHTTP:
		return fetchHTTP(c.httpClient, httpURL(region, product, ep))
	case ProtocolTCP:
		version := "v2"
		return fetchTCP(c.dialer, region, product, ep, version)
	default:
		return nil, nerrors.New(nerrors.CodeSchema, "ribbit.fetchOnce").WithPath("unknown protocol")
	}
}

func (c *Client) finish(region Region, product Product, ep Endpoint, raw []byte, lastSeqn uint64) (*Result, error) {
	if isDEREndpoint(ep) {
		return &Result{Raw: raw, IsDER: true}, nil
	}

	doc, err := bpsv.Parse(raw)
	if err != nil {
		return nil, err
	}

	var seqn uint64
	if doc.Seqn != nil {
		seqn = *doc.Seqn
	}

	if c.seqCache != nil {
		if cached, ok := c.seqCache.Get(region, product, ep); ok && cached > seqn {
			seqn = cached // never regress what we've already observed
		}
		_ = c.seqCache.Put(region, product, ep, seqn)
	}

	if lastSeqn != 0 && seqn != 0 && lastSeqn >= seqn {
		return &Result{Raw: raw, Seqn: seqn, Unchanged: true}, nil
	}
	return &Result{Raw: raw, Seqn: seqn}, nil
}
