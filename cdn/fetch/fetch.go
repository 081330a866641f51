// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package fetch implements the CDN range fetcher of spec §4.E: host-pool
// failover with per-host circuit breaking, range coalescing, retry with
// backoff, single-flight request dedup, and MD5 verification against the
// requested EncodingKey before a response is cached or handed back.
package fetch

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shell-reserve/ngdp/cdn/cache"
	nerrors "github.com/shell-reserve/ngdp/errors"
	"github.com/shell-reserve/ngdp/hash"
	"github.com/shell-reserve/ngdp/retry"
)

// HTTPDoer is satisfied by *http.Client and by test doubles, matching the
// seam ribbit.Client uses for its own transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher is the CDN range fetcher: it resolves a (scheme, host, cdn-path)
// triple plus an archive hash and byte range into verified bytes, trying
// each host in HostPool order with retry+backoff before failing over.
type Fetcher struct {
	doer        HTTPDoer
	hosts       *HostPool
	cdnPath     string
	scheme      string
	retryPolicy retry.Policy
	coalesce    int64
	chunkSize   int64
	cache       *cache.Cache
	neg         *negativeCache
	sf          singleflight.Group
}

// Option configures a Fetcher at construction.
type Option func(*Fetcher)

// WithHTTPDoer overrides the HTTP transport, primarily for tests.
func WithHTTPDoer(d HTTPDoer) Option { return func(f *Fetcher) { f.doer = d } }

// WithScheme overrides the URL scheme (default "https").
func WithScheme(scheme string) Option { return func(f *Fetcher) { f.scheme = scheme } }

// WithRetryPolicy overrides the default per-host backoff policy.
func WithRetryPolicy(p retry.Policy) Option { return func(f *Fetcher) { f.retryPolicy = p } }

// WithCoalesceWindow overrides the default 64 KiB range-merge gap.
func WithCoalesceWindow(n int64) Option { return func(f *Fetcher) { f.coalesce = n } }

// WithChunkSize overrides the default 64 KiB sequential streaming chunk.
func WithChunkSize(n int64) Option { return func(f *Fetcher) { f.chunkSize = n } }

// WithCache attaches the two-tier cache responses are verified into.
func WithCache(c *cache.Cache) Option { return func(f *Fetcher) { f.cache = c } }

// WithNegativeCacheSize overrides the known-missing EKey cache capacity.
func WithNegativeCacheSize(n uint) Option {
	return func(f *Fetcher) { f.neg = newNegativeCache(n) }
}

// New constructs a Fetcher against cdnPath (the CDN config's "path" field,
// e.g. "tpr/wow") using hosts as the primary/mirror/custom pool.
func New(cdnPath string, hosts *HostPool, opts ...Option) *Fetcher {
	f := &Fetcher{
		doer:    &http.Client{},
		hosts:   hosts,
		cdnPath: cdnPath,
		scheme:  "https",
		retryPolicy: retry.Policy{
			MaxAttempts: 6, // matches spec's 5-retry ladder (100..1600ms) plus the first attempt
			Initial:     100 * time.Millisecond,
			Max:         1600 * time.Millisecond,
			JitterFrac:  0.10,
		},
		coalesce:  DefaultCoalesceWindow,
		chunkSize: DefaultChunkSize,
		neg:       newNegativeCache(0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func dataURL(scheme, host, cdnPath string, h hash.EncodingKey) string {
	hex := h.String()
	return fmt.Sprintf("%s://%s/%s/data/%s/%s/%s", scheme, host, cdnPath, hex[0:2], hex[2:4], hex)
}

// Get fetches the byte range [offset, offset+length) of archiveHash from
// the CDN, verifies its MD5 against ek, and returns the verified bytes,
// serving from cache when possible. ek is the EncodingKey of the object
// stored at that location, not the archive itself.
func (f *Fetcher) Get(ctx context.Context, ek hash.EncodingKey, archiveHash hash.EncodingKey, offset, length uint32) ([]byte, error) {
	if f.neg != nil && f.neg.isKnownMissing(ek) {
		return nil, nerrors.New(nerrors.CodeMissing, "fetch.Get").WithHash(ek.String())
	}

	fetchVerified := func() ([]byte, error) {
		data, ferr := f.fetchRangeWithFailover(ctx, archiveHash, int64(offset), int64(length))
		if ferr != nil {
			if ne, ok := ferr.(*nerrors.Error); ok && ne.Code == nerrors.CodeMissing && f.neg != nil {
				f.neg.markMissing(ek)
			}
			return nil, ferr
		}
		if err := verify(ek, data); err != nil {
			return nil, err
		}
		return data, nil
	}

	if f.cache != nil {
		return f.cache.GetOrFetch(ek, fetchVerified)
	}

	key := ek.String()
	v, err, _ := f.sf.Do(key, func() (interface{}, error) { return fetchVerified() })
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// GetLoose fetches an EKey-addressed loose file (no archive-index hit) and
// verifies it the same way Get does (spec §4.C "Loose files").
func (f *Fetcher) GetLoose(ctx context.Context, ek hash.EncodingKey) ([]byte, error) {
	if f.neg != nil && f.neg.isKnownMissing(ek) {
		return nil, nerrors.New(nerrors.CodeMissing, "fetch.GetLoose").WithHash(ek.String())
	}

	fetchVerified := func() ([]byte, error) {
		data, ferr := f.fetchWholeWithFailover(ctx, ek)
		if ferr != nil {
			if ne, ok := ferr.(*nerrors.Error); ok && ne.Code == nerrors.CodeMissing && f.neg != nil {
				f.neg.markMissing(ek)
			}
			return nil, ferr
		}
		if err := verify(ek, data); err != nil {
			return nil, err
		}
		return data, nil
	}

	if f.cache != nil {
		return f.cache.GetOrFetch(ek, fetchVerified)
	}

	key := ek.String()
	v, err, _ := f.sf.Do(key, func() (interface{}, error) { return fetchVerified() })
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// GetArchiveIndex fetches an archive's ".index" sidecar (spec §4.C). Index
// files carry their own MD5 footer checksum, verified by archiveindex.Parse
// over the footer fields, so this skips the EKey-against-body verification
// Get and GetLoose perform.
func (f *Fetcher) GetArchiveIndex(ctx context.Context, archiveHash hash.EncodingKey) ([]byte, error) {
	fetchIndex := func() ([]byte, error) {
		return f.fetchIndexWithFailover(ctx, archiveHash)
	}

	if f.cache != nil {
		return f.cache.GetOrFetch(archiveHash, fetchIndex)
	}

	key := archiveHash.String() + ".index"
	v, err, _ := f.sf.Do(key, func() (interface{}, error) { return fetchIndex() })
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// LocatedItem is one object's request against a shared archive: its own
// EKey and the byte range archiveindex resolved it to.
type LocatedItem struct {
	EKey   hash.EncodingKey
	Offset uint32
	Length uint32
}

// GetMany resolves several objects known to live in the same archive in as
// few HTTP requests as possible: requested ranges within the coalescing
// window are merged into one range request, the single fetched buffer is
// sliced back per item, and each slice is independently verified and
// cached (spec §4.E "Range coalescing").
func (f *Fetcher) GetMany(ctx context.Context, archiveHash hash.EncodingKey, items []LocatedItem) (map[hash.EncodingKey][]byte, error) {
	out := make(map[hash.EncodingKey][]byte, len(items))
	var uncached []LocatedItem
	for _, it := range items {
		if f.cache != nil {
			if v, ok := f.cache.Get(it.EKey); ok {
				out[it.EKey] = v
				continue
			}
		}
		uncached = append(uncached, it)
	}
	if len(uncached) == 0 {
		return out, nil
	}

	ranges := make([]byteRange, len(uncached))
	for i, it := range uncached {
		ranges[i] = byteRange{Offset: int64(it.Offset), Length: int64(it.Length)}
	}
	merged := mergeRanges(ranges, f.coalesce)

	fetched := make([][]byte, len(merged))
	for i, m := range merged {
		data, err := f.fetchRangeWithFailover(ctx, archiveHash, m.Offset, m.Length)
		if err != nil {
			return nil, err
		}
		fetched[i] = data
	}

	for _, it := range uncached {
		want := byteRange{Offset: int64(it.Offset), Length: int64(it.Length)}
		mergedIdx, within := findCoveringIndex(merged, want)
		if mergedIdx < 0 {
			return nil, nerrors.New(nerrors.CodeNotFound, "fetch.GetMany").WithHash(it.EKey.String())
		}
		slice := fetched[mergedIdx][within : within+int64(it.Length)]
		if err := verify(it.EKey, slice); err != nil {
			return nil, err
		}
		if f.cache != nil {
			if perr := f.cache.Put(it.EKey, slice); perr != nil {
				log.Warnf("fetch: cache put failed for %s: %v", it.EKey, perr)
			}
		}
		out[it.EKey] = slice
	}
	return out, nil
}

func verify(ek hash.EncodingKey, data []byte) error {
	sum := md5.Sum(data)
	if hash.EncodingKey(sum) != ek {
		return nerrors.New(nerrors.CodeBadChecksum, "fetch.verify").WithHash(ek.String())
	}
	return nil
}

// fetchRangeWithFailover tries each host pool candidate in order, retrying
// each with backoff per spec §4.E, until one succeeds or the pool is
// exhausted.
func (f *Fetcher) fetchRangeWithFailover(ctx context.Context, archiveHash hash.EncodingKey, offset, length int64) ([]byte, error) {
	var lastErr error
	for _, host := range f.hosts.Candidates() {
		data, err := f.fetchRangeWithRetry(ctx, host, archiveHash, offset, length)
		if err == nil {
			f.hosts.ReportSuccess(host)
			return data, nil
		}
		lastErr = err
		if ne, ok := err.(*nerrors.Error); ok && ne.Code == nerrors.CodeMissing {
			return nil, err // 404 is final, no point trying the next host
		}
		f.hosts.ReportFailure(host)
	}
	if lastErr == nil {
		lastErr = nerrors.New(nerrors.CodeConnect, "fetch.fetchRangeWithFailover").WithHash(archiveHash.String())
	}
	return nil, lastErr
}

func (f *Fetcher) fetchWholeWithFailover(ctx context.Context, ek hash.EncodingKey) ([]byte, error) {
	var lastErr error
	for _, host := range f.hosts.Candidates() {
		data, err := f.fetchWholeWithRetry(ctx, host, ek)
		if err == nil {
			f.hosts.ReportSuccess(host)
			return data, nil
		}
		lastErr = err
		if ne, ok := err.(*nerrors.Error); ok && ne.Code == nerrors.CodeMissing {
			return nil, err
		}
		f.hosts.ReportFailure(host)
	}
	if lastErr == nil {
		lastErr = nerrors.New(nerrors.CodeConnect, "fetch.fetchWholeWithFailover").WithHash(ek.String())
	}
	return nil, lastErr
}

// retryDelay picks the backoff to wait before the next attempt, honoring
// a 429's Retry-After header when the previous error carried one.
func (f *Fetcher) retryDelay(attempt int, prevErr error) time.Duration {
	if rl, ok := prevErr.(*rateLimitedError); ok {
		return f.retryPolicy.RetryAfter(attempt, rl.retryAfter)
	}
	return f.retryPolicy.Delay(attempt)
}

// nonRetryable reports whether err's underlying error code means further
// attempts are pointless.
func nonRetryable(err error) bool {
	if rl, ok := err.(*rateLimitedError); ok {
		return !rl.Code.Retryable()
	}
	ne, ok := err.(*nerrors.Error)
	return ok && !ne.Code.Retryable()
}

func (f *Fetcher) fetchRangeWithRetry(ctx context.Context, host string, archiveHash hash.EncodingKey, offset, length int64) ([]byte, error) {
	url := dataURL(f.scheme, host, f.cdnPath, archiveHash)
	var lastErr error
	for attempt := 0; attempt < f.retryPolicy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, f.retryDelay(attempt, lastErr)); err != nil {
				return nil, err
			}
		}
		data, err := doRangeGet(ctx, f.doer, host, url, offset, length)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if nonRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (f *Fetcher) fetchWholeWithRetry(ctx context.Context, host string, ek hash.EncodingKey) ([]byte, error) {
	url := dataURL(f.scheme, host, f.cdnPath, ek)
	var lastErr error
	for attempt := 0; attempt < f.retryPolicy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, f.retryDelay(attempt, lastErr)); err != nil {
				return nil, err
			}
		}
		data, err := doWholeGet(ctx, f.doer, host, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if nonRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (f *Fetcher) fetchIndexWithFailover(ctx context.Context, archiveHash hash.EncodingKey) ([]byte, error) {
	var lastErr error
	for _, host := range f.hosts.Candidates() {
		data, err := f.fetchIndexWithRetry(ctx, host, archiveHash)
		if err == nil {
			f.hosts.ReportSuccess(host)
			return data, nil
		}
		lastErr = err
		if ne, ok := err.(*nerrors.Error); ok && ne.Code == nerrors.CodeMissing {
			return nil, err
		}
		f.hosts.ReportFailure(host)
	}
	if lastErr == nil {
		lastErr = nerrors.New(nerrors.CodeConnect, "fetch.fetchIndexWithFailover").WithHash(archiveHash.String())
	}
	return nil, lastErr
}

func (f *Fetcher) fetchIndexWithRetry(ctx context.Context, host string, archiveHash hash.EncodingKey) ([]byte, error) {
	url := dataURL(f.scheme, host, f.cdnPath, archiveHash) + ".index"
	var lastErr error
	for attempt := 0; attempt < f.retryPolicy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, f.retryDelay(attempt, lastErr)); err != nil {
				return nil, err
			}
		}
		data, err := doWholeGet(ctx, f.doer, host, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if nonRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// ArchiveReader issues sequential range requests of chunkSize across an
// archive's [offset, offset+length) window without ever holding the whole
// archive in memory at once (spec §4.E "A streaming read over an archive
// issues sequential range requests of up to chunk_size ... each.").
type ArchiveReader struct {
	f           *Fetcher
	host        string
	archiveHash hash.EncodingKey
	pos         int64
	end         int64
	buf         []byte
}

// NewArchiveReader starts a streaming read. It picks one host up front and
// sticks with it for the duration of the stream rather than failing over
// mid-stream, since a partial archive already buffered against one host's
// byte offsets cannot be safely resumed against another.
func (f *Fetcher) NewArchiveReader(ctx context.Context, archiveHash hash.EncodingKey, offset, length int64) (*ArchiveReader, error) {
	candidates := f.hosts.Candidates()
	if len(candidates) == 0 {
		return nil, nerrors.New(nerrors.CodeConnect, "fetch.NewArchiveReader").WithHash(archiveHash.String())
	}
	return &ArchiveReader{
		f:           f,
		host:        candidates[0],
		archiveHash: archiveHash,
		pos:         offset,
		end:         offset + length,
	}, nil
}

func (r *ArchiveReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		if r.pos >= r.end {
			return 0, io.EOF
		}
		n := r.f.chunkSize
		if remaining := r.end - r.pos; remaining < n {
			n = remaining
		}
		data, err := r.f.fetchRangeWithRetry(context.Background(), r.host, r.archiveHash, r.pos, n)
		if err != nil {
			r.f.hosts.ReportFailure(r.host)
			return 0, err
		}
		r.f.hosts.ReportSuccess(r.host)
		r.pos += int64(len(data))
		r.buf = data
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
