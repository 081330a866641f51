// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	nerrors "github.com/shell-reserve/ngdp/errors"
)

// doRangeGet issues a GET with a byte-Range header and classifies the
// response the way spec §4.E requires: 404/416-with-range is final, 429
// honors Retry-After, 5xx and connection failures are retryable transport
// noise.
func doRangeGet(ctx context.Context, doer HTTPDoer, host, url string, offset, length int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nerrors.Wrap(nerrors.CodeConnect, "fetch.doRangeGet", err).WithPath(url).WithHost(host)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := doer.Do(req)
	if err != nil {
		return nil, classifyTransportErr(err, url, host)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nerrors.Wrap(nerrors.CodeRead, "fetch.doRangeGet", err).WithPath(url).WithHost(host)
	}

	if err := classifyStatus(resp, url, host); err != nil {
		return nil, err
	}
	return body, nil
}

// doWholeGet issues an unranged GET for a loose file.
func doWholeGet(ctx context.Context, doer HTTPDoer, host, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nerrors.Wrap(nerrors.CodeConnect, "fetch.doWholeGet", err).WithPath(url).WithHost(host)
	}
	resp, err := doer.Do(req)
	if err != nil {
		return nil, classifyTransportErr(err, url, host)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nerrors.Wrap(nerrors.CodeRead, "fetch.doWholeGet", err).WithPath(url).WithHost(host)
	}
	if err := classifyStatus(resp, url, host); err != nil {
		return nil, err
	}
	return body, nil
}

func classifyStatus(resp *http.Response, url, host string) error {
	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusPartialContent:
		return nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return nerrors.New(nerrors.CodeMissing, "fetch").WithPath(url).WithHost(host)
	case resp.StatusCode == http.StatusTooManyRequests:
		return &rateLimitedError{
			Error:      nerrors.New(nerrors.CodeRateLimited, "fetch").WithPath(url).WithHost(host),
			retryAfter: retryAfterDuration(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode >= 500:
		return nerrors.New(nerrors.CodeTransientHTTP, "fetch").WithPath(url).WithHost(host)
	default:
		return nerrors.New(nerrors.CodeTransientHTTP, "fetch").WithPath(fmt.Sprintf("%s: status %d", url, resp.StatusCode)).WithHost(host)
	}
}

// rateLimitedError carries the server's requested Retry-After delay
// alongside the usual *errors.Error, so the retry loop can honor it
// instead of the computed backoff (spec §4.E "Rate-limit (429) respects
// Retry-After if present.").
type rateLimitedError struct {
	*nerrors.Error
	retryAfter time.Duration
}

func retryAfterDuration(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}
	return 0
}

func classifyTransportErr(err error, url, host string) error {
	return nerrors.Wrap(nerrors.CodeConnect, "fetch", err).WithPath(url).WithHost(host)
}

// sleepCtx sleeps for d or returns early with ctx.Err() if ctx is canceled
// first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return nerrors.Wrap(nerrors.CodeTimeout, "fetch.sleepCtx", ctx.Err())
	}
}
