// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ribbit

import (
	"fmt"
	"io"
	"net/http"

	nerrors "github.com/shell-reserve/ngdp/errors"
)

// HTTPDoer is satisfied by *http.Client and by test doubles.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func httpsURL(region Region, product Product, ep Endpoint) string {
	return fmt.Sprintf("https://%s.version.battle.net/v2/products/%s/%s", region, product, ep)
}

func httpURL(region Region, product Product, ep Endpoint) string {
	return fmt.Sprintf("http://%s.patch.battle.net:1119/%s/%s", region, product, ep)
}

func fetchHTTP(doer HTTPDoer, url string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, nerrors.Wrap(nerrors.CodeConnect, "ribbit.fetchHTTP", err).WithPath(url)
	}
	resp, err := doer.Do(req)
	if err != nil {
		return nil, classifyHTTPErr(err, url)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nerrors.Wrap(nerrors.CodeRead, "ribbit.fetchHTTP", err).WithPath(url)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nerrors.New(nerrors.CodeMissing, "ribbit.fetchHTTP").WithPath(url)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, nerrors.New(nerrors.CodeRateLimited, "ribbit.fetchHTTP").WithPath(url)
	case resp.StatusCode >= 500:
		return nil, nerrors.New(nerrors.CodeTransientHTTP, "ribbit.fetchHTTP").WithPath(url)
	case resp.StatusCode != http.StatusOK:
		return nil, nerrors.New(nerrors.CodeTransientHTTP, "ribbit.fetchHTTP").WithPath(fmt.Sprintf("%s: status %d", url, resp.StatusCode))
	}
	return body, nil
}

func classifyHTTPErr(err error, url string) error {
	// net/http wraps connect/timeout/DNS errors as *url.Error; treat
	// anything we can't open a connection for as retryable transport noise,
	// matching spec §7's Transport class.
	return nerrors.Wrap(nerrors.CodeConnect, "ribbit.fetchHTTP", err).WithPath(url)
}
