// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	nerrors "github.com/shell-reserve/ngdp/errors"
)

// codeFor maps a core error's Code to an exit code: success for a nil
// error, otherwise network, integrity, or generic.
func codeFor(err error) int {
	if err == nil {
		return exitSuccess
	}
	ne, ok := err.(*nerrors.Error)
	if !ok {
		return exitGeneric
	}
	switch ne.Code {
	case nerrors.CodeConnect, nerrors.CodeRead, nerrors.CodeTimeout, nerrors.CodeDNS,
		nerrors.CodeTLS, nerrors.CodeMissing, nerrors.CodeRangeUnsatisfiable,
		nerrors.CodeRateLimited, nerrors.CodeTransientHTTP:
		return exitNetwork
	case nerrors.CodeBadChecksum, nerrors.CodeChunkIntegrity, nerrors.CodeMimeChecksumMismatch,
		nerrors.CodeSignatureInvalid:
		return exitIntegrity
	default:
		return exitGeneric
	}
}
