// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package errors defines the error taxonomy every subsystem boundary
// converts into before returning to its caller. Callers switch on Code
// rather than matching strings or digging through wrapped transport errors.
package errors

import "fmt"

// Code categorizes an error into one of the classes a caller (CLI exit code,
// JSON error payload, retry policy) needs to distinguish.
type Code int

const (
	// Transport errors.
	CodeConnect Code = iota
	CodeRead
	CodeTimeout
	CodeDNS
	CodeTLS

	// HTTP errors.
	CodeMissing          // 404
	CodeRangeUnsatisfiable // 416, folded into Missing semantics
	CodeRateLimited        // 429
	CodeTransientHTTP      // 5xx

	// Integrity errors.
	CodeBadChecksum
	CodeChunkIntegrity
	CodeMimeChecksumMismatch
	CodeSignatureInvalid

	// Format errors.
	CodeSchema
	CodeArityMismatch
	CodeTypeError
	CodeBadMagic
	CodeUnsupportedVersion
	CodeTruncatedInput

	// Crypto errors.
	CodeMissingKey
	CodeUnsupportedCipher
	CodeDecryptionFailed

	// Resource errors.
	CodeCacheIO
	CodeDiskFull

	// Logic errors.
	CodeNotFound
	CodeAmbiguousRoot
)

var codeNames = map[Code]string{
	CodeConnect:              "Connect",
	CodeRead:                 "Read",
	CodeTimeout:              "Timeout",
	CodeDNS:                  "DNS",
	CodeTLS:                  "TLS",
	CodeMissing:              "Missing",
	CodeRangeUnsatisfiable:   "RangeUnsatisfiable",
	CodeRateLimited:          "RateLimited",
	CodeTransientHTTP:        "Transient",
	CodeBadChecksum:          "BadChecksum",
	CodeChunkIntegrity:       "ChunkIntegrityError",
	CodeMimeChecksumMismatch: "MimeChecksumMismatch",
	CodeSignatureInvalid:     "SignatureInvalid",
	CodeSchema:               "SchemaError",
	CodeArityMismatch:        "ArityMismatch",
	CodeTypeError:            "TypeError",
	CodeBadMagic:             "BadMagic",
	CodeUnsupportedVersion:   "UnsupportedVersion",
	CodeTruncatedInput:       "TruncatedInput",
	CodeMissingKey:           "MissingKey",
	CodeUnsupportedCipher:    "UnsupportedCipher",
	CodeDecryptionFailed:     "DecryptionFailed",
	CodeCacheIO:              "CacheIoError",
	CodeDiskFull:             "DiskFull",
	CodeNotFound:             "NotFound",
	CodeAmbiguousRoot:        "AmbiguousRoot",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Retryable reports whether local retry policy should consume this class of
// error before it propagates to the caller, per spec §7.
func (c Code) Retryable() bool {
	switch c {
	case CodeConnect, CodeRead, CodeTimeout, CodeTransientHTTP, CodeRateLimited:
		return true
	default:
		return false
	}
}

// Error is the concrete error value every subsystem boundary returns. Op
// names the failing operation, Hash/Host/Path carry whatever diagnostic
// context is available for the given Code.
type Error struct {
	Code Code
	Op   string
	Hash string
	Host string
	Path string
	Err  error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Op, e.Code)
	if e.Host != "" {
		s += fmt.Sprintf(" host=%s", e.Host)
	}
	if e.Path != "" {
		s += fmt.Sprintf(" path=%s", e.Path)
	}
	if e.Hash != "" {
		s += fmt.Sprintf(" hash=%s", e.Hash)
	}
	if e.Err != nil {
		s += fmt.Sprintf(": %v", e.Err)
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, errors.New(CodeNotFound, ...)) style comparisons
// work by Code rather than by pointer identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New constructs an *Error with the given code and operation name.
func New(code Code, op string) *Error {
	return &Error{Code: code, Op: op}
}

// Wrap constructs an *Error wrapping err under the given code and operation.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// WithHash returns a shallow copy of e with Hash set, for chaining at
// construction sites: errors.New(CodeNotFound, "root.Lookup").WithHash(ck.String())
func (e *Error) WithHash(h string) *Error {
	c := *e
	c.Hash = h
	return &c
}

// WithHost returns a shallow copy of e with Host set.
func (e *Error) WithHost(host string) *Error {
	c := *e
	c.Host = host
	return &c
}

// WithPath returns a shallow copy of e with Path set.
func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

// Sentinel errors for codes callers commonly match with errors.Is without
// needing the context fields.
var (
	ErrNotFound         = New(CodeNotFound, "")
	ErrMissing          = New(CodeMissing, "")
	ErrAmbiguousRoot    = New(CodeAmbiguousRoot, "")
	ErrMissingKey       = New(CodeMissingKey, "")
	ErrUnsupportedCipher = New(CodeUnsupportedCipher, "")
	ErrChunkIntegrity   = New(CodeChunkIntegrity, "")
)
