// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ribbit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	nerrors "github.com/shell-reserve/ngdp/errors"
)

func bufioReader(b []byte) *bufio.Reader {
	return bufio.NewReader(bytes.NewReader(b))
}

// mimeChecksumToken precedes the trailing epilogue on every Ribbit v1 TCP
// response: "Checksum: <64 lowercase hex chars>".
const mimeChecksumToken = "Checksum: "

// decodeV1Response splits a Ribbit v1 TCP response into its MIME data part
// (raw BPSV or DER bytes) and its optional PKCS#7 signature part, verifying
// the trailing SHA-256 checksum epilogue against every byte that precedes
// the "Checksum:" token.
func decodeV1Response(raw []byte) (data, signature []byte, err error) {
	idx := bytes.LastIndex(raw, []byte(mimeChecksumToken))
	if idx < 0 {
		return nil, nil, nerrors.New(nerrors.CodeMimeChecksumMismatch, "ribbit.decodeV1Response").WithPath("missing Checksum epilogue")
	}
	digestHex := strings.TrimSpace(string(raw[idx+len(mimeChecksumToken):]))
	digestHex = strings.TrimRight(digestHex, "\r\n")

	want, herr := hex.DecodeString(digestHex)
	if herr != nil || len(want) != sha256.Size {
		return nil, nil, nerrors.New(nerrors.CodeMimeChecksumMismatch, "ribbit.decodeV1Response").WithPath("malformed checksum hex")
	}

	sum := sha256.Sum256(raw[:idx])
	if !bytes.Equal(sum[:], want) {
		return nil, nil, nerrors.New(nerrors.CodeMimeChecksumMismatch, "ribbit.decodeV1Response").WithPath("checksum mismatch")
	}

	body := raw[:idx]
	data, signature, err = parseMultipart(body)
	if err != nil {
		return nil, nil, nerrors.Wrap(nerrors.CodeMimeChecksumMismatch, "ribbit.decodeV1Response", err)
	}
	return data, signature, nil
}

// parseMultipart reads the "MIME-Version"/"Content-Type" header block
// followed by a multipart body, returning the first text/plain-ish part as
// data and any application/octet-stream (or pkcs7-signature) part as
// signature.
func parseMultipart(body []byte) (data, signature []byte, err error) {
	tp := textproto.NewReader(bufioReader(body))
	hdr, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, nil, err
	}

	ct := hdr.Get("Content-Type")
	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return nil, nil, err
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, nil, nerrors.New(nerrors.CodeMimeChecksumMismatch, "ribbit.parseMultipart").WithPath("missing MIME boundary")
	}

	mr := multipart.NewReader(tp.R, boundary)
	for {
		part, perr := mr.NextPart()
		if perr == io.EOF {
			break
		}
		if perr != nil {
			return nil, nil, perr
		}
		raw, rerr := io.ReadAll(part)
		if rerr != nil {
			return nil, nil, rerr
		}
		partCT := part.Header.Get("Content-Type")
		switch {
		case strings.Contains(partCT, "pkcs7") || strings.Contains(partCT, "octet-stream"):
			signature = raw
		default:
			if data == nil {
				data = raw
			}
		}
	}
	return data, signature, nil
}
