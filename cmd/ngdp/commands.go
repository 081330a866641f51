// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/shell-reserve/ngdp/bpsv"
	"github.com/shell-reserve/ngdp/ribbit"
)

// runProducts implements `products list|versions|cdns` (spec §6).
func (a *app) runProducts(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ngdp products <list|versions|cdns> ...")
		return exitUsage
	}
	switch args[0] {
	case "list":
		return a.productsList(args[1:])
	case "versions":
		return a.productsVersions(args[1:])
	case "cdns":
		return a.productsCDNs(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "ngdp: unknown products subcommand %q\n", args[0])
		return exitUsage
	}
}

// productsList fetches the product "summary" endpoint, which lists every
// product the CDN currently serves (spec §4.B "summary" endpoint kind).
func (a *app) productsList(args []string) int {
	region := ribbit.Region(a.cfg.Region)
	result, err := a.discovery.Get(region, "", ribbit.EndpointSummary, 0)
	if err != nil {
		printErr(err, a.cfg.Output)
		return codeFor(err)
	}
	doc, err := bpsv.Parse(result.Raw)
	if err != nil {
		printErr(err, a.cfg.Output)
		return codeFor(err)
	}
	if err := printDocument(doc, a.cfg.Output); err != nil {
		printErr(err, a.cfg.Output)
		return exitGeneric
	}
	return exitSuccess
}

// productsVersions fetches the "versions" document for a single product.
func (a *app) productsVersions(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ngdp products versions <product>")
		return exitUsage
	}
	product := ribbit.Product(args[0])
	region := ribbit.Region(a.cfg.Region)
	result, err := a.discovery.Get(region, product, ribbit.EndpointVersions, 0)
	if err != nil {
		printErr(err, a.cfg.Output)
		return codeFor(err)
	}
	doc, err := bpsv.Parse(result.Raw)
	if err != nil {
		printErr(err, a.cfg.Output)
		return codeFor(err)
	}
	if err := printDocument(doc, a.cfg.Output); err != nil {
		printErr(err, a.cfg.Output)
		return exitGeneric
	}
	return exitSuccess
}

// productsCDNs fetches the "cdns" document for a single product.
func (a *app) productsCDNs(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ngdp products cdns <product>")
		return exitUsage
	}
	product := ribbit.Product(args[0])
	region := ribbit.Region(a.cfg.Region)
	result, err := a.discovery.Get(region, product, ribbit.EndpointCDNs, 0)
	if err != nil {
		printErr(err, a.cfg.Output)
		return codeFor(err)
	}
	doc, err := bpsv.Parse(result.Raw)
	if err != nil {
		printErr(err, a.cfg.Output)
		return codeFor(err)
	}
	if err := printDocument(doc, a.cfg.Output); err != nil {
		printErr(err, a.cfg.Output)
		return exitGeneric
	}
	return exitSuccess
}

// runInspect implements `inspect bpsv <path-or-url> [--raw]`: parses a BPSV
// document from a local file or an http(s) URL and renders it.
func (a *app) runInspect(args []string) int {
	if len(args) == 0 || args[0] != "bpsv" {
		fmt.Fprintln(os.Stderr, "usage: ngdp inspect bpsv <path-or-url> [--raw]")
		return exitUsage
	}
	args = args[1:]
	raw := false
	var target string
	for _, arg := range args {
		if arg == "--raw" {
			raw = true
			continue
		}
		target = arg
	}
	if target == "" {
		fmt.Fprintln(os.Stderr, "usage: ngdp inspect bpsv <path-or-url> [--raw]")
		return exitUsage
	}

	data, err := readPathOrURL(target)
	if err != nil {
		printErr(err, a.cfg.Output)
		return codeFor(err)
	}
	if raw {
		os.Stdout.Write(data)
		return exitSuccess
	}

	doc, err := bpsv.Parse(data)
	if err != nil {
		printErr(err, a.cfg.Output)
		return codeFor(err)
	}
	if err := printDocument(doc, a.cfg.Output); err != nil {
		printErr(err, a.cfg.Output)
		return exitGeneric
	}
	return exitSuccess
}

func readPathOrURL(target string) ([]byte, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		resp, err := http.Get(target)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	}
	return os.ReadFile(target)
}

// runCerts implements `certs download <ski> [--output P]
// [--cert-format pem|der]` (spec §6 "certificate/ocsp endpoints ... return
// DER, not BPSV", SPEC_FULL.md supplemented feature 2). A --details flag is
// accepted and ignored; no certificate details are printed.
func (a *app) runCerts(args []string) int {
	if len(args) == 0 || args[0] != "download" {
		fmt.Fprintln(os.Stderr, "usage: ngdp certs download <ski> [--output P] [--cert-format pem|der]")
		return exitUsage
	}
	args = args[1:]
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ngdp certs download <ski> [--output P] [--cert-format pem|der]")
		return exitUsage
	}
	ski := args[0]

	region := ribbit.Region(a.cfg.Region)
	result, err := a.discovery.Get(region, ribbit.Product(ski), ribbit.EndpointCertificate, 0)
	if err != nil {
		printErr(err, a.cfg.Output)
		return codeFor(err)
	}
	if !result.IsDER {
		fmt.Fprintln(os.Stderr, "ngdp: certificate endpoint did not return DER")
		return exitGeneric
	}

	outPath := ""
	format := "der"
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--output":
			if i+1 < len(args) {
				i++
				outPath = args[i]
			}
		case "--cert-format":
			if i+1 < len(args) {
				i++
				format = args[i]
			}
		}
	}

	payload := result.Raw
	if format == "pem" {
		payload = derToPEM(payload)
	}

	if outPath == "" {
		os.Stdout.Write(payload)
		return exitSuccess
	}
	if err := os.WriteFile(outPath, payload, 0644); err != nil {
		printErr(err, a.cfg.Output)
		return exitGeneric
	}
	return exitSuccess
}

func derToPEM(der []byte) []byte {
	var b strings.Builder
	b.WriteString("-----BEGIN CERTIFICATE-----\n")
	enc := pemBase64(der)
	for i := 0; i < len(enc); i += 64 {
		end := i + 64
		if end > len(enc) {
			end = len(enc)
		}
		b.WriteString(enc[i:end])
		b.WriteByte('\n')
	}
	b.WriteString("-----END CERTIFICATE-----\n")
	return []byte(b.String())
}

func pemBase64(der []byte) string {
	return base64.StdEncoding.EncodeToString(der)
}
