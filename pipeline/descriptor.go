// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pipeline

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/shell-reserve/ngdp/bpsv"
	nerrors "github.com/shell-reserve/ngdp/errors"
	"github.com/shell-reserve/ngdp/hash"
)

// BuildDescriptor is one row of the product's "versions" BPSV document: the
// set of hashes identifying a single published build (spec §3 "Build
// descriptor").
type BuildDescriptor struct {
	Region        string
	BuildConfig   hash.EncodingKey
	CDNConfig     hash.EncodingKey
	KeyRing       hash.EncodingKey
	BuildID       uint32
	VersionsName  string
	ProductConfig hash.EncodingKey
	Seqn          uint64
}

// cdnEntry is one row of the product's "cdns" BPSV document.
type cdnEntry struct {
	Name       string
	Path       string
	Hosts      []string
	Servers    []string
	ConfigPath string
}

// parseVersions decodes the "versions" endpoint document into one
// BuildDescriptor per region.
func parseVersions(raw []byte, seqn uint64) ([]BuildDescriptor, error) {
	doc, err := bpsv.Parse(raw)
	if err != nil {
		return nil, nerrors.Wrap(nerrors.CodeSchema, "pipeline.parseVersions", err)
	}
	out := make([]BuildDescriptor, 0, len(doc.Rows))
	for i := range doc.Rows {
		d := BuildDescriptor{Seqn: seqn}
		if v, ok := doc.Field(i, "Region"); ok {
			d.Region = v.Raw()
		}
		if v, ok := doc.Field(i, "BuildConfig"); ok {
			d.BuildConfig, _ = hash.ParseEncodingKey(v.Raw())
		}
		if v, ok := doc.Field(i, "CDNConfig"); ok {
			d.CDNConfig, _ = hash.ParseEncodingKey(v.Raw())
		}
		if v, ok := doc.Field(i, "KeyRing"); ok {
			d.KeyRing, _ = hash.ParseEncodingKey(v.Raw())
		}
		if v, ok := doc.Field(i, "VersionsName"); ok {
			d.VersionsName = v.Raw()
		}
		if v, ok := doc.Field(i, "ProductConfig"); ok {
			d.ProductConfig, _ = hash.ParseEncodingKey(v.Raw())
		}
		out = append(out, d)
	}
	return out, nil
}

// parseCDNs decodes the "cdns" endpoint document into one cdnEntry per
// region, carrying the CDN host pool the fetcher needs.
func parseCDNs(raw []byte) ([]cdnEntry, error) {
	doc, err := bpsv.Parse(raw)
	if err != nil {
		return nil, nerrors.Wrap(nerrors.CodeSchema, "pipeline.parseCDNs", err)
	}
	out := make([]cdnEntry, 0, len(doc.Rows))
	for i := range doc.Rows {
		e := cdnEntry{}
		if v, ok := doc.Field(i, "Name"); ok {
			e.Name = v.Raw()
		}
		if v, ok := doc.Field(i, "Path"); ok {
			e.Path = v.Raw()
		}
		if v, ok := doc.Field(i, "Hosts"); ok {
			e.Hosts = strings.Fields(v.Raw())
		}
		if v, ok := doc.Field(i, "Servers"); ok {
			e.Servers = strings.Fields(v.Raw())
		}
		if v, ok := doc.Field(i, "ConfigPath"); ok {
			e.ConfigPath = v.Raw()
		}
		out = append(out, e)
	}
	return out, nil
}

// BuildConfig is the parsed "key = value" text file a build descriptor's
// BuildConfig hash resolves to: the encoding/root/install/download/size
// EKeys the manifest store needs to bootstrap a build.
type BuildConfig struct {
	Root         hash.ContentKey
	Install      hash.EncodingKey
	Download     hash.EncodingKey
	Size         hash.EncodingKey
	EncodingCKey hash.ContentKey
	EncodingEKey hash.EncodingKey
}

// parseBuildConfig parses the plain-text "key = value" build-config format
// (spec §6 key file note covers the key-ring variant; build-config itself is
// the same "key = value, space-separated hash list" shape used throughout
// NGDP). Each key's value may carry one or two whitespace-separated hashes:
// the content hash and, for encoding, the paired encoding hash.
func parseBuildConfig(raw []byte) (BuildConfig, error) {
	var cfg BuildConfig
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		fields := strings.Fields(val)
		switch key {
		case "root":
			if len(fields) > 0 {
				cfg.Root, _ = hash.ParseContentKey(fields[0])
			}
		case "install":
			if len(fields) > 0 {
				cfg.Install, _ = hash.ParseEncodingKey(fields[0])
			}
		case "download":
			if len(fields) > 0 {
				cfg.Download, _ = hash.ParseEncodingKey(fields[0])
			}
		case "size":
			if len(fields) > 0 {
				cfg.Size, _ = hash.ParseEncodingKey(fields[0])
			}
		case "encoding":
			if len(fields) > 0 {
				cfg.EncodingCKey, _ = hash.ParseContentKey(fields[0])
			}
			if len(fields) > 1 {
				cfg.EncodingEKey, _ = hash.ParseEncodingKey(fields[1])
			}
		}
	}
	if err := sc.Err(); err != nil {
		return cfg, nerrors.Wrap(nerrors.CodeTruncatedInput, "pipeline.parseBuildConfig", err)
	}
	return cfg, nil
}

// CDNConfig is the parsed "key = value" CDN-config file a build
// descriptor's CDNConfig hash resolves to: the set of archives whose
// .index sidecars must be loaded to build the archive-index Group.
type CDNConfig struct {
	Archives     []hash.EncodingKey
	ArchiveGroup hash.EncodingKey
}

// parseCDNConfig parses the CDN-config text file the same "key = value"
// way as parseBuildConfig.
func parseCDNConfig(raw []byte) (CDNConfig, error) {
	var cfg CDNConfig
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		switch key {
		case "archives":
			for _, tok := range strings.Fields(val) {
				if ek, err := hash.ParseEncodingKey(tok); err == nil {
					cfg.Archives = append(cfg.Archives, ek)
				}
			}
		case "archive-group":
			fields := strings.Fields(val)
			if len(fields) > 0 {
				cfg.ArchiveGroup, _ = hash.ParseEncodingKey(fields[0])
			}
		}
	}
	if err := sc.Err(); err != nil {
		return cfg, nerrors.Wrap(nerrors.CodeTruncatedInput, "pipeline.parseCDNConfig", err)
	}
	return cfg, nil
}
