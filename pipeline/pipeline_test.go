// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shell-reserve/ngdp/archiveindex"
	"github.com/shell-reserve/ngdp/cdn/fetch"
	"github.com/shell-reserve/ngdp/hash"
	"github.com/shell-reserve/ngdp/manifest"
	"github.com/shell-reserve/ngdp/manifest/encoding"
	"github.com/shell-reserve/ngdp/manifest/root"
)

const versionsFixture = `Region!STRING:0|BuildConfig!HEX:16|CDNConfig!HEX:16|KeyRing!HEX:16|BuildId!DEC:4|VersionsName!String:0|ProductConfig!HEX:16
## seqn = 1234
us|00000000000000000000000000000001|00000000000000000000000000000002|00000000000000000000000000000003|54321|1.2.3.54321|00000000000000000000000000000004
eu|00000000000000000000000000000011|00000000000000000000000000000012|00000000000000000000000000000013|54321|1.2.3.54321|00000000000000000000000000000014
`

const cdnsFixture = `Name!STRING:0|Path!STRING:0|Hosts!STRING:0|Servers!STRING:0|ConfigPath!STRING:0
## seqn = 1234
us|tpr/wow|cdn.us.blizzard.com|http://cdn.us.blizzard.com|tpr/configs/data
eu|tpr/wow|cdn.eu.blizzard.com|http://cdn.eu.blizzard.com|tpr/configs/data
`

func TestParseVersions(t *testing.T) {
	descs, err := parseVersions([]byte(versionsFixture), 1234)
	require.NoError(t, err)
	require.Len(t, descs, 2)

	us := descs[0]
	require.Equal(t, "us", us.Region)
	require.Equal(t, uint64(1234), us.Seqn)
	require.Equal(t, "1.2.3.54321", us.VersionsName)

	wantBuildConfig, err := hash.ParseEncodingKey("00000000000000000000000000000001")
	require.NoError(t, err)
	require.Equal(t, wantBuildConfig, us.BuildConfig)
}

func TestParseCDNs(t *testing.T) {
	rows, err := parseCDNs([]byte(cdnsFixture))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	us := rows[0]
	require.Equal(t, "us", us.Name)
	require.Equal(t, "tpr/wow", us.Path)
	require.Equal(t, []string{"cdn.us.blizzard.com"}, us.Hosts)
	require.Equal(t, []string{"http://cdn.us.blizzard.com"}, us.Servers)
	require.Equal(t, "tpr/configs/data", us.ConfigPath)
}

func TestParseBuildConfig(t *testing.T) {
	raw := []byte(strings.Join([]string{
		"# build config",
		"root = " + strings.Repeat("aa", 16),
		"install = " + strings.Repeat("bb", 16),
		"install-size = 100",
		"download = " + strings.Repeat("cc", 16),
		"download-size = 200",
		"size = " + strings.Repeat("dd", 16),
		"encoding = " + strings.Repeat("ee", 16) + " " + strings.Repeat("ff", 16),
		"encoding-size = 300 400",
		"",
	}, "\n"))

	cfg, err := parseBuildConfig(raw)
	require.NoError(t, err)

	wantRoot, _ := hash.ParseContentKey(strings.Repeat("aa", 16))
	wantInstall, _ := hash.ParseEncodingKey(strings.Repeat("bb", 16))
	wantDownload, _ := hash.ParseEncodingKey(strings.Repeat("cc", 16))
	wantSize, _ := hash.ParseEncodingKey(strings.Repeat("dd", 16))
	wantEncodingCKey, _ := hash.ParseContentKey(strings.Repeat("ee", 16))
	wantEncodingEKey, _ := hash.ParseEncodingKey(strings.Repeat("ff", 16))

	require.Equal(t, wantRoot, cfg.Root)
	require.Equal(t, wantInstall, cfg.Install)
	require.Equal(t, wantDownload, cfg.Download)
	require.Equal(t, wantSize, cfg.Size)
	require.Equal(t, wantEncodingCKey, cfg.EncodingCKey)
	require.Equal(t, wantEncodingEKey, cfg.EncodingEKey)
}

func TestParseCDNConfig(t *testing.T) {
	raw := []byte(strings.Join([]string{
		"archives = " + strings.Repeat("11", 16) + " " + strings.Repeat("22", 16),
		"archive-group = " + strings.Repeat("33", 16),
		"",
	}, "\n"))

	cfg, err := parseCDNConfig(raw)
	require.NoError(t, err)
	require.Len(t, cfg.Archives, 2)

	want0, _ := hash.ParseEncodingKey(strings.Repeat("11", 16))
	want1, _ := hash.ParseEncodingKey(strings.Repeat("22", 16))
	wantGroup, _ := hash.ParseEncodingKey(strings.Repeat("33", 16))
	require.Equal(t, want0, cfg.Archives[0])
	require.Equal(t, want1, cfg.Archives[1])
	require.Equal(t, wantGroup, cfg.ArchiveGroup)
}

// blteWrapRaw wraps payload as a single implicit (headerless) BLTE chunk
// using the raw (uncompressed) mode, the simplest container shape the
// format supports (spec §4.F).
func blteWrapRaw(payload []byte) []byte {
	out := make([]byte, 0, 9+len(payload))
	out = append(out, 'B', 'L', 'T', 'E')
	out = append(out, 0, 0, 0, 0) // header_size == 0: implicit single chunk
	out = append(out, byte('N'))
	out = append(out, payload...)
	return out
}

// buildEncodingFixture builds a minimal, one-page Encoding manifest mapping
// each of the given CKey->EKey pairs, replicating the on-disk layout
// manifest/encoding.Parse expects (CKey index + one MD5-verified page, no
// EKey-side pages since ckey_to_ekey never consults them).
func buildEncodingFixture(t *testing.T, pairs map[hash.ContentKey]hash.EncodingKey) []byte {
	t.Helper()

	const pageKB = 4
	const pageSize = pageKB * 1024

	page := make([]byte, 0, pageSize)
	for ck, ek := range pairs {
		page = append(page, 1)               // ekeyCount
		page = append(page, make([]byte, 5)...) // file_size (u40 TACT), unused by the lookup
		page = append(page, ck[:]...)
		page = append(page, ek[:]...)
	}
	require.LessOrEqual(t, len(page), pageSize)
	page = append(page, make([]byte, pageSize-len(page))...)
	pageMD5 := md5.Sum(page)

	var buf []byte
	buf = append(buf, 'E', 'N')
	buf = append(buf, 1)     // version
	buf = append(buf, 16)    // ckeySize
	buf = append(buf, 16)    // ekeySize
	buf = append(buf, be16(pageKB)...)
	buf = append(buf, be16(pageKB)...) // ekeyPageKB, unused here
	buf = append(buf, be32(1)...)      // ckeyPageCount
	buf = append(buf, be32(0)...)      // ekeyPageCount
	buf = append(buf, make([]byte, 5)...) // stringBlockSize (u40 TACT), unused
	buf = append(buf, be32(0)...)      // especBlockLen

	// CKey index: one {firstKey, pageMD5} entry. firstKey isn't separately
	// validated by Parse, only pageMD5 is.
	var firstKey hash.ContentKey
	for ck := range pairs {
		firstKey = ck
		break
	}
	buf = append(buf, firstKey[:]...)
	buf = append(buf, pageMD5[:]...)

	buf = append(buf, page...)
	return buf
}

// buildRootFixture builds a minimal modern-format Root manifest with a
// single block mapping fdid -> ck, with the no-name-hash flag set so each
// record is just the bare CKey (manifest/root.Parse).
func buildRootFixture(fdid hash.FileDataID, ck hash.ContentKey) []byte {
	var buf []byte
	buf = append(buf, 'T', 'S', 'F', 'M')
	buf = append(buf, be32(1)...) // totalFileCount (informational)
	buf = append(buf, be32(1)...) // namedFileCount (informational)

	const noNameHashFlag = 0x10000000
	buf = append(buf, be32(1)...)              // numRecords
	buf = append(buf, be32(noNameHashFlag)...) // contentFlags: no name hash
	buf = append(buf, be32(0xFFFFFFFF)...)     // localeFlags: all locales

	buf = append(buf, be32(uint32(fdid))...) // fdid delta: running sum starts at -1, so delta==fdid gives fdid
	buf = append(buf, ck[:]...)
	return buf
}

func be16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// newLooseFileServer serves each encoded blob at the CDN's
// /<cdnPath>/data/xx/yy/<hex> loose-file URL, the shape fetch.Fetcher.GetLoose
// requests.
func newLooseFileServer(t *testing.T, cdnPath string, blobs map[hash.EncodingKey][]byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for ek, data := range blobs {
		ek, data := ek, data
		hex := ek.String()
		path := fmt.Sprintf("/%s/data/%s/%s/%s", cdnPath, hex[0:2], hex[2:4], hex)
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Write(data)
		})
	}
	return httptest.NewServer(mux)
}

// TestFetchByCKeyEndToEnd exercises the full resolution chain a loaded
// build drives: FDID -> CKey (Root) -> EKey (Encoding) -> CDN loose fetch
// -> BLTE decode -> CKey re-verification (spec §2's data-flow, §3's
// end-to-end MD5 invariant), without going through the discovery protocol
// Refresh itself would use.
func TestFetchByCKeyEndToEnd(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog")
	contentCK := hash.ContentKey(md5.Sum(content))
	contentEncoded := blteWrapRaw(content)
	contentEK := hash.EncodingKey(md5.Sum(contentEncoded))

	rootRaw := buildRootFixture(42, contentCK)
	rootCK := hash.ContentKey(md5.Sum(rootRaw))
	rootEncoded := blteWrapRaw(rootRaw)
	rootEK := hash.EncodingKey(md5.Sum(rootEncoded))

	encodingRaw := buildEncodingFixture(t, map[hash.ContentKey]hash.EncodingKey{
		rootCK:    rootEK,
		contentCK: contentEK,
	})
	encodingEncoded := blteWrapRaw(encodingRaw)
	encodingEK := hash.EncodingKey(md5.Sum(encodingEncoded))

	encodingFile, err := encoding.Parse(encodingRaw)
	require.NoError(t, err)
	rootFile, err := root.Parse(rootRaw)
	require.NoError(t, err)

	const cdnPath = "tpr/wow"
	srv := newLooseFileServer(t, cdnPath, map[hash.EncodingKey][]byte{
		encodingEK: encodingEncoded,
		rootEK:     rootEncoded,
		contentEK:  contentEncoded,
	})
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	hosts := fetch.NewHostPool([]string{host}, nil, nil)
	fetcher := fetch.New(cdnPath, hosts, fetch.WithScheme("http"))

	store := manifest.NewStore()
	store.Swap(&manifest.Set{Root: rootFile, Encoding: encodingFile})

	p := &Pipeline{
		manifests: store,
		current: &activeBuild{
			fetcher:  fetcher,
			archives: archiveindex.NewGroup(nil),
		},
	}

	got, err := p.FetchFDID(context.Background(), 42, 0xFFFFFFFF, 0)
	require.NoError(t, err)
	require.Equal(t, content, got)

	_, err = p.FetchFDID(context.Background(), 999, 0xFFFFFFFF, 0)
	require.Error(t, err)
}

func TestPrefetchFDIDs(t *testing.T) {
	content := []byte("prefetched payload")
	contentCK := hash.ContentKey(md5.Sum(content))
	contentEncoded := blteWrapRaw(content)
	contentEK := hash.EncodingKey(md5.Sum(contentEncoded))

	rootRaw := buildRootFixture(7, contentCK)
	rootCK := hash.ContentKey(md5.Sum(rootRaw))
	rootEncoded := blteWrapRaw(rootRaw)
	rootEK := hash.EncodingKey(md5.Sum(rootEncoded))

	encodingRaw := buildEncodingFixture(t, map[hash.ContentKey]hash.EncodingKey{
		rootCK:    rootEK,
		contentCK: contentEK,
	})
	encodingFile, err := encoding.Parse(encodingRaw)
	require.NoError(t, err)
	rootFile, err := root.Parse(rootRaw)
	require.NoError(t, err)

	const cdnPath = "tpr/wow"
	srv := newLooseFileServer(t, cdnPath, map[hash.EncodingKey][]byte{
		rootEK:    rootEncoded,
		contentEK: contentEncoded,
	})
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	hosts := fetch.NewHostPool([]string{host}, nil, nil)
	fetcher := fetch.New(cdnPath, hosts, fetch.WithScheme("http"))

	store := manifest.NewStore()
	store.Swap(&manifest.Set{Root: rootFile, Encoding: encodingFile})

	p := &Pipeline{
		manifests: store,
		current: &activeBuild{
			fetcher:  fetcher,
			archives: archiveindex.NewGroup(nil),
		},
	}

	out, err := p.PrefetchFDIDs(context.Background(), []hash.FileDataID{7}, 0xFFFFFFFF, 0, 0)
	require.NoError(t, err)
	require.Equal(t, content, out[7])
}
