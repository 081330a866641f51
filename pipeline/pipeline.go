// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package pipeline is the resolution-and-assembly orchestrator tying the
// six components together: a caller asks for a logical file (FileDataID or
// path), the manifest store resolves it to an EncodingKey, the
// archive-index group resolves that to a CDN byte range (or a loose-file
// fetch), the range fetcher retrieves and MD5-verifies the bytes, and the
// BLTE decoder turns them into the raw payload whose MD5 must equal the
// original ContentKey (spec §2 "Data flow", §3 "Invariant").
package pipeline

import (
	"context"
	"crypto/md5"
	"fmt"
	"sync"

	"github.com/davecgh/go-spew/spew"
	"golang.org/x/sync/errgroup"

	"github.com/shell-reserve/ngdp/archiveindex"
	"github.com/shell-reserve/ngdp/blte"
	"github.com/shell-reserve/ngdp/cdn/cache"
	"github.com/shell-reserve/ngdp/cdn/fetch"
	nerrors "github.com/shell-reserve/ngdp/errors"
	"github.com/shell-reserve/ngdp/hash"
	"github.com/shell-reserve/ngdp/keyring"
	"github.com/shell-reserve/ngdp/manifest"
	"github.com/shell-reserve/ngdp/manifest/download"
	"github.com/shell-reserve/ngdp/manifest/encoding"
	"github.com/shell-reserve/ngdp/manifest/install"
	"github.com/shell-reserve/ngdp/manifest/root"
	"github.com/shell-reserve/ngdp/manifest/size"
	"github.com/shell-reserve/ngdp/ribbit"
)

// DefaultPrefetchConcurrency bounds PrefetchFDIDs when the caller doesn't
// specify its own limit.
const DefaultPrefetchConcurrency = 8

// Config configures a Pipeline at construction. Discovery, Cache, and
// Keyring are required collaborators built by the caller (config package)
// so the pipeline itself stays free of environment-variable reads (spec's
// "ambient config read at the edge, injected here" rule).
type Config struct {
	Discovery   *ribbit.Client
	Cache       *cache.Cache
	Keyring     *keyring.Keyring
	Product     ribbit.Product
	Region      ribbit.Region
	CustomHosts []string
}

// Pipeline holds the current build's manifest store, archive-index group,
// and CDN fetcher, swapping all three atomically on Refresh (spec §3
// "Lifecycles: the discovery client may observe newer sequence numbers and
// replace its current descriptor atomically").
type Pipeline struct {
	discovery *ribbit.Client
	cache     *cache.Cache
	keyring   *keyring.Keyring
	product   ribbit.Product
	region    ribbit.Region
	custom    []string

	manifests *manifest.Store

	// fetcher and archives are swapped together under mu since a fetcher
	// is scoped to one CDN-config's host pool and cdn-path, and an
	// archive-index group is scoped to that same CDN-config's archive
	// list; mixing a fetcher from one build with a group from another
	// would resolve archive hashes that no longer exist on that host.
	current *activeBuild
}

type activeBuild struct {
	fetcher  *fetch.Fetcher
	archives *archiveindex.Group
	desc     BuildDescriptor
}

// New constructs a Pipeline with no build loaded; Refresh must succeed once
// before any Fetch call will.
func New(cfg Config) *Pipeline {
	region := cfg.Region
	if region == "" {
		region = ribbit.DefaultRegion
	}
	return &Pipeline{
		discovery: cfg.Discovery,
		cache:     cfg.Cache,
		keyring:   cfg.Keyring,
		product:   cfg.Product,
		region:    region,
		custom:    cfg.CustomHosts,
		manifests: manifest.NewStore(),
	}
}

// Refresh queries discovery for the product's current versions and cdns
// documents, and if the descriptor for the pipeline's region carries a
// newer sequence number than the one currently loaded, downloads and wires
// a new build: build-config, cdn-config, archive indexes, and the five
// manifest files.
func (p *Pipeline) Refresh(ctx context.Context) error {
	versionsResult, err := p.discovery.Get(p.region, p.product, ribbit.EndpointVersions, p.lastSeqn())
	if err != nil {
		return err
	}
	if versionsResult.Unchanged {
		log.Debugf("pipeline: %s/%s versions unchanged at seqn %d", p.region, p.product, versionsResult.Seqn)
		return nil
	}
	descs, err := parseVersions(versionsResult.Raw, versionsResult.Seqn)
	if err != nil {
		return err
	}
	desc, ok := findRegion(descs, p.region)
	if !ok {
		return nerrors.New(nerrors.CodeNotFound, "pipeline.Refresh").WithPath(fmt.Sprintf("no %s row in versions document", p.region))
	}
	log.Debugf("pipeline: resolved build descriptor: %s", spew.Sdump(desc))

	cdnsResult, err := p.discovery.Get(p.region, p.product, ribbit.EndpointCDNs, 0)
	if err != nil {
		return err
	}
	cdnRows, err := parseCDNs(cdnsResult.Raw)
	if err != nil {
		return err
	}
	cdnRow, ok := findCDNRegion(cdnRows, p.region)
	if !ok {
		return nerrors.New(nerrors.CodeNotFound, "pipeline.Refresh").WithPath(fmt.Sprintf("no %s row in cdns document", p.region))
	}

	hosts := fetch.NewHostPool(cdnRow.Hosts, cdnRow.Servers, p.custom)
	bootstrapFetcher := fetch.New(cdnRow.Path, hosts, fetch.WithCache(p.cache))

	buildConfigRaw, err := bootstrapFetcher.GetLoose(ctx, desc.BuildConfig)
	if err != nil {
		return nerrors.Wrap(nerrors.CodeNotFound, "pipeline.Refresh", err).WithPath("build-config")
	}
	buildConfig, err := parseBuildConfig(buildConfigRaw)
	if err != nil {
		return err
	}

	cdnConfigRaw, err := bootstrapFetcher.GetLoose(ctx, desc.CDNConfig)
	if err != nil {
		return nerrors.Wrap(nerrors.CodeNotFound, "pipeline.Refresh", err).WithPath("cdn-config")
	}
	cdnConfig, err := parseCDNConfig(cdnConfigRaw)
	if err != nil {
		return err
	}

	group, err := p.loadArchiveGroup(ctx, bootstrapFetcher, cdnConfig)
	if err != nil {
		return err
	}

	set, err := p.loadManifestSet(ctx, bootstrapFetcher, buildConfig)
	if err != nil {
		return err
	}

	p.manifests.Swap(set)
	p.current = &activeBuild{fetcher: bootstrapFetcher, archives: group, desc: desc}
	log.Infof("pipeline: build %s (seqn %d) active for %s/%s", desc.VersionsName, desc.Seqn, p.region, p.product)
	return nil
}

func (p *Pipeline) lastSeqn() uint64 {
	if p.current == nil {
		return 0
	}
	return p.current.desc.Seqn
}

func findRegion(descs []BuildDescriptor, region ribbit.Region) (BuildDescriptor, bool) {
	for _, d := range descs {
		if d.Region == string(region) {
			return d, true
		}
	}
	return BuildDescriptor{}, false
}

func findCDNRegion(rows []cdnEntry, region ribbit.Region) (cdnEntry, bool) {
	for _, r := range rows {
		if r.Name == string(region) {
			return r, true
		}
	}
	return cdnEntry{}, false
}

// loadArchiveGroup fetches every archive's .index sidecar named in
// cdnConfig and merges them into one lookup group (spec §4.C "Multi-archive
// aggregation").
func (p *Pipeline) loadArchiveGroup(ctx context.Context, f *fetch.Fetcher, cdnConfig CDNConfig) (*archiveindex.Group, error) {
	indexes := make([]*archiveindex.Index, 0, len(cdnConfig.Archives))
	for _, archiveHash := range cdnConfig.Archives {
		raw, err := f.GetArchiveIndex(ctx, archiveHash)
		if err != nil {
			return nil, nerrors.Wrap(nerrors.CodeNotFound, "pipeline.loadArchiveGroup", err).WithHash(archiveHash.String())
		}
		idx, err := archiveindex.Parse(archiveHash, raw)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}
	return archiveindex.NewGroup(indexes), nil
}

// loadManifestSet fetches and decodes the five manifest files a build
// descriptor's build-config names, in the order the manifest Store's
// lookup chain needs them (spec §4.D).
func (p *Pipeline) loadManifestSet(ctx context.Context, f *fetch.Fetcher, bc BuildConfig) (*manifest.Set, error) {
	encodingRaw, err := p.fetchAndDecode(ctx, f, bc.EncodingEKey)
	if err != nil {
		return nil, nerrors.Wrap(nerrors.CodeNotFound, "pipeline.loadManifestSet", err).WithPath("encoding")
	}
	encodingFile, err := encoding.Parse(encodingRaw)
	if err != nil {
		return nil, err
	}

	rootEKeys, err := encodingFile.LookupCKey(bc.Root)
	if err != nil {
		return nil, nerrors.Wrap(nerrors.CodeNotFound, "pipeline.loadManifestSet", err).WithPath("root ckey->ekey")
	}
	rootRaw, err := p.fetchAndDecode(ctx, f, rootEKeys[0])
	if err != nil {
		return nil, nerrors.Wrap(nerrors.CodeNotFound, "pipeline.loadManifestSet", err).WithPath("root")
	}
	rootFile, err := root.Parse(rootRaw)
	if err != nil {
		return nil, err
	}

	set := &manifest.Set{Root: rootFile, Encoding: encodingFile}

	if !bc.Install.IsZero() {
		raw, err := p.fetchAndDecode(ctx, f, bc.Install)
		if err != nil {
			return nil, nerrors.Wrap(nerrors.CodeNotFound, "pipeline.loadManifestSet", err).WithPath("install")
		}
		if set.Install, err = install.Parse(raw); err != nil {
			return nil, err
		}
	}
	if !bc.Download.IsZero() {
		raw, err := p.fetchAndDecode(ctx, f, bc.Download)
		if err != nil {
			return nil, nerrors.Wrap(nerrors.CodeNotFound, "pipeline.loadManifestSet", err).WithPath("download")
		}
		if set.Download, err = download.Parse(raw); err != nil {
			return nil, err
		}
	}
	if !bc.Size.IsZero() {
		raw, err := p.fetchAndDecode(ctx, f, bc.Size)
		if err != nil {
			return nil, nerrors.Wrap(nerrors.CodeNotFound, "pipeline.loadManifestSet", err).WithPath("size")
		}
		if set.Size, err = size.Parse(raw); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// fetchAndDecode fetches a loose EKey-addressed manifest file and BLTE
// decodes it; manifest files are always single-object BLTE containers, not
// archive members.
func (p *Pipeline) fetchAndDecode(ctx context.Context, f *fetch.Fetcher, ek hash.EncodingKey) ([]byte, error) {
	raw, err := f.GetLoose(ctx, ek)
	if err != nil {
		return nil, err
	}
	return blte.DecodeDefault(raw, p.keyring)
}

// FetchFDID resolves fdid through the manifest chain (spec §2 "FDID/path ->
// CKey -> EKey -> archive -> fetch -> BLTE decode") and returns the
// verified, decoded payload.
func (p *Pipeline) FetchFDID(ctx context.Context, fdid hash.FileDataID, localeMask, contentMask uint32) ([]byte, error) {
	ck, err := p.manifests.FDIDToCKey(fdid, localeMask, contentMask)
	if err != nil {
		return nil, err
	}
	return p.fetchByCKey(ctx, ck)
}

// FetchPath resolves a legacy Jenkins-path lookup the same way FetchFDID
// does for a FileDataID.
func (p *Pipeline) FetchPath(ctx context.Context, path string) ([]byte, error) {
	ck, err := p.manifests.PathToCKey(path)
	if err != nil {
		return nil, err
	}
	return p.fetchByCKey(ctx, ck)
}

func (p *Pipeline) fetchByCKey(ctx context.Context, ck hash.ContentKey) ([]byte, error) {
	eks, err := p.manifests.CKeyToEKey(ck)
	if err != nil {
		return nil, err
	}
	ek := eks[0] // ekey[0] is the canonical encoding (spec §4.D.2)

	current := p.current
	if current == nil {
		return nil, nerrors.New(nerrors.CodeNotFound, "pipeline.fetchByCKey").WithPath("no build loaded")
	}

	var encoded []byte
	if loc, ok := current.archives.Lookup(ek); ok {
		encoded, err = current.fetcher.Get(ctx, ek, loc.ArchiveHash, loc.Offset, loc.Length)
	} else {
		encoded, err = current.fetcher.GetLoose(ctx, ek)
	}
	if err != nil {
		return nil, err
	}

	decoded, err := blte.DecodeDefault(encoded, p.keyring)
	if err != nil {
		return nil, err
	}
	if got := hash.ContentKey(md5.Sum(decoded)); got != ck {
		return nil, nerrors.New(nerrors.CodeBadChecksum, "pipeline.fetchByCKey").WithHash(ck.String())
	}
	return decoded, nil
}

// PrefetchFDIDs resolves and fetches many files concurrently, bounded by
// maxConcurrency, returning a map of whichever succeeded and the first
// error encountered (spec §5 "Concurrency & Resource Model": prefetch is a
// bounded fan-out, not unbounded goroutine-per-file).
func (p *Pipeline) PrefetchFDIDs(ctx context.Context, fdids []hash.FileDataID, localeMask, contentMask uint32, maxConcurrency int) (map[hash.FileDataID][]byte, error) {
	out := make(map[hash.FileDataID][]byte, len(fdids))
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultPrefetchConcurrency
	}
	g.SetLimit(maxConcurrency)

	for _, fdid := range fdids {
		fdid := fdid
		g.Go(func() error {
			data, err := p.FetchFDID(ctx, fdid, localeMask, contentMask)
			if err != nil {
				return err
			}
			mu.Lock()
			out[fdid] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}
