// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command ngdp is a thin CLI front-end over the ngdp core: discovery,
// archive-index, manifest, fetch, and BLTE decode. It is deliberately
// light on its own logic, existing so the wiring documented in DESIGN.md
// has a real consumer (spec §6 "CLI ... out of scope but consumes the
// core").
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shell-reserve/ngdp/cdn/cache"
	"github.com/shell-reserve/ngdp/config"
	"github.com/shell-reserve/ngdp/keyring"
	"github.com/shell-reserve/ngdp/pipeline"
	"github.com/shell-reserve/ngdp/ribbit"
)

// Exit codes per spec §6.
const (
	exitSuccess = 0
	exitGeneric = 1
	exitUsage   = 2
	exitNetwork = 3
	exitIntegrity = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, positional, err := config.Load(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	backend, err := initLogRotator(filepath.Join(cfg.CacheDir, "logs", "ngdp.log"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "ngdp: log init:", err)
		return exitGeneric
	}
	useLoggers(subsystemLoggers(backend), parseLogLevel(cfg.LogLevel))

	if len(positional) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ngdp <products|inspect|certs|config> ...")
		return exitUsage
	}

	app, err := newApp(cfg)
	if err != nil {
		return codeFor(err)
	}
	defer app.Close()

	switch positional[0] {
	case "products":
		return app.runProducts(positional[1:])
	case "inspect":
		return app.runInspect(positional[1:])
	case "certs":
		return app.runCerts(positional[1:])
	case "config":
		return app.runConfigCmd(positional[1:])
	default:
		fmt.Fprintf(os.Stderr, "ngdp: unknown command %q\n", positional[0])
		return exitUsage
	}
}

// app bundles the core collaborators a command needs: discovery client,
// cache, keyring, and a pipeline ready for Refresh.
type app struct {
	cfg      *config.Config
	discovery *ribbit.Client
	cache    *cache.Cache
	keyring  *keyring.Keyring
	pipeline *pipeline.Pipeline
}

func newApp(cfg *config.Config) (*app, error) {
	if cfg.ClearCache {
		if err := os.RemoveAll(cfg.CacheDir); err != nil {
			return nil, err
		}
	}

	var c *cache.Cache
	if !cfg.NoCache {
		var err error
		c, err = cache.Open(cache.Config{
			Dir:     filepath.Join(cfg.CacheDir, "objects"),
			L1Limit: cfg.L1Limit,
			L2Limit: cfg.L2Limit,
		})
		if err != nil {
			return nil, err
		}
	}

	kr := keyring.New(cfg.TACTKeysPath...)
	if err := kr.Reload(); err != nil {
		return nil, err
	}

	disc := ribbit.New()
	disc.CrossRegionFallback = cfg.CrossRegionFallback

	p := pipeline.New(pipeline.Config{
		Discovery:   disc,
		Cache:       c,
		Keyring:     kr,
		Product:     ribbit.Product(cfg.Product),
		Region:      ribbit.Region(cfg.Region),
		CustomHosts: cfg.CDNMirrors,
	})

	return &app{cfg: cfg, discovery: disc, cache: c, keyring: kr, pipeline: p}, nil
}

func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
}
