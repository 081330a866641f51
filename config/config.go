// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config loads ngdp's runtime configuration: an on-disk
// key/value file overlaid by command-line flags and environment
// variables, following the btcsuite go-flags convention (ini-style file
// parsed by flags.IniParser, then flags.Parser reads the same struct for
// the CLI pass). TACT_KEYS_PATH, NGDP_CACHE_DIR, and the standard
// HTTP(S)_PROXY variables are read here, at the edge, and never inside a
// subsystem package directly.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"

	"github.com/shell-reserve/ngdp/ribbit"
)

const (
	defaultConfigFilename = "ngdp.conf"
	defaultRegion         = ribbit.DefaultRegion
	defaultProduct        = "wow"
	defaultL1LimitBytes   = 256 << 20  // 256 MiB in-memory range cache
	defaultL2LimitBytes   = 10 << 30   // 10 GiB on-disk cache
	defaultLogLevel       = "info"
)

// OutputFormat is the CLI's --output rendering mode.
type OutputFormat string

const (
	OutputText       OutputFormat = "text"
	OutputJSON       OutputFormat = "json"
	OutputJSONPretty OutputFormat = "json-pretty"
	OutputBPSV       OutputFormat = "bpsv"
)

// Config is ngdp's full runtime configuration. Struct tags double as the
// go-flags CLI/ini schema: `long` names the flag, `env` names the
// overlaying environment variable, `default` is the fallback when neither
// is set.
type Config struct {
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file" no-ini:"true"`

	Region  string `long:"region" env:"NGDP_REGION" default:"us" description:"NGDP region code (us, eu, kr, cn, tw)"`
	Product string `long:"product" env:"NGDP_PRODUCT" default:"wow" description:"Blizzard product code"`

	CacheDir string `long:"cachedir" env:"NGDP_CACHE_DIR" description:"Cache root directory"`
	L1Limit  int64  `long:"l1limit" description:"In-memory range cache byte budget"`
	L2Limit  int64  `long:"l2limit" description:"On-disk cache byte budget"`
	NoCache  bool   `long:"no-cache" description:"Bypass the cache for this invocation"`
	ClearCache bool `long:"clear-cache" description:"Clear the cache before running"`

	TACTKeysPath []string `long:"tactkeys" env:"TACT_KEYS_PATH" env-delim:":" description:"Directories searched for TACT key files"`

	CDNMirrors []string `long:"cdnmirror" description:"Additional community CDN mirror hosts, tried after the primary pool"`

	HTTPProxy  string `long:"httpproxy" env:"HTTP_PROXY" description:"HTTP proxy URL"`
	HTTPSProxy string `long:"httpsproxy" env:"HTTPS_PROXY" description:"HTTPS proxy URL"`

	ConnectTimeoutSecs int `long:"connect-timeout" default:"30" description:"Per-request connect timeout, in seconds"`
	TotalTimeoutSecs   int `long:"total-timeout" default:"300" description:"Total per-request timeout, in seconds"`

	Output   OutputFormat `long:"output" default:"text" description:"Output format: text, json, json-pretty, bpsv"`
	LogLevel string       `long:"log-level" default:"info" description:"Logging level: trace, debug, info, warn, error, critical"`

	CrossRegionFallback bool `long:"cross-region-fallback" description:"Accepted and passed to the discovery client, which does not act on it: no cross-region retry is made"`
}

// Default returns a Config populated with built-in defaults, before any
// file, environment, or CLI overlay is applied.
func Default() *Config {
	return &Config{
		Region:             string(defaultRegion),
		Product:            defaultProduct,
		L1Limit:            defaultL1LimitBytes,
		L2Limit:            defaultL2LimitBytes,
		ConnectTimeoutSecs: 30,
		TotalTimeoutSecs:   300,
		Output:             OutputText,
		LogLevel:           defaultLogLevel,
	}
}

// Load builds the final Config from (in increasing precedence): built-in
// defaults, the ini-style config file (explicit --configfile, or the
// default path under the user config directory if present), environment
// variables, then command-line arguments in args (typically os.Args[1:]).
// It returns the Config plus whatever positional arguments (the CLI's
// subcommand and its own arguments) were left over after flag parsing.
//
// This mirrors the btcsuite config.go convention: a pre-parse pass picks up
// -C/--configfile, the ini file is loaded into the same struct go-flags
// later re-parses for the CLI pass, so a flag explicitly given on the
// command line always wins over the file.
func Load(args []string) (*Config, []string, error) {
	cfg := Default()

	preCfg := *cfg
	preParser := flags.NewParser(&preCfg, flags.Default&^flags.PrintErrors&^flags.HelpFlag)
	if _, err := preParser.ParseArgs(args); err != nil {
		if isFlagsHelp(err) {
			return nil, nil, err
		}
		// A pre-parse failure here is expected for flags the real parser
		// will reject outright too; fall through so the main parse below
		// reports it with the usual flags.Default error formatting.
	}

	configFile := preCfg.ConfigFile
	if configFile == "" {
		configFile = defaultConfigPath()
	}
	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			iniParser := flags.NewIniParser(flags.NewParser(cfg, flags.Default))
			if err := iniParser.ParseFile(configFile); err != nil {
				return nil, nil, fmt.Errorf("config: parsing %s: %w", configFile, err)
			}
		} else if preCfg.ConfigFile != "" {
			return nil, nil, fmt.Errorf("config: configfile %s: %w", configFile, err)
		}
	}

	parser := flags.NewParser(cfg, flags.Default)
	rest, err := parser.ParseArgs(args)
	if err != nil {
		return nil, nil, err
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = defaultCacheDir()
	}
	normalizeProxyEnv(cfg)

	log.Debugf("config: region=%s product=%s cachedir=%s", cfg.Region, cfg.Product, cfg.CacheDir)
	return cfg, rest, nil
}

func isFlagsHelp(err error) bool {
	fe, ok := err.(*flags.Error)
	return ok && fe.Type == flags.ErrHelp
}

// defaultConfigPath returns the conventional per-user config file location,
// silently returning "" (no file) when the user config directory can't be
// determined.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ngdp", defaultConfigFilename)
}

// DefaultConfigPath exposes the conventional per-user config file location
// so callers (the CLI's `config` subcommand) can target the same file Load
// would have read when no --configfile was given.
func DefaultConfigPath() string {
	return defaultConfigPath()
}

// EffectiveConfigFile returns the config file path this Config was loaded
// from, or the conventional default path if ConfigFile was never set.
func (c *Config) EffectiveConfigFile() string {
	if c.ConfigFile != "" {
		return c.ConfigFile
	}
	return defaultConfigPath()
}

// defaultCacheDir returns the conventional per-user cache root, used when
// neither NGDP_CACHE_DIR nor --cachedir was supplied.
func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "ngdp")
	}
	return filepath.Join(dir, "ngdp")
}

// normalizeProxyEnv ensures HTTP(S)_PROXY values read by net/http's
// ProxyFromEnvironment are consistent with what the config file or CLI
// supplied, since the core's HTTP clients rely on the process environment
// rather than threading a proxy URL through every constructor.
func normalizeProxyEnv(cfg *Config) {
	if cfg.HTTPProxy != "" {
		os.Setenv("HTTP_PROXY", cfg.HTTPProxy)
	}
	if cfg.HTTPSProxy != "" {
		os.Setenv("HTTPS_PROXY", cfg.HTTPSProxy)
	}
}
