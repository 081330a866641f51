// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/shell-reserve/ngdp/archiveindex"
	"github.com/shell-reserve/ngdp/blte"
	"github.com/shell-reserve/ngdp/bpsv"
	"github.com/shell-reserve/ngdp/cdn/cache"
	"github.com/shell-reserve/ngdp/cdn/fetch"
	"github.com/shell-reserve/ngdp/config"
	"github.com/shell-reserve/ngdp/keyring"
	"github.com/shell-reserve/ngdp/manifest"
	"github.com/shell-reserve/ngdp/pipeline"
	"github.com/shell-reserve/ngdp/ribbit"
)

// logWriter wraps the rotating log file and stdout so every line reaches
// both, matching the teacher's own multi-writer log backend.
type logWriter struct {
	rotator *rotator.Rotator
}

func (w logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	return w.rotator.Write(p)
}

// initLogRotator opens (creating its directory if needed) the rotating log
// file at logFile, capped at 10 MiB per file with 3 rolls kept, and returns
// a btclog backend that writes every line to both the rotator and stdout.
func initLogRotator(logFile string) (*btclog.Backend, error) {
	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return nil, err
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return nil, err
	}
	return btclog.NewBackend(logWriter{rotator: r}), nil
}

// subsystemLoggers names every package-level logger this binary wires, so
// --log-level applies uniformly across the whole pipeline.
func subsystemLoggers(backend *btclog.Backend) map[string]btclog.Logger {
	return map[string]btclog.Logger{
		"RBIT": backend.Logger("RBIT"),
		"BPSV": backend.Logger("BPSV"),
		"FTCH": backend.Logger("FTCH"),
		"CACH": backend.Logger("CACH"),
		"BLTE": backend.Logger("BLTE"),
		"AIDX": backend.Logger("AIDX"),
		"MNFS": backend.Logger("MNFS"),
		"KRNG": backend.Logger("KRNG"),
		"PIPE": backend.Logger("PIPE"),
		"CFG ": backend.Logger("CFG"),
	}
}

// useLoggers wires each subsystem's UseLogger to its entry in loggers and
// applies level to all of them.
func useLoggers(loggers map[string]btclog.Logger, level btclog.Level) {
	ribbit.UseLogger(loggers["RBIT"])
	bpsv.UseLogger(loggers["BPSV"])
	fetch.UseLogger(loggers["FTCH"])
	cache.UseLogger(loggers["CACH"])
	blte.UseLogger(loggers["BLTE"])
	archiveindex.UseLogger(loggers["AIDX"])
	manifest.UseLogger(loggers["MNFS"])
	keyring.UseLogger(loggers["KRNG"])
	pipeline.UseLogger(loggers["PIPE"])
	config.UseLogger(loggers["CFG "])
	for _, l := range loggers {
		l.SetLevel(level)
	}
}

func parseLogLevel(s string) btclog.Level {
	lvl, ok := btclog.LevelFromString(s)
	if !ok {
		return btclog.LevelInfo
	}
	return lvl
}
