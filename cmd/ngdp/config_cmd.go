// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/shell-reserve/ngdp/config"
)

// runConfigCmd implements `config {show|get K|set K V|reset}` (spec §6).
// K/V address Config struct fields by their go-flags `long` tag, the same
// name a user would pass on the command line.
func (a *app) runConfigCmd(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ngdp config <show|get K|set K V|reset>")
		return exitUsage
	}
	switch args[0] {
	case "show":
		return a.configShow()
	case "get":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: ngdp config get <key>")
			return exitUsage
		}
		return a.configGet(args[1])
	case "set":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: ngdp config set <key> <value>")
			return exitUsage
		}
		return a.configSet(args[1], args[2])
	case "reset":
		return a.configReset()
	default:
		fmt.Fprintf(os.Stderr, "ngdp: unknown config subcommand %q\n", args[0])
		return exitUsage
	}
}

// fieldByLongTag walks Config's struct fields for the one whose `long` tag
// matches key, returning the reflect.Value a caller can Get/Set through.
func fieldByLongTag(v reflect.Value, key string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, ok := t.Field(i).Tag.Lookup("long")
		if ok && tag == key {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func (a *app) configShow() int {
	v := reflect.ValueOf(*a.cfg)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, ok := t.Field(i).Tag.Lookup("long")
		if !ok {
			continue
		}
		fmt.Printf("%s = %v\n", tag, v.Field(i).Interface())
	}
	return exitSuccess
}

func (a *app) configGet(key string) int {
	f, ok := fieldByLongTag(reflect.ValueOf(*a.cfg), key)
	if !ok {
		fmt.Fprintf(os.Stderr, "ngdp: unknown config key %q\n", key)
		return exitUsage
	}
	fmt.Printf("%v\n", f.Interface())
	return exitSuccess
}

// configSet updates one field in-process and rewrites the config file at
// the conventional path so the change persists across invocations.
func (a *app) configSet(key, value string) int {
	f, ok := fieldByLongTag(reflect.ValueOf(a.cfg).Elem(), key)
	if !ok {
		fmt.Fprintf(os.Stderr, "ngdp: unknown config key %q\n", key)
		return exitUsage
	}
	if !f.CanSet() {
		fmt.Fprintf(os.Stderr, "ngdp: config key %q is read-only\n", key)
		return exitUsage
	}
	if err := setFieldFromString(f, value); err != nil {
		fmt.Fprintln(os.Stderr, "ngdp:", err)
		return exitUsage
	}
	if err := writeConfigFile(a.cfg); err != nil {
		fmt.Fprintln(os.Stderr, "ngdp: writing config file:", err)
		return exitGeneric
	}
	return exitSuccess
}

func (a *app) configReset() int {
	if err := os.Remove(a.cfg.EffectiveConfigFile()); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "ngdp: removing config file:", err)
		return exitGeneric
	}
	return exitSuccess
}

func setFieldFromString(f reflect.Value, value string) error {
	switch f.Kind() {
	case reflect.String:
		f.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		f.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		f.SetInt(n)
	case reflect.Slice:
		f.Set(reflect.ValueOf(strings.Split(value, ",")))
	default:
		return fmt.Errorf("unsupported config field kind %s", f.Kind())
	}
	return nil
}

// writeConfigFile serializes cfg back out as an ini-style file via
// go-flags' own writer, the same struct tags Load's IniParser reads.
func writeConfigFile(cfg *config.Config) error {
	path := cfg.EffectiveConfigFile()
	if path == "" {
		return fmt.Errorf("no config file path set")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	parser := flags.NewParser(cfg, flags.Default)
	iniParser := flags.NewIniParser(parser)
	return iniParser.WriteFile(path, flags.IniIncludeDefaults|flags.IniCommentDefaults)
}
