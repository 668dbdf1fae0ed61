// Copyright 2024 Harald Albrecht.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy
// of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

// Package config loads the cset configuration file. The file uses the
// traditional cset INI format, with or without a “[default]” section
// header; files named “*.yaml” or “*.yml” are read as YAML instead.
package config

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"github.com/thediveo/cset/cpuset"
	"github.com/thediveo/cset/proc"
)

var log = logrus.WithField("pkg", "config")

// DefaultFile is the configuration file read when none is specified.
const DefaultFile = "/etc/cset.conf"

// MountpointEnv overrides the configured mount point.
const MountpointEnv = "CSET_MOUNTPOINT"

// DefaultMountpoint is where the cpuset filesystem gets mounted when it isn't
// mounted yet.
const DefaultMountpoint = "/cpusets"

// defaultSection is the only section of INI configurations.
const defaultSection = "default"

// Config of cset.
type Config struct {
	Mountpoint string `yaml:"mountpoint" ini:"mountpoint"`
	Machine    bool   `yaml:"machine" ini:"machine"` // machine readable output
	Mounts     string `yaml:"mounts" ini:"mounts"`   // mount table
	ProcFS     string `yaml:"procfs" ini:"procfs"`
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		Mountpoint: DefaultMountpoint,
		Mounts:     cpuset.DefaultMounts,
		ProcFS:     proc.DefaultRoot,
	}
}

// Load reads the configuration from the specified file, using defaults for
// anything not configured. A missing file is fine unless it was specified
// explicitly; an empty name means [DefaultFile].
func Load(name string) (Config, error) {
	cfg := Defaults()
	explicit := name != ""
	if !explicit {
		name = DefaultFile
	}
	data, err := os.ReadFile(name)
	switch {
	case err == nil:
		if err := parse(name, data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "malformed configuration %s", name)
		}
		log.Debugf("read configuration from %s", name)
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		log.Debugf("no configuration %s, using defaults", name)
	default:
		return Config{}, errors.Wrapf(err, "cannot read configuration")
	}
	if mp := os.Getenv(MountpointEnv); mp != "" {
		cfg.Mountpoint = mp
	}
	cfg.fillIn()
	return cfg, nil
}

func parse(name string, data []byte, cfg *Config) error {
	switch filepath.Ext(name) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	}
	return parseINI(data, cfg)
}

// parseINI reads the settings from the “[default]” section, or from the keys
// before any section header if there is no such section. The legacy “mread”
// key is accepted as an alias of “machine”.
func parseINI(data []byte, cfg *Config) error {
	f, err := ini.Load(data)
	if err != nil {
		return err
	}
	sec, err := f.GetSection(defaultSection)
	if err != nil {
		if names := f.SectionStrings(); len(names) > 1 {
			return errors.Errorf("[default] section not found, only %v", names[1:])
		}
		sec = f.Section(ini.DefaultSection)
	} else if len(f.Sections()) > 2 {
		log.Warnf("more than one section found in configuration: %v", f.SectionStrings()[1:])
	}
	if sec.HasKey("mread") {
		machine, err := sec.Key("mread").Bool()
		if err != nil {
			return errors.Wrap(err, "mread")
		}
		cfg.Machine = machine
	}
	return sec.MapTo(cfg)
}

// fillIn replaces settings that were explicitly left empty with their
// defaults.
func (c *Config) fillIn() {
	def := Defaults()
	if c.Mountpoint == "" {
		c.Mountpoint = def.Mountpoint
	}
	if c.Mounts == "" {
		c.Mounts = def.Mounts
	}
	if c.ProcFS == "" {
		c.ProcFS = def.ProcFS
	}
}
