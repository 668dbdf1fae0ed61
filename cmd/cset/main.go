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

// cset manipulates cpusets: it lists, creates, modifies and destroys
// cpusets, moves tasks between them, and sets up CPU shielding.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/thediveo/cset/cpus"
	"github.com/thediveo/cset/cpuset"
	"github.com/thediveo/cset/internal/config"
	"github.com/thediveo/cset/migrate"
	"github.com/thediveo/cset/proc"
)

var log = logrus.WithField("pkg", "main")

const usage = `manage cpusets functions in the Linux kernel`

// processTable is the process table as needed for moving and listing tasks.
type processTable interface {
	proc.Table
	Detail(tid int) (*proc.Task, error)
}

// session keeps what the commands of a single cset invocation share.
type session struct {
	cfg   config.Config
	out   *printer
	hier  *cpuset.Hierarchy
	procs processTable
}

// hierarchy returns the cpuset hierarchy, mounting the cpuset filesystem
// first if necessary.
func (s *session) hierarchy() (*cpuset.Hierarchy, error) {
	if s.hier != nil {
		return s.hier, nil
	}
	m, err := cpuset.Discover(s.cfg.Mounts, s.cfg.Mountpoint)
	if err != nil {
		return nil, err
	}
	log.Debugf("cpusets mounted at %s, control file prefix %q", m.Path, m.Prefix)
	h, err := cpuset.New(m.Path, cpuset.WithPrefix(m.Prefix))
	if err != nil {
		return nil, err
	}
	s.hier = h
	return h, nil
}

func (s *session) mover() (*migrate.Mover, error) {
	h, err := s.hierarchy()
	if err != nil {
		return nil, err
	}
	return migrate.New(h, s.procs), nil
}

func newApp(out io.Writer, s *session) *cli.App {
	app := cli.NewApp()
	app.Name = "cset"
	app.Usage = usage
	app.Version = "1.6"
	app.Writer = out
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "log",
			Usage: "output debugging log to `FILE`",
		},
		cli.BoolFlag{
			Name:  "machine, m",
			Usage: "make output machine readable",
		},
		cli.StringFlag{
			Name:  "tohex, x",
			Usage: "convert a `CPUSPEC` to hex",
		},
		cli.StringFlag{
			Name:  "config",
			Usage: "read configuration from `FILE` instead of " + config.DefaultFile,
		},
		cli.StringFlag{
			Name:   "loglevel",
			Usage:  "log `LEVEL` (panic, fatal, error, warn, info, debug, trace)",
			EnvVar: "CSET_LOG_LEVEL",
			Value:  "info",
		},
	}
	app.Commands = []cli.Command{
		setCommand(s),
		procCommand(s),
		shieldCommand(s),
	}
	app.Before = func(c *cli.Context) error {
		if err := setupLogging(c.String("loglevel"), c.String("log")); err != nil {
			return err
		}
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return err
		}
		if c.Bool("machine") {
			cfg.Machine = true
		}
		s.cfg = cfg
		s.out = &printer{w: out, machine: cfg.Machine}
		if s.procs == nil {
			s.procs = proc.NewProcFS(cfg.ProcFS)
		}
		return nil
	}
	app.Action = func(c *cli.Context) error {
		if spec := c.String("tohex"); spec != "" {
			hex, err := cpus.ToHex(spec)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "0x"+hex)
			return nil
		}
		return cli.ShowAppHelp(c)
	}
	return app
}

// setupLogging logs to stderr at the specified level. When logging to a
// file, the file receives everything down to debug level.
func setupLogging(level string, logfile string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&consoleFormatter{level: lvl})
	logrus.SetLevel(lvl)
	if logfile == "" {
		return nil
	}
	f, err := os.OpenFile(logfile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "cannot open log file")
	}
	logrus.AddHook(&fileHook{w: f, formatter: &logrus.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	}})
	if lvl < logrus.DebugLevel {
		logrus.SetLevel(logrus.DebugLevel)
	}
	return nil
}

func main() {
	if err := newApp(os.Stdout, &session{}).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
