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
package main

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/thediveo/cset/cpuset"
	"github.com/thediveo/cset/proc"
	"github.com/thediveo/cset/shield"
)

func shieldCommand(s *session) cli.Command {
	return cli.Command{
		Name:      "shield",
		Usage:     "supercommand to set up and manage basic shielding",
		ArgsUsage: "[PIDSPEC | COMMAND [ARGS...]]",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "cpu, c", Usage: "modifies or initializes the shield cpusets with `CPUSPEC`"},
			cli.BoolFlag{Name: "reset, r", Usage: "destroys the shield"},
			cli.StringFlag{Name: "kthread, k", Usage: "shield from unbound interrupt threads as well (`on|off`)"},
			cli.BoolFlag{Name: "shield, s", Usage: "shield PIDSPEC specified with -p/--pid of processes or threads"},
			cli.BoolFlag{Name: "unshield, u", Usage: "remove PIDSPEC specified with -p/--pid of processes or threads from the shielded cpuset"},
			cli.BoolFlag{Name: "exec, e", Usage: "executes args in the shield"},
			cli.StringFlag{Name: "user", Usage: "use this `USER` for --exec (id or name)"},
			cli.StringFlag{Name: "group", Usage: "use this `GROUP` for --exec (id or name)"},
			cli.StringFlag{Name: "pid, p", Usage: "operate on `PIDSPEC` of processes or threads"},
			cli.BoolFlag{Name: "threads", Usage: "if specified, any processes found in the PIDSPEC to have multiple threads will automatically have all their threads added to the PIDSPEC"},
			cli.BoolFlag{Name: "force, f", Usage: "force operation, use with care"},
			cli.StringFlag{Name: "sysset", Usage: "optionally specify system cpuset `NAME` for shield", Value: shield.DefaultSystemSet},
			cli.StringFlag{Name: "userset", Usage: "optionally specify user cpuset `NAME` for shield", Value: shield.DefaultUserSet},
		},
		Action: func(c *cli.Context) error {
			m, err := s.mover()
			if err != nil {
				return err
			}
			sh := shield.New(m,
				shield.WithSystemSet(c.String("sysset")),
				shield.WithUserSet(c.String("userset")))
			args := c.Args()
			creds := proc.Credentials{User: c.String("user"), Group: c.String("group")}
			kthread := c.String("kthread")
			if kthread != "" && kthread != "on" && kthread != "off" {
				return errors.Errorf("invalid --kthread option %q, use on or off", kthread)
			}

			doshield := c.Bool("shield")
			if !c.IsSet("cpu") && !c.Bool("reset") && !c.Bool("exec") &&
				!doshield && !c.Bool("unshield") && kthread == "" {
				if _, _, err := sh.Status(); err != nil {
					return err
				}
				if len(args) == 0 {
					log.Info("shielding system active with")
					return s.shieldStatus(sh, true, true)
				}
				if !isPidSpec(args[0]) {
					return sh.Exec(args, creds)
				}
				doshield = true
			}

			switch {
			case c.Bool("reset"):
				if err := sh.Reset(); err != nil {
					return err
				}
				log.Info("done")
				return nil
			case c.IsSet("cpu"):
				if err := sh.Activate(c.String("cpu"), kthread == "on"); err != nil {
					return err
				}
				return s.shieldStatus(sh, true, true)
			case kthread != "":
				if _, err := sh.KernelThreads(kthread == "on"); err != nil {
					return err
				}
				log.Info("done")
				return nil
			case c.Bool("exec"):
				return sh.Exec(args, creds)
			}

			pidspec := c.String("pid")
			if pidspec == "" && len(args) > 0 {
				pidspec = args[0]
			}
			if pidspec == "" {
				return s.shieldStatus(sh, !doshield, doshield)
			}
			what := "shielding"
			move := sh.Shield
			if !doshield {
				what = "unshielding"
				move = sh.Unshield
			}
			msg := ""
			if c.Bool("threads") {
				msg = " (with threads)"
			}
			log.Infof("%s following pidspec: %s%s", what, pidspec, msg)
			r, err := move(pidspec, c.Bool("force"), c.Bool("threads"))
			if err != nil {
				return err
			}
			if err := r.Err(pidspec); err != nil {
				log.Warn(err.Error())
			}
			log.Info("done")
			return nil
		},
	}
}

// isPidSpec reports whether the argument looks like a PIDSPEC rather than a
// command to execute.
func isPidSpec(arg string) bool {
	return arg != "" && strings.Trim(arg, "0123456789,-") == ""
}

// shieldStatus prints the summaries of the system and/or user cpusets.
func (s *session) shieldStatus(sh *shield.Shield, system, user bool) error {
	sysset, userset, err := sh.Status()
	if err != nil {
		return err
	}
	var sets []*cpuset.Node
	if system {
		sets = append(sets, sysset)
	}
	if user {
		sets = append(sets, userset)
	}
	for _, n := range sets {
		if s.out.machine {
			s.out.line("proc_list_no_tasks-%s", strings.TrimPrefix(n.Path(), "/"))
			continue
		}
		s.out.line("%s", cpuset.Summary(n))
	}
	return nil
}
