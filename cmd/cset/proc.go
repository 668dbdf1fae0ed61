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
	"strconv"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/thediveo/cset/cpuset"
	"github.com/thediveo/cset/migrate"
	"github.com/thediveo/cset/proc"
)

func procCommand(s *session) cli.Command {
	return cli.Command{
		Name:      "proc",
		Usage:     "create and manage processes within cpusets",
		ArgsUsage: "[CPUSET...] | [PIDSPEC] [FROMSET] TOSET | CPUSET COMMAND [ARGS...]",
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "list, l", Usage: "list processes in the specified cpuset"},
			cli.BoolFlag{Name: "exec, e", Usage: "execute arguments in the specified cpuset"},
			cli.StringFlag{Name: "user, u", Usage: "use this `USER` to --exec (id or name)"},
			cli.StringFlag{Name: "group, g", Usage: "use this `GROUP` to --exec (id or name)"},
			cli.BoolFlag{Name: "move, m", Usage: "move specified tasks to specified cpuset; to move a PIDSPEC to a cpuset, use -m PIDSPEC cpuset; to move all tasks only specify --fromset and --toset"},
			cli.StringFlag{Name: "pid, p", Usage: "specify `PIDSPEC` of processes or threads to move"},
			cli.BoolFlag{Name: "threads", Usage: "if specified, any processes found in the PIDSPEC to have multiple threads will automatically have all their threads added to the PIDSPEC"},
			cli.StringFlag{Name: "set, s", Usage: "specify name of immediate `CPUSET`"},
			cli.StringFlag{Name: "toset, t", Usage: "specify name of destination `CPUSET`"},
			cli.StringFlag{Name: "fromset, f", Usage: "specify name of origination `CPUSET`"},
			cli.BoolFlag{Name: "kthread, k", Usage: "move, or include moving, unbound kernel threads"},
			cli.BoolFlag{Name: "force", Usage: "force all processes and threads to be moved"},
		},
		Action: func(c *cli.Context) error {
			h, err := s.hierarchy()
			if err != nil {
				return err
			}
			args := c.Args()
			switch {
			case c.Bool("list"):
				names := []string(args)
				if name := c.String("set"); name != "" {
					names = []string{name}
				}
				return s.listTasks(h, names)
			case c.Bool("exec"):
				set := c.String("set")
				if set == "" {
					if len(args) == 0 {
						return errors.New("cpuset not specified")
					}
					set, args = args[0], args[1:]
				}
				if len(args) == 0 {
					return errors.New("no command to execute")
				}
				m, err := s.mover()
				if err != nil {
					return err
				}
				return m.Exec(cpuset.Named(set), args, proc.Credentials{
					User:  c.String("user"),
					Group: c.String("group"),
				})
			case c.Bool("move") || c.Bool("kthread"):
				return s.moveTasks(h, c)
			}
			return s.listTasks(h, args)
		},
	}
}

// moveTasks figures out what to move where, following the shortcuts:
//   - “-m PIDSPEC TOSET” and “-m PIDSPEC FROMSET TOSET”
//   - “-m FROMSET TOSET” when the first argument isn't a PIDSPEC but a cpuset
//   - “-m TOSET” together with --pid or --fromset
func (s *session) moveTasks(h *cpuset.Hierarchy, c *cli.Context) error {
	snap := h.Snapshot()
	args := c.Args()
	pidspec := c.String("pid")
	var from, to string
	switch {
	case c.String("toset") != "":
		to = c.String("toset")
	case c.String("set") != "" && (pidspec != "" || c.String("fromset") != ""):
		to = c.String("set")
	case len(args) > 1 && pidspec == "":
		pidspec = args[0]
		if len(args) < 3 {
			to = args[1]
		} else {
			from, to = args[1], args[2]
		}
		if _, err := snap.Lookup(pidspec); err == nil {
			from, pidspec = pidspec, ""
		}
	case len(args) == 1:
		to = args[0]
	case len(args) > 1:
		from, to = args[0], args[1]
	default:
		return errors.New("destination cpuset not specified")
	}
	target := cpuset.Named(to)
	if err := h.Active(target); err != nil {
		return err
	}
	m, err := s.mover()
	if err != nil {
		return err
	}

	if pidspec != "" {
		var source cpuset.NodeRef
		switch {
		case c.String("fromset") != "" && !c.Bool("force"):
			source = cpuset.Named(c.String("fromset"))
		case c.String("toset") != "" && c.String("set") != "":
			source = cpuset.Named(c.String("set"))
		case from != "" && !c.Bool("force"):
			source = cpuset.Named(from)
		}
		var lister proc.TaskLister
		if !source.IsZero() {
			n, err := snap.Resolve(source)
			if err != nil {
				return err
			}
			lister = n
		}
		sel, err := proc.Resolve(pidspec, s.procs, lister, c.Bool("threads"))
		if err != nil {
			return err
		}
		if len(sel.Tasks) == 0 {
			log.Info("no tasks moved")
			return nil
		}
		log.Infof("moving following pidspec: %s", pidspec)
		res, err := m.SelectiveMove(migrate.Request{
			To:            target,
			Pids:          sel.Tasks,
			KernelThreads: c.Bool("kthread"),
			Force:         c.Bool("force"),
		})
		return s.reportMove(res, err, to)
	}

	switch {
	case c.String("fromset") != "":
		from = c.String("fromset")
	case c.String("set") != "":
		from = c.String("set")
	case from == "" && len(args) > 0 && args[0] != to:
		from = args[0]
	}
	if from == "" {
		return errors.New("origination cpuset not specified")
	}
	source, err := snap.Lookup(from)
	if err != nil {
		return err
	}
	tasks, err := source.Tasks()
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return errors.Errorf("no tasks to move from cpuset %q", source.Path())
	}
	var res *migrate.Result
	if c.Bool("move") {
		log.Infof("moving all tasks from %s to %s", source.Name(), to)
		res, err = m.SelectiveMove(migrate.Request{
			From:          source.Ref(),
			To:            target,
			KernelThreads: c.Bool("kthread"),
			Force:         c.Bool("force"),
			Threads:       c.Bool("threads"),
		})
	} else {
		log.Infof("moving all kernel threads from %s to %s", source.Path(), to)
		res, err = m.MoveKernelThreads(source.Ref(), target, c.Bool("force"))
	}
	return s.reportMove(res, err, to)
}

func (s *session) reportMove(res *migrate.Result, err error, to string) error {
	if err != nil {
		return err
	}
	if res.Report != nil {
		if err := res.Report.Err(to); err != nil {
			log.Warn(err.Error())
		}
	}
	log.Info("done")
	return nil
}

// listTasks lists the tasks of the named cpusets: a table of task details
// for cpusets with tasks, only a summary otherwise.
func (s *session) listTasks(h *cpuset.Hierarchy, names []string) error {
	if len(names) == 0 {
		return errors.New("cpuset(s) to list not specified")
	}
	for _, name := range names {
		sets, err := h.Snapshot().FindSets(name)
		if err != nil {
			return err
		}
		for _, n := range sets {
			if err := s.taskTable(n); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *session) taskTable(n *cpuset.Node) error {
	tasks, err := n.Tasks()
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		if s.out.machine {
			s.out.line("proc_list_no_tasks-%s", n.Name())
			return nil
		}
		s.out.line("%s", cpuset.Summary(n))
		return nil
	}
	rows := make([][]string, 0, len(tasks))
	for _, tid := range tasks {
		t, err := s.procs.Detail(tid)
		if err != nil {
			log.Debugf("task %d went away", tid)
			continue
		}
		rows = append(rows, []string{
			t.User,
			strconv.Itoa(t.TID),
			strconv.Itoa(t.PPID),
			t.Policy,
			t.Command,
		})
	}
	if !s.out.machine {
		s.out.line("%s", cpuset.Summary(n))
	}
	return s.out.table("proc_list_start-"+n.Name(), "proc_list_stop-"+n.Name(),
		[]string{"USER", "PID", "PPID", "SPPr", "TASK NAME"}, rows)
}
