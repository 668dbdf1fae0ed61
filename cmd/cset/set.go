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

	"github.com/thediveo/cset/cpus"
	"github.com/thediveo/cset/cpuset"
)

func setCommand(s *session) cli.Command {
	return cli.Command{
		Name:      "set",
		Usage:     "create, modify and destroy cpusets",
		ArgsUsage: "[CPUSET...]",
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "list, l", Usage: "list the named cpuset(s); recursive list if also -r"},
			cli.StringFlag{Name: "cpu, c", Usage: "create or modify cpuset with `CPUSPEC` specification"},
			cli.StringFlag{Name: "mem, m", Usage: "specify which memory nodes `MEMSPEC` to assign to the created or modified cpuset"},
			cli.StringFlag{Name: "newname, n", Usage: "rename cpuset specified with --set to `NEWNAME`"},
			cli.BoolFlag{Name: "destroy, d", Usage: "destroy specified cpuset"},
			cli.StringFlag{Name: "set, s", Usage: "specify `CPUSET`"},
			cli.BoolFlag{Name: "recurse, r", Usage: "do things recursively, use with --list and --destroy"},
			cli.BoolFlag{Name: "force", Usage: "force recursive deletion even if processes are running in those cpusets (they will be moved to parent cpusets)"},
			cli.BoolFlag{Name: "usehex, x", Usage: "use hexadecimal value for CPUSPEC and MEMSPEC when listing cpusets"},
			cli.BoolFlag{Name: "cpu_exclusive", Usage: "mark this cpuset as owning its CPUs exclusively"},
			cli.BoolFlag{Name: "mem_exclusive", Usage: "mark this cpuset as owning its MEMs exclusively"},
		},
		Action: func(c *cli.Context) error {
			h, err := s.hierarchy()
			if err != nil {
				return err
			}
			switch {
			case c.Bool("list"):
				return s.listSets(h, setNames(c), c.Bool("recurse"), c.Bool("usehex"))
			case c.String("cpu") != "" || c.String("mem") != "":
				return createOrModify(h, c)
			case c.String("newname") != "":
				names := setNames(c)
				if !c.IsSet("set") && c.NArg() == 0 {
					return errors.New("desired cpuset not specified")
				}
				newname := c.String("newname")
				log.Infof("renaming %q to %q", names[0], newname)
				return h.Rename(cpuset.Named(names[0]), newname)
			case c.Bool("destroy"):
				if !c.IsSet("set") && c.NArg() == 0 {
					return errors.New("cpuset(s) to destroy not specified")
				}
				var refs []cpuset.NodeRef
				for _, name := range setNames(c) {
					refs = append(refs, cpuset.Named(name))
				}
				if err := h.DestroyTree(refs, c.Bool("recurse"), c.Bool("force")); err != nil {
					return err
				}
				log.Info("done")
				return nil
			case c.Bool("cpu_exclusive") || c.Bool("mem_exclusive"):
				name := setNames(c)[0]
				if err := h.Modify(cpuset.Named(name), settings(c)); err != nil {
					return err
				}
				log.Infof("modified cpuset %q", name)
				return nil
			}
			log.Debug("no options set, default is listing cpusets")
			return s.listSets(h, setNames(c), c.Bool("recurse"), c.Bool("usehex"))
		},
	}
}

// setNames returns the cpusets named by --set or the arguments, defaulting
// to the root cpuset.
func setNames(c *cli.Context) []string {
	if name := c.String("set"); name != "" {
		return []string{name}
	}
	if c.NArg() > 0 {
		return c.Args()
	}
	return []string{"root"}
}

func settings(c *cli.Context) cpuset.Settings {
	settings := cpuset.Settings{
		CPUs: c.String("cpu"),
		Mems: c.String("mem"),
	}
	if c.Bool("cpu_exclusive") {
		settings.CPUExclusive = cpuset.Bool(true)
	}
	if c.Bool("mem_exclusive") {
		settings.MemExclusive = cpuset.Bool(true)
	}
	return settings
}

// createOrModify creates the cpuset or, if it already exists, modifies it.
func createOrModify(h *cpuset.Hierarchy, c *cli.Context) error {
	if !c.IsSet("set") && c.NArg() == 0 {
		return errors.New("cpuset not specified")
	}
	name := setNames(c)[0]
	if mems := c.String("mem"); mems != "" {
		if _, err := cpus.ParseMemSpec(mems); err != nil {
			return err
		}
	}
	_, err := h.Create(name, settings(c))
	switch {
	case err == nil:
		log.Infof("created cpuset %q", name)
	case errors.Is(err, cpuset.ErrAlreadyExists):
		if err := h.Modify(cpuset.Named(name), settings(c)); err != nil {
			return err
		}
		log.Infof("modified cpuset %q", name)
	default:
		return err
	}
	return h.Active(cpuset.Named(name))
}

// listSets lists the cpusets matching the names together with their
// children, or all their descendants if recurse is true.
func (s *session) listSets(h *cpuset.Hierarchy, names []string, recurse, usehex bool) error {
	var sets []*cpuset.Node
	for _, name := range names {
		found, err := h.Snapshot().FindSets(name)
		if err != nil {
			return err
		}
		for _, n := range found {
			sets = append(sets, n)
			if recurse {
				for desc := range n.Walk() {
					sets = append(sets, desc)
				}
				continue
			}
			sets = append(sets, n.Children()...)
		}
	}
	rows := make([][]string, 0, len(sets))
	for _, n := range sets {
		row, err := setDetails(n, usehex)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return s.out.table("cpuset_list_start", "cpuset_list_end",
		[]string{"Name", "CPUs", "X", "MEMs", "X", "Tasks", "Subs", "Path"}, rows)
}

func setDetails(n *cpuset.Node, usehex bool) ([]string, error) {
	cpulist, err := n.CPUs()
	if err != nil {
		return nil, err
	}
	memlist, err := n.Mems()
	if err != nil {
		return nil, err
	}
	cpux, err := n.CPUExclusive()
	if err != nil {
		return nil, err
	}
	memx, err := n.MemExclusive()
	if err != nil {
		return nil, err
	}
	tasks, err := n.Tasks()
	if err != nil {
		return nil, err
	}
	return []string{
		n.Name(),
		spec(cpulist, usehex),
		yesno(cpux),
		spec(memlist, usehex),
		yesno(memx),
		strconv.Itoa(len(tasks)),
		strconv.Itoa(len(n.Children())),
		n.Path(),
	}, nil
}

func spec(l cpus.List, usehex bool) string {
	if len(l) == 0 {
		return "*****"
	}
	if usehex {
		return l.Set().Hex()
	}
	return l.String()
}

func yesno(b bool) string {
	if b {
		return "y"
	}
	return "n"
}
