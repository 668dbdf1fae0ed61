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

package cpuset

import (
	"bytes"
	"io/fs"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/thediveo/cset/cpus"
	"github.com/thediveo/faf"
	"golang.org/x/sys/unix"
)

// Node is a cpuset in a [Snapshot]. Parent and children refer to other nodes
// by path.
type Node struct {
	snap     *Snapshot
	name     string
	path     string
	parent   string // empty for the root cpuset
	children []string
}

// Name returns the name of the cpuset; the root cpuset is named “root”.
func (n *Node) Name() string { return n.name }

// Path returns the absolute path of the cpuset, where the root cpuset is “/”.
func (n *Node) Path() string { return n.path }

// IsRoot reports whether this is the root cpuset.
func (n *Node) IsRoot() bool { return n.path == "/" }

// Parent returns the parent cpuset, or nil for the root cpuset.
func (n *Node) Parent() *Node {
	if n.parent == "" {
		return nil
	}
	return n.snap.nodes[n.parent]
}

// Children returns the child cpusets.
func (n *Node) Children() []*Node {
	children := make([]*Node, 0, len(n.children))
	for _, child := range n.children {
		children = append(children, n.snap.nodes[child])
	}
	return children
}

func (n *Node) read(name string) (string, error) {
	b, err := n.snap.h.fs.ReadFile(n.snap.h.control(n.path, name))
	if err != nil {
		return "", errors.Wrapf(err, "cannot read %s of cpuset %s", name, n.path)
	}
	return strings.TrimSpace(string(b)), nil
}

func (n *Node) write(name string, value string) error {
	log.Debugf("setting %s of cpuset %s to %q", name, n.path, value)
	if err := n.snap.h.fs.WriteFile(n.snap.h.control(n.path, name), []byte(value+"\n")); err != nil {
		return errors.Wrapf(err, "cannot set %s of cpuset %s to %q", name, n.path, value)
	}
	return nil
}

func (n *Node) list(name string) (cpus.List, error) {
	text, err := n.read(name)
	if err != nil {
		return nil, err
	}
	l, err := cpus.NewList([]byte(text))
	if err != nil {
		return nil, errors.Wrapf(err, "malformed %s of cpuset %s", name, n.path)
	}
	return l, nil
}

func (n *Node) flag(name string) (bool, error) {
	text, err := n.read(name)
	if err != nil {
		return false, err
	}
	return text == "1", nil
}

func (n *Node) setFlag(name string, on bool) error {
	if on {
		return n.write(name, "1")
	}
	return n.write(name, "0")
}

// CPUs returns the CPUs of this cpuset.
func (n *Node) CPUs() (cpus.List, error) { return n.list("cpus") }

// SetCPUs sets the CPUs of this cpuset from a CPUSPEC, which must not exceed
// the CPUs of the system.
func (n *Node) SetCPUs(cpuspec string) error {
	l, err := cpus.ParseCPUSpec(cpuspec, n.snap.maxCPU)
	if err != nil {
		return err
	}
	return n.write("cpus", l.String())
}

// Mems returns the memory nodes of this cpuset.
func (n *Node) Mems() (cpus.List, error) { return n.list("mems") }

// SetMems sets the memory nodes of this cpuset from a MEMSPEC.
func (n *Node) SetMems(memspec string) error {
	l, err := cpus.ParseMemSpec(memspec)
	if err != nil {
		return err
	}
	return n.write("mems", l.String())
}

// CPUExclusive reports whether no sibling cpuset may use this cpuset's CPUs.
func (n *Node) CPUExclusive() (bool, error) { return n.flag("cpu_exclusive") }

// SetCPUExclusive sets or clears the CPU exclusive flag.
func (n *Node) SetCPUExclusive(on bool) error { return n.setFlag("cpu_exclusive", on) }

// MemExclusive reports whether no sibling cpuset may use this cpuset's memory
// nodes.
func (n *Node) MemExclusive() (bool, error) { return n.flag("mem_exclusive") }

// SetMemExclusive sets or clears the memory exclusive flag.
func (n *Node) SetMemExclusive(on bool) error { return n.setFlag("mem_exclusive", on) }

// Tasks returns the IDs of the tasks currently in this cpuset.
func (n *Node) Tasks() ([]int, error) {
	b, err := n.snap.h.fs.ReadFile(n.snap.h.control(n.path, "tasks"))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read tasks of cpuset %s", n.path)
	}
	tids := []int{}
	for _, line := range bytes.Split(b, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		bs := faf.NewBytestring(line)
		tid, ok := bs.Uint64()
		if !ok || !bs.EOL() {
			return nil, errors.Errorf("malformed task ID %q in cpuset %s", line, n.path)
		}
		tids = append(tids, int(tid))
	}
	return tids, nil
}

// WriteReport tells which tasks were moved into a cpuset, and which not.
type WriteReport struct {
	Moved     []int
	NotFound  []int // tasks that have terminated
	Unmovable []int // tasks the kernel refused to move
}

// Err returns a [*PartialMoveError] if not all tasks were moved, otherwise
// nil.
func (r *WriteReport) Err(path string) error {
	if len(r.NotFound) == 0 && len(r.Unmovable) == 0 {
		return nil
	}
	return &PartialMoveError{Path: path, NotFound: r.NotFound, Unmovable: r.Unmovable}
}

// SetTasks moves the tasks into this cpuset, one task at a time. Failing to
// move individual tasks doesn't stop moving the remaining tasks; instead,
// the failed tasks are reported as either not found or unmovable. Only if the
// tasks control file cannot be opened at all an error is returned.
func (n *Node) SetTasks(tids []int) (*WriteReport, error) {
	r := &WriteReport{}
	tasksfile := n.snap.h.control(n.path, "tasks")
	for _, tid := range tids {
		err := n.snap.h.fs.WriteFile(tasksfile, []byte(strconv.Itoa(tid)))
		if err == nil {
			r.Moved = append(r.Moved, tid)
			continue
		}
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) && pathErr.Op == "open" {
			return r, errors.Wrapf(err, "cannot move tasks into cpuset %s", n.path)
		}
		if taskGone(err) {
			r.NotFound = append(r.NotFound, tid)
			continue
		}
		log.Debugf("task %d not movable into %s: %s", tid, n.path, err)
		r.Unmovable = append(r.Unmovable, tid)
	}
	if len(r.NotFound) > 0 {
		log.Infof("%d tasks were not found, so were not moved", len(r.NotFound))
		log.Debugf("not found: %v", r.NotFound)
	}
	if len(r.Unmovable) > 0 {
		log.Infof("%d tasks are not movable, impossible to move", len(r.Unmovable))
		log.Debugf("not movable: %v", r.Unmovable)
	}
	log.Debugf("moved %d of %d tasks into cpuset %s", len(r.Moved), len(tids), n.path)
	return r, nil
}

// taskGone reports whether a failed task write was due to the task not
// existing anymore. Errors without an errno fall back to their message.
func taskGone(err error) bool {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno == unix.ESRCH
	}
	return strings.Contains(strings.ToLower(err.Error()), "no such process")
}
