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

// Package migrate moves tasks between cpusets. Besides plain moves of task
// lists, it supports selective moves that tell user tasks from kernel
// threads and only move kernel threads that aren't bound to particular CPUs,
// unless forced.
package migrate

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/thediveo/cset/cpuset"
	"github.com/thediveo/cset/proc"
)

var log = logrus.WithField("pkg", "migrate")

var (
	ErrSameSourceDestination = errors.New("same source/destination cpuset, use --force if ok")
	ErrNoMatchingTasks       = errors.New("tasks do not match all criteria, none moved")
)

// Mover moves tasks between the cpusets of a Hierarchy, consulting the
// process table to classify tasks.
type Mover struct {
	Hierarchy *cpuset.Hierarchy
	Procs     proc.Table
}

// New returns a Mover for the cpusets in h and the process table procs.
func New(h *cpuset.Hierarchy, procs proc.Table) *Mover {
	return &Mover{Hierarchy: h, Procs: procs}
}

// Move moves the tasks pids into the cpuset to. If pids is nil, then all tasks
// of the cpuset from are moved, which must differ from to.
func (m *Mover) Move(from, to cpuset.NodeRef, pids []int) (*cpuset.WriteReport, error) {
	snap := m.Hierarchy.Snapshot()
	target, err := snap.Resolve(to)
	if err != nil {
		return nil, err
	}
	if pids == nil {
		source, err := snap.Resolve(from)
		if err != nil {
			return nil, err
		}
		if source.Path() == target.Path() {
			return nil, errors.Wrapf(ErrSameSourceDestination,
				"cannot move tasks of %s into their origination cpuset", source.Path())
		}
		if pids, err = source.Tasks(); err != nil {
			return nil, err
		}
	}
	if len(pids) == 0 {
		return &cpuset.WriteReport{}, nil
	}
	log.Debugf("moving %d tasks to %s", len(pids), target.Path())
	return target.SetTasks(pids)
}

// MovePidSpec moves the tasks specified by pidspec into the cpuset to. When
// from isn't zero, only the tasks currently in from are moved, and it is an
// error if none of the tasks matches. If threads is true, then all threads of
// multi-threaded processes get moved.
func (m *Mover) MovePidSpec(pidspec string, to, from cpuset.NodeRef, threads bool) (*cpuset.WriteReport, error) {
	var source proc.TaskLister
	if !from.IsZero() {
		n, err := m.Hierarchy.Snapshot().Resolve(from)
		if err != nil {
			return nil, err
		}
		source = n
	}
	sel, err := proc.Resolve(pidspec, m.Procs, source, threads)
	if err != nil {
		return nil, err
	}
	if len(sel.Tasks) == 0 {
		if source != nil {
			return nil, errors.Wrapf(ErrNoMatchingTasks, "pidspec %q in %s", pidspec, source.Path())
		}
		return &cpuset.WriteReport{}, nil
	}
	return m.Move(cpuset.NodeRef{}, to, sel.Tasks)
}

// IsUnbound reports whether the task may run on all CPUs of the system.
func (m *Mover) IsUnbound(tid int) (bool, error) {
	affinity, err := m.Procs.Affinity(tid)
	if err != nil {
		return false, err
	}
	unbound := affinity.Equal(m.Hierarchy.Snapshot().FullMask())
	log.Debugf("task %d affinity %s, unbound: %v", tid, affinity.Hex(), unbound)
	return unbound, nil
}

// Exec moves the calling process into the cpuset to and then replaces it with
// the program args[0]; it only returns in case of errors.
func (m *Mover) Exec(to cpuset.NodeRef, args []string, creds proc.Credentials) error {
	if err := m.Hierarchy.Active(to); err != nil {
		return err
	}
	// the program might get executed by any of our threads.
	pid := os.Getpid()
	tids, err := m.Procs.Threads(pid)
	if err != nil {
		tids = []int{pid}
	}
	r, err := m.Move(cpuset.NodeRef{}, to, tids)
	if err != nil {
		return err
	}
	if err := r.Err(to.String()); err != nil {
		return err
	}
	log.Infof("last message, executing %q in cpuset %q, pid is %d", args, to, pid)
	return proc.Exec(args, creds)
}
