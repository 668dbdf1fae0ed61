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

package migrate

import (
	"github.com/pkg/errors"
	"github.com/thediveo/cset/cpuset"
	"github.com/thediveo/cset/proc"
)

// Request describes a selective move.
type Request struct {
	From cpuset.NodeRef // optional source cpuset
	To   cpuset.NodeRef
	// Pids are the candidate tasks; if nil, all tasks of From.
	Pids []int
	// KernelThreads includes kernel threads, but only unbound ones unless
	// Force is also set.
	KernelThreads bool
	// Force moves user tasks regardless of their current cpuset, as well as
	// bound kernel threads.
	Force bool
	// Threads adds the sibling threads of selected user tasks.
	Threads bool
}

// Hint explains why a selective move didn't move any task.
type Hint int

const (
	NoHint Hint = iota
	HintSameSourceDestination
	HintKernelThreads
	HintForceBound
)

func (h Hint) String() string {
	switch h {
	case HintSameSourceDestination:
		return "same source/destination cpuset, use --force if ok"
	case HintKernelThreads:
		return "if you want to move kernel threads, use -k"
	case HintForceBound:
		return "kernel tasks are bound, use --force if ok"
	}
	return ""
}

// Result of a selective move.
type Result struct {
	UserTasks     int // user tasks selected, including sibling threads
	KernelThreads int // kernel threads selected
	NotInSource   int // user tasks skipped as not in the source cpuset
	AtDestination int // tasks skipped as already in the destination
	Bound         int // bound kernel threads skipped
	Gone          int // tasks that terminated during classification
	SkippedKernel int // kernel threads skipped as not requested
	// Report of the tasks written to the destination; nil if nothing was
	// selected.
	Report *cpuset.WriteReport
	// Hint why nothing was moved.
	Hint Hint
}

// Moved returns the number of tasks actually moved.
func (r *Result) Moved() int {
	if r.Report == nil {
		return 0
	}
	return len(r.Report.Moved)
}

// SelectiveMove moves the candidate tasks into the destination cpuset,
// applying the following policy:
//   - user tasks are moved if they are in the source cpuset; without source
//     cpuset or when forced, they are moved unless already in the
//     destination.
//   - kernel threads are only moved when requested, and then only if they
//     are unbound, unless forced.
//
// Moving no task at all is not an error, but the Result then carries a Hint.
// Only if tasks were skipped as already being in the destination,
// SelectiveMove fails with [ErrSameSourceDestination].
func (m *Mover) SelectiveMove(req Request) (*Result, error) {
	snap := m.Hierarchy.Snapshot()
	target, err := snap.Resolve(req.To)
	if err != nil {
		return nil, err
	}
	var source *cpuset.Node
	sourceTasks := map[int]struct{}{}
	if !req.From.IsZero() {
		if source, err = snap.Resolve(req.From); err != nil {
			return nil, err
		}
		if source.Path() == target.Path() && !req.Force {
			return nil, errors.Wrapf(ErrSameSourceDestination, "cpuset %s", target.Path())
		}
		if sourceTasks, err = taskSet(source); err != nil {
			return nil, err
		}
	}
	heap := req.Pids
	if heap == nil {
		if source == nil {
			return nil, errors.New("neither source cpuset nor tasks specified")
		}
		if heap, err = source.Tasks(); err != nil {
			return nil, err
		}
	}
	targetTasks, err := taskSet(target)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var tasks []int
	selected := map[int]struct{}{}
	add := func(tid int) bool {
		if _, ok := selected[tid]; ok {
			return false
		}
		selected[tid] = struct{}{}
		tasks = append(tasks, tid)
		return true
	}
	for _, tid := range heap {
		switch proc.Classify(m.Procs, tid) {
		case proc.User:
			if source != nil && !req.Force {
				if _, ok := sourceTasks[tid]; !ok {
					log.Debugf("task %d not running in %s, skipped", tid, source.Path())
					res.NotInSource++
					continue
				}
				if add(tid) {
					res.UserTasks++
				}
				if req.Threads {
					res.UserTasks += m.addThreads(tid, add)
				}
				continue
			}
			if _, ok := targetTasks[tid]; ok && !req.Force {
				log.Debugf("task %d moving to origination set %s, skipped", tid, target.Path())
				res.AtDestination++
				continue
			}
			if add(tid) {
				res.UserTasks++
			}
			if req.Threads {
				res.UserTasks += m.addThreads(tid, add)
			}
		case proc.Kernel:
			if !req.KernelThreads {
				res.SkippedKernel++
				continue
			}
			if req.Force {
				if add(tid) {
					res.KernelThreads++
				}
				continue
			}
			unbound, err := m.IsUnbound(tid)
			switch {
			case err != nil:
				log.Debugf("kernel thread %d not found, perhaps it went away", tid)
				res.Gone++
			case unbound:
				if add(tid) {
					res.KernelThreads++
				}
			default:
				if _, ok := targetTasks[tid]; ok {
					res.AtDestination++
					continue
				}
				log.Debugf("kernel thread %d is bound, not adding", tid)
				res.Bound++
			}
		default:
			res.Gone++
		}
	}

	if len(tasks) == 0 {
		log.Info("no task matched move criteria")
		switch {
		case res.AtDestination > 0:
			res.Hint = HintSameSourceDestination
			return res, errors.Wrapf(ErrSameSourceDestination, "cpuset %s", target.Path())
		case len(heap) > 0 && !req.KernelThreads:
			res.Hint = HintKernelThreads
		case res.Bound > 0:
			res.Hint = HintForceBound
		}
		if res.Hint != NoHint {
			log.Infof("hint: %s", res.Hint)
		}
		return res, nil
	}
	m.logSelection(res, target)
	res.Report, err = target.SetTasks(tasks)
	return res, err
}

// MoveKernelThreads moves the kernel threads from one cpuset into another;
// without force only unbound kernel threads get moved.
func (m *Mover) MoveKernelThreads(from, to cpuset.NodeRef, force bool) (*Result, error) {
	source, err := m.Hierarchy.Snapshot().Resolve(from)
	if err != nil {
		return nil, err
	}
	tasks, err := source.Tasks()
	if err != nil {
		return nil, err
	}
	kthreads := []int{}
	for _, tid := range tasks {
		if proc.Classify(m.Procs, tid) == proc.Kernel {
			kthreads = append(kthreads, tid)
		}
	}
	return m.SelectiveMove(Request{
		From:          from,
		To:            to,
		Pids:          kthreads,
		KernelThreads: true,
		Force:         force,
	})
}

// addThreads adds the sibling threads of the task, returning how many were
// added.
func (m *Mover) addThreads(tid int, add func(int) bool) int {
	tids, err := m.Procs.Threads(tid)
	if err != nil || len(tids) <= 1 {
		return 0
	}
	added := 0
	for _, thread := range tids {
		if thread != tid && add(thread) {
			added++
		}
	}
	return added
}

func (m *Mover) logSelection(res *Result, target *cpuset.Node) {
	if res.UserTasks > 0 {
		log.Infof("moving %d userspace tasks to %s", res.UserTasks, target.Path())
	}
	if res.NotInSource > 0 {
		log.Infof("--> not moving %d tasks (not in fromset, use --force)", res.NotInSource)
	}
	if res.KernelThreads > 0 {
		log.Infof("moving %d kernel threads to: %s", res.KernelThreads, target.Path())
	}
	if res.Bound > 0 {
		log.Infof("--> not moving %d threads (not unbound, use --force)", res.Bound)
	}
	if res.SkippedKernel > 0 && res.UserTasks == 0 {
		log.Info("not moving kernel threads, need both --force and --kthread")
	}
	if res.Gone > 0 {
		log.Infof("--> not moving %d tasks because they are missing (race)", res.Gone)
	}
}

func taskSet(n *cpuset.Node) (map[int]struct{}, error) {
	tasks, err := n.Tasks()
	if err != nil {
		return nil, err
	}
	set := make(map[int]struct{}, len(tasks))
	for _, tid := range tasks {
		set[tid] = struct{}{}
	}
	return set, nil
}
