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

package proc

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/thediveo/faf"
)

// ErrInvalidPidSpec is returned (wrapped) for malformed PIDSPECs.
var ErrInvalidPidSpec = errors.New("invalid pidspec")

// maxPID is the kernel's PID_MAX_LIMIT; no task ID can be larger.
const maxPID = 1 << 22

// TaskLister lists the tasks of a task container, such as a cpuset.
type TaskLister interface {
	Tasks() ([]int, error)
	Path() string
}

// Selection is the result of resolving a PIDSPEC.
type Selection struct {
	// Tasks selected, without duplicates, in order of their first appearance
	// and followed by additional sibling threads, if requested.
	Tasks []int
	// NotInSource lists the task IDs that were rejected as they weren't
	// members of the source.
	NotInSource []int
	// Absent counts the task IDs from ranges that didn't exist.
	Absent int
}

// Resolve turns the PIDSPEC text into a Selection of task IDs. Single task
// IDs are taken as they are, while ranges keep only the tasks currently
// existing in the process Table. If source is non-nil, only tasks that are
// currently members of source are selected; rejected tasks are reported in
// the Selection and aren't an error. If threads is true then the sibling
// threads of multi-threaded processes are added too.
//
// Empty groups in the PIDSPEC are skipped. A group consisting of more than two
// “-”-separated fields or of non-numbers fails with [ErrInvalidPidSpec].
func Resolve(pidspec string, t Table, source TaskLister, threads bool) (*Selection, error) {
	var members map[int]struct{}
	if source != nil {
		tasks, err := source.Tasks()
		if err != nil {
			return nil, errors.Wrapf(err, "cannot resolve pidspec %q", pidspec)
		}
		members = make(map[int]struct{}, len(tasks))
		for _, tid := range tasks {
			members[tid] = struct{}{}
		}
	}

	sel := &Selection{}
	seen := map[int]struct{}{}
	add := func(tid int) {
		if members != nil {
			if _, ok := members[tid]; !ok {
				log.Debugf("task %d not running in %s, skipped", tid, source.Path())
				sel.NotInSource = append(sel.NotInSource, tid)
				return
			}
		}
		if _, ok := seen[tid]; ok {
			return
		}
		seen[tid] = struct{}{}
		sel.Tasks = append(sel.Tasks, tid)
	}

	for _, group := range strings.Split(pidspec, ",") {
		if group == "" {
			continue
		}
		fields := strings.Split(group, "-")
		if len(fields) > 2 {
			return nil, errors.Wrapf(ErrInvalidPidSpec, "pidspec %q has bad group %q", pidspec, group)
		}
		var ids [2]int
		for idx, field := range fields {
			id, ok := pid(field)
			if !ok {
				return nil, errors.Wrapf(ErrInvalidPidSpec, "pidspec %q has bad group %q", pidspec, group)
			}
			ids[idx] = id
		}
		if len(fields) == 1 {
			add(ids[0])
			continue
		}
		lo, hi := min(ids[0], ids[1]), max(ids[0], ids[1])
		for tid := lo; tid <= hi; tid++ {
			if !t.Exists(tid) {
				sel.Absent++
				continue
			}
			add(tid)
		}
	}
	if len(sel.NotInSource) > 0 {
		log.Infof("skipped %d task(s), not in origination set %q",
			len(sel.NotInSource), source.Path())
	}

	if threads {
		for _, tid := range sel.Tasks {
			tids, err := t.Threads(tid)
			if err != nil || len(tids) <= 1 {
				continue
			}
			for _, thread := range tids {
				if _, ok := seen[thread]; ok {
					continue
				}
				seen[thread] = struct{}{}
				sel.Tasks = append(sel.Tasks, thread)
			}
		}
	}
	log.Debugf("pidspec %q resolves to %d tasks", pidspec, len(sel.Tasks))
	return sel, nil
}

// pid scans a field consisting only of decimal digits.
func pid(field string) (int, bool) {
	if field == "" {
		return 0, false
	}
	bs := faf.NewBytestring([]byte(field))
	id, ok := bs.Uint64()
	if !ok || !bs.EOL() || id > maxPID {
		return 0, false
	}
	return int(id), true
}
