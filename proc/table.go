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
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/thediveo/cset/cpus"
)

var log = logrus.WithField("pkg", "proc")

// DefaultRoot is where procfs is normally mounted.
const DefaultRoot = "/proc"

// Table is the process table as needed for classifying and moving tasks.
type Table interface {
	// Exists reports whether a task with the specified ID currently exists.
	Exists(tid int) bool
	// Executable returns the path of the task's executable image. Kernel
	// threads don't have one.
	Executable(tid int) (string, error)
	// Threads returns the IDs of all threads of the process with the
	// specified PID, including the PID itself.
	Threads(pid int) ([]int, error)
	// Affinity returns the CPU affinity of the task.
	Affinity(tid int) (cpus.Set, error)
}

// Kind of a task.
type Kind int

const (
	Gone   Kind = iota // task has terminated in the meantime
	User               // user task, having an executable image
	Kernel             // kernel thread
)

func (k Kind) String() string {
	switch k {
	case User:
		return "user"
	case Kernel:
		return "kernel"
	default:
		return "gone"
	}
}

// Classify tells user tasks from kernel threads: only user tasks have an
// executable image. A task for which the executable cannot be determined and
// that doesn't exist anymore is reported as Gone.
func Classify(t Table, tid int) Kind {
	_, err := t.Executable(tid)
	switch {
	case err == nil:
		return User
	case errors.Is(err, fs.ErrPermission):
		// only user tasks can be off-limits
		return User
	case !t.Exists(tid):
		return Gone
	}
	return Kernel
}

// ProcFS is a Table backed by a procfs mount.
type ProcFS struct {
	root string
}

var _ Table = (*ProcFS)(nil)

// NewProcFS returns a process Table reading from the procfs mounted at root;
// an empty root means [DefaultRoot].
func NewProcFS(root string) *ProcFS {
	if root == "" {
		root = DefaultRoot
	}
	return &ProcFS{root: root}
}

func (p *ProcFS) path(tid int, elem ...string) string {
	return filepath.Join(append([]string{p.root, strconv.Itoa(tid)}, elem...)...)
}

// Exists reports whether a task with the specified ID currently exists. This
// includes threads, which procfs shows without listing them.
func (p *ProcFS) Exists(tid int) bool {
	if tid <= 0 {
		return false
	}
	_, err := os.Stat(p.path(tid))
	return err == nil
}

// Executable returns the executable image path of the task.
func (p *ProcFS) Executable(tid int) (string, error) {
	return os.Readlink(p.path(tid, "exe"))
}

// Threads returns the task IDs of all threads of the specified process, in
// ascending order.
func (p *ProcFS) Threads(pid int) ([]int, error) {
	entries, err := os.ReadDir(p.path(pid, "task"))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot list threads of task %d", pid)
	}
	tids := make([]int, 0, len(entries))
	for _, entry := range entries {
		tid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		tids = append(tids, tid)
	}
	slices.Sort(tids)
	return tids, nil
}

// Affinity returns the CPU affinity of the task, as reported by the kernel.
func (p *ProcFS) Affinity(tid int) (cpus.Set, error) {
	return cpus.Affinity(tid)
}
