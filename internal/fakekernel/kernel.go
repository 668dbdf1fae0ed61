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

// Package fakekernel emulates the kernel's cpuset filesystem and process table
// on top of a temporary directory, so that cpuset manipulation and task
// migration can be tested without root privileges.
//
// The emulation mimics the kernel's behavior as far as it matters here:
// creating a cpuset directory creates its control files, writing a task ID to
// a “tasks” file moves that task out of whatever cpuset it was in before,
// non-empty cpusets cannot be removed, and CPUs and memory nodes must be
// subsets of the parent's and must not overlap with exclusive siblings.
package fakekernel

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/thediveo/cset/cpus"
	"golang.org/x/sys/unix"
)

// Kernel emulates a cpuset filesystem mounted at a temporary directory
// together with a process table.
type Kernel struct {
	mu     sync.Mutex
	root   string
	prefix string
	maxcpu uint

	tasks     map[int]*task
	unmovable map[int]bool
	plain     bool
}

type task struct {
	exe      string
	threads  []int
	affinity cpus.Set
}

// New returns a Kernel emulating a cpuset filesystem at the directory root,
// which must exist and should be empty. The prefix is either “” for the
// original cpuset filesystem or “cpuset.” for the cgroup v1 cpuset
// controller. The root cpuset gets all CPUs from 0 to maxcpu and memory node
// 0.
func New(root string, prefix string, maxcpu uint) (*Kernel, error) {
	k := &Kernel{
		root:      root,
		prefix:    prefix,
		maxcpu:    maxcpu,
		tasks:     map[int]*task{},
		unmovable: map[int]bool{},
	}
	if err := k.controlFiles(root); err != nil {
		return nil, err
	}
	for name, value := range map[string]string{
		"cpus":          cpus.Full(maxcpu).String(),
		"mems":          "0",
		"cpu_exclusive": "1",
		"mem_exclusive": "1",
	} {
		if err := os.WriteFile(filepath.Join(root, prefix+name), []byte(value+"\n"), 0644); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// Root returns the directory where the emulated cpuset filesystem is
// “mounted”.
func (k *Kernel) Root() string { return k.root }

// Prefix returns the control file name prefix.
func (k *Kernel) Prefix() string { return k.prefix }

// SetPlainErrors switches task write failures from errno-carrying errors to
// errors only carrying a message, such as when they travel through layers
// that lose the error code.
func (k *Kernel) SetPlainErrors(plain bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.plain = plain
}

// AddUserTask adds a user process with the specified executable and
// additional threads to the root cpuset. It is unbound, that is, allowed to
// run on all CPUs.
func (k *Kernel) AddUserTask(pid int, exe string, threads ...int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	all := append([]int{pid}, threads...)
	for _, tid := range all {
		k.tasks[tid] = &task{exe: exe, threads: all, affinity: cpus.Full(k.maxcpu)}
		k.attach(k.root, tid)
	}
}

// AddKernelThread adds a kernel thread to the root cpuset. A bound kernel
// thread is restricted to CPU 0.
func (k *Kernel) AddKernelThread(tid int, bound bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	affinity := cpus.Full(k.maxcpu)
	if bound {
		affinity = cpus.Set{}.AddRange(0, 0)
	}
	k.tasks[tid] = &task{threads: []int{tid}, affinity: affinity}
	k.attach(k.root, tid)
}

// SetUnmovable marks a task as one that the kernel refuses to move.
func (k *Kernel) SetUnmovable(tid int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.unmovable[tid] = true
}

// Exit terminates the task, removing it from its cpuset.
func (k *Kernel) Exit(tid int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.tasks, tid)
	k.detach(tid)
}

// TasksOf returns the IDs of the tasks in the cpuset with the specified path,
// such as “/” or “/user”.
func (k *Kernel) TasksOf(path string) []int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tasksIn(filepath.Join(k.root, path))
}

// MkdirPlain creates a directory inside the cpuset filesystem that lacks any
// control files.
func (k *Kernel) MkdirPlain(path string) error {
	return os.Mkdir(filepath.Join(k.root, path), 0755)
}

// controlFiles creates the control files of a new cpuset in dir.
func (k *Kernel) controlFiles(dir string) error {
	for _, name := range []string{"cpus", "mems", "cpu_exclusive", "mem_exclusive", "tasks"} {
		content := "\n"
		switch name {
		case "cpu_exclusive", "mem_exclusive":
			content = "0\n"
		case "tasks":
			content = ""
		default:
		}
		filename := name
		if name != "tasks" {
			filename = k.prefix + name
		}
		if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}

// tasksIn returns the task IDs listed in the tasks file of the cpuset dir.
func (k *Kernel) tasksIn(dir string) []int {
	b, err := os.ReadFile(filepath.Join(dir, "tasks"))
	if err != nil {
		return nil
	}
	var tids []int
	for _, line := range strings.Fields(string(b)) {
		if tid, err := strconv.Atoi(line); err == nil {
			tids = append(tids, tid)
		}
	}
	return tids
}

// detach removes the task from all cpusets.
func (k *Kernel) detach(tid int) {
	_ = filepath.WalkDir(k.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		tids := k.tasksIn(path)
		if !slices.Contains(tids, tid) {
			return nil
		}
		tids = slices.DeleteFunc(tids, func(t int) bool { return t == tid })
		var b bytes.Buffer
		for _, t := range tids {
			b.WriteString(strconv.Itoa(t) + "\n")
		}
		_ = os.WriteFile(filepath.Join(path, "tasks"), b.Bytes(), 0644)
		return nil
	})
}

// attach moves the task into the cpuset dir.
func (k *Kernel) attach(dir string, tid int) {
	k.detach(tid)
	f, err := os.OpenFile(filepath.Join(dir, "tasks"), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(strconv.Itoa(tid) + "\n")
}

// failure returns the error for a failed write, either carrying an errno or
// only its message.
func (k *Kernel) failure(op, name string, errno unix.Errno) error {
	if k.plain {
		return errors.New(op + " " + name + ": " + errno.Error())
	}
	return &fs.PathError{Op: op, Path: name, Err: errno}
}
