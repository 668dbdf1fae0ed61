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

package fakekernel

import (
	"io/fs"
	"slices"
	"strconv"

	"github.com/thediveo/cset/cpus"
	"golang.org/x/sys/unix"
)

// Exists reports whether the task is alive.
func (k *Kernel) Exists(tid int) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.tasks[tid]
	return ok
}

// Executable returns the executable of a user task; it fails for kernel
// threads and tasks that don't exist.
func (k *Kernel) Executable(tid int) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, ok := k.tasks[tid]
	if !ok || t.exe == "" {
		return "", &fs.PathError{Op: "readlink", Path: "/proc/" + strconv.Itoa(tid) + "/exe", Err: unix.ENOENT}
	}
	return t.exe, nil
}

// Threads returns all threads of the task's process.
func (k *Kernel) Threads(pid int) ([]int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, ok := k.tasks[pid]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: "/proc/" + strconv.Itoa(pid) + "/task", Err: unix.ENOENT}
	}
	tids := slices.Clone(t.threads)
	slices.Sort(tids)
	return tids, nil
}

// Affinity returns the CPU affinity of the task.
func (k *Kernel) Affinity(tid int) (cpus.Set, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, ok := k.tasks[tid]
	if !ok {
		return nil, unix.ESRCH
	}
	return slices.Clone(t.affinity), nil
}
