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
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/thediveo/cset/cpus"
	"golang.org/x/sys/unix"
)

// ReadFile reads a control file.
func (k *Kernel) ReadFile(name string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return os.ReadFile(name)
}

// WriteFile writes a control file, applying the kernel's rules for the
// particular control file.
func (k *Kernel) WriteFile(name string, data []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, err := os.Stat(name); err != nil {
		return &fs.PathError{Op: "open", Path: name, Err: unix.ENOENT}
	}
	dir, base := filepath.Split(name)
	dir = filepath.Clean(dir)
	value := strings.TrimSpace(string(data))
	switch base {
	case "tasks":
		return k.writeTask(dir, name, value)
	case k.prefix + "cpus":
		return k.writeList(dir, name, "cpus", value)
	case k.prefix + "mems":
		return k.writeList(dir, name, "mems", value)
	case k.prefix + "cpu_exclusive":
		return k.writeFlag(dir, name, "cpus", value)
	case k.prefix + "mem_exclusive":
		return k.writeFlag(dir, name, "mems", value)
	}
	return os.WriteFile(name, data, 0644)
}

func (k *Kernel) writeTask(dir, name, value string) error {
	tid, err := strconv.Atoi(value)
	if err != nil {
		return k.failure("write", name, unix.EINVAL)
	}
	if _, ok := k.tasks[tid]; !ok {
		return k.failure("write", name, unix.ESRCH)
	}
	if k.unmovable[tid] {
		return k.failure("write", name, unix.EINVAL)
	}
	if k.list(dir, "cpus") == "" || k.list(dir, "mems") == "" {
		return k.failure("write", name, unix.ENOSPC)
	}
	k.attach(dir, tid)
	return nil
}

// writeList sets the CPUs or memory nodes of a cpuset after checking that
// they are a subset of the parent's and don't overlap with any sibling where
// either is exclusive.
func (k *Kernel) writeList(dir, name, kind, value string) error {
	l, err := cpus.NewList([]byte(value))
	if err != nil {
		return k.failure("write", name, unix.EINVAL)
	}
	if dir != k.root {
		parent, _ := cpus.NewList([]byte(k.list(filepath.Dir(dir), kind)))
		if !isSubset(l, parent) {
			return k.failure("write", name, unix.EINVAL)
		}
		if k.overlapsSibling(dir, kind, l, k.flag(dir, kind)) {
			return k.failure("write", name, unix.EINVAL)
		}
	}
	return os.WriteFile(name, []byte(l.String()+"\n"), 0644)
}

func (k *Kernel) writeFlag(dir, name, kind, value string) error {
	switch value {
	case "0":
	case "1":
		if dir != k.root {
			l, _ := cpus.NewList([]byte(k.list(dir, kind)))
			if k.overlapsSibling(dir, kind, l, true) {
				return k.failure("write", name, unix.EINVAL)
			}
		}
	default:
		return k.failure("write", name, unix.EINVAL)
	}
	return os.WriteFile(name, []byte(value+"\n"), 0644)
}

// list returns the textual CPU or memory node list of a cpuset.
func (k *Kernel) list(dir, kind string) string {
	b, _ := os.ReadFile(filepath.Join(dir, k.prefix+kind))
	return strings.TrimSpace(string(b))
}

// flag returns the exclusive flag belonging to the CPU or memory node list of
// a cpuset.
func (k *Kernel) flag(dir, kind string) bool {
	flagname := "cpu_exclusive"
	if kind == "mems" {
		flagname = "mem_exclusive"
	}
	b, _ := os.ReadFile(filepath.Join(dir, k.prefix+flagname))
	return strings.TrimSpace(string(b)) == "1"
}

// overlapsSibling reports whether the list overlaps with a sibling cpuset
// that is exclusive, or with any sibling if exclusive is true.
func (k *Kernel) overlapsSibling(dir, kind string, l cpus.List, exclusive bool) bool {
	parent := filepath.Dir(dir)
	entries, err := os.ReadDir(parent)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		sibling := filepath.Join(parent, entry.Name())
		if !entry.IsDir() || sibling == dir || !(exclusive || k.flag(sibling, kind)) {
			continue
		}
		other, _ := cpus.NewList([]byte(k.list(sibling, kind)))
		if l.IsOverlapping(other) {
			return true
		}
	}
	return false
}

func isSubset(l, of cpus.List) bool {
	ofset := of.Set()
	for _, r := range l {
		for cpu := r[0]; cpu <= r[1]; cpu++ {
			if !ofset.IsSet(cpu) {
				return false
			}
		}
	}
	return true
}

// ReadDir reads a cpuset directory.
func (k *Kernel) ReadDir(name string) ([]fs.DirEntry, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return os.ReadDir(name)
}

// Stat returns file information.
func (k *Kernel) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

// Mkdir creates a new cpuset including its control files.
func (k *Kernel) Mkdir(name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := os.Mkdir(name, 0755); err != nil {
		return err
	}
	return k.controlFiles(name)
}

// Remove removes a cpuset, unless it still has tasks or child cpusets.
func (k *Kernel) Remove(name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	entries, err := os.ReadDir(name)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			return &fs.PathError{Op: "remove", Path: name, Err: unix.EBUSY}
		}
	}
	if len(k.tasksIn(name)) > 0 {
		return &fs.PathError{Op: "remove", Path: name, Err: unix.EBUSY}
	}
	return os.RemoveAll(name)
}

// Rename renames a cpuset.
func (k *Kernel) Rename(oldname, newname string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return os.Rename(oldname, newname)
}
