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
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Settings of a cpuset to create or modify. Empty specs and nil flags leave
// the corresponding setting unchanged.
type Settings struct {
	CPUs         string // CPUSPEC
	Mems         string // MEMSPEC
	CPUExclusive *bool
	MemExclusive *bool
}

// Bool returns a pointer to b, for use in [Settings].
func Bool(b bool) *bool { return &b }

// apply the settings to a cpuset; CPUs and memory nodes are set first, so
// that exclusivity gets checked against them.
func (s Settings) apply(n *Node) error {
	if s.CPUs != "" {
		if err := n.SetCPUs(s.CPUs); err != nil {
			return err
		}
	}
	if s.Mems != "" {
		if err := n.SetMems(s.Mems); err != nil {
			return err
		}
	}
	if s.CPUExclusive != nil {
		if err := n.SetCPUExclusive(*s.CPUExclusive); err != nil {
			return err
		}
	}
	if s.MemExclusive != nil {
		if err := n.SetMemExclusive(*s.MemExclusive); err != nil {
			return err
		}
	}
	return nil
}

// Create creates a new cpuset with the specified name or path and applies
// the settings. When no memory nodes are specified, memory node 0 is used as
// cpusets without memory nodes cannot run tasks. If applying the settings
// fails, the new cpuset is removed again.
func (h *Hierarchy) Create(name string, settings Settings) (*Node, error) {
	_, err := h.snap.Lookup(name)
	switch {
	case err == nil:
		return nil, errors.Wrapf(ErrAlreadyExists, "cpuset %q", name)
	case errors.Is(err, ErrNotUnique):
		return nil, errors.Wrap(err, "please specify by path")
	}
	p := name
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)
	if parent := path.Dir(p); h.snap.Node(parent) == nil {
		return nil, errors.Wrapf(ErrNotFound, "parent cpuset %q", parent)
	}
	if err := h.fs.Mkdir(h.dir(p)); err != nil {
		return nil, errors.Wrapf(err, "cannot create cpuset %s", p)
	}
	snap, err := h.Rescan()
	if err != nil {
		return nil, err
	}
	n := snap.Node(p)
	if n == nil {
		return nil, errors.Errorf("created cpuset %s has vanished", p)
	}
	if settings.Mems == "" {
		settings.Mems = "0"
	}
	if err := settings.apply(n); err != nil {
		if rerr := h.fs.Remove(h.dir(p)); rerr != nil {
			log.Errorf("cannot roll back creation of cpuset %s: %s", p, rerr)
		}
		_, _ = h.Rescan()
		return nil, err
	}
	log.Debugf("created cpuset %s", p)
	return n, nil
}

// Modify applies the settings to an existing cpuset.
func (h *Hierarchy) Modify(ref NodeRef, settings Settings) error {
	n, err := h.snap.Resolve(ref)
	if err != nil {
		return err
	}
	return settings.apply(n)
}

// Destroy removes a cpuset. Tasks that are in the process of leaving the
// cpuset are waited for; if tasks remain, Destroy fails with
// [ErrTasksRunning].
func (h *Hierarchy) Destroy(ref NodeRef) error {
	n, err := h.snap.Resolve(ref)
	if err != nil {
		return err
	}
	if n.IsRoot() {
		return errors.New("cannot destroy the root cpuset")
	}
	tasks, err := n.Tasks()
	if err != nil {
		return err
	}
	for attempt := 0; len(tasks) > 0; attempt++ {
		if attempt >= h.drainAttempts {
			return errors.Wrapf(ErrTasksRunning, "cannot destroy cpuset %s with tasks %v", n.path, tasks)
		}
		log.Debugf("%d tasks still running in set %s, waiting interval %d...",
			len(tasks), n.name, attempt+1)
		time.Sleep(h.drainInterval)
		if tasks, err = n.Tasks(); err != nil {
			return err
		}
	}
	if err := h.fs.Remove(h.dir(n.path)); err != nil {
		return errors.Wrapf(err, "cannot destroy cpuset %s", n.path)
	}
	log.Debugf("destroyed cpuset %s", n.path)
	_, err = h.Rescan()
	return err
}

// DestroyTree destroys the specified cpusets, first moving their tasks to
// their parent cpusets. Cpusets with children are only destroyed when both
// recurse and force are set; then their descendants get destroyed first.
func (h *Hierarchy) DestroyTree(refs []NodeRef, recurse, force bool) error {
	var paths []string
	for _, ref := range refs {
		n, err := h.snap.Resolve(ref)
		if err != nil {
			return err
		}
		paths = append(paths, n.path)
		if len(n.children) == 0 {
			continue
		}
		if !recurse {
			return errors.Errorf("cpuset %s has subsets, delete them first, or use --recurse", n.path)
		}
		if !force {
			return errors.Errorf("cpuset %s has subsets, use --force to destroy", n.path)
		}
		for desc := range n.Walk() {
			paths = append(paths, desc.path)
		}
	}
	if recurse {
		slices.Reverse(paths)
	}
	for _, p := range paths {
		n := h.snap.Node(p)
		if n == nil || n.IsRoot() {
			continue
		}
		parent := n.Parent()
		tasks, err := n.Tasks()
		if err != nil {
			return err
		}
		log.Infof("processing cpuset %q, moving %d tasks to parent %q...", n.name, len(tasks), parent.path)
		if len(tasks) > 0 {
			if _, err := parent.SetTasks(tasks); err != nil {
				return err
			}
		}
		log.Infof("deleting cpuset %q", n.path)
		if err := h.Destroy(n.Ref()); err != nil {
			return err
		}
	}
	return nil
}

// Rename renames a cpuset; it cannot be moved to a different parent.
func (h *Hierarchy) Rename(ref NodeRef, newname string) error {
	n, err := h.snap.Resolve(ref)
	if err != nil {
		return err
	}
	if n.IsRoot() {
		return errors.New("cannot rename the root cpuset")
	}
	parent := n.parent
	if strings.Contains(newname, "/") {
		if !strings.HasPrefix(newname, "/") {
			newname = "/" + newname
		}
		if path.Dir(newname) != parent {
			return errors.Errorf("new name %q of cpuset %s cannot have different path", newname, n.path)
		}
		newname = path.Base(newname)
	}
	newpath := path.Join(parent, newname)
	if h.snap.Node(newpath) != nil {
		return errors.Wrapf(ErrAlreadyExists, "cpuset %q", newpath)
	}
	log.Infof("renaming %s to %q", n.path, newname)
	if err := h.fs.Rename(h.dir(n.path), h.dir(newpath)); err != nil {
		return errors.Wrapf(err, "cannot rename cpuset %s", n.path)
	}
	_, err = h.Rescan()
	return err
}

// Active checks that the cpuset is ready to run tasks, that is, it has CPUs
// and memory nodes; otherwise it returns [ErrNotActive].
func (h *Hierarchy) Active(ref NodeRef) error {
	n, err := h.snap.Resolve(ref)
	if err != nil {
		return err
	}
	if l, err := n.CPUs(); err != nil {
		return err
	} else if len(l) == 0 {
		return errors.Wrapf(ErrNotActive, "%q cpuset has no cpus defined", n.path)
	}
	if l, err := n.Mems(); err != nil {
		return err
	} else if len(l) == 0 {
		return errors.Wrapf(ErrNotActive, "%q cpuset has no mems defined", n.path)
	}
	return nil
}

// Summary returns a one-line summary of the cpuset.
func Summary(n *Node) string {
	cpulist, _ := n.CPUs()
	tasks, _ := n.Tasks()
	noun := "tasks"
	if len(tasks) == 1 {
		noun = "task"
	}
	return fmt.Sprintf("%q cpuset of CPUSPEC(%s) with %d %s running",
		n.name, cpulist, len(tasks), noun)
}
