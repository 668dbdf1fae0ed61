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
	"iter"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/thediveo/cset/cpus"
)

// Snapshot is the structure of the cpuset tree at the time of a rescan,
// together with system properties derived from the root cpuset. The
// structure of a Snapshot never changes; the cpuset properties are always
// read from and written to the cpuset filesystem.
type Snapshot struct {
	h      *Hierarchy
	nodes  map[string]*Node // by path
	maxCPU uint
	full   cpus.Set
}

// MaxCPU returns the highest CPU number in the system.
func (s *Snapshot) MaxCPU() uint { return s.maxCPU }

// FullMask returns the Set of all CPUs in the system.
func (s *Snapshot) FullMask() cpus.Set { return slices.Clone(s.full) }

// Root returns the root cpuset.
func (s *Snapshot) Root() *Node { return s.nodes["/"] }

// Len returns the number of cpusets, including the root cpuset.
func (s *Snapshot) Len() int { return len(s.nodes) }

// Node returns the cpuset with the specified path, or nil.
func (s *Snapshot) Node(path string) *Node { return s.nodes[path] }

// FindSets returns the cpusets matching name. The names “root” and “/”
// always refer to the root cpuset. A name containing “/” is a path, where a
// missing leading “/” is implied; otherwise, all cpusets with this name are
// returned. It returns [ErrNotFound] if nothing matches.
func (s *Snapshot) FindSets(name string) ([]*Node, error) {
	var found []*Node
	switch {
	case name == "root" || name == "/":
		found = append(found, s.Root())
	case strings.Contains(name, "/"):
		if !strings.HasPrefix(name, "/") {
			name = "/" + name
		}
		if n, ok := s.nodes[strings.TrimSuffix(name, "/")]; ok {
			found = append(found, n)
		}
	default:
		for n := range s.Root().Walk() {
			if n.name == name {
				found = append(found, n)
			}
		}
	}
	if len(found) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "cpuset %q", name)
	}
	return found, nil
}

// Lookup returns the unique cpuset matching name, see [Snapshot.FindSets].
// When multiple cpusets have the same name, it returns a [*NotUniqueError]
// listing their paths.
func (s *Snapshot) Lookup(name string) (*Node, error) {
	found, err := s.FindSets(name)
	if err != nil {
		return nil, err
	}
	if len(found) > 1 {
		paths := make([]string, 0, len(found))
		for _, n := range found {
			paths = append(paths, n.path)
		}
		return nil, &NotUniqueError{Name: name, Paths: paths}
	}
	return found[0], nil
}

// Resolve returns the cpuset in this snapshot a NodeRef refers to. Nodes
// from older snapshots are resolved by their paths.
func (s *Snapshot) Resolve(ref NodeRef) (*Node, error) {
	switch {
	case ref.node != nil:
		if ref.node.snap == s {
			return ref.node, nil
		}
		if n, ok := s.nodes[ref.node.path]; ok {
			return n, nil
		}
		return nil, errors.Wrapf(ErrNotFound, "cpuset %q", ref.node.path)
	case ref.name != "":
		return s.Lookup(ref.name)
	}
	return nil, errors.Wrap(ErrNotFound, "no cpuset specified")
}

// FindTask returns the cpuset the task is currently in.
func (s *Snapshot) FindTask(tid int) (*Node, error) {
	root := s.Root()
	candidates := func(yield func(*Node) bool) {
		if !yield(root) {
			return
		}
		for n := range root.Walk() {
			if !yield(n) {
				return
			}
		}
	}
	for n := range candidates {
		tasks, err := n.Tasks()
		if err != nil {
			continue
		}
		if slices.Contains(tasks, tid) {
			return n, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "task %d, i.e. not running", tid)
}

// Walk returns the descendants of this cpuset: first its children, then
// recursively each child's descendants.
func (n *Node) Walk() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		n.walk(yield)
	}
}

func (n *Node) walk(yield func(*Node) bool) bool {
	for _, child := range n.children {
		if !yield(n.snap.nodes[child]) {
			return false
		}
	}
	for _, child := range n.children {
		if !n.snap.nodes[child].walk(yield) {
			return false
		}
	}
	return true
}

// NodeRef refers to a cpuset, either by a [*Node] or by name or path to be
// looked up; see [Snapshot.Resolve].
type NodeRef struct {
	node *Node
	name string
}

// Named returns a NodeRef to the cpuset with the specified name or path.
func Named(name string) NodeRef { return NodeRef{name: name} }

// Ref returns a NodeRef to this cpuset.
func (n *Node) Ref() NodeRef { return NodeRef{node: n} }

// IsZero reports whether the NodeRef refers to no cpuset at all.
func (r NodeRef) IsZero() bool { return r.node == nil && r.name == "" }

func (r NodeRef) String() string {
	if r.node != nil {
		return r.node.path
	}
	return r.name
}
