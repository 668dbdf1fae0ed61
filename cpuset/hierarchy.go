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
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/thediveo/cset/cpus"
)

var log = logrus.WithField("pkg", "cpuset")

// Default drain polling when destroying cpusets: tasks get 3.5s to leave.
const (
	DefaultDrainAttempts = 7
	DefaultDrainInterval = 500 * time.Millisecond
)

// Hierarchy is a mounted cpuset filesystem. It keeps the most recent
// [Snapshot] of the cpusets, which all mutating operations refresh.
type Hierarchy struct {
	fs            FS
	mountpoint    string
	prefix        string
	drainAttempts int
	drainInterval time.Duration
	snap          *Snapshot
}

// Option configures a Hierarchy.
type Option func(*Hierarchy)

// WithFS uses the specified FS instead of the host's filesystem.
func WithFS(fs FS) Option {
	return func(h *Hierarchy) { h.fs = fs }
}

// WithPrefix sets the control file name prefix, such as [CgroupPrefix].
func WithPrefix(prefix string) Option {
	return func(h *Hierarchy) { h.prefix = prefix }
}

// WithDrain sets how often and in which interval the tasks of a cpuset to be
// destroyed are checked before giving up.
func WithDrain(attempts int, interval time.Duration) Option {
	return func(h *Hierarchy) {
		h.drainAttempts = attempts
		h.drainInterval = interval
	}
}

// New returns the Hierarchy of cpusets mounted at mountpoint, with an initial
// snapshot already taken.
func New(mountpoint string, opts ...Option) (*Hierarchy, error) {
	h := &Hierarchy{
		fs:            OS,
		mountpoint:    filepath.Clean(mountpoint),
		drainAttempts: DefaultDrainAttempts,
		drainInterval: DefaultDrainInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	if _, err := h.Rescan(); err != nil {
		return nil, err
	}
	return h, nil
}

// Mountpoint returns where the cpuset filesystem is mounted.
func (h *Hierarchy) Mountpoint() string { return h.mountpoint }

// Snapshot returns the most recent snapshot.
func (h *Hierarchy) Snapshot() *Snapshot { return h.snap }

// Rescan reads all cpusets anew, replacing the current snapshot.
func (h *Hierarchy) Rescan() (*Snapshot, error) {
	s := &Snapshot{h: h, nodes: map[string]*Node{}}
	if _, err := h.fs.Stat(h.control("/", "cpus")); err != nil {
		return nil, errors.Wrapf(err, "%s is not a cpuset filesystem", h.mountpoint)
	}
	// bottom-up: children get created before their parents...
	if err := h.scan(s, "/"); err != nil {
		return nil, err
	}
	// ...top-down: wire the parents.
	root := s.nodes["/"]
	root.name = "root"
	for n := range root.Walk() {
		for _, child := range n.children {
			s.nodes[child].parent = n.path
		}
	}
	for _, child := range root.children {
		s.nodes[child].parent = "/"
	}

	cpulist, err := root.CPUs()
	if err != nil {
		return nil, err
	}
	maxcpu, ok := cpulist.Max()
	if !ok {
		return nil, errors.Errorf("root cpuset at %s has no CPUs", h.mountpoint)
	}
	s.maxCPU = maxcpu
	s.full = cpus.Full(maxcpu)
	log.Debugf("found %d cpusets, max CPU %d, all CPUs mask %s", len(s.nodes), maxcpu, s.full.Hex())
	h.snap = s
	return s, nil
}

// scan creates the node for the cpuset at p after having created the nodes
// for all its child cpusets. Directories without control files aren't
// cpusets and are skipped.
func (h *Hierarchy) scan(s *Snapshot, p string) error {
	entries, err := h.fs.ReadDir(h.dir(p))
	if err != nil {
		return errors.Wrapf(err, "cannot read cpuset %s", p)
	}
	n := &Node{snap: s, path: p, name: path.Base(p)}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		child := path.Join(p, entry.Name())
		if _, err := h.fs.Stat(h.control(child, "cpus")); err != nil {
			log.Debugf("%s is not a cpuset directory, skipping", h.dir(child))
			continue
		}
		if err := h.scan(s, child); err != nil {
			return err
		}
		n.children = append(n.children, child)
	}
	s.nodes[p] = n
	return nil
}

// dir returns the directory of the cpuset with the specified path.
func (h *Hierarchy) dir(p string) string {
	return filepath.Join(h.mountpoint, filepath.FromSlash(p))
}

// control returns the file name of a cpuset's control file, such as “cpus”.
func (h *Hierarchy) control(p string, name string) string {
	if name != "tasks" {
		name = h.prefix + name
	}
	return filepath.Join(h.dir(p), name)
}
