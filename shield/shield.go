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

// Package shield partitions the CPUs of a system into a “user” cpuset for
// shielded tasks and a “system” cpuset for all the other tasks.
//
// Shielding is active as long as both cpusets exist as children of the root
// cpuset. Both are CPU exclusive, so no other cpuset can claim their CPUs.
// They share their memory nodes, which thus cannot be exclusive.
package shield

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/thediveo/cset/cpus"
	"github.com/thediveo/cset/cpuset"
	"github.com/thediveo/cset/migrate"
	"github.com/thediveo/cset/proc"
)

var log = logrus.WithField("pkg", "shield")

// ErrShieldNotActive is returned (wrapped) when operating on a shield that
// hasn't been activated.
var ErrShieldNotActive = errors.New("shielding not active on system")

// Default names of the shield's cpusets.
const (
	DefaultSystemSet = "system"
	DefaultUserSet   = "user"
)

// Shield manages the system and user cpusets.
type Shield struct {
	mover   *migrate.Mover
	system  string
	user    string
	memspec string
}

// Option configures a Shield.
type Option func(*Shield)

// WithSystemSet sets the name of the cpuset for unshielded tasks.
func WithSystemSet(name string) Option {
	return func(s *Shield) {
		if name != "" {
			s.system = name
		}
	}
}

// WithUserSet sets the name of the cpuset for shielded tasks.
func WithUserSet(name string) Option {
	return func(s *Shield) {
		if name != "" {
			s.user = name
		}
	}
}

// WithMemSpec sets the memory nodes of both cpusets; the default is memory
// node 0.
func WithMemSpec(memspec string) Option {
	return func(s *Shield) {
		if memspec != "" {
			s.memspec = memspec
		}
	}
}

// New returns a Shield using the specified Mover.
func New(m *migrate.Mover, opts ...Option) *Shield {
	s := &Shield{
		mover:   m,
		system:  DefaultSystemSet,
		user:    DefaultUserSet,
		memspec: "0",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SystemSet returns the reference to the cpuset for unshielded tasks.
func (s *Shield) SystemSet() cpuset.NodeRef { return cpuset.Named(s.system) }

// UserSet returns the reference to the cpuset for shielded tasks.
func (s *Shield) UserSet() cpuset.NodeRef { return cpuset.Named(s.user) }

// Status returns the system and user cpusets, failing with
// [ErrShieldNotActive] if any of them is missing.
func (s *Shield) Status() (system, user *cpuset.Node, err error) {
	snap := s.hierarchy().Snapshot()
	if system, err = snap.Lookup(s.system); err == nil {
		user, err = snap.Lookup(s.user)
	}
	if err != nil {
		if errors.Is(err, cpuset.ErrNotFound) {
			log.Debugf("can't find %q and %q cpusets on system", s.system, s.user)
			return nil, nil, errors.Wrap(ErrShieldNotActive, err.Error())
		}
		return nil, nil, err
	}
	return system, user, nil
}

// Activate shields the CPUs in cpuspec: the user cpuset gets these CPUs, the
// system cpuset all remaining CPUs. If the shield already is active, its
// CPUs are modified instead. Afterwards, all user tasks from the root cpuset
// are moved into the system cpuset; if kthreads is true, then also all
// unbound kernel threads.
//
// Both cpusets are CPU exclusive, but not memory exclusive: they share the
// same memory nodes, and the kernel refuses sibling cpusets that are memory
// exclusive on the same node.
func (s *Shield) Activate(cpuspec string, kthreads bool) error {
	h := s.hierarchy()
	maxcpu := h.Snapshot().MaxCPU()
	l, err := cpus.ParseCPUSpec(cpuspec, maxcpu)
	if err != nil {
		return err
	}
	if len(l) == 0 {
		return errors.Wrapf(cpus.ErrInvalidSpec, "CPUSPEC %q selects no CPUs", cpuspec)
	}
	inverse, err := cpus.Invert(cpuspec, maxcpu)
	if err != nil {
		return err
	}
	if inverse == "" {
		return errors.Errorf("cannot shield all CPUs %s, no CPUs left for system cpuset",
			cpus.Full(maxcpu).String())
	}

	if _, _, err := s.Status(); err != nil {
		if !errors.Is(err, ErrShieldNotActive) {
			return err
		}
		log.Debug("shielding does not exist, creating")
		if err := s.create(cpuspec, inverse); err != nil {
			log.Error("failed to create shield, hint: do other cpusets exist?")
			return err
		}
		log.Info("activating shielding")
	} else {
		log.Debug("shielding exists, modifying cpuspec")
		if err := s.modify(cpuspec, inverse); err != nil {
			return err
		}
		log.Info("shielding modified")
	}

	root := h.Snapshot().Root()
	tasks, err := root.Tasks()
	if err != nil {
		return err
	}
	utasks := []int{}
	for _, tid := range tasks {
		if proc.Classify(s.mover.Procs, tid) == proc.User {
			utasks = append(utasks, tid)
		}
	}
	if len(utasks) > 0 {
		log.Infof("moving %d tasks from root into system cpuset", len(utasks))
	}
	if err := s.move(root.Ref(), s.SystemSet(), utasks); err != nil {
		return err
	}
	if kthreads {
		if _, err := s.moveUnbound(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Shield) create(cpuspec, inverse string) error {
	h := s.hierarchy()
	var created []string
	for _, set := range []struct{ name, cpus string }{
		{s.user, cpuspec},
		{s.system, inverse},
	} {
		_, err := h.Create(set.name, cpuset.Settings{
			CPUs:         set.cpus,
			Mems:         s.memspec,
			CPUExclusive: cpuset.Bool(true),
			MemExclusive: cpuset.Bool(false),
		})
		if err != nil {
			for _, name := range created {
				if derr := h.Destroy(cpuset.Named(name)); derr != nil {
					log.Errorf("cannot roll back cpuset %q: %s", name, derr)
				}
			}
			return err
		}
		created = append(created, set.name)
	}
	return nil
}

// modify changes the CPUs of existing shield cpusets. Exclusive cpusets
// cannot take over each other's CPUs, so exclusivity is lifted while
// changing CPUs.
func (s *Shield) modify(cpuspec, inverse string) error {
	h := s.hierarchy()
	for _, name := range []string{s.user, s.system} {
		if err := h.Modify(cpuset.Named(name), cpuset.Settings{CPUExclusive: cpuset.Bool(false)}); err != nil {
			return err
		}
	}
	if err := h.Modify(s.UserSet(), cpuset.Settings{CPUs: cpuspec, Mems: s.memspec}); err != nil {
		return err
	}
	if err := h.Modify(s.SystemSet(), cpuset.Settings{CPUs: inverse, Mems: s.memspec}); err != nil {
		return err
	}
	for _, name := range []string{s.user, s.system} {
		if err := h.Modify(cpuset.Named(name), cpuset.Settings{CPUExclusive: cpuset.Bool(true)}); err != nil {
			return err
		}
	}
	return nil
}

// KernelThreads moves all unbound kernel threads from the root cpuset into
// the system cpuset if on is true; otherwise it moves all kernel threads from
// the system cpuset back into the root cpuset. It returns the number of
// kernel threads moved.
func (s *Shield) KernelThreads(on bool) (int, error) {
	system, _, err := s.Status()
	if err != nil {
		return 0, err
	}
	if on {
		log.Info("activating kthread shielding")
		return s.moveUnbound()
	}
	log.Info("deactivating kthread shielding")
	tasks, err := system.Tasks()
	if err != nil {
		return 0, err
	}
	kthreads := []int{}
	for _, tid := range tasks {
		if proc.Classify(s.mover.Procs, tid) != proc.User {
			kthreads = append(kthreads, tid)
		}
	}
	if len(kthreads) > 0 {
		log.Infof("moving %d tasks into root cpuset", len(kthreads))
	}
	if err := s.move(system.Ref(), cpuset.Named("root"), kthreads); err != nil {
		return 0, err
	}
	return len(kthreads), nil
}

// moveUnbound moves the unbound tasks of the root cpuset into the system
// cpuset.
func (s *Shield) moveUnbound() (int, error) {
	root := s.hierarchy().Snapshot().Root()
	tasks, err := root.Tasks()
	if err != nil {
		return 0, err
	}
	log.Debugf("root cpuset has %d tasks, checking for unbound", len(tasks))
	unbound := []int{}
	for _, tid := range tasks {
		if ok, err := s.mover.IsUnbound(tid); err == nil && ok {
			unbound = append(unbound, tid)
		}
	}
	if len(unbound) > 0 {
		log.Infof("kthread shield activated, moving %d tasks into system cpuset", len(unbound))
	}
	if err := s.move(root.Ref(), s.SystemSet(), unbound); err != nil {
		return 0, err
	}
	return len(unbound), nil
}

// Shield moves the tasks specified by pidspec into the user cpuset. Unless
// forced, only tasks currently in the system cpuset are moved.
func (s *Shield) Shield(pidspec string, force, threads bool) (*cpuset.WriteReport, error) {
	return s.movePidSpec("shielding", pidspec, s.UserSet(), s.SystemSet(), force, threads)
}

// Unshield moves the tasks specified by pidspec into the system cpuset.
// Unless forced, only tasks currently in the user cpuset are moved.
func (s *Shield) Unshield(pidspec string, force, threads bool) (*cpuset.WriteReport, error) {
	return s.movePidSpec("unshielding", pidspec, s.SystemSet(), s.UserSet(), force, threads)
}

func (s *Shield) movePidSpec(what, pidspec string, to, from cpuset.NodeRef, force, threads bool) (*cpuset.WriteReport, error) {
	if _, _, err := s.Status(); err != nil {
		return nil, err
	}
	log.Infof("%s following pidspec: %s", what, pidspec)
	if force {
		from = cpuset.NodeRef{}
	}
	r, err := s.mover.MovePidSpec(pidspec, to, from, threads)
	if errors.Is(err, migrate.ErrNoMatchingTasks) {
		log.Info("hint: perhaps use --force if sure of command")
	}
	return r, err
}

// Exec executes the program args[0] in the user cpuset.
func (s *Shield) Exec(args []string, creds proc.Credentials) error {
	if _, _, err := s.Status(); err != nil {
		return err
	}
	return s.mover.Exec(s.UserSet(), args, creds)
}

// Reset deactivates shielding: all tasks are moved back into the root
// cpuset, then the user and system cpusets are destroyed.
func (s *Shield) Reset() error {
	system, user, err := s.Status()
	if err != nil {
		return err
	}
	log.Info("deactivating/resetting shielding")
	root := cpuset.Named("root")
	for _, n := range []*cpuset.Node{user, system} {
		tasks, err := n.Tasks()
		if err != nil {
			return err
		}
		log.Infof("moving %d tasks from %q cpuset to root cpuset", len(tasks), n.Name())
		if err := s.move(n.Ref(), root, tasks); err != nil {
			return err
		}
	}
	log.Infof("deleting %q and %q cpusets", s.user, s.system)
	h := s.hierarchy()
	if err := h.Destroy(user.Ref()); err != nil {
		return err
	}
	return h.Destroy(system.Ref())
}

// move moves tasks, logging tasks that could not be moved.
func (s *Shield) move(from, to cpuset.NodeRef, tasks []int) error {
	r, err := s.mover.Move(from, to, tasks)
	if err != nil {
		return err
	}
	if err := r.Err(to.String()); err != nil {
		log.Warn(err.Error())
	}
	return nil
}

func (s *Shield) hierarchy() *cpuset.Hierarchy { return s.mover.Hierarchy }
