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

package shield

import (
	"time"

	"github.com/thediveo/cset/cpus"
	"github.com/thediveo/cset/cpuset"
	"github.com/thediveo/cset/internal/fakekernel"
	"github.com/thediveo/cset/migrate"
	"github.com/thediveo/cset/proc"

	. "github.com/onsi/ginkgo/v2/dsl/core"
	. "github.com/onsi/gomega"
	. "github.com/thediveo/success"
)

var _ = Describe("shielding", func() {

	var k *fakekernel.Kernel
	var h *cpuset.Hierarchy
	var m *migrate.Mover
	var s *Shield

	BeforeEach(func() {
		k = Successful(fakekernel.New(GinkgoT().TempDir(), "", 3))
		k.AddUserTask(100, "/bin/foo")
		k.AddUserTask(200, "/bin/bar", 201)
		k.AddKernelThread(2, false)
		k.AddKernelThread(3, true)
		h = Successful(cpuset.New(k.Root(),
			cpuset.WithFS(k), cpuset.WithDrain(2, time.Millisecond)))
		m = migrate.New(h, k)
		s = New(m)
	})

	It("refuses operations on inactive shields", func() {
		Expect(s.Status()).Error().To(MatchError(ErrShieldNotActive))
		Expect(s.Shield("100", false, false)).Error().To(MatchError(ErrShieldNotActive))
		Expect(s.Unshield("100", true, false)).Error().To(MatchError(ErrShieldNotActive))
		Expect(s.KernelThreads(true)).Error().To(MatchError(ErrShieldNotActive))
		Expect(s.Exec([]string{"true"}, proc.Credentials{})).To(MatchError(ErrShieldNotActive))
		Expect(s.Reset()).To(MatchError(ErrShieldNotActive))
	})

	It("activates and resets shielding", func() {
		Expect(s.Activate("2-3", false)).To(Succeed())
		system, user := Successful2R(s.Status())
		Expect(user.Path()).To(Equal("/user"))
		Expect(user.CPUs()).To(Equal(cpus.List{{2, 3}}))
		Expect(system.Path()).To(Equal("/system"))
		Expect(system.CPUs()).To(Equal(cpus.List{{0, 1}}))
		for _, n := range []*cpuset.Node{system, user} {
			Expect(n.Mems()).To(Equal(cpus.List{{0, 0}}))
			Expect(n.CPUExclusive()).To(BeTrue())
			Expect(n.MemExclusive()).To(BeFalse())
		}
		Expect(k.TasksOf("/system")).To(ConsistOf(100, 200, 201))
		Expect(k.TasksOf("/")).To(ConsistOf(2, 3))

		Expect(s.Shield("100", false, false)).Error().NotTo(HaveOccurred())
		Expect(k.TasksOf("/user")).To(ConsistOf(100))

		Expect(s.Reset()).To(Succeed())
		Expect(h.Snapshot().Len()).To(Equal(1))
		Expect(k.TasksOf("/")).To(ConsistOf(100, 200, 201, 2, 3))
		Expect(s.Status()).Error().To(MatchError(ErrShieldNotActive))
	})

	It("modifies active shields", func() {
		Expect(s.Activate("2-3", false)).To(Succeed())
		Expect(s.Activate("1-3", false)).To(Succeed())
		system, user := Successful2R(s.Status())
		Expect(user.CPUs()).To(Equal(cpus.List{{1, 3}}))
		Expect(system.CPUs()).To(Equal(cpus.List{{0, 0}}))
		Expect(user.CPUExclusive()).To(BeTrue())
		Expect(system.CPUExclusive()).To(BeTrue())
	})

	It("rejects invalid and all-encompassing CPUSPECs", func() {
		Expect(s.Activate("0-9", false)).To(MatchError(cpus.ErrInvalidSpec))
		Expect(s.Activate("0-3", false)).To(MatchError(ContainSubstring("no CPUs left")))
		Expect(s.Activate("", false)).To(MatchError(cpus.ErrInvalidSpec))
		Expect(s.Activate(",", false)).To(MatchError(cpus.ErrInvalidSpec))
		Expect(k.TasksOf("/")).To(ContainElement(100))
		Expect(h.Snapshot().Len()).To(Equal(1))
	})

	It("rolls back failed activations", func() {
		Expect(h.Create("other", cpuset.Settings{CPUs: "0", CPUExclusive: cpuset.Bool(true)})).
			Error().NotTo(HaveOccurred())
		Expect(s.Activate("2-3", false)).NotTo(Succeed())
		Expect(h.Snapshot().Node("/user")).To(BeNil())
		Expect(h.Snapshot().Node("/system")).To(BeNil())
	})

	It("shields unbound kernel threads", func() {
		Expect(s.Activate("3", true)).To(Succeed())
		Expect(k.TasksOf("/system")).To(ConsistOf(100, 200, 201, 2))
		Expect(k.TasksOf("/")).To(ConsistOf(3))

		Expect(s.KernelThreads(false)).To(Equal(1))
		Expect(k.TasksOf("/")).To(ConsistOf(2, 3))
		Expect(s.KernelThreads(true)).To(Equal(1))
		Expect(k.TasksOf("/")).To(ConsistOf(3))
	})

	It("shields and unshields tasks", func() {
		Expect(s.Activate("2-3", false)).To(Succeed())

		Expect(s.Shield("2", false, false)).Error().To(MatchError(migrate.ErrNoMatchingTasks))
		Expect(Successful(s.Shield("2", true, false)).Moved).To(ConsistOf(2))

		Expect(Successful(s.Shield("200", false, true)).Moved).To(ConsistOf(200, 201))
		Expect(k.TasksOf("/user")).To(ConsistOf(2, 200, 201))

		Expect(s.Unshield("100", false, false)).Error().To(MatchError(migrate.ErrNoMatchingTasks))
		Expect(Successful(s.Unshield("200-201", false, false)).Moved).To(ConsistOf(200, 201))
		Expect(k.TasksOf("/system")).To(ConsistOf(100, 200, 201))
	})

	It("uses custom cpuset names", func() {
		s = New(m, WithSystemSet("sys"), WithUserSet("rt"), WithMemSpec("0"))
		Expect(s.Activate("1", false)).To(Succeed())
		Expect(h.Snapshot().Node("/rt")).NotTo(BeNil())
		Expect(h.Snapshot().Node("/sys")).NotTo(BeNil())
		Expect(s.UserSet().String()).To(Equal("rt"))
	})

})
