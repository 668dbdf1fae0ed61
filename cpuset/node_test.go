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
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/thediveo/cset/cpus"
	"github.com/thediveo/cset/internal/fakekernel"
	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2/dsl/core"
	. "github.com/onsi/ginkgo/v2/dsl/table"
	. "github.com/onsi/gomega"
	. "github.com/thediveo/success"
)

var _ = Describe("cpuset nodes", func() {

	for _, prefix := range []string{"", CgroupPrefix} {
		When("using control file prefix "+prefix, func() {

			var k *fakekernel.Kernel
			var h *Hierarchy
			var n *Node

			BeforeEach(func() {
				k, h = newFakeHierarchy(prefix, 3)
				n = Successful(h.Create("set", Settings{CPUs: "1-2"}))
			})

			It("reads and writes CPUs and memory nodes in canonical form", func() {
				Expect(n.CPUs()).To(Equal(cpus.List{{1, 2}}))
				Expect(n.Mems()).To(Equal(cpus.List{{0, 0}}))

				Expect(n.SetCPUs("3-2,,1")).To(Succeed())
				Expect(n.CPUs()).To(Equal(cpus.List{{1, 3}}))
				Expect(os.ReadFile(filepath.Join(k.Root(), "set", prefix+"cpus"))).
					To(Equal([]byte("1-3\n")))

				Expect(n.SetMems("0")).To(Succeed())
				Expect(n.Mems()).To(Equal(cpus.List{{0, 0}}))
			})

			It("validates CPUSPECs and MEMSPECs before writing", func() {
				Expect(n.SetCPUs("4")).To(MatchError(cpus.ErrInvalidSpec))
				Expect(n.SetCPUs("1!")).To(MatchError(cpus.ErrInvalidSpec))
				Expect(n.SetMems("0-")).To(MatchError(cpus.ErrInvalidSpec))
				Expect(n.CPUs()).To(Equal(cpus.List{{1, 2}}))
			})

			It("surfaces kernel rejections", func() {
				Expect(n.SetMems("1")).To(HaveOccurred())
			})

			It("reads and writes exclusivity flags", func() {
				Expect(n.CPUExclusive()).To(BeFalse())
				Expect(n.MemExclusive()).To(BeFalse())
				Expect(n.SetCPUExclusive(true)).To(Succeed())
				Expect(n.SetMemExclusive(true)).To(Succeed())
				Expect(n.CPUExclusive()).To(BeTrue())
				Expect(n.MemExclusive()).To(BeTrue())
				Expect(n.SetCPUExclusive(false)).To(Succeed())
				Expect(n.CPUExclusive()).To(BeFalse())
			})

		})
	}

	Context("moving tasks", func() {

		var k *fakekernel.Kernel
		var h *Hierarchy
		var n *Node

		BeforeEach(func() {
			k, h = newFakeHierarchy("", 3)
			n = Successful(h.Create("set", Settings{CPUs: "0-3"}))
			k.AddUserTask(100, "/bin/foo", 101)
			k.AddUserTask(200, "/bin/bar")
			k.SetUnmovable(200)
		})

		for _, plain := range []bool{false, true} {
			It(fmt.Sprintf("classifies failed moves, plain errors: %v", plain), func() {
				k.SetPlainErrors(plain)
				r := Successful(n.SetTasks([]int{100, 666, 200, 101}))
				Expect(r.Moved).To(Equal([]int{100, 101}))
				Expect(r.NotFound).To(Equal([]int{666}))
				Expect(r.Unmovable).To(Equal([]int{200}))
				Expect(n.Tasks()).To(ConsistOf(100, 101))
				Expect(k.TasksOf("/")).To(ConsistOf(200))

				err := r.Err(n.Path())
				Expect(err).To(MatchError(ErrPartialMove))
				var partial *PartialMoveError
				Expect(errors.As(err, &partial)).To(BeTrue())
				Expect(partial.NotFound).To(ConsistOf(666))
				Expect(partial.Unmovable).To(ConsistOf(200))
			})
		}

		It("reports complete moves", func() {
			r := Successful(n.SetTasks([]int{100}))
			Expect(r.Err(n.Path())).To(Succeed())
			Expect(Successful(n.SetTasks(nil)).Moved).To(BeEmpty())
		})

		It("refuses tasks into cpusets without CPUs", func() {
			empty := Successful(h.Create("empty", Settings{}))
			r := Successful(empty.SetTasks([]int{100}))
			Expect(r.Unmovable).To(ConsistOf(100))
		})

		It("aborts when the tasks file cannot be opened", func() {
			Expect(h.Destroy(n.Ref())).To(Succeed())
			r, err := n.SetTasks([]int{100, 101})
			Expect(err).To(MatchError(fs.ErrNotExist))
			Expect(r.Moved).To(BeEmpty())
		})

	})

	DescribeTable("classifying task write failures",
		func(err error, gone bool) {
			Expect(taskGone(err)).To(Equal(gone))
		},
		Entry(nil, &fs.PathError{Op: "write", Path: "tasks", Err: unix.ESRCH}, true),
		Entry(nil, &fs.PathError{Op: "write", Path: "tasks", Err: unix.EINVAL}, false),
		Entry(nil, &fs.PathError{Op: "write", Path: "tasks", Err: unix.EACCES}, false),
		Entry(nil, errors.New("write tasks: No such process"), true),
		Entry(nil, errors.New("write tasks: Invalid argument"), false),
	)

})
