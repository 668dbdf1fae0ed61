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
	"github.com/pkg/errors"
	"github.com/thediveo/cset/internal/fakekernel"

	. "github.com/onsi/ginkgo/v2/dsl/core"
	. "github.com/onsi/ginkgo/v2/dsl/table"
	. "github.com/onsi/gomega"
	. "github.com/thediveo/success"
)

type staticTasks []int

func (s staticTasks) Tasks() ([]int, error) { return s, nil }
func (s staticTasks) Path() string          { return "/static" }

type failingTasks struct{}

func (failingTasks) Tasks() ([]int, error) { return nil, errors.New("gone fishing") }
func (failingTasks) Path() string          { return "/failing" }

var _ = Describe("PIDSPECs", func() {

	var k *fakekernel.Kernel

	BeforeEach(func() {
		k = Successful(fakekernel.New(GinkgoT().TempDir(), "", 3))
		k.AddUserTask(1, "/sbin/init")
		k.AddUserTask(2, "/bin/sh")
		k.AddUserTask(650, "/bin/server", 651, 652)
	})

	It("resolves against a source", func() {
		sel := Successful(Resolve("1,2,600-700", k, staticTasks{1, 650}, false))
		Expect(sel.Tasks).To(Equal([]int{1, 650}))
		Expect(sel.NotInSource).To(ConsistOf(2, 651, 652))
		Expect(sel.Absent).To(Equal(98))
	})

	It("resolves without a source", func() {
		sel := Successful(Resolve("42,1,600-700", k, nil, false))
		Expect(sel.Tasks).To(Equal([]int{42, 1, 650, 651, 652}))
		Expect(sel.NotInSource).To(BeEmpty())
	})

	It("accepts reversed ranges", func() {
		Expect(Successful(Resolve("660-640", k, nil, false)).Tasks).
			To(Equal([]int{650, 651, 652}))
	})

	It("removes duplicates and skips empty groups", func() {
		Expect(Successful(Resolve("2,,1,2,1-2", k, nil, false)).Tasks).
			To(Equal([]int{2, 1}))
		Expect(Successful(Resolve("", k, nil, false)).Tasks).To(BeEmpty())
	})

	It("adds sibling threads", func() {
		Expect(Successful(Resolve("650,1", k, nil, true)).Tasks).
			To(Equal([]int{650, 1, 651, 652}))
		Expect(Successful(Resolve("651", k, staticTasks{651}, true)).Tasks).
			To(Equal([]int{651, 650, 652}))
	})

	It("reports source failures", func() {
		Expect(Resolve("1", k, failingTasks{}, false)).Error().
			To(MatchError(ContainSubstring("gone fishing")))
	})

	DescribeTable("rejecting invalid PIDSPECs",
		func(pidspec string) {
			Expect(Resolve(pidspec, k, nil, false)).Error().To(MatchError(ErrInvalidPidSpec))
		},
		Entry(nil, "1-2-3"),
		Entry(nil, "-1"),
		Entry(nil, "1-"),
		Entry(nil, "abc"),
		Entry(nil, "1,2x"),
		Entry(nil, "99999999"),
	)

})
