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
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/thediveo/cset/cpus"
	"github.com/thediveo/cset/internal/fakekernel"

	. "github.com/onsi/ginkgo/v2/dsl/core"
	. "github.com/onsi/ginkgo/v2/dsl/table"
	. "github.com/onsi/gomega"
	. "github.com/thediveo/success"
)

// forbidden is a Table denying access to all executables.
type forbidden struct{ Table }

func (forbidden) Executable(tid int) (string, error) {
	return "", &fs.PathError{Op: "readlink", Path: "exe", Err: fs.ErrPermission}
}

// fakeTask creates a task directory below root with the specified status
// name, UID, scheduling policy and real-time priority; user tasks get an
// executable and a command line.
func fakeTask(root string, tid, ppid int, name, uid, pol, rtprio string, cmdline ...string) {
	GinkgoHelper()
	dir := filepath.Join(root, strconv.Itoa(tid))
	Expect(os.MkdirAll(filepath.Join(dir, "task", strconv.Itoa(tid)), 0755)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, "status"),
		[]byte("Name:\t"+name+"\nState:\tS (sleeping)\nUid:\t"+uid+"\t"+uid+"\t"+uid+"\t"+uid+"\n"),
		0644)).To(Succeed())
	stat := make([]string, statPolicy+3)
	for idx := range stat {
		stat[idx] = "0"
	}
	stat[statState] = "S"
	stat[statPPID] = strconv.Itoa(ppid)
	stat[statRTPriority] = rtprio
	stat[statPolicy] = pol
	Expect(os.WriteFile(filepath.Join(dir, "stat"),
		[]byte(strconv.Itoa(tid)+" ("+name+") "+strings.Join(stat, " ")+"\n"), 0644)).To(Succeed())
	if len(cmdline) == 0 {
		return
	}
	Expect(os.Symlink("/usr/bin/"+name, filepath.Join(dir, "exe"))).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, "cmdline"),
		[]byte(strings.Join(cmdline, "\x00")+"\x00"), 0644)).To(Succeed())
}

var _ = Describe("process table", func() {

	Context("classifying tasks", func() {

		var k *fakekernel.Kernel

		BeforeEach(func() {
			k = Successful(fakekernel.New(GinkgoT().TempDir(), "", 1))
			k.AddUserTask(100, "/bin/foo")
			k.AddKernelThread(2, false)
		})

		It("tells user tasks, kernel threads and gone tasks apart", func() {
			Expect(Classify(k, 100)).To(Equal(User))
			Expect(Classify(k, 2)).To(Equal(Kernel))
			Expect(Classify(k, 666)).To(Equal(Gone))
			k.Exit(100)
			Expect(Classify(k, 100)).To(Equal(Gone))
		})

		It("treats off-limits executables as user tasks", func() {
			Expect(Classify(forbidden{k}, 2)).To(Equal(User))
		})

		It("names kinds", func() {
			Expect(User.String()).To(Equal("user"))
			Expect(Kernel.String()).To(Equal("kernel"))
			Expect(Gone.String()).To(Equal("gone"))
		})

	})

	Context("procfs", func() {

		It("reads the live process table", func() {
			p := NewProcFS("")
			pid := os.Getpid()
			Expect(p.Exists(pid)).To(BeTrue())
			Expect(p.Exists(0)).To(BeFalse())
			Expect(p.Exists(-1)).To(BeFalse())
			Expect(p.Executable(pid)).NotTo(BeEmpty())
			Expect(p.Threads(pid)).To(ContainElement(pid))
			Expect(Classify(p, pid)).To(Equal(User))
			Expect(Successful(p.Affinity(pid)).List()).NotTo(BeEmpty())
		})

		It("reports missing tasks", func() {
			p := NewProcFS(GinkgoT().TempDir())
			Expect(p.Exists(42)).To(BeFalse())
			Expect(p.Threads(42)).Error().To(MatchError(fs.ErrNotExist))
			Expect(p.Detail(42)).Error().To(MatchError(fs.ErrNotExist))
			Expect(Classify(p, 42)).To(Equal(Gone))
		})

		It("details user tasks", func() {
			root := GinkgoT().TempDir()
			fakeTask(root, 42, 1, "my (cmd)", "4242424", "1", "5", "my", "--arg")
			p := NewProcFS(root)
			t := Successful(p.Detail(42))
			Expect(*t).To(Equal(Task{
				TID:     42,
				PPID:    1,
				User:    "4242424",
				State:   "S",
				Policy:  "f_5",
				Command: "my --arg",
			}))
			Expect(p.Threads(42)).To(Equal([]int{42}))
		})

		It("details kernel threads", func() {
			root := GinkgoT().TempDir()
			fakeTask(root, 2, 0, "kthreadd", "4242424", "0", "0")
			t := Successful(NewProcFS(root).Detail(2))
			Expect(t.Command).To(Equal("[kthreadd]"))
			Expect(t.Policy).To(Equal("oth"))
			Expect(t.PPID).To(BeZero())
		})

		It("rejects malformed stats", func() {
			root := GinkgoT().TempDir()
			fakeTask(root, 42, 1, "foo", "0", "0", "0")
			Expect(os.WriteFile(filepath.Join(root, "42", "stat"), []byte("42 foo S 1\n"), 0644)).To(Succeed())
			Expect(NewProcFS(root).Detail(42)).Error().To(MatchError(ContainSubstring("malformed")))
		})

	})

	DescribeTable("scheduling policies",
		func(pol, rtprio, expected string) {
			Expect(policy(pol, rtprio)).To(Equal(expected))
		},
		Entry(nil, "0", "0", "oth"),
		Entry(nil, "1", "5", "f_5"),
		Entry(nil, "2", "42", "r42"),
		Entry(nil, "3", "0", "bat"),
		Entry(nil, "5", "0", "iat"),
		Entry(nil, "7", "0", "?"),
		Entry(nil, "x", "0", "?"),
	)

	It("has a full CPU set for unbound tasks", func() {
		k := Successful(fakekernel.New(GinkgoT().TempDir(), "", 3))
		k.AddUserTask(100, "/bin/foo")
		Expect(Successful(k.Affinity(100)).Equal(cpus.Full(3))).To(BeTrue())
	})

})
