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
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2/dsl/core"
	. "github.com/onsi/ginkgo/v2/dsl/table"
	. "github.com/onsi/gomega"
	. "github.com/thediveo/success"
)

const sysfsMount = "sysfs /sys sysfs rw,nosuid,nodev,noexec,relatime 0 0\n"

var _ = Describe("cpuset filesystem mounts", func() {

	mounts := func(content string) string {
		GinkgoHelper()
		name := filepath.Join(GinkgoT().TempDir(), "mounts")
		Expect(os.WriteFile(name, []byte(content), 0644)).To(Succeed())
		return name
	}

	DescribeTable("finding mounts",
		func(table string, expected Mount, found bool) {
			m, ok := Successful2R(FindMount(mounts(table)))
			Expect(ok).To(Equal(found))
			Expect(m).To(Equal(expected))
		},
		Entry("cpuset filesystem",
			sysfsMount+"none /dev/cpuset cpuset rw,relatime 0 0\n",
			Mount{Path: "/dev/cpuset"}, true),
		Entry("cgroup v1 cpuset controller",
			sysfsMount+"cgroup /sys/fs/cgroup/cpu,cpuacct cgroup rw,cpu,cpuacct 0 0\n"+
				"cgroup /sys/fs/cgroup/cpuset cgroup rw,nosuid,cpuset 0 0\n",
			Mount{Path: "/sys/fs/cgroup/cpuset", Prefix: CgroupPrefix}, true),
		Entry("escaped path",
			"none /mnt/cpu\\040sets cpuset rw 0 0\n",
			Mount{Path: "/mnt/cpu sets"}, true),
		Entry("cgroup v2 only",
			sysfsMount+"cgroup2 /sys/fs/cgroup cgroup2 rw,nsdelegate 0 0\n",
			Mount{}, false),
		Entry("cgroup v1 without cpuset",
			"cgroup /sys/fs/cgroup/cpuacct cgroup rw,cpuacct,cpusetx 0 0\n",
			Mount{}, false),
	)

	It("reports unreadable mount tables", func() {
		Expect(FindMount("/nonexisting/mounts")).Error().To(MatchError(fs.ErrNotExist))
		Expect(Discover("/nonexisting/mounts", "/cpusets")).Error().To(MatchError(fs.ErrNotExist))
	})

	It("uses existing mounts", func() {
		m := Successful(Discover(mounts("none /dev/cpuset cpuset rw 0 0\n"), "/nowhere"))
		Expect(m.Path).To(Equal("/dev/cpuset"))
	})

	It("unescapes mount table fields", func() {
		Expect(unescape(`/a\040b\011c`)).To(Equal("/a b\tc"))
		Expect(unescape(`/a\04`)).To(Equal(`/a\04`))
		Expect(unescape(`/a\xyzb`)).To(Equal(`/a\xyzb`))
	})

	It("wraps mount failures", func() {
		err := error(&MountError{Path: "/cpusets", Err: unix.EPERM})
		Expect(err).To(MatchError(ErrMount))
		Expect(errors.Is(err, fs.ErrPermission)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("do you have permission"))
	})

})
