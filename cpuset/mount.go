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
	"bufio"
	"bytes"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// DefaultMounts is the mount table of the calling process.
const DefaultMounts = "/proc/mounts"

// CgroupPrefix prefixes the control file names of the cgroup v1 cpuset
// controller, except for the “tasks” file.
const CgroupPrefix = "cpuset."

// Mount describes where a cpuset filesystem is mounted and how its control
// files are named.
type Mount struct {
	Path   string
	Prefix string // "" for the cpuset filesystem, "cpuset." for cgroup v1
}

// FindMount scans the mount table in the mounts file for either a cpuset
// filesystem or a cgroup v1 hierarchy with the cpuset controller. It returns
// false if there is no such mount.
func FindMount(mounts string) (Mount, bool, error) {
	b, err := os.ReadFile(mounts)
	if err != nil {
		return Mount{}, false, errors.Wrap(err, "cannot read mount table")
	}
	scanner := bufio.NewScanner(bytes.NewReader(b))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		switch fields[2] {
		case "cpuset":
			return Mount{Path: unescape(fields[1])}, true, nil
		case "cgroup":
			if slices.Contains(strings.Split(fields[3], ","), "cpuset") {
				return Mount{Path: unescape(fields[1]), Prefix: CgroupPrefix}, true, nil
			}
		}
	}
	return Mount{}, false, nil
}

// Discover returns the cpuset filesystem mount found in the mounts table. If
// there is none, then a cpuset filesystem is mounted at mountpoint, creating
// the mount point directory if necessary.
func Discover(mounts string, mountpoint string) (Mount, error) {
	m, ok, err := FindMount(mounts)
	if err != nil {
		return Mount{}, err
	}
	if ok {
		log.Debugf("cpusets mounted at %s", m.Path)
		return m, nil
	}
	log.Debugf("mounting cpusets at %s", mountpoint)
	if err := os.MkdirAll(mountpoint, 0755); err != nil {
		return Mount{}, &MountError{Path: mountpoint, Err: err}
	}
	if err := unix.Mount("cpuset", mountpoint, "cpuset", 0, ""); err != nil {
		return Mount{}, &MountError{Path: mountpoint, Err: err}
	}
	return Mount{Path: mountpoint}, nil
}

// unescape decodes the octal escapes, such as “\040” for a space, that the
// kernel uses in mount table fields.
func unescape(field string) string {
	if !strings.Contains(field, `\`) {
		return field
	}
	var b strings.Builder
	for idx := 0; idx < len(field); idx++ {
		if field[idx] == '\\' && idx+4 <= len(field) {
			if ch, err := strconv.ParseUint(field[idx+1:idx+4], 8, 8); err == nil {
				b.WriteByte(byte(ch))
				idx += 3
				continue
			}
		}
		b.WriteByte(field[idx])
	}
	return b.String()
}
