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

package cpus

import (
	"fmt"
	"math/bits"
	"slices"
	"strings"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Set is a CPU bit string, such as used for CPU affinity masks. See also
// [sched_getaffinity(2)]. Bit n of word n/64 represents CPU number n.
//
// [sched_getaffinity(2)]: https://man7.org/linux/man-pages/man2/sched_getaffinity.2.html
type Set []uint64

// affinityWords caches the number of uint64 words the kernel expects for
// affinity masks on this system; it only ever grows.
var affinityWords atomic.Uint64

// maxAffinityWords caps the mask size when probing the kernel, as EINVAL is
// also returned for reasons other than a too small mask.
const maxAffinityWords = 1 << 12

var wordbytesize = uint64(unsafe.Sizeof(Set{0}[0]))
var bitsperword = uint(wordbytesize * 8)

func init() {
	affinityWords.Store(1)
}

func wordIndex(cpu uint) int {
	return int(cpu / bitsperword)
}

func bitMask(cpu uint) uint64 {
	return uint64(1) << (cpu % bitsperword)
}

// Full returns the Set of all CPUs from 0 up to and including maxcpu.
func Full(maxcpu uint) Set {
	return Set{}.AddRange(0, maxcpu)
}

// IsSet reports whether cpu is in this CPU set.
func (s Set) IsSet(cpu uint) bool {
	if cpu >= uint(len(s))*bitsperword {
		return false
	}
	return s[wordIndex(cpu)]&bitMask(cpu) != 0
}

// AddRange adds the CPUs from the specified range, returning an updated Set.
// This updated Set may or may not be the original Set.
func (s Set) AddRange(from, to uint) Set {
	if from > to {
		panic(fmt.Sprintf("invalid range %d-%d", from, to))
	}
	if need := wordIndex(to) + 1; need > len(s) {
		s = slices.Grow(s, need-len(s))[:need]
	}
	for cpu := from; cpu <= to; cpu++ {
		s[wordIndex(cpu)] |= bitMask(cpu)
	}
	return s
}

// Equal reports whether both Sets contain the same CPUs, regardless of any
// trailing all-zero words.
func (s Set) Equal(another Set) bool {
	short, long := s, another
	if len(short) > len(long) {
		short, long = long, short
	}
	for idx, word := range long {
		if idx < len(short) {
			if short[idx] != word {
				return false
			}
			continue
		}
		if word != 0 {
			return false
		}
	}
	return true
}

// Complement returns a new Set of all CPUs in the range 0 up to and including
// maxcpu that are not in this Set.
func (s Set) Complement(maxcpu uint) Set {
	c := Full(maxcpu)
	for idx := range c {
		if idx < len(s) {
			c[idx] &^= s[idx]
		}
	}
	return c
}

// Hex returns the CPUs in this Set as a lower-case hexadecimal mask without
// any leading zeros; the empty Set renders as “0”.
func (s Set) Hex() string {
	top := len(s) - 1
	for top >= 0 && s[top] == 0 {
		top--
	}
	if top < 0 {
		return "0"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%x", s[top]))
	for idx := top - 1; idx >= 0; idx-- {
		b.WriteString(fmt.Sprintf("%016x", s[idx]))
	}
	return b.String()
}

// Affinity returns the affinity CPU Set of the task with the passed TID.
// Otherwise, it returns an error, such as ESRCH when the task is gone. If tid
// is zero, then the affinity of the calling thread is returned.
//
// The kernel rejects masks smaller than its configured number of CPUs with
// EINVAL, so we double the mask size until the kernel is satisfied and then
// remember the size for the next time. [unix.SchedGetaffinity] can't be used
// as it is tied to the fixed-size [unix.CPUSet].
func Affinity(tid int) (Set, error) {
	words := affinityWords.Load()
	for {
		set := make(Set, words)
		// SYS_SCHED_GETAFFINITY never blocks, so RawSyscall is fine here.
		_, _, errno := unix.RawSyscall(unix.SYS_SCHED_GETAFFINITY,
			uintptr(tid), uintptr(words*wordbytesize), uintptr(unsafe.Pointer(&set[0])))
		switch errno {
		case 0:
		case unix.EINVAL:
			if words >= maxAffinityWords {
				return nil, errno
			}
			words *= 2
			continue
		default:
			return nil, errno
		}
		for {
			known := affinityWords.Load()
			if known >= words || affinityWords.CompareAndSwap(known, words) {
				break
			}
		}
		return set, nil
	}
}

// String returns the CPUs in this set in textual list format. In list format,
// individual CPU ranges “x-y” are separated by “,”, and single CPU ranges
// collapsed into “x”.
func (s Set) String() string {
	return s.List().String()
}

// List returns the list of CPU ranges corresponding with this CPU Set.
//
// All-0s and all-1s words are skipped over in one go; inside mixed words the
// next boundary between set and unset bits is located using trailing zero
// counts instead of testing bit by bit.
func (s Set) List() List {
	cpulist := List{}
	inRange := false
	var from uint
	for idx, word := range s {
		base := uint(idx) * bitsperword
		switch {
		case word == 0:
			if inRange {
				cpulist = append(cpulist, [2]uint{from, base - 1})
				inRange = false
			}
			continue
		case word == ^uint64(0):
			if !inRange {
				from = base
				inRange = true
			}
			continue
		}
		pos := uint(0)
		for pos < bitsperword {
			rest := word >> pos
			if !inRange {
				if rest == 0 {
					break
				}
				pos += uint(bits.TrailingZeros64(rest))
				from = base + pos
				inRange = true
				continue
			}
			ones := uint(bits.TrailingZeros64(^rest))
			if pos+ones >= bitsperword {
				// the range continues into the next word.
				break
			}
			pos += ones
			cpulist = append(cpulist, [2]uint{from, base + pos - 1})
			inRange = false
		}
	}
	if inRange {
		cpulist = append(cpulist, [2]uint{from, uint(len(s))*bitsperword - 1})
	}
	return cpulist
}
