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
	"bytes"
	"strconv"

	"github.com/pkg/errors"
	"github.com/thediveo/faf"
)

// List is a list of CPU [from...to] ranges. CPU numbers are starting from zero.
// The same type is used for lists of memory nodes.
type List [][2]uint

// String returns the list in the kernel's textual list format, such as
// “0-3,8,10-11”.
func (l List) String() string {
	b := make([]byte, 0, 8*len(l))
	for idx, r := range l {
		if idx > 0 {
			b = append(b, ',')
		}
		b = strconv.AppendUint(b, uint64(r[0]), 10)
		if r[1] != r[0] {
			b = append(b, '-')
			b = strconv.AppendUint(b, uint64(r[1]), 10)
		}
	}
	return string(b)
}

// NewList returns a new CPU List for the given textual list format, as found
// in the kernel's “cpus” and “mems” control files. A trailing newline is
// ignored. If the text is malformed then an error is returned instead.
//
// NewList is strict: it doesn't accept empty groups or reversed ranges. Use
// [ParseSpec] for the more lenient CPUSPEC syntax typed by users.
func NewList(b []byte) (List, error) {
	b = bytes.TrimRight(b, "\n")
	l := List{}
	if len(b) == 0 {
		return l, nil
	}
	for _, group := range bytes.Split(b, []byte{','}) {
		r, err := parseRange(group)
		if err != nil {
			return nil, err
		}
		l = append(l, r)
	}
	return l, nil
}

// parseRange parses a single “x” or “x-y” group.
func parseRange(group []byte) ([2]uint, error) {
	bs := faf.NewBytestring(group)
	from, ok := bs.Uint64()
	if !ok {
		return [2]uint{}, errors.New("expected unsigned integer number")
	}
	if bs.EOL() {
		return [2]uint{uint(from), uint(from)}, nil
	}
	if ch, _ := bs.Next(); ch != '-' {
		return [2]uint{}, errors.New("expected '-' or ','")
	}
	to, ok := bs.Uint64()
	if !ok {
		return [2]uint{}, errors.New("expected unsigned integer number")
	}
	if !bs.EOL() {
		return [2]uint{}, errors.New("expected ','")
	}
	return [2]uint{uint(from), uint(to)}, nil
}

// Set returns the CPU Set corresponding with this list.
func (l List) Set() Set {
	var s Set
	// starting with the highest range allocates the bitmap only once.
	for i := len(l) - 1; i >= 0; i-- {
		s = s.AddRange(l[i][0], l[i][1])
	}
	if s == nil {
		return Set{}
	}
	return s
}

// Max returns the highest CPU number in this List, and false if the List is
// empty. The List must be in canonical form.
func (l List) Max() (uint, bool) {
	if len(l) == 0 {
		return 0, false
	}
	return l[len(l)-1][1], true
}

// Count returns the number of CPUs in this List.
func (l List) Count() uint {
	var n uint
	for _, r := range l {
		n += r[1] - r[0] + 1
	}
	return n
}

// IsOverlapping returns true if this List shares at least one CPU with another
// List. Both lists must be in canonical form, with ascending and disjoint
// ranges.
func (l List) IsOverlapping(another List) bool {
	i, j := 0, 0
	for i < len(l) && j < len(another) {
		switch a, b := l[i], another[j]; {
		case a[1] < b[0]:
			i++
		case b[1] < a[0]:
			j++
		default:
			return true
		}
	}
	return false
}
