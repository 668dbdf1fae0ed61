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
	"strings"

	"github.com/pkg/errors"
	"github.com/thediveo/faf"
)

// ErrInvalidSpec is returned (wrapped) for malformed CPUSPEC and MEMSPEC texts.
var ErrInvalidSpec = errors.New("invalid specification")

// maxNumber limits CPU and memory node numbers in specs, keeping a typo from
// allocating huge bit sets. It is well beyond the kernel's NR_CPUS.
const maxNumber = 1 << 20

// SpecError describes what is wrong with a particular CPUSPEC or MEMSPEC.
type SpecError struct {
	Kind string // "CPUSPEC" or "MEMSPEC"
	Spec string
	Msg  string
}

func (e *SpecError) Error() string {
	return e.Kind + ` "` + e.Spec + `" ` + e.Msg
}

// Unwrap makes SpecErrors match [ErrInvalidSpec].
func (e *SpecError) Unwrap() error { return ErrInvalidSpec }

// ParseSpec parses a CPUSPEC text into its canonical List form without any
// check against the number of CPUs available.
//
// A CPUSPEC consists of groups separated by “,”, where each group is either a
// single number “n” or an inclusive range “lo-hi”. Only digits, “,” and “-”
// are allowed. Empty groups (“0-1,,3”) are silently skipped. A group with
// more than two “-”-separated fields, or with an empty field (“-3”, “1-”),
// is invalid. A reversed range “hi-lo” is accepted and means the same as
// “lo-hi”.
func ParseSpec(spec string) (List, error) {
	s, err := parse("CPUSPEC", spec)
	if err != nil {
		return nil, err
	}
	return s.List(), nil
}

// ParseCPUSpec parses a CPUSPEC text like [ParseSpec] does, but additionally
// rejects any CPU number higher than maxcpu.
func ParseCPUSpec(spec string, maxcpu uint) (List, error) {
	l, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	if highest, ok := l.Max(); ok && highest > maxcpu {
		return nil, &SpecError{Kind: "CPUSPEC", Spec: spec,
			Msg: fmt.Sprintf("specifies higher max(%d) than available(%d)", highest, maxcpu)}
	}
	return l, nil
}

// ParseMemSpec parses a MEMSPEC text. The syntax is the same as for CPUSPECs;
// memory node numbers are never checked against a maximum as the memory nodes
// available aren't known.
func ParseMemSpec(spec string) (List, error) {
	s, err := parse("MEMSPEC", spec)
	if err != nil {
		return nil, err
	}
	return s.List(), nil
}

// ToHex returns the hexadecimal mask for the specified CPUSPEC, such as “f”
// for “0-3”. No check against the number of CPUs available is done.
func ToHex(spec string) (string, error) {
	s, err := parse("CPUSPEC", spec)
	if err != nil {
		return "", err
	}
	return s.Hex(), nil
}

// Invert returns the CPUSPEC of all CPUs from 0 to maxcpu that are not in the
// passed CPUSPEC, in its minimal form: maximal runs become ranges and single
// CPUs bare numbers. Inverting a spec covering all CPUs returns “”.
func Invert(spec string, maxcpu uint) (string, error) {
	l, err := ParseCPUSpec(spec, maxcpu)
	if err != nil {
		return "", err
	}
	return l.Set().Complement(maxcpu).String(), nil
}

// FullMask returns the hexadecimal mask of all CPUs from 0 up to and
// including maxcpu, such as “1f” for 4.
func FullMask(maxcpu uint) string {
	return Full(maxcpu).Hex()
}

// parse validates the passed spec text and returns the Set of numbers it
// describes.
func parse(kind string, spec string) (Set, error) {
	if idx := strings.IndexFunc(spec, func(r rune) bool {
		return !(r >= '0' && r <= '9') && r != ',' && r != '-'
	}); idx >= 0 {
		return nil, &SpecError{Kind: kind, Spec: spec,
			Msg: "contains invalid characters: " + string([]rune(spec[idx:])[:1])}
	}
	s := Set{}
	for _, group := range strings.Split(spec, ",") {
		if group == "" {
			continue
		}
		fields := strings.Split(group, "-")
		if len(fields) > 2 {
			return nil, &SpecError{Kind: kind, Spec: spec, Msg: `has bad group "` + group + `"`}
		}
		var nums [2]uint
		for idx, field := range fields {
			num, ok := number(field)
			if !ok {
				return nil, &SpecError{Kind: kind, Spec: spec, Msg: `has bad group "` + group + `"`}
			}
			nums[idx] = num
		}
		if len(fields) == 1 {
			nums[1] = nums[0]
		}
		lo, hi := min(nums[0], nums[1]), max(nums[0], nums[1])
		s = s.AddRange(lo, hi)
	}
	return s, nil
}

// number scans a field consisting only of decimal digits.
func number(field string) (uint, bool) {
	if field == "" {
		return 0, false
	}
	bs := faf.NewBytestring([]byte(field))
	num, ok := bs.Uint64()
	if !ok || !bs.EOL() || num > maxNumber {
		return 0, false
	}
	return uint(num), true
}
