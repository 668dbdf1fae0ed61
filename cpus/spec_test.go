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
	. "github.com/onsi/ginkgo/v2/dsl/core"
	. "github.com/onsi/ginkgo/v2/dsl/table"
	. "github.com/onsi/gomega"
	. "github.com/thediveo/success"
)

var _ = Describe("CPUSPECs and MEMSPECs", func() {

	DescribeTable("parsing valid specs",
		func(spec string, expected string) {
			Expect(Successful(ParseSpec(spec)).String()).To(Equal(expected))
		},
		Entry(nil, "", ""),
		Entry(nil, "0-3", "0-3"),
		Entry("empty groups are no-ops", "0-1,,3", "0-1,3"),
		Entry(nil, ",", ""),
		Entry(nil, "3,0-1", "0-1,3"),
		Entry(nil, "0,1,2", "0-2"),
		Entry("reversed range reads as lo-hi", "3-1", "1-3"),
		Entry(nil, "0,,3-3", "0,3"),
	)

	DescribeTable("rejecting invalid specs",
		func(spec string) {
			Expect(ParseSpec(spec)).Error().To(MatchError(ErrInvalidSpec))
		},
		Entry("too many fields", "1-2-3"),
		Entry("invalid character", "1!2-3"),
		Entry("leading hyphen", "-3"),
		Entry("trailing hyphen", "1-"),
		Entry("double hyphen", "1--3"),
		Entry("whitespace", "0, 1"),
		Entry("way too large", "99999999999999999999"),
	)

	It("checks against the maximum CPU", func() {
		Expect(ParseCPUSpec("0-3", 3)).To(Equal(List{{0, 3}}))
		Expect(ParseCPUSpec("999999", 3)).Error().To(MatchError(ErrInvalidSpec))
		Expect(ParseCPUSpec("4,1", 3)).Error().To(MatchError(ContainSubstring("higher max(4)")))
	})

	It("never checks MEMSPECs against a maximum", func() {
		Expect(Successful(ParseMemSpec("0-3")).String()).To(Equal("0-3"))
		Expect(Successful(ParseMemSpec("999999")).String()).To(Equal("999999"))
		Expect(ParseMemSpec("0!3")).Error().To(MatchError(ContainSubstring(`MEMSPEC "0!3"`)))
	})

	DescribeTable("hex masks",
		func(spec string, expected string) {
			Expect(ToHex(spec)).To(Equal(expected))
		},
		Entry(nil, "0-3", "f"),
		Entry(nil, "0-1,,3", "b"),
		Entry(nil, "", "0"),
		Entry(nil, "4", "10"),
		Entry(nil, "3-0", "f"),
		Entry(nil, "64", "10000000000000000"),
	)

	It("rejects invalid specs when converting to hex", func() {
		Expect(ToHex("1-2-3")).Error().To(MatchError(ErrInvalidSpec))
	})

	DescribeTable("inverting specs",
		func(spec string, expected string) {
			Expect(Invert(spec, 3)).To(Equal(expected))
		},
		Entry(nil, "0,2", "1,3"),
		Entry(nil, "0-1", "2-3"),
		Entry(nil, "2-3", "0-1"),
		Entry(nil, "0-1,3", "2"),
		Entry(nil, "0,2-3", "1"),
		Entry(nil, "0,,3-3", "1-2"),
		Entry(nil, "0-3", ""),
		Entry(nil, "", "0-3"),
		Entry("reversed range", "3-2", "0-1"),
	)

	It("rejects invalid specs when inverting", func() {
		Expect(Invert("1-2-3", 3)).Error().To(MatchError(ErrInvalidSpec))
		Expect(Invert("4", 3)).Error().To(MatchError(ErrInvalidSpec))
	})

	DescribeTable("double inversion round-trips",
		func(spec string, maxcpu uint) {
			once := Successful(Invert(spec, maxcpu))
			twice := Successful(Invert(once, maxcpu))
			Expect(ParseSpec(twice)).To(Equal(Successful(ParseSpec(spec))))
			Expect(ToHex(twice)).To(Equal(Successful(ToHex(spec))))
		},
		Entry(nil, "0-3", uint(3)),
		Entry(nil, "0,2", uint(3)),
		Entry(nil, "1-5,9,12-15", uint(15)),
		Entry(nil, "0,,70-80", uint(127)),
	)

	It("calculates the full mask", func() {
		Expect(FullMask(4)).To(Equal("1f"))
		Expect(FullMask(0)).To(Equal("1"))
		Expect(FullMask(63)).To(Equal("ffffffffffffffff"))
		Expect(FullMask(64)).To(Equal("1ffffffffffffffff"))
	})

})
