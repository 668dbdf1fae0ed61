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
	"os/user"
	"strconv"

	. "github.com/onsi/ginkgo/v2/dsl/core"
	. "github.com/onsi/gomega"
	. "github.com/thediveo/success"
)

var _ = Describe("executing", func() {

	It("doesn't switch credentials unless asked to", func() {
		Expect(Credentials{}.resolve()).To(Equal(ids{uid: -1, gid: -1}))
	})

	It("resolves users by name and ID", func() {
		me := Successful(user.Current())
		uid, _ := strconv.Atoi(me.Uid)

		resolved := Successful(Credentials{User: me.Username}.resolve())
		Expect(resolved.uid).To(Equal(uid))
		Expect(resolved.username).To(Equal(me.Username))

		resolved = Successful(Credentials{User: me.Uid, Group: me.Gid}.resolve())
		Expect(resolved.uid).To(Equal(uid))
		Expect(strconv.Itoa(resolved.gid)).To(Equal(me.Gid))
	})

	It("rejects unknown users and groups", func() {
		_, err := Credentials{User: "no-such-user-hopefully"}.resolve()
		Expect(err).To(MatchError(ContainSubstring("unknown user")))
		_, err = Credentials{Group: "no-such-group-hopefully"}.resolve()
		Expect(err).To(MatchError(ContainSubstring("unknown group")))
	})

	It("fails before switching when there's nothing to execute", func() {
		Expect(Exec(nil, Credentials{})).To(MatchError(ContainSubstring("no program")))
		Expect(Exec([]string{"/no/such/program"}, Credentials{})).
			To(MatchError(ContainSubstring("cannot execute")))
		Expect(Exec([]string{"true"}, Credentials{User: "no-such-user-hopefully"})).
			To(MatchError(ContainSubstring("unknown user")))
	})

})
