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
	"os"
	"os/exec"
	"os/user"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Credentials to switch to before executing a program. User and Group are
// either names or numeric IDs; empty means no switch.
type Credentials struct {
	User  string
	Group string
}

// ids are the numeric credentials resolved from Credentials; negative values
// mean “don't switch”.
type ids struct {
	uid, gid int
	username string
}

// resolve looks up the user and group. If only a non-root user is given,
// the group “users” is used when it exists.
func (c Credentials) resolve() (ids, error) {
	res := ids{uid: -1, gid: -1}
	if c.User != "" {
		u, err := user.Lookup(c.User)
		if err != nil {
			u, err = user.LookupId(c.User)
			if err != nil {
				return ids{}, errors.Errorf("unknown user: %q", c.User)
			}
		}
		res.uid, _ = strconv.Atoi(u.Uid)
		res.username = u.Username
	}
	switch {
	case c.Group != "":
		g, err := user.LookupGroup(c.Group)
		if err != nil {
			g, err = user.LookupGroupId(c.Group)
			if err != nil {
				return ids{}, errors.Errorf("unknown group: %q", c.Group)
			}
		}
		res.gid, _ = strconv.Atoi(g.Gid)
	case res.uid > 0:
		if g, err := user.LookupGroup("users"); err == nil {
			res.gid, _ = strconv.Atoi(g.Gid)
		}
	}
	return res, nil
}

// Exec replaces the calling process with the program given in args[0],
// searched for in PATH, passing it args. If creds specify a group and/or user
// then the process switches to them first. Exec only returns in case of
// errors.
func Exec(args []string, creds Credentials) error {
	if len(args) == 0 {
		return errors.New("no program to execute")
	}
	resolved, err := creds.resolve()
	if err != nil {
		return err
	}
	path, err := exec.LookPath(args[0])
	if err != nil {
		return errors.Wrapf(err, "cannot execute %q", args[0])
	}
	if resolved.gid >= 0 {
		if err := unix.Setgid(resolved.gid); err != nil {
			return errors.Wrapf(err, "cannot switch to group %d", resolved.gid)
		}
	}
	if resolved.uid >= 0 {
		if err := unix.Setuid(resolved.uid); err != nil {
			return errors.Wrapf(err, "cannot switch to user %d", resolved.uid)
		}
		for _, env := range []string{"LOGNAME", "USERNAME", "USER"} {
			_ = os.Setenv(env, resolved.username)
		}
	}
	log.Infof("executing %q, pid %d", args, os.Getpid())
	return errors.Wrapf(unix.Exec(path, args, os.Environ()), "cannot execute %q", args[0])
}
