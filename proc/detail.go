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
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Task details as shown in task listings.
type Task struct {
	TID     int
	PPID    int
	User    string // user name, or the numeric UID if unknown
	State   string // single letter state, such as "R" or "S"
	Policy  string // scheduling policy and priority, such as "oth" or "r_5"
	Command string // command line, or "[name]" for kernel threads
}

// scheduling policy letters, indexed by SCHED_* value.
var policies = []string{"o", "f", "r", "b", "?", "i", "d"}

// stat field indices, counted from the state field following the command
// name.
const (
	statState      = 0
	statPPID       = 1
	statRTPriority = 37
	statPolicy     = 38
)

// Detail returns the details of the specified task.
func (p *ProcFS) Detail(tid int) (*Task, error) {
	status, err := os.ReadFile(p.path(tid, "status"))
	if err != nil {
		return nil, errors.Wrapf(err, "task %d does not exist", tid)
	}
	fields := statusFields(status)

	stat, err := os.ReadFile(p.path(tid, "stat"))
	if err != nil {
		return nil, errors.Wrapf(err, "task %d does not exist", tid)
	}
	// the command name may contain spaces and parentheses, so skip past the
	// last closing parenthesis.
	idx := bytes.LastIndexByte(stat, ')')
	if idx < 0 {
		return nil, errors.Errorf("malformed stat of task %d", tid)
	}
	statf := strings.Fields(string(stat[idx+1:]))
	if len(statf) <= statPolicy {
		return nil, errors.Errorf("malformed stat of task %d", tid)
	}

	t := &Task{TID: tid}
	t.PPID, _ = strconv.Atoi(statf[statPPID])
	t.State = statf[statState]
	if uid := strings.Fields(fields["Uid"]); len(uid) > 0 {
		t.User = uid[0]
		if u, err := user.LookupId(uid[0]); err == nil {
			t.User = u.Username
		}
	}
	t.Policy = policy(statf[statPolicy], statf[statRTPriority])

	if _, err := p.Executable(tid); err != nil {
		t.Command = "[" + fields["Name"] + "]"
		return t, nil
	}
	cmdline, _ := os.ReadFile(p.path(tid, "cmdline"))
	t.Command = strings.TrimSpace(string(bytes.ReplaceAll(cmdline, []byte{0}, []byte{' '})))
	if t.Command == "" {
		t.Command = fields["Name"]
	}
	return t, nil
}

// statusFields returns the “key: value” pairs from a task's status.
func statusFields(status []byte) map[string]string {
	fields := map[string]string{}
	scanner := bufio.NewScanner(bytes.NewReader(status))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}
	return fields
}

// policy returns the short form of a scheduling policy together with its
// priority: “th” for time-shared, “at” for batch and idle, and the real-time
// priority otherwise.
func policy(pol string, rtprio string) string {
	num, err := strconv.Atoi(pol)
	if err != nil || num < 0 || num >= len(policies) {
		return "?"
	}
	letter := policies[num]
	switch num {
	case 0:
		return letter + "th"
	case 1, 2:
		prio, _ := strconv.Atoi(rtprio)
		if prio < 10 {
			return fmt.Sprintf("%s_%d", letter, prio)
		}
		return fmt.Sprintf("%s%2d", letter, prio)
	}
	return letter + "at"
}
