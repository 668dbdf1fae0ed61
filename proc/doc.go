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

/*
Package proc gives access to the process table as far as cpusets are
concerned: whether tasks exist, whether they are user tasks or kernel threads,
which threads a process consists of, and what their CPU affinities are.

The default [Table] implementation is [ProcFS], reading from a procfs mount
(usually “/proc”).

# PIDSPECs

A PIDSPEC is a comma-separated list of task IDs or inclusive task ID ranges,
such as “1234,2000-2010”. [Resolve] turns a PIDSPEC into a deduplicated list
of task IDs, keeping from ranges only those tasks that currently exist.
Optionally, only tasks that are currently members of a source cpuset are kept,
and multi-threaded processes can be expanded into all their threads.

# Task Details

[ProcFS.Detail] returns the user, parent, state, scheduling policy and
command line of a task, as shown in task listings.

# Executing

[Exec] replaces the calling process with a new program, optionally switching
user and group first.
*/
package proc
