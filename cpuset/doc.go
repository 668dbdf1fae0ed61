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
Package cpuset models the tree of cpusets found in a mounted cpuset
filesystem, either the original “cpuset” filesystem or a cgroup v1
hierarchy with the cpuset controller (see [Discover]).

Each cpuset is a directory with control files for its CPUs, memory nodes,
CPU and memory exclusivity, and member tasks. A [Hierarchy] reads the
directory tree into an immutable [Snapshot] of [Node] elements, indexed by
their paths. Structural changes, such as [Hierarchy.Create],
[Hierarchy.Destroy] and [Hierarchy.Rename], take a new snapshot afterwards.
The properties of a Node, in contrast, are never cached but always read from
and written to the cpuset filesystem, as other parties may change them at any
time.

Moving tasks into a cpuset with [Node.SetTasks] writes the tasks one by one,
so that tasks that terminated in the meantime or that the kernel refuses to
move don't keep the remaining tasks from being moved.
*/
package cpuset
