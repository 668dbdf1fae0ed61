/*
Package cpus works with CPU and memory node specifications as used by the
cpuset control filesystem, and queries the CPU affinities of tasks.

There are three equivalent representations of a set of CPU (or memory node)
numbers, each identified by their 0-based number:

  - a CPUSPEC or MEMSPEC text, as typed by administrators, such as
    “0-1,,3” or “5-2” (see [ParseSpec] for the exact syntax accepted).
  - [List], which internally stores canonical from-to ranges, such as 1-4,
    8-15, as found in the kernel's “cpus” and “mems” control files.
  - [Set], which internally stores CPU numbers as bits in a bytestream, such
    as (hex) ff1e, mirroring affinity masks.

[List.Set] converts a List into its corresponding Set. In the opposite
direction, [Set.List] converts a Set into its equivalent List. [ToHex] and
[Invert] work directly on CPUSPEC texts, while [FullMask] renders the mask of
all CPUs up to and including a maximum CPU number.
*/
package cpus
