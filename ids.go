// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kernel implements the core of a freestanding kernel: the VFS
// node graph and descriptor tables, the attachment protocol that lets a
// user process become the manager of a node, and the IoResult/WaitFor
// contract that makes every node operation composable with suspension,
// wakeup, and cancellation. It corresponds to the top-level "fuse"
// package in jacobsa/fuse: the rest of a real kernel (interrupt/IDT
// setup, GDT/TSS, the physical allocator, ELF loading, SMP bring-up) are
// external collaborators this package only consumes through narrow
// interfaces (see the Scheduler interface in waitfor.go).
package kernel

// ProcessId is an opaque, nonzero, monotonically assigned identifier for
// a user process. It is never reused.
type ProcessId uint64

// KernelProcess is the reserved ProcessId denoting the kernel client.
// Real processes are always nonzero, so the zero value is unambiguous.
const KernelProcess ProcessId = 0

// FileDescriptor is an opaque, per-process, monotonically assigned
// integer. It is never reused within the lifetime of the owning process.
type FileDescriptor uint64

// FileClientId identifies an opener of a node: a process and one of its
// file descriptors, or the kernel client (Process == KernelProcess) and
// one of the kernel's own monotonically increasing descriptors.
type FileClientId struct {
	Process ProcessId
	FD      FileDescriptor
}

// IsKernel reports whether this client id denotes the kernel itself
// rather than a user process.
func (c FileClientId) IsKernel() bool {
	return c.Process == KernelProcess
}

// NodeId is an opaque, nonzero, monotonically assigned identifier for a
// VFS node. It is never reused.
type NodeId uint64

// RootID is the first NodeId minted when the VFS is created.
const RootID NodeId = 1

// ExplicitEventId is a globally unique, one-shot wakeup token minted by
// the scheduler's monotonic counter.
type ExplicitEventId uint64
