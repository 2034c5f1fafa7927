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

// Package kernelutil provides the built-in FileOps kinds every kernel
// instance boots with: NullDevice, ZeroDevice, InternalBranch,
// ProcessFile, and opaque leaf stubs for NIC/console/MAC device nodes. It
// plays the role jacobsa/fuse's fuseutil package plays for FUSE
// implementers: ready-made building blocks on top of the core's FileOps
// interface.
package kernelutil

import (
	"github.com/kestrel-os/kernel"
	"github.com/kestrel-os/kernel/internal/kerr"
)

// NullDevice is /dev/null: reads yield EOF, writes discard any length.
type NullDevice struct{}

func (NullDevice) Leafness() kernel.Leafness { return kernel.Leaf }
func (NullDevice) FileInfo() kernel.FileInfo { return kernel.FileInfo{Leafness: kernel.Leaf} }

func (NullDevice) Open(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId) kernel.IoResult[struct{}] {
	return kernel.Success(struct{}{})
}

func (NullDevice) Read(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId, buf []byte) kernel.IoResult[int] {
	return kernel.Success(0)
}

func (NullDevice) Write(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId, buf []byte) kernel.IoResult[int] {
	return kernel.Success(len(buf))
}

func (NullDevice) ReadWaitingFor(fc kernel.FileClientId) kernel.WaitFor { return kernel.WaitNone() }

func (NullDevice) Close(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId, refcountAfter uint64) kernel.IoResult[kernel.CloseAction] {
	return closeByRefcount(refcountAfter)
}

func (NullDevice) Destroy(ctx *kernel.IoContext, sched kernel.Scheduler) kernel.Trigger {
	return kernel.Trigger{}
}

// ZeroDevice is /dev/zero: reads fill the buffer with zero bytes, writes
// are rejected.
type ZeroDevice struct{}

func (ZeroDevice) Leafness() kernel.Leafness { return kernel.Leaf }
func (ZeroDevice) FileInfo() kernel.FileInfo { return kernel.FileInfo{Leafness: kernel.Leaf} }

func (ZeroDevice) Open(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId) kernel.IoResult[struct{}] {
	return kernel.Success(struct{}{})
}

func (ZeroDevice) Read(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId, buf []byte) kernel.IoResult[int] {
	for i := range buf {
		buf[i] = 0
	}
	return kernel.Success(len(buf))
}

// Write rejects any attempt to write to /dev/zero. There is no dedicated
// "unsupported operation" error code, so this reuses Protocol, the
// closest existing code to "malformed use of this node".
func (ZeroDevice) Write(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId, buf []byte) kernel.IoResult[int] {
	return kernel.Err[int](kerr.Protocol)
}

func (ZeroDevice) ReadWaitingFor(fc kernel.FileClientId) kernel.WaitFor { return kernel.WaitNone() }

func (ZeroDevice) Close(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId, refcountAfter uint64) kernel.IoResult[kernel.CloseAction] {
	return closeByRefcount(refcountAfter)
}

func (ZeroDevice) Destroy(ctx *kernel.IoContext, sched kernel.Scheduler) kernel.Trigger {
	return kernel.Trigger{}
}

// OpaqueDevice is an opaque leaf FileOps instance for a device bridged to
// an external driver (NIC, console, MAC address endpoint). The core
// treats it as a plain byte-oriented leaf; the driver subsystem supplies
// Read/Write behavior via the callbacks.
type OpaqueDevice struct {
	ReadFn  func(buf []byte) kernel.IoResult[int]
	WriteFn func(buf []byte) kernel.IoResult[int]
}

func (OpaqueDevice) Leafness() kernel.Leafness { return kernel.Leaf }
func (OpaqueDevice) FileInfo() kernel.FileInfo { return kernel.FileInfo{Leafness: kernel.Leaf} }

func (OpaqueDevice) Open(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId) kernel.IoResult[struct{}] {
	return kernel.Success(struct{}{})
}

func (d OpaqueDevice) Read(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId, buf []byte) kernel.IoResult[int] {
	if d.ReadFn == nil {
		return kernel.Success(0)
	}
	return d.ReadFn(buf)
}

func (d OpaqueDevice) Write(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId, buf []byte) kernel.IoResult[int] {
	if d.WriteFn == nil {
		return kernel.Success(len(buf))
	}
	return d.WriteFn(buf)
}

func (OpaqueDevice) ReadWaitingFor(fc kernel.FileClientId) kernel.WaitFor { return kernel.WaitNone() }

func (OpaqueDevice) Close(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId, refcountAfter uint64) kernel.IoResult[kernel.CloseAction] {
	return closeByRefcount(refcountAfter)
}

func (OpaqueDevice) Destroy(ctx *kernel.IoContext, sched kernel.Scheduler) kernel.Trigger {
	return kernel.Trigger{}
}

// closeByRefcount is the shared close policy for the simple built-in leaf
// kinds: destroy once the structural refcount has dropped to zero.
func closeByRefcount(refcountAfter uint64) kernel.IoResult[kernel.CloseAction] {
	if refcountAfter == 0 {
		return kernel.Success(kernel.CloseDestroy)
	}
	return kernel.Success(kernel.CloseNormal)
}
