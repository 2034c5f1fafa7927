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

// Package syscalls is the dispatch trampoline sitting between a process's
// syscall entry and the VFS: every VFS call returns an IoResult, and this
// package folds that into either an ordinary (value, error) pair or a
// park-and-reissue loop, so nothing above it ever has to know IoResult
// exists. It plays the role jacobsa/fuse's Connection/dispatch loop plays
// for FUSE: the uniform place where an in-flight call either finishes or
// waits and tries again.
package syscalls

import (
	"context"

	"github.com/kestrel-os/kernel"
	"github.com/kestrel-os/kernel/internal/kerr"
	"github.com/kestrel-os/kernel/kernelops"
	"github.com/kestrel-os/kernel/metrics"
)

// Blocker suspends the calling goroutine until a WaitFor resolves, and
// records process completion for anyone parked on WaitProcess.
// *sched.Scheduler satisfies this; it is expressed as a narrow interface
// here so this package never needs to import sched.
type Blocker interface {
	Block(kernel.WaitFor)
	NotifyProcessDone(kernel.ProcessId)
}

// invoke repeatedly calls op, blocking on whatever WaitFor it returns,
// until op reports success or a tagged error. Every park is recorded
// against routine; the final outcome is recorded once, by the caller that
// knows how to name it (see dispatch below).
func invoke[T any](b Blocker, m *metrics.Metrics, routine string, op func() kernel.IoResult[T]) (T, *kerr.Error) {
	for {
		r := op()
		if v, ok := r.Value(); ok {
			return v, nil
		}
		if e, ok := r.Error(); ok {
			var zero T
			return zero, e
		}
		w, ok := r.Wait()
		if !ok {
			panic("syscalls: IoResult carries neither a value, an error, nor a wait")
		}
		m.RecordPark(context.Background(), routine)
		b.Block(w)
	}
}

// dispatch wraps invoke with the (routine, outcome) dispatch-count
// recording every call gets, success or error alike.
func dispatch[T any](b Blocker, m *metrics.Metrics, routine string, op func() kernel.IoResult[T]) (T, *kerr.Error) {
	v, err := invoke(b, m, routine, op)
	outcome := "success"
	if err != nil {
		outcome = err.Code.String()
	}
	m.RecordDispatch(context.Background(), routine, outcome)
	return v, err
}

// Dispatcher binds a VirtualFS to the Blocker that parks and resumes
// callers; each method is one syscall. Metrics is optional: a nil
// *metrics.Metrics makes every recording call a no-op.
type Dispatcher struct {
	vfs *kernel.VirtualFS
	b   Blocker
	m   *metrics.Metrics
}

func NewDispatcher(vfs *kernel.VirtualFS, b Blocker, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{vfs: vfs, b: b, m: m}
}

func (d *Dispatcher) Open(pid kernel.ProcessId, path string) (kernel.FileDescriptor, *kerr.Error) {
	return dispatch(d.b, d.m, "open", func() kernel.IoResult[kernel.FileDescriptor] {
		return d.vfs.OpenPath(pid, path)
	})
}

func (d *Dispatcher) Read(pid kernel.ProcessId, fd kernel.FileDescriptor, buf []byte) (int, *kerr.Error) {
	return dispatch(d.b, d.m, "read", func() kernel.IoResult[int] {
		return d.vfs.Read(pid, fd, buf)
	})
}

func (d *Dispatcher) Write(pid kernel.ProcessId, fd kernel.FileDescriptor, buf []byte) (int, *kerr.Error) {
	return dispatch(d.b, d.m, "write", func() kernel.IoResult[int] {
		return d.vfs.Write(pid, fd, buf)
	})
}

func (d *Dispatcher) Close(pid kernel.ProcessId, fd kernel.FileDescriptor) (kernel.CloseAction, *kerr.Error) {
	return dispatch(d.b, d.m, "close", func() kernel.IoResult[kernel.CloseAction] {
		return d.vfs.Close(pid, fd)
	})
}

func (d *Dispatcher) Attach(pid kernel.ProcessId, parent kernel.NodeId, name string, leafness kernel.Leafness) (kernel.FileDescriptor, *kerr.Error) {
	return dispatch(d.b, d.m, "attach", func() kernel.IoResult[kernel.FileDescriptor] {
		return d.vfs.Attach(pid, parent, name, leafness)
	})
}

func (d *Dispatcher) Stat(path string) (kernel.FileInfo, *kerr.Error) {
	return dispatch(d.b, d.m, "stat", func() kernel.IoResult[kernel.FileInfo] {
		return d.vfs.Stat(path)
	})
}

func (d *Dispatcher) CreateNode(parent kernel.NodeId, name string, ops kernel.FileOps) (kernel.NodeId, *kerr.Error) {
	return dispatch(d.b, d.m, "create_node", func() kernel.IoResult[kernel.NodeId] {
		return d.vfs.CreateNode(parent, name, ops)
	})
}

func (d *Dispatcher) CreateAnonymousNode(pid kernel.ProcessId, ops kernel.FileOps) (kernel.FileDescriptor, *kerr.Error) {
	return dispatch(d.b, d.m, "create_anonymous_node", func() kernel.IoResult[kernel.FileDescriptor] {
		return d.vfs.CreateAnonymousNode(pid, ops)
	})
}

func (d *Dispatcher) Spawn(procDir kernel.NodeId, processFileOps kernel.FileOps) (kernel.ProcessId, *kerr.Error) {
	return dispatch(d.b, d.m, "spawn", func() kernel.IoResult[kernel.ProcessId] {
		return d.vfs.Spawn(procDir, processFileOps)
	})
}

func (d *Dispatcher) KernelExec(procDir kernel.NodeId, processFileOps kernel.FileOps, path string) (kernel.ExecResult, *kerr.Error) {
	return dispatch(d.b, d.m, "kernel_exec", func() kernel.IoResult[kernel.ExecResult] {
		return d.vfs.KernelExec(procDir, processFileOps, path)
	})
}

// Exec spawns path as a new process owned by owner, returning owner's
// descriptor onto the child's /prc/<pid> node.
func (d *Dispatcher) Exec(owner kernel.ProcessId, procDir kernel.NodeId, processFileOps kernel.FileOps, path string) (kernel.ExecResult, *kerr.Error) {
	return dispatch(d.b, d.m, "exec", func() kernel.IoResult[kernel.ExecResult] {
		return d.vfs.Exec(owner, procDir, processFileOps, path)
	})
}

// Terminate tears a process down. It never fails and never parks, so it
// is not routed through dispatch/invoke.
func (d *Dispatcher) Terminate(pid kernel.ProcessId, result kernelops.ProcessResult) {
	d.vfs.Terminate(pid, result)
	d.b.NotifyProcessDone(pid)
	d.m.RecordDispatch(context.Background(), "terminate", "success")
}
