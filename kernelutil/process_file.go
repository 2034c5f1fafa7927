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

package kernelutil

import (
	"sync"

	"github.com/kestrel-os/kernel"
	"github.com/kestrel-os/kernel/internal/kerr"
	"github.com/kestrel-os/kernel/kernelops"
)

// encodedResultCap is large enough for any ProcessResult this spec
// defines (outcome tag, code, and at most one Failure's fields).
const encodedResultCap = 256

// ProcessFile is the /prc/<pid> leaf created at spawn for each process.
// Before the process exits, reads park on its completion event; once the
// process-over hook calls SetResult, every parked reader wakes and
// subsequent reads (from any client, each with its own cursor) drain the
// serialized ProcessResult.
type ProcessFile struct {
	mu       sync.Mutex
	result   *kernelops.ProcessResult
	encoded  []byte
	cursors  map[kernel.FileClientId]*kernel.ByteQueue
	event    kernel.ExplicitEventId
	hasEvent bool
}

func NewProcessFile() *ProcessFile {
	return &ProcessFile{cursors: make(map[kernel.FileClientId]*kernel.ByteQueue)}
}

func (p *ProcessFile) Leafness() kernel.Leafness { return kernel.Leaf }
func (p *ProcessFile) FileInfo() kernel.FileInfo { return kernel.FileInfo{Leafness: kernel.Leaf} }

func (p *ProcessFile) Open(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId) kernel.IoResult[struct{}] {
	return kernel.Success(struct{}{})
}

// SetResult records the process's outcome and wakes every reader parked
// on it. Safe to call at most once.
func (p *ProcessFile) SetResult(sched kernel.Scheduler, pr kernelops.ProcessResult) {
	p.mu.Lock()
	p.result = &pr
	ev, had := p.event, p.hasEvent
	p.hasEvent = false
	p.mu.Unlock()

	if had {
		sched.Trigger(ev)
	}
}

func (p *ProcessFile) Read(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId, buf []byte) kernel.IoResult[int] {
	p.mu.Lock()
	if p.result == nil {
		if !p.hasEvent {
			p.event = sched.NewEvent()
			p.hasEvent = true
		}
		ev := p.event
		p.mu.Unlock()
		return kernel.RepeatAfter[int](kernel.WaitEvent(ev))
	}

	if p.encoded == nil {
		scratch := make([]byte, encodedResultCap)
		n, err := kernelops.EncodeProcessResult(scratch, *p.result)
		if err != nil {
			p.mu.Unlock()
			return kernel.Err[int](kerr.Protocol)
		}
		p.encoded = scratch[:n]
	}

	q, ok := p.cursors[fc]
	if !ok {
		q = kernel.NewByteQueue(p.encoded)
		p.cursors[fc] = q
	}
	n := q.Drain(buf)
	p.mu.Unlock()
	return kernel.Success(n)
}

// Write is how the kernel itself records a process's outcome without the
// VFS needing to know this node's concrete type: process termination
// encodes a ProcessResult and writes it through this node like any other
// client would write to any other file. Any non-kernel writer is
// rejected; user processes never write their own exit status.
func (p *ProcessFile) Write(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId, buf []byte) kernel.IoResult[int] {
	if !fc.IsKernel() {
		return kernel.Err[int](kerr.Protocol)
	}
	pr, err := kernelops.DecodeProcessResult(buf)
	if err != nil {
		return kernel.Err[int](kerr.Protocol)
	}
	p.SetResult(sched, pr)
	return kernel.Success(len(buf))
}

func (p *ProcessFile) ReadWaitingFor(fc kernel.FileClientId) kernel.WaitFor {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.result != nil {
		return kernel.WaitNone()
	}
	if p.hasEvent {
		return kernel.WaitEvent(p.event)
	}
	return kernel.WaitNone()
}

func (p *ProcessFile) Close(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId, refcountAfter uint64) kernel.IoResult[kernel.CloseAction] {
	p.mu.Lock()
	delete(p.cursors, fc)
	p.mu.Unlock()
	return closeByRefcount(refcountAfter)
}

func (p *ProcessFile) Destroy(ctx *kernel.IoContext, sched kernel.Scheduler) kernel.Trigger {
	return kernel.Trigger{}
}
