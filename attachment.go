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

package kernel

import (
	"context"
	"sync"

	"github.com/kestrel-os/kernel/internal/kerr"
	"github.com/kestrel-os/kernel/kernelops"
	"github.com/kestrel-os/kernel/metrics"
)

// pendingRead is one client read the manager has not yet picked up.
type pendingRead struct {
	client  FileClientId
	event   ExplicitEventId
	wantLen int
}

// ByteQueue is a drain-once cursor over a shared, immutable byte slice:
// each reader gets its own offset into the same encoded payload, so
// repeated reads on an already-delivered response return Success(0)
// once drained, until the client closes. Shared with kernelutil, whose
// ProcessFile uses the identical cursor-per-reader shape for its
// encoded ProcessResult.
type ByteQueue struct {
	data []byte
	off  int
}

// NewByteQueue wraps data for draining; data must not be mutated afterward.
func NewByteQueue(data []byte) *ByteQueue {
	return &ByteQueue{data: data}
}

func (q *ByteQueue) Drain(buf []byte) int {
	n := copy(buf, q.data[q.off:])
	q.off += n
	return n
}

// Attachment is a Node's FileOps implementation backing the user-space
// driver protocol, the core's hardest component and the
// direct analogue of jacobsa/fuse's Connection/Server pair: one
// designated manager process serves read/write requests from any number
// of other client processes, one framed message per syscall.
//
// All mutable state below is guarded by mu and manipulated only while
// holding it; the VFS itself holds a single coarse lock across syscall
// entry, but Attachment keeps its own mutex so it is also safe
// to exercise directly in unit tests without a full VirtualFS.
type Attachment struct {
	mu sync.Mutex

	manager   FileClientId
	leafness  Leafness
	destroyed bool
	label     string
	metrics   *metrics.Metrics

	readsPending    []pendingRead
	readsInProgress map[FileClientId]ExplicitEventId
	readsCompleted  map[FileClientId]*ByteQueue
	closedPending   []FileClientId

	managerAvailable bool
	managerHasLatch  bool
	managerLatch     ExplicitEventId
}

// NewAttachment creates an attachment with the given manager and fixed
// leafness (leaf = file-like, branch = directory-like), chosen once at
// creation and never changed by the manager. label identifies this
// attachment in queue-depth metrics (the name it was created under); m may
// be nil, in which case every metrics call below is a no-op.
func NewAttachment(manager FileClientId, leafness Leafness, label string, m *metrics.Metrics) *Attachment {
	return &Attachment{
		manager:         manager,
		leafness:        leafness,
		label:           label,
		metrics:         m,
		readsInProgress: make(map[FileClientId]ExplicitEventId),
		readsCompleted:  make(map[FileClientId]*ByteQueue),
	}
}

func (a *Attachment) Leafness() Leafness { return a.leafness }

func (a *Attachment) FileInfo() FileInfo {
	return FileInfo{Leafness: a.leafness}
}

// Manager returns the FileClientId that owns this attachment.
func (a *Attachment) Manager() FileClientId { return a.manager }

func (a *Attachment) Open(ctx *IoContext, sched Scheduler, fc FileClientId) IoResult[struct{}] {
	return Success(struct{}{})
}

// removeClient drops fc from whichever of the three queues it currently
// occupies. A client id is in at most one of them at a time, so each
// client id needs removing from at most one structure; duplicate
// readsPending entries for the same client cannot arise because every
// client read first checks for an existing entry before enqueuing a new
// one (see Read below), so a given client fc is never pushed twice.
// Reports whether fc was still outstanding (pending or in progress), so
// callers can keep queue-depth metrics in step.
func (a *Attachment) removeClient(fc FileClientId) (wasOutstanding bool) {
	for i, pr := range a.readsPending {
		if pr.client == fc {
			a.readsPending = append(a.readsPending[:i], a.readsPending[i+1:]...)
			wasOutstanding = true
			break
		}
	}
	if _, ok := a.readsInProgress[fc]; ok {
		delete(a.readsInProgress, fc)
		wasOutstanding = true
	}
	delete(a.readsCompleted, fc)
	return wasOutstanding
}

// wakeManagerLocked sets the latched condition available, and reports
// the latch event to fire (if the manager was parked on it) so the
// caller can wrap its own result in a TriggerEvent. Must be called with
// mu held.
func (a *Attachment) wakeManagerLocked() (ExplicitEventId, bool) {
	wasUnavailable := !a.managerAvailable
	a.managerAvailable = true
	if wasUnavailable && a.managerHasLatch {
		ev := a.managerLatch
		a.managerHasLatch = false
		return ev, true
	}
	return 0, false
}

func (a *Attachment) Read(ctx *IoContext, sched Scheduler, fc FileClientId, buf []byte) IoResult[int] {
	if fc == a.manager {
		return a.managerRead(sched, buf)
	}
	return a.clientRead(sched, fc, buf)
}

func (a *Attachment) clientRead(sched Scheduler, fc FileClientId, buf []byte) IoResult[int] {
	a.mu.Lock()

	if q, ok := a.readsCompleted[fc]; ok {
		n := q.Drain(buf)
		a.mu.Unlock()
		return Success(n)
	}

	// Retry-safety: a client reissuing the same read while still pending
	// or in progress must get back the same park, not a fresh event or a
	// duplicate queue entry.
	for _, pr := range a.readsPending {
		if pr.client == fc {
			a.mu.Unlock()
			return RepeatAfter[int](WaitEvent(pr.event))
		}
	}
	if ev, ok := a.readsInProgress[fc]; ok {
		a.mu.Unlock()
		return RepeatAfter[int](WaitEvent(ev))
	}

	ev := sched.NewEvent()
	a.readsPending = append(a.readsPending, pendingRead{client: fc, event: ev, wantLen: len(buf)})
	wake, shouldWake := a.wakeManagerLocked()
	a.mu.Unlock()

	a.metrics.AdjustQueueDepth(context.Background(), a.label, 1)

	inner := RepeatAfter[int](WaitEvent(ev))
	if shouldWake {
		return TriggerEvent(wake, inner)
	}
	return inner
}

func (a *Attachment) managerRead(sched Scheduler, buf []byte) IoResult[int] {
	a.mu.Lock()

	if len(a.closedPending) > 0 {
		client := a.closedPending[0]
		a.closedPending = a.closedPending[1:]
		a.managerAvailable = len(a.readsPending) > 0 || len(a.closedPending) > 0
		a.mu.Unlock()

		n, err := kernelops.EncodeRequest(buf, kernelops.Request{
			Sender: Sender(client),
			Data:   kernelops.FileOperation{Kind: kernelops.OpClose},
		})
		if err != nil {
			return Err[int](kerr.Protocol)
		}
		return Success(n)
	}

	if len(a.readsPending) > 0 {
		pr := a.readsPending[0]
		a.readsPending = a.readsPending[1:]
		a.readsInProgress[pr.client] = pr.event
		a.managerAvailable = len(a.readsPending) > 0 || len(a.closedPending) > 0
		a.mu.Unlock()

		n, err := kernelops.EncodeRequest(buf, kernelops.Request{
			Sender: Sender(pr.client),
			Data:   kernelops.FileOperation{Kind: kernelops.OpRead, Len: uint64(pr.wantLen)},
		})
		if err != nil {
			return Err[int](kerr.Protocol)
		}
		return Success(n)
	}

	if !a.managerHasLatch {
		a.managerLatch = sched.NewEvent()
		a.managerHasLatch = true
	}
	ev := a.managerLatch
	a.mu.Unlock()
	return RepeatAfter[int](WaitEvent(ev))
}

func (a *Attachment) Write(ctx *IoContext, sched Scheduler, fc FileClientId, buf []byte) IoResult[int] {
	if fc != a.manager {
		// Branch-attachment client writes are an explicit protocol hole:
		// nothing defines what a non-manager write to a directory
		// attachment should mean, so reject rather than guess at it.
		return Err[int](kerr.Protocol)
	}
	return a.managerWrite(sched, buf)
}

func (a *Attachment) managerWrite(sched Scheduler, buf []byte) IoResult[int] {
	resp, err := kernelops.DecodeResponse(buf)
	if err != nil {
		return Err[int](kerr.Protocol)
	}

	client := FileClientId{Process: ProcessId(resp.Sender.Pid), FD: FileDescriptor(resp.Sender.F)}

	a.mu.Lock()
	ev, ok := a.readsInProgress[client]
	if !ok {
		a.mu.Unlock()
		// A response naming a client we have no in-flight request for is
		// a manager protocol error, not a client-visible one.
		return Err[int](kerr.Protocol)
	}
	delete(a.readsInProgress, client)
	a.readsCompleted[client] = NewByteQueue(resp.Data)
	a.mu.Unlock()

	a.metrics.AdjustQueueDepth(context.Background(), a.label, -1)

	return TriggerEvent(ev, Success(len(buf)))
}

func (a *Attachment) ReadWaitingFor(fc FileClientId) WaitFor {
	a.mu.Lock()
	defer a.mu.Unlock()

	if fc == a.manager {
		if len(a.readsPending) > 0 || len(a.closedPending) > 0 {
			return WaitNone()
		}
		if a.managerHasLatch {
			return WaitEvent(a.managerLatch)
		}
		return WaitNone()
	}

	if _, ok := a.readsCompleted[fc]; ok {
		return WaitNone()
	}
	for _, pr := range a.readsPending {
		if pr.client == fc {
			return WaitEvent(pr.event)
		}
	}
	if ev, ok := a.readsInProgress[fc]; ok {
		return WaitEvent(ev)
	}
	return WaitNone()
}

func (a *Attachment) Close(ctx *IoContext, sched Scheduler, fc FileClientId, refcountAfter uint64) IoResult[CloseAction] {
	if fc == a.manager {
		return Success(CloseDestroy)
	}

	a.mu.Lock()
	wasOutstanding := a.removeClient(fc)
	a.closedPending = append(a.closedPending, fc)
	wake, shouldWake := a.wakeManagerLocked()
	a.mu.Unlock()

	if wasOutstanding {
		a.metrics.AdjustQueueDepth(context.Background(), a.label, -1)
	}

	inner := Success(CloseNormal)
	if shouldWake {
		return TriggerEvent(wake, inner)
	}
	return inner
}

// Destroy fires every event still outstanding in readsPending and
// readsInProgress exactly once: woken clients reissue their read, find
// the node gone, and receive a NodeNotFound/FileDestroyed error from the
// VFS layer that looked it up.
func (a *Attachment) Destroy(ctx *IoContext, sched Scheduler) Trigger {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		panic("kernel: Attachment.Destroy called twice")
	}
	a.destroyed = true

	events := make([]ExplicitEventId, 0, len(a.readsPending)+len(a.readsInProgress))
	for _, pr := range a.readsPending {
		events = append(events, pr.event)
	}
	for _, ev := range a.readsInProgress {
		events = append(events, ev)
	}
	outstanding := len(a.readsPending) + len(a.readsInProgress)
	a.readsPending = nil
	a.readsInProgress = make(map[FileClientId]ExplicitEventId)

	if outstanding > 0 {
		a.metrics.AdjustQueueDepth(context.Background(), a.label, -int64(outstanding))
	}

	return Trigger{Events: events}
}

// Sender converts a FileClientId to its wire representation.
func Sender(fc FileClientId) kernelops.Sender {
	return kernelops.Sender{Pid: uint64(fc.Process), F: uint64(fc.FD)}
}
