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
	"sync"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-os/kernel/internal/kerr"
	"github.com/kestrel-os/kernel/kernelops"
)

// testBranch is a minimal InternalBranch-shaped FileOps double, local to
// this test file so it can live in package kernel (importing kernelutil
// here would cycle back into this package).
type testBranch struct {
	entries []kernelops.NodeNameEntry
}

func (b *testBranch) Leafness() Leafness { return InternalBranchKind }
func (b *testBranch) FileInfo() FileInfo { return FileInfo{Leafness: InternalBranchKind} }

func (b *testBranch) Open(ctx *IoContext, sched Scheduler, fc FileClientId) IoResult[struct{}] {
	return Success(struct{}{})
}

func (b *testBranch) Read(ctx *IoContext, sched Scheduler, fc FileClientId, buf []byte) IoResult[int] {
	n, err := kernelops.EncodeListing(buf, b.entries)
	if err != nil {
		return Err[int](kerr.Protocol)
	}
	return Success(n)
}

func (b *testBranch) Write(ctx *IoContext, sched Scheduler, fc FileClientId, buf []byte) IoResult[int] {
	mod, err := kernelops.DecodeModification(buf)
	if err != nil {
		return Err[int](kerr.Protocol)
	}
	switch mod.Kind {
	case kernelops.ModAdd:
		for _, e := range b.entries {
			if e.Name == mod.Name {
				return Err[int](kerr.NodeExists)
			}
		}
		b.entries = append(b.entries, kernelops.NodeNameEntry{NodeID: mod.NodeID, Name: mod.Name})
	case kernelops.ModRemove:
		for i, e := range b.entries {
			if e.NodeID == mod.NodeID {
				b.entries = append(b.entries[:i], b.entries[i+1:]...)
				break
			}
		}
	}
	return Success(len(buf))
}

func (b *testBranch) ReadWaitingFor(fc FileClientId) WaitFor { return WaitNone() }

func (b *testBranch) Close(ctx *IoContext, sched Scheduler, fc FileClientId, refcountAfter uint64) IoResult[CloseAction] {
	if refcountAfter == 0 {
		return Success(CloseDestroy)
	}
	return Success(CloseNormal)
}

func (b *testBranch) Destroy(ctx *IoContext, sched Scheduler) Trigger { return Trigger{} }

// testProcFile is a minimal /prc/<pid>-shaped FileOps double, local to
// this test file for the same reason testBranch is: importing
// kernelutil's real ProcessFile here would cycle back into this
// package. Reads park until a kernel write (Terminate's result
// encoding) delivers a result, then every reader drains it.
type testProcFile struct {
	mu       sync.Mutex
	result   []byte
	event    ExplicitEventId
	hasEvent bool
}

func (p *testProcFile) Leafness() Leafness { return Leaf }
func (p *testProcFile) FileInfo() FileInfo { return FileInfo{Leafness: Leaf} }

func (p *testProcFile) Open(ctx *IoContext, sched Scheduler, fc FileClientId) IoResult[struct{}] {
	return Success(struct{}{})
}

func (p *testProcFile) Read(ctx *IoContext, sched Scheduler, fc FileClientId, buf []byte) IoResult[int] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.result == nil {
		if !p.hasEvent {
			p.event = sched.NewEvent()
			p.hasEvent = true
		}
		return RepeatAfter[int](WaitEvent(p.event))
	}
	return Success(copy(buf, p.result))
}

func (p *testProcFile) Write(ctx *IoContext, sched Scheduler, fc FileClientId, buf []byte) IoResult[int] {
	if !fc.IsKernel() {
		return Err[int](kerr.Protocol)
	}
	p.mu.Lock()
	p.result = append([]byte(nil), buf...)
	ev, had := p.event, p.hasEvent
	p.hasEvent = false
	p.mu.Unlock()
	if had {
		return TriggerEvent(ev, Success(len(buf)))
	}
	return Success(len(buf))
}

func (p *testProcFile) ReadWaitingFor(fc FileClientId) WaitFor { return WaitNone() }

func (p *testProcFile) Close(ctx *IoContext, sched Scheduler, fc FileClientId, refcountAfter uint64) IoResult[CloseAction] {
	if refcountAfter == 0 {
		return Success(CloseDestroy)
	}
	return Success(CloseNormal)
}

func (p *testProcFile) Destroy(ctx *IoContext, sched Scheduler) Trigger { return Trigger{} }

func newTestVFS() *VirtualFS {
	return NewVirtualFS(&testBranch{}, &fakeScheduler{}, nil, nil)
}

func TestVFSCreateAndResolveNode(t *testing.T) {
	fs := newTestVFS()

	r := fs.CreateNode(RootID, "foo", &countingOps{leafness: Leaf})
	id, ok := r.Value()
	require.True(t, ok)

	resolved := fs.Resolve("/foo")
	got, ok := resolved.Value()
	require.True(t, ok)
	assert.Equal(t, id, got)

	stat := fs.Stat("/foo")
	info, ok := stat.Value()
	require.True(t, ok)
	assert.Equal(t, Leaf, info.Leafness)
}

func TestVFSResolveMissingNode(t *testing.T) {
	fs := newTestVFS()
	r := fs.Resolve("/nope")
	e, ok := r.Error()
	require.True(t, ok)
	assert.Equal(t, kerr.NodeNotFound, e.Code)
}

func TestVFSDuplicateNameRejected(t *testing.T) {
	fs := newTestVFS()

	r1 := fs.CreateNode(RootID, "dup", &countingOps{leafness: Leaf})
	require.True(t, r1.IsSuccess())

	r2 := fs.CreateNode(RootID, "dup", &countingOps{leafness: Leaf})
	e, ok := r2.Error()
	require.True(t, ok)
	assert.Equal(t, kerr.NodeExists, e.Code)
}

func TestVFSLeafTraversalError(t *testing.T) {
	fs := newTestVFS()

	r := fs.CreateNode(RootID, "leaf", &countingOps{leafness: Leaf})
	require.True(t, r.IsSuccess())

	resolved := fs.Resolve("/leaf/child")
	e, ok := resolved.Error()
	require.True(t, ok)
	assert.Equal(t, kerr.NodeIsLeaf, e.Code)
}

func TestVFSOpenReadWriteCloseRoundTrip(t *testing.T) {
	fs := newTestVFS()

	r := fs.CreateNode(RootID, "dev", &countingOps{leafness: Leaf, closeVerdict: CloseDestroy})
	require.True(t, r.IsSuccess())

	const pid ProcessId = 42
	openR := fs.OpenPath(pid, "/dev")
	fd, ok := openR.Value()
	require.True(t, ok)

	writeR := fs.Write(pid, fd, []byte("hello"))
	n, ok := writeR.Value()
	require.True(t, ok)
	assert.Equal(t, 5, n)

	readR := fs.Read(pid, fd, make([]byte, 5))
	_, ok = readR.Value()
	require.True(t, ok)

	closeR := fs.Close(pid, fd)
	action, ok := closeR.Value()
	require.True(t, ok)
	assert.Equal(t, CloseDestroy, action)
}

func TestVFSOpenFailureLeavesNoDescriptor(t *testing.T) {
	fs := newTestVFS()

	r := fs.CreateNode(RootID, "bad", &countingOps{leafness: Leaf, openErr: true})
	require.True(t, r.IsSuccess())

	const pid ProcessId = 7
	openR := fs.OpenPath(pid, "/bad")
	_, ok := openR.Error()
	require.True(t, ok)

	fs.mu.Lock()
	pd := fs.descriptors[pid]
	fs.mu.Unlock()
	assert.Empty(t, pd.snapshot())
}

func TestVFSCreateAnonymousNodeRollbackOnOpenFailure(t *testing.T) {
	fs := newTestVFS()

	r := fs.CreateAnonymousNode(1, &countingOps{leafness: Leaf, openErr: true})
	_, ok := r.Error()
	require.True(t, ok)

	fs.mu.Lock()
	count := len(fs.nodes)
	fs.mu.Unlock()
	assert.Equal(t, 1, count) // only the root remains
}

func TestVFSCreateAnonymousNodeSucceeds(t *testing.T) {
	fs := newTestVFS()

	r := fs.CreateAnonymousNode(1, &countingOps{leafness: Leaf, closeVerdict: CloseDestroy})
	fd, ok := r.Value()
	require.True(t, ok)

	closeR := fs.Close(1, fd)
	action, ok := closeR.Value()
	require.True(t, ok)
	assert.Equal(t, CloseDestroy, action)
}

func TestVFSSpawnAndTerminate(t *testing.T) {
	fs := newTestVFS()

	r := fs.CreateNode(RootID, "prc", &testBranch{})
	procDir, ok := r.Value()
	require.True(t, ok)

	spawnR := fs.Spawn(procDir, &countingOps{leafness: Leaf})
	pid, ok := spawnR.Value()
	require.True(t, ok)
	assert.NotZero(t, pid)

	openR := fs.OpenPath(pid, "/dev/null-placeholder")
	_, ok = openR.Error()
	assert.True(t, ok) // no such path; the open fails at resolution

	fs.Terminate(pid, kernelops.ProcessResult{Outcome: kernelops.ProcessCompleted, Code: 0})

	fs.mu.Lock()
	_, stillThere := fs.descriptors[pid]
	fs.mu.Unlock()
	assert.False(t, stillThere)
}

func TestVFSAttachServesManagerRequests(t *testing.T) {
	fs := newTestVFS()

	const mgrPid ProcessId = 9
	attachR := fs.Attach(mgrPid, RootID, "svc", Leaf)
	mgrFd, ok := attachR.Value()
	require.True(t, ok)

	const clientPid ProcessId = 10
	openR := fs.OpenPath(clientPid, "/svc")
	clientFd, ok := openR.Value()
	require.True(t, ok)

	readR := fs.Read(clientPid, clientFd, make([]byte, 8))
	_, isWait := readR.Wait()
	require.True(t, isWait)

	reqBuf := make([]byte, 64)
	mgrReadR := fs.Read(mgrPid, mgrFd, reqBuf)
	n, ok := mgrReadR.Value()
	require.True(t, ok)
	req, err := kernelops.DecodeRequest(reqBuf[:n])
	require.NoError(t, err)
	assert.Equal(t, kernelops.OpRead, req.Data.Kind)

	respBuf := make([]byte, 64)
	respLen, err := kernelops.EncodeResponse(respBuf, kernelops.Response{
		Sender: req.Sender,
		Data:   []byte("ok"),
	})
	require.NoError(t, err)
	mgrWriteR := fs.Write(mgrPid, mgrFd, respBuf[:respLen])
	_, ok = mgrWriteR.Value()
	require.True(t, ok)
}

func TestVFSAttachDestroyUnlinksNameFromParentListing(t *testing.T) {
	fs := newTestVFS()

	r := fs.CreateNode(RootID, "srv", &testBranch{})
	srvDir, ok := r.Value()
	require.True(t, ok)

	const mgrPid ProcessId = 1
	attachR := fs.Attach(mgrPid, srvDir, "echo", Leaf)
	mgrFd, ok := attachR.Value()
	require.True(t, ok)

	closeR := fs.Close(mgrPid, mgrFd)
	action, ok := closeR.Value()
	require.True(t, ok)
	assert.Equal(t, CloseDestroy, action)

	root := fs.nodes[srvDir]
	tb := root.ops.(*testBranch)
	assert.Empty(t, tb.entries)

	// A second manager must be able to reattach under the same name now
	// that the stale listing entry is gone.
	reattachR := fs.Attach(2, srvDir, "echo", Leaf)
	assert.True(t, reattachR.IsSuccess())
}

func TestVFSTerminateUnlinksAttachmentOwnedByDyingProcess(t *testing.T) {
	fs := newTestVFS()

	r := fs.CreateNode(RootID, "srv", &testBranch{})
	srvDir, ok := r.Value()
	require.True(t, ok)

	const mgrPid ProcessId = 5
	attachR := fs.Attach(mgrPid, srvDir, "echo", Leaf)
	require.True(t, attachR.IsSuccess())

	// The manager dies without closing its own descriptor first; Terminate
	// must still close it out, destroy the attachment (per Attachment's
	// Close, a manager close is always CloseDestroy), and unlink it.
	fs.Terminate(mgrPid, kernelops.ProcessResult{Outcome: kernelops.ProcessCompleted, Code: 0})

	root := fs.nodes[srvDir]
	tb := root.ops.(*testBranch)
	assert.Empty(t, tb.entries)
}

// TestVFSExecSpawnsChildOwnerMonitorsViaPrcNode drives the scenario an
// owner process uses to supervise a child it just spawned: exec under
// an explicit owner, read the returned /prc/<pid> descriptor (parking,
// since the child hasn't exited), terminate the child, and observe the
// parked read wake with the encoded result.
func TestVFSExecSpawnsChildOwnerMonitorsViaPrcNode(t *testing.T) {
	fs := newTestVFS()

	r := fs.CreateNode(RootID, "bin", &testBranch{})
	binDir, ok := r.Value()
	require.True(t, ok)
	r = fs.CreateNode(RootID, "prc", &testBranch{})
	procDir, ok := r.Value()
	require.True(t, ok)

	r = fs.CreateNode(binDir, "echod", &countingOps{leafness: Leaf})
	require.True(t, r.IsSuccess())

	const ownerPid ProcessId = 3
	fs.descriptors[ownerPid] = newProcessDescriptors()

	execR := fs.Exec(ownerPid, procDir, &testProcFile{}, "/bin/echod")
	res, ok := execR.Value()
	require.True(t, ok)
	assert.NotZero(t, res.Pid)

	readR := fs.Read(ownerPid, res.FD, make([]byte, 64))
	_, isWait := readR.Wait()
	require.True(t, isWait)

	fs.Terminate(res.Pid, kernelops.ProcessResult{Outcome: kernelops.ProcessCompleted, Code: 7})

	buf := make([]byte, 64)
	readR2 := fs.Read(ownerPid, res.FD, buf)
	n, ok := readR2.Value()
	require.True(t, ok)
	pr, err := kernelops.DecodeProcessResult(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, kernelops.ProcessCompleted, pr.Outcome)
	assert.EqualValues(t, 7, pr.Code)
}

func TestVFSExecUnknownOwnerRejected(t *testing.T) {
	fs := newTestVFS()

	r := fs.CreateNode(RootID, "prc", &testBranch{})
	procDir, ok := r.Value()
	require.True(t, ok)

	execR := fs.Exec(999, procDir, &testProcFile{}, "/bin/echod")
	e, ok := execR.Error()
	require.True(t, ok)
	assert.Equal(t, kerr.NodeNotFound, e.Code)
}

func TestVFSInternalBranchListingPreservesInsertionOrder(t *testing.T) {
	fs := newTestVFS()

	names := []string{"c", "a", "b"}
	for _, name := range names {
		r := fs.CreateNode(RootID, name, &countingOps{leafness: Leaf})
		require.True(t, r.IsSuccess())
	}

	root := fs.nodes[RootID]
	tb := root.ops.(*testBranch)
	got := make([]string, len(tb.entries))
	for i, e := range tb.entries {
		got[i] = e.Name
	}
	if diff := pretty.Compare(names, got); diff != "" {
		t.Errorf("directory listing order mismatch (-want +got):\n%s", diff)
	}
}
