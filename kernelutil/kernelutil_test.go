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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-os/kernel"
	"github.com/kestrel-os/kernel/internal/kerr"
	"github.com/kestrel-os/kernel/kernelops"
)

type fakeScheduler struct {
	next  kernel.ExplicitEventId
	fired []kernel.ExplicitEventId
}

func (f *fakeScheduler) NewEvent() kernel.ExplicitEventId {
	f.next++
	return f.next
}

func (f *fakeScheduler) Trigger(e kernel.ExplicitEventId) { f.fired = append(f.fired, e) }
func (f *fakeScheduler) Now() time.Time                   { return time.Time{} }

var kfc = kernel.FileClientId{Process: 1, FD: 0}

func TestNullDeviceReadsEmptyWritesDiscard(t *testing.T) {
	sched := &fakeScheduler{}
	ctx := kernel.NewIoContext()
	d := NullDevice{}

	r := d.Read(ctx, sched, kfc, make([]byte, 16))
	n, ok := r.Value()
	require.True(t, ok)
	assert.Equal(t, 0, n)

	w := d.Write(ctx, sched, kfc, []byte("anything"))
	wn, ok := w.Value()
	require.True(t, ok)
	assert.Equal(t, 8, wn)
}

func TestZeroDeviceFillsZeroesAndRejectsWrites(t *testing.T) {
	sched := &fakeScheduler{}
	ctx := kernel.NewIoContext()
	d := ZeroDevice{}

	buf := []byte{1, 2, 3}
	r := d.Read(ctx, sched, kfc, buf)
	n, ok := r.Value()
	require.True(t, ok)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{0, 0, 0}, buf)

	w := d.Write(ctx, sched, kfc, []byte("x"))
	e, ok := w.Error()
	require.True(t, ok)
	assert.Equal(t, kerr.Protocol, e.Code)
}

func TestOpaqueDeviceDelegatesToCallbacks(t *testing.T) {
	sched := &fakeScheduler{}
	ctx := kernel.NewIoContext()
	d := OpaqueDevice{
		ReadFn: func(buf []byte) kernel.IoResult[int] {
			copy(buf, "hi")
			return kernel.Success(2)
		},
		WriteFn: func(buf []byte) kernel.IoResult[int] {
			return kernel.Success(len(buf))
		},
	}

	buf := make([]byte, 8)
	r := d.Read(ctx, sched, kfc, buf)
	n, ok := r.Value()
	require.True(t, ok)
	assert.Equal(t, "hi", string(buf[:n]))

	w := d.Write(ctx, sched, kfc, []byte("abc"))
	wn, ok := w.Value()
	require.True(t, ok)
	assert.Equal(t, 3, wn)
}

func TestOpaqueDeviceDefaultsToNoop(t *testing.T) {
	sched := &fakeScheduler{}
	ctx := kernel.NewIoContext()
	d := OpaqueDevice{}

	r := d.Read(ctx, sched, kfc, make([]byte, 4))
	n, ok := r.Value()
	require.True(t, ok)
	assert.Equal(t, 0, n)

	w := d.Write(ctx, sched, kfc, []byte("abcd"))
	wn, ok := w.Value()
	require.True(t, ok)
	assert.Equal(t, 4, wn)
}

func TestInternalBranchAddAndLookup(t *testing.T) {
	b := NewInternalBranch()
	sched := &fakeScheduler{}
	ctx := kernel.NewIoContext()

	buf := make([]byte, 128)
	n, err := kernelops.EncodeModification(buf, kernelops.InternalModification{
		Kind: kernelops.ModAdd, NodeID: 7, Name: "child",
	})
	require.NoError(t, err)

	w := b.Write(ctx, sched, kfc, buf[:n])
	_, ok := w.Value()
	require.True(t, ok)

	id, found := b.Lookup("child")
	require.True(t, found)
	assert.EqualValues(t, 7, id)
}

func TestInternalBranchRejectsDuplicateName(t *testing.T) {
	b := NewInternalBranch()
	sched := &fakeScheduler{}
	ctx := kernel.NewIoContext()

	buf := make([]byte, 128)
	n, _ := kernelops.EncodeModification(buf, kernelops.InternalModification{
		Kind: kernelops.ModAdd, NodeID: 1, Name: "dup",
	})
	require.True(t, b.Write(ctx, sched, kfc, buf[:n]).IsSuccess())

	n2, _ := kernelops.EncodeModification(buf, kernelops.InternalModification{
		Kind: kernelops.ModAdd, NodeID: 2, Name: "dup",
	})
	r := b.Write(ctx, sched, kfc, buf[:n2])
	e, ok := r.Error()
	require.True(t, ok)
	assert.Equal(t, kerr.NodeExists, e.Code)
}

func TestInternalBranchRemove(t *testing.T) {
	b := NewInternalBranch()
	sched := &fakeScheduler{}
	ctx := kernel.NewIoContext()

	buf := make([]byte, 128)
	n, _ := kernelops.EncodeModification(buf, kernelops.InternalModification{
		Kind: kernelops.ModAdd, NodeID: 3, Name: "gone",
	})
	require.True(t, b.Write(ctx, sched, kfc, buf[:n]).IsSuccess())

	rn, _ := kernelops.EncodeModification(buf, kernelops.InternalModification{
		Kind: kernelops.ModRemove, NodeID: 3,
	})
	require.True(t, b.Write(ctx, sched, kfc, buf[:rn]).IsSuccess())

	_, found := b.Lookup("gone")
	assert.False(t, found)
}

func TestInternalBranchEntriesPreserveInsertionOrder(t *testing.T) {
	b := NewInternalBranch()
	sched := &fakeScheduler{}
	ctx := kernel.NewIoContext()
	buf := make([]byte, 128)

	for i, name := range []string{"z", "m", "a"} {
		n, err := kernelops.EncodeModification(buf, kernelops.InternalModification{
			Kind: kernelops.ModAdd, NodeID: uint64(i + 1), Name: name,
		})
		require.NoError(t, err)
		require.True(t, b.Write(ctx, sched, kfc, buf[:n]).IsSuccess())
	}

	entries := b.Entries()
	got := make([]string, len(entries))
	for i, e := range entries {
		got[i] = e.Name
	}
	assert.Equal(t, []string{"z", "m", "a"}, got)
}

func TestProcessFileReadParksUntilResultSet(t *testing.T) {
	p := NewProcessFile()
	sched := &fakeScheduler{}
	ctx := kernel.NewIoContext()

	r := p.Read(ctx, sched, kfc, make([]byte, 32))
	w, ok := r.Wait()
	require.True(t, ok)
	_, isEvent := w.Event()
	assert.True(t, isEvent)

	p.SetResult(sched, kernelops.ProcessResult{Outcome: kernelops.ProcessCompleted, Code: 42})

	buf := make([]byte, 32)
	r2 := p.Read(ctx, sched, kfc, buf)
	n, ok := r2.Value()
	require.True(t, ok)

	got, err := kernelops.DecodeProcessResult(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, kernelops.ProcessCompleted, got.Outcome)
	assert.EqualValues(t, 42, got.Code)
}

func TestProcessFileMultipleReadersEachGetOwnCursor(t *testing.T) {
	p := NewProcessFile()
	sched := &fakeScheduler{}
	ctx := kernel.NewIoContext()
	p.SetResult(sched, kernelops.ProcessResult{Outcome: kernelops.ProcessCompleted, Code: 1})

	readerA := kernel.FileClientId{Process: 1, FD: 0}
	readerB := kernel.FileClientId{Process: 2, FD: 0}

	bufA := make([]byte, 4)
	bufB := make([]byte, 100)

	nA, okA := p.Read(ctx, sched, readerA, bufA).Value()
	require.True(t, okA)
	assert.Equal(t, 4, nA)

	nB, okB := p.Read(ctx, sched, readerB, bufB).Value()
	require.True(t, okB)
	assert.Greater(t, nB, 0)

	// Reader A resumes from its own offset, not affected by B's read.
	nA2, okA2 := p.Read(ctx, sched, readerA, bufA).Value()
	require.True(t, okA2)
	assert.Greater(t, nA2, 0)
}

func TestProcessFileWriteRejectsNonKernelWriter(t *testing.T) {
	p := NewProcessFile()
	sched := &fakeScheduler{}
	ctx := kernel.NewIoContext()

	buf := make([]byte, 32)
	n, err := kernelops.EncodeProcessResult(buf, kernelops.ProcessResult{Outcome: kernelops.ProcessCompleted})
	require.NoError(t, err)

	userClient := kernel.FileClientId{Process: 99, FD: 0}
	r := p.Write(ctx, sched, userClient, buf[:n])
	e, ok := r.Error()
	require.True(t, ok)
	assert.Equal(t, kerr.Protocol, e.Code)
}

func TestProcessFileWriteAcceptsKernelWriter(t *testing.T) {
	p := NewProcessFile()
	sched := &fakeScheduler{}
	ctx := kernel.NewIoContext()

	buf := make([]byte, 32)
	n, err := kernelops.EncodeProcessResult(buf, kernelops.ProcessResult{Outcome: kernelops.ProcessCompleted, Code: 9})
	require.NoError(t, err)

	kernelClient := kernel.FileClientId{Process: kernel.KernelProcess, FD: 0}
	r := p.Write(ctx, sched, kernelClient, buf[:n])
	_, ok := r.Value()
	require.True(t, ok)
}
