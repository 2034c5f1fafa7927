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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-os/kernel/internal/kerr"
	"github.com/kestrel-os/kernel/kernelops"
	"github.com/kestrel-os/kernel/metrics"
)

var (
	manager = FileClientId{Process: 1, FD: 0}
	clientA = FileClientId{Process: 2, FD: 0}
	clientB = FileClientId{Process: 3, FD: 0}
)

func TestAttachmentClientReadParksUntilManagerResponds(t *testing.T) {
	a := NewAttachment(manager, Leaf, "test", nil)
	sched := &fakeScheduler{}

	r := a.clientRead(sched, clientA, make([]byte, 8))
	w, ok := r.Wait()
	require.True(t, ok)
	_, isEvent := w.Event()
	assert.True(t, isEvent)
}

func TestAttachmentManagerWakesOnFirstPendingRead(t *testing.T) {
	a := NewAttachment(manager, Leaf, "test", nil)
	sched := &fakeScheduler{}

	// Manager reads first and must park since nothing is pending yet.
	mr := a.managerRead(sched, make([]byte, 64))
	_, ok := mr.Wait()
	require.True(t, ok)

	// Client read enqueues and must wake the manager's latch via a
	// TriggerEvent wrapper.
	cr := a.clientRead(sched, clientA, make([]byte, 8))
	assert.True(t, cr.IsTrigger())
}

func TestAttachmentRetryReissueReturnsSameEvent(t *testing.T) {
	a := NewAttachment(manager, Leaf, "test", nil)
	sched := &fakeScheduler{}

	first := a.clientRead(sched, clientA, make([]byte, 8))
	w1, ok := first.Wait()
	require.True(t, ok)
	ev1, _ := w1.Event()

	// Reissuing the identical read before the manager has responded must
	// return the same parked event, not mint a new one or enqueue twice.
	second := a.clientRead(sched, clientA, make([]byte, 8))
	w2, ok := second.Wait()
	require.True(t, ok)
	ev2, _ := w2.Event()
	assert.Equal(t, ev1, ev2)
	assert.Len(t, a.readsPending, 1)
}

func TestAttachmentFIFOOrdering(t *testing.T) {
	a := NewAttachment(manager, Leaf, "test", nil)
	sched := &fakeScheduler{}

	a.clientRead(sched, clientA, make([]byte, 4))
	a.clientRead(sched, clientB, make([]byte, 4))

	buf := make([]byte, 64)
	mr := a.managerRead(sched, buf)
	n, ok := mr.Value()
	require.True(t, ok)

	req, err := kernelops.DecodeRequest(buf[:n])
	require.NoError(t, err)
	assert.EqualValues(t, clientA.Process, req.Sender.Pid)
}

func TestAttachmentManagerWriteCompletesClientRead(t *testing.T) {
	a := NewAttachment(manager, Leaf, "test", nil)
	sched := &fakeScheduler{}

	pendingResult := a.clientRead(sched, clientA, make([]byte, 8))
	w, _ := pendingResult.Wait()
	clientEvent, _ := w.Event()

	reqBuf := make([]byte, 64)
	mr := a.managerRead(sched, reqBuf)
	n, ok := mr.Value()
	require.True(t, ok)
	req, err := kernelops.DecodeRequest(reqBuf[:n])
	require.NoError(t, err)

	respBuf := make([]byte, 64)
	respLen, err := kernelops.EncodeResponse(respBuf, kernelops.Response{
		Sender: req.Sender,
		Data:   []byte("hello"),
	})
	require.NoError(t, err)

	wr := a.managerWrite(sched, respBuf[:respLen])
	require.True(t, wr.IsTrigger())
	_, okVal := wr.Value()
	assert.True(t, okVal)
	assert.Contains(t, sched.fired, clientEvent)

	out := make([]byte, 8)
	done := a.clientRead(sched, clientA, out)
	n2, ok := done.Value()
	require.True(t, ok)
	assert.Equal(t, "hello", string(out[:n2]))
}

// TestAttachmentQueueDepthMetricsDoNotPanic drives a full
// enqueue/dequeue/early-close cycle through a real *metrics.Metrics
// instance rather than a nil one, so the AdjustQueueDepth call sites in
// clientRead, managerWrite, and Close actually execute their instrument
// path instead of only ever hitting the nil-receiver no-op.
func TestAttachmentQueueDepthMetricsDoNotPanic(t *testing.T) {
	m, err := metrics.New()
	require.NoError(t, err)

	a := NewAttachment(manager, Leaf, "svc", m)
	sched := &fakeScheduler{}

	assert.NotPanics(t, func() {
		a.clientRead(sched, clientA, make([]byte, 8))

		reqBuf := make([]byte, 64)
		n, ok := a.managerRead(sched, reqBuf).Value()
		require.True(t, ok)
		req, derr := kernelops.DecodeRequest(reqBuf[:n])
		require.NoError(t, derr)

		respBuf := make([]byte, 64)
		respLen, eerr := kernelops.EncodeResponse(respBuf, kernelops.Response{Sender: req.Sender, Data: []byte("x")})
		require.NoError(t, eerr)
		a.managerWrite(sched, respBuf[:respLen])
	})

	assert.NotPanics(t, func() {
		a.clientRead(sched, clientB, make([]byte, 8))
		a.Close(NewIoContext(), sched, clientB, 0)
	})
}

func TestAttachmentBranchClientWriteRejected(t *testing.T) {
	a := NewAttachment(manager, Branch, "test", nil)
	sched := &fakeScheduler{}

	r := a.Write(NewIoContext(), sched, clientA, []byte("nope"))
	e, ok := r.Error()
	require.True(t, ok)
	assert.Equal(t, kerr.Protocol, e.Code)
}

func TestAttachmentManagerWriteUnknownClientIsProtocolError(t *testing.T) {
	a := NewAttachment(manager, Leaf, "test", nil)
	sched := &fakeScheduler{}

	buf := make([]byte, 64)
	n, err := kernelops.EncodeResponse(buf, kernelops.Response{
		Sender: Sender(clientA),
		Data:   []byte("stray"),
	})
	require.NoError(t, err)

	r := a.managerWrite(sched, buf[:n])
	e, ok := r.Error()
	require.True(t, ok)
	assert.Equal(t, kerr.Protocol, e.Code)
}

func TestAttachmentCloseWakesManagerAndEnqueuesClose(t *testing.T) {
	a := NewAttachment(manager, Leaf, "test", nil)
	sched := &fakeScheduler{}

	mr := a.managerRead(sched, make([]byte, 64))
	_, ok := mr.Wait()
	require.True(t, ok)

	r := a.Close(NewIoContext(), sched, clientA, 0)
	assert.True(t, r.IsTrigger())
	action, ok := r.Value()
	require.True(t, ok)
	assert.Equal(t, CloseNormal, action)

	buf := make([]byte, 64)
	mr2 := a.managerRead(sched, buf)
	n, ok := mr2.Value()
	require.True(t, ok)
	req, err := kernelops.DecodeRequest(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, kernelops.OpClose, req.Data.Kind)
}

func TestAttachmentManagerCloseIsDestroy(t *testing.T) {
	a := NewAttachment(manager, Leaf, "test", nil)
	sched := &fakeScheduler{}

	r := a.Close(NewIoContext(), sched, manager, 0)
	action, ok := r.Value()
	require.True(t, ok)
	assert.Equal(t, CloseDestroy, action)
}

func TestAttachmentDestroyFiresEveryOutstandingEventOnce(t *testing.T) {
	a := NewAttachment(manager, Leaf, "test", nil)
	sched := &fakeScheduler{}

	r1 := a.clientRead(sched, clientA, make([]byte, 4))
	w1, _ := r1.Wait()
	ev1, _ := w1.Event()

	r2 := a.clientRead(sched, clientB, make([]byte, 4))
	w2, _ := r2.Wait()
	ev2, _ := w2.Event()

	trig := a.Destroy(NewIoContext(), sched)
	assert.ElementsMatch(t, []ExplicitEventId{ev1, ev2}, trig.Events)

	assert.Panics(t, func() {
		a.Destroy(NewIoContext(), sched)
	})
}
