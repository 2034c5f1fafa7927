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

import "sync"

// Leafness is the structural kind of a node. Leaf nodes never
// have children. InternalBranch nodes are mutable only by the kernel,
// through the internal-branch wire protocol. Branch nodes (attachments
// created with branch leafness) delegate child enumeration to a
// user-space manager.
type Leafness uint8

const (
	Leaf Leafness = iota
	Branch
	InternalBranchKind
)

func (l Leafness) String() string {
	switch l {
	case Leaf:
		return "leaf"
	case Branch:
		return "branch"
	case InternalBranchKind:
		return "internal-branch"
	default:
		return "unknown"
	}
}

// CloseAction reports whether a close should leave a node alone or
// destroy it. Destroy is returned when the last structural
// reference is released and the node's FileOps approves destruction.
type CloseAction uint8

const (
	CloseNormal CloseAction = iota
	CloseDestroy
)

// FileInfo is the minimal, kind-independent description of a node
// exposed without needing to open it.
type FileInfo struct {
	Leafness Leafness
	Size     uint64
}

// Trigger is the set of events a destroy() call asks the scheduler to
// fire, waking every client still parked on a resource the destroyed
// node was serving.
type Trigger struct {
	Events []ExplicitEventId
}

// Fire triggers every event in t through sched.
func (t Trigger) Fire(sched Scheduler) {
	for _, e := range t.Events {
		sched.Trigger(e)
	}
}

// FileOps is the polymorphic operations object a Node wraps: a small
// built-in variant set plus an escape hatch for user attachments,
// dispatched dynamically so the VFS never needs to know about every
// driver.
type FileOps interface {
	Leafness() Leafness
	FileInfo() FileInfo

	Open(ctx *IoContext, sched Scheduler, fc FileClientId) IoResult[struct{}]
	Read(ctx *IoContext, sched Scheduler, fc FileClientId, buf []byte) IoResult[int]
	Write(ctx *IoContext, sched Scheduler, fc FileClientId, buf []byte) IoResult[int]

	// ReadWaitingFor reports, without performing a read, the WaitFor a
	// read(fc, ...) call would currently park on. Used to compose reads
	// into a larger FirstOf wait (e.g. a process waiting on several
	// descriptors at once) without mutating any queue.
	ReadWaitingFor(fc FileClientId) WaitFor

	// Close is called with the node's structural refcount as it stands
	// immediately after this close's decrement, so FileOps implementations
	// that destroy on last-reference (the built-in kinds) can decide
	// correctly, while FileOps with their own destruction policy
	// (Attachment) can ignore it.
	Close(ctx *IoContext, sched Scheduler, fc FileClientId, refcountAfter uint64) IoResult[CloseAction]

	// Destroy is invoked by the VFS exactly once, when a close returns
	// CloseDestroy, just before the node is removed from nodes. It returns
	// the set of events to wake.
	Destroy(ctx *IoContext, sched Scheduler) Trigger
}

// Node wraps a FileOps object with the parent/refcount bookkeeping shared
// by every node kind. Node.parent is a back reference to the
// internal-branch directory, if any, listing this node under a name;
// refcount and FileOps.Close's verdict alone decide whether a node is
// destroyed, but once destruction happens the parent link is what lets
// the VFS clean the stale listing entry up.
type Node struct {
	mu       sync.Mutex
	id       NodeId
	parent   *NodeId
	refcount uint64
	ops      FileOps
}

// NewNode constructs a node with one static reference, the same
// accounting the root and permanent device nodes get.
func NewNode(id NodeId, parent *NodeId, ops FileOps) *Node {
	return &Node{id: id, parent: parent, refcount: 1, ops: ops}
}

// newUnrefedNode constructs a node with zero structural references,
// for callers that are about to immediately Open it themselves (an
// anonymous node with no directory link, where the first open's
// reference is the only one the node will ever have until its own
// close). parent may be nil for a node with no listing entry to clean
// up on destruction (CreateAnonymousNode); Attach passes its directory
// parent so destruction can unlink the attachment's name from it.
func newUnrefedNode(id NodeId, parent *NodeId, ops FileOps) *Node {
	return &Node{id: id, parent: parent, ops: ops}
}

func (n *Node) ID() NodeId { return n.id }

func (n *Node) Parent() (NodeId, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.parent == nil {
		return 0, false
	}
	return *n.parent, true
}

func (n *Node) Leafness() Leafness { return n.ops.Leafness() }

func (n *Node) FileInfo() FileInfo { return n.ops.FileInfo() }

func (n *Node) Refcount() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.refcount
}

// AddRef adds one static/structural reference, used when linking a node
// into more than one place or marking it permanent.
func (n *Node) AddRef() {
	n.mu.Lock()
	n.refcount++
	n.mu.Unlock()
}

// Open increments refcount and delegates to the underlying FileOps. If
// the open fails, the increment is rolled back so a failed open never
// holds a phantom reference.
func (n *Node) Open(ctx *IoContext, sched Scheduler, fc FileClientId) IoResult[struct{}] {
	n.mu.Lock()
	n.refcount++
	n.mu.Unlock()

	r := n.ops.Open(ctx, sched, fc)
	if r.IsError() {
		n.mu.Lock()
		n.refcount--
		n.mu.Unlock()
	}
	return r
}

func (n *Node) Read(ctx *IoContext, sched Scheduler, fc FileClientId, buf []byte) IoResult[int] {
	return n.ops.Read(ctx, sched, fc, buf)
}

func (n *Node) Write(ctx *IoContext, sched Scheduler, fc FileClientId, buf []byte) IoResult[int] {
	return n.ops.Write(ctx, sched, fc, buf)
}

func (n *Node) ReadWaitingFor(fc FileClientId) WaitFor {
	return n.ops.ReadWaitingFor(fc)
}

// Close decrements refcount and delegates to the underlying FileOps,
// which decides the CloseAction given the post-decrement refcount:
// Destroy iff the last structural reference is released and FileOps
// approves.
func (n *Node) Close(ctx *IoContext, sched Scheduler, fc FileClientId) IoResult[CloseAction] {
	n.mu.Lock()
	if n.refcount == 0 {
		n.mu.Unlock()
		panic("kernel: Close called on a node with zero refcount")
	}
	n.refcount--
	rc := n.refcount
	n.mu.Unlock()

	return n.ops.Close(ctx, sched, fc, rc)
}

// Destroy delegates to the underlying FileOps. Only the VirtualFS calls
// this, and only once, after deciding a close's CloseAction was Destroy.
func (n *Node) Destroy(ctx *IoContext, sched Scheduler) Trigger {
	return n.ops.Destroy(ctx, sched)
}
