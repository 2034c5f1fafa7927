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
	"strconv"
	"strings"
	"sync"

	"github.com/kestrel-os/kernel/internal/kerr"
	"github.com/kestrel-os/kernel/internal/klog"
	"github.com/kestrel-os/kernel/kernelops"
	"github.com/kestrel-os/kernel/metrics"
)

// tempReadBufSize bounds a single temporary read used for kernel-internal
// bookkeeping (directory listings, a branch's child enumeration). Larger
// listings than this do not fit in one read; callers that need that are
// outside the scope of the current tree depth this kernel supports.
const tempReadBufSize = 64 * 1024

// modificationBufSize is large enough for one InternalModification frame.
const modificationBufSize = 512

// processResultBufSize is large enough for one ProcessResult frame.
const processResultBufSize = 256

// VirtualFS is the node graph plus per-process descriptor tables: the
// single structure every syscall ultimately operates on. It holds one
// coarse lock across its entire surface, the same single-big-lock
// discipline jacobsa/fuse's Connection applies to in-flight requests,
// traded here for simplicity over concurrency: every VFS call fully
// resolves (to success, error, or a park request) before returning, so
// the lock is never held across a suspension.
type VirtualFS struct {
	mu  sync.Mutex
	log *klog.Logger

	sched   Scheduler
	metrics *metrics.Metrics

	nodes      map[NodeId]*Node
	nextNodeID NodeId

	descriptors map[ProcessId]*ProcessDescriptors
	procNodes   map[ProcessId]NodeId
	nextPID     ProcessId

	nextKernelFD FileDescriptor
}

// NewVirtualFS boots a VFS with a single root node wrapping rootOps
// (normally a kernel-owned internal-branch directory; supplied by the
// caller rather than constructed here, since this package has no
// opinion on which FileOps kinds exist — see the kernelutil package and
// the boot wiring that assembles /bin, /dev, /mnt, /prc, /srv on top of
// this constructor). m may be nil, in which case every attachment this VFS
// creates records no queue-depth metrics.
func NewVirtualFS(rootOps FileOps, sched Scheduler, log *klog.Logger, m *metrics.Metrics) *VirtualFS {
	fs := &VirtualFS{
		log:          log,
		sched:        sched,
		metrics:      m,
		nodes:        make(map[NodeId]*Node),
		nextNodeID:   RootID + 1,
		descriptors:  make(map[ProcessId]*ProcessDescriptors),
		procNodes:    make(map[ProcessId]NodeId),
		nextPID:      KernelProcess,
		nextKernelFD: 0,
	}
	fs.nodes[RootID] = NewNode(RootID, nil, rootOps)
	fs.descriptors[KernelProcess] = newProcessDescriptors()
	return fs
}

func (fs *VirtualFS) descriptorsForLocked(pid ProcessId) *ProcessDescriptors {
	pd, ok := fs.descriptors[pid]
	if !ok {
		pd = newProcessDescriptors()
		fs.descriptors[pid] = pd
	}
	return pd
}

func (fs *VirtualFS) newKernelClientLocked() FileClientId {
	pd := fs.descriptorsForLocked(KernelProcess)
	pd.mu.Lock()
	fd := pd.nextFD
	pd.nextFD++
	pd.mu.Unlock()
	return FileClientId{Process: KernelProcess, FD: fd}
}

// closeAssertNormal closes a node opened only for the duration of one
// kernel-internal operation. Under the coarse lock, the node's owning
// directory link (or descriptor, for an anonymous node) cannot have been
// dropped concurrently, so this open/close pair can never be the one
// that drops the last reference; if it ever is, that is a bookkeeping
// bug, not a runtime condition to recover from.
func (fs *VirtualFS) closeAssertNormal(ctx *IoContext, node *Node, fc FileClientId) {
	r := WithContext(ctx, node.Close(ctx, fs.sched, fc))
	if action, ok := r.Value(); ok && action == CloseDestroy {
		panic("kernel: temporary kernel-internal open requested node destruction")
	}
}

// tempRead opens node as a throwaway kernel client, reads once, and
// closes again, returning the bytes read. Used for directory listings
// and branch child enumeration, where the VFS itself is the reader.
func (fs *VirtualFS) tempRead(ctx *IoContext, node *Node) ([]byte, IoResult[int]) {
	kfc := fs.newKernelClientLocked()
	openR := WithContext(ctx, node.Open(ctx, fs.sched, kfc))
	if !openR.IsSuccess() {
		return nil, Retag[struct{}, int](openR)
	}

	buf := make([]byte, tempReadBufSize)
	readR := WithContext(ctx, node.Read(ctx, fs.sched, kfc, buf))
	fs.closeAssertNormal(ctx, node, kfc)

	if !readR.IsSuccess() {
		return nil, readR
	}
	n, _ := readR.Value()
	return buf[:n], readR
}

// tempWrite opens node as a throwaway kernel client, writes once, and
// closes again. Used to mutate an internal-branch listing and to record
// a terminated process's outcome.
func (fs *VirtualFS) tempWrite(ctx *IoContext, node *Node, data []byte) IoResult[int] {
	kfc := fs.newKernelClientLocked()
	openR := WithContext(ctx, node.Open(ctx, fs.sched, kfc))
	if !openR.IsSuccess() {
		return Retag[struct{}, int](openR)
	}

	writeR := WithContext(ctx, node.Write(ctx, fs.sched, kfc, data))
	fs.closeAssertNormal(ctx, node, kfc)
	return writeR
}

// unlinkFromParentLocked removes node's listing entry from its parent
// internal-branch directory, if it has one. Best-effort: the parent may
// already be gone, or may itself be mid-destruction, and neither is a
// reason to fail the close that triggered this.
func (fs *VirtualFS) unlinkFromParentLocked(ctx *IoContext, node *Node, nodeID NodeId) {
	parentID, ok := node.Parent()
	if !ok {
		return
	}
	pnode, ok := fs.nodes[parentID]
	if !ok {
		return
	}

	buf := make([]byte, modificationBufSize)
	n, err := kernelops.EncodeModification(buf, kernelops.InternalModification{
		Kind:   kernelops.ModRemove,
		NodeID: uint64(nodeID),
	})
	if err != nil {
		return
	}
	fs.tempWrite(ctx, pnode, buf[:n])
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Resolve walks path from the root, one component at a time. Crossing a
// branch attachment whose manager has not yet answered parks the whole
// walk on that read's WaitFor; the caller reissues Resolve itself, which
// restarts from the root rather than trying to resume mid-walk. That
// makes resolution trivially retry-safe: it is a pure function of the
// current tree plus whatever a branch's manager currently reports, with
// no state of its own to get out of sync across a retry.
func (fs *VirtualFS) Resolve(path string) IoResult[NodeId] {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ctx := NewIoContext()
	defer ctx.ConsumeEvents(fs.sched)
	return fs.resolveLocked(ctx, path)
}

func (fs *VirtualFS) resolveLocked(ctx *IoContext, path string) IoResult[NodeId] {
	cur := RootID
	for _, name := range splitPath(path) {
		r := fs.getChildLocked(ctx, cur, name)
		next, ok := r.Value()
		if !ok {
			return r
		}
		cur = next
	}
	return Success(cur)
}

func (fs *VirtualFS) getChildLocked(ctx *IoContext, parent NodeId, name string) IoResult[NodeId] {
	node, ok := fs.nodes[parent]
	if !ok {
		return Err[NodeId](kerr.NodeNotFound)
	}

	switch node.Leafness() {
	case Leaf:
		return Err[NodeId](kerr.NodeIsLeaf)

	case InternalBranchKind:
		data, r := fs.tempRead(ctx, node)
		if !r.IsSuccess() {
			return Retag[int, NodeId](r)
		}
		entries, derr := kernelops.DecodeListing(data)
		if derr != nil {
			return Err[NodeId](kerr.Protocol)
		}
		for _, e := range entries {
			if e.Name == name {
				return Success(NodeId(e.NodeID))
			}
		}
		return Err[NodeId](kerr.NodeNotFound)

	case Branch:
		data, r := fs.tempRead(ctx, node)
		if !r.IsSuccess() {
			return Retag[int, NodeId](r)
		}
		listing, derr := kernelops.DecodeBranchListing(data)
		if derr != nil {
			return Err[NodeId](kerr.Protocol)
		}
		for _, item := range listing.Items {
			if item.Name != name {
				continue
			}
			att, ok := node.ops.(*Attachment)
			if !ok {
				return Err[NodeId](kerr.Protocol)
			}
			mgr := att.Manager()
			mgrDescs, ok := fs.descriptors[mgr.Process]
			if !ok {
				return Err[NodeId](kerr.NodeNotFound)
			}
			childID, ok := mgrDescs.lookup(FileDescriptor(item.Fd))
			if !ok {
				return Err[NodeId](kerr.NodeNotFound)
			}
			return Success(childID)
		}
		return Err[NodeId](kerr.NodeNotFound)

	default:
		return Err[NodeId](kerr.NodeIsLeaf)
	}
}

// Stat resolves path and returns the node's FileInfo, without opening it.
func (fs *VirtualFS) Stat(path string) IoResult[FileInfo] {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ctx := NewIoContext()
	defer ctx.ConsumeEvents(fs.sched)

	r := fs.resolveLocked(ctx, path)
	id, ok := r.Value()
	if !ok {
		return Retag[NodeId, FileInfo](r)
	}
	node, ok := fs.nodes[id]
	if !ok {
		return Err[FileInfo](kerr.FileDestroyed)
	}
	return Success(node.FileInfo())
}

// OpenPath resolves path and opens the result on behalf of pid, returning
// a fresh descriptor in that process's table.
func (fs *VirtualFS) OpenPath(pid ProcessId, path string) IoResult[FileDescriptor] {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ctx := NewIoContext()
	defer ctx.ConsumeEvents(fs.sched)

	r := fs.resolveLocked(ctx, path)
	id, ok := r.Value()
	if !ok {
		return Retag[NodeId, FileDescriptor](r)
	}
	node, ok := fs.nodes[id]
	if !ok {
		return Err[FileDescriptor](kerr.FileDestroyed)
	}

	pd := fs.descriptorsForLocked(pid)
	fd := pd.allocate(id)
	fc := FileClientId{Process: pid, FD: fd}

	openR := WithContext(ctx, node.Open(ctx, fs.sched, fc))
	if !openR.IsSuccess() {
		pd.release(fd)
		return Retag[struct{}, FileDescriptor](openR)
	}
	return Success(fd)
}

// CreateAnonymousNode creates a node with no directory link, owned from
// the start by exactly the one descriptor this call installs in pid's
// table: closing that descriptor, and nothing else, can ever collect it.
func (fs *VirtualFS) CreateAnonymousNode(pid ProcessId, ops FileOps) IoResult[FileDescriptor] {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ctx := NewIoContext()
	defer ctx.ConsumeEvents(fs.sched)

	id := fs.nextNodeID
	fs.nextNodeID++
	node := newUnrefedNode(id, nil, ops)
	fs.nodes[id] = node

	pd := fs.descriptorsForLocked(pid)
	fd := pd.allocate(id)
	fc := FileClientId{Process: pid, FD: fd}

	openR := WithContext(ctx, node.Open(ctx, fs.sched, fc))
	if !openR.IsSuccess() {
		pd.release(fd)
		delete(fs.nodes, id)
		return Retag[struct{}, FileDescriptor](openR)
	}
	return Success(fd)
}

func (fs *VirtualFS) lookupOpenLocked(pid ProcessId, fd FileDescriptor) (*Node, FileClientId, kerr.Code, bool) {
	pd, ok := fs.descriptors[pid]
	if !ok {
		return nil, FileClientId{}, kerr.NodeNotFound, false
	}
	nodeID, ok := pd.lookup(fd)
	if !ok {
		return nil, FileClientId{}, kerr.NodeNotFound, false
	}
	node, ok := fs.nodes[nodeID]
	if !ok {
		return nil, FileClientId{}, kerr.FileDestroyed, false
	}
	return node, FileClientId{Process: pid, FD: fd}, 0, true
}

// Read reads from an already-open descriptor.
func (fs *VirtualFS) Read(pid ProcessId, fd FileDescriptor, buf []byte) IoResult[int] {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ctx := NewIoContext()
	defer ctx.ConsumeEvents(fs.sched)

	node, fc, code, ok := fs.lookupOpenLocked(pid, fd)
	if !ok {
		return Err[int](code)
	}
	return WithContext(ctx, node.Read(ctx, fs.sched, fc, buf))
}

// Write writes to an already-open descriptor.
func (fs *VirtualFS) Write(pid ProcessId, fd FileDescriptor, buf []byte) IoResult[int] {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ctx := NewIoContext()
	defer ctx.ConsumeEvents(fs.sched)

	node, fc, code, ok := fs.lookupOpenLocked(pid, fd)
	if !ok {
		return Err[int](code)
	}
	return WithContext(ctx, node.Write(ctx, fs.sched, fc, buf))
}

// ReadWaitingFor reports, without performing a read, what a Read(pid, fd,
// ...) call would currently park on. Used to compose several descriptors
// into one WaitFirstOf without touching any queue.
func (fs *VirtualFS) ReadWaitingFor(pid ProcessId, fd FileDescriptor) WaitFor {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	node, fc, _, ok := fs.lookupOpenLocked(pid, fd)
	if !ok {
		return WaitNone()
	}
	return node.ReadWaitingFor(fc)
}

// Close closes fd on pid's behalf, destroying the underlying node if this
// was its last structural reference and its FileOps approves.
func (fs *VirtualFS) Close(pid ProcessId, fd FileDescriptor) IoResult[CloseAction] {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ctx := NewIoContext()
	defer ctx.ConsumeEvents(fs.sched)

	pd, ok := fs.descriptors[pid]
	if !ok {
		return Err[CloseAction](kerr.NodeNotFound)
	}
	nodeID, ok := pd.lookup(fd)
	if !ok {
		return Err[CloseAction](kerr.NodeNotFound)
	}
	node, ok := fs.nodes[nodeID]
	if !ok {
		pd.release(fd)
		return Success(CloseNormal)
	}
	pd.release(fd)

	fc := FileClientId{Process: pid, FD: fd}
	r := WithContext(ctx, node.Close(ctx, fs.sched, fc))
	if action, ok := r.Value(); ok && action == CloseDestroy {
		trig := node.Destroy(ctx, fs.sched)
		delete(fs.nodes, nodeID)
		fs.unlinkFromParentLocked(ctx, node, nodeID)
		trig.Fire(fs.sched)
	}
	return r
}

// Attach creates a new attachment node named name under parent (an
// internal-branch directory) and makes pid its manager in one step,
// returning the descriptor pid should Read/Write to serve requests on.
// This is the entry point for a user process becoming the driver behind
// a VFS node: everything after this call happens through ordinary
// Read/Write/Close on the returned descriptor, on both sides.
func (fs *VirtualFS) Attach(pid ProcessId, parent NodeId, name string, leafness Leafness) IoResult[FileDescriptor] {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ctx := NewIoContext()
	defer ctx.ConsumeEvents(fs.sched)

	pnode, ok := fs.nodes[parent]
	if !ok {
		return Err[FileDescriptor](kerr.NodeNotFound)
	}
	if pnode.Leafness() != InternalBranchKind {
		return Err[FileDescriptor](kerr.NodeIsLeaf)
	}

	id := fs.nextNodeID
	fs.nextNodeID++
	pd := fs.descriptorsForLocked(pid)
	fd := pd.allocate(id)
	manager := FileClientId{Process: pid, FD: fd}

	node := newUnrefedNode(id, &parent, NewAttachment(manager, leafness, name, fs.metrics))
	fs.nodes[id] = node

	openR := WithContext(ctx, node.Open(ctx, fs.sched, manager))
	if !openR.IsSuccess() {
		pd.release(fd)
		delete(fs.nodes, id)
		return Retag[struct{}, FileDescriptor](openR)
	}

	buf := make([]byte, modificationBufSize)
	n, err := kernelops.EncodeModification(buf, kernelops.InternalModification{
		Kind:   kernelops.ModAdd,
		NodeID: uint64(id),
		Name:   name,
	})
	if err != nil {
		pd.release(fd)
		delete(fs.nodes, id)
		return Err[FileDescriptor](kerr.Protocol)
	}

	writeR := fs.tempWrite(ctx, pnode, buf[:n])
	if !writeR.IsSuccess() {
		pd.release(fd)
		delete(fs.nodes, id)
		return Retag[int, FileDescriptor](writeR)
	}

	return Success(fd)
}

func (fs *VirtualFS) createNodeLocked(ctx *IoContext, parent NodeId, name string, ops FileOps) (NodeId, IoResult[struct{}]) {
	pnode, ok := fs.nodes[parent]
	if !ok {
		return 0, Err[struct{}](kerr.NodeNotFound)
	}
	if pnode.Leafness() != InternalBranchKind {
		return 0, Err[struct{}](kerr.NodeIsLeaf)
	}

	id := fs.nextNodeID
	fs.nextNodeID++
	node := NewNode(id, &parent, ops)

	buf := make([]byte, modificationBufSize)
	n, err := kernelops.EncodeModification(buf, kernelops.InternalModification{
		Kind:   kernelops.ModAdd,
		NodeID: uint64(id),
		Name:   name,
	})
	if err != nil {
		return 0, Err[struct{}](kerr.Protocol)
	}

	fs.nodes[id] = node
	writeR := fs.tempWrite(ctx, pnode, buf[:n])
	if !writeR.IsSuccess() {
		delete(fs.nodes, id)
		return 0, Retag[int, struct{}](writeR)
	}
	return id, Success(struct{}{})
}

// CreateNode links a freshly minted node named name under parent, which
// must be an internal-branch directory. The new node starts with one
// structural reference, representing this directory link.
func (fs *VirtualFS) CreateNode(parent NodeId, name string, ops FileOps) IoResult[NodeId] {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ctx := NewIoContext()
	defer ctx.ConsumeEvents(fs.sched)

	id, r := fs.createNodeLocked(ctx, parent, name, ops)
	if !r.IsSuccess() {
		return Retag[struct{}, NodeId](r)
	}
	return Success(id)
}

// Spawn registers a new process: a fresh descriptor table and a
// /prc/<pid>-style result node (processFileOps, typically a
// kernelutil.ProcessFile) linked under procDir.
func (fs *VirtualFS) Spawn(procDir NodeId, processFileOps FileOps) IoResult[ProcessId] {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ctx := NewIoContext()
	defer ctx.ConsumeEvents(fs.sched)

	pid := fs.nextPID + 1
	name := strconv.FormatUint(uint64(pid), 10)
	id, r := fs.createNodeLocked(ctx, procDir, name, processFileOps)
	if !r.IsSuccess() {
		return Retag[struct{}, ProcessId](r)
	}

	fs.nextPID = pid
	fs.descriptors[pid] = newProcessDescriptors()
	fs.procNodes[pid] = id
	return Success(pid)
}

// ExecResult is what a successful Exec/KernelExec hands back: the
// spawned process's id, and the owner's (or the kernel's) descriptor
// onto its /prc/<pid> node, already open and ready to Read for the
// eventual ProcessResult.
type ExecResult struct {
	Pid ProcessId
	FD  FileDescriptor
}

// execOptionalOwner is the shared spawn path behind Exec and KernelExec:
// resolve path to an executable leaf, open it on owner's behalf to
// ref-protect it across the spawn (the binary stays referenced for as
// long as owner keeps that descriptor, the same way a running image
// keeps its backing file busy), create procDir/<new_pid> wrapping
// processFileOps, open that node for owner too, and return owner's
// descriptor onto it. Loading the binary's bytes into an address space
// is outside the VFS's scope, same as the rest of process setup; this
// only records that the process now exists, which file it started
// from, and that the file cannot be torn down out from under it.
func (fs *VirtualFS) execOptionalOwner(ctx *IoContext, owner ProcessId, procDir NodeId, processFileOps FileOps, path string) IoResult[ExecResult] {
	r := fs.resolveLocked(ctx, path)
	binID, ok := r.Value()
	if !ok {
		return Retag[NodeId, ExecResult](r)
	}
	binNode, ok := fs.nodes[binID]
	if !ok {
		return Err[ExecResult](kerr.FileDestroyed)
	}
	if binNode.Leafness() != Leaf {
		return Err[ExecResult](kerr.NodeIsLeaf)
	}

	pd := fs.descriptorsForLocked(owner)
	binFD := pd.allocate(binID)
	binFC := FileClientId{Process: owner, FD: binFD}
	binOpenR := WithContext(ctx, binNode.Open(ctx, fs.sched, binFC))
	if !binOpenR.IsSuccess() {
		pd.release(binFD)
		return Retag[struct{}, ExecResult](binOpenR)
	}

	pid := fs.nextPID + 1
	name := strconv.FormatUint(uint64(pid), 10)
	id, cr := fs.createNodeLocked(ctx, procDir, name, processFileOps)
	if !cr.IsSuccess() {
		fs.closeAssertNormal(ctx, binNode, binFC)
		pd.release(binFD)
		return Retag[struct{}, ExecResult](cr)
	}
	fs.nextPID = pid
	fs.descriptors[pid] = newProcessDescriptors()
	fs.procNodes[pid] = id

	procNode := fs.nodes[id]
	procFD := pd.allocate(id)
	procFC := FileClientId{Process: owner, FD: procFD}
	procOpenR := WithContext(ctx, procNode.Open(ctx, fs.sched, procFC))
	if !procOpenR.IsSuccess() {
		pd.release(procFD)
		return Retag[struct{}, ExecResult](procOpenR)
	}

	return Success(ExecResult{Pid: pid, FD: procFD})
}

// KernelExec resolves path to an executable leaf and spawns a process
// for it on the kernel's own behalf, in one call: the kernel client
// (ProcessId 0) is the one holding the executable ref-protect and the
// /prc/<pid> monitor descriptor this returns.
func (fs *VirtualFS) KernelExec(procDir NodeId, processFileOps FileOps, path string) IoResult[ExecResult] {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ctx := NewIoContext()
	defer ctx.ConsumeEvents(fs.sched)

	return fs.execOptionalOwner(ctx, KernelProcess, procDir, processFileOps, path)
}

// Exec spawns path as a new process owned by owner: owner gets back a
// descriptor onto the new process's /prc/<pid> node, ready to Read for
// the child's eventual ProcessResult. owner must already be a known
// process (it is the one whose descriptor table gains both the
// executable's ref-protect descriptor and the monitor descriptor this
// returns).
func (fs *VirtualFS) Exec(owner ProcessId, procDir NodeId, processFileOps FileOps, path string) IoResult[ExecResult] {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ctx := NewIoContext()
	defer ctx.ConsumeEvents(fs.sched)

	if _, ok := fs.descriptors[owner]; !ok {
		return Err[ExecResult](kerr.NodeNotFound)
	}
	return fs.execOptionalOwner(ctx, owner, procDir, processFileOps, path)
}

// Terminate tears down a process: it records result into the process's
// /prc file (best-effort; a dying process must never be blocked from
// exiting by an encoding failure), closes every descriptor it still
// held, and forgets the process. It never fails.
func (fs *VirtualFS) Terminate(pid ProcessId, result kernelops.ProcessResult) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ctx := NewIoContext()
	defer ctx.ConsumeEvents(fs.sched)

	if procID, ok := fs.procNodes[pid]; ok {
		if node, ok := fs.nodes[procID]; ok {
			buf := make([]byte, processResultBufSize)
			n, err := kernelops.EncodeProcessResult(buf, result)
			if err != nil {
				fs.log.Errorf("encode process result failed", "pid", pid, "error", err)
			} else {
				kfc := fs.newKernelClientLocked()
				openR := WithContext(ctx, node.Open(ctx, fs.sched, kfc))
				if openR.IsSuccess() {
					WithContext(ctx, node.Write(ctx, fs.sched, kfc, buf[:n]))
					fs.closeAssertNormal(ctx, node, kfc)
				}
			}
		}
	}

	if pd, ok := fs.descriptors[pid]; ok {
		for fd, nodeID := range pd.snapshot() {
			node, ok := fs.nodes[nodeID]
			if !ok {
				continue
			}
			fc := FileClientId{Process: pid, FD: fd}
			r := WithContext(ctx, node.Close(ctx, fs.sched, fc))
			if action, ok := r.Value(); ok && action == CloseDestroy {
				trig := node.Destroy(ctx, fs.sched)
				delete(fs.nodes, nodeID)
				fs.unlinkFromParentLocked(ctx, node, nodeID)
				trig.Fire(fs.sched)
			}
		}
		delete(fs.descriptors, pid)
	}
	delete(fs.procNodes, pid)
}
