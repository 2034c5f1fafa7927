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

// InternalBranch is a kernel-owned directory: its listing is
// maintained entirely in kernel state and mutated only through the
// internal-branch wire protocol (one Add or Remove per write), never by
// a user-space manager. /bin, /cfg, /dev, /mnt, /prc, /srv and the root
// itself are all InternalBranch nodes.
type InternalBranch struct {
	mu      sync.Mutex
	entries []kernelops.NodeNameEntry // insertion order
}

func NewInternalBranch() *InternalBranch {
	return &InternalBranch{}
}

func (b *InternalBranch) Leafness() kernel.Leafness { return kernel.InternalBranchKind }

func (b *InternalBranch) FileInfo() kernel.FileInfo {
	return kernel.FileInfo{Leafness: kernel.InternalBranchKind}
}

func (b *InternalBranch) Open(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId) kernel.IoResult[struct{}] {
	return kernel.Success(struct{}{})
}

// Read serializes the current (NodeId, name) listing, in insertion order.
func (b *InternalBranch) Read(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId, buf []byte) kernel.IoResult[int] {
	b.mu.Lock()
	entries := append([]kernelops.NodeNameEntry(nil), b.entries...)
	b.mu.Unlock()

	n, err := kernelops.EncodeListing(buf, entries)
	if err != nil {
		return kernel.Err[int](kerr.Protocol)
	}
	return kernel.Success(n)
}

// Write accepts exactly one InternalModification per call: Add links a
// new (NodeId, name) pair, rejecting duplicate names with NodeExists;
// Remove drops a link by NodeId.
func (b *InternalBranch) Write(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId, buf []byte) kernel.IoResult[int] {
	mod, err := kernelops.DecodeModification(buf)
	if err != nil {
		return kernel.Err[int](kerr.Protocol)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch mod.Kind {
	case kernelops.ModAdd:
		for _, e := range b.entries {
			if e.Name == mod.Name {
				return kernel.Err[int](kerr.NodeExists)
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
	return kernel.Success(len(buf))
}

func (b *InternalBranch) ReadWaitingFor(fc kernel.FileClientId) kernel.WaitFor {
	return kernel.WaitNone()
}

func (b *InternalBranch) Close(ctx *kernel.IoContext, sched kernel.Scheduler, fc kernel.FileClientId, refcountAfter uint64) kernel.IoResult[kernel.CloseAction] {
	return closeByRefcount(refcountAfter)
}

func (b *InternalBranch) Destroy(ctx *kernel.IoContext, sched kernel.Scheduler) kernel.Trigger {
	return kernel.Trigger{}
}

// Lookup returns the NodeId linked under name, if any, straight from the
// in-memory listing without an open/read/close cycle. The VFS path
// resolver does not call it; it reads the serialized listing instead.
func (b *InternalBranch) Lookup(name string) (kernel.NodeId, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if e.Name == name {
			return kernel.NodeId(e.NodeID), true
		}
	}
	return 0, false
}

// Entries returns a copy of the current listing in insertion order.
func (b *InternalBranch) Entries() []kernelops.NodeNameEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]kernelops.NodeNameEntry(nil), b.entries...)
}
